package rpc

import (
	"context"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"GProject/global"
	"GProject/logger"
	mid "GProject/middleware"
	"GProject/service/protocol"
	"GProject/service/session"
	"GProject/service/transport"
	errs "GProject/tools/errs"
	"GProject/tools/safe"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server is the RPC dispatcher: it accepts single-exchange calls on
// POST /api and long-lived connections on GET /ws, parses packets,
// resolves handlers through the routing table and writes callbacks
// back through the client's transport.
type Server struct {
	cfg      *global.Config
	routing  *Routing
	sessions *session.Manager
	engine   *gin.Engine
	srv      *http.Server

	calls  sync.WaitGroup // in-flight handler invocations
	closed atomic.Bool
}

func NewServer(cfg *global.Config, routing *Routing, sessions *session.Manager) *Server {
	s := &Server{
		cfg:      cfg,
		routing:  routing,
		sessions: sessions,
	}

	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/ws", s.HandleWS)
	r.POST("/api", s.HandleAPI)
	mid.GET(r, "/api/analytics", s.HandleAnalytics, mid.RouteOpt{IsAuth: true}, sessions)
	if cfg.StaticDir != "" {
		r.Static("/static", cfg.StaticDir)
	}

	s.engine = r
	s.srv = &http.Server{Addr: cfg.Addr, Handler: r}
	return s
}

func (s *Server) Run() error {
	logger.Infof("[Server] listening on %s routes=%d", s.cfg.Addr, s.routing.Len())
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Close stops accepting new connections, lets in-flight calls finish
// and releases tier connections. Called once on termination signal.
func (s *Server) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		logger.Warnf("[Server] shutdown err=%v", err)
	}
	s.calls.Wait()
	return s.sessions.Close()
}

// ===== request/response path =====

// HandleAPI serves one packet over a single HTTP exchange. The session
// rides in on the token cookie; dispatch is synchronous because the
// response must be written before the exchange ends.
func (s *Server) HandleAPI(c *gin.Context) {
	t := transport.NewHTTP(c)
	client := NewClient(t, s.sessions, s.cfg.StreamHighWater)
	defer client.Destroy()

	if token, err := c.Cookie(SessionCookie); err == nil && token != "" {
		client.RestoreSession(c.Request.Context(), token)
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		t.Error(500, transport.ErrorEvent{Err: errs.ErrInternal.WithDetail(err.Error())})
		return
	}
	s.handleFrame(client, body, false)

	// a fire-and-forget packet shape may have written nothing
	if !t.Finalized() {
		c.Status(http.StatusNoContent)
	}
}

func (s *Server) HandleAnalytics(c *gin.Context) {
	c.JSON(http.StatusOK, s.sessions.Analytics(c.Request.Context()))
}

// ===== connection path =====

// HandleWS upgrades and runs the read loop. Inbound frames are handled
// in arrival order up to dispatch; handler completion order is not
// guaranteed, callers correlate by id.
func (s *Server) HandleWS(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Infof("[WS] upgrade failed ip=%s err=%v", c.ClientIP(), err)
		return
	}
	defer func() { _ = ws.Close() }()

	t := transport.NewWS(ws, c.ClientIP(), c.Request.URL.Path)
	client := NewClient(t, s.sessions, s.cfg.StreamHighWater)
	defer client.Destroy()

	// a reconnecting browser still carries the session cookie
	if token, cerr := c.Cookie(SessionCookie); cerr == nil && token != "" {
		client.RestoreSession(c.Request.Context(), token)
	}

	for {
		mt, data, rerr := ws.ReadMessage()
		if rerr != nil {
			if websocket.IsCloseError(rerr,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				logger.Infof("[WS] peer closed ip=%s", client.IP)
			} else if ne, ok := rerr.(net.Error); ok && ne.Timeout() {
				logger.Infof("[WS] read timeout ip=%s err=%v", client.IP, rerr)
			} else {
				logger.Infof("[WS] read err ip=%s err=%v", client.IP, rerr)
			}
			break
		}
		switch mt {
		case websocket.TextMessage:
			s.handleFrame(client, data, true)
		case websocket.BinaryMessage:
			s.handleChunk(client, data)
		}
	}
}

// ===== packet state machine =====

// handleFrame is the per-frame state machine. No error here terminates
// the connection; failures answer the offending packet only.
func (s *Server) handleFrame(client *Client, raw []byte, async bool) {
	pkt, cerr := protocol.Parse(raw)
	if cerr != nil {
		client.T.Error(cerr.Code, transport.ErrorEvent{Err: cerr})
		return
	}

	switch pkt.Type {
	case protocol.TypeCall:
		s.handleCall(client, pkt, async)
	case protocol.TypeStream:
		s.handleStream(client, pkt)
	case protocol.TypeHTTP:
		s.handleHTTPPacket(client, pkt, async)
	default:
		client.T.Error(400, transport.ErrorEvent{Err: errs.ErrUnknownType.WithDetail(pkt.Type)})
	}
}

func (s *Server) handleCall(client *Client, pkt *protocol.Packet, async bool) {
	if pkt.ID == 0 || pkt.Args == nil {
		client.T.Error(400, transport.ErrorEvent{ID: pkt.ID, Err: errs.ErrCallFields})
		return
	}
	unit, method, ok := pkt.Unit()
	if !ok {
		client.T.Error(400, transport.ErrorEvent{ID: pkt.ID, Err: errs.ErrBadMethod.WithDetail(pkt.Method)})
		return
	}
	h, found := s.routing.Lookup(unit, method)
	if !found {
		client.T.Error(404, transport.ErrorEvent{ID: pkt.ID, Err: errs.ErrNotFound.WithDetail(pkt.Method)})
		return
	}

	id := pkt.ID
	args := pkt.Args
	dispatch := func() {
		defer s.calls.Done()
		ctx := newContext(client)
		res := invoke(h, ctx, args)
		if res.Failed() {
			e := res.Err()
			client.T.Error(e.Status(), transport.ErrorEvent{ID: id, Err: e})
			return
		}
		if err := client.T.Send(protocol.NewCallback(id, res.Value()), http.StatusOK); err != nil {
			logger.Warnf("[RPC] callback write failed id=%d ip=%s err=%v", id, client.IP, err)
		}
	}

	// calls from the same client are not serialized; handlers must
	// tolerate concurrent invocation against the same session
	s.calls.Add(1)
	if async {
		safe.Go(dispatch)
	} else {
		dispatch()
	}
}

// handleHTTPPacket resolves the path to unit.method and invokes with no
// correlation id. The result is deliberately dropped: the packet shape
// carries nothing a response could correlate to. Handler errors are
// still reported through the transport.
func (s *Server) handleHTTPPacket(client *Client, pkt *protocol.Packet, async bool) {
	if len(pkt.Path) < 2 {
		client.T.Error(400, transport.ErrorEvent{Err: errs.ErrHTTPFields})
		return
	}
	unit := pkt.Path[len(pkt.Path)-2]
	method := pkt.Path[len(pkt.Path)-1]
	h, found := s.routing.Lookup(unit, method)
	if !found {
		client.T.Error(404, transport.ErrorEvent{Err: errs.ErrNotFound.WithDetail(unit + "/" + method)})
		return
	}

	args := pkt.Args
	dispatch := func() {
		defer s.calls.Done()
		ctx := newContext(client)
		if res := invoke(h, ctx, args); res.Failed() {
			e := res.Err()
			client.T.Error(e.Status(), transport.ErrorEvent{Err: e})
		}
	}
	s.calls.Add(1)
	if async {
		safe.Go(dispatch)
	} else {
		dispatch()
	}
}

func (s *Server) handleStream(client *Client, pkt *protocol.Packet) {
	switch pkt.Status {
	case "":
		var size int64 = -1
		if pkt.Size != nil {
			size = *pkt.Size
		}
		if _, cerr := client.InitStream(pkt.ID, pkt.Name, size); cerr != nil {
			client.T.Error(cerr.Code, transport.ErrorEvent{Err: cerr})
			return
		}
		logger.Debugf("[Stream] init ip=%s id=%d name=%s size=%d", client.IP, pkt.ID, pkt.Name, size)
	case protocol.StatusEnd:
		r, cerr := client.FinalizeStream(pkt.ID, false)
		if cerr != nil {
			client.T.Error(cerr.Code, transport.ErrorEvent{Err: cerr})
			return
		}
		logger.Infof("[Stream] end ip=%s id=%d name=%s received=%d", client.IP, pkt.ID, r.Name, r.Received())
	case protocol.StatusTerminate:
		if _, cerr := client.FinalizeStream(pkt.ID, true); cerr != nil {
			client.T.Error(cerr.Code, transport.ErrorEvent{Err: cerr})
			return
		}
		logger.Infof("[Stream] terminate ip=%s id=%d", client.IP, pkt.ID)
	default:
		cerr := errs.ErrStreamMeta.WithDetail("status=" + pkt.Status)
		client.T.Error(cerr.Code, transport.ErrorEvent{Err: cerr})
	}
}

// handleChunk demuxes an out-of-band binary frame to its reconstructor.
// A chunk for an unknown id answers with a 400 and leaves the
// connection alive.
func (s *Server) handleChunk(client *Client, frame []byte) {
	id, payload, cerr := protocol.DecodeChunk(frame)
	if cerr != nil {
		client.T.Error(cerr.Code, transport.ErrorEvent{Err: cerr})
		return
	}
	if cerr := client.FeedChunk(int64(id), payload); cerr != nil {
		client.T.Error(cerr.Code, transport.ErrorEvent{Err: cerr})
	}
}

// invoke runs a handler with panic containment; a panicking handler
// fails its own call only.
func invoke(h Handler, ctx *Context, args []protocol.RawArg) (res protocol.Result) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[RPC] handler panic uuid=%s recovered: %v", ctx.UUID, r)
			res = protocol.Fail(errs.ErrInternal)
		}
	}()
	return h(ctx, args)
}
