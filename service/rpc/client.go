package rpc

import (
	"context"
	"strconv"
	"sync"

	"GProject/logger"
	"GProject/service/session"
	"GProject/service/stream"
	"GProject/service/transport"
	errs "GProject/tools/errs"
)

// SessionCookie is the cookie carrying the session token on
// request/response transports.
const SessionCookie = "token"

// Client is the ephemeral wrapper bound to one transport instance: one
// HTTP exchange or one websocket connection. It owns its transport
// exclusively; it only references its session, which is looked up by
// token and outlives any single connection.
type Client struct {
	IP string
	T  transport.Transport

	sessions  *session.Manager
	highWater int

	mu       sync.Mutex
	sess     *session.Session
	streams  map[int64]*stream.Reconstructor
	finished map[int64]*stream.Reconstructor
	onClose  []func()
	closed   bool
}

func NewClient(t transport.Transport, sessions *session.Manager, streamHighWater int) *Client {
	return &Client{
		IP:        t.Meta().IP,
		T:         t,
		sessions:  sessions,
		highWater: streamHighWater,
		streams:   make(map[int64]*stream.Reconstructor),
		finished:  make(map[int64]*stream.Reconstructor),
	}
}

func (c *Client) Session() *session.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess
}

// StartSession creates a session for token and binds it, or restores
// the already-bound one when called twice. On request/response
// transports it also sets the session cookie with a max-age bounded by
// the TTL.
func (c *Client) StartSession(ctx context.Context, token, userID string, data map[string]any) *session.Session {
	c.mu.Lock()
	if c.sess != nil {
		s := c.sess
		c.mu.Unlock()
		return s
	}
	c.mu.Unlock()

	s, ok := c.sessions.Get(ctx, token)
	if !ok {
		s = c.sessions.Create(ctx, token, userID, data)
	}

	c.mu.Lock()
	c.sess = s
	c.mu.Unlock()

	c.T.SetCookie(SessionCookie, token, int(c.sessions.TTL().Seconds()))
	return s
}

// RestoreSession binds the session stored under token, purely from the
// store. Returns false when absent, leaving the client unauthenticated.
func (c *Client) RestoreSession(ctx context.Context, token string) bool {
	s, ok := c.sessions.Get(ctx, token)
	if !ok {
		return false
	}
	c.mu.Lock()
	c.sess = s
	c.mu.Unlock()
	return true
}

// FinalizeSession is explicit logout: invalidate the store entry and
// unbind.
func (c *Client) FinalizeSession(ctx context.Context) {
	c.mu.Lock()
	s := c.sess
	c.sess = nil
	c.mu.Unlock()
	if s != nil {
		c.sessions.Invalidate(ctx, s.Token)
		c.T.SetCookie(SessionCookie, "", -1)
	}
}

// OnClose registers a hook fired once when the client is destroyed.
func (c *Client) OnClose(fn func()) {
	c.mu.Lock()
	c.onClose = append(c.onClose, fn)
	c.mu.Unlock()
}

// Destroy tears the client down at connection/request end: live
// reconstructors are terminated and close hooks fire. The bound session
// is deliberately left alone: sessions are reconnect-durable, and a
// network blip must not force re-authentication.
func (c *Client) Destroy() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	streams := c.streams
	c.streams = make(map[int64]*stream.Reconstructor)
	hooks := c.onClose
	c.onClose = nil
	c.mu.Unlock()

	for _, r := range streams {
		r.Terminate()
	}
	for _, fn := range hooks {
		fn()
	}
	logger.Debugf("[Client] closed ip=%s", c.IP)
}

// ===== stream lifecycle =====

// InitStream allocates the reconstructor for a stream id. A second init
// for a live id is a protocol error, not a silent replace.
func (c *Client) InitStream(id int64, name string, size int64) (*stream.Reconstructor, *errs.CodeError) {
	r, cerr := stream.New(id, name, size, c.highWater)
	if cerr != nil {
		return nil, cerr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.streams[id]; exists {
		return nil, errs.ErrStreamExists.WithDetail(streamTag(c.IP, id))
	}
	c.streams[id] = r
	return r, nil
}

// Stream returns the live reconstructor for id.
func (c *Client) Stream(id int64) (*stream.Reconstructor, *errs.CodeError) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.streams[id]
	if !ok {
		return nil, errs.ErrStreamUnknown.WithDetail(streamTag(c.IP, id))
	}
	return r, nil
}

// FeedChunk appends a binary chunk to the matching reconstructor. The
// reconstructor lookup holds the lock; the feed itself does not. An
// over-bound feed fails the chunk and aborts its stream only.
func (c *Client) FeedChunk(id int64, payload []byte) *errs.CodeError {
	r, cerr := c.Stream(id)
	if cerr != nil {
		return cerr
	}
	buf := make([]byte, len(payload))
	copy(buf, payload)
	return r.Feed(buf)
}

// FinalizeStream ends or terminates the reconstructor and removes it
// from the stream map. Finalizing a missing id is an error.
func (c *Client) FinalizeStream(id int64, terminate bool) (*stream.Reconstructor, *errs.CodeError) {
	c.mu.Lock()
	r, ok := c.streams[id]
	delete(c.streams, id)
	c.mu.Unlock()
	if !ok {
		return nil, errs.ErrStreamUnknown.WithDetail(streamTag(c.IP, id))
	}
	if terminate {
		r.Terminate()
		return r, nil
	}
	if cerr := r.End(); cerr != nil {
		return nil, cerr
	}
	c.mu.Lock()
	c.finished[id] = r
	c.mu.Unlock()
	return r, nil
}

// TakeUpload hands a completed upload to the handler that requested it,
// removing it from the client.
func (c *Client) TakeUpload(id int64) (*stream.Reconstructor, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.finished[id]
	delete(c.finished, id)
	return r, ok
}

func streamTag(ip string, id int64) string {
	return "ip=" + ip + " stream=" + strconv.FormatInt(id, 10)
}
