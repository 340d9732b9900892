package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"GProject/service/protocol"
	errs "GProject/tools/errs"
)

type wireCallback struct {
	Type   string                 `json:"type"`
	ID     int64                  `json:"id"`
	Result json.RawMessage        `json:"result"`
	Error  *protocol.ErrorPayload `json:"error"`
}

// ===== single-exchange path =====

func TestAPICallExchange(t *testing.T) {
	s := newTestServer(t)
	s.routing.Register("math", "double", func(ctx *Context, args []protocol.RawArg) protocol.Result {
		var n int64
		if err := json.Unmarshal(args[0], &n); err != nil {
			return protocol.Fail(errs.ErrCallFields.WithDetail(err.Error()))
		}
		return protocol.Ok(2 * n)
	})

	req := httptest.NewRequest(http.MethodPost, "/api",
		strings.NewReader(`{"type":"call","id":11,"method":"math/double","args":[21]}`))
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("code = %d body = %s", w.Code, w.Body.String())
	}
	var cb wireCallback
	if err := json.Unmarshal(w.Body.Bytes(), &cb); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	if cb.Type != protocol.TypeCallback || cb.ID != 11 {
		t.Fatalf("callback = %+v", cb)
	}
	if string(cb.Result) != "42" {
		t.Fatalf("result = %s", cb.Result)
	}
}

func TestAPIUnknownMethodAnswers404(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api",
		strings.NewReader(`{"type":"call","id":7,"method":"no/body","args":[]}`))
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("code = %d", w.Code)
	}
	var cb wireCallback
	if err := json.Unmarshal(w.Body.Bytes(), &cb); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	if cb.ID != 7 || cb.Error == nil || cb.Error.Code != 404 {
		t.Fatalf("callback = %+v", cb)
	}
}

// A responseless packet shape leaves the exchange unanswered; the
// server closes it out with 204 rather than hanging the client.
func TestAPIResponselessPacket(t *testing.T) {
	s := newTestServer(t)
	ran := make(chan struct{}, 1)
	s.routing.Register("report", "submit", func(ctx *Context, args []protocol.RawArg) protocol.Result {
		ran <- struct{}{}
		return protocol.Ok("discarded")
	})

	req := httptest.NewRequest(http.MethodPost, "/api",
		strings.NewReader(`{"type":"http","path":["api","report","submit"],"args":[]}`))
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("code = %d body = %s", w.Code, w.Body.String())
	}
	select {
	case <-ran:
	default:
		t.Fatal("handler not invoked")
	}
}

func TestAnalyticsRequiresSession(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/analytics", nil)
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("code = %d, want 401", w.Code)
	}

	s.sessions.Create(context.Background(), "tok-admin", "admin", nil)
	req = httptest.NewRequest(http.MethodGet, "/api/analytics", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: "tok-admin"})
	w = httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("code = %d body = %s", w.Code, w.Body.String())
	}
	var a map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &a); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	if a["active"] != float64(1) {
		t.Fatalf("analytics = %v", a)
	}
}

// ===== connection path =====

// Full upload round trip over a real socket: init and chunks multiplex
// on one connection, then a call consumes the assembled upload.
func TestWebSocketUploadRoundTrip(t *testing.T) {
	s := newTestServer(t)
	s.routing.Register("file", "stat", func(ctx *Context, args []protocol.RawArg) protocol.Result {
		var id int64
		if err := json.Unmarshal(args[0], &id); err != nil {
			return protocol.Fail(errs.ErrCallFields.WithDetail(err.Error()))
		}
		r, ok := ctx.Client.TakeUpload(id)
		if !ok {
			return protocol.Fail(errs.ErrStreamUnknown)
		}
		return protocol.Ok(map[string]any{"name": r.Name, "bytes": len(r.Bytes())})
	})

	srv := httptest.NewServer(s.engine)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.Close() }()
	_ = resp.Body.Close()

	send := func(text string) {
		t.Helper()
		if err := conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	send(`{"type":"stream","id":9,"name":"a.bin","size":8}`)
	if err := conn.WriteMessage(websocket.BinaryMessage, protocol.EncodeChunk(9, []byte("abcd"))); err != nil {
		t.Fatalf("chunk: %v", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, protocol.EncodeChunk(9, []byte("efgh"))); err != nil {
		t.Fatalf("chunk: %v", err)
	}
	send(`{"type":"stream","id":9,"status":"end"}`)
	send(`{"type":"call","id":1,"method":"file/stat","args":[9]}`)

	cb := readCallback(t, conn)
	if cb.ID != 1 || cb.Error != nil {
		t.Fatalf("callback = %+v", cb)
	}
	var stat struct {
		Name  string `json:"name"`
		Bytes int    `json:"bytes"`
	}
	if err := json.Unmarshal(cb.Result, &stat); err != nil {
		t.Fatalf("bad result: %v", err)
	}
	if stat.Name != "a.bin" || stat.Bytes != 8 {
		t.Fatalf("stat = %+v", stat)
	}

	// the same connection keeps serving after an error callback
	send(`{"type":"call","id":2,"method":"no/body","args":[]}`)
	cb = readCallback(t, conn)
	if cb.ID != 2 || cb.Error == nil || cb.Error.Code != 404 {
		t.Fatalf("callback = %+v", cb)
	}
}

func readCallback(t *testing.T, conn *websocket.Conn) wireCallback {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var cb wireCallback
	if err := json.Unmarshal(msg, &cb); err != nil {
		t.Fatalf("bad frame %q: %v", msg, err)
	}
	return cb
}
