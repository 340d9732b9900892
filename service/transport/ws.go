package transport

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 5 * time.Second

// WS adapts one long-lived websocket connection to the Transport
// contract. gorilla permits a single concurrent writer, so every frame
// goes out under the connection mutex with a write deadline.
type WS struct {
	conn *websocket.Conn
	mu   sync.Mutex
	ip   string
	url  string
}

func NewWS(conn *websocket.Conn, ip, url string) *WS {
	return &WS{conn: conn, ip: ip, url: url}
}

// Write pushes a text frame. Status code and content type carry no
// meaning on a socket; the JSON envelope is the whole contract.
func (t *WS) Write(data []byte, _ int, _ string, opts *WriteOptions) error {
	if opts != nil && opts.Reader != nil {
		buffered, err := io.ReadAll(opts.Reader)
		if err != nil {
			return err
		}
		data = buffered
	}
	return t.writeFrame(websocket.TextMessage, data)
}

func (t *WS) Send(v any, _ int) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return t.writeFrame(websocket.TextMessage, raw)
}

// WriteBinary pushes an out-of-band binary frame.
func (t *WS) WriteBinary(data []byte) error {
	return t.writeFrame(websocket.BinaryMessage, data)
}

func (t *WS) Error(code int, ev ErrorEvent) {
	cb, status := errorCallback(code, ev)
	logBoundaryError(t.Meta(), status, ev)
	_ = t.Send(cb, status)
}

func (t *WS) Meta() Meta {
	return Meta{IP: t.ip, Method: "WS", URL: t.url}
}

// SetCookie is meaningless mid-connection.
func (t *WS) SetCookie(string, string, int) {}

func (t *WS) writeFrame(messageType int, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return t.conn.WriteMessage(messageType, data)
}
