package transport

import (
	"io"

	"GProject/logger"
	"GProject/service/protocol"
	errs "GProject/tools/errs"
)

// Meta carries the connection facts the error boundary logs.
type Meta struct {
	IP     string
	Method string
	URL    string
}

// WriteOptions selects a payload shape beyond a plain finite buffer.
// Reader streams the body lazily without buffering it whole. Partial
// delivers an HTTP 206 slice: Start/End are inclusive byte positions
// and Size is the total entity size, or -1 when unknown.
type WriteOptions struct {
	Reader  io.Reader
	Partial bool
	Start   int64
	End     int64
	Size    int64
}

// ErrorEvent is what the boundary needs to answer a failed call:
// the correlation id (zero when the failure predates one) and the
// underlying error.
type ErrorEvent struct {
	ID  int64
	Err error
}

// Transport normalizes the request/response and connection-oriented
// write paths into one contract. Implementations own exactly one
// underlying response or socket.
type Transport interface {
	// Write sends raw bytes. On a finalized request/response exchange
	// it is a no-op, which makes racing error/success paths safe.
	Write(data []byte, code int, contentType string, opts *WriteOptions) error
	// Send serializes v as JSON and writes it.
	Send(v any, code int) error
	// Error logs the failure at the boundary and emits a
	// callback-shaped packet with a client-safe message.
	Error(code int, ev ErrorEvent)
	Meta() Meta
	// SetCookie attaches a session identifier to the response; no-op
	// on connection-oriented transports.
	SetCookie(name, value string, maxAge int)
}

// errorCallback builds the sanitized wire error and resolves the final
// code, shared by both transports. Only the error's own message is
// exposed for client-class codes; server-class messages are replaced by
// the generic status phrase.
func errorCallback(code int, ev ErrorEvent) (*protocol.Callback, int) {
	ce := errs.From(ev.Err)
	if ce == nil {
		ce = errs.ErrInternal
	}
	if code == 0 {
		code = ce.Status()
	} else if ce.Code == 0 {
		ce = ce.WithHTTPStatus(code)
	}
	cb := protocol.NewErrorCallback(ev.ID, ce)
	if cb.Error.Code == 0 {
		cb.Error.Code = code
	}
	return cb, code
}

func logBoundaryError(meta Meta, code int, ev ErrorEvent) {
	detail := ""
	if ev.Err != nil {
		detail = ev.Err.Error()
	}
	logger.Errorf("[Transport] ip=%s method=%s url=%s code=%d err=%s",
		meta.IP, meta.Method, meta.URL, code, detail)
}
