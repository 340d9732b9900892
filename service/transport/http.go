package transport

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"

	"github.com/gin-gonic/gin"

	"GProject/logger"
)

// HTTP adapts one gin request/response exchange to the Transport
// contract. The response is write-once: whichever of the racing error
// and success paths lands first wins, the other becomes a no-op.
type HTTP struct {
	c         *gin.Context
	finalized atomic.Bool
}

func NewHTTP(c *gin.Context) *HTTP {
	return &HTTP{c: c}
}

func (t *HTTP) Write(data []byte, code int, contentType string, opts *WriteOptions) error {
	if !t.finalized.CompareAndSwap(false, true) {
		return nil // already answered
	}
	if code == 0 {
		code = http.StatusOK
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	if opts != nil && opts.Partial {
		return t.writePartial(data, contentType, opts)
	}

	if opts != nil && opts.Reader != nil {
		t.c.Header("Content-Type", contentType)
		t.c.Status(code)
		if _, err := io.Copy(t.c.Writer, opts.Reader); err != nil {
			logger.Warnf("[HTTP] body stream aborted url=%s err=%v", t.c.Request.URL.Path, err)
			return err
		}
		return nil
	}

	t.c.Data(code, contentType, data)
	return nil
}

// writePartial answers a range request: the caller supplies the slice
// bounds, the transport derives Content-Range and Content-Length.
func (t *HTTP) writePartial(data []byte, contentType string, opts *WriteOptions) error {
	if opts.End < opts.Start {
		t.c.Status(http.StatusRequestedRangeNotSatisfiable)
		return fmt.Errorf("invalid range %d-%d", opts.Start, opts.End)
	}
	total := "*"
	if opts.Size > 0 {
		total = fmt.Sprintf("%d", opts.Size)
	}
	length := opts.End - opts.Start + 1

	t.c.Header("Content-Range", fmt.Sprintf("bytes %d-%d/%s", opts.Start, opts.End, total))
	t.c.Header("Content-Length", fmt.Sprintf("%d", length))
	t.c.Header("Accept-Ranges", "bytes")
	t.c.Header("Content-Type", contentType)
	t.c.Status(http.StatusPartialContent)

	if opts.Reader != nil {
		_, err := io.CopyN(t.c.Writer, opts.Reader, length)
		return err
	}
	_, err := t.c.Writer.Write(data)
	return err
}

func (t *HTTP) Send(v any, code int) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return t.Write(raw, code, "application/json", nil)
}

func (t *HTTP) Error(code int, ev ErrorEvent) {
	cb, status := errorCallback(code, ev)
	logBoundaryError(t.Meta(), status, ev)
	_ = t.Send(cb, status)
}

func (t *HTTP) Meta() Meta {
	return Meta{
		IP:     t.c.ClientIP(),
		Method: t.c.Request.Method,
		URL:    t.c.Request.URL.String(),
	}
}

func (t *HTTP) SetCookie(name, value string, maxAge int) {
	t.c.SetCookie(name, value, maxAge, "/", "", false, true)
}

// Finalized reports whether the response has been written.
func (t *HTTP) Finalized() bool {
	return t.finalized.Load()
}
