package errs

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
)

// CodeError is the tagged error the dispatcher and handlers trade in.
// Code is the application error code; HTTPStatus overrides the HTTP
// status when it differs from Code. Detail is server-side only and is
// never written to the wire.
type CodeError struct {
	Code       int    `json:"code"`
	Msg        string `json:"message"`
	HTTPStatus int    `json:"-"`
	Detail     string `json:"-"`
}

func New(code int, msg string) *CodeError {
	return &CodeError{Code: code, Msg: msg}
}

func (e *CodeError) Error() string {
	v := make([]string, 0, 3)
	v = append(v, strconv.Itoa(e.Code), e.Msg)
	if e.Detail != "" {
		v = append(v, e.Detail)
	}
	return strings.Join(v, " ")
}

// WithDetail returns a copy carrying extra server-side context.
func (e *CodeError) WithDetail(detail string) *CodeError {
	c := *e
	if c.Detail == "" {
		c.Detail = detail
	} else {
		c.Detail += ", " + detail
	}
	return &c
}

// WithHTTPStatus returns a copy with an explicit HTTP status.
func (e *CodeError) WithHTTPStatus(status int) *CodeError {
	c := *e
	c.HTTPStatus = status
	return &c
}

// Status resolves the HTTP status for this error: the explicit
// HTTPStatus if set, the Code when it is a valid HTTP status, and 500
// otherwise.
func (e *CodeError) Status() int {
	if e.HTTPStatus != 0 {
		return e.HTTPStatus
	}
	if e.Code >= 100 && e.Code < 600 {
		return e.Code
	}
	return http.StatusInternalServerError
}

// ClientMessage is what the peer is allowed to see. Server-class
// failures are replaced by the generic status phrase so internals never
// leak; client-class messages pass through verbatim.
func (e *CodeError) ClientMessage() string {
	status := e.Status()
	if status >= http.StatusInternalServerError {
		return http.StatusText(status)
	}
	return e.Msg
}

func (e *CodeError) Is(err error) bool {
	var ce *CodeError
	if !errors.As(err, &ce) {
		return false
	}
	return ce.Code == e.Code
}

// From coerces any error into a CodeError. Unknown errors become 500s
// with the original message kept as server-side detail.
func From(err error) *CodeError {
	if err == nil {
		return nil
	}
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce
	}
	return &CodeError{
		Code:   http.StatusInternalServerError,
		Msg:    http.StatusText(http.StatusInternalServerError),
		Detail: err.Error(),
	}
}
