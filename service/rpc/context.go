package rpc

import (
	"github.com/google/uuid"

	"GProject/service/session"
)

// Context is the per-call scratch object handed to a handler: a fresh
// uuid, an empty handler-local state map and a reference to the
// client's session as it stood at dispatch time (nil when the client is
// unauthenticated). Discarded after the handler settles.
type Context struct {
	UUID    string
	State   map[string]any
	Session *session.Session
	Client  *Client
}

func newContext(c *Client) *Context {
	return &Context{
		UUID:    uuid.NewString(),
		State:   make(map[string]any),
		Session: c.Session(),
		Client:  c,
	}
}
