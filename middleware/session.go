package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"GProject/service/session"
	errs "GProject/tools/errs"
)

// Keys under which downstream handlers read the resolved session.
const (
	CtxSessionKey = "session"
	CtxTokenKey   = "sessionToken"
)

// Session resolves the session token from the cookie or an
// Authorization bearer header and, when it maps to a live session,
// stores both in the gin context. Absence is not an error here; routes
// that need auth stack RequireSession on top.
func Session(sessions *session.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ""
		if v, err := c.Cookie("token"); err == nil {
			token = v
		}
		if token == "" {
			if authz := strings.TrimSpace(c.GetHeader("Authorization")); authz != "" {
				if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
					token = strings.TrimSpace(authz[len("bearer "):])
				}
			}
		}
		if token != "" {
			c.Set(CtxTokenKey, token)
			if s, ok := sessions.Get(c.Request.Context(), token); ok {
				c.Set(CtxSessionKey, s)
			}
		}
		c.Next()
	}
}

// RequireSession aborts with 401 when no live session was resolved.
func RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := c.Get(CtxSessionKey); !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errs.ErrUnauthorized)
			return
		}
		c.Next()
	}
}

// SessionFrom extracts the resolved session, if any.
func SessionFrom(c *gin.Context) (*session.Session, bool) {
	v, ok := c.Get(CtxSessionKey)
	if !ok {
		return nil, false
	}
	s, ok := v.(*session.Session)
	return s, ok
}
