package middleware

import (
	"github.com/gin-gonic/gin"

	"GProject/service/session"
)

// RouteOpt configures a wrapped route.
type RouteOpt struct {
	IsAuth bool
}

// POST registers a POST route, guarded by session auth when requested.
func POST(r gin.IRoutes, path string, handler gin.HandlerFunc, opt RouteOpt, sessions *session.Manager) {
	if opt.IsAuth {
		r.POST(path, Session(sessions), RequireSession(), handler)
	} else {
		r.POST(path, Session(sessions), handler)
	}
}

// GET registers a GET route, guarded by session auth when requested.
func GET(r gin.IRoutes, path string, handler gin.HandlerFunc, opt RouteOpt, sessions *session.Manager) {
	if opt.IsAuth {
		r.GET(path, Session(sessions), RequireSession(), handler)
	} else {
		r.GET(path, Session(sessions), handler)
	}
}
