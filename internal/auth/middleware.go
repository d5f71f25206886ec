// Package auth provides the bearer-token check for fleetd's optional HTTP
// mirror. A single static token is configured per daemon, not a
// multi-user credential store: the mirror is a read-only operational
// surface, not an API with distinct principals.
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Middleware checks every request's Authorization header against a single
// configured bearer token. An empty token disables the check entirely
// (the mirror is unauthenticated, matching the default `auth_token`-less
// fleet file).
type Middleware struct {
	token string
}

func New(token string) *Middleware {
	return &Middleware{token: token}
}

// Enabled reports whether a token was configured.
func (m *Middleware) Enabled() bool { return m.token != "" }

func (m *Middleware) authorized(r *http.Request) bool {
	if !m.Enabled() {
		return true
	}
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	presented := strings.TrimPrefix(header, prefix)
	return subtle.ConstantTimeCompare([]byte(presented), []byte(m.token)) == 1
}

// Gin returns a gin.HandlerFunc rejecting any request whose bearer token
// doesn't match.
func (m *Middleware) Gin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.authorized(c.Request) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}
		c.Next()
	}
}
