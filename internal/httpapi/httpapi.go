// Package httpapi is fleetd's optional, read-only HTTP mirror of the
// control socket's query surface: `list`, `status`, and `/metrics`, for
// dashboards and monitoring that would rather poll HTTP than speak the
// control socket's framed protocol. It never mutates app state —
// start/stop/reload/delete remain control-socket-only.
package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/arcflow/fleetd/internal/auth"
	"github.com/arcflow/fleetd/internal/master"
	"github.com/arcflow/fleetd/internal/metrics"
)

// Router builds the gin engine backing the mirror.
type Router struct {
	master *master.Master
	authMW *auth.Middleware
	logDir func() string
}

func NewRouter(m *master.Master, authToken string) *Router {
	return &Router{master: m, authMW: auth.New(authToken), logDir: func() string { return "" }}
}

// WithLogDir sets the directory handleLogsWS reads `<name>.stdout.log`
// from (internal/app.Config.LoggerConfig's Dir), enabling the /logs/ws
// live-tail route.
func (r *Router) WithLogDir(dir func() string) *Router {
	r.logDir = dir
	return r
}

func (r *Router) logPath(name string) string {
	return r.logDir() + "/" + name + ".stdout.log"
}

// Handler returns an http.Handler exposing GET /list, GET /status,
// GET /metrics, and GET /logs/ws (live tail).
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	g.Use(r.authMW.Gin())

	g.GET("/list", r.handleList)
	g.GET("/status", r.handleStatus)
	g.GET("/metrics", r.handleMetrics)
	g.GET("/logs/ws", r.handleLogsWS)

	return g
}

func (r *Router) handleList(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"apps": r.master.ListApps()})
}

func (r *Router) handleStatus(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}
	status, ok := r.master.GetAppStatus(name)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "app not found"})
		return
	}
	c.JSON(http.StatusOK, status)
}

func (r *Router) handleMetrics(c *gin.Context) {
	metrics.Handler().ServeHTTP(c.Writer, c.Request)
}
