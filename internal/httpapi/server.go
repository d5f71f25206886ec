package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/arcflow/fleetd/internal/app"
	"github.com/arcflow/fleetd/internal/master"
	tlsutil "github.com/arcflow/fleetd/internal/tls"
)

// NewServer starts the HTTP mirror on cfg.Listen, plain or TLS depending
// on cfg.TLSCert/TLSKey, and returns it running in the background. logDir,
// if non-nil, enables the /logs/ws live-tail route by naming the directory
// worker stdout logs are written to (internal/app.Config.LoggerConfig's
// Dir). The caller shuts the server down via its Close/Shutdown.
func NewServer(cfg app.HTTPConfig, m *master.Master, logDir func() string) (*http.Server, error) {
	tlsCfg, err := tlsutil.Setup(cfg)
	if err != nil {
		return nil, fmt.Errorf("httpapi: tls setup: %w", err)
	}

	router := NewRouter(m, cfg.AuthToken)
	if logDir != nil {
		router = router.WithLogDir(logDir)
	}
	server := &http.Server{
		Addr:              cfg.Listen,
		Handler:           router.Handler(),
		TLSConfig:         tlsCfg,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		var serveErr error
		if tlsCfg != nil {
			serveErr = server.ListenAndServeTLS("", "")
		} else {
			serveErr = server.ListenAndServe()
		}
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errCh <- serveErr
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return nil, fmt.Errorf("httpapi: listen on %q: %w", cfg.Listen, err)
		}
	case <-time.After(100 * time.Millisecond):
	}

	return server, nil
}
