package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/arcflow/fleetd/internal/app"
	"github.com/arcflow/fleetd/internal/master"
	"github.com/arcflow/fleetd/internal/procmanager"
)

func sleepApp(name string) app.App {
	return app.App{
		Name:      name,
		Command:   procmanager.Command{Interpreter: "/bin/sh", Script: "-c", Args: []string{"sleep 5"}},
		Instances: 1,
		Timeouts:  app.Timeouts{Ready: time.Second, Kill: 300 * time.Millisecond, MinUptime: time.Hour},
	}
}

func TestListAndStatusRequireNoTokenWhenUnset(t *testing.T) {
	m := master.New(nil, nil, nil)
	if err := m.StartApp(sleepApp("web")); err != nil {
		t.Fatalf("StartApp: %v", err)
	}
	t.Cleanup(func() { _ = m.StopApp("web") })

	router := NewRouter(m, "")
	srv := httptest.NewServer(router.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/list")
	if err != nil {
		t.Fatalf("GET /list: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	resp2, err := http.Get(srv.URL + "/status?name=web")
	if err != nil {
		t.Fatalf("GET /status: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp2.StatusCode)
	}
}

func TestStatusUnknownAppReturns404(t *testing.T) {
	m := master.New(nil, nil, nil)
	router := NewRouter(m, "")
	srv := httptest.NewServer(router.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/status?name=nope")
	if err != nil {
		t.Fatalf("GET /status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestRequestsRejectedWithoutMatchingToken(t *testing.T) {
	m := master.New(nil, nil, nil)
	router := NewRouter(m, "secret")
	srv := httptest.NewServer(router.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/list")
	if err != nil {
		t.Fatalf("GET /list: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/list", nil)
	req.Header.Set("Authorization", "Bearer secret")
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("authorized GET /list: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with matching token, got %d", resp2.StatusCode)
	}
}
