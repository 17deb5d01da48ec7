package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/evanschultz/trackflow/internal/adapters/storage/sqlite"
	"github.com/evanschultz/trackflow/internal/app"
)

type stubPinger struct {
	err error
}

func (s stubPinger) Ping(context.Context) error {
	return s.err
}

func newDeps(t *testing.T, ready ...Pinger) Dependencies {
	t.Helper()
	store, err := sqlite.OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	logger := log.New(io.Discard)
	svc := app.NewService(store.Stores(nil), nil, nil, app.ServiceConfig{Logger: logger})
	return Dependencies{
		Boards: svc,
		Ready:  append([]Pinger{store}, ready...),
		Logger: logger,
	}
}

func TestNewHandlerRoutes(t *testing.T) {
	handler, cfg, err := NewHandler(Config{}, newDeps(t))
	if err != nil {
		t.Fatalf("NewHandler() error = %v", err)
	}
	if cfg.HTTPBind != defaultBindAddress || cfg.APIEndpoint != "/api/v1" || cfg.MCPEndpoint != "/mcp" {
		t.Fatalf("unexpected normalized config %#v", cfg)
	}

	for _, path := range []string{"/healthz", "/readyz", "/api/v1/boards/sales", "/api/v1/projects"} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("GET %s status = %d body=%s", path, rec.Code, rec.Body.String())
		}
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/boards/sales/entities/ghost", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected mounted api 404, got %d", rec.Code)
	}
}

func TestReadyzReportsFailingBackend(t *testing.T) {
	handler, _, err := NewHandler(Config{}, newDeps(t, stubPinger{err: errors.New("bucket missing")}))
	if err != nil {
		t.Fatalf("NewHandler() error = %v", err)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable || !strings.Contains(rec.Body.String(), "bucket missing") {
		t.Fatalf("unexpected readyz response %d %s", rec.Code, rec.Body.String())
	}
}

func TestNewHandlerRejectsInvalidConfig(t *testing.T) {
	if _, _, err := NewHandler(Config{APIEndpoint: "/x", MCPEndpoint: "x/"}, newDeps(t)); err == nil {
		t.Fatal("expected colliding endpoints to fail")
	}
	if _, _, err := NewHandler(Config{}, Dependencies{}); err == nil {
		t.Fatal("expected missing boards dependency to fail")
	}
}

func TestNormalizeEndpoint(t *testing.T) {
	cases := map[string]string{
		"":         "/api/v1",
		"/":        "/api/v1",
		"api":      "/api",
		" //v2// ": "/v2",
		"/api/v1/": "/api/v1",
	}
	for in, want := range cases {
		if got := normalizeEndpoint(in, "/api/v1"); got != want {
			t.Fatalf("normalizeEndpoint(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, Config{HTTPBind: "127.0.0.1:0", ShutdownTimeout: time.Second}, newDeps(t))
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run() did not stop after cancel")
	}
}
