package health_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/MrWong99/crossmix/internal/health"
)

type body struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func get(t *testing.T, h http.Handler, path string) (int, body) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	var b body
	if err := json.NewDecoder(rec.Body).Decode(&b); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return rec.Code, b
}

func mux(h *health.Handler) *http.ServeMux {
	m := http.NewServeMux()
	h.Register(m)
	return m
}

type closer struct{ closing atomic.Bool }

func (c *closer) Closing() bool { return c.closing.Load() }

func TestHealthz_AlwaysOK(t *testing.T) {
	t.Parallel()
	failing := health.Checker{Name: "x", Check: func(context.Context) error { return errors.New("down") }}
	code, b := get(t, mux(health.New(failing)), "/healthz")
	if code != http.StatusOK || b.Status != "ok" {
		t.Errorf("healthz = %d %q, want 200 ok", code, b.Status)
	}
}

func TestReadyz_NoCheckers(t *testing.T) {
	t.Parallel()
	code, b := get(t, mux(health.New()), "/readyz")
	if code != http.StatusOK || b.Status != "ok" {
		t.Errorf("readyz = %d %q, want 200 ok", code, b.Status)
	}
}

func TestReadyz_EngineAndDevice(t *testing.T) {
	t.Parallel()
	var running atomic.Bool
	eng := &closer{}
	h := mux(health.New(
		health.EngineAccepting(eng),
		health.DeviceRunning(running.Load),
	))

	code, b := get(t, h, "/readyz")
	if code != http.StatusServiceUnavailable || b.Checks["device"] != "fail: output device is not running" {
		t.Errorf("before start: %d %+v", code, b)
	}
	if b.Checks["engine"] != "ok" {
		t.Errorf("engine check = %q, want ok", b.Checks["engine"])
	}

	running.Store(true)
	if code, b := get(t, h, "/readyz"); code != http.StatusOK || b.Status != "ok" {
		t.Errorf("running: %d %+v", code, b)
	}

	eng.closing.Store(true)
	code, b = get(t, h, "/readyz")
	if code != http.StatusServiceUnavailable || b.Checks["engine"] != "fail: engine is shutting down" {
		t.Errorf("closing: %d %+v", code, b)
	}
}

func TestReadyz_RespectsContextCancellation(t *testing.T) {
	t.Parallel()
	h := health.New(health.DeviceRunning(func() bool { return true }))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil).WithContext(ctx))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}
