package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func pass(_ context.Context) error { return nil }

func fail(msg string) func(context.Context) error {
	return func(_ context.Context) error { return errors.New(msg) }
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) result {
	t.Helper()
	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return body
}

func TestHealthz_AlwaysReturns200(t *testing.T) {
	h := New()

	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest("GET", "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if body := decode(t, rec); body.Status != "ok" {
		t.Errorf("status = %q, want %q", body.Status, "ok")
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
}

func TestReadyz_AllCheckersPass(t *testing.T) {
	h := New(
		Checker{Name: "transcripts", Check: pass},
		Checker{Name: "stt", Check: pass},
	)

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	body := decode(t, rec)
	if body.Status != "ok" {
		t.Errorf("status = %q, want %q", body.Status, "ok")
	}
	if body.Checks["transcripts"] != "ok" {
		t.Errorf("transcripts check = %q, want %q", body.Checks["transcripts"], "ok")
	}
	if body.Checks["stt"] != "ok" {
		t.Errorf("stt check = %q, want %q", body.Checks["stt"], "ok")
	}
}

func TestReadyz_OneCheckerFails(t *testing.T) {
	h := New(
		Checker{Name: "transcripts", Check: fail("connection refused")},
		Checker{Name: "stt", Check: pass},
	)

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
	body := decode(t, rec)
	if body.Status != "fail" {
		t.Errorf("status = %q, want %q", body.Status, "fail")
	}
	if body.Checks["transcripts"] != "fail: connection refused" {
		t.Errorf("transcripts check = %q, want %q", body.Checks["transcripts"], "fail: connection refused")
	}
	if body.Checks["stt"] != "ok" {
		t.Errorf("stt check = %q, want %q", body.Checks["stt"], "ok")
	}
}

func TestReadyz_AllCheckersFail(t *testing.T) {
	h := New(
		Checker{Name: "transcripts", Check: fail("timeout")},
		Checker{Name: "llm", Check: fail("no providers configured")},
	)

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
	body := decode(t, rec)
	if body.Checks["transcripts"] != "fail: timeout" {
		t.Errorf("transcripts check = %q", body.Checks["transcripts"])
	}
	if body.Checks["llm"] != "fail: no providers configured" {
		t.Errorf("llm check = %q", body.Checks["llm"])
	}
}

func TestReadyz_NoCheckers(t *testing.T) {
	h := New()

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if body := decode(t, rec); body.Status != "ok" {
		t.Errorf("status = %q, want %q", body.Status, "ok")
	}
}

func TestReadyz_ChecksRunConcurrently(t *testing.T) {
	// Each check waits for the other to start. Sequential evaluation would
	// stall until the per-check timeout fires.
	aStarted := make(chan struct{})
	bStarted := make(chan struct{})
	wait := func(started chan<- struct{}, other <-chan struct{}) func(context.Context) error {
		return func(ctx context.Context) error {
			close(started)
			select {
			case <-other:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	h := New(
		Checker{Name: "a", Check: wait(aStarted, bStarted)},
		Checker{Name: "b", Check: wait(bStarted, aStarted)},
	)

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestReadyz_RespectsContextCancellation(t *testing.T) {
	h := New(
		Checker{Name: "slow", Check: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}},
	)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil).WithContext(ctx))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestRegister_RoutesWork(t *testing.T) {
	h := New(Checker{Name: "tts", Check: pass})

	mux := http.NewServeMux()
	h.Register(mux)

	for _, path := range []string{"/healthz", "/readyz"} {
		t.Run(path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
			if rec.Code != http.StatusOK {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
			}
		})
	}
}
