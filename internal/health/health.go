// Package health provides the liveness and readiness endpoints.
//
//   - /healthz — liveness; a process that can serve HTTP answers 200.
//   - /readyz  — readiness; 200 only when every registered [Checker] passes.
//
// Responses are JSON with a top-level "status" ("ok" or "fail") and a
// "checks" map naming each probe's result. Probes cover remote services
// (speech APIs, the transcript database) and run concurrently, each under
// its own timeout.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// checkTimeout bounds a single readiness probe.
const checkTimeout = 5 * time.Second

// Checker is one named readiness probe. Check returns nil when the
// dependency can serve a call session right now.
type Checker struct {
	// Name keys the probe's result in the JSON response, e.g. "transcripts"
	// or "stt".
	Name string

	// Check probes the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves the health endpoints. The checker list is fixed at
// construction; Handler is safe for concurrent use.
type Handler struct {
	checkers []Checker
}

// New returns a Handler evaluating the given checkers on each /readyz call.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// Healthz always answers 200.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz runs every checker, each under its own timeout, and answers 200
// when all pass or 503 with per-check failure text otherwise.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	outcomes := make([]error, len(h.checkers))
	var wg sync.WaitGroup
	for i, c := range h.checkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			outcomes[i] = c.Check(ctx)
		}()
	}
	wg.Wait()

	res := result{Status: "ok", Checks: make(map[string]string, len(h.checkers))}
	status := http.StatusOK
	for i, c := range h.checkers {
		if err := outcomes[i]; err != nil {
			res.Checks[c.Name] = "fail: " + err.Error()
			res.Status = "fail"
			status = http.StatusServiceUnavailable
		} else {
			res.Checks[c.Name] = "ok"
		}
	}
	writeJSON(w, status, res)
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
