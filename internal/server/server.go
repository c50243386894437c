// Package server is the signalling and media front door: it answers WebRTC
// offers over HTTP, owns the per-call peer connections and pumps audio
// between pion tracks and the conversation pipeline.
//
// One POST to /call/new negotiates one session. The answer is non-trickle:
// it is returned only after ICE gathering completes, so the client needs no
// further signalling round-trips. Alongside the call endpoint the server
// exposes the health probes and the Prometheus metrics scrape.
package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/moshi-chat/moshi/internal/health"
	"github.com/moshi-chat/moshi/internal/observe"
	"github.com/moshi-chat/moshi/pkg/audio"
)

const (
	// readHeaderTimeout bounds slow-header clients.
	readHeaderTimeout = 10 * time.Second

	// shutdownGrace is how long Run waits for in-flight requests after its
	// context is cancelled. Live sessions are not part of the wait; the
	// registry closes them separately.
	shutdownGrace = 10 * time.Second
)

// Config is the HTTP-facing server configuration.
type Config struct {
	// Host and Port form the listen address.
	Host string
	Port int

	// TLSCert and TLSKey enable TLS when both are set. Intended for
	// development; production deployments terminate TLS upstream.
	TLSCert string
	TLSKey  string

	// AuthToken fences /call/new behind a static bearer token when set.
	// Empty disables the check.
	AuthToken string

	// STUNServers are the ICE servers offered to every session. Empty means
	// host candidates only, which is enough on a LAN.
	STUNServers []string

	// Format is the session audio format both media pumps convert to and
	// from. Zero value means 48 kHz stereo.
	Format audio.Format
}

// Registry tracks live sessions and enforces the configured session cap.
// Implemented by the application's session manager.
type Registry interface {
	// Add registers a session, failing when the server is at capacity.
	Add(s *Session) error

	// Remove forgets a closed session, recording its lifetime. Removing an
	// unknown id is a no-op.
	Remove(id string, lifetime time.Duration)
}

// ConversationFactory assembles the conversation pipeline for one new call.
type ConversationFactory func(ctx context.Context, sessionID string) (Conversation, error)

// Deps are the server's collaborators.
type Deps struct {
	// NewConversation is called once per accepted offer. Required.
	NewConversation ConversationFactory

	// Sessions is the live-session registry. Required.
	Sessions Registry

	// Checkers feed the readiness probe. Optional.
	Checkers []health.Checker

	// Metrics instruments the HTTP surface. Optional; nil uses the
	// process-wide default.
	Metrics *observe.Metrics
}

// Server answers WebRTC offers and serves the operational endpoints.
type Server struct {
	cfg     Config
	deps    Deps
	metrics *observe.Metrics
	health  *health.Handler
}

// New validates the dependencies and returns a Server ready to Run.
func New(cfg Config, deps Deps) (*Server, error) {
	if deps.NewConversation == nil {
		return nil, errors.New("server: conversation factory must be set")
	}
	if deps.Sessions == nil {
		return nil, errors.New("server: session registry must be set")
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Server{
		cfg:     cfg,
		deps:    deps,
		metrics: metrics,
		health:  health.New(deps.Checkers...),
	}, nil
}

// Handler returns the full route table wrapped in the tracing middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /call/new", s.withAuth(s.handleNewCall))
	mux.HandleFunc("GET /health", handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	s.health.Register(mux)
	return observe.Middleware(s.metrics)(mux)
}

// Run serves until ctx is cancelled, then drains in-flight requests for up
// to the shutdown grace period. A listen failure cancels the group, so the
// drain goroutine never outlives a server that could not start.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port)),
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if s.cfg.TLSCert != "" && s.cfg.TLSKey != "" {
			slog.Info("server: listening with TLS", "addr", srv.Addr)
			err = srv.ListenAndServeTLS(s.cfg.TLSCert, s.cfg.TLSKey)
		} else {
			slog.Info("server: listening", "addr", srv.Addr)
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: serve: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("server: shutdown incomplete", "err", err)
		}
		return nil
	})
	return g.Wait()
}

// withAuth enforces the static bearer token when one is configured.
func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	if s.cfg.AuthToken == "" {
		return next
	}
	want := []byte("Bearer " + s.cfg.AuthToken)
	return func(w http.ResponseWriter, r *http.Request) {
		got := []byte(r.Header.Get("Authorization"))
		if subtle.ConstantTimeCompare(got, want) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// handleHealth is the plain liveness endpoint load balancers poll.
func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
