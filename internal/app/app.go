// Package app assembles the moshi voice server: it owns the transcript
// store, the live-session registry and the HTTP front door, and builds the
// per-call conversation pipeline from the configured providers.
//
// The usual sequence is:
//
//	application, err := app.New(ctx, cfg, providers)
//	// handle err
//	err = application.Run(ctx)        // blocks until ctx is cancelled
//	err = application.Shutdown(shutdownCtx)
//
// Functional options exist so tests can inject mock stores and metrics
// without touching a database or the global meter provider.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/moshi-chat/moshi/internal/activity"
	"github.com/moshi-chat/moshi/internal/chat"
	"github.com/moshi-chat/moshi/internal/config"
	"github.com/moshi-chat/moshi/internal/detect"
	"github.com/moshi-chat/moshi/internal/health"
	"github.com/moshi-chat/moshi/internal/observe"
	"github.com/moshi-chat/moshi/internal/respond"
	"github.com/moshi-chat/moshi/internal/server"
	"github.com/moshi-chat/moshi/internal/transcript"
	"github.com/moshi-chat/moshi/internal/transcript/postgres"
	"github.com/moshi-chat/moshi/pkg/audio"
	"github.com/moshi-chat/moshi/pkg/provider/embeddings"
	"github.com/moshi-chat/moshi/pkg/provider/llm"
	"github.com/moshi-chat/moshi/pkg/provider/stt"
	"github.com/moshi-chat/moshi/pkg/provider/translate"
	"github.com/moshi-chat/moshi/pkg/provider/tts"
)

// Providers holds one implementation per provider slot. LLM, STT, TTS and
// Translate are required for a conversation; Embeddings is optional and only
// feeds transcript search. Populated by main.go via the config registry.
type Providers struct {
	LLM        llm.Provider
	STT        stt.Provider
	TTS        tts.Provider
	Translate  translate.Provider
	Embeddings embeddings.Provider
}

// hotSettings are the per-call knobs the config watcher may replace at
// runtime. Live calls keep the settings they started with; only new calls
// pick up the latest snapshot.
type hotSettings struct {
	detect  detect.Config
	session config.SessionConfig
}

// App wires the subsystems into one runnable unit.
type App struct {
	cfg       *config.Config
	providers *Providers

	store     chat.Store
	corrector chat.Corrector
	sessions  *SessionManager
	server    *server.Server
	metrics   *observe.Metrics
	checkers  []health.Checker

	// logLevel, when set, lets ApplyConfig change verbosity at runtime.
	logLevel *slog.LevelVar

	hot atomic.Pointer[hotSettings]

	// closers release resources in reverse initialisation order.
	closers  []func() error
	stopOnce sync.Once
}

// Option customises App construction, mainly for tests.
type Option func(*App)

// WithTranscriptStore injects a transcript store, bypassing the configured
// backend.
func WithTranscriptStore(s chat.Store) Option {
	return func(a *App) { a.store = s }
}

// WithCorrector injects a transcript corrector.
func WithCorrector(c chat.Corrector) Option {
	return func(a *App) { a.corrector = c }
}

// WithMetrics injects a metrics recorder instead of the process-wide
// default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevel hands the app the logger's level so configuration reloads can
// adjust verbosity without a restart.
func WithLogLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = v }
}

// New builds the application from cfg and the already-constructed providers.
// The context bounds slow initialisation work such as the first database
// connection; it is not retained.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config must not be nil")
	}
	if providers == nil {
		providers = &Providers{}
	}

	a := &App{cfg: cfg, providers: providers}
	for _, opt := range opts {
		opt(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// A conversation cannot run with a provider slot empty, and failing here
	// beats a 500 on the first call.
	var missing []string
	for _, slot := range []struct {
		name string
		ok   bool
	}{
		{"llm", providers.LLM != nil},
		{"stt", providers.STT != nil},
		{"tts", providers.TTS != nil},
		{"translate", providers.Translate != nil},
	} {
		if !slot.ok {
			missing = append(missing, slot.name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("app: missing required providers: %v", missing)
	}

	a.hot.Store(&hotSettings{detect: cfg.Detect.Detector(), session: cfg.Session})

	// ── 1. Transcript storage ─────────────────────────────────────────────────
	if err := a.initTranscripts(ctx); err != nil {
		return nil, fmt.Errorf("app: init transcript store: %w", err)
	}

	// ── 2. Session registry ───────────────────────────────────────────────────
	a.sessions = NewSessionManager(cfg.Server.MaxSessions, a.metrics)

	// ── 3. HTTP server ────────────────────────────────────────────────────────
	srv, err := server.New(serverConfig(cfg), server.Deps{
		NewConversation: a.newConversation,
		Sessions:        a.sessions,
		Checkers:        a.checkers,
		Metrics:         a.metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("app: init server: %w", err)
	}
	a.server = srv

	slog.Info("app: initialised",
		"transcripts", cfg.Transcript.Backend,
		"max_sessions", cfg.Server.MaxSessions,
	)
	return a, nil
}

// initTranscripts selects the transcript backend. An injected store wins
// over the configured one.
func (a *App) initTranscripts(ctx context.Context) error {
	if a.store == nil {
		switch a.cfg.Transcript.Backend {
		case config.TranscriptNone, "":
			// Conversations run fine without persistence.
		case config.TranscriptMemory:
			a.store = transcript.NewMemory()
		case config.TranscriptPostgres:
			store, err := postgres.NewStore(ctx, a.cfg.Transcript.DSN, a.providers.Embeddings)
			if err != nil {
				return err
			}
			a.store = store
			a.closers = append(a.closers, func() error { store.Close(); return nil })
			a.checkers = append(a.checkers, health.Checker{Name: "transcripts", Check: store.Ping})
		default:
			return fmt.Errorf("unknown transcript backend %q", a.cfg.Transcript.Backend)
		}
	}
	if a.corrector == nil && a.cfg.Transcript.Correct {
		a.corrector = transcript.NewCorrector()
	}
	return nil
}

// newConversation is the per-call factory handed to the server. Each call
// gets its own detector, player and chat loop; the providers and the
// transcript store are shared.
func (a *App) newConversation(ctx context.Context, sessionID string) (server.Conversation, error) {
	hot := a.hot.Load()

	det, err := detect.New(hot.detect)
	if err != nil {
		return server.Conversation{}, fmt.Errorf("app: new detector: %w", err)
	}
	player, err := respond.New(respond.Config{
		Format:    a.sessionFormat(),
		FrameSize: a.cfg.Audio.FrameSize,
	})
	if err != nil {
		return server.Conversation{}, fmt.Errorf("app: new player: %w", err)
	}
	act, err := activity.New(activity.KindUnstructured)
	if err != nil {
		return server.Conversation{}, fmt.Errorf("app: new activity: %w", err)
	}

	chatCfg := chat.DefaultConfig()
	chatCfg.SessionID = sessionID
	chatCfg.Format = a.sessionFormat()
	chatCfg.MaxLoops = hot.session.MaxLoops
	chatCfg.StartRetryLimit = hot.session.UtteranceStartMaxRetries
	chatCfg.ConnectionTimeout = hot.session.ConnectionTimeout.Std()

	chatter, err := chat.New(chat.Deps{
		Detector:  det,
		Player:    player,
		STT:       a.providers.STT,
		LLM:       a.providers.LLM,
		TTS:       a.providers.TTS,
		Translate: a.providers.Translate,
		Store:     a.store,
		Corrector: a.corrector,
		Metrics:   a.metrics,
		Activity:  act,
	}, chatCfg)
	if err != nil {
		return server.Conversation{}, fmt.Errorf("app: new chatter: %w", err)
	}

	return server.Conversation{Chatter: chatter, Detector: det, Player: player}, nil
}

// Run serves HTTP until ctx is cancelled. A clean shutdown returns nil.
func (a *App) Run(ctx context.Context) error {
	return a.server.Run(ctx)
}

// Handler exposes the server's route table, mainly for tests and embedding.
func (a *App) Handler() http.Handler {
	return a.server.Handler()
}

// ApplyConfig reacts to a configuration reload. Log level and the per-call
// conversation knobs apply immediately; sections that cannot change at
// runtime are logged so the operator knows a restart is due. Matches the
// watcher's callback signature.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if !d.Changed() {
		return
	}

	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(d.NewLogLevel.Slog())
		slog.Info("app: log level changed", "level", d.NewLogLevel)
	}
	if d.DetectChanged || d.SessionChanged {
		a.hot.Store(&hotSettings{detect: new.Detect.Detector(), session: new.Session})
		slog.Info("app: conversation settings updated",
			"detect_changed", d.DetectChanged,
			"session_changed", d.SessionChanged,
		)
	}
	if len(d.RequiresRestart) > 0 {
		slog.Warn("app: config changes need a restart", "sections", d.RequiresRestart)
	}
}

// Shutdown closes all live sessions, then releases resources in reverse
// initialisation order. Only the first call does work; it stops early when
// ctx expires.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	a.stopOnce.Do(func() {
		slog.Info("app: shutting down", "live_sessions", a.sessions.Len())
		a.sessions.CloseAll()

		for i := len(a.closers) - 1; i >= 0; i-- {
			if err := ctx.Err(); err != nil {
				errs = append(errs, fmt.Errorf("app: shutdown interrupted: %w", err))
				return
			}
			if err := a.closers[i](); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}

// sessionFormat is the audio format every call converts to and from.
func (a *App) sessionFormat() audio.Format {
	return audio.Format{
		SampleRate: a.cfg.Audio.SampleRate,
		Channels:   a.cfg.Audio.Channels(),
	}
}

// serverConfig maps the YAML schema onto the server's own config type.
func serverConfig(cfg *config.Config) server.Config {
	return server.Config{
		Host:        cfg.Server.Host,
		Port:        cfg.Server.Port,
		TLSCert:     cfg.Server.TLSCert,
		TLSKey:      cfg.Server.TLSKey,
		AuthToken:   cfg.Server.AuthToken,
		STUNServers: cfg.Server.STUNServers,
		Format: audio.Format{
			SampleRate: cfg.Audio.SampleRate,
			Channels:   cfg.Audio.Channels(),
		},
	}
}
