// Command moshi is the main entry point for the moshi voice conversation
// server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"google.golang.org/api/option"

	"github.com/moshi-chat/moshi/internal/app"
	"github.com/moshi-chat/moshi/internal/config"
	"github.com/moshi-chat/moshi/internal/observe"
	"github.com/moshi-chat/moshi/internal/resilience"
	"github.com/moshi-chat/moshi/pkg/provider/embeddings"
	ollamaembed "github.com/moshi-chat/moshi/pkg/provider/embeddings/ollama"
	oaembed "github.com/moshi-chat/moshi/pkg/provider/embeddings/openai"
	"github.com/moshi-chat/moshi/pkg/provider/llm"
	"github.com/moshi-chat/moshi/pkg/provider/llm/anyllm"
	llmopenai "github.com/moshi-chat/moshi/pkg/provider/llm/openai"
	"github.com/moshi-chat/moshi/pkg/provider/stt"
	"github.com/moshi-chat/moshi/pkg/provider/stt/deepgram"
	sttopenai "github.com/moshi-chat/moshi/pkg/provider/stt/openai"
	"github.com/moshi-chat/moshi/pkg/provider/stt/whisper"
	"github.com/moshi-chat/moshi/pkg/provider/translate"
	translategoogle "github.com/moshi-chat/moshi/pkg/provider/translate/google"
	"github.com/moshi-chat/moshi/pkg/provider/tts"
	"github.com/moshi-chat/moshi/pkg/provider/tts/elevenlabs"
	ttsgoogle "github.com/moshi-chat/moshi/pkg/provider/tts/google"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "moshi: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "moshi: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger, logLevel := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("moshi starting",
		"version", version,
		"config", *configPath,
		"addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	// Must run before anything grabs the default metrics instance.
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "moshi",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	metrics := observe.DefaultMetrics()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(ctx, reg)

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, err := buildProviders(cfg, reg, metrics)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers,
		app.WithMetrics(metrics),
		app.WithLogLevel(logLevel),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, application.ApplyConfig)
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if err := otelShutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages. ctx is captured by the
// Google client factories, which dial during construction.
func registerBuiltinProviders(ctx context.Context, reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	// openai goes through the native SDK; the remaining hosted providers share
	// the any-llm adapter, differing only in which API key they expect.
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []llmopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, llmopenai.WithBaseURL(entry.BaseURL))
		}
		return llmopenai.New(entry.APIKey, entry.Model, opts...)
	})

	for _, name := range []string{
		"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterLLM(name, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(name, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []sttopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, sttopenai.WithBaseURL(entry.BaseURL))
		}
		return sttopenai.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = entry.Options["model_path"]
		}
		return whisper.New(modelPath)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("google", func(entry config.ProviderEntry) (tts.Provider, error) {
		return ttsgoogle.New(ctx, googleOpts(entry)...)
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if outputFmt := entry.Options["output_format"]; outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	// ── Translate ─────────────────────────────────────────────────────────────

	reg.RegisterTranslate("google", func(entry config.ProviderEntry) (translate.Provider, error) {
		return translategoogle.New(ctx, googleOpts(entry)...)
	})

	// ── Embeddings ────────────────────────────────────────────────────────────

	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterEmbeddings("ollama", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		return ollamaembed.New(entry.BaseURL, entry.Model)
	})

	// Debug log of all registered providers.
	for kind, names := range config.ValidProviderNames {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// googleOpts maps the generic provider entry onto Google client options.
// With none set, the client falls back to application default credentials.
func googleOpts(entry config.ProviderEntry) []option.ClientOption {
	var opts []option.ClientOption
	if entry.APIKey != "" {
		opts = append(opts, option.WithAPIKey(entry.APIKey))
	}
	if cf := entry.Options["credentials_file"]; cf != "" {
		opts = append(opts, option.WithCredentialsFile(cf))
	}
	return opts
}

// buildProviders instantiates every provider named in cfg using the registry
// and returns them in an [app.Providers] struct. LLM, STT and TTS entries may
// carry fallbacks, which become circuit-breaker chains; the three speech-path
// providers are wrapped with latency instrumentation.
func buildProviders(cfg *config.Config, reg *config.Registry, metrics *observe.Metrics) (*app.Providers, error) {
	ps := &app.Providers{}
	pcfg := cfg.Providers

	llmProvider, err := reg.CreateLLM(pcfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("create llm provider %q: %w", pcfg.LLM.Name, err)
	}
	if len(pcfg.LLM.Fallbacks) > 0 {
		chain := resilience.NewLLMFallback(pcfg.LLM.Name, llmProvider, resilience.BreakerConfig{})
		for _, fb := range pcfg.LLM.Fallbacks {
			p, err := reg.CreateLLM(fb)
			if err != nil {
				return nil, fmt.Errorf("create llm fallback %q: %w", fb.Name, err)
			}
			chain.AddFallback(fb.Name, p)
		}
		slog.Info("llm fallback chain built", "providers", chain.Names())
		llmProvider = chain
	}
	ps.LLM = observe.InstrumentLLM(metrics, pcfg.LLM.Name, llmProvider)
	slog.Info("provider created", "kind", "llm", "name", pcfg.LLM.Name)

	sttProvider, err := reg.CreateSTT(pcfg.STT)
	if err != nil {
		return nil, fmt.Errorf("create stt provider %q: %w", pcfg.STT.Name, err)
	}
	if len(pcfg.STT.Fallbacks) > 0 {
		chain := resilience.NewSTTFallback(pcfg.STT.Name, sttProvider, resilience.BreakerConfig{})
		for _, fb := range pcfg.STT.Fallbacks {
			p, err := reg.CreateSTT(fb)
			if err != nil {
				return nil, fmt.Errorf("create stt fallback %q: %w", fb.Name, err)
			}
			chain.AddFallback(fb.Name, p)
		}
		slog.Info("stt fallback chain built", "providers", chain.Names())
		sttProvider = chain
	}
	ps.STT = observe.InstrumentSTT(metrics, pcfg.STT.Name, sttProvider)
	slog.Info("provider created", "kind", "stt", "name", pcfg.STT.Name)

	ttsProvider, err := reg.CreateTTS(pcfg.TTS)
	if err != nil {
		return nil, fmt.Errorf("create tts provider %q: %w", pcfg.TTS.Name, err)
	}
	if len(pcfg.TTS.Fallbacks) > 0 {
		chain := resilience.NewTTSFallback(pcfg.TTS.Name, ttsProvider, resilience.BreakerConfig{})
		for _, fb := range pcfg.TTS.Fallbacks {
			p, err := reg.CreateTTS(fb)
			if err != nil {
				return nil, fmt.Errorf("create tts fallback %q: %w", fb.Name, err)
			}
			chain.AddFallback(fb.Name, p)
		}
		slog.Info("tts fallback chain built", "providers", chain.Names())
		ttsProvider = chain
	}
	ps.TTS = observe.InstrumentTTS(metrics, pcfg.TTS.Name, ttsProvider)
	slog.Info("provider created", "kind", "tts", "name", pcfg.TTS.Name)

	ps.Translate, err = reg.CreateTranslate(pcfg.Translate)
	if err != nil {
		return nil, fmt.Errorf("create translate provider %q: %w", pcfg.Translate.Name, err)
	}
	if len(pcfg.Translate.Fallbacks) > 0 {
		slog.Warn("translate fallbacks are not supported, ignoring", "count", len(pcfg.Translate.Fallbacks))
	}
	slog.Info("provider created", "kind", "translate", "name", pcfg.Translate.Name)

	// Embeddings only feed transcript search; the slot may stay empty.
	if name := pcfg.Embeddings.Name; name != "" {
		p, err := reg.CreateEmbeddings(pcfg.Embeddings)
		if err != nil {
			return nil, fmt.Errorf("create embeddings provider %q: %w", name, err)
		}
		ps.Embeddings = p
		slog.Info("provider created", "kind", "embeddings", "name", name)
	}

	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║           moshi — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	printProvider("Translate", cfg.Providers.Translate.Name, cfg.Providers.Translate.Model)
	printProvider("Embeddings", cfg.Providers.Embeddings.Name, cfg.Providers.Embeddings.Model)
	fmt.Printf("║  Transcripts     : %-19s ║\n", cfg.Transcript.Backend)
	if cfg.Server.MaxSessions > 0 {
		fmt.Printf("║  Max sessions    : %-19d ║\n", cfg.Server.MaxSessions)
	} else {
		fmt.Printf("║  Max sessions    : %-19s ║\n", "unlimited")
	}
	fmt.Printf("║  Audio           : %-19s ║\n", fmt.Sprintf("%d Hz %s", cfg.Audio.SampleRate, cfg.Audio.Layout))
	fmt.Printf("║  Listen addr     : %-19s ║\n", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port))
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

// newLogger builds the process logger. The returned level var is handed to
// the app so configuration reloads can change verbosity.
func newLogger(level config.LogLevel) (*slog.Logger, *slog.LevelVar) {
	lvl := new(slog.LevelVar)
	lvl.Set(level.Slog())
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), lvl
}
