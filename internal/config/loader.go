package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/moshi-chat/moshi/internal/detect"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt":        {"openai", "whisper", "deepgram"},
	"tts":        {"google", "elevenlabs"},
	"translate":  {"google"},
	"embeddings": {"openai", "ollama"},
}

// validSampleRates are the rates the Opus codec accepts; the media path
// re-encodes every session, so the session format is bound to them.
var validSampleRates = []int{8000, 12000, 16000, 24000, 48000}

// Frame size bounds for synthesized frames, in samples per channel.
const (
	minFrameSize = 128
	maxFrameSize = 4096
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of the defaults,
// applies the environment overrides and validates the result. Useful in
// tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays the environment knobs onto cfg. They take precedence
// over the YAML file. Range checks happen in [Validate]; this only rejects
// values that do not parse.
func applyEnv(cfg *Config) error {
	var errs []error

	overlayInt := func(name string, dst *int) {
		v := os.Getenv(name)
		if v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s %q is not an integer", name, v))
			return
		}
		*dst = n
	}

	overlayInt("MOSHISAMPLERATE", &cfg.Audio.SampleRate)
	overlayInt("MOSHIFRAMESIZE", &cfg.Audio.FrameSize)
	overlayInt("MOSHIMAXLOOPS", &cfg.Session.MaxLoops)
	if v := os.Getenv("MOSHIAUDIOFORMAT"); v != "" {
		cfg.Audio.Format = v
	}
	if v := os.Getenv("MOSHIAUDIOLAYOUT"); v != "" {
		cfg.Audio.Layout = v
	}
	if v := os.Getenv("MOSHICONNECTIONTIMEOUT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("MOSHICONNECTIONTIMEOUT %q is not a number of seconds", v))
		} else {
			cfg.Session.ConnectionTimeout = Duration(time.Duration(n) * time.Second)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: environment overrides: %w", errors.Join(errs...))
	}
	return nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d is out of range [1, 65535]", cfg.Server.Port))
	}
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if (cfg.Server.TLSCert == "") != (cfg.Server.TLSKey == "") {
		errs = append(errs, errors.New("server.tls_cert and server.tls_key must be set together"))
	}
	if cfg.Server.MaxSessions < 0 {
		errs = append(errs, fmt.Errorf("server.max_sessions must not be negative, got %d", cfg.Server.MaxSessions))
	}

	// Audio
	if !slices.Contains(validSampleRates, cfg.Audio.SampleRate) {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d is not an opus rate (8000, 12000, 16000, 24000, 48000)", cfg.Audio.SampleRate))
	} else if cfg.Audio.SampleRate != 48000 {
		slog.Warn("audio.sample_rate below 48 kHz narrows the band the codec keeps", "sample_rate", cfg.Audio.SampleRate)
	}
	if cfg.Audio.Format != FormatS16 {
		errs = append(errs, fmt.Errorf("audio.format %q is unsupported; only %q", cfg.Audio.Format, FormatS16))
	}
	if cfg.Audio.Layout != LayoutMono && cfg.Audio.Layout != LayoutStereo {
		errs = append(errs, fmt.Errorf("audio.layout %q is invalid; valid values: mono, stereo", cfg.Audio.Layout))
	}
	if cfg.Audio.FrameSize < minFrameSize || cfg.Audio.FrameSize > maxFrameSize {
		errs = append(errs, fmt.Errorf("audio.frame_size %d is out of range [%d, %d]", cfg.Audio.FrameSize, minFrameSize, maxFrameSize))
	}

	// Session
	if cfg.Session.MaxLoops < 0 {
		errs = append(errs, fmt.Errorf("session.max_loops must not be negative, got %d", cfg.Session.MaxLoops))
	}
	if cfg.Session.ConnectionTimeout <= 0 {
		errs = append(errs, errors.New("session.connection_timeout must be positive"))
	}
	if cfg.Session.UtteranceStartMaxRetries < 1 {
		errs = append(errs, fmt.Errorf("session.utterance_start_max_retries must be at least 1, got %d", cfg.Session.UtteranceStartMaxRetries))
	}

	// Detect
	if err := cfg.Detect.Detector().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("detect: %w", err))
	}

	// Providers — the conversation pipeline needs all four stages.
	required := []struct {
		kind string
		name string
	}{
		{"llm", cfg.Providers.LLM.Name},
		{"stt", cfg.Providers.STT.Name},
		{"tts", cfg.Providers.TTS.Name},
		{"translate", cfg.Providers.Translate.Name},
	}
	for _, req := range required {
		if req.name == "" {
			errs = append(errs, fmt.Errorf("providers.%s.name is required", req.kind))
		}
	}
	errs = append(errs, validateProviderEntry("llm", cfg.Providers.LLM)...)
	errs = append(errs, validateProviderEntry("stt", cfg.Providers.STT)...)
	errs = append(errs, validateProviderEntry("tts", cfg.Providers.TTS)...)
	errs = append(errs, validateProviderEntry("translate", cfg.Providers.Translate)...)
	errs = append(errs, validateProviderEntry("embeddings", cfg.Providers.Embeddings)...)

	// Transcript
	switch cfg.Transcript.Backend {
	case TranscriptNone, TranscriptMemory:
	case TranscriptPostgres:
		if cfg.Transcript.DSN == "" {
			errs = append(errs, errors.New("transcript.dsn is required when transcript.backend is postgres"))
		}
		if cfg.Providers.Embeddings.Name == "" {
			slog.Warn("transcript.backend is postgres but providers.embeddings is not set; semantic recall over past sessions is disabled")
		}
	default:
		errs = append(errs, fmt.Errorf("transcript.backend %q is invalid; valid values: none, memory, postgres", cfg.Transcript.Backend))
	}

	return errors.Join(errs...)
}

// validateProviderEntry warns about unrecognised provider names and rejects
// nested fallbacks.
func validateProviderEntry(kind string, e ProviderEntry) []error {
	var errs []error
	validateProviderName(kind, e.Name)
	for i, fb := range e.Fallbacks {
		validateProviderName(kind, fb.Name)
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.%s.fallbacks[%d].name is required", kind, i))
		}
		if len(fb.Fallbacks) > 0 {
			errs = append(errs, fmt.Errorf("providers.%s.fallbacks[%d] must not nest further fallbacks", kind, i))
		}
	}
	return errs
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}

// Detector returns the voice activity detection parameters with zero fields
// replaced by the detector's defaults.
func (d DetectConfig) Detector() detect.Config {
	cfg := detect.DefaultConfig()
	if d.AmbientNoiseMeasurement > 0 {
		cfg.AmbientNoiseMeasurement = d.AmbientNoiseMeasurement.Std()
	}
	if d.SilenceIgnoreSpike > 0 {
		cfg.SilenceIgnoreSpike = d.SilenceIgnoreSpike.Std()
	}
	if d.UtteranceEndSilence > 0 {
		cfg.UtteranceEndSilence = d.UtteranceEndSilence.Std()
	}
	if d.UtteranceMinLength > 0 {
		cfg.UtteranceMinLength = d.UtteranceMinLength.Std()
	}
	if d.UtteranceStartTimeout > 0 {
		cfg.UtteranceStartTimeout = d.UtteranceStartTimeout.Std()
	}
	if d.UtteranceStartSpeaking > 0 {
		cfg.UtteranceStartSpeaking = d.UtteranceStartSpeaking.Std()
	}
	if d.UtteranceTimeout > 0 {
		cfg.UtteranceTimeout = d.UtteranceTimeout.Std()
	}
	if d.BackgroundEnergyFloor > 0 {
		cfg.BackgroundEnergyFloor = d.BackgroundEnergyFloor
	}
	return cfg
}
