// Package config provides the configuration schema, loader, and provider
// registry for the moshi voice server.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"gopkg.in/yaml.v3"
)

// LogLevel controls log verbosity for the server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Slog maps l onto the slog level scale. Unknown values map to info.
func (l LogLevel) Slog() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Duration is a time.Duration that unmarshals from YAML strings like "1500ms"
// or "8s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"500ms\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration for the moshi server.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Audio      AudioConfig      `yaml:"audio"`
	Session    SessionConfig    `yaml:"session"`
	Detect     DetectConfig     `yaml:"detect"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Transcript TranscriptConfig `yaml:"transcript"`
}

// ServerConfig holds network, auth and logging settings.
type ServerConfig struct {
	// Host and Port form the listen address.
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLSCert and TLSKey are paths to a PEM certificate and key. Both must
	// be set to enable TLS; production deployments terminate TLS upstream.
	TLSCert string `yaml:"tls_cert"`
	TLSKey  string `yaml:"tls_key"`

	// AuthToken gates call setup behind a static bearer token when set.
	AuthToken string `yaml:"auth_token"`

	// MaxSessions caps concurrent calls. 0 means unlimited.
	MaxSessions int `yaml:"max_sessions"`

	// STUNServers are offered to every peer connection for ICE. An empty
	// list means host candidates only.
	STUNServers []string `yaml:"stun_servers"`
}

// AudioConfig fixes the session audio format. Every pipeline stage converts
// provider audio to and from this format.
type AudioConfig struct {
	// SampleRate in Hz.
	SampleRate int `yaml:"sample_rate"`

	// Format is the sample encoding. Only "s16" is supported.
	Format string `yaml:"format"`

	// Layout is "mono" or "stereo".
	Layout string `yaml:"layout"`

	// FrameSize is the per-channel sample count of synthesized frames.
	FrameSize int `yaml:"frame_size"`
}

// Channels returns the channel count for the configured layout.
func (a AudioConfig) Channels() int {
	if a.Layout == LayoutMono {
		return 1
	}
	return 2
}

// Audio layout names.
const (
	LayoutMono   = "mono"
	LayoutStereo = "stereo"
)

// FormatS16 is the only supported sample encoding: signed 16-bit
// little-endian interleaved PCM.
const FormatS16 = "s16"

// SessionConfig bounds the conversation loop.
type SessionConfig struct {
	// MaxLoops caps the number of turns per call. 0 means unlimited.
	MaxLoops int `yaml:"max_loops"`

	// ConnectionTimeout is how long a starting session waits for the
	// client's data channel.
	ConnectionTimeout Duration `yaml:"connection_timeout"`

	// UtteranceStartMaxRetries is how many consecutive "user never started
	// speaking" timeouts are re-prompted before the session gives up.
	UtteranceStartMaxRetries int `yaml:"utterance_start_max_retries"`
}

// DetectConfig tunes the voice activity detector. Zero fields fall back to
// the detector's defaults.
type DetectConfig struct {
	// AmbientNoiseMeasurement is how long the first listen samples the room
	// before anything counts as speech.
	AmbientNoiseMeasurement Duration `yaml:"ambient_noise_measurement"`

	// SilenceIgnoreSpike is the above-threshold duration that does not reset
	// the end-of-utterance silence counter.
	SilenceIgnoreSpike Duration `yaml:"silence_ignore_spike"`

	// UtteranceEndSilence is the contiguous silence that ends an utterance.
	UtteranceEndSilence Duration `yaml:"utterance_end_silence"`

	// UtteranceMinLength is the floor on an acceptable utterance.
	UtteranceMinLength Duration `yaml:"utterance_min_length"`

	// UtteranceStartTimeout bounds the wait for the user to start speaking.
	UtteranceStartTimeout Duration `yaml:"utterance_start_timeout"`

	// UtteranceStartSpeaking is the contiguous speech required before
	// non-silence counts as the start of a phrase.
	UtteranceStartSpeaking Duration `yaml:"utterance_start_speaking"`

	// UtteranceTimeout caps the recorded length of a single utterance.
	UtteranceTimeout Duration `yaml:"utterance_timeout"`

	// BackgroundEnergyFloor clamps the measured ambient energy so a quiet
	// room does not make the detector hair-triggered.
	BackgroundEnergyFloor float64 `yaml:"background_energy_floor"`
}

// ProvidersConfig selects the backend for each pipeline stage. Each field
// names a provider registered in the [Registry].
type ProvidersConfig struct {
	LLM        ProviderEntry `yaml:"llm"`
	STT        ProviderEntry `yaml:"stt"`
	TTS        ProviderEntry `yaml:"tts"`
	Translate  ProviderEntry `yaml:"translate"`
	Embeddings ProviderEntry `yaml:"embeddings"`
}

// ProviderEntry is the common configuration block shared by all provider
// kinds. The Name field looks up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g. "openai",
	// "deepgram").
	Name string `yaml:"name"`

	// APIKey authenticates against the provider, when it needs one.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g. "gpt-4o",
	// "whisper-1").
	Model string `yaml:"model"`

	// Options holds provider-specific settings not covered by the standard
	// fields above.
	Options map[string]string `yaml:"options"`

	// Fallbacks are tried in order when this provider's circuit opens.
	// Fallback entries may not nest further fallbacks.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`
}

// TranscriptConfig selects where finished transcripts are persisted.
type TranscriptConfig struct {
	// Backend is "none", "memory" or "postgres".
	Backend string `yaml:"backend"`

	// DSN is the PostgreSQL connection string for the postgres backend.
	DSN string `yaml:"dsn"`

	// Correct enables phonetic correction of known names in user turns.
	Correct bool `yaml:"correct"`
}

// Transcript backend names.
const (
	TranscriptNone     = "none"
	TranscriptMemory   = "memory"
	TranscriptPostgres = "postgres"
)

// Default returns the configuration used when the YAML file leaves a field
// unset.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "",
			Port:        8080,
			LogLevel:    LogInfo,
			MaxSessions: 8,
			STUNServers: []string{"stun:stun.l.google.com:19302"},
		},
		Audio: AudioConfig{
			SampleRate: 48000,
			Format:     FormatS16,
			Layout:     LayoutStereo,
			FrameSize:  960,
		},
		Session: SessionConfig{
			MaxLoops:                 30,
			ConnectionTimeout:        Duration(5 * time.Second),
			UtteranceStartMaxRetries: 2,
		},
		Transcript: TranscriptConfig{
			Backend: TranscriptMemory,
		},
	}
}
