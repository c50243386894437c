package chat

import (
	"errors"
	"fmt"
	"time"

	"github.com/moshi-chat/moshi/pkg/audio"
)

// Defaults for Config fields left zero.
const (
	// DefaultMaxLoops caps a session at 30 turns.
	DefaultMaxLoops = 30

	// DefaultMaxResponseTokens bounds each assistant completion. Spoken replies
	// longer than this stop being conversational.
	DefaultMaxResponseTokens = 64

	// DefaultStartRetryLimit is how many consecutive start timeouts are
	// tolerated before the session ends with usrNotSpeaking.
	DefaultStartRetryLimit = 2

	// DefaultVoiceGender and DefaultVoiceModel pick the assistant's voice from
	// the provider catalogue.
	DefaultVoiceGender = "FEMALE"
	DefaultVoiceModel  = "Standard"

	// DefaultFallbackLanguage is spoken before the first user turn fixes the
	// session language.
	DefaultFallbackLanguage = "en-US"

	DefaultConnectionTimeout  = 5 * time.Second
	DefaultTranscribeTimeout  = 10 * time.Second
	DefaultSynthesizeTimeout  = 5 * time.Second
	DefaultVoiceSelectTimeout = 5 * time.Second

	persistTimeout = 5 * time.Second
)

// Correction vocabulary bounds: the terms offered to the corrector come from
// the last few assistant replies, short words excluded.
const (
	vocabularyTurns    = 4
	vocabularyMaxTerms = 64
	vocabularyMinRunes = 4
)

// stopTokens ends a completion the moment the model starts speaking for the
// user.
var stopTokens = []string{"user:"}

// Config tunes one conversation session.
type Config struct {
	// SessionID correlates logs and the persisted transcript. Required.
	SessionID string

	// UserID identifies the authenticated speaker in the persisted transcript.
	UserID string

	// Format is the session audio format synthesized speech is converted to
	// before playback. Required.
	Format audio.Format

	// MaxLoops caps the number of turns; 0 means unlimited. The activity may
	// override a non-zero cap with its own.
	MaxLoops int

	// MaxResponseTokens bounds each assistant completion.
	MaxResponseTokens int

	// StartRetryLimit is the number of consecutive start timeouts after which
	// the session ends.
	StartRetryLimit int

	// VoiceGender and VoiceModel select the assistant's voice from the
	// catalogue for the detected language.
	VoiceGender string
	VoiceModel  string

	// FallbackLanguage is used for the re-engagement prompt while no user turn
	// has fixed the session language yet.
	FallbackLanguage string

	// ConnectionTimeout bounds how long Start waits for the data channel.
	ConnectionTimeout time.Duration

	// TranscribeTimeout bounds each speech-to-text call.
	TranscribeTimeout time.Duration

	// SynthesizeTimeout bounds each text-to-speech call.
	SynthesizeTimeout time.Duration

	// VoiceSelectTimeout bounds language detection and the voice catalogue
	// fetch on the first turn.
	VoiceSelectTimeout time.Duration
}

// DefaultConfig returns a Config with production defaults. SessionID, UserID
// and Format must still be set by the caller.
func DefaultConfig() Config {
	return Config{
		Format:             audio.Format{SampleRate: 48000, Channels: 2},
		MaxLoops:           DefaultMaxLoops,
		MaxResponseTokens:  DefaultMaxResponseTokens,
		StartRetryLimit:    DefaultStartRetryLimit,
		VoiceGender:        DefaultVoiceGender,
		VoiceModel:         DefaultVoiceModel,
		FallbackLanguage:   DefaultFallbackLanguage,
		ConnectionTimeout:  DefaultConnectionTimeout,
		TranscribeTimeout:  DefaultTranscribeTimeout,
		SynthesizeTimeout:  DefaultSynthesizeTimeout,
		VoiceSelectTimeout: DefaultVoiceSelectTimeout,
	}
}

// Validate reports every problem with the configuration.
func (c Config) Validate() error {
	var errs []error
	if c.SessionID == "" {
		errs = append(errs, errors.New("session id must be set"))
	}
	if c.Format.SampleRate <= 0 || c.Format.Channels <= 0 {
		errs = append(errs, fmt.Errorf("invalid audio format %s", c.Format))
	}
	if c.MaxLoops < 0 {
		errs = append(errs, fmt.Errorf("max loops must be non-negative, got %d", c.MaxLoops))
	}
	if c.MaxResponseTokens <= 0 {
		errs = append(errs, fmt.Errorf("max response tokens must be positive, got %d", c.MaxResponseTokens))
	}
	if c.StartRetryLimit < 1 {
		errs = append(errs, fmt.Errorf("start retry limit must be at least 1, got %d", c.StartRetryLimit))
	}
	if c.VoiceGender == "" || c.VoiceModel == "" {
		errs = append(errs, errors.New("voice gender and model must be set"))
	}
	if c.FallbackLanguage == "" {
		errs = append(errs, errors.New("fallback language must be set"))
	}
	for _, d := range []struct {
		name string
		val  time.Duration
	}{
		{"connection timeout", c.ConnectionTimeout},
		{"transcribe timeout", c.TranscribeTimeout},
		{"synthesize timeout", c.SynthesizeTimeout},
		{"voice select timeout", c.VoiceSelectTimeout},
	} {
		if d.val <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %v", d.name, d.val))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("chat: invalid config: %w", errors.Join(errs...))
	}
	return nil
}
