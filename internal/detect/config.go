package detect

import (
	"errors"
	"fmt"
	"time"
)

// Default listening parameters. Times are measured against frame durations,
// not wall clock, except where noted on [Detector.Listen].
const (
	// DefaultAmbientNoiseMeasurement is how long the first detection call
	// samples the room before anything counts as speech.
	DefaultAmbientNoiseMeasurement = 2300 * time.Millisecond

	// DefaultSilenceIgnoreSpike is the above-threshold duration that does not
	// reset the end-of-utterance silence counter. Filters single-frame bursts
	// during natural pauses.
	DefaultSilenceIgnoreSpike = 50 * time.Millisecond

	// DefaultUtteranceEndSilence is the contiguous silence after speech that
	// declares the utterance over.
	DefaultUtteranceEndSilence = 1500 * time.Millisecond

	// DefaultUtteranceMinLength is the floor on an acceptable utterance.
	DefaultUtteranceMinLength = 800 * time.Millisecond

	// DefaultUtteranceStartTimeout bounds how long to wait for the user to
	// start speaking.
	DefaultUtteranceStartTimeout = 8 * time.Second

	// DefaultUtteranceStartSpeaking is the contiguous above-threshold time
	// required before non-silence counts as the start of a phrase.
	DefaultUtteranceStartSpeaking = 500 * time.Millisecond

	// DefaultUtteranceTimeout caps the recorded length of a single utterance
	// and bounds each individual frame read.
	DefaultUtteranceTimeout = 20 * time.Second

	// DefaultBackgroundEnergyFloor clamps the measured ambient energy so a
	// perfectly quiet room does not make the detector hair-triggered.
	DefaultBackgroundEnergyFloor = 30.0
)

// Config tunes the energy-based voice activity detection.
type Config struct {
	AmbientNoiseMeasurement time.Duration
	SilenceIgnoreSpike      time.Duration
	UtteranceEndSilence     time.Duration
	UtteranceMinLength      time.Duration
	UtteranceStartTimeout   time.Duration
	UtteranceStartSpeaking  time.Duration
	UtteranceTimeout        time.Duration
	BackgroundEnergyFloor   float64
}

// DefaultConfig returns the listening parameters tuned for conversational
// speech over a browser microphone.
func DefaultConfig() Config {
	return Config{
		AmbientNoiseMeasurement: DefaultAmbientNoiseMeasurement,
		SilenceIgnoreSpike:      DefaultSilenceIgnoreSpike,
		UtteranceEndSilence:     DefaultUtteranceEndSilence,
		UtteranceMinLength:      DefaultUtteranceMinLength,
		UtteranceStartTimeout:   DefaultUtteranceStartTimeout,
		UtteranceStartSpeaking:  DefaultUtteranceStartSpeaking,
		UtteranceTimeout:        DefaultUtteranceTimeout,
		BackgroundEnergyFloor:   DefaultBackgroundEnergyFloor,
	}
}

// Validate reports whether the configuration is internally consistent.
func (c Config) Validate() error {
	var errs []error
	if c.AmbientNoiseMeasurement <= 0 {
		errs = append(errs, errors.New("ambient noise measurement must be positive"))
	}
	if c.SilenceIgnoreSpike < 0 {
		errs = append(errs, errors.New("silence ignore spike must not be negative"))
	}
	if c.UtteranceEndSilence <= 0 {
		errs = append(errs, errors.New("utterance end silence must be positive"))
	}
	if c.UtteranceStartTimeout <= 0 {
		errs = append(errs, errors.New("utterance start timeout must be positive"))
	}
	if c.UtteranceStartSpeaking <= 0 {
		errs = append(errs, errors.New("utterance start speaking must be positive"))
	}
	if c.UtteranceTimeout <= 0 {
		errs = append(errs, errors.New("utterance timeout must be positive"))
	}
	if c.UtteranceMinLength < 0 || c.UtteranceMinLength > c.UtteranceTimeout {
		errs = append(errs, fmt.Errorf("utterance min length must be within [0, %v]", c.UtteranceTimeout))
	}
	if c.BackgroundEnergyFloor < 0 {
		errs = append(errs, errors.New("background energy floor must not be negative"))
	}
	return errors.Join(errs...)
}
