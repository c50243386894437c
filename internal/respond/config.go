package respond

import (
	"errors"
	"fmt"
	"time"

	"github.com/moshi-chat/moshi/pkg/audio"
)

// Transport frame sizing. 960 samples is 20ms at the 48kHz session rate,
// matching the WebRTC packetisation interval.
const (
	DefaultFrameSize = 960
	MinFrameSize     = 128
	MaxFrameSize     = 4096

	// DefaultDrainGrace pads the playback wait in SendUtterance beyond the
	// utterance's own duration.
	DefaultDrainGrace = 5 * time.Second

	// playbackLead is how far ahead of real time Recv may run, keeping the
	// peer's jitter buffer fed without overfilling it.
	playbackLead = 100 * time.Millisecond
)

// Config fixes the player's output shape for the whole session.
type Config struct {
	// Format every emitted frame carries. Utterances handed to SendUtterance
	// must already be in this format.
	Format audio.Format

	// FrameSize is the number of samples per channel in each emitted frame.
	// Zero means DefaultFrameSize.
	FrameSize int

	// DrainGrace pads the SendUtterance playback wait. Zero means
	// DefaultDrainGrace.
	DrainGrace time.Duration
}

// Validate reports whether a fully populated configuration is usable.
func (c Config) Validate() error {
	var errs []error
	if c.Format.SampleRate <= 0 {
		errs = append(errs, errors.New("sample rate must be positive"))
	}
	if c.Format.Channels <= 0 {
		errs = append(errs, errors.New("channel count must be positive"))
	}
	if c.FrameSize < MinFrameSize || c.FrameSize > MaxFrameSize {
		errs = append(errs, fmt.Errorf("frame size must be within [%d, %d]", MinFrameSize, MaxFrameSize))
	}
	if c.DrainGrace <= 0 {
		errs = append(errs, errors.New("drain grace must be positive"))
	}
	return errors.Join(errs...)
}

// withDefaults fills the zero-value knobs.
func (c Config) withDefaults() Config {
	if c.FrameSize == 0 {
		c.FrameSize = DefaultFrameSize
	}
	if c.DrainGrace == 0 {
		c.DrainGrace = DefaultDrainGrace
	}
	return c
}
