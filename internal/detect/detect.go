// Package detect turns a raw audio track into discrete user utterances.
//
// The detector measures the room's background energy once per session, waits
// for sustained speech, then records until the speaker trails off. Between
// detection calls a drainer discards inbound frames so the next call starts
// from live audio instead of a stale buffer.
package detect

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/moshi-chat/moshi/pkg/audio"
)

// Listening errors. ErrStartTimeout and ErrUtteranceTooLong are recoverable:
// the caller may re-prompt the user and listen again. ErrDisconnected and
// ErrTimeout mean the track is gone or stalled and the session should end.
var (
	ErrNoTrack          = errors.New("detect: no track assigned")
	ErrTrackKind        = errors.New("detect: track is not audio")
	ErrTrackEnded       = errors.New("detect: track already ended")
	ErrDisconnected     = errors.New("detect: track disconnected")
	ErrStartTimeout     = errors.New("detect: user did not start speaking")
	ErrUtteranceTooLong = errors.New("detect: utterance exceeded maximum length")
	ErrTimeout          = errors.New("detect: timed out waiting for audio")
)

// Detector extracts utterances from a single inbound audio track.
//
// Listen and the background drainer never read the track at the same time:
// an utterance mutex hands the stream back and forth so each detection call
// sees contiguous frames.
type Detector struct {
	cfg Config

	mu      sync.Mutex
	track   Track
	started bool
	cancel  context.CancelFunc
	done    chan struct{}

	// utteranceMu serialises frame reads between Listen and the drainer.
	// background and measured are only touched while it is held.
	utteranceMu sync.Mutex
	background  float64
	measured    bool

	connectOnce sync.Once
	connected   chan struct{}
}

// New returns a detector with no track assigned.
func New(cfg Config) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("detect: invalid config: %w", err)
	}
	return &Detector{
		cfg:       cfg,
		connected: make(chan struct{}),
	}, nil
}

// SetTrack assigns the audio source. The detector follows one track for its
// whole life: assigning a second track is logged and ignored. Non-audio and
// already-ended tracks are rejected.
func (d *Detector) SetTrack(t Track) error {
	if t == nil {
		return ErrNoTrack
	}
	if kind := t.Kind(); kind != KindAudio {
		return fmt.Errorf("%w: got %q", ErrTrackKind, kind)
	}
	if t.ReadyState() == StateEnded {
		return ErrTrackEnded
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.track != nil {
		slog.Warn("detect: track already assigned, ignoring new track")
		return nil
	}
	d.track = t
	slog.Debug("detect: track assigned")
	return nil
}

// Connected tells the detector the peer connection is up, releasing the
// drainer. Safe to call more than once.
func (d *Detector) Connected() {
	d.connectOnce.Do(func() {
		close(d.connected)
	})
}

// Start launches the background drainer. It requires a track and is
// idempotent while running.
func (d *Detector) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return nil
	}
	if d.track == nil {
		return ErrNoTrack
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.done = make(chan struct{})
	d.started = true
	go d.drain(ctx)
	return nil
}

// Stop halts the drainer, waits for it to exit and releases the track.
func (d *Detector) Stop() {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return
	}
	cancel, done := d.cancel, d.done
	d.mu.Unlock()

	cancel()
	<-done

	d.mu.Lock()
	d.started = false
	d.track = nil
	d.cancel = nil
	d.done = nil
	d.mu.Unlock()
}

// Listen blocks until it has captured one full utterance.
//
// The first call consumes AmbientNoiseMeasurement worth of frames to fix the
// session's background energy, clamped to BackgroundEnergyFloor. Listening
// then waits up to UtteranceStartTimeout for UtteranceStartSpeaking of
// sustained above-background audio (returning ErrStartTimeout if the user
// stays quiet) and records until UtteranceEndSilence of contiguous silence.
// Spikes shorter than SilenceIgnoreSpike do not interrupt the end-of-speech
// countdown. A recording that outgrows UtteranceTimeout is dropped with
// ErrUtteranceTooLong.
//
// Time is accounted in frame durations. The only wall-clock bound is on each
// individual frame read: a track that delivers nothing for UtteranceTimeout
// is considered stalled and Listen returns ErrTimeout.
func (d *Detector) Listen(ctx context.Context) (audio.Frame, error) {
	track := d.currentTrack()
	if track == nil {
		return audio.Frame{}, ErrNoTrack
	}

	d.utteranceMu.Lock()
	defer d.utteranceMu.Unlock()

	if !d.measured {
		background, err := d.measureBackground(ctx, track)
		if err != nil {
			return audio.Frame{}, err
		}
		d.background = background
		d.measured = true
	}

	onset, err := d.waitForSpeech(ctx, track)
	if err != nil {
		return audio.Frame{}, err
	}

	utterance, err := d.record(ctx, track, onset)
	if err != nil {
		return audio.Frame{}, err
	}
	slog.Info("detect: utterance detected",
		"duration", utterance.Duration().Round(time.Millisecond),
		"background_energy", d.background,
	)
	return utterance, nil
}

func (d *Detector) currentTrack() Track {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.track
}

// measureBackground accumulates ambient frames and returns their aggregate
// energy, clamped to the configured floor.
func (d *Detector) measureBackground(ctx context.Context, track Track) (float64, error) {
	slog.Debug("detect: measuring background noise", "window", d.cfg.AmbientNoiseMeasurement)

	var (
		frames  []audio.Frame
		elapsed time.Duration
	)
	for elapsed < d.cfg.AmbientNoiseMeasurement {
		frame, err := d.nextFrame(ctx, track)
		if err != nil {
			return 0, err
		}
		frames = append(frames, frame)
		elapsed += frame.Duration()
	}

	ambient, err := audio.Concat(frames)
	if err != nil {
		return 0, fmt.Errorf("detect: joining ambient frames: %w", err)
	}
	energy := ambient.Energy()
	if energy < d.cfg.BackgroundEnergyFloor {
		energy = d.cfg.BackgroundEnergyFloor
	}
	slog.Debug("detect: background noise measured", "energy", energy)
	return energy, nil
}

// waitForSpeech blocks until the track carries UtteranceStartSpeaking of
// sustained above-background audio and returns the accumulated onset frames
// joined into one, so the first word is not clipped. Silence resets the
// accumulation.
func (d *Detector) waitForSpeech(ctx context.Context, track Track) (audio.Frame, error) {
	slog.Debug("detect: waiting for speech", "timeout", d.cfg.UtteranceStartTimeout)

	sctx, cancel := context.WithTimeout(ctx, d.cfg.UtteranceStartTimeout)
	defer cancel()

	var (
		prefix    []audio.Frame
		sustained time.Duration
	)
	for {
		frame, err := d.nextFrame(sctx, track)
		if err != nil {
			if sctx.Err() != nil && ctx.Err() == nil {
				return audio.Frame{}, ErrStartTimeout
			}
			return audio.Frame{}, err
		}

		if frame.Energy() > d.background {
			prefix = append(prefix, frame)
			sustained += frame.Duration()
		} else {
			prefix = prefix[:0]
			sustained = 0
		}
		if sustained >= d.cfg.UtteranceStartSpeaking {
			onset, err := audio.Concat(prefix)
			if err != nil {
				return audio.Frame{}, fmt.Errorf("detect: joining onset frames: %w", err)
			}
			slog.Debug("detect: speech started", "onset", sustained)
			return onset, nil
		}
	}
}

// record appends frames after the onset until UtteranceEndSilence of
// contiguous silence, tolerating above-background spikes shorter than
// SilenceIgnoreSpike. The trailing silence stays in the returned frame.
func (d *Detector) record(ctx context.Context, track Track, onset audio.Frame) (audio.Frame, error) {
	frames := []audio.Frame{onset}
	var (
		total   = onset.Duration()
		silence time.Duration
		broken  time.Duration
	)
	for {
		if silence >= d.cfg.UtteranceEndSilence {
			utterance, err := audio.Concat(frames)
			if err != nil {
				return audio.Frame{}, fmt.Errorf("detect: joining utterance frames: %w", err)
			}
			return utterance, nil
		}
		if total > d.cfg.UtteranceTimeout {
			slog.Warn("detect: utterance exceeded maximum length", "recorded", total)
			return audio.Frame{}, ErrUtteranceTooLong
		}

		frame, err := d.nextFrame(ctx, track)
		if err != nil {
			return audio.Frame{}, err
		}
		frames = append(frames, frame)
		total += frame.Duration()

		if frame.Energy() < d.background {
			silence += frame.Duration()
			broken = 0
		} else {
			broken += frame.Duration()
			if broken > d.cfg.SilenceIgnoreSpike {
				silence = 0
			}
		}
	}
}

// nextFrame reads one frame with a per-read deadline of UtteranceTimeout.
// A track that delivers nothing within the deadline is reported as stalled
// via ErrTimeout; the caller's own context errors pass through unchanged.
func (d *Detector) nextFrame(ctx context.Context, track Track) (audio.Frame, error) {
	rctx, cancel := context.WithTimeout(ctx, d.cfg.UtteranceTimeout)
	defer cancel()

	frame, err := track.Recv(rctx)
	switch {
	case err == nil:
		return frame, nil
	case errors.Is(err, io.EOF):
		return audio.Frame{}, ErrDisconnected
	case ctx.Err() != nil:
		return audio.Frame{}, ctx.Err()
	case rctx.Err() != nil:
		return audio.Frame{}, ErrTimeout
	default:
		return audio.Frame{}, fmt.Errorf("detect: receiving frame: %w", err)
	}
}

// drain discards inbound frames while no Listen call is in flight, keeping
// the track current between detections. It waits for the peer connection
// before reading and exits when the track ends or the detector stops.
func (d *Detector) drain(ctx context.Context) {
	defer close(d.done)

	select {
	case <-ctx.Done():
		return
	case <-d.connected:
	}
	slog.Debug("detect: draining track between detections")

	for ctx.Err() == nil {
		track := d.currentTrack()
		if track == nil {
			return
		}
		err := d.discardFrame(ctx, track)
		switch {
		case err == nil:
		case errors.Is(err, ErrDisconnected):
			slog.Debug("detect: track ended, drain finished")
			return
		case ctx.Err() != nil:
			return
		case errors.Is(err, ErrTimeout):
			slog.Debug("detect: no frame while draining", "timeout", d.cfg.UtteranceTimeout)
		default:
			slog.Warn("detect: drain read failed", "err", err)
			return
		}
	}
}

// discardFrame reads and drops a single frame under the utterance mutex so
// drain cannot starve a concurrent Listen of more than one frame.
func (d *Detector) discardFrame(ctx context.Context, track Track) error {
	d.utteranceMu.Lock()
	defer d.utteranceMu.Unlock()
	_, err := d.nextFrame(ctx, track)
	return err
}
