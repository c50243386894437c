// Package respond plays synthesised speech back to the remote peer.
//
// The Player is the session's outbound audio source: the transport polls
// Recv for fixed-size frames, and the orchestrator hands it whole utterances
// through SendUtterance, which returns once playback has drained. When no
// audio is queued the player emits silence, so the outbound track never
// starves.
package respond

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/moshi-chat/moshi/pkg/audio"
)

var (
	ErrDisconnected = errors.New("respond: player closed")
	ErrTimeout      = errors.New("respond: timed out waiting for playback")
	ErrFormat       = errors.New("respond: utterance format mismatch")
)

// Player paces one utterance at a time out to the peer in real time.
//
// Recv and SendUtterance form a single-producer/single-consumer pair around
// an internal FIFO. A flushed event tells the producer when the consumer has
// played everything: cleared on every write, set whenever Recv finds the
// FIFO too empty for a full frame.
type Player struct {
	cfg  Config
	fifo *audio.FIFO

	// sendMu serialises SendUtterance so at most one utterance is in flight.
	sendMu sync.Mutex

	mu      sync.Mutex
	flushed chan struct{}
	started bool
	start   time.Time
	pts     int64
	closed  bool
	closeCh chan struct{}

	throttleOnce sync.Once
}

// New returns a player emitting frames in the configured session format.
// Zero-valued optional knobs take their defaults.
func New(cfg Config) (*Player, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("respond: invalid config: %w", err)
	}
	return &Player{
		cfg:     cfg,
		fifo:    audio.NewFIFO(cfg.Format),
		flushed: make(chan struct{}),
		closeCh: make(chan struct{}),
	}, nil
}

// Recv returns the next outbound frame: queued audio when a full frame is
// buffered, otherwise silence. Every frame has exactly FrameSize samples and
// a pts that runs up by FrameSize per call. A FIFO remainder smaller than
// one frame is discarded and the flushed event is set.
//
// Recv sleeps as needed so the stream advances at real time, at most
// playbackLead ahead. After Close it returns ErrDisconnected.
func (p *Player) Recv(ctx context.Context) (audio.Frame, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return audio.Frame{}, ErrDisconnected
	}

	frame, ok := p.fifo.Read(p.cfg.FrameSize)
	if !ok {
		if dropped := p.fifo.Drain(); dropped.Samples() > 0 {
			slog.Debug("respond: discarded partial tail", "samples", dropped.Samples())
		}
		frame = audio.Silence(p.cfg.FrameSize, p.cfg.Format)
		p.setFlushedLocked()
	}
	frame.PTS = p.pts
	p.pts += int64(frame.Samples())

	if !p.started {
		p.start = time.Now()
		p.started = true
	}
	target := p.start.Add(frame.StartTime())
	p.mu.Unlock()

	if delay := time.Until(target.Add(-playbackLead)); delay > 0 {
		p.throttleOnce.Do(func() {
			slog.Debug("respond: throttling playback", "delay", delay.Round(time.Millisecond))
		})
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return audio.Frame{}, ctx.Err()
		case <-p.closeCh:
			return audio.Frame{}, ErrDisconnected
		}
	}
	return frame, nil
}

// SendUtterance queues a whole utterance and blocks until the peer has
// played it, i.e. until Recv reports the FIFO flushed. The frame must
// already be in the session format. The wait is bounded by the utterance
// duration plus DrainGrace, after which ErrTimeout is returned and the
// remaining audio keeps playing.
func (p *Player) SendUtterance(ctx context.Context, frame audio.Frame) error {
	if frame.Format() != p.cfg.Format {
		return fmt.Errorf("%w: got %s, want %s", ErrFormat, frame.Format(), p.cfg.Format)
	}

	p.sendMu.Lock()
	defer p.sendMu.Unlock()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrDisconnected
	}
	if err := p.fifo.Write(frame); err != nil {
		p.mu.Unlock()
		return err
	}
	p.flushed = make(chan struct{})
	flushed := p.flushed
	p.mu.Unlock()

	duration := frame.Duration()
	slog.Info("respond: sending utterance", "duration", duration.Round(time.Millisecond))

	timer := time.NewTimer(duration + p.cfg.DrainGrace)
	defer timer.Stop()
	select {
	case <-flushed:
		slog.Info("respond: utterance sent")
		return nil
	case <-p.closeCh:
		return ErrDisconnected
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		slog.Warn("respond: playback wait expired",
			"duration", duration.Round(time.Millisecond),
			"grace", p.cfg.DrainGrace,
		)
		return ErrTimeout
	}
}

// Close stops the player. It is idempotent; pending and future Recv and
// SendUtterance calls return ErrDisconnected.
func (p *Player) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.closeCh)
}

// setFlushedLocked marks the FIFO drained. Caller holds p.mu.
func (p *Player) setFlushedLocked() {
	select {
	case <-p.flushed:
	default:
		close(p.flushed)
	}
}
