package respond

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/moshi-chat/moshi/pkg/audio"
)

var testFormat = audio.Format{SampleRate: 48000, Channels: 1}

func newTestPlayer(t *testing.T, cfg Config) *Player {
	t.Helper()
	p, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(p.Close)
	return p
}

// tone returns a frame of constant amplitude in the given format.
func tone(amplitude int16, samples int, format audio.Format) audio.Frame {
	data := make([]byte, samples*format.Channels*2)
	for i := 0; i < samples*format.Channels; i++ {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(amplitude))
	}
	return audio.Frame{Data: data, SampleRate: format.SampleRate, Channels: format.Channels}
}

func TestRecv_SilenceWhenIdle(t *testing.T) {
	p := newTestPlayer(t, Config{Format: testFormat, FrameSize: 960})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		frame, err := p.Recv(ctx)
		if err != nil {
			t.Fatalf("Recv %d: %v", i, err)
		}
		if frame.Samples() != 960 {
			t.Fatalf("frame %d samples: want 960, got %d", i, frame.Samples())
		}
		if frame.Format() != testFormat {
			t.Fatalf("frame %d format: want %s, got %s", i, testFormat, frame.Format())
		}
		if frame.Energy() != 0 {
			t.Fatalf("frame %d is not silent, energy %f", i, frame.Energy())
		}
		if want := int64(i * 960); frame.PTS != want {
			t.Fatalf("frame %d pts: want %d, got %d", i, want, frame.PTS)
		}
	}
}

func TestPlaysUtteranceThenSilence(t *testing.T) {
	p := newTestPlayer(t, Config{Format: testFormat, FrameSize: 960})

	utterance := tone(1000, 1920, testFormat) // exactly two frames
	sent := make(chan error, 1)
	go func() {
		sent <- p.SendUtterance(context.Background(), utterance)
	}()
	time.Sleep(50 * time.Millisecond) // let the write land before polling

	ctx := context.Background()
	for i, wantVoice := range []bool{true, true, false} {
		frame, err := p.Recv(ctx)
		if err != nil {
			t.Fatalf("Recv %d: %v", i, err)
		}
		if got := frame.Energy() > 0; got != wantVoice {
			t.Fatalf("frame %d voiced: want %v, got %v", i, wantVoice, got)
		}
		if want := int64(i * 960); frame.PTS != want {
			t.Fatalf("frame %d pts: want %d, got %d", i, want, frame.PTS)
		}
	}

	select {
	case err := <-sent:
		if err != nil {
			t.Fatalf("SendUtterance: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("SendUtterance did not return after the buffer drained")
	}
}

func TestRecv_DiscardsPartialTail(t *testing.T) {
	p := newTestPlayer(t, Config{Format: testFormat, FrameSize: 960})

	utterance := tone(1000, 1440, testFormat) // one and a half frames
	sent := make(chan error, 1)
	go func() {
		sent <- p.SendUtterance(context.Background(), utterance)
	}()
	time.Sleep(50 * time.Millisecond)

	ctx := context.Background()
	frame, err := p.Recv(ctx)
	if err != nil {
		t.Fatalf("first Recv: %v", err)
	}
	if frame.Energy() == 0 {
		t.Fatal("first frame should carry the utterance")
	}

	// The 480-sample remainder is below one frame: dropped, silence emitted.
	frame, err = p.Recv(ctx)
	if err != nil {
		t.Fatalf("second Recv: %v", err)
	}
	if frame.Energy() != 0 {
		t.Fatalf("second frame should be silence, energy %f", frame.Energy())
	}
	if frame.Samples() != 960 {
		t.Fatalf("second frame samples: want 960, got %d", frame.Samples())
	}

	select {
	case err := <-sent:
		if err != nil {
			t.Fatalf("SendUtterance: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("SendUtterance did not return after the flush")
	}
}

func TestSendUtterance_FormatMismatch(t *testing.T) {
	p := newTestPlayer(t, Config{Format: audio.Format{SampleRate: 48000, Channels: 2}})

	err := p.SendUtterance(context.Background(), tone(1000, 960, testFormat))
	if !errors.Is(err, ErrFormat) {
		t.Fatalf("want ErrFormat, got %v", err)
	}
}

func TestSendUtterance_Timeout(t *testing.T) {
	p := newTestPlayer(t, Config{Format: testFormat, DrainGrace: 50 * time.Millisecond})

	// Nothing polls Recv, so the utterance never drains.
	err := p.SendUtterance(context.Background(), tone(1000, 960, testFormat))
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("want ErrTimeout, got %v", err)
	}
}

func TestSendUtterance_CallerCancel(t *testing.T) {
	p := newTestPlayer(t, Config{Format: testFormat})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := p.SendUtterance(ctx, tone(1000, 960, testFormat))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want context.DeadlineExceeded, got %v", err)
	}
}

func TestClose(t *testing.T) {
	t.Run("recv after close", func(t *testing.T) {
		p := newTestPlayer(t, Config{Format: testFormat})
		p.Close()
		if _, err := p.Recv(context.Background()); !errors.Is(err, ErrDisconnected) {
			t.Fatalf("want ErrDisconnected, got %v", err)
		}
	})

	t.Run("send after close", func(t *testing.T) {
		p := newTestPlayer(t, Config{Format: testFormat})
		p.Close()
		err := p.SendUtterance(context.Background(), tone(1000, 960, testFormat))
		if !errors.Is(err, ErrDisconnected) {
			t.Fatalf("want ErrDisconnected, got %v", err)
		}
	})

	t.Run("close unblocks pending send", func(t *testing.T) {
		p := newTestPlayer(t, Config{Format: testFormat})
		sent := make(chan error, 1)
		go func() {
			sent <- p.SendUtterance(context.Background(), tone(1000, 960, testFormat))
		}()
		time.Sleep(20 * time.Millisecond)
		p.Close()

		select {
		case err := <-sent:
			if !errors.Is(err, ErrDisconnected) {
				t.Fatalf("want ErrDisconnected, got %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("SendUtterance still blocked after Close")
		}
	})

	t.Run("idempotent", func(t *testing.T) {
		p := newTestPlayer(t, Config{Format: testFormat})
		p.Close()
		p.Close()
	})
}

func TestRecv_PacesRealTime(t *testing.T) {
	p := newTestPlayer(t, Config{Format: testFormat, FrameSize: 960})

	// Nine 20ms frames reach 160ms of stream time; with the 100ms lead the
	// final reads must have slept for the difference.
	before := time.Now()
	ctx := context.Background()
	for i := 0; i < 9; i++ {
		if _, err := p.Recv(ctx); err != nil {
			t.Fatalf("Recv %d: %v", i, err)
		}
	}
	elapsed := time.Since(before)
	if elapsed < 50*time.Millisecond {
		t.Fatalf("playback ran ahead of real time: 9 frames in %v", elapsed)
	}
	if elapsed > 2*time.Second {
		t.Fatalf("playback far behind real time: 9 frames in %v", elapsed)
	}
}

func TestNew_Validation(t *testing.T) {
	t.Run("frame size defaults", func(t *testing.T) {
		p := newTestPlayer(t, Config{Format: testFormat})
		frame, err := p.Recv(context.Background())
		if err != nil {
			t.Fatalf("Recv: %v", err)
		}
		if frame.Samples() != DefaultFrameSize {
			t.Fatalf("default frame size: want %d, got %d", DefaultFrameSize, frame.Samples())
		}
	})

	t.Run("frame size out of bounds", func(t *testing.T) {
		if _, err := New(Config{Format: testFormat, FrameSize: 64}); err == nil {
			t.Fatal("want error for undersized frames, got nil")
		}
		if _, err := New(Config{Format: testFormat, FrameSize: 8192}); err == nil {
			t.Fatal("want error for oversized frames, got nil")
		}
	})

	t.Run("missing format", func(t *testing.T) {
		if _, err := New(Config{}); err == nil {
			t.Fatal("want error for zero format, got nil")
		}
	})

	t.Run("negative grace", func(t *testing.T) {
		if _, err := New(Config{Format: testFormat, DrainGrace: -time.Second}); err == nil {
			t.Fatal("want error for negative grace, got nil")
		}
	})
}
