package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/moshi-chat/moshi/internal/detect"
	"github.com/moshi-chat/moshi/internal/respond"
	"github.com/moshi-chat/moshi/pkg/audio"
)

const (
	// inboundBuffer absorbs jitter between the RTP reader and the detector.
	inboundBuffer = 64

	// rtpReadBuffer is sized to the usual MTU; Opus packets are far smaller.
	rtpReadBuffer = 1500

	// maxReadErrors caps consecutive non-fatal RTP read errors before the
	// pump gives up on the track.
	maxReadErrors = 50
)

// errTrackAttached is returned when a second remote track is offered to a
// mic that already has its reader running.
var errTrackAttached = errors.New("server: inbound track already attached")

// micTrack bridges the remote WebRTC audio track to the detector. It is
// created with the session, before any media exists, so the detector has its
// track from the first moment of the call; pion only surfaces the remote
// track once RTP arrives, at which point attach starts the reader. Recv
// blocks until then and reports io.EOF once the remote side stops sending
// for good.
type micTrack struct {
	frames chan audio.Frame
	stop   chan struct{}
	done   chan struct{}
	format audio.Format
	ended  atomic.Bool

	mu       sync.Mutex
	attached bool
}

var _ detect.Track = (*micTrack)(nil)

func newMicTrack(stop chan struct{}, format audio.Format) *micTrack {
	return &micTrack{
		frames: make(chan audio.Frame, inboundBuffer),
		stop:   stop,
		done:   make(chan struct{}),
		format: format,
	}
}

// attach starts the inbound pump for remote. Only the first track of a
// session is accepted. The pump exits when the track ends (peer closed,
// user revoked their media) or when the session's stop channel closes.
func (t *micTrack) attach(remote *webrtc.TrackRemote) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.attached {
		return errTrackAttached
	}
	dec, err := newOpusDecoder(t.format)
	if err != nil {
		return err
	}
	t.attached = true
	go t.readLoop(remote, dec)
	return nil
}

// Done is closed once the pump has exited and no more frames will arrive.
// It never closes if no track was attached.
func (t *micTrack) Done() <-chan struct{} { return t.done }

// Recv blocks until the next decoded frame, the context is done, or the
// track has ended.
func (t *micTrack) Recv(ctx context.Context) (audio.Frame, error) {
	select {
	case f, ok := <-t.frames:
		if !ok {
			return audio.Frame{}, io.EOF
		}
		return f, nil
	case <-ctx.Done():
		return audio.Frame{}, ctx.Err()
	}
}

// Kind reports the media kind.
func (t *micTrack) Kind() string { return detect.KindAudio }

// ReadyState reports "live" while the pump runs and "ended" after.
func (t *micTrack) ReadyState() string {
	if t.ended.Load() {
		return detect.StateEnded
	}
	return detect.StateLive
}

// readLoop reads RTP packets from the remote track, decodes the Opus
// payloads and delivers PCM frames with a running per-channel sample count
// as PTS. RTP timestamp gaps are not reproduced; the detector's drain keeps
// real time between utterances.
func (t *micTrack) readLoop(remote *webrtc.TrackRemote, dec *opusDecoder) {
	defer func() {
		t.ended.Store(true)
		close(t.frames)
		close(t.done)
	}()

	buf := make([]byte, rtpReadBuffer)
	readErrors := 0
	var pts int64

	for {
		select {
		case <-t.stop:
			return
		default:
		}

		n, _, err := remote.Read(buf)
		if err != nil {
			if errors.Is(err, io.EOF) {
				slog.Debug("server: inbound track ended")
				return
			}
			readErrors++
			if readErrors >= maxReadErrors {
				slog.Error("server: giving up on inbound track", "err", err, "consecutive_errors", readErrors)
				return
			}
			continue
		}
		readErrors = 0

		var pkt rtp.Packet
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			slog.Debug("server: bad rtp packet", "err", err)
			continue
		}
		if len(pkt.Payload) == 0 {
			continue
		}

		pcm, err := dec.decode(pkt.Payload)
		if err != nil {
			slog.Debug("server: opus decode failed", "err", err, "payload_bytes", len(pkt.Payload))
			continue
		}

		frame := audio.Frame{
			Data:       pcm,
			SampleRate: t.format.SampleRate,
			Channels:   t.format.Channels,
			PTS:        pts,
		}
		pts += int64(frame.Samples())

		select {
		case t.frames <- frame:
		case <-t.stop:
			return
		}
	}
}

// playbackPump pulls paced frames from the player, encodes complete 20 ms
// Opus frames and writes them to the outbound track. Pacing comes from the
// player's real-time throttle; WriteSample only stamps the duration.
//
// The pump exits when the player closes (session teardown) or the context
// is cancelled. PCM that does not fill a whole Opus frame stays buffered
// until the next pull.
func playbackPump(ctx context.Context, player *respond.Player, out *webrtc.TrackLocalStaticSample, format audio.Format) {
	enc, err := newOpusEncoder(format)
	if err != nil {
		slog.Error("server: outbound pump disabled", "err", err)
		return
	}

	var buf []byte
	for {
		frame, err := player.Recv(ctx)
		if err != nil {
			if !errors.Is(err, respond.ErrDisconnected) && !errors.Is(err, context.Canceled) {
				slog.Warn("server: player receive failed", "err", err)
			}
			return
		}

		buf = append(buf, frame.Data...)
		for len(buf) >= enc.frameBytes {
			pkt, err := enc.encode(buf[:enc.frameBytes])
			buf = buf[enc.frameBytes:]
			if err != nil {
				slog.Warn("server: opus encode failed", "err", err)
				continue
			}
			if err := out.WriteSample(media.Sample{
				Data:     pkt,
				Duration: opusFrameDuration * time.Millisecond,
			}); err != nil {
				slog.Debug("server: write sample failed", "err", err)
				return
			}
		}
	}
}
