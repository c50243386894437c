package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"

	"github.com/moshi-chat/moshi/internal/chat"
	"github.com/moshi-chat/moshi/internal/detect"
	"github.com/moshi-chat/moshi/internal/respond"
	"github.com/moshi-chat/moshi/pkg/audio"
)

// errRejectedOffer marks SDP offers the peer connection would not accept, so
// the handler can answer 400 instead of 500.
var errRejectedOffer = errors.New("server: remote offer rejected")

// pingChannelLabel is the client-side latency probe channel. It is served by
// the session itself and never reaches the chat loop.
const pingChannelLabel = "pingpong"

// Conversation bundles the per-call pipeline the session transports for: the
// chat loop plus the two endpoints the media pumps plug into.
type Conversation struct {
	Chatter  *chat.Chatter
	Detector *detect.Detector
	Player   *respond.Player
}

// Session owns one WebRTC call: the peer connection, the inbound and
// outbound media pumps and the conversation running over them. Sessions are
// created by the call handler and close themselves when the peer connection
// fails or closes; Close is safe to call from anywhere, more than once.
type Session struct {
	id        string
	conv      Conversation
	pc        *webrtc.PeerConnection
	mic       *micTrack
	out       *webrtc.TrackLocalStaticSample
	startedAt time.Time

	// stop ends both pumps; pumpCancel unblocks the player poll.
	stop       chan struct{}
	pumpCancel context.CancelFunc

	closeOnce sync.Once

	// onClose is invoked exactly once after teardown, with the session's
	// lifetime. The server uses it to unregister the session.
	onClose func(d time.Duration)
}

// newSession builds the peer connection with an Opus-only media engine,
// installs the outbound track and event handlers, and starts the playback
// pump. The caller completes the handshake with Answer.
func newSession(id string, conv Conversation, cfg Config, onClose func(time.Duration)) (*Session, error) {
	format := cfg.Format
	if format.SampleRate == 0 || format.Channels == 0 {
		format = audio.Format{SampleRate: opusSampleRate, Channels: opusChannels}
	}

	pc, err := newPeerConnection(cfg.STUNServers)
	if err != nil {
		return nil, err
	}

	s := &Session{
		id:        id,
		conv:      conv,
		pc:        pc,
		startedAt: time.Now(),
		stop:      make(chan struct{}),
		onClose:   onClose,
	}

	// The detector gets its track now, before any media exists. pion only
	// surfaces the remote track once RTP arrives, which is after the chat
	// loop has already started; the mic bridges that gap.
	s.mic = newMicTrack(s.stop, format)
	if err := conv.Detector.SetTrack(s.mic); err != nil {
		pc.Close()
		return nil, fmt.Errorf("server: set detector track: %w", err)
	}

	// The outbound track must be in the SDP answer. pion only fires OnTrack
	// once media arrives, so unlike an offer-side transceiver the track has
	// to be added before CreateAnswer.
	out, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: opusSampleRate,
		Channels:  opusChannels,
	}, "audio", "moshi")
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("server: create outbound track: %w", err)
	}
	sender, err := pc.AddTrack(out)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("server: add outbound track: %w", err)
	}
	s.out = out

	// Drain sender RTCP so interceptors keep running.
	go func() {
		buf := make([]byte, rtpReadBuffer)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()

	pumpCtx, cancel := context.WithCancel(context.Background())
	s.pumpCancel = cancel
	go playbackPump(pumpCtx, conv.Player, out, format)

	pc.OnTrack(s.handleTrack)
	pc.OnDataChannel(s.handleDataChannel)
	pc.OnConnectionStateChange(s.handleConnectionState)

	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Answer completes the SDP exchange: it applies the remote offer, creates
// the answer and waits for ICE gathering to finish so the returned
// description carries every candidate. Trickle ICE is not used; the client
// gets one complete answer.
func (s *Session) Answer(ctx context.Context, offerSDP string) (*webrtc.SessionDescription, error) {
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offerSDP}
	if err := s.pc.SetRemoteDescription(offer); err != nil {
		return nil, fmt.Errorf("%w: %v", errRejectedOffer, err)
	}

	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return nil, fmt.Errorf("server: create answer: %w", err)
	}

	gathered := webrtc.GatheringCompletePromise(s.pc)
	if err := s.pc.SetLocalDescription(answer); err != nil {
		return nil, fmt.Errorf("server: set local description: %w", err)
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return s.pc.LocalDescription(), nil
}

// Close tears the call down: the chat loop stops and persists its
// transcript, both pumps exit, and the peer connection closes. The first
// call wins; later calls return immediately.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		// Stop the conversation while the data channel is still up so the
		// client sees the final status line.
		s.conv.Chatter.Stop()

		close(s.stop)
		s.pumpCancel()
		if err := s.pc.Close(); err != nil {
			slog.Warn("server: peer connection close", "session_id", s.id, "err", err)
		}

		if s.onClose != nil {
			s.onClose(time.Since(s.startedAt))
		}
		slog.Info("server: session closed", "session_id", s.id, "duration", time.Since(s.startedAt).Round(time.Millisecond))
	})
}

// handleTrack hooks the remote microphone up to the detector. Only audio
// tracks are accepted; anything else is logged and ignored.
func (s *Session) handleTrack(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	if remote.Kind() != webrtc.RTPCodecTypeAudio {
		slog.Warn("server: unsupported track kind", "session_id", s.id, "kind", remote.Kind().String())
		return
	}
	slog.Info("server: inbound track received", "session_id", s.id, "codec", remote.Codec().MimeType)

	if err := s.mic.attach(remote); err != nil {
		slog.Warn("server: inbound track not attached", "session_id", s.id, "err", err)
		return
	}

	// The user revoking their microphone ends the conversation, matching a
	// hang-up. The peer connection itself stays owned by the state handler.
	go func() {
		select {
		case <-s.mic.Done():
			slog.Info("server: inbound track ended", "session_id", s.id)
			s.conv.Chatter.Stop()
		case <-s.stop:
		}
	}()
}

// handleDataChannel serves the latency probe channel itself and attaches
// every other channel to the chat loop.
func (s *Session) handleDataChannel(dc *webrtc.DataChannel) {
	slog.Info("server: data channel received", "session_id", s.id, "label", dc.Label())

	if dc.Label() == pingChannelLabel {
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			if !msg.IsString {
				return
			}
			if reply, ok := pingReply(string(msg.Data)); ok {
				if err := dc.SendText(reply); err != nil {
					slog.Debug("server: pong send failed", "session_id", s.id, "err", err)
				}
			}
		})
		return
	}

	if err := s.conv.Chatter.AttachDataChannel(&dataChannel{dc: dc}); err != nil {
		slog.Warn("server: data channel not attached", "session_id", s.id, "label", dc.Label(), "err", err)
	}
}

// handleConnectionState drives the conversation lifecycle off the ICE/DTLS
// state machine. The chat loop starts as soon as the transport is
// negotiating so it is listening by the time media flows.
func (s *Session) handleConnectionState(state webrtc.PeerConnectionState) {
	slog.Info("server: connection state changed", "session_id", s.id, "state", state.String())

	switch state {
	case webrtc.PeerConnectionStateConnecting:
		go func() {
			if err := s.conv.Chatter.Start(context.Background()); err != nil {
				slog.Error("server: session start failed", "session_id", s.id, "err", err)
				s.Close()
			}
		}()
	case webrtc.PeerConnectionStateConnected:
		s.conv.Detector.Connected()
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
		go s.Close()
	case webrtc.PeerConnectionStateDisconnected:
		// Transient; ICE may still recover. Failed follows if it does not.
	}
}

// pingReply answers a latency probe: "ping <x>" echoes back "pong <x>".
// Anything else gets no reply.
func pingReply(msg string) (string, bool) {
	rest, ok := strings.CutPrefix(msg, "ping")
	if !ok {
		return "", false
	}
	return "pong" + rest, true
}

// dataChannel adapts a pion data channel to the chat loop's line-oriented
// sender.
type dataChannel struct {
	dc *webrtc.DataChannel
}

func (d *dataChannel) Send(msg string) error { return d.dc.SendText(msg) }
func (d *dataChannel) Label() string         { return d.dc.Label() }

// newPeerConnection builds a peer connection that speaks nothing but Opus at
// the session clock rate, with pion's default interceptor chain.
func newPeerConnection(stunServers []string) (*webrtc.PeerConnection, error) {
	engine := &webrtc.MediaEngine{}
	if err := engine.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeOpus,
			ClockRate:   opusSampleRate,
			Channels:    opusChannels,
			SDPFmtpLine: "minptime=10;useinbandfec=1",
		},
		PayloadType: 111,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("server: register opus codec: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(engine, registry); err != nil {
		return nil, fmt.Errorf("server: register interceptors: %w", err)
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(engine),
		webrtc.WithInterceptorRegistry(registry),
	)

	servers := make([]webrtc.ICEServer, 0, len(stunServers))
	for _, url := range stunServers {
		servers = append(servers, webrtc.ICEServer{URLs: []string{url}})
	}
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: servers})
	if err != nil {
		return nil, fmt.Errorf("server: create peer connection: %w", err)
	}
	return pc, nil
}
