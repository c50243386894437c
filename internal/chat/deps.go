package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/moshi-chat/moshi/internal/activity"
	"github.com/moshi-chat/moshi/internal/observe"
	"github.com/moshi-chat/moshi/pkg/audio"
	"github.com/moshi-chat/moshi/pkg/provider/llm"
	"github.com/moshi-chat/moshi/pkg/provider/stt"
	"github.com/moshi-chat/moshi/pkg/provider/tts"
	"github.com/moshi-chat/moshi/pkg/provider/translate"
	"github.com/moshi-chat/moshi/pkg/types"
)

// Listener yields one detected utterance per call. Satisfied by
// *detect.Detector.
type Listener interface {
	// Start begins draining the track between utterances.
	Start() error

	// Listen blocks until a complete utterance is detected.
	Listen(ctx context.Context) (audio.Frame, error)

	// Stop halts the drain goroutine and releases the track.
	Stop()
}

// Speaker plays utterances to the user at the session format. Satisfied by
// *respond.Player.
type Speaker interface {
	// SendUtterance enqueues the frame and blocks until it has been played.
	SendUtterance(ctx context.Context, frame audio.Frame) error

	// Close ends playback permanently.
	Close()
}

// Store persists finished-session transcripts.
type Store interface {
	Save(ctx context.Context, t types.Transcript) error
}

// Corrector repairs likely mishearings in transcribed text against a
// vocabulary of expected terms. Satisfied by *transcript.Corrector.
type Corrector interface {
	Correct(text string, vocabulary []string) string
}

// DataChannel is the ordered text channel to the client. Satisfied by
// *webrtc.DataChannel.
type DataChannel interface {
	Send(msg string) error
	Label() string
}

// Deps are the collaborators a Chatter orchestrates. Detector, Player, the
// four providers and Activity are required; the rest are optional.
type Deps struct {
	Detector  Listener
	Player    Speaker
	STT       stt.Provider
	LLM       llm.Provider
	TTS       tts.Provider
	Translate translate.Provider

	// Store receives the transcript when the session ends. Optional; nil
	// disables persistence.
	Store Store

	// Corrector repairs user transcriptions against the assistant's recent
	// vocabulary. Optional; nil disables correction.
	Corrector Corrector

	// Metrics receives per-turn counters and histograms. Optional; nil uses
	// the process-wide default.
	Metrics *observe.Metrics

	// Activity supplies the system prompt and per-mode policy.
	Activity activity.Activity
}

func (d Deps) validate() error {
	var errs []error
	if d.Detector == nil {
		errs = append(errs, errors.New("detector must be set"))
	}
	if d.Player == nil {
		errs = append(errs, errors.New("player must be set"))
	}
	if d.STT == nil {
		errs = append(errs, errors.New("stt provider must be set"))
	}
	if d.LLM == nil {
		errs = append(errs, errors.New("llm provider must be set"))
	}
	if d.TTS == nil {
		errs = append(errs, errors.New("tts provider must be set"))
	}
	if d.Translate == nil {
		errs = append(errs, errors.New("translate provider must be set"))
	}
	if d.Activity == nil {
		errs = append(errs, errors.New("activity must be set"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("chat: invalid deps: %w", errors.Join(errs...))
	}
	return nil
}
