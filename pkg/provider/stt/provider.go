// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a transcription service (e.g., OpenAI Whisper,
// Deepgram, or an in-process whisper.cpp model) behind a single one-shot
// call: the utterance detector hands over one complete utterance frame and
// the provider returns its text. Utterances are bounded (the detector caps
// them at around twenty seconds), so there is no streaming surface here.
//
// Implementations must be safe for concurrent use and must respect the
// deadline on the supplied context — the conversation loop budgets roughly
// ten seconds per transcription.
package stt

import (
	"context"

	"github.com/moshi-chat/moshi/pkg/audio"
)

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe converts one complete utterance to text. language is a
	// BCP-47 hint ("fr", "en-US"); empty lets the provider auto-detect where
	// supported. An empty string result with a nil error is a valid outcome:
	// the provider heard nothing intelligible.
	Transcribe(ctx context.Context, utterance audio.Frame, language string) (string, error)
}
