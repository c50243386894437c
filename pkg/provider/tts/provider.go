// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., Google Cloud TTS or
// ElevenLabs) and presents a uniform one-shot interface: a full assistant
// reply goes in, one PCM frame comes out. Replies are short (the completion
// layer caps them at a few sentences), so the latency win of chunked
// synthesis does not justify the bookkeeping here; the response player
// handles pacing on its own.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"

	"github.com/moshi-chat/moshi/pkg/audio"
	"github.com/moshi-chat/moshi/pkg/types"
)

// Provider is the abstraction over any TTS backend.
//
// Implementations must be safe for concurrent use. Multiple synthesis
// requests may run in parallel (one per live call session).
type Provider interface {
	// Synthesize renders text as speech using the given voice and returns the
	// audio as a single PCM frame in the provider's native output format
	// (sample rate and channel count are set on the returned frame; callers
	// convert to the session format themselves).
	//
	// An empty text or an unknown voice name returns an error.
	Synthesize(ctx context.Context, text string, voice types.Voice) (audio.Frame, error)

	// Voices returns the voice catalogue for the given BCP 47 language tag.
	// An empty language returns every voice the provider offers. The list
	// reflects the provider's current catalogue and may change between calls.
	Voices(ctx context.Context, language string) ([]types.Voice, error)
}
