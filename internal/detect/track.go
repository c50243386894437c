package detect

import (
	"context"

	"github.com/moshi-chat/moshi/pkg/audio"
)

// Track kind and readiness values, matching the WebRTC media track states.
const (
	KindAudio = "audio"
	KindVideo = "video"

	StateLive  = "live"
	StateEnded = "ended"
)

// Track is a source of decoded audio frames, typically backed by an inbound
// WebRTC media track. Recv returns io.EOF once the remote side stops the
// track; implementations must honour context cancellation while blocked.
type Track interface {
	// Recv blocks until the next frame arrives, the context is done, or the
	// track ends.
	Recv(ctx context.Context) (audio.Frame, error)

	// Kind reports the media kind, e.g. "audio".
	Kind() string

	// ReadyState reports the track state, e.g. "live" or "ended".
	ReadyState() string
}
