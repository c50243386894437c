// Package types defines the shared types used across all moshi packages.
//
// These types form the lingua franca between the detector, the player, the
// orchestrator, the providers and the transcript store. They are intentionally
// minimal — each package defines its own domain types, but cross-cutting data
// structures live here to avoid circular imports.
package types

import "time"

// Role identifies the author of a conversation message.
type Role string

const (
	// RoleSystem marks instruction messages that prime the assistant.
	RoleSystem Role = "system"

	// RoleUser marks messages transcribed from the human speaker.
	RoleUser Role = "user"

	// RoleAssistant marks messages produced by the language model.
	RoleAssistant Role = "assistant"
)

// IsValid reports whether the role is one of the known values.
func (r Role) IsValid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// Message represents a single message in a conversation history.
type Message struct {
	// Role is the message author.
	Role Role `json:"role"`

	// Content is the text content of the message.
	Content string `json:"content"`
}

// Transcript is the persisted record of one finished session. Its shape is a
// stable contract with the history view of the UI.
type Transcript struct {
	// ID uniquely identifies the record (assigned by the store).
	ID string `json:"id,omitempty"`

	// SessionID ties the record to the live session it was captured from.
	SessionID string `json:"session_id"`

	// ActivityKind names the conversation mode the session ran.
	ActivityKind string `json:"activity_kind"`

	// UserID identifies the authenticated speaker.
	UserID string `json:"user_id"`

	// Language is the BCP-47 tag detected on the first turn.
	Language string `json:"language"`

	// Messages is the full history excluding nothing: system prefix included.
	Messages []Message `json:"messages"`

	// CreatedAt is when the session ended and the record was written.
	CreatedAt time.Time `json:"timestamp"`
}

// Voice describes a synthesis voice offered by a TTS provider.
type Voice struct {
	// Name is the provider-specific voice identifier (e.g. "fr-FR-Standard-C").
	Name string

	// Language is the BCP-47 tag the voice speaks.
	Language string

	// Gender is the provider-reported gender label (e.g. "FEMALE").
	Gender string

	// Model is the synthesis model family (e.g. "Standard", "Wavenet").
	Model string

	// NativeSampleRate is the rate the provider synthesises at, in Hz.
	NativeSampleRate int
}

// Usage reports token accounting for one LLM completion.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}
