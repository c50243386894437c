// Package activity defines conversation modes. An activity owns the system
// prompt preamble the assistant is primed with and any per-mode loop policy;
// the orchestrator stays agnostic of what kind of conversation it is running.
package activity

import (
	"fmt"

	"github.com/moshi-chat/moshi/pkg/types"
)

// Kind names a conversation mode.
type Kind string

const (
	// KindUnstructured is free-form conversation practice, the launch mode.
	KindUnstructured Kind = "unstructured"
)

// IsValid reports whether the kind is a known mode.
func (k Kind) IsValid() bool {
	return k == KindUnstructured
}

// Activity is one conversation mode.
type Activity interface {
	// Kind names the mode for logs and persisted transcripts.
	Kind() Kind

	// Prompt returns the system message preamble, in order. Implementations
	// return a fresh slice; callers append turns to it.
	Prompt() []types.Message

	// MaxLoops returns the mode's turn cap override; 0 defers to the session
	// default.
	MaxLoops() int

	// StillThere returns the re-engagement line spoken when the user stays
	// silent past the detection start timeout.
	StillThere() string
}

// New constructs the activity for a kind.
func New(kind Kind) (Activity, error) {
	switch kind {
	case KindUnstructured:
		return Unstructured{}, nil
	default:
		return nil, fmt.Errorf("activity: unknown kind %q", kind)
	}
}

// Unstructured is open-ended conversation practice. The preamble pins the
// assistant to the learner's language and keeps it in character.
type Unstructured struct{}

// Kind implements Activity.
func (Unstructured) Kind() Kind { return KindUnstructured }

// Prompt implements Activity.
func (Unstructured) Prompt() []types.Message {
	return []types.Message{
		{Role: types.RoleSystem, Content: "You are a conversational partner for helping language learners practice a second language."},
		{Role: types.RoleSystem, Content: "DO NOT provide a translation. Respond in the language the user speaks unless asked explicitly for a translation."},
		{Role: types.RoleSystem, Content: "In the conversation section, after these instructions, DO NOT break character."},
	}
}

// MaxLoops implements Activity.
func (Unstructured) MaxLoops() int { return 0 }

// StillThere implements Activity.
func (Unstructured) StillThere() string { return "Are you still there?" }
