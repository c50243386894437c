// Package transcript persists finished conversations and repairs
// speech-to-text output.
//
// A Store keeps one record per session: who spoke, in which language, and the
// full message history. [Memory] backs tests and single-node development;
// the postgres subpackage is the production store and adds semantic history
// search when an embeddings provider is configured.
//
// The [Corrector] is the other half of the package: a fast, in-process repair
// pass that fixes misheard words in raw STT output by matching them
// phonetically against vocabulary already used in the session.
package transcript

import (
	"context"

	"github.com/moshi-chat/moshi/pkg/types"
)

// DefaultListLimit caps List and Search results when the caller passes no
// limit.
const DefaultListLimit = 20

// Store persists finished-session transcripts and serves the history views.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Save writes one transcript record. When t.ID is empty the store assigns
	// one. Saving an existing ID replaces the record.
	Save(ctx context.Context, t types.Transcript) error

	// List returns transcripts newest first. An empty userID matches all
	// users. limit <= 0 applies DefaultListLimit.
	List(ctx context.Context, userID string, limit int) ([]types.Transcript, error)

	// Search returns the transcripts most relevant to query, best match
	// first. An empty userID matches all users. limit <= 0 applies
	// DefaultListLimit.
	Search(ctx context.Context, userID, query string, limit int) ([]types.Transcript, error)
}
