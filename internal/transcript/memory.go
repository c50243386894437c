package transcript

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/moshi-chat/moshi/pkg/types"
)

// Memory is an in-process Store for tests and single-node development runs.
// Records do not survive a restart.
type Memory struct {
	mu      sync.Mutex
	records []types.Transcript
	nextID  int
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{}
}

// Save implements Store.
func (m *Memory) Save(ctx context.Context, t types.Transcript) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.Messages = append([]types.Message(nil), t.Messages...)
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.ID == "" {
		m.nextID++
		t.ID = "mem-" + strconv.Itoa(m.nextID)
	} else {
		for i, r := range m.records {
			if r.ID == t.ID {
				m.records[i] = t
				return nil
			}
		}
	}
	m.records = append(m.records, t)
	return nil
}

// List implements Store.
func (m *Memory) List(ctx context.Context, userID string, limit int) ([]types.Transcript, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []types.Transcript{}
	for i := len(m.records) - 1; i >= 0 && len(out) < limit; i-- {
		r := m.records[i]
		if userID != "" && r.UserID != userID {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// Search implements Store. Matching is a case-insensitive substring scan over
// message contents, newest first.
func (m *Memory) Search(ctx context.Context, userID, query string, limit int) ([]types.Transcript, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	needle := strings.ToLower(query)
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []types.Transcript{}
	for i := len(m.records) - 1; i >= 0 && len(out) < limit; i-- {
		r := m.records[i]
		if userID != "" && r.UserID != userID {
			continue
		}
		if needle == "" || matchesTranscript(r, needle) {
			out = append(out, r)
		}
	}
	return out, nil
}

func matchesTranscript(t types.Transcript, needle string) bool {
	for _, msg := range t.Messages {
		if msg.Role == types.RoleSystem {
			continue
		}
		if strings.Contains(strings.ToLower(msg.Content), needle) {
			return true
		}
	}
	return false
}
