package app

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

// fakeSession mimics a live call: Close invokes the onClose hook the way a
// real session reports its own removal.
type fakeSession struct {
	id      string
	mu      sync.Mutex
	closed  int
	onClose func()
}

func (s *fakeSession) ID() string { return s.id }

func (s *fakeSession) Close() {
	s.mu.Lock()
	s.closed++
	s.mu.Unlock()
	if s.onClose != nil {
		s.onClose()
	}
}

func (s *fakeSession) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func TestSessionManager_TrackAndRemove(t *testing.T) {
	t.Parallel()

	m := NewSessionManager(0, nil)

	if err := m.track(&fakeSession{id: "a"}); err != nil {
		t.Fatalf("track(a): %v", err)
	}
	if err := m.track(&fakeSession{id: "b"}); err != nil {
		t.Fatalf("track(b): %v", err)
	}
	if got := m.Len(); got != 2 {
		t.Fatalf("Len() = %d, want 2", got)
	}

	m.Remove("a", time.Second)
	if got := m.Len(); got != 1 {
		t.Fatalf("Len() after remove = %d, want 1", got)
	}

	// Unknown ids are ignored.
	m.Remove("nope", time.Second)
	if got := m.Len(); got != 1 {
		t.Fatalf("Len() after unknown remove = %d, want 1", got)
	}
}

func TestSessionManager_CapacityLimit(t *testing.T) {
	t.Parallel()

	m := NewSessionManager(2, nil)

	if err := m.track(&fakeSession{id: "a"}); err != nil {
		t.Fatalf("track(a): %v", err)
	}
	if err := m.track(&fakeSession{id: "b"}); err != nil {
		t.Fatalf("track(b): %v", err)
	}
	if err := m.track(&fakeSession{id: "c"}); err == nil {
		t.Fatal("track(c) at capacity: want error, got nil")
	}

	// Freeing a slot admits the next call.
	m.Remove("a", time.Second)
	if err := m.track(&fakeSession{id: "c"}); err != nil {
		t.Fatalf("track(c) after remove: %v", err)
	}
}

func TestSessionManager_ZeroLimitIsUnlimited(t *testing.T) {
	t.Parallel()

	m := NewSessionManager(0, nil)
	for i := range 100 {
		if err := m.track(&fakeSession{id: fmt.Sprintf("s-%d", i)}); err != nil {
			t.Fatalf("track(s-%d): %v", i, err)
		}
	}
	if got := m.Len(); got != 100 {
		t.Fatalf("Len() = %d, want 100", got)
	}
}

func TestSessionManager_DuplicateID(t *testing.T) {
	t.Parallel()

	m := NewSessionManager(0, nil)
	if err := m.track(&fakeSession{id: "dup"}); err != nil {
		t.Fatalf("first track: %v", err)
	}
	if err := m.track(&fakeSession{id: "dup"}); err == nil {
		t.Fatal("second track with same id: want error, got nil")
	}
}

func TestSessionManager_CloseAll(t *testing.T) {
	t.Parallel()

	m := NewSessionManager(0, nil)

	sessions := make([]*fakeSession, 3)
	for i := range sessions {
		s := &fakeSession{id: fmt.Sprintf("s-%d", i)}
		// Real sessions remove themselves from inside Close.
		s.onClose = func() { m.Remove(s.id, time.Second) }
		sessions[i] = s
		if err := m.track(s); err != nil {
			t.Fatalf("track(%s): %v", s.id, err)
		}
	}

	m.CloseAll()

	if got := m.Len(); got != 0 {
		t.Fatalf("Len() after CloseAll = %d, want 0", got)
	}
	for _, s := range sessions {
		if got := s.closeCount(); got != 1 {
			t.Errorf("%s close count = %d, want 1", s.id, got)
		}
	}
}

func TestSessionManager_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	m := NewSessionManager(0, nil)

	var wg sync.WaitGroup
	for i := range 20 {
		id := fmt.Sprintf("s-%d", i)
		wg.Add(3)
		go func() {
			defer wg.Done()
			_ = m.track(&fakeSession{id: id})
		}()
		go func() {
			defer wg.Done()
			_ = m.Len()
		}()
		go func() {
			defer wg.Done()
			m.Remove(id, time.Millisecond)
		}()
	}
	wg.Wait()
}
