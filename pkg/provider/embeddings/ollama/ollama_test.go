package ollama_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/moshi-chat/moshi/pkg/provider/embeddings/ollama"
)

// unreachable is a local address nothing listens on; tests that must not
// touch the network point the provider here.
const unreachable = "http://127.0.0.1:1"

// embedServer serves /api/embed with canned vectors, one per input, and
// counts how many requests arrive.
func embedServer(t *testing.T, vectors [][]float32) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Method != http.MethodPost || r.URL.Path != "/api/embed" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			http.NotFound(w, r)
			return
		}
		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		n := min(len(vectors), len(req.Input))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model":      req.Model,
			"embeddings": vectors[:n],
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestNew_RequiresModel(t *testing.T) {
	if _, err := ollama.New("", ""); err == nil {
		t.Fatal("expected error for empty model")
	}
}

func TestNew_DefaultBaseURL(t *testing.T) {
	p, err := ollama.New("", "nomic-embed-text")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := p.ModelID(); got != "nomic-embed-text" {
		t.Errorf("ModelID: got %q, want nomic-embed-text", got)
	}
}

func TestEmbed(t *testing.T) {
	want := []float32{0.25, -0.5, 0.125, 1}
	srv, _ := embedServer(t, [][]float32{want})

	p, err := ollama.New(srv.URL, "nomic-embed-text")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := p.Embed(context.Background(), "bonjour tout le monde")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("length: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("vec[%d]: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestEmbedBatch_OrderPreserved(t *testing.T) {
	vecs := [][]float32{
		{0.1, 0.2, 0.3},
		{0.4, 0.5, 0.6},
		{0.7, 0.8, 0.9},
	}
	srv, _ := embedServer(t, vecs)

	p, err := ollama.New(srv.URL, "nomic-embed-text")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := p.EmbedBatch(context.Background(), []string{"one", "two", "three"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(got) != len(vecs) {
		t.Fatalf("length: got %d, want %d", len(got), len(vecs))
	}
	for i := range vecs {
		for j := range vecs[i] {
			if got[i][j] != vecs[i][j] {
				t.Errorf("vec[%d][%d]: got %v, want %v", i, j, got[i][j], vecs[i][j])
			}
		}
	}
}

func TestEmbedBatch_Empty(t *testing.T) {
	p, err := ollama.New(unreachable, "nomic-embed-text")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := p.EmbedBatch(context.Background(), nil)
	if err != nil {
		t.Fatalf("EmbedBatch(nil): %v", err)
	}
	if got != nil {
		t.Errorf("EmbedBatch(nil): got %v, want nil", got)
	}
}

func TestEmbedBatch_CountMismatch(t *testing.T) {
	srv, _ := embedServer(t, [][]float32{{0.1, 0.2}})

	p, err := ollama.New(srv.URL, "nomic-embed-text")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.EmbedBatch(context.Background(), []string{"a", "b"}); err == nil {
		t.Fatal("expected error when the server returns fewer vectors than texts")
	}
}

func TestDimensions_KnownModels(t *testing.T) {
	cases := []struct {
		model string
		want  int
	}{
		{"nomic-embed-text", 768},
		{"nomic-embed-text:latest", 768},
		{"mxbai-embed-large", 1024},
		{"all-minilm", 384},
	}
	for _, tc := range cases {
		t.Run(tc.model, func(t *testing.T) {
			p, err := ollama.New(unreachable, tc.model)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if got := p.Dimensions(); got != tc.want {
				t.Errorf("Dimensions: got %d, want %d", got, tc.want)
			}
		})
	}
}

func TestDimensions_ProbesUnknownModelOnce(t *testing.T) {
	const dim = 512
	srv, calls := embedServer(t, [][]float32{make([]float32, dim)})

	p, err := ollama.New(srv.URL, "custom-embed")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for i := 0; i < 3; i++ {
		if got := p.Dimensions(); got != dim {
			t.Errorf("call %d: Dimensions: got %d, want %d", i, got, dim)
		}
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("probe requests: got %d, want 1", n)
	}
}

func TestDimensions_Pinned(t *testing.T) {
	p, err := ollama.New(unreachable, "custom-embed", ollama.WithDimensions(256))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := p.Dimensions(); got != 256 {
		t.Errorf("Dimensions: got %d, want 256", got)
	}
}

func TestEmbed_ServerDown(t *testing.T) {
	p, err := ollama.New(unreachable, "nomic-embed-text",
		ollama.WithTimeout(500*time.Millisecond))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Embed(context.Background(), "salut"); err == nil {
		t.Fatal("expected error for unreachable server")
	}
}

func TestEmbed_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	p, err := ollama.New(srv.URL, "nomic-embed-text")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Embed(context.Background(), "salut"); err == nil {
		t.Fatal("expected error for 500 response")
	}
}

func TestEmbed_ContextCancelled(t *testing.T) {
	// release lets the handler return so srv.Close does not wait on a hung
	// connection; defers run LIFO, so it fires before srv.Close.
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	p, err := ollama.New(srv.URL, "nomic-embed-text")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if _, err := p.Embed(ctx, "salut"); err == nil {
		t.Fatal("expected context cancellation error")
	}
}
