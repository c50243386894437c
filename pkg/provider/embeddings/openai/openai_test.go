package openai

import "testing"

func TestNew_ResolvesDimensions(t *testing.T) {
	cases := []struct {
		name  string
		model string
		want  int
	}{
		{"small", "text-embedding-3-small", 1536},
		{"large", "text-embedding-3-large", 3072},
		{"ada", "text-embedding-ada-002", 1536},
		{"unknown model assumes small width", "some-future-model", 1536},
		{"empty selects default", "", 1536},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := New("sk-test", tc.model)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if got := p.Dimensions(); got != tc.want {
				t.Errorf("Dimensions(): got %d, want %d", got, tc.want)
			}
		})
	}
}

func TestNew_DefaultModel(t *testing.T) {
	p, err := New("sk-test", "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.ModelID() != DefaultModel {
		t.Errorf("model: got %q, want %q", p.ModelID(), DefaultModel)
	}
}

func TestNew_MissingAPIKey(t *testing.T) {
	if _, err := New("", "text-embedding-3-small"); err == nil {
		t.Fatal("expected error for empty API key")
	}
}

func TestNew_Options(t *testing.T) {
	_, err := New("sk-test", "text-embedding-3-small",
		WithBaseURL("https://custom.example.com"),
		WithOrganization("org-123"),
	)
	if err != nil {
		t.Fatalf("New with options: %v", err)
	}
}

func TestToFloat32(t *testing.T) {
	in := []float64{1.0, 2.5, -0.5}
	out := toFloat32(in)
	if len(out) != len(in) {
		t.Fatalf("length: got %d, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != float32(in[i]) {
			t.Errorf("index %d: got %v, want %v", i, out[i], float32(in[i]))
		}
	}
}
