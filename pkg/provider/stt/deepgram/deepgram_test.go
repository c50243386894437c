package deepgram

import (
	"context"
	"net/url"
	"testing"

	"github.com/moshi-chat/moshi/pkg/audio"
)

func TestNew_EmptyAPIKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty API key")
	}
}

func TestNew_ModelDefault(t *testing.T) {
	p, err := New("dg-key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.model != defaultModel {
		t.Errorf("model: got %q, want %q", p.model, defaultModel)
	}

	p, err = New("dg-key", WithModel("nova-2-phonecall"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.model != "nova-2-phonecall" {
		t.Errorf("model: got %q, want nova-2-phonecall", p.model)
	}
}

func TestBuildURL_QueryParams(t *testing.T) {
	p, err := New("dg-key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	raw, err := p.buildURL(audio.Format{SampleRate: 48000, Channels: 2}, "fr")
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}

	q := u.Query()
	for param, want := range map[string]string{
		"model":           defaultModel,
		"language":        "fr",
		"punctuate":       "true",
		"interim_results": "false",
		"encoding":        "linear16",
		"sample_rate":     "48000",
		"channels":        "2",
	} {
		if got := q.Get(param); got != want {
			t.Errorf("%s: got %q, want %q", param, got, want)
		}
	}
}

func TestBuildURL_FormatFollowsFrame(t *testing.T) {
	// The encoding parameters must track the utterance, not a fixed capture
	// rate, so resampled or mono input still decodes correctly server-side.
	p, err := New("dg-key", WithModel("base"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	raw, err := p.buildURL(audio.Format{SampleRate: 16000, Channels: 1}, "de-DE")
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	q := mustQuery(t, raw)

	if got := q.Get("model"); got != "base" {
		t.Errorf("model: got %q, want base", got)
	}
	if got := q.Get("sample_rate"); got != "16000" {
		t.Errorf("sample_rate: got %q, want 16000", got)
	}
	if got := q.Get("channels"); got != "1" {
		t.Errorf("channels: got %q, want 1", got)
	}
	if got := q.Get("language"); got != "de-DE" {
		t.Errorf("language: got %q, want de-DE", got)
	}
}

func TestBuildURL_LanguageOmittedWhenEmpty(t *testing.T) {
	// With no language hint Deepgram should auto-detect; sending
	// language="" would instead be rejected as an invalid code.
	p, err := New("dg-key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	raw, err := p.buildURL(audio.Format{SampleRate: 48000, Channels: 2}, "")
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	if _, present := mustQuery(t, raw)["language"]; present {
		t.Error("language param present for empty language hint")
	}
}

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		wantText  string
		wantFinal bool
		wantOK    bool
	}{
		{
			name: "final result",
			raw: `{"type":"Results","is_final":true,
				"channel":{"alternatives":[{"transcript":"turn the volume down please","confidence":0.98}]}}`,
			wantText:  "turn the volume down please",
			wantFinal: true,
			wantOK:    true,
		},
		{
			name: "interim result",
			raw: `{"type":"Results","is_final":false,
				"channel":{"alternatives":[{"transcript":"turn the vol","confidence":0.61}]}}`,
			wantText:  "turn the vol",
			wantFinal: false,
			wantOK:    true,
		},
		{
			name: "surrounding whitespace trimmed",
			raw: `{"type":"Results","is_final":true,
				"channel":{"alternatives":[{"transcript":" yes  "}]}}`,
			wantText:  "yes",
			wantFinal: true,
			wantOK:    true,
		},
		{
			name:   "metadata message ignored",
			raw:    `{"type":"Metadata","request_id":"f3c1","duration":4.2}`,
			wantOK: false,
		},
		{
			name:   "no alternatives",
			raw:    `{"type":"Results","is_final":true,"channel":{"alternatives":[]}}`,
			wantOK: false,
		},
		{
			name:   "malformed JSON",
			raw:    `{"type":"Results","chan`,
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, final, ok := parseResponse([]byte(tt.raw))
			if ok != tt.wantOK {
				t.Fatalf("ok: got %v, want %v", ok, tt.wantOK)
			}
			if !tt.wantOK {
				return
			}
			if text != tt.wantText {
				t.Errorf("text: got %q, want %q", text, tt.wantText)
			}
			if final != tt.wantFinal {
				t.Errorf("final: got %v, want %v", final, tt.wantFinal)
			}
		})
	}
}

func TestTranscribe_EmptyUtterance(t *testing.T) {
	// The guard must fire before any network activity.
	p, err := New("dg-key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Transcribe(context.Background(), audio.Frame{}, "en"); err == nil {
		t.Fatal("expected error for empty utterance")
	}
}

func mustQuery(t *testing.T, raw string) url.Values {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	return u.Query()
}
