package elevenlabs

import (
	"encoding/json"
	"strings"
	"testing"
)

// ---- WebSocket message construction ----

func TestBuildWSMessage_WithVoiceSettings(t *testing.T) {
	vs := &voiceSettings{Stability: 0.5, SimilarityBoost: 0.75}
	data, err := buildWSMessage("Hello there", vs)
	if err != nil {
		t.Fatalf("buildWSMessage: %v", err)
	}

	var msg textMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Text != "Hello there" {
		t.Errorf("expected text 'Hello there', got %q", msg.Text)
	}
	if msg.VoiceSettings == nil {
		t.Fatal("expected non-nil voice settings")
	}
	if msg.VoiceSettings.Stability != 0.5 {
		t.Errorf("expected stability 0.5, got %f", msg.VoiceSettings.Stability)
	}
	if msg.VoiceSettings.SimilarityBoost != 0.75 {
		t.Errorf("expected similarity_boost 0.75, got %f", msg.VoiceSettings.SimilarityBoost)
	}
}

func TestBuildWSMessage_FlushCommand(t *testing.T) {
	// ElevenLabs flush = {"text":""} with no other fields.
	data, err := buildWSMessage("", nil)
	if err != nil {
		t.Fatalf("buildWSMessage: %v", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal flush: %v", err)
	}
	textVal, ok := raw["text"]
	if !ok {
		t.Fatal("expected 'text' field in flush message")
	}
	if string(textVal) != `""` {
		t.Errorf("expected empty string for text, got %s", textVal)
	}
	if _, exists := raw["voice_settings"]; exists {
		t.Error("flush message should not contain voice_settings")
	}
}

// ---- URL construction ----

func TestBuildURLForVoice(t *testing.T) {
	url := buildURLForVoice("voice-abc123", "eleven_flash_v2_5")
	if !strings.Contains(url, "voice-abc123") {
		t.Errorf("URL should contain voice ID, got: %s", url)
	}
	if !strings.Contains(url, "eleven_flash_v2_5") {
		t.Errorf("URL should contain model ID, got: %s", url)
	}
	if !strings.HasPrefix(url, "wss://") {
		t.Errorf("URL should be a WebSocket URL, got: %s", url)
	}
}

// ---- Output format parsing ----

func TestParseOutputRate(t *testing.T) {
	cases := []struct {
		format  string
		want    int
		wantErr bool
	}{
		{"pcm_24000", 24000, false},
		{"pcm_16000", 16000, false},
		{"pcm_44100", 44100, false},
		{"mp3_44100_128", 0, true},
		{"pcm_", 0, true},
		{"", 0, true},
	}
	for _, tc := range cases {
		t.Run(tc.format, func(t *testing.T) {
			got, err := parseOutputRate(tc.format)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tc.format)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseOutputRate(%q): %v", tc.format, err)
			}
			if got != tc.want {
				t.Errorf("rate: want %d, got %d", tc.want, got)
			}
		})
	}
}

// ---- Voice catalogue mapping ----

func TestFilterVoices(t *testing.T) {
	entries := []elevenLabsVoice{
		{
			VoiceID:  "abc123",
			Name:     "Rachel",
			Category: "premade",
			Labels:   map[string]string{"gender": "female", "language": "en-US"},
		},
		{
			VoiceID:  "def456",
			Name:     "Adam",
			Category: "premade",
			Labels:   map[string]string{"gender": "male", "language": "en"},
		},
		{
			VoiceID:  "ghi789",
			Name:     "Gisela",
			Category: "premade",
			Labels:   map[string]string{"gender": "female", "language": "de-DE"},
		},
	}

	t.Run("all languages", func(t *testing.T) {
		voices := filterVoices(entries, "", 24000)
		if len(voices) != 3 {
			t.Fatalf("expected 3 voices, got %d", len(voices))
		}
		rachel := voices[0]
		if rachel.Name != "abc123" {
			t.Errorf("name should carry the voice_id, got %q", rachel.Name)
		}
		if rachel.Gender != "FEMALE" {
			t.Errorf("gender: want FEMALE, got %q", rachel.Gender)
		}
		if rachel.Model != "premade" {
			t.Errorf("model: want premade, got %q", rachel.Model)
		}
		if rachel.NativeSampleRate != 24000 {
			t.Errorf("native sample rate: want 24000, got %d", rachel.NativeSampleRate)
		}
	})

	t.Run("primary subtag match", func(t *testing.T) {
		voices := filterVoices(entries, "en-GB", 24000)
		if len(voices) != 2 {
			t.Fatalf("expected 2 English voices, got %d", len(voices))
		}
		for _, v := range voices {
			if primarySubtag(v.Language) != "en" {
				t.Errorf("unexpected language %q", v.Language)
			}
		}
	})

	t.Run("no match", func(t *testing.T) {
		if voices := filterVoices(entries, "ja", 24000); len(voices) != 0 {
			t.Errorf("expected 0 voices, got %d", len(voices))
		}
	})
}

func TestFilterVoices_NoLabels(t *testing.T) {
	entries := []elevenLabsVoice{
		{VoiceID: "x1", Name: "Ghost", Category: "", Labels: nil},
	}
	voices := filterVoices(entries, "", 16000)
	if len(voices) != 1 {
		t.Fatalf("expected 1 voice, got %d", len(voices))
	}
	if voices[0].Gender != "" || voices[0].Language != "" {
		t.Errorf("expected empty gender/language, got %+v", voices[0])
	}
}

// ---- Constructor tests ----

func TestNew_EmptyAPIKey(t *testing.T) {
	_, err := New("")
	if err == nil {
		t.Error("expected error for empty API key")
	}
}

func TestNew_Defaults(t *testing.T) {
	p, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.model != defaultModel {
		t.Errorf("expected model %q, got %q", defaultModel, p.model)
	}
	if p.outputFormat != defaultOutputFmt {
		t.Errorf("expected outputFormat %q, got %q", defaultOutputFmt, p.outputFormat)
	}
}

func TestNew_WithOptions(t *testing.T) {
	p, err := New("key", WithModel("eleven_multilingual_v2"), WithOutputFormat("pcm_16000"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.model != "eleven_multilingual_v2" {
		t.Errorf("expected model 'eleven_multilingual_v2', got %q", p.model)
	}
	if p.outputFormat != "pcm_16000" {
		t.Errorf("expected outputFormat 'pcm_16000', got %q", p.outputFormat)
	}
}

func TestNew_BadOutputFormat(t *testing.T) {
	if _, err := New("key", WithOutputFormat("mp3_44100_128")); err == nil {
		t.Error("expected error for non-PCM output format")
	}
}
