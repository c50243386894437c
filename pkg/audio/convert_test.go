package audio_test

import (
	"encoding/binary"
	"slices"
	"testing"

	"github.com/moshi-chat/moshi/pkg/audio"
)

// pcm16 packs int16 samples as little-endian bytes, the wire shape every
// converter in this package works on.
func pcm16(samples ...int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// unpack16 is the inverse of pcm16.
func unpack16(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out
}

func TestMonoToStereo_DuplicatesSamples(t *testing.T) {
	got := unpack16(audio.MonoToStereo(pcm16(-7, 8191, 512)))
	want := []int16{-7, -7, 8191, 8191, 512, 512}
	if !slices.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestMonoToStereo_DropsPartialTail(t *testing.T) {
	in := append(pcm16(-7, 8191), 0x3c)
	got := unpack16(audio.MonoToStereo(in))
	want := []int16{-7, -7, 8191, 8191}
	if !slices.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestStereoToMono_AveragesPairs(t *testing.T) {
	got := unpack16(audio.StereoToMono(pcm16(100, 300, -100, -300)))
	want := []int16{200, -200}
	if !slices.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestStereoToMono_RoundTrip(t *testing.T) {
	// Duplicated channels average back to the original signal exactly.
	orig := pcm16(-12000, 450, 31000)
	back := audio.StereoToMono(audio.MonoToStereo(orig))
	if !slices.Equal(unpack16(back), unpack16(orig)) {
		t.Errorf("round trip changed signal: got %v, want %v", unpack16(back), unpack16(orig))
	}
}

func TestResampleMono16(t *testing.T) {
	tests := []struct {
		name             string
		in               []int16
		srcRate, dstRate int
		want             []int16
	}{
		{
			// Synthesis arrives at 24 kHz; the session runs at 48 kHz. The
			// inserted samples sit on the linear midpoints.
			name:    "upsample 2x",
			in:      []int16{1000, 3000},
			srcRate: 24000,
			dstRate: 48000,
			want:    []int16{1000, 2000, 3000, 3000},
		},
		{
			// Capture at 48 kHz feeding a 16 kHz recogniser keeps every
			// third sample (integer ratio, no interpolation).
			name:    "downsample 3x",
			in:      []int16{90, 180, 270, 360, 450, 540},
			srcRate: 48000,
			dstRate: 16000,
			want:    []int16{90, 360},
		},
		{
			name:    "empty input",
			in:      nil,
			srcRate: 24000,
			dstRate: 48000,
			want:    nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := unpack16(audio.ResampleMono16(pcm16(tt.in...), tt.srcRate, tt.dstRate))
			if !slices.Equal(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestResampleMono16_PassThrough(t *testing.T) {
	// Equal or nonsensical rates return the input slice itself.
	in := pcm16(55, -55)
	for _, rates := range [][2]int{{48000, 48000}, {0, 48000}, {48000, 0}, {-8000, 16000}} {
		out := audio.ResampleMono16(in, rates[0], rates[1])
		if &out[0] != &in[0] {
			t.Errorf("rates %v: input was copied", rates)
		}
	}
}

func TestResampleStereo16_IndependentChannels(t *testing.T) {
	// Left ramps up while right ramps down; interpolation must not bleed
	// across the interleave.
	in := pcm16(100, -100, 300, -300)
	got := unpack16(audio.ResampleStereo16(in, 24000, 48000))
	want := []int16{100, -100, 200, -200, 300, -300, 300, -300}
	if !slices.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestFormatConverter_NoOp(t *testing.T) {
	conv := audio.FormatConverter{
		Target: audio.Format{SampleRate: 48000, Channels: 2},
	}
	frame := audio.Frame{
		Data:       pcm16(100, 200),
		SampleRate: 48000,
		Channels:   2,
	}
	result, err := conv.Convert(frame)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if &result.Data[0] != &frame.Data[0] {
		t.Error("matching format should pass the payload through unchanged")
	}
}

func TestFormatConverter_TTSPath(t *testing.T) {
	// The production path: 24 kHz mono synthesis into a 48 kHz stereo session.
	conv := audio.FormatConverter{
		Target: audio.Format{SampleRate: 48000, Channels: 2},
	}
	frame := audio.Frame{
		Data:       pcm16(1000, 2000),
		SampleRate: 24000,
		Channels:   1,
	}
	result, err := conv.Convert(frame)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if result.SampleRate != 48000 || result.Channels != 2 {
		t.Fatalf("format: got %s, want 48000Hz/2ch", result.Format())
	}
	// 2 mono samples at 24k become 4 at 48k, then 8 interleaved.
	got := unpack16(result.Data)
	if len(got) != 8 {
		t.Fatalf("expected 8 samples, got %d", len(got))
	}
	if got[0] != got[1] {
		t.Errorf("stereo pair 0 not duplicated: %d vs %d", got[0], got[1])
	}
}

func TestFormatConverter_PTSScaling(t *testing.T) {
	// StartTime must survive resampling: pts scales with the rate.
	conv := audio.FormatConverter{
		Target: audio.Format{SampleRate: 48000, Channels: 1},
	}
	frame := audio.Frame{
		Data:       pcm16(1, 2, 3, 4),
		SampleRate: 24000,
		Channels:   1,
		PTS:        24000, // 1 s in
	}
	result, err := conv.Convert(frame)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if result.PTS != 48000 {
		t.Errorf("pts: got %d, want 48000", result.PTS)
	}
	if result.StartTime() != frame.StartTime() {
		t.Errorf("start time changed: got %s, want %s", result.StartTime(), frame.StartTime())
	}
}

func TestFormatConverter_OddByteCount(t *testing.T) {
	conv := audio.FormatConverter{
		Target: audio.Format{SampleRate: 48000, Channels: 1},
	}
	frame := audio.Frame{
		Data:       []byte{1, 2, 3}, // 3 bytes — odd, invalid for int16 PCM
		SampleRate: 22050,
		Channels:   1,
	}
	if _, err := conv.Convert(frame); err == nil {
		t.Fatal("expected error for odd byte count, got nil")
	}
}

func TestFormatConverter_UnsupportedChannels(t *testing.T) {
	conv := audio.FormatConverter{
		Target: audio.Format{SampleRate: 48000, Channels: 2},
	}
	frame := audio.Frame{
		Data:       make([]byte, 12),
		SampleRate: 48000,
		Channels:   6, // 5.1 input has no mapping
	}
	if _, err := conv.Convert(frame); err == nil {
		t.Fatal("expected error for unsupported channel mapping, got nil")
	}
}
