package server

import (
	"fmt"

	"layeh.com/gopus"

	"github.com/moshi-chat/moshi/pkg/audio"
)

// The RTP clock for Opus is always 48 kHz stereo regardless of the session
// format; libopus resamples internally. Sessions default to the same rate.
const (
	opusSampleRate    = 48000
	opusChannels      = 2
	opusFrameDuration = 20 // milliseconds

	// opusFrameSize is the number of samples per channel per 20 ms frame at
	// the default rate.
	opusFrameSize = opusSampleRate * opusFrameDuration / 1000 // 960

	// opusFrameBytes is the PCM size of one 20 ms frame in the default
	// format: 960 samples/channel × 2 channels × 2 bytes/sample.
	opusFrameBytes = opusFrameSize * opusChannels * 2
)

// samplesPerFrame returns the per-channel sample count of one 20 ms frame.
func samplesPerFrame(sampleRate int) int {
	return sampleRate * opusFrameDuration / 1000
}

// opusDecoder wraps a gopus decoder for one inbound track. Decoders are
// stateful across consecutive packets, so each track gets its own. The
// decoder emits PCM in the session format; libopus converts rate and the
// decoder upmixes mono packets to the session layout.
type opusDecoder struct {
	dec       *gopus.Decoder
	frameSize int
}

func newOpusDecoder(format audio.Format) (*opusDecoder, error) {
	dec, err := gopus.NewDecoder(format.SampleRate, format.Channels)
	if err != nil {
		return nil, fmt.Errorf("server: create opus decoder: %w", err)
	}
	return &opusDecoder{dec: dec, frameSize: samplesPerFrame(format.SampleRate)}, nil
}

// decode decodes one Opus packet into interleaved little-endian int16 PCM.
func (d *opusDecoder) decode(pkt []byte) ([]byte, error) {
	pcm, err := d.dec.Decode(pkt, d.frameSize, false)
	if err != nil {
		return nil, fmt.Errorf("server: opus decode: %w", err)
	}
	return int16sToBytes(pcm), nil
}

// opusEncoder wraps a gopus encoder for the outbound track.
type opusEncoder struct {
	enc        *gopus.Encoder
	frameSize  int
	frameBytes int
}

func newOpusEncoder(format audio.Format) (*opusEncoder, error) {
	enc, err := gopus.NewEncoder(format.SampleRate, format.Channels, gopus.Audio)
	if err != nil {
		return nil, fmt.Errorf("server: create opus encoder: %w", err)
	}
	frameSize := samplesPerFrame(format.SampleRate)
	return &opusEncoder{
		enc:        enc,
		frameSize:  frameSize,
		frameBytes: frameSize * format.Channels * 2,
	}, nil
}

// encode encodes exactly one 20 ms frame of interleaved little-endian int16
// PCM into an Opus packet.
func (e *opusEncoder) encode(pcm []byte) ([]byte, error) {
	if len(pcm) != e.frameBytes {
		return nil, fmt.Errorf("server: opus encode: need %d PCM bytes, got %d", e.frameBytes, len(pcm))
	}
	pkt, err := e.enc.Encode(bytesToInt16s(pcm), e.frameSize, len(pcm))
	if err != nil {
		return nil, fmt.Errorf("server: opus encode: %w", err)
	}
	return pkt, nil
}

// int16sToBytes converts int16 PCM samples to little-endian bytes.
func int16sToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}

// bytesToInt16s converts little-endian bytes to int16 PCM samples.
func bytesToInt16s(b []byte) []int16 {
	pcm := make([]int16, len(b)/2)
	for i := range pcm {
		pcm[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return pcm
}
