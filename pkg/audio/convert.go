package audio

import (
	"encoding/binary"
	"fmt"
)

// FormatConverter rewrites frames into a target PCM shape. The session
// contract is 48 kHz stereo while Google TTS synthesises 24 kHz mono, so the
// orchestrator runs every synthesised utterance through one of these before
// handing it to the player.
type FormatConverter struct {
	Target Format
}

// Convert resamples and remaps channels as needed. Frames already in the
// target format pass through untouched (zero allocation). The PTS is scaled
// with the sample rate so the frame's StartTime is preserved.
func (c FormatConverter) Convert(f Frame) (Frame, error) {
	if len(f.Data)%2 != 0 {
		return Frame{}, fmt.Errorf("audio: convert: odd payload length %d", len(f.Data))
	}
	if f.Format() == c.Target {
		return f, nil
	}
	if f.Channels != c.Target.Channels && !convertibleChannels(f.Channels, c.Target.Channels) {
		return Frame{}, fmt.Errorf("audio: convert: unsupported channel mapping %d -> %d", f.Channels, c.Target.Channels)
	}

	data := f.Data
	pts := f.PTS
	if f.SampleRate != c.Target.SampleRate {
		if f.Channels == 2 {
			data = ResampleStereo16(data, f.SampleRate, c.Target.SampleRate)
		} else {
			data = ResampleMono16(data, f.SampleRate, c.Target.SampleRate)
		}
		pts = pts * int64(c.Target.SampleRate) / int64(f.SampleRate)
	}
	switch {
	case f.Channels == 1 && c.Target.Channels == 2:
		data = MonoToStereo(data)
	case f.Channels == 2 && c.Target.Channels == 1:
		data = StereoToMono(data)
	}

	return Frame{
		Data:       data,
		SampleRate: c.Target.SampleRate,
		Channels:   c.Target.Channels,
		PTS:        pts,
	}, nil
}

func convertibleChannels(src, dst int) bool {
	return (src == 1 && dst == 2) || (src == 2 && dst == 1)
}

// MonoToStereo duplicates each mono sample into both channels. A trailing
// partial sample is dropped.
func MonoToStereo(pcm []byte) []byte {
	n := len(pcm) / 2
	out := make([]byte, n*4)
	for i := 0; i < n; i++ {
		s := binary.LittleEndian.Uint16(pcm[i*2:])
		binary.LittleEndian.PutUint16(out[i*4:], s)
		binary.LittleEndian.PutUint16(out[i*4+2:], s)
	}
	return out
}

// StereoToMono averages each L/R pair into one sample. A trailing partial
// pair is dropped.
func StereoToMono(pcm []byte) []byte {
	n := len(pcm) / 4
	out := make([]byte, n*2)
	for i := 0; i < n; i++ {
		l := int32(int16(binary.LittleEndian.Uint16(pcm[i*4:])))
		r := int32(int16(binary.LittleEndian.Uint16(pcm[i*4+2:])))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16((l+r)/2)))
	}
	return out
}

// ResampleMono16 converts mono s16le PCM between sample rates using linear
// interpolation. Non-positive or equal rates return the input unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate {
		return pcm
	}
	src := len(pcm) / 2
	if src == 0 {
		return nil
	}
	dst := int(int64(src) * int64(dstRate) / int64(srcRate))
	if dst == 0 {
		return nil
	}
	out := make([]byte, dst*2)
	step := float64(srcRate) / float64(dstRate)
	for i := 0; i < dst; i++ {
		pos := float64(i) * step
		idx := int(pos)
		frac := pos - float64(idx)
		s0 := int16(binary.LittleEndian.Uint16(pcm[idx*2:]))
		s1 := s0
		if idx+1 < src {
			s1 = int16(binary.LittleEndian.Uint16(pcm[(idx+1)*2:]))
		}
		v := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

// ResampleStereo16 converts interleaved stereo s16le PCM between sample
// rates. Each channel is resampled independently to avoid smearing across
// the interleave.
func ResampleStereo16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate {
		return pcm
	}
	pairs := len(pcm) / 4
	if pairs == 0 {
		return nil
	}
	left := make([]byte, pairs*2)
	right := make([]byte, pairs*2)
	for i := 0; i < pairs; i++ {
		copy(left[i*2:], pcm[i*4:i*4+2])
		copy(right[i*2:], pcm[i*4+2:i*4+4])
	}
	left = ResampleMono16(left, srcRate, dstRate)
	right = ResampleMono16(right, srcRate, dstRate)
	out := make([]byte, len(left)+len(right))
	for i := 0; i < len(left)/2; i++ {
		copy(out[i*4:], left[i*2:i*2+2])
		copy(out[i*4+2:], right[i*2:i*2+2])
	}
	return out
}
