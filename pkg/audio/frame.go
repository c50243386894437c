// Package audio defines the PCM frame model shared by every moshi component.
//
// Frames are the atomic unit of audio transport — decoded from the inbound
// track, measured by the utterance detector, buffered by the response player
// and produced by the TTS providers. Payloads are little-endian signed-16
// interleaved PCM in a single buffer; the sample rate and channel count ride
// along on the frame so format mismatches are detectable at every boundary.
package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// Format describes the PCM shape of a frame or a stream.
type Format struct {
	// SampleRate in Hz (e.g. 48000 for the WebRTC session, 24000 for Google TTS).
	SampleRate int

	// Channels: 1 for mono, 2 for interleaved stereo.
	Channels int
}

// String renders the format for logs, e.g. "48000Hz/2ch".
func (f Format) String() string {
	return fmt.Sprintf("%dHz/%dch", f.SampleRate, f.Channels)
}

// Frame is a single chunk of PCM audio.
type Frame struct {
	// Data is little-endian signed-16 interleaved PCM.
	Data []byte

	// SampleRate in Hz.
	SampleRate int

	// Channels is the interleaved channel count.
	Channels int

	// PTS is the presentation timestamp: a running count of samples per
	// channel since stream start, at SampleRate.
	PTS int64
}

// Format returns the frame's PCM shape.
func (f Frame) Format() Format {
	return Format{SampleRate: f.SampleRate, Channels: f.Channels}
}

// Samples returns the number of samples per channel in the frame.
func (f Frame) Samples() int {
	if f.Channels <= 0 {
		return 0
	}
	return len(f.Data) / (2 * f.Channels)
}

// Duration returns the playback length of the frame.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.Samples()) * time.Second / time.Duration(f.SampleRate)
}

// StartTime returns the frame's position in the stream, derived from PTS.
func (f Frame) StartTime() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.PTS) * time.Second / time.Duration(f.SampleRate)
}

// Energy returns the root mean square of the frame's samples across all
// channels. Squares are computed in 64-bit space so full-scale samples
// cannot overflow. An empty frame has zero energy.
func (f Frame) Energy() float64 {
	n := len(f.Data) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := int64(int16(binary.LittleEndian.Uint16(f.Data[i*2:])))
		sum += float64(s * s)
	}
	return math.Sqrt(sum / float64(n))
}

// Silence returns an all-zero frame of the given shape with PTS 0.
func Silence(samples int, format Format) Frame {
	if samples < 0 {
		samples = 0
	}
	return Frame{
		Data:       make([]byte, samples*format.Channels*2),
		SampleRate: format.SampleRate,
		Channels:   format.Channels,
	}
}

// Concat joins frames of identical format into one frame carrying the first
// frame's PTS. Mixed formats are a programming error. An empty input yields
// the zero Frame.
func Concat(frames []Frame) (Frame, error) {
	if len(frames) == 0 {
		return Frame{}, nil
	}
	format := frames[0].Format()
	total := 0
	for i, f := range frames {
		if f.Format() != format {
			return Frame{}, fmt.Errorf("audio: concat frame %d has format %s, want %s", i, f.Format(), format)
		}
		total += len(f.Data)
	}
	data := make([]byte, 0, total)
	for _, f := range frames {
		data = append(data, f.Data...)
	}
	return Frame{
		Data:       data,
		SampleRate: format.SampleRate,
		Channels:   format.Channels,
		PTS:        frames[0].PTS,
	}, nil
}
