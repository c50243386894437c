package audio

import (
	"fmt"
	"sync"
)

// FIFO is a thread-safe byte queue of PCM audio in a single fixed format.
//
// The response player feeds synthesised utterances in and reads fixed-size
// frames out. Reads never return short frames — partial tails are only
// surfaced by [FIFO.Drain].
type FIFO struct {
	mu      sync.Mutex
	format  Format
	buf     []byte
	written int64 // samples per channel ever written
	read    int64 // samples per channel ever read
}

// NewFIFO returns an empty FIFO accepting frames of the given format.
func NewFIFO(format Format) *FIFO {
	return &FIFO{format: format}
}

// Write appends a frame. Frames must match the FIFO's format.
func (q *FIFO) Write(f Frame) error {
	if f.Format() != q.format {
		return fmt.Errorf("audio: fifo write format %s, want %s", f.Format(), q.format)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.buf = append(q.buf, f.Data...)
	q.written += int64(f.Samples())
	return nil
}

// Read pops exactly samples samples per channel. When fewer are buffered it
// pops nothing and reports false. The returned frame's PTS is the stream
// position of its first sample (samples read so far); callers that track
// their own timeline overwrite it.
func (q *FIFO) Read(samples int) (Frame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	need := samples * q.format.Channels * 2
	if samples <= 0 || len(q.buf) < need {
		return Frame{}, false
	}
	return q.pop(need), true
}

// Drain pops everything buffered, including a partial tail. An empty FIFO
// drains to the zero Frame.
func (q *FIFO) Drain() Frame {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.buf) == 0 {
		return Frame{}
	}
	return q.pop(len(q.buf))
}

// pop removes n bytes from the head. Caller holds q.mu.
func (q *FIFO) pop(n int) Frame {
	f := Frame{
		Data:       append([]byte(nil), q.buf[:n]...),
		SampleRate: q.format.SampleRate,
		Channels:   q.format.Channels,
		PTS:        q.read,
	}
	q.buf = q.buf[n:]
	q.read += int64(f.Samples())
	return f
}

// Reset discards buffered audio. The running write and read counters are
// deliberately kept: they describe stream history, not buffer contents.
func (q *FIFO) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.buf = nil
}

// Buffered returns the number of samples per channel currently queued.
func (q *FIFO) Buffered() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf) / (q.format.Channels * 2)
}

// SamplesWritten returns the running count of samples per channel ever
// written.
func (q *FIFO) SamplesWritten() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.written
}
