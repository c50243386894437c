package audio

import (
	"encoding/binary"
	"fmt"
)

// EncodeWAV wraps a frame's PCM payload in a canonical 44-byte RIFF/WAVE
// header (PCM, 16-bit). Upload-style STT endpoints want a container, not
// bare samples.
func EncodeWAV(f Frame) []byte {
	dataLen := len(f.Data)
	buf := make([]byte, 44+dataLen)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataLen))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(f.Channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(f.SampleRate*f.Channels*2))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(f.Channels*2))
	binary.LittleEndian.PutUint16(buf[34:36], 16)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataLen))
	copy(buf[44:], f.Data)

	return buf
}

// DecodeWAV parses a RIFF/WAVE container holding 16-bit PCM and returns the
// payload as a frame. Google TTS hands back LINEAR16 in exactly this shape.
// Chunks other than "fmt " and "data" (LIST, fact, ...) are skipped.
func DecodeWAV(b []byte) (Frame, error) {
	if len(b) < 12 || string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return Frame{}, fmt.Errorf("audio: not a RIFF/WAVE container")
	}

	var (
		format  Format
		haveFmt bool
	)
	off := 12
	for off+8 <= len(b) {
		chunkID := string(b[off : off+4])
		chunkLen := int(binary.LittleEndian.Uint32(b[off+4 : off+8]))
		body := off + 8
		if body+chunkLen > len(b) {
			return Frame{}, fmt.Errorf("audio: truncated %q chunk", chunkID)
		}

		switch chunkID {
		case "fmt ":
			if chunkLen < 16 {
				return Frame{}, fmt.Errorf("audio: fmt chunk too short: %d bytes", chunkLen)
			}
			audioFormat := binary.LittleEndian.Uint16(b[body : body+2])
			if audioFormat != 1 {
				return Frame{}, fmt.Errorf("audio: unsupported WAV format code %d (want PCM)", audioFormat)
			}
			bits := binary.LittleEndian.Uint16(b[body+14 : body+16])
			if bits != 16 {
				return Frame{}, fmt.Errorf("audio: unsupported bit depth %d (want 16)", bits)
			}
			format.Channels = int(binary.LittleEndian.Uint16(b[body+2 : body+4]))
			format.SampleRate = int(binary.LittleEndian.Uint32(b[body+4 : body+8]))
			haveFmt = true
		case "data":
			if !haveFmt {
				return Frame{}, fmt.Errorf("audio: data chunk before fmt chunk")
			}
			data := make([]byte, chunkLen)
			copy(data, b[body:body+chunkLen])
			return Frame{Data: data, SampleRate: format.SampleRate, Channels: format.Channels}, nil
		}

		// Chunks are word-aligned; odd lengths carry a pad byte.
		off = body + chunkLen + chunkLen%2
	}

	return Frame{}, fmt.Errorf("audio: no data chunk found")
}
