// Package audio provides the audio input pipeline: stream formats, file
// sources and the replayable node that makes reconnect-with-resend
// possible.
package audio

import (
	"encoding/binary"
	"fmt"
)

// TicksPerSecond is the 100ns tick unit used by the wire protocol for all
// audio offsets.
const TicksPerSecond = 10_000_000

const wavHeaderSize = 44

// StreamFormat describes raw PCM audio.
type StreamFormat struct {
	SampleRate    int
	BitsPerSample int
	Channels      int
}

// DefaultFormat is 16kHz 16-bit mono, the service's preferred input.
func DefaultFormat() StreamFormat {
	return StreamFormat{SampleRate: 16000, BitsPerSample: 16, Channels: 1}
}

func (f StreamFormat) AvgBytesPerSec() int {
	return f.SampleRate * f.BitsPerSample / 8 * f.Channels
}

func (f StreamFormat) BlockAlign() int {
	return f.Channels * f.BitsPerSample / 8
}

// BytesToTicks converts a byte count to 100ns ticks at this format's rate.
func (f StreamFormat) BytesToTicks(n int64) int64 {
	return int64(float64(n) / float64(f.AvgBytesPerSec()) * TicksPerSecond)
}

// TicksToBytes converts 100ns ticks to a byte count, rounded to the
// nearest even count so the position stays sample-aligned for 16-bit PCM.
func (f StreamFormat) TicksToBytes(ticks int64) int64 {
	b := int64(float64(ticks) * float64(f.AvgBytesPerSec()) / TicksPerSecond)
	if b%2 != 0 {
		b++
	}
	return b
}

// WAVHeader builds the 44-byte RIFF header for dataLen bytes of PCM.
// Fields at offsets 4 and 40 can be patched later via PatchWAVLengths
// once the final audio length is known.
func (f StreamFormat) WAVHeader(dataLen uint32) []byte {
	h := make([]byte, wavHeaderSize)
	copy(h[0:4], "RIFF")
	binary.LittleEndian.PutUint32(h[4:8], dataLen+wavHeaderSize-8)
	copy(h[8:16], "WAVEfmt ")
	binary.LittleEndian.PutUint32(h[16:20], 16)
	binary.LittleEndian.PutUint16(h[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(h[22:24], uint16(f.Channels))
	binary.LittleEndian.PutUint32(h[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(h[28:32], uint32(f.AvgBytesPerSec()))
	binary.LittleEndian.PutUint16(h[32:34], uint16(f.BlockAlign()))
	binary.LittleEndian.PutUint16(h[34:36], uint16(f.BitsPerSample))
	copy(h[36:40], "data")
	binary.LittleEndian.PutUint32(h[40:44], dataLen)
	return h
}

// PatchWAVLengths rewrites the two length fields in an already-built
// header once the final data length is known.
func PatchWAVLengths(header []byte, dataLen uint32) error {
	if len(header) < wavHeaderSize {
		return fmt.Errorf("wav header too short: %d bytes", len(header))
	}
	binary.LittleEndian.PutUint32(header[4:8], dataLen+wavHeaderSize-8)
	binary.LittleEndian.PutUint32(header[40:44], dataLen)
	return nil
}

// ParseWAVHeader extracts the stream format and declared data length from
// a 44-byte canonical RIFF header.
func ParseWAVHeader(header []byte) (StreamFormat, uint32, error) {
	if len(header) < wavHeaderSize {
		return StreamFormat{}, 0, fmt.Errorf("wav header too short: %d bytes", len(header))
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return StreamFormat{}, 0, fmt.Errorf("not a RIFF/WAVE header")
	}
	if binary.LittleEndian.Uint16(header[20:22]) != 1 {
		return StreamFormat{}, 0, fmt.Errorf("only PCM wav is supported")
	}
	f := StreamFormat{
		Channels:      int(binary.LittleEndian.Uint16(header[22:24])),
		SampleRate:    int(binary.LittleEndian.Uint32(header[24:28])),
		BitsPerSample: int(binary.LittleEndian.Uint16(header[34:36])),
	}
	dataLen := binary.LittleEndian.Uint32(header[40:44])
	if f.Channels == 0 || f.SampleRate == 0 || f.BitsPerSample == 0 {
		return StreamFormat{}, 0, fmt.Errorf("invalid wav format fields")
	}
	return f, dataLen, nil
}
