package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamFormat_AvgBytesPerSec(t *testing.T) {
	f := DefaultFormat()
	assert.Equal(t, 32000, f.AvgBytesPerSec())

	stereo := StreamFormat{SampleRate: 44100, BitsPerSample: 16, Channels: 2}
	assert.Equal(t, 176400, stereo.AvgBytesPerSec())
}

func TestStreamFormat_TicksToBytesRoundsEven(t *testing.T) {
	f := DefaultFormat()

	// 1 second of 16kHz/16bit mono is exactly 32000 bytes.
	assert.Equal(t, int64(32000), f.TicksToBytes(TicksPerSecond))

	// 1000 ticks is 3.2 bytes; the odd truncation result bumps to the next
	// even count so 16-bit samples never split.
	assert.Equal(t, int64(4), f.TicksToBytes(1000), "Byte positions must stay sample-aligned")
}

func TestStreamFormat_BytesToTicksRoundTrip(t *testing.T) {
	f := DefaultFormat()
	ticks := f.BytesToTicks(16000)
	assert.Equal(t, int64(TicksPerSecond/2), ticks, "16000 bytes is half a second")
}

func TestWAVHeader_RoundTrip(t *testing.T) {
	f := StreamFormat{SampleRate: 22050, BitsPerSample: 16, Channels: 2}
	header := f.WAVHeader(12345)

	parsed, dataLen, err := ParseWAVHeader(header)
	require.NoError(t, err)
	assert.Equal(t, f, parsed)
	assert.Equal(t, uint32(12345), dataLen)
}

func TestPatchWAVLengths(t *testing.T) {
	f := DefaultFormat()
	header := f.WAVHeader(0)

	require.NoError(t, PatchWAVLengths(header, 64000))

	_, dataLen, err := ParseWAVHeader(header)
	require.NoError(t, err)
	assert.Equal(t, uint32(64000), dataLen)
}

func TestParseWAVHeader_RejectsGarbage(t *testing.T) {
	_, _, err := ParseWAVHeader([]byte("not a wav header, nowhere near 44 b"))
	assert.Error(t, err)

	bad := DefaultFormat().WAVHeader(0)
	copy(bad[0:4], "OGGS")
	_, _, err = ParseWAVHeader(bad)
	assert.Error(t, err)
}
