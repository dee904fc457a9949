package stream

import "sync"

// ChunkedByteStream repackages arbitrary-sized writes into buffers of a
// fixed target size before handing them to the underlying byte stream.
// The target size is typically avgBytesPerSec/10, i.e. ~100ms of audio,
// which bounds per-message network overhead and keeps upload granularity
// predictable.
type ChunkedByteStream struct {
	*Stream[[]byte]

	mu         sync.Mutex
	targetSize int
	partial    []byte
}

func NewChunkedByteStream(targetSize int) *ChunkedByteStream {
	if targetSize <= 0 {
		targetSize = 3200 // 100ms of 16kHz/16bit mono
	}
	return &ChunkedByteStream{
		Stream:     NewStream[[]byte](),
		targetSize: targetSize,
	}
}

// TargetSize is the fixed chunk size produced by this stream.
func (c *ChunkedByteStream) TargetSize() int {
	return c.targetSize
}

// Write slices data into targetSize chunks, buffering any remainder until
// a later write or Close completes it. Byte order is preserved across
// arbitrary write boundaries.
func (c *ChunkedByteStream) Write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for len(data) > 0 {
		room := c.targetSize - len(c.partial)
		if room > len(data) {
			room = len(data)
		}
		c.partial = append(c.partial, data[:room]...)
		data = data[room:]

		if len(c.partial) == c.targetSize {
			if err := c.Stream.Write(c.partial); err != nil {
				return err
			}
			c.partial = make([]byte, 0, c.targetSize)
		}
	}
	return nil
}

// Close flushes any partial chunk and closes the underlying stream.
func (c *ChunkedByteStream) Close() {
	c.mu.Lock()
	if len(c.partial) > 0 {
		// Last chunk may be shorter than targetSize.
		_ = c.Stream.Write(c.partial)
		c.partial = nil
	}
	c.mu.Unlock()
	c.Stream.Close()
}
