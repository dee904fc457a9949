package audio

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"speechlink-go/src/core/stream"
)

// fakeNode serves a fixed sequence of chunks and then a terminal chunk.
type fakeNode struct {
	id     string
	chunks [][]byte
	pos    int
}

func (n *fakeNode) ID() string { return n.id }

func (n *fakeNode) Read(ctx context.Context) (stream.Chunk[[]byte], error) {
	if n.pos >= len(n.chunks) {
		return stream.Chunk[[]byte]{IsEnd: true}, nil
	}
	chunk := stream.Chunk[[]byte]{Buffer: n.chunks[n.pos], TimeReceived: time.Now()}
	n.pos++
	return chunk, nil
}

func (n *fakeNode) Detach(ctx context.Context) error { return nil }

func patternChunks(chunkSize, count int) [][]byte {
	chunks := make([][]byte, count)
	b := 0
	for i := range chunks {
		chunk := make([]byte, chunkSize)
		for j := range chunk {
			chunk[j] = byte(b % 256)
			b++
		}
		chunks[i] = chunk
	}
	return chunks
}

func drainAll(t *testing.T, node *ReplayableNode) []byte {
	t.Helper()
	var out []byte
	for {
		chunk, err := node.Read(context.Background())
		require.NoError(t, err)
		if chunk.IsEnd {
			return out
		}
		out = append(out, chunk.Buffer...)
	}
}

func TestReplayableNode_LiveReadsPassThrough(t *testing.T) {
	format := DefaultFormat()
	chunks := patternChunks(3200, 4)
	node := NewReplayableNode(&fakeNode{id: "n1", chunks: chunks}, format)

	out := drainAll(t, node)

	assert.Len(t, out, 4*3200, "Every live byte must pass through unchanged")
	for i, b := range out {
		require.Equal(t, byte(i%256), b, "byte %d", i)
	}
	assert.Equal(t, int64(4*3200), node.BufferedBytes(), "All chunks should be retained for replay")
}

func TestReplayableNode_ReplayFromStartResendsEverything(t *testing.T) {
	format := DefaultFormat()
	chunks := patternChunks(3200, 3)
	node := NewReplayableNode(&fakeNode{id: "n1", chunks: chunks}, format)

	first := drainAll(t, node)
	node.Replay()
	second := drainAll(t, node)

	assert.Equal(t, first, second, "Replay with no acknowledged audio must resend every byte")
}

func TestReplayableNode_ShrinkOnChunkBoundaryDropsAcknowledged(t *testing.T) {
	format := DefaultFormat() // 32000 bytes/sec
	chunks := patternChunks(3200, 3)
	node := NewReplayableNode(&fakeNode{id: "n1", chunks: chunks}, format)

	full := drainAll(t, node)

	// 3200 bytes at 32000 B/s is exactly 0.1s = 1_000_000 ticks.
	node.ShrinkBuffers(1_000_000)
	assert.Equal(t, int64(2*3200), node.BufferedBytes(), "The acknowledged first chunk should be discarded")

	node.Replay()
	replayed := drainAll(t, node)
	assert.Equal(t, full[3200:], replayed, "Replay must resume at the acknowledged offset")
}

func TestReplayableNode_ReplaySeekTearsPage(t *testing.T) {
	format := DefaultFormat()
	chunks := patternChunks(3200, 2)
	node := NewReplayableNode(&fakeNode{id: "n1", chunks: chunks}, format)

	full := drainAll(t, node)

	// Acknowledge half of the first chunk: 1600 bytes = 0.05s = 500_000
	// ticks. The replay slice must start mid-buffer.
	node.ShrinkBuffers(500_000)
	assert.Equal(t, int64(2*3200), node.BufferedBytes(), "No whole entry precedes the offset, nothing is discarded")

	node.Replay()
	replayed := drainAll(t, node)
	assert.Equal(t, full[1600:], replayed, "Replay must start inside the torn page")
}

func TestReplayableNode_ShrinkWithEmptyBufferOnlyMovesAnchor(t *testing.T) {
	format := DefaultFormat()
	node := NewReplayableNode(&fakeNode{id: "n1"}, format)

	node.ShrinkBuffers(1_000_000)
	node.Replay()

	chunk, err := node.Read(context.Background())
	require.NoError(t, err)
	assert.True(t, chunk.IsEnd, "With nothing buffered, reads fall through to the live node")
}

func TestReplayableNode_ReplayBeyondBufferFallsThroughToLive(t *testing.T) {
	format := DefaultFormat()
	chunks := patternChunks(3200, 2)
	node := NewReplayableNode(&fakeNode{id: "n1", chunks: chunks}, format)

	// Move the replay anchor past the first chunk before anything is
	// buffered, then read only that chunk. The armed replay position now
	// lands beyond every retained entry.
	node.ShrinkBuffers(1_000_000)
	first, err := node.Read(context.Background())
	require.NoError(t, err)
	require.Equal(t, chunks[0], first.Buffer)

	node.Replay()
	chunk, err := node.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, chunks[1], chunk.Buffer, "A replay position past the buffer must yield the next live chunk")

	chunk, err = node.Read(context.Background())
	require.NoError(t, err)
	assert.True(t, chunk.IsEnd, "Replay stays disarmed after falling through")
}

func TestReplayableNode_FindTimeAtOffset(t *testing.T) {
	format := DefaultFormat()
	chunks := patternChunks(3200, 2)
	node := NewReplayableNode(&fakeNode{id: "n1", chunks: chunks}, format)
	drainAll(t, node)

	// 500_000 ticks is inside the first chunk's byte range.
	assert.NotZero(t, node.FindTimeAtOffset(500_000), "Offset inside buffered audio has a receive time")
	assert.Zero(t, node.FindTimeAtOffset(99_000_000), "Offset beyond buffered audio has no receive time")

	// Discard the first chunk; its offsets fall before the retained window.
	node.ShrinkBuffers(1_000_000)
	assert.Zero(t, node.FindTimeAtOffset(500_000), "Offsets before the retained window have no receive time")
}

func TestReplayableNode_DetachReleasesBuffers(t *testing.T) {
	format := DefaultFormat()
	chunks := patternChunks(3200, 2)
	node := NewReplayableNode(&fakeNode{id: "n1", chunks: chunks}, format)
	drainAll(t, node)

	require.NoError(t, node.Detach(context.Background()))
	assert.Zero(t, node.BufferedBytes())
}
