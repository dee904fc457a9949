package audio

import (
	"context"
	"math"
	"sync"

	"speechlink-go/src/core/stream"
)

// bufferEntry records one chunk delivered by the wrapped node.
// Invariant: byte offsets are strictly increasing and contiguous:
// entry[i].byteOffset + len(entry[i].chunk.Buffer) == entry[i+1].byteOffset.
type bufferEntry struct {
	chunk      stream.Chunk[[]byte]
	serial     int64
	byteOffset int64
}

// ReplayableNode wraps a one-shot forward-only audio node and records
// every chunk it returns so delivery can be rewound after a reconnect.
// All offsets are expressed in 100ns ticks, the wire protocol's audio
// offset unit. Replayed bytes are byte-identical to the original reads;
// replay fully drains before falling through to live reads.
type ReplayableNode struct {
	mu   sync.Mutex
	node Node

	format StreamFormat

	entries          []bufferEntry
	nextSerial       int64
	totalBytes       int64
	bufferStartTicks int64
	lastShrinkTicks  int64
	replayTicks      int64
	replay           bool
}

func NewReplayableNode(node Node, format StreamFormat) *ReplayableNode {
	return &ReplayableNode{node: node, format: format}
}

func (r *ReplayableNode) ID() string { return r.node.ID() }

// Read returns buffered audio while replay is armed, then falls through to
// the wrapped node. Live reads are recorded with their running byte
// offset before being returned unchanged.
func (r *ReplayableNode) Read(ctx context.Context) (stream.Chunk[[]byte], error) {
	r.mu.Lock()
	if r.replay && len(r.entries) > 0 {
		if chunk, ok := r.readReplayLocked(); ok {
			r.mu.Unlock()
			return chunk, nil
		}
	}
	r.mu.Unlock()

	chunk, err := r.node.Read(ctx)
	if err != nil {
		return chunk, err
	}

	if !chunk.IsEnd && len(chunk.Buffer) > 0 {
		r.mu.Lock()
		r.entries = append(r.entries, bufferEntry{
			chunk:      chunk,
			serial:     r.nextSerial,
			byteOffset: r.totalBytes,
		})
		r.nextSerial++
		r.totalBytes += int64(len(chunk.Buffer))
		r.mu.Unlock()
	}
	return chunk, nil
}

// readReplayLocked slices buffered entries from the current replay
// position. Seek rounding can tear the first page: the slice starts
// mid-buffer when the replay offset does not land on an entry boundary.
// When the replay position is beyond everything buffered it disarms
// replay and reports !ok so the caller falls through to a live read.
func (r *ReplayableNode) readReplayLocked() (stream.Chunk[[]byte], bool) {
	bytesPerSecond := float64(r.format.AvgBytesPerSec())

	bytesToSeek := int64(math.Round(float64(r.replayTicks-r.bufferStartTicks) * bytesPerSecond / TicksPerSecond))
	if bytesToSeek%2 != 0 {
		bytesToSeek++
	}

	i := 0
	for i < len(r.entries) && bytesToSeek >= int64(len(r.entries[i].chunk.Buffer)) {
		bytesToSeek -= int64(len(r.entries[i].chunk.Buffer))
		i++
	}
	if i >= len(r.entries) {
		r.replay = false
		return stream.Chunk[[]byte]{}, false
	}

	entry := r.entries[i]
	sliced := entry.chunk.Buffer[bytesToSeek:]

	r.replayTicks += int64(float64(len(sliced)) / bytesPerSecond * TicksPerSecond)
	if i == len(r.entries)-1 {
		r.replay = false
	}

	return stream.Chunk[[]byte]{
		Buffer:       sliced,
		IsEnd:        false,
		TimeReceived: entry.chunk.TimeReceived,
	}, true
}

// Replay arms replay mode starting from the last shrink point. No-op when
// nothing is buffered.
func (r *ReplayableNode) Replay() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.entries) == 0 {
		return
	}
	r.replay = true
	r.replayTicks = r.lastShrinkTicks
}

// ShrinkBuffers discards whole entries that precede offset (in ticks) and
// records offset as the new replay anchor. The retained start offset is
// recomputed from the exact byte position, so fractional rounding loses
// replay precision rather than data.
func (r *ReplayableNode) ShrinkBuffers(offset int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.entries) == 0 {
		r.lastShrinkTicks = offset
		return
	}

	r.lastShrinkTicks = offset

	bytesPerSecond := float64(r.format.AvgBytesPerSec())
	bytesToShrink := int64(math.Round(float64(offset-r.bufferStartTicks) * bytesPerSecond / TicksPerSecond))
	if bytesToShrink%2 != 0 {
		bytesToShrink++
	}

	i := 0
	for i < len(r.entries) && bytesToShrink >= int64(len(r.entries[i].chunk.Buffer)) {
		bytesToShrink -= int64(len(r.entries[i].chunk.Buffer))
		i++
	}
	r.bufferStartTicks = offset - int64(float64(bytesToShrink)/bytesPerSecond*TicksPerSecond)
	r.entries = r.entries[i:]
}

// FindTimeAtOffset returns the receive time of the entry whose byte range
// contains offset (in ticks). Offsets before the retained window or beyond
// all buffered data yield the zero time.
func (r *ReplayableNode) FindTimeAtOffset(offset int64) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if offset < r.bufferStartTicks {
		return 0
	}
	bytesPerSecond := float64(r.format.AvgBytesPerSec())
	for _, entry := range r.entries {
		start := int64(float64(entry.byteOffset) / bytesPerSecond * TicksPerSecond)
		end := start + int64(float64(len(entry.chunk.Buffer))/bytesPerSecond*TicksPerSecond)
		if offset >= start && offset <= end {
			return entry.chunk.TimeReceived.UnixNano()
		}
	}
	return 0
}

// BufferedBytes reports how many bytes are currently retained.
func (r *ReplayableNode) BufferedBytes() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, e := range r.entries {
		n += int64(len(e.chunk.Buffer))
	}
	return n
}

// Detach releases buffered entries and forwards detach to the wrapped node.
func (r *ReplayableNode) Detach(ctx context.Context) error {
	r.mu.Lock()
	r.entries = nil
	r.replay = false
	r.mu.Unlock()
	return r.node.Detach(ctx)
}
