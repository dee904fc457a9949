package audio

import (
	"context"

	"speechlink-go/src/core/events"
	"speechlink-go/src/core/stream"
)

// Node is a forward-only cursor over one attachment to an audio source.
type Node interface {
	ID() string
	// Read returns the next audio chunk. A terminal chunk has IsEnd set.
	Read(ctx context.Context) (stream.Chunk[[]byte], error)
	// Detach releases the node's subscription on the source.
	Detach(ctx context.Context) error
}

// DeviceInfo describes the source for telemetry.
type DeviceInfo struct {
	Name         string
	Model        string
	Connectivity string
}

// Source is the audio input collaborator consumed by the adapters. A
// source is owned by the recognizer for the duration of one attempt.
type Source interface {
	ID() string
	Format() (StreamFormat, error)
	Attach(ctx context.Context, audioNodeID string) (Node, error)
	Detach(audioNodeID string)
	DeviceInfo() DeviceInfo
	Events() *events.Bus
	// Close releases the source; attached nodes drain and then end.
	Close() error
}

// streamNode adapts a stream reader into a Node.
type streamNode struct {
	id     string
	reader *stream.Reader[[]byte]
	detach func()
}

func (n *streamNode) ID() string { return n.id }

func (n *streamNode) Read(ctx context.Context) (stream.Chunk[[]byte], error) {
	return n.reader.Read(ctx)
}

func (n *streamNode) Detach(ctx context.Context) error {
	n.reader.Close()
	if n.detach != nil {
		n.detach()
	}
	return nil
}
