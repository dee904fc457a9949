package audio

import (
	"context"

	"speechlink-go/src/core/events"
	"speechlink-go/src/core/stream"

	"github.com/google/uuid"
)

// PushSource lets the application write raw PCM into the pipeline. Writes
// are repackaged into ~100ms chunks; CloseStream signals end of audio.
type PushSource struct {
	id     string
	format StreamFormat
	chunks *stream.ChunkedByteStream
	bus    *events.Bus
}

func NewPushSource(format StreamFormat) *PushSource {
	return &PushSource{
		id:     uuid.NewString(),
		format: format,
		chunks: stream.NewChunkedByteStream(format.AvgBytesPerSec() / 10),
		bus:    events.NewBus(),
	}
}

func (s *PushSource) ID() string { return s.id }

func (s *PushSource) Format() (StreamFormat, error) { return s.format, nil }

func (s *PushSource) DeviceInfo() DeviceInfo {
	return DeviceInfo{Name: "PushStream", Connectivity: "stream"}
}

func (s *PushSource) Events() *events.Bus { return s.bus }

// Write appends PCM bytes from the application.
func (s *PushSource) Write(data []byte) error {
	return s.chunks.Write(data)
}

// CloseStream marks that the application will write no more audio.
func (s *PushSource) CloseStream() {
	s.chunks.Close()
}

func (s *PushSource) Attach(ctx context.Context, audioNodeID string) (Node, error) {
	return &streamNode{id: audioNodeID, reader: s.chunks.GetReader()}, nil
}

func (s *PushSource) Detach(audioNodeID string) {}

func (s *PushSource) Close() error {
	s.chunks.Dispose()
	return nil
}
