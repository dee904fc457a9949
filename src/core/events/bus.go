// Package events carries cross-cutting notifications (diagnostics,
// telemetry) off the main data path.
package events

import (
	"time"

	evbus "github.com/asaskevich/EventBus"
)

// Topics published by the SDK core.
const (
	TopicConnectionEstablished = "connection.established"
	TopicConnectionClosed      = "connection.closed"
	TopicConnectionFailure     = "connection.failure"
	TopicMessageSent           = "message.sent"
	TopicMessageReceived       = "message.received"
	TopicSessionStarted        = "session.started"
	TopicSessionStopped        = "session.stopped"
	TopicSpeechStartDetected   = "speech.startdetected"
	TopicSpeechEndDetected     = "speech.enddetected"
	TopicRecognizing           = "recognition.recognizing"
	TopicRecognized            = "recognition.recognized"
	TopicCanceled              = "recognition.canceled"
	TopicSynthesisStarted      = "synthesis.started"
	TopicSynthesizing          = "synthesis.synthesizing"
	TopicSynthesisCompleted    = "synthesis.completed"
	TopicWordBoundary          = "synthesis.wordboundary"
	TopicActivityReceived      = "dialog.activityreceived"
	TopicTelemetry             = "telemetry"
)

// ConnectionEvent describes a connection lifecycle notification.
type ConnectionEvent struct {
	SessionID  string
	StatusCode int
	Reason     string
	Timestamp  time.Time
}

// MessageEvent describes one framed message crossing the wire.
type MessageEvent struct {
	SessionID string
	RequestID string
	Path      string
	Binary    bool
	Size      int
	Timestamp time.Time
}

// Bus is an instance-scoped publish/subscribe channel. Unlike a
// process-global bus, each recognizer owns its own instance so telemetry
// enablement is per construction, not process-wide state.
type Bus struct {
	bus evbus.Bus
}

func NewBus() *Bus {
	return &Bus{bus: evbus.New()}
}

func (b *Bus) Publish(topic string, args ...interface{}) {
	b.bus.Publish(topic, args...)
}

func (b *Bus) Subscribe(topic string, fn interface{}) error {
	return b.bus.Subscribe(topic, fn)
}

func (b *Bus) SubscribeAsync(topic string, fn interface{}) error {
	return b.bus.SubscribeAsync(topic, fn, false)
}

func (b *Bus) Unsubscribe(topic string, fn interface{}) error {
	return b.bus.Unsubscribe(topic, fn)
}

// WaitAsync blocks until all async callbacks complete. Used by tests and
// orderly shutdown.
func (b *Bus) WaitAsync() {
	b.bus.WaitAsync()
}
