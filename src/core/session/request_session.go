package session

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"speechlink-go/src/core/audio"
	"speechlink-go/src/core/events"
	"speechlink-go/src/core/utils"

	"github.com/google/uuid"
)

// newRequestID returns a request id in the wire protocol's preferred
// shape: uppercase, no dashes.
func newRequestID() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
}

// RequestSession tracks one recognition attempt. Exactly one live session
// exists per in-flight attempt; continuous recognition renews the logical
// turn inside the same session after each turn.end.
type RequestSession struct {
	mu     sync.Mutex
	logger *utils.Logger
	bus    *events.Bus

	sessionID     string
	audioSourceID string
	audioNodeID   string

	requestID string
	// recogNumber invalidates stale in-flight send loops when a new
	// attempt supersedes an old one.
	recogNumber atomic.Int32

	audioNode *audio.ReplayableNode

	turnAudioOffset int64 // 100ns ticks acknowledged by the service
	bytesSent       int64
	hypothesisCount int
	phraseCount     int

	isRecognizing bool
	isSpeechEnded bool
	disposed      bool

	turnDone *utils.Deferred[struct{}]
}

func NewRequestSession(audioSourceID string, logger *utils.Logger, bus *events.Bus) *RequestSession {
	return &RequestSession{
		logger:        logger,
		bus:           bus,
		sessionID:     uuid.NewString(),
		audioSourceID: audioSourceID,
		requestID:     newRequestID(),
	}
}

func (s *RequestSession) SessionID() string { return s.sessionID }

func (s *RequestSession) RequestID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requestID
}

func (s *RequestSession) RecogNumber() int32 { return s.recogNumber.Load() }

func (s *RequestSession) AudioNodeID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audioNodeID
}

func (s *RequestSession) IsRecognizing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRecognizing
}

func (s *RequestSession) IsSpeechEnded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isSpeechEnded
}

func (s *RequestSession) TurnAudioOffset() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turnAudioOffset
}

func (s *RequestSession) BytesSent() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytesSent
}

// StartNewRecognition begins a fresh attempt: new request id, bumped
// recogNumber (stale send loops self-terminate), counters reset.
func (s *RequestSession) StartNewRecognition() {
	s.mu.Lock()
	s.requestID = newRequestID()
	s.turnAudioOffset = 0
	s.bytesSent = 0
	s.hypothesisCount = 0
	s.phraseCount = 0
	s.isRecognizing = true
	s.isSpeechEnded = false
	s.turnDone = utils.NewDeferred[struct{}]()
	s.recogNumber.Add(1)
	s.mu.Unlock()

	s.bus.Publish(events.TopicSessionStarted, events.ConnectionEvent{
		SessionID: s.sessionID,
		Timestamp: time.Now(),
	})
	s.logger.DebugTag("TURN", "new recognition requestId=%s recogNumber=%d",
		s.RequestID(), s.recogNumber.Load())
}

// OnAudioSourceAttachCompleted records the replayable node feeding this
// attempt.
func (s *RequestSession) OnAudioSourceAttachCompleted(node *audio.ReplayableNode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audioNode = node
	s.audioNodeID = node.ID()
}

func (s *RequestSession) AudioNode() *audio.ReplayableNode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audioNode
}

func (s *RequestSession) OnAudioSent(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bytesSent += int64(n)
}

func (s *RequestSession) OnTurnStart() {
	s.logger.DebugTag("TURN", "turn.start requestId=%s", s.RequestID())
}

func (s *RequestSession) OnSpeechStartDetected(offset int64) {
	s.bus.Publish(events.TopicSpeechStartDetected, offset)
}

// OnSpeechEndDetected marks the drain phase: further audio read failures
// are benign races, not errors.
func (s *RequestSession) OnSpeechEndDetected(offset int64) {
	s.mu.Lock()
	s.isSpeechEnded = true
	s.mu.Unlock()
	s.bus.Publish(events.TopicSpeechEndDetected, offset)
}

func (s *RequestSession) OnHypothesis(offset int64) {
	s.mu.Lock()
	s.hypothesisCount++
	s.mu.Unlock()
}

// OnPhraseRecognized treats offset+duration as service-acknowledged audio:
// the replay buffer shrinks to that point so a later reconnect replays
// only unacknowledged audio.
func (s *RequestSession) OnPhraseRecognized(offsetEnd int64) {
	s.mu.Lock()
	s.phraseCount++
	s.turnAudioOffset = offsetEnd
	node := s.audioNode
	s.mu.Unlock()
	if node != nil {
		node.ShrinkBuffers(offsetEnd)
	}
}

// OnServiceTurnEndResponse completes the current turn. In continuous mode
// with audio still flowing, the session renews itself for the next turn
// and reports renewed=true.
func (s *RequestSession) OnServiceTurnEndResponse(continuous bool) (renewed bool) {
	s.mu.Lock()
	turnDone := s.turnDone
	speechEnded := s.isSpeechEnded
	s.mu.Unlock()

	if turnDone != nil {
		_ = turnDone.Resolve(struct{}{})
	}

	if continuous && !speechEnded {
		s.mu.Lock()
		s.requestID = newRequestID()
		s.hypothesisCount = 0
		s.phraseCount = 0
		s.turnDone = utils.NewDeferred[struct{}]()
		s.mu.Unlock()
		s.logger.DebugTag("TURN", "turn renewed requestId=%s", s.RequestID())
		return true
	}

	s.mu.Lock()
	s.isRecognizing = false
	s.mu.Unlock()
	s.bus.Publish(events.TopicSessionStopped, events.ConnectionEvent{
		SessionID: s.sessionID,
		Timestamp: time.Now(),
	})
	return false
}

// OnStopRecognizing ends the attempt from the client side.
func (s *RequestSession) OnStopRecognizing() {
	s.mu.Lock()
	s.isRecognizing = false
	turnDone := s.turnDone
	s.mu.Unlock()
	if turnDone != nil {
		_ = turnDone.Resolve(struct{}{})
	}
}

// TurnDone exposes the current turn's completion signal.
func (s *RequestSession) TurnDone() *utils.Deferred[struct{}] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turnDone
}

func (s *RequestSession) Dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	s.isRecognizing = false
	node := s.audioNode
	s.audioNode = nil
	s.mu.Unlock()
	if node != nil {
		_ = node.Detach(context.Background())
	}
}
