package session

import (
	"strings"
	"sync"
	"time"

	"speechlink-go/src/core/stream"
	"speechlink-go/src/core/utils"
)

// DefaultTurnInactivityTimeout force-completes a service-initiated turn
// whose completion message was lost, so it cannot pin resources forever.
const DefaultTurnInactivityTimeout = 2000 * time.Millisecond

// TurnState is one service-initiated dialog turn, keyed by the service's
// request id. Its audio output stream is created lazily on first access.
type TurnState struct {
	mu        sync.Mutex
	requestID string
	manager   *TurnStateManager

	audioStream *stream.Stream[[]byte]
	timer       *time.Timer
	completed   bool
}

func (t *TurnState) RequestID() string { return t.requestID }

// AudioStream returns the turn's audio output stream, creating it on
// first use. Every access re-arms the inactivity timer.
func (t *TurnState) AudioStream() *stream.Stream[[]byte] {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.completed {
		return nil
	}
	if t.audioStream == nil {
		t.audioStream = stream.NewStream[[]byte]()
	}
	t.rearmLocked()
	return t.audioStream
}

func (t *TurnState) rearmLocked() {
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(t.manager.inactivityTimeout, func() {
		// Lost turn.end; force-complete to release the stream.
		_ = t.manager.CompleteTurn(t.requestID)
	})
}

func (t *TurnState) complete() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.completed {
		return
	}
	t.completed = true
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	if t.audioStream != nil {
		t.audioStream.Close()
	}
}

// TurnStateManager tracks concurrently open service-initiated turns for
// dialog scenarios. Duplicate starts and unknown completions are protocol
// violations and fail loudly rather than being masked.
type TurnStateManager struct {
	mu                sync.Mutex
	turns             map[string]*TurnState
	inactivityTimeout time.Duration
}

func NewTurnStateManager(inactivityTimeout time.Duration) *TurnStateManager {
	if inactivityTimeout <= 0 {
		inactivityTimeout = DefaultTurnInactivityTimeout
	}
	return &TurnStateManager{
		turns:             make(map[string]*TurnState),
		inactivityTimeout: inactivityTimeout,
	}
}

// StartTurn registers a new turn. At most one turn state exists per
// request id; a duplicate start is an error.
func (m *TurnStateManager) StartTurn(requestID string) (*TurnState, error) {
	key := strings.ToUpper(requestID)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.turns[key]; exists {
		return nil, utils.NewError(utils.KindTurn, "TurnStateManager.StartTurn",
			"turn already started for request id "+key)
	}
	t := &TurnState{requestID: key, manager: m}
	t.mu.Lock()
	t.rearmLocked()
	t.mu.Unlock()
	m.turns[key] = t
	return t, nil
}

// GetTurn returns the tracked state, or nil when untracked/completed.
func (m *TurnStateManager) GetTurn(requestID string) *TurnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.turns[strings.ToUpper(requestID)]
}

// CompleteTurn finalizes and removes a tracked turn. Completing an
// unknown id is an error.
func (m *TurnStateManager) CompleteTurn(requestID string) error {
	key := strings.ToUpper(requestID)
	m.mu.Lock()
	t, exists := m.turns[key]
	if exists {
		delete(m.turns, key)
	}
	m.mu.Unlock()
	if !exists {
		return utils.NewError(utils.KindTurn, "TurnStateManager.CompleteTurn",
			"no turn tracked for request id "+key)
	}
	t.complete()
	return nil
}

// CompleteAll finalizes every tracked turn; used on adapter disposal.
func (m *TurnStateManager) CompleteAll() {
	m.mu.Lock()
	turns := m.turns
	m.turns = make(map[string]*TurnState)
	m.mu.Unlock()
	for _, t := range turns {
		t.complete()
	}
}
