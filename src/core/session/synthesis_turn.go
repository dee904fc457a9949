package session

import (
	"strings"
	"sync"

	"speechlink-go/src/core/events"
	"speechlink-go/src/core/stream"
	"speechlink-go/src/core/utils"
)

// SynthesisState is the turn lifecycle for one synthesis request.
type SynthesisState int

const (
	SynthesisIdle SynthesisState = iota
	SynthesisAuthStarted
	SynthesisConnectionEstablishing
	SynthesisSynthesizing
	SynthesisEnded
)

// SynthesisTurn tracks one synthesis request: its output stream, byte
// counters, word-boundary text cursor and the completion signal the
// caller awaits.
type SynthesisTurn struct {
	mu     sync.Mutex
	logger *utils.Logger
	bus    *events.Bus

	requestID string
	state     SynthesisState
	// active is set from StartNewSynthesis until OnComplete; it blocks a
	// second synthesis independently of how far the state chain advanced.
	active bool

	rawText string
	isSSML  bool

	audioOutput   *stream.Stream[[]byte]
	allAudio      []byte
	bytesReceived int64

	textOffset          int
	nextSearchTextIndex int

	turnStartSeen bool

	done *utils.Deferred[[]byte]
}

func NewSynthesisTurn(logger *utils.Logger, bus *events.Bus) *SynthesisTurn {
	return &SynthesisTurn{logger: logger, bus: bus, state: SynthesisIdle}
}

func (t *SynthesisTurn) RequestID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.requestID
}

func (t *SynthesisTurn) State() SynthesisState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *SynthesisTurn) IsSynthesizing() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == SynthesisSynthesizing
}

// AudioOutput is the stream of synthesized audio chunks for this turn.
func (t *SynthesisTurn) AudioOutput() *stream.Stream[[]byte] {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.audioOutput
}

// Done settles with all synthesized audio once the turn completes.
func (t *SynthesisTurn) Done() *utils.Deferred[[]byte] {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done
}

// StartNewSynthesis arms a fresh turn. A still-active turn must complete
// first. The state then advances through AuthStarted and
// ConnectionEstablishing before audio may flow.
func (t *SynthesisTurn) StartNewSynthesis(requestID, rawText string, isSSML bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active {
		return utils.NewError(utils.KindTurn, "SynthesisTurn.StartNewSynthesis",
			"synthesis already in progress")
	}
	t.active = true
	t.requestID = requestID
	t.rawText = rawText
	t.isSSML = isSSML
	t.bytesReceived = 0
	t.allAudio = nil
	t.textOffset = 0
	t.nextSearchTextIndex = 0
	t.turnStartSeen = false
	t.audioOutput = stream.NewStream[[]byte]()
	t.done = utils.NewDeferred[[]byte]()
	t.state = SynthesisIdle
	return nil
}

func (t *SynthesisTurn) OnAuthStarted() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == SynthesisIdle || t.state == SynthesisEnded {
		t.state = SynthesisAuthStarted
	}
}

// OnPreConnectionStart emits a diagnostic event; no state change.
func (t *SynthesisTurn) OnPreConnectionStart() {
	t.mu.Lock()
	t.state = SynthesisConnectionEstablishing
	t.mu.Unlock()
	t.bus.Publish(events.TopicTelemetry, "synthesis.connection.start")
}

// OnConnectionEstablishCompleted handles the connect status: 200 begins
// synthesizing, 403 is terminal for this turn.
func (t *SynthesisTurn) OnConnectionEstablishCompleted(statusCode int) {
	switch statusCode {
	case 200:
		t.mu.Lock()
		t.bytesReceived = 0
		t.state = SynthesisSynthesizing
		t.mu.Unlock()
		t.bus.Publish(events.TopicSynthesisStarted, t.RequestID())
	case 403:
		t.OnComplete(utils.NewError(utils.KindAuth, "SynthesisTurn", "connection forbidden"))
	}
}

// OnServiceTurnStartResponse guards turn consistency. The first turn.start
// of a synthesis is expected; a second one arriving before turn.end means
// the service abandoned the current turn, so the still-pending completion
// is forcibly rejected rather than left hanging forever.
func (t *SynthesisTurn) OnServiceTurnStartResponse() {
	t.mu.Lock()
	seen := t.turnStartSeen
	t.turnStartSeen = true
	done := t.done
	t.mu.Unlock()
	if seen && done != nil && !done.Settled() {
		_ = done.Reject(utils.NewError(utils.KindTurn, "SynthesisTurn",
			"another turn started before current completed"))
	}
}

// OnAudioChunkReceived appends synthesized audio. Chunks arriving outside
// the synthesizing state are dropped.
func (t *SynthesisTurn) OnAudioChunkReceived(data []byte) {
	t.mu.Lock()
	if t.state != SynthesisSynthesizing {
		t.mu.Unlock()
		return
	}
	t.bytesReceived += int64(len(data))
	t.allAudio = append(t.allAudio, data...)
	out := t.audioOutput
	t.mu.Unlock()

	if out != nil {
		_ = out.Write(data)
	}
	t.bus.Publish(events.TopicSynthesizing, len(data))
}

func (t *SynthesisTurn) BytesReceived() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bytesReceived
}

// OnServiceTurnEndResponse ends the turn normally.
func (t *SynthesisTurn) OnServiceTurnEndResponse() {
	t.OnComplete(nil)
}

// OnStopSynthesizing ends the turn on client request.
func (t *SynthesisTurn) OnStopSynthesizing() {
	t.OnComplete(nil)
}

// OnComplete transitions to Ended, settles the completion deferred and
// closes the output stream.
func (t *SynthesisTurn) OnComplete(err error) {
	t.mu.Lock()
	if t.state == SynthesisEnded {
		t.mu.Unlock()
		return
	}
	t.state = SynthesisEnded
	t.active = false
	done := t.done
	out := t.audioOutput
	audio := t.allAudio
	t.mu.Unlock()

	if out != nil {
		out.Close()
	}
	if done != nil {
		if err != nil {
			_ = done.Reject(err)
		} else {
			_ = done.Resolve(audio)
		}
	}
	t.bus.Publish(events.TopicSynthesisCompleted, t.RequestID())
}

// TextOffset is the cursor of the most recent word boundary within the
// original raw text.
func (t *SynthesisTurn) TextOffset() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.textOffset
}

// OnWordBoundaryEvent advances the text cursor to the next occurrence of
// word in the raw text. For SSML input, a match landing inside an
// unclosed tag (a later "<" before the next ">") is skipped and the
// search retried past that span. Best effort: assumes boundary events
// arrive in text order and the word is a literal substring; repeated
// words inside markup may still confuse it.
func (t *SynthesisTurn) OnWordBoundaryEvent(word string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for {
		idx := strings.Index(t.rawText[min(t.nextSearchTextIndex, len(t.rawText)):], word)
		if idx < 0 {
			return
		}
		idx += t.nextSearchTextIndex
		t.textOffset = idx
		t.nextSearchTextIndex = idx + len(word)

		if !t.isSSML {
			return
		}
		nextOpen := strings.Index(t.rawText[idx+1:], "<")
		nextClose := strings.Index(t.rawText[idx+1:], ">")
		if nextOpen > nextClose {
			// Landed inside a tag; search again past it.
			continue
		}
		return
	}
}

func (t *SynthesisTurn) Bus() *events.Bus { return t.bus }
