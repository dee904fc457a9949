package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"speechlink-go/src/core/events"
	"speechlink-go/src/core/utils"
)

func newTestSynthesisTurn(t *testing.T) *SynthesisTurn {
	t.Helper()
	logger, err := utils.NewLogger(nil)
	require.NoError(t, err)
	return NewSynthesisTurn(logger, events.NewBus())
}

func TestSynthesisTurn_Lifecycle(t *testing.T) {
	turn := newTestSynthesisTurn(t)

	require.NoError(t, turn.StartNewSynthesis("REQ1", "hello world", false))
	assert.Equal(t, SynthesisIdle, turn.State())

	turn.OnAuthStarted()
	assert.Equal(t, SynthesisAuthStarted, turn.State())

	turn.OnPreConnectionStart()
	assert.Equal(t, SynthesisConnectionEstablishing, turn.State())

	turn.OnConnectionEstablishCompleted(200)
	assert.True(t, turn.IsSynthesizing(), "A 200 connect moves the turn to synthesizing")

	turn.OnAudioChunkReceived([]byte{1, 2, 3})
	turn.OnAudioChunkReceived([]byte{4, 5})
	assert.Equal(t, int64(5), turn.BytesReceived())

	turn.OnServiceTurnEndResponse()
	assert.Equal(t, SynthesisEnded, turn.State())

	audio, err := turn.Done().Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4, 5}, audio, "Completion settles with all received audio")
}

func TestSynthesisTurn_StartWhileRunningFails(t *testing.T) {
	turn := newTestSynthesisTurn(t)

	require.NoError(t, turn.StartNewSynthesis("REQ1", "one", false))
	err := turn.StartNewSynthesis("REQ2", "two", false)
	assert.Error(t, err, "A second synthesis may not start before the first ends")

	turn.OnStopSynthesizing()
	assert.NoError(t, turn.StartNewSynthesis("REQ2", "two", false), "Restart after end is legal")
}

func TestSynthesisTurn_AudioOutsideSynthesizingDropped(t *testing.T) {
	turn := newTestSynthesisTurn(t)

	require.NoError(t, turn.StartNewSynthesis("REQ1", "text", false))
	turn.OnAudioChunkReceived([]byte{9})
	assert.Zero(t, turn.BytesReceived(), "Audio before the connection is established is discarded")

	turn.OnConnectionEstablishCompleted(200)
	turn.OnStopSynthesizing()

	turn.OnAudioChunkReceived([]byte{9, 9, 9})
	assert.Zero(t, turn.BytesReceived(), "Late audio after the turn ended is discarded")
}

func TestSynthesisTurn_WordBoundaryPlainText(t *testing.T) {
	turn := newTestSynthesisTurn(t)
	require.NoError(t, turn.StartNewSynthesis("REQ1", "the cat sat on the mat", false))

	turn.OnWordBoundaryEvent("the")
	assert.Equal(t, 0, turn.TextOffset())

	turn.OnWordBoundaryEvent("cat")
	assert.Equal(t, 4, turn.TextOffset())

	// Repeated word: the search resumes past the previous match.
	turn.OnWordBoundaryEvent("the")
	assert.Equal(t, 15, turn.TextOffset())
}

func TestSynthesisTurn_WordBoundarySkipsSSMLTags(t *testing.T) {
	turn := newTestSynthesisTurn(t)
	raw := `<speak><voice name="hello">hello world</voice></speak>`
	require.NoError(t, turn.StartNewSynthesis("REQ1", raw, true))

	// "hello" first occurs inside the voice tag's attribute; the match
	// inside the unclosed tag is skipped.
	turn.OnWordBoundaryEvent("hello")
	assert.Equal(t, 27, turn.TextOffset(), "Boundary must land on the spoken text, not the markup")

	turn.OnWordBoundaryEvent("world")
	assert.Equal(t, 33, turn.TextOffset())
}

func TestSynthesisTurn_WordBoundaryMissingWordLeavesCursor(t *testing.T) {
	turn := newTestSynthesisTurn(t)
	require.NoError(t, turn.StartNewSynthesis("REQ1", "alpha beta", false))

	turn.OnWordBoundaryEvent("alpha")
	before := turn.TextOffset()
	turn.OnWordBoundaryEvent("gamma")
	assert.Equal(t, before, turn.TextOffset(), "An unmatched word must not move the cursor")
}

func TestSynthesisTurn_SecondTurnStartRejectsPendingCompletion(t *testing.T) {
	turn := newTestSynthesisTurn(t)

	require.NoError(t, turn.StartNewSynthesis("REQ1", "text", false))
	turn.OnConnectionEstablishCompleted(200)
	done := turn.Done()

	turn.OnServiceTurnStartResponse()
	assert.False(t, done.Settled(), "The expected first turn.start leaves the completion pending")

	turn.OnServiceTurnStartResponse()
	require.True(t, done.Settled(), "A second turn.start before turn.end must reject the pending completion")
	_, err := done.Wait(context.Background())
	assert.Error(t, err)
}

func TestSynthesisTurn_TurnStartTrackingResetsPerSynthesis(t *testing.T) {
	turn := newTestSynthesisTurn(t)

	require.NoError(t, turn.StartNewSynthesis("REQ1", "one", false))
	turn.OnConnectionEstablishCompleted(200)
	turn.OnServiceTurnStartResponse()
	turn.OnServiceTurnEndResponse()

	require.NoError(t, turn.StartNewSynthesis("REQ2", "two", false))
	turn.OnConnectionEstablishCompleted(200)
	done := turn.Done()

	turn.OnServiceTurnStartResponse()
	assert.False(t, done.Settled(), "The previous synthesis's turn.start must not count against this one")
}
