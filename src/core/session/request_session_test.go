package session

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"speechlink-go/src/core/events"
	"speechlink-go/src/core/utils"
)

func newTestSession(t *testing.T) *RequestSession {
	t.Helper()
	logger, err := utils.NewLogger(nil)
	require.NoError(t, err)
	return NewRequestSession("source-1", logger, events.NewBus())
}

func TestRequestSession_StartNewRecognitionBumpsRecogNumber(t *testing.T) {
	s := newTestSession(t)
	firstID := s.RequestID()

	s.StartNewRecognition()
	assert.Equal(t, int32(1), s.RecogNumber())
	assert.NotEqual(t, firstID, s.RequestID(), "Each attempt gets a fresh request id")
	assert.True(t, s.IsRecognizing())

	s.StartNewRecognition()
	assert.Equal(t, int32(2), s.RecogNumber(), "A superseding attempt invalidates the previous one")
}

func TestRequestSession_RequestIDShape(t *testing.T) {
	s := newTestSession(t)
	id := s.RequestID()

	assert.Len(t, id, 32)
	assert.NotContains(t, id, "-", "Wire request ids carry no dashes")
	assert.Equal(t, strings.ToUpper(id), id, "Wire request ids are uppercase")
}

func TestRequestSession_ContinuousTurnEndRenews(t *testing.T) {
	s := newTestSession(t)
	s.StartNewRecognition()
	firstID := s.RequestID()

	renewed := s.OnServiceTurnEndResponse(true)
	assert.True(t, renewed, "Continuous mode renews the turn while audio still flows")
	assert.NotEqual(t, firstID, s.RequestID(), "The renewed turn has a new request id")
	assert.True(t, s.IsRecognizing())
	assert.Equal(t, int32(1), s.RecogNumber(), "Renewal is not a new attempt")
}

func TestRequestSession_ContinuousTurnEndAfterSpeechEndStops(t *testing.T) {
	s := newTestSession(t)
	s.StartNewRecognition()
	s.OnSpeechEndDetected(500_000)

	renewed := s.OnServiceTurnEndResponse(true)
	assert.False(t, renewed, "Once speech ended, turn.end finishes the attempt")
	assert.False(t, s.IsRecognizing())
}

func TestRequestSession_InteractiveTurnEndStops(t *testing.T) {
	s := newTestSession(t)
	s.StartNewRecognition()
	done := s.TurnDone()

	renewed := s.OnServiceTurnEndResponse(false)
	assert.False(t, renewed)
	assert.False(t, s.IsRecognizing())
	assert.True(t, done.Settled(), "turn.end settles the turn completion signal")
}

func TestRequestSession_SpeechEndMarksDrainPhase(t *testing.T) {
	s := newTestSession(t)
	s.StartNewRecognition()
	assert.False(t, s.IsSpeechEnded())

	s.OnSpeechEndDetected(1_000_000)
	assert.True(t, s.IsSpeechEnded())
}
