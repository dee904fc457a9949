package adapter

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"speechlink-go/src/core/auth"
	"speechlink-go/src/core/events"
	"speechlink-go/src/core/session"
	"speechlink-go/src/core/utils"
)

// stateRecordingProvider captures the synthesis turn's state at the moment
// credentials are fetched.
type stateRecordingProvider struct {
	turn    *session.SynthesisTurn
	atFetch session.SynthesisState
	err     error
}

func (p *stateRecordingProvider) Fetch(ctx context.Context) (auth.Token, error) {
	p.atFetch = p.turn.State()
	if p.err != nil {
		return auth.Token{}, p.err
	}
	return auth.Token{Value: "tok"}, nil
}

func (p *stateRecordingProvider) FetchOnExpiry(ctx context.Context) (auth.Token, error) {
	return p.Fetch(ctx)
}

func TestSynthesizer_SpeakWalksPreConnectionStatesBeforeAuthFetch(t *testing.T) {
	logger, err := utils.NewLogger(nil)
	require.NoError(t, err)

	provider := &stateRecordingProvider{err: errors.New("credentials unavailable")}
	f := &fakeFactory{}
	s := NewSynthesizer(logger, events.NewBus(), provider, f.factory())
	provider.turn = s.Turn()

	_, err = s.Speak(context.Background(), "hello")
	require.Error(t, err)
	assert.Equal(t, session.SynthesisConnectionEstablishing, provider.atFetch,
		"The turn must advance through its pre-connection states before credentials are fetched")
	assert.Equal(t, session.SynthesisEnded, s.Turn().State(), "A failed credential fetch ends the turn")
}
