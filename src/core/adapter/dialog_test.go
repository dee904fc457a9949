package adapter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"speechlink-go/src/configs"
	"speechlink-go/src/core/audio"
	"speechlink-go/src/core/events"
	"speechlink-go/src/core/protocol"
	"speechlink-go/src/core/utils"
)

func newDialogTestAdapter(t *testing.T, strategy *DialogStrategy) *Adapter {
	t.Helper()
	logger, err := utils.NewLogger(nil)
	require.NoError(t, err)
	f := &fakeFactory{conns: []*fakeConn{{openStatus: 200}}}
	source := audio.NewPushSource(audio.DefaultFormat())
	t.Cleanup(func() { source.Close() })
	a := New(Config{
		Mode:       ModeContinuous,
		Language:   "en-US",
		Properties: configs.Properties{},
		Logger:     logger,
		Bus:        events.NewBus(),
	}, strategy, source, &countingProvider{}, f.factory())
	t.Cleanup(func() { a.Dispose("test done") })
	return a
}

func TestDialogStrategy_ForeignTurnStartTracksTurn(t *testing.T) {
	strategy := NewDialogStrategy("bot-1", configs.Properties{}, nil)
	a := newDialogTestAdapter(t, strategy)

	msg, err := protocol.NewTextMessage(protocol.PathTurnStart, "FOREIGN1",
		protocol.ContentTypeJSON, "{}", nil)
	require.NoError(t, err)

	require.NoError(t, strategy.OnForeignTurnStart(msg, a))
	assert.NotNil(t, strategy.Turns().GetTurn("FOREIGN1"))
}

func TestDialogStrategy_DuplicateForeignTurnStartFails(t *testing.T) {
	strategy := NewDialogStrategy("bot-1", configs.Properties{}, nil)
	a := newDialogTestAdapter(t, strategy)

	msg, err := protocol.NewTextMessage(protocol.PathTurnStart, "FOREIGN1",
		protocol.ContentTypeJSON, "{}", nil)
	require.NoError(t, err)

	require.NoError(t, strategy.OnForeignTurnStart(msg, a))

	err = strategy.OnForeignTurnStart(msg, a)
	require.Error(t, err, "A duplicate service turn.start is a protocol desync, not a condition to mask")
	assert.True(t, utils.IsKind(err, utils.KindTurn))
}
