package adapter

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"speechlink-go/src/configs"
	"speechlink-go/src/core/audio"
	"speechlink-go/src/core/auth"
	"speechlink-go/src/core/events"
	"speechlink-go/src/core/protocol"
	"speechlink-go/src/core/transport"
	"speechlink-go/src/core/utils"
)

// fakeConn records everything sent and can fail one send to force a
// reconnect.
type fakeConn struct {
	mu         sync.Mutex
	openStatus int
	state      transport.State
	sent       []*protocol.Message
	// failOnAudioSend fails the Nth (1-based) audio send, once.
	failOnAudioSend int
	audioSends      int
}

func (c *fakeConn) Open(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.openStatus == 200 {
		c.state = transport.StateConnected
	}
	return c.openStatus, nil
}

func (c *fakeConn) Send(ctx context.Context, msg *protocol.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if msg.Path() == protocol.PathAudio && len(msg.BinaryBody()) > 0 {
		c.audioSends++
		if c.audioSends == c.failOnAudioSend {
			c.failOnAudioSend = 0
			c.state = transport.StateDisconnected
			return errors.New("connection reset")
		}
	}
	c.sent = append(c.sent, msg)
	return nil
}

func (c *fakeConn) Read(ctx context.Context) (*protocol.RawMessage, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (c *fakeConn) State() transport.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *fakeConn) Dispose(reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = transport.StateDisconnected
	return nil
}

func (c *fakeConn) sentPaths() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	paths := make([]string, len(c.sent))
	for i, m := range c.sent {
		paths[i] = m.Path()
	}
	return paths
}

func (c *fakeConn) audioBytes() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []byte
	for _, m := range c.sent {
		if m.Path() == protocol.PathAudio {
			out = append(out, m.BinaryBody()...)
		}
	}
	return out
}

// fakeFactory hands out prepared connections in order.
type fakeFactory struct {
	mu    sync.Mutex
	conns []*fakeConn
	next  int
}

func (f *fakeFactory) factory() transport.Factory {
	return func(ctx context.Context, token, connectionID string) (transport.Connection, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.next >= len(f.conns) {
			return nil, errors.New("no more connections")
		}
		c := f.conns[f.next]
		f.next++
		return c, nil
	}
}

// countingProvider tracks forced refreshes.
type countingProvider struct {
	fetches   int
	refreshes int
}

func (p *countingProvider) Fetch(ctx context.Context) (auth.Token, error) {
	p.fetches++
	return auth.Token{Value: "tok"}, nil
}

func (p *countingProvider) FetchOnExpiry(ctx context.Context) (auth.Token, error) {
	p.refreshes++
	return auth.Token{Value: "tok2"}, nil
}

func newTestAdapter(t *testing.T, source audio.Source, provider auth.Provider, factory transport.Factory) *Adapter {
	t.Helper()
	logger, err := utils.NewLogger(nil)
	require.NoError(t, err)
	return New(Config{
		Mode:       ModeInteractive,
		Language:   "en-US",
		Properties: configs.Properties{},
		Logger:     logger,
		Bus:        events.NewBus(),
	}, &SpeechStrategy{Language: "en-US"}, source, provider, factory)
}

func writePattern(t *testing.T, source *audio.PushSource, n int) []byte {
	t.Helper()
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 256)
	}
	require.NoError(t, source.Write(data))
	source.CloseStream()
	return data
}

func TestAdapter_ConnectSendsConfigBeforeAudio(t *testing.T) {
	conn := &fakeConn{openStatus: 200}
	f := &fakeFactory{conns: []*fakeConn{conn}}
	source := audio.NewPushSource(audio.DefaultFormat())
	defer source.Close()

	a := newTestAdapter(t, source, &countingProvider{}, f.factory())
	defer a.Dispose("test done")

	_, err := a.fetchConnection(context.Background())
	require.NoError(t, err)

	paths := conn.sentPaths()
	require.Len(t, paths, 2)
	assert.Equal(t, protocol.PathSpeechConfig, paths[0], "speech.config must precede everything")
	assert.Equal(t, protocol.PathSpeechContext, paths[1])
}

func TestAdapter_AuthRejectedOnceRefreshesTokenAndRetries(t *testing.T) {
	f := &fakeFactory{conns: []*fakeConn{
		{openStatus: 403},
		{openStatus: 200},
	}}
	provider := &countingProvider{}
	source := audio.NewPushSource(audio.DefaultFormat())
	defer source.Close()

	a := newTestAdapter(t, source, provider, f.factory())
	defer a.Dispose("test done")

	_, err := a.fetchConnection(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, provider.refreshes, "Exactly one forced refresh after a 403")
}

func TestAdapter_SecondAuthRejectionIsTerminal(t *testing.T) {
	f := &fakeFactory{conns: []*fakeConn{
		{openStatus: 403},
		{openStatus: 403},
	}}
	provider := &countingProvider{}
	source := audio.NewPushSource(audio.DefaultFormat())
	defer source.Close()

	a := newTestAdapter(t, source, provider, f.factory())
	defer a.Dispose("test done")

	_, err := a.fetchConnection(context.Background())
	require.Error(t, err)
	assert.True(t, utils.IsKind(err, utils.KindAuth))
	assert.Equal(t, 1, provider.refreshes, "No second refresh is attempted")
}

func TestAdapter_ReconnectReplaysUnacknowledgedAudio(t *testing.T) {
	// conn1 accepts one audio chunk then dies; conn2 must receive the
	// whole unacknowledged stream again, config first.
	conn1 := &fakeConn{openStatus: 200, failOnAudioSend: 2}
	conn2 := &fakeConn{openStatus: 200}
	f := &fakeFactory{conns: []*fakeConn{conn1, conn2}}

	format := audio.DefaultFormat()
	source := audio.NewPushSource(format)
	input := writePattern(t, source, 3*3200)
	defer source.Close()

	a := newTestAdapter(t, source, &countingProvider{}, f.factory())
	defer a.Dispose("test done")

	a.session.StartNewRecognition()
	rawNode, err := source.Attach(context.Background(), "node-1")
	require.NoError(t, err)
	node := audio.NewReplayableNode(rawNode, format)
	a.session.OnAudioSourceAttachCompleted(node)

	_, err = a.fetchConnection(context.Background())
	require.NoError(t, err)

	require.NoError(t, a.sendAudio(context.Background(), node, format, a.session.RecogNumber()))

	paths := conn2.sentPaths()
	require.NotEmpty(t, paths, "A replacement connection must have been configured")
	assert.Equal(t, protocol.PathSpeechConfig, paths[0], "Reconnect must resend speech.config before audio")

	assert.Equal(t, input, conn2.audioBytes(),
		"With nothing acknowledged, the replacement connection receives every byte again")

	last := conn2.sent[len(conn2.sent)-1]
	assert.Equal(t, protocol.PathAudio, last.Path())
	assert.Empty(t, last.BinaryBody(), "End of audio is a headers-only audio frame")
}

func TestAdapter_StaleSendLoopTerminates(t *testing.T) {
	conn := &fakeConn{openStatus: 200}
	f := &fakeFactory{conns: []*fakeConn{conn}}

	format := audio.DefaultFormat()
	source := audio.NewPushSource(format)
	writePattern(t, source, 3200)
	defer source.Close()

	a := newTestAdapter(t, source, &countingProvider{}, f.factory())
	defer a.Dispose("test done")

	a.session.StartNewRecognition()
	rawNode, err := source.Attach(context.Background(), "node-1")
	require.NoError(t, err)
	node := audio.NewReplayableNode(rawNode, format)
	a.session.OnAudioSourceAttachCompleted(node)

	staleNumber := a.session.RecogNumber()
	a.session.StartNewRecognition() // supersede

	require.NoError(t, a.sendAudio(context.Background(), node, format, staleNumber))
	assert.Empty(t, conn.sentPaths(), "A superseded send loop must exit before sending anything")
}

func TestAdapter_DisposeIsIdempotent(t *testing.T) {
	conn := &fakeConn{openStatus: 200}
	f := &fakeFactory{conns: []*fakeConn{conn}}
	source := audio.NewPushSource(audio.DefaultFormat())
	defer source.Close()

	a := newTestAdapter(t, source, &countingProvider{}, f.factory())
	a.Dispose("first")
	a.Dispose("second")

	err := a.StartRecognition(context.Background(), Callbacks{})
	assert.ErrorIs(t, err, utils.ErrObjectDisposed)
}
