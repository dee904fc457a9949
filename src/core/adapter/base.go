// Package adapter drives the duplex protocol: connection acquisition and
// configuration, throttled audio upload with replay-on-reconnect, and the
// receive loop that feeds per-mode turn handling.
package adapter

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"speechlink-go/src/configs"
	"speechlink-go/src/core/audio"
	"speechlink-go/src/core/auth"
	"speechlink-go/src/core/events"
	"speechlink-go/src/core/protocol"
	"speechlink-go/src/core/session"
	"speechlink-go/src/core/transport"
	"speechlink-go/src/core/utils"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// Mode selects the recognition activity timeout and turn-renewal policy.
type Mode int

const (
	ModeInteractive Mode = iota
	ModeContinuous
)

// Callbacks deliver results upward. Panics inside application callbacks
// are recovered and logged: handler failures must never destabilize the
// protocol loop.
type Callbacks struct {
	OnRecognizing func(*session.Result)
	OnRecognized  func(*session.Result)
	OnCanceled    func(*session.Result)
}

// Strategy specializes the base protocol driver per recognition mode.
// One implementation exists per mode instead of mutable function-valued
// fields assigned post-construction.
type Strategy interface {
	// Name tags log lines and telemetry.
	Name() string
	// ContextMessage builds the per-turn context body sent after
	// speech.config (speech.context, speech.agent.context, ...).
	ContextMessage(s *session.RequestSession) (path, contentType, body string, err error)
	// PreAudioMessages sends any mode-specific configuration that must
	// precede audio on a fresh connection (e.g. agent.config for dialog).
	PreAudioMessages(ctx context.Context, conn transport.Connection, requestID string) error
	// ProcessMessage handles a mode-specific inbound message. It reports
	// whether the path was recognized.
	ProcessMessage(ctx context.Context, msg *protocol.Message, a *Adapter) (bool, error)
}

// foreignTurnHandler is implemented by strategies that track
// service-initiated turns whose request id differs from the client's.
type foreignTurnHandler interface {
	OnForeignTurnStart(msg *protocol.Message, a *Adapter) error
}

// Config assembles an Adapter.
type Config struct {
	Mode       Mode
	Language   string
	Properties configs.Properties
	Logger     *utils.Logger
	Bus        *events.Bus
}

// Adapter is the generic duplex protocol driver. It owns its
// RequestSession and connection exclusively; the audio source is borrowed
// for the duration of one attempt.
type Adapter struct {
	cfg      Config
	logger   *utils.Logger
	bus      *events.Bus
	strategy Strategy

	source       audio.Source
	authProvider auth.Provider
	connFactory  transport.Factory

	connectionID string

	// Connection cache. All concurrent callers converge on the same
	// in-flight connect attempt via the singleflight group; invalidation
	// swaps the cached connection out under the mutex.
	connMu sync.Mutex
	conn   transport.Connection
	sf     singleflight.Group

	session *session.RequestSession

	callbacks Callbacks
	result    *utils.Deferred[*session.Result]

	terminateMessageLoop atomic.Bool
	disposed             atomic.Bool

	activityMu    sync.Mutex
	activityTimer *time.Timer
}

func New(cfg Config, strategy Strategy, source audio.Source, provider auth.Provider, factory transport.Factory) *Adapter {
	if cfg.Bus == nil {
		cfg.Bus = events.NewBus()
	}
	a := &Adapter{
		cfg:          cfg,
		logger:       cfg.Logger,
		bus:          cfg.Bus,
		strategy:     strategy,
		source:       source,
		authProvider: provider,
		connFactory:  factory,
		connectionID: uuid.NewString(),
	}
	a.session = session.NewRequestSession(source.ID(), cfg.Logger, cfg.Bus)
	return a
}

func (a *Adapter) Session() *session.RequestSession { return a.session }
func (a *Adapter) Bus() *events.Bus                 { return a.bus }
func (a *Adapter) Logger() *utils.Logger            { return a.logger }

func (a *Adapter) throttleMs() int {
	return a.cfg.Properties.GetInt(configs.PropTransmitLengthBeforeThrottleMs, configs.DefaultTransmitThrottleMs)
}

func (a *Adapter) activityTimeout() time.Duration {
	if a.cfg.Mode == ModeContinuous {
		return time.Duration(a.cfg.Properties.GetInt(configs.PropRecoModeContinuousTimeoutMs,
			configs.DefaultContinuousTimeoutMs)) * time.Millisecond
	}
	return time.Duration(a.cfg.Properties.GetInt(configs.PropRecoModeInteractiveTimeoutMs,
		configs.DefaultInteractiveTimeoutMs)) * time.Millisecond
}

// fetchConnection returns the cached configured connection, establishing
// and configuring a fresh one when none exists or the cached one has
// disconnected. Concurrent callers share one connect attempt.
func (a *Adapter) fetchConnection(ctx context.Context) (transport.Connection, error) {
	v, err, _ := a.sf.Do("connect", func() (interface{}, error) {
		a.connMu.Lock()
		conn := a.conn
		a.connMu.Unlock()
		if conn != nil && conn.State() == transport.StateConnected {
			return conn, nil
		}
		if conn != nil {
			_ = conn.Dispose("stale connection")
		}
		fresh, err := a.connectAndConfigure(ctx)
		if err != nil {
			return nil, err
		}
		a.connMu.Lock()
		a.conn = fresh
		a.connMu.Unlock()
		return fresh, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(transport.Connection), nil
}

// invalidateConnection drops the cached connection so the next fetch
// reconnects. The in-flight attempt is not interrupted.
func (a *Adapter) invalidateConnection(reason string) {
	a.connMu.Lock()
	conn := a.conn
	a.conn = nil
	a.connMu.Unlock()
	if conn != nil {
		_ = conn.Dispose(reason)
	}
}

// connectAndConfigure performs the full handshake: credential, dial (one
// forced token refresh on 403), speech.config, mode pre-audio messages,
// and the current turn's context message. Reconnects therefore resend
// configuration automatically before audio resumes.
func (a *Adapter) connectAndConfigure(ctx context.Context) (transport.Connection, error) {
	token, err := a.authProvider.Fetch(ctx)
	if err != nil {
		return nil, err
	}

	conn, status, err := a.open(ctx, token.Value)
	if err != nil {
		return nil, err
	}
	if status == 401 || status == 403 {
		// One documented retry with a forced token refresh.
		a.logger.WarnTag("AUTH", "connect rejected (%d), refreshing token", status)
		token, err = a.authProvider.FetchOnExpiry(ctx)
		if err != nil {
			return nil, err
		}
		conn, status, err = a.open(ctx, token.Value)
		if err != nil {
			return nil, err
		}
		if status != 200 {
			return nil, utils.NewError(utils.KindAuth, "adapter.connect",
				fmt.Sprintf("authentication rejected with status %d", status))
		}
	} else if status != 200 {
		return nil, utils.NewError(utils.KindConnection, "adapter.connect",
			fmt.Sprintf("connection failed with status %d", status))
	}

	if err := a.sendSpeechConfig(ctx, conn); err != nil {
		_ = conn.Dispose("config send failed")
		return nil, err
	}
	if err := a.strategy.PreAudioMessages(ctx, conn, a.session.RequestID()); err != nil {
		_ = conn.Dispose("pre-audio send failed")
		return nil, err
	}
	if err := a.sendContextMessage(ctx, conn); err != nil {
		_ = conn.Dispose("context send failed")
		return nil, err
	}
	return conn, nil
}

func (a *Adapter) open(ctx context.Context, token string) (transport.Connection, int, error) {
	conn, err := a.connFactory(ctx, token, a.connectionID)
	if err != nil {
		return nil, 0, utils.WrapError(utils.KindConnection, "adapter.open", "connection factory failed", err)
	}
	status, err := conn.Open(ctx)
	if err != nil {
		return nil, status, utils.WrapError(utils.KindConnection, "adapter.open", "open failed", err)
	}
	return conn, status, nil
}

func (a *Adapter) sendSpeechConfig(ctx context.Context, conn transport.Connection) error {
	format, err := a.source.Format()
	if err != nil {
		return err
	}
	info := a.source.DeviceInfo()
	cfg := protocol.SpeechConfig{}
	cfg.Context.System = protocol.SystemInfo{Name: "speechlink", Version: "1.0", Lang: "go"}
	cfg.Context.OS = protocol.OSInfo{Platform: "go"}
	cfg.Context.Audio.Source = protocol.AudioSourceInfo{
		BitsPerSample: format.BitsPerSample,
		Channels:      format.Channels,
		SampleRate:    format.SampleRate,
		Model:         info.Model,
		Connectivity:  info.Connectivity,
		Type:          info.Name,
	}
	body, err := protocol.MarshalBody(cfg)
	if err != nil {
		return err
	}
	msg, err := protocol.NewTextMessage(protocol.PathSpeechConfig, a.session.RequestID(),
		protocol.ContentTypeJSON, body, nil)
	if err != nil {
		return err
	}
	return conn.Send(ctx, msg)
}

func (a *Adapter) sendContextMessage(ctx context.Context, conn transport.Connection) error {
	path, contentType, body, err := a.strategy.ContextMessage(a.session)
	if err != nil {
		return err
	}
	if path == "" {
		return nil
	}
	msg, err := protocol.NewTextMessage(path, a.session.RequestID(), contentType, body, nil)
	if err != nil {
		return err
	}
	return conn.Send(ctx, msg)
}

// StartRecognition begins one attempt: fresh session state, replayable
// audio node, connection, and the send/receive loops.
func (a *Adapter) StartRecognition(ctx context.Context, callbacks Callbacks) error {
	if a.disposed.Load() {
		return utils.ErrObjectDisposed
	}

	a.callbacks = callbacks
	a.result = utils.NewDeferred[*session.Result]()
	a.terminateMessageLoop.Store(false)
	a.session.StartNewRecognition()
	a.logger.InfoTag("SPEECH", "starting %s recognition requestId=%s",
		a.strategy.Name(), a.session.RequestID())

	format, err := a.source.Format()
	if err != nil {
		return err
	}
	nodeID := uuid.NewString()
	rawNode, err := a.source.Attach(ctx, nodeID)
	if err != nil {
		return utils.WrapError(utils.KindConnection, "adapter.StartRecognition", "audio attach failed", err)
	}
	replayNode := audio.NewReplayableNode(rawNode, format)
	a.session.OnAudioSourceAttachCompleted(replayNode)

	if _, err := a.fetchConnection(ctx); err != nil {
		a.cancelAttempt(session.CancellationCodeConnectionFailure, err.Error())
		return err
	}

	a.armActivityTimer()

	recogNumber := a.session.RecogNumber()
	go func() {
		if err := a.sendAudio(ctx, replayNode, format, recogNumber); err != nil {
			a.logger.ErrorTag("AUDIO", "audio send failed: %v", err)
			a.cancelAttempt(session.CancellationCodeConnectionFailure, err.Error())
		}
	}()
	go a.receiveLoop(ctx, recogNumber)
	return nil
}

// RecognizeOnce runs one interactive attempt to completion.
func (a *Adapter) RecognizeOnce(ctx context.Context, callbacks Callbacks) (*session.Result, error) {
	if err := a.StartRecognition(ctx, callbacks); err != nil {
		return nil, err
	}
	return a.result.Wait(ctx)
}

// StopRecognition cooperatively ends the in-flight attempt. Loops observe
// the flag at their next iteration boundary; nothing is aborted mid-send.
func (a *Adapter) StopRecognition() {
	a.terminateMessageLoop.Store(true)
	a.session.OnStopRecognizing()
	if a.result != nil && !a.result.Settled() {
		_ = a.result.Resolve(&session.Result{
			Reason:    session.ReasonNoMatch,
			RequestID: a.session.RequestID(),
		})
	}
	a.stopActivityTimer()
}

// Result exposes the current attempt's completion.
func (a *Adapter) Result() *utils.Deferred[*session.Result] { return a.result }

// sendAudio is the upload loop for one attempt. The recogNumber guard
// makes a loop from a superseded attempt self-terminate before it can
// interleave stale audio. A plain loop, not recursion: each iteration
// re-checks the guards first.
func (a *Adapter) sendAudio(ctx context.Context, node *audio.ReplayableNode, format audio.StreamFormat, recogNumber int32) error {
	p := newPacer(format.AvgBytesPerSec(), a.throttleMs())

	for {
		if a.disposed.Load() || a.terminateMessageLoop.Load() {
			return nil
		}
		if a.session.RecogNumber() != recogNumber || !a.session.IsRecognizing() {
			return nil
		}

		chunk, err := node.Read(ctx)
		if err != nil {
			if a.session.IsSpeechEnded() {
				// Drain race after speech.enddetected; benign.
				return nil
			}
			return err
		}

		if chunk.IsEnd {
			return a.sendAudioEnd(ctx)
		}
		if len(chunk.Buffer) == 0 {
			continue
		}

		if wait := p.delay(time.Now(), len(chunk.Buffer)); wait > 0 {
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		msg, err := protocol.NewBinaryMessage(protocol.PathAudio, a.session.RequestID(), "", chunk.Buffer, nil)
		if err != nil {
			return err
		}

		conn, err := a.fetchConnection(ctx)
		if err != nil {
			return err
		}
		if err := conn.Send(ctx, msg); err != nil {
			// Reconnect and resume from the last acknowledged offset via
			// replay; the source itself is never re-read.
			a.logger.WarnTag("CONN", "audio send failed, reconnecting: %v", err)
			a.invalidateConnection("send failed")
			if _, err := a.fetchConnection(ctx); err != nil {
				return err
			}
			node.Replay()
			continue
		}
		a.session.OnAudioSent(len(chunk.Buffer))
	}
}

// sendAudioEnd signals end of audio with a nil-payload binary message.
func (a *Adapter) sendAudioEnd(ctx context.Context) error {
	msg, err := protocol.NewBinaryMessage(protocol.PathAudio, a.session.RequestID(), "", nil, nil)
	if err != nil {
		return err
	}
	conn, err := a.fetchConnection(ctx)
	if err != nil {
		return err
	}
	return conn.Send(ctx, msg)
}

// receiveLoop processes inbound messages one at a time, strictly in
// arrival order. It terminates by resolving the attempt rather than
// propagating: nothing awaits this goroutine's stack.
func (a *Adapter) receiveLoop(ctx context.Context, recogNumber int32) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.ErrorTag("TURN", "receive loop panic: %v", r)
			a.cancelAttempt(session.CancellationCodeRuntimeError, fmt.Sprintf("%v", r))
		}
	}()

	for {
		if a.disposed.Load() || a.terminateMessageLoop.Load() {
			return
		}
		if a.session.RecogNumber() != recogNumber {
			return
		}

		conn, err := a.fetchConnection(ctx)
		if err != nil {
			a.cancelAttempt(session.CancellationCodeConnectionFailure, err.Error())
			return
		}

		raw, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				a.cancelAttempt(session.CancellationCodeConnectionFailure, ctx.Err().Error())
				return
			}
			a.logger.WarnTag("CONN", "read failed, reconnecting: %v", err)
			a.invalidateConnection("read failed")
			continue
		}
		if raw == nil {
			// Draining; no more data yet, keep looping.
			continue
		}

		a.armActivityTimer()
		msg := protocol.FromRawMessage(raw)
		if err := a.dispatch(ctx, msg); err != nil {
			a.logger.ErrorTag("TURN", "message handling failed: %v", err)
			a.cancelAttempt(session.CancellationCodeServiceError, err.Error())
			return
		}
		if a.result != nil && a.result.Settled() && a.cfg.Mode == ModeInteractive {
			return
		}
	}
}

func (a *Adapter) dispatch(ctx context.Context, msg *protocol.Message) error {
	switch strings.ToLower(msg.Path()) {
	case protocol.PathTurnStart:
		if !strings.EqualFold(msg.RequestID(), a.session.RequestID()) {
			if h, ok := a.strategy.(foreignTurnHandler); ok {
				return h.OnForeignTurnStart(msg, a)
			}
			a.logger.WarnTag("TURN", "turn.start for unknown requestId=%s", msg.RequestID())
			return nil
		}
		a.session.OnTurnStart()
		return nil

	case protocol.PathSpeechStartDetected:
		var detected protocol.SpeechDetected
		if msg.TextBody() != "" {
			if err := protocol.UnmarshalBody(msg.TextBody(), &detected); err != nil {
				return err
			}
		}
		a.session.OnSpeechStartDetected(detected.Offset)
		return nil

	case protocol.PathSpeechEndDetected:
		var detected protocol.SpeechDetected
		if msg.TextBody() != "" {
			if err := protocol.UnmarshalBody(msg.TextBody(), &detected); err != nil {
				return err
			}
		}
		a.session.OnSpeechEndDetected(detected.Offset)
		return nil

	case protocol.PathTurnEnd:
		if !strings.EqualFold(msg.RequestID(), a.session.RequestID()) {
			if handled, err := a.strategy.ProcessMessage(ctx, msg, a); handled || err != nil {
				return err
			}
			return nil
		}
		renewed := a.session.OnServiceTurnEndResponse(a.cfg.Mode == ModeContinuous)
		if renewed {
			// Next turn needs a fresh context message on the live
			// connection.
			conn, err := a.fetchConnection(ctx)
			if err != nil {
				return err
			}
			return a.sendContextMessage(ctx, conn)
		}
		if a.result != nil && !a.result.Settled() {
			_ = a.result.Resolve(&session.Result{
				Reason:    session.ReasonNoMatch,
				RequestID: a.session.RequestID(),
			})
		}
		a.stopActivityTimer()
		return nil

	default:
		handled, err := a.strategy.ProcessMessage(ctx, msg, a)
		if err != nil {
			return err
		}
		if !handled {
			a.logger.DebugTag("TURN", "unhandled path %q", msg.Path())
		}
		return nil
	}
}

// cancelAttempt resolves the attempt with a canceled result and notifies
// the error callback.
func (a *Adapter) cancelAttempt(code session.CancellationErrorCode, details string) {
	result := session.NewCanceledResult(a.session.RequestID(), code, details)
	a.stopActivityTimer()
	if a.result != nil {
		_ = a.result.Resolve(result)
	}
	a.InvokeCanceled(result)
	a.bus.Publish(events.TopicCanceled, result)
}

// FinishAttempt resolves the attempt with a final result (strategy use).
func (a *Adapter) FinishAttempt(result *session.Result) {
	if a.result != nil {
		_ = a.result.Resolve(result)
	}
	if a.cfg.Mode == ModeInteractive {
		a.stopActivityTimer()
	}
}

// safeInvoke isolates application callbacks from the protocol loop.
func (a *Adapter) safeInvoke(name string, fn func(*session.Result), r *session.Result) {
	if fn == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			a.logger.WarnTag("TURN", "%s handler panicked: %v", name, rec)
		}
	}()
	fn(r)
}

func (a *Adapter) InvokeRecognizing(r *session.Result) {
	a.safeInvoke("recognizing", a.callbacks.OnRecognizing, r)
	a.bus.Publish(events.TopicRecognizing, r)
}

func (a *Adapter) InvokeRecognized(r *session.Result) {
	a.safeInvoke("recognized", a.callbacks.OnRecognized, r)
	a.bus.Publish(events.TopicRecognized, r)
}

func (a *Adapter) InvokeCanceled(r *session.Result) {
	a.safeInvoke("canceled", a.callbacks.OnCanceled, r)
}

// IsInteractive reports whether this adapter finishes after one phrase.
func (a *Adapter) IsInteractive() bool { return a.cfg.Mode == ModeInteractive }

func (a *Adapter) armActivityTimer() {
	a.activityMu.Lock()
	defer a.activityMu.Unlock()
	if a.activityTimer != nil {
		a.activityTimer.Stop()
	}
	a.activityTimer = time.AfterFunc(a.activityTimeout(), func() {
		a.logger.WarnTag("TURN", "recognition activity timeout")
		a.cancelAttempt(session.CancellationCodeServiceTimeout, "no service activity within timeout")
		a.terminateMessageLoop.Store(true)
	})
}

func (a *Adapter) stopActivityTimer() {
	a.activityMu.Lock()
	defer a.activityMu.Unlock()
	if a.activityTimer != nil {
		a.activityTimer.Stop()
		a.activityTimer = nil
	}
}

// Dispose tears the adapter down. In-flight sends complete; loops observe
// the flag at their next boundary.
func (a *Adapter) Dispose(reason string) {
	if !a.disposed.CompareAndSwap(false, true) {
		return
	}
	a.terminateMessageLoop.Store(true)
	a.stopActivityTimer()
	a.invalidateConnection(reason)
	a.session.Dispose()
}
