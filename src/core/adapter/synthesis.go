package adapter

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"speechlink-go/src/core/auth"
	"speechlink-go/src/core/events"
	"speechlink-go/src/core/protocol"
	"speechlink-go/src/core/session"
	"speechlink-go/src/core/transport"
	"speechlink-go/src/core/utils"

	"github.com/google/uuid"
)

// SynthesisOption tunes one Speak call.
type SynthesisOption func(*synthesisRequest)

type synthesisRequest struct {
	voice        string
	outputFormat string
}

func WithVoice(name string) SynthesisOption {
	return func(r *synthesisRequest) { r.voice = name }
}

func WithOutputFormat(format string) SynthesisOption {
	return func(r *synthesisRequest) { r.outputFormat = format }
}

// Synthesizer converts text or SSML to audio over the duplex connection.
// One synthesis turn runs at a time; audio streams out as it arrives and
// the full buffer settles the turn's completion.
type Synthesizer struct {
	logger *utils.Logger
	bus    *events.Bus

	authProvider auth.Provider
	connFactory  transport.Factory
	connectionID string

	connMu sync.Mutex
	conn   transport.Connection

	turn *session.SynthesisTurn

	onWordBoundary func(word string, audioOffset int64, textOffset int)

	disposed bool
}

func NewSynthesizer(logger *utils.Logger, bus *events.Bus, provider auth.Provider, factory transport.Factory) *Synthesizer {
	if bus == nil {
		bus = events.NewBus()
	}
	return &Synthesizer{
		logger:       logger,
		bus:          bus,
		authProvider: provider,
		connFactory:  factory,
		connectionID: uuid.NewString(),
		turn:         session.NewSynthesisTurn(logger, bus),
	}
}

// OnWordBoundary registers the boundary callback: word text, audio offset
// in 100ns ticks, and the character offset within the submitted text.
func (s *Synthesizer) OnWordBoundary(fn func(word string, audioOffset int64, textOffset int)) {
	s.onWordBoundary = fn
}

func (s *Synthesizer) Turn() *session.SynthesisTurn { return s.turn }

// Speak synthesizes text (or SSML when it starts with "<speak") and
// returns the complete audio. Audio is also available incrementally on
// Turn().AudioOutput() while the call runs.
func (s *Synthesizer) Speak(ctx context.Context, text string, opts ...SynthesisOption) ([]byte, error) {
	s.connMu.Lock()
	if s.disposed {
		s.connMu.Unlock()
		return nil, utils.ErrObjectDisposed
	}
	s.connMu.Unlock()

	req := &synthesisRequest{outputFormat: "riff-16khz-16bit-mono-pcm"}
	for _, opt := range opts {
		opt(req)
	}

	isSSML := strings.HasPrefix(strings.TrimSpace(text), "<speak")
	requestID := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))

	if err := s.turn.StartNewSynthesis(requestID, text, isSSML); err != nil {
		return nil, err
	}

	// Credential fetch and dial both happen inside fetchConnection; walk
	// the turn through its pre-connection states first.
	s.turn.OnAuthStarted()
	s.turn.OnPreConnectionStart()
	conn, err := s.fetchConnection(ctx)
	if err != nil {
		if utils.IsKind(err, utils.KindAuth) {
			s.turn.OnConnectionEstablishCompleted(403)
		} else {
			s.turn.OnComplete(err)
		}
		return nil, err
	}
	s.turn.OnConnectionEstablishCompleted(200)

	if err := s.sendSynthesisContext(ctx, conn, requestID, req); err != nil {
		s.turn.OnComplete(err)
		return nil, err
	}
	if err := s.sendSSML(ctx, conn, requestID, text, req, isSSML); err != nil {
		s.turn.OnComplete(err)
		return nil, err
	}

	go s.receiveLoop(ctx, conn, requestID)
	return s.turn.Done().Wait(ctx)
}

// Stop cancels the in-flight synthesis. Audio already received is kept.
func (s *Synthesizer) Stop(ctx context.Context) error {
	if !s.turn.IsSynthesizing() {
		return nil
	}
	body, err := protocol.MarshalBody(protocol.SynthesisControl{Action: "stop"})
	if err != nil {
		return err
	}
	msg, err := protocol.NewTextMessage(protocol.PathSynthesisControl, s.turn.RequestID(),
		protocol.ContentTypeJSON, body, nil)
	if err != nil {
		return err
	}
	conn, err := s.fetchConnection(ctx)
	if err != nil {
		return err
	}
	if err := conn.Send(ctx, msg); err != nil {
		return err
	}
	s.turn.OnStopSynthesizing()
	return nil
}

func (s *Synthesizer) fetchConnection(ctx context.Context) (transport.Connection, error) {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn != nil && s.conn.State() == transport.StateConnected {
		return s.conn, nil
	}
	if s.conn != nil {
		_ = s.conn.Dispose("stale connection")
		s.conn = nil
	}

	token, err := s.authProvider.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	conn, err := s.connFactory(ctx, token.Value, s.connectionID)
	if err != nil {
		return nil, err
	}
	status, err := conn.Open(ctx)
	if err != nil {
		return nil, err
	}
	if status == 401 || status == 403 {
		token, err = s.authProvider.FetchOnExpiry(ctx)
		if err != nil {
			return nil, err
		}
		conn, err = s.connFactory(ctx, token.Value, s.connectionID)
		if err != nil {
			return nil, err
		}
		status, err = conn.Open(ctx)
		if err != nil {
			return nil, err
		}
	}
	if status == 401 || status == 403 {
		return nil, utils.NewError(utils.KindAuth, "Synthesizer.fetchConnection",
			fmt.Sprintf("authentication rejected with status %d", status))
	}
	if status != 200 {
		return nil, utils.NewError(utils.KindConnection, "Synthesizer.fetchConnection",
			fmt.Sprintf("connection failed with status %d", status))
	}
	s.conn = conn
	return conn, nil
}

func (s *Synthesizer) sendSynthesisContext(ctx context.Context, conn transport.Connection, requestID string, req *synthesisRequest) error {
	body, err := protocol.MarshalBody(map[string]any{
		"synthesis": map[string]any{
			"audio": map[string]any{
				"outputFormat": req.outputFormat,
				"metadataOptions": map[string]any{
					"wordBoundaryEnabled": true,
				},
			},
		},
	})
	if err != nil {
		return err
	}
	msg, err := protocol.NewTextMessage(protocol.PathSynthesisContext, requestID,
		protocol.ContentTypeJSON, body, nil)
	if err != nil {
		return err
	}
	return conn.Send(ctx, msg)
}

func (s *Synthesizer) sendSSML(ctx context.Context, conn transport.Connection, requestID, text string, req *synthesisRequest, isSSML bool) error {
	ssml := text
	if !isSSML {
		voice := req.voice
		if voice == "" {
			voice = "en-US-Standard"
		}
		ssml = fmt.Sprintf(`<speak version="1.0" xml:lang="en-US"><voice name="%s">%s</voice></speak>`, voice, text)
	}
	msg, err := protocol.NewTextMessage(protocol.PathSSML, requestID, protocol.ContentTypeSSML, ssml, nil)
	if err != nil {
		return err
	}
	return conn.Send(ctx, msg)
}

func (s *Synthesizer) receiveLoop(ctx context.Context, conn transport.Connection, requestID string) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.ErrorTag("SYNTH", "receive loop panic: %v", r)
			s.turn.OnComplete(utils.NewError(utils.KindUnknown, "Synthesizer.receiveLoop",
				fmt.Sprintf("%v", r)))
		}
	}()

	for s.turn.IsSynthesizing() {
		raw, err := conn.Read(ctx)
		if err != nil {
			s.turn.OnComplete(utils.WrapError(utils.KindConnection, "Synthesizer.receiveLoop",
				"read failed", err))
			return
		}
		if raw == nil {
			continue
		}
		msg := protocol.FromRawMessage(raw)
		if !strings.EqualFold(msg.RequestID(), requestID) {
			s.logger.WarnTag("SYNTH", "message for unknown requestId=%s", msg.RequestID())
			continue
		}

		switch strings.ToLower(msg.Path()) {
		case protocol.PathTurnStart:
			s.turn.OnServiceTurnStartResponse()

		case protocol.PathAudio:
			if len(msg.BinaryBody()) == 0 {
				continue
			}
			s.turn.OnAudioChunkReceived(msg.BinaryBody())

		case protocol.PathAudioMetadata:
			var meta protocol.AudioMetadata
			if err := protocol.UnmarshalBody(msg.TextBody(), &meta); err != nil {
				s.logger.WarnTag("SYNTH", "bad audio.metadata body: %v", err)
				continue
			}
			for _, entry := range meta.Metadata {
				if !strings.EqualFold(entry.Type, "WordBoundary") {
					continue
				}
				s.turn.OnWordBoundaryEvent(entry.Data.Text.Text)
				s.bus.Publish(events.TopicWordBoundary, entry.Data.Text.Text)
				if s.onWordBoundary != nil {
					s.onWordBoundary(entry.Data.Text.Text, entry.Data.Offset, s.turn.TextOffset())
				}
			}

		case protocol.PathTurnEnd:
			s.turn.OnServiceTurnEndResponse()
			return
		}
	}
}

func (s *Synthesizer) Dispose(reason string) {
	s.connMu.Lock()
	if s.disposed {
		s.connMu.Unlock()
		return
	}
	s.disposed = true
	conn := s.conn
	s.conn = nil
	s.connMu.Unlock()
	if conn != nil {
		_ = conn.Dispose(reason)
	}
	s.turn.OnStopSynthesizing()
}
