package adapter

import (
	"context"
	"strings"
	"time"

	"speechlink-go/src/configs"
	"speechlink-go/src/core/events"
	"speechlink-go/src/core/protocol"
	"speechlink-go/src/core/session"
	"speechlink-go/src/core/transport"
)

// Activity is a dialog backend response delivered to the application,
// together with the audio stream its spoken reply arrives on (nil when
// the activity has no audio).
type Activity struct {
	Payload protocol.ActivityPayload
	Audio   *session.TurnState
	JSON    string
}

// DialogStrategy drives dialog scenarios: besides recognizing the user's
// speech it tracks service-initiated turns, routes their audio by stream
// id and surfaces backend activities.
type DialogStrategy struct {
	BotID          string
	ConversationID string

	turns      *session.TurnStateManager
	onActivity func(*Activity)
}

func NewDialogStrategy(botID string, props configs.Properties, onActivity func(*Activity)) *DialogStrategy {
	timeout := time.Duration(props.GetInt(configs.PropDialogTurnInactivityTimeoutMs,
		configs.DefaultDialogTurnInactivityMs)) * time.Millisecond
	return &DialogStrategy{
		BotID:      botID,
		turns:      session.NewTurnStateManager(timeout),
		onActivity: onActivity,
	}
}

func (s *DialogStrategy) Name() string { return "dialog" }

func (s *DialogStrategy) Turns() *session.TurnStateManager { return s.turns }

func (s *DialogStrategy) ContextMessage(sess *session.RequestSession) (string, string, string, error) {
	ctx := protocol.SpeechContext{}
	body, err := protocol.MarshalBody(ctx)
	if err != nil {
		return "", "", "", err
	}
	return protocol.PathAgentContext, protocol.ContentTypeJSON, body, nil
}

// PreAudioMessages sends agent.config on every fresh connection so a
// reconnect reconfigures the backend before audio resumes.
func (s *DialogStrategy) PreAudioMessages(ctx context.Context, conn transport.Connection, requestID string) error {
	cfg := protocol.AgentConfig{Version: 1}
	if s.BotID != "" {
		cfg.BotInfo = map[string]string{"botId": s.BotID}
	}
	body, err := protocol.MarshalBody(cfg)
	if err != nil {
		return err
	}
	msg, err := protocol.NewTextMessage(protocol.PathAgentConfig, requestID,
		protocol.ContentTypeJSON, body, nil)
	if err != nil {
		return err
	}
	return conn.Send(ctx, msg)
}

// OnForeignTurnStart registers a service-initiated turn keyed by the
// service's request id. A duplicate turn.start means client and service
// views have diverged; the error propagates so dispatch cancels the
// attempt instead of masking the desync.
func (s *DialogStrategy) OnForeignTurnStart(msg *protocol.Message, a *Adapter) error {
	if _, err := s.turns.StartTurn(msg.RequestID()); err != nil {
		return err
	}
	a.Logger().DebugTag("DIALOG", "service turn started requestId=%s", msg.RequestID())
	return nil
}

func (s *DialogStrategy) ProcessMessage(ctx context.Context, msg *protocol.Message, a *Adapter) (bool, error) {
	switch strings.ToLower(msg.Path()) {
	case protocol.PathSpeechHypothesis:
		var hyp protocol.SpeechHypothesis
		if err := protocol.UnmarshalBody(msg.TextBody(), &hyp); err != nil {
			return true, err
		}
		a.Session().OnHypothesis(hyp.Offset + hyp.Duration)
		a.InvokeRecognizing(&session.Result{
			Reason:    session.ReasonRecognizingSpeech,
			RequestID: msg.RequestID(),
			Text:      hyp.Text,
			Offset:    hyp.Offset,
			Duration:  hyp.Duration,
			JSON:      msg.TextBody(),
		})
		return true, nil

	case protocol.PathSpeechPhrase:
		var phrase protocol.SpeechPhrase
		if err := protocol.UnmarshalBody(msg.TextBody(), &phrase); err != nil {
			return true, err
		}
		result := phraseToResult(&phrase, msg)
		a.Session().OnPhraseRecognized(phrase.Offset + phrase.Duration)
		a.InvokeRecognized(result)
		return true, nil

	case protocol.PathResponse:
		var payload protocol.ActivityPayload
		if err := protocol.UnmarshalBody(msg.TextBody(), &payload); err != nil {
			return true, err
		}
		activity := &Activity{Payload: payload, JSON: msg.TextBody()}
		if streamID := msg.StreamID(); streamID != "" {
			// The activity's audio arrives as binary audio frames tagged
			// with this stream id, under the service turn's request id.
			if turn := s.turns.GetTurn(msg.RequestID()); turn != nil {
				activity.Audio = turn
			}
		}
		if s.onActivity != nil {
			s.onActivity(activity)
		}
		a.Bus().Publish(events.TopicActivityReceived, activity)
		return true, nil

	case protocol.PathAudio:
		turn := s.turns.GetTurn(msg.RequestID())
		if turn == nil {
			a.Logger().WarnTag("DIALOG", "audio for untracked turn requestId=%s", msg.RequestID())
			return true, nil
		}
		out := turn.AudioStream()
		if out == nil {
			return true, nil
		}
		if len(msg.BinaryBody()) == 0 {
			// Zero-length audio frame ends the turn's audio.
			return true, s.turns.CompleteTurn(msg.RequestID())
		}
		return true, out.Write(msg.BinaryBody())

	case protocol.PathTurnEnd:
		// turn.end for a service-initiated turn (the client's own turn.end
		// is handled upstream).
		if s.turns.GetTurn(msg.RequestID()) != nil {
			return true, s.turns.CompleteTurn(msg.RequestID())
		}
		return false, nil
	}
	return false, nil
}

// Dispose force-completes all tracked service turns.
func (s *DialogStrategy) Dispose() {
	s.turns.CompleteAll()
}
