package adapter

import (
	"context"
	"strings"

	"speechlink-go/src/core/protocol"
	"speechlink-go/src/core/session"
	"speechlink-go/src/core/transport"
)

// SpeechStrategy handles plain speech-to-text: speech.hypothesis and
// speech.phrase bodies on top of the shared turn machinery.
type SpeechStrategy struct {
	Language string
}

func (s *SpeechStrategy) Name() string { return "speech" }

func (s *SpeechStrategy) ContextMessage(sess *session.RequestSession) (string, string, string, error) {
	ctx := protocol.SpeechContext{}
	body, err := protocol.MarshalBody(ctx)
	if err != nil {
		return "", "", "", err
	}
	return protocol.PathSpeechContext, protocol.ContentTypeJSON, body, nil
}

func (s *SpeechStrategy) PreAudioMessages(ctx context.Context, conn transport.Connection, requestID string) error {
	return nil
}

func (s *SpeechStrategy) ProcessMessage(ctx context.Context, msg *protocol.Message, a *Adapter) (bool, error) {
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
		if a.IsInteractive() && phrase.RecognitionStatus != protocol.StatusEndOfDictation {
			a.FinishAttempt(result)
		}
		return true, nil
	}
	return false, nil
}

// phraseToResult maps a recognition status onto a result reason. NoMatch
// and its silence/babble variants are successful no-result outcomes, not
// cancellations.
func phraseToResult(phrase *protocol.SpeechPhrase, msg *protocol.Message) *session.Result {
	r := &session.Result{
		RequestID: msg.RequestID(),
		Text:      phrase.DisplayText,
		Offset:    phrase.Offset,
		Duration:  phrase.Duration,
		JSON:      msg.TextBody(),
	}
	switch phrase.RecognitionStatus {
	case protocol.StatusSuccess, protocol.StatusEndOfDictation:
		r.Reason = session.ReasonRecognizedSpeech
	case protocol.StatusNoMatch, protocol.StatusInitialSilenceTimeout, protocol.StatusBabbleTimeout:
		r.Reason = session.ReasonNoMatch
	default:
		r.Reason = session.ReasonCanceled
		r.CancellationReason = session.CancellationError
		r.ErrorCode = session.CancellationCodeServiceError
		r.ErrorDetails = "recognition status " + phrase.RecognitionStatus
	}
	return r
}
