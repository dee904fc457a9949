package adapter

import (
	"context"
	"strings"

	"speechlink-go/src/core/protocol"
	"speechlink-go/src/core/session"
	"speechlink-go/src/core/stream"
	"speechlink-go/src/core/transport"
)

// TranslationStrategy handles speech translation: hypothesis/phrase
// messages carry per-language translations, and the service may stream
// synthesized audio of the translation back on translation.synthesis.
type TranslationStrategy struct {
	SourceLanguage  string
	TargetLanguages []string
	// VoiceName enables synthesized translation audio when non-empty.
	VoiceName string

	synthAudio *stream.Stream[[]byte]
}

func NewTranslationStrategy(source string, targets []string, voice string) *TranslationStrategy {
	return &TranslationStrategy{
		SourceLanguage:  source,
		TargetLanguages: targets,
		VoiceName:       voice,
		synthAudio:      stream.NewStream[[]byte](),
	}
}

func (s *TranslationStrategy) Name() string { return "translation" }

// SynthesisAudio is the stream of translated-speech audio chunks, fed by
// translation.synthesis messages.
func (s *TranslationStrategy) SynthesisAudio() *stream.Stream[[]byte] { return s.synthAudio }

func (s *TranslationStrategy) ContextMessage(sess *session.RequestSession) (string, string, string, error) {
	ctx := protocol.SpeechContext{
		Translation: map[string]any{
			"targetLanguages": s.TargetLanguages,
		},
	}
	if s.VoiceName != "" {
		ctx.Translation["voice"] = s.VoiceName
	}
	body, err := protocol.MarshalBody(ctx)
	if err != nil {
		return "", "", "", err
	}
	return protocol.PathSpeechContext, protocol.ContentTypeJSON, body, nil
}

func (s *TranslationStrategy) PreAudioMessages(ctx context.Context, conn transport.Connection, requestID string) error {
	return nil
}

func (s *TranslationStrategy) ProcessMessage(ctx context.Context, msg *protocol.Message, a *Adapter) (bool, error) {
	switch strings.ToLower(msg.Path()) {
	case protocol.PathTranslationHypothesis:
		var hyp protocol.TranslationHypothesis
		if err := protocol.UnmarshalBody(msg.TextBody(), &hyp); err != nil {
			return true, err
		}
		a.Session().OnHypothesis(hyp.Offset + hyp.Duration)
		a.InvokeRecognizing(&session.Result{
			Reason:       session.ReasonTranslatingSpeech,
			RequestID:    msg.RequestID(),
			Text:         hyp.Text,
			Offset:       hyp.Offset,
			Duration:     hyp.Duration,
			Translations: translationMap(hyp.Translation),
			JSON:         msg.TextBody(),
		})
		return true, nil

	case protocol.PathTranslationPhrase:
		var phrase protocol.TranslationPhrase
		if err := protocol.UnmarshalBody(msg.TextBody(), &phrase); err != nil {
			return true, err
		}
		result := &session.Result{
			RequestID:    msg.RequestID(),
			Text:         phrase.DisplayText,
			Offset:       phrase.Offset,
			Duration:     phrase.Duration,
			Translations: translationMap(phrase.Translation),
			JSON:         msg.TextBody(),
		}
		switch phrase.RecognitionStatus {
		case protocol.StatusSuccess:
			result.Reason = session.ReasonTranslatedSpeech
		case protocol.StatusNoMatch, protocol.StatusInitialSilenceTimeout, protocol.StatusBabbleTimeout:
			result.Reason = session.ReasonNoMatch
		default:
			result.Reason = session.ReasonCanceled
			result.CancellationReason = session.CancellationError
			result.ErrorCode = session.CancellationCodeServiceError
			result.ErrorDetails = "recognition status " + phrase.RecognitionStatus
		}
		a.Session().OnPhraseRecognized(phrase.Offset + phrase.Duration)
		a.InvokeRecognized(result)
		if a.IsInteractive() {
			a.FinishAttempt(result)
		}
		return true, nil

	case protocol.PathTranslationSynthesis:
		_ = s.synthAudio.Write(msg.BinaryBody())
		return true, nil

	case protocol.PathTranslationSynthesisEnd:
		s.synthAudio.Close()
		return true, nil
	}
	return false, nil
}

func translationMap(results []protocol.TranslationResult) map[string]string {
	if len(results) == 0 {
		return nil
	}
	out := make(map[string]string, len(results))
	for _, r := range results {
		out[r.Language] = r.Text
	}
	return out
}
