package adapter

import (
	"context"
	"strings"

	"speechlink-go/src/core/protocol"
	"speechlink-go/src/core/session"
	"speechlink-go/src/core/transport"
	"speechlink-go/src/core/utils"
)

// SpeakerStrategy handles speaker verification/identification: profile
// management commands go out before audio, and speaker.* responses settle
// the attempt.
type SpeakerStrategy struct {
	// Scenario is "TextIndependentVerification",
	// "TextDependentVerification" or "TextIndependentIdentification".
	Scenario   string
	Locale     string
	ProfileIDs []string
}

func (s *SpeakerStrategy) Name() string { return "speaker" }

func (s *SpeakerStrategy) ContextMessage(sess *session.RequestSession) (string, string, string, error) {
	ctx := protocol.SpeechContext{
		Custom: map[string]any{
			"speakerRecognition": map[string]any{
				"scenario":   s.Scenario,
				"profileIds": s.ProfileIDs,
			},
		},
	}
	body, err := protocol.MarshalBody(ctx)
	if err != nil {
		return "", "", "", err
	}
	return protocol.PathSpeechContext, protocol.ContentTypeJSON, body, nil
}

func (s *SpeakerStrategy) PreAudioMessages(ctx context.Context, conn transport.Connection, requestID string) error {
	return nil
}

func (s *SpeakerStrategy) ProcessMessage(ctx context.Context, msg *protocol.Message, a *Adapter) (bool, error) {
	switch strings.ToLower(msg.Path()) {
	case protocol.PathSpeakerProfiles, protocol.PathSpeakerPhrases, protocol.PathSpeakerEnrollment:
		var resp protocol.SpeakerResponse
		if err := protocol.UnmarshalBody(msg.TextBody(), &resp); err != nil {
			return true, err
		}
		result := &session.Result{
			Reason:    session.ReasonRecognizedSpeaker,
			RequestID: msg.RequestID(),
			Text:      resp.ProfileID,
			JSON:      msg.TextBody(),
		}
		if resp.Status != "" && resp.Status != "Success" {
			result.Reason = session.ReasonCanceled
			result.CancellationReason = session.CancellationError
			result.ErrorCode = session.CancellationCodeServiceError
			result.ErrorDetails = "speaker response status " + resp.Status
		}
		a.InvokeRecognized(result)
		a.FinishAttempt(result)
		return true, nil
	}
	return false, nil
}

// SendProfileCommand issues a profile management request (create, reset,
// delete, fetch, enroll) outside the audio flow.
func (s *SpeakerStrategy) SendProfileCommand(ctx context.Context, a *Adapter, path string, cmd protocol.SpeakerProfileCommand) error {
	switch path {
	case protocol.PathSpeakerProfileCreate, protocol.PathSpeakerProfileDelete,
		protocol.PathSpeakerProfileReset, protocol.PathSpeakerProfileFetch,
		protocol.PathSpeakerProfileEnroll, protocol.PathSpeakerPhrasesFetch:
	default:
		return utils.NewError(utils.KindArgument, "SpeakerStrategy.SendProfileCommand",
			"unknown profile command path "+path)
	}
	if cmd.Locale == "" {
		cmd.Locale = s.Locale
	}
	if cmd.Scenario == "" {
		cmd.Scenario = s.Scenario
	}
	body, err := protocol.MarshalBody(cmd)
	if err != nil {
		return err
	}
	msg, err := protocol.NewTextMessage(path, a.Session().RequestID(),
		protocol.ContentTypeJSON, body, nil)
	if err != nil {
		return err
	}
	conn, err := a.fetchConnection(ctx)
	if err != nil {
		return err
	}
	return conn.Send(ctx, msg)
}
