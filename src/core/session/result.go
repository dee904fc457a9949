// Package session tracks per-attempt recognition state: identifiers,
// audio offsets, turn lifecycle and the dialog turn registry.
package session

// ResultReason states why a result was produced. NoMatch is a successful
// outcome ("no error, nothing recognized"), distinct from Canceled which
// reports a real failure; callers depend on that distinction.
type ResultReason int

const (
	ReasonRecognizingSpeech ResultReason = iota
	ReasonRecognizedSpeech
	ReasonTranslatingSpeech
	ReasonTranslatedSpeech
	ReasonRecognizedSpeaker
	ReasonNoMatch
	ReasonCanceled
	ReasonSynthesizingAudio
	ReasonSynthesizingAudioCompleted
	ReasonActivityReceived
)

type CancellationReason int

const (
	CancellationError CancellationReason = iota + 1
	CancellationEndOfStream
	CancellationUser
)

type CancellationErrorCode int

const (
	CancellationCodeNone CancellationErrorCode = iota
	CancellationCodeConnectionFailure
	CancellationCodeAuthenticationFailure
	CancellationCodeServiceError
	CancellationCodeServiceTimeout
	CancellationCodeRuntimeError
)

// Result is one recognition/translation/dialog outcome delivered upward.
type Result struct {
	Reason    ResultReason
	RequestID string
	Text      string
	// Offset and Duration are in 100ns ticks, matching the wire protocol.
	Offset   int64
	Duration int64
	// Translations maps target language to translated text.
	Translations map[string]string
	// Cancellation details are set only when Reason is ReasonCanceled.
	CancellationReason CancellationReason
	ErrorCode          CancellationErrorCode
	ErrorDetails       string
	// JSON is the raw service payload for callers that need more.
	JSON string
}

// NewCanceledResult builds a canceled result with error details attached.
func NewCanceledResult(requestID string, code CancellationErrorCode, details string) *Result {
	return &Result{
		Reason:             ReasonCanceled,
		RequestID:          requestID,
		CancellationReason: CancellationError,
		ErrorCode:          code,
		ErrorDetails:       details,
	}
}
