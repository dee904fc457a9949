package protocol

import (
	"github.com/bytedance/sonic"
)

// ContentTypeJSON is the content type used by all text bodies except SSML.
const (
	ContentTypeJSON = "application/json"
	ContentTypeSSML = "application/ssml+xml"
)

// SpeechConfig is the speech.config body sent once per connection, before
// any audio.
type SpeechConfig struct {
	Context SpeechConfigContext `json:"context"`
}

type SpeechConfigContext struct {
	System SystemInfo `json:"system"`
	OS     OSInfo     `json:"os"`
	Audio  AudioInfo  `json:"audio"`
}

type SystemInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Build   string `json:"build"`
	Lang    string `json:"lang"`
}

type OSInfo struct {
	Platform string `json:"platform"`
	Name     string `json:"name"`
	Version  string `json:"version"`
}

type AudioInfo struct {
	Source AudioSourceInfo `json:"source"`
}

type AudioSourceInfo struct {
	BitsPerSample int    `json:"bitspersample"`
	Channels      int    `json:"channelcount"`
	SampleRate    int    `json:"samplerate"`
	Model         string `json:"model,omitempty"`
	Connectivity  string `json:"connectivity,omitempty"`
	Type          string `json:"type,omitempty"`
}

// SpeechContext is the speech.context body sent at the start of each turn.
type SpeechContext struct {
	PhraseDetection map[string]any `json:"phraseDetection,omitempty"`
	Translation     map[string]any `json:"translation,omitempty"`
	Custom          map[string]any `json:"custom,omitempty"`
}

// SpeechHypothesis is an incremental (unstable) recognition result.
type SpeechHypothesis struct {
	Text     string `json:"Text"`
	Offset   int64  `json:"Offset"`
	Duration int64  `json:"Duration"`
}

// Recognition statuses reported in speech.phrase bodies.
const (
	StatusSuccess               = "Success"
	StatusNoMatch               = "NoMatch"
	StatusInitialSilenceTimeout = "InitialSilenceTimeout"
	StatusBabbleTimeout         = "BabbleTimeout"
	StatusError                 = "Error"
	StatusEndOfDictation        = "EndOfDictation"
)

// SpeechPhrase is a final (stable) recognition result for one audio span.
type SpeechPhrase struct {
	RecognitionStatus string  `json:"RecognitionStatus"`
	DisplayText       string  `json:"DisplayText"`
	Offset            int64   `json:"Offset"`
	Duration          int64   `json:"Duration"`
	Confidence        float64 `json:"Confidence,omitempty"`
}

// TranslationResult carries per-language translated text.
type TranslationResult struct {
	Language string `json:"Language"`
	Text     string `json:"Text"`
}

type TranslationHypothesis struct {
	Text        string              `json:"Text"`
	Offset      int64               `json:"Offset"`
	Duration    int64               `json:"Duration"`
	Translation []TranslationResult `json:"Translation"`
}

type TranslationPhrase struct {
	RecognitionStatus string              `json:"RecognitionStatus"`
	DisplayText       string              `json:"DisplayText"`
	Offset            int64               `json:"Offset"`
	Duration          int64               `json:"Duration"`
	Translation       []TranslationResult `json:"Translation"`
}

// TurnStart is the body of a turn.start message. Service-initiated dialog
// turns carry a request id that differs from the client's own.
type TurnStart struct {
	Context struct {
		ServiceTag string `json:"serviceTag"`
	} `json:"context"`
}

// SpeechDetected is the body of speech.startdetected / speech.enddetected.
type SpeechDetected struct {
	Offset int64 `json:"Offset"`
}

// AudioMetadata carries synthesis boundary events (word, sentence, viseme,
// bookmark).
type AudioMetadata struct {
	Metadata []MetadataEntry `json:"Metadata"`
}

type MetadataEntry struct {
	Type string       `json:"Type"`
	Data MetadataData `json:"Data"`
}

type MetadataData struct {
	Offset   int64        `json:"Offset"`
	Duration int64        `json:"Duration,omitempty"`
	Text     MetadataText `json:"text,omitempty"`
	Bookmark string       `json:"Bookmark,omitempty"`
	VisemeID int          `json:"VisemeId,omitempty"`
}

type MetadataText struct {
	Text         string `json:"Text"`
	Length       int    `json:"Length"`
	BoundaryType string `json:"BoundaryType"`
}

// SynthesisControl is the synthesis.control body, e.g. {"action":"stop"}.
type SynthesisControl struct {
	Action string `json:"action"`
}

// AgentConfig is sent on dialog connections before audio.
type AgentConfig struct {
	Version     int    `json:"version"`
	BotInfo     any    `json:"botInfo,omitempty"`
	TTSAudioFmt string `json:"ttsAudioFormat,omitempty"`
	Connection  any    `json:"connectionInfo,omitempty"`
}

// ActivityPayload is the response body for dialog activities; the optional
// stream id names the audio output stream the activity's audio arrives on.
type ActivityPayload struct {
	ConversationID string         `json:"conversationId,omitempty"`
	MessageType    string         `json:"messageType,omitempty"`
	MessagePayload map[string]any `json:"messagePayload,omitempty"`
}

// SpeakerProfile messages.
type SpeakerProfileCommand struct {
	ProfileIDs []string `json:"profileIds,omitempty"`
	MaxPhrases int      `json:"maxPageSize,omitempty"`
	Locale     string   `json:"locale,omitempty"`
	Scenario   string   `json:"scenario,omitempty"`
}

type SpeakerResponse struct {
	Status     string   `json:"status"`
	ProfileID  string   `json:"profileId,omitempty"`
	ProfileIDs []string `json:"profileIds,omitempty"`
	Phrases    []string `json:"passPhrases,omitempty"`
	Score      float64  `json:"score,omitempty"`
}

// MarshalJSON / UnmarshalJSON helpers: all protocol bodies go through
// sonic for speed and to keep one codec across the SDK.

func MarshalBody(v any) (string, error) {
	data, err := sonic.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func UnmarshalBody(body string, v any) error {
	return sonic.Unmarshal([]byte(body), v)
}
