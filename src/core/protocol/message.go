// Package protocol implements the framed text/binary message envelope
// exchanged with the speech service and the JSON payloads it carries.
package protocol

import (
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"speechlink-go/src/core/utils"
)

// MessageType distinguishes text frames (JSON/SSML bodies) from binary
// frames (audio chunks).
type MessageType int

const (
	MessageTypeText MessageType = iota
	MessageTypeBinary
)

// Protocol-mandatory and optional header names.
const (
	HeaderPath        = "Path"
	HeaderRequestID   = "X-RequestId"
	HeaderTimestamp   = "X-Timestamp"
	HeaderContentType = "Content-Type"
	HeaderStreamID    = "X-StreamId"
)

// Known inbound paths dispatched by the adapters.
const (
	PathTurnStart               = "turn.start"
	PathTurnEnd                 = "turn.end"
	PathSpeechStartDetected     = "speech.startdetected"
	PathSpeechEndDetected       = "speech.enddetected"
	PathSpeechHypothesis        = "speech.hypothesis"
	PathSpeechPhrase            = "speech.phrase"
	PathTranslationHypothesis   = "translation.hypothesis"
	PathTranslationPhrase       = "translation.phrase"
	PathTranslationSynthesis    = "translation.synthesis"
	PathTranslationSynthesisEnd = "translation.synthesis.end"
	PathAudio                   = "audio"
	PathResponse                = "response"
	PathAudioMetadata           = "audio.metadata"
	PathSpeakerProfiles         = "speaker.profiles"
	PathSpeakerPhrases          = "speaker.phrases"
	PathSpeakerEnrollment       = "speaker.profile.enrollment"
)

// Known outbound paths.
const (
	PathSpeechConfig         = "speech.config"
	PathSpeechContext        = "speech.context"
	PathSynthesisContext     = "synthesis.context"
	PathSSML                 = "ssml"
	PathSynthesisControl     = "synthesis.control"
	PathAgent                = "agent"
	PathAgentConfig          = "agent.config"
	PathAgentContext         = "speech.agent.context"
	PathSpeakerProfileCreate = "speaker.profile.create"
	PathSpeakerProfileDelete = "speaker.profile.delete"
	PathSpeakerProfileReset  = "speaker.profile.reset"
	PathSpeakerProfileFetch  = "speaker.profile.fetch"
	PathSpeakerProfileEnroll = "speaker.profile.enroll"
	PathSpeakerPhrasesFetch  = "speaker.profile.phrases"
)

// RawMessage is the transport-level frame before protocol classification.
type RawMessage struct {
	Type       MessageType
	Headers    map[string]string
	TextBody   string
	BinaryBody []byte
}

// Message is the wire-level request/response envelope. Path and RequestID
// are protocol-mandatory; construction without either fails. Immutable
// after construction.
type Message struct {
	messageType       MessageType
	path              string
	requestID         string
	contentType       string
	streamID          string
	timestamp         string
	additionalHeaders map[string]string
	textBody          string
	binaryBody        []byte
}

func newMessage(mt MessageType, path, requestID string) (*Message, error) {
	if path == "" {
		return nil, utils.ArgumentNil("protocol.newMessage", "path")
	}
	if requestID == "" {
		return nil, utils.ArgumentNil("protocol.newMessage", "requestId")
	}
	return &Message{
		messageType: mt,
		path:        path,
		requestID:   requestID,
		timestamp:   time.Now().UTC().Format(time.RFC3339Nano),
	}, nil
}

// NewTextMessage builds a text-bodied message. extraHeaders may be nil.
func NewTextMessage(path, requestID, contentType, body string, extraHeaders map[string]string) (*Message, error) {
	m, err := newMessage(MessageTypeText, path, requestID)
	if err != nil {
		return nil, err
	}
	m.contentType = contentType
	m.textBody = body
	m.additionalHeaders = extraHeaders
	return m, nil
}

// NewBinaryMessage builds a binary-bodied message. A nil body is legal and
// signals end of audio for the "audio" path. streamID may be empty.
func NewBinaryMessage(path, requestID, streamID string, body []byte, extraHeaders map[string]string) (*Message, error) {
	m, err := newMessage(MessageTypeBinary, path, requestID)
	if err != nil {
		return nil, err
	}
	m.streamID = streamID
	m.binaryBody = body
	m.additionalHeaders = extraHeaders
	return m, nil
}

func (m *Message) Type() MessageType  { return m.messageType }
func (m *Message) Path() string       { return m.path }
func (m *Message) RequestID() string  { return m.requestID }
func (m *Message) ContentType() string { return m.contentType }
func (m *Message) StreamID() string   { return m.streamID }
func (m *Message) Timestamp() string  { return m.timestamp }
func (m *Message) TextBody() string   { return m.textBody }
func (m *Message) BinaryBody() []byte { return m.binaryBody }

// AdditionalHeaders returns headers outside the four known protocol ones.
func (m *Message) AdditionalHeaders() map[string]string { return m.additionalHeaders }

// FromRawMessage reconstructs a protocol message from a transport frame,
// classifying headers case-insensitively. Unknown path/requestId are left
// empty rather than rejected: inbound frames are validated by the
// dispatch layer, not the decoder.
func FromRawMessage(raw *RawMessage) *Message {
	m := &Message{
		messageType:       raw.Type,
		textBody:          raw.TextBody,
		binaryBody:        raw.BinaryBody,
		additionalHeaders: make(map[string]string),
	}
	for name, value := range raw.Headers {
		switch strings.ToLower(name) {
		case strings.ToLower(HeaderPath):
			m.path = value
		case strings.ToLower(HeaderRequestID):
			m.requestID = value
		case strings.ToLower(HeaderTimestamp):
			m.timestamp = value
		case strings.ToLower(HeaderContentType):
			m.contentType = value
		case strings.ToLower(HeaderStreamID):
			m.streamID = value
		default:
			m.additionalHeaders[name] = value
		}
	}
	return m
}

func (m *Message) headerSection() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: %s\r\n", HeaderPath, m.path)
	fmt.Fprintf(&sb, "%s: %s\r\n", HeaderRequestID, m.requestID)
	fmt.Fprintf(&sb, "%s: %s\r\n", HeaderTimestamp, m.timestamp)
	if m.contentType != "" {
		fmt.Fprintf(&sb, "%s: %s\r\n", HeaderContentType, m.contentType)
	}
	if m.streamID != "" {
		fmt.Fprintf(&sb, "%s: %s\r\n", HeaderStreamID, m.streamID)
	}
	for name, value := range m.additionalHeaders {
		fmt.Fprintf(&sb, "%s: %s\r\n", name, value)
	}
	return sb.String()
}

// Serialize produces the wire payload for this message.
//
// Text frame layout: header lines, a blank line, then the UTF-8 body.
// Binary frame layout: a 2-byte big-endian header-section length, the
// header lines, then the raw body bytes.
func (m *Message) Serialize() (MessageType, []byte, error) {
	headers := m.headerSection()
	switch m.messageType {
	case MessageTypeText:
		return MessageTypeText, []byte(headers + "\r\n" + m.textBody), nil
	case MessageTypeBinary:
		if len(headers) > 0xFFFF {
			return 0, nil, utils.NewError(utils.KindProtocol, "protocol.Serialize", "header section too large")
		}
		payload := make([]byte, 2+len(headers)+len(m.binaryBody))
		binary.BigEndian.PutUint16(payload[0:2], uint16(len(headers)))
		copy(payload[2:], headers)
		copy(payload[2+len(headers):], m.binaryBody)
		return MessageTypeBinary, payload, nil
	default:
		return 0, nil, utils.NewError(utils.KindProtocol, "protocol.Serialize", "unknown message type")
	}
}

// Deserialize parses a wire payload into a RawMessage.
func Deserialize(mt MessageType, payload []byte) (*RawMessage, error) {
	switch mt {
	case MessageTypeText:
		text := string(payload)
		sep := strings.Index(text, "\r\n\r\n")
		if sep < 0 {
			return nil, utils.NewError(utils.KindProtocol, "protocol.Deserialize", "text frame missing header separator")
		}
		headers, err := parseHeaderLines(text[:sep])
		if err != nil {
			return nil, err
		}
		return &RawMessage{Type: MessageTypeText, Headers: headers, TextBody: text[sep+4:]}, nil
	case MessageTypeBinary:
		if len(payload) < 2 {
			return nil, utils.NewError(utils.KindProtocol, "protocol.Deserialize", "binary frame too short")
		}
		headerLen := int(binary.BigEndian.Uint16(payload[0:2]))
		if len(payload) < 2+headerLen {
			return nil, utils.NewError(utils.KindProtocol, "protocol.Deserialize", "binary frame shorter than declared header section")
		}
		headers, err := parseHeaderLines(string(payload[2 : 2+headerLen]))
		if err != nil {
			return nil, err
		}
		body := payload[2+headerLen:]
		return &RawMessage{Type: MessageTypeBinary, Headers: headers, BinaryBody: body}, nil
	default:
		return nil, utils.NewError(utils.KindProtocol, "protocol.Deserialize", "unknown message type")
	}
}

func parseHeaderLines(section string) (map[string]string, error) {
	headers := make(map[string]string)
	for _, line := range strings.Split(section, "\r\n") {
		if line == "" {
			continue
		}
		name, value, found := strings.Cut(line, ":")
		if !found {
			return nil, utils.NewError(utils.KindProtocol, "protocol.parseHeaderLines",
				fmt.Sprintf("malformed header line %q", line))
		}
		headers[strings.TrimSpace(name)] = strings.TrimSpace(value)
	}
	return headers, nil
}
