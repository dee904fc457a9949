package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTextMessage_RequiresPathAndRequestID(t *testing.T) {
	_, err := NewTextMessage("", "REQ1", ContentTypeJSON, "{}", nil)
	assert.Error(t, err, "Empty path must be rejected at construction")

	_, err = NewTextMessage(PathSpeechContext, "", ContentTypeJSON, "{}", nil)
	assert.Error(t, err, "Empty request id must be rejected at construction")
}

func TestTextMessage_SerializeDeserializeRoundTrip(t *testing.T) {
	msg, err := NewTextMessage(PathSpeechContext, "ABC123", ContentTypeJSON,
		`{"translation":{}}`, map[string]string{"X-Custom": "v1"})
	require.NoError(t, err)

	mt, payload, err := msg.Serialize()
	require.NoError(t, err)
	require.Equal(t, MessageTypeText, mt)

	raw, err := Deserialize(mt, payload)
	require.NoError(t, err)
	decoded := FromRawMessage(raw)

	assert.Equal(t, PathSpeechContext, decoded.Path())
	assert.Equal(t, "ABC123", decoded.RequestID())
	assert.Equal(t, ContentTypeJSON, decoded.ContentType())
	assert.Equal(t, `{"translation":{}}`, decoded.TextBody())
	assert.Equal(t, "v1", decoded.AdditionalHeaders()["X-Custom"])
}

func TestBinaryMessage_SerializeDeserializeRoundTrip(t *testing.T) {
	body := []byte{0, 1, 2, 253, 254, 255}
	msg, err := NewBinaryMessage(PathAudio, "REQ42", "stream-7", body, nil)
	require.NoError(t, err)

	mt, payload, err := msg.Serialize()
	require.NoError(t, err)
	require.Equal(t, MessageTypeBinary, mt)

	raw, err := Deserialize(mt, payload)
	require.NoError(t, err)
	decoded := FromRawMessage(raw)

	assert.Equal(t, PathAudio, decoded.Path())
	assert.Equal(t, "REQ42", decoded.RequestID())
	assert.Equal(t, "stream-7", decoded.StreamID())
	assert.Equal(t, body, decoded.BinaryBody())
}

func TestBinaryMessage_NilBodySignalsEndOfAudio(t *testing.T) {
	msg, err := NewBinaryMessage(PathAudio, "REQ42", "", nil, nil)
	require.NoError(t, err)

	mt, payload, err := msg.Serialize()
	require.NoError(t, err)

	raw, err := Deserialize(mt, payload)
	require.NoError(t, err)
	assert.Empty(t, raw.BinaryBody, "End-of-audio frame carries headers only")
}

func TestFromRawMessage_HeaderNamesAreCaseInsensitive(t *testing.T) {
	raw := &RawMessage{
		Type: MessageTypeText,
		Headers: map[string]string{
			"path":         "speech.phrase",
			"x-requestid":  "LOWER1",
			"content-type": ContentTypeJSON,
			"X-MyHeader":   "kept",
		},
		TextBody: "{}",
	}

	msg := FromRawMessage(raw)

	assert.Equal(t, "speech.phrase", msg.Path())
	assert.Equal(t, "LOWER1", msg.RequestID())
	assert.Equal(t, ContentTypeJSON, msg.ContentType())
	assert.Equal(t, "kept", msg.AdditionalHeaders()["X-MyHeader"])
}

func TestDeserialize_TextFrameWithoutSeparatorFails(t *testing.T) {
	_, err := Deserialize(MessageTypeText, []byte("Path: foo\r\nno separator"))
	assert.Error(t, err)
}

func TestDeserialize_BinaryFrameShorterThanDeclaredHeaderFails(t *testing.T) {
	// Declares a 1000-byte header section but delivers 4 bytes.
	_, err := Deserialize(MessageTypeBinary, []byte{0x03, 0xE8, 'P', 'a'})
	assert.Error(t, err)
}

func TestHeaderValues_ColonInValueSurvives(t *testing.T) {
	msg, err := NewTextMessage(PathSpeechContext, "REQ1", ContentTypeJSON, "{}",
		map[string]string{"X-Endpoint": "wss://host:443/path"})
	require.NoError(t, err)

	mt, payload, err := msg.Serialize()
	require.NoError(t, err)
	raw, err := Deserialize(mt, payload)
	require.NoError(t, err)

	assert.Equal(t, "wss://host:443/path", FromRawMessage(raw).AdditionalHeaders()["X-Endpoint"])
}
