package audio

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"speechlink-go/src/core/events"
	"speechlink-go/src/core/stream"
	"speechlink-go/src/core/utils"

	"github.com/google/uuid"
	mp3 "github.com/hajimehoshi/go-mp3"
)

// FileSource streams a WAV or MP3 file as PCM chunks. The file is read
// once, pumped into a chunked stream; every Attach gets an independent
// reader over the same chunk sequence.
type FileSource struct {
	id     string
	path   string
	logger *utils.Logger
	bus    *events.Bus

	mu      sync.Mutex
	format  StreamFormat
	chunks  *stream.ChunkedByteStream
	started bool
	openErr error
}

func NewFileSource(path string, logger *utils.Logger) *FileSource {
	return &FileSource{
		id:     uuid.NewString(),
		path:   path,
		logger: logger,
		bus:    events.NewBus(),
	}
}

func (s *FileSource) ID() string { return s.id }

func (s *FileSource) DeviceInfo() DeviceInfo {
	return DeviceInfo{Name: "File", Model: filepath.Ext(s.path), Connectivity: "file"}
}

func (s *FileSource) Events() *events.Bus { return s.bus }

// Format opens the file header on first use to discover the PCM format.
func (s *FileSource) Format() (StreamFormat, error) {
	if err := s.ensureStarted(); err != nil {
		return StreamFormat{}, err
	}
	return s.format, nil
}

func (s *FileSource) Attach(ctx context.Context, audioNodeID string) (Node, error) {
	if err := s.ensureStarted(); err != nil {
		return nil, err
	}
	s.logger.DebugTag("AUDIO", "file source attach node=%s", audioNodeID)
	return &streamNode{id: audioNodeID, reader: s.chunks.GetReader()}, nil
}

func (s *FileSource) Detach(audioNodeID string) {
	s.logger.DebugTag("AUDIO", "file source detach node=%s", audioNodeID)
}

func (s *FileSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.chunks != nil {
		s.chunks.Dispose()
	}
	return nil
}

func (s *FileSource) ensureStarted() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return s.openErr
	}
	s.started = true

	file, err := os.Open(s.path)
	if err != nil {
		s.openErr = utils.WrapError(utils.KindArgument, "audio.FileSource", "open audio file", err)
		return s.openErr
	}

	var body io.Reader
	switch strings.ToLower(filepath.Ext(s.path)) {
	case ".wav":
		header := make([]byte, 44)
		if _, err := io.ReadFull(file, header); err != nil {
			file.Close()
			s.openErr = utils.WrapError(utils.KindArgument, "audio.FileSource", "read wav header", err)
			return s.openErr
		}
		format, _, err := ParseWAVHeader(header)
		if err != nil {
			file.Close()
			s.openErr = utils.WrapError(utils.KindArgument, "audio.FileSource", "parse wav header", err)
			return s.openErr
		}
		s.format = format
		body = file
	case ".mp3":
		decoder, err := mp3.NewDecoder(file)
		if err != nil {
			file.Close()
			s.openErr = utils.WrapError(utils.KindArgument, "audio.FileSource", "decode mp3", err)
			return s.openErr
		}
		// go-mp3 always outputs 16-bit stereo PCM.
		s.format = StreamFormat{SampleRate: decoder.SampleRate(), BitsPerSample: 16, Channels: 2}
		body = decoder
	default:
		file.Close()
		s.openErr = utils.NewError(utils.KindArgument, "audio.FileSource",
			fmt.Sprintf("unsupported audio file type %q", filepath.Ext(s.path)))
		return s.openErr
	}

	s.chunks = stream.NewChunkedByteStream(s.format.AvgBytesPerSec() / 10)
	go s.pump(file, body)
	return nil
}

// pump copies file bytes into the chunk stream off the caller's goroutine.
func (s *FileSource) pump(file *os.File, body io.Reader) {
	defer file.Close()
	buf := make([]byte, 32*1024)
	total := 0
	for {
		n, err := body.Read(buf)
		if n > 0 {
			total += n
			if werr := s.chunks.Write(buf[:n]); werr != nil {
				s.logger.WarnTag("AUDIO", "file pump aborted: %v", werr)
				return
			}
		}
		if err != nil {
			if err != io.EOF {
				s.logger.ErrorTag("AUDIO", "file read failed after %d bytes: %v", total, err)
			}
			s.chunks.Close()
			s.bus.Publish(events.TopicTelemetry, events.MessageEvent{
				SessionID: s.id, Path: "audio.file.drained", Size: total, Timestamp: time.Now(),
			})
			return
		}
	}
}
