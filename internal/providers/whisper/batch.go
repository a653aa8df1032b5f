// Package whisper adapts an OpenAI-compatible transcription endpoint to the
// streaming recognition port. Audio is buffered for the whole session and
// transcribed once when the caller closes the send side.
package whisper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"

	"lazymic/internal/audio"
	"lazymic/internal/domain"
	"lazymic/internal/ports"
)

// maxBufferedBytes is the OpenAI upload limit for one audio file.
const maxBufferedBytes = 25 << 20

// Config controls the transcription endpoint.
type Config struct {
	APIKey   string
	BaseURL  string
	Model    string
	Language string
}

type transcriber interface {
	CreateTranscription(ctx context.Context, request openai.AudioRequest) (openai.AudioResponse, error)
}

// Provider implements ports.TranscriptionProvider on top of go-openai.
type Provider struct {
	cfg    Config
	client transcriber
	logger zerolog.Logger
}

func NewProvider(cfg Config, logger zerolog.Logger) *Provider {
	if cfg.Model == "" {
		cfg.Model = openai.Whisper1
	}
	var client transcriber
	if strings.TrimSpace(cfg.APIKey) != "" {
		clientCfg := openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			clientCfg.BaseURL = cfg.BaseURL
		}
		client = openai.NewClientWithConfig(clientCfg)
	}
	return &Provider{cfg: cfg, client: client, logger: logger}
}

func (p *Provider) StartStreaming(ctx context.Context, cfg ports.StreamingConfig) (ports.StreamingSession, error) {
	if p.client == nil {
		return nil, errors.New("OPENAI_API_KEY is not configured")
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	session := &batchSession{
		ctx:      sessionCtx,
		cancel:   cancel,
		provider: p,
		stream:   cfg,
		events:   make(chan domain.TranscriptEvent, 1),
		done:     make(chan struct{}),
	}
	go func() {
		select {
		case <-sessionCtx.Done():
			_ = session.Close()
		case <-session.done:
		}
	}()
	return session, nil
}

type batchSession struct {
	ctx      context.Context
	cancel   context.CancelFunc
	provider *Provider
	stream   ports.StreamingConfig

	events chan domain.TranscriptEvent
	done   chan struct{}

	mu     sync.Mutex
	pcm    bytes.Buffer
	sent   bool
	closed bool
	err    error

	finishOnce sync.Once
}

func (s *batchSession) SendAudio(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sent || s.closed {
		return errors.New("audio stream is already closed")
	}
	if s.pcm.Len()+len(chunk) > maxBufferedBytes {
		return fmt.Errorf("recording exceeds %d bytes", maxBufferedBytes)
	}
	s.pcm.Write(chunk)
	return nil
}

// CloseSend ends the recording and starts the transcription request.
func (s *batchSession) CloseSend() error {
	s.mu.Lock()
	if s.sent || s.closed {
		s.mu.Unlock()
		return nil
	}
	s.sent = true
	pcm := append([]byte(nil), s.pcm.Bytes()...)
	s.pcm.Reset()
	s.mu.Unlock()

	go s.transcribe(pcm)
	return nil
}

func (s *batchSession) Events() <-chan domain.TranscriptEvent {
	return s.events
}

func (s *batchSession) Wait() error {
	<-s.done
	return s.waitErr()
}

// Close abandons the session and cancels a transcription still in flight.
func (s *batchSession) Close() error {
	s.mu.Lock()
	s.closed = true
	sent := s.sent
	s.mu.Unlock()

	if !sent {
		s.finish(domain.TranscriptEvent{}, nil)
	}
	s.cancel()
	<-s.done
	return s.waitErr()
}

func (s *batchSession) transcribe(pcm []byte) {
	if len(pcm) == 0 {
		s.finish(domain.TranscriptEvent{}, nil)
		return
	}

	wav, err := audio.EncodeWAV(pcm, s.stream.SampleRate, s.stream.Channels)
	if err != nil {
		s.finish(domain.TranscriptEvent{}, err)
		return
	}

	request := openai.AudioRequest{
		Model:    s.provider.cfg.Model,
		FilePath: "utterance.wav",
		Reader:   bytes.NewReader(wav),
		Language: s.provider.cfg.Language,
		Format:   openai.AudioResponseFormatJSON,
	}
	s.provider.logger.Debug().
		Str("model", request.Model).
		Int("bytes", len(wav)).
		Msg("transcription requested")

	response, err := s.provider.client.CreateTranscription(s.ctx, request)
	if err != nil {
		s.finish(domain.TranscriptEvent{}, fmt.Errorf("transcription failed: %w", err))
		return
	}

	text := strings.TrimSpace(response.Text)
	s.provider.logger.Debug().Int("chars", len(text)).Msg("transcription received")
	s.finish(domain.TranscriptEvent{Kind: domain.TranscriptKindFinal, Text: text, IsSpeechFinal: true}, nil)
}

func (s *batchSession) finish(event domain.TranscriptEvent, err error) {
	s.finishOnce.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		if event.Text != "" {
			s.events <- event
		}
		close(s.events)
		close(s.done)
		s.cancel()
	})
}

func (s *batchSession) waitErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
