package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"lazymic/internal/domain"
	"lazymic/internal/ports"
)

var (
	ErrNoActiveSession  = errors.New("no active listening session")
	ErrAlreadyListening = errors.New("already listening")
	ErrProcessing       = errors.New("previous utterance is still being processed")
)

// maxRecordedBytes caps the audio kept for upload: ten minutes of 16 kHz
// mono s16le.
const maxRecordedBytes = 10 * 60 * 16000 * 2

// Config controls listening sessions. StreamWait bounds how long Stop waits
// for the engine to flush its final results; batch engines need longer than
// streaming ones.
type Config struct {
	Audio          ports.AudioConfig
	Streaming      ports.StreamingConfig
	ChunkSize      int
	StreamingGrace time.Duration
	AttentionCue   time.Duration
	SubmitAudio    bool
	StreamWait     time.Duration
}

// CaptureDeps are the collaborators of a CaptureController. Encoder is only
// needed when audio submission is enabled.
type CaptureDeps struct {
	Audio    ports.AudioCapture
	Provider ports.TranscriptionProvider
	Rules    ports.RulesEngine
	Encoder  ports.AudioEncoder
	Sink     ports.UtteranceSink
	Events   ports.EventSink
}

// CaptureController is the idle/listening state machine around one
// microphone and one recognition session.
type CaptureController struct {
	deps      CaptureDeps
	events    ports.EventSink
	finalizer transcriptFinalizer
	cfg       Config
	logger    zerolog.Logger

	mu         sync.Mutex
	current    *activeSession
	starting   bool
	processing bool
	last       string
}

func NewCaptureController(deps CaptureDeps, cfg Config, logger zerolog.Logger) *CaptureController {
	if cfg.ChunkSize < 256 {
		cfg.ChunkSize = 4096
	}
	if cfg.StreamWait <= 0 {
		cfg.StreamWait = streamWaitTimeout
	}
	events := deps.Events
	if events == nil {
		events = nopEventSink{}
	}
	return &CaptureController{
		deps:      deps,
		events:    events,
		finalizer: newTranscriptFinalizer(deps.Rules, events),
		cfg:       cfg,
		logger:    logger,
	}
}

// Start opens the microphone and a recognition session.
func (c *CaptureController) Start(ctx context.Context) error {
	c.mu.Lock()
	switch {
	case c.processing:
		c.mu.Unlock()
		return ErrProcessing
	case c.current != nil || c.starting:
		c.mu.Unlock()
		return ErrAlreadyListening
	}
	c.starting = true
	c.mu.Unlock()

	active, err := c.open(ctx)

	c.mu.Lock()
	c.starting = false
	if err == nil {
		c.current = active
		c.last = ""
	}
	c.mu.Unlock()
	if err != nil {
		return err
	}

	go consumeTranscriptionEvents(active.stream, active.aggregator, c.events, func(closed bool) {
		go c.endFromEngine(active, closed)
	}, active.eventsDone)
	go pumpAudioChunks(active.audio, active.stream, c.cfg.ChunkSize, active.recorder, func(code domain.ErrorCode, detail string) {
		go c.failSession(active, code, detail)
	}, active.audioDone)

	c.logger.Debug().Str("session", active.id).Msg("listening started")
	c.events.CaptureStateChanged(domain.CaptureStateListening, domain.CaptureReasonListeningStarted)
	if c.cfg.AttentionCue > 0 {
		c.events.AttentionCue(true)
		active.startCue(c.cfg.AttentionCue, func() { c.events.AttentionCue(false) })
	}
	return nil
}

func (c *CaptureController) open(ctx context.Context) (*activeSession, error) {
	sessionCtx, cancel := context.WithCancel(ctx)
	stream, err := c.deps.Provider.StartStreaming(sessionCtx, c.cfg.Streaming)
	if err != nil {
		cancel()
		c.events.CaptureError(domain.ErrorCodeStartup, fmt.Sprintf("recognition engine unavailable: %v", err))
		return nil, fmt.Errorf("start recognition: %w", err)
	}

	audioSession, err := c.deps.Audio.Start(sessionCtx, c.cfg.Audio)
	if err != nil {
		_ = stream.Close()
		cancel()
		detail := fmt.Sprintf("microphone could not be started: %v", err)
		if errors.Is(err, domain.ErrMicrophoneUnavailable) {
			detail = fmt.Sprintf("microphone unavailable or permission denied: %v", err)
		}
		c.events.CaptureError(domain.ErrorCodeMicrophone, detail)
		return nil, fmt.Errorf("start microphone: %w", err)
	}

	active := &activeSession{
		id:         uuid.NewString(),
		cancel:     cancel,
		audio:      audioSession,
		stream:     stream,
		aggregator: newTranscriptAggregator(),
		eventsDone: make(chan struct{}),
		audioDone:  make(chan struct{}),
	}
	if c.cfg.SubmitAudio && c.deps.Encoder != nil {
		active.recorder = newPCMRecorder(maxRecordedBytes)
	}
	return active, nil
}

// Stop ends the active session and submits its transcript. Stopping while
// idle does nothing.
func (c *CaptureController) Stop(ctx context.Context) (domain.StopResult, error) {
	active := c.currentSession()
	if active == nil || !active.claim() {
		return domain.StopResult{}, nil
	}

	if err := active.audio.Stop(); err != nil {
		c.logger.Warn().Err(err).Str("session", active.id).Msg("microphone did not stop cleanly")
	}

	if c.cfg.StreamingGrace > 0 {
		timer := time.NewTimer(c.cfg.StreamingGrace)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
		}
	}

	_ = active.stream.CloseSend()
	streamErr := waitForStream(active.stream, c.cfg.StreamWait)
	active.cancel()
	_ = active.stream.Close()
	<-active.eventsDone
	<-active.audioDone

	raw := active.aggregator.Raw()
	if raw == "" && streamErr != nil {
		c.events.CaptureError(domain.ErrorCodeRecognition, streamErr.Error())
		c.finish(active, "", domain.CaptureReasonFailed)
		return domain.StopResult{}, streamErr
	}

	text, err := c.finalizer.Finalize(raw)
	if err != nil {
		c.finish(active, raw, domain.CaptureReasonFailed)
		return domain.StopResult{}, err
	}
	if text == "" {
		c.finish(active, "", domain.CaptureReasonNoSpeech)
		return domain.StopResult{}, nil
	}

	utterance := domain.Utterance{
		RawText:   text,
		IsFinal:   true,
		SessionID: active.id,
		Audio:     c.encodeRecording(active),
	}
	if c.deps.Sink != nil {
		c.deps.Sink.Deliver(utterance)
	}
	c.logger.Debug().
		Str("session", active.id).
		Bool("audio", utterance.HasAudio()).
		Msg("utterance submitted")
	c.finish(active, "", domain.CaptureReasonUtteranceSubmitted)
	return domain.StopResult{Utterance: utterance, Emitted: true}, nil
}

// Cancel discards the active session without submitting anything.
func (c *CaptureController) Cancel() error {
	active := c.currentSession()
	if active == nil || !active.claim() {
		return ErrNoActiveSession
	}
	c.teardown(active)
	c.finish(active, "", domain.CaptureReasonCancelled)
	return nil
}

// Close releases the microphone if a session is still open.
func (c *CaptureController) Close() error {
	if err := c.Cancel(); err != nil && !errors.Is(err, ErrNoActiveSession) {
		return err
	}
	return nil
}

// SetProcessing sets the advisory flag that blocks Start while a submission
// is outstanding.
func (c *CaptureController) SetProcessing(active bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.processing = active
}

// LastTranscript returns the live buffer while listening, otherwise the
// transcript left behind by a session the engine ended.
func (c *CaptureController) LastTranscript() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil {
		return c.current.aggregator.Raw()
	}
	return c.last
}

// Status returns the current controller status.
func (c *CaptureController) Status() domain.CaptureStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	status := domain.CaptureStatus{
		State:      domain.CaptureStateIdle,
		Processing: c.processing,
		Transcript: c.last,
	}
	if c.current != nil {
		status.State = domain.CaptureStateListening
		status.Active = true
		status.Transcript = c.current.aggregator.Raw()
	}
	return status
}

func (c *CaptureController) endFromEngine(active *activeSession, closed bool) {
	if !active.claim() {
		return
	}

	var streamErr error
	if closed {
		streamErr = waitForStream(active.stream, c.cfg.StreamWait)
	}
	c.teardown(active)

	raw := active.aggregator.Raw()
	if streamErr != nil {
		c.events.CaptureError(domain.ErrorCodeRecognition, streamErr.Error())
		c.finish(active, raw, domain.CaptureReasonFailed)
		return
	}
	c.finish(active, raw, domain.CaptureReasonEngineEnded)
}

func (c *CaptureController) failSession(active *activeSession, code domain.ErrorCode, detail string) {
	if !active.claim() {
		return
	}
	c.teardown(active)
	c.events.CaptureError(code, detail)
	c.finish(active, active.aggregator.Raw(), domain.CaptureReasonFailed)
}

func (c *CaptureController) encodeRecording(active *activeSession) []byte {
	pcm := active.recorder.Bytes()
	if len(pcm) == 0 {
		return nil
	}
	encoded, err := c.deps.Encoder.Encode(pcm, c.cfg.Audio)
	if err != nil {
		c.logger.Warn().Err(err).Str("session", active.id).Msg("audio encoding failed, submitting text only")
		return nil
	}
	return encoded
}

func (c *CaptureController) currentSession() *activeSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *CaptureController) teardown(active *activeSession) {
	active.cancel()
	_ = active.audio.Stop()
	_ = active.stream.Close()
	<-active.eventsDone
	<-active.audioDone
}

func (c *CaptureController) finish(active *activeSession, last string, reason domain.CaptureStateReason) {
	active.cancel()
	cueOpen := active.stopCue()

	c.mu.Lock()
	if c.current == active {
		c.current = nil
	}
	c.last = last
	c.mu.Unlock()

	if cueOpen {
		c.events.AttentionCue(false)
	}
	c.logger.Debug().Str("session", active.id).Str("reason", string(reason)).Msg("listening ended")
	c.events.CaptureStateChanged(domain.CaptureStateIdle, reason)
}

type nopEventSink struct{}

func (nopEventSink) CaptureStateChanged(domain.CaptureState, domain.CaptureStateReason) {}
func (nopEventSink) TranscriptUpdated(string)                                           {}
func (nopEventSink) AttentionCue(bool)                                                  {}
func (nopEventSink) CaptureError(domain.ErrorCode, string)                              {}
