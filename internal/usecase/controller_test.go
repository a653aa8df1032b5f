package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"lazymic/internal/domain"
	"lazymic/internal/ports"
)

type controllerFixture struct {
	controller *CaptureController
	audio      *fakeAudioSession
	stream     *fakeStreamingSession
	sink       *fakeSink
	events     *fakeEventSink
}

func newControllerFixture(t *testing.T, rules ports.RulesEngine, cfg Config, finals ...string) controllerFixture {
	t.Helper()

	audioSession := &fakeAudioSession{chunks: [][]byte{[]byte("abc")}}
	streamSession := newFakeStreamingSession()
	for _, text := range finals {
		streamSession.events <- domain.TranscriptEvent{Kind: domain.TranscriptKindFinal, Text: text}
	}
	sink := &fakeSink{}
	events := &fakeEventSink{}

	controller := NewCaptureController(CaptureDeps{
		Audio:    &fakeAudioCapture{sessions: []ports.AudioSession{audioSession}},
		Provider: &fakeProvider{sessions: []ports.StreamingSession{streamSession}},
		Rules:    rules,
		Encoder:  fakeEncoder{},
		Sink:     sink,
		Events:   events,
	}, cfg, zerolog.Nop())

	return controllerFixture{
		controller: controller,
		audio:      audioSession,
		stream:     streamSession,
		sink:       sink,
		events:     events,
	}
}

func TestCaptureControllerStopEmitsJoinedFinals(t *testing.T) {
	t.Parallel()

	f := newControllerFixture(t, &fakeRules{}, Config{}, "buy", "milk")

	if err := f.controller.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	result, err := f.controller.Stop(context.Background())
	if err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	if !result.Emitted || result.Utterance.RawText != "buy milk" || !result.Utterance.IsFinal {
		t.Fatalf("unexpected stop result: %+v", result)
	}
	if result.Utterance.SessionID == "" {
		t.Fatalf("expected a session id")
	}
	delivered := f.sink.snapshot()
	if len(delivered) != 1 || delivered[0].RawText != "buy milk" {
		t.Fatalf("expected exactly one delivered utterance, got %+v", delivered)
	}
	if delivered[0].HasAudio() {
		t.Fatalf("audio must not be attached unless enabled")
	}

	updates := f.events.snapshotTranscripts()
	if len(updates) == 0 || updates[len(updates)-1] != "buy milk" {
		t.Fatalf("expected transcript updates ending in the buffer, got %v", updates)
	}

	states := f.events.snapshotStates()
	if len(states) != 2 {
		t.Fatalf("expected 2 state transitions, got %+v", states)
	}
	if states[0].state != domain.CaptureStateListening || states[0].reason != domain.CaptureReasonListeningStarted {
		t.Fatalf("unexpected first transition: %+v", states[0])
	}
	if states[1].state != domain.CaptureStateIdle || states[1].reason != domain.CaptureReasonUtteranceSubmitted {
		t.Fatalf("unexpected last transition: %+v", states[1])
	}
	if f.audio.stopCount() == 0 {
		t.Fatalf("expected microphone to be released")
	}
	if status := f.controller.Status(); status.Active || status.Transcript != "" {
		t.Fatalf("expected idle status with cleared buffer, got %+v", status)
	}
}

func TestCaptureControllerAppliesRulesBeforeEmitting(t *testing.T) {
	t.Parallel()

	f := newControllerFixture(t, &fakeRules{transform: "  Buy milk. "}, Config{}, "buy milk")

	if err := f.controller.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	result, err := f.controller.Stop(context.Background())
	if err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if result.Utterance.RawText != "Buy milk." {
		t.Fatalf("unexpected utterance: %q", result.Utterance.RawText)
	}
}

func TestCaptureControllerStopWithoutSpeechEmitsNothing(t *testing.T) {
	t.Parallel()

	f := newControllerFixture(t, &fakeRules{}, Config{})

	if err := f.controller.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	result, err := f.controller.Stop(context.Background())
	if err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if result.Emitted {
		t.Fatalf("expected nothing emitted")
	}
	if len(f.sink.snapshot()) != 0 {
		t.Fatalf("sink must not receive an empty utterance")
	}
	states := f.events.snapshotStates()
	if states[len(states)-1].reason != domain.CaptureReasonNoSpeech {
		t.Fatalf("expected no_speech, got %s", states[len(states)-1].reason)
	}
}

func TestCaptureControllerStopWhileIdleIsNoop(t *testing.T) {
	t.Parallel()

	f := newControllerFixture(t, &fakeRules{}, Config{})

	result, err := f.controller.Stop(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result.Emitted {
		t.Fatalf("expected nothing emitted")
	}
	if len(f.events.snapshotStates()) != 0 {
		t.Fatalf("expected no state transitions")
	}
}

func TestCaptureControllerRejectsSecondStart(t *testing.T) {
	t.Parallel()

	f := newControllerFixture(t, &fakeRules{}, Config{})

	if err := f.controller.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := f.controller.Start(context.Background()); !errors.Is(err, ErrAlreadyListening) {
		t.Fatalf("expected ErrAlreadyListening, got %v", err)
	}
	_ = f.controller.Close()
}

func TestCaptureControllerRejectsStartWhileProcessing(t *testing.T) {
	t.Parallel()

	f := newControllerFixture(t, &fakeRules{}, Config{})

	f.controller.SetProcessing(true)
	if err := f.controller.Start(context.Background()); !errors.Is(err, ErrProcessing) {
		t.Fatalf("expected ErrProcessing, got %v", err)
	}
	if !f.controller.Status().Processing {
		t.Fatalf("expected processing flag in status")
	}

	f.controller.SetProcessing(false)
	if err := f.controller.Start(context.Background()); err != nil {
		t.Fatalf("start after processing cleared failed: %v", err)
	}
	_ = f.controller.Close()
}

func TestCaptureControllerEngineEndWithoutSpeechEmitsNothing(t *testing.T) {
	t.Parallel()

	f := newControllerFixture(t, &fakeRules{}, Config{})

	if err := f.controller.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	f.stream.endFromEngine()

	waitForReason(t, f.events, domain.CaptureReasonEngineEnded)
	if len(f.sink.snapshot()) != 0 {
		t.Fatalf("engine end must not emit")
	}
	if f.controller.Status().Active {
		t.Fatalf("expected idle after engine end")
	}
	if f.audio.stopCount() == 0 {
		t.Fatalf("expected microphone to be released")
	}
}

func TestCaptureControllerEndOfSpeechKeepsTranscriptAvailable(t *testing.T) {
	t.Parallel()

	f := newControllerFixture(t, &fakeRules{}, Config{})
	f.stream.events <- domain.TranscriptEvent{Kind: domain.TranscriptKindPartial, Text: "remind me"}
	f.stream.events <- domain.TranscriptEvent{Kind: domain.TranscriptKindEnd}

	if err := f.controller.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	waitForReason(t, f.events, domain.CaptureReasonEngineEnded)
	if len(f.sink.snapshot()) != 0 {
		t.Fatalf("engine end must not emit")
	}
	if got := f.controller.LastTranscript(); got != "remind me" {
		t.Fatalf("expected transcript to stay available, got %q", got)
	}

	result, err := f.controller.Stop(context.Background())
	if err != nil || result.Emitted {
		t.Fatalf("stop after engine end must be a no-op, got %+v %v", result, err)
	}
}

func TestCaptureControllerStopRulesFailure(t *testing.T) {
	t.Parallel()

	f := newControllerFixture(t, &fakeRules{err: errors.New("bad rules")}, Config{}, "text")

	if err := f.controller.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if _, err := f.controller.Stop(context.Background()); err == nil {
		t.Fatalf("expected rules error")
	}

	if len(f.sink.snapshot()) != 0 {
		t.Fatalf("nothing must be emitted when rules fail")
	}
	errs := f.events.snapshotErrors()
	if len(errs) != 1 || errs[0].code != domain.ErrorCodeRules {
		t.Fatalf("expected one rules error, got %+v", errs)
	}
	states := f.events.snapshotStates()
	if states[len(states)-1].reason != domain.CaptureReasonFailed {
		t.Fatalf("expected failed, got %s", states[len(states)-1].reason)
	}
}

func TestCaptureControllerStopNoTranscriptWithStreamError(t *testing.T) {
	t.Parallel()

	f := newControllerFixture(t, &fakeRules{}, Config{})
	f.stream.waitErr = errors.New("stream failed")

	if err := f.controller.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	_, err := f.controller.Stop(context.Background())
	if err == nil || err.Error() != "stream failed" {
		t.Fatalf("expected stream failure, got %v", err)
	}

	errs := f.events.snapshotErrors()
	if len(errs) != 1 || errs[0].code != domain.ErrorCodeRecognition {
		t.Fatalf("expected one recognition error, got %+v", errs)
	}
}

func TestCaptureControllerMicrophoneUnavailable(t *testing.T) {
	t.Parallel()

	streamSession := newFakeStreamingSession()
	events := &fakeEventSink{}
	controller := NewCaptureController(CaptureDeps{
		Audio:    &fakeAudioCapture{err: fmt.Errorf("ffmpeg: %w", domain.ErrMicrophoneUnavailable)},
		Provider: &fakeProvider{sessions: []ports.StreamingSession{streamSession}},
		Rules:    &fakeRules{},
		Events:   events,
	}, Config{}, zerolog.Nop())

	err := controller.Start(context.Background())
	if !errors.Is(err, domain.ErrMicrophoneUnavailable) {
		t.Fatalf("expected ErrMicrophoneUnavailable, got %v", err)
	}
	if streamSession.closeCount() == 0 {
		t.Fatalf("expected recognition session to be closed")
	}
	errs := events.snapshotErrors()
	if len(errs) != 1 || errs[0].code != domain.ErrorCodeMicrophone {
		t.Fatalf("expected one microphone error, got %+v", errs)
	}
	if controller.Status().Active {
		t.Fatalf("expected idle after failed start")
	}
}

func TestCaptureControllerRecognitionUnavailable(t *testing.T) {
	t.Parallel()

	events := &fakeEventSink{}
	controller := NewCaptureController(CaptureDeps{
		Audio:    &fakeAudioCapture{},
		Provider: &fakeProvider{err: errors.New("dial failed")},
		Rules:    &fakeRules{},
		Events:   events,
	}, Config{}, zerolog.Nop())

	if err := controller.Start(context.Background()); err == nil {
		t.Fatalf("expected start error")
	}
	errs := events.snapshotErrors()
	if len(errs) != 1 || errs[0].code != domain.ErrorCodeStartup {
		t.Fatalf("expected one startup error, got %+v", errs)
	}
}

func TestCaptureControllerCancelDiscardsSession(t *testing.T) {
	t.Parallel()

	f := newControllerFixture(t, &fakeRules{}, Config{}, "never sent")

	if err := f.controller.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := f.controller.Cancel(); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if err := f.controller.Cancel(); !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("expected ErrNoActiveSession, got %v", err)
	}

	if len(f.sink.snapshot()) != 0 {
		t.Fatalf("cancel must not emit")
	}
	states := f.events.snapshotStates()
	if states[len(states)-1].reason != domain.CaptureReasonCancelled {
		t.Fatalf("expected cancelled, got %s", states[len(states)-1].reason)
	}
	if err := f.controller.Close(); err != nil {
		t.Fatalf("close while idle failed: %v", err)
	}
}

func TestCaptureControllerAttentionCueClosesOnStop(t *testing.T) {
	t.Parallel()

	f := newControllerFixture(t, &fakeRules{}, Config{AttentionCue: time.Hour}, "hi")

	if err := f.controller.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if _, err := f.controller.Stop(context.Background()); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	cues := f.events.snapshotCues()
	if len(cues) != 2 || !cues[0] || cues[1] {
		t.Fatalf("expected cue on then off, got %v", cues)
	}
}

func TestCaptureControllerAttentionCueExpiresOnce(t *testing.T) {
	t.Parallel()

	f := newControllerFixture(t, &fakeRules{}, Config{AttentionCue: 10 * time.Millisecond}, "hi")

	if err := f.controller.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	deadline := time.Now().Add(time.Second)
	for len(f.events.snapshotCues()) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if _, err := f.controller.Stop(context.Background()); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	cues := f.events.snapshotCues()
	if len(cues) != 2 || !cues[0] || cues[1] {
		t.Fatalf("expected cue on then off exactly once, got %v", cues)
	}
}

func TestCaptureControllerAttachesRecordedAudio(t *testing.T) {
	t.Parallel()

	f := newControllerFixture(t, &fakeRules{}, Config{SubmitAudio: true}, "buy milk")

	if err := f.controller.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	result, err := f.controller.Stop(context.Background())
	if err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if string(result.Utterance.Audio) != "WAV:abc" {
		t.Fatalf("expected encoded recording, got %q", result.Utterance.Audio)
	}
}

func TestCaptureControllerAudioFailureForcesIdle(t *testing.T) {
	t.Parallel()

	events := &fakeEventSink{}
	sink := &fakeSink{}
	controller := NewCaptureController(CaptureDeps{
		Audio:    &fakeAudioCapture{sessions: []ports.AudioSession{&errorAudioSession{err: errors.New("device unplugged")}}},
		Provider: &fakeProvider{sessions: []ports.StreamingSession{newFakeStreamingSession()}},
		Rules:    &fakeRules{},
		Sink:     sink,
		Events:   events,
	}, Config{}, zerolog.Nop())

	if err := controller.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	waitForReason(t, events, domain.CaptureReasonFailed)
	errs := events.snapshotErrors()
	if len(errs) != 1 || errs[0].code != domain.ErrorCodeAudioStream {
		t.Fatalf("expected one audio stream error, got %+v", errs)
	}
	if len(sink.snapshot()) != 0 {
		t.Fatalf("failure must not emit")
	}
}

func TestCaptureControllerStatusWhileListening(t *testing.T) {
	t.Parallel()

	f := newControllerFixture(t, &fakeRules{}, Config{})

	if err := f.controller.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	status := f.controller.Status()
	if status.State != domain.CaptureStateListening || !status.Active {
		t.Fatalf("unexpected status: %+v", status)
	}
	_ = f.controller.Close()
}

func waitForReason(t *testing.T, events *fakeEventSink, reason domain.CaptureStateReason) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, s := range events.snapshotStates() {
			if s.reason == reason {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s, got %+v", reason, events.snapshotStates())
}

type fakeAudioCapture struct {
	sessions []ports.AudioSession
	err      error
	calls    int
}

func (f *fakeAudioCapture) Start(_ context.Context, _ ports.AudioConfig) (ports.AudioSession, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.calls >= len(f.sessions) {
		return nil, errors.New("no audio session configured")
	}
	session := f.sessions[f.calls]
	f.calls++
	return session, nil
}

type fakeAudioSession struct {
	mu        sync.Mutex
	chunks    [][]byte
	index     int
	stopCalls int
}

func (f *fakeAudioSession) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.index >= len(f.chunks) {
		return 0, io.EOF
	}
	n := copy(p, f.chunks[f.index])
	f.index++
	return n, nil
}

func (f *fakeAudioSession) Close() error { return nil }

func (f *fakeAudioSession) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalls++
	return nil
}

func (f *fakeAudioSession) stopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopCalls
}

type fakeProvider struct {
	sessions []ports.StreamingSession
	err      error
	calls    int
}

func (f *fakeProvider) StartStreaming(_ context.Context, _ ports.StreamingConfig) (ports.StreamingSession, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.calls >= len(f.sessions) {
		return nil, errors.New("no stream session configured")
	}
	session := f.sessions[f.calls]
	f.calls++
	return session, nil
}

type fakeStreamingSession struct {
	events     chan domain.TranscriptEvent
	waitErr    error
	closeCalls int
	closed     bool
	mu         sync.Mutex
}

func newFakeStreamingSession() *fakeStreamingSession {
	return &fakeStreamingSession{events: make(chan domain.TranscriptEvent, 16)}
}

func (f *fakeStreamingSession) SendAudio(_ []byte) error { return nil }

func (f *fakeStreamingSession) CloseSend() error {
	f.closeEvents()
	return nil
}

func (f *fakeStreamingSession) Events() <-chan domain.TranscriptEvent { return f.events }

func (f *fakeStreamingSession) Wait() error {
	time.Sleep(5 * time.Millisecond)
	return f.waitErr
}

func (f *fakeStreamingSession) Close() error {
	f.mu.Lock()
	f.closeCalls++
	f.mu.Unlock()
	f.closeEvents()
	return nil
}

func (f *fakeStreamingSession) endFromEngine() {
	f.closeEvents()
}

func (f *fakeStreamingSession) closeEvents() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		close(f.events)
		f.closed = true
	}
}

func (f *fakeStreamingSession) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCalls
}

type fakeRules struct {
	transform string
	err       error
}

func (f *fakeRules) Apply(text string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if f.transform != "" {
		return f.transform, nil
	}
	return text, nil
}

type fakeEncoder struct{}

func (fakeEncoder) Encode(pcm []byte, _ ports.AudioConfig) ([]byte, error) {
	return append([]byte("WAV:"), pcm...), nil
}

type fakeSink struct {
	mu         sync.Mutex
	utterances []domain.Utterance
}

func (f *fakeSink) Deliver(utterance domain.Utterance) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.utterances = append(f.utterances, utterance)
}

func (f *fakeSink) snapshot() []domain.Utterance {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Utterance(nil), f.utterances...)
}

type fakeEventSink struct {
	mu sync.Mutex

	states      []stateEvent
	transcripts []string
	cues        []bool
	errors      []errEvent
}

type stateEvent struct {
	state  domain.CaptureState
	reason domain.CaptureStateReason
}

type errEvent struct {
	code   domain.ErrorCode
	detail string
}

func (f *fakeEventSink) CaptureStateChanged(state domain.CaptureState, reason domain.CaptureStateReason) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, stateEvent{state: state, reason: reason})
}

func (f *fakeEventSink) TranscriptUpdated(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transcripts = append(f.transcripts, text)
}

func (f *fakeEventSink) AttentionCue(active bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cues = append(f.cues, active)
}

func (f *fakeEventSink) CaptureError(code domain.ErrorCode, detail string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, errEvent{code: code, detail: detail})
}

func (f *fakeEventSink) snapshotStates() []stateEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]stateEvent(nil), f.states...)
}

func (f *fakeEventSink) snapshotTranscripts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.transcripts...)
}

func (f *fakeEventSink) snapshotCues() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bool(nil), f.cues...)
}

func (f *fakeEventSink) snapshotErrors() []errEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]errEvent(nil), f.errors...)
}
