package ports

import (
	"context"
	"io"

	"lazymic/internal/domain"
)

// AudioConfig describes how the microphone should be captured.
type AudioConfig struct {
	SampleRate  int
	Channels    int
	InputFormat string
	InputDevice string
}

// AudioSession is a live microphone capture.
type AudioSession interface {
	io.ReadCloser
	Stop() error
}

// AudioCapture acquires the microphone.
type AudioCapture interface {
	Start(ctx context.Context, cfg AudioConfig) (AudioSession, error)
}

// StreamingConfig describes engine-agnostic recognition settings.
type StreamingConfig struct {
	SampleRate     int
	Channels       int
	Encoding       string
	InterimResults bool
	EndOnSilence   bool
}

// StreamingSession is an active recognition session. Events is closed when
// the engine ends the session, whether or not the caller asked it to.
type StreamingSession interface {
	SendAudio(chunk []byte) error
	CloseSend() error
	Events() <-chan domain.TranscriptEvent
	Wait() error
	Close() error
}

// TranscriptionProvider starts recognition sessions.
type TranscriptionProvider interface {
	StartStreaming(ctx context.Context, cfg StreamingConfig) (StreamingSession, error)
}

// RulesEngine rewrites transcripts with deterministic substitutions.
type RulesEngine interface {
	Apply(text string) (string, error)
}

// UtteranceSink receives the single finalized utterance of a session.
// Deliver must not block on the remote call.
type UtteranceSink interface {
	Deliver(utterance domain.Utterance)
}

// AudioEncoder wraps raw PCM from the microphone into an uploadable file.
type AudioEncoder interface {
	Encode(pcm []byte, cfg AudioConfig) ([]byte, error)
}

// TaskBackend issues the backend calls for utterances and tasks.
type TaskBackend interface {
	SubmitVoice(ctx context.Context, utterance domain.Utterance) (domain.Interpretation, error)
	SubmitText(ctx context.Context, text string) (domain.Interpretation, error)
	FetchTasks(ctx context.Context) ([]domain.Task, error)
	CreateTask(ctx context.Context, draft domain.TaskDraft) (domain.Task, error)
	CompleteTask(ctx context.Context, id string) (domain.Task, error)
	UpdateTask(ctx context.Context, id string, patch domain.TaskPatch) (domain.Task, error)
	DeleteTask(ctx context.Context, id string) error
	Health(ctx context.Context) (domain.Health, error)
}

// TaskStore is the client-side task collection with optimistic mutations.
type TaskStore interface {
	ApplyOptimistic(ctx context.Context, mutation domain.Mutation) (domain.PendingMutation, error)
	Reconcile(taskID string, server *domain.Task, err error) error
	MergeFetchedList(tasks []domain.Task)
	Upsert(tasks ...domain.Task)
	Get(id string) (domain.Task, bool)
	List() []domain.Task
}

// ProcessingGate is the advisory flag that keeps a new listening session
// from starting while a submission is outstanding.
type ProcessingGate interface {
	SetProcessing(active bool)
}

// EventSink receives capture lifecycle events for the host.
type EventSink interface {
	CaptureStateChanged(state domain.CaptureState, reason domain.CaptureStateReason)
	TranscriptUpdated(text string)
	AttentionCue(active bool)
	CaptureError(code domain.ErrorCode, detail string)
}

// Notifier receives task pipeline events for the host.
type Notifier interface {
	ProcessingChanged(active bool)
	InterpretationReady(result domain.Interpretation)
	TasksChanged(tasks []domain.Task)
	RequestFailed(operation string, err *domain.APIError)
}
