package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"lazymic/internal/domain"
	"lazymic/internal/ports"
)

// ProvisionalPrefix marks ids of locally created tasks the backend has not
// confirmed yet.
const ProvisionalPrefix = "local-"

var ErrInvalidTask = errors.New("invalid task input")

// Assistant sends utterances and task edits to the backend and keeps the
// task store in step with the answers.
type Assistant struct {
	backend  ports.TaskBackend
	store    ports.TaskStore
	notifier ports.Notifier
	logger   zerolog.Logger

	mu       sync.Mutex
	gate     ports.ProcessingGate
	inflight int
	wg       sync.WaitGroup
}

func NewAssistant(backend ports.TaskBackend, store ports.TaskStore, notifier ports.Notifier, logger zerolog.Logger) *Assistant {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &Assistant{
		backend:  backend,
		store:    store,
		notifier: notifier,
		logger:   logger,
	}
}

// SetGate connects the processing flag of the capture controller.
func (a *Assistant) SetGate(gate ports.ProcessingGate) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.gate = gate
}

// Deliver submits a finalized utterance in the background. The call runs on
// its own context so ending the capture session never cancels it.
func (a *Assistant) Deliver(utterance domain.Utterance) {
	a.begin()
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.end()

		a.logger.Info().
			Str("session", utterance.SessionID).
			Bool("audio", utterance.HasAudio()).
			Int("chars", len(utterance.RawText)).
			Msg("submitting utterance")
		result, err := a.backend.SubmitVoice(context.Background(), utterance)
		_, _ = a.interpreted("interpret", result, err)
	}()
}

// Wait blocks until every delivered utterance has been answered.
func (a *Assistant) Wait() {
	a.wg.Wait()
}

// SubmitText interprets typed text.
func (a *Assistant) SubmitText(ctx context.Context, text string) (domain.Interpretation, error) {
	a.begin()
	defer a.end()

	result, err := a.backend.SubmitText(ctx, text)
	return a.interpreted("interpret", result, err)
}

// Refresh replaces the local list with the backend's, keeping pending edits.
func (a *Assistant) Refresh(ctx context.Context) ([]domain.Task, error) {
	tasks, err := a.backend.FetchTasks(ctx)
	if err != nil {
		return nil, a.failed("refresh", err)
	}
	a.store.MergeFetchedList(tasks)
	list := a.store.List()
	a.notifier.TasksChanged(list)
	return list, nil
}

// Tasks returns the local task list.
func (a *Assistant) Tasks() []domain.Task {
	return a.store.List()
}

// Create adds a task optimistically under a provisional id that is swapped
// for the backend's id once confirmed.
func (a *Assistant) Create(ctx context.Context, draft domain.TaskDraft) (domain.Task, error) {
	draft.Title = strings.TrimSpace(draft.Title)
	if draft.Title == "" {
		return domain.Task{}, fmt.Errorf("%w: title is required", ErrInvalidTask)
	}
	if draft.Priority != "" && !draft.Priority.IsValid() {
		return domain.Task{}, fmt.Errorf("%w: unknown priority %q", ErrInvalidTask, draft.Priority)
	}

	id := ProvisionalPrefix + uuid.NewString()
	provisional := draft.Provisional(id)
	if _, err := a.store.ApplyOptimistic(ctx, domain.Mutation{TaskID: id, Kind: domain.MutationCreate, Task: &provisional}); err != nil {
		return domain.Task{}, err
	}
	a.notifier.TasksChanged(a.store.List())

	created, err := a.backend.CreateTask(ctx, draft)
	if err := a.settle("create", id, &created, err); err != nil {
		return domain.Task{}, err
	}
	return a.confirmed(id, created), nil
}

// Complete marks a task completed.
func (a *Assistant) Complete(ctx context.Context, id string) (domain.Task, error) {
	if _, err := a.store.ApplyOptimistic(ctx, domain.Mutation{TaskID: id, Kind: domain.MutationComplete}); err != nil {
		return domain.Task{}, err
	}
	a.notifier.TasksChanged(a.store.List())

	task, err := a.backend.CompleteTask(ctx, id)
	if err := a.settle("complete", id, &task, err); err != nil {
		return domain.Task{}, err
	}
	return a.confirmed(id, task), nil
}

// Update edits the title, description, priority or status of a task.
func (a *Assistant) Update(ctx context.Context, id string, patch domain.TaskPatch) (domain.Task, error) {
	if patch.IsEmpty() {
		return domain.Task{}, fmt.Errorf("%w: nothing to update", ErrInvalidTask)
	}
	if patch.Title != nil && strings.TrimSpace(*patch.Title) == "" {
		return domain.Task{}, fmt.Errorf("%w: title cannot be empty", ErrInvalidTask)
	}
	if patch.Priority != nil && !patch.Priority.IsValid() {
		return domain.Task{}, fmt.Errorf("%w: unknown priority %q", ErrInvalidTask, *patch.Priority)
	}

	if _, err := a.store.ApplyOptimistic(ctx, domain.Mutation{TaskID: id, Kind: domain.MutationEdit, Patch: patch}); err != nil {
		return domain.Task{}, err
	}
	a.notifier.TasksChanged(a.store.List())

	task, err := a.backend.UpdateTask(ctx, id, patch)
	if err := a.settle("update", id, &task, err); err != nil {
		return domain.Task{}, err
	}
	return a.confirmed(id, task), nil
}

// Delete removes a task.
func (a *Assistant) Delete(ctx context.Context, id string) error {
	if _, err := a.store.ApplyOptimistic(ctx, domain.Mutation{TaskID: id, Kind: domain.MutationDelete}); err != nil {
		return err
	}
	a.notifier.TasksChanged(a.store.List())

	err := a.backend.DeleteTask(ctx, id)
	return a.settle("delete", id, nil, err)
}

// Health probes the backend.
func (a *Assistant) Health(ctx context.Context) (domain.Health, error) {
	health, err := a.backend.Health(ctx)
	if err != nil {
		return domain.Health{}, a.failed("health", err)
	}
	return health, nil
}

func (a *Assistant) interpreted(operation string, result domain.Interpretation, err error) (domain.Interpretation, error) {
	if err != nil {
		return domain.Interpretation{}, a.failed(operation, err)
	}
	a.store.Upsert(result.Tasks...)
	a.logger.Info().
		Int("tasks", len(result.Tasks)).
		Str("tone", result.Suggestion.Tone).
		Msg("interpretation received")
	a.notifier.InterpretationReady(result)
	a.notifier.TasksChanged(a.store.List())
	return result, nil
}

// settle reconciles the store with the backend's answer and returns the
// backend's error unchanged.
func (a *Assistant) settle(operation, id string, server *domain.Task, err error) error {
	if err != nil {
		server = nil
	}
	if reconcileErr := a.store.Reconcile(id, server, err); reconcileErr != nil && err == nil {
		a.logger.Warn().Err(reconcileErr).Str("task", id).Msg("reconcile without pending mutation")
	}
	a.notifier.TasksChanged(a.store.List())
	if err != nil {
		return a.failed(operation, err)
	}
	a.logger.Info().Str("operation", operation).Str("task", id).Msg("task mutation confirmed")
	return nil
}

// confirmed returns the reconciled local copy, which fills in fields the
// backend left out of its answer.
func (a *Assistant) confirmed(id string, server domain.Task) domain.Task {
	if server.ID != "" {
		id = server.ID
	}
	if local, ok := a.store.Get(id); ok {
		return local
	}
	return server
}

func (a *Assistant) failed(operation string, err error) error {
	apiErr := domain.AsAPIError(err)
	a.logger.Warn().
		Str("operation", operation).
		Str("category", string(apiErr.Category)).
		Int("status", apiErr.OriginalStatus).
		Str("error", apiErr.Message).
		Msg("backend request failed")
	a.notifier.RequestFailed(operation, apiErr)
	return err
}

func (a *Assistant) begin() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.inflight++
	if a.inflight == 1 {
		if a.gate != nil {
			a.gate.SetProcessing(true)
		}
		a.notifier.ProcessingChanged(true)
	}
}

func (a *Assistant) end() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.inflight--
	if a.inflight == 0 {
		if a.gate != nil {
			a.gate.SetProcessing(false)
		}
		a.notifier.ProcessingChanged(false)
	}
}

type nopNotifier struct{}

func (nopNotifier) ProcessingChanged(bool)                    {}
func (nopNotifier) InterpretationReady(domain.Interpretation) {}
func (nopNotifier) TasksChanged([]domain.Task)                {}
func (nopNotifier) RequestFailed(string, *domain.APIError)    {}
