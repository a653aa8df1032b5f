// Package taskstore holds the client's task collection. Local edits are
// applied optimistically and confirmed or reverted once the backend answers.
package taskstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"lazymic/internal/domain"
)

var (
	ErrTaskNotFound    = errors.New("task not found")
	ErrNoPending       = errors.New("no pending mutation for task")
	ErrInvalidMutation = errors.New("invalid mutation")
)

type pendingEntry struct {
	mutation domain.PendingMutation
	snapshot *domain.Task
	done     chan struct{}
}

// Store is safe for concurrent use.
type Store struct {
	logger zerolog.Logger
	now    func() time.Time

	mu      sync.Mutex
	tasks   map[string]domain.Task
	pending map[string]*pendingEntry
}

func New(logger zerolog.Logger) *Store {
	return &Store{
		logger:  logger,
		now:     time.Now,
		tasks:   make(map[string]domain.Task),
		pending: make(map[string]*pendingEntry),
	}
}

// ApplyOptimistic applies the intended end state of mutation immediately and
// records it as pending. When another mutation on the same task is still
// pending, it waits for that one to reconcile or for ctx to end.
func (s *Store) ApplyOptimistic(ctx context.Context, mutation domain.Mutation) (domain.PendingMutation, error) {
	if mutation.TaskID == "" {
		return domain.PendingMutation{}, fmt.Errorf("%w: task id is required", ErrInvalidMutation)
	}
	if mutation.Kind == domain.MutationCreate && mutation.Task == nil {
		return domain.PendingMutation{}, fmt.Errorf("%w: create needs a provisional task", ErrInvalidMutation)
	}

	for {
		s.mu.Lock()
		prior, busy := s.pending[mutation.TaskID]
		if !busy {
			break
		}
		s.mu.Unlock()

		select {
		case <-prior.done:
		case <-ctx.Done():
			return domain.PendingMutation{}, ctx.Err()
		}
	}
	defer s.mu.Unlock()

	current, exists := s.tasks[mutation.TaskID]
	var snapshot *domain.Task
	if exists {
		copied := current.Clone()
		snapshot = &copied
	}

	switch mutation.Kind {
	case domain.MutationCreate:
		if exists {
			return domain.PendingMutation{}, fmt.Errorf("%w: task %s already exists", ErrInvalidMutation, mutation.TaskID)
		}
		task := mutation.Task.Clone()
		task.ID = mutation.TaskID
		s.tasks[task.ID] = task
	case domain.MutationComplete:
		if !exists {
			return domain.PendingMutation{}, fmt.Errorf("%w: %s", ErrTaskNotFound, mutation.TaskID)
		}
		current.Status = domain.StatusCompleted
		s.tasks[mutation.TaskID] = current
	case domain.MutationEdit:
		if !exists {
			return domain.PendingMutation{}, fmt.Errorf("%w: %s", ErrTaskNotFound, mutation.TaskID)
		}
		s.tasks[mutation.TaskID] = mutation.Patch.ApplyTo(current)
	case domain.MutationDelete:
		if !exists {
			return domain.PendingMutation{}, fmt.Errorf("%w: %s", ErrTaskNotFound, mutation.TaskID)
		}
		delete(s.tasks, mutation.TaskID)
	default:
		return domain.PendingMutation{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidMutation, mutation.Kind)
	}

	pending := domain.PendingMutation{
		TargetTaskID: mutation.TaskID,
		Kind:         mutation.Kind,
		SubmittedAt:  s.now(),
	}
	s.pending[mutation.TaskID] = &pendingEntry{
		mutation: pending,
		snapshot: snapshot,
		done:     make(chan struct{}),
	}
	s.logger.Debug().
		Str("task", mutation.TaskID).
		Str("kind", string(mutation.Kind)).
		Msg("optimistic mutation applied")
	return pending, nil
}

// Reconcile settles the pending mutation on taskID with the backend's answer.
// A nil err means the call succeeded and server, when non-nil, wins on every
// field it reports; a missing status or description keeps the optimistic
// value. For a create it replaces the provisional entry under the
// server-assigned id. On failure the task reverts to its snapshot and the
// same error is returned.
func (s *Store) Reconcile(taskID string, server *domain.Task, err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.pending[taskID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoPending, taskID)
	}
	delete(s.pending, taskID)
	defer close(entry.done)

	if err != nil {
		if entry.snapshot == nil {
			delete(s.tasks, taskID)
		} else {
			s.tasks[taskID] = entry.snapshot.Clone()
		}
		s.logger.Debug().
			Str("task", taskID).
			Str("kind", string(entry.mutation.Kind)).
			Err(err).
			Msg("optimistic mutation reverted")
		return err
	}

	if entry.mutation.Kind == domain.MutationDelete {
		delete(s.tasks, taskID)
	} else if server != nil {
		confirmed := fillAbsent(server.Clone(), s.tasks[taskID])
		if confirmed.ID == "" {
			confirmed.ID = taskID
		}
		if confirmed.ID != taskID {
			delete(s.tasks, taskID)
		}
		s.tasks[confirmed.ID] = confirmed
	}
	s.logger.Debug().
		Str("task", taskID).
		Str("kind", string(entry.mutation.Kind)).
		Msg("optimistic mutation confirmed")
	return nil
}

func fillAbsent(server, local domain.Task) domain.Task {
	if server.Status == domain.StatusUnknown {
		server.Status = local.Status
	}
	if server.Status == domain.StatusUnknown {
		server.Status = domain.StatusOpen
	}
	if server.Description == nil && local.Description != nil {
		desc := *local.Description
		server.Description = &desc
	}
	return server
}

// MergeFetchedList replaces the collection with a fetched list. Tasks with a
// pending mutation keep their optimistic local state, including the absence
// of a task being deleted and provisional entries still being created.
func (s *Store) MergeFetchedList(tasks []domain.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()

	merged := make(map[string]domain.Task, len(tasks)+len(s.pending))
	for _, task := range tasks {
		if _, busy := s.pending[task.ID]; busy {
			continue
		}
		merged[task.ID] = task.Clone()
	}
	for id := range s.pending {
		if local, ok := s.tasks[id]; ok {
			merged[id] = local
		}
	}
	s.tasks = merged
}

// Upsert inserts or replaces tasks that have no pending mutation.
func (s *Store) Upsert(tasks ...domain.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, task := range tasks {
		if task.ID == "" {
			continue
		}
		if _, busy := s.pending[task.ID]; busy {
			continue
		}
		s.tasks[task.ID] = task.Clone()
	}
}

// Get returns a copy of the task with id.
func (s *Store) Get(id string) (domain.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return domain.Task{}, false
	}
	return task.Clone(), true
}

// List returns all tasks, most urgent first, then by id.
func (s *Store) List() []domain.Task {
	s.mu.Lock()
	out := make([]domain.Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		out = append(out, task.Clone())
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		ri, rj := out[i].Priority.Rank(), out[j].Priority.Rank()
		if ri != rj {
			return ri < rj
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Pending returns the outstanding mutations.
func (s *Store) Pending() []domain.PendingMutation {
	s.mu.Lock()
	out := make([]domain.PendingMutation, 0, len(s.pending))
	for _, entry := range s.pending {
		out = append(out, entry.mutation)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].TargetTaskID < out[j].TargetTaskID
	})
	return out
}
