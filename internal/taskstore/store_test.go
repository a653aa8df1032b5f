package taskstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lazymic/internal/domain"
)

func seeded(t *testing.T, tasks ...domain.Task) *Store {
	t.Helper()
	store := New(zerolog.Nop())
	store.MergeFetchedList(tasks)
	return store
}

func task(id, title string, priority domain.Priority) domain.Task {
	return domain.Task{ID: id, Title: title, Priority: priority, Status: domain.StatusOpen}
}

func TestCompleteThenServerWins(t *testing.T) {
	t.Parallel()

	store := seeded(t, task("1", "Buy milk", domain.PriorityMedium))

	_, err := store.ApplyOptimistic(context.Background(), domain.Mutation{TaskID: "1", Kind: domain.MutationComplete})
	require.NoError(t, err)

	local, ok := store.Get("1")
	require.True(t, ok)
	assert.Equal(t, domain.StatusCompleted, local.Status)
	assert.Len(t, store.Pending(), 1)

	server := task("1", "Buy milk (2%)", domain.PriorityHigh)
	server.Status = domain.StatusCompleted
	require.NoError(t, store.Reconcile("1", &server, nil))

	got, _ := store.Get("1")
	assert.Equal(t, "Buy milk (2%)", got.Title)
	assert.Equal(t, domain.PriorityHigh, got.Priority)
	assert.Empty(t, store.Pending())
}

func TestFailedEditRevertsAndReturnsSameError(t *testing.T) {
	t.Parallel()

	original := task("1", "Buy milk", domain.PriorityLow)
	store := seeded(t, original)

	title := "Buy bread"
	_, err := store.ApplyOptimistic(context.Background(), domain.Mutation{
		TaskID: "1",
		Kind:   domain.MutationEdit,
		Patch:  domain.TaskPatch{Title: &title},
	})
	require.NoError(t, err)
	edited, _ := store.Get("1")
	assert.Equal(t, "Buy bread", edited.Title)

	failure := &domain.APIError{Category: domain.CategoryTimeout, Message: "no response within 10s"}
	err = store.Reconcile("1", nil, failure)
	assert.Same(t, failure, err)

	reverted, _ := store.Get("1")
	assert.Equal(t, original, reverted)
	assert.Empty(t, store.Pending())
}

func TestFailedDeleteRestoresTask(t *testing.T) {
	t.Parallel()

	store := seeded(t, task("1", "Buy milk", domain.PriorityLow))

	_, err := store.ApplyOptimistic(context.Background(), domain.Mutation{TaskID: "1", Kind: domain.MutationDelete})
	require.NoError(t, err)
	_, ok := store.Get("1")
	assert.False(t, ok)

	failure := errors.New("boom")
	assert.Equal(t, failure, store.Reconcile("1", nil, failure))
	_, ok = store.Get("1")
	assert.True(t, ok)
}

func TestSuccessfulDeleteRemovesTask(t *testing.T) {
	t.Parallel()

	store := seeded(t, task("1", "Buy milk", domain.PriorityLow))

	_, err := store.ApplyOptimistic(context.Background(), domain.Mutation{TaskID: "1", Kind: domain.MutationDelete})
	require.NoError(t, err)
	require.NoError(t, store.Reconcile("1", nil, nil))

	assert.Empty(t, store.List())
}

func TestCreateSwapsProvisionalIDForServerID(t *testing.T) {
	t.Parallel()

	store := New(zerolog.Nop())
	provisional := domain.TaskDraft{Title: "Call mom"}.Provisional("local-1")

	_, err := store.ApplyOptimistic(context.Background(), domain.Mutation{
		TaskID: "local-1",
		Kind:   domain.MutationCreate,
		Task:   &provisional,
	})
	require.NoError(t, err)
	_, ok := store.Get("local-1")
	require.True(t, ok)

	server := task("42", "Call mom", domain.PriorityMedium)
	require.NoError(t, store.Reconcile("local-1", &server, nil))

	_, ok = store.Get("local-1")
	assert.False(t, ok)
	got, ok := store.Get("42")
	require.True(t, ok)
	assert.Equal(t, "Call mom", got.Title)
}

func TestFailedCreateRemovesProvisionalTask(t *testing.T) {
	t.Parallel()

	store := New(zerolog.Nop())
	provisional := domain.TaskDraft{Title: "Call mom"}.Provisional("local-1")
	_, err := store.ApplyOptimistic(context.Background(), domain.Mutation{TaskID: "local-1", Kind: domain.MutationCreate, Task: &provisional})
	require.NoError(t, err)

	_ = store.Reconcile("local-1", nil, errors.New("rejected"))
	assert.Empty(t, store.List())
}

func TestApplyOptimisticRejectsMissingTask(t *testing.T) {
	t.Parallel()

	store := New(zerolog.Nop())
	_, err := store.ApplyOptimistic(context.Background(), domain.Mutation{TaskID: "nope", Kind: domain.MutationComplete})
	assert.ErrorIs(t, err, ErrTaskNotFound)
	assert.Empty(t, store.Pending())
}

func TestMergeFetchedListKeepsPendingLocalState(t *testing.T) {
	t.Parallel()

	store := seeded(t,
		task("1", "Buy milk", domain.PriorityLow),
		task("2", "Walk dog", domain.PriorityLow),
		task("3", "Stale", domain.PriorityLow),
	)
	_, err := store.ApplyOptimistic(context.Background(), domain.Mutation{TaskID: "1", Kind: domain.MutationComplete})
	require.NoError(t, err)
	_, err = store.ApplyOptimistic(context.Background(), domain.Mutation{TaskID: "2", Kind: domain.MutationDelete})
	require.NoError(t, err)

	store.MergeFetchedList([]domain.Task{
		task("1", "Buy milk", domain.PriorityLow),
		task("2", "Walk dog", domain.PriorityLow),
		task("4", "New from server", domain.PriorityHigh),
	})

	got := store.List()
	require.Len(t, got, 2)
	assert.Equal(t, "4", got[0].ID)
	assert.Equal(t, "1", got[1].ID)
	assert.Equal(t, domain.StatusCompleted, got[1].Status)
}

func TestSecondMutationWaitsForFirstToReconcile(t *testing.T) {
	t.Parallel()

	store := seeded(t, task("1", "Buy milk", domain.PriorityLow))
	_, err := store.ApplyOptimistic(context.Background(), domain.Mutation{TaskID: "1", Kind: domain.MutationComplete})
	require.NoError(t, err)

	applied := make(chan error, 1)
	go func() {
		title := "Buy oat milk"
		_, err := store.ApplyOptimistic(context.Background(), domain.Mutation{
			TaskID: "1",
			Kind:   domain.MutationEdit,
			Patch:  domain.TaskPatch{Title: &title},
		})
		applied <- err
	}()

	select {
	case <-applied:
		t.Fatalf("second mutation applied while the first was pending")
	case <-time.After(50 * time.Millisecond):
	}

	completed := task("1", "Buy milk", domain.PriorityLow)
	completed.Status = domain.StatusCompleted
	require.NoError(t, store.Reconcile("1", &completed, nil))

	select {
	case err := <-applied:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatalf("second mutation never applied")
	}

	got, _ := store.Get("1")
	assert.Equal(t, "Buy oat milk", got.Title)
	assert.Equal(t, domain.StatusCompleted, got.Status)
	assert.Len(t, store.Pending(), 1)
}

func TestApplyOptimisticHonorsContextWhileWaiting(t *testing.T) {
	t.Parallel()

	store := seeded(t, task("1", "Buy milk", domain.PriorityLow))
	_, err := store.ApplyOptimistic(context.Background(), domain.Mutation{TaskID: "1", Kind: domain.MutationComplete})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = store.ApplyOptimistic(ctx, domain.Mutation{TaskID: "1", Kind: domain.MutationDelete})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDoubleCompleteIsIdempotentWhenBackendAgrees(t *testing.T) {
	t.Parallel()

	store := seeded(t, task("1", "Buy milk", domain.PriorityLow))
	completed := task("1", "Buy milk", domain.PriorityLow)
	completed.Status = domain.StatusCompleted

	for i := 0; i < 2; i++ {
		_, err := store.ApplyOptimistic(context.Background(), domain.Mutation{TaskID: "1", Kind: domain.MutationComplete})
		require.NoError(t, err)
		require.NoError(t, store.Reconcile("1", &completed, nil))
	}

	got, _ := store.Get("1")
	assert.Equal(t, domain.StatusCompleted, got.Status)
	assert.Empty(t, store.Pending())
}

func TestReconcileWithoutPendingFails(t *testing.T) {
	t.Parallel()

	store := New(zerolog.Nop())
	assert.ErrorIs(t, store.Reconcile("1", nil, nil), ErrNoPending)
}

func TestUpsertSkipsPendingTasks(t *testing.T) {
	t.Parallel()

	store := seeded(t, task("1", "Buy milk", domain.PriorityLow))
	_, err := store.ApplyOptimistic(context.Background(), domain.Mutation{TaskID: "1", Kind: domain.MutationComplete})
	require.NoError(t, err)

	store.Upsert(task("1", "Overwritten", domain.PriorityLow), task("2", "Fresh", domain.PriorityCritical))

	got, _ := store.Get("1")
	assert.Equal(t, "Buy milk", got.Title)
	_, ok := store.Get("2")
	assert.True(t, ok)
}

func TestEditConfirmationKeepsFieldsServerOmits(t *testing.T) {
	t.Parallel()

	desc := "keep me"
	original := task("t1", "old title", domain.PriorityLow)
	original.Status = domain.StatusCompleted
	original.Description = &desc
	store := seeded(t, original)

	title := "new title"
	_, err := store.ApplyOptimistic(context.Background(), domain.Mutation{
		TaskID: "t1",
		Kind:   domain.MutationEdit,
		Patch:  domain.TaskPatch{Title: &title},
	})
	require.NoError(t, err)

	server := domain.Task{ID: "t1", Title: "new title", Priority: domain.PriorityHigh, Status: domain.StatusUnknown}
	require.NoError(t, store.Reconcile("t1", &server, nil))

	got, ok := store.Get("t1")
	require.True(t, ok)
	assert.Equal(t, "new title", got.Title)
	assert.Equal(t, domain.PriorityHigh, got.Priority)
	assert.Equal(t, domain.StatusCompleted, got.Status)
	require.NotNil(t, got.Description)
	assert.Equal(t, "keep me", *got.Description)
}

func TestConfirmationStatusFromServerWins(t *testing.T) {
	t.Parallel()

	original := task("t1", "Buy milk", domain.PriorityLow)
	original.Status = domain.StatusCompleted
	store := seeded(t, original)

	status := domain.StatusOpen
	_, err := store.ApplyOptimistic(context.Background(), domain.Mutation{
		TaskID: "t1",
		Kind:   domain.MutationEdit,
		Patch:  domain.TaskPatch{Status: &status},
	})
	require.NoError(t, err)

	server := task("t1", "Buy milk", domain.PriorityLow)
	server.Status = domain.StatusCompleted
	require.NoError(t, store.Reconcile("t1", &server, nil))

	got, _ := store.Get("t1")
	assert.Equal(t, domain.StatusCompleted, got.Status)
}
