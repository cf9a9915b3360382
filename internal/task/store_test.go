package task_test

import (
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GrabowMar/ThesisAppRework-sub000/internal/task"
)

func openStore(t *testing.T) *task.Store {
	t.Helper()

	store, err := task.Open(filepath.Join(t.TempDir(), "tasks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func validSpec() task.Spec {
	return task.Spec{
		Model:        "anthropic/claude-3.5-sonnet",
		AppNumber:    1,
		AnalysisType: task.TypeStatic,
		Source:       task.SourceCLI,
	}
}

func TestCreate_NormalizesModelAndPrefixesID(t *testing.T) {
	t.Parallel()

	store := openStore(t)

	created, err := store.Create(validSpec())

	require.NoError(t, err)
	assert.Equal(t, "anthropic_claude-3-5-sonnet", created.TargetModel)
	assert.Equal(t, task.StatusPending, created.Status)
	assert.True(t, strings.HasPrefix(created.TaskID, "task_"))
	assert.Equal(t, 1, strings.Count(created.TaskID, "task_"), "prefix appears exactly once")
}

func TestCreate_RejectsInvalidSpecs(t *testing.T) {
	t.Parallel()

	store := openStore(t)

	cases := []struct {
		name    string
		mutate  func(*task.Spec)
		wantErr error
	}{
		{"empty model", func(s *task.Spec) { s.Model = "  " }, task.ErrInvalidModel},
		{"zero app", func(s *task.Spec) { s.AppNumber = 0 }, task.ErrInvalidAppNumber},
		{"unknown type", func(s *task.Spec) { s.AnalysisType = "fuzzing" }, task.ErrInvalidAnalysisType},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			spec := validSpec()
			tc.mutate(&spec)

			_, err := store.Create(spec)

			require.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestCreate_ConcurrentPipelineDuplicatesAdmitOne(t *testing.T) {
	t.Parallel()

	store := openStore(t)

	spec := validSpec()
	spec.Options.PipelineID = "pipe-7"

	const submitters = 8

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
		rejected int
	)

	for i := 0; i < submitters; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := store.Create(spec)

			mu.Lock()
			defer mu.Unlock()

			switch {
			case err == nil:
				admitted++
			default:
				require.ErrorIs(t, err, task.ErrDuplicatePipelineTask)
				rejected++
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, 1, admitted, "exactly one submission wins the slot")
	assert.Equal(t, submitters-1, rejected)
}

func TestCreate_PipelineSlotFreesOnTerminal(t *testing.T) {
	t.Parallel()

	store := openStore(t)

	spec := validSpec()
	spec.Options.PipelineID = "pipe-reuse"

	first, err := store.Create(spec)
	require.NoError(t, err)

	_, err = store.Create(spec)
	require.ErrorIs(t, err, task.ErrDuplicatePipelineTask)

	require.NoError(t, store.Complete(first.TaskID, task.StatusFailed, "boom", ""))

	second, err := store.Create(spec)

	require.NoError(t, err)
	assert.NotEqual(t, first.TaskID, second.TaskID)
}

func TestFindDuplicate(t *testing.T) {
	t.Parallel()

	store := openStore(t)

	spec := validSpec()
	spec.Options.PipelineID = "pipe-find"

	created, err := store.Create(spec)
	require.NoError(t, err)

	holder, found, err := store.FindDuplicate(spec.Model, spec.AppNumber, "pipe-find")

	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, created.TaskID, holder)

	_, found, err = store.FindDuplicate(spec.Model, spec.AppNumber, "other-pipe")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestLeaseReady_ClaimsOldestFirstAndLeasesOnce(t *testing.T) {
	t.Parallel()

	store := openStore(t)

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	store.SetNow(func() time.Time {
		tick++

		return base.Add(time.Duration(tick) * time.Second)
	})

	var ids []string

	for i := 0; i < 3; i++ {
		spec := validSpec()
		spec.AppNumber = i + 1

		created, err := store.Create(spec)
		require.NoError(t, err)

		ids = append(ids, created.TaskID)
	}

	leased, err := store.LeaseReady(2, time.Minute)

	require.NoError(t, err)
	require.Len(t, leased, 2)
	assert.Equal(t, ids[0], leased[0].TaskID)
	assert.Equal(t, ids[1], leased[1].TaskID)
	assert.Equal(t, task.StatusRunning, leased[0].Status)
	require.NotNil(t, leased[0].LeaseDeadline)
	require.NotNil(t, leased[0].StartedAt)

	again, err := store.LeaseReady(10, time.Minute)

	require.NoError(t, err)
	require.Len(t, again, 1, "already-leased tasks are not re-claimed")
	assert.Equal(t, ids[2], again[0].TaskID)
}

func TestExtendLease(t *testing.T) {
	t.Parallel()

	store := openStore(t)

	created, err := store.Create(validSpec())
	require.NoError(t, err)

	require.ErrorIs(t, store.ExtendLease(created.TaskID, time.Minute), task.ErrNotLeased)

	leased, err := store.LeaseReady(1, time.Minute)
	require.NoError(t, err)
	require.Len(t, leased, 1)

	before := *leased[0].LeaseDeadline

	require.NoError(t, store.ExtendLease(created.TaskID, time.Hour))

	got, err := store.Get(created.TaskID)
	require.NoError(t, err)
	require.NotNil(t, got.LeaseDeadline)
	assert.True(t, got.LeaseDeadline.After(before))
}

func TestSetProgress_MonotonicAndCapped(t *testing.T) {
	t.Parallel()

	store := openStore(t)

	created, err := store.Create(validSpec())
	require.NoError(t, err)

	require.NoError(t, store.SetProgress(created.TaskID, 40))
	require.NoError(t, store.SetProgress(created.TaskID, 10), "regressions are ignored, not failed")

	got, err := store.Get(created.TaskID)
	require.NoError(t, err)
	assert.Equal(t, 40, got.Progress)

	require.NoError(t, store.SetProgress(created.TaskID, 100))

	got, err = store.Get(created.TaskID)
	require.NoError(t, err)
	assert.Equal(t, 99, got.Progress, "100 is reserved for terminal transitions")
}

func TestComplete_TerminalTransition(t *testing.T) {
	t.Parallel()

	store := openStore(t)

	created, err := store.Create(validSpec())
	require.NoError(t, err)

	_, err = store.LeaseReady(1, time.Minute)
	require.NoError(t, err)

	require.NoError(t, store.Complete(created.TaskID, task.StatusCompleted, "", "/results/x.json"))

	got, err := store.Get(created.TaskID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
	assert.Nil(t, got.LeaseDeadline, "lease is released on completion")
	assert.NotNil(t, got.CompletedAt)
	assert.Equal(t, "/results/x.json", got.ResultPath)

	err = store.Complete(created.TaskID, task.StatusFailed, "late", "")
	require.ErrorIs(t, err, task.ErrAlreadyTerminal)
}

func TestComplete_RejectsNonTerminalStatus(t *testing.T) {
	t.Parallel()

	store := openStore(t)

	created, err := store.Create(validSpec())
	require.NoError(t, err)

	err = store.Complete(created.TaskID, task.StatusRunning, "", "")

	require.Error(t, err)
}

func TestCancel_PendingTerminatesImmediately(t *testing.T) {
	t.Parallel()

	store := openStore(t)

	created, err := store.Create(validSpec())
	require.NoError(t, err)

	require.NoError(t, store.Cancel(created.TaskID))

	got, err := store.Get(created.TaskID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCancelled, got.Status)
	assert.Equal(t, 100, got.Progress)

	requested, err := store.CancelRequested(created.TaskID)
	require.NoError(t, err)
	assert.True(t, requested)
}

func TestCancel_RunningSetsFlag(t *testing.T) {
	t.Parallel()

	store := openStore(t)

	created, err := store.Create(validSpec())
	require.NoError(t, err)

	_, err = store.LeaseReady(1, time.Minute)
	require.NoError(t, err)

	require.NoError(t, store.Cancel(created.TaskID))

	got, err := store.Get(created.TaskID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusRunning, got.Status, "running tasks drain cooperatively")
	assert.True(t, got.CancelRequested)

	requested, err := store.CancelRequested(created.TaskID)
	require.NoError(t, err)
	assert.True(t, requested)
}

func TestSweepExpiredLeases(t *testing.T) {
	t.Parallel()

	store := openStore(t)

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	store.SetNow(func() time.Time { return now })

	created, err := store.Create(validSpec())
	require.NoError(t, err)

	_, err = store.LeaseReady(1, time.Minute)
	require.NoError(t, err)

	// Lease still live: sweep is a no-op.
	now = now.Add(30 * time.Second)

	swept, err := store.SweepExpiredLeases(10 * time.Second)
	require.NoError(t, err)
	assert.Zero(t, swept)

	// Past deadline but within grace: still a no-op.
	now = now.Add(35 * time.Second)

	swept, err = store.SweepExpiredLeases(10 * time.Second)
	require.NoError(t, err)
	assert.Zero(t, swept)

	// Past deadline plus grace: the task fails with the lease marker.
	now = now.Add(10 * time.Second)

	swept, err = store.SweepExpiredLeases(10 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	got, err := store.Get(created.TaskID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusFailed, got.Status)
	assert.Equal(t, "lease expired", got.ErrorMessage)
	assert.Nil(t, got.LeaseDeadline)
}

func TestList_NewestFirst(t *testing.T) {
	t.Parallel()

	store := openStore(t)

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	store.SetNow(func() time.Time {
		tick++

		return base.Add(time.Duration(tick) * time.Second)
	})

	first, err := store.Create(validSpec())
	require.NoError(t, err)

	spec := validSpec()
	spec.AppNumber = 2

	second, err := store.Create(spec)
	require.NoError(t, err)

	tasks, err := store.List()

	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, second.TaskID, tasks[0].TaskID)
	assert.Equal(t, first.TaskID, tasks[1].TaskID)
}

func TestGet_Unknown(t *testing.T) {
	t.Parallel()

	store := openStore(t)

	_, err := store.Get("task_missing")

	require.ErrorIs(t, err, task.ErrNotFound)
}

func TestEnsureIDPrefix(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "task_abc", task.EnsureIDPrefix("abc"))
	assert.Equal(t, "task_abc", task.EnsureIDPrefix("task_abc"))
	assert.Equal(t, "task_abc", task.EnsureIDPrefix("task_task_abc"))
}
