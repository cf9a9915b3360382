package task

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/GrabowMar/ThesisAppRework-sub000/internal/slug"
)

// Store errors.
var (
	// ErrNotFound indicates an unknown task id.
	ErrNotFound = errors.New("task not found")
	// ErrDuplicatePipelineTask is the conflict returned when a
	// non-terminal task already exists for (model, app, pipeline).
	ErrDuplicatePipelineTask = errors.New("duplicate task for pipeline")
	// ErrAlreadyTerminal indicates an illegal transition out of a
	// terminal state.
	ErrAlreadyTerminal = errors.New("task already terminal")
	// ErrNotLeased indicates a lease operation on a task that is not
	// running.
	ErrNotLeased = errors.New("task is not leased")
)

// Bucket names.
var (
	bucketTasks     = []byte("tasks")
	bucketPipelines = []byte("pipelines")
)

const openTimeout = time.Second

// Store is the bbolt-backed task store. bbolt's single-writer
// transactions provide the check-and-insert atomicity the duplicate
// prevention and leasing contracts require.
type Store struct {
	db *bolt.DB

	// now is swapped in tests to drive lease expiry.
	now func() time.Time
}

// Open opens (or creates) the store at path.
func Open(path string) (*Store, error) {
	db, openErr := bolt.Open(path, 0o600, &bolt.Options{Timeout: openTimeout})
	if openErr != nil {
		return nil, fmt.Errorf("open task store: %w", openErr)
	}

	initErr := db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketTasks, bucketPipelines} {
			_, err := tx.CreateBucketIfNotExists(name)
			if err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}

		return nil
	})
	if initErr != nil {
		_ = db.Close()

		return nil, initErr
	}

	return &Store{
		db:  db,
		now: time.Now,
	}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	closeErr := s.db.Close()
	if closeErr != nil {
		return fmt.Errorf("close task store: %w", closeErr)
	}

	return nil
}

// Create validates and persists a new pending task. When the submission
// carries a pipeline id, the duplicate check and the insert run in one
// write transaction, so concurrent submissions of the same triple admit
// exactly one task.
func (s *Store) Create(spec Spec) (*Task, error) {
	validateErr := spec.Validate()
	if validateErr != nil {
		return nil, validateErr
	}

	now := s.now().UTC()
	created := &Task{
		TaskID:          NewID(),
		TargetModel:     slug.Normalize(spec.Model),
		TargetAppNumber: spec.AppNumber,
		AnalysisType:    spec.AnalysisType,
		RequestedTools:  spec.RequestedTools,
		Status:          StatusPending,
		Source:          spec.Source,
		Options:         spec.Options,
		CreatedAt:       now,
	}

	txErr := s.db.Update(func(tx *bolt.Tx) error {
		if created.Options.PipelineID != "" {
			conflict, checkErr := s.pipelineConflict(tx, created)
			if checkErr != nil {
				return checkErr
			}

			if conflict != "" {
				return fmt.Errorf("%w: %s", ErrDuplicatePipelineTask, conflict)
			}

			indexErr := tx.Bucket(bucketPipelines).Put(pipelineKey(created), []byte(created.TaskID))
			if indexErr != nil {
				return fmt.Errorf("index pipeline: %w", indexErr)
			}
		}

		return putTask(tx, created)
	})
	if txErr != nil {
		return nil, txErr
	}

	return created, nil
}

// pipelineConflict returns the id of a live task occupying the same
// (model, app, pipeline) slot, or empty when the slot is free. Stale
// index entries pointing at terminal tasks are treated as free.
func (s *Store) pipelineConflict(tx *bolt.Tx, candidate *Task) (string, error) {
	existing := tx.Bucket(bucketPipelines).Get(pipelineKey(candidate))
	if existing == nil {
		return "", nil
	}

	holder, getErr := getTask(tx, string(existing))
	if getErr != nil {
		if errors.Is(getErr, ErrNotFound) {
			return "", nil
		}

		return "", getErr
	}

	if holder.Status.Terminal() {
		return "", nil
	}

	return holder.TaskID, nil
}

// Get returns the task by id.
func (s *Store) Get(id string) (*Task, error) {
	var found *Task

	viewErr := s.db.View(func(tx *bolt.Tx) error {
		t, err := getTask(tx, id)
		if err != nil {
			return err
		}

		found = t

		return nil
	})
	if viewErr != nil {
		return nil, viewErr
	}

	return found, nil
}

// List returns all tasks, newest first.
func (s *Store) List() ([]*Task, error) {
	var tasks []*Task

	viewErr := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTasks).ForEach(func(_, v []byte) error {
			var t Task

			if err := json.Unmarshal(v, &t); err != nil {
				return fmt.Errorf("decode task: %w", err)
			}

			tasks = append(tasks, &t)

			return nil
		})
	})
	if viewErr != nil {
		return nil, viewErr
	}

	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
	})

	return tasks, nil
}

// LeaseReady atomically claims up to limit pending tasks: each is marked
// running with a lease deadline and returned. Oldest submissions are
// claimed first. No other dispatcher can lease them until the lease
// expires.
func (s *Store) LeaseReady(limit int, ttl time.Duration) ([]*Task, error) {
	if limit <= 0 {
		return nil, nil
	}

	var leased []*Task

	txErr := s.db.Update(func(tx *bolt.Tx) error {
		var pending []*Task

		scanErr := tx.Bucket(bucketTasks).ForEach(func(_, v []byte) error {
			var t Task

			if err := json.Unmarshal(v, &t); err != nil {
				return fmt.Errorf("decode task: %w", err)
			}

			if t.Status == StatusPending {
				pending = append(pending, &t)
			}

			return nil
		})
		if scanErr != nil {
			return scanErr
		}

		sort.Slice(pending, func(i, j int) bool {
			return pending[i].CreatedAt.Before(pending[j].CreatedAt)
		})

		if len(pending) > limit {
			pending = pending[:limit]
		}

		now := s.now().UTC()

		for _, t := range pending {
			started := now
			deadline := now.Add(ttl)

			t.Status = StatusRunning
			t.StartedAt = &started
			t.LeaseDeadline = &deadline

			if err := putTask(tx, t); err != nil {
				return err
			}

			leased = append(leased, t)
		}

		return nil
	})
	if txErr != nil {
		return nil, txErr
	}

	return leased, nil
}

// ExtendLease pushes the lease deadline of a running task forward.
func (s *Store) ExtendLease(id string, ttl time.Duration) error {
	return s.mutate(id, func(t *Task) error {
		if t.Status != StatusRunning {
			return fmt.Errorf("%w: %s is %s", ErrNotLeased, id, t.Status)
		}

		deadline := s.now().UTC().Add(ttl)
		t.LeaseDeadline = &deadline

		return nil
	})
}

// SetProgress records coarse progress. Progress is monotonic and capped
// below 100 for non-terminal tasks; regressions are ignored rather than
// failed so throttled writers need no coordination.
func (s *Store) SetProgress(id string, progress int) error {
	const maxNonTerminal = 99

	return s.mutate(id, func(t *Task) error {
		if t.Status.Terminal() {
			return nil
		}

		if progress > maxNonTerminal {
			progress = maxNonTerminal
		}

		if progress > t.Progress {
			t.Progress = progress
		}

		return nil
	})
}

// Complete transitions a task to a terminal status, releasing its lease
// and pinning progress to 100. Transitions out of terminal states are
// rejected.
func (s *Store) Complete(id string, status Status, errorMessage, resultPath string) error {
	if !status.Terminal() {
		return fmt.Errorf("complete with non-terminal status %q", status)
	}

	return s.mutate(id, func(t *Task) error {
		if t.Status.Terminal() {
			return fmt.Errorf("%w: %s is %s", ErrAlreadyTerminal, id, t.Status)
		}

		now := s.now().UTC()

		t.Status = status
		t.Progress = 100
		t.CompletedAt = &now
		t.LeaseDeadline = nil
		t.ErrorMessage = errorMessage

		if resultPath != "" {
			t.ResultPath = resultPath
		}

		if t.StartedAt == nil || t.StartedAt.After(now) {
			t.StartedAt = &t.CreatedAt
		}

		return nil
	})
}

// Cancel requests cancellation. Pending tasks terminate immediately;
// running tasks get the flag set for the dispatcher to observe at the
// next subtask boundary.
func (s *Store) Cancel(id string) error {
	return s.mutate(id, func(t *Task) error {
		switch {
		case t.Status.Terminal():
			return fmt.Errorf("%w: %s is %s", ErrAlreadyTerminal, id, t.Status)
		case t.Status == StatusPending:
			now := s.now().UTC()

			t.Status = StatusCancelled
			t.Progress = 100
			t.CompletedAt = &now
			t.StartedAt = &t.CreatedAt
		default:
			t.CancelRequested = true
		}

		return nil
	})
}

// CancelRequested reports whether cancellation has been requested.
func (s *Store) CancelRequested(id string) (bool, error) {
	t, err := s.Get(id)
	if err != nil {
		return false, err
	}

	return t.CancelRequested || t.Status == StatusCancelled, nil
}

// FindDuplicate returns the live task occupying (model, app, pipeline),
// if any. Model is normalized before lookup.
func (s *Store) FindDuplicate(model string, appNumber int, pipelineID string) (string, bool, error) {
	if pipelineID == "" {
		return "", false, nil
	}

	probe := &Task{
		TargetModel:     slug.Normalize(model),
		TargetAppNumber: appNumber,
		Options:         Options{PipelineID: pipelineID},
	}

	var holderID string

	viewErr := s.db.View(func(tx *bolt.Tx) error {
		conflict, err := s.pipelineConflict(tx, probe)
		if err != nil {
			return err
		}

		holderID = conflict

		return nil
	})
	if viewErr != nil {
		return "", false, viewErr
	}

	return holderID, holderID != "", nil
}

// leaseExpiredMessage is the error recorded by the sweep; external
// monitors match on it.
const leaseExpiredMessage = "lease expired"

// SweepExpiredLeases fails every running task whose lease deadline has
// elapsed by at least grace. This is the crash-recovery path for
// dispatchers that died mid-task. Returns the number of swept tasks.
func (s *Store) SweepExpiredLeases(grace time.Duration) (int, error) {
	swept := 0
	cutoff := s.now().UTC().Add(-grace)

	txErr := s.db.Update(func(tx *bolt.Tx) error {
		var expired []*Task

		scanErr := tx.Bucket(bucketTasks).ForEach(func(_, v []byte) error {
			var t Task

			if err := json.Unmarshal(v, &t); err != nil {
				return fmt.Errorf("decode task: %w", err)
			}

			if t.Status == StatusRunning && t.LeaseDeadline != nil && t.LeaseDeadline.Before(cutoff) {
				expired = append(expired, &t)
			}

			return nil
		})
		if scanErr != nil {
			return scanErr
		}

		now := s.now().UTC()

		for _, t := range expired {
			t.Status = StatusFailed
			t.Progress = 100
			t.CompletedAt = &now
			t.LeaseDeadline = nil
			t.ErrorMessage = leaseExpiredMessage

			if err := putTask(tx, t); err != nil {
				return err
			}

			swept++
		}

		return nil
	})
	if txErr != nil {
		return 0, txErr
	}

	return swept, nil
}

// mutate runs fn on the task inside one write transaction.
func (s *Store) mutate(id string, fn func(*Task) error) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		t, getErr := getTask(tx, id)
		if getErr != nil {
			return getErr
		}

		fnErr := fn(t)
		if fnErr != nil {
			return fnErr
		}

		return putTask(tx, t)
	})
}

func getTask(tx *bolt.Tx, id string) (*Task, error) {
	raw := tx.Bucket(bucketTasks).Get([]byte(id))
	if raw == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	var t Task

	unmarshalErr := json.Unmarshal(raw, &t)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("decode task %s: %w", id, unmarshalErr)
	}

	return &t, nil
}

func putTask(tx *bolt.Tx, t *Task) error {
	raw, marshalErr := json.Marshal(t)
	if marshalErr != nil {
		return fmt.Errorf("encode task %s: %w", t.TaskID, marshalErr)
	}

	putErr := tx.Bucket(bucketTasks).Put([]byte(t.TaskID), raw)
	if putErr != nil {
		return fmt.Errorf("store task %s: %w", t.TaskID, putErr)
	}

	return nil
}

// pipelineKey builds the duplicate-prevention index key.
func pipelineKey(t *Task) []byte {
	parts := []string{t.TargetModel, strconv.Itoa(t.TargetAppNumber), t.Options.PipelineID}

	return []byte(strings.Join(parts, "|"))
}
