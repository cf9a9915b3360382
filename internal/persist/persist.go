// Package persist writes aggregated results to the filesystem layout
// downstream readers depend on:
//
//	<results_root>/<slug>/app<N>/<task_id>/
//	  <slug>_app<N>_<task_id>_<YYYYMMDD_HHMMSS>.json
//	  manifest.json
//	  sarif/      extracted artifacts
//	  services/   unmodified per-service worker payloads
//
// Every file is written temp-then-rename, so readers never observe a
// partial document.
package persist

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/GrabowMar/ThesisAppRework-sub000/internal/aggregate"
	"github.com/GrabowMar/ThesisAppRework-sub000/internal/task"
)

const (
	dirPerm  = 0o755
	filePerm = 0o644

	manifestName = "manifest.json"
	sarifDir     = "sarif"
	servicesDir  = "services"

	// timestampLayout is UTC YYYYMMDD_HHMMSS.
	timestampLayout = "20060102_150405"
)

// Request is one persistence job.
type Request struct {
	Result    *aggregate.AggregatedResult
	Artifacts []aggregate.Artifact

	// Snapshots holds the unmodified worker payload per service, written
	// under services/ with artifacts still inline.
	Snapshots map[string]json.RawMessage

	// Cancelled is recorded in the manifest so readers of a partial
	// document know the task did not run to completion.
	Cancelled bool

	// RetentionDays is informational, recorded for cleanup tooling.
	RetentionDays int
}

// Manifest indexes a task directory.
type Manifest struct {
	TaskID        string   `json:"task_id"`
	Model         string   `json:"model"`
	AppNumber     int      `json:"app_number"`
	WrittenAt     string   `json:"written_at"`
	Cancelled     bool     `json:"cancelled"`
	ResultFile    string   `json:"result_file"`
	Artifacts     []string `json:"artifacts,omitempty"`
	Services      []string `json:"services,omitempty"`
	RetentionDays int      `json:"retention_days,omitempty"`
}

// Persister owns a results root. Writes to the same task directory are
// serialized; distinct tasks write concurrently.
type Persister struct {
	root string

	now func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a persister rooted at dir.
func New(root string) *Persister {
	return &Persister{
		root:  root,
		now:   time.Now,
		locks: make(map[string]*sync.Mutex),
	}
}

// Write persists the aggregated document, its artifacts, the per-service
// snapshots, and the manifest. Returns the absolute path of the
// aggregated document.
func (p *Persister) Write(t *task.Task, req Request) (string, error) {
	taskID := task.EnsureIDPrefix(t.TaskID)
	taskDir := filepath.Join(p.root, t.TargetModel, fmt.Sprintf("app%d", t.TargetAppNumber), taskID)

	lock := p.dirLock(taskDir)
	lock.Lock()
	defer lock.Unlock()

	for _, sub := range []string{taskDir, filepath.Join(taskDir, sarifDir), filepath.Join(taskDir, servicesDir)} {
		if err := os.MkdirAll(sub, dirPerm); err != nil {
			return "", fmt.Errorf("create result directory: %w", err)
		}
	}

	for _, artifact := range req.Artifacts {
		target := filepath.Join(taskDir, sarifDir, artifact.Name)

		if err := writeAtomic(target, artifact.Content); err != nil {
			return "", fmt.Errorf("write artifact %s: %w", artifact.Name, err)
		}
	}

	serviceNames := make([]string, 0, len(req.Snapshots))

	for service, payload := range req.Snapshots {
		target := filepath.Join(taskDir, servicesDir, service+".json")

		if err := writeAtomic(target, payload); err != nil {
			return "", fmt.Errorf("write service snapshot %s: %w", service, err)
		}

		serviceNames = append(serviceNames, service)
	}

	sort.Strings(serviceNames)

	now := p.now().UTC()
	resultName := fmt.Sprintf("%s_app%d_%s_%s.json",
		t.TargetModel, t.TargetAppNumber, taskID, now.Format(timestampLayout))

	doc, marshalErr := json.MarshalIndent(req.Result, "", "  ")
	if marshalErr != nil {
		return "", fmt.Errorf("encode aggregated result: %w", marshalErr)
	}

	resultPath := filepath.Join(taskDir, resultName)

	if err := writeAtomic(resultPath, doc); err != nil {
		return "", fmt.Errorf("write aggregated result: %w", err)
	}

	manifest := Manifest{
		TaskID:        taskID,
		Model:         t.TargetModel,
		AppNumber:     t.TargetAppNumber,
		WrittenAt:     now.Format(time.RFC3339),
		Cancelled:     req.Cancelled,
		ResultFile:    resultName,
		Artifacts:     artifactNames(req.Artifacts),
		Services:      serviceNames,
		RetentionDays: req.RetentionDays,
	}

	manifestDoc, marshalErr := json.MarshalIndent(manifest, "", "  ")
	if marshalErr != nil {
		return "", fmt.Errorf("encode manifest: %w", marshalErr)
	}

	if err := writeAtomic(filepath.Join(taskDir, manifestName), manifestDoc); err != nil {
		return "", fmt.Errorf("write manifest: %w", err)
	}

	abs, absErr := filepath.Abs(resultPath)
	if absErr != nil {
		return "", fmt.Errorf("resolve result path: %w", absErr)
	}

	return abs, nil
}

// dirLock returns the mutex serializing writes to one task directory.
func (p *Persister) dirLock(dir string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()

	lock, ok := p.locks[dir]
	if !ok {
		lock = &sync.Mutex{}
		p.locks[dir] = lock
	}

	return lock
}

// writeAtomic writes content to a temp file in the target directory and
// renames it into place.
func writeAtomic(target string, content []byte) error {
	dir := filepath.Dir(target)

	tmp, createErr := os.CreateTemp(dir, ".tmp-*")
	if createErr != nil {
		return fmt.Errorf("create temp file: %w", createErr)
	}

	tmpName := tmp.Name()

	_, writeErr := tmp.Write(content)
	if writeErr != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)

		return fmt.Errorf("write temp file: %w", writeErr)
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)

		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Chmod(tmpName, filePerm); err != nil {
		_ = os.Remove(tmpName)

		return fmt.Errorf("chmod temp file: %w", err)
	}

	if err := os.Rename(tmpName, target); err != nil {
		_ = os.Remove(tmpName)

		return fmt.Errorf("rename into place: %w", err)
	}

	return nil
}

func artifactNames(artifacts []aggregate.Artifact) []string {
	if len(artifacts) == 0 {
		return nil
	}

	names := make([]string, 0, len(artifacts))
	for _, artifact := range artifacts {
		names = append(names, artifact.Name)
	}

	sort.Strings(names)

	return names
}
