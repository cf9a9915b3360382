// Package task defines the analysis task model and its authoritative
// store: a bbolt-backed record of every task's lifecycle, driving the
// dispatcher's lease-based polling and crash recovery.
package task

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the task lifecycle state.
type Status string

// Task lifecycle states. Transitions are monotonic:
// pending -> running -> {completed, partial_success, failed, cancelled};
// cancellation is additionally legal straight from pending.
const (
	StatusPending        Status = "pending"
	StatusRunning        Status = "running"
	StatusCompleted      Status = "completed"
	StatusPartialSuccess Status = "partial_success"
	StatusFailed         Status = "failed"
	StatusCancelled      Status = "cancelled"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusPartialSuccess, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// AnalysisType selects which analyzer services a task touches.
type AnalysisType string

// Analysis types.
const (
	TypeStatic      AnalysisType = "static"
	TypeDynamic     AnalysisType = "dynamic"
	TypePerformance AnalysisType = "performance"
	TypeAI          AnalysisType = "ai"
	TypeUnified     AnalysisType = "unified"
)

// Valid reports whether the analysis type is known.
func (t AnalysisType) Valid() bool {
	switch t {
	case TypeStatic, TypeDynamic, TypePerformance, TypeAI, TypeUnified:
		return true
	default:
		return false
	}
}

// Source tags where a task was submitted from.
type Source string

// Submission sources.
const (
	SourceCLI      Source = "cli"
	SourceAPI      Source = "api"
	SourcePipeline Source = "pipeline"
)

// Options carries the known optional submission fields plus an opaque
// side table for submitter extensions the engine never interprets.
type Options struct {
	// PipelineID enables duplicate prevention: at most one non-terminal
	// task per (model, app, pipeline) triple.
	PipelineID string `json:"pipeline_id,omitempty"`

	// RetentionDays is informational; it is recorded in the manifest for
	// downstream cleanup tooling.
	RetentionDays int `json:"retention_days,omitempty"`

	// Extra is passed through to analyzer workers untouched.
	Extra map[string]string `json:"extra,omitempty"`
}

// Task is the authoritative task record.
type Task struct {
	TaskID          string       `json:"task_id"`
	TargetModel     string       `json:"target_model"`
	TargetAppNumber int          `json:"target_app_number"`
	AnalysisType    AnalysisType `json:"analysis_type"`
	RequestedTools  []string     `json:"requested_tools,omitempty"`
	Status          Status       `json:"status"`
	Progress        int          `json:"progress"`
	Source          Source       `json:"source"`
	Options         Options      `json:"options"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// LeaseDeadline is set while a dispatcher holds the processing lease.
	LeaseDeadline *time.Time `json:"lease_deadline,omitempty"`

	// CancelRequested is the cooperative cancellation flag observed by
	// the dispatcher at subtask boundaries.
	CancelRequested bool `json:"cancel_requested,omitempty"`

	ErrorMessage string `json:"error_message,omitempty"`
	ResultPath   string `json:"result_path,omitempty"`
}

// Spec is a task submission.
type Spec struct {
	Model          string
	AppNumber      int
	AnalysisType   AnalysisType
	RequestedTools []string
	Source         Source
	Options        Options
}

// Submission validation errors.
var (
	// ErrInvalidModel indicates an empty model identifier.
	ErrInvalidModel = errors.New("model must not be empty")
	// ErrInvalidAppNumber indicates a non-positive app number.
	ErrInvalidAppNumber = errors.New("app number must be positive")
	// ErrInvalidAnalysisType indicates an unknown analysis type.
	ErrInvalidAnalysisType = errors.New("unknown analysis type")
)

// Validate checks a submission before it is accepted.
func (s Spec) Validate() error {
	if strings.TrimSpace(s.Model) == "" {
		return ErrInvalidModel
	}

	if s.AppNumber <= 0 {
		return ErrInvalidAppNumber
	}

	if !s.AnalysisType.Valid() {
		return ErrInvalidAnalysisType
	}

	return nil
}

// idPrefix is the mandatory task id prefix. It appears exactly once in
// every id and therefore exactly once in every persisted path segment.
const idPrefix = "task_"

// NewID generates a fresh task id carrying the prefix exactly once.
func NewID() string {
	return idPrefix + uuid.NewString()
}

// EnsureIDPrefix returns the id with the task_ prefix applied exactly
// once, regardless of whether the input already carried it.
func EnsureIDPrefix(raw string) string {
	trimmed := raw
	for strings.HasPrefix(trimmed, idPrefix) {
		trimmed = strings.TrimPrefix(trimmed, idPrefix)
	}

	return idPrefix + trimmed
}
