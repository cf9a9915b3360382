// Package aggregate turns the per-service payloads of one task into the
// normalized result document: a flat tools map, a sorted findings list,
// summary counters, and per-service status entries. The output is
// deterministic regardless of the order services completed in.
package aggregate

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/GrabowMar/ThesisAppRework-sub000/internal/analyzer"
	"github.com/GrabowMar/ThesisAppRework-sub000/internal/registry"
	"github.com/GrabowMar/ThesisAppRework-sub000/internal/task"
)

// Subtask inner statuses recorded in the services section.
const (
	ServiceSkipped  = "skipped"
	ServiceSuccess  = "success"
	ServiceNoIssues = "no_issues"
	ServicePartial  = "partial"
	ServiceError    = "error"
)

// skipReason is the stub recorded for services the tool grouping never
// selected.
const skipReason = "no tools selected"

// Outcome is the result of one attempted service: either a worker
// response or the error that replaced it.
type Outcome struct {
	Service  analyzer.Service
	Tools    []string
	Response *analyzer.Response
	Err      error
	Duration time.Duration
}

// Input is everything the aggregator consumes for one task.
type Input struct {
	Task        *task.Task
	StartedAt   time.Time
	CompletedAt time.Time

	// Outcomes holds one entry per attempted service, in completion
	// order. Services absent here are recorded as skipped.
	Outcomes []Outcome

	// Cancelled marks that cancellation was observed during dispatch.
	Cancelled bool
}

// Metadata identifies the task the document belongs to.
type Metadata struct {
	TaskID       string    `json:"task_id"`
	Model        string    `json:"model"`
	AppNumber    int       `json:"app_number"`
	AnalysisType string    `json:"analysis_type"`
	Source       string    `json:"source"`
	StartedAt    time.Time `json:"started_at"`
	CompletedAt  time.Time `json:"completed_at"`
	DurationMS   int64     `json:"duration_ms"`
	Cancelled    bool      `json:"cancelled,omitempty"`
}

// ServiceEntry is the per-service row of the document. The full worker
// payload is not repeated here; the persister writes it unmodified as a
// per-service snapshot instead.
type ServiceEntry struct {
	Status     string   `json:"status"`
	Tools      []string `json:"tools,omitempty"`
	Reason     string   `json:"reason,omitempty"`
	Error      string   `json:"error,omitempty"`
	DurationMS int64    `json:"duration_ms,omitempty"`
}

// ToolEntry is the flat per-tool row. Embedded artifacts live inline
// until ExtractArtifacts replaces them with a reference.
type ToolEntry struct {
	Service        string         `json:"service"`
	Status         string         `json:"status"`
	TotalIssues    int            `json:"total_issues"`
	SeverityCounts map[string]int `json:"severity_counts"`
	ArtifactRef    string         `json:"artifact_ref,omitempty"`

	Sarif json.RawMessage `json:"sarif,omitempty"`
	Raw   json.RawMessage `json:"raw,omitempty"`
}

// Finding is one normalized issue.
type Finding struct {
	Tool     string `json:"tool"`
	Service  string `json:"service"`
	Severity string `json:"severity"`
	Category string `json:"category"`
	Message  string `json:"message"`
	File     string `json:"file,omitempty"`
	Line     int    `json:"line,omitempty"`
	Column   int    `json:"column,omitempty"`
	RuleID   string `json:"rule_id,omitempty"`
}

// Summary holds the document counters.
type Summary struct {
	TotalFindings     int            `json:"total_findings"`
	SeverityCounts    map[string]int `json:"severity_counts"`
	ToolsExecuted     int            `json:"tools_executed"`
	ServicesExecuted  int            `json:"services_executed"`
	FindingsByTool    map[string]int `json:"findings_by_tool"`
	FindingsByService map[string]int `json:"findings_by_service"`
}

// AggregatedResult is the document written to disk. Maps serialize with
// sorted keys, so marshaling the same inputs yields identical bytes.
type AggregatedResult struct {
	Metadata Metadata                `json:"metadata"`
	Services map[string]ServiceEntry `json:"services"`
	Tools    map[string]ToolEntry    `json:"tools"`
	Findings []Finding               `json:"findings"`
	Summary  Summary                 `json:"summary"`
	Errors   map[string]string       `json:"errors"`
}

// Build assembles the document from the task and its service outcomes.
func Build(in Input) *AggregatedResult {
	result := &AggregatedResult{
		Metadata: Metadata{
			TaskID:       in.Task.TaskID,
			Model:        in.Task.TargetModel,
			AppNumber:    in.Task.TargetAppNumber,
			AnalysisType: string(in.Task.AnalysisType),
			Source:       string(in.Task.Source),
			StartedAt:    in.StartedAt.UTC(),
			CompletedAt:  in.CompletedAt.UTC(),
			DurationMS:   in.CompletedAt.Sub(in.StartedAt).Milliseconds(),
			Cancelled:    in.Cancelled,
		},
		Services: make(map[string]ServiceEntry),
		Tools:    make(map[string]ToolEntry),
		Errors:   make(map[string]string),
		Summary: Summary{
			SeverityCounts:    emptyHistogram(),
			FindingsByTool:    make(map[string]int),
			FindingsByService: make(map[string]int),
		},
	}

	attempted := make(map[analyzer.Service]Outcome, len(in.Outcomes))
	for _, outcome := range in.Outcomes {
		attempted[outcome.Service] = outcome
	}

	for _, service := range registry.ServicesFor(string(in.Task.AnalysisType)) {
		outcome, ok := attempted[service]
		if !ok {
			result.Services[string(service)] = ServiceEntry{
				Status: ServiceSkipped,
				Reason: skipReason,
			}

			continue
		}

		mergeOutcome(result, outcome)
	}

	sortFindings(result.Findings)

	result.Summary.TotalFindings = len(result.Findings)
	result.Summary.ToolsExecuted = len(result.Tools)

	return result
}

// mergeOutcome folds one attempted service into the document.
func mergeOutcome(result *AggregatedResult, outcome Outcome) {
	name := string(outcome.Service)

	if outcome.Err != nil {
		result.Services[name] = ServiceEntry{
			Status:     ServiceError,
			Tools:      outcome.Tools,
			Error:      outcome.Err.Error(),
			DurationMS: outcome.Duration.Milliseconds(),
		}
		result.Errors[name] = outcome.Err.Error()

		return
	}

	resp := outcome.Response

	if resp.Status == analyzer.StatusError {
		msg := resp.Error
		if msg == "" {
			msg = "worker reported failure"
		}

		result.Services[name] = ServiceEntry{
			Status:     ServiceError,
			Tools:      outcome.Tools,
			Error:      msg,
			DurationMS: outcome.Duration.Milliseconds(),
		}
		result.Errors[name] = msg

		return
	}

	toolNames := make([]string, 0, len(resp.Results))
	for tool := range resp.Results {
		toolNames = append(toolNames, tool)
	}

	sort.Strings(toolNames)

	erroredTools := 0

	for _, tool := range toolNames {
		toolResult := resp.Results[tool]
		entry := ToolEntry{
			Service:        name,
			Status:         toolResult.Status,
			SeverityCounts: emptyHistogram(),
			Sarif:          toolResult.Sarif,
			Raw:            toolResult.Raw,
		}

		if toolResult.Status == analyzer.StatusError {
			erroredTools++
		}

		for _, issue := range toolResult.Issues {
			finding := normalizeIssue(tool, name, issue)

			entry.TotalIssues++
			entry.SeverityCounts[finding.Severity]++
			result.Summary.SeverityCounts[finding.Severity]++
			result.Summary.FindingsByTool[tool]++
			result.Summary.FindingsByService[name]++
			result.Findings = append(result.Findings, finding)
		}

		result.Tools[tool] = entry
	}

	result.Services[name] = ServiceEntry{
		Status:     serviceStatus(resp.Status, erroredTools, len(toolNames)),
		Tools:      outcome.Tools,
		DurationMS: outcome.Duration.Milliseconds(),
	}
	result.Summary.ServicesExecuted++
}

// serviceStatus derives the inner status from the worker's top-level
// status and the per-tool failure count.
func serviceStatus(workerStatus string, erroredTools, totalTools int) string {
	if erroredTools > 0 && erroredTools < totalTools {
		return ServicePartial
	}

	if workerStatus == analyzer.StatusNoIssues {
		return ServiceNoIssues
	}

	return ServiceSuccess
}

// normalizeIssue maps a raw tool issue to a normalized finding.
func normalizeIssue(tool, service string, issue analyzer.Issue) Finding {
	category := issue.Category
	if category == "" {
		category = registry.Category(tool)
	}

	return Finding{
		Tool:     tool,
		Service:  service,
		Severity: NormalizeSeverity(issue.Severity, issue.RuleID),
		Category: category,
		Message:  issue.Message,
		File:     issue.File,
		Line:     issue.Line,
		Column:   issue.Column,
		RuleID:   issue.RuleID,
	}
}

// sortFindings imposes the stable document order.
func sortFindings(findings []Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		a, b := findings[i], findings[j]

		switch {
		case a.Service != b.Service:
			return a.Service < b.Service
		case a.Tool != b.Tool:
			return a.Tool < b.Tool
		case a.File != b.File:
			return a.File < b.File
		case a.Line != b.Line:
			return a.Line < b.Line
		default:
			return a.RuleID < b.RuleID
		}
	})
}

// DeriveStatus maps the outcome set to the task's terminal status.
func DeriveStatus(in Input) task.Status {
	if in.Cancelled {
		return task.StatusCancelled
	}

	succeeded, errored := 0, 0

	for _, outcome := range in.Outcomes {
		switch {
		case outcome.Err != nil:
			errored++
		case outcome.Response != nil && outcome.Response.Status == analyzer.StatusError:
			errored++
		default:
			succeeded++
		}
	}

	switch {
	case errored == 0:
		return task.StatusCompleted
	case succeeded == 0:
		return task.StatusFailed
	default:
		return task.StatusPartialSuccess
	}
}

func emptyHistogram() map[string]int {
	histogram := make(map[string]int, len(severityLevels))
	for _, level := range severityLevels {
		histogram[level] = 0
	}

	return histogram
}
