package aggregate_test

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GrabowMar/ThesisAppRework-sub000/internal/aggregate"
	"github.com/GrabowMar/ThesisAppRework-sub000/internal/analyzer"
	"github.com/GrabowMar/ThesisAppRework-sub000/internal/task"
)

var testWindow = struct {
	start, end time.Time
}{
	start: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	end:   time.Date(2026, 8, 1, 12, 5, 0, 0, time.UTC),
}

func unifiedTask() *task.Task {
	return &task.Task{
		TaskID:          "task_aaa",
		TargetModel:     "anthropic_claude-3-5-sonnet",
		TargetAppNumber: 1,
		AnalysisType:    task.TypeUnified,
		Source:          task.SourceCLI,
	}
}

func staticResponse(results map[string]analyzer.ToolResult) *analyzer.Response {
	return &analyzer.Response{
		Type:      analyzer.MessageTypeResponse,
		RequestID: "req-1",
		Status:    analyzer.StatusSuccess,
		Results:   results,
	}
}

func TestBuild_PartialAcrossServices(t *testing.T) {
	t.Parallel()

	in := aggregate.Input{
		Task:        unifiedTask(),
		StartedAt:   testWindow.start,
		CompletedAt: testWindow.end,
		Outcomes: []aggregate.Outcome{
			{
				Service: analyzer.ServiceStatic,
				Tools:   []string{"bandit"},
				Response: staticResponse(map[string]analyzer.ToolResult{
					"bandit": {
						Status: analyzer.StatusSuccess,
						Issues: []analyzer.Issue{
							{Severity: "medium", Message: "hardcoded password", RuleID: "B105", File: "app.py", Line: 3},
						},
					},
				}),
			},
			{
				Service: analyzer.ServicePerformance,
				Tools:   []string{"locust"},
				Err:     errors.New("remote_error: locust crashed"),
			},
			{
				Service: analyzer.ServiceDynamic,
				Tools:   []string{"curl"},
				Response: &analyzer.Response{
					Type:      analyzer.MessageTypeResponse,
					RequestID: "req-2",
					Status:    analyzer.StatusNoIssues,
					Results:   map[string]analyzer.ToolResult{"curl": {Status: analyzer.StatusNoIssues}},
				},
			},
		},
	}

	result := aggregate.Build(in)

	assert.Equal(t, 2, result.Summary.ServicesExecuted)
	assert.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors["performance"], "locust crashed")
	assert.Equal(t, aggregate.ServiceError, result.Services["performance"].Status)
	assert.Equal(t, aggregate.ServiceNoIssues, result.Services["dynamic"].Status)
	assert.Equal(t, aggregate.ServiceSkipped, result.Services["ai"].Status)
	assert.Equal(t, "no tools selected", result.Services["ai"].Reason)

	assert.Equal(t, 1, result.Summary.FindingsByService["static"])
	assert.NotContains(t, result.Summary.FindingsByService, "performance")

	// B-prefixed rule ids are security findings whatever bandit said.
	require.Len(t, result.Findings, 1)
	assert.Equal(t, aggregate.SeverityHigh, result.Findings[0].Severity)
	assert.Equal(t, "security", result.Findings[0].Category)

	assert.Equal(t, task.StatusPartialSuccess, aggregate.DeriveStatus(in))
}

func TestBuild_WhitespaceRuleDemotedToInfo(t *testing.T) {
	t.Parallel()

	tk := unifiedTask()
	tk.AnalysisType = task.TypeStatic

	in := aggregate.Input{
		Task:        tk,
		StartedAt:   testWindow.start,
		CompletedAt: testWindow.end,
		Outcomes: []aggregate.Outcome{
			{
				Service: analyzer.ServiceStatic,
				Tools:   []string{"ruff"},
				Response: staticResponse(map[string]analyzer.ToolResult{
					"ruff": {
						Status: analyzer.StatusSuccess,
						Issues: []analyzer.Issue{
							{Severity: "error", Message: "trailing whitespace", RuleID: "W291", File: "main.py", Line: 8},
						},
					},
				}),
			},
		},
	}

	result := aggregate.Build(in)

	require.Len(t, result.Findings, 1)
	assert.Equal(t, aggregate.SeverityInfo, result.Findings[0].Severity)
	assert.Equal(t, 1, result.Summary.SeverityCounts[aggregate.SeverityInfo])
	assert.Zero(t, result.Summary.SeverityCounts[aggregate.SeverityHigh])
}

func TestBuild_PartialWithinService(t *testing.T) {
	t.Parallel()

	tk := unifiedTask()
	tk.AnalysisType = task.TypeStatic

	in := aggregate.Input{
		Task:        tk,
		StartedAt:   testWindow.start,
		CompletedAt: testWindow.end,
		Outcomes: []aggregate.Outcome{
			{
				Service: analyzer.ServiceStatic,
				Tools:   []string{"bandit", "ruff"},
				Response: staticResponse(map[string]analyzer.ToolResult{
					"bandit": {Status: analyzer.StatusSuccess},
					"ruff":   {Status: analyzer.StatusError},
				}),
			},
		},
	}

	result := aggregate.Build(in)

	assert.Equal(t, aggregate.ServicePartial, result.Services["static"].Status)
	assert.Equal(t, 1, result.Summary.ServicesExecuted)
	assert.Equal(t, task.StatusCompleted, aggregate.DeriveStatus(in))
}

func TestBuild_DeterministicBytes(t *testing.T) {
	t.Parallel()

	outcomes := []aggregate.Outcome{
		{
			Service: analyzer.ServiceStatic,
			Tools:   []string{"bandit", "ruff"},
			Response: staticResponse(map[string]analyzer.ToolResult{
				"ruff": {
					Status: analyzer.StatusSuccess,
					Issues: []analyzer.Issue{
						{Severity: "warning", Message: "unused import", RuleID: "F401", File: "b.py", Line: 1},
						{Severity: "warning", Message: "line too long", RuleID: "E501", File: "a.py", Line: 9},
					},
				},
				"bandit": {Status: analyzer.StatusNoIssues},
			}),
		},
		{
			Service: analyzer.ServiceDynamic,
			Tools:   []string{"curl"},
			Response: &analyzer.Response{
				Type:      analyzer.MessageTypeResponse,
				RequestID: "req-9",
				Status:    analyzer.StatusSuccess,
				Results:   map[string]analyzer.ToolResult{"curl": {Status: analyzer.StatusSuccess}},
			},
		},
	}

	reversed := []aggregate.Outcome{outcomes[1], outcomes[0]}

	build := func(o []aggregate.Outcome) []byte {
		in := aggregate.Input{
			Task:        unifiedTask(),
			StartedAt:   testWindow.start,
			CompletedAt: testWindow.end,
			Outcomes:    o,
		}

		raw, err := json.Marshal(aggregate.Build(in))
		require.NoError(t, err)

		return raw
	}

	assert.Equal(t, build(outcomes), build(reversed), "completion order must not leak into the document")
}

func TestBuild_FindingsSorted(t *testing.T) {
	t.Parallel()

	tk := unifiedTask()
	tk.AnalysisType = task.TypeStatic

	in := aggregate.Input{
		Task:        tk,
		StartedAt:   testWindow.start,
		CompletedAt: testWindow.end,
		Outcomes: []aggregate.Outcome{
			{
				Service: analyzer.ServiceStatic,
				Tools:   []string{"ruff"},
				Response: staticResponse(map[string]analyzer.ToolResult{
					"ruff": {
						Status: analyzer.StatusSuccess,
						Issues: []analyzer.Issue{
							{Severity: "warning", Message: "later line", RuleID: "E501", File: "a.py", Line: 20},
							{Severity: "warning", Message: "other file", RuleID: "E501", File: "b.py", Line: 1},
							{Severity: "warning", Message: "earlier line", RuleID: "E501", File: "a.py", Line: 2},
						},
					},
				}),
			},
		},
	}

	result := aggregate.Build(in)

	require.Len(t, result.Findings, 3)
	assert.Equal(t, "earlier line", result.Findings[0].Message)
	assert.Equal(t, "later line", result.Findings[1].Message)
	assert.Equal(t, "other file", result.Findings[2].Message)
}

func TestExtractArtifacts_SarifAlwaysExtracted(t *testing.T) {
	t.Parallel()

	sarif := json.RawMessage(`{"version":"2.1.0","runs":[]}`)

	tk := unifiedTask()
	tk.AnalysisType = task.TypeStatic

	in := aggregate.Input{
		Task:        tk,
		StartedAt:   testWindow.start,
		CompletedAt: testWindow.end,
		Outcomes: []aggregate.Outcome{
			{
				Service: analyzer.ServiceStatic,
				Tools:   []string{"bandit"},
				Response: staticResponse(map[string]analyzer.ToolResult{
					"bandit": {Status: analyzer.StatusSuccess, Sarif: sarif},
				}),
			},
		},
	}

	result := aggregate.Build(in)
	artifacts := aggregate.ExtractArtifacts(result, 0)

	require.Len(t, artifacts, 1)
	assert.Equal(t, "static_security_bandit.sarif.json", artifacts[0].Name)
	assert.Equal(t, []byte(sarif), artifacts[0].Content, "side file carries the original artifact")

	entry := result.Tools["bandit"]

	assert.Equal(t, "sarif/static_security_bandit.sarif.json", entry.ArtifactRef)
	assert.Nil(t, entry.Sarif, "inline artifact is gone from the document")

	raw, err := json.Marshal(result)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "2.1.0")
}

func TestExtractArtifacts_RawObeysThreshold(t *testing.T) {
	t.Parallel()

	small := json.RawMessage(`"short"`)
	big := json.RawMessage(`"` + strings.Repeat("verbose tool output ", 4) + `"`)

	tk := unifiedTask()
	tk.AnalysisType = task.TypeStatic

	in := aggregate.Input{
		Task:        tk,
		StartedAt:   testWindow.start,
		CompletedAt: testWindow.end,
		Outcomes: []aggregate.Outcome{
			{
				Service: analyzer.ServiceStatic,
				Tools:   []string{"pylint", "vulture"},
				Response: staticResponse(map[string]analyzer.ToolResult{
					"pylint":  {Status: analyzer.StatusSuccess, Raw: small},
					"vulture": {Status: analyzer.StatusSuccess, Raw: big},
				}),
			},
		},
	}

	result := aggregate.Build(in)
	artifacts := aggregate.ExtractArtifacts(result, 32)

	require.Len(t, artifacts, 1)
	assert.Equal(t, "static_lint_vulture.sarif.json", artifacts[0].Name)
	assert.NotNil(t, result.Tools["pylint"].Raw, "small raw output stays inline")
	assert.Empty(t, result.Tools["pylint"].ArtifactRef)
}

func TestDeriveStatus(t *testing.T) {
	t.Parallel()

	ok := aggregate.Outcome{
		Service:  analyzer.ServiceStatic,
		Response: staticResponse(map[string]analyzer.ToolResult{}),
	}
	failed := aggregate.Outcome{
		Service: analyzer.ServiceDynamic,
		Err:     errors.New("unreachable"),
	}

	cases := []struct {
		name      string
		in        aggregate.Input
		wantState task.Status
	}{
		{"all success", aggregate.Input{Outcomes: []aggregate.Outcome{ok}}, task.StatusCompleted},
		{"mixed", aggregate.Input{Outcomes: []aggregate.Outcome{ok, failed}}, task.StatusPartialSuccess},
		{"all failed", aggregate.Input{Outcomes: []aggregate.Outcome{failed}}, task.StatusFailed},
		{"cancel wins", aggregate.Input{Cancelled: true, Outcomes: []aggregate.Outcome{ok}}, task.StatusCancelled},
		{"nothing attempted", aggregate.Input{}, task.StatusCompleted},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tc.wantState, aggregate.DeriveStatus(tc.in))
		})
	}
}

func TestNormalizeSeverity(t *testing.T) {
	t.Parallel()

	cases := []struct {
		native, rule, want string
	}{
		{"error", "W291", aggregate.SeverityInfo},
		{"warning", "eol-last", aggregate.SeverityInfo},
		{"info", "F821", aggregate.SeverityHigh},
		{"low", "B603", aggregate.SeverityHigh},
		{"critical", "", aggregate.SeverityHigh},
		{"warning", "E501", aggregate.SeverityMedium},
		{"note", "", aggregate.SeverityInfo},
		{"bizarre", "X999", aggregate.SeverityMedium},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, aggregate.NormalizeSeverity(tc.native, tc.rule), "%s/%s", tc.native, tc.rule)
	}
}
