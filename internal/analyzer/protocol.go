package analyzer

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Wire message types shared by both directions.
const (
	// MessageTypePing is the lightweight health probe request.
	MessageTypePing = "ping"
	// MessageTypePong is the worker's reply to a ping.
	MessageTypePong = "pong"
	// MessageTypeKeepalive frames are ignored by the client and do not
	// count toward request deadlines.
	MessageTypeKeepalive = "keepalive"
	// MessageTypeResponse is the single reply to an analyze request.
	MessageTypeResponse = "analysis_result"
)

// Response status values reported by workers.
const (
	StatusSuccess  = "success"
	StatusNoIssues = "no_issues"
	StatusError    = "error"
)

// Request is the payload sent to an analyzer worker. Exactly one Response
// with a matching RequestID is expected per Request on a given channel.
type Request struct {
	Type       string            `json:"type"`
	RequestID  string            `json:"request_id"`
	Model      string            `json:"model"`
	AppNumber  int               `json:"app_number"`
	SourceDir  string            `json:"source_dir"`
	TargetURLs []string          `json:"target_urls,omitempty"`
	Tools      []string          `json:"tools"`
	Options    map[string]string `json:"options,omitempty"`
}

// Response is the single reply to an analyze request.
type Response struct {
	Type      string                `json:"type"`
	RequestID string                `json:"request_id"`
	Status    string                `json:"status"`
	Results   map[string]ToolResult `json:"results"`
	Error     string                `json:"error,omitempty"`
}

// ToolResult is the per-tool section of a worker response.
type ToolResult struct {
	Status string  `json:"status"`
	Issues []Issue `json:"issues,omitempty"`

	// Sarif carries an embedded SARIF artifact when the tool produced
	// one. The aggregator extracts it into a side file.
	Sarif json.RawMessage `json:"sarif,omitempty"`

	// Raw carries free-form tool output when no structured form exists.
	Raw json.RawMessage `json:"raw,omitempty"`
}

// Issue is a single raw finding as reported by a tool, before severity
// normalization.
type Issue struct {
	Severity string `json:"severity"`
	Category string `json:"category,omitempty"`
	Message  string `json:"message"`
	File     string `json:"file,omitempty"`
	Line     int    `json:"line,omitempty"`
	Column   int    `json:"column,omitempty"`
	RuleID   string `json:"rule_id,omitempty"`
}

// envelope is the minimal frame header read before full decoding, used to
// route keepalives and match request ids.
type envelope struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id"`
}

//go:embed response_schema.json
var responseSchemaJSON []byte

// validateResponse checks a raw response frame against the wire contract.
// A schema violation is a protocol error, not a remote error.
func validateResponse(raw []byte) error {
	schemaLoader := gojsonschema.NewBytesLoader(responseSchemaJSON)
	documentLoader := gojsonschema.NewBytesLoader(raw)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("validate response frame: %w", err)
	}

	if result.Valid() {
		return nil
	}

	violations := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		violations = append(violations, desc.String())
	}

	return fmt.Errorf("response frame violates contract: %s", strings.Join(violations, "; "))
}
