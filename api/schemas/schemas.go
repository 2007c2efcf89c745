// Package schemas defines the shared data model and the collaborator
// contracts used across the suture-cli repair loop and its
// self-improvement subsystem.
package schemas

import (
	"encoding/json"
	"time"
)

// -- Test Execution --

// TestStep is a single ordered step of a browser test: an action to
// perform, an optional expected outcome to assert, and a per-step timeout.
type TestStep struct {
	Action   string        `json:"action" yaml:"action"`
	Expected string        `json:"expected,omitempty" yaml:"expected,omitempty"`
	Timeout  time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// TestSpecification describes one test case against a target application.
// It is immutable for the duration of a run; the URL is rewritten per
// target environment before execution.
type TestSpecification struct {
	ID        string     `json:"id" yaml:"id"`
	TargetURL string     `json:"target_url" yaml:"target_url"`
	Steps     []TestStep `json:"steps" yaml:"steps"`
}

// ErrorDetail captures the raw error surfaced by a failed stage or test.
type ErrorDetail struct {
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
	Type    string `json:"type,omitempty"`
}

// ExecutionContext is the browser-side evidence collected when a test fails.
type ExecutionContext struct {
	URL         string   `json:"url"`
	Screenshot  []byte   `json:"screenshot,omitempty"`
	DOMSnapshot string   `json:"dom_snapshot,omitempty"`
	ConsoleLogs []string `json:"console_logs,omitempty"`
}

// FailureReport is produced exactly once per failed test attempt.
// StepIndex of -1 denotes a non-step (global) failure such as a
// navigation error before the first step ran.
type FailureReport struct {
	ID        string           `json:"id"`
	TestID    string           `json:"test_id"`
	Timestamp time.Time        `json:"timestamp"`
	StepIndex int              `json:"step_index"`
	Error     ErrorDetail      `json:"error"`
	Context   ExecutionContext `json:"context"`
}

// TestResult is the outcome of one execution of a TestSpecification.
type TestResult struct {
	Passed   bool           `json:"passed"`
	Duration time.Duration  `json:"duration"`
	Failure  *FailureReport `json:"failure,omitempty"`
}

// -- Diagnosis --

// FailureCategory is one of the fixed causal buckets used uniformly by
// the classifier, the pattern detector and reporting.
type FailureCategory string

const (
	CategoryToolError      FailureCategory = "TOOL_ERROR"
	CategoryRetrievalError FailureCategory = "RETRIEVAL_ERROR"
	CategoryPromptDrift    FailureCategory = "PROMPT_DRIFT"
	CategoryParseError     FailureCategory = "PARSE_ERROR"
	CategoryTimeout        FailureCategory = "TIMEOUT"
	CategoryRateLimit      FailureCategory = "RATE_LIMIT"
	CategoryDataError      FailureCategory = "DATA_ERROR"
	CategoryUnknown        FailureCategory = "UNKNOWN"
)

// Localization points at the code region a diagnosis blames.
type Localization struct {
	File      string `json:"file"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
	Snippet   string `json:"snippet,omitempty"`
}

// SimilarIssue is a prior failure retrieved from the knowledge base,
// together with the fix that resolved it.
type SimilarIssue struct {
	Similarity float64 `json:"similarity"`
	Fix        string  `json:"fix"`
	Diff       string  `json:"diff,omitempty"`
}

// DiagnosisReport is the structured root-cause record derived from a
// FailureReport. Immutable once produced.
type DiagnosisReport struct {
	ID            string          `json:"id"`
	FailureID     string          `json:"failure_id"`
	Category      FailureCategory `json:"category"`
	RootCause     string          `json:"root_cause"`
	Localization  Localization    `json:"localization"`
	SimilarIssues []SimilarIssue  `json:"similar_issues,omitempty"`
	SuggestedFix  string          `json:"suggested_fix"`
	Confidence    float64         `json:"confidence"` // 0.0 to 1.0
}

// -- Patching --

// PatchMetadata carries bookkeeping about a generated patch.
type PatchMetadata struct {
	LinesAdded   int    `json:"lines_added"`
	LinesRemoved int    `json:"lines_removed"`
	Model        string `json:"model"`
}

// Patch is a single-file unified-diff candidate fix.
type Patch struct {
	ID          string        `json:"id"`
	DiagnosisID string        `json:"diagnosis_id"`
	TargetFile  string        `json:"target_file"`
	Diff        string        `json:"diff"`
	Description string        `json:"description"`
	Metadata    PatchMetadata `json:"metadata"`
}

// VerificationResult is the terminal record for one patch attempt:
// apply + syntax gate + (re)deploy + retest + keep-or-rollback.
type VerificationResult struct {
	Success   bool        `json:"success"`
	DeployRef string      `json:"deploy_ref,omitempty"`
	Retest    *TestResult `json:"retest,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// -- Tracing --

// TraceOperation is one node of the per-run operation tree. Input and
// output snapshots are size-bounded before recording. Failed leaves are
// the unit the failure classifier operates on.
type TraceOperation struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Agent     string            `json:"agent"`
	StartTime time.Time         `json:"start_time"`
	EndTime   time.Time         `json:"end_time"`
	Duration  time.Duration     `json:"duration"`
	Input     json.RawMessage   `json:"input,omitempty"`
	Output    json.RawMessage   `json:"output,omitempty"`
	Error     *ErrorDetail      `json:"error,omitempty"`
	Children  []*TraceOperation `json:"children,omitempty"`
}

// -- Self-Improvement --

// ActionKind classifies a corrective action.
type ActionKind string

const (
	ActionRetryPolicy   ActionKind = "RETRY_POLICY"
	ActionWorkflow      ActionKind = "WORKFLOW"
	ActionConfiguration ActionKind = "CONFIGURATION"
	ActionPrompt        ActionKind = "PROMPT"
)

// Priority ranks corrective actions for human review.
type Priority string

const (
	PriorityHigh   Priority = "HIGH"
	PriorityMedium Priority = "MEDIUM"
	PriorityLow    Priority = "LOW"
)

// ActionResult records the measured outcome of an applied corrective action.
type ActionResult struct {
	Success        bool    `json:"success"`
	ImprovementPct float64 `json:"improvement_pct"`
	Notes          string  `json:"notes,omitempty"`
}

// CorrectiveAction is a proposed, typed remediation tied to a failure
// category.
type CorrectiveAction struct {
	ID             string        `json:"id"`
	Kind           ActionKind    `json:"kind"`
	Target         string        `json:"target"`
	Description    string        `json:"description"`
	Priority       Priority      `json:"priority"`
	ExpectedImpact string        `json:"expected_impact"`
	Applied        bool          `json:"applied"`
	Result         *ActionResult `json:"result,omitempty"`
}

// FailureAnalysis is one aggregated row of the failure history. Records
// with identical (agent, category, message) are merged by incrementing
// Frequency rather than duplicated.
type FailureAnalysis struct {
	TraceID     string             `json:"trace_id"`
	OperationID string             `json:"operation_id"`
	Operation   string             `json:"operation"`
	Agent       string             `json:"agent"`
	Category    FailureCategory    `json:"category"`
	Message     string             `json:"message"`
	Detail      string             `json:"detail,omitempty"`
	Frequency   int                `json:"frequency"`
	FirstSeen   time.Time          `json:"first_seen"`
	LastSeen    time.Time          `json:"last_seen"`
	Actions     []CorrectiveAction `json:"actions,omitempty"`
}

// PromptConfig is one immutable version of an agent's prompt and
// parameters. Versions accumulate per agent; a revision is always a new
// record with an incremented version, never an in-place edit.
type PromptConfig struct {
	ID         string                 `json:"id"`
	Name       string                 `json:"name"`
	Agent      string                 `json:"agent"`
	Version    int                    `json:"version"`
	Prompt     string                 `json:"prompt"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}

// Winner names the side an A/B comparison favors.
type Winner string

const (
	WinnerControl Winner = "control"
	WinnerVariant Winner = "variant"
	WinnerTie     Winner = "tie"
)

// SideMetrics summarizes all trials executed under one configuration.
type SideMetrics struct {
	PassRate      float64       `json:"pass_rate"`
	AvgIterations float64       `json:"avg_iterations"`
	AvgDuration   time.Duration `json:"avg_duration"`
	Samples       int           `json:"samples"`
}

// ABTestResult is the outcome of a head-to-head comparison between two
// agent configurations.
type ABTestResult struct {
	ID             string       `json:"id"`
	Control        PromptConfig `json:"control"`
	Variant        PromptConfig `json:"variant"`
	StartTime      time.Time    `json:"start_time"`
	EndTime        time.Time    `json:"end_time"`
	ControlMetrics SideMetrics  `json:"control_metrics"`
	VariantMetrics SideMetrics  `json:"variant_metrics"`
	TotalSamples   int          `json:"total_samples"`
	Winner         Winner       `json:"winner"`
	Confidence     float64      `json:"confidence"` // 0.0 to 0.99
	Recommendation string       `json:"recommendation"`
}

// -- Fix Loop --

// FixOutcome is the per-test result of the bounded repair loop. Patches
// holds every patch that was generated during the loop, kept or rolled
// back, for audit and reporting.
type FixOutcome struct {
	TestID     string               `json:"test_id"`
	Success    bool                 `json:"success"`
	Iterations int                  `json:"iterations"`
	Aborted    bool                 `json:"aborted"` // unrecoverable input, not budget exhaustion
	Patches    []Patch              `json:"patches"`
	Results    []VerificationResult `json:"results"`
	Diagnoses  []DiagnosisReport    `json:"diagnoses,omitempty"`
	Trace      *TraceOperation      `json:"-"`
}

// Deployment is the reachable result of a commit+push+wait cycle.
type Deployment struct {
	Ref string `json:"ref"` // commit hash
	URL string `json:"url"` // endpoint to retest against
}
