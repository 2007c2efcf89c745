package schemas

import (
	"context"
)

// -- Test Runner --

// TestRunner executes TestSpecifications against a live target. A single
// runner owns one browser-automation session; the session identifier is
// stable across calls until Close so that a live viewer can follow along
// and so the fix loop's retest step can reuse the same session without
// opening a second concurrent one.
//
//go:generate mockery --name TestRunner --output ../../internal/mocks --outpkg mocks
type TestRunner interface {
	// Init starts the underlying automation session.
	Init(ctx context.Context) error
	// RunTest executes the specification and reports pass/fail. A failed
	// run carries a FailureReport; a nil Failure alongside Passed=false
	// means the runner could not even characterize the failure.
	RunTest(ctx context.Context, spec TestSpecification) (*TestResult, error)
	// SessionID returns the live session identifier, stable until Close.
	SessionID() string
	// Close tears the session down.
	Close(ctx context.Context) error
}

// -- LLM Client --

// ModelTier selects a model by preference for speed versus capability.
type ModelTier string

const (
	TierFast     ModelTier = "fast"
	TierPowerful ModelTier = "powerful"
)

// GenerationOptions controls the text generation process.
type GenerationOptions struct {
	Temperature     float64 `json:"temperature"`
	ForceJSONFormat bool    `json:"force_json_format"`
	MaxTokens       int     `json:"max_tokens,omitempty"`
	TopP            float64 `json:"top_p,omitempty"`
	TopK            int     `json:"top_k,omitempty"`
}

// GenerationRequest is one complete request to the language model. The
// response is untrusted text: callers must extract and repair it before
// parsing it as structured data, retrying with stricter formatting
// instructions before giving up.
type GenerationRequest struct {
	SystemPrompt string            `json:"system_prompt"`
	UserPrompt   string            `json:"user_prompt"`
	Tier         ModelTier         `json:"tier"`
	Options      GenerationOptions `json:"options"`
}

// LLMClient abstracts the language-model provider.
//
//go:generate mockery --name LLMClient --output ../../internal/mocks --outpkg mocks
type LLMClient interface {
	Generate(ctx context.Context, req GenerationRequest) (string, error)
	Close() error
}

// -- Knowledge Base --

// KnowledgeBase is the vector-similarity store of past failures and
// fixes. It is strictly best-effort: implementations and callers degrade
// its unavailability to an empty result, never a hard failure.
//
//go:generate mockery --name KnowledgeBase --output ../../internal/mocks --outpkg mocks
type KnowledgeBase interface {
	// FindSimilar returns up to topK prior issues whose error text is at
	// least minSimilarity close to the given message and stack.
	FindSimilar(ctx context.Context, errorMessage, stack string, topK int, minSimilarity float64) ([]SimilarIssue, error)
	// StoreFailure records a failure together with the attempted patch and
	// whether it worked. Both outcomes are useful retrieval signal.
	StoreFailure(ctx context.Context, report FailureReport, patch Patch, success bool) (string, error)
}

// -- Deployment --

// Deployer commits and pushes a single patched file and waits, bounded,
// for the resulting deployment to become reachable.
//
//go:generate mockery --name Deployer --output ../../internal/mocks --outpkg mocks
type Deployer interface {
	Deploy(ctx context.Context, file string, message string) (*Deployment, error)
}

// -- Trace Sink --

// TraceSink accepts completed TraceOperation trees and free-form
// attribute bags for later querying. Its absence changes observability
// only, never functional behavior.
type TraceSink interface {
	RecordTrace(ctx context.Context, root *TraceOperation) error
	RecordAttributes(ctx context.Context, traceID string, attrs map[string]interface{}) error
}
