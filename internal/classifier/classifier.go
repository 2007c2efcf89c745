// Package classifier maps raw failures onto the fixed causal taxonomy.
//
// Classification is a pure function over (error message, error type,
// operation name). The taxonomy is evaluated in a fixed priority order so
// that specific, high-confidence signals (explicit tool or network
// errors) are never masked by the broader PROMPT_DRIFT or UNKNOWN
// buckets. The order is part of the contract and is pinned by tests:
//
//	TOOL_ERROR -> RATE_LIMIT -> TIMEOUT -> RETRIEVAL_ERROR ->
//	PARSE_ERROR -> DATA_ERROR -> PROMPT_DRIFT -> UNKNOWN
package classifier

import (
	"strings"

	"github.com/xkilldash9x/suture-cli/api/schemas"
)

// signal groups the lowercase substrings that mark one category.
type signal struct {
	category schemas.FailureCategory
	match    func(msg, errType, operation string) bool
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// taxonomy is the ordered rule list. First match wins.
var taxonomy = []signal{
	{
		category: schemas.CategoryToolError,
		match: func(msg, errType, _ string) bool {
			return containsAny(msg,
				"connection", "econnrefused", "econnreset", "net::err",
				"socket", "websocket", "browser", "session closed",
				"session not found", "target closed", "devtools",
				"automation session",
			) || containsAny(errType, "connectionerror", "browsererror")
		},
	},
	{
		category: schemas.CategoryRateLimit,
		match: func(msg, _, _ string) bool {
			return containsAny(msg, "429", "rate limit", "rate-limit", "too many requests", "quota exceeded", "resource exhausted")
		},
	},
	{
		category: schemas.CategoryTimeout,
		match: func(msg, errType, _ string) bool {
			return containsAny(msg, "timeout", "timed out", "deadline exceeded") ||
				containsAny(errType, "timeouterror")
		},
	},
	{
		category: schemas.CategoryRetrievalError,
		match: func(_, _, operation string) bool {
			return containsAny(operation, "knowledge", "retriev", "find_similar", "similarity", "vector_search")
		},
	},
	{
		category: schemas.CategoryParseError,
		match: func(msg, errType, _ string) bool {
			return containsAny(msg, "json", "unmarshal", "syntax error", "parse", "unexpected token", "invalid character") ||
				containsAny(errType, "syntaxerror", "parseerror")
		},
	},
	{
		// Taxonomy extension for runtime data faults surfaced by the
		// target application (nil/undefined access).
		category: schemas.CategoryDataError,
		match: func(msg, errType, _ string) bool {
			return containsAny(msg,
				"cannot read properties", "cannot read property",
				"undefined is not", "null is not", "of undefined",
				"nil pointer", "nullpointer",
			) || containsAny(errType, "typeerror", "referenceerror")
		},
	},
	{
		category: schemas.CategoryPromptDrift,
		match: func(msg, _, operation string) bool {
			generating := containsAny(operation, "generate", "infer", "llm", "completion", "diagnose")
			formatMismatch := containsAny(msg, "format", "missing field", "missing required", "schema", "expected structure", "malformed response")
			return generating && formatMismatch
		},
	},
}

// Classify maps a raw failure to its causal category. Identical inputs
// always yield the identical category.
func Classify(message, errType, operation string) schemas.FailureCategory {
	msg := strings.ToLower(message)
	et := strings.ToLower(errType)
	op := strings.ToLower(operation)

	for _, rule := range taxonomy {
		if rule.match(msg, et, op) {
			return rule.category
		}
	}
	return schemas.CategoryUnknown
}

// ClassifyOperation is a convenience wrapper over a failed trace leaf.
func ClassifyOperation(op *schemas.TraceOperation) schemas.FailureCategory {
	if op == nil || op.Error == nil {
		return schemas.CategoryUnknown
	}
	return Classify(op.Error.Message, op.Error.Type, op.Name)
}
