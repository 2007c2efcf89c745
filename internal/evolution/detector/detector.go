// Package detector matches aggregated failure history against named
// patterns and proposes typed corrective actions for the ones that recur
// often enough to be systemic rather than flaky.
package detector

import (
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/suture-cli/api/schemas"
)

// Criterion is one predicate of a failure pattern. Exactly one of the
// kind-specific fields is set; a pattern matches a row only when every
// criterion does.
type Criterion struct {
	Kind CriterionKind

	// MessageRegex and OperationRegex are compiled once at registration.
	MessageRegex   *regexp.Regexp
	OperationRegex *regexp.Regexp
	Agent          string
	Window         time.Duration // rows older than LastSeen-Window do not match
}

// CriterionKind discriminates the Criterion union.
type CriterionKind string

const (
	KindMessageRegex   CriterionKind = "message_regex"
	KindOperationRegex CriterionKind = "operation_regex"
	KindAgentEquals    CriterionKind = "agent_equals"
	KindTimeWindow     CriterionKind = "time_window"
)

// MessageMatches builds a message-regex criterion; the expression must
// compile.
func MessageMatches(expr string) Criterion {
	return Criterion{Kind: KindMessageRegex, MessageRegex: regexp.MustCompile(expr)}
}

// OperationMatches builds an operation-name criterion.
func OperationMatches(expr string) Criterion {
	return Criterion{Kind: KindOperationRegex, OperationRegex: regexp.MustCompile(expr)}
}

// AgentEquals builds an exact-agent criterion.
func AgentEquals(agent string) Criterion {
	return Criterion{Kind: KindAgentEquals, Agent: agent}
}

// Within builds a recency criterion.
func Within(window time.Duration) Criterion {
	return Criterion{Kind: KindTimeWindow, Window: window}
}

func (c Criterion) matches(row schemas.FailureAnalysis, now time.Time) bool {
	switch c.Kind {
	case KindMessageRegex:
		return c.MessageRegex.MatchString(row.Message)
	case KindOperationRegex:
		return c.OperationRegex.MatchString(row.Operation)
	case KindAgentEquals:
		return row.Agent == c.Agent
	case KindTimeWindow:
		return !row.LastSeen.Before(now.Add(-c.Window))
	default:
		return false
	}
}

// FailurePattern names a class of recurring failure and the category its
// corrective actions come from. MinOccurrences zero falls back to the
// detector-wide default.
type FailurePattern struct {
	Name           string
	Description    string
	Category       schemas.FailureCategory
	Criteria       []Criterion
	MinOccurrences int
	SuggestedFix   string
}

func (p FailurePattern) matches(row schemas.FailureAnalysis, now time.Time) bool {
	if row.Category != p.Category {
		return false
	}
	for _, c := range p.Criteria {
		if !c.matches(row, now) {
			return false
		}
	}
	return true
}

// Detection is one triggered pattern: the rows behind it, the agents
// they came from, and the proposed actions.
type Detection struct {
	Pattern        FailurePattern
	Occurrences    int
	AffectedAgents []string
	Rows           []schemas.FailureAnalysis
	Actions        []schemas.CorrectiveAction
}

// Detector evaluates patterns against history rows.
type Detector struct {
	log            *zap.Logger
	patterns       []FailurePattern
	minOccurrences int
}

// New creates a Detector with the default pattern registry. A pattern
// triggers once its combined row frequency reaches its own threshold, or
// minOccurrences for patterns that do not set one.
func New(logger *zap.Logger, minOccurrences int) *Detector {
	if minOccurrences <= 0 {
		minOccurrences = 3
	}
	return &Detector{
		log:            logger.Named("evolution.detector"),
		patterns:       DefaultPatterns(),
		minOccurrences: minOccurrences,
	}
}

// Register adds a custom pattern.
func (d *Detector) Register(p FailurePattern) {
	d.patterns = append(d.patterns, p)
}

// Detect matches every registered pattern against the rows and returns a
// detection per pattern whose summed frequency is at or above that
// pattern's threshold.
func (d *Detector) Detect(rows []schemas.FailureAnalysis) []Detection {
	now := time.Now().UTC()
	var out []Detection
	for _, p := range d.patterns {
		var matched []schemas.FailureAnalysis
		var agents []string
		seenAgents := map[string]bool{}
		total := 0
		for _, row := range rows {
			if p.matches(row, now) {
				matched = append(matched, row)
				total += row.Frequency
				if row.Agent != "" && !seenAgents[row.Agent] {
					seenAgents[row.Agent] = true
					agents = append(agents, row.Agent)
				}
			}
		}
		threshold := p.MinOccurrences
		if threshold <= 0 {
			threshold = d.minOccurrences
		}
		if total < threshold {
			continue
		}
		det := Detection{
			Pattern:        p,
			Occurrences:    total,
			AffectedAgents: agents,
			Rows:           matched,
			Actions:        ActionsFor(p.Category, total),
		}
		d.log.Info("Failure pattern detected",
			zap.String("pattern", p.Name),
			zap.Int("occurrences", total),
			zap.Strings("agents", agents),
			zap.Int("actions", len(det.Actions)))
		out = append(out, det)
	}
	return out
}

// DefaultPatterns is the built-in registry, one pattern per category the
// classifier emits plus a few sharper message-level variants.
func DefaultPatterns() []FailurePattern {
	return []FailurePattern{
		{
			Name:         "browser-session-instability",
			Description:  "browser sessions dropping mid-run",
			Category:     schemas.CategoryToolError,
			Criteria:     []Criterion{MessageMatches(`(?i)connection|session|browser|devtools`)},
			SuggestedFix: "retry browser operations with backoff and recycle the session on repeated drops",
		},
		{
			Name:         "upstream-rate-limiting",
			Description:  "provider quota exhausted",
			Category:     schemas.CategoryRateLimit,
			SuggestedFix: "lower llm.requests_per_minute below the provider quota",
		},
		{
			Name:         "slow-stage-timeouts",
			Description:  "stages exceeding their time budget",
			Category:     schemas.CategoryTimeout,
			SuggestedFix: "raise the stage timeout or split the slow stage",
		},
		{
			Name:         "knowledge-base-retrieval-failures",
			Description:  "similarity lookups returning errors",
			Category:     schemas.CategoryRetrievalError,
			Criteria:     []Criterion{OperationMatches(`(?i)retriev|knowledge|similar`)},
			SuggestedFix: "check knowledge base connectivity; diagnosis proceeds without prior-fix context meanwhile",
		},
		{
			Name:         "malformed-model-output",
			Description:  "model responses that fail to parse",
			Category:     schemas.CategoryParseError,
			SuggestedFix: "tighten prompt format instructions to demand bare JSON",
		},
		{
			Name:         "prompt-format-drift",
			Description:  "responses drifting from the expected schema",
			Category:     schemas.CategoryPromptDrift,
			SuggestedFix: "pin the response schema in the prompt with a worked example",
		},
		{
			Name:         "null-data-handling",
			Description:  "target application dereferencing null or undefined",
			Category:     schemas.CategoryDataError,
			Criteria:     []Criterion{MessageMatches(`(?i)cannot read properties|undefined|nil pointer`)},
			SuggestedFix: "prefer patches adding null and undefined guards at the blamed site",
		},
	}
}

// ActionsFor maps a failure category to its fixed corrective actions. The
// mapping is deterministic so repeated detections propose stable actions.
func ActionsFor(category schemas.FailureCategory, occurrences int) []schemas.CorrectiveAction {
	impact := fmt.Sprintf("addresses %d recorded failures", occurrences)
	mk := func(kind schemas.ActionKind, target, desc string, prio schemas.Priority) schemas.CorrectiveAction {
		return schemas.CorrectiveAction{
			ID:             uuid.New().String(),
			Kind:           kind,
			Target:         target,
			Description:    desc,
			Priority:       prio,
			ExpectedImpact: impact,
		}
	}

	switch category {
	case schemas.CategoryToolError:
		return []schemas.CorrectiveAction{
			mk(schemas.ActionRetryPolicy, "runner", "Retry browser operations with exponential backoff before surfacing a failure", schemas.PriorityHigh),
			mk(schemas.ActionConfiguration, "runner.action_timeout", "Increase the per-step action timeout", schemas.PriorityMedium),
		}
	case schemas.CategoryRateLimit:
		return []schemas.CorrectiveAction{
			mk(schemas.ActionConfiguration, "llm.requests_per_minute", "Lower the request rate to stay under the provider quota", schemas.PriorityHigh),
			mk(schemas.ActionRetryPolicy, "llmclient", "Honor Retry-After and back off on 429 responses", schemas.PriorityMedium),
		}
	case schemas.CategoryTimeout:
		return []schemas.CorrectiveAction{
			mk(schemas.ActionConfiguration, "fixloop.test_timeout", "Raise the stage timeout for the slow operation", schemas.PriorityMedium),
			mk(schemas.ActionWorkflow, "fixloop", "Split long stages so each unit finishes inside its budget", schemas.PriorityLow),
		}
	case schemas.CategoryRetrievalError:
		return []schemas.CorrectiveAction{
			mk(schemas.ActionConfiguration, "knowledge_base.min_similarity", "Lower the similarity threshold to widen retrieval", schemas.PriorityMedium),
			mk(schemas.ActionWorkflow, "diagnose", "Proceed without prior-fix context when retrieval returns nothing", schemas.PriorityMedium),
		}
	case schemas.CategoryParseError:
		return []schemas.CorrectiveAction{
			mk(schemas.ActionPrompt, "diagnose", "Tighten format instructions and demand bare JSON output", schemas.PriorityHigh),
			mk(schemas.ActionRetryPolicy, "llmutil", "Re-prompt with the parse error quoted back to the model", schemas.PriorityMedium),
		}
	case schemas.CategoryPromptDrift:
		return []schemas.CorrectiveAction{
			mk(schemas.ActionPrompt, "diagnose", "Add an explicit response schema and a worked example to the prompt", schemas.PriorityHigh),
			mk(schemas.ActionWorkflow, "llmclient", "Validate model output against the expected structure before use", schemas.PriorityMedium),
		}
	case schemas.CategoryDataError:
		return []schemas.CorrectiveAction{
			mk(schemas.ActionWorkflow, "patchgen", "Prefer patches that add null and undefined guards at the blamed site", schemas.PriorityHigh),
		}
	default:
		return []schemas.CorrectiveAction{
			mk(schemas.ActionWorkflow, "evolution", "Review the failure rows manually; no automated remediation is known", schemas.PriorityLow),
		}
	}
}
