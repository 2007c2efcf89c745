// Package diagnose turns a FailureReport into a DiagnosisReport: a
// classified category, a blamed code region, and a suggested fix. The
// category comes from the deterministic classifier; the localization and
// fix suggestion come from the language model, informed by similar past
// failures retrieved from the knowledge base.
package diagnose

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/suture-cli/api/schemas"
	"github.com/xkilldash9x/suture-cli/internal/classifier"
	"github.com/xkilldash9x/suture-cli/internal/config"
	"github.com/xkilldash9x/suture-cli/internal/llmutil"
)

const maxParseAttempts = 3

// Diagnostician produces diagnosis reports. The knowledge base may be nil
// or unreachable; retrieval is advisory only.
type Diagnostician struct {
	logger       *zap.Logger
	llm          schemas.LLMClient
	kb           schemas.KnowledgeBase
	kbCfg        config.KnowledgeBaseConfig
	systemPrompt string
}

// New creates a Diagnostician. kb may be nil.
func New(logger *zap.Logger, llm schemas.LLMClient, kb schemas.KnowledgeBase, kbCfg config.KnowledgeBaseConfig) *Diagnostician {
	return &Diagnostician{
		logger:       logger.Named("diagnose"),
		llm:          llm,
		kb:           kb,
		kbCfg:        kbCfg,
		systemPrompt: diagnosisSystemPrompt,
	}
}

// WithSystemPrompt returns a copy using the given system prompt. The A/B
// comparator uses this to run trials under competing prompt versions.
func (d *Diagnostician) WithSystemPrompt(prompt string) *Diagnostician {
	copied := *d
	if prompt != "" {
		copied.systemPrompt = prompt
	}
	return &copied
}

// llmDiagnosis is the structured payload the model must return.
type llmDiagnosis struct {
	RootCause    string  `json:"root_cause"`
	File         string  `json:"file"`
	StartLine    int     `json:"start_line"`
	EndLine      int     `json:"end_line"`
	Snippet      string  `json:"snippet"`
	SuggestedFix string  `json:"suggested_fix"`
	Confidence   float64 `json:"confidence"`
}

// Diagnose classifies the failure, retrieves similar past issues, and asks
// the model to localize the fault. When the model cannot produce a usable
// answer the report degrades to classification-only with low confidence
// rather than failing the repair loop.
func (d *Diagnostician) Diagnose(ctx context.Context, report *schemas.FailureReport) (*schemas.DiagnosisReport, error) {
	if report == nil {
		return nil, fmt.Errorf("failure report is required")
	}

	category := classifier.Classify(report.Error.Message, report.Error.Type, "")
	d.logger.Info("Classified failure",
		zap.String("failure_id", report.ID),
		zap.String("category", string(category)))

	similar := d.findSimilar(ctx, report)

	diag := &schemas.DiagnosisReport{
		ID:            uuid.New().String(),
		FailureID:     report.ID,
		Category:      category,
		SimilarIssues: similar,
	}

	parsed, err := d.localize(ctx, report, category, similar)
	if err != nil {
		// Degraded mode: the loop can still attempt a patch from the
		// category and raw error alone.
		d.logger.Warn("LLM localization failed, emitting classification-only diagnosis",
			zap.String("failure_id", report.ID),
			zap.Error(err))
		diag.RootCause = report.Error.Message
		diag.Confidence = 0.1
		return diag, nil
	}

	diag.RootCause = parsed.RootCause
	diag.SuggestedFix = parsed.SuggestedFix
	diag.Confidence = clamp01(parsed.Confidence)
	diag.Localization = schemas.Localization{
		File:      parsed.File,
		StartLine: parsed.StartLine,
		EndLine:   parsed.EndLine,
		Snippet:   parsed.Snippet,
	}
	return diag, nil
}

// findSimilar queries the knowledge base. Errors degrade to no results.
func (d *Diagnostician) findSimilar(ctx context.Context, report *schemas.FailureReport) []schemas.SimilarIssue {
	if d.kb == nil || !d.kbCfg.Enabled {
		return nil
	}
	issues, err := d.kb.FindSimilar(ctx, report.Error.Message, report.Error.Stack, d.kbCfg.TopK, d.kbCfg.MinSimilarity)
	if err != nil {
		d.logger.Warn("Knowledge base lookup failed, continuing without prior fixes", zap.Error(err))
		return nil
	}
	return issues
}

// localize asks the model for the structured diagnosis, re-prompting with
// progressively stricter format instructions when parsing fails.
func (d *Diagnostician) localize(ctx context.Context, report *schemas.FailureReport, category schemas.FailureCategory, similar []schemas.SimilarIssue) (*llmDiagnosis, error) {
	basePrompt := d.buildPrompt(report, category, similar)

	var lastErr error
	for attempt := 1; attempt <= maxParseAttempts; attempt++ {
		prompt := basePrompt
		if attempt > 1 {
			prompt += fmt.Sprintf("\n\nYour previous response was not valid JSON (%v). Respond with ONLY the JSON object, no prose and no markdown fences.", lastErr)
		}

		response, err := d.llm.Generate(ctx, schemas.GenerationRequest{
			SystemPrompt: d.systemPrompt,
			UserPrompt:   prompt,
			Tier:         schemas.TierPowerful,
			Options: schemas.GenerationOptions{
				ForceJSONFormat: true,
				Temperature:     0.1,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("LLM generation failed: %w", err)
		}

		parsed, err := llmutil.ParseJSONResponse[llmDiagnosis](response)
		if err != nil {
			lastErr = err
			d.logger.Debug("Diagnosis response failed to parse",
				zap.Int("attempt", attempt),
				zap.Error(err))
			continue
		}
		if parsed.RootCause == "" {
			lastErr = fmt.Errorf("response missing root_cause")
			continue
		}
		return parsed, nil
	}
	return nil, fmt.Errorf("diagnosis unparseable after %d attempts: %w", maxParseAttempts, lastErr)
}

const diagnosisSystemPrompt = `You are an expert web application developer debugging a failed end-to-end test. Analyze the failure evidence, identify the root cause, localize it to a file and line range, and propose a fix. Respond strictly in the required JSON format.`

func (d *Diagnostician) buildPrompt(report *schemas.FailureReport, category schemas.FailureCategory, similar []schemas.SimilarIssue) string {
	var b strings.Builder

	fmt.Fprintf(&b, "A browser test failed at step %d.\n\n", report.StepIndex)
	fmt.Fprintf(&b, "**Failure category (pre-classified):** %s\n", category)
	fmt.Fprintf(&b, "**Error:** %s\n", report.Error.Message)
	if report.Error.Type != "" {
		fmt.Fprintf(&b, "**Error type:** %s\n", report.Error.Type)
	}
	if report.Error.Stack != "" {
		fmt.Fprintf(&b, "\n**Stack trace:**\n```\n%s\n```\n", report.Error.Stack)
	}
	if report.Context.URL != "" {
		fmt.Fprintf(&b, "\n**Page URL at failure:** %s\n", report.Context.URL)
	}
	if len(report.Context.ConsoleLogs) > 0 {
		fmt.Fprintf(&b, "\n**Console output:**\n```\n%s\n```\n", strings.Join(report.Context.ConsoleLogs, "\n"))
	}
	if report.Context.DOMSnapshot != "" {
		fmt.Fprintf(&b, "\n**DOM at failure (truncated):**\n```html\n%s\n```\n", truncate(report.Context.DOMSnapshot, 8000))
	}

	if len(similar) > 0 {
		b.WriteString("\n**Similar past failures and their fixes:**\n")
		for i, issue := range similar {
			fmt.Fprintf(&b, "%d. (similarity %.2f) %s\n", i+1, issue.Similarity, issue.Fix)
		}
	}

	b.WriteString(`
**Response format (strict JSON):**
{
  "root_cause": "concise description of the underlying bug",
  "file": "path/to/offending/file.js",
  "start_line": 10,
  "end_line": 14,
  "snippet": "the offending code, if identifiable",
  "suggested_fix": "how to fix it",
  "confidence": 0.9
}`)
	return b.String()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "\n<!-- truncated -->"
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
