// Package patchgen asks the language model for a unified-diff patch that
// addresses a diagnosis. Output is validated for diff structure before it
// is handed to the patcher; malformed output is retried with stricter
// instructions a bounded number of times.
package patchgen

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/suture-cli/api/schemas"
	"github.com/xkilldash9x/suture-cli/internal/llmutil"
)

const maxGenerationAttempts = 3

// Generator produces candidate patches.
type Generator struct {
	logger      *zap.Logger
	llm         schemas.LLMClient
	projectRoot string
	model       string
}

// New creates a Generator rooted at projectRoot. model is recorded in
// patch metadata for later attribution.
func New(logger *zap.Logger, llm schemas.LLMClient, projectRoot, model string) *Generator {
	return &Generator{
		logger:      logger.Named("patchgen"),
		llm:         llm,
		projectRoot: projectRoot,
		model:       model,
	}
}

// Generate produces a patch for the diagnosed failure. The diagnosis must
// localize a target file; without one there is nothing to patch.
func (g *Generator) Generate(ctx context.Context, diag *schemas.DiagnosisReport) (*schemas.Patch, error) {
	if diag == nil {
		return nil, fmt.Errorf("diagnosis is required")
	}
	if diag.Localization.File == "" {
		return nil, fmt.Errorf("diagnosis does not localize a target file")
	}

	targetPath := diag.Localization.File
	if !filepath.IsAbs(targetPath) {
		targetPath = filepath.Join(g.projectRoot, targetPath)
	}
	source, err := os.ReadFile(targetPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read target file %s: %w", targetPath, err)
	}

	basePrompt := g.buildPrompt(diag, string(source))

	var lastErr error
	for attempt := 1; attempt <= maxGenerationAttempts; attempt++ {
		prompt := basePrompt
		if attempt > 1 {
			prompt += fmt.Sprintf("\n\nYour previous patch was rejected: %v. Output ONLY the unified diff, starting with '--- a/' and containing at least one '@@' hunk header.", lastErr)
		}

		response, err := g.llm.Generate(ctx, schemas.GenerationRequest{
			SystemPrompt: patchSystemPrompt,
			UserPrompt:   prompt,
			Tier:         schemas.TierPowerful,
			Options:      schemas.GenerationOptions{Temperature: 0.2},
		})
		if err != nil {
			return nil, fmt.Errorf("LLM generation failed: %w", err)
		}

		diff := llmutil.CleanCodeOutput(response)
		if err := validateDiff(diff); err != nil {
			lastErr = err
			g.logger.Debug("Generated patch failed validation",
				zap.Int("attempt", attempt),
				zap.Error(err))
			continue
		}

		added, removed := countChanges(diff)
		patch := &schemas.Patch{
			ID:          uuid.New().String(),
			DiagnosisID: diag.ID,
			TargetFile:  diag.Localization.File,
			Diff:        diff,
			Description: diag.SuggestedFix,
			Metadata: schemas.PatchMetadata{
				LinesAdded:   added,
				LinesRemoved: removed,
				Model:        g.model,
			},
		}
		g.logger.Info("Generated patch",
			zap.String("patch_id", patch.ID),
			zap.String("target", patch.TargetFile),
			zap.Int("lines_added", added),
			zap.Int("lines_removed", removed))
		return patch, nil
	}
	return nil, fmt.Errorf("no valid patch after %d attempts: %w", maxGenerationAttempts, lastErr)
}

const patchSystemPrompt = `You are an expert web application developer. Generate a minimal unified-diff patch that fixes the diagnosed bug. Change only what the fix requires. Output only the diff.`

func (g *Generator) buildPrompt(diag *schemas.DiagnosisReport, source string) string {
	var b strings.Builder
	fileForDiff := filepath.ToSlash(diag.Localization.File)

	fmt.Fprintf(&b, "Fix the following bug.\n\n")
	fmt.Fprintf(&b, "**Root cause:** %s\n", diag.RootCause)
	fmt.Fprintf(&b, "**Category:** %s\n", diag.Category)
	if diag.SuggestedFix != "" {
		fmt.Fprintf(&b, "**Suggested fix:** %s\n", diag.SuggestedFix)
	}
	if diag.Localization.StartLine > 0 {
		fmt.Fprintf(&b, "**Blamed region:** lines %d-%d\n", diag.Localization.StartLine, diag.Localization.EndLine)
	}
	for i, issue := range diag.SimilarIssues {
		if issue.Diff == "" {
			continue
		}
		fmt.Fprintf(&b, "\n**Fix from a similar past failure (%d, similarity %.2f):**\n```diff\n%s\n```\n", i+1, issue.Similarity, issue.Diff)
	}

	fmt.Fprintf(&b, "\n**Current contents of %s:**\n```\n%s\n```\n", fileForDiff, source)
	fmt.Fprintf(&b, `
**Output format:** a unified diff against %s, exactly:
--- a/%s
+++ b/%s
@@ -<start>,<count> +<start>,<count> @@
<hunk lines>

No prose, no markdown fences.`, fileForDiff, fileForDiff, fileForDiff)
	return b.String()
}

// validateDiff enforces the minimum structure the patcher needs: both file
// headers and at least one hunk.
func validateDiff(diff string) error {
	if !strings.Contains(diff, "--- a/") && !strings.Contains(diff, "--- ") {
		return fmt.Errorf("missing '---' original-file header")
	}
	if !strings.Contains(diff, "+++ ") {
		return fmt.Errorf("missing '+++' new-file header")
	}
	if !strings.Contains(diff, "@@") {
		return fmt.Errorf("missing '@@' hunk header")
	}
	return nil
}

// countChanges tallies added and removed lines across all hunks.
func countChanges(diff string) (added, removed int) {
	for _, line := range strings.Split(diff, "\n") {
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
		case strings.HasPrefix(line, "+"):
			added++
		case strings.HasPrefix(line, "-"):
			removed++
		}
	}
	return added, removed
}
