package improver_test

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/suture-cli/api/schemas"
	"github.com/xkilldash9x/suture-cli/internal/evolution/improver"
)

func newLog(t *testing.T) *improver.VersionLog {
	t.Helper()
	vl, err := improver.NewVersionLog(filepath.Join(t.TempDir(), "prompts.json"))
	require.NoError(t, err)
	return vl
}

func failureRows(agent string, category schemas.FailureCategory, frequency int) []schemas.FailureAnalysis {
	return []schemas.FailureAnalysis{{
		Agent:     agent,
		Category:  category,
		Message:   "example failure",
		Frequency: frequency,
	}}
}

func TestImprove_NoRelevantFailures(t *testing.T) {
	vl := newLog(t)
	im := improver.New(zaptest.NewLogger(t), vl)
	current := schemas.PromptConfig{Agent: "diagnostician", Version: 1, Prompt: "You are a diagnostician."}

	// Tool errors are infrastructure failures, not prompt-addressable.
	rev, err := im.Improve("diagnostician", current, failureRows("diagnostician", schemas.CategoryToolError, 20))
	require.NoError(t, err)
	assert.Equal(t, 1.0, rev.Confidence)
	assert.Equal(t, current.Prompt, rev.Config.Prompt, "prompt text stays untouched when there is nothing to fix")
	assert.Equal(t, 2, rev.Config.Version, "every invocation appends a new version")
	assert.Empty(t, rev.Issues)

	latest, ok := vl.Latest("diagnostician")
	require.True(t, ok)
	assert.Equal(t, 2, latest.Version)
}

func TestImprove_BelowOccurrenceThreshold(t *testing.T) {
	im := improver.New(zaptest.NewLogger(t), newLog(t))
	current := schemas.PromptConfig{Agent: "diagnostician", Version: 1, Prompt: "base"}

	rev, err := im.Improve("diagnostician", current, failureRows("diagnostician", schemas.CategoryParseError, 2))
	require.NoError(t, err)
	assert.Equal(t, 1.0, rev.Confidence)
	assert.Equal(t, "base", rev.Config.Prompt, "two occurrences are noise, prompt text unchanged")
	assert.Equal(t, 2, rev.Config.Version)
}

func TestImprove_AppendsCorrectiveBlock(t *testing.T) {
	vl := newLog(t)
	im := improver.New(zaptest.NewLogger(t), vl)
	current := schemas.PromptConfig{Agent: "diagnostician", Version: 1, Prompt: "You diagnose failures."}

	rev, err := im.Improve("diagnostician", current, failureRows("diagnostician", schemas.CategoryParseError, 4))
	require.NoError(t, err)
	assert.Equal(t, 2, rev.Config.Version)
	assert.Contains(t, rev.Config.Prompt, "## corrective: malformed-output")
	assert.Contains(t, rev.Config.Prompt, "single valid JSON object")
	assert.Equal(t, []string{"malformed-output"}, rev.Improved)

	latest, ok := vl.Latest("diagnostician")
	require.True(t, ok)
	assert.Equal(t, rev.Config.Prompt, latest.Prompt, "revision is persisted to the version log")
}

func TestImprove_IdempotentBlocks(t *testing.T) {
	im := improver.New(zaptest.NewLogger(t), newLog(t))
	current := schemas.PromptConfig{Agent: "diagnostician", Version: 1, Prompt: "base"}
	rows := failureRows("diagnostician", schemas.CategoryParseError, 6)

	first, err := im.Improve("diagnostician", current, rows)
	require.NoError(t, err)
	second, err := im.Improve("diagnostician", first.Config, rows)
	require.NoError(t, err)

	assert.Empty(t, second.Improved, "block already present, nothing newly addressed")
	assert.Equal(t, 1, strings.Count(second.Config.Prompt, "## corrective: malformed-output"),
		"re-running over the same history must not duplicate the block")
	assert.Equal(t, 3, second.Config.Version, "the re-run still records its own version")
}

func TestImprove_BlocksAppendInNameOrder(t *testing.T) {
	im := improver.New(zaptest.NewLogger(t), newLog(t))
	current := schemas.PromptConfig{Agent: "diagnostician", Version: 1, Prompt: "base"}
	rows := []schemas.FailureAnalysis{
		{Agent: "diagnostician", Category: schemas.CategoryDataError, Message: "null deref", Frequency: 4},
		{Agent: "diagnostician", Category: schemas.CategoryParseError, Message: "bad json", Frequency: 4},
	}

	rev, err := im.Improve("diagnostician", current, rows)
	require.NoError(t, err)
	assert.Equal(t, []string{"malformed-output", "null-handling"}, rev.Improved)

	parseIdx := strings.Index(rev.Config.Prompt, "## corrective: malformed-output")
	dataIdx := strings.Index(rev.Config.Prompt, "## corrective: null-handling")
	require.GreaterOrEqual(t, parseIdx, 0)
	require.GreaterOrEqual(t, dataIdx, 0)
	assert.Less(t, parseIdx, dataIdx,
		"blocks land in issue-name order regardless of row order")
}

func TestImprove_IgnoresOtherAgents(t *testing.T) {
	im := improver.New(zaptest.NewLogger(t), newLog(t))
	current := schemas.PromptConfig{Agent: "diagnostician", Version: 1, Prompt: "base"}

	rev, err := im.Improve("diagnostician", current, failureRows("runner", schemas.CategoryParseError, 10))
	require.NoError(t, err)
	assert.Empty(t, rev.Issues)
	assert.Equal(t, 1.0, rev.Confidence)
}

func TestImprove_AgentMismatchRejected(t *testing.T) {
	im := improver.New(zaptest.NewLogger(t), newLog(t))
	current := schemas.PromptConfig{Agent: "runner", Version: 1, Prompt: "base"}

	_, err := im.Improve("diagnostician", current, nil)
	assert.Error(t, err)
}

func TestImprove_ConfidenceScaling(t *testing.T) {
	tests := []struct {
		name      string
		frequency int
		want      float64
	}{
		// 0.5 base + sample bonus + 0.3 full coverage (one issue, newly added).
		{"small sample", 3, 0.8},
		{"medium sample", 5, 0.9},
		{"large sample", 10, 1.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			im := improver.New(zaptest.NewLogger(t), newLog(t))
			current := schemas.PromptConfig{Agent: "diagnostician", Version: 1, Prompt: "base"}
			rev, err := im.Improve("diagnostician", current, failureRows("diagnostician", schemas.CategoryParseError, tt.frequency))
			require.NoError(t, err)
			assert.InDelta(t, tt.want, rev.Confidence, 1e-9)
		})
	}
}

func TestVersionLog_AppendOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.json")
	vl, err := improver.NewVersionLog(path)
	require.NoError(t, err)

	require.NoError(t, vl.Append(schemas.PromptConfig{Agent: "diagnostician", Version: 1, Prompt: "v1"}))
	require.NoError(t, vl.Append(schemas.PromptConfig{Agent: "diagnostician", Version: 2, Prompt: "v2"}))

	err = vl.Append(schemas.PromptConfig{Agent: "diagnostician", Version: 2, Prompt: "dup"})
	assert.Error(t, err, "versions must strictly increase per agent")
	err = vl.Append(schemas.PromptConfig{Agent: "diagnostician", Version: 1, Prompt: "old"})
	assert.Error(t, err)

	// Other agents version independently.
	require.NoError(t, vl.Append(schemas.PromptConfig{Agent: "patchgen", Version: 1, Prompt: "p1"}))

	reloaded, err := improver.NewVersionLog(path)
	require.NoError(t, err)
	latest, ok := reloaded.Latest("diagnostician")
	require.True(t, ok)
	assert.Equal(t, 2, latest.Version)
	assert.Len(t, reloaded.History("diagnostician"), 2)
}
