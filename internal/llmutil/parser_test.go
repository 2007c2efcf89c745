package llmutil_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/suture-cli/internal/llmutil"
)

type diagnosisPayload struct {
	RootCause  string  `json:"root_cause"`
	Confidence float64 `json:"confidence"`
}

func TestParseJSONResponse_Bare(t *testing.T) {
	got, err := llmutil.ParseJSONResponse[diagnosisPayload](`{"root_cause": "null deref", "confidence": 0.9}`)
	require.NoError(t, err)
	assert.Equal(t, "null deref", got.RootCause)
	assert.Equal(t, 0.9, got.Confidence)
}

func TestParseJSONResponse_MarkdownFenced(t *testing.T) {
	response := "```json\n{\"root_cause\": \"stale selector\", \"confidence\": 0.8}\n```"
	got, err := llmutil.ParseJSONResponse[diagnosisPayload](response)
	require.NoError(t, err)
	assert.Equal(t, "stale selector", got.RootCause)
}

func TestParseJSONResponse_ConversationalWrapper(t *testing.T) {
	response := `Sure! Here is the analysis you asked for:
{"root_cause": "missing guard", "confidence": 0.7}
Let me know if you need anything else.`
	got, err := llmutil.ParseJSONResponse[diagnosisPayload](response)
	require.NoError(t, err)
	assert.Equal(t, "missing guard", got.RootCause)
}

func TestParseJSONResponse_Garbage(t *testing.T) {
	_, err := llmutil.ParseJSONResponse[diagnosisPayload]("I could not determine the cause.")
	assert.Error(t, err)
}

func TestCleanCodeOutput_FencedDiff(t *testing.T) {
	raw := "```diff\n--- a/app.js\n+++ b/app.js\n@@ -1,1 +1,2 @@\n+const x = 1;\n const y = 2;\n```"
	cleaned := llmutil.CleanCodeOutput(raw)
	assert.True(t, strings.HasPrefix(cleaned, "--- a/app.js"))
	assert.True(t, strings.HasSuffix(cleaned, "\n"), "patches must keep a trailing newline")
	assert.NotContains(t, cleaned, "```")
}

func TestCleanCodeOutput_Unfenced(t *testing.T) {
	raw := "--- a/app.js\n+++ b/app.js\n@@ -1 +1 @@\n-old\n+new"
	assert.Equal(t, raw, llmutil.CleanCodeOutput(raw))
}
