package patchgen_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/suture-cli/api/schemas"
	"github.com/xkilldash9x/suture-cli/internal/mocks"
	"github.com/xkilldash9x/suture-cli/internal/patchgen"
)

const validDiff = `--- a/src/login.js
+++ b/src/login.js
@@ -1,3 +1,4 @@
 function handleLogin() {
-  form.submit();
+  const form = document.querySelector('#login');
+  if (form) form.submit();
 }
`

func projectWithFile(t *testing.T) (string, *schemas.DiagnosisReport) {
	t.Helper()
	root := t.TempDir()
	path := filepath.Join(root, "src", "login.js")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("function handleLogin() {\n  form.submit();\n}\n"), 0o644))

	return root, &schemas.DiagnosisReport{
		ID:           "diag-1",
		Category:     schemas.CategoryDataError,
		RootCause:    "submit is called on a missing element",
		SuggestedFix: "guard the form lookup before submitting",
		Localization: schemas.Localization{File: "src/login.js", StartLine: 2, EndLine: 2},
	}
}

func TestGenerate_HappyPath(t *testing.T) {
	root, diag := projectWithFile(t)

	llm := new(mocks.MockLLMClient)
	llm.On("Generate", mock.Anything, mock.MatchedBy(func(req schemas.GenerationRequest) bool {
		return req.Tier == schemas.TierPowerful &&
			strings.Contains(req.UserPrompt, "form.submit();") &&
			strings.Contains(req.UserPrompt, "src/login.js")
	})).Return(validDiff, nil).Once()

	g := patchgen.New(zaptest.NewLogger(t), llm, root, "gemini-2.5-pro")
	patch, err := g.Generate(context.Background(), diag)
	require.NoError(t, err)

	assert.Equal(t, "diag-1", patch.DiagnosisID)
	assert.Equal(t, "src/login.js", patch.TargetFile)
	assert.Equal(t, "guard the form lookup before submitting", patch.Description)
	assert.Equal(t, "gemini-2.5-pro", patch.Metadata.Model)
	assert.Equal(t, 2, patch.Metadata.LinesAdded)
	assert.Equal(t, 1, patch.Metadata.LinesRemoved)
	llm.AssertExpectations(t)
}

func TestGenerate_StripsMarkdownFence(t *testing.T) {
	root, diag := projectWithFile(t)

	llm := new(mocks.MockLLMClient)
	llm.On("Generate", mock.Anything, mock.Anything).
		Return("```diff\n"+validDiff+"```", nil).Once()

	g := patchgen.New(zaptest.NewLogger(t), llm, root, "gemini-2.5-pro")
	patch, err := g.Generate(context.Background(), diag)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(patch.Diff, "--- a/src/login.js"))
	assert.True(t, strings.HasSuffix(patch.Diff, "\n"), "fenced diffs are re-terminated for the patcher")
}

func TestGenerate_RetriesOnInvalidDiff(t *testing.T) {
	root, diag := projectWithFile(t)

	llm := new(mocks.MockLLMClient)
	llm.On("Generate", mock.Anything, mock.Anything).
		Return("Sure, here is what I would change: add a guard.", nil).Once()
	llm.On("Generate", mock.Anything, mock.MatchedBy(func(req schemas.GenerationRequest) bool {
		return strings.Contains(req.UserPrompt, "previous patch was rejected")
	})).Return(validDiff, nil).Once()

	g := patchgen.New(zaptest.NewLogger(t), llm, root, "gemini-2.5-pro")
	patch, err := g.Generate(context.Background(), diag)
	require.NoError(t, err)
	assert.NotEmpty(t, patch.Diff)
	llm.AssertExpectations(t)
}

func TestGenerate_GivesUpAfterMaxAttempts(t *testing.T) {
	root, diag := projectWithFile(t)

	llm := new(mocks.MockLLMClient)
	llm.On("Generate", mock.Anything, mock.Anything).Return("still not a diff", nil).Times(3)

	g := patchgen.New(zaptest.NewLogger(t), llm, root, "gemini-2.5-pro")
	_, err := g.Generate(context.Background(), diag)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no valid patch after 3 attempts")
	llm.AssertExpectations(t)
}

func TestGenerate_InputValidation(t *testing.T) {
	g := patchgen.New(zaptest.NewLogger(t), new(mocks.MockLLMClient), t.TempDir(), "m")

	_, err := g.Generate(context.Background(), nil)
	assert.Error(t, err)

	_, err = g.Generate(context.Background(), &schemas.DiagnosisReport{ID: "d"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not localize")

	_, err = g.Generate(context.Background(), &schemas.DiagnosisReport{
		ID:           "d",
		Localization: schemas.Localization{File: "missing/file.js"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read target file")
}

func TestGenerate_LLMErrorIsFatal(t *testing.T) {
	root, diag := projectWithFile(t)

	llm := new(mocks.MockLLMClient)
	llm.On("Generate", mock.Anything, mock.Anything).Return("", errors.New("upstream 500")).Once()

	g := patchgen.New(zaptest.NewLogger(t), llm, root, "gemini-2.5-pro")
	_, err := g.Generate(context.Background(), diag)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LLM generation failed")
}
