package knowledgebase

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/weaviate/entities/models"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/suture-cli/internal/config"
)

func newTestClient(t *testing.T, className string) *Client {
	t.Helper()
	c, err := New(config.KnowledgeBaseConfig{
		Scheme:    "http",
		Host:      "localhost:8080",
		ClassName: className,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	return c
}

func TestNew_DefaultsClassName(t *testing.T) {
	c := newTestClient(t, "")
	assert.Equal(t, DefaultClassName, c.className)

	c = newTestClient(t, "TeamFailures")
	assert.Equal(t, "TeamFailures", c.className)
}

// graphqlData builds the shape Weaviate returns from a Get query.
func graphqlData(className string, rows ...interface{}) map[string]models.JSONObject {
	return map[string]models.JSONObject{
		"Get": map[string]interface{}{
			className: rows,
		},
	}
}

func kbRow(fix, diff string, succeeded bool, certainty float64) map[string]interface{} {
	return map[string]interface{}{
		"errorMessage":   "cannot read properties of null",
		"fixDescription": fix,
		"patchDiff":      diff,
		"succeeded":      succeeded,
		"_additional":    map[string]interface{}{"certainty": certainty},
	}
}

func TestParseResults(t *testing.T) {
	c := newTestClient(t, "")

	data := graphqlData(DefaultClassName,
		kbRow("guard the form lookup before calling submit", "--- a/src/login.js", true, 0.91),
		kbRow("retry the request", "", true, 0.82),
	)

	issues, err := c.parseResults(data)
	require.NoError(t, err)
	require.Len(t, issues, 2)

	assert.Equal(t, "guard the form lookup before calling submit", issues[0].Fix)
	assert.Equal(t, "--- a/src/login.js", issues[0].Diff)
	assert.InDelta(t, 0.91, issues[0].Similarity, 1e-9)
	assert.Empty(t, issues[1].Diff)
}

func TestParseResults_SkipsFailedFixes(t *testing.T) {
	c := newTestClient(t, "")

	data := graphqlData(DefaultClassName,
		kbRow("this fix never verified", "", false, 0.95),
		kbRow("this one stuck", "", true, 0.70),
	)

	issues, err := c.parseResults(data)
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, "this one stuck", issues[0].Fix)
}

func TestParseResults_ToleratesMalformedShapes(t *testing.T) {
	c := newTestClient(t, "")

	// No Get envelope at all.
	issues, err := c.parseResults(map[string]models.JSONObject{})
	require.NoError(t, err)
	assert.Empty(t, issues)

	// Envelope present but the class key holds the wrong type.
	issues, err = c.parseResults(map[string]models.JSONObject{
		"Get": map[string]interface{}{DefaultClassName: "not-a-list"},
	})
	require.NoError(t, err)
	assert.Empty(t, issues)

	// Non-object rows are skipped, valid ones survive.
	data := graphqlData(DefaultClassName,
		"garbage",
		kbRow("valid entry", "", true, 0.8),
	)
	issues, err = c.parseResults(data)
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, "valid entry", issues[0].Fix)
}

func TestParseResults_MissingCertaintyLeavesZero(t *testing.T) {
	c := newTestClient(t, "")

	row := map[string]interface{}{
		"fixDescription": "no additional block",
		"succeeded":      true,
	}
	issues, err := c.parseResults(graphqlData(DefaultClassName, row))
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Zero(t, issues[0].Similarity)
}
