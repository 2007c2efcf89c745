package runner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/suture-cli/api/schemas"
)

func TestBuildAction_Grammar(t *testing.T) {
	valid := []string{
		"navigate http://localhost:3000/login",
		"click button.submit",
		"type #email user@example.com",
		"type #search hello world with spaces",
		"submit form#login",
		"wait .spinner-done",
		"assert_visible .dashboard",
		"assert_text .results 3 results found",
		"eval window.appReady === true",
		"CLICK .upper-case-verb",
	}
	for _, action := range valid {
		t.Run(action, func(t *testing.T) {
			act, err := buildAction(schemas.TestStep{Action: action})
			require.NoError(t, err)
			assert.NotNil(t, act)
		})
	}
}

func TestBuildAction_Errors(t *testing.T) {
	invalid := []struct {
		step    schemas.TestStep
		wantErr string
	}{
		{schemas.TestStep{Action: "navigate"}, "requires a URL"},
		{schemas.TestStep{Action: "click"}, "requires a selector"},
		{schemas.TestStep{Action: "type #email"}, "requires a selector and text"},
		{schemas.TestStep{Action: "submit"}, "requires a selector"},
		{schemas.TestStep{Action: "wait"}, "requires a selector"},
		{schemas.TestStep{Action: "assert_visible"}, "requires a selector"},
		{schemas.TestStep{Action: "assert_text .results"}, "requires a selector and expected text"},
		{schemas.TestStep{Action: "eval"}, "requires an expression"},
		{schemas.TestStep{Action: "hover .menu"}, "unknown step action"},
		{schemas.TestStep{Action: ""}, "unknown step action"},
	}
	for _, tt := range invalid {
		t.Run(tt.step.Action, func(t *testing.T) {
			_, err := buildAction(tt.step)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestBuildAction_AssertTextFallsBackToExpected(t *testing.T) {
	act, err := buildAction(schemas.TestStep{
		Action:   "assert_text .results",
		Expected: "3 results found",
	})
	require.NoError(t, err)
	assert.NotNil(t, act)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcde...", truncate("abcdefgh", 5))
}
