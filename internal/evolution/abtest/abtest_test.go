package abtest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/suture-cli/api/schemas"
	"github.com/xkilldash9x/suture-cli/internal/config"
)

// fakeRunner returns scripted results keyed by configuration ID.
type fakeRunner struct {
	results map[string]TrialResult
	err     map[string]error
	delay   time.Duration
	calls   int
}

func (f *fakeRunner) RunTrial(_ context.Context, cfg schemas.PromptConfig, _ schemas.TestSpecification) (TrialResult, error) {
	f.calls++
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if err := f.err[cfg.ID]; err != nil {
		return TrialResult{}, err
	}
	return f.results[cfg.ID], nil
}

func testCases(n int) []schemas.TestSpecification {
	cases := make([]schemas.TestSpecification, n)
	for i := range cases {
		cases[i] = schemas.TestSpecification{ID: string(rune('a' + i)), TargetURL: "http://localhost:3000/"}
	}
	return cases
}

func TestCompare_ScheduleSize(t *testing.T) {
	runner := &fakeRunner{results: map[string]TrialResult{
		"ctl": {Passed: true, Iterations: 1},
		"var": {Passed: true, Iterations: 1},
	}}
	cmp := New(config.ABTestConfig{RunsPerCase: 3}, zaptest.NewLogger(t), runner, 1)

	res, err := cmp.Compare(context.Background(),
		schemas.PromptConfig{ID: "ctl"}, schemas.PromptConfig{ID: "var"}, testCases(2))
	require.NoError(t, err)

	// 2 cases x 3 runs x 2 sides.
	assert.Equal(t, 12, runner.calls)
	assert.Equal(t, 12, res.TotalSamples)
	assert.Equal(t, 6, res.ControlMetrics.Samples)
	assert.Equal(t, 6, res.VariantMetrics.Samples)
}

func TestCompare_NoCases(t *testing.T) {
	cmp := New(config.ABTestConfig{}, zaptest.NewLogger(t), &fakeRunner{}, 1)
	_, err := cmp.Compare(context.Background(), schemas.PromptConfig{ID: "ctl"}, schemas.PromptConfig{ID: "var"}, nil)
	assert.Error(t, err)
}

func TestCompare_EqualPassRatesFallBackToIterations(t *testing.T) {
	runner := &fakeRunner{results: map[string]TrialResult{
		"ctl": {Passed: true, Iterations: 3},
		"var": {Passed: true, Iterations: 1},
	}}
	cmp := New(config.ABTestConfig{RunsPerCase: 5}, zaptest.NewLogger(t), runner, 1)

	res, err := cmp.Compare(context.Background(),
		schemas.PromptConfig{ID: "ctl"}, schemas.PromptConfig{ID: "var"}, testCases(2))
	require.NoError(t, err)
	assert.Equal(t, schemas.WinnerVariant, res.Winner,
		"iterations break the tie even though equal pass rates carry no evidence of a difference")
	assert.Contains(t, res.Recommendation, "fewer iterations")
}

func TestCompare_IdenticalSidesTie(t *testing.T) {
	runner := &fakeRunner{results: map[string]TrialResult{
		"ctl": {Passed: true, Iterations: 2},
		"var": {Passed: true, Iterations: 2},
	}}
	cmp := New(config.ABTestConfig{RunsPerCase: 4}, zaptest.NewLogger(t), runner, 1)

	res, err := cmp.Compare(context.Background(),
		schemas.PromptConfig{ID: "ctl"}, schemas.PromptConfig{ID: "var"}, testCases(1))
	require.NoError(t, err)
	assert.Equal(t, schemas.WinnerTie, res.Winner)
}

func TestCompare_SignificantDifferencePicksWinner(t *testing.T) {
	runner := &fakeRunner{results: map[string]TrialResult{
		"ctl": {Passed: false, Iterations: 3},
		"var": {Passed: true, Iterations: 1},
	}}
	cmp := New(config.ABTestConfig{RunsPerCase: 10, MinConfidence: 0.95}, zaptest.NewLogger(t), runner, 1)

	res, err := cmp.Compare(context.Background(),
		schemas.PromptConfig{ID: "ctl"}, schemas.PromptConfig{ID: "var"}, testCases(2))
	require.NoError(t, err)
	assert.Equal(t, schemas.WinnerVariant, res.Winner)
	assert.Equal(t, maxConfidence, res.Confidence)
}

func TestCompare_InsignificantDifferenceIsTie(t *testing.T) {
	// Control 2/3 vs variant 3/3: a one-pass gap at three samples per
	// side lands near 0.86 confidence, under the 0.95 bar.
	perSide := map[string]int{}
	runner := &scriptedRunner{fn: func(cfg schemas.PromptConfig) (TrialResult, error) {
		perSide[cfg.ID]++
		if cfg.ID == "ctl" && perSide[cfg.ID] == 1 {
			return TrialResult{Passed: false, Iterations: 1}, nil
		}
		return TrialResult{Passed: true, Iterations: 1}, nil
	}}
	cmp := New(config.ABTestConfig{RunsPerCase: 3, MinConfidence: 0.95}, zaptest.NewLogger(t), runner, 1)

	res, err := cmp.Compare(context.Background(),
		schemas.PromptConfig{ID: "ctl"}, schemas.PromptConfig{ID: "var"}, testCases(1))
	require.NoError(t, err)
	assert.Equal(t, schemas.WinnerTie, res.Winner)
	assert.Contains(t, res.Recommendation, "more data needed")
}

type scriptedRunner struct {
	fn func(cfg schemas.PromptConfig) (TrialResult, error)
}

func (s *scriptedRunner) RunTrial(_ context.Context, cfg schemas.PromptConfig, _ schemas.TestSpecification) (TrialResult, error) {
	return s.fn(cfg)
}

func TestCompare_TrialErrorCountsAsFailure(t *testing.T) {
	runner := &fakeRunner{
		results: map[string]TrialResult{"ctl": {Passed: true, Iterations: 1}},
		err:     map[string]error{"var": errors.New("browser crashed")},
	}
	cmp := New(config.ABTestConfig{RunsPerCase: 10, MinConfidence: 0.95}, zaptest.NewLogger(t), runner, 1)

	res, err := cmp.Compare(context.Background(),
		schemas.PromptConfig{ID: "ctl"}, schemas.PromptConfig{ID: "var"}, testCases(2))
	require.NoError(t, err)
	assert.Equal(t, schemas.WinnerControl, res.Winner)
	assert.Equal(t, 0.0, res.VariantMetrics.PassRate)
	assert.Equal(t, 20, res.VariantMetrics.Samples, "errored trials still count toward their side")
}

func TestCompare_TimeBudgetTruncates(t *testing.T) {
	runner := &fakeRunner{
		results: map[string]TrialResult{
			"ctl": {Passed: true, Iterations: 1},
			"var": {Passed: true, Iterations: 1},
		},
		delay: 10 * time.Millisecond,
	}
	cmp := New(config.ABTestConfig{RunsPerCase: 50, MaxDuration: 80 * time.Millisecond}, zaptest.NewLogger(t), runner, 1)

	res, err := cmp.Compare(context.Background(),
		schemas.PromptConfig{ID: "ctl"}, schemas.PromptConfig{ID: "var"}, testCases(2))
	require.NoError(t, err)
	assert.Less(t, res.TotalSamples, 200, "budget must cut the schedule short")
	assert.Contains(t, res.Recommendation, "truncated")
}

func TestCompare_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cmp := New(config.ABTestConfig{RunsPerCase: 1}, zaptest.NewLogger(t), &fakeRunner{}, 1)
	_, err := cmp.Compare(ctx, schemas.PromptConfig{ID: "ctl"}, schemas.PromptConfig{ID: "var"}, testCases(1))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCompare_ShuffleInterleavesSides(t *testing.T) {
	var order []bool
	runner := &scriptedRunner{fn: func(cfg schemas.PromptConfig) (TrialResult, error) {
		order = append(order, cfg.ID == "var")
		return TrialResult{Passed: true, Iterations: 1}, nil
	}}
	cmp := New(config.ABTestConfig{RunsPerCase: 10, Shuffle: true}, zaptest.NewLogger(t), runner, 42)

	_, err := cmp.Compare(context.Background(),
		schemas.PromptConfig{ID: "ctl"}, schemas.PromptConfig{ID: "var"}, testCases(1))
	require.NoError(t, err)

	// An unshuffled schedule strictly alternates; a shuffled one must not.
	alternating := true
	for i := 1; i < len(order); i++ {
		if order[i] == order[i-1] {
			alternating = false
			break
		}
	}
	assert.False(t, alternating, "shuffled schedule should not keep the deterministic interleave")
}

func TestTwoProportionConfidence(t *testing.T) {
	assert.Equal(t, 0.0, twoProportionConfidence(0, 0, 5, 10), "empty side has no evidence")
	assert.Equal(t, 0.5, twoProportionConfidence(10, 10, 10, 10), "all agreed, equal rates sit at the z=0 baseline")
	assert.Equal(t, maxConfidence, twoProportionConfidence(10, 10, 0, 10), "maximal disagreement hits the cap")

	// One-sided statistic: Phi(z), not 2*Phi(z)-1. For 2/3 vs 3/3 the
	// pooled z is ~1.095, so the confidence lands at Phi(1.095) ~ 0.863.
	assert.InDelta(t, 0.8633, twoProportionConfidence(2, 3, 3, 3), 0.001)

	small := twoProportionConfidence(3, 5, 4, 5)
	large := twoProportionConfidence(30, 50, 40, 50)
	assert.Less(t, small, large, "same rate gap with more samples is stronger evidence")
	assert.LessOrEqual(t, large, maxConfidence)
}
