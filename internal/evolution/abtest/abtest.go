// Package abtest compares two prompt configurations head to head: the
// same test cases run under both, interleaved in a shuffled schedule, and
// the pass rates are compared with a two-proportion z-test. A winner is
// declared only when the evidence clears the configured confidence
// threshold; everything else is a tie.
package abtest

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/suture-cli/api/schemas"
	"github.com/xkilldash9x/suture-cli/internal/config"
)

// TrialResult is one test execution under one configuration.
type TrialResult struct {
	Passed     bool
	Iterations int
	Duration   time.Duration
}

// TrialRunner executes one test case under a given prompt configuration.
//
//go:generate mockery --name TrialRunner --output ../../mocks --outpkg mocks
type TrialRunner interface {
	RunTrial(ctx context.Context, cfg schemas.PromptConfig, testCase schemas.TestSpecification) (TrialResult, error)
}

// trial is one scheduled execution.
type trial struct {
	testCase  schemas.TestSpecification
	isVariant bool
}

// Comparator runs A/B comparisons.
type Comparator struct {
	cfg    config.ABTestConfig
	log    *zap.Logger
	runner TrialRunner
	rng    *rand.Rand
}

// New creates a Comparator. seed fixes the schedule shuffle for
// reproducible runs; pass time-based entropy in production.
func New(cfg config.ABTestConfig, logger *zap.Logger, runner TrialRunner, seed int64) *Comparator {
	return &Comparator{
		cfg:    cfg,
		log:    logger.Named("evolution.abtest"),
		runner: runner,
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// Compare runs every test case runsPerCase times under each configuration
// and judges the outcome. The schedule interleaves both sides in shuffled
// order so environmental drift cannot systematically favor one. A
// max-duration budget truncates the schedule mid-run; the verdict is then
// computed from the trials that did finish.
func (c *Comparator) Compare(ctx context.Context, control, variant schemas.PromptConfig, cases []schemas.TestSpecification) (*schemas.ABTestResult, error) {
	if len(cases) == 0 {
		return nil, fmt.Errorf("at least one test case is required")
	}
	runsPerCase := c.cfg.RunsPerCase
	if runsPerCase <= 0 {
		runsPerCase = 1
	}

	schedule := c.buildSchedule(cases, runsPerCase)
	c.log.Info("Starting A/B comparison",
		zap.String("control", control.ID),
		zap.String("variant", variant.ID),
		zap.Int("scheduled_trials", len(schedule)))

	start := time.Now()
	deadline := time.Time{}
	if c.cfg.MaxDuration > 0 {
		deadline = start.Add(c.cfg.MaxDuration)
	}

	var controlTrials, variantTrials []TrialResult
	truncated := false
	for _, t := range schedule {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			truncated = true
			break
		}

		cfg := control
		if t.isVariant {
			cfg = variant
		}
		res, err := c.runner.RunTrial(ctx, cfg, t.testCase)
		if err != nil {
			// A trial that could not execute is a failed trial for its
			// side; excluding it would bias toward the flakier config.
			c.log.Warn("Trial execution errored, counting as failure",
				zap.String("test_id", t.testCase.ID),
				zap.Bool("variant", t.isVariant),
				zap.Error(err))
			res = TrialResult{Passed: false}
		}
		if t.isVariant {
			variantTrials = append(variantTrials, res)
		} else {
			controlTrials = append(controlTrials, res)
		}
	}

	result := c.judge(control, variant, controlTrials, variantTrials, start, truncated)
	c.log.Info("A/B comparison complete",
		zap.String("winner", string(result.Winner)),
		zap.Float64("confidence", result.Confidence),
		zap.Int("samples", result.TotalSamples),
		zap.Bool("truncated", truncated))
	return result, nil
}

// buildSchedule creates runsPerCase trials per case per side and shuffles
// them with Fisher-Yates.
func (c *Comparator) buildSchedule(cases []schemas.TestSpecification, runsPerCase int) []trial {
	schedule := make([]trial, 0, len(cases)*runsPerCase*2)
	for _, tc := range cases {
		for i := 0; i < runsPerCase; i++ {
			schedule = append(schedule, trial{testCase: tc, isVariant: false})
			schedule = append(schedule, trial{testCase: tc, isVariant: true})
		}
	}
	if c.cfg.Shuffle {
		for i := len(schedule) - 1; i > 0; i-- {
			j := c.rng.Intn(i + 1)
			schedule[i], schedule[j] = schedule[j], schedule[i]
		}
	}
	return schedule
}

func (c *Comparator) judge(control, variant schemas.PromptConfig, controlTrials, variantTrials []TrialResult, start time.Time, truncated bool) *schemas.ABTestResult {
	cm := summarize(controlTrials)
	vm := summarize(variantTrials)

	result := &schemas.ABTestResult{
		ID:             uuid.New().String(),
		Control:        control,
		Variant:        variant,
		StartTime:      start.UTC(),
		EndTime:        time.Now().UTC(),
		ControlMetrics: cm,
		VariantMetrics: vm,
		TotalSamples:   cm.Samples + vm.Samples,
		Winner:         schemas.WinnerTie,
	}

	if cm.Samples == 0 || vm.Samples == 0 {
		result.Recommendation = "insufficient samples on at least one side; collect more data"
		if truncated {
			result.Recommendation += " (schedule truncated by time budget)"
		}
		return result
	}

	confidence := twoProportionConfidence(
		passCount(controlTrials), cm.Samples,
		passCount(variantTrials), vm.Samples,
	)
	result.Confidence = confidence

	minConfidence := c.cfg.MinConfidence
	if minConfidence <= 0 {
		minConfidence = 0.95
	}

	switch {
	case cm.PassRate == vm.PassRate:
		// Identical pass rates: fall back to repair effort. Fewer
		// iterations to green is the better configuration.
		switch {
		case vm.AvgIterations < cm.AvgIterations:
			result.Winner = schemas.WinnerVariant
			result.Recommendation = "equal pass rates; variant reaches green in fewer iterations"
		case cm.AvgIterations < vm.AvgIterations:
			result.Winner = schemas.WinnerControl
			result.Recommendation = "equal pass rates; control reaches green in fewer iterations"
		default:
			result.Recommendation = "no measurable difference between configurations"
		}
	case confidence < minConfidence:
		result.Recommendation = fmt.Sprintf("observed difference is not significant (confidence %.2f < %.2f); more data needed", confidence, minConfidence)
	case vm.PassRate > cm.PassRate:
		result.Winner = schemas.WinnerVariant
		result.Recommendation = fmt.Sprintf("variant passes %.0f%% vs control %.0f%%; promote variant", vm.PassRate*100, cm.PassRate*100)
	default:
		result.Winner = schemas.WinnerControl
		result.Recommendation = fmt.Sprintf("control passes %.0f%% vs variant %.0f%%; keep control", cm.PassRate*100, vm.PassRate*100)
	}

	if truncated {
		result.Recommendation += " (schedule truncated by time budget)"
	}
	return result
}

func summarize(trials []TrialResult) schemas.SideMetrics {
	m := schemas.SideMetrics{Samples: len(trials)}
	if len(trials) == 0 {
		return m
	}
	var passed, iterations int
	var total time.Duration
	for _, t := range trials {
		if t.Passed {
			passed++
		}
		iterations += t.Iterations
		total += t.Duration
	}
	m.PassRate = float64(passed) / float64(len(trials))
	m.AvgIterations = float64(iterations) / float64(len(trials))
	m.AvgDuration = total / time.Duration(len(trials))
	return m
}

func passCount(trials []TrialResult) int {
	n := 0
	for _, t := range trials {
		if t.Passed {
			n++
		}
	}
	return n
}
