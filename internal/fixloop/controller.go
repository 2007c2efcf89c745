// Package fixloop runs the bounded test-diagnose-patch-verify cycle for a
// single test specification. The loop is strictly sequential: each stage
// consumes the previous stage's output, and every stage invocation is
// recorded in the run's trace tree.
package fixloop

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/suture-cli/api/schemas"
	"github.com/xkilldash9x/suture-cli/internal/config"
	"github.com/xkilldash9x/suture-cli/internal/trace"
)

// Diagnostician turns a failure report into a diagnosis.
type Diagnostician interface {
	Diagnose(ctx context.Context, report *schemas.FailureReport) (*schemas.DiagnosisReport, error)
}

// PatchGenerator produces a candidate patch for a diagnosis.
type PatchGenerator interface {
	Generate(ctx context.Context, diag *schemas.DiagnosisReport) (*schemas.Patch, error)
}

// PatchApplier applies a patch and verifies it with a retest, rolling
// back on anything short of a verified pass.
type PatchApplier interface {
	ApplyAndVerify(ctx context.Context, patch *schemas.Patch, failure schemas.FailureReport, spec schemas.TestSpecification) (*schemas.VerificationResult, error)
}

// Controller owns one repair loop.
type Controller struct {
	cfg      config.FixLoopConfig
	log      *zap.Logger
	runner   schemas.TestRunner
	diag     Diagnostician
	patchgen PatchGenerator
	applier  PatchApplier
	sink     schemas.TraceSink
	traceMax int
}

// NewController wires the loop's stages together. sink may be nil.
func NewController(cfg config.FixLoopConfig, logger *zap.Logger, runner schemas.TestRunner, diag Diagnostician, patchgen PatchGenerator, applier PatchApplier, sink schemas.TraceSink, traceMaxSnapshotBytes int) *Controller {
	return &Controller{
		cfg:      cfg,
		log:      logger.Named("fixloop"),
		runner:   runner,
		diag:     diag,
		patchgen: patchgen,
		applier:  applier,
		sink:     sink,
		traceMax: traceMaxSnapshotBytes,
	}
}

// Fix runs the repair loop for one test.
//
// Iteration accounting: every test execution counts, including the retest
// embedded in a successful verification. A test that passes on its first
// run reports one iteration and zero patches; a failure fixed by the
// first patch reports two iterations and one patch.
//
// Aborted is set when a failed run carries no failure report or the
// runner itself errors: the loop cannot diagnose what it cannot see. A
// loop that simply runs out of budget reports Aborted false.
func (c *Controller) Fix(ctx context.Context, spec schemas.TestSpecification) (*schemas.FixOutcome, error) {
	maxIterations := c.cfg.MaxIterations
	if maxIterations <= 0 {
		maxIterations = 1
	}

	rec := trace.NewRecorder(c.log, "fix_loop", "fixloop", c.traceMax)
	outcome := &schemas.FixOutcome{TestID: spec.ID}
	defer func() {
		outcome.Trace = rec.Finish()
		c.flushTrace(ctx, outcome)
	}()

	c.log.Info("Starting repair loop",
		zap.String("test_id", spec.ID),
		zap.Int("max_iterations", maxIterations))

	for i := 1; i <= maxIterations; i++ {
		result, err := c.runTest(ctx, rec, spec)
		if err != nil {
			outcome.Iterations = i
			outcome.Aborted = true
			return outcome, fmt.Errorf("test execution failed on iteration %d: %w", i, err)
		}
		if result.Passed {
			outcome.Iterations = i
			outcome.Success = true
			c.log.Info("Test passing, repair loop done",
				zap.String("test_id", spec.ID),
				zap.Int("iterations", i),
				zap.Int("patches", len(outcome.Patches)))
			return outcome, nil
		}
		if result.Failure == nil {
			outcome.Iterations = i
			outcome.Aborted = true
			c.log.Error("Test failed without a failure report, aborting",
				zap.String("test_id", spec.ID))
			return outcome, nil
		}
		outcome.Iterations = i
		failure := *result.Failure

		diag, err := c.diagnose(ctx, rec, &failure)
		if err != nil {
			outcome.Aborted = true
			return outcome, fmt.Errorf("diagnosis failed on iteration %d: %w", i, err)
		}
		outcome.Diagnoses = append(outcome.Diagnoses, *diag)

		patch, err := c.generate(ctx, rec, diag)
		if err != nil {
			// No patch this round. Spend the next iteration re-running the
			// test; flaky failures heal, persistent ones get a fresh
			// diagnosis from fresh evidence.
			c.log.Warn("Patch generation failed, continuing loop",
				zap.String("test_id", spec.ID),
				zap.Int("iteration", i),
				zap.Error(err))
			continue
		}
		outcome.Patches = append(outcome.Patches, *patch)

		verification, err := c.verify(ctx, rec, patch, failure, spec)
		if err != nil {
			outcome.Aborted = true
			return outcome, fmt.Errorf("verification failed on iteration %d: %w", i, err)
		}
		outcome.Results = append(outcome.Results, *verification)

		if verification.Success {
			// The verification retest was a full test execution.
			outcome.Iterations = i + 1
			outcome.Success = true
			c.log.Info("Patch verified, repair loop done",
				zap.String("test_id", spec.ID),
				zap.Int("iterations", outcome.Iterations),
				zap.Int("patches", len(outcome.Patches)))
			return outcome, nil
		}
	}

	c.log.Warn("Repair loop exhausted its budget",
		zap.String("test_id", spec.ID),
		zap.Int("iterations", outcome.Iterations),
		zap.Int("patches", len(outcome.Patches)))
	return outcome, nil
}

func (c *Controller) runTest(ctx context.Context, rec *trace.Recorder, spec schemas.TestSpecification) (*schemas.TestResult, error) {
	runCtx := ctx
	var cancel context.CancelFunc
	if c.cfg.TestTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, c.cfg.TestTimeout)
		defer cancel()
	}

	op := rec.Begin("run_test", "runner", spec)
	result, err := c.runner.RunTest(runCtx, spec)
	rec.End(op, result, err)
	return result, err
}

func (c *Controller) diagnose(ctx context.Context, rec *trace.Recorder, failure *schemas.FailureReport) (*schemas.DiagnosisReport, error) {
	op := rec.Begin("diagnose", "diagnostician", failure)
	diag, err := c.diag.Diagnose(ctx, failure)
	rec.End(op, diag, err)
	return diag, err
}

func (c *Controller) generate(ctx context.Context, rec *trace.Recorder, diag *schemas.DiagnosisReport) (*schemas.Patch, error) {
	op := rec.Begin("generate_patch", "patchgen", diag)
	patch, err := c.patchgen.Generate(ctx, diag)
	rec.End(op, patch, err)
	return patch, err
}

func (c *Controller) verify(ctx context.Context, rec *trace.Recorder, patch *schemas.Patch, failure schemas.FailureReport, spec schemas.TestSpecification) (*schemas.VerificationResult, error) {
	op := rec.Begin("apply_and_verify", "patcher", patch)
	verification, err := c.applier.ApplyAndVerify(ctx, patch, failure, spec)
	rec.End(op, verification, err)
	return verification, err
}

// flushTrace ships the finished tree to the sink. Best-effort: trace
// persistence never alters a repair outcome.
func (c *Controller) flushTrace(ctx context.Context, outcome *schemas.FixOutcome) {
	if c.sink == nil || outcome.Trace == nil {
		return
	}
	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := c.sink.RecordTrace(flushCtx, outcome.Trace); err != nil {
		c.log.Warn("Failed to persist trace", zap.Error(err))
		return
	}
	attrs := map[string]interface{}{
		"test_id":    outcome.TestID,
		"success":    outcome.Success,
		"aborted":    outcome.Aborted,
		"iterations": outcome.Iterations,
		"patches":    len(outcome.Patches),
	}
	if err := c.sink.RecordAttributes(flushCtx, outcome.Trace.ID, attrs); err != nil {
		c.log.Warn("Failed to persist trace attributes", zap.Error(err))
	}
}
