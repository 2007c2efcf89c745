package fixloop_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/suture-cli/api/schemas"
	"github.com/xkilldash9x/suture-cli/internal/config"
	"github.com/xkilldash9x/suture-cli/internal/fixloop"
	"github.com/xkilldash9x/suture-cli/internal/mocks"
)

// Stage mocks local to the loop's own interfaces.

type mockDiagnostician struct{ mock.Mock }

func (m *mockDiagnostician) Diagnose(ctx context.Context, report *schemas.FailureReport) (*schemas.DiagnosisReport, error) {
	args := m.Called(ctx, report)
	if res := args.Get(0); res != nil {
		return res.(*schemas.DiagnosisReport), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockGenerator struct{ mock.Mock }

func (m *mockGenerator) Generate(ctx context.Context, diag *schemas.DiagnosisReport) (*schemas.Patch, error) {
	args := m.Called(ctx, diag)
	if res := args.Get(0); res != nil {
		return res.(*schemas.Patch), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockApplier struct{ mock.Mock }

func (m *mockApplier) ApplyAndVerify(ctx context.Context, patch *schemas.Patch, failure schemas.FailureReport, spec schemas.TestSpecification) (*schemas.VerificationResult, error) {
	args := m.Called(ctx, patch, failure, spec)
	if res := args.Get(0); res != nil {
		return res.(*schemas.VerificationResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func loopConfig(max int) config.FixLoopConfig {
	return config.FixLoopConfig{MaxIterations: max}
}

func testSpec() schemas.TestSpecification {
	return schemas.TestSpecification{ID: "checkout", TargetURL: "http://localhost:3000"}
}

func failingResult() *schemas.TestResult {
	return &schemas.TestResult{
		Passed: false,
		Failure: &schemas.FailureReport{
			ID:     "fail-1",
			TestID: "checkout",
			Error:  schemas.ErrorDetail{Message: "Cannot read properties of undefined (reading 'total')"},
		},
	}
}

func newController(t *testing.T, max int, runner *mocks.MockTestRunner, d *mockDiagnostician, g *mockGenerator, a *mockApplier) *fixloop.Controller {
	return fixloop.NewController(loopConfig(max), zaptest.NewLogger(t), runner, d, g, a, nil, 0)
}

func TestFix_PassesImmediately(t *testing.T) {
	defer goleak.VerifyNone(t)

	runner := new(mocks.MockTestRunner)
	runner.On("RunTest", mock.Anything, mock.Anything).Return(&schemas.TestResult{Passed: true}, nil).Once()

	ctrl := newController(t, 5, runner, new(mockDiagnostician), new(mockGenerator), new(mockApplier))
	outcome, err := ctrl.Fix(context.Background(), testSpec())
	require.NoError(t, err)
	assert.True(t, outcome.Success)
	assert.Equal(t, 1, outcome.Iterations)
	assert.Empty(t, outcome.Patches)
	assert.NotNil(t, outcome.Trace)
}

func TestFix_FirstPatchVerifies(t *testing.T) {
	defer goleak.VerifyNone(t)

	runner := new(mocks.MockTestRunner)
	runner.On("RunTest", mock.Anything, mock.Anything).Return(failingResult(), nil).Once()

	diag := new(mockDiagnostician)
	diag.On("Diagnose", mock.Anything, mock.Anything).
		Return(&schemas.DiagnosisReport{ID: "diag-1", Category: schemas.CategoryDataError}, nil).Once()

	gen := new(mockGenerator)
	gen.On("Generate", mock.Anything, mock.Anything).
		Return(&schemas.Patch{ID: "patch-1", TargetFile: "app.js"}, nil).Once()

	applier := new(mockApplier)
	applier.On("ApplyAndVerify", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(&schemas.VerificationResult{Success: true, Retest: &schemas.TestResult{Passed: true}}, nil).Once()

	ctrl := newController(t, 5, runner, diag, gen, applier)
	outcome, err := ctrl.Fix(context.Background(), testSpec())
	require.NoError(t, err)

	// The verified retest counts as the second test execution.
	assert.True(t, outcome.Success)
	assert.Equal(t, 2, outcome.Iterations)
	assert.Len(t, outcome.Patches, 1)
	assert.Len(t, outcome.Diagnoses, 1)
	runner.AssertExpectations(t)
}

func TestFix_BudgetExhausted(t *testing.T) {
	runner := new(mocks.MockTestRunner)
	runner.On("RunTest", mock.Anything, mock.Anything).Return(failingResult(), nil).Times(3)

	diag := new(mockDiagnostician)
	diag.On("Diagnose", mock.Anything, mock.Anything).
		Return(&schemas.DiagnosisReport{ID: "diag"}, nil).Times(3)

	gen := new(mockGenerator)
	gen.On("Generate", mock.Anything, mock.Anything).
		Return(&schemas.Patch{ID: "patch", TargetFile: "app.js"}, nil).Times(3)

	applier := new(mockApplier)
	applier.On("ApplyAndVerify", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(&schemas.VerificationResult{Success: false}, nil).Times(3)

	ctrl := newController(t, 3, runner, diag, gen, applier)
	outcome, err := ctrl.Fix(context.Background(), testSpec())
	require.NoError(t, err)

	assert.False(t, outcome.Success)
	assert.False(t, outcome.Aborted, "budget exhaustion is not an abort")
	assert.Equal(t, 3, outcome.Iterations)
	assert.Len(t, outcome.Patches, 3)
}

func TestFix_AbortsWithoutFailureReport(t *testing.T) {
	runner := new(mocks.MockTestRunner)
	runner.On("RunTest", mock.Anything, mock.Anything).
		Return(&schemas.TestResult{Passed: false, Failure: nil}, nil).Once()

	ctrl := newController(t, 5, runner, new(mockDiagnostician), new(mockGenerator), new(mockApplier))
	outcome, err := ctrl.Fix(context.Background(), testSpec())
	require.NoError(t, err)
	assert.True(t, outcome.Aborted)
	assert.False(t, outcome.Success)
	assert.Equal(t, 1, outcome.Iterations)
}

func TestFix_AbortsOnRunnerError(t *testing.T) {
	runner := new(mocks.MockTestRunner)
	runner.On("RunTest", mock.Anything, mock.Anything).
		Return(nil, errors.New("browser crashed")).Once()

	ctrl := newController(t, 5, runner, new(mockDiagnostician), new(mockGenerator), new(mockApplier))
	outcome, err := ctrl.Fix(context.Background(), testSpec())
	require.Error(t, err)
	assert.True(t, outcome.Aborted)
}

func TestFix_PatchGenerationFailureContinuesLoop(t *testing.T) {
	runner := new(mocks.MockTestRunner)
	runner.On("RunTest", mock.Anything, mock.Anything).Return(failingResult(), nil).Times(2)

	diag := new(mockDiagnostician)
	diag.On("Diagnose", mock.Anything, mock.Anything).
		Return(&schemas.DiagnosisReport{ID: "diag"}, nil).Times(2)

	gen := new(mockGenerator)
	gen.On("Generate", mock.Anything, mock.Anything).
		Return(nil, errors.New("no valid patch")).Times(2)

	applier := new(mockApplier)

	ctrl := newController(t, 2, runner, diag, gen, applier)
	outcome, err := ctrl.Fix(context.Background(), testSpec())
	require.NoError(t, err)

	assert.False(t, outcome.Success)
	assert.False(t, outcome.Aborted, "a failed patch generation never aborts the loop")
	assert.Empty(t, outcome.Patches)
	applier.AssertNotCalled(t, "ApplyAndVerify", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestFix_TraceRecordsStages(t *testing.T) {
	runner := new(mocks.MockTestRunner)
	runner.On("RunTest", mock.Anything, mock.Anything).Return(&schemas.TestResult{Passed: true}, nil).Once()

	sink := new(mocks.MockTraceSink)
	sink.On("RecordTrace", mock.Anything, mock.Anything).Return(nil).Once()
	sink.On("RecordAttributes", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()

	ctrl := fixloop.NewController(loopConfig(1), zaptest.NewLogger(t), runner, new(mockDiagnostician), new(mockGenerator), new(mockApplier), sink, 0)
	outcome, err := ctrl.Fix(context.Background(), testSpec())
	require.NoError(t, err)

	require.NotNil(t, outcome.Trace)
	require.Len(t, outcome.Trace.Children, 1)
	assert.Equal(t, "run_test", outcome.Trace.Children[0].Name)
	sink.AssertExpectations(t)
}
