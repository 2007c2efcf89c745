// File: internal/mocks/mocks.go
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/suture-cli/api/schemas"
)

// -- TestRunner Mock --

// MockTestRunner mocks schemas.TestRunner.
type MockTestRunner struct {
	mock.Mock
}

func (m *MockTestRunner) Init(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockTestRunner) RunTest(ctx context.Context, spec schemas.TestSpecification) (*schemas.TestResult, error) {
	args := m.Called(ctx, spec)
	if res := args.Get(0); res != nil {
		return res.(*schemas.TestResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockTestRunner) SessionID() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockTestRunner) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// -- LLMClient Mock --

// MockLLMClient mocks schemas.LLMClient.
type MockLLMClient struct {
	mock.Mock
}

func (m *MockLLMClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *MockLLMClient) Close() error {
	args := m.Called()
	return args.Error(0)
}

// -- KnowledgeBase Mock --

// MockKnowledgeBase mocks schemas.KnowledgeBase.
type MockKnowledgeBase struct {
	mock.Mock
}

func (m *MockKnowledgeBase) FindSimilar(ctx context.Context, errorMessage, stack string, topK int, minSimilarity float64) ([]schemas.SimilarIssue, error) {
	args := m.Called(ctx, errorMessage, stack, topK, minSimilarity)
	if res := args.Get(0); res != nil {
		return res.([]schemas.SimilarIssue), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockKnowledgeBase) StoreFailure(ctx context.Context, report schemas.FailureReport, patch schemas.Patch, success bool) (string, error) {
	args := m.Called(ctx, report, patch, success)
	return args.String(0), args.Error(1)
}

// -- Deployer Mock --

// MockDeployer mocks schemas.Deployer.
type MockDeployer struct {
	mock.Mock
}

func (m *MockDeployer) Deploy(ctx context.Context, file string, message string) (*schemas.Deployment, error) {
	args := m.Called(ctx, file, message)
	if res := args.Get(0); res != nil {
		return res.(*schemas.Deployment), args.Error(1)
	}
	return nil, args.Error(1)
}

// -- TraceSink Mock --

// MockTraceSink mocks schemas.TraceSink.
type MockTraceSink struct {
	mock.Mock
}

func (m *MockTraceSink) RecordTrace(ctx context.Context, root *schemas.TraceOperation) error {
	args := m.Called(ctx, root)
	return args.Error(0)
}

func (m *MockTraceSink) RecordAttributes(ctx context.Context, traceID string, attrs map[string]interface{}) error {
	args := m.Called(ctx, traceID, attrs)
	return args.Error(0)
}
