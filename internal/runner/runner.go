// Package runner executes test specifications against a live target in a
// headless browser and, on failure, assembles the evidence bundle the
// diagnostician works from: the raw error, a screenshot, the DOM, and the
// page's console output.
package runner

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/suture-cli/api/schemas"
	"github.com/xkilldash9x/suture-cli/internal/config"
)

const (
	defaultNavigationTimeout = 30 * time.Second
	defaultActionTimeout     = 10 * time.Second
	maxConsoleLogs           = 200
)

// BrowserRunner implements schemas.TestRunner on chromedp. One runner owns
// one browser session; the session ID stays constant until Close.
type BrowserRunner struct {
	cfg config.RunnerConfig
	log *zap.Logger

	sessionID string

	mu          sync.Mutex
	allocCancel context.CancelFunc
	browserCtx  context.Context
	ctxCancel   context.CancelFunc
	consoleLogs []string
}

// New creates a runner. Call Init before RunTest.
func New(cfg config.RunnerConfig, logger *zap.Logger) *BrowserRunner {
	return &BrowserRunner{
		cfg:       cfg,
		log:       logger.Named("runner"),
		sessionID: uuid.New().String(),
	}
}

// Init starts the browser and attaches the console listener.
func (r *BrowserRunner) Init(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.browserCtx != nil {
		return nil
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if r.cfg.Headless {
		opts = append(opts, chromedp.Headless)
	}
	for _, arg := range r.cfg.Args {
		if !strings.HasPrefix(arg, "--") {
			arg = "--" + arg
		}
		if name, value, found := strings.Cut(strings.TrimPrefix(arg, "--"), "="); found {
			opts = append(opts, chromedp.Flag(name, value))
		} else {
			opts = append(opts, chromedp.Flag(name, true))
		}
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, ctxCancel := chromedp.NewContext(allocCtx)

	// Launch eagerly so Init fails fast when no Chrome binary is present.
	if err := chromedp.Run(browserCtx); err != nil {
		ctxCancel()
		allocCancel()
		return fmt.Errorf("failed to start browser session: %w", err)
	}

	chromedp.ListenTarget(browserCtx, func(ev interface{}) {
		if e, ok := ev.(*runtime.EventConsoleAPICalled); ok {
			r.appendConsoleLog(e)
		}
	})

	r.allocCancel = allocCancel
	r.browserCtx = browserCtx
	r.ctxCancel = ctxCancel
	r.log.Info("Browser session started", zap.String("session_id", r.sessionID))
	return nil
}

// SessionID returns the identifier for the live session.
func (r *BrowserRunner) SessionID() string { return r.sessionID }

// RunTest navigates to the spec's target and executes its steps in order.
// The first failing step stops the run and produces a FailureReport. A
// failure before any step runs (navigation, session loss) is reported with
// StepIndex -1.
func (r *BrowserRunner) RunTest(ctx context.Context, spec schemas.TestSpecification) (*schemas.TestResult, error) {
	r.mu.Lock()
	browserCtx := r.browserCtx
	r.mu.Unlock()
	if browserCtx == nil {
		return nil, fmt.Errorf("runner not initialized")
	}
	r.resetConsoleLogs()

	start := time.Now()
	r.log.Info("Running test",
		zap.String("test_id", spec.ID),
		zap.String("target_url", spec.TargetURL),
		zap.Int("steps", len(spec.Steps)))

	navTimeout := r.cfg.NavigationTimeout
	if navTimeout <= 0 {
		navTimeout = defaultNavigationTimeout
	}
	navCtx, cancelNav := context.WithTimeout(browserCtx, navTimeout)
	defer cancelNav()

	if err := chromedp.Run(navCtx, chromedp.Navigate(spec.TargetURL)); err != nil {
		return r.failedResult(browserCtx, spec, -1, start, fmt.Errorf("navigation to %s failed: %w", spec.TargetURL, err)), nil
	}
	if r.cfg.PostLoadWait > 0 {
		select {
		case <-time.After(r.cfg.PostLoadWait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	for i, step := range spec.Steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := r.runStep(browserCtx, step); err != nil {
			r.log.Warn("Test step failed",
				zap.String("test_id", spec.ID),
				zap.Int("step", i),
				zap.String("action", step.Action),
				zap.Error(err))
			return r.failedResult(browserCtx, spec, i, start, err), nil
		}
	}

	return &schemas.TestResult{Passed: true, Duration: time.Since(start)}, nil
}

func (r *BrowserRunner) runStep(browserCtx context.Context, step schemas.TestStep) error {
	timeout := step.Timeout
	if timeout <= 0 {
		timeout = r.cfg.ActionTimeout
	}
	if timeout <= 0 {
		timeout = defaultActionTimeout
	}
	stepCtx, cancel := context.WithTimeout(browserCtx, timeout)
	defer cancel()

	action, err := buildAction(step)
	if err != nil {
		return err
	}
	if err := chromedp.Run(stepCtx, action); err != nil {
		if stepCtx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("step %q timed out after %s: %w", step.Action, timeout, err)
		}
		return fmt.Errorf("step %q failed: %w", step.Action, err)
	}
	return nil
}

// failedResult gathers the execution context. Evidence capture is
// best-effort; a half-dead page must not mask the original error.
func (r *BrowserRunner) failedResult(browserCtx context.Context, spec schemas.TestSpecification, stepIndex int, start time.Time, cause error) *schemas.TestResult {
	report := &schemas.FailureReport{
		ID:        uuid.New().String(),
		TestID:    spec.ID,
		Timestamp: time.Now().UTC(),
		StepIndex: stepIndex,
		Error: schemas.ErrorDetail{
			Message: cause.Error(),
			Type:    fmt.Sprintf("%T", cause),
		},
		Context: r.captureContext(browserCtx),
	}
	return &schemas.TestResult{
		Passed:   false,
		Duration: time.Since(start),
		Failure:  report,
	}
}

func (r *BrowserRunner) captureContext(browserCtx context.Context) schemas.ExecutionContext {
	ec := schemas.ExecutionContext{ConsoleLogs: r.snapshotConsoleLogs()}

	captureCtx, cancel := context.WithTimeout(browserCtx, 5*time.Second)
	defer cancel()

	var currentURL, dom string
	if err := chromedp.Run(captureCtx, chromedp.Location(&currentURL)); err == nil {
		ec.URL = currentURL
	}
	if err := chromedp.Run(captureCtx, chromedp.OuterHTML("html", &dom, chromedp.ByQuery)); err == nil {
		ec.DOMSnapshot = dom
	} else {
		r.log.Debug("Failed to capture DOM snapshot", zap.Error(err))
	}
	if r.cfg.CaptureScreenshot {
		var shot []byte
		if err := chromedp.Run(captureCtx, chromedp.CaptureScreenshot(&shot)); err == nil {
			ec.Screenshot = shot
		} else {
			r.log.Debug("Failed to capture screenshot", zap.Error(err))
		}
	}
	return ec
}

func (r *BrowserRunner) appendConsoleLog(e *runtime.EventConsoleAPICalled) {
	var b strings.Builder
	b.WriteString(string(e.Type))
	b.WriteString(": ")
	for i, arg := range e.Args {
		if i > 0 {
			b.WriteString(" ")
		}
		switch {
		case arg.Value != nil:
			b.Write(arg.Value)
		case arg.Description != "":
			b.WriteString(arg.Description)
		default:
			fmt.Fprintf(&b, "[%s]", arg.Type)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.consoleLogs) >= maxConsoleLogs {
		return
	}
	r.consoleLogs = append(r.consoleLogs, b.String())
}

func (r *BrowserRunner) resetConsoleLogs() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.consoleLogs = nil
}

func (r *BrowserRunner) snapshotConsoleLogs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.consoleLogs))
	copy(out, r.consoleLogs)
	return out
}

// Close tears the browser session down.
func (r *BrowserRunner) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.browserCtx == nil {
		return nil
	}
	if err := chromedp.Cancel(r.browserCtx); err != nil && ctx.Err() == nil {
		r.log.Warn("Browser did not shut down cleanly", zap.Error(err))
	}
	r.ctxCancel()
	r.allocCancel()
	r.browserCtx = nil
	r.log.Info("Browser session closed", zap.String("session_id", r.sessionID))
	return nil
}
