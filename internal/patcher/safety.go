package patcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/xkilldash9x/suture-cli/api/schemas"
)

// Applier runs the full apply-verify-or-rollback protocol for one patch.
type Applier struct {
	logger      *zap.Logger
	projectRoot string
	runner      schemas.TestRunner
	deployer    schemas.Deployer // nil means retest against localEndpoint
	kb          schemas.KnowledgeBase
	localURL    string
}

// NewApplier builds an Applier. deployer and kb may be nil; with a nil
// deployer the patched code is assumed live at localEndpoint (e.g. a dev
// server watching the project directory).
func NewApplier(logger *zap.Logger, projectRoot string, runner schemas.TestRunner, deployer schemas.Deployer, kb schemas.KnowledgeBase, localEndpoint string) *Applier {
	return &Applier{
		logger:      logger.Named("patcher"),
		projectRoot: projectRoot,
		runner:      runner,
		deployer:    deployer,
		kb:          kb,
		localURL:    localEndpoint,
	}
}

// ApplyAndVerify applies the patch, gates it on syntax, redeploys (or
// relies on the local dev server), reruns the failing test, and keeps the
// patch only on a verified pass. Any other outcome, including panics and
// unexpected errors, restores the original file byte for byte.
//
// An unparseable diff fails before any file is touched: no backup is
// created and the workspace is untouched.
func (a *Applier) ApplyAndVerify(ctx context.Context, patch *schemas.Patch, failure schemas.FailureReport, spec schemas.TestSpecification) (result *schemas.VerificationResult, err error) {
	if patch == nil {
		return nil, fmt.Errorf("patch is required")
	}

	fd, parseErr := parsePatch(patch.Diff)
	if parseErr != nil {
		a.logger.Warn("Patch rejected before application", zap.String("patch_id", patch.ID), zap.Error(parseErr))
		return &schemas.VerificationResult{
			Success: false,
			Error:   parseErr.Error(),
		}, nil
	}

	targetPath := patch.TargetFile
	if !filepath.IsAbs(targetPath) {
		targetPath = filepath.Join(a.projectRoot, targetPath)
	}
	original, err := os.ReadFile(targetPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read target %s: %w", targetPath, err)
	}

	patched, applyErr := applyFileDiff(original, fd)
	if applyErr != nil {
		a.logger.Warn("Patch did not apply cleanly", zap.String("patch_id", patch.ID), zap.Error(applyErr))
		a.recordOutcome(ctx, failure, patch, false)
		return &schemas.VerificationResult{
			Success: false,
			Error:   applyErr.Error(),
		}, nil
	}

	bak, err := newBackup(targetPath)
	if err != nil {
		return nil, err
	}

	// The file is mutated past this point. Anything short of a verified
	// success restores the snapshot; panics roll back too, then rethrow.
	kept := false
	defer func() {
		if r := recover(); r != nil {
			a.rollback(bak, patch.ID, "panic during verification")
			panic(r)
		}
		if kept {
			return
		}
		reason := "verification did not succeed"
		if err != nil {
			reason = err.Error()
		}
		a.rollback(bak, patch.ID, reason)
	}()

	info, _ := os.Stat(targetPath)
	mode := os.FileMode(0o644)
	if info != nil {
		mode = info.Mode()
	}
	if err = os.WriteFile(targetPath, patched, mode); err != nil {
		return nil, fmt.Errorf("failed to write patched file: %w", err)
	}

	if synErr := checkSyntax(ctx, targetPath, patched); synErr != nil {
		a.logger.Warn("Patched file failed syntax gate", zap.String("patch_id", patch.ID), zap.Error(synErr))
		a.recordOutcome(ctx, failure, patch, false)
		return &schemas.VerificationResult{
			Success: false,
			Error:   synErr.Error(),
		}, nil
	}

	retestSpec := spec
	deployRef := ""
	if a.deployer != nil {
		message := fmt.Sprintf("fix: %s (%s)", patch.Description, patch.TargetFile)
		deployment, deployErr := a.deployer.Deploy(ctx, targetPath, message)
		if deployErr != nil {
			a.logger.Error("Deployment of patched file failed", zap.String("patch_id", patch.ID), zap.Error(deployErr))
			a.recordOutcome(ctx, failure, patch, false)
			return &schemas.VerificationResult{
				Success: false,
				Error:   fmt.Sprintf("deploy failed: %v", deployErr),
			}, nil
		}
		deployRef = deployment.Ref
		if deployment.URL != "" {
			retestSpec.TargetURL = deployment.URL
		}
	} else if a.localURL != "" {
		retestSpec.TargetURL = a.localURL
	}

	retest, runErr := a.runner.RunTest(ctx, retestSpec)
	if runErr != nil {
		a.recordOutcome(ctx, failure, patch, false)
		return nil, fmt.Errorf("retest execution failed: %w", runErr)
	}

	if !retest.Passed {
		a.logger.Info("Patch did not fix the failure, rolling back",
			zap.String("patch_id", patch.ID),
			zap.String("test_id", spec.ID))
		a.recordOutcome(ctx, failure, patch, false)
		return &schemas.VerificationResult{
			Success:   false,
			DeployRef: deployRef,
			Retest:    retest,
		}, nil
	}

	if err = bak.discard(); err != nil {
		a.logger.Warn("Verified patch kept but backup cleanup failed", zap.Error(err))
		err = nil
	}
	kept = true

	a.logger.Info("Patch verified and kept",
		zap.String("patch_id", patch.ID),
		zap.String("target", patch.TargetFile),
		zap.String("deploy_ref", deployRef))
	a.recordOutcome(ctx, failure, patch, true)

	return &schemas.VerificationResult{
		Success:   true,
		DeployRef: deployRef,
		Retest:    retest,
	}, nil
}

func (a *Applier) rollback(bak *backup, patchID, reason string) {
	if restoreErr := bak.restore(); restoreErr != nil {
		a.logger.Error("CRITICAL: rollback failed, workspace may be dirty",
			zap.String("patch_id", patchID),
			zap.String("file", bak.originalPath),
			zap.Error(restoreErr))
		return
	}
	a.logger.Info("Rolled back patch",
		zap.String("patch_id", patchID),
		zap.String("file", bak.originalPath),
		zap.String("reason", reason))
}

// recordOutcome feeds the knowledge base. Failures to record are logged
// and swallowed: persistence never gates the repair loop.
func (a *Applier) recordOutcome(ctx context.Context, failure schemas.FailureReport, patch *schemas.Patch, success bool) {
	if a.kb == nil {
		return
	}
	if _, err := a.kb.StoreFailure(ctx, failure, *patch, success); err != nil {
		a.logger.Warn("Failed to record patch outcome in knowledge base", zap.Error(err))
	}
}
