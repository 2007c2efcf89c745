// Package deploy ships a verified patch: commit the file, push it to the
// remote that drives the target environment's deployment, and wait,
// bounded, for the new revision to come up healthy.
package deploy

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"go.uber.org/zap"

	"github.com/xkilldash9x/suture-cli/api/schemas"
	"github.com/xkilldash9x/suture-cli/internal/config"
)

const (
	defaultMaxWait      = 3 * time.Minute
	defaultPollInterval = 5 * time.Second
)

// GitDeployer implements schemas.Deployer by pushing to a git remote and
// polling a health URL until the deployment is reachable.
type GitDeployer struct {
	cfg    config.DeployConfig
	log    *zap.Logger
	client *http.Client
	pr     *PullRequester // nil when PR creation is disabled
}

// New builds a deployer from config.
func New(cfg config.DeployConfig, logger *zap.Logger) (*GitDeployer, error) {
	if cfg.RepoPath == "" {
		return nil, fmt.Errorf("deploy.repo_path is required")
	}
	d := &GitDeployer{
		cfg:    cfg,
		log:    logger.Named("deploy"),
		client: &http.Client{Timeout: 10 * time.Second},
	}
	if cfg.GitHub.CreatePullRequest {
		if cfg.GitHub.Token == "" {
			return nil, fmt.Errorf("deploy.github.token is required when pull request creation is enabled")
		}
		d.pr = NewPullRequester(cfg.GitHub, logger)
	}
	return d, nil
}

// Deploy commits and pushes one file, then waits for the health endpoint.
// The returned Deployment carries the commit hash and the URL to retest
// against.
func (d *GitDeployer) Deploy(ctx context.Context, file string, message string) (*schemas.Deployment, error) {
	ref, err := d.commitAndPush(ctx, file, message)
	if err != nil {
		return nil, err
	}
	d.log.Info("Pushed patch commit",
		zap.String("ref", ref),
		zap.String("remote", d.remoteName()),
		zap.String("file", file))

	if d.cfg.HealthURL != "" {
		if err := d.waitHealthy(ctx); err != nil {
			return nil, fmt.Errorf("deployment %s never became healthy: %w", ref, err)
		}
	}

	if d.pr != nil {
		// PR creation documents the change for humans; its failure must
		// not fail the deployment that already happened.
		if prURL, prErr := d.pr.Create(ctx, message, d.cfg.Branch); prErr != nil {
			d.log.Warn("Failed to open pull request for patch", zap.Error(prErr))
		} else {
			d.log.Info("Opened pull request", zap.String("url", prURL))
		}
	}

	return &schemas.Deployment{
		Ref: ref,
		URL: d.cfg.HealthURL,
	}, nil
}

func (d *GitDeployer) commitAndPush(ctx context.Context, file, message string) (string, error) {
	repo, err := git.PlainOpen(d.cfg.RepoPath)
	if err != nil {
		return "", fmt.Errorf("failed to open repository %s: %w", d.cfg.RepoPath, err)
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("failed to get worktree: %w", err)
	}

	relFile, err := relativeToRepo(d.cfg.RepoPath, file)
	if err != nil {
		return "", err
	}
	if _, err := worktree.Add(relFile); err != nil {
		return "", fmt.Errorf("failed to stage %s: %w", relFile, err)
	}

	commit, err := worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  d.cfg.Git.AuthorName,
			Email: d.cfg.Git.AuthorEmail,
			When:  time.Now(),
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to commit: %w", err)
	}

	pushOpts := &git.PushOptions{RemoteName: d.remoteName()}
	if d.cfg.GitHub.Token != "" {
		pushOpts.Auth = &githttp.BasicAuth{
			Username: "x-access-token",
			Password: d.cfg.GitHub.Token,
		}
	}
	if err := repo.PushContext(ctx, pushOpts); err != nil {
		return "", fmt.Errorf("failed to push: %w", err)
	}
	return commit.String(), nil
}

// waitHealthy polls the health URL until it answers 2xx or the budget
// runs out.
func (d *GitDeployer) waitHealthy(ctx context.Context) error {
	maxWait := d.cfg.MaxWait
	if maxWait <= 0 {
		maxWait = defaultMaxWait
	}
	interval := d.cfg.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}

	deadline := time.Now().Add(maxWait)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastErr error
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.cfg.HealthURL, nil)
		if err != nil {
			return err
		}
		resp, err := d.client.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return nil
			}
			lastErr = fmt.Errorf("health check returned %s", resp.Status)
		} else {
			lastErr = err
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("timed out after %s: %w", maxWait, lastErr)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (d *GitDeployer) remoteName() string {
	if d.cfg.Remote != "" {
		return d.cfg.Remote
	}
	return "origin"
}
