package deploy

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/go-github/v58/github"
	"go.uber.org/zap"

	"github.com/xkilldash9x/suture-cli/internal/config"
)

// PullRequester opens documentation PRs for patches that were already
// pushed and verified. Strictly advisory; failures never undo a deploy.
type PullRequester struct {
	cfg    config.GitHubConfig
	log    *zap.Logger
	client *github.Client
}

// NewPullRequester builds a GitHub client from the configured token.
func NewPullRequester(cfg config.GitHubConfig, logger *zap.Logger) *PullRequester {
	return &PullRequester{
		cfg:    cfg,
		log:    logger.Named("deploy.pr"),
		client: github.NewClient(nil).WithAuthToken(cfg.Token),
	}
}

// Create opens a pull request from head into the configured base branch
// and returns its URL.
func (p *PullRequester) Create(ctx context.Context, message, head string) (string, error) {
	if head == "" {
		return "", fmt.Errorf("head branch is required")
	}
	base := p.cfg.BaseBranch
	if base == "" {
		base = "main"
	}

	title := message
	if i := strings.IndexByte(title, '\n'); i >= 0 {
		title = title[:i]
	}
	body := fmt.Sprintf("Automated fix pushed after a verified retest.\n\n%s", message)

	pr, _, err := p.client.PullRequests.Create(ctx, p.cfg.RepoOwner, p.cfg.RepoName, &github.NewPullRequest{
		Title: github.String(title),
		Head:  github.String(head),
		Base:  github.String(base),
		Body:  github.String(body),
	})
	if err != nil {
		return "", fmt.Errorf("failed to create pull request: %w", err)
	}
	return pr.GetHTMLURL(), nil
}

// relativeToRepo resolves file against the repository root; go-git's
// worktree API requires repo-relative paths.
func relativeToRepo(repoPath, file string) (string, error) {
	if !filepath.IsAbs(file) {
		return filepath.ToSlash(file), nil
	}
	rel, err := filepath.Rel(repoPath, file)
	if err != nil {
		return "", fmt.Errorf("file %s is not inside repository %s: %w", file, repoPath, err)
	}
	if strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("file %s is outside repository %s", file, repoPath)
	}
	return filepath.ToSlash(rel), nil
}
