// File: internal/config/config_test.go
package config_test

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/suture-cli/internal/config"
)

func validConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.Deploy.LocalEndpoint = "http://localhost:3000"
	return cfg
}

func TestNewDefaultConfig(t *testing.T) {
	cfg := config.NewDefaultConfig()

	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, "suture-cli", cfg.Logger.ServiceName)
	assert.Equal(t, "gemini-2.5-flash", cfg.LLM.DefaultFastModel)
	assert.Equal(t, "gemini-2.5-pro", cfg.LLM.DefaultPowerfulModel)
	assert.Equal(t, 30.0, cfg.LLM.RequestsPerMinute)
	assert.True(t, cfg.Runner.Headless)
	assert.Equal(t, 90*time.Second, cfg.Runner.NavigationTimeout)
	assert.Equal(t, 5, cfg.FixLoop.MaxIterations)
	assert.Equal(t, 5*time.Minute, cfg.FixLoop.TestTimeout)
	assert.False(t, cfg.KnowledgeBase.Enabled)
	assert.Equal(t, "FailureMemory", cfg.KnowledgeBase.ClassName)
	assert.Equal(t, 3, cfg.KnowledgeBase.TopK)
	assert.False(t, cfg.Deploy.Enabled)
	assert.Equal(t, "origin", cfg.Deploy.Remote)
	assert.Equal(t, 8192, cfg.Trace.MaxSnapshotBytes)
	assert.Equal(t, 3, cfg.Evolution.MinOccurrences)
	assert.Equal(t, 3, cfg.ABTest.RunsPerCase)
	assert.Equal(t, 0.95, cfg.ABTest.MinConfidence)
	assert.True(t, cfg.ABTest.Shuffle)
}

func TestNewConfigFromViper(t *testing.T) {
	v := viper.New()
	config.SetDefaults(v)
	v.Set("deploy.local_endpoint", "http://localhost:3000")
	v.Set("fixloop.max_iterations", 7)

	cfg, err := config.NewConfigFromViper(v)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.FixLoop.MaxIterations)
	assert.Equal(t, "http://localhost:3000", cfg.Deploy.LocalEndpoint)
}

func TestNewConfigFromViper_BindsGitHubTokenEnv(t *testing.T) {
	t.Setenv("SUTURE_GH_TOKEN", "ghp_test_token")

	v := viper.New()
	config.SetDefaults(v)
	v.Set("deploy.local_endpoint", "http://localhost:3000")

	cfg, err := config.NewConfigFromViper(v)
	require.NoError(t, err)
	assert.Equal(t, "ghp_test_token", cfg.Deploy.GitHub.Token)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{
			name:   "valid defaults with local endpoint",
			mutate: func(c *config.Config) {},
		},
		{
			name:    "zero max iterations",
			mutate:  func(c *config.Config) { c.FixLoop.MaxIterations = 0 },
			wantErr: "max_iterations",
		},
		{
			name:    "zero test timeout",
			mutate:  func(c *config.Config) { c.FixLoop.TestTimeout = 0 },
			wantErr: "test_timeout",
		},
		{
			name: "deploy disabled requires local endpoint",
			mutate: func(c *config.Config) {
				c.Deploy.Enabled = false
				c.Deploy.LocalEndpoint = ""
			},
			wantErr: "local_endpoint",
		},
		{
			name: "deploy enabled requires repo path",
			mutate: func(c *config.Config) {
				c.Deploy.Enabled = true
				c.Deploy.RepoPath = ""
			},
			wantErr: "repo_path",
		},
		{
			name: "deploy enabled with bad poll interval",
			mutate: func(c *config.Config) {
				c.Deploy.Enabled = true
				c.Deploy.RepoPath = "/srv/app"
				c.Deploy.PollInterval = 0
			},
			wantErr: "poll_interval",
		},
		{
			name: "pr creation requires repo coordinates",
			mutate: func(c *config.Config) {
				c.Deploy.Enabled = true
				c.Deploy.RepoPath = "/srv/app"
				c.Deploy.GitHub.CreatePullRequest = true
				c.Deploy.GitHub.RepoOwner = ""
			},
			wantErr: "repo_owner",
		},
		{
			name: "pr creation requires token",
			mutate: func(c *config.Config) {
				c.Deploy.Enabled = true
				c.Deploy.RepoPath = "/srv/app"
				c.Deploy.GitHub.CreatePullRequest = true
				c.Deploy.GitHub.RepoOwner = "acme"
				c.Deploy.GitHub.RepoName = "webapp"
				c.Deploy.GitHub.Token = ""
			},
			wantErr: "SUTURE_GH_TOKEN",
		},
		{
			name: "knowledge base enabled without host",
			mutate: func(c *config.Config) {
				c.KnowledgeBase.Enabled = true
				c.KnowledgeBase.Host = ""
			},
			wantErr: "knowledge_base.host",
		},
		{
			name: "trace enabled without url",
			mutate: func(c *config.Config) {
				c.Trace.Enabled = true
				c.Trace.PostgresURL = ""
			},
			wantErr: "trace.postgres_url",
		},
		{
			name:    "abtest zero runs per case",
			mutate:  func(c *config.Config) { c.ABTest.RunsPerCase = 0 },
			wantErr: "runs_per_case",
		},
		{
			name:    "abtest confidence above cap",
			mutate:  func(c *config.Config) { c.ABTest.MinConfidence = 0.999 },
			wantErr: "min_confidence",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}
