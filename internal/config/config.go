// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger        LoggerConfig        `mapstructure:"logger" yaml:"logger"`
	LLM           LLMRouterConfig     `mapstructure:"llm" yaml:"llm"`
	Runner        RunnerConfig        `mapstructure:"runner" yaml:"runner"`
	FixLoop       FixLoopConfig       `mapstructure:"fixloop" yaml:"fixloop"`
	KnowledgeBase KnowledgeBaseConfig `mapstructure:"knowledge_base" yaml:"knowledge_base"`
	Deploy        DeployConfig        `mapstructure:"deploy" yaml:"deploy"`
	Trace         TraceConfig         `mapstructure:"trace" yaml:"trace"`
	Evolution     EvolutionConfig     `mapstructure:"evolution" yaml:"evolution"`
	ABTest        ABTestConfig        `mapstructure:"abtest" yaml:"abtest"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// LLMProvider defines the supported LLM providers.
type LLMProvider string

const (
	ProviderGemini LLMProvider = "gemini"
	ProviderOllama LLMProvider = "ollama"
)

// LLMModelConfig defines the configuration for a single LLM.
type LLMModelConfig struct {
	Provider      LLMProvider       `mapstructure:"provider" yaml:"provider"`
	Model         string            `mapstructure:"model" yaml:"model"`
	APIKey        string            `mapstructure:"api_key" yaml:"-"`
	Endpoint      string            `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout    time.Duration     `mapstructure:"api_timeout" yaml:"api_timeout"`
	MaxTokens     int               `mapstructure:"max_tokens" yaml:"max_tokens"`
	TopP          float32           `mapstructure:"top_p" yaml:"top_p"`
	TopK          int               `mapstructure:"top_k" yaml:"top_k"`
	SafetyFilters map[string]string `mapstructure:"safety_filters" yaml:"safety_filters"`
}

// LLMRouterConfig configures the model routing logic and the shared
// request rate limit applied across both tiers.
type LLMRouterConfig struct {
	DefaultFastModel     string                    `mapstructure:"default_fast_model" yaml:"default_fast_model"`
	DefaultPowerfulModel string                    `mapstructure:"default_powerful_model" yaml:"default_powerful_model"`
	RequestsPerMinute    float64                   `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
	Models               map[string]LLMModelConfig `mapstructure:"models" yaml:"models"`
}

// RunnerConfig holds settings for the headless browser test runner.
type RunnerConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	Args              []string      `mapstructure:"args" yaml:"args"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	ActionTimeout     time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
	PostLoadWait      time.Duration `mapstructure:"post_load_wait" yaml:"post_load_wait"`
	CaptureScreenshot bool          `mapstructure:"capture_screenshot" yaml:"capture_screenshot"`
}

// FixLoopConfig bounds the per-test repair loop.
type FixLoopConfig struct {
	MaxIterations int           `mapstructure:"max_iterations" yaml:"max_iterations"`
	TestTimeout   time.Duration `mapstructure:"test_timeout" yaml:"test_timeout"`
	ProjectRoot   string        `mapstructure:"project_root" yaml:"project_root"`
	// TargetBaseURL rewrites each TestSpecification's URL to the
	// environment under repair before execution.
	TargetBaseURL string `mapstructure:"target_base_url" yaml:"target_base_url"`
}

// KnowledgeBaseConfig configures the vector-similarity store. The store
// is best-effort; Enabled=false degrades lookups to empty results.
type KnowledgeBaseConfig struct {
	Enabled       bool    `mapstructure:"enabled" yaml:"enabled"`
	Scheme        string  `mapstructure:"scheme" yaml:"scheme"`
	Host          string  `mapstructure:"host" yaml:"host"`
	ClassName     string  `mapstructure:"class_name" yaml:"class_name"`
	TopK          int     `mapstructure:"top_k" yaml:"top_k"`
	MinSimilarity float64 `mapstructure:"min_similarity" yaml:"min_similarity"`
}

// GitConfig defines the committer identity.
type GitConfig struct {
	AuthorName  string `mapstructure:"author_name" yaml:"author_name"`
	AuthorEmail string `mapstructure:"author_email" yaml:"author_email"`
}

// GitHubConfig defines the configuration for optional PR creation.
type GitHubConfig struct {
	Token             string `mapstructure:"token" yaml:"-"`
	RepoOwner         string `mapstructure:"repo_owner" yaml:"repo_owner"`
	RepoName          string `mapstructure:"repo_name" yaml:"repo_name"`
	BaseBranch        string `mapstructure:"base_branch" yaml:"base_branch"`
	CreatePullRequest bool   `mapstructure:"create_pull_request" yaml:"create_pull_request"`
}

// DeployConfig configures the commit+push+poll verification path. When
// Enabled is false, LocalEndpoint is treated as already deployed.
type DeployConfig struct {
	Enabled       bool          `mapstructure:"enabled" yaml:"enabled"`
	RepoPath      string        `mapstructure:"repo_path" yaml:"repo_path"`
	Remote        string        `mapstructure:"remote" yaml:"remote"`
	Branch        string        `mapstructure:"branch" yaml:"branch"`
	HealthURL     string        `mapstructure:"health_url" yaml:"health_url"`
	MaxWait       time.Duration `mapstructure:"max_wait" yaml:"max_wait"`
	PollInterval  time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	LocalEndpoint string        `mapstructure:"local_endpoint" yaml:"local_endpoint"`
	Git           GitConfig     `mapstructure:"git" yaml:"git"`
	GitHub        GitHubConfig  `mapstructure:"github" yaml:"github"`
}

// TraceConfig configures the optional Postgres trace sink.
type TraceConfig struct {
	Enabled          bool   `mapstructure:"enabled" yaml:"enabled"`
	PostgresURL      string `mapstructure:"postgres_url" yaml:"-"`
	MaxSnapshotBytes int    `mapstructure:"max_snapshot_bytes" yaml:"max_snapshot_bytes"`
}

// EvolutionConfig holds settings for the self-improvement subsystem.
type EvolutionConfig struct {
	HistoryFile    string `mapstructure:"history_file" yaml:"history_file"`
	PromptLogFile  string `mapstructure:"prompt_log_file" yaml:"prompt_log_file"`
	MinOccurrences int    `mapstructure:"min_occurrences" yaml:"min_occurrences"`
}

// ABTestConfig configures the statistical comparator.
type ABTestConfig struct {
	RunsPerCase   int           `mapstructure:"runs_per_case" yaml:"runs_per_case"`
	Shuffle       bool          `mapstructure:"shuffle" yaml:"shuffle"`
	MaxDuration   time.Duration `mapstructure:"max_duration" yaml:"max_duration"`
	MinConfidence float64       `mapstructure:"min_confidence" yaml:"min_confidence"`
}

// SetDefaults initializes default values for all configuration sections.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "suture-cli")
	v.SetDefault("logger.log_file", "suture.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- LLM --
	v.SetDefault("llm.default_fast_model", "gemini-2.5-flash")
	v.SetDefault("llm.default_powerful_model", "gemini-2.5-pro")
	v.SetDefault("llm.requests_per_minute", 30.0)

	// -- Runner --
	v.SetDefault("runner.headless", true)
	v.SetDefault("runner.navigation_timeout", "90s")
	v.SetDefault("runner.action_timeout", "30s")
	v.SetDefault("runner.post_load_wait", "2s")
	v.SetDefault("runner.capture_screenshot", true)

	// -- Fix Loop --
	v.SetDefault("fixloop.max_iterations", 5)
	v.SetDefault("fixloop.test_timeout", "5m")

	// -- Knowledge Base --
	v.SetDefault("knowledge_base.enabled", false)
	v.SetDefault("knowledge_base.scheme", "http")
	v.SetDefault("knowledge_base.host", "localhost:8080")
	v.SetDefault("knowledge_base.class_name", "FailureMemory")
	v.SetDefault("knowledge_base.top_k", 3)
	v.SetDefault("knowledge_base.min_similarity", 0.7)

	// -- Deploy --
	v.SetDefault("deploy.enabled", false)
	v.SetDefault("deploy.remote", "origin")
	v.SetDefault("deploy.branch", "main")
	v.SetDefault("deploy.max_wait", "5m")
	v.SetDefault("deploy.poll_interval", "10s")
	v.SetDefault("deploy.git.author_name", "suture-bot")
	v.SetDefault("deploy.git.author_email", "bot@suture.dev")
	v.SetDefault("deploy.github.base_branch", "main")
	v.SetDefault("deploy.github.create_pull_request", false)

	// -- Trace --
	v.SetDefault("trace.enabled", false)
	v.SetDefault("trace.max_snapshot_bytes", 8192)

	// -- Evolution --
	v.SetDefault("evolution.history_file", "failure_history.json")
	v.SetDefault("evolution.prompt_log_file", "prompt_versions.json")
	v.SetDefault("evolution.min_occurrences", 3)

	// -- A/B Test --
	v.SetDefault("abtest.runs_per_case", 3)
	v.SetDefault("abtest.shuffle", true)
	v.SetDefault("abtest.max_duration", "2h")
	v.SetDefault("abtest.min_confidence", 0.95)
}

// NewDefaultConfig creates a configuration populated with defaults only.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// NewConfigFromViper creates a validated configuration from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data.
	v.BindEnv("deploy.github.token", "SUTURE_GH_TOKEN")
	v.BindEnv("trace.postgres_url", "SUTURE_TRACE_DB_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Unmarshal can miss env-only keys without a config file entry.
	if cfg.Deploy.GitHub.Token == "" {
		cfg.Deploy.GitHub.Token = os.Getenv("SUTURE_GH_TOKEN")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.FixLoop.MaxIterations <= 0 {
		return fmt.Errorf("fixloop.max_iterations must be a positive integer")
	}
	if c.FixLoop.TestTimeout <= 0 {
		return fmt.Errorf("fixloop.test_timeout must be a positive duration")
	}
	if err := c.Deploy.Validate(); err != nil {
		return fmt.Errorf("deploy configuration invalid: %w", err)
	}
	if err := c.ABTest.Validate(); err != nil {
		return fmt.Errorf("abtest configuration invalid: %w", err)
	}
	if c.KnowledgeBase.Enabled && c.KnowledgeBase.Host == "" {
		return fmt.Errorf("knowledge_base.host is required when the knowledge base is enabled")
	}
	if c.Trace.Enabled && c.Trace.PostgresURL == "" {
		return fmt.Errorf("trace.postgres_url is required when tracing is enabled. Set SUTURE_TRACE_DB_URL")
	}
	return nil
}

// Validate checks the deployment section.
func (d *DeployConfig) Validate() error {
	if !d.Enabled {
		if d.LocalEndpoint == "" {
			// Nothing to retest against once a patch applies.
			return fmt.Errorf("deploy.local_endpoint is required when deploy is disabled")
		}
		return nil
	}
	if d.RepoPath == "" {
		return fmt.Errorf("deploy.repo_path is required when deploy is enabled")
	}
	if d.MaxWait <= 0 || d.PollInterval <= 0 {
		return fmt.Errorf("deploy.max_wait and deploy.poll_interval must be positive durations")
	}
	if d.GitHub.CreatePullRequest {
		if d.GitHub.RepoOwner == "" || d.GitHub.RepoName == "" || d.GitHub.BaseBranch == "" {
			return fmt.Errorf("github.repo_owner, github.repo_name, and github.base_branch are required for PR creation")
		}
		if d.GitHub.Token == "" {
			return fmt.Errorf("GitHub token is required but not found. Ensure SUTURE_GH_TOKEN is set")
		}
	}
	return nil
}

// Validate checks the A/B test section.
func (a *ABTestConfig) Validate() error {
	if a.RunsPerCase <= 0 {
		return fmt.Errorf("abtest.runs_per_case must be greater than 0")
	}
	if a.MinConfidence < 0.0 || a.MinConfidence > 0.99 {
		return fmt.Errorf("abtest.min_confidence must be between 0.0 and 0.99")
	}
	return nil
}
