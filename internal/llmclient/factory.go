// internal/llmclient/factory.go
package llmclient

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/suture-cli/api/schemas"
	"github.com/xkilldash9x/suture-cli/internal/config"
)

// NewRouterFromConfig builds tier clients for the configured default fast
// and powerful models and wraps them in a rate-limited router.
func NewRouterFromConfig(cfg config.LLMRouterConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	fast, err := newClientForModel(cfg, cfg.DefaultFastModel, logger)
	if err != nil {
		return nil, fmt.Errorf("building fast tier client: %w", err)
	}

	var powerful schemas.LLMClient
	if cfg.DefaultPowerfulModel == cfg.DefaultFastModel {
		powerful = fast
	} else {
		powerful, err = newClientForModel(cfg, cfg.DefaultPowerfulModel, logger)
		if err != nil {
			return nil, fmt.Errorf("building powerful tier client: %w", err)
		}
	}

	return NewLLMRouter(logger, fast, powerful, cfg.RequestsPerMinute)
}

func newClientForModel(cfg config.LLMRouterConfig, model string, logger *zap.Logger) (schemas.LLMClient, error) {
	modelCfg, ok := cfg.Models[model]
	if !ok {
		// Fall back to a bare Gemini config keyed by model name.
		modelCfg = config.LLMModelConfig{Provider: config.ProviderGemini, Model: model}
	}
	if modelCfg.Model == "" {
		modelCfg.Model = model
	}

	switch modelCfg.Provider {
	case config.ProviderGemini, "":
		return NewGeminiClient(modelCfg, logger)
	default:
		return nil, fmt.Errorf("unknown or unsupported LLM provider configured: '%s'. Supported: [%s]", modelCfg.Provider, config.ProviderGemini)
	}
}
