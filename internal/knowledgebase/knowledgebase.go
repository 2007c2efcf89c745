// Package knowledgebase stores resolved failures in Weaviate and retrieves
// fixes for similar errors via semantic search. Every lookup and store is
// best-effort: the repair loop must keep working when the vector store is
// down, so callers treat errors here as advisory.
package knowledgebase

import (
	"context"
	"fmt"
	"time"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
	"go.uber.org/zap"

	"github.com/xkilldash9x/suture-cli/api/schemas"
	"github.com/xkilldash9x/suture-cli/internal/config"
)

// DefaultClassName is the Weaviate class used when config leaves it unset.
const DefaultClassName = "ResolvedFailure"

// Client implements schemas.KnowledgeBase against a Weaviate instance.
type Client struct {
	client    *weaviate.Client
	className string
	log       *zap.Logger
}

// New builds a knowledge base client from config. It does not dial: the
// weaviate client is lazy, so connectivity problems surface per-call.
func New(cfg config.KnowledgeBaseConfig, logger *zap.Logger) (*Client, error) {
	wc, err := weaviate.NewClient(weaviate.Config{
		Scheme: cfg.Scheme,
		Host:   cfg.Host,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create weaviate client: %w", err)
	}
	className := cfg.ClassName
	if className == "" {
		className = DefaultClassName
	}
	return &Client{
		client:    wc,
		className: className,
		log:       logger.Named("knowledgebase"),
	}, nil
}

// FindSimilar returns prior resolved failures semantically close to the
// given error. Only entries at or above minSimilarity are returned.
func (c *Client) FindSimilar(ctx context.Context, errorMessage, stack string, topK int, minSimilarity float64) ([]schemas.SimilarIssue, error) {
	concepts := []string{errorMessage}
	if stack != "" {
		concepts = append(concepts, stack)
	}
	nearText := c.client.GraphQL().NearTextArgBuilder().
		WithConcepts(concepts).
		WithCertainty(float32(minSimilarity))

	fields := []graphql.Field{
		{Name: "errorMessage"},
		{Name: "fixDescription"},
		{Name: "patchDiff"},
		{Name: "succeeded"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "certainty"}}},
	}

	result, err := c.client.GraphQL().Get().
		WithClassName(c.className).
		WithFields(fields...).
		WithNearText(nearText).
		WithLimit(topK).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("similarity search error: %s", result.Errors[0].Message)
	}
	return c.parseResults(result.Data)
}

func (c *Client) parseResults(data map[string]models.JSONObject) ([]schemas.SimilarIssue, error) {
	get, ok := data["Get"].(map[string]interface{})
	if !ok {
		return nil, nil
	}
	rows, ok := get[c.className].([]interface{})
	if !ok {
		return nil, nil
	}

	issues := make([]schemas.SimilarIssue, 0, len(rows))
	for _, row := range rows {
		props, ok := row.(map[string]interface{})
		if !ok {
			continue
		}
		// Entries describing fixes that did not stick are noise to the
		// diagnostician; skip them.
		if succeeded, ok := props["succeeded"].(bool); ok && !succeeded {
			continue
		}
		issue := schemas.SimilarIssue{
			Fix:  stringProp(props, "fixDescription"),
			Diff: stringProp(props, "patchDiff"),
		}
		if add, ok := props["_additional"].(map[string]interface{}); ok {
			if certainty, ok := add["certainty"].(float64); ok {
				issue.Similarity = certainty
			}
		}
		issues = append(issues, issue)
	}
	return issues, nil
}

// StoreFailure records a failure together with the patch that addressed it
// and whether the patch verified. Returns the new object's ID. A zero
// Patch records the failure alone.
func (c *Client) StoreFailure(ctx context.Context, report schemas.FailureReport, patch schemas.Patch, success bool) (string, error) {
	props := map[string]interface{}{
		"testId":       report.TestID,
		"errorMessage": report.Error.Message,
		"errorType":    report.Error.Type,
		"stackTrace":   report.Error.Stack,
		"succeeded":    success,
		"recordedAt":   time.Now().UTC().Format(time.RFC3339),
	}
	if patch.Diff != "" {
		props["patchDiff"] = patch.Diff
		props["fixDescription"] = patch.Description
		props["targetFile"] = patch.TargetFile
	}

	created, err := c.client.Data().Creator().
		WithClassName(c.className).
		WithProperties(props).
		Do(ctx)
	if err != nil {
		return "", fmt.Errorf("storing failure: %w", err)
	}

	id := string(created.Object.ID)
	c.log.Debug("Stored failure in knowledge base",
		zap.String("id", id),
		zap.String("test_id", report.TestID),
		zap.Bool("succeeded", success))
	return id, nil
}

func stringProp(props map[string]interface{}, key string) string {
	if v, ok := props[key].(string); ok {
		return v
	}
	return ""
}
