// File: cmd/suite.go
package cmd

import (
	"fmt"
	"net/url"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/suture-cli/api/schemas"
)

// testSuite is the on-disk YAML shape of a suite file.
type testSuite struct {
	Tests []schemas.TestSpecification `yaml:"tests"`
}

// loadSuite reads a YAML suite file and, when baseURL is set, rewrites
// every test's target onto that environment, preserving per-test paths.
func loadSuite(path, baseURL string) ([]schemas.TestSpecification, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read suite file %s: %w", path, err)
	}
	var suite testSuite
	if err := yaml.Unmarshal(data, &suite); err != nil {
		return nil, fmt.Errorf("failed to parse suite file %s: %w", path, err)
	}
	if len(suite.Tests) == 0 {
		return nil, fmt.Errorf("suite file %s contains no tests", path)
	}

	for i := range suite.Tests {
		t := &suite.Tests[i]
		if t.ID == "" {
			return nil, fmt.Errorf("test %d in %s has no id", i, path)
		}
		if baseURL != "" {
			rewritten, err := rewriteTarget(t.TargetURL, baseURL)
			if err != nil {
				return nil, fmt.Errorf("test %s: %w", t.ID, err)
			}
			t.TargetURL = rewritten
		}
		if t.TargetURL == "" {
			return nil, fmt.Errorf("test %s has no target_url and no base URL is configured", t.ID)
		}
	}
	return suite.Tests, nil
}

// rewriteTarget grafts the original target's path and query onto base.
func rewriteTarget(original, base string) (string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid base URL %q: %w", base, err)
	}
	if original == "" {
		return baseURL.String(), nil
	}
	orig, err := url.Parse(original)
	if err != nil {
		return "", fmt.Errorf("invalid target URL %q: %w", original, err)
	}
	baseURL.Path = orig.Path
	baseURL.RawQuery = orig.RawQuery
	baseURL.Fragment = orig.Fragment
	return baseURL.String(), nil
}
