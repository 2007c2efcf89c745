// Package improver revises agent prompts from failure history. Each
// relevant failure class contributes one fenced instruction block to the
// prompt; blocks are idempotent, so re-running the improver over the same
// history never grows the prompt twice. Revisions are new PromptConfig
// versions, never edits.
package improver

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/suture-cli/api/schemas"
)

// minOccurrencesForIssue filters one-off failures out of prompt revisions.
const minOccurrencesForIssue = 3

// issue is one prompt-addressable failure class.
type issue struct {
	name        string
	instruction string
}

// issueFor maps a failure category to its prompt-level remedy. Categories
// without a prompt-level remedy (infrastructure failures) return false.
func issueFor(category schemas.FailureCategory) (issue, bool) {
	switch category {
	case schemas.CategoryParseError:
		return issue{
			name:        "malformed-output",
			instruction: "Respond with a single valid JSON object and nothing else. No markdown fences, no commentary before or after the JSON.",
		}, true
	case schemas.CategoryPromptDrift:
		return issue{
			name:        "format-drift",
			instruction: "Match the response schema exactly: include every required field, use the exact field names given, and do not invent additional fields.",
		}, true
	case schemas.CategoryDataError:
		return issue{
			name:        "null-handling",
			instruction: "When proposing fixes, guard property accesses against null and undefined values before dereferencing them.",
		}, true
	case schemas.CategoryRetrievalError:
		return issue{
			name:        "missing-context",
			instruction: "If no prior similar failures are provided, reason from the error evidence alone instead of referring to unavailable context.",
		}, true
	default:
		return issue{}, false
	}
}

// Revision is the improver's output for one agent.
type Revision struct {
	Config     schemas.PromptConfig
	Issues     []string // issue names found in history
	Improved   []string // issue names whose block was newly added
	Confidence float64
}

// Improver derives prompt revisions and keeps the append-only version log.
type Improver struct {
	log      *zap.Logger
	versions *VersionLog
}

// New creates an Improver writing versions to the given log.
func New(logger *zap.Logger, versions *VersionLog) *Improver {
	return &Improver{
		log:      logger.Named("evolution.improver"),
		versions: versions,
	}
}

// Improve examines the agent's failure rows and produces the next prompt
// version with instruction blocks for every recurring prompt-addressable
// issue. The returned revision is already appended to the version log.
//
// Confidence: 1.0 when the history holds no relevant failures (nothing to
// fix means nothing to doubt); otherwise a base of 0.5, raised by sample
// size (+0.2 at ten or more occurrences, +0.1 at five) and by the share
// of issues this revision newly addresses (+0.3 at full coverage), capped
// at 1.0.
func (im *Improver) Improve(agent string, current schemas.PromptConfig, rows []schemas.FailureAnalysis) (*Revision, error) {
	if current.Agent != "" && current.Agent != agent {
		return nil, fmt.Errorf("prompt config belongs to agent %q, not %q", current.Agent, agent)
	}

	occurrences := map[string]int{}
	instructions := map[string]string{}
	total := 0
	for _, row := range rows {
		if row.Agent != agent {
			continue
		}
		iss, ok := issueFor(row.Category)
		if !ok {
			continue
		}
		occurrences[iss.name] += row.Frequency
		instructions[iss.name] = iss.instruction
		total += row.Frequency
	}

	var issues []string
	for name, count := range occurrences {
		if count >= minOccurrencesForIssue {
			issues = append(issues, name)
		}
	}
	// Blocks are appended in name order so identical history always
	// yields identical prompt text.
	sort.Strings(issues)

	if len(issues) == 0 {
		next, err := im.appendVersion(agent, current, current.Prompt)
		if err != nil {
			return nil, err
		}
		im.log.Info("No recurring prompt-addressable failures, prompt unchanged",
			zap.String("agent", agent),
			zap.Int("version", next.Version))
		return &Revision{Config: next, Confidence: 1.0}, nil
	}

	prompt := current.Prompt
	var improved []string
	for _, name := range issues {
		block := instructionBlock(name, instructions[name])
		if strings.Contains(prompt, blockHeader(name)) {
			continue
		}
		prompt = strings.TrimRight(prompt, "\n") + "\n\n" + block
		improved = append(improved, name)
	}

	confidence := 0.5
	switch {
	case total >= 10:
		confidence += 0.2
	case total >= 5:
		confidence += 0.1
	}
	confidence += 0.3 * float64(len(improved)) / float64(len(issues))
	if confidence > 1.0 {
		confidence = 1.0
	}

	next, err := im.appendVersion(agent, current, prompt)
	if err != nil {
		return nil, err
	}

	im.log.Info("Produced prompt revision",
		zap.String("agent", agent),
		zap.Int("version", next.Version),
		zap.Strings("issues", issues),
		zap.Strings("newly_addressed", improved),
		zap.Float64("confidence", confidence))

	return &Revision{
		Config:     next,
		Issues:     issues,
		Improved:   improved,
		Confidence: confidence,
	}, nil
}

// appendVersion records the next immutable prompt version. Every Improve
// call goes through here, including ones that leave the text unchanged.
func (im *Improver) appendVersion(agent string, current schemas.PromptConfig, prompt string) (schemas.PromptConfig, error) {
	next := schemas.PromptConfig{
		ID:         uuid.New().String(),
		Name:       current.Name,
		Agent:      agent,
		Version:    current.Version + 1,
		Prompt:     prompt,
		Parameters: current.Parameters,
		CreatedAt:  time.Now().UTC(),
	}
	if im.versions != nil {
		if err := im.versions.Append(next); err != nil {
			return schemas.PromptConfig{}, fmt.Errorf("failed to record prompt version: %w", err)
		}
	}
	return next, nil
}

func blockHeader(name string) string {
	return fmt.Sprintf("## corrective: %s", name)
}

func instructionBlock(name, instruction string) string {
	return fmt.Sprintf("%s\n%s", blockHeader(name), instruction)
}
