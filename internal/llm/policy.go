// File: internal/llm/policy.go
package llm

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/AnandaIndraTan/CERBERUS/api/schemas"
	"github.com/AnandaIndraTan/CERBERUS/internal/observability"
)

const policySystemPrompt = "You are a penetration testing expert."

const firstToolPromptTemplate = `Given these available security testing tools: %s
And this security testing task: %s

Which tool should be used first to begin the security assessment?
Consider the most logical starting point for the given task.
Return only the name of the tool.`

const nextToolPromptTemplate = `Given the security scan results so far, analyze:

1. Current Task: %s
2. Tools already used: %s
3. All available tools: %s

Scan results:
%s

Based on the scan results and findings:
1. What security aspects have already been discovered?
2. What potential vulnerabilities or attack vectors need further investigation?
3. Which tool would be most appropriate to use next?

Return only the name of the next tool to use. If no more tools are needed, return FINISH.`

// SupervisorPolicy selects the next tool by asking the language model.
// Selection runs at temperature zero. The engine owns validity and
// no-repeat enforcement; this policy only produces a candidate.
type SupervisorPolicy struct {
	client schemas.LLMClient
	logger *zap.Logger
}

// NewSupervisorPolicy wraps an LLM client as a NextToolPolicy.
func NewSupervisorPolicy(client schemas.LLMClient) *SupervisorPolicy {
	return &SupervisorPolicy{
		client: client,
		logger: observability.GetLogger().Named("llm.policy"),
	}
}

// Select asks the model for the next tool. On the first step, before any
// tool has produced output, it uses a starting-point prompt; afterwards it
// reasons over the accumulated transcript. Provider errors propagate.
func (p *SupervisorPolicy) Select(ctx context.Context, prompt string, usedTools, availableTools []string, transcript string) (string, error) {
	options := strings.Join(withFinish(availableTools), ", ")

	var userPrompt string
	if transcript == "" && len(usedTools) == 0 {
		userPrompt = fmt.Sprintf(firstToolPromptTemplate, options, prompt)
	} else {
		used := strings.Join(usedTools, ", ")
		if used == "" {
			used = "none"
		}
		userPrompt = fmt.Sprintf(nextToolPromptTemplate, prompt, used, options, transcript)
	}

	raw, err := p.client.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt: policySystemPrompt,
		UserPrompt:   userPrompt,
		Options:      schemas.GenerationOptions{Temperature: 0},
	})
	if err != nil {
		return "", fmt.Errorf("selecting next tool: %w", err)
	}

	candidate := cleanToolName(raw)
	p.logger.Debug("Policy selected candidate.",
		zap.String("candidate", candidate),
		zap.Strings("used_tools", usedTools),
	)
	return candidate, nil
}

// withFinish appends the terminal token so the model always sees it as a
// legal answer.
func withFinish(tools []string) []string {
	for _, t := range tools {
		if t == schemas.StateFinish {
			return tools
		}
	}
	out := make([]string, 0, len(tools)+1)
	out = append(out, tools...)
	return append(out, schemas.StateFinish)
}

// cleanToolName strips the decoration models wrap around a bare answer.
// Only the FINISH token is case-normalized; tool names stay as emitted so
// the engine can match them against the configured list.
func cleanToolName(raw string) string {
	candidate := strings.TrimSpace(raw)
	candidate = strings.TrimSuffix(candidate, ".")
	candidate = strings.Trim(candidate, "\"'`")
	candidate = strings.TrimSuffix(candidate, ".")
	candidate = strings.TrimSpace(candidate)
	if strings.EqualFold(candidate, schemas.StateFinish) {
		return schemas.StateFinish
	}
	return candidate
}
