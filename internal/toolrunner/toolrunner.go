// File: internal/toolrunner/toolrunner.go
// Description: Executes one security tool per call. The language model
// synthesizes a single shell command for the assigned tool; the runner
// executes it through the system shell and reports the invocation back as
// structured text.

package toolrunner

import (
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strings"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/AnandaIndraTan/CERBERUS/api/schemas"
	"github.com/AnandaIndraTan/CERBERUS/internal/config"
	"github.com/AnandaIndraTan/CERBERUS/internal/observability"
)

const commandSystemPromptTemplate = `You are an expert at penetration testing.
You are assigned with a tool, %s, to perform a security scan on a target system.
Here are important things to note:
1. always return a valid string command
2. do not create another file
3. respond with exactly one complete shell command, with no commentary and no markdown fences
4. ensure the command is non-interactive and runnable as-is%s`

// Runner turns a tool name and a task into one executed shell command.
// Every failure here is fatal to the enclosing run; there are no retries.
type Runner struct {
	constraints map[string]any
	temperature float64
	client      schemas.LLMClient
	logger      *zap.Logger
}

// New builds a Runner. Engagement constraints from the pentest config are
// rendered into the command prompt as numbered instructions.
func New(cfg config.PenTestConfig, temperature float64, client schemas.LLMClient) (*Runner, error) {
	if client == nil {
		return nil, fmt.Errorf("cannot initialize tool runner with a nil LLM client")
	}
	return &Runner{
		constraints: cfg.Constraints,
		temperature: temperature,
		client:      client,
		logger:      observability.GetLogger().Named("toolrunner"),
	}, nil
}

// Run synthesizes and executes one command for the named tool, returning a
// JSON text with the exact command and its combined output.
func (r *Runner) Run(ctx context.Context, tool, prompt string) (string, error) {
	log := r.logger.With(zap.String("tool", tool))

	raw, err := r.client.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt: r.systemPrompt(tool),
		UserPrompt:   fmt.Sprintf("Task: %s", prompt),
		Options:      schemas.GenerationOptions{Temperature: r.temperature},
	})
	if err != nil {
		return "", fmt.Errorf("synthesizing %s command: %w", tool, err)
	}

	command := cleanCommand(raw)
	if command == "" {
		return "", fmt.Errorf("model returned no runnable %s command", tool)
	}
	log.Info("Executing synthesized command.", zap.String("command", command))

	output, err := exec.CommandContext(ctx, "sh", "-c", command).CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("running %s command %q: %w: %s", tool, command, err, firstLine(output))
	}
	log.Debug("Command completed.", zap.Int("output_bytes", len(output)))

	invocation, err := json.Marshal(schemas.ToolInvocation{
		Command: command,
		Output:  string(output),
	})
	if err != nil {
		return "", fmt.Errorf("encoding %s invocation: %w", tool, err)
	}
	return string(invocation), nil
}

// systemPrompt renders the persona, the base instructions, and the numbered
// engagement constraints for one tool.
func (r *Runner) systemPrompt(tool string) string {
	return fmt.Sprintf(commandSystemPromptTemplate, tool, renderConstraints(r.constraints))
}

// renderConstraints turns the free-form constraint map into instruction
// lines numbered after the base set. Keys are sorted so the prompt is
// stable across runs; underscores read as spaces.
func renderConstraints(constraints map[string]any) string {
	if len(constraints) == 0 {
		return ""
	}

	keys := make([]string, 0, len(constraints))
	for k := range constraints {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, key := range keys {
		fmt.Fprintf(&b, "\n%d. %s", i+5, renderConstraint(key, constraints[key]))
	}
	return b.String()
}

func renderConstraint(key string, value any) string {
	spaced := strings.ReplaceAll(key, "_", " ")

	switch v := value.(type) {
	case bool:
		if !v {
			return "do not " + spaced
		}
		return spaced
	case int, int32, int64, float32, float64:
		if strings.Contains(key, "time") {
			return fmt.Sprintf("%s is %v milliseconds", spaced, v)
		}
		return fmt.Sprintf("%s is %v", spaced, v)
	default:
		return fmt.Sprintf("%s is %v", spaced, value)
	}
}

// cleanCommand strips markdown fences and decoration and takes the first
// non-empty line as the command.
func cleanCommand(raw string) string {
	text := strings.TrimSpace(raw)
	if strings.Contains(text, "```") {
		for _, tag := range []string{"```bash", "```sh", "```shell", "```"} {
			text = strings.ReplaceAll(text, tag, "")
		}
	}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		line = strings.Trim(line, "`")
		if line != "" {
			return line
		}
	}
	return ""
}

func firstLine(output []byte) string {
	text := strings.TrimSpace(string(output))
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		return text[:i]
	}
	return text
}
