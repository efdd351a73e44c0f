// File: internal/orchestrator/orchestrator.go
// Description: Drives the tool-selection loop of a scan run. The engine is
// injected with its runner and policy via interfaces, making it decoupled and
// testable.

package orchestrator

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/AnandaIndraTan/CERBERUS/api/schemas"
	"github.com/AnandaIndraTan/CERBERUS/internal/observability"
)

// State is the working memory of one orchestration run. Results holds each
// tool's raw output keyed by tool name; UsedTools preserves execution order
// so the aggregate transcript is deterministic.
type State struct {
	Prompt    string
	Results   map[string]string
	UsedTools []string
	Current   string
	Next      string
}

func newState(prompt string) *State {
	return &State{
		Prompt:  prompt,
		Results: make(map[string]string),
		Current: schemas.StateSupervisor,
		Next:    schemas.StateSupervisor,
	}
}

// Used reports whether the tool has already executed in this run.
func (s *State) Used(tool string) bool {
	return slices.Contains(s.UsedTools, tool)
}

// Aggregate renders the accumulated outputs as one transcript, one block per
// executed tool in execution order. Tool output is carried verbatim.
func (s *State) Aggregate() string {
	var b strings.Builder
	for _, tool := range s.UsedTools {
		output, ok := s.Results[tool]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "\nTool: %s\n%s\n", tool, output)
	}
	return b.String()
}

// Engine runs the supervisor loop: execute the current tool, ask the policy
// for the next one, and coerce anything invalid to FINISH. Because every
// accepted selection must name an unused configured tool, a run over N tools
// terminates within N+1 supervisor evaluations no matter what the policy
// returns.
type Engine struct {
	tools  []string
	runner schemas.ToolRunner
	policy schemas.NextToolPolicy
	logger *zap.Logger
}

// New creates an orchestration engine over the configured tool list.
func New(tools []string, runner schemas.ToolRunner, policy schemas.NextToolPolicy) (*Engine, error) {
	if runner == nil || policy == nil {
		return nil, fmt.Errorf("cannot initialize orchestration engine with nil dependencies")
	}
	return &Engine{
		tools:  tools,
		runner: runner,
		policy: policy,
		logger: observability.GetLogger().Named("orchestrator"),
	}, nil
}

// Run drives a fresh state from supervisor to FINISH and returns the final
// aggregate transcript. A tool execution failure aborts the run; policy
// failures never do.
func (e *Engine) Run(ctx context.Context, prompt string) (string, error) {
	runID := uuid.NewString()
	log := e.logger.With(zap.String("run_id", runID))

	state := newState(prompt)
	log.Info("Starting orchestration run.", zap.Strings("tool_list", e.tools))

	for state.Current != schemas.StateFinish {
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("orchestration run canceled: %w", err)
		}
		if err := e.step(ctx, log, state); err != nil {
			return "", err
		}
	}

	log.Info("Orchestration run finished.",
		zap.Int("tools_used", len(state.UsedTools)),
		zap.Strings("used_tools", state.UsedTools),
	)
	return state.Aggregate(), nil
}

// step performs one supervisor evaluation: run the pending tool if there is
// one, then decide where to go next.
func (e *Engine) step(ctx context.Context, log *zap.Logger, state *State) error {
	executed := ""
	if state.Current != schemas.StateSupervisor {
		tool := state.Current
		log.Info("Executing tool.", zap.String("tool", tool))

		output, err := e.runner.Run(ctx, tool, state.Prompt)
		if err != nil {
			return fmt.Errorf("executing tool %s: %w", tool, err)
		}

		state.Results[tool] = output
		state.UsedTools = append(state.UsedTools, tool)
		executed = tool
	}

	next := e.selectNext(ctx, log, state)
	if executed != "" && next == executed {
		log.Warn("Policy repeated the tool that just ran; finishing.", zap.String("tool", executed))
		next = schemas.StateFinish
	}

	state.Current = next
	state.Next = next
	return nil
}

// selectNext queries the policy and validates its answer. Errors, unknown
// tools, and already-used tools all collapse to FINISH.
func (e *Engine) selectNext(ctx context.Context, log *zap.Logger, state *State) string {
	candidate, err := e.policy.Select(ctx, state.Prompt, state.UsedTools, e.tools, state.Aggregate())
	if err != nil {
		log.Warn("Policy selection failed; finishing run.", zap.Error(err))
		return schemas.StateFinish
	}
	if candidate == schemas.StateFinish {
		log.Info("Policy finished the run.")
		return schemas.StateFinish
	}
	if !slices.Contains(e.tools, candidate) {
		log.Warn("Policy selected a tool outside the configured list; finishing run.",
			zap.String("candidate", candidate))
		return schemas.StateFinish
	}
	if state.Used(candidate) {
		log.Warn("Policy selected an already-used tool; finishing run.",
			zap.String("candidate", candidate))
		return schemas.StateFinish
	}

	log.Info("Policy selected next tool.", zap.String("tool", candidate))
	return candidate
}
