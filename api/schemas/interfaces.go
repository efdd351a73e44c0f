package schemas

import (
	"context"
)

// -- Orchestration Contracts --

const (
	// StateSupervisor is the bootstrap/decision state of the orchestration
	// loop. Every run starts here and returns here between tool executions.
	StateSupervisor = "supervisor"
	// StateFinish is the terminal token. The policy returns it to end a run,
	// and the engine coerces any invalid selection to it.
	StateFinish = "FINISH"
)

// ToolRunner executes one named tool against a task description and returns
// the raw textual result. The engine treats the output as opaque text. A
// returned error is fatal to the enclosing run; the runner must not retry
// internally.
type ToolRunner interface {
	// Run executes the named tool for the given task prompt and returns its
	// raw output.
	Run(ctx context.Context, tool, prompt string) (string, error)
}

// NextToolPolicy is the external decision source of the orchestration loop.
// It must be safe to call repeatedly; the engine validates every selection
// and coerces errors, unknown tools, and already-used tools to StateFinish,
// so a policy implementation carries no correctness burden beyond returning
// some string.
type NextToolPolicy interface {
	// Select picks the next tool given the task prompt, the tools already
	// executed, the configured tool list, and the accumulated transcript of
	// prior tool output. It returns a tool name or StateFinish.
	Select(ctx context.Context, prompt string, usedTools, availableTools []string, transcript string) (string, error)
}

// ResultNormalizer parses the accumulated raw transcript of a run into
// structured scan records. By contract it never fails: when no structured
// data can be extracted it returns an empty slice, so the pipeline can still
// summarize an unchanged graph.
type ResultNormalizer interface {
	// Parse extracts scan records from the transcript. An empty result is a
	// valid outcome, not an error.
	Parse(ctx context.Context, transcript string) []ScanRecord
}

// -- Graph Store Contracts --

// GraphCounters reports the write effects of a single graph statement, taken
// from the store's result summary.
type GraphCounters struct {
	NodesCreated         int `json:"nodes_created"`
	NodesDeleted         int `json:"nodes_deleted"`
	RelationshipsCreated int `json:"relationships_created"`
	RelationshipsDeleted int `json:"relationships_deleted"`
	PropertiesSet        int `json:"properties_set"`
}

// GraphResult is the decoded outcome of one graph statement: the matched
// records as column-keyed maps plus the store's write counters.
type GraphResult struct {
	Records  []map[string]any `json:"records"`
	Counters GraphCounters    `json:"counters"`
}

// GraphClient abstracts the property-graph store. Each call acquires and
// releases its own short-lived session; there is no multi-statement
// transaction surface. All values travel as parameters, never interpolated
// into the statement text.
type GraphClient interface {
	// Connect establishes and verifies connectivity to the store.
	Connect(ctx context.Context) error
	// ExecuteRead runs a read statement in its own session.
	ExecuteRead(ctx context.Context, cypher string, params map[string]any) (*GraphResult, error)
	// ExecuteWrite runs a write statement in its own session.
	ExecuteWrite(ctx context.Context, cypher string, params map[string]any) (*GraphResult, error)
	// Close releases the underlying driver and all pooled connections.
	Close(ctx context.Context) error
}

// ThreatMapper is the public surface of the knowledge-graph ingestion engine.
type ThreatMapper interface {
	// InitSchema wipes the graph and rebuilds constraints and indexes from
	// the loaded schema. Destructive; single-writer only.
	InitSchema(ctx context.Context) error
	// Ingest upserts one scan record as graph entities and edges.
	Ingest(ctx context.Context, record ScanRecord) error
	// Summarize renders the current graph as one descriptive line per edge.
	Summarize(ctx context.Context) (string, error)
	// Verify runs a smoke-test query pass over the canonical edge patterns.
	Verify(ctx context.Context) (string, error)
}

// -- LLM Contracts --

// GenerationOptions controls the sampling behavior of a generation call.
type GenerationOptions struct {
	Temperature     float64 `json:"temperature"`       // Controls randomness. Lower is more deterministic.
	ForceJSONFormat bool    `json:"force_json_format"` // If true, instructs the model to emit valid JSON only.
}

// GenerationRequest encapsulates a complete request to the language model.
type GenerationRequest struct {
	SystemPrompt string            `json:"system_prompt"` // Instructions for the model's persona and task.
	UserPrompt   string            `json:"user_prompt"`   // The specific query or input.
	Options      GenerationOptions `json:"options"`
}

// LLMClient defines a standard interface for interacting with a language
// model, abstracting the specifics of the underlying provider.
type LLMClient interface {
	// Generate produces a text completion for the provided request.
	Generate(ctx context.Context, req GenerationRequest) (string, error)
	// Close releases any resources held by the client.
	Close() error
}

// EmbeddingClient produces vector embeddings for text, used by the report
// digest to rank reference material against scan findings.
type EmbeddingClient interface {
	// Embed returns one vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}
