// File: internal/reporting/digest.go
// Description: The report digest pipeline. It drives the orchestration loop,
// normalizes the transcript into the threat map, ranks benchmark reference
// material against the findings, and runs two analysis passes before writing
// the markdown report.

package reporting

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/AnandaIndraTan/CERBERUS/api/schemas"
	"github.com/AnandaIndraTan/CERBERUS/internal/config"
	"github.com/AnandaIndraTan/CERBERUS/internal/knowledge"
	"github.com/AnandaIndraTan/CERBERUS/internal/observability"
)

// retrievalQuery anchors benchmark ranking even when the transcript is empty.
const retrievalQuery = "security vulnerabilities scan results"

// maxQueryBytes bounds the ranking query; embedding providers cap input size.
const maxQueryBytes = 8192

const reportPromptTemplate = `Generate a security vulnerability report based on the provided context.

CONTEXT:
%s

Your task:
1. Identify all vulnerabilities present in the scan results
2. For each vulnerability found, mention which OWASP Top 10 category it relates to (if applicable)
3. Describe the impact and risk of each vulnerability
4. Provide practical remediation steps

Structure your report with:
1. Executive Summary
2. Key Findings (including OWASP references where relevant)
3. Risk Assessment
4. Recommendations

Format main section headings as level-4 markdown headings (#### Title) and subsection headings as level-5 (##### Title).

Important: When mentioning OWASP, be natural. For example: "A SQL Injection vulnerability was found in the login form. This aligns with the OWASP Top 10 category A3:2021-Injection."`

const crossAnalysisPromptTemplate = `Cross-analyze the current report with knowledge graph insights:

Current Report:
%s

Knowledge Graph Data:
%s

Provide a final comprehensive report that integrates both analyses.

Format main section headings as level-4 markdown headings (#### Title) and subsection headings as level-5 (##### Title).`

// Orchestrator drives the tool-selection loop to completion and returns the
// aggregated transcript.
type Orchestrator interface {
	Run(ctx context.Context, prompt string) (string, error)
}

// Result carries the artifacts of one digest run.
type Result struct {
	ReportPath   string
	ReportID     string
	GraphSummary string
	Records      int
}

// Digest is the end-to-end report pipeline.
type Digest struct {
	engine      Orchestrator
	normalizer  schemas.ResultNormalizer
	mapper      schemas.ThreatMapper
	client      schemas.LLMClient
	embedder    schemas.EmbeddingClient
	cfg         config.ReportConfig
	temperature float64
	logger      *zap.Logger
}

// NewDigest wires the pipeline. Every dependency is required.
func NewDigest(
	engine Orchestrator,
	normalizer schemas.ResultNormalizer,
	mapper schemas.ThreatMapper,
	client schemas.LLMClient,
	embedder schemas.EmbeddingClient,
	cfg config.ReportConfig,
	temperature float64,
) (*Digest, error) {
	if engine == nil || normalizer == nil || mapper == nil || client == nil || embedder == nil {
		return nil, fmt.Errorf("cannot initialize report digest with nil dependencies")
	}
	return &Digest{
		engine:      engine,
		normalizer:  normalizer,
		mapper:      mapper,
		client:      client,
		embedder:    embedder,
		cfg:         cfg,
		temperature: temperature,
		logger:      observability.GetLogger().Named("digest"),
	}, nil
}

// Run executes the full pipeline for one task prompt and returns the written
// report's location together with the knowledge-graph summary. The graph is
// wiped and rebuilt at the start of every run.
func (d *Digest) Run(ctx context.Context, prompt string) (*Result, error) {
	if err := d.mapper.InitSchema(ctx); err != nil {
		return nil, fmt.Errorf("initializing threat map schema: %w", err)
	}

	d.logger.Info("Starting orchestration run.")
	aggregate, err := d.engine.Run(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("running orchestration: %w", err)
	}

	records := d.normalizer.Parse(ctx, aggregate)
	d.logger.Info("Parsed scan records.", zap.Int("count", len(records)))

	for i, record := range records {
		if err := d.mapper.Ingest(ctx, record); err != nil {
			return nil, fmt.Errorf("ingesting scan record %d of %d: %w", i+1, len(records), err)
		}
	}
	if len(records) > 0 && d.logger.Core().Enabled(zapcore.DebugLevel) {
		if pass, err := d.mapper.Verify(ctx); err != nil {
			d.logger.Warn("Threat map verification failed.", zap.Error(err))
		} else {
			d.logger.Debug("Threat map verification pass.", zap.String("result", pass))
		}
	}

	summary, err := d.mapper.Summarize(ctx)
	if err != nil {
		return nil, fmt.Errorf("summarizing threat map: %w", err)
	}

	analysisContext, err := d.buildContext(ctx, aggregate)
	if err != nil {
		return nil, err
	}

	d.logger.Info("Generating findings narrative.")
	narrative, err := d.client.Generate(ctx, schemas.GenerationRequest{
		UserPrompt: fmt.Sprintf(reportPromptTemplate, analysisContext),
		Options:    schemas.GenerationOptions{Temperature: d.temperature},
	})
	if err != nil {
		return nil, fmt.Errorf("generating findings narrative: %w", err)
	}

	d.logger.Info("Cross-analyzing with the knowledge graph.")
	finalReport, err := d.client.Generate(ctx, schemas.GenerationRequest{
		UserPrompt: fmt.Sprintf(crossAnalysisPromptTemplate, narrative, summary),
		Options:    schemas.GenerationOptions{Temperature: d.temperature},
	})
	if err != nil {
		return nil, fmt.Errorf("cross-analyzing report with graph summary: %w", err)
	}

	meta := NewMetadata(time.Now())
	path, err := WriteReport(d.cfg.Folder, finalReport, meta)
	if err != nil {
		return nil, err
	}
	d.logger.Info("Report written.", zap.String("path", path), zap.String("report_id", meta.ID))

	return &Result{
		ReportPath:   path,
		ReportID:     meta.ID,
		GraphSummary: summary,
		Records:      len(records),
	}, nil
}

// buildContext assembles the analysis context: the raw transcript, plus the
// benchmark chunks that rank closest to the findings when a benchmark
// document is configured and readable.
func (d *Digest) buildContext(ctx context.Context, aggregate string) (string, error) {
	scanSection := fmt.Sprintf("# Scan Results\n%s", aggregate)

	benchmark := d.benchmarkText()
	if benchmark == "" {
		return scanSection, nil
	}

	chunks := knowledge.ChunkText(benchmark, knowledge.DefaultChunkOptions())
	store, err := knowledge.NewStore(d.embedder)
	if err != nil {
		return "", err
	}
	if err := store.Add(ctx, chunks); err != nil {
		return "", fmt.Errorf("indexing benchmark document: %w", err)
	}

	top, err := store.Search(ctx, rankingQuery(aggregate), d.cfg.TopK)
	if err != nil {
		return "", fmt.Errorf("ranking benchmark chunks: %w", err)
	}
	if len(top) == 0 {
		return scanSection, nil
	}

	return fmt.Sprintf("%s\n\n# OWASP Reference\n%s", scanSection, strings.Join(top, "\n")), nil
}

// benchmarkText loads the configured benchmark document. A missing or
// unreadable document degrades to a scan-results-only context.
func (d *Digest) benchmarkText() string {
	path := d.cfg.SecurityBenchmark
	if path == "" {
		return ""
	}
	if _, err := os.Stat(path); err != nil {
		d.logger.Warn("Benchmark document not found.", zap.String("path", path), zap.Error(err))
		return ""
	}

	text, err := knowledge.ExtractFile(path)
	if err != nil {
		d.logger.Error("Failed to extract benchmark document.", zap.String("path", path), zap.Error(err))
		return ""
	}
	d.logger.Debug("Loaded benchmark document.", zap.String("path", path), zap.Int("bytes", len(text)))
	return text
}

// rankingQuery builds the retrieval query: the fixed anchor plus the head of
// the transcript, so benchmark chunks rank against the actual findings.
func rankingQuery(aggregate string) string {
	head := strings.TrimSpace(aggregate)
	if len(head) > maxQueryBytes {
		head = head[:maxQueryBytes]
	}
	if head == "" {
		return retrievalQuery
	}
	return retrievalQuery + "\n" + head
}
