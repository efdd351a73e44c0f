// File: internal/llm/normalizer.go
package llm

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/AnandaIndraTan/CERBERUS/api/schemas"
	"github.com/AnandaIndraTan/CERBERUS/internal/observability"
)

const extractionPromptTemplate = `Extract the information from the context into the specified format, remove any quotation in the strings.
These are the cases to handle:
1. If found multiple IP with the same host, separate them into different objects.

%s

Context:
%s`

// normalizedFormatInstructions spells out the envelope shape the model must
// return. Field names mirror the JSON tags of the scan record types.
const normalizedFormatInstructions = `Respond with a single JSON object of this exact structure:
{
  "result": [
    {
      "host": "hostname, or an empty string when unknown",
      "ip": "IP address, or an empty string when unknown",
      "ports": [
        {
          "port": 80,
          "protocol": "tcp",
          "service": {"name": "nginx", "version": "1.21"},
          "vulnerabilities": [
            {
              "cve_id": "CVE identifier, omit when none is known",
              "description": "what the finding is",
              "cvss": 7.5,
              "is_vulnerable": true
            }
          ]
        }
      ]
    }
  ]
}
Output only the JSON object, with no commentary around it.`

// Normalizer turns the raw transcript of a run into structured scan records
// with one extraction call. It never fails: anything that goes wrong yields
// an empty record list so the pipeline can keep going.
type Normalizer struct {
	client schemas.LLMClient
	logger *zap.Logger
}

// NewNormalizer wraps an LLM client as a ResultNormalizer.
func NewNormalizer(client schemas.LLMClient) *Normalizer {
	return &Normalizer{
		client: client,
		logger: observability.GetLogger().Named("llm.normalizer"),
	}
}

// Parse extracts scan records from the transcript. An empty transcript, a
// provider error, or an undecodable response all produce an empty slice.
func (n *Normalizer) Parse(ctx context.Context, transcript string) []schemas.ScanRecord {
	if transcript == "" {
		return nil
	}

	raw, err := n.client.Generate(ctx, schemas.GenerationRequest{
		UserPrompt: fmt.Sprintf(extractionPromptTemplate, normalizedFormatInstructions, transcript),
		Options: schemas.GenerationOptions{
			Temperature:     0,
			ForceJSONFormat: true,
		},
	})
	if err != nil {
		n.logger.Warn("Normalization call failed; continuing with no records.", zap.Error(err))
		return nil
	}

	envelope, err := ExtractJSONAs[schemas.NormalizedEnvelope](raw)
	if err != nil {
		n.logger.Warn("Normalization produced no decodable JSON; continuing with no records.", zap.Error(err))
		return nil
	}

	n.logger.Debug("Normalized transcript.", zap.Int("records", len(envelope.Result)))
	return envelope.Result
}
