// File: internal/threatmap/ingestor.go
package threatmap

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/AnandaIndraTan/CERBERUS/api/schemas"
	"github.com/AnandaIndraTan/CERBERUS/internal/observability"
)

// noRelationshipsSentinel is returned by Summarize when no edge of any
// canonical type survives the null checks.
const noRelationshipsSentinel = "No valid relationships found in the knowledge graph."

// ThreatMap is the schema-driven knowledge-graph ingestion engine. It owns
// the graph exclusively for the duration of a run: InitSchema wipes the
// store, Ingest upserts scan records edge by edge, Summarize renders the
// graph back into prose. Strictly single-writer; the destructive init step
// alone makes concurrent use against one store unsafe.
type ThreatMap struct {
	schema *GraphSchema
	qb     *QueryBuilder
	client schemas.GraphClient
	logger *zap.Logger
}

// NewThreatMap wires a loaded schema to a connected graph client.
func NewThreatMap(schema *GraphSchema, client schemas.GraphClient) *ThreatMap {
	return &ThreatMap{
		schema: schema,
		qb:     NewQueryBuilder(schema),
		client: client,
		logger: observability.GetLogger().Named("threatmap"),
	}
}

// InitSchema rebuilds the store from scratch: wipe every node and edge,
// drop all existing uniqueness constraints, then recreate the constraint
// and index set the schema declares. Running it twice yields the same
// constraint/index set and an empty graph both times.
func (t *ThreatMap) InitSchema(ctx context.Context) error {
	if _, err := t.client.ExecuteWrite(ctx, wipeQuery, nil); err != nil {
		return fmt.Errorf("wiping graph: %w", err)
	}

	listing, err := t.client.ExecuteRead(ctx, showConstraintsQuery, nil)
	if err != nil {
		return fmt.Errorf("listing constraints: %w", err)
	}
	for _, row := range listing.Records {
		name, ok := row["name"].(string)
		if !ok || name == "" {
			continue
		}
		if _, err := t.client.ExecuteWrite(ctx, t.qb.DropConstraintQuery(name), nil); err != nil {
			// A constraint that will not drop is left behind; recreation
			// below is IF NOT EXISTS so init still converges.
			t.logger.Warn("Failed to drop constraint, continuing.",
				zap.String("constraint", name),
				zap.Error(err),
			)
		}
	}

	for _, label := range t.schema.SortedLabels() {
		keys := t.schema.KeyProps(label)
		if len(keys) == 0 {
			continue
		}
		if _, err := t.client.ExecuteWrite(ctx, t.qb.CreateConstraintQuery(label, keys), nil); err != nil {
			return fmt.Errorf("creating constraint for %s: %w", label, err)
		}
	}
	for _, pair := range t.schema.IndexPairs() {
		if _, err := t.client.ExecuteWrite(ctx, t.qb.CreateIndexQuery(pair), nil); err != nil {
			return fmt.Errorf("creating index on %s.%s: %w", pair.RelType, pair.Prop, err)
		}
	}

	t.logger.Info("Graph schema initialized.",
		zap.Int("labels", len(t.schema.Labels)),
		zap.Int("indexes", len(t.schema.IndexPairs())),
	)
	return nil
}

// UpsertEdge merges both endpoint nodes and the declared edge between them
// in one write. An undeclared label pair fails with ErrInvalidRelationship
// before anything is written.
func (t *ThreatMap) UpsertEdge(ctx context.Context, from, to Entity, edgeProps map[string]any) error {
	cypher, params, err := t.qb.UpsertEdgeQuery(from, to, edgeProps)
	if err != nil {
		return err
	}
	result, err := t.client.ExecuteWrite(ctx, cypher, params)
	if err != nil {
		return fmt.Errorf("upserting %s -> %s: %w", from.Label, to.Label, err)
	}
	t.logger.Debug("Edge upserted.",
		zap.String("from", from.Label),
		zap.String("to", to.Label),
		zap.Int("nodes_created", result.Counters.NodesCreated),
		zap.Int("relationships_created", result.Counters.RelationshipsCreated),
	)
	return nil
}

// Ingest upserts one scan record in fixed order: Host->IPAddress, then per
// port IPAddress->Port, Port->Service and Service->Vulnerability. An
// invalid relationship is logged, collected and skipped so its siblings
// still land; a store failure aborts immediately. Earlier edges of an
// aborted call are not rolled back.
func (t *ThreatMap) Ingest(ctx context.Context, record schemas.ScanRecord) error {
	var invalid []error
	upsert := func(from, to Entity) error {
		err := t.UpsertEdge(ctx, from, to, nil)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrInvalidRelationship) {
			t.logger.Warn("Skipping relationship not declared in schema.",
				zap.String("from", from.Label),
				zap.String("to", to.Label),
			)
			invalid = append(invalid, err)
			return nil
		}
		return err
	}

	ipEntity := Entity{Label: labelIPAddress, Props: map[string]any{"address": record.IP}}

	if record.Host != "" && record.IP != "" {
		hostEntity := Entity{Label: labelHost, Props: map[string]any{"name": record.Host}}
		if err := upsert(hostEntity, ipEntity); err != nil {
			return err
		}
	}

	for _, port := range record.Ports {
		portEntity := Entity{Label: labelPort, Props: map[string]any{
			"number":     port.Number,
			"protocol":   port.Protocol,
			"ip_address": record.IP,
		}}
		if err := upsert(ipEntity, portEntity); err != nil {
			return err
		}

		serviceEntity := Entity{Label: labelService, Props: map[string]any{
			"name":    port.Service.Name,
			"version": port.Service.Version,
		}}
		if err := upsert(portEntity, serviceEntity); err != nil {
			return err
		}

		for _, vuln := range port.Vulnerabilities {
			props := map[string]any{
				"description":   vuln.Description,
				"cvss":          vuln.CVSS,
				"is_vulnerable": vuln.IsVulnerable,
			}
			if vuln.CVEID != "" {
				props["cve_id"] = vuln.CVEID
			}
			if err := upsert(serviceEntity, Entity{Label: labelVulnerability, Props: props}); err != nil {
				return err
			}
		}
	}

	return errors.Join(invalid...)
}

// edgeSummary pairs one canonical edge query with its line renderer.
type edgeSummary struct {
	cypher string
	render func(row map[string]any) (string, bool)
}

// Summaries run in this fixed order. Each query returns the node and edge
// properties its renderer needs, aliased to stable column names.
var edgeSummaries = []edgeSummary{
	{
		cypher: "MATCH (h:Host)-[r:RESOLVES_TO]->(ip:IPAddress) " +
			"RETURN h.name AS host, ip.address AS ip, r.resolution_type AS resolution_type",
		render: renderResolveLine,
	},
	{
		cypher: "MATCH (ip:IPAddress)-[r:HOSTS]->(p:Port) " +
			"RETURN ip.address AS ip, p.number AS port, p.protocol AS protocol, r.status AS status",
		render: renderHostsLine,
	},
	{
		cypher: "MATCH (p:Port)-[r:RUNS]->(s:Service) " +
			"RETURN p.number AS port, p.protocol AS protocol, s.name AS service, s.version AS version, r.status AS status",
		render: renderRunsLine,
	},
	{
		cypher: "MATCH (s:Service)-[r:HAS_VULNERABILITY]->(v:Vulnerability) " +
			"RETURN s.name AS service, s.version AS version, v.cve_id AS cve_id, v.description AS description, v.cvss AS cvss",
		render: renderVulnerabilityLine,
	},
}

// Summarize renders the current graph as one descriptive line per edge,
// in the fixed edge-type order. Edges missing an identity property are
// skipped; optional descriptive fields fall back to their documented
// defaults. With no renderable edge at all it returns the sentinel string.
func (t *ThreatMap) Summarize(ctx context.Context) (string, error) {
	var lines []string
	for _, summary := range edgeSummaries {
		result, err := t.client.ExecuteRead(ctx, summary.cypher, nil)
		if err != nil {
			return "", fmt.Errorf("querying graph for summary: %w", err)
		}
		for _, row := range result.Records {
			if line, ok := summary.render(row); ok {
				lines = append(lines, line)
			}
		}
	}
	if len(lines) == 0 {
		return noRelationshipsSentinel, nil
	}
	return strings.Join(lines, "\n"), nil
}

// verifyQueries is the smoke-test pass over the four canonical edge
// patterns. Any failure surfaces; results are only counted.
var verifyQueries = []string{
	"MATCH (h:Host)-[r:RESOLVES_TO]->(ip:IPAddress) " +
		"RETURN h.name AS host, ip.address AS ip",
	"MATCH (ip:IPAddress)-[r:HOSTS]->(p:Port) " +
		"RETURN ip.address AS ip, p.number AS port, p.protocol AS protocol, p.ip_address AS port_ip",
	"MATCH (p:Port)-[r:RUNS]->(s:Service) " +
		"RETURN p.number AS port, p.ip_address AS ip, s.name AS service, s.version AS version",
	"MATCH (s:Service)-[r:HAS_VULNERABILITY]->(v:Vulnerability) " +
		"RETURN s.name AS service, v.description AS vulnerability, v.cvss AS cvss",
}

// Verify runs the canonical read queries end to end and reports SUCCESS if
// every one of them executes.
func (t *ThreatMap) Verify(ctx context.Context) (string, error) {
	for i, cypher := range verifyQueries {
		result, err := t.client.ExecuteRead(ctx, cypher, nil)
		if err != nil {
			return "", fmt.Errorf("verification query %d failed: %w", i+1, err)
		}
		t.logger.Debug("Verification query completed.",
			zap.Int("query", i+1),
			zap.Int("rows", len(result.Records)),
		)
	}
	return "SUCCESS", nil
}

// -- Line Renderers --

func renderResolveLine(row map[string]any) (string, bool) {
	host, ok := stringColumn(row, "host")
	if !ok {
		return "", false
	}
	ip, ok := stringColumn(row, "ip")
	if !ok {
		return "", false
	}
	resolutionType := stringColumnOr(row, "resolution_type", "A")
	return fmt.Sprintf("Host %s resolves to IP address %s (record type %s).", host, ip, resolutionType), true
}

func renderHostsLine(row map[string]any) (string, bool) {
	ip, ok := stringColumn(row, "ip")
	if !ok {
		return "", false
	}
	port, ok := intColumn(row, "port")
	if !ok {
		return "", false
	}
	status := stringColumnOr(row, "status", "open")
	return fmt.Sprintf("IP address %s hosts port %s (%s).", ip, portLabelText(port, row), status), true
}

func renderRunsLine(row map[string]any) (string, bool) {
	port, ok := intColumn(row, "port")
	if !ok {
		return "", false
	}
	service, ok := stringColumn(row, "service")
	if !ok {
		return "", false
	}
	status := stringColumnOr(row, "status", "running")
	return fmt.Sprintf("Port %s runs %s (%s).", portLabelText(port, row), serviceLabelText(service, row), status), true
}

func renderVulnerabilityLine(row map[string]any) (string, bool) {
	service, ok := stringColumn(row, "service")
	if !ok {
		return "", false
	}
	description, ok := stringColumn(row, "description")
	if !ok {
		return "", false
	}
	line := fmt.Sprintf("Service %s is vulnerable", serviceLabelText(service, row))
	if cve, ok := stringColumn(row, "cve_id"); ok {
		line += " to " + cve
	}
	line += ": " + description
	if cvss, ok := floatColumn(row, "cvss"); ok {
		line += fmt.Sprintf(" (CVSS %s)", strconv.FormatFloat(cvss, 'f', -1, 64))
	}
	return line + ".", true
}

// portLabelText renders "80/tcp", or "80" when no protocol was recorded.
func portLabelText(port int64, row map[string]any) string {
	if protocol, ok := stringColumn(row, "protocol"); ok {
		return fmt.Sprintf("%d/%s", port, protocol)
	}
	return strconv.FormatInt(port, 10)
}

// serviceLabelText renders "nginx 1.21", or just the name without a
// recorded version.
func serviceLabelText(service string, row map[string]any) string {
	if version, ok := stringColumn(row, "version"); ok {
		return service + " " + version
	}
	return service
}

// stringColumn reads a non-empty string column; null, absent and empty
// all count as missing.
func stringColumn(row map[string]any, key string) (string, bool) {
	v, present := row[key]
	if !present || v == nil {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

func stringColumnOr(row map[string]any, key, fallback string) string {
	if s, ok := stringColumn(row, key); ok {
		return s
	}
	return fallback
}

// intColumn tolerates the integer encodings a store round-trip can
// produce.
func intColumn(row map[string]any, key string) (int64, bool) {
	switch n := row[key].(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	}
	return 0, false
}

func floatColumn(row map[string]any, key string) (float64, bool) {
	switch n := row[key].(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	}
	return 0, false
}
