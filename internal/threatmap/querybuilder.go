// File: internal/threatmap/querybuilder.go
package threatmap

import (
	"fmt"
	"sort"
	"strings"
)

const (
	labelHost          = "Host"
	labelIPAddress     = "IPAddress"
	labelPort          = "Port"
	labelService       = "Service"
	labelVulnerability = "Vulnerability"

	wipeQuery            = "MATCH (n) DETACH DELETE n"
	showConstraintsQuery = "SHOW CONSTRAINTS"
)

// Entity is one endpoint of an edge upsert: a node label plus its
// properties. Key properties identify the node; the rest are descriptive.
type Entity struct {
	Label string
	Props map[string]any
}

// QueryBuilder turns schema-validated edge upserts into parameterized
// Cypher. All values travel as parameters; only identifiers vetted at
// schema load time appear in query text.
type QueryBuilder struct {
	schema *GraphSchema
}

func NewQueryBuilder(schema *GraphSchema) *QueryBuilder {
	return &QueryBuilder{schema: schema}
}

// UpsertEdgeQuery builds the single statement that merges both endpoint
// nodes and the directed edge between them. Edge properties are the
// schema defaults overlaid with the caller's, stamped with created_at and
// last_seen on create and a refreshed last_seen on match.
func (qb *QueryBuilder) UpsertEdgeQuery(from, to Entity, edgeProps map[string]any) (string, map[string]any, error) {
	rel, err := qb.schema.Relationship(from.Label, to.Label)
	if err != nil {
		return "", nil, err
	}

	params := make(map[string]any)
	var b strings.Builder

	if err := qb.writeNodeMerge(&b, params, "a", "from", from); err != nil {
		return "", nil, err
	}
	if err := qb.writeNodeMerge(&b, params, "b", "to", to); err != nil {
		return "", nil, err
	}

	props := make(map[string]any, len(rel.DefaultProps)+len(edgeProps))
	for k, v := range rel.DefaultProps {
		props[k] = v
	}
	for k, v := range edgeProps {
		props[k] = v
	}
	params["edge_props"] = props

	fmt.Fprintf(&b, "MERGE (a)-[r:%s]->(b)\n", rel.Type)
	b.WriteString("ON CREATE SET r = $edge_props, r.created_at = datetime(), r.last_seen = datetime()\n")
	b.WriteString("ON MATCH SET r.last_seen = datetime()")

	return b.String(), params, nil
}

// writeNodeMerge emits the MERGE clause for one endpoint. Nodes merge on
// their natural-key properties and take the remainder via SET +=, so a
// re-scan updates descriptive fields without minting duplicates. A label
// without a declared key falls back to merging on the full property set.
func (qb *QueryBuilder) writeNodeMerge(b *strings.Builder, params map[string]any, alias, side string, e Entity) error {
	keys := qb.schema.KeyProps(e.Label)
	if len(keys) == 0 {
		keys = sortedPropNames(e.Props)
	}
	keySet := make(map[string]struct{}, len(keys))
	keyProps := make(map[string]any, len(keys))
	for _, k := range keys {
		v, ok := e.Props[k]
		if !ok {
			return fmt.Errorf("%w: %s is missing key property %q", ErrInvalidRelationship, e.Label, k)
		}
		keySet[k] = struct{}{}
		keyProps[k] = v
	}
	extra := make(map[string]any)
	for k, v := range e.Props {
		if _, isKey := keySet[k]; !isKey {
			extra[k] = v
		}
	}
	params[side+"_key"] = keyProps
	params[side+"_extra"] = extra

	fmt.Fprintf(b, "MERGE (%s:%s {", alias, e.Label)
	for i, k := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(b, "%s: $%s_key.%s", k, side, k)
	}
	b.WriteString("})\n")
	fmt.Fprintf(b, "SET %s += $%s_extra\n", alias, side)
	return nil
}

// CreateConstraintQuery builds the uniqueness DDL for one label. A
// composite key becomes a single constraint over the property tuple.
func (qb *QueryBuilder) CreateConstraintQuery(label string, props []string) string {
	quoted := make([]string, len(props))
	for i, p := range props {
		quoted[i] = "n." + p
	}
	target := quoted[0]
	if len(quoted) > 1 {
		target = "(" + strings.Join(quoted, ", ") + ")"
	}
	return fmt.Sprintf("CREATE CONSTRAINT IF NOT EXISTS FOR (n:%s) REQUIRE %s IS UNIQUE", label, target)
}

// CreateIndexQuery builds the relationship property index DDL for one
// (type, property) pair.
func (qb *QueryBuilder) CreateIndexQuery(pair IndexPair) string {
	return fmt.Sprintf("CREATE INDEX IF NOT EXISTS FOR ()-[r:%s]-() ON (r.%s)", pair.RelType, pair.Prop)
}

// DropConstraintQuery builds the DDL that removes one named constraint.
// Names come back from SHOW CONSTRAINTS and are quoted verbatim.
func (qb *QueryBuilder) DropConstraintQuery(name string) string {
	return fmt.Sprintf("DROP CONSTRAINT `%s`", strings.ReplaceAll(name, "`", "``"))
}

func sortedPropNames(props map[string]any) []string {
	names := make([]string, 0, len(props))
	for k := range props {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
