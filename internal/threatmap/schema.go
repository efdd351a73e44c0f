// File: internal/threatmap/schema.go
package threatmap

import (
	"fmt"
	"os"
	"regexp"
	"sort"

	json "github.com/json-iterator/go"
)

// identPattern is the shape every label, relationship type and property
// name must have before it is spliced into DDL text. Schema DDL cannot be
// parameterized, so identifiers are vetted once at load time and trusted
// afterwards.
var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// StringList decodes either a single JSON string or an array of strings.
// Schema authors write "constraints": "name" for a single-property key and
// an array for a composite one.
type StringList []string

func (s *StringList) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		*s = StringList{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("constraints must be a string or an array of strings")
	}
	*s = StringList(many)
	return nil
}

// RelationshipSpec describes one declared edge between two labels.
type RelationshipSpec struct {
	// Type is the relationship type written to the store, e.g. RESOLVES_TO.
	Type string `json:"type"`
	// DefaultProps are merged under caller-supplied edge properties on
	// every upsert.
	DefaultProps map[string]any `json:"default_props"`
	// IndexProp names the edge property that gets a relationship index.
	// Empty means no index for this declaration.
	IndexProp string `json:"index_prop"`
}

// LabelSpec describes one node label: its natural-key properties and the
// outgoing relationships it may participate in, keyed by target label.
type LabelSpec struct {
	Constraints   StringList                  `json:"constraints"`
	Relationships map[string]RelationshipSpec `json:"relationships"`
}

// GraphSchema is the runtime description of the knowledge graph: which
// labels exist, what their unique keys are, and which directed edges are
// legal. It is loaded once at startup and read-only afterwards.
type GraphSchema struct {
	Labels map[string]LabelSpec
}

// LoadGraphSchema reads and validates a schema document from disk.
func LoadGraphSchema(path string) (*GraphSchema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading graph schema %q: %w", path, err)
	}
	return ParseGraphSchema(data)
}

// ParseGraphSchema decodes and validates a schema document. The document
// is a JSON object mapping each label to its spec.
func ParseGraphSchema(data []byte) (*GraphSchema, error) {
	labels := make(map[string]LabelSpec)
	if err := json.Unmarshal(data, &labels); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}
	s := &GraphSchema{Labels: labels}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *GraphSchema) validate() error {
	if len(s.Labels) == 0 {
		return fmt.Errorf("%w: no labels declared", ErrInvalidSchema)
	}
	for label, spec := range s.Labels {
		if !identPattern.MatchString(label) {
			return fmt.Errorf("%w: label %q is not a valid identifier", ErrInvalidSchema, label)
		}
		for _, prop := range spec.Constraints {
			if !identPattern.MatchString(prop) {
				return fmt.Errorf("%w: constraint property %q on label %s is not a valid identifier", ErrInvalidSchema, prop, label)
			}
		}
		for target, rel := range spec.Relationships {
			if !identPattern.MatchString(target) {
				return fmt.Errorf("%w: relationship target %q on label %s is not a valid identifier", ErrInvalidSchema, target, label)
			}
			if _, ok := s.Labels[target]; !ok {
				return fmt.Errorf("%w: relationship %s -> %s points at an undeclared label", ErrInvalidSchema, label, target)
			}
			if rel.Type == "" {
				return fmt.Errorf("%w: relationship %s -> %s has no type", ErrInvalidSchema, label, target)
			}
			if !identPattern.MatchString(rel.Type) {
				return fmt.Errorf("%w: relationship type %q is not a valid identifier", ErrInvalidSchema, rel.Type)
			}
			if rel.IndexProp != "" && !identPattern.MatchString(rel.IndexProp) {
				return fmt.Errorf("%w: index property %q on relationship %s is not a valid identifier", ErrInvalidSchema, rel.IndexProp, rel.Type)
			}
		}
	}
	return nil
}

// Relationship resolves the declared edge between two labels. An
// undeclared pair is an ErrInvalidRelationship.
func (s *GraphSchema) Relationship(from, to string) (RelationshipSpec, error) {
	spec, ok := s.Labels[from]
	if ok {
		if rel, ok := spec.Relationships[to]; ok {
			return rel, nil
		}
	}
	return RelationshipSpec{}, fmt.Errorf("%w: %s -> %s", ErrInvalidRelationship, from, to)
}

// KeyProps returns the natural-key property names for a label. Labels
// without a declared constraint have no natural key and merge on all
// provided properties.
func (s *GraphSchema) KeyProps(label string) []string {
	return []string(s.Labels[label].Constraints)
}

// SortedLabels returns the declared labels in lexical order so DDL is
// issued deterministically.
func (s *GraphSchema) SortedLabels() []string {
	labels := make([]string, 0, len(s.Labels))
	for label := range s.Labels {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

// IndexPair is one distinct (relationship type, edge property) index
// declaration.
type IndexPair struct {
	RelType string
	Prop    string
}

// IndexPairs returns the deduplicated relationship index declarations in
// lexical order. The same type/property pair referenced from several
// labels yields a single entry.
func (s *GraphSchema) IndexPairs() []IndexPair {
	seen := make(map[IndexPair]struct{})
	for _, spec := range s.Labels {
		for _, rel := range spec.Relationships {
			if rel.IndexProp == "" {
				continue
			}
			seen[IndexPair{RelType: rel.Type, Prop: rel.IndexProp}] = struct{}{}
		}
	}
	pairs := make([]IndexPair, 0, len(seen))
	for p := range seen {
		pairs = append(pairs, p)
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].RelType != pairs[j].RelType {
			return pairs[i].RelType < pairs[j].RelType
		}
		return pairs[i].Prop < pairs[j].Prop
	})
	return pairs
}
