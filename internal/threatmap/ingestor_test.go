// internal/threatmap/ingestor_test.go
package threatmap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/AnandaIndraTan/CERBERUS/api/schemas"
	"github.com/AnandaIndraTan/CERBERUS/internal/config"
	"github.com/AnandaIndraTan/CERBERUS/internal/observability"
)

func TestMain(m *testing.M) {
	observability.ResetForTest()
	observability.Initialize(config.LoggerConfig{Level: "error", Format: "console"}, zapcore.AddSync(io.Discard))
	os.Exit(m.Run())
}

func newTestThreatMap(t *testing.T) (*ThreatMap, *MockGraphClient) {
	t.Helper()
	mock := NewMockGraphClient()
	return NewThreatMap(loadTestSchema(t), mock), mock
}

// exampleRecord mirrors one fully populated scan result: a host resolving
// to one IP with one open port running one vulnerable service.
func exampleRecord() schemas.ScanRecord {
	return schemas.ScanRecord{
		Host: "example.com",
		IP:   "10.0.0.5",
		Ports: []schemas.Port{
			{
				Number:   80,
				Protocol: "tcp",
				Service:  schemas.Service{Name: "nginx", Version: "1.21"},
				Vulnerabilities: []schemas.Vulnerability{
					{
						CVEID:        "CVE-2021-1234",
						Description:  "outdated TLS configuration",
						CVSS:         7.5,
						IsVulnerable: true,
					},
				},
			},
		},
	}
}

// -- Schema Initialization --

func TestInitSchema(t *testing.T) {
	t.Run("should wipe, recreate constraints and create indexes in order", func(t *testing.T) {
		tm, mock := newTestThreatMap(t)
		mock.ReadHandler = func(cypher string, _ map[string]any) (*schemas.GraphResult, error) {
			require.Equal(t, "SHOW CONSTRAINTS", cypher)
			return &schemas.GraphResult{Records: []map[string]any{{"name": "old_unique"}}}, nil
		}

		require.NoError(t, tm.InitSchema(context.Background()))

		writes := mock.WriteCyphers()
		require.Len(t, writes, 11)
		assert.Equal(t, "MATCH (n) DETACH DELETE n", writes[0])
		assert.Equal(t, "DROP CONSTRAINT `old_unique`", writes[1])
		assert.Equal(t, []string{
			"CREATE CONSTRAINT IF NOT EXISTS FOR (n:Host) REQUIRE n.name IS UNIQUE",
			"CREATE CONSTRAINT IF NOT EXISTS FOR (n:IPAddress) REQUIRE n.address IS UNIQUE",
			"CREATE CONSTRAINT IF NOT EXISTS FOR (n:Port) REQUIRE (n.number, n.ip_address) IS UNIQUE",
			"CREATE CONSTRAINT IF NOT EXISTS FOR (n:Service) REQUIRE (n.name, n.version) IS UNIQUE",
			"CREATE CONSTRAINT IF NOT EXISTS FOR (n:Vulnerability) REQUIRE n.description IS UNIQUE",
		}, writes[2:7])
		assert.Equal(t, []string{
			"CREATE INDEX IF NOT EXISTS FOR ()-[r:HAS_VULNERABILITY]-() ON (r.cvss)",
			"CREATE INDEX IF NOT EXISTS FOR ()-[r:HOSTS]-() ON (r.last_seen)",
			"CREATE INDEX IF NOT EXISTS FOR ()-[r:RESOLVES_TO]-() ON (r.last_seen)",
			"CREATE INDEX IF NOT EXISTS FOR ()-[r:RUNS]-() ON (r.last_seen)",
		}, writes[7:11])
	})

	t.Run("should issue an identical statement set on every run", func(t *testing.T) {
		tm, mock := newTestThreatMap(t)

		require.NoError(t, tm.InitSchema(context.Background()))
		first := mock.WriteCyphers()

		mock.Reset()
		require.NoError(t, tm.InitSchema(context.Background()))
		second := mock.WriteCyphers()

		assert.Equal(t, first, second)
	})

	t.Run("should continue when a constraint refuses to drop", func(t *testing.T) {
		tm, mock := newTestThreatMap(t)
		mock.ReadHandler = func(_ string, _ map[string]any) (*schemas.GraphResult, error) {
			return &schemas.GraphResult{Records: []map[string]any{{"name": "stuck"}}}, nil
		}
		mock.WriteHandler = func(cypher string, _ map[string]any) (*schemas.GraphResult, error) {
			if strings.HasPrefix(cypher, "DROP CONSTRAINT") {
				return nil, fmt.Errorf("constraint is busy")
			}
			return nil, nil
		}

		require.NoError(t, tm.InitSchema(context.Background()))
		assert.Equal(t, 1, mock.CountWritesContaining("DROP CONSTRAINT"))
		assert.Equal(t, 5, mock.CountWritesContaining("CREATE CONSTRAINT"))
	})

	t.Run("should abort when the wipe fails", func(t *testing.T) {
		tm, mock := newTestThreatMap(t)
		mock.WriteHandler = func(cypher string, _ map[string]any) (*schemas.GraphResult, error) {
			return nil, fmt.Errorf("store is down")
		}

		err := tm.InitSchema(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "wiping graph")
		assert.Len(t, mock.WriteCyphers(), 1)
	})

	t.Run("should ignore constraint rows without a name", func(t *testing.T) {
		tm, mock := newTestThreatMap(t)
		mock.ReadHandler = func(_ string, _ map[string]any) (*schemas.GraphResult, error) {
			return &schemas.GraphResult{Records: []map[string]any{{"name": nil}, {"type": "UNIQUENESS"}}}, nil
		}

		require.NoError(t, tm.InitSchema(context.Background()))
		assert.Zero(t, mock.CountWritesContaining("DROP CONSTRAINT"))
	})
}

// -- Ingestion --

func TestIngest(t *testing.T) {
	t.Run("should upsert the four canonical edges in order", func(t *testing.T) {
		tm, mock := newTestThreatMap(t)

		require.NoError(t, tm.Ingest(context.Background(), exampleRecord()))

		writes := mock.Calls()
		require.Len(t, writes, 4)
		assert.Contains(t, writes[0].Cypher, "[r:RESOLVES_TO]")
		assert.Contains(t, writes[1].Cypher, "[r:HOSTS]")
		assert.Contains(t, writes[2].Cypher, "[r:RUNS]")
		assert.Contains(t, writes[3].Cypher, "[r:HAS_VULNERABILITY]")

		assert.Equal(t, map[string]any{"name": "example.com"}, writes[0].Params["from_key"])
		assert.Equal(t, map[string]any{"number": 80, "ip_address": "10.0.0.5"}, writes[1].Params["to_key"])
		assert.Equal(t, map[string]any{"protocol": "tcp"}, writes[1].Params["to_extra"])
		assert.Equal(t, map[string]any{"name": "nginx", "version": "1.21"}, writes[2].Params["to_key"])
		assert.Equal(t, map[string]any{"description": "outdated TLS configuration"}, writes[3].Params["to_key"])
		assert.Equal(t, map[string]any{
			"cvss":          7.5,
			"is_vulnerable": true,
			"cve_id":        "CVE-2021-1234",
		}, writes[3].Params["to_extra"])
	})

	t.Run("should omit cve_id when the finding has none", func(t *testing.T) {
		tm, mock := newTestThreatMap(t)
		record := exampleRecord()
		record.Ports[0].Vulnerabilities[0].CVEID = ""

		require.NoError(t, tm.Ingest(context.Background(), record))

		writes := mock.Calls()
		require.Len(t, writes, 4)
		extra, ok := writes[3].Params["to_extra"].(map[string]any)
		require.True(t, ok)
		assert.NotContains(t, extra, "cve_id")
		assert.Contains(t, extra, "is_vulnerable")
	})

	t.Run("should skip the host edge when the host is empty", func(t *testing.T) {
		tm, mock := newTestThreatMap(t)
		record := exampleRecord()
		record.Host = ""

		require.NoError(t, tm.Ingest(context.Background(), record))

		writes := mock.WriteCyphers()
		require.Len(t, writes, 3)
		assert.Zero(t, mock.CountWritesContaining("RESOLVES_TO"))
		assert.Contains(t, writes[0], "[r:HOSTS]")
	})

	t.Run("should skip the host edge when the ip is empty", func(t *testing.T) {
		tm, mock := newTestThreatMap(t)
		record := exampleRecord()
		record.IP = ""

		require.NoError(t, tm.Ingest(context.Background(), record))
		assert.Zero(t, mock.CountWritesContaining("RESOLVES_TO"))
		assert.Equal(t, 1, mock.CountWritesContaining("HOSTS"))
	})

	t.Run("should keep sibling edges when one relationship is undeclared", func(t *testing.T) {
		// Same topology but Service declares no outgoing relationships, so
		// the vulnerability edge is invalid while everything else lands.
		doc := `{
		  "Host": {"constraints": "name", "relationships": {"IPAddress": {"type": "RESOLVES_TO", "default_props": {}, "index_prop": ""}}},
		  "IPAddress": {"constraints": "address", "relationships": {"Port": {"type": "HOSTS", "default_props": {}, "index_prop": ""}}},
		  "Port": {"constraints": ["number", "ip_address"], "relationships": {"Service": {"type": "RUNS", "default_props": {}, "index_prop": ""}}},
		  "Service": {"constraints": ["name", "version"], "relationships": {}},
		  "Vulnerability": {"constraints": "description", "relationships": {}}
		}`
		schema, err := ParseGraphSchema([]byte(doc))
		require.NoError(t, err)
		mock := NewMockGraphClient()
		tm := NewThreatMap(schema, mock)

		err = tm.Ingest(context.Background(), exampleRecord())
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidRelationship)

		writes := mock.WriteCyphers()
		require.Len(t, writes, 3)
		assert.Zero(t, mock.CountWritesContaining("HAS_VULNERABILITY"))
	})

	t.Run("should abort on a store failure without attempting later edges", func(t *testing.T) {
		tm, mock := newTestThreatMap(t)
		mock.WriteHandler = func(cypher string, _ map[string]any) (*schemas.GraphResult, error) {
			if strings.Contains(cypher, "[r:RUNS]") {
				return nil, fmt.Errorf("connection reset")
			}
			return nil, nil
		}

		err := tm.Ingest(context.Background(), exampleRecord())
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrInvalidRelationship)
		assert.Contains(t, err.Error(), "upserting Port -> Service")
		assert.Zero(t, mock.CountWritesContaining("HAS_VULNERABILITY"))
	})

	t.Run("should walk ports in record order", func(t *testing.T) {
		tm, mock := newTestThreatMap(t)
		record := exampleRecord()
		record.Ports = append(record.Ports, schemas.Port{
			Number:   443,
			Protocol: "tcp",
			Service:  schemas.Service{Name: "nginx", Version: "1.21"},
		})

		require.NoError(t, tm.Ingest(context.Background(), record))

		var portKeys []any
		for _, call := range mock.Calls() {
			if strings.Contains(call.Cypher, "[r:HOSTS]") {
				key, ok := call.Params["to_key"].(map[string]any)
				require.True(t, ok)
				portKeys = append(portKeys, key["number"])
			}
		}
		assert.Equal(t, []any{80, 443}, portKeys)
	})
}

// -- Summarization --

// scriptedGraph wires a ReadHandler that answers each canonical summary
// query with the given rows.
func scriptedGraph(mock *MockGraphClient, resolves, hosts, runs, vulns []map[string]any) {
	mock.ReadHandler = func(cypher string, _ map[string]any) (*schemas.GraphResult, error) {
		switch {
		case strings.Contains(cypher, "RESOLVES_TO"):
			return &schemas.GraphResult{Records: resolves}, nil
		case strings.Contains(cypher, "HOSTS"):
			return &schemas.GraphResult{Records: hosts}, nil
		case strings.Contains(cypher, "RUNS"):
			return &schemas.GraphResult{Records: runs}, nil
		case strings.Contains(cypher, "HAS_VULNERABILITY"):
			return &schemas.GraphResult{Records: vulns}, nil
		}
		return nil, nil
	}
}

func TestSummarize(t *testing.T) {
	t.Run("should render one line per edge in fixed order", func(t *testing.T) {
		tm, mock := newTestThreatMap(t)
		scriptedGraph(mock,
			[]map[string]any{{"host": "example.com", "ip": "10.0.0.5", "resolution_type": "A"}},
			[]map[string]any{{"ip": "10.0.0.5", "port": int64(80), "protocol": "tcp", "status": "open"}},
			[]map[string]any{{"port": int64(80), "protocol": "tcp", "service": "nginx", "version": "1.21", "status": "running"}},
			[]map[string]any{{"service": "nginx", "version": "1.21", "cve_id": "CVE-2021-1234", "description": "outdated TLS configuration", "cvss": 7.5}},
		)

		summary, err := tm.Summarize(context.Background())
		require.NoError(t, err)
		assert.Equal(t, strings.Join([]string{
			"Host example.com resolves to IP address 10.0.0.5 (record type A).",
			"IP address 10.0.0.5 hosts port 80/tcp (open).",
			"Port 80/tcp runs nginx 1.21 (running).",
			"Service nginx 1.21 is vulnerable to CVE-2021-1234: outdated TLS configuration (CVSS 7.5).",
		}, "\n"), summary)
	})

	t.Run("should substitute documented defaults for missing descriptive fields", func(t *testing.T) {
		tm, mock := newTestThreatMap(t)
		scriptedGraph(mock,
			[]map[string]any{{"host": "example.com", "ip": "10.0.0.5"}},
			[]map[string]any{{"ip": "10.0.0.5", "port": int64(80), "protocol": "tcp"}},
			[]map[string]any{{"port": int64(80), "protocol": "tcp", "service": "nginx", "version": "1.21"}},
			nil,
		)

		summary, err := tm.Summarize(context.Background())
		require.NoError(t, err)
		assert.Contains(t, summary, "(record type A).")
		assert.Contains(t, summary, "(open).")
		assert.Contains(t, summary, "(running).")
	})

	t.Run("should skip edges missing identity properties", func(t *testing.T) {
		tm, mock := newTestThreatMap(t)
		scriptedGraph(mock,
			[]map[string]any{
				{"host": nil, "ip": "10.0.0.5"},
				{"host": "kept.example.com", "ip": "10.0.0.6"},
			},
			nil, nil, nil,
		)

		summary, err := tm.Summarize(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "Host kept.example.com resolves to IP address 10.0.0.6 (record type A).", summary)
	})

	t.Run("should render a vulnerability without a cve or version", func(t *testing.T) {
		tm, mock := newTestThreatMap(t)
		scriptedGraph(mock, nil, nil, nil,
			[]map[string]any{{"service": "telnetd", "description": "cleartext authentication", "cvss": 9.8}},
		)

		summary, err := tm.Summarize(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "Service telnetd is vulnerable: cleartext authentication (CVSS 9.8).", summary)
	})

	t.Run("should return the sentinel when nothing matched", func(t *testing.T) {
		tm, _ := newTestThreatMap(t)

		summary, err := tm.Summarize(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "No valid relationships found in the knowledge graph.", summary)
	})

	t.Run("should surface a query failure", func(t *testing.T) {
		tm, mock := newTestThreatMap(t)
		mock.ReadHandler = func(_ string, _ map[string]any) (*schemas.GraphResult, error) {
			return nil, fmt.Errorf("socket closed")
		}

		_, err := tm.Summarize(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "querying graph for summary")
	})
}

// -- Verification --

func TestVerify(t *testing.T) {
	t.Run("should report SUCCESS after running all smoke queries", func(t *testing.T) {
		tm, mock := newTestThreatMap(t)

		out, err := tm.Verify(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "SUCCESS", out)

		var reads int
		for _, call := range mock.Calls() {
			if call.Kind == "read" {
				reads++
			}
		}
		assert.Equal(t, 4, reads)
	})

	t.Run("should surface the first failing query", func(t *testing.T) {
		tm, mock := newTestThreatMap(t)
		var n int
		mock.ReadHandler = func(_ string, _ map[string]any) (*schemas.GraphResult, error) {
			n++
			if n == 2 {
				return nil, fmt.Errorf("index not online")
			}
			return nil, nil
		}

		_, err := tm.Verify(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "verification query 2 failed")
	})
}

// -- Upsert Error Paths --

func TestUpsertEdge(t *testing.T) {
	t.Run("should not write anything for an invalid pair", func(t *testing.T) {
		tm, mock := newTestThreatMap(t)

		err := tm.UpsertEdge(context.Background(),
			Entity{Label: "Host", Props: map[string]any{"name": "example.com"}},
			Entity{Label: "Service", Props: map[string]any{"name": "nginx", "version": "1.21"}},
			nil,
		)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidRelationship)
		assert.Empty(t, mock.Calls())
	})

	t.Run("should wrap a write failure with the edge labels", func(t *testing.T) {
		tm, mock := newTestThreatMap(t)
		mock.WriteHandler = func(_ string, _ map[string]any) (*schemas.GraphResult, error) {
			return nil, errors.New("deadline exceeded")
		}

		err := tm.UpsertEdge(context.Background(),
			Entity{Label: "Host", Props: map[string]any{"name": "example.com"}},
			Entity{Label: "IPAddress", Props: map[string]any{"address": "10.0.0.5"}},
			nil,
		)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "upserting Host -> IPAddress")
	})
}
