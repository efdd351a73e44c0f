// File: internal/threatmap/neo4j.go
package threatmap

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/AnandaIndraTan/CERBERUS/api/schemas"
	"github.com/AnandaIndraTan/CERBERUS/internal/config"
	"github.com/AnandaIndraTan/CERBERUS/internal/observability"
)

// Neo4jClient implements schemas.GraphClient over the Bolt protocol. Every
// statement runs in its own short-lived session; the driver below it pools
// connections. The client is not safe for use before Connect.
type Neo4jClient struct {
	cfg    config.GraphConfig
	driver neo4j.DriverWithContext
	logger *zap.Logger
}

// NewNeo4jClient builds an unconnected client. Call Connect before issuing
// statements.
func NewNeo4jClient(cfg config.GraphConfig) *Neo4jClient {
	return &Neo4jClient{
		cfg:    cfg,
		logger: observability.GetLogger().Named("threatmap.neo4j"),
	}
}

// Connect creates the driver and verifies connectivity, retrying transient
// failures with exponential backoff. Authentication rejections are not
// retried.
func (c *Neo4jClient) Connect(ctx context.Context) error {
	auth := neo4j.BasicAuth(c.cfg.Username, c.cfg.Password, "")
	driverConfig := func(conf *neo4j.Config) {
		conf.MaxConnectionPoolSize = c.cfg.MaxConnectionPoolSize
		conf.ConnectionAcquisitionTimeout = c.cfg.ConnectionTimeout
		conf.MaxTransactionRetryTime = c.cfg.MaxTransactionRetryTime
	}

	driver, err := neo4j.NewDriverWithContext(c.cfg.URI, auth, driverConfig)
	if err != nil {
		return fmt.Errorf("%w: creating driver for %s: %v", ErrGraphUnavailable, c.cfg.URI, err)
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 30 * time.Second
	b.MaxInterval = 5 * time.Second

	attempt := 0
	operation := func() error {
		attempt++
		if err := driver.VerifyConnectivity(ctx); err != nil {
			if neo4j.IsNeo4jError(err) {
				// Server answered; the problem is ours, not the network's.
				return backoff.Permanent(err)
			}
			c.logger.Warn("Graph store not reachable yet, retrying.",
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			return err
		}
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		_ = driver.Close(ctx)
		return fmt.Errorf("%w: verifying connectivity to %s: %v", ErrGraphUnavailable, c.cfg.URI, err)
	}

	c.driver = driver
	c.logger.Info("Connected to graph store.",
		zap.String("uri", c.cfg.URI),
		zap.String("database", c.cfg.Database),
	)
	return nil
}

// ExecuteRead runs one read statement in its own session.
func (c *Neo4jClient) ExecuteRead(ctx context.Context, cypher string, params map[string]any) (*schemas.GraphResult, error) {
	if c.driver == nil {
		return nil, ErrNotConnected
	}
	session := c.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: c.cfg.Database,
		AccessMode:   neo4j.AccessModeRead,
	})
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, c.runStatement(ctx, cypher, params))
	if err != nil {
		return nil, fmt.Errorf("read statement failed: %w", err)
	}
	return out.(*schemas.GraphResult), nil
}

// ExecuteWrite runs one write statement in its own session. There is no
// multi-statement transaction surface; each call commits independently.
func (c *Neo4jClient) ExecuteWrite(ctx context.Context, cypher string, params map[string]any) (*schemas.GraphResult, error) {
	if c.driver == nil {
		return nil, ErrNotConnected
	}
	session := c.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: c.cfg.Database,
		AccessMode:   neo4j.AccessModeWrite,
	})
	defer session.Close(ctx)

	out, err := session.ExecuteWrite(ctx, c.runStatement(ctx, cypher, params))
	if err != nil {
		return nil, fmt.Errorf("write statement failed: %w", err)
	}
	return out.(*schemas.GraphResult), nil
}

// Close releases the driver and its connection pool.
func (c *Neo4jClient) Close(ctx context.Context) error {
	if c.driver == nil {
		return nil
	}
	err := c.driver.Close(ctx)
	c.driver = nil
	return err
}

func (c *Neo4jClient) runStatement(ctx context.Context, cypher string, params map[string]any) neo4j.ManagedTransactionWork {
	return func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		records, err := result.Collect(ctx)
		if err != nil {
			return nil, err
		}
		summary, err := result.Consume(ctx)
		if err != nil {
			return nil, err
		}
		return convertResult(records, summary), nil
	}
}

// convertResult flattens driver records into column-keyed maps and lifts
// the write counters out of the result summary.
func convertResult(records []*neo4j.Record, summary neo4j.ResultSummary) *schemas.GraphResult {
	out := &schemas.GraphResult{
		Records: make([]map[string]any, 0, len(records)),
	}
	for _, record := range records {
		row := make(map[string]any, len(record.Keys))
		for i, key := range record.Keys {
			if i < len(record.Values) {
				row[key] = record.Values[i]
			}
		}
		out.Records = append(out.Records, row)
	}
	if summary != nil {
		counters := summary.Counters()
		out.Counters = schemas.GraphCounters{
			NodesCreated:         counters.NodesCreated(),
			NodesDeleted:         counters.NodesDeleted(),
			RelationshipsCreated: counters.RelationshipsCreated(),
			RelationshipsDeleted: counters.RelationshipsDeleted(),
			PropertiesSet:        counters.PropertiesSet(),
		}
	}
	return out
}
