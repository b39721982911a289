// Package graph mirrors resolved entities into Neo4j so that crews,
// vendors and reports can be explored as a graph. The projection is
// best-effort: Postgres remains the system of record and a failed
// projection never fails the occurrence that triggered it.
package graph

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fieldledger/fieldledger/internal/config"
	"github.com/fieldledger/fieldledger/internal/entity"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Client wraps the Neo4j driver for graph projection.
type Client struct {
	driver neo4j.DriverWithContext
	logger *slog.Logger
	config config.Neo4jConfig
}

// NewClient creates a new Neo4j client and verifies connectivity.
func NewClient(cfg config.Neo4jConfig, logger *slog.Logger) (*Client, error) {
	driver, err := neo4j.NewDriverWithContext(
		cfg.URI,
		neo4j.BasicAuth(cfg.Username, cfg.Password, ""),
		func(config *neo4j.Config) {
			config.MaxConnectionPoolSize = cfg.MaxConnections
			config.ConnectionAcquisitionTimeout = cfg.ConnectionTimeout
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Neo4j driver: %w", err)
	}

	client := &Client{
		driver: driver,
		logger: logger,
		config: cfg,
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectionTimeout)
	defer cancel()

	if err := client.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("failed to verify Neo4j connectivity: %w", err)
	}

	if err := client.createIndexes(ctx); err != nil {
		logger.Warn("failed to create Neo4j indexes", "error", err)
	}

	return client, nil
}

// Close closes the Neo4j driver.
func (c *Client) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return c.driver.Close(ctx)
}

// VerifyConnectivity verifies the connection to Neo4j.
func (c *Client) VerifyConnectivity(ctx context.Context) error {
	return c.driver.VerifyConnectivity(ctx)
}

// ProjectResolution upserts the entity node, the report node and the
// MENTIONED_IN edge for one resolved occurrence. All three writes use
// MERGE so replays of the same occurrence are no-ops.
func (c *Client) ProjectResolution(ctx context.Context, m *entity.Mention, res *entity.Resolution) error {
	session := c.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: c.config.Database,
	})
	defer session.Close(ctx)

	query := `
		MERGE (e:Entity {id: $entity_id})
		ON CREATE SET e.kind = $kind,
			e.canonical_name = $canonical_name,
			e.first_seen = $occurrence_date
		SET e.last_seen = $occurrence_date
		MERGE (r:Report {id: $report_id})
		MERGE (e)-[m:MENTIONED_IN {occurrence_id: $occurrence_id}]->(r)
		ON CREATE SET m.raw_name = $raw_name,
			m.quantity = $quantity,
			m.occurrence_date = $occurrence_date
		RETURN e.id
	`

	parameters := map[string]interface{}{
		"entity_id":       res.EntityID.String(),
		"kind":            string(m.Kind),
		"canonical_name":  res.CanonicalName,
		"report_id":       m.ReportID,
		"occurrence_id":   m.OccurrenceID,
		"raw_name":        m.FullName,
		"quantity":        m.Quantity,
		"occurrence_date": m.OccurrenceDate,
	}

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		result, err := tx.Run(ctx, query, parameters)
		if err != nil {
			return nil, err
		}
		if result.Next(ctx) {
			return result.Record().Values[0], nil
		}
		return nil, fmt.Errorf("projection returned no rows")
	})
	if err != nil {
		return fmt.Errorf("failed to project resolution into Neo4j: %w", err)
	}

	c.logger.Debug("resolution projected into Neo4j",
		"entity_id", res.EntityID,
		"report_id", m.ReportID)
	return nil
}

// CoMentionedEntities returns entities that share at least one report
// with the given entity, most frequent first.
func (c *Client) CoMentionedEntities(ctx context.Context, entityID string, limit int) ([]map[string]interface{}, error) {
	session := c.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: c.config.Database,
	})
	defer session.Close(ctx)

	query := `
		MATCH (e:Entity {id: $entity_id})-[:MENTIONED_IN]->(r:Report)<-[:MENTIONED_IN]-(other:Entity)
		WHERE other.id <> $entity_id
		RETURN other.id, other.kind, other.canonical_name, count(DISTINCT r) AS shared_reports
		ORDER BY shared_reports DESC, other.canonical_name ASC
		LIMIT $limit
	`

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		result, err := tx.Run(ctx, query, map[string]interface{}{
			"entity_id": entityID,
			"limit":     limit,
		})
		if err != nil {
			return nil, err
		}

		var rows []map[string]interface{}
		for result.Next(ctx) {
			record := result.Record()
			rows = append(rows, map[string]interface{}{
				"id":             record.Values[0],
				"kind":           record.Values[1],
				"canonical_name": record.Values[2],
				"shared_reports": record.Values[3],
			})
		}
		return rows, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find co-mentioned entities: %w", err)
	}

	return result.([]map[string]interface{}), nil
}

// createIndexes creates the constraints and indexes the projection
// queries rely on.
func (c *Client) createIndexes(ctx context.Context) error {
	session := c.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: c.config.Database,
	})
	defer session.Close(ctx)

	queries := []string{
		"CREATE CONSTRAINT entity_id_unique IF NOT EXISTS FOR (e:Entity) REQUIRE e.id IS UNIQUE",
		"CREATE CONSTRAINT report_id_unique IF NOT EXISTS FOR (r:Report) REQUIRE r.id IS UNIQUE",
		"CREATE INDEX entity_kind_index IF NOT EXISTS FOR (e:Entity) ON (e.kind)",
		"CREATE INDEX entity_canonical_name_index IF NOT EXISTS FOR (e:Entity) ON (e.canonical_name)",
	}

	for _, query := range queries {
		_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
			_, err := tx.Run(ctx, query, nil)
			return nil, err
		})
		if err != nil {
			c.logger.Warn("failed to execute index creation query", "query", query, "error", err)
		}
	}

	return nil
}
