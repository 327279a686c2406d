package genealogy

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"athanor/internal/model"
)

const (
	fingerprintConstraint = `CREATE CONSTRAINT molecule_fingerprint IF NOT EXISTS FOR (m:Molecule) REQUIRE m.fingerprint IS UNIQUE`

	mergeNodesQuery = `
UNWIND $batch AS row
MERGE (m:Molecule {fingerprint: row.fingerprint})
ON CREATE SET m.individual_id = row.individual_id,
              m.run_id = row.run_id,
              m.generation = row.generation,
              m.kind = row.kind,
              m.topology = row.topology,
              m.created_at = datetime()`

	mergeEdgesQuery = `
UNWIND $batch AS row
MATCH (p:Molecule {fingerprint: row.parent})
MATCH (c:Molecule {fingerprint: row.child})
MERGE (p)-[r:PARENT_OF]->(c)
ON CREATE SET r.operator = row.operator, r.kind = row.kind`
)

// ExporterConfig locates the graph database lineage is mirrored into.
type ExporterConfig struct {
	URI      string
	Username string
	Password string
	Database string
}

// GraphExporter mirrors a run's lineage DAG into Neo4j: one Molecule node per
// fingerprint, one PARENT_OF edge per construction input. Nodes are merged by
// fingerprint, so repeated exports and overlapping runs share structures.
type GraphExporter struct {
	cfg    ExporterConfig
	logger *zap.Logger
}

func NewGraphExporter(cfg ExporterConfig, logger *zap.Logger) (*GraphExporter, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("neo4j uri is required")
	}
	if cfg.Database == "" {
		cfg.Database = "neo4j"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GraphExporter{cfg: cfg, logger: logger}, nil
}

// Export writes the records' nodes and edges in one write transaction. Edges
// whose parent node is unknown match nothing and are skipped, which keeps the
// export tolerant of truncated lineage.
func (e *GraphExporter) Export(ctx context.Context, runID string, records []model.LineageRecord) error {
	if len(records) == 0 {
		return nil
	}

	driver, err := neo4j.NewDriverWithContext(e.cfg.URI, neo4j.BasicAuth(e.cfg.Username, e.cfg.Password, ""))
	if err != nil {
		return fmt.Errorf("open neo4j driver: %w", err)
	}
	defer driver.Close(ctx)

	if err := driver.VerifyConnectivity(ctx); err != nil {
		return fmt.Errorf("neo4j connectivity: %w", err)
	}

	session := driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: e.cfg.Database,
		AccessMode:   neo4j.AccessModeWrite,
	})
	defer session.Close(ctx)

	// Schema commands cannot share a transaction with data writes.
	if _, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return tx.Run(ctx, fingerprintConstraint, nil)
	}); err != nil {
		return fmt.Errorf("ensure fingerprint constraint: %w", err)
	}

	nodes := nodeRows(runID, records)
	edges := edgeRows(records)
	if _, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx, mergeNodesQuery, map[string]any{"batch": nodes}); err != nil {
			return nil, err
		}
		if len(edges) == 0 {
			return nil, nil
		}
		_, err := tx.Run(ctx, mergeEdgesQuery, map[string]any{"batch": edges})
		return nil, err
	}); err != nil {
		return fmt.Errorf("export lineage: %w", err)
	}

	e.logger.Info("lineage exported to graph database",
		zap.String("run", runID),
		zap.Int("nodes", len(nodes)),
		zap.Int("edges", len(edges)),
	)
	return nil
}

// nodeRows flattens records into merge parameters, first record per
// fingerprint wins.
func nodeRows(runID string, records []model.LineageRecord) []map[string]any {
	seen := make(map[string]struct{}, len(records))
	out := make([]map[string]any, 0, len(records))
	for _, record := range records {
		if record.Fingerprint == "" {
			continue
		}
		if _, dup := seen[record.Fingerprint]; dup {
			continue
		}
		seen[record.Fingerprint] = struct{}{}
		out = append(out, map[string]any{
			"fingerprint":   record.Fingerprint,
			"individual_id": record.IndividualID,
			"run_id":        runID,
			"generation":    record.Generation,
			"kind":          record.Kind,
			"topology":      record.Summary,
		})
	}
	return out
}

// edgeRows emits one parent edge per construction input.
func edgeRows(records []model.LineageRecord) []map[string]any {
	var out []map[string]any
	for _, record := range records {
		for _, parent := range record.ParentFingerprints {
			if parent == "" || record.Fingerprint == "" {
				continue
			}
			out = append(out, map[string]any{
				"parent":   parent,
				"child":    record.Fingerprint,
				"operator": record.Operator,
				"kind":     record.Kind,
			})
		}
	}
	return out
}
