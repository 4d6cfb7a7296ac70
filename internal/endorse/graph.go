package endorse

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/nidhogg/skillmatch/internal/model"
)

// GraphStore keeps endorsements as ENDORSES relationships between Agent
// nodes in Neo4j, pointing from endorser to endorsed agent.
type GraphStore struct {
	driver neo4j.DriverWithContext
	logger *zap.Logger
}

// NewGraphStore connects to Neo4j.
func NewGraphStore(uri, user, password string, logger *zap.Logger) (*GraphStore, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	return &GraphStore{driver: driver, logger: logger}, nil
}

// NewGraphStoreWithDriver wraps an existing driver.
func NewGraphStoreWithDriver(driver neo4j.DriverWithContext, logger *zap.Logger) *GraphStore {
	return &GraphStore{driver: driver, logger: logger}
}

// Ping verifies the connection.
func (g *GraphStore) Ping(ctx context.Context) error {
	return g.driver.VerifyConnectivity(ctx)
}

// Init creates the Agent id uniqueness constraint.
func (g *GraphStore) Init(ctx context.Context) error {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err := session.Run(ctx,
		`CREATE CONSTRAINT agent_id_unique IF NOT EXISTS FOR (a:Agent) REQUIRE a.id IS UNIQUE`, nil)
	if err != nil {
		return fmt.Errorf("create agent constraint: %w", err)
	}
	return nil
}

// Close shuts down the driver.
func (g *GraphStore) Close(ctx context.Context) error {
	return g.driver.Close(ctx)
}

func (g *GraphStore) UpsertEndorsement(ctx context.Context, e *model.SkillEndorsement) error {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.Run(ctx,
		`MERGE (a:Agent {id: $agent})
		 MERGE (b:Agent {id: $by})
		 MERGE (b)-[r:ENDORSES {skill: $skill}]->(a)
		 SET r.level = $level, r.updated_at = $updated`,
		map[string]any{
			"agent":   e.AgentID,
			"by":      e.EndorsedByID,
			"skill":   e.Skill,
			"level":   e.Level,
			"updated": e.UpdatedAt,
		})
	if err != nil {
		return fmt.Errorf("upsert endorsement %s/%s: %w", e.AgentID, e.Skill, err)
	}
	return nil
}

func (g *GraphStore) EndorsementsFor(ctx context.Context, agentID string) ([]*model.SkillEndorsement, error) {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		`MATCH (b:Agent)-[r:ENDORSES]->(a:Agent {id: $agent})
		 RETURN b.id AS by, r.skill AS skill, r.level AS level, r.updated_at AS updated_at
		 ORDER BY skill, by`,
		map[string]any{"agent": agentID})
	if err != nil {
		return nil, fmt.Errorf("get endorsements %s: %w", agentID, err)
	}

	var out []*model.SkillEndorsement
	for result.Next(ctx) {
		rec := result.Record()
		by, _ := rec.Get("by")
		skill, _ := rec.Get("skill")
		level, _ := rec.Get("level")
		updated, _ := rec.Get("updated_at")

		e := &model.SkillEndorsement{AgentID: agentID}
		e.EndorsedByID, _ = by.(string)
		e.Skill, _ = skill.(string)
		if l, ok := level.(int64); ok {
			e.Level = int(l)
		}
		if t, ok := updated.(time.Time); ok {
			e.UpdatedAt = t.UTC()
		}
		out = append(out, e)
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("read endorsements %s: %w", agentID, err)
	}
	return out, nil
}
