// Package sink writes pipeline output to its destinations: the Neo4j graph,
// the Meilisearch person index, and per-run JSON export files. Every write
// is an upsert keyed by deterministic IDs, so repeated runs over unchanged
// input create nothing new.
package sink

import (
	"context"
	"encoding/json"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/openparl/evidence-cli/internal/evidence"
	"github.com/openparl/evidence-cli/internal/model"
)

// GraphStats counts what an upsert batch actually changed in the graph.
// A second identical run reports zero creations.
type GraphStats struct {
	NodesCreated         int
	RelationshipsCreated int
}

func (s *GraphStats) add(summary neo4j.ResultSummary) {
	c := summary.Counters()
	s.NodesCreated += c.NodesCreated()
	s.RelationshipsCreated += c.RelationshipsCreated()
}

// Neo4jSink upserts persons, mandates, evidence and reconciliation output
// into the graph. Fact nodes link to their Evidence nodes with SUPPORTED_BY
// edges carrying the purpose tag and the structured snippet ref.
type Neo4jSink struct {
	driver   neo4j.DriverWithContext
	database string
}

// Neo4jConfig carries connection settings for the graph sink.
type Neo4jConfig struct {
	URI      string
	User     string
	Password string
	Database string
}

// NewNeo4j connects to the graph and verifies connectivity.
func NewNeo4j(ctx context.Context, cfg Neo4jConfig) (*Neo4jSink, error) {
	if cfg.User == "" {
		cfg.User = "neo4j"
	}
	driver, err := neo4j.NewDriverWithContext(cfg.URI,
		neo4j.BasicAuth(cfg.User, cfg.Password, ""),
		func(c *neo4j.Config) {
			c.MaxConnectionPoolSize = 20
			c.SocketConnectTimeout = 10 * time.Second
		})
	if err != nil {
		return nil, eris.Wrap(err, "sink: init neo4j driver")
	}

	verifyCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := driver.VerifyConnectivity(verifyCtx); err != nil {
		_ = driver.Close(ctx)
		return nil, eris.Wrap(err, "sink: verify neo4j connectivity")
	}

	return &Neo4jSink{driver: driver, database: cfg.Database}, nil
}

// Close releases the driver.
func (s *Neo4jSink) Close(ctx context.Context) error {
	if s == nil || s.driver == nil {
		return nil
	}
	return s.driver.Close(ctx)
}

var graphConstraints = []string{
	`CREATE CONSTRAINT person_id_unique IF NOT EXISTS FOR (p:Person) REQUIRE p.id IS UNIQUE`,
	`CREATE CONSTRAINT mandate_id_unique IF NOT EXISTS FOR (m:Mandate) REQUIRE m.id IS UNIQUE`,
	`CREATE CONSTRAINT legislature_id_unique IF NOT EXISTS FOR (l:Legislature) REQUIRE l.id IS UNIQUE`,
	`CREATE CONSTRAINT evidence_id_unique IF NOT EXISTS FOR (e:Evidence) REQUIRE e.id IS UNIQUE`,
	`CREATE CONSTRAINT canonical_person_id_unique IF NOT EXISTS FOR (c:CanonicalPerson) REQUIRE c.id IS UNIQUE`,
	`CREATE CONSTRAINT link_assertion_id_unique IF NOT EXISTS FOR (a:LinkAssertion) REQUIRE a.id IS UNIQUE`,
}

// EnsureSchema creates uniqueness constraints. Best-effort: a failure is
// logged and upserts proceed, matching how MERGE behaves without them.
func (s *Neo4jSink) EnsureSchema(ctx context.Context) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: s.database,
	})
	defer session.Close(ctx)

	for _, q := range graphConstraints {
		if res, err := session.Run(ctx, q, nil); err != nil {
			zap.L().Warn("neo4j schema init failed (continuing)", zap.Error(err))
		} else {
			_, _ = res.Consume(ctx)
		}
	}
}

const upsertEvidenceCypher = `
UNWIND $evidence AS ev
MERGE (e:Evidence {id: ev.id})
SET e += ev
`

const upsertMembersCypher = `
UNWIND $members AS row
MERGE (p:Person {id: row.person.id})
SET p += row.person
WITH p, row
MERGE (m:Mandate {id: row.mandate.id})
SET m += row.mandate
MERGE (p)-[:HOLDS]->(m)
`

const linkMandateLegislatureCypher = `
UNWIND $rows AS row
MATCH (m:Mandate {id: row.mandate_id})
MERGE (l:Legislature {id: row.legislature_id})
MERGE (m)-[:IN_LEGISLATURE]->(l)
`

const supportedByCypher = `
UNWIND $refs AS ref
MATCH (n {id: ref.node_id})
MERGE (e:Evidence {id: ref.evidence_id})
MERGE (n)-[r:SUPPORTED_BY {purpose: ref.purpose}]->(e)
SET r.snippet_ref_json = ref.snippet_ref_json,
    r.synced_at = ref.synced_at
`

const upsertCanonicalCypher = `
UNWIND $persons AS cp
MERGE (c:CanonicalPerson {id: cp.id})
SET c += cp
`

const upsertAssertionsCypher = `
UNWIND $assertions AS a
MERGE (la:LinkAssertion {id: a.id})
SET la += a.props
WITH la, a
MATCH (p:Person {id: a.wikipedia_person_ref})
MERGE (la)-[:ABOUT]->(p)
`

const linkCanonicalAssertionCypher = `
UNWIND $rows AS row
MATCH (c:CanonicalPerson {id: row.canonical_id})
MATCH (la:LinkAssertion {id: row.assertion_id})
MERGE (c)-[:DECIDED_BY]->(la)
`

// WriteMembers upserts a parsed members page: person and mandate nodes,
// legislature edges, evidence nodes and SUPPORTED_BY edges.
func (s *Neo4jSink) WriteMembers(ctx context.Context, page *model.MembersPage, evs []evidence.Evidence) (GraphStats, error) {
	var stats GraphStats
	now := time.Now().UTC().Format(time.RFC3339)

	evidenceRows := make([]map[string]any, 0, len(evs))
	for _, ev := range evs {
		evidenceRows = append(evidenceRows, evidenceParams(ev))
	}

	memberRows := make([]map[string]any, 0, len(page.Members))
	legRows := make([]map[string]any, 0, len(page.Members))
	var refRows []map[string]any
	for _, m := range page.Members {
		memberRows = append(memberRows, map[string]any{
			"person":  personParams(m.Person),
			"mandate": mandateParams(m.Mandate),
		})
		if m.Mandate.LegislatureID != "" {
			legRows = append(legRows, map[string]any{
				"mandate_id":     m.Mandate.ID,
				"legislature_id": m.Mandate.LegislatureID,
			})
		}
		refRows = append(refRows, supportedByParams(m.Person.ID, m.Person.EvidenceRefs, m.Person.EvidenceIDs, now)...)
		refRows = append(refRows, supportedByParams(m.Mandate.ID, m.Mandate.EvidenceRefs, m.Mandate.EvidenceIDs, now)...)
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: s.database,
	})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, batch := range []struct {
			cypher string
			key    string
			rows   []map[string]any
		}{
			{upsertEvidenceCypher, "evidence", evidenceRows},
			{upsertMembersCypher, "members", memberRows},
			{linkMandateLegislatureCypher, "rows", legRows},
			{supportedByCypher, "refs", refRows},
		} {
			if len(batch.rows) == 0 {
				continue
			}
			res, err := tx.Run(ctx, batch.cypher, map[string]any{batch.key: batch.rows})
			if err != nil {
				return nil, err
			}
			summary, err := res.Consume(ctx)
			if err != nil {
				return nil, err
			}
			stats.add(summary)
		}
		return nil, nil
	})
	if err != nil {
		return stats, eris.Wrap(err, "sink: write members graph")
	}
	return stats, nil
}

// WriteReconciliation upserts canonical persons and link assertions.
func (s *Neo4jSink) WriteReconciliation(ctx context.Context, canonical []model.CanonicalPerson, assertions []model.PersonLinkAssertion) (GraphStats, error) {
	var stats GraphStats

	canonicalRows := make([]map[string]any, 0, len(canonical))
	for _, c := range canonical {
		canonicalRows = append(canonicalRows, canonicalParams(c))
	}

	assertionRows := make([]map[string]any, 0, len(assertions))
	var decidedRows []map[string]any
	for _, a := range assertions {
		assertionRows = append(assertionRows, map[string]any{
			"id":                   a.ID,
			"wikipedia_person_ref": a.WikipediaPersonRef,
			"props":                assertionParams(a),
		})
		if a.CanonicalPersonID != "" {
			decidedRows = append(decidedRows, map[string]any{
				"canonical_id": a.CanonicalPersonID,
				"assertion_id": a.ID,
			})
		}
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: s.database,
	})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, batch := range []struct {
			cypher string
			key    string
			rows   []map[string]any
		}{
			{upsertCanonicalCypher, "persons", canonicalRows},
			{upsertAssertionsCypher, "assertions", assertionRows},
			{linkCanonicalAssertionCypher, "rows", decidedRows},
		} {
			if len(batch.rows) == 0 {
				continue
			}
			res, err := tx.Run(ctx, batch.cypher, map[string]any{batch.key: batch.rows})
			if err != nil {
				return nil, err
			}
			summary, err := res.Consume(ctx)
			if err != nil {
				return nil, err
			}
			stats.add(summary)
		}
		return nil, nil
	})
	if err != nil {
		return stats, eris.Wrap(err, "sink: write reconciliation graph")
	}
	return stats, nil
}

func personParams(p model.Person) map[string]any {
	return map[string]any{
		"id":              p.ID,
		"name":            p.Name,
		"wikipedia_title": p.WikipediaTitle,
		"wikipedia_url":   p.WikipediaURL,
		"birth_date":      p.BirthDate,
		"death_date":      p.DeathDate,
	}
}

func mandateParams(m model.Mandate) map[string]any {
	return map[string]any{
		"id":         m.ID,
		"person_id":  m.PersonID,
		"party_name": m.PartyName,
		"wahlkreis":  m.Wahlkreis,
		"start_date": m.StartDate,
		"end_date":   m.EndDate,
		"role":       m.Role,
	}
}

func evidenceParams(ev evidence.Evidence) map[string]any {
	return map[string]any{
		"id":            ev.ID,
		"source_kind":   string(ev.SourceKind),
		"endpoint_kind": string(ev.EndpointKind),
		"page_title":    ev.PageTitle,
		"page_id":       ev.PageID,
		"revision_id":   ev.RevisionID,
		"source_url":    ev.SourceURL,
		"retrieved_at":  ev.RetrievedAt,
		"sha256":        ev.SHA256,
	}
}

func canonicalParams(c model.CanonicalPerson) map[string]any {
	params := map[string]any{
		"id":           c.ID,
		"display_name": c.DisplayName,
		"created_at":   c.CreatedAt,
		"updated_at":   c.UpdatedAt,
	}
	for k, v := range c.Identifiers {
		params["identifier_"+k] = v
	}
	return params
}

func assertionParams(a model.PersonLinkAssertion) map[string]any {
	return map[string]any{
		"id":                   a.ID,
		"wikipedia_person_ref": a.WikipediaPersonRef,
		"dip_person_ref":       a.DipPersonRef,
		"ruleset_version":      a.RulesetVersion,
		"method":               string(a.Method),
		"score":                a.Score,
		"status":               string(a.Status),
		"reason":               a.Reason,
		"created_at":           a.CreatedAt,
	}
}

// supportedByParams builds SUPPORTED_BY edge rows for one fact node. The
// structured snippet ref rides on the edge as JSON so a graph consumer can
// locate the exact row without the search index. Falls back to bare
// evidence IDs when no structured refs were stored.
func supportedByParams(nodeID string, refs []evidence.EvidenceRef, ids []string, syncedAt string) []map[string]any {
	var rows []map[string]any
	if len(refs) > 0 {
		for _, ref := range refs {
			rows = append(rows, map[string]any{
				"node_id":          nodeID,
				"evidence_id":      ref.EvidenceID,
				"purpose":          ref.Purpose,
				"snippet_ref_json": snippetRefJSON(ref.SnippetRef),
				"synced_at":        syncedAt,
			})
		}
		return rows
	}
	for _, id := range ids {
		rows = append(rows, map[string]any{
			"node_id":          nodeID,
			"evidence_id":      id,
			"purpose":          "",
			"snippet_ref_json": "",
			"synced_at":        syncedAt,
		})
	}
	return rows
}

func snippetRefJSON(ref *evidence.SnippetRef) string {
	if ref == nil {
		return ""
	}
	b, err := json.Marshal(ref)
	if err != nil {
		return ""
	}
	return string(b)
}
