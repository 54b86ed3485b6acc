package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/openparl/evidence-cli/internal/db"
	"github.com/openparl/evidence-cli/internal/evidence"
	"github.com/openparl/evidence-cli/internal/model"
	"github.com/openparl/evidence-cli/internal/resilience"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool for use by subsystems that
// need bulk operations.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS evidence (
	id            TEXT PRIMARY KEY,
	source_kind   TEXT NOT NULL,
	endpoint_kind TEXT NOT NULL,
	page_title    TEXT NOT NULL,
	page_id       BIGINT NOT NULL DEFAULT 0,
	revision_id   BIGINT NOT NULL DEFAULT 0,
	source_url    TEXT NOT NULL,
	retrieved_at  TEXT NOT NULL,
	sha256        TEXT NOT NULL,
	snippet_ref   JSONB
);

CREATE TABLE IF NOT EXISTS wikipedia_persons (
	id              TEXT PRIMARY KEY,
	wikipedia_title TEXT NOT NULL UNIQUE,
	record          JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS dip_persons (
	id            TEXT PRIMARY KEY,
	dip_person_id BIGINT NOT NULL UNIQUE,
	record        JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS link_assertions (
	id                   TEXT PRIMARY KEY,
	wikipedia_person_ref TEXT NOT NULL,
	dip_person_ref       TEXT NOT NULL,
	status               TEXT NOT NULL,
	score                DOUBLE PRECISION NOT NULL,
	record               JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS canonical_persons (
	id     TEXT PRIMARY KEY,
	record JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS pipeline_runs (
	id           TEXT PRIMARY KEY,
	seed_keys    JSONB NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	fetched      INTEGER NOT NULL DEFAULT 0,
	parsed       INTEGER NOT NULL DEFAULT 0,
	sink_writes  INTEGER NOT NULL DEFAULT 0,
	errors       INTEGER NOT NULL DEFAULT 0,
	started_at   TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_evidence_page ON evidence(page_title, revision_id);
CREATE INDEX IF NOT EXISTS idx_assertions_status ON link_assertions(status);
CREATE INDEX IF NOT EXISTS idx_assertions_wiki_ref ON link_assertions(wikipedia_person_ref);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) UpsertEvidence(ctx context.Context, ev evidence.Evidence) error {
	var refJSON any
	if ev.SnippetRef != nil {
		b, err := json.Marshal(ev.SnippetRef)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal snippet ref")
		}
		refJSON = string(b)
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO evidence (id, source_kind, endpoint_kind, page_title, page_id, revision_id, source_url, retrieved_at, sha256, snippet_ref)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			source_url = EXCLUDED.source_url,
			retrieved_at = EXCLUDED.retrieved_at,
			sha256 = EXCLUDED.sha256`,
		ev.ID, string(ev.SourceKind), string(ev.EndpointKind), ev.PageTitle, ev.PageID,
		ev.RevisionID, ev.SourceURL, ev.RetrievedAt, ev.SHA256, refJSON,
	)
	return eris.Wrapf(err, "postgres: upsert evidence %s", ev.ID)
}

// BulkUpsertEvidence writes a batch of evidence rows through the COPY
// based upsert path. It is equivalent to repeated UpsertEvidence calls
// but one round trip.
func (s *PostgresStore) BulkUpsertEvidence(ctx context.Context, evs []evidence.Evidence) (int64, error) {
	rows := make([][]any, 0, len(evs))
	for _, ev := range evs {
		var refJSON any
		if ev.SnippetRef != nil {
			b, err := json.Marshal(ev.SnippetRef)
			if err != nil {
				return 0, eris.Wrap(err, "postgres: marshal snippet ref")
			}
			refJSON = string(b)
		}
		rows = append(rows, []any{
			ev.ID, string(ev.SourceKind), string(ev.EndpointKind), ev.PageTitle, ev.PageID,
			ev.RevisionID, ev.SourceURL, ev.RetrievedAt, ev.SHA256, refJSON,
		})
	}
	return db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table: "evidence",
		Columns: []string{"id", "source_kind", "endpoint_kind", "page_title", "page_id",
			"revision_id", "source_url", "retrieved_at", "sha256", "snippet_ref"},
		ConflictKeys: []string{"id"},
		UpdateCols:   []string{"source_url", "retrieved_at", "sha256"},
	}, rows)
}

func (s *PostgresStore) GetEvidence(ctx context.Context, id string) (*evidence.Evidence, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, source_kind, endpoint_kind, page_title, page_id, revision_id, source_url, retrieved_at, sha256, snippet_ref
		FROM evidence WHERE id = $1`, id)
	ev, err := scanEvidencePg(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, resilience.NewNotFound("evidence", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get evidence %s", id)
	}
	if err := ev.VerifyID(); err != nil {
		return nil, err
	}
	return ev, nil
}

func (s *PostgresStore) ListEvidenceByPage(ctx context.Context, pageTitle string, revisionID int64) ([]evidence.Evidence, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, source_kind, endpoint_kind, page_title, page_id, revision_id, source_url, retrieved_at, sha256, snippet_ref
		FROM evidence WHERE page_title = $1 AND revision_id = $2 ORDER BY id`,
		pageTitle, revisionID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list evidence")
	}
	defer rows.Close()

	var out []evidence.Evidence
	for rows.Next() {
		ev, err := scanEvidencePg(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan evidence")
		}
		out = append(out, *ev)
	}
	return out, rows.Err()
}

func scanEvidencePg(row pgx.Row) (*evidence.Evidence, error) {
	var ev evidence.Evidence
	var source, endpoint string
	var refJSON *string
	if err := row.Scan(&ev.ID, &source, &endpoint, &ev.PageTitle, &ev.PageID,
		&ev.RevisionID, &ev.SourceURL, &ev.RetrievedAt, &ev.SHA256, &refJSON); err != nil {
		return nil, err
	}
	ev.SourceKind = evidence.SourceKind(source)
	ev.EndpointKind = evidence.EndpointKind(endpoint)
	if refJSON != nil {
		var ref evidence.SnippetRef
		if err := json.Unmarshal([]byte(*refJSON), &ref); err != nil {
			return nil, eris.Wrap(err, "unmarshal snippet ref")
		}
		ev.SnippetRef = &ref
	}
	return &ev, nil
}

func (s *PostgresStore) UpsertWikipediaPerson(ctx context.Context, rec model.WikipediaPersonRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal wikipedia person")
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO wikipedia_persons (id, wikipedia_title, record) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET wikipedia_title = EXCLUDED.wikipedia_title, record = EXCLUDED.record`,
		rec.ID, rec.WikipediaTitle, string(b),
	)
	return eris.Wrapf(err, "postgres: upsert wikipedia person %s", rec.ID)
}

func (s *PostgresStore) ListWikipediaPersons(ctx context.Context) ([]model.WikipediaPersonRecord, error) {
	rows, err := s.pool.Query(ctx, `SELECT record FROM wikipedia_persons ORDER BY wikipedia_title`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list wikipedia persons")
	}
	defer rows.Close()

	var out []model.WikipediaPersonRecord
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, eris.Wrap(err, "postgres: scan wikipedia person")
		}
		var rec model.WikipediaPersonRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal wikipedia person")
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpsertDipPerson(ctx context.Context, rec model.DipPersonRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal dip person")
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO dip_persons (id, dip_person_id, record) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET dip_person_id = EXCLUDED.dip_person_id, record = EXCLUDED.record`,
		rec.ID, rec.DipPersonID, string(b),
	)
	return eris.Wrapf(err, "postgres: upsert dip person %s", rec.ID)
}

func (s *PostgresStore) ListDipPersons(ctx context.Context, wahlperiode int) ([]model.DipPersonRecord, error) {
	rows, err := s.pool.Query(ctx, `SELECT record FROM dip_persons ORDER BY dip_person_id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list dip persons")
	}
	defer rows.Close()

	var out []model.DipPersonRecord
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, eris.Wrap(err, "postgres: scan dip person")
		}
		var rec model.DipPersonRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal dip person")
		}
		if wahlperiode > 0 && !hasWahlperiode(rec, wahlperiode) {
			continue
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpsertAssertion(ctx context.Context, a model.PersonLinkAssertion) error {
	b, err := json.Marshal(a)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal assertion")
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO link_assertions (id, wikipedia_person_ref, dip_person_ref, status, score, record)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, score = EXCLUDED.score, record = EXCLUDED.record`,
		a.ID, a.WikipediaPersonRef, a.DipPersonRef, string(a.Status), a.Score, string(b),
	)
	return eris.Wrapf(err, "postgres: upsert assertion %s", a.ID)
}

func (s *PostgresStore) ListAssertions(ctx context.Context, filter AssertionFilter) ([]model.PersonLinkAssertion, error) {
	query := `SELECT record FROM link_assertions`
	var args []any
	if filter.Status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list assertions")
	}
	defer rows.Close()

	var out []model.PersonLinkAssertion
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, eris.Wrap(err, "postgres: scan assertion")
		}
		var a model.PersonLinkAssertion
		if err := json.Unmarshal(raw, &a); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal assertion")
		}
		out = append(out, a)
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		start := filter.Offset
		if start > len(out) {
			start = len(out)
		}
		end := start + filter.Limit
		if end > len(out) {
			end = len(out)
		}
		out = out[start:end]
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpsertCanonicalPerson(ctx context.Context, p model.CanonicalPerson) error {
	b, err := json.Marshal(p)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal canonical person")
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO canonical_persons (id, record) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET record = EXCLUDED.record`,
		p.ID, string(b),
	)
	return eris.Wrapf(err, "postgres: upsert canonical person %s", p.ID)
}

func (s *PostgresStore) ListCanonicalPersons(ctx context.Context) ([]model.CanonicalPerson, error) {
	rows, err := s.pool.Query(ctx, `SELECT record FROM canonical_persons ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list canonical persons")
	}
	defer rows.Close()

	var out []model.CanonicalPerson
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, eris.Wrap(err, "postgres: scan canonical person")
		}
		var p model.CanonicalPerson
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal canonical person")
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreateRun(ctx context.Context, runID string, seedKeys []string) error {
	keys, err := json.Marshal(seedKeys)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal seed keys")
	}
	// An explicit re-run with the same id supersedes the earlier row.
	_, err = s.pool.Exec(ctx, `
		INSERT INTO pipeline_runs (id, seed_keys, status, started_at) VALUES ($1, $2, 'running', $3)
		ON CONFLICT (id) DO UPDATE SET
			seed_keys = EXCLUDED.seed_keys, status = 'running',
			fetched = 0, parsed = 0, sink_writes = 0, errors = 0,
			started_at = EXCLUDED.started_at, completed_at = NULL`,
		runID, string(keys), time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: create run %s", runID)
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, status string, counts RunCounts) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE pipeline_runs
		SET status = $1, fetched = $2, parsed = $3, sink_writes = $4, errors = $5, completed_at = $6
		WHERE id = $7`,
		status, counts.Fetched, counts.Parsed, counts.SinkWrites, counts.Errors, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return resilience.NewNotFound("run", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*PipelineRun, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, seed_keys, status, fetched, parsed, sink_writes, errors, started_at, completed_at
		FROM pipeline_runs WHERE id = $1`, runID)

	var run PipelineRun
	var keys []byte
	var completed *time.Time
	err := row.Scan(&run.ID, &keys, &run.Status, &run.Fetched, &run.Parsed,
		&run.SinkWrites, &run.Errors, &run.StartedAt, &completed)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, resilience.NewNotFound("run", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	if err := json.Unmarshal(keys, &run.SeedKeys); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal seed keys")
	}
	run.CompletedAt = completed
	return &run, nil
}
