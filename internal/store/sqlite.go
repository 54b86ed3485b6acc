package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/openparl/evidence-cli/internal/evidence"
	"github.com/openparl/evidence-cli/internal/model"
	"github.com/openparl/evidence-cli/internal/resilience"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS evidence (
	id            TEXT PRIMARY KEY,
	source_kind   TEXT NOT NULL,
	endpoint_kind TEXT NOT NULL,
	page_title    TEXT NOT NULL,
	page_id       INTEGER NOT NULL DEFAULT 0,
	revision_id   INTEGER NOT NULL DEFAULT 0,
	source_url    TEXT NOT NULL,
	retrieved_at  TEXT NOT NULL,
	sha256        TEXT NOT NULL,
	snippet_ref   TEXT
);

CREATE TABLE IF NOT EXISTS wikipedia_persons (
	id              TEXT PRIMARY KEY,
	wikipedia_title TEXT NOT NULL UNIQUE,
	record          TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS dip_persons (
	id            TEXT PRIMARY KEY,
	dip_person_id INTEGER NOT NULL UNIQUE,
	record        TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS link_assertions (
	id                   TEXT PRIMARY KEY,
	wikipedia_person_ref TEXT NOT NULL,
	dip_person_ref       TEXT NOT NULL,
	status               TEXT NOT NULL,
	score                REAL NOT NULL,
	record               TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS canonical_persons (
	id     TEXT PRIMARY KEY,
	record TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS pipeline_runs (
	id           TEXT PRIMARY KEY,
	seed_keys    TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	fetched      INTEGER NOT NULL DEFAULT 0,
	parsed       INTEGER NOT NULL DEFAULT 0,
	sink_writes  INTEGER NOT NULL DEFAULT 0,
	errors       INTEGER NOT NULL DEFAULT 0,
	started_at   DATETIME NOT NULL,
	completed_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_evidence_page ON evidence(page_title, revision_id);
CREATE INDEX IF NOT EXISTS idx_assertions_status ON link_assertions(status);
CREATE INDEX IF NOT EXISTS idx_assertions_wiki_ref ON link_assertions(wikipedia_person_ref);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) UpsertEvidence(ctx context.Context, ev evidence.Evidence) error {
	var refJSON sql.NullString
	if ev.SnippetRef != nil {
		b, err := json.Marshal(ev.SnippetRef)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal snippet ref")
		}
		refJSON = sql.NullString{String: string(b), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO evidence (id, source_kind, endpoint_kind, page_title, page_id, revision_id, source_url, retrieved_at, sha256, snippet_ref)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			source_url = excluded.source_url,
			retrieved_at = excluded.retrieved_at,
			sha256 = excluded.sha256`,
		ev.ID, string(ev.SourceKind), string(ev.EndpointKind), ev.PageTitle, ev.PageID,
		ev.RevisionID, ev.SourceURL, ev.RetrievedAt, ev.SHA256, refJSON,
	)
	return eris.Wrapf(err, "sqlite: upsert evidence %s", ev.ID)
}

func (s *SQLiteStore) GetEvidence(ctx context.Context, id string) (*evidence.Evidence, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, source_kind, endpoint_kind, page_title, page_id, revision_id, source_url, retrieved_at, sha256, snippet_ref
		FROM evidence WHERE id = ?`, id)
	ev, err := scanEvidence(row)
	if err == sql.ErrNoRows {
		return nil, resilience.NewNotFound("evidence", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get evidence %s", id)
	}
	if err := ev.VerifyID(); err != nil {
		return nil, err
	}
	return ev, nil
}

func (s *SQLiteStore) ListEvidenceByPage(ctx context.Context, pageTitle string, revisionID int64) ([]evidence.Evidence, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_kind, endpoint_kind, page_title, page_id, revision_id, source_url, retrieved_at, sha256, snippet_ref
		FROM evidence WHERE page_title = ? AND revision_id = ? ORDER BY id`,
		pageTitle, revisionID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list evidence")
	}
	defer rows.Close() //nolint:errcheck

	var out []evidence.Evidence
	for rows.Next() {
		ev, err := scanEvidence(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan evidence")
		}
		out = append(out, *ev)
	}
	return out, rows.Err()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanEvidence(row scannable) (*evidence.Evidence, error) {
	var ev evidence.Evidence
	var source, endpoint string
	var refJSON sql.NullString
	if err := row.Scan(&ev.ID, &source, &endpoint, &ev.PageTitle, &ev.PageID,
		&ev.RevisionID, &ev.SourceURL, &ev.RetrievedAt, &ev.SHA256, &refJSON); err != nil {
		return nil, err
	}
	ev.SourceKind = evidence.SourceKind(source)
	ev.EndpointKind = evidence.EndpointKind(endpoint)
	if refJSON.Valid {
		var ref evidence.SnippetRef
		if err := json.Unmarshal([]byte(refJSON.String), &ref); err != nil {
			return nil, eris.Wrap(err, "unmarshal snippet ref")
		}
		ev.SnippetRef = &ref
	}
	return &ev, nil
}

func (s *SQLiteStore) UpsertWikipediaPerson(ctx context.Context, rec model.WikipediaPersonRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal wikipedia person")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO wikipedia_persons (id, wikipedia_title, record) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET wikipedia_title = excluded.wikipedia_title, record = excluded.record`,
		rec.ID, rec.WikipediaTitle, string(b),
	)
	return eris.Wrapf(err, "sqlite: upsert wikipedia person %s", rec.ID)
}

func (s *SQLiteStore) ListWikipediaPersons(ctx context.Context) ([]model.WikipediaPersonRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT record FROM wikipedia_persons ORDER BY wikipedia_title`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list wikipedia persons")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.WikipediaPersonRecord
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan wikipedia person")
		}
		var rec model.WikipediaPersonRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal wikipedia person")
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpsertDipPerson(ctx context.Context, rec model.DipPersonRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal dip person")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO dip_persons (id, dip_person_id, record) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET dip_person_id = excluded.dip_person_id, record = excluded.record`,
		rec.ID, rec.DipPersonID, string(b),
	)
	return eris.Wrapf(err, "sqlite: upsert dip person %s", rec.ID)
}

func (s *SQLiteStore) ListDipPersons(ctx context.Context, wahlperiode int) ([]model.DipPersonRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT record FROM dip_persons ORDER BY dip_person_id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list dip persons")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.DipPersonRecord
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan dip person")
		}
		var rec model.DipPersonRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal dip person")
		}
		if wahlperiode > 0 && !hasWahlperiode(rec, wahlperiode) {
			continue
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func hasWahlperiode(rec model.DipPersonRecord, wp int) bool {
	for _, w := range rec.Wahlperiode {
		if w == wp {
			return true
		}
	}
	return false
}

func (s *SQLiteStore) UpsertAssertion(ctx context.Context, a model.PersonLinkAssertion) error {
	b, err := json.Marshal(a)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal assertion")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO link_assertions (id, wikipedia_person_ref, dip_person_ref, status, score, record)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET status = excluded.status, score = excluded.score, record = excluded.record`,
		a.ID, a.WikipediaPersonRef, a.DipPersonRef, string(a.Status), a.Score, string(b),
	)
	return eris.Wrapf(err, "sqlite: upsert assertion %s", a.ID)
}

func (s *SQLiteStore) ListAssertions(ctx context.Context, filter AssertionFilter) ([]model.PersonLinkAssertion, error) {
	query := `SELECT record FROM link_assertions`
	var args []any
	if filter.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY id`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += ` OFFSET ?`
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list assertions")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.PersonLinkAssertion
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan assertion")
		}
		var a model.PersonLinkAssertion
		if err := json.Unmarshal([]byte(raw), &a); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal assertion")
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpsertCanonicalPerson(ctx context.Context, p model.CanonicalPerson) error {
	b, err := json.Marshal(p)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal canonical person")
	}
	// Canonical persons are never deleted; an upsert may only add
	// identifiers, so created_at from the stored record wins.
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO canonical_persons (id, record) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET record = excluded.record`,
		p.ID, string(b),
	)
	return eris.Wrapf(err, "sqlite: upsert canonical person %s", p.ID)
}

func (s *SQLiteStore) ListCanonicalPersons(ctx context.Context) ([]model.CanonicalPerson, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT record FROM canonical_persons ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list canonical persons")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.CanonicalPerson
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan canonical person")
		}
		var p model.CanonicalPerson
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal canonical person")
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, runID string, seedKeys []string) error {
	keys, err := json.Marshal(seedKeys)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal seed keys")
	}
	// An explicit re-run with the same id supersedes the earlier row.
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pipeline_runs (id, seed_keys, status, started_at) VALUES (?, ?, 'running', ?)
		ON CONFLICT(id) DO UPDATE SET
			seed_keys = excluded.seed_keys, status = 'running',
			fetched = 0, parsed = 0, sink_writes = 0, errors = 0,
			started_at = excluded.started_at, completed_at = NULL`,
		runID, string(keys), time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: create run %s", runID)
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, status string, counts RunCounts) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE pipeline_runs
		SET status = ?, fetched = ?, parsed = ?, sink_writes = ?, errors = ?, completed_at = ?
		WHERE id = ?`,
		status, counts.Fetched, counts.Parsed, counts.SinkWrites, counts.Errors, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*PipelineRun, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, seed_keys, status, fetched, parsed, sink_writes, errors, started_at, completed_at
		FROM pipeline_runs WHERE id = ?`, runID)

	var run PipelineRun
	var keys string
	var completed sql.NullTime
	err := row.Scan(&run.ID, &keys, &run.Status, &run.Fetched, &run.Parsed,
		&run.SinkWrites, &run.Errors, &run.StartedAt, &completed)
	if err == sql.ErrNoRows {
		return nil, resilience.NewNotFound("run", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}
	if err := json.Unmarshal([]byte(keys), &run.SeedKeys); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal seed keys")
	}
	if completed.Valid {
		run.CompletedAt = &completed.Time
	}
	return &run, nil
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return resilience.NewNotFound(entity, id)
	}
	return nil
}
