// Package store persists evidence, source person records, assertions
// and canonical persons. Everything is upserted by its deterministic
// ID, so repeated identical writes are no-ops and re-runs never
// duplicate rows.
package store

import (
	"context"
	"time"

	"github.com/openparl/evidence-cli/internal/evidence"
	"github.com/openparl/evidence-cli/internal/model"
)

// AssertionFilter narrows ListAssertions.
type AssertionFilter struct {
	Status model.AssertionStatus `json:"status,omitempty"`
	Limit  int                   `json:"limit,omitempty"`
	Offset int                   `json:"offset,omitempty"`
}

// PipelineRun is the persisted bookkeeping row for one run.
type PipelineRun struct {
	ID          string     `json:"id"`
	SeedKeys    []string   `json:"seed_keys"`
	Status      string     `json:"status"` // "running", "complete", "failed"
	Fetched     int        `json:"fetched"`
	Parsed      int        `json:"parsed"`
	SinkWrites  int        `json:"sink_writes"`
	Errors      int        `json:"errors"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Store is the persistence interface shared by the SQLite and Postgres
// backends.
type Store interface {
	// Evidence index
	UpsertEvidence(ctx context.Context, ev evidence.Evidence) error
	GetEvidence(ctx context.Context, id string) (*evidence.Evidence, error)
	ListEvidenceByPage(ctx context.Context, pageTitle string, revisionID int64) ([]evidence.Evidence, error)

	// Source person records
	UpsertWikipediaPerson(ctx context.Context, rec model.WikipediaPersonRecord) error
	ListWikipediaPersons(ctx context.Context) ([]model.WikipediaPersonRecord, error)
	UpsertDipPerson(ctx context.Context, rec model.DipPersonRecord) error
	ListDipPersons(ctx context.Context, wahlperiode int) ([]model.DipPersonRecord, error)

	// Reconciliation outputs
	UpsertAssertion(ctx context.Context, a model.PersonLinkAssertion) error
	ListAssertions(ctx context.Context, filter AssertionFilter) ([]model.PersonLinkAssertion, error)
	UpsertCanonicalPerson(ctx context.Context, p model.CanonicalPerson) error
	ListCanonicalPersons(ctx context.Context) ([]model.CanonicalPerson, error)

	// Run bookkeeping
	CreateRun(ctx context.Context, runID string, seedKeys []string) error
	CompleteRun(ctx context.Context, runID string, status string, counts RunCounts) error
	GetRun(ctx context.Context, runID string) (*PipelineRun, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// RunCounts summarizes a finished run.
type RunCounts struct {
	Fetched    int `json:"fetched"`
	Parsed     int `json:"parsed"`
	SinkWrites int `json:"sink_writes"`
	Errors     int `json:"errors"`
}
