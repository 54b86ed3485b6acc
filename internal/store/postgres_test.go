package store

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openparl/evidence-cli/internal/model"
	"github.com/openparl/evidence-cli/internal/resilience"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_GetEvidence_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, source_kind, endpoint_kind, page_title`).
		WithArgs("missing-id").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetEvidence(context.Background(), "missing-id")
	require.Error(t, err)
	assert.True(t, resilience.IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetEvidence_WithSnippetRef(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	want := tableRowEvidence(t)
	refJSON, err := json.Marshal(want.SnippetRef)
	require.NoError(t, err)
	refStr := string(refJSON)

	rows := pgxmock.NewRows([]string{
		"id", "source_kind", "endpoint_kind", "page_title", "page_id",
		"revision_id", "source_url", "retrieved_at", "sha256", "snippet_ref",
	}).AddRow(
		want.ID, string(want.SourceKind), string(want.EndpointKind),
		want.PageTitle, want.PageID, want.RevisionID, want.SourceURL,
		want.RetrievedAt, want.SHA256, &refStr,
	)
	mock.ExpectQuery(`SELECT id, source_kind, endpoint_kind, page_title`).
		WithArgs(want.ID).
		WillReturnRows(rows)

	ev, err := s.GetEvidence(context.Background(), want.ID)
	require.NoError(t, err)
	require.NotNil(t, ev.SnippetRef)
	assert.Equal(t, 5, ev.SnippetRef.RowIndex)
	assert.Equal(t, "Stephan_Weil", ev.SnippetRef.Match.PersonTitle)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetEvidence_TamperedRowIsFatal(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	want := tableRowEvidence(t)
	refJSON, err := json.Marshal(want.SnippetRef)
	require.NoError(t, err)
	refStr := string(refJSON)

	rows := pgxmock.NewRows([]string{
		"id", "source_kind", "endpoint_kind", "page_title", "page_id",
		"revision_id", "source_url", "retrieved_at", "sha256", "snippet_ref",
	}).AddRow(
		want.ID, string(want.SourceKind), string(want.EndpointKind),
		want.PageTitle, want.PageID, want.RevisionID+1, want.SourceURL,
		want.RetrievedAt, want.SHA256, &refStr,
	)
	mock.ExpectQuery(`SELECT id, source_kind, endpoint_kind, page_title`).
		WithArgs(want.ID).
		WillReturnRows(rows)

	_, err = s.GetEvidence(context.Background(), want.ID)
	require.Error(t, err)
	assert.True(t, resilience.IsDeterminismViolation(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertAssertion(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO link_assertions`).
		WithArgs("as-1", "w-1", "7001", "accepted", 1.0, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.UpsertAssertion(context.Background(), model.PersonLinkAssertion{
		ID:                 "as-1",
		WikipediaPersonRef: "w-1",
		DipPersonRef:       "7001",
		Status:             model.StatusAccepted,
		Score:              1.0,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CompleteRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE pipeline_runs`).
		WithArgs("complete", 0, 0, 0, 0, pgxmock.AnyArg(), "run-x").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.CompleteRun(context.Background(), "run-x", "complete", RunCounts{})
	require.Error(t, err)
	assert.True(t, resilience.IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}
