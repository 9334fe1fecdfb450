package lists

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmrzaf/listmat/internal/domain"
)

func newMockRepo(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db, DialectPostgres), mock
}

func TestRebind(t *testing.T) {
	assert.Equal(t, "a = $1 AND b IN ($2, $3)", DialectPostgres.Rebind("a = ? AND b IN (?, ?)"))
	assert.Equal(t, "a = ?", DialectSQLite.Rebind("a = ?"))
}

func TestNewPostgresRepositoryRequiresDSN(t *testing.T) {
	err := NewPostgresRepository("  ").Init(context.Background())
	assert.Error(t, err)
}

func TestPostgresMigrationsSkipApplied(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE IF NOT EXISTS schema_migrations`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`)).
		WillReturnRows(sqlmock.NewRows([]string{"v"}).AddRow(2))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS export_jobs`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE INDEX IF NOT EXISTS idx_export_jobs_list_status`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO schema_migrations(version) VALUES ($1)`)).
		WithArgs(3).WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, repo.Init(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateListPointersGuardsOnInProgress(t *testing.T) {
	repo, mock := newMockRepo(t)
	ctx := context.Background()
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	l := &domain.List{ID: "l1", SuccessGenerationID: "g2", UpdatedAt: at}

	mock.ExpectExec(regexp.QuoteMeta(`WHERE id = $5 AND in_progress_generation_id = $6`)).
		WithArgs(nil, "g2", nil, at, "l1", "g2").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.UpdateListPointers(ctx, l, "g2")
	require.NoError(t, err)
	assert.False(t, ok)

	mock.ExpectExec(regexp.QuoteMeta(`WHERE id = $5 AND in_progress_generation_id IS NULL`)).
		WithArgs(nil, "g2", nil, at, "l1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err = repo.UpdateListPointers(ctx, l, "")
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendContentMapsUniqueViolation(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO list_contents (list_id, generation_id, content_id, sort_seq) VALUES ($1, $2, $3, $4), ($5, $6, $7, $8)`)).
		WithArgs("l1", "g1", "a", int64(5), "l1", "g1", "b", int64(6)).
		WillReturnError(&pq.Error{Code: "23505", Detail: "Key exists"})
	mock.ExpectRollback()

	err := repo.AppendContent(context.Background(), "l1", "g1", 5, []string{"a", "b"})
	assert.ErrorIs(t, err, domain.ErrDuplicateContent)
	assert.Equal(t, domain.CodeDuplicateContent, domain.CodeOf(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInTxRollsBackOnError(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM list_contents WHERE list_id = $1 AND generation_id = $2`)).
		WithArgs("l1", "g1").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectRollback()

	err := repo.InTx(context.Background(), func(tx Tx) error {
		n, err := tx.DeleteContent(context.Background(), "l1", "g1")
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)
		return domain.ErrConflict
	})
	assert.ErrorIs(t, err, domain.ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFinishExportJobIsConditional(t *testing.T) {
	repo, mock := newMockRepo(t)
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	j := &domain.ExportJob{
		ID: "e1", Status: domain.StatusSuccess, CompletedAt: &at,
		ObjectKey: "exports/l1/e1.csv", UploadID: "up", PartCount: 2, RowCount: 10,
	}
	mock.ExpectExec(regexp.QuoteMeta(`WHERE id = $9 AND status = $10`)).
		WithArgs("success", at, "exports/l1/e1.csv", "up", 2, int64(10), nil, nil, "e1", "in_progress").
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.FinishExportJob(context.Background(), j)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetListNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(`SELECT id, name, entity_type`).WithArgs("nope").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.GetList(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
