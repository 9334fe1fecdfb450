package content

import (
	"context"
	"database/sql"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-faker/faker/v4"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmrzaf/listmat/internal/domain"
	"github.com/mmrzaf/listmat/internal/infra/repos/lists"
)

func contacts() *domain.EntityType {
	return &domain.EntityType{
		Name: "contacts", Table: "contacts", IDColumn: "id", DeletedColumn: "deleted",
		Columns: []domain.ColumnMeta{
			{Name: "id", Label: "ID", Type: domain.ColumnTypeUUID},
			{Name: "name", Label: "Name", Type: domain.ColumnTypeString},
			{Name: "email", Label: "Email", Type: domain.ColumnTypeString},
			{Name: "score", Label: "Score", Type: domain.ColumnTypeFloat},
		},
	}
}

type contactRow struct {
	ID      string
	Name    string
	Email   string
	Score   float64
	Deleted bool
}

func seedContacts(t *testing.T, n int) (*sql.DB, []contactRow) {
	t.Helper()
	db, d, err := Open(filepath.Join(t.TempDir(), "content.db"))
	require.NoError(t, err)
	require.Equal(t, lists.DialectSQLite, d)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`CREATE TABLE contacts (id TEXT PRIMARY KEY, name TEXT, email TEXT, score REAL, deleted INTEGER NOT NULL DEFAULT 0)`)
	require.NoError(t, err)

	rows := make([]contactRow, n)
	for i := range rows {
		rows[i] = contactRow{ID: uuid.NewString(), Name: faker.Name(), Email: faker.Email(), Score: float64(i), Deleted: i%4 == 3}
		_, err := db.Exec(`INSERT INTO contacts (id, name, email, score, deleted) VALUES (?, ?, ?, ?, ?)`,
			rows[i].ID, rows[i].Name, rows[i].Email, rows[i].Score, rows[i].Deleted)
		require.NoError(t, err)
	}
	return db, rows
}

func TestLookupPreservesRequestedOrder(t *testing.T) {
	db, rows := seedContacts(t, 8)
	l := NewLookup(db, lists.DialectSQLite)

	ids := []string{rows[5].ID, rows[0].ID, uuid.NewString(), rows[3].ID}
	recs, err := l.Lookup(context.Background(), contacts(), []string{"email", "score"}, ids)
	require.NoError(t, err)
	require.Len(t, recs, 3, "unknown ids are omitted")

	assert.Equal(t, rows[5].ID, recs[0].ID)
	assert.Equal(t, rows[0].ID, recs[1].ID)
	assert.Equal(t, rows[3].ID, recs[2].ID)
	assert.Equal(t, rows[5].Email, recs[0].Values["email"])
	assert.Equal(t, 5.0, recs[0].Values["score"])
	assert.False(t, recs[0].Deleted)
	assert.True(t, recs[2].Deleted)
	_, hasName := recs[0].Values["name"]
	assert.False(t, hasName)
}

func TestLookupChunksLargePages(t *testing.T) {
	db, rows := seedContacts(t, sqliteChunk+20)
	l := NewLookup(db, lists.DialectSQLite)

	ids := make([]string, len(rows))
	for i := range rows {
		ids[len(rows)-1-i] = rows[i].ID
	}
	recs, err := l.Lookup(context.Background(), contacts(), []string{"name"}, ids)
	require.NoError(t, err)
	require.Len(t, recs, len(rows))
	assert.Equal(t, rows[len(rows)-1].ID, recs[0].ID)
	assert.Equal(t, rows[0].ID, recs[len(recs)-1].ID)
}

func TestLookupRejectsBadIdentifiers(t *testing.T) {
	db, _ := seedContacts(t, 1)
	l := NewLookup(db, lists.DialectSQLite)
	_, err := l.Lookup(context.Background(), contacts(), []string{"name; DROP TABLE contacts"}, []string{"x"})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestLookupPostgresUsesArrayParameter(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, name, deleted FROM contacts WHERE id = ANY($1::uuid[])`)).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "deleted"}).
			AddRow([]byte("b"), []byte("Bea"), true).
			AddRow([]byte("a"), []byte("Al"), false))

	recs, err := NewLookup(db, lists.DialectPostgres).Lookup(context.Background(), contacts(), []string{"name"}, []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "a", recs[0].ID)
	assert.Equal(t, "Al", recs[0].Values["name"])
	assert.True(t, recs[1].Deleted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresIDMatchCastsParameterNotColumn(t *testing.T) {
	et := func(idType domain.ColumnType, withMeta bool) *domain.EntityType {
		e := &domain.EntityType{Name: "accounts", Table: "accounts", IDColumn: "account_id"}
		if withMeta {
			e.Columns = []domain.ColumnMeta{{Name: "account_id", Type: idType}}
		}
		return e
	}
	cases := []struct {
		entity *domain.EntityType
		want   string
	}{
		{et(domain.ColumnTypeString, true), "account_id = ANY($1)"},
		{et(domain.ColumnTypeText, true), "account_id = ANY($1)"},
		{et(domain.ColumnTypeInt, true), "account_id = ANY($1::bigint[])"},
		{et(domain.ColumnTypeBigInt, true), "account_id = ANY($1::bigint[])"},
		{et(domain.ColumnTypeUUID, true), "account_id = ANY($1::uuid[])"},
		{et(domain.ColumnTypeDate, true), "account_id::text = ANY($1)"},
		{et("", false), "account_id = ANY($1)"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, postgresIDMatch(c.entity))
	}
}

func TestLookupPostgresIntegerKeys(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	et := &domain.EntityType{
		Name: "accounts", Table: "accounts", IDColumn: "id",
		Columns: []domain.ColumnMeta{
			{Name: "id", Type: domain.ColumnTypeBigInt},
			{Name: "name", Type: domain.ColumnTypeString},
		},
	}
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, name FROM accounts WHERE id = ANY($1::bigint[])`)).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).
			AddRow(int64(42), []byte("Acme")).
			AddRow(int64(7), []byte("Globex")))

	recs, err := NewLookup(db, lists.DialectPostgres).Lookup(context.Background(), et, []string{"name"}, []string{"7", "42"})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "7", recs[0].ID)
	assert.Equal(t, "Acme", recs[1].Values["name"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDialectOf(t *testing.T) {
	assert.Equal(t, lists.DialectPostgres, DialectOf("postgres://u:p@localhost/db"))
	assert.Equal(t, lists.DialectPostgres, DialectOf("host=localhost dbname=x"))
	assert.Equal(t, lists.DialectSQLite, DialectOf("./content.db"))
}
