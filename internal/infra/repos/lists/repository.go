// Package lists is the durable store of lists, refresh generations, list content
// rows and export jobs. The same SQL runs on Postgres and SQLite; statements are
// written with ? placeholders and rebound for Postgres.
package lists

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mmrzaf/listmat/internal/domain"
)

type Dialect int

const (
	DialectPostgres Dialect = iota
	DialectSQLite
)

func (d Dialect) String() string {
	if d == DialectPostgres {
		return "postgres"
	}
	return "sqlite"
}

// Rebind rewrites ? placeholders to $n for Postgres.
func (d Dialect) Rebind(q string) string {
	if d != DialectPostgres || !strings.Contains(q, "?") {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 16)
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}

// rowsPerInsert keeps multi-row inserts under each engine's bind-variable limit.
func (d Dialect) rowsPerInsert() int {
	if d == DialectPostgres {
		return 5000
	}
	return 200
}

func (d Dialect) timestampType() string {
	if d == DialectPostgres {
		return "TIMESTAMPTZ"
	}
	return "TIMESTAMP"
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type conn struct {
	q querier
	d Dialect
}

func (c conn) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.q.ExecContext(ctx, c.d.Rebind(query), args...)
}

func (c conn) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.q.QueryContext(ctx, c.d.Rebind(query), args...)
}

func (c conn) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return c.q.QueryRowContext(ctx, c.d.Rebind(query), args...)
}

// Tx is the view of the store available inside InTx. Completion handlers use it
// to load the list, compare its in-progress pointer and commit conditionally.
type Tx interface {
	GetList(ctx context.Context, id string) (*domain.List, error)
	GetGeneration(ctx context.Context, id string) (*domain.RefreshGeneration, error)
	CreateGeneration(ctx context.Context, g *domain.RefreshGeneration) error
	UpdateGeneration(ctx context.Context, g *domain.RefreshGeneration) error
	// UpdateListPointers writes l's generation pointers only if the stored
	// in-progress pointer still equals expectedInProgress ("" meaning unset).
	UpdateListPointers(ctx context.Context, l *domain.List, expectedInProgress string) (bool, error)
	DeleteContent(ctx context.Context, listID, generationID string) (int64, error)
}

type Repository struct {
	conn
	db     *sql.DB
	dsn    string
	dbPath string
}

// New wraps an already opened handle. Init still has to run the migrations.
func New(db *sql.DB, dialect Dialect) *Repository {
	return &Repository{conn: conn{q: db, d: dialect}, db: db}
}

func (r *Repository) DB() *sql.DB { return r.db }

func (r *Repository) Dialect() Dialect { return r.d }

func (r *Repository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *Repository) InTx(ctx context.Context, fn func(Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(&sqlTx{conn{q: tx, d: r.d}}); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

type sqlTx struct {
	conn
}

func (r *Repository) applyMigrations(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY)`); err != nil {
		return err
	}
	var cur int
	if err := r.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&cur); err != nil {
		return err
	}

	type mig struct {
		v  int
		up func(context.Context, *sql.DB, Dialect) error
	}
	migs := []mig{
		{1, migrateV1Lists},
		{2, migrateV2Content},
		{3, migrateV3ExportJobs},
	}

	for _, m := range migs {
		if cur >= m.v {
			continue
		}
		if err := m.up(ctx, r.db, r.d); err != nil {
			return fmt.Errorf("migration %d failed: %w", m.v, err)
		}
		if _, err := r.exec(ctx, `INSERT INTO schema_migrations(version) VALUES (?)`, m.v); err != nil {
			return err
		}
		cur = m.v
	}
	return nil
}

func migrateV1Lists(ctx context.Context, db *sql.DB, d Dialect) error {
	ts := d.timestampType()
	ddls := []string{
		`CREATE TABLE IF NOT EXISTS lists (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		query TEXT NOT NULL,
		version BIGINT NOT NULL DEFAULT 0,
		in_progress_generation_id TEXT,
		success_generation_id TEXT,
		failure_generation_id TEXT,
		created_by TEXT,
		created_at ` + ts + ` NOT NULL,
		updated_at ` + ts + ` NOT NULL
	)`,
		`CREATE TABLE IF NOT EXISTS refresh_generations (
		id TEXT PRIMARY KEY,
		list_id TEXT NOT NULL,
		status TEXT NOT NULL,
		started_at ` + ts + ` NOT NULL,
		completed_at ` + ts + `,
		record_count BIGINT NOT NULL DEFAULT 0,
		content_version BIGINT NOT NULL DEFAULT 0,
		error_code TEXT,
		error_message TEXT,
		query_hash TEXT,
		created_by TEXT,
		timings TEXT
	)`,
		`CREATE INDEX IF NOT EXISTS idx_refresh_generations_list ON refresh_generations(list_id, started_at DESC)`,
	}
	return execAll(ctx, db, ddls)
}

func migrateV2Content(ctx context.Context, db *sql.DB, _ Dialect) error {
	ddls := []string{
		`CREATE TABLE IF NOT EXISTS list_contents (
		list_id TEXT NOT NULL,
		generation_id TEXT NOT NULL,
		content_id TEXT NOT NULL,
		sort_seq BIGINT NOT NULL,
		PRIMARY KEY (list_id, generation_id, content_id)
	)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_list_contents_seq ON list_contents(list_id, generation_id, sort_seq)`,
	}
	return execAll(ctx, db, ddls)
}

func migrateV3ExportJobs(ctx context.Context, db *sql.DB, d Dialect) error {
	ts := d.timestampType()
	ddls := []string{
		`CREATE TABLE IF NOT EXISTS export_jobs (
		id TEXT PRIMARY KEY,
		list_id TEXT NOT NULL,
		generation_id TEXT NOT NULL,
		fields TEXT NOT NULL,
		status TEXT NOT NULL,
		created_by TEXT,
		started_at ` + ts + ` NOT NULL,
		completed_at ` + ts + `,
		object_key TEXT,
		upload_id TEXT,
		part_count INTEGER NOT NULL DEFAULT 0,
		row_count BIGINT NOT NULL DEFAULT 0,
		error_code TEXT,
		error_message TEXT
	)`,
		`CREATE INDEX IF NOT EXISTS idx_export_jobs_list_status ON export_jobs(list_id, status)`,
	}
	return execAll(ctx, db, ddls)
}

func execAll(ctx context.Context, db *sql.DB, ddls []string) error {
	for _, ddl := range ddls {
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			return err
		}
	}
	return nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
