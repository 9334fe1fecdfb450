package lists

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/mmrzaf/listmat/internal/domain"
)

func NewPostgresRepository(dsn string) *Repository {
	return &Repository{conn: conn{d: DialectPostgres}, dsn: strings.TrimSpace(dsn)}
}

// Init opens the handle (unless New supplied one), checks connectivity and
// applies pending migrations.
func (r *Repository) Init(ctx context.Context) error {
	if r.db == nil {
		db, err := r.open()
		if err != nil {
			return err
		}
		r.db = db
		r.q = db
	}
	return r.applyMigrations(ctx)
}

func (r *Repository) open() (*sql.DB, error) {
	if r.d == DialectSQLite {
		return openSQLite(r.dbPath)
	}
	if r.dsn == "" {
		return nil, fmt.Errorf("listmat db dsn is required")
	}
	db, err := sql.Open("postgres", r.dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// mapInsertError turns a unique violation on list_contents into ErrDuplicateContent.
func mapInsertError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateContent, pqErr.Detail)
	}
	if isSQLiteConstraint(err) {
		return fmt.Errorf("%w: %v", domain.ErrDuplicateContent, err)
	}
	return err
}
