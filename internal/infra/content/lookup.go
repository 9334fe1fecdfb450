// Package content resolves field values of content ids from the entity tables
// a list's query selects from.
package content

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/mmrzaf/listmat/internal/domain"
	"github.com/mmrzaf/listmat/internal/infra/repos/lists"
	"github.com/mmrzaf/listmat/internal/validation"
)

type Lookup struct {
	db      *sql.DB
	dialect lists.Dialect
}

func NewLookup(db *sql.DB, dialect lists.Dialect) *Lookup {
	return &Lookup{db: db, dialect: dialect}
}

// Open connects to a content database. Postgres URLs and keyword DSNs select
// lib/pq, anything else is taken as a SQLite file path.
func Open(dsn string) (*sql.DB, lists.Dialect, error) {
	d := DialectOf(dsn)
	driver, source := "postgres", dsn
	if d == lists.DialectSQLite {
		driver, source = "sqlite3", dsn+"?_busy_timeout=5000"
	}
	db, err := sql.Open(driver, source)
	if err != nil {
		return nil, d, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, d, fmt.Errorf("connect content db: %w", err)
	}
	return db, d, nil
}

func DialectOf(dsn string) lists.Dialect {
	s := strings.TrimSpace(dsn)
	if strings.HasPrefix(s, "postgres://") || strings.HasPrefix(s, "postgresql://") || strings.Contains(s, "host=") {
		return lists.DialectPostgres
	}
	return lists.DialectSQLite
}

// Lookup returns one record per id found, in the order of ids.
func (l *Lookup) Lookup(ctx context.Context, entity *domain.EntityType, fields []string, ids []string) ([]domain.Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	for _, name := range append([]string{entity.Table, entity.IDColumn}, fields...) {
		if !validation.IsValidIdentifier(name) {
			return nil, fmt.Errorf("%w: invalid identifier %q", domain.ErrInvalidRequest, name)
		}
	}
	if entity.DeletedColumn != "" && !validation.IsValidIdentifier(entity.DeletedColumn) {
		return nil, fmt.Errorf("%w: invalid identifier %q", domain.ErrInvalidRequest, entity.DeletedColumn)
	}

	cols := append([]string{entity.IDColumn}, fields...)
	if entity.DeletedColumn != "" {
		cols = append(cols, entity.DeletedColumn)
	}
	sel := "SELECT " + strings.Join(cols, ", ") + " FROM " + entity.Table

	byID := make(map[string]domain.Record, len(ids))
	var err error
	if l.dialect == lists.DialectPostgres {
		err = l.fetchPostgres(ctx, sel, entity, fields, ids, byID)
	} else {
		err = l.fetchSQLite(ctx, sel, entity, fields, ids, byID)
	}
	if err != nil {
		return nil, err
	}

	out := make([]domain.Record, 0, len(byID))
	for _, id := range ids {
		if r, ok := byID[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (l *Lookup) scanInto(rows *sql.Rows, entity *domain.EntityType, fields []string, byID map[string]domain.Record) error {
	defer rows.Close()
	n := 1 + len(fields)
	if entity.DeletedColumn != "" {
		n++
	}
	vals := make([]any, n)
	ptrs := make([]any, n)
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return err
		}
		id := fmt.Sprint(normalize(vals[0]))
		rec := domain.Record{ID: id, Values: make(map[string]any, len(fields))}
		for i, f := range fields {
			rec.Values[f] = normalize(vals[1+i])
		}
		if entity.DeletedColumn != "" {
			rec.Deleted = truthy(vals[n-1])
		}
		byID[id] = rec
	}
	return rows.Err()
}

func normalize(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

func truthy(v any) bool {
	switch x := normalize(v).(type) {
	case nil:
		return false
	case bool:
		return x
	case int64:
		return x != 0
	case float64:
		return x != 0
	case string:
		switch strings.ToLower(x) {
		case "1", "t", "true", "y", "yes":
			return true
		}
	}
	return false
}
