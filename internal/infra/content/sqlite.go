package content

import (
	"context"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/mmrzaf/listmat/internal/domain"
)

// sqliteChunk stays below SQLite's default host parameter limit.
const sqliteChunk = 500

func (l *Lookup) fetchSQLite(ctx context.Context, sel string, entity *domain.EntityType, fields, ids []string, byID map[string]domain.Record) error {
	for start := 0; start < len(ids); start += sqliteChunk {
		end := start + sqliteChunk
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}
		q := sel + " WHERE " + entity.IDColumn + " IN (" + strings.TrimSuffix(strings.Repeat("?, ", len(chunk)), ", ") + ")"
		rows, err := l.db.QueryContext(ctx, q, args...)
		if err != nil {
			return err
		}
		if err := l.scanInto(rows, entity, fields, byID); err != nil {
			return err
		}
	}
	return nil
}
