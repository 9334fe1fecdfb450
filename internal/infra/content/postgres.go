package content

import (
	"context"

	"github.com/lib/pq"

	"github.com/mmrzaf/listmat/internal/domain"
)

func (l *Lookup) fetchPostgres(ctx context.Context, sel string, entity *domain.EntityType, fields, ids []string, byID map[string]domain.Record) error {
	rows, err := l.db.QueryContext(ctx, sel+" WHERE "+postgresIDMatch(entity), pq.Array(ids))
	if err != nil {
		return err
	}
	return l.scanInto(rows, entity, fields, byID)
}

// postgresIDMatch compares the id column with the text[] parameter. The
// parameter is cast to the column's declared type so the key index stays
// usable; only id columns of other types are compared as text.
func postgresIDMatch(entity *domain.EntityType) string {
	t := domain.ColumnTypeString
	if col, ok := entity.Column(entity.IDColumn); ok {
		t = col.Type
	}
	switch t {
	case domain.ColumnTypeString, domain.ColumnTypeText:
		return entity.IDColumn + " = ANY($1)"
	case domain.ColumnTypeInt, domain.ColumnTypeBigInt:
		return entity.IDColumn + " = ANY($1::bigint[])"
	case domain.ColumnTypeUUID:
		return entity.IDColumn + " = ANY($1::uuid[])"
	default:
		return entity.IDColumn + "::text = ANY($1)"
	}
}
