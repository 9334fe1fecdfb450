// Package query runs a list's query against the content database and streams
// the matching ids in batches.
package query

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/mmrzaf/listmat/internal/domain"
	"github.com/mmrzaf/listmat/internal/infra/repos/lists"
	"github.com/mmrzaf/listmat/internal/logging"
	"github.com/mmrzaf/listmat/internal/refresh"
	"github.com/mmrzaf/listmat/internal/validation"
)

type EntityResolver interface {
	Get(name string) (*domain.EntityType, error)
}

// SQLProducer treats a list's query text as a SQL predicate over the entity's
// table. Ids are streamed in id order.
type SQLProducer struct {
	db       *sql.DB
	dialect  lists.Dialect
	entities EntityResolver
	logger   *logging.Logger
}

func NewSQLProducer(db *sql.DB, dialect lists.Dialect, entities EntityResolver, logger *logging.Logger) *SQLProducer {
	return &SQLProducer{db: db, dialect: dialect, entities: entities, logger: logger.WithComponent("query")}
}

var _ refresh.Producer = (*SQLProducer)(nil)

func (p *SQLProducer) statement(q refresh.Query) (string, error) {
	et, err := p.entities.Get(q.EntityType)
	if err != nil {
		return "", err
	}
	if !validation.IsValidIdentifier(et.Table) || !validation.IsValidIdentifier(et.IDColumn) {
		return "", fmt.Errorf("%w: entity %s has invalid table or id column", domain.ErrInvalidRequest, et.Name)
	}
	text := strings.TrimSpace(q.Text)
	if strings.Contains(text, ";") {
		return "", fmt.Errorf("%w: query must be a single predicate", domain.ErrInvalidRequest)
	}
	stmt := "SELECT " + et.IDColumn + " FROM " + et.Table
	if text != "" {
		stmt += " WHERE (" + text + ")"
	}
	return stmt + " ORDER BY " + et.IDColumn, nil
}

// Execute starts the query and returns its event stream. A query that cannot
// be started is reported as an error rather than an event.
func (p *SQLProducer) Execute(ctx context.Context, q refresh.Query, batchSize int) (<-chan refresh.Event, error) {
	if batchSize <= 0 {
		batchSize = 10000
	}
	stmt, err := p.statement(q)
	if err != nil {
		return nil, err
	}
	rows, err := p.db.QueryContext(ctx, stmt)
	if err != nil {
		return nil, fmt.Errorf("run list query: %w", err)
	}

	events := make(chan refresh.Event)
	go func() {
		defer close(events)
		defer rows.Close()

		send := func(ev refresh.Event) bool {
			select {
			case events <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		var count int64
		batch := make([]string, 0, batchSize)
		for rows.Next() {
			var id any
			if err := rows.Scan(&id); err != nil {
				send(refresh.Failure(fmt.Errorf("scan id: %w", err)))
				return
			}
			if b, ok := id.([]byte); ok {
				id = string(b)
			}
			batch = append(batch, fmt.Sprint(id))
			count++

			if len(batch) >= batchSize {
				if !send(refresh.Batch(batch)) {
					return
				}
				batch = make([]string, 0, batchSize)
			}
		}
		if err := rows.Err(); err != nil {
			send(refresh.Failure(err))
			return
		}
		if len(batch) > 0 {
			if !send(refresh.Batch(batch)) {
				return
			}
		}
		p.logger.Debugw("query.completed", map[string]any{
			"list_id": q.ListID, "generation_id": q.GenerationID, "rows": count,
		})
		send(refresh.Success(count))
	}()
	return events, nil
}
