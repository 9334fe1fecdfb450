package lists

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mmrzaf/listmat/internal/domain"
)

const listColumns = `id, name, entity_type, query, version,
	in_progress_generation_id, success_generation_id, failure_generation_id,
	created_by, created_at, updated_at`

const generationColumns = `id, list_id, status, started_at, completed_at, record_count, content_version,
	error_code, error_message, query_hash, created_by, timings`

type scanner interface {
	Scan(dest ...any) error
}

func (c conn) CreateList(ctx context.Context, l *domain.List) error {
	_, err := c.exec(ctx, `
	INSERT INTO lists (`+listColumns+`)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.Name, l.EntityType, l.Query, l.Version,
		nullString(l.InProgressGenerationID), nullString(l.SuccessGenerationID), nullString(l.FailureGenerationID),
		nullString(l.CreatedBy), l.CreatedAt.UTC(), l.UpdatedAt.UTC(),
	)
	return err
}

func (c conn) GetList(ctx context.Context, id string) (*domain.List, error) {
	l, err := scanList(c.queryRow(ctx, `SELECT `+listColumns+` FROM lists WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("list %s: %w", id, domain.ErrNotFound)
	}
	return l, err
}

func (c conn) ListLists(ctx context.Context, limit int) ([]*domain.List, error) {
	query := `SELECT ` + listColumns + ` FROM lists ORDER BY created_at DESC`
	args := make([]any, 0, 1)
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := c.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*domain.List, 0)
	for rows.Next() {
		l, err := scanList(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// UpdateListDefinition applies a user edit of name, entity type or query,
// guarded by the edit version. The entity type only changes while the list has
// neither a success nor an in-progress generation. The stored version is
// incremented on success.
func (c conn) UpdateListDefinition(ctx context.Context, l *domain.List) (bool, error) {
	res, err := c.exec(ctx, `
	UPDATE lists SET name = ?, entity_type = ?, query = ?, version = version + 1, updated_at = ?
	WHERE id = ? AND version = ?
	AND (entity_type = ? OR (success_generation_id IS NULL AND in_progress_generation_id IS NULL))`,
		l.Name, l.EntityType, l.Query, l.UpdatedAt.UTC(), l.ID, l.Version, l.EntityType,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		l.Version++
	}
	return n == 1, nil
}

func (c conn) UpdateListPointers(ctx context.Context, l *domain.List, expectedInProgress string) (bool, error) {
	query := `
	UPDATE lists SET in_progress_generation_id = ?, success_generation_id = ?, failure_generation_id = ?, updated_at = ?
	WHERE id = ? AND `
	args := []any{
		nullString(l.InProgressGenerationID), nullString(l.SuccessGenerationID), nullString(l.FailureGenerationID),
		l.UpdatedAt.UTC(), l.ID,
	}
	if expectedInProgress == "" {
		query += `in_progress_generation_id IS NULL`
	} else {
		query += `in_progress_generation_id = ?`
		args = append(args, expectedInProgress)
	}
	res, err := c.exec(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func scanList(row scanner) (*domain.List, error) {
	var l domain.List
	var inProgress, success, failure, createdBy sql.NullString
	if err := row.Scan(
		&l.ID, &l.Name, &l.EntityType, &l.Query, &l.Version,
		&inProgress, &success, &failure,
		&createdBy, &l.CreatedAt, &l.UpdatedAt,
	); err != nil {
		return nil, err
	}
	l.InProgressGenerationID = inProgress.String
	l.SuccessGenerationID = success.String
	l.FailureGenerationID = failure.String
	l.CreatedBy = createdBy.String
	return &l, nil
}

func (c conn) CreateGeneration(ctx context.Context, g *domain.RefreshGeneration) error {
	timings, err := marshalTimings(g.Timings)
	if err != nil {
		return err
	}
	_, err = c.exec(ctx, `
	INSERT INTO refresh_generations (`+generationColumns+`)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		g.ID, g.ListID, string(g.Status), g.StartedAt.UTC(), nullTime(g.CompletedAt), g.RecordCount, g.ContentVersion,
		nullString(g.ErrorCode), nullString(g.ErrorMessage), nullString(g.QueryHash), nullString(g.CreatedBy), timings,
	)
	return err
}

func (c conn) UpdateGeneration(ctx context.Context, g *domain.RefreshGeneration) error {
	timings, err := marshalTimings(g.Timings)
	if err != nil {
		return err
	}
	_, err = c.exec(ctx, `
	UPDATE refresh_generations SET
		status = ?, completed_at = ?, record_count = ?, content_version = ?,
		error_code = ?, error_message = ?, timings = ?
	WHERE id = ?`,
		string(g.Status), nullTime(g.CompletedAt), g.RecordCount, g.ContentVersion,
		nullString(g.ErrorCode), nullString(g.ErrorMessage), timings, g.ID,
	)
	return err
}

func (c conn) GetGeneration(ctx context.Context, id string) (*domain.RefreshGeneration, error) {
	g, err := scanGeneration(c.queryRow(ctx, `SELECT `+generationColumns+` FROM refresh_generations WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("generation %s: %w", id, domain.ErrNotFound)
	}
	return g, err
}

// GenerationStatus reads only the status column; the ingest sink polls it.
func (c conn) GenerationStatus(ctx context.Context, id string) (domain.Status, error) {
	var s string
	err := c.queryRow(ctx, `SELECT status FROM refresh_generations WHERE id = ?`, id).Scan(&s)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("generation %s: %w", id, domain.ErrNotFound)
	}
	return domain.Status(s), err
}

func (c conn) ListGenerations(ctx context.Context, listID string, limit int) ([]*domain.RefreshGeneration, error) {
	query := `SELECT ` + generationColumns + ` FROM refresh_generations WHERE list_id = ? ORDER BY started_at DESC`
	args := []any{listID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := c.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*domain.RefreshGeneration, 0)
	for rows.Next() {
		g, err := scanGeneration(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func scanGeneration(row scanner) (*domain.RefreshGeneration, error) {
	var g domain.RefreshGeneration
	var status string
	var completedAt sql.NullTime
	var errCode, errMsg, queryHash, createdBy, timings sql.NullString
	if err := row.Scan(
		&g.ID, &g.ListID, &status, &g.StartedAt, &completedAt, &g.RecordCount, &g.ContentVersion,
		&errCode, &errMsg, &queryHash, &createdBy, &timings,
	); err != nil {
		return nil, err
	}
	g.Status = domain.Status(status)
	if completedAt.Valid {
		t := completedAt.Time
		g.CompletedAt = &t
	}
	g.ErrorCode = errCode.String
	g.ErrorMessage = errMsg.String
	g.QueryHash = queryHash.String
	g.CreatedBy = createdBy.String
	if timings.Valid && timings.String != "" {
		if err := json.Unmarshal([]byte(timings.String), &g.Timings); err != nil {
			return nil, fmt.Errorf("decode timings of generation %s: %w", g.ID, err)
		}
	}
	return &g, nil
}

func marshalTimings(t domain.StageTimings) (any, error) {
	if len(t) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
