package lists

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mmrzaf/listmat/internal/domain"
)

const exportColumns = `id, list_id, generation_id, fields, status, created_by, started_at, completed_at,
	object_key, upload_id, part_count, row_count, error_code, error_message`

func (c conn) CreateExportJob(ctx context.Context, j *domain.ExportJob) error {
	fields, err := json.Marshal(j.Fields)
	if err != nil {
		return err
	}
	_, err = c.exec(ctx, `
	INSERT INTO export_jobs (`+exportColumns+`)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.ListID, j.GenerationID, string(fields), string(j.Status), nullString(j.CreatedBy),
		j.StartedAt.UTC(), nullTime(j.CompletedAt), nullString(j.ObjectKey), nullString(j.UploadID),
		j.PartCount, j.RowCount, nullString(j.ErrorCode), nullString(j.ErrorMessage),
	)
	return err
}

func (c conn) GetExportJob(ctx context.Context, id string) (*domain.ExportJob, error) {
	j, err := scanExportJob(c.queryRow(ctx, `SELECT `+exportColumns+` FROM export_jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("export %s: %w", id, domain.ErrNotFound)
	}
	return j, err
}

// ExportStatus reads only the status column; the upload driver polls it.
func (c conn) ExportStatus(ctx context.Context, id string) (domain.Status, error) {
	var s string
	err := c.queryRow(ctx, `SELECT status FROM export_jobs WHERE id = ?`, id).Scan(&s)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("export %s: %w", id, domain.ErrNotFound)
	}
	return domain.Status(s), err
}

func (c conn) ListExportJobs(ctx context.Context, listID string, limit int) ([]*domain.ExportJob, error) {
	query := `SELECT ` + exportColumns + ` FROM export_jobs WHERE list_id = ? ORDER BY started_at DESC`
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

	out := make([]*domain.ExportJob, 0)
	for rows.Next() {
		j, err := scanExportJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// FinishExportJob writes the terminal state of j if the stored job is still in
// progress. It reports false when someone else finalized it first.
func (c conn) FinishExportJob(ctx context.Context, j *domain.ExportJob) (bool, error) {
	res, err := c.exec(ctx, `
	UPDATE export_jobs SET
		status = ?, completed_at = ?, object_key = ?, upload_id = ?, part_count = ?, row_count = ?,
		error_code = ?, error_message = ?
	WHERE id = ? AND status = ?`,
		string(j.Status), nullTime(j.CompletedAt), nullString(j.ObjectKey), nullString(j.UploadID),
		j.PartCount, j.RowCount, nullString(j.ErrorCode), nullString(j.ErrorMessage),
		j.ID, string(domain.StatusInProgress),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (c conn) CancelExportJob(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := c.exec(ctx, `
	UPDATE export_jobs SET status = ?, completed_at = ?, error_code = ?, error_message = ?
	WHERE id = ? AND status = ?`,
		string(domain.StatusCancelled), at.UTC(), domain.CodeCancelled, domain.ErrCancelled.Message,
		id, string(domain.StatusInProgress),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (c conn) HasActiveExport(ctx context.Context, listID string) (bool, error) {
	var n int
	err := c.queryRow(ctx, `SELECT COUNT(*) FROM export_jobs WHERE list_id = ? AND status = ?`,
		listID, string(domain.StatusInProgress)).Scan(&n)
	return n > 0, err
}

func scanExportJob(row scanner) (*domain.ExportJob, error) {
	var j domain.ExportJob
	var fields, status string
	var completedAt sql.NullTime
	var createdBy, objectKey, uploadID, errCode, errMsg sql.NullString
	if err := row.Scan(
		&j.ID, &j.ListID, &j.GenerationID, &fields, &status, &createdBy, &j.StartedAt, &completedAt,
		&objectKey, &uploadID, &j.PartCount, &j.RowCount, &errCode, &errMsg,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(fields), &j.Fields); err != nil {
		return nil, fmt.Errorf("decode fields of export %s: %w", j.ID, err)
	}
	j.Status = domain.Status(status)
	if completedAt.Valid {
		t := completedAt.Time
		j.CompletedAt = &t
	}
	j.CreatedBy = createdBy.String
	j.ObjectKey = objectKey.String
	j.UploadID = uploadID.String
	j.ErrorCode = errCode.String
	j.ErrorMessage = errMsg.String
	return &j, nil
}
