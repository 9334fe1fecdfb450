package lists

import (
	"context"
	"strings"

	"github.com/mmrzaf/listmat/internal/domain"
)

// AppendContent persists ids as content rows of (listID, generationID) with
// sort sequences startSeq, startSeq+1, ... in the given order. The whole batch
// commits or nothing does.
func (r *Repository) AppendContent(ctx context.Context, listID, generationID string, startSeq int64, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	c := conn{q: tx, d: r.d}
	step := r.d.rowsPerInsert()
	for lo := 0; lo < len(ids); lo += step {
		hi := lo + step
		if hi > len(ids) {
			hi = len(ids)
		}
		if err := c.insertContent(ctx, listID, generationID, startSeq+int64(lo), ids[lo:hi]); err != nil {
			_ = tx.Rollback()
			return mapInsertError(err)
		}
	}
	if err := tx.Commit(); err != nil {
		return mapInsertError(err)
	}
	return nil
}

func (c conn) insertContent(ctx context.Context, listID, generationID string, startSeq int64, ids []string) error {
	var b strings.Builder
	b.WriteString(`INSERT INTO list_contents (list_id, generation_id, content_id, sort_seq) VALUES `)
	args := make([]any, 0, len(ids)*4)
	for i, id := range ids {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(?, ?, ?, ?)")
		args = append(args, listID, generationID, id, startSeq+int64(i))
	}
	_, err := c.exec(ctx, b.String(), args...)
	return err
}

// ContentPage returns up to limit rows with sort_seq > afterSeq in sequence order.
func (c conn) ContentPage(ctx context.Context, listID, generationID string, afterSeq int64, limit int) ([]domain.ContentRow, error) {
	rows, err := c.query(ctx, `
	SELECT content_id, sort_seq FROM list_contents
	WHERE list_id = ? AND generation_id = ? AND sort_seq > ?
	ORDER BY sort_seq
	LIMIT ?`, listID, generationID, afterSeq, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.ContentRow, 0, limit)
	for rows.Next() {
		row := domain.ContentRow{ListID: listID, GenerationID: generationID}
		if err := rows.Scan(&row.ContentID, &row.SortSeq); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (c conn) CountContent(ctx context.Context, listID, generationID string) (int64, error) {
	var n int64
	err := c.queryRow(ctx, `SELECT COUNT(*) FROM list_contents WHERE list_id = ? AND generation_id = ?`,
		listID, generationID).Scan(&n)
	return n, err
}

func (c conn) DeleteContent(ctx context.Context, listID, generationID string) (int64, error) {
	res, err := c.exec(ctx, `DELETE FROM list_contents WHERE list_id = ? AND generation_id = ?`, listID, generationID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteStaleContent removes the list's rows of every generation not in keep.
func (c conn) DeleteStaleContent(ctx context.Context, listID string, keep ...string) (int64, error) {
	query := `DELETE FROM list_contents WHERE list_id = ?`
	args := []any{listID}
	kept := make([]string, 0, len(keep))
	for _, k := range keep {
		if k != "" {
			kept = append(kept, k)
		}
	}
	if len(kept) > 0 {
		query += ` AND generation_id NOT IN (?` + strings.Repeat(", ?", len(kept)-1) + `)`
		for _, k := range kept {
			args = append(args, k)
		}
	}
	res, err := c.exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
