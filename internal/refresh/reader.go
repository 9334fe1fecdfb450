package refresh

import (
	"context"
	"io"

	"github.com/mmrzaf/listmat/internal/domain"
)

// ContentSource pages content rows of a generation by sort sequence.
type ContentSource interface {
	ContentPage(ctx context.Context, listID, generationID string, afterSeq int64, limit int) ([]domain.ContentRow, error)
}

// Reader walks the rows a Sink wrote, in sequence order, one page per Next.
type Reader struct {
	source       ContentSource
	listID       string
	generationID string
	pageSize     int
	after        int64
	done         bool
}

func NewReader(source ContentSource, listID, generationID string, pageSize int) *Reader {
	if pageSize <= 0 {
		pageSize = 100000
	}
	return &Reader{source: source, listID: listID, generationID: generationID, pageSize: pageSize, after: -1}
}

// Next returns the next page of content ids, or io.EOF once the generation is
// exhausted.
func (r *Reader) Next(ctx context.Context) ([]string, error) {
	if r.done {
		return nil, io.EOF
	}
	rows, err := r.source.ContentPage(ctx, r.listID, r.generationID, r.after, r.pageSize)
	if err != nil {
		return nil, err
	}
	if len(rows) < r.pageSize {
		r.done = true
	}
	if len(rows) == 0 {
		return nil, io.EOF
	}
	ids := make([]string, len(rows))
	for i, row := range rows {
		ids[i] = row.ContentID
	}
	r.after = rows[len(rows)-1].SortSeq
	return ids, nil
}

// Cursor is the sort sequence of the last row returned, -1 before the first page.
func (r *Reader) Cursor() int64 { return r.after }
