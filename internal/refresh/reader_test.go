package refresh

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmrzaf/listmat/internal/domain"
)

func readAll(t *testing.T, r *Reader) ([]string, int) {
	t.Helper()
	var ids []string
	pages := 0
	for {
		page, err := r.Next(context.Background())
		if errors.Is(err, io.EOF) {
			return ids, pages
		}
		require.NoError(t, err)
		pages++
		ids = append(ids, page...)
	}
}

func TestReaderPagesInSequenceOrder(t *testing.T) {
	repo := newStore(t)
	l := seedList(t, repo)
	g := seedGeneration(t, repo, l, domain.StatusSuccess, 1, 250)

	want := contentIDs(t, repo, l.ID, g.ID)
	got, pages := readAll(t, NewReader(repo, l.ID, g.ID, 100))

	assert.Equal(t, 3, pages)
	require.Len(t, got, 250)
	for i := range want {
		assert.Equal(t, want[i].ContentID, got[i])
	}
}

func TestReaderExactMultipleOfPageSize(t *testing.T) {
	repo := newStore(t)
	l := seedList(t, repo)
	g := seedGeneration(t, repo, l, domain.StatusSuccess, 1, 200)

	r := NewReader(repo, l.ID, g.ID, 100)
	got, pages := readAll(t, r)
	assert.Equal(t, 2, pages)
	assert.Len(t, got, 200)
	assert.Equal(t, int64(199), r.Cursor())

	_, err := r.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}

func TestReaderEmptyGeneration(t *testing.T) {
	repo := newStore(t)
	l := seedList(t, repo)

	_, pages := readAll(t, NewReader(repo, l.ID, "none", 10))
	assert.Zero(t, pages)
}
