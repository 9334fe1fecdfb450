package fs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmrzaf/listmat/internal/infra/blob"
)

func writePart(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "part-*")
	require.NoError(t, err)
	_, err = f.WriteString(content)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	return f.Name()
}

func TestCompleteConcatenatesPartsInOrder(t *testing.T) {
	root := t.TempDir()
	u, err := New(root)
	require.NoError(t, err)
	ctx := context.Background()

	id, err := u.Initiate(ctx, "exports/l1/e1.csv")
	require.NoError(t, err)

	e2, err := u.UploadPart(ctx, "exports/l1/e1.csv", id, 2, writePart(t, "c,d\n"))
	require.NoError(t, err)
	e1, err := u.UploadPart(ctx, "exports/l1/e1.csv", id, 1, writePart(t, "h1,h2\na,b\n"))
	require.NoError(t, err)
	assert.NotEqual(t, e1, e2)

	require.NoError(t, u.Complete(ctx, "exports/l1/e1.csv", id, []blob.CompletedPart{{PartNumber: 2, ETag: e2}, {PartNumber: 1, ETag: e1}}))

	data, err := os.ReadFile(filepath.Join(root, "exports", "l1", "e1.csv"))
	require.NoError(t, err)
	assert.Equal(t, "h1,h2\na,b\nc,d\n", string(data))

	_, err = os.Stat(filepath.Join(root, ".uploads", id))
	assert.True(t, os.IsNotExist(err), "upload staging is removed")
}

func TestAbortDiscardsUpload(t *testing.T) {
	u, err := New(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	id, err := u.Initiate(ctx, "k.csv")
	require.NoError(t, err)
	_, err = u.UploadPart(ctx, "k.csv", id, 1, writePart(t, "x"))
	require.NoError(t, err)
	require.NoError(t, u.Abort(ctx, "k.csv", id))

	_, err = u.UploadPart(ctx, "k.csv", id, 2, writePart(t, "y"))
	assert.ErrorIs(t, err, blob.ErrUnknownUpload)
}

func TestRejectsEscapingKeys(t *testing.T) {
	u, err := New(t.TempDir())
	require.NoError(t, err)
	_, err = u.Initiate(context.Background(), "../outside.csv")
	assert.Error(t, err)
}
