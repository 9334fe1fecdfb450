// Package fs implements multipart uploads on a local directory. Parts are kept
// under .uploads/<id>/ and concatenated into the object on Complete.
package fs

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/mmrzaf/listmat/internal/infra/blob"
)

type Uploader struct {
	root string
}

func New(root string) (*Uploader, error) {
	if root == "" {
		return nil, fmt.Errorf("fs blob root required")
	}
	if err := os.MkdirAll(filepath.Join(root, ".uploads"), 0o755); err != nil {
		return nil, err
	}
	return &Uploader{root: root}, nil
}

func (u *Uploader) Driver() blob.Driver { return blob.DriverFS }

// Path is where the object for key ends up.
func (u *Uploader) Path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid blob key %q", key)
	}
	return filepath.Join(u.root, clean), nil
}

func (u *Uploader) uploadDir(uploadID string) (string, error) {
	if _, err := uuid.Parse(uploadID); err != nil {
		return "", fmt.Errorf("%w: %s", blob.ErrUnknownUpload, uploadID)
	}
	dir := filepath.Join(u.root, ".uploads", uploadID)
	if _, err := os.Stat(dir); err != nil {
		return "", fmt.Errorf("%w: %s", blob.ErrUnknownUpload, uploadID)
	}
	return dir, nil
}

func (u *Uploader) Initiate(ctx context.Context, key string) (string, error) {
	if _, err := u.Path(key); err != nil {
		return "", err
	}
	id := uuid.NewString()
	if err := os.MkdirAll(filepath.Join(u.root, ".uploads", id), 0o755); err != nil {
		return "", err
	}
	return id, nil
}

func (u *Uploader) UploadPart(ctx context.Context, key, uploadID string, partNumber int, localPath string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if partNumber < 1 {
		return "", fmt.Errorf("part number must be >= 1, got %d", partNumber)
	}
	dir, err := u.uploadDir(uploadID)
	if err != nil {
		return "", err
	}
	src, err := os.Open(localPath)
	if err != nil {
		return "", err
	}
	defer src.Close()

	dst, err := os.Create(filepath.Join(dir, fmt.Sprintf("%05d", partNumber)))
	if err != nil {
		return "", err
	}
	h := md5.New()
	if _, err := io.Copy(io.MultiWriter(dst, h), src); err != nil {
		_ = dst.Close()
		return "", err
	}
	if err := dst.Close(); err != nil {
		return "", err
	}
	return `"` + hex.EncodeToString(h.Sum(nil)) + `"`, nil
}

func (u *Uploader) Complete(ctx context.Context, key, uploadID string, parts []blob.CompletedPart) error {
	dir, err := u.uploadDir(uploadID)
	if err != nil {
		return err
	}
	target, err := u.Path(key)
	if err != nil {
		return err
	}
	if len(parts) == 0 {
		return fmt.Errorf("complete %s: no parts", key)
	}
	sorted := append([]blob.CompletedPart(nil), parts...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].PartNumber < sorted[j].PartNumber })

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	tmp := target + ".partial"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	for _, p := range sorted {
		if err := appendPart(out, filepath.Join(dir, fmt.Sprintf("%05d", p.PartNumber))); err != nil {
			_ = out.Close()
			_ = os.Remove(tmp)
			return fmt.Errorf("complete %s: part %d: %w", key, p.PartNumber, err)
		}
	}
	if err := out.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, target); err != nil {
		return err
	}
	return os.RemoveAll(dir)
}

func appendPart(out io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(out, f)
	return err
}

func (u *Uploader) Abort(ctx context.Context, key, uploadID string) error {
	dir, err := u.uploadDir(uploadID)
	if err != nil {
		return err
	}
	return os.RemoveAll(dir)
}
