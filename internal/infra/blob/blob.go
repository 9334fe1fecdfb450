// Package blob defines the multipart upload API export files are delivered
// through. Drivers live in the s3 and fs subpackages.
package blob

import (
	"context"
	"errors"
)

type Driver string

const (
	DriverS3 Driver = "s3"
	DriverFS Driver = "fs"
)

var ErrUnknownUpload = errors.New("unknown multipart upload")

// CompletedPart identifies an uploaded part when completing an upload.
type CompletedPart struct {
	PartNumber int
	ETag       string
}

// MultipartUploader assembles one object from parts uploaded out of local
// files. Part numbers start at 1.
type MultipartUploader interface {
	Driver() Driver
	Initiate(ctx context.Context, key string) (uploadID string, err error)
	UploadPart(ctx context.Context, key, uploadID string, partNumber int, localPath string) (etag string, err error)
	Complete(ctx context.Context, key, uploadID string, parts []CompletedPart) error
	Abort(ctx context.Context, key, uploadID string) error
}
