package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrUploaderDisabled indicates that mirroring is not configured.
var ErrUploaderDisabled = errors.New("media uploader disabled")

// UploadInput wraps a file that should be copied to object storage.
type UploadInput struct {
	Folder      string
	Filename    string
	ContentType string
	Body        io.Reader
	Size        int64
}

// UploadResult captures the object key and its public URL.
type UploadResult struct {
	Key string
	URL string
}

// Uploader copies files written to disk into remote storage.
type Uploader interface {
	Upload(ctx context.Context, input UploadInput) (UploadResult, error)
}

type disabledUploader struct{}

func (disabledUploader) Upload(_ context.Context, _ UploadInput) (UploadResult, error) {
	return UploadResult{}, ErrUploaderDisabled
}

// Disabled returns an uploader that always signals disabled uploads.
func Disabled() Uploader {
	return disabledUploader{}
}

// MirrorFile uploads the file at path under folder.
func MirrorFile(ctx context.Context, up Uploader, folder, path, contentType string) (UploadResult, error) {
	if up == nil {
		return UploadResult{}, ErrUploaderDisabled
	}
	f, err := os.Open(path)
	if err != nil {
		return UploadResult{}, fmt.Errorf("media: open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return UploadResult{}, fmt.Errorf("media: stat %s: %w", path, err)
	}

	return up.Upload(ctx, UploadInput{
		Folder:      folder,
		Filename:    path,
		ContentType: contentType,
		Body:        f,
		Size:        info.Size(),
	})
}
