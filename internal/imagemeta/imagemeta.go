// Package imagemeta holds standalone helpers for saving, loading and
// inspecting image files. None of them validate paths or formats.
package imagemeta

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/rwcarlsen/goexif/exif"
	"github.com/rwcarlsen/goexif/tiff"

	"visionapi/internal/media"
)

// DefaultDir is used by SaveImage when no directory is given.
const DefaultDir = "uploads"

// SupportedFormats is intentionally empty: every format is accepted.
var SupportedFormats = []string{}

// Record bundles a file's metadata with its size.
type Record struct {
	EXIF map[string]string `json:"exif"`
	Path string            `json:"path"`
	Size int64             `json:"size"`
}

// SaveImage writes data as filename under baseDir and returns the path.
func SaveImage(data []byte, filename, baseDir string) (string, error) {
	if baseDir == "" {
		baseDir = DefaultDir
	}
	disk, err := media.NewDisk(baseDir)
	if err != nil {
		return "", err
	}
	return disk.Save(context.Background(), filename, bytes.NewReader(data))
}

// ExtractEXIF returns tag name to value for the file's embedded EXIF data.
// Any failure, including a decoder panic on malformed input, yields an empty map.
func ExtractEXIF(path string) (result map[string]string) {
	result = map[string]string{}
	defer func() {
		if recover() != nil {
			result = map[string]string{}
		}
	}()

	f, err := os.Open(path)
	if err != nil {
		return result
	}
	defer f.Close()

	x, err := exif.Decode(f)
	if x == nil || (err != nil && exif.IsCriticalError(err)) {
		return result
	}

	_ = x.Walk(walkFunc(func(name exif.FieldName, tag *tiff.Tag) error {
		result[string(name)] = tagValue(tag)
		return nil
	}))
	return result
}

type walkFunc func(exif.FieldName, *tiff.Tag) error

func (f walkFunc) Walk(name exif.FieldName, tag *tiff.Tag) error { return f(name, tag) }

func tagValue(tag *tiff.Tag) string {
	if tag.Format() == tiff.StringVal {
		if s, err := tag.StringVal(); err == nil {
			return s
		}
	}
	return tag.String()
}

// ProcessImage extracts metadata and the file size.
func ProcessImage(path string) (Record, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Record{}, fmt.Errorf("imagemeta: stat %s: %w", path, err)
	}
	return Record{
		EXIF: ExtractEXIF(path),
		Path: path,
		Size: info.Size(),
	}, nil
}

// LoadImage reads the whole file at path.
func LoadImage(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("imagemeta: read %s: %w", path, err)
	}
	return data, nil
}
