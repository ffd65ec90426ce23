package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Disk is the local upload directory. Names are used as given: they are not
// cleaned, so ".." segments and absolute names reach outside BaseDir.
type Disk struct {
	BaseDir string
}

// NewDisk constructs a Disk and creates its base directory.
func NewDisk(baseDir string) (*Disk, error) {
	dir := strings.TrimSpace(baseDir)
	if dir == "" {
		return nil, errors.New("media: base directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("media: create upload dir: %w", err)
	}
	return &Disk{BaseDir: dir}, nil
}

// Path returns the on-disk path for name. An absolute name replaces the base
// directory; anything else is appended verbatim.
func (d *Disk) Path(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return d.BaseDir + string(filepath.Separator) + name
}

// Save streams r to Path(name) and returns that path. Only BaseDir is created;
// a name whose parent directory does not exist fails. The content lands in a
// temporary sibling first and is renamed into place, so concurrent writers to
// the same name leave one complete payload behind. A symlink at the target is
// replaced, not written through.
func (d *Disk) Save(ctx context.Context, name string, r io.Reader) (string, error) {
	if r == nil {
		return "", errors.New("media: body is required")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	target := d.Path(name)
	dir := filepath.Dir(target)
	if err := os.MkdirAll(d.BaseDir, 0o755); err != nil {
		return "", fmt.Errorf("media: ensure directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, ".partial-*")
	if err != nil {
		return "", fmt.Errorf("media: create temp file: %w", err)
	}
	tmpName := tmpFile.Name()

	if _, err := io.Copy(tmpFile, r); err != nil {
		tmpFile.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("media: write %s: %w", target, err)
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("media: close %s: %w", target, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("media: chmod %s: %w", target, err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("media: move into %s: %w", target, err)
	}

	return target, nil
}
