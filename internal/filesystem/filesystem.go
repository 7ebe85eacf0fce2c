package filesystem

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v3/disk"
)

var (
	ErrOffsetBeyondEOF   = errors.New("offset is beyond the end of the file")
	ErrInsufficientSpace = errors.New("insufficient disk space")
)

// CreateEmpty creates path (and its directory) as an empty file, truncating any existing content.
func CreateEmpty(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}

	return f.Close()
}

// OpenAt opens an existing file for writing positioned at offset. Content past
// offset is discarded so the file grows only through subsequent writes.
func OpenAt(path string, offset int64) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	if info.Size() < offset {
		f.Close()
		return nil, fmt.Errorf("%w: %s has %d bytes, offset %d", ErrOffsetBeyondEOF, path, info.Size(), offset)
	}

	if info.Size() > offset {
		if err := f.Truncate(offset); err != nil {
			f.Close()
			return nil, err
		}
	}

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		f.Close()
		return nil, err
	}

	return f, nil
}

// WriteFileAtomic writes data to a temporary file next to path and renames it
// over path, so readers see either the old or the new content.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}

	tmpName := tmp.Name()
	cleanup := func() {
		_ = os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()

		return err
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()

		return err
	}

	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}

	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return err
	}

	return nil
}

// Remove deletes path; a missing file is not an error.
func Remove(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}

	return nil
}

// FileExists checks if a file exists
func FileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}

	if os.IsNotExist(err) {
		return false, nil
	}

	return false, err
}

// Size returns the size of the file at path.
func Size(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}

	return info.Size(), nil
}

// EnsureFreeSpace fails when the filesystem holding dir has fewer than need bytes free.
func EnsureFreeSpace(dir string, need int64) error {
	if need <= 0 {
		return nil
	}

	usage, err := disk.Usage(dir)
	if err != nil {
		return fmt.Errorf("failed to read disk usage for %s: %w", dir, err)
	}

	if usage.Free < uint64(need) {
		return fmt.Errorf("%w: need %s, %s free on %s", ErrInsufficientSpace,
			humanize.Bytes(uint64(need)), humanize.Bytes(usage.Free), dir)
	}

	return nil
}
