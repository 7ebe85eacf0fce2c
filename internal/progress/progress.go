package progress

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/NamanBalaji/rdm/internal/filesystem"
)

var (
	// ErrNoProgress is returned when nothing has been saved under a key.
	ErrNoProgress = errors.New("no progress recorded")
	// ErrCorrupt is returned when a saved record cannot be decoded or is inconsistent.
	ErrCorrupt = errors.New("progress record is corrupt")
)

// Record is the state persisted for a paused task.
type Record struct {
	Offset       int64     `json:"offset"`
	TotalSize    int64     `json:"totalSize"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"lastModified,omitempty"`
	SavedAt      time.Time `json:"savedAt"`
}

// Validate checks the record's internal consistency.
func (r Record) Validate() error {
	if r.Offset < 0 || r.TotalSize < 0 {
		return fmt.Errorf("%w: negative offset or size", ErrCorrupt)
	}

	if r.TotalSize > 0 && r.Offset > r.TotalSize {
		return fmt.Errorf("%w: offset %d exceeds total size %d", ErrCorrupt, r.Offset, r.TotalSize)
	}

	return nil
}

// Store persists progress records keyed by the task's progress path.
type Store interface {
	// Create reserves key with no recorded progress.
	Create(key string) error
	Save(key string, rec Record) error
	Load(key string) (Record, error)
	// Delete removes key; deleting a missing key is not an error.
	Delete(key string) error
}

// Encode serializes a record.
func Encode(rec Record) ([]byte, error) {
	return json.Marshal(rec)
}

// Decode parses and validates a serialized record.
func Decode(data []byte) (Record, error) {
	if len(data) == 0 {
		return Record{}, ErrNoProgress
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}

	if err := rec.Validate(); err != nil {
		return Record{}, err
	}

	return rec, nil
}

// FileStore keeps each record in the file named by its key.
type FileStore struct{}

func NewFileStore() *FileStore {
	return &FileStore{}
}

func (s *FileStore) Create(key string) error {
	return filesystem.CreateEmpty(key)
}

// Save replaces the file atomically so a crash never leaves a half-written offset.
func (s *FileStore) Save(key string, rec Record) error {
	if rec.SavedAt.IsZero() {
		rec.SavedAt = time.Now()
	}

	data, err := Encode(rec)
	if err != nil {
		return fmt.Errorf("failed to encode progress: %w", err)
	}

	if err := filesystem.WriteFileAtomic(key, data); err != nil {
		return fmt.Errorf("failed to write progress file %s: %w", key, err)
	}

	return nil
}

func (s *FileStore) Load(key string) (Record, error) {
	data, err := os.ReadFile(key)
	if err != nil {
		if os.IsNotExist(err) {
			return Record{}, ErrNoProgress
		}

		return Record{}, fmt.Errorf("failed to read progress file %s: %w", key, err)
	}

	return Decode(data)
}

func (s *FileStore) Delete(key string) error {
	return filesystem.Remove(key)
}
