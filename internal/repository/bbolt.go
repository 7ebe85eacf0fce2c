package repository

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/NamanBalaji/rdm/internal/progress"
)

const (
	progressBucket = "progress"
	metadataBucket = "metadata"
	schemaVersion  = 1
)

// ErrEmptyKey is returned when an operation is given an empty progress key.
var ErrEmptyKey = errors.New("progress key cannot be empty")

// BboltRepository stores progress records in a single bbolt database keyed by progress path.
type BboltRepository struct {
	db *bbolt.DB
}

var _ Repository = (*BboltRepository)(nil)

// NewBboltRepository opens or creates the database at dbPath.
func NewBboltRepository(dbPath string) (*BboltRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	options := &bbolt.Options{
		Timeout: 1 * time.Second,
	}

	db, err := bbolt.Open(dbPath, 0o600, options)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	repo := &BboltRepository{
		db: db,
	}

	if err := repo.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	return repo, nil
}

// initialize sets up buckets and schema
func (r *BboltRepository) initialize() error {
	return r.db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(progressBucket))
		if err != nil {
			return fmt.Errorf("failed to create progress bucket: %w", err)
		}

		meta, err := tx.CreateBucketIfNotExists([]byte(metadataBucket))
		if err != nil {
			return fmt.Errorf("failed to create metadata bucket: %w", err)
		}

		versionBytes := []byte(fmt.Sprintf("%d", schemaVersion))
		if err := meta.Put([]byte("schema_version"), versionBytes); err != nil {
			return fmt.Errorf("failed to store schema version: %w", err)
		}

		return nil
	})
}

// Create is a no-op: a key without a stored record already reads as no progress.
func (r *BboltRepository) Create(key string) error {
	if key == "" {
		return ErrEmptyKey
	}

	return nil
}

// Save persists rec under key, replacing any previous record.
func (r *BboltRepository) Save(key string, rec progress.Record) error {
	if key == "" {
		return ErrEmptyKey
	}

	if rec.SavedAt.IsZero() {
		rec.SavedAt = time.Now()
	}

	data, err := progress.Encode(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal progress: %w", err)
	}

	return r.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(progressBucket))
		if bucket == nil {
			return fmt.Errorf("bucket not found: %s", progressBucket)
		}

		if err := bucket.Put([]byte(key), data); err != nil {
			return fmt.Errorf("failed to save progress: %w", err)
		}

		return nil
	})
}

// Load retrieves the record stored under key.
func (r *BboltRepository) Load(key string) (progress.Record, error) {
	if key == "" {
		return progress.Record{}, ErrEmptyKey
	}

	var data []byte
	err := r.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(progressBucket))
		if bucket == nil {
			return fmt.Errorf("bucket not found: %s", progressBucket)
		}

		// the slice is only valid inside the transaction
		if v := bucket.Get([]byte(key)); v != nil {
			data = append([]byte(nil), v...)
		}

		return nil
	})
	if err != nil {
		return progress.Record{}, err
	}

	if data == nil {
		return progress.Record{}, progress.ErrNoProgress
	}

	return progress.Decode(data)
}

// FindAll retrieves every stored record keyed by progress path. Undecodable entries are skipped.
func (r *BboltRepository) FindAll() (map[string]progress.Record, error) {
	records := make(map[string]progress.Record)

	err := r.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(progressBucket))
		if bucket == nil {
			return fmt.Errorf("bucket not found: %s", progressBucket)
		}

		return bucket.ForEach(func(k, v []byte) error {
			rec, err := progress.Decode(v)
			if err != nil {
				return nil
			}

			records[string(k)] = rec
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return records, nil
}

// Delete removes the record stored under key. Missing keys are ignored.
func (r *BboltRepository) Delete(key string) error {
	if key == "" {
		return ErrEmptyKey
	}

	return r.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(progressBucket))
		if bucket == nil {
			return fmt.Errorf("bucket not found: %s", progressBucket)
		}

		return bucket.Delete([]byte(key))
	})
}

// Close closes the database
func (r *BboltRepository) Close() error {
	return r.db.Close()
}
