package repository

import "github.com/NamanBalaji/rdm/internal/progress"

// Repository is a progress.Store that can enumerate and release its records.
type Repository interface {
	progress.Store
	FindAll() (map[string]progress.Record, error)
	Close() error
}
