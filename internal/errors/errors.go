package errors

import (
	"errors"
	"fmt"
	"time"
)

var (
	Is     = errors.Is
	As     = errors.As
	New    = errors.New
	Unwrap = errors.Unwrap
	Join   = errors.Join
)

type ErrorCategory string

const (
	CategoryTransition      ErrorCategory = "INVALID_TRANSITION" // Command not allowed in the current status
	CategoryUnknownTask     ErrorCategory = "UNKNOWN_TASK"       // Id absent from the registry
	CategoryConnection      ErrorCategory = "CONNECTION"         // Opening or reading the resource failed
	CategoryFileSystem      ErrorCategory = "FILESYSTEM"         // Target or progress file issues
	CategoryCorruptProgress ErrorCategory = "CORRUPT_PROGRESS"   // Persisted offset unusable
	CategoryShutdown        ErrorCategory = "SHUTDOWN"           // Engine no longer accepts work
	CategoryUnknown         ErrorCategory = "UNKNOWN"
)

// TaskError represents an error that occurred while operating on a download task.
type TaskError struct {
	Err        error
	Category   ErrorCategory
	TaskID     string
	Resource   string // URL or file path being accessed
	StatusCode int    // HTTP status code when known
	Timestamp  time.Time
}

func (e *TaskError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("[%s] %s (status: %d): %v", e.Category, e.Resource, e.StatusCode, e.Err)
	case e.Resource != "":
		return fmt.Sprintf("[%s] %s: %v", e.Category, e.Resource, e.Err)
	case e.TaskID != "":
		return fmt.Sprintf("[%s] task %s: %v", e.Category, e.TaskID, e.Err)
	default:
		return fmt.Sprintf("[%s] %v", e.Category, e.Err)
	}
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

var (
	ErrInvalidTransition = New("invalid status transition")
	ErrUnknownTask       = New("unknown task id")
	ErrCorruptProgress   = New("persisted progress is unreadable or inconsistent")
	ErrStaleProgress     = New("remote resource changed since progress was saved")
	ErrInterrupted       = New("transfer interrupted")
	ErrShutdown          = New("download manager is shut down")
	ErrInvalidURL        = New("invalid URL")
	ErrInvalidFileName   = New("invalid file name")
	ErrTargetInUse       = New("target file is used by another active task")
	ErrInsufficientSpace = New("insufficient disk space")
	ErrUnexpectedEOF     = New("stream ended before the expected length")
)

// NewTransitionError reports a rejected status change.
func NewTransitionError(taskID string, from, to fmt.Stringer) *TaskError {
	return &TaskError{
		Err:       fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to),
		Category:  CategoryTransition,
		TaskID:    taskID,
		Timestamp: time.Now(),
	}
}

func NewUnknownTaskError(taskID string) *TaskError {
	return &TaskError{
		Err:       ErrUnknownTask,
		Category:  CategoryUnknownTask,
		TaskID:    taskID,
		Timestamp: time.Now(),
	}
}

// NewConnectionError creates a network-related error.
func NewConnectionError(err error, resource string, statusCode int) *TaskError {
	return &TaskError{
		Err:        err,
		Category:   CategoryConnection,
		Resource:   resource,
		StatusCode: statusCode,
		Timestamp:  time.Now(),
	}
}

// NewFileSystemError creates a file related error.
func NewFileSystemError(err error, resource string) *TaskError {
	return &TaskError{
		Err:       err,
		Category:  CategoryFileSystem,
		Resource:  resource,
		Timestamp: time.Now(),
	}
}

func NewCorruptProgressError(err error, resource string) *TaskError {
	if !Is(err, ErrCorruptProgress) {
		err = fmt.Errorf("%w: %w", ErrCorruptProgress, err)
	}

	return &TaskError{
		Err:       err,
		Category:  CategoryCorruptProgress,
		Resource:  resource,
		Timestamp: time.Now(),
	}
}

func NewShutdownError(taskID string) *TaskError {
	return &TaskError{
		Err:       ErrShutdown,
		Category:  CategoryShutdown,
		TaskID:    taskID,
		Timestamp: time.Now(),
	}
}

// NewStaleProgressError reports that the remote resource no longer matches the saved offset.
func NewStaleProgressError(resource string, statusCode int) *TaskError {
	return &TaskError{
		Err:        ErrStaleProgress,
		Category:   CategoryCorruptProgress,
		Resource:   resource,
		StatusCode: statusCode,
		Timestamp:  time.Now(),
	}
}

// NewInterruptedError reports a transfer stopped by a forced shutdown.
func NewInterruptedError(taskID string) *TaskError {
	return &TaskError{
		Err:       ErrInterrupted,
		Category:  CategoryShutdown,
		TaskID:    taskID,
		Timestamp: time.Now(),
	}
}

// WithTask attaches a task id to err when it is a TaskError without one.
func WithTask(err error, taskID string) error {
	var taskErr *TaskError
	if As(err, &taskErr) && taskErr.TaskID == "" {
		taskErr.TaskID = taskID
	}

	return err
}

// GetCategory extracts the category from an error.
func GetCategory(err error) ErrorCategory {
	var taskErr *TaskError
	if As(err, &taskErr) {
		return taskErr.Category
	}

	return CategoryUnknown
}

func IsInvalidTransition(err error) bool {
	return GetCategory(err) == CategoryTransition
}

func IsUnknownTask(err error) bool {
	return GetCategory(err) == CategoryUnknownTask
}

func IsConnectionError(err error) bool {
	return GetCategory(err) == CategoryConnection
}

func IsFileSystemError(err error) bool {
	return GetCategory(err) == CategoryFileSystem
}

func IsCorruptProgress(err error) bool {
	return GetCategory(err) == CategoryCorruptProgress
}

func IsShutdown(err error) bool {
	return GetCategory(err) == CategoryShutdown
}

// GetStatusCode extracts the status code from an error if available.
func GetStatusCode(err error) (int, bool) {
	var taskErr *TaskError
	if As(err, &taskErr) && taskErr.StatusCode != 0 {
		return taskErr.StatusCode, true
	}

	return 0, false
}
