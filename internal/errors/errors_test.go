package errors_test

import (
	stdErrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/NamanBalaji/rdm/internal/errors"
	"github.com/NamanBalaji/rdm/internal/status"
)

func TestTaskErrorError(t *testing.T) {
	tests := []struct {
		name string
		err  *errors.TaskError
		want string
	}{
		{
			name: "with status code",
			err: &errors.TaskError{
				Err:        stdErrors.New("server error"),
				Category:   errors.CategoryConnection,
				Resource:   "http://example.com/file.bin",
				StatusCode: 500,
			},
			want: "[CONNECTION] http://example.com/file.bin (status: 500): server error",
		},
		{
			name: "with resource",
			err: &errors.TaskError{
				Err:      stdErrors.New("disk full"),
				Category: errors.CategoryFileSystem,
				Resource: "out.bin",
			},
			want: "[FILESYSTEM] out.bin: disk full",
		},
		{
			name: "with task id",
			err: &errors.TaskError{
				Err:      errors.ErrUnknownTask,
				Category: errors.CategoryUnknownTask,
				TaskID:   "abc",
			},
			want: "[UNKNOWN_TASK] task abc: unknown task id",
		},
		{
			name: "bare",
			err: &errors.TaskError{
				Err:      errors.ErrShutdown,
				Category: errors.CategoryShutdown,
			},
			want: "[SHUTDOWN] download manager is shut down",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestNewTransitionError(t *testing.T) {
	err := errors.NewTransitionError("id-1", status.Completed, status.Paused)

	if !errors.Is(err, errors.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition in chain, got %v", err)
	}
	if !errors.IsInvalidTransition(err) {
		t.Error("IsInvalidTransition returned false")
	}
	if err.TaskID != "id-1" {
		t.Errorf("expected task id id-1, got %q", err.TaskID)
	}
	if err.Timestamp.IsZero() {
		t.Error("Timestamp not set")
	}
	want := "[INVALID_TRANSITION] task id-1: invalid status transition: Completed -> Paused"
	if err.Error() != want {
		t.Errorf("expected %q, got %q", want, err.Error())
	}
}

func TestPredicatesThroughWrapping(t *testing.T) {
	base := stdErrors.New("boom")

	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"unknown task", errors.NewUnknownTaskError("x"), errors.IsUnknownTask},
		{"connection", errors.NewConnectionError(base, "http://x", 0), errors.IsConnectionError},
		{"filesystem", errors.NewFileSystemError(base, "/tmp/x"), errors.IsFileSystemError},
		{"corrupt progress", errors.NewCorruptProgressError(base, "/tmp/x.tmp"), errors.IsCorruptProgress},
		{"shutdown", errors.NewShutdownError("x"), errors.IsShutdown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("outer: %w", tt.err)
			if !tt.check(wrapped) {
				t.Errorf("predicate failed for %v", wrapped)
			}
			if errors.IsInvalidTransition(wrapped) {
				t.Errorf("unexpected transition category for %v", wrapped)
			}
		})
	}
}

func TestNewCorruptProgressErrorWrapsSentinelOnce(t *testing.T) {
	err := errors.NewCorruptProgressError(errors.ErrCorruptProgress, "p")
	if err.Err != errors.ErrCorruptProgress {
		t.Errorf("expected sentinel to be kept as is, got %v", err.Err)
	}

	other := errors.NewCorruptProgressError(stdErrors.New("bad json"), "p")
	if !errors.Is(other, errors.ErrCorruptProgress) {
		t.Errorf("expected ErrCorruptProgress in chain, got %v", other)
	}
}

func TestWithTask(t *testing.T) {
	err := errors.NewConnectionError(stdErrors.New("reset"), "http://x", 0)
	errors.WithTask(err, "t1")
	if err.TaskID != "t1" {
		t.Errorf("expected task id to be set, got %q", err.TaskID)
	}

	errors.WithTask(err, "t2")
	if err.TaskID != "t1" {
		t.Errorf("existing task id must not be overwritten, got %q", err.TaskID)
	}

	plain := stdErrors.New("plain")
	if errors.WithTask(plain, "t3") != plain {
		t.Error("non TaskError must be returned unchanged")
	}
}

func TestGetCategoryAndStatusCode(t *testing.T) {
	if errors.GetCategory(nil) != errors.CategoryUnknown {
		t.Error("nil error should be CategoryUnknown")
	}
	if errors.GetCategory(stdErrors.New("x")) != errors.CategoryUnknown {
		t.Error("plain error should be CategoryUnknown")
	}

	err := &errors.TaskError{Err: stdErrors.New("nf"), Category: errors.CategoryConnection, StatusCode: 404, Timestamp: time.Now()}
	code, ok := errors.GetStatusCode(fmt.Errorf("wrap: %w", err))
	if !ok || code != 404 {
		t.Errorf("expected 404, got %d (%v)", code, ok)
	}

	if _, ok := errors.GetStatusCode(errors.NewFileSystemError(stdErrors.New("x"), "f")); ok {
		t.Error("expected no status code for filesystem error")
	}
}

func TestStaleAndInterrupted(t *testing.T) {
	stale := errors.NewStaleProgressError("http://x/f", 200)
	if !errors.IsCorruptProgress(stale) || !errors.Is(stale, errors.ErrStaleProgress) {
		t.Errorf("stale error should be a corrupt-progress error wrapping ErrStaleProgress: %v", stale)
	}

	interrupted := errors.NewInterruptedError("t1")
	if !errors.IsShutdown(interrupted) || !errors.Is(interrupted, errors.ErrInterrupted) {
		t.Errorf("interrupted error should be a shutdown error wrapping ErrInterrupted: %v", interrupted)
	}
}
