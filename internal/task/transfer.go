package task

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/NamanBalaji/rdm/internal/errors"
	"github.com/NamanBalaji/rdm/internal/filesystem"
	"github.com/NamanBalaji/rdm/internal/logger"
	"github.com/NamanBalaji/rdm/internal/status"
	httpPkg "github.com/NamanBalaji/rdm/pkg/http"
)

// idleWatchdog cancels a request when no read completes within timeout.
type idleWatchdog struct {
	timeout time.Duration
	timer   *time.Timer
	fired   atomic.Bool
}

func newIdleWatchdog(timeout time.Duration, cancel context.CancelFunc) *idleWatchdog {
	w := &idleWatchdog{timeout: timeout}
	w.timer = time.AfterFunc(timeout, func() {
		w.fired.Store(true)
		cancel()
	})

	return w
}

func (w *idleWatchdog) reset() {
	w.timer.Reset(w.timeout)
}

func (w *idleWatchdog) stop() {
	w.timer.Stop()
}

// transfer streams the resource into the run's file from the current offset.
// It only mutates the task while r is the current run and the task is Downloading.
func (t *Task) transfer(ctx context.Context, r *run) {
	defer r.finish()

	if r.prev != nil {
		select {
		case <-r.prev:
		case <-ctx.Done():
		}
	}

	t.mu.Lock()
	if !t.isCurrentLocked(r) {
		t.mu.Unlock()
		return
	}

	if ctx.Err() != nil {
		t.failLocked(errors.NewInterruptedError(t.id))
		t.mu.Unlock()
		return
	}

	offset := t.downloaded
	headers := t.requestHeadersLocked(offset)
	t.mu.Unlock()

	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger.Debugf("Task %s: requesting %s from offset %d", t.id, t.url, offset)

	resp, err := t.client.Range(reqCtx, t.url, offset, headers)
	if err != nil {
		t.handleOpenError(ctx, r, offset, err)
		return
	}
	defer resp.Body.Close()

	t.mu.Lock()
	if !t.isCurrentLocked(r) {
		t.mu.Unlock()
		return
	}

	if err := t.acceptResponseLocked(resp, offset); err != nil {
		t.failLocked(err)
		t.mu.Unlock()
		return
	}

	r.body = resp.Body
	t.mu.Unlock()

	watchdog := newIdleWatchdog(t.config.ReadTimeout, cancel)
	defer watchdog.stop()

	buf := make([]byte, t.config.ChunkSize)
	for {
		n, readErr := resp.Body.Read(buf)
		watchdog.reset()

		if n > 0 && !t.writeChunk(r, buf[:n]) {
			return
		}

		if readErr == io.EOF {
			t.mu.Lock()
			if t.isCurrentLocked(r) {
				t.completeLocked()
			}
			t.mu.Unlock()

			return
		}

		if readErr != nil {
			t.mu.Lock()
			if t.isCurrentLocked(r) {
				t.failLocked(t.readError(ctx, watchdog, readErr))
			}
			t.mu.Unlock()

			return
		}
	}
}

// writeChunk appends data at the current offset. It reports false when the
// loop must stop.
func (t *Task) writeChunk(r *run, data []byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.isCurrentLocked(r) {
		return false
	}

	n := int64(len(data))
	if t.total > 0 && t.downloaded+n > t.total {
		t.failLocked(errors.NewConnectionError(
			fmt.Errorf("server sent more than the expected %d bytes", t.total), t.url, 0))
		return false
	}

	if _, err := r.file.Write(data); err != nil {
		t.failLocked(errors.NewFileSystemError(err, t.path))
		return false
	}

	t.downloaded += n

	return true
}

func (t *Task) readError(ctx context.Context, watchdog *idleWatchdog, err error) error {
	switch {
	case watchdog.fired.Load():
		return errors.NewConnectionError(
			fmt.Errorf("%w: no data for %s", httpPkg.ErrTimeout, t.config.ReadTimeout), t.url, 0)
	case ctx.Err() != nil:
		return errors.NewInterruptedError(t.id)
	default:
		return errors.NewConnectionError(httpPkg.ClassifyError(err), t.url, 0)
	}
}

// handleOpenError resolves a failed request. A 416 means there is nothing
// left to fetch when starting from zero or from the known end.
func (t *Task) handleOpenError(ctx context.Context, r *run, offset int64, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.isCurrentLocked(r) {
		return
	}

	var statusErr *httpPkg.StatusError
	if errors.As(err, &statusErr) {
		if statusErr.StatusCode == http.StatusRequestedRangeNotSatisfiable && (offset == 0 || (t.total > 0 && offset >= t.total)) {
			t.completeLocked()
			return
		}

		t.failLocked(errors.NewConnectionError(err, t.url, statusErr.StatusCode))

		return
	}

	if ctx.Err() != nil {
		t.failLocked(errors.NewInterruptedError(t.id))
		return
	}

	t.failLocked(errors.NewConnectionError(err, t.url, 0))
}

// requestHeadersLocked returns the configured headers plus If-Range when a
// validator from an earlier connection is known.
func (t *Task) requestHeadersLocked(offset int64) map[string]string {
	headers := make(map[string]string, len(t.config.Headers)+1)
	for k, v := range t.config.Headers {
		headers[k] = v
	}

	if offset > 0 {
		switch {
		case t.etag != "" && !strings.HasPrefix(t.etag, "W/"):
			headers["If-Range"] = t.etag
		case t.lastModified != "":
			headers["If-Range"] = t.lastModified
		}
	}

	return headers
}

// acceptResponseLocked validates the response against the requested offset
// and records the total size and validators.
func (t *Task) acceptResponseLocked(resp *http.Response, offset int64) error {
	switch resp.StatusCode {
	case http.StatusPartialContent:
		cr, err := httpPkg.ParseContentRange(resp.Header.Get("Content-Range"))
		if err != nil {
			return errors.NewConnectionError(err, t.url, resp.StatusCode)
		}

		if cr.Start != offset {
			return errors.NewStaleProgressError(t.url, resp.StatusCode)
		}

		if cr.Total > 0 {
			if t.total > 0 && cr.Total != t.total {
				return errors.NewStaleProgressError(t.url, resp.StatusCode)
			}

			t.total = cr.Total
		}
	case http.StatusOK:
		if offset > 0 {
			return errors.NewStaleProgressError(t.url, resp.StatusCode)
		}

		if resp.ContentLength > 0 {
			t.total = resp.ContentLength
		}
	default:
		return errors.NewConnectionError(
			fmt.Errorf("%w: unexpected status %d", httpPkg.ErrUnknown, resp.StatusCode), t.url, resp.StatusCode)
	}

	etag := resp.Header.Get("ETag")
	if offset > 0 && t.etag != "" && etag != "" && etag != t.etag {
		return errors.NewStaleProgressError(t.url, resp.StatusCode)
	}

	if etag != "" {
		t.etag = etag
	}
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		t.lastModified = lm
	}

	if t.config.CheckFreeSpace && t.total > offset {
		if err := filesystem.EnsureFreeSpace(filepath.Dir(t.path), t.total-offset); err != nil {
			if errors.Is(err, filesystem.ErrInsufficientSpace) {
				err = fmt.Errorf("%w: %w", errors.ErrInsufficientSpace, err)
			}

			return errors.NewFileSystemError(err, t.path)
		}
	}

	return nil
}

// completeLocked finishes a transfer whose stream reached EOF.
func (t *Task) completeLocked() {
	if t.total > 0 && t.downloaded < t.total {
		t.failLocked(errors.NewConnectionError(
			fmt.Errorf("%w: got %d of %d bytes", errors.ErrUnexpectedEOF, t.downloaded, t.total), t.url, 0))
		return
	}

	if r := t.run; r != nil && r.file != nil {
		if err := r.file.Sync(); err != nil {
			t.failLocked(errors.NewFileSystemError(err, t.path))
			return
		}
	}

	if err := t.setStatusLocked(status.Completed); err != nil {
		logger.Warnf("Task %s: %v", t.id, err)
		return
	}

	if t.total <= 0 {
		t.total = t.downloaded
	}

	t.releaseRunLocked()

	if err := t.store.Delete(t.progressPath); err != nil {
		logger.Warnf("Task %s: failed to remove progress entry %s: %v", t.id, t.progressPath, err)
	}

	logger.Infof("Task %s completed: %s written to %s", t.id, humanize.Bytes(uint64(t.downloaded)), t.path)
}
