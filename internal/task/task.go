package task

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/NamanBalaji/rdm/internal/errors"
	"github.com/NamanBalaji/rdm/internal/executor"
	"github.com/NamanBalaji/rdm/internal/filesystem"
	"github.com/NamanBalaji/rdm/internal/logger"
	"github.com/NamanBalaji/rdm/internal/progress"
	"github.com/NamanBalaji/rdm/internal/status"
	httpPkg "github.com/NamanBalaji/rdm/pkg/http"
)

// View is a point-in-time snapshot of a task.
type View struct {
	ID       string        `json:"id"`
	URL      string        `json:"url"`
	Status   status.Status `json:"status"`
	Progress string        `json:"progress"`
	FileName string        `json:"fileName"`
	Error    string        `json:"error,omitempty"`
}

// Task downloads a single resource into a single file and can be paused,
// resumed and cancelled while its transfer runs on the executor.
type Task struct {
	id           string
	url          string
	fileName     string
	path         string
	progressPath string

	client *httpPkg.Client
	pool   *executor.Pool
	store  progress.Store
	config *Config

	mu           sync.Mutex
	status       status.Status
	downloaded   int64
	total        int64
	etag         string
	lastModified string
	lastErr      error
	run          *run
	lastDone     <-chan struct{}
}

// run is one scheduled execution of the transfer loop.
type run struct {
	handle *executor.Handle
	file   *os.File
	body   io.ReadCloser
	prev   <-chan struct{}

	done     chan struct{}
	doneOnce sync.Once
}

func (r *run) finish() {
	r.doneOnce.Do(func() { close(r.done) })
}

// New creates a task in Created with an empty target file at path and an empty
// progress entry. No network I/O happens until Download.
func New(url, fileName, path string, client *httpPkg.Client, pool *executor.Pool, store progress.Store, opts ...ConfigOption) (*Task, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	id := uuid.New().String()

	t := &Task{
		id:           id,
		url:          url,
		fileName:     fileName,
		path:         path,
		progressPath: fmt.Sprintf("%s.%s.tmp", path, id),
		client:       client,
		pool:         pool,
		store:        store,
		config:       cfg,
		status:       status.Created,
	}

	if err := filesystem.CreateEmpty(t.path); err != nil {
		return nil, errors.WithTask(errors.NewFileSystemError(err, t.path), id)
	}

	if err := store.Create(t.progressPath); err != nil {
		_ = filesystem.Remove(t.path)
		return nil, errors.WithTask(errors.NewFileSystemError(err, t.progressPath), id)
	}

	logger.Debugf("Task %s created for %s -> %s", id, url, path)

	return t, nil
}

func (t *Task) ID() string {
	return t.id
}

func (t *Task) URL() string {
	return t.url
}

func (t *Task) FileName() string {
	return t.fileName
}

// Path returns the resolved target file path.
func (t *Task) Path() string {
	return t.path
}

func (t *Task) ProgressPath() string {
	return t.progressPath
}

func (t *Task) Status() status.Status {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.status
}

func (t *Task) Downloaded() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.downloaded
}

// TotalSize returns the resource length, or 0 while it is unknown.
func (t *Task) TotalSize() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.total
}

// Err returns the error that moved the task to Error, if any.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.lastErr
}

// Progress returns the completion percentage as an integer string.
func (t *Task) Progress() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.progressLocked()
}

func (t *Task) progressLocked() string {
	if t.total <= 0 {
		return "0"
	}

	pct := math.Round(float64(t.downloaded) / float64(t.total) * 100)

	return strconv.FormatInt(int64(pct), 10)
}

func (t *Task) View() View {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.viewLocked()
}

// Snapshot returns the view together with the bytes written, both taken
// under one lock.
func (t *Task) Snapshot() (View, int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.viewLocked(), t.downloaded
}

func (t *Task) viewLocked() View {
	v := View{
		ID:       t.id,
		URL:      t.url,
		Status:   t.status,
		Progress: t.progressLocked(),
		FileName: t.fileName,
	}
	if t.lastErr != nil {
		v.Error = t.lastErr.Error()
	}

	return v
}

// Download starts a Created task, or resumes a Paused one.
func (t *Task) Download() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.status {
	case status.Created:
		f, err := filesystem.OpenAt(t.path, 0)
		if err != nil {
			return errors.WithTask(errors.NewFileSystemError(err, t.path), t.id)
		}

		return t.scheduleLocked(f)
	case status.Paused:
		return t.resumeLocked()
	default:
		return errors.NewTransitionError(t.id, t.status, status.Downloading)
	}
}

// Pause stops the transfer and persists the current offset.
func (t *Task) Pause() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.setStatusLocked(status.Paused); err != nil {
		return err
	}

	t.releaseRunLocked()

	rec := progress.Record{
		Offset:       t.downloaded,
		TotalSize:    t.total,
		ETag:         t.etag,
		LastModified: t.lastModified,
		SavedAt:      time.Now(),
	}
	if err := t.store.Save(t.progressPath, rec); err != nil {
		logger.Errorf("Task %s paused but progress could not be saved: %v", t.id, err)
		return errors.WithTask(errors.NewFileSystemError(err, t.progressPath), t.id)
	}

	logger.Infof("Task %s paused at %d/%d bytes", t.id, t.downloaded, t.total)

	return nil
}

// Resume continues a Paused task from its persisted offset.
func (t *Task) Resume() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.status != status.Paused {
		return errors.NewTransitionError(t.id, t.status, status.Downloading)
	}

	return t.resumeLocked()
}

func (t *Task) resumeLocked() error {
	rec, err := t.store.Load(t.progressPath)
	if err != nil {
		return errors.WithTask(errors.NewCorruptProgressError(err, t.progressPath), t.id)
	}

	if t.total > 0 && rec.TotalSize > 0 && rec.TotalSize != t.total {
		err := fmt.Errorf("recorded size %d, expected %d", rec.TotalSize, t.total)
		return errors.WithTask(errors.NewCorruptProgressError(err, t.progressPath), t.id)
	}

	size, err := filesystem.Size(t.path)
	if err != nil {
		return errors.WithTask(errors.NewFileSystemError(err, t.path), t.id)
	}

	if rec.Offset > size {
		err := fmt.Errorf("offset %d beyond file size %d", rec.Offset, size)
		return errors.WithTask(errors.NewCorruptProgressError(err, t.progressPath), t.id)
	}

	f, err := filesystem.OpenAt(t.path, rec.Offset)
	if err != nil {
		return errors.WithTask(errors.NewFileSystemError(err, t.path), t.id)
	}

	prevDownloaded, prevTotal := t.downloaded, t.total
	t.downloaded = rec.Offset
	if rec.TotalSize > 0 {
		t.total = rec.TotalSize
	}
	if rec.ETag != "" {
		t.etag = rec.ETag
	}
	if rec.LastModified != "" {
		t.lastModified = rec.LastModified
	}

	if err := t.scheduleLocked(f); err != nil {
		t.downloaded, t.total = prevDownloaded, prevTotal
		return err
	}

	logger.Infof("Task %s resumed at offset %d", t.id, rec.Offset)

	return nil
}

// Cancel stops the task and deletes its target and progress files.
// Cancelling a cancelled task is a no-op.
func (t *Task) Cancel() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.status == status.Cancelled {
		return nil
	}

	if err := t.setStatusLocked(status.Cancelled); err != nil {
		return err
	}

	t.releaseRunLocked()

	var errs []error
	if err := filesystem.Remove(t.path); err != nil {
		errs = append(errs, errors.NewFileSystemError(err, t.path))
	}
	if err := t.store.Delete(t.progressPath); err != nil {
		errs = append(errs, errors.NewFileSystemError(err, t.progressPath))
	}

	logger.Infof("Task %s cancelled", t.id)

	if len(errs) > 0 {
		return errors.WithTask(errors.Join(errs...), t.id)
	}

	return nil
}

// setStatusLocked applies a legal transition. t.mu must be held.
func (t *Task) setStatusLocked(to status.Status) error {
	if !status.CanTransition(t.status, to) {
		return errors.NewTransitionError(t.id, t.status, to)
	}

	logger.Debugf("Task %s: %s -> %s", t.id, t.status, to)
	t.status = to

	return nil
}

// scheduleLocked submits a new run writing to f and moves the task to Downloading.
func (t *Task) scheduleLocked(f *os.File) error {
	if !status.CanTransition(t.status, status.Downloading) {
		f.Close()
		return errors.NewTransitionError(t.id, t.status, status.Downloading)
	}

	r := &run{
		file: f,
		prev: t.lastDone,
		done: make(chan struct{}),
	}

	// the job cannot observe r before t.mu is released
	h, err := t.pool.Submit(t.id, func(ctx context.Context) { t.transfer(ctx, r) }, func() { t.abort(r) })
	if err != nil {
		f.Close()
		logger.Warnf("Task %s could not be scheduled: %v", t.id, err)

		return errors.NewShutdownError(t.id)
	}

	r.handle = h
	t.run = r
	t.lastDone = r.done
	t.lastErr = nil

	return t.setStatusLocked(status.Downloading)
}

// releaseRunLocked detaches the current run, cancels its work and closes its handles.
func (t *Task) releaseRunLocked() {
	r := t.run
	if r == nil {
		return
	}

	t.run = nil

	if r.handle != nil && r.handle.Cancel() {
		r.finish()
	}

	if r.body != nil {
		r.body.Close()
	}

	if r.file != nil {
		if err := r.file.Sync(); err != nil {
			logger.Debugf("Task %s: sync on release failed: %v", t.id, err)
		}
		r.file.Close()
	}
}

// isCurrentLocked reports whether r may still mutate the task.
func (t *Task) isCurrentLocked(r *run) bool {
	return t.run == r && t.status == status.Downloading
}

// failLocked moves the task to Error and releases the run.
func (t *Task) failLocked(err error) {
	t.lastErr = errors.WithTask(err, t.id)
	if setErr := t.setStatusLocked(status.Error); setErr != nil {
		logger.Warnf("Task %s: %v", t.id, setErr)
	}

	t.releaseRunLocked()
	logger.Errorf("Task %s failed: %v", t.id, err)
}

// abort handles a run discarded from the queue by a forced shutdown.
func (t *Task) abort(r *run) {
	defer r.finish()

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.isCurrentLocked(r) {
		t.failLocked(errors.NewInterruptedError(t.id))
	}
}
