package engine

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/NamanBalaji/rdm/internal/config"
	"github.com/NamanBalaji/rdm/internal/errors"
	"github.com/NamanBalaji/rdm/internal/executor"
	"github.com/NamanBalaji/rdm/internal/logger"
	"github.com/NamanBalaji/rdm/internal/progress"
	"github.com/NamanBalaji/rdm/internal/status"
	"github.com/NamanBalaji/rdm/internal/task"
	httpPkg "github.com/NamanBalaji/rdm/pkg/http"
)

// batchLimit caps the number of tasks AddBatch creates concurrently.
const batchLimit = 8

// Request names a resource to add.
type Request struct {
	URL      string `json:"url"`
	FileName string `json:"fileName"`
}

// Engine is the task registry. It creates tasks, routes commands to them by
// id and owns the executor their transfers run on.
type Engine struct {
	mu    sync.RWMutex
	tasks map[string]*task.Task
	// paths maps a target path to the task writing it; a nil entry reserves
	// the path while the task is being created.
	paths map[string]*task.Task
	order []string

	config *config.Config
	client *httpPkg.Client
	pool   *executor.Pool
	store  progress.Store

	closed atomic.Bool
}

// New creates an engine writing under cfg's download directory and persisting
// paused offsets in store.
func New(cfg *config.Config, store progress.Store) (*Engine, error) {
	if cfg == nil {
		defaults := config.DefaultConfig()
		cfg = &defaults
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.Http.DownloadDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create download directory: %w", err)
	}

	pool, err := executor.New(cfg.PoolSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create executor: %w", err)
	}

	client := httpPkg.NewClient(
		httpPkg.WithUserAgent(cfg.Http.UserAgent),
		httpPkg.WithConnectTimeout(cfg.Http.ConnectTimeout),
	)

	logger.Infof("Engine started: pool size %d, download dir %s", cfg.PoolSize, cfg.Http.DownloadDir)

	return &Engine{
		tasks:  make(map[string]*task.Task),
		paths:  make(map[string]*task.Task),
		config: cfg,
		client: client,
		pool:   pool,
		store:  store,
	}, nil
}

// Add registers a task for url writing to fileName. An empty name is derived
// from the URL; a relative name is placed under the download directory.
func (e *Engine) Add(url, fileName string) (string, error) {
	if e.closed.Load() {
		return "", errors.NewShutdownError("")
	}

	if !httpPkg.IsHTTPURL(url) {
		return "", fmt.Errorf("%w: %q", errors.ErrInvalidURL, url)
	}

	path, err := e.resolvePath(url, fileName)
	if err != nil {
		return "", err
	}

	if err := e.reservePath(path); err != nil {
		return "", err
	}

	if fileName == "" {
		fileName = filepath.Base(path)
	}

	t, err := task.New(url, fileName, path, e.client, e.pool, e.store,
		task.WithChunkSize(e.config.Http.ChunkSize),
		task.WithReadTimeout(e.config.Http.ReadTimeout),
		task.WithFreeSpaceCheck(e.config.Http.FreeSpaceCheck()),
		task.WithHeaders(e.config.Http.Headers),
	)

	e.mu.Lock()
	defer e.mu.Unlock()

	if err != nil {
		delete(e.paths, path)
		return "", err
	}

	e.tasks[t.ID()] = t
	e.paths[path] = t
	e.order = append(e.order, t.ID())

	logger.Infof("Added task %s: %s -> %s", t.ID(), url, path)

	return t.ID(), nil
}

// AddAndDownload adds a task and starts it.
func (e *Engine) AddAndDownload(url, fileName string) (string, error) {
	id, err := e.Add(url, fileName)
	if err != nil {
		return "", err
	}

	if err := e.Download(id); err != nil {
		return id, err
	}

	return id, nil
}

// AddBatch adds every request concurrently. It returns the ids in request
// order; on failure the ids of tasks already added are kept and the first
// error is returned.
func (e *Engine) AddBatch(ctx context.Context, reqs []Request) ([]string, error) {
	ids := make([]string, len(reqs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(batchLimit)

	for i, req := range reqs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			id, err := e.Add(req.URL, req.FileName)
			if err != nil {
				return fmt.Errorf("add %s: %w", req.URL, err)
			}

			ids[i] = id

			return nil
		})
	}

	err := g.Wait()

	return ids, err
}

func (e *Engine) Download(id string) error {
	if e.closed.Load() {
		return errors.NewShutdownError(id)
	}

	t, err := e.lookup(id)
	if err != nil {
		return err
	}

	return t.Download()
}

func (e *Engine) Pause(id string) error {
	t, err := e.lookup(id)
	if err != nil {
		return err
	}

	return t.Pause()
}

func (e *Engine) Resume(id string) error {
	if e.closed.Load() {
		return errors.NewShutdownError(id)
	}

	t, err := e.lookup(id)
	if err != nil {
		return err
	}

	return t.Resume()
}

func (e *Engine) Cancel(id string) error {
	t, err := e.lookup(id)
	if err != nil {
		return err
	}

	return t.Cancel()
}

// Get returns a snapshot of the task, or false for an unknown id.
func (e *Engine) Get(id string) (task.View, bool) {
	t, err := e.lookup(id)
	if err != nil {
		return task.View{}, false
	}

	return t.View(), true
}

// List returns snapshots of all tasks in the order they were added.
func (e *Engine) List() []task.View {
	e.mu.RLock()
	tasks := make([]*task.Task, 0, len(e.order))
	for _, id := range e.order {
		tasks = append(tasks, e.tasks[id])
	}
	e.mu.RUnlock()

	views := make([]task.View, 0, len(tasks))
	for _, t := range tasks {
		views = append(views, t.View())
	}

	return views
}

// SetPoolSize changes how many transfers run at once.
func (e *Engine) SetPoolSize(n int) error {
	if err := e.pool.SetMaxWorkers(n); err != nil {
		return fmt.Errorf("%w: %d", err, n)
	}

	return nil
}

func (e *Engine) PoolSize() int {
	return e.pool.MaxWorkers()
}

// Shutdown stops accepting downloads and waits for queued and running
// transfers to finish, or for ctx to be done.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.closed.Store(true)
	logger.Infof("Shutting down; waiting for %d active and %d queued transfers", e.pool.Stats().Active, e.pool.Stats().Queued)

	return e.pool.Shutdown(ctx)
}

// ForceShutdown drops queued transfers and interrupts running ones. Every
// affected task ends in Error. It returns once no transfer is running.
func (e *Engine) ForceShutdown() {
	e.closed.Store(true)

	dropped := e.pool.ShutdownNow()
	logger.Warnf("Forced shutdown: %d queued transfers dropped", len(dropped))

	<-e.pool.Done()
}

// Close releases the progress store when it holds resources.
func (e *Engine) Close() error {
	if closer, ok := e.store.(io.Closer); ok {
		return closer.Close()
	}

	return nil
}

func (e *Engine) lookup(id string) (*task.Task, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	t, ok := e.tasks[id]
	if !ok {
		return nil, errors.NewUnknownTaskError(id)
	}

	return t, nil
}

// resolvePath maps a requested name to an absolute target path.
func (e *Engine) resolvePath(url, fileName string) (string, error) {
	name := fileName
	if name == "" {
		name = httpPkg.FilenameFromURL(url)
	}

	if filepath.IsAbs(name) {
		return filepath.Clean(name), nil
	}

	dir, err := filepath.Abs(e.config.Http.DownloadDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve download directory: %w", err)
	}

	path := filepath.Join(dir, name)

	rel, err := filepath.Rel(dir, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", errors.ErrInvalidFileName, fileName)
	}

	return path, nil
}

// reservePath claims path unless another task still owns it. Only a Cancelled
// or failed task gives its path up; a Completed download is never overwritten.
func (e *Engine) reservePath(path string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if holder, ok := e.paths[path]; ok {
		if holder == nil {
			return fmt.Errorf("%w: %s", errors.ErrTargetInUse, path)
		}

		if st := holder.Status(); !st.IsTerminal() || st == status.Completed {
			return fmt.Errorf("%w: %s is held by task %s (%s)", errors.ErrTargetInUse, path, holder.ID(), st)
		}
	}

	e.paths[path] = nil

	return nil
}
