package engine

import (
	"github.com/dustin/go-humanize"

	"github.com/NamanBalaji/rdm/internal/status"
)

// Stats summarizes the registry and the executor.
type Stats struct {
	Tasks      map[string]int `json:"tasks"`
	Downloaded int64          `json:"downloaded"`
	Humanized  string         `json:"downloadedHuman"`
	Active     int            `json:"active"`
	Queued     int            `json:"queued"`
	PoolSize   int            `json:"poolSize"`
}

// Stats counts tasks per status and sums the bytes written so far. Counts and
// bytes come from the same snapshot of each task.
func (e *Engine) Stats() Stats {
	counts := make(map[string]int, len(status.All()))
	for _, s := range status.All() {
		counts[s.String()] = 0
	}

	var downloaded int64

	e.mu.RLock()
	for _, id := range e.order {
		v, n := e.tasks[id].Snapshot()
		counts[v.Status.String()]++
		downloaded += n
	}
	e.mu.RUnlock()

	ps := e.pool.Stats()

	return Stats{
		Tasks:      counts,
		Downloaded: downloaded,
		Humanized:  humanize.Bytes(uint64(downloaded)),
		Active:     ps.Active,
		Queued:     ps.Queued,
		PoolSize:   ps.MaxWorkers,
	}
}
