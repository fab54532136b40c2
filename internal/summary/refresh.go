package summary

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// Refresher remembers subjects whose transcripts changed and regenerates
// their summaries in batches.
type Refresher struct {
	agg *Aggregator

	mu    sync.Mutex
	dirty map[string]string // subject key -> subject name as last seen
}

// NewRefresher creates a Refresher backed by agg.
func NewRefresher(agg *Aggregator) *Refresher {
	return &Refresher{agg: agg, dirty: make(map[string]string)}
}

// MarkDirty queues subject for the next Refresh. Safe on a nil Refresher.
func (r *Refresher) MarkDirty(subject string) {
	if r == nil {
		return
	}
	key := strings.ToLower(strings.TrimSpace(subject))
	if key == "" {
		return
	}
	r.mu.Lock()
	r.dirty[key] = strings.TrimSpace(subject)
	r.mu.Unlock()
}

// Pending returns the queued subject names in key order.
func (r *Refresher) Pending() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.dirty))
	for k := range r.dirty {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = r.dirty[k]
	}
	return names
}

// Refresh regenerates every queued subject and returns how many succeeded.
// Subjects that fail with a transient error stay queued.
func (r *Refresher) Refresh(ctx context.Context) int {
	r.mu.Lock()
	batch := r.dirty
	r.dirty = make(map[string]string)
	r.mu.Unlock()

	refreshed := 0
	for key, subject := range batch {
		if ctx.Err() != nil {
			r.requeue(key, subject)
			continue
		}
		_, err := r.agg.Generate(ctx, subject)
		switch {
		case err == nil:
			refreshed++
		case errors.Is(err, ErrNoMessages):
			slog.Debug("Refresher.Refresh: nothing to summarize", "subject", subject)
		default:
			slog.Warn("Refresher.Refresh: summary generation failed, will retry", "subject", subject, "error", err)
			r.requeue(key, subject)
		}
	}
	if len(batch) > 0 {
		slog.Info("Refresher.Refresh: summaries refreshed", "refreshed", refreshed, "queued", len(batch))
	}
	return refreshed
}

// requeue keeps a newer MarkDirty spelling if one arrived meanwhile.
func (r *Refresher) requeue(key, subject string) {
	r.mu.Lock()
	if _, ok := r.dirty[key]; !ok {
		r.dirty[key] = subject
	}
	r.mu.Unlock()
}
