package catalog

import (
	"context"
	"os"
	"sync"
	"time"
)

// FileWatcher polls modification times and calls onChange once per scan that saw
// a file appear, change or disappear.
type FileWatcher struct {
	paths    func() []string
	interval time.Duration
	onChange func(changed []string)

	mu        sync.Mutex
	lastMTime map[string]time.Time
}

// NewFileWatcher re-evaluates paths on every scan, so new banner files are noticed.
func NewFileWatcher(paths func() []string, interval time.Duration, onChange func(changed []string)) *FileWatcher {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &FileWatcher{
		paths:     paths,
		interval:  interval,
		onChange:  onChange,
		lastMTime: make(map[string]time.Time),
	}
}

// Run primes the mtime table and polls until ctx is done.
func (w *FileWatcher) Run(ctx context.Context) {
	w.scan(true)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w.scan(false)
		case <-ctx.Done():
			return
		}
	}
}

// scan compares current mtimes with the last scan.
func (w *FileWatcher) scan(prime bool) {
	w.mu.Lock()
	seen := make(map[string]bool)
	var changed []string
	for _, p := range w.paths() {
		seen[p] = true
		fi, err := os.Stat(p)
		if err != nil {
			continue
		}
		mt := fi.ModTime()
		last, ok := w.lastMTime[p]
		w.lastMTime[p] = mt
		if !ok || !mt.Equal(last) {
			changed = append(changed, p)
		}
	}
	for p := range w.lastMTime {
		if _, err := os.Stat(p); err != nil || !seen[p] {
			delete(w.lastMTime, p)
			changed = append(changed, p)
		}
	}
	w.mu.Unlock()

	if !prime && len(changed) > 0 && w.onChange != nil {
		w.onChange(changed)
	}
}
