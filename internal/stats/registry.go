// Package stats implements the global statistics registry design note: a
// process-wide, append-only named-counter registry, periodically flushed to
// CSV the way std.SnmpLogger periodically flushes kcp.DefaultSnmp.
package stats

import (
	"encoding/csv"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/fatih/color"
)

// Registry is an injectable set of named monotone counters. The zero value
// is ready to use; Default is the process-wide instance most callers want.
type Registry struct {
	mu     sync.Mutex
	counts map[string]int64
}

// Default is the process-wide registry. Tests construct their own with New
// instead of sharing this one.
var Default = New()

// New returns an empty Registry.
func New() *Registry {
	return &Registry{counts: make(map[string]int64)}
}

// Add increments the named counter by delta, creating it at 0 first if
// this is the first mention.
func (r *Registry) Add(name string, delta int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counts == nil {
		r.counts = make(map[string]int64)
	}
	r.counts[name] += delta
}

// Get returns the current value of a named counter.
func (r *Registry) Get(name string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[name]
}

// Names returns every counter name seen so far, sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.counts))
	for name := range r.counts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// snapshot returns (names, values) aligned by index, under the lock.
func (r *Registry) snapshot() ([]string, []int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.counts))
	for name := range r.counts {
		names = append(names, name)
	}
	sort.Strings(names)
	values := make([]int64, len(names))
	for i, name := range names {
		values[i] = r.counts[name]
	}
	return names, values
}

// CSVLogger periodically appends a row of every counter's current value to
// path, one row per interval, creating the header row on first write. It
// blocks until stop is closed, mirroring std.SnmpLogger's ticker loop.
func (r *Registry) CSVLogger(path string, interval time.Duration, stop <-chan struct{}) {
	if path == "" || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	wroteHeader := false
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := r.appendCSVRow(path, &wroteHeader); err != nil {
				color.Red("stats: csv export to %s failed: %v", path, err)
			}
		}
	}
}

func (r *Registry) appendCSVRow(path string, wroteHeader *bool) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		return err
	}
	defer f.Close()

	names, values := r.snapshot()
	w := csv.NewWriter(f)
	if !*wroteHeader {
		if stat, err := f.Stat(); err == nil && stat.Size() == 0 {
			if err := w.Write(append([]string{"unix"}, names...)); err != nil {
				return err
			}
		}
		*wroteHeader = true
	}
	row := make([]string, 0, len(values)+1)
	row = append(row, fmt.Sprint(time.Now().Unix()))
	for _, v := range values {
		row = append(row, fmt.Sprint(v))
	}
	if err := w.Write(row); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}
