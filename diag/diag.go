// Package diag tracks in-flight JSON-RPC and filesystem operations and
// exposes them, together with cache statistics, over HTTP.
package diag

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Op is a single in-flight operation.
type Op struct {
	ID      uint64    `json:"id"`
	Kind    string    `json:"kind"`             // "rpc" or "fs"
	Method  string    `json:"method"`           // JSON-RPC method or filesystem call
	Detail  string    `json:"detail,omitempty"` // usually the API url
	Phase   string    `json:"phase,omitempty"`
	Started time.Time `json:"started"`
}

// Key identifies a class of operations for completion counters.
type Key struct {
	Kind   string
	Method string
}

// Counts holds completion totals for one Key.
type Counts struct {
	Total  uint64
	Failed uint64
}

// OpHandle annotates and completes one tracked operation. The zero value
// is a usable no-op.
type OpHandle struct {
	tracker *Tracker
	id      uint64
	key     Key
	done    atomic.Bool
}

// SetPhase updates the phase annotation.
func (h *OpHandle) SetPhase(phase string) {
	if h.tracker == nil {
		return
	}
	h.tracker.mu.Lock()
	if op, ok := h.tracker.ops[h.id]; ok {
		op.Phase = phase
		h.tracker.ops[h.id] = op
	}
	h.tracker.mu.Unlock()
}

// Done completes the operation successfully.
func (h *OpHandle) Done() { h.End(nil) }

// End completes the operation, counting it as failed when err is non-nil.
// Only the first call has any effect.
func (h *OpHandle) End(err error) {
	if h.tracker == nil || !h.done.CompareAndSwap(false, true) {
		return
	}
	t := h.tracker
	t.mu.Lock()
	delete(t.ops, h.id)
	c := t.counts[h.key]
	c.Total++
	if err != nil {
		c.Failed++
	}
	t.counts[h.key] = c
	t.mu.Unlock()
}

// Tracker records in-flight operations and completion totals.
type Tracker struct {
	nextID atomic.Uint64
	mu     sync.Mutex
	ops    map[uint64]Op
	counts map[Key]Counts
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		ops:    make(map[uint64]Op),
		counts: make(map[Key]Counts),
	}
}

// Track records the start of an operation. The returned handle's Done or
// End must be called when it completes.
func (t *Tracker) Track(kind, method, detail string) *OpHandle {
	id := t.nextID.Add(1)
	op := Op{
		ID:      id,
		Kind:    kind,
		Method:  method,
		Detail:  detail,
		Started: time.Now(),
	}
	t.mu.Lock()
	t.ops[id] = op
	t.mu.Unlock()
	return &OpHandle{tracker: t, id: id, key: Key{Kind: kind, Method: method}}
}

// InFlight returns a snapshot of in-flight operations sorted by start time.
func (t *Tracker) InFlight() []Op {
	t.mu.Lock()
	ops := make([]Op, 0, len(t.ops))
	for _, op := range t.ops {
		ops = append(ops, op)
	}
	t.mu.Unlock()
	sort.Slice(ops, func(i, j int) bool {
		if ops[i].Started.Equal(ops[j].Started) {
			return ops[i].ID < ops[j].ID
		}
		return ops[i].Started.Before(ops[j].Started)
	})
	return ops
}

// InFlightByKey counts in-flight operations per Key.
func (t *Tracker) InFlightByKey() map[Key]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	m := make(map[Key]int)
	for _, op := range t.ops {
		m[Key{Kind: op.Kind, Method: op.Method}]++
	}
	return m
}

// Completed returns a copy of the completion totals.
func (t *Tracker) Completed() map[Key]Counts {
	t.mu.Lock()
	defer t.mu.Unlock()
	m := make(map[Key]Counts, len(t.counts))
	for k, v := range t.counts {
		m[k] = v
	}
	return m
}

// Dump returns a human-readable summary of in-flight operations.
func (t *Tracker) Dump() string {
	ops := t.InFlight()
	if len(ops) == 0 {
		return "no in-flight operations\n"
	}
	now := time.Now()
	var b strings.Builder
	fmt.Fprintf(&b, "%d in-flight operation(s):\n", len(ops))
	for _, op := range ops {
		elapsed := now.Sub(op.Started).Truncate(time.Millisecond)
		fmt.Fprintf(&b, "  [%d] %s.%s", op.ID, op.Kind, op.Method)
		if op.Detail != "" {
			fmt.Fprintf(&b, " %s", op.Detail)
		}
		if op.Phase != "" {
			fmt.Fprintf(&b, " [%s]", op.Phase)
		}
		fmt.Fprintf(&b, " (%s)\n", elapsed)
	}
	return b.String()
}

// Handler serves the in-flight dump as text, or as JSON with ?json.
// ?stacks appends all goroutine stacks to the text form.
func (t *Tracker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if _, ok := q["json"]; ok {
			w.Header().Set("Content-Type", "application/json")
			if err := json.NewEncoder(w).Encode(t.InFlight()); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
			}
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprint(w, t.Dump())
		if _, ok := q["stacks"]; ok {
			fmt.Fprint(w, "\n")
			fmt.Fprint(w, GoroutineStacks())
		}
	})
}

// Track is a nil-safe helper: with a nil tracker it returns a no-op handle.
func Track(t *Tracker, kind, method, detail string) *OpHandle {
	if t == nil {
		return &OpHandle{}
	}
	return t.Track(kind, method, detail)
}

const maxGoroutineStackSize = 64 * 1024

// GoroutineStacks returns the stacks of all goroutines, truncated to 64KB.
func GoroutineStacks() string {
	buf := make([]byte, maxGoroutineStackSize)
	n := runtime.Stack(buf, true)
	s := string(buf[:n])
	if n >= maxGoroutineStackSize {
		s += "\n... truncated at 64KB ...\n"
	}
	return s
}
