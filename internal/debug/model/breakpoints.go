package model

import (
	"sort"
	"sync"

	"github.com/dshills/dbgsync/internal/signal"
)

// Ticket orders breakpoint requests for one source. Tickets are issued in
// increasing sequence per source.
type Ticket struct {
	Path string
	Seq  uint64
}

// Breakpoints stores the confirmed breakpoint set of every source.
//
// Echoes are applied in issuance order: a reply is dropped when a request
// issued later for the same source has already been committed, no matter
// which reply arrived last.
type Breakpoints struct {
	mu        sync.Mutex
	bySource  map[string][]Breakpoint
	issued    map[string]uint64
	committed map[string]uint64
	changed   *signal.Signal[string]
}

// NewBreakpoints creates an empty breakpoint store.
func NewBreakpoints() *Breakpoints {
	return &Breakpoints{
		bySource:  make(map[string][]Breakpoint),
		issued:    make(map[string]uint64),
		committed: make(map[string]uint64),
		changed:   signal.New[string](),
	}
}

// Changed emits the normalized path of a source whose set was replaced.
func (b *Breakpoints) Changed() *signal.Signal[string] {
	return b.changed
}

// Get returns the breakpoints of a source sorted by line.
func (b *Breakpoints) Get(path string) []Breakpoint {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Breakpoint(nil), b.bySource[NormalizePath(path)]...)
}

// Lines returns the lines of the enabled breakpoints of a source.
func (b *Breakpoints) Lines(path string) []int {
	var lines []int
	for _, bp := range b.Get(path) {
		if bp.Enabled {
			lines = append(lines, bp.Line)
		}
	}
	return lines
}

// All returns a copy of every source's set.
func (b *Breakpoints) All() map[string][]Breakpoint {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string][]Breakpoint, len(b.bySource))
	for path, bps := range b.bySource {
		out[path] = append([]Breakpoint(nil), bps...)
	}
	return out
}

// Begin issues a ticket for a new request on path.
func (b *Breakpoints) Begin(path string) Ticket {
	path = NormalizePath(path)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.issued[path]++
	return Ticket{Path: path, Seq: b.issued[path]}
}

// Commit replaces the set of t's source with bps unless a later ticket was
// already committed. It reports whether the set was applied.
func (b *Breakpoints) Commit(t Ticket, bps []Breakpoint) bool {
	b.mu.Lock()
	if t.Seq <= b.committed[t.Path] {
		b.mu.Unlock()
		return false
	}
	b.committed[t.Path] = t.Seq
	b.store(t.Path, bps)
	b.mu.Unlock()

	b.changed.Emit(t.Path)
	return true
}

// Set replaces the set of a source outright. Replies to requests issued
// before the call are dropped.
func (b *Breakpoints) Set(path string, bps []Breakpoint) {
	path = NormalizePath(path)
	b.mu.Lock()
	b.issued[path]++
	b.committed[path] = b.issued[path]
	b.store(path, bps)
	b.mu.Unlock()

	b.changed.Emit(path)
}

// Amend replaces the set of a source without touching its tickets, so the
// reply to a request still in flight wins over the amended set.
func (b *Breakpoints) Amend(path string, bps []Breakpoint) {
	path = NormalizePath(path)
	b.mu.Lock()
	b.store(path, bps)
	b.mu.Unlock()

	b.changed.Emit(path)
}

// Restore replaces every set with sets. Sources absent from sets are
// cleared.
func (b *Breakpoints) Restore(sets map[string][]Breakpoint) {
	normalized := make(map[string][]Breakpoint, len(sets))
	for path, bps := range sets {
		normalized[NormalizePath(path)] = bps
	}

	b.mu.Lock()
	touched := make(map[string]struct{})
	for path := range b.bySource {
		touched[path] = struct{}{}
	}
	for path := range normalized {
		touched[path] = struct{}{}
	}
	paths := make([]string, 0, len(touched))
	for path := range touched {
		b.issued[path]++
		b.committed[path] = b.issued[path]
		b.store(path, normalized[path])
		paths = append(paths, path)
	}
	b.mu.Unlock()

	sort.Strings(paths)
	for _, path := range paths {
		b.changed.Emit(path)
	}
}

// Update replaces the breakpoint with the same ID. The stored condition is
// kept when bp has none. It reports false when no stored breakpoint has
// that ID.
func (b *Breakpoints) Update(bp Breakpoint) bool {
	if bp.ID == 0 {
		return false
	}
	b.mu.Lock()
	for path, bps := range b.bySource {
		for i := range bps {
			if bps[i].ID != bp.ID {
				continue
			}
			if bp.Source.Path == "" && bp.Source.Reference == 0 {
				bp.Source = bps[i].Source
			}
			if bp.Condition == "" {
				bp.Condition = bps[i].Condition
			}
			next := append([]Breakpoint(nil), bps...)
			next[i] = bp
			b.store(path, next)
			b.mu.Unlock()
			b.changed.Emit(path)
			return true
		}
	}
	b.mu.Unlock()
	return false
}

// store must be called with mu held.
func (b *Breakpoints) store(path string, bps []Breakpoint) {
	if len(bps) == 0 {
		delete(b.bySource, path)
		return
	}
	sorted := append([]Breakpoint(nil), bps...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Line < sorted[j].Line })
	b.bySource[path] = sorted
}
