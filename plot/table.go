package plot

import "sync"

// Table is an observer table handing out weak references to curves. The
// owning widget adds curves and drops them when they are destroyed; holders
// of a Ref resolve it on every access and get nil once the curve is gone.
// Handles are never reused, so a stale Ref can never resolve to a different
// curve.
type Table struct {
	mu     sync.RWMutex
	next   uint64
	curves map[uint64]*Curve
}

// Ref is a weak reference to a curve in a Table.
type Ref struct {
	table  *Table
	handle uint64
}

// NewTable creates an empty curve table.
func NewTable() *Table {
	return &Table{curves: make(map[uint64]*Curve)}
}

// Add registers a curve and returns a weak reference to it.
func (t *Table) Add(c *Curve) Ref {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.next++
	t.curves[t.next] = c
	return Ref{table: t, handle: t.next}
}

// Drop removes the referenced curve from the table. Outstanding Refs to it
// resolve to nil afterwards. Dropping an already-dropped Ref is a no-op.
func (t *Table) Drop(ref Ref) {
	if ref.table != t {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.curves, ref.handle)
}

// Len returns the number of live curves in the table.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.curves)
}

// Live resolves the reference, returning nil if the curve has been dropped.
func (r Ref) Live() *Curve {
	if r.table == nil {
		return nil
	}
	r.table.mu.RLock()
	defer r.table.mu.RUnlock()
	return r.table.curves[r.handle]
}

// Same reports whether two references point at the same underlying curve
// handle.
func (r Ref) Same(other Ref) bool {
	return r.table == other.table && r.handle == other.handle
}
