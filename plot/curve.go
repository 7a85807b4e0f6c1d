// Package plot provides plot-curve storage and the weak-reference table
// through which subscribers hand out curve handles. Ownership of a curve
// stays with the widget that created it; everything else holds Refs and
// checks liveness on every access.
package plot

import (
	"sync"

	"github.com/google/uuid"
)

// Point is a single (x, y) sample on a curve.
type Point struct {
	X float64
	Y float64
}

// Curve accumulates timestamped samples for one plotted variable.
type Curve struct {
	id    uuid.UUID
	label string

	mu       sync.Mutex
	points   []Point
	onAppend func(Point)
}

// CurveOption configures a Curve at construction.
type CurveOption func(*Curve)

// WithOnAppend installs a callback invoked after every appended point. The
// callback runs on the appending goroutine and must not block.
func WithOnAppend(fn func(Point)) CurveOption {
	return func(c *Curve) {
		c.onAppend = fn
	}
}

// NewCurve creates a curve with the given display label.
func NewCurve(label string, opts ...CurveOption) *Curve {
	c := &Curve{
		id:    uuid.New(),
		label: label,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ID returns the curve's unique identity.
func (c *Curve) ID() uuid.UUID {
	return c.id
}

// Label returns the curve's display label.
func (c *Curve) Label() string {
	return c.label
}

// AppendPoint adds a sample to the curve. Safe for concurrent use.
func (c *Curve) AppendPoint(x, y float64) {
	c.mu.Lock()
	p := Point{X: x, Y: y}
	c.points = append(c.points, p)
	fn := c.onAppend
	c.mu.Unlock()

	if fn != nil {
		fn(p)
	}
}

// Points returns a copy of the curve's samples.
func (c *Curve) Points() []Point {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Point, len(c.points))
	copy(out, c.points)
	return out
}

// Size returns the number of samples on the curve.
func (c *Curve) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.points)
}
