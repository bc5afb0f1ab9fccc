package machine

import (
	"context"
	"sync"

	"github.com/golang/geo/r3"
)

// FakeLink is an in-memory Link for tests and dry runs.
type FakeLink struct {
	mu       sync.Mutex
	position r3.Vector
	offsets  map[int]r3.Vector
	closed   bool

	// PositionErr and OffsetErr, when set, are returned by the matching calls.
	PositionErr error
	OffsetErr   error
}

// NewFakeLink returns a fake machine parked at start.
func NewFakeLink(start r3.Vector) *FakeLink {
	return &FakeLink{position: start, offsets: map[int]r3.Vector{}}
}

// MoveTo sets the position the fake reports.
func (f *FakeLink) MoveTo(p r3.Vector) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.position = p
}

// Position implements PositionReader.
func (f *FakeLink) Position(ctx context.Context) (r3.Vector, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return r3.Vector{}, ErrLinkClosed
	}
	if err := ctx.Err(); err != nil {
		return r3.Vector{}, err
	}
	if f.PositionErr != nil {
		return r3.Vector{}, f.PositionErr
	}
	return f.position, nil
}

// SetWorkOffset implements OffsetApplier.
func (f *FakeLink) SetWorkOffset(ctx context.Context, cs int, p r3.Vector) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrLinkClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidateCoordinateSystem(cs); err != nil {
		return err
	}
	if f.OffsetErr != nil {
		return f.OffsetErr
	}
	f.offsets[cs] = p
	return nil
}

// WorkOffset returns the last offset written to cs.
func (f *FakeLink) WorkOffset(cs int) (r3.Vector, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.offsets[cs]
	return p, ok
}

// Close implements Link.
func (f *FakeLink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}
