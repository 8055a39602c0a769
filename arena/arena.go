// Package arena provides task scoped arrow allocators.
//
// An Arena tracks every byte it hands out and charges the allocation to
// itself and to all of its ancestors, so a limit set on a parent bounds the
// combined usage of its children. Arenas are released exactly once; the
// first Release reports anything that is still outstanding.
package arena

import (
	"fmt"
	"sync"

	"github.com/apache/arrow/go/v10/arrow/memory"
	"github.com/pkg/errors"
)

// ErrReleased is raised when allocating from or creating children of a
// released arena.
var ErrReleased = errors.New("arena already released")

// ExhaustedError is the panic value used when an allocation does not fit in
// the limit of an arena. Arrow builders have no way to return allocation
// errors, so callers recover it at their step boundary.
type ExhaustedError struct {
	Arena     string
	Requested int64
	Allocated int64
	Limit     int64
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("arena %s: cannot allocate %d bytes, %d of %d in use", e.Arena, e.Requested, e.Allocated, e.Limit)
}

// LeakError is returned by Release when memory or child arenas are still
// outstanding.
type LeakError struct {
	Arena     string
	Allocated int64
	Children  int
}

func (e *LeakError) Error() string {
	return fmt.Sprintf("arena %s released with %d bytes and %d child arenas outstanding", e.Arena, e.Allocated, e.Children)
}

type Arena struct {
	name   string
	parent *Arena
	mem    memory.Allocator
	limit  int64

	mu        sync.Mutex
	allocated int64
	peak      int64
	children  map[*Arena]struct{}
	released  bool
}

var _ memory.Allocator = (*Arena)(nil)

// NewRoot creates an arena allocating from mem. A limit <= 0 means unbounded.
// A nil mem uses memory.DefaultAllocator.
func NewRoot(mem memory.Allocator, limit int64) *Arena {
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	return &Arena{
		name:     "root",
		mem:      mem,
		limit:    limit,
		children: make(map[*Arena]struct{}),
	}
}

// NewChild creates an arena whose allocations are also charged to a.
func (a *Arena) NewChild(name string, limit int64) (*Arena, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.released {
		return nil, errors.Wrapf(ErrReleased, "arena %s", a.name)
	}
	child := &Arena{
		name:     a.name + "/" + name,
		parent:   a,
		mem:      a.mem,
		limit:    limit,
		children: make(map[*Arena]struct{}),
	}
	a.children[child] = struct{}{}
	return child, nil
}

func (a *Arena) Name() string { return a.name }

func (a *Arena) Allocate(size int) []byte {
	a.mustReserve(int64(size))
	return a.mem.Allocate(size)
}

func (a *Arena) Reallocate(size int, b []byte) []byte {
	if diff := int64(size - len(b)); diff > 0 {
		a.mustReserve(diff)
	} else if diff < 0 {
		a.unreserve(-diff)
	}
	return a.mem.Reallocate(size, b)
}

func (a *Arena) Free(b []byte) {
	a.unreserve(int64(len(b)))
	a.mem.Free(b)
}

func (a *Arena) mustReserve(n int64) {
	if err := a.reserve(n); err != nil {
		panic(err)
	}
}

func (a *Arena) reserve(n int64) error {
	a.mu.Lock()
	if a.released {
		a.mu.Unlock()
		return errors.Wrapf(ErrReleased, "arena %s", a.name)
	}
	if a.limit > 0 && a.allocated+n > a.limit {
		err := &ExhaustedError{Arena: a.name, Requested: n, Allocated: a.allocated, Limit: a.limit}
		a.mu.Unlock()
		return err
	}
	a.allocated += n
	if a.allocated > a.peak {
		a.peak = a.allocated
	}
	a.mu.Unlock()

	if a.parent != nil {
		if err := a.parent.reserve(n); err != nil {
			a.adjust(-n)
			return err
		}
	}
	return nil
}

func (a *Arena) unreserve(n int64) {
	for cur := a; cur != nil; cur = cur.parent {
		cur.adjust(-n)
	}
}

func (a *Arena) adjust(n int64) {
	a.mu.Lock()
	a.allocated += n
	a.mu.Unlock()
}

// Release closes the arena. Only the first call has an effect; it detaches
// the arena from its parent and returns a *LeakError if allocations or child
// arenas are still open.
func (a *Arena) Release() error {
	a.mu.Lock()
	if a.released {
		a.mu.Unlock()
		return nil
	}
	a.released = true
	allocated, children := a.allocated, len(a.children)
	a.mu.Unlock()

	if a.parent != nil {
		a.parent.mu.Lock()
		delete(a.parent.children, a)
		a.parent.mu.Unlock()
	}
	if allocated != 0 || children != 0 {
		return &LeakError{Arena: a.name, Allocated: allocated, Children: children}
	}
	return nil
}

func (a *Arena) Released() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.released
}

// Allocated returns the bytes currently held by the arena and its children.
func (a *Arena) Allocated() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.allocated
}

func (a *Arena) Peak() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.peak
}

func (a *Arena) NumChildren() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.children)
}
