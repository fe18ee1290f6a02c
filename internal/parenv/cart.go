package parenv

import (
	"fmt"
	"sync/atomic"

	"github.com/dreamware/ropu/internal/comm"
)

// Cart is a shared handle on a communicator arranged as a Cartesian grid.
// It carries this process's position and the grid geometry as plain data:
// one entry per dimension for position, shift source, extent and
// periodicity, all fixed at construction. The same reference-counted
// lifecycle as Env applies, with the same fatal misuse policy.
type Cart struct {
	comm     comm.CartComm
	ownsComm bool
	ndims    int
	ntasks   int
	rank     int
	coords   []int
	source   []int
	dims     []int
	periods  []bool
	refs     int64 // atomic; the handle is live while refs >= 1
}

// NewCart arranges c's group into an ndims-dimensional grid and returns an
// owned handle on the resulting communicator. Extents are balanced over the
// group by the provider; no dimension is periodic. The input communicator
// is left untouched.
//
// NewCart is a blocking collective: every rank of c's group must call it
// with the same ndims.
func NewCart(c comm.Comm, ndims int) *Cart {
	if ndims < 1 {
		panic(fmt.Sprintf("parenv: grid needs at least one dimension, got %d", ndims))
	}
	return NewCartGrid(c, make([]int, ndims), nil)
}

// NewCartGrid arranges c's group into a grid with an explicit layout and
// returns an owned handle on the resulting communicator. Zero entries in
// dims are balanced over the group; nil periods means no dimension wraps.
// The input communicator is left untouched.
//
// NewCartGrid is a blocking collective: every rank of c's group must call
// it with the same layout.
func NewCartGrid(c comm.Comm, dims []int, periods []bool) *Cart {
	if c == nil {
		panic("parenv: grid from nil communicator")
	}

	cc, err := c.CartCreate(dims, periods)
	if err != nil {
		panic(fmt.Sprintf("parenv: creating grid: %v", err))
	}
	return wrapCart(cc, true)
}

// NewCartOn wraps an existing Cartesian communicator without taking
// ownership: Release never frees it. Local; no communication happens.
func NewCartOn(cc comm.CartComm) *Cart {
	if cc == nil {
		panic("parenv: grid from nil communicator")
	}
	return wrapCart(cc, false)
}

func wrapCart(cc comm.CartComm, owns bool) *Cart {
	ndims := cc.Ndims()
	return &Cart{
		comm:     cc,
		ownsComm: owns,
		ndims:    ndims,
		ntasks:   cc.Size(),
		rank:     cc.Rank(),
		coords:   cc.Coords(),
		source:   make([]int, ndims), // sources start at 0 until a shift records them
		dims:     cc.Dims(),
		periods:  cc.Periods(),
		refs:     1,
	}
}

// Retain adds a reference for a new holder. Fatal on a dead handle.
func (c *Cart) Retain() {
	if c == nil {
		panic("parenv: retain on nil grid")
	}
	for {
		refs := atomic.LoadInt64(&c.refs)
		if refs <= 0 {
			panic("parenv: retain on released grid")
		}
		if atomic.CompareAndSwapInt64(&c.refs, refs, refs+1) {
			return
		}
	}
}

// ReleaseCart drops one holder's reference and always clears the caller's
// pointer. The last release frees an owned communicator and drops the
// per-dimension arrays. Releasing a nil pointer or a pointer to nil is a
// no-op; releasing a dead handle is fatal.
func ReleaseCart(cp **Cart) {
	if cp == nil || *cp == nil {
		return
	}
	c := *cp
	*cp = nil

	for {
		refs := atomic.LoadInt64(&c.refs)
		if refs <= 0 {
			panic("parenv: release on released grid")
		}
		if !atomic.CompareAndSwapInt64(&c.refs, refs, refs-1) {
			continue
		}
		if refs == 1 {
			c.destroy()
		}
		return
	}
}

func (c *Cart) destroy() {
	if c.ownsComm {
		if err := c.comm.Free(); err != nil {
			panic(fmt.Sprintf("parenv: freeing grid communicator: %v", err))
		}
	}
	c.comm = nil
	c.coords = nil
	c.source = nil
	c.dims = nil
	c.periods = nil
}

// Shift locates the neighbors disp steps away along dim and records the
// source side in the handle, so later readers of Source see where this
// dimension's data comes from. Off-grid neighbors on non-periodic
// dimensions are comm.ProcNull. Local; no communication happens.
func (c *Cart) Shift(dim, disp int) (src, dst int) {
	c.ensureLive("shift")
	if dim < 0 || dim >= c.ndims {
		panic(fmt.Sprintf("parenv: shift dimension %d out of range [0,%d)", dim, c.ndims))
	}

	src, dst = c.comm.Shift(dim, disp)
	c.source[dim] = src
	return src, dst
}

func (c *Cart) ensureLive(op string) {
	if c == nil {
		panic(fmt.Sprintf("parenv: %s on nil grid", op))
	}
	if atomic.LoadInt64(&c.refs) <= 0 {
		panic(fmt.Sprintf("parenv: %s on released grid", op))
	}
}

// Comm returns the wrapped communicator. Fatal on a dead handle.
func (c *Cart) Comm() comm.CartComm {
	c.ensureLive("communicator access")
	return c.comm
}

// Ndims returns the number of grid dimensions
func (c *Cart) Ndims() int {
	return c.ndims
}

// NumTasks returns the total number of processes in the grid
func (c *Cart) NumTasks() int {
	return c.ntasks
}

// Rank returns this process's flat rank in the grid group
func (c *Cart) Rank() int {
	return c.rank
}

// Coords returns this process's grid position, one entry per dimension
func (c *Cart) Coords() []int {
	return copyInts(c.coords)
}

// Source returns the recorded shift source per dimension. Entries stay 0
// until Shift records a real source for their dimension.
func (c *Cart) Source() []int {
	return copyInts(c.source)
}

// Dims returns the extent of each dimension
func (c *Cart) Dims() []int {
	return copyInts(c.dims)
}

// Periods returns the wraparound flag of each dimension
func (c *Cart) Periods() []bool {
	periods := make([]bool, len(c.periods))
	copy(periods, c.periods)
	return periods
}

// Owns reports whether the handle frees the communicator on destruction
func (c *Cart) Owns() bool {
	return c.ownsComm
}

// Refs returns the current reference count, for introspection
func (c *Cart) Refs() int {
	return int(atomic.LoadInt64(&c.refs))
}

func copyInts(vals []int) []int {
	out := make([]int, len(vals))
	copy(out, vals)
	return out
}
