package parenv

import (
	"fmt"
	"sync/atomic"

	"github.com/dreamware/ropu/internal/comm"
)

// RootRank is the designated coordinator rank of every environment group.
// Rank 0 by convention: it always exists, whatever the group size.
const RootRank = 0

// Env is a shared handle on a communicator. Several owners within one
// process may hold the same Env; the reference count tracks them and the
// last Release destroys the handle, freeing the communicator if the handle
// owns it. Reference counts are process-local: peer processes holding
// endpoints on the same group each count their own holders.
//
// Lifecycle misuse (retain or release of a dead handle) is a fatal error,
// not a recoverable one. A handle whose count has been corrupted cannot be
// repaired locally without risking divergence across the group, so the
// process stops at the point of the mistake.
type Env struct {
	comm     comm.Comm
	ownsComm bool
	rank     int
	size     int
	root     int
	refs     int64 // atomic; the handle is live while refs >= 1
}

// New wraps a communicator in an owned handle: the final Release frees the
// communicator. The handle starts with one reference, held by the caller.
func New(c comm.Comm) *Env {
	return wrap(c, true)
}

// Adopt wraps a communicator someone else owns: Release never frees it.
// Used for communicators whose lifetime is managed elsewhere, such as the
// world communicator owned by the launcher.
func Adopt(c comm.Comm) *Env {
	return wrap(c, false)
}

func wrap(c comm.Comm, owns bool) *Env {
	if c == nil {
		panic("parenv: environment from nil communicator")
	}
	return &Env{
		comm:     c,
		ownsComm: owns,
		rank:     c.Rank(),
		size:     c.Size(),
		root:     RootRank,
		refs:     1,
	}
}

// Retain adds a reference for a new holder. Fatal on a dead handle: a
// zombie holder would free the communicator out from under everyone else.
func (e *Env) Retain() {
	if e == nil {
		panic("parenv: retain on nil environment")
	}
	for {
		refs := atomic.LoadInt64(&e.refs)
		if refs <= 0 {
			panic("parenv: retain on released environment")
		}
		if atomic.CompareAndSwapInt64(&e.refs, refs, refs+1) {
			return
		}
	}
}

// Release drops one holder's reference and always clears the caller's
// pointer, so a released handle cannot be reached through it again. The
// last release destroys the handle: an owned communicator is freed and the
// handle is poisoned against further use.
//
// Releasing a nil pointer or a pointer to nil is a no-op. Releasing a dead
// handle (reachable only through a second pointer) is fatal.
func Release(ep **Env) {
	if ep == nil || *ep == nil {
		return
	}
	e := *ep
	*ep = nil

	for {
		refs := atomic.LoadInt64(&e.refs)
		if refs <= 0 {
			panic("parenv: release on released environment")
		}
		if !atomic.CompareAndSwapInt64(&e.refs, refs, refs-1) {
			continue
		}
		if refs == 1 {
			e.destroy()
		}
		return
	}
}

func (e *Env) destroy() {
	if e.ownsComm {
		if err := e.comm.Free(); err != nil {
			panic(fmt.Sprintf("parenv: freeing communicator: %v", err))
		}
	}
	e.comm = nil
}

// SplitAll carves the environment's group into disjoint subgroups, one per
// distinct color, and returns an owned handle on this rank's subgroup.
// Ranks within a subgroup are ordered by key, parent rank breaking ties.
// A negative color opts this rank out: it still participates in the call
// but gets a nil handle back.
//
// SplitAll is a blocking collective: every rank of e's group must call it,
// whatever color each presents, and no rank returns before the whole group
// has arrived.
func SplitAll(e *Env, color, key int) *Env {
	e.ensureLive("split")

	sub, err := e.comm.Split(color, key)
	if err != nil {
		panic(fmt.Sprintf("parenv: splitting group: %v", err))
	}
	if sub == nil {
		return nil
	}
	return New(sub)
}

func (e *Env) ensureLive(op string) {
	if e == nil {
		panic(fmt.Sprintf("parenv: %s on nil environment", op))
	}
	if atomic.LoadInt64(&e.refs) <= 0 {
		panic(fmt.Sprintf("parenv: %s on released environment", op))
	}
}

// Comm returns the wrapped communicator. Fatal on a dead handle; the
// communicator may already be freed then.
func (e *Env) Comm() comm.Comm {
	e.ensureLive("communicator access")
	return e.comm
}

// Rank returns this process's position in the group
func (e *Env) Rank() int {
	return e.rank
}

// Size returns the number of processes in the group
func (e *Env) Size() int {
	return e.size
}

// Root returns the designated coordinator rank
func (e *Env) Root() int {
	return e.root
}

// IsRoot reports whether this process is the group's coordinator
func (e *Env) IsRoot() bool {
	return e.rank == e.root
}

// Owns reports whether the handle frees the communicator on destruction
func (e *Env) Owns() bool {
	return e.ownsComm
}

// Refs returns the current reference count, for introspection
func (e *Env) Refs() int {
	return int(atomic.LoadInt64(&e.refs))
}
