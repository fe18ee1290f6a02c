// Package comm provides the communicator capability layer.
// This file implements the in-process provider: one goroutine per rank,
// collectives meeting at an in-memory rendezvous.
package comm

import (
	"cmp"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/exp/slices"
)

// localComm is one rank's endpoint on a group. A rank drives its collectives
// from a single goroutine, matching the one-goroutine-per-rank execution
// model; concurrent collectives from the same endpoint are a programming
// error. Free may be called from anywhere.
type localComm struct {
	group *group
	rank  int

	mu    sync.Mutex // guards freed
	freed bool
}

var _ Comm = (*localComm)(nil)

func (c *localComm) ID() string {
	return c.group.id.String()
}

func (c *localComm) Rank() int {
	return c.rank
}

func (c *localComm) Size() int {
	return c.group.size
}

// liveErr reports ErrFreed once the endpoint was freed, for the operations
// that return errors.
func (c *localComm) liveErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.freed {
		return ErrFreed
	}
	return nil
}

// ensureLive panics when the endpoint was already freed. The pure
// collectives carry no error return; calling them on a freed endpoint is a
// programming error, not a condition to handle.
func (c *localComm) ensureLive(op string) {
	if err := c.liveErr(); err != nil {
		panic(fmt.Sprintf("comm: %s on freed communicator %s", op, c.group.id))
	}
}

func (c *localComm) Barrier() {
	c.ensureLive("Barrier")

	c.group.exchange(c.rank, nil, func([]any) any {
		atomic.AddUint64(&c.group.stats.Barriers, 1)
		return nil
	})
}

func (c *localComm) Bcast(value, root int) int {
	c.ensureLive("Bcast")
	if root < 0 || root >= c.group.size {
		panic(fmt.Sprintf("comm: Bcast root %d out of range [0,%d)", root, c.group.size))
	}

	out := c.group.exchange(c.rank, value, func(slots []any) any {
		atomic.AddUint64(&c.group.stats.Bcasts, 1)
		return slots[root]
	})
	return out.(int)
}

func (c *localComm) Allgather(value int) []int {
	c.ensureLive("Allgather")

	out := c.group.exchange(c.rank, value, func(slots []any) any {
		atomic.AddUint64(&c.group.stats.Allgathers, 1)
		vals := make([]int, len(slots))
		for i, s := range slots {
			vals[i] = s.(int)
		}
		return vals
	})

	// Every member gets its own copy; the combined slice is shared.
	shared := out.([]int)
	vals := make([]int, len(shared))
	copy(vals, shared)
	return vals
}

func (c *localComm) Allreduce(value int, op ReduceOp) int {
	c.ensureLive("Allreduce")

	out := c.group.exchange(c.rank, value, func(slots []any) any {
		atomic.AddUint64(&c.group.stats.Allreduces, 1)
		acc := slots[0].(int)
		for _, s := range slots[1:] {
			acc = op.apply(acc, s.(int))
		}
		return acc
	})
	return out.(int)
}

// dupLocal is the shared duplication path. The duplicate inherits the
// parent's topology pointer, so duplicating a Cartesian group preserves its
// layout.
func (c *localComm) dupLocal() (*localComm, error) {
	if err := c.liveErr(); err != nil {
		return nil, err
	}

	out := c.group.exchange(c.rank, nil, func([]any) any {
		atomic.AddUint64(&c.group.stats.Dups, 1)
		return newGroup(c.group.hub, c.group.size, c.group.label+"/dup", c.group.topo)
	})
	return &localComm{group: out.(*group), rank: c.rank}, nil
}

func (c *localComm) Dup() (Comm, error) {
	dup, err := c.dupLocal()
	if err != nil {
		return nil, err
	}
	return dup, nil
}

// splitBid is one rank's contribution to a Split
type splitBid struct {
	rank  int // rank in the parent group
	color int
	key   int
}

// splitSeat is one parent rank's place in the split outcome: the subgroup it
// joined and its rank there. A nil group means the rank opted out.
type splitSeat struct {
	group *group
	rank  int
}

func (c *localComm) Split(color, key int) (Comm, error) {
	if err := c.liveErr(); err != nil {
		return nil, err
	}

	out := c.group.exchange(c.rank, splitBid{rank: c.rank, color: color, key: key}, func(slots []any) any {
		atomic.AddUint64(&c.group.stats.Splits, 1)
		return splitGroups(c.group, slots)
	})

	// The seat table is built once by the combining member and read-only
	// afterward; each member picks out its own entry.
	seat := out.([]splitSeat)[c.rank]
	if seat.group == nil {
		return nil, nil
	}
	return &localComm{group: seat.group, rank: seat.rank}, nil
}

// splitGroups partitions the parent by color and seats every member.
// One subgroup is created per distinct non-negative color, in ascending
// color order. Within a subgroup, ranks follow the caller-supplied key,
// parent rank breaking ties.
func splitGroups(parent *group, slots []any) []splitSeat {
	byColor := make(map[int][]splitBid)
	colors := make([]int, 0)
	for _, s := range slots {
		bid := s.(splitBid)
		if bid.color < 0 {
			continue
		}
		if _, seen := byColor[bid.color]; !seen {
			colors = append(colors, bid.color)
		}
		byColor[bid.color] = append(byColor[bid.color], bid)
	}
	slices.Sort(colors)

	seats := make([]splitSeat, len(slots))
	for _, color := range colors {
		members := byColor[color]
		slices.SortFunc(members, func(a, b splitBid) int {
			if a.key != b.key {
				return cmp.Compare(a.key, b.key)
			}
			return cmp.Compare(a.rank, b.rank)
		})

		sub := newGroup(parent.hub, len(members), fmt.Sprintf("%s/split:%d", parent.label, color), nil)
		for i, m := range members {
			seats[m.rank] = splitSeat{group: sub, rank: i}
		}
	}
	return seats
}

func (c *localComm) CartCreate(dims []int, periods []bool) (CartComm, error) {
	if err := c.liveErr(); err != nil {
		return nil, err
	}

	spec, err := newCartSpec(c.group.size, dims, periods)
	if err != nil {
		return nil, err
	}

	out := c.group.exchange(c.rank, spec, func(slots []any) any {
		atomic.AddUint64(&c.group.stats.CartCreates, 1)
		return buildCartGroup(c.group, slots)
	})

	switch v := out.(type) {
	case error:
		return nil, v
	case *group:
		return &cartComm{localComm: localComm{group: v, rank: c.rank}}, nil
	default:
		panic(fmt.Sprintf("comm: unexpected CartCreate outcome %T", out))
	}
}

func (c *localComm) Free() error {
	c.mu.Lock()
	if c.freed {
		c.mu.Unlock()
		return ErrFreed
	}
	c.freed = true
	c.mu.Unlock()

	c.group.leave()
	return nil
}

// Launch runs body once per rank, each on its own goroutine, and returns
// after every rank's body has returned. The world communicator handed to
// body is owned by the launcher: ranks must not Free it, and it is retired
// when Launch returns. Communicators a body creates through Split, Dup or
// CartCreate are the body's to free.
//
// A panic inside body takes the process down, matching the fail-fast
// contract of the handle layer built on top.
func Launch(n int, body func(world Comm)) error {
	return LaunchWithHub(NewHub(), n, body)
}

// LaunchWithHub is Launch with a caller-supplied hub, for observers that
// want to watch the run's groups while it is in flight.
func LaunchWithHub(hub *Hub, n int, body func(world Comm)) error {
	if n <= 0 {
		return fmt.Errorf("rank count must be positive, got %d", n)
	}
	if body == nil {
		return errors.New("launch body is nil")
	}
	if hub == nil {
		hub = NewHub()
	}

	world := newGroup(hub, n, "world", nil)

	var wg sync.WaitGroup
	for rank := 0; rank < n; rank++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			body(&localComm{group: world, rank: rank})
		}(rank)
	}
	wg.Wait()

	world.retire()
	return nil
}
