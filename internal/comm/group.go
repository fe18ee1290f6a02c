package comm

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// GroupStats counts the collective operations a group has completed.
// Each completed collective counts once, not once per member.
type GroupStats struct {
	Barriers    uint64
	Bcasts      uint64
	Allgathers  uint64
	Allreduces  uint64
	Splits      uint64
	Dups        uint64
	CartCreates uint64
}

// group is the state shared by every endpoint of one communicator. Each
// member goroutine holds a comm pointing at the same group and contributes
// to its collectives through the rendezvous below.
type group struct {
	id    uuid.UUID
	label string
	size  int
	hub   *Hub
	topo  *topology // non-nil when the group carries a Cartesian layout

	mu      sync.Mutex
	cond    *sync.Cond
	phase   uint64    // completed exchanges, fences one arrival window from the next
	arrived int       // members that reached the current exchange
	slots   []any     // per-rank contribution to the current exchange
	result  any       // combined result of the last completed exchange
	began   time.Time // when the current exchange saw its first arrival
	members int       // endpoints not yet freed

	stats GroupStats
}

// newGroup creates a group of the given size and registers it with the hub.
// The topology pointer is shared, never copied; it is immutable once built.
func newGroup(hub *Hub, size int, label string, topo *topology) *group {
	g := &group{
		id:      uuid.New(),
		label:   label,
		size:    size,
		hub:     hub,
		topo:    topo,
		slots:   make([]any, size),
		members: size,
	}
	g.cond = sync.NewCond(&g.mu)
	if hub != nil {
		hub.register(g)
	}
	return g
}

// exchange runs one collective step. Every member contributes in, the last
// member to arrive combines all contributions, and every member returns the
// combined value. Blocks until the whole group has arrived.
//
// A waiter that wakes on the phase change reads the result before releasing
// the mutex. The next exchange cannot complete and overwrite it until this
// member arrives again, so the read is safe.
func (g *group) exchange(rank int, in any, combine func(slots []any) any) any {
	g.mu.Lock()
	defer g.mu.Unlock()

	phase := g.phase
	if g.arrived == 0 {
		g.began = time.Now()
	}
	g.slots[rank] = in
	g.arrived++

	if g.arrived == g.size {
		// Last arrival computes on behalf of the group.
		g.result = combine(g.slots)
		g.slots = make([]any, g.size)
		g.arrived = 0
		g.phase++
		g.cond.Broadcast()
		return g.result
	}

	for g.phase == phase {
		g.cond.Wait()
	}
	return g.result
}

// leave retires one endpoint. The last endpoint out unregisters the group
// from the hub.
func (g *group) leave() {
	g.mu.Lock()
	g.members--
	last := g.members == 0
	g.mu.Unlock()

	if last && g.hub != nil {
		g.hub.unregister(g.id)
	}
}

// retire drops the whole group at once, used by the launcher for the world
// group it owns.
func (g *group) retire() {
	g.mu.Lock()
	g.members = 0
	g.mu.Unlock()

	if g.hub != nil {
		g.hub.unregister(g.id)
	}
}

// info returns a point-in-time view of the group for observers
func (g *group) info() GroupInfo {
	g.mu.Lock()
	defer g.mu.Unlock()

	info := GroupInfo{
		ID:        g.id.String(),
		Label:     g.label,
		Size:      g.size,
		Members:   g.members,
		Waiting:   g.arrived,
		Cartesian: g.topo != nil,
		Stats: GroupStats{
			Barriers:    atomic.LoadUint64(&g.stats.Barriers),
			Bcasts:      atomic.LoadUint64(&g.stats.Bcasts),
			Allgathers:  atomic.LoadUint64(&g.stats.Allgathers),
			Allreduces:  atomic.LoadUint64(&g.stats.Allreduces),
			Splits:      atomic.LoadUint64(&g.stats.Splits),
			Dups:        atomic.LoadUint64(&g.stats.Dups),
			CartCreates: atomic.LoadUint64(&g.stats.CartCreates),
		},
	}
	if g.arrived > 0 {
		info.WaitingFor = time.Since(g.began)
	}
	return info
}
