// Package comm provides the communicator capability layer.
// This file implements the registry of live groups maintained per launch.
package comm

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/slices"
)

// GroupInfo is a point-in-time view of one live group, safe to retain after
// the group itself is gone.
// Waiting and WaitingFor describe the group's current collective: how many
// members have arrived and how long ago the first of them did. Both are zero
// while the group is idle.
type GroupInfo struct {
	ID         string        // Group identity, shared by all members
	Label      string        // Human-readable lineage, e.g. "world/split:1"
	Size       int           // Number of ranks in the group
	Members    int           // Endpoints not yet freed
	Waiting    int           // Members parked in an incomplete collective
	WaitingFor time.Duration // Time since the first arrival of that collective
	Cartesian  bool          // Whether the group carries a Cartesian layout
	Stats      GroupStats    // Completed collective counts
}

// Hub tracks every live group created under one launch. It exists for
// observers: the stall watchdog scans it, tests assert against it, and the
// demo binaries report from it. Collectives never go through the hub.
// Thread-safe: All methods are safe for concurrent access.
type Hub struct {
	mu     sync.RWMutex
	groups map[uuid.UUID]*group
}

// NewHub creates an empty hub.
//
// Returns:
//   - *Hub: Hub ready to be passed to LaunchWithHub
//
// Example:
//
//	hub := comm.NewHub()
//	err := comm.LaunchWithHub(hub, 8, body)
func NewHub() *Hub {
	return &Hub{
		groups: make(map[uuid.UUID]*group),
	}
}

// register adds a newly created group to the hub.
// Called from newGroup, which may run inside a collective's combine step
// while holding the group's own mutex; the hub mutex is therefore never
// held while taking a group mutex, only the other way around.
func (h *Hub) register(g *group) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.groups[g.id] = g
}

// unregister drops a group whose last endpoint was freed
func (h *Hub) unregister(id uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.groups, id)
}

// Groups returns a snapshot of all live groups, sorted by label then ID for
// stable output.
//
// Returns:
//   - []GroupInfo: Copies that remain valid after the groups are freed
//
// Example:
//
//	for _, g := range hub.Groups() {
//	    log.Printf("group %s (%s): %d/%d waiting", g.ID, g.Label, g.Waiting, g.Size)
//	}
func (h *Hub) Groups() []GroupInfo {
	// Copy the group pointers out first so no group mutex is taken while
	// holding the hub mutex.
	h.mu.RLock()
	live := make([]*group, 0, len(h.groups))
	for _, g := range h.groups {
		live = append(live, g)
	}
	h.mu.RUnlock()

	infos := make([]GroupInfo, 0, len(live))
	for _, g := range live {
		infos = append(infos, g.info())
	}

	slices.SortFunc(infos, func(a, b GroupInfo) int {
		if c := strings.Compare(a.Label, b.Label); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return infos
}

// Len returns the number of live groups
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.groups)
}
