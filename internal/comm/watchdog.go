// Package comm provides the communicator capability layer.
// This file implements stall detection for in-flight collectives.
package comm

import (
	"context"
	"log"
	"sync"
	"time"
)

// Watchdog periodically scans live groups for collectives that have been
// waiting on missing members for too long. It is purely diagnostic: a
// stalled collective is reported, never broken, because collectives carry
// no cancellation and interrupting one member would desynchronize the group.
// Thread-safe: All methods are safe for concurrent access.
type Watchdog struct {
	reported  map[string]bool // Groups already reported as stalled
	onStall   func(GroupInfo) // Callback when a group stalls
	ctx       context.Context // Context for cancellation
	cancel    context.CancelFunc
	interval  time.Duration // How often to scan the groups
	threshold time.Duration // Wait time after which a collective counts as stalled
	mu        sync.RWMutex  // Protects reported map
	wg        sync.WaitGroup
}

// NewWatchdog creates a watchdog that scans every interval and flags any
// collective that has been incomplete for at least threshold.
//
// Parameters:
//   - interval: How often to scan (recommended: 1s)
//   - threshold: Wait time that counts as a stall (recommended: 30s)
//
// Returns:
//   - *Watchdog: Configured watchdog ready to start
//
// Example:
//
//	dog := comm.NewWatchdog(time.Second, 30*time.Second)
//	go dog.Start(ctx, hub.Groups)
func NewWatchdog(interval, threshold time.Duration) *Watchdog {
	ctx, cancel := context.WithCancel(context.Background())

	return &Watchdog{
		interval:  interval,
		threshold: threshold,
		reported:  make(map[string]bool),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// SetOnStall sets the callback invoked when a group is first seen stalled.
// The callback runs on its own goroutine so a slow consumer cannot hold up
// the scan loop.
//
// Example:
//
//	dog.SetOnStall(func(g comm.GroupInfo) {
//	    log.Printf("group %s stuck: %d of %d arrived", g.Label, g.Waiting, g.Size)
//	})
func (w *Watchdog) SetOnStall(callback func(GroupInfo)) {
	w.onStall = callback
}

// Start begins scanning in the current goroutine and blocks until the
// context is canceled or Stop is called.
//
// Parameters:
//   - ctx: Context for cancellation (nil falls back to the internal context)
//   - groupProvider: Function that returns the current live groups
//
// Example:
//
//	go dog.Start(ctx, hub.Groups)
func (w *Watchdog) Start(ctx context.Context, groupProvider func() []GroupInfo) {
	w.wg.Add(1)
	defer w.wg.Done()

	if ctx == nil {
		ctx = w.ctx
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	log.Printf("Collective watchdog started with interval %v, threshold %v", w.interval, w.threshold)

	w.scan(groupProvider())

	for {
		select {
		case <-ticker.C:
			w.scan(groupProvider())
		case <-ctx.Done():
			log.Println("Collective watchdog stopping due to context cancellation")
			return
		case <-w.ctx.Done():
			log.Println("Collective watchdog stopping due to internal cancellation")
			return
		}
	}
}

// Stop shuts the watchdog down and waits for the scan loop to exit
func (w *Watchdog) Stop() {
	w.cancel()
	w.wg.Wait()
	log.Println("Collective watchdog stopped")
}

// IsStalled reports whether the group was flagged as stalled on the most
// recent scan.
//
// Parameters:
//   - id: Group ID as reported by GroupInfo.ID
func (w *Watchdog) IsStalled(id string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return w.reported[id]
}

// scan inspects every live group and reports stall transitions.
//
// Implementation:
//  1. Flag groups whose collective has waited past the threshold
//  2. Report each stall once, re-arming when the collective completes
//  3. Drop tracking for groups that are idle or gone
func (w *Watchdog) scan(groups []GroupInfo) {
	current := make(map[string]bool)

	for _, g := range groups {
		current[g.ID] = true

		stalled := g.Waiting > 0 && g.WaitingFor >= w.threshold

		w.mu.Lock()
		wasReported := w.reported[g.ID]
		switch {
		case stalled && !wasReported:
			w.reported[g.ID] = true
			w.mu.Unlock()

			log.Printf("Collective on group %s (%s) stalled: %d of %d arrived after %v",
				g.ID, g.Label, g.Waiting, g.Size, g.WaitingFor.Round(time.Millisecond))
			if w.onStall != nil {
				// Call callback without holding the lock
				go w.onStall(g)
			}
		case !stalled && wasReported:
			delete(w.reported, g.ID)
			w.mu.Unlock()

			log.Printf("Collective on group %s (%s) completed after stall", g.ID, g.Label)
		default:
			w.mu.Unlock()
		}
	}

	// Groups that disappeared take their stall flag with them
	w.mu.Lock()
	for id := range w.reported {
		if !current[id] {
			delete(w.reported, id)
		}
	}
	w.mu.Unlock()
}
