package comm

import (
	"sync"
	"testing"
)

// TestHubTracking tests the live-group registry across a run
func TestHubTracking(t *testing.T) {
	t.Run("tracks groups created by a run", func(t *testing.T) {
		const n = 4
		hub := NewHub()

		// Subgroups are deliberately not freed so they outlive the run.
		err := LaunchWithHub(hub, n, func(world Comm) {
			sub, err := world.Split(world.Rank()%2, 0)
			if err != nil {
				t.Errorf("Split failed: %v", err)
				return
			}
			sub.Allreduce(1, OpSum)
		})
		if err != nil {
			t.Fatalf("Launch failed: %v", err)
		}

		groups := hub.Groups()
		if len(groups) != 2 {
			t.Fatalf("Expected 2 live groups, got %d", len(groups))
		}

		// Sorted by label.
		if groups[0].Label != "world/split:0" || groups[1].Label != "world/split:1" {
			t.Errorf("Got labels %q and %q", groups[0].Label, groups[1].Label)
		}
		for _, g := range groups {
			if g.Size != 2 || g.Members != 2 {
				t.Errorf("Group %s has size %d, members %d, want 2 and 2", g.Label, g.Size, g.Members)
			}
			if g.Waiting != 0 || g.WaitingFor != 0 {
				t.Errorf("Idle group %s reports waiting %d for %v", g.Label, g.Waiting, g.WaitingFor)
			}
			if g.Cartesian {
				t.Errorf("Plain group %s flagged Cartesian", g.Label)
			}
			if g.Stats.Allreduces != 1 {
				t.Errorf("Group %s counted %d allreduces, want 1", g.Label, g.Stats.Allreduces)
			}
		}
	})

	t.Run("world group retires with the launcher", func(t *testing.T) {
		hub := NewHub()

		err := LaunchWithHub(hub, 2, func(world Comm) {
			world.Barrier()
		})
		if err != nil {
			t.Fatalf("Launch failed: %v", err)
		}

		for _, g := range hub.Groups() {
			if g.Label == "world" {
				t.Error("World group still live after the launcher returned")
			}
		}
		if hub.Len() != 0 {
			t.Errorf("Expected empty hub, got %d groups", hub.Len())
		}
	})

	t.Run("counts each collective once", func(t *testing.T) {
		const n = 3
		hub := NewHub()

		err := LaunchWithHub(hub, n, func(world Comm) {
			sub, err := world.Dup()
			if err != nil {
				t.Errorf("Dup failed: %v", err)
				return
			}
			sub.Barrier()
			sub.Barrier()
			sub.Barrier()
			sub.Bcast(0, 0)
		})
		if err != nil {
			t.Fatalf("Launch failed: %v", err)
		}

		groups := hub.Groups()
		if len(groups) != 1 {
			t.Fatalf("Expected 1 live group, got %d", len(groups))
		}
		if got := groups[0].Stats.Barriers; got != 3 {
			t.Errorf("Counted %d barriers, want 3", got)
		}
		if got := groups[0].Stats.Bcasts; got != 1 {
			t.Errorf("Counted %d bcasts, want 1", got)
		}
	})

	t.Run("flags cartesian groups", func(t *testing.T) {
		hub := NewHub()

		err := LaunchWithHub(hub, 4, func(world Comm) {
			if _, err := world.CartCreate([]int{2, 2}, nil); err != nil {
				t.Errorf("CartCreate failed: %v", err)
			}
		})
		if err != nil {
			t.Fatalf("Launch failed: %v", err)
		}

		groups := hub.Groups()
		if len(groups) != 1 {
			t.Fatalf("Expected 1 live group, got %d", len(groups))
		}
		if !groups[0].Cartesian {
			t.Error("Cart group not flagged Cartesian")
		}
		if groups[0].Label != "world/cart" {
			t.Errorf("Got label %q, want world/cart", groups[0].Label)
		}
	})

	t.Run("snapshot is safe under concurrent runs", func(t *testing.T) {
		hub := NewHub()

		var wg sync.WaitGroup
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := LaunchWithHub(hub, 3, func(world Comm) {
					sub, err := world.Dup()
					if err != nil {
						return
					}
					defer sub.Free()
					sub.Barrier()
				})
				if err != nil {
					t.Errorf("Launch failed: %v", err)
				}
			}()
		}

		// Read snapshots while the runs are in flight.
		for i := 0; i < 100; i++ {
			for _, g := range hub.Groups() {
				if g.Size <= 0 {
					t.Errorf("Group %s has non-positive size %d", g.ID, g.Size)
				}
			}
		}
		wg.Wait()

		if hub.Len() != 0 {
			t.Errorf("Expected empty hub after all runs, got %d groups", hub.Len())
		}
	})
}
