// Package integration exercises the full handle stack end to end: an
// in-process launch adopts the world, splits it into teams, arranges each
// team on a Cartesian grid, checksums a block decomposition, and releases
// every handle in reverse order.
package integration

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dreamware/ropu/internal/comm"
	"github.com/dreamware/ropu/internal/decomp"
	"github.com/dreamware/ropu/internal/parenv"
)

// cellsPerTask is the index-space extent each process contributes along
// every grid dimension in the checksum scenario.
const cellsPerTask = 4

// rankReport captures what one rank observed during a lifecycle run
type rankReport struct {
	worldRank  int
	color      int
	teamID     string
	teamSize   int
	teamSeat   int
	teamRanks  []int // world ranks of the team, by seat
	gridDims   []int
	gridCoords []int
	total      int // team-wide reduced checksum
}

// runLifecycle drives the standard scenario over ranks processes split into
// groups teams: adopt, split by rank modulo groups, build a balanced 2D grid
// per team, reduce a block checksum, and tear everything down. It returns
// one report per world rank.
func runLifecycle(t *testing.T, hub *comm.Hub, ranks, groups int) []rankReport {
	t.Helper()

	var mu sync.Mutex
	reports := make([]rankReport, ranks)

	err := comm.LaunchWithHub(hub, ranks, func(world comm.Comm) {
		env := parenv.Adopt(world)
		color := env.Rank() % groups
		team := parenv.SplitAll(env, color, env.Rank())
		grid := parenv.NewCartGrid(team.Comm(), []int{0, 0}, nil)

		members := team.Comm().Allgather(env.Rank())

		report := rankReport{
			worldRank:  env.Rank(),
			color:      color,
			teamID:     team.Comm().ID(),
			teamSize:   team.Size(),
			teamSeat:   team.Rank(),
			teamRanks:  members,
			gridDims:   grid.Dims(),
			gridCoords: grid.Coords(),
			total:      blockChecksum(t, grid),
		}

		mu.Lock()
		reports[env.Rank()] = report
		mu.Unlock()

		parenv.ReleaseCart(&grid)
		parenv.Release(&team)
		parenv.Release(&env)
	})
	if err != nil {
		t.Fatalf("Launch failed: %v", err)
	}
	return reports
}

// blockChecksum sums the linear indices of this rank's block of the grid's
// cell space and reduces the partials across the grid group.
func blockChecksum(t *testing.T, grid *parenv.Cart) int {
	dims := grid.Dims()
	shape := make([]int, len(dims))
	for d, extent := range dims {
		shape[d] = extent * cellsPerTask
	}

	blocks, err := decomp.GridBlocks(shape, dims, grid.Coords())
	if err != nil {
		t.Errorf("Decomposing %v over %v: %v", shape, dims, err)
		return 0
	}

	partial := 0
	for i := blocks[0].Lo; i < blocks[0].Hi; i++ {
		for j := blocks[1].Lo; j < blocks[1].Hi; j++ {
			partial += i*shape[1] + j
		}
	}
	return grid.Comm().Allreduce(partial, comm.OpSum)
}

// TestGridLifecycle runs the full scenario once and checks every property of
// the resulting reports.
func TestGridLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	const (
		ranks  = 12
		groups = 3
	)

	hub := comm.NewHub()
	reports := runLifecycle(t, hub, ranks, groups)

	t.Run("TeamsPartitionTheWorld", func(t *testing.T) {
		testTeamsPartition(t, reports, ranks, groups)
	})
	t.Run("SeatsFollowWorldOrder", func(t *testing.T) {
		testSeatOrder(t, reports)
	})
	t.Run("GridsHoldTheirTeams", func(t *testing.T) {
		testGridShape(t, reports)
	})
	t.Run("ChecksumsMatchClosedForm", func(t *testing.T) {
		testChecksums(t, reports)
	})
	t.Run("NoGroupOutlivesTheRun", func(t *testing.T) {
		if n := hub.Len(); n != 0 {
			t.Errorf("%d groups still registered after the run, want 0", n)
			for _, g := range hub.Groups() {
				t.Logf("leaked group %s (%s): %d of %d endpoints held",
					g.ID, g.Label, g.Members, g.Size)
			}
		}
	})
}

// testTeamsPartition checks that the teams are disjoint, uniform in size,
// and together cover every world rank exactly once.
func testTeamsPartition(t *testing.T, reports []rankReport, ranks, groups int) {
	teams := make(map[string][]rankReport)
	for _, r := range reports {
		teams[r.teamID] = append(teams[r.teamID], r)
	}

	if len(teams) != groups {
		t.Fatalf("World split into %d teams, want %d", len(teams), groups)
	}

	covered := make(map[int]string)
	for id, members := range teams {
		if len(members) != ranks/groups {
			t.Errorf("Team %s has %d members, want %d", id, len(members), ranks/groups)
		}
		for _, r := range members {
			if r.teamSize != ranks/groups {
				t.Errorf("Rank %d reports team size %d, want %d", r.worldRank, r.teamSize, ranks/groups)
			}
			if r.worldRank%groups != r.color {
				t.Errorf("Rank %d landed in color %d, want %d", r.worldRank, r.color, r.worldRank%groups)
			}
			if prev, ok := covered[r.worldRank]; ok {
				t.Errorf("Rank %d appears in teams %s and %s", r.worldRank, prev, id)
			}
			covered[r.worldRank] = id
		}
	}
	if len(covered) != ranks {
		t.Errorf("Teams cover %d ranks, want %d", len(covered), ranks)
	}
}

// testSeatOrder checks that splitting by world rank seats each team in
// ascending world order and that every member agrees on the roster.
func testSeatOrder(t *testing.T, reports []rankReport) {
	for _, r := range reports {
		if r.teamRanks[r.teamSeat] != r.worldRank {
			t.Errorf("Rank %d sits at seat %d but the roster there says %d",
				r.worldRank, r.teamSeat, r.teamRanks[r.teamSeat])
		}
		for seat := 1; seat < len(r.teamRanks); seat++ {
			if r.teamRanks[seat-1] >= r.teamRanks[seat] {
				t.Errorf("Rank %d sees roster %v, not in ascending world order",
					r.worldRank, r.teamRanks)
				break
			}
		}
	}
}

// testGridShape checks that each team's grid holds the team exactly and
// places every rank inside it.
func testGridShape(t *testing.T, reports []rankReport) {
	for _, r := range reports {
		if len(r.gridDims) != 2 {
			t.Fatalf("Rank %d grid has %d dimensions, want 2", r.worldRank, len(r.gridDims))
		}
		if got := r.gridDims[0] * r.gridDims[1]; got != r.teamSize {
			t.Errorf("Rank %d grid %v holds %d tasks, team has %d",
				r.worldRank, r.gridDims, got, r.teamSize)
		}
		for d, c := range r.gridCoords {
			if c < 0 || c >= r.gridDims[d] {
				t.Errorf("Rank %d coordinate %d is %d, outside [0,%d)",
					r.worldRank, d, c, r.gridDims[d])
			}
		}
	}
}

// testChecksums checks that every team reduced its block sums to the closed
// form over its cell space, proving the decomposition covered every cell
// exactly once.
func testChecksums(t *testing.T, reports []rankReport) {
	for _, r := range reports {
		cells := r.gridDims[0] * cellsPerTask * r.gridDims[1] * cellsPerTask
		want := cells * (cells - 1) / 2
		if r.total != want {
			t.Errorf("Rank %d team checksum is %d, want %d over %d cells",
				r.worldRank, r.total, want, cells)
		}
	}
}

// TestSplitVariants covers the split behaviors the standard scenario does
// not reach.
func TestSplitVariants(t *testing.T) {
	t.Run("SameColorKeepsEveryoneTogether", func(t *testing.T) {
		const ranks = 6

		var mu sync.Mutex
		ids := make(map[string]bool)

		err := comm.Launch(ranks, func(world comm.Comm) {
			env := parenv.Adopt(world)
			team := parenv.SplitAll(env, 42, env.Rank())

			mu.Lock()
			ids[team.Comm().ID()] = true
			mu.Unlock()

			if team.Size() != ranks {
				t.Errorf("Rank %d team size %d, want %d", env.Rank(), team.Size(), ranks)
			}

			parenv.Release(&team)
			parenv.Release(&env)
		})
		if err != nil {
			t.Fatalf("Launch failed: %v", err)
		}
		if len(ids) != 1 {
			t.Errorf("Same color produced %d teams, want 1", len(ids))
		}
	})

	t.Run("NegativeColorOptsOut", func(t *testing.T) {
		const ranks = 5

		var outSize int32 = -1
		var mu sync.Mutex
		sizes := make([]int, 0, ranks-1)

		err := comm.Launch(ranks, func(world comm.Comm) {
			env := parenv.Adopt(world)
			defer parenv.Release(&env)

			color := 0
			if env.Rank() == 2 {
				color = -1
			}
			team := parenv.SplitAll(env, color, env.Rank())

			if env.Rank() == 2 {
				if team == nil {
					atomic.StoreInt32(&outSize, 0)
				}
				return
			}

			mu.Lock()
			sizes = append(sizes, team.Size())
			mu.Unlock()
			parenv.Release(&team)
		})
		if err != nil {
			t.Fatalf("Launch failed: %v", err)
		}

		if atomic.LoadInt32(&outSize) != 0 {
			t.Error("Opted-out rank did not receive a nil handle")
		}
		for _, size := range sizes {
			if size != ranks-1 {
				t.Errorf("Remaining team size %d, want %d", size, ranks-1)
			}
		}
	})
}

// TestConcurrentHolders shares one team handle among helper goroutines on
// every rank, each taking and returning its own reference.
func TestConcurrentHolders(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	const (
		ranks   = 8
		helpers = 3
	)

	err := comm.Launch(ranks, func(world comm.Comm) {
		env := parenv.Adopt(world)
		team := parenv.SplitAll(env, 0, env.Rank())

		var wg sync.WaitGroup
		for i := 0; i < helpers; i++ {
			// Retain on behalf of the helper before it starts, so the
			// reference exists even if the spawner releases first.
			team.Retain()
			wg.Add(1)
			go func() {
				defer wg.Done()
				holder := team
				if holder.Size() != ranks {
					t.Errorf("Helper sees team size %d, want %d", holder.Size(), ranks)
				}
				parenv.Release(&holder)
			}()
		}
		wg.Wait()

		if team.Refs() != 1 {
			t.Errorf("Rank %d team refs = %d after helpers finished, want 1",
				env.Rank(), team.Refs())
		}

		parenv.Release(&team)
		parenv.Release(&env)
	})
	if err != nil {
		t.Fatalf("Launch failed: %v", err)
	}
}

// TestWatchdogStaysQuiet arms a watchdog over a healthy run and checks that
// no stall is ever reported.
func TestWatchdogStaysQuiet(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	hub := comm.NewHub()
	dog := comm.NewWatchdog(20*time.Millisecond, 10*time.Second)

	var stalls int32
	dog.SetOnStall(func(comm.GroupInfo) { atomic.AddInt32(&stalls, 1) })
	go dog.Start(context.Background(), hub.Groups)

	runLifecycle(t, hub, 8, 2)
	dog.Stop()

	if n := atomic.LoadInt32(&stalls); n != 0 {
		t.Errorf("Watchdog reported %d stalls on a healthy run, want 0", n)
	}
}
