// Package main implements gridrun, a demo driver that walks the full handle
// lifecycle over an in-process launch: adopt the world, split it into teams,
// arrange each team on a Cartesian grid, and verify a block-decomposed
// checksum with a collective reduction.
//
// Every rank runs the same program against its own endpoint:
//
//	┌──────────────────────────────────────────────┐
//	│                   gridrun                    │
//	├──────────────────────────────────────────────┤
//	│  world (adopted, borrowed)                   │
//	│    └─ team (split by rank % groups)          │
//	│         └─ grid (rows x cols, Cartesian)     │
//	│              ├─ shift: neighbors per dim     │
//	│              └─ checksum over index blocks   │
//	│                 (allreduce across the team)  │
//	└──────────────────────────────────────────────┘
//
// Handles are torn down in reverse creation order, and the run fails if any
// group outlives its last release.
//
// Configuration (flags, or ROPU_* environment variables):
//   - --ranks (ROPU_RANKS): Ranks to launch (default: 8)
//   - --groups (ROPU_GROUPS): Teams to split the world into (default: 2)
//   - --rows (ROPU_ROWS): Grid rows per team, 0 balances (default: 0)
//   - --cols (ROPU_COLS): Grid columns per team, 0 balances (default: 0)
//   - --periodic (ROPU_PERIODIC): Wrap the grid in both dimensions
//   - --verbose (ROPU_VERBOSE): Log per-rank placement and neighbors
//   - --stall-warn (ROPU_STALL_WARN): Warn when a collective waits this long
//
// Example usage:
//
//	# 12 ranks, 3 teams of 4, each on a wrapped 2x2 grid
//	./gridrun --ranks 12 --groups 3 --periodic --verbose
//
//	# Same run configured from the environment
//	ROPU_RANKS=12 ROPU_GROUPS=3 ROPU_PERIODIC=true ./gridrun
package main

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dreamware/ropu/internal/comm"
	"github.com/dreamware/ropu/internal/decomp"
	"github.com/dreamware/ropu/internal/parenv"
)

// logFatal is a variable to allow mocking log.Fatal in tests.
// This indirection enables test code to intercept fatal errors
// without actually terminating the test process.
var logFatal = log.Fatalf

// cellsPerTask is the index-space extent contributed by each process along
// every grid dimension, so a 3x2 grid owns a 24x16 cell space. Small enough
// to keep the demo instant, big enough that uneven blocks would show.
const cellsPerTask = 8

// config carries one run's settings, resolved from flags and environment
type config struct {
	Ranks     int           // Ranks to launch
	Groups    int           // Teams the world splits into
	Rows      int           // Grid rows per team (0 balances)
	Cols      int           // Grid columns per team (0 balances)
	Periodic  bool          // Wrap both grid dimensions
	Verbose   bool          // Per-rank placement logging
	StallWarn time.Duration // Collective wait that triggers a warning (0 disables)
}

// validate checks that the settings describe a launchable run.
//
// Rules:
//   - At least one rank and one group
//   - Groups must divide ranks evenly, so teams are uniform
//   - Row and column counts must be able to hold one team exactly
//   - The stall warning threshold cannot be negative
//
// Returns:
//   - nil when the run can proceed, a descriptive error otherwise
func (c config) validate() error {
	if c.Ranks < 1 {
		return fmt.Errorf("need at least one rank, got %d", c.Ranks)
	}
	if c.Groups < 1 {
		return fmt.Errorf("need at least one group, got %d", c.Groups)
	}
	if c.Groups > c.Ranks {
		return fmt.Errorf("cannot split %d ranks into %d groups", c.Ranks, c.Groups)
	}
	if c.Ranks%c.Groups != 0 {
		return fmt.Errorf("%d ranks do not divide into %d even groups", c.Ranks, c.Groups)
	}
	if c.Rows < 0 || c.Cols < 0 {
		return fmt.Errorf("grid extents cannot be negative, got %dx%d", c.Rows, c.Cols)
	}
	if c.StallWarn < 0 {
		return fmt.Errorf("stall warning threshold cannot be negative, got %v", c.StallWarn)
	}

	// Delegate grid feasibility to the same balancing the provider applies,
	// so a bad layout fails here instead of inside every rank.
	team := c.Ranks / c.Groups
	dims := []int{c.Rows, c.Cols}
	if err := comm.BalancedDims(team, dims); err != nil {
		return fmt.Errorf("grid %dx%d cannot hold a team of %d: %w", c.Rows, c.Cols, team, err)
	}
	return nil
}

var rootCmd = &cobra.Command{
	Use:   "gridrun",
	Short: "Run the split/grid/checksum lifecycle demo",
	Long: `Gridrun launches an in-process group of ranks, splits it into teams,
arranges each team on a two-dimensional Cartesian grid, and verifies a
block-decomposed checksum with a team-wide reduction. It exercises every
handle operation: adopt, split, grid creation, retain, shift and release.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(loadConfig())
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.Flags().Int("ranks", 8, "number of ranks to launch")
	rootCmd.Flags().Int("groups", 2, "number of teams to split the world into")
	rootCmd.Flags().Int("rows", 0, "grid rows per team (0 balances automatically)")
	rootCmd.Flags().Int("cols", 0, "grid columns per team (0 balances automatically)")
	rootCmd.Flags().Bool("periodic", false, "wrap the grid in both dimensions")
	rootCmd.Flags().Bool("verbose", false, "log per-rank placement and neighbors")
	rootCmd.Flags().Duration("stall-warn", 0, "warn when a collective waits this long (0 disables)")

	for _, name := range []string{"ranks", "groups", "rows", "cols", "periodic", "verbose", "stall-warn"} {
		_ = viper.BindPFlag(name, rootCmd.Flags().Lookup(name))
	}
}

// initConfig wires the environment into viper so every flag can also be set
// as ROPU_<FLAG>, with dashes mapped to underscores (ROPU_STALL_WARN).
func initConfig() {
	viper.SetEnvPrefix("ROPU")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// loadConfig resolves the effective settings after flags and environment
// have been merged.
func loadConfig() config {
	return config{
		Ranks:     viper.GetInt("ranks"),
		Groups:    viper.GetInt("groups"),
		Rows:      viper.GetInt("rows"),
		Cols:      viper.GetInt("cols"),
		Periodic:  viper.GetBool("periodic"),
		Verbose:   viper.GetBool("verbose"),
		StallWarn: viper.GetDuration("stall-warn"),
	}
}

// run executes one configured launch and reports whether every handle was
// returned.
//
// The run:
//  1. Validates the configuration
//  2. Starts a stall watchdog when a warning threshold is set
//  3. Launches one goroutine per rank, all running rankMain
//  4. Fails if any group is still registered after the launch returns
//
// Parameters:
//   - cfg: Validated-on-entry run settings
//
// Returns:
//   - nil when the launch completes and no group leaked
func run(cfg config) error {
	if err := cfg.validate(); err != nil {
		return err
	}

	hub := comm.NewHub()

	// A watchdog is pure diagnosis: it reports collectives that sit waiting
	// past the threshold but never interrupts them.
	if cfg.StallWarn > 0 {
		interval := cfg.StallWarn / 4
		if interval < 50*time.Millisecond {
			interval = 50 * time.Millisecond
		}
		dog := comm.NewWatchdog(interval, cfg.StallWarn)
		go dog.Start(context.Background(), hub.Groups)
		defer dog.Stop()
	}

	log.Printf("launching %d ranks in %d teams of %d", cfg.Ranks, cfg.Groups, cfg.Ranks/cfg.Groups)
	if err := comm.LaunchWithHub(hub, cfg.Ranks, func(world comm.Comm) {
		rankMain(cfg, world)
	}); err != nil {
		return fmt.Errorf("launching ranks: %w", err)
	}

	// Every handle was released in rankMain, so the hub must be empty.
	// A leftover group means a reference was dropped without a release.
	if n := hub.Len(); n != 0 {
		for _, g := range hub.Groups() {
			log.Printf("leaked group %s (%s): %d of %d endpoints still held",
				g.ID, g.Label, g.Members, g.Size)
		}
		return fmt.Errorf("%d groups still live after teardown", n)
	}

	log.Printf("all %d ranks done, every handle released", cfg.Ranks)
	return nil
}

// rankMain is the program each rank runs against its own endpoint. It builds
// the full handle chain, does the team's work, and releases everything in
// reverse creation order.
//
// Handle chain:
//   - env: borrowed handle on the launcher-owned world
//   - team: owned handle from the world split, one per color
//   - grid: owned handle on the team's Cartesian communicator
//
// Failures follow the fatal policy: a broken invariant here means the run
// itself is wrong, so the process terminates rather than limping on.
func rankMain(cfg config, world comm.Comm) {
	// The launcher owns the world communicator; adopt it so releasing the
	// handle leaves it alone.
	env := parenv.Adopt(world)

	// Deal ranks round-robin into teams. Keying by world rank keeps each
	// team seated in world order.
	color := env.Rank() % cfg.Groups
	team := parenv.SplitAll(env, color, env.Rank())

	grid := parenv.NewCartGrid(team.Comm(),
		[]int{cfg.Rows, cfg.Cols},
		[]bool{cfg.Periodic, cfg.Periodic})

	if cfg.Verbose {
		logPlacement(env, grid, color)
	}

	if err := checkBlockSum(team, grid); err != nil {
		logFatal("rank %d: %v", env.Rank(), err)
	}

	parenv.ReleaseCart(&grid)
	parenv.Release(&team)
	parenv.Release(&env)
}

// logPlacement reports where this rank landed and who its neighbors are.
// Shift records the source side in the grid handle as it goes, so a later
// Source query answers with the neighbors logged here.
func logPlacement(env *parenv.Env, grid *parenv.Cart, color int) {
	for dim := 0; dim < grid.Ndims(); dim++ {
		src, dst := grid.Shift(dim, 1)
		log.Printf("world %d team %d grid %v: dim %d receives from %d, sends to %d",
			env.Rank(), color, grid.Coords(), dim, src, dst)
	}
}

// checkBlockSum verifies the block decomposition against a closed form.
// The grid's index space is cellsPerTask cells per process along each
// dimension; every rank sums the linear indices of its own block and the
// team reduces the partials. The result must equal the sum 0+1+...+(cells-1)
// or some cell was dropped or counted twice.
//
// The team handle is retained for the duration of the check, the way any
// component that keeps a communicator beyond a single call takes its own
// reference.
//
// Returns:
//   - nil when the reduced total matches the closed form
func checkBlockSum(team *parenv.Env, grid *parenv.Cart) error {
	team.Retain()
	defer parenv.Release(&team)

	dims := grid.Dims()
	shape := make([]int, len(dims))
	for d, extent := range dims {
		shape[d] = extent * cellsPerTask
	}

	blocks, err := decomp.GridBlocks(shape, dims, grid.Coords())
	if err != nil {
		return fmt.Errorf("decomposing %v over %v: %w", shape, dims, err)
	}

	// Sum the linear index of every cell this rank owns.
	partial := 0
	for i := blocks[0].Lo; i < blocks[0].Hi; i++ {
		for j := blocks[1].Lo; j < blocks[1].Hi; j++ {
			partial += i*shape[1] + j
		}
	}

	total := grid.Comm().Allreduce(partial, comm.OpSum)

	cells := shape[0] * shape[1]
	want := cells * (cells - 1) / 2
	if total != want {
		return fmt.Errorf("block checksum over %v cells is %d, want %d", shape, total, want)
	}

	if grid.Rank() == team.Root() {
		log.Printf("team of %d verified checksum %d over a %vx%v cell space",
			team.Size(), total, shape[0], shape[1])
	}
	return nil
}

// main parses flags and runs the configured launch, terminating on any
// validation or teardown failure.
//
// Exit codes:
//   - 0: Launch completed and every handle was released
//   - 1: Invalid configuration, a leaked group, or a failed checksum
func main() {
	if err := rootCmd.Execute(); err != nil {
		logFatal("gridrun: %v", err)
	}
}
