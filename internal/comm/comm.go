package comm

import (
	"errors"
	"fmt"
)

// ProcNull is the rank reported for a neighbor that does not exist, such as
// the off-grid side of a shift along a non-periodic dimension.
// It is never a valid rank.
const ProcNull = -1

// ErrFreed is returned when an operation is attempted on a freed communicator
var ErrFreed = errors.New("communicator already freed")

// ErrDimsMismatch is returned when the members of a group call CartCreate
// with layouts that disagree with each other
var ErrDimsMismatch = errors.New("cartesian layout differs across group")

// ReduceOp selects the combining function applied by Allreduce
type ReduceOp int

// Reduce operations supported by Allreduce
const (
	OpSum ReduceOp = iota
	OpMax
	OpMin
)

// apply combines two contributions under the operation
func (op ReduceOp) apply(a, b int) int {
	switch op {
	case OpSum:
		return a + b
	case OpMax:
		if b > a {
			return b
		}
		return a
	case OpMin:
		if b < a {
			return b
		}
		return a
	default:
		panic(fmt.Sprintf("comm: unknown reduce op %d", op))
	}
}

// Comm is one rank's endpoint on a communicator: a group of cooperating
// ranks and the channel used for collective exchange among them.
// Collective methods block until every rank in the group has made the same
// call; there is no cancellation and no timeout, a rank that never calls
// leaves the rest of the group waiting.
type Comm interface {
	// ID returns the group identity. Every rank of the same group sees the
	// same ID; disjoint groups have distinct IDs.
	ID() string

	// Rank returns this endpoint's position in the group, in [0, Size)
	Rank() int

	// Size returns the number of ranks in the group
	Size() int

	// Dup creates a fresh group with the same membership and ranks.
	// Collective.
	Dup() (Comm, error)

	// Split partitions the group into disjoint subgroups, one per distinct
	// color. Ranks within a subgroup are ordered by key, ties broken by the
	// parent rank. A negative color opts this rank out: it participates in
	// the call but receives a nil communicator. Collective.
	Split(color, key int) (Comm, error)

	// CartCreate arranges the group into a Cartesian grid. Zero entries in
	// dims are completed by BalancedDims; a nil periods means non-periodic
	// everywhere. Every rank must request the same layout or all of them
	// receive ErrDimsMismatch. Collective.
	CartCreate(dims []int, periods []bool) (CartComm, error)

	// Barrier blocks until every rank in the group has entered it.
	// Collective.
	Barrier()

	// Bcast returns root's value on every rank. Collective.
	Bcast(value, root int) int

	// Allgather returns every rank's value, indexed by rank. Collective.
	Allgather(value int) []int

	// Allreduce combines every rank's value under op and returns the result
	// on all ranks. Collective.
	Allreduce(value int, op ReduceOp) int

	// Free retires this endpoint. Freeing twice returns ErrFreed. Local.
	Free() error
}

// CartComm is a communicator whose group is arranged as a Cartesian grid.
// Ranks map to coordinates in row-major order: the last dimension varies
// fastest. Topology queries are local, they never communicate.
type CartComm interface {
	Comm

	// Ndims returns the number of grid dimensions
	Ndims() int

	// Dims returns the extent of each dimension
	Dims() []int

	// Periods returns the wraparound flag of each dimension
	Periods() []bool

	// Coords returns this rank's grid coordinates
	Coords() []int

	// CartRank converts grid coordinates to a flat rank. Out-of-range
	// coordinates wrap on periodic dimensions and are an error otherwise.
	CartRank(coords []int) (int, error)

	// CartCoords converts a flat rank to grid coordinates.
	// Returns an error when rank is not in [0, Size).
	CartCoords(rank int) ([]int, error)

	// Shift locates the neighbors disp steps away along dim: the rank data
	// would arrive from and the rank it would go to if every member moved
	// its value disp steps in the positive direction. Neighbors past the
	// edge of a non-periodic dimension come back as ProcNull.
	Shift(dim, disp int) (src, dst int)
}
