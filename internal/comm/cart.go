// Package comm provides the communicator capability layer.
// This file implements Cartesian topologies over the in-process provider.
package comm

import (
	"errors"
	"fmt"

	"golang.org/x/exp/slices"
)

// topology is the immutable Cartesian layout shared by every endpoint of a
// cart group. Ranks map to coordinates in row-major order: the last
// dimension varies fastest.
type topology struct {
	dims    []int
	periods []bool
}

// coordsOf converts a flat rank to grid coordinates
func (t *topology) coordsOf(rank int) []int {
	coords := make([]int, len(t.dims))
	for i := len(t.dims) - 1; i >= 0; i-- {
		coords[i] = rank % t.dims[i]
		rank /= t.dims[i]
	}
	return coords
}

// rankOf converts grid coordinates to a flat rank. Out-of-range coordinates
// wrap on periodic dimensions and are an error otherwise.
func (t *topology) rankOf(coords []int) (int, error) {
	if len(coords) != len(t.dims) {
		return 0, fmt.Errorf("got %d coordinates for a %d-dimensional grid", len(coords), len(t.dims))
	}

	rank := 0
	for i, c := range coords {
		d := t.dims[i]
		if c < 0 || c >= d {
			if !t.periods[i] {
				return 0, fmt.Errorf("coordinate %d out of range [0,%d) on non-periodic dimension %d", c, d, i)
			}
			c = ((c % d) + d) % d
		}
		rank = rank*d + c
	}
	return rank, nil
}

// shift locates the ranks disp steps away from rank along dim, in both
// directions. Off-grid neighbors on non-periodic dimensions are ProcNull.
func (t *topology) shift(rank, dim, disp int) (src, dst int) {
	if dim < 0 || dim >= len(t.dims) {
		panic(fmt.Sprintf("comm: shift dimension %d out of range [0,%d)", dim, len(t.dims)))
	}

	coords := t.coordsOf(rank)
	return t.neighbor(coords, dim, -disp), t.neighbor(coords, dim, disp)
}

func (t *topology) neighbor(coords []int, dim, disp int) int {
	c := make([]int, len(coords))
	copy(c, coords)
	c[dim] += disp

	rank, err := t.rankOf(c)
	if err != nil {
		return ProcNull
	}
	return rank
}

// cartSpec is one rank's requested layout, validated and completed locally
// before the group agrees on it.
type cartSpec struct {
	dims    []int
	periods []bool
}

// newCartSpec validates a requested layout for a group of the given size.
// Zero dims entries are completed by BalancedDims; nil periods defaults to
// non-periodic everywhere.
func newCartSpec(size int, dims []int, periods []bool) (cartSpec, error) {
	if len(dims) == 0 {
		return cartSpec{}, errors.New("grid needs at least one dimension")
	}
	if periods != nil && len(periods) != len(dims) {
		return cartSpec{}, fmt.Errorf("got %d periods for %d dimensions", len(periods), len(dims))
	}

	filled := make([]int, len(dims))
	copy(filled, dims)
	if err := BalancedDims(size, filled); err != nil {
		return cartSpec{}, err
	}

	p := make([]bool, len(dims))
	copy(p, periods)
	return cartSpec{dims: filled, periods: p}, nil
}

// buildCartGroup checks that all members asked for the same layout and
// creates the cart group. Returning the sentinel instead of a group hands
// every member the same error, keeping the outcome consistent across the
// group.
func buildCartGroup(parent *group, slots []any) any {
	first := slots[0].(cartSpec)
	for _, s := range slots[1:] {
		spec := s.(cartSpec)
		if !slices.Equal(first.dims, spec.dims) || !slices.Equal(first.periods, spec.periods) {
			return ErrDimsMismatch
		}
	}

	topo := &topology{dims: first.dims, periods: first.periods}
	return newGroup(parent.hub, parent.size, parent.label+"/cart", topo)
}

// cartComm decorates an endpoint with topology queries. Ranks carry over
// from the parent group unchanged.
type cartComm struct {
	localComm
}

var _ CartComm = (*cartComm)(nil)

func (c *cartComm) Ndims() int {
	return len(c.group.topo.dims)
}

func (c *cartComm) Dims() []int {
	dims := make([]int, len(c.group.topo.dims))
	copy(dims, c.group.topo.dims)
	return dims
}

func (c *cartComm) Periods() []bool {
	periods := make([]bool, len(c.group.topo.periods))
	copy(periods, c.group.topo.periods)
	return periods
}

func (c *cartComm) Coords() []int {
	return c.group.topo.coordsOf(c.rank)
}

func (c *cartComm) CartRank(coords []int) (int, error) {
	return c.group.topo.rankOf(coords)
}

func (c *cartComm) CartCoords(rank int) ([]int, error) {
	if rank < 0 || rank >= c.group.size {
		return nil, fmt.Errorf("rank %d out of range [0,%d)", rank, c.group.size)
	}
	return c.group.topo.coordsOf(rank), nil
}

func (c *cartComm) Shift(dim, disp int) (src, dst int) {
	return c.group.topo.shift(c.rank, dim, disp)
}

// Dup keeps the duplicate Cartesian: the topology rides along
func (c *cartComm) Dup() (Comm, error) {
	dup, err := c.dupLocal()
	if err != nil {
		return nil, err
	}
	return &cartComm{localComm: localComm{group: dup.group, rank: dup.rank}}, nil
}
