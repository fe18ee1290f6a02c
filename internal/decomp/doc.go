// Package decomp maps global index spaces onto process grids using
// contiguous balanced blocks.
//
// # Overview
//
// A rank working on a grid needs to know which slice of the global problem
// is its own. Split1D answers that for one dimension: n indices divided over
// p owners into contiguous blocks whose lengths differ by at most one.
// GridBlocks applies the same split along every dimension of a
// multi-dimensional space, so a rank's region is the product of one block
// per dimension. Owner inverts the mapping, and Counts/Offsets tabulate the
// whole layout for buffer arithmetic.
//
// The package is pure integer math: it never communicates and has no
// opinion about where its inputs come from. Callers typically feed it the
// extents and coordinates of a Cartesian communicator.
//
// # Usage Example
//
//	blocks, err := decomp.GridBlocks([]int{ny, nx}, cart.Dims(), cart.Coords())
//	if err != nil {
//	    return err
//	}
//	for i := blocks[0].Lo; i < blocks[0].Hi; i++ {
//	    for j := blocks[1].Lo; j < blocks[1].Hi; j++ {
//	        work(i, j)
//	    }
//	}
//
// # See Also
//
// Related packages:
//   - internal/comm: Cartesian communicators whose layout this package maps
//   - internal/parenv: Grid handles carrying extents and coordinates
//   - cmd/gridrun: Demo driver decomposing a cell space over a grid
package decomp
