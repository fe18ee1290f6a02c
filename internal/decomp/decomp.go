package decomp

import "fmt"

// Block is a contiguous run [Lo, Hi) of a global index space owned by one
// part of a decomposition.
type Block struct {
	Lo int // first index owned
	Hi int // one past the last index owned
}

// Len returns the number of indices in the block
func (b Block) Len() int {
	return b.Hi - b.Lo
}

// Contains reports whether the block owns index i
func (b Block) Contains(i int) bool {
	return i >= b.Lo && i < b.Hi
}

// Split1D assigns part its block of n indices divided contiguously over
// parts owners. Blocks are balanced: lengths differ by at most one, with the
// first n%parts blocks holding the extra index. Parts beyond n own empty
// blocks.
func Split1D(n, parts, part int) (Block, error) {
	if n < 0 {
		return Block{}, fmt.Errorf("index space size must not be negative, got %d", n)
	}
	if parts <= 0 {
		return Block{}, fmt.Errorf("part count must be positive, got %d", parts)
	}
	if part < 0 || part >= parts {
		return Block{}, fmt.Errorf("part %d out of range [0,%d)", part, parts)
	}

	base := n / parts
	extra := n % parts
	if part < extra {
		lo := part * (base + 1)
		return Block{Lo: lo, Hi: lo + base + 1}, nil
	}
	lo := extra*(base+1) + (part-extra)*base
	return Block{Lo: lo, Hi: lo + base}, nil
}

// Owner returns the part whose Split1D block contains index i
func Owner(n, parts, i int) (int, error) {
	if parts <= 0 {
		return 0, fmt.Errorf("part count must be positive, got %d", parts)
	}
	if i < 0 || i >= n {
		return 0, fmt.Errorf("index %d out of range [0,%d)", i, n)
	}

	base := n / parts
	extra := n % parts
	wide := extra * (base + 1) // indices covered by the one-longer blocks
	if i < wide {
		return i / (base + 1), nil
	}
	return extra + (i-wide)/base, nil
}

// Counts returns every part's block length under Split1D, indexed by part
func Counts(n, parts int) ([]int, error) {
	if parts <= 0 {
		return nil, fmt.Errorf("part count must be positive, got %d", parts)
	}

	counts := make([]int, parts)
	for part := range counts {
		b, err := Split1D(n, parts, part)
		if err != nil {
			return nil, err
		}
		counts[part] = b.Len()
	}
	return counts, nil
}

// Offsets returns every part's starting index under Split1D, indexed by
// part. Offsets[p] is where part p's data begins in a buffer laid out
// contiguously by part, which is the block's Lo since blocks tile the space
// in order.
func Offsets(n, parts int) ([]int, error) {
	if parts <= 0 {
		return nil, fmt.Errorf("part count must be positive, got %d", parts)
	}

	offsets := make([]int, parts)
	for part := range offsets {
		b, err := Split1D(n, parts, part)
		if err != nil {
			return nil, err
		}
		offsets[part] = b.Lo
	}
	return offsets, nil
}

// GridBlocks returns the blocks one grid position owns of a
// multi-dimensional index space: shape[d] indices divided over dims[d] parts
// along each dimension d, with coords[d] selecting the owner. The owned
// region is the product of the returned per-dimension blocks.
func GridBlocks(shape, dims, coords []int) ([]Block, error) {
	if len(dims) != len(shape) {
		return nil, fmt.Errorf("got %d grid dimensions for a %d-dimensional space", len(dims), len(shape))
	}
	if len(coords) != len(dims) {
		return nil, fmt.Errorf("got %d coordinates for a %d-dimensional grid", len(coords), len(dims))
	}

	blocks := make([]Block, len(shape))
	for d := range shape {
		b, err := Split1D(shape[d], dims[d], coords[d])
		if err != nil {
			return nil, fmt.Errorf("dimension %d: %w", d, err)
		}
		blocks[d] = b
	}
	return blocks, nil
}
