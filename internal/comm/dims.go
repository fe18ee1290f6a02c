package comm

import (
	"cmp"
	"errors"
	"fmt"

	"golang.org/x/exp/slices"
)

// BalancedDims completes a grid request in place so that the product of dims
// equals ntasks. Positive entries are fixed constraints; zero entries are
// free and receive the remaining factors of ntasks spread as evenly as
// possible, largest extents first.
//
// Returns an error when ntasks is not positive, any entry is negative, or
// the fixed entries do not divide ntasks.
func BalancedDims(ntasks int, dims []int) error {
	if ntasks <= 0 {
		return fmt.Errorf("task count must be positive, got %d", ntasks)
	}
	if len(dims) == 0 {
		return errors.New("need at least one dimension")
	}

	rem := ntasks
	free := 0
	for i, d := range dims {
		switch {
		case d < 0:
			return fmt.Errorf("dimension %d is negative", i)
		case d == 0:
			free++
		default:
			if rem%d != 0 {
				return fmt.Errorf("fixed extents of %v do not divide task count %d", dims, ntasks)
			}
			rem /= d
		}
	}

	if free == 0 {
		if rem != 1 {
			return fmt.Errorf("grid %v does not hold %d tasks", dims, ntasks)
		}
		return nil
	}

	// Hand the prime factors of the remaining task count to the free
	// entries, each factor going to the currently smallest extent, so the
	// extents end up as close to each other as the factorization allows.
	fill := make([]int, free)
	for i := range fill {
		fill[i] = 1
	}
	for _, f := range primeFactors(rem) {
		min := 0
		for i := 1; i < free; i++ {
			if fill[i] < fill[min] {
				min = i
			}
		}
		fill[min] *= f
	}
	slices.SortFunc(fill, func(a, b int) int { return cmp.Compare(b, a) })

	next := 0
	for i, d := range dims {
		if d == 0 {
			dims[i] = fill[next]
			next++
		}
	}
	return nil
}

// primeFactors returns the prime factorization of n, largest factor first
func primeFactors(n int) []int {
	var factors []int
	for f := 2; f*f <= n; f++ {
		for n%f == 0 {
			factors = append(factors, f)
			n /= f
		}
	}
	if n > 1 {
		factors = append(factors, n)
	}
	slices.Reverse(factors)
	return factors
}
