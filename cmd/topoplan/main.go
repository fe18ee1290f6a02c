// Package main implements topoplan, a planning utility that prints the
// balanced Cartesian layouts a task count would receive, so a run's grid
// shape can be checked before launching anything.
//
// Two modes:
//   - Sweep: without -dims, print the balanced layout for every dimension
//     count from 1 up to -maxdims.
//   - Complete: with -dims, treat positive entries as fixed constraints and
//     balance the zero entries, exactly as grid creation would.
//
// Example usage:
//
//	# Layouts for 12 tasks in 1, 2 and 3 dimensions
//	./topoplan -tasks 12
//
//	# Complete a partially fixed layout: first extent pinned to 6
//	./topoplan -tasks 12 -dims 6,0
package main

import (
	"flag"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/dreamware/ropu/internal/comm"
)

// logFatal is a variable to allow mocking log.Fatal in tests.
var logFatal = log.Fatalf

func main() {
	tasks := flag.Int("tasks", 0, "number of tasks to arrange (required)")
	maxDims := flag.Int("maxdims", 3, "sweep layouts from 1 up to this many dimensions")
	dims := flag.String("dims", "", "comma-separated extents to complete; zero entries are balanced")
	flag.Parse()

	if *tasks < 1 {
		logFatal("topoplan: -tasks must be at least 1, got %d", *tasks)
	}

	if *dims != "" {
		layout, err := complete(*tasks, *dims)
		if err != nil {
			logFatal("topoplan: %v", err)
		}
		fmt.Printf("%d tasks -> %s\n", *tasks, formatDims(layout))
		return
	}

	layouts, err := sweep(*tasks, *maxDims)
	if err != nil {
		logFatal("topoplan: %v", err)
	}
	for _, layout := range layouts {
		fmt.Printf("%dD: %s\n", len(layout), formatDims(layout))
	}
}

// sweep balances tasks over every dimension count from 1 to maxDims and
// returns one layout per count, in ascending dimension order.
func sweep(tasks, maxDims int) ([][]int, error) {
	if maxDims < 1 {
		return nil, fmt.Errorf("need at least one dimension, got %d", maxDims)
	}

	layouts := make([][]int, 0, maxDims)
	for ndims := 1; ndims <= maxDims; ndims++ {
		layout := make([]int, ndims)
		if err := comm.BalancedDims(tasks, layout); err != nil {
			return nil, fmt.Errorf("balancing %d tasks over %d dimensions: %w", tasks, ndims, err)
		}
		layouts = append(layouts, layout)
	}
	return layouts, nil
}

// complete parses a partially fixed layout and balances its free entries,
// failing the same way grid creation would for an impossible request.
func complete(tasks int, spec string) ([]int, error) {
	layout, err := parseDims(spec)
	if err != nil {
		return nil, err
	}
	if err := comm.BalancedDims(tasks, layout); err != nil {
		return nil, err
	}
	return layout, nil
}

// parseDims reads a comma-separated extent list such as "6,0,2".
// Zero means a free entry; negative extents are rejected here so the
// balancer's error does not point at a typo.
func parseDims(spec string) ([]int, error) {
	parts := strings.Split(spec, ",")
	layout := make([]int, 0, len(parts))
	for _, part := range parts {
		extent, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("bad extent %q in %q", part, spec)
		}
		if extent < 0 {
			return nil, fmt.Errorf("extent cannot be negative, got %d", extent)
		}
		layout = append(layout, extent)
	}
	return layout, nil
}

// formatDims renders a layout as "4 x 3"
func formatDims(layout []int) string {
	parts := make([]string, len(layout))
	for i, extent := range layout {
		parts[i] = strconv.Itoa(extent)
	}
	return strings.Join(parts, " x ")
}
