// Package parenv provides reference-counted handles over communicators,
// giving the rest of the system a shared, cached view of the process group
// it computes in and of the Cartesian grid that group may be arranged as.
//
// # Overview
//
// A communicator is a scarce resource: several modules within one process
// want to hold the same group, but the underlying resource must be freed
// exactly once, and only when the last holder lets go. The package models
// that with two handle types sharing one lifecycle skeleton:
//
//   - Env wraps a plain communicator and caches rank, size and the
//     designated root rank (always 0).
//   - Cart wraps a Cartesian communicator and caches the grid geometry as
//     plain per-dimension data: position, shift source, extent and
//     periodicity, all fixed at construction.
//
// Both carry a reference count and an ownership flag. The count tracks
// holders within this process; the flag records whether the final release
// frees the wrapped communicator (owned) or leaves it to whoever created it
// (borrowed).
//
// # Handle Lifecycle
//
// Every handle moves through the same states:
//
//	New / NewCart ──────────┐
//	Adopt / NewCartOn ──────┤
//	SplitAll ───────────────┤
//	                        ▼
//	                 live (refs >= 1)
//	                   │         ▲
//	           Release │         │ Retain
//	                   ▼         │
//	                 refs == 0 ──┘   (fatal to touch)
//	                   │
//	                   ▼
//	          owned communicator freed,
//	          arrays dropped, handle poisoned
//
// Release takes the address of the caller's pointer and always clears it,
// so a released handle cannot be reached through that pointer again whether
// or not the release was the last one. A second pointer to a dead handle is
// a programming error the guards catch.
//
// # Ownership
//
// Constructors come in owned/borrowed pairs. New and NewCart/NewCartGrid
// return owned handles: they created (or were given charge of) the
// communicator and free it at the last release. Adopt and NewCartOn return
// borrowed handles for communicators whose lifetime is managed elsewhere,
// such as the world communicator owned by the launcher; releasing them
// never frees the communicator. The constructor chosen is the ownership
// tag; there is no way to flip it afterward.
//
// # Collective Operations
//
// SplitAll, NewCart and NewCartGrid are blocking collectives: every rank of
// the group must make the call, and no rank returns before the whole group
// has arrived. A rank that never calls stalls all of them; there is no
// cancellation and no timeout. Retain and Release are purely local, never
// communicate, and count holders only within the calling process. Peer
// processes holding endpoints on the same group each keep their own count.
//
// # Failure Policy
//
// All lifecycle misuse is fatal: retain or release of a dead handle, use of
// a handle after its last release, splitting from a dead handle, and
// topology errors reported by the provider during construction all panic
// with a parenv-prefixed diagnostic. None of these are recoverable in
// place. A handle whose count has been corrupted on one rank cannot be
// repaired locally without risking divergence from the rest of the group,
// so the process stops at the point of the mistake instead.
//
// # Usage Example
//
//	err := comm.Launch(8, func(world comm.Comm) {
//	    env := parenv.Adopt(world)
//
//	    // Halve the world; both halves build their own grid.
//	    team := parenv.SplitAll(env, env.Rank()%2, env.Rank())
//	    grid := parenv.NewCart(team.Comm(), 2)
//
//	    sum := grid.Comm().Allreduce(grid.Rank(), comm.OpSum)
//	    if grid.Rank() == 0 {
//	        log.Printf("team of %d on a %v grid, rank sum %d", team.Size(), grid.Dims(), sum)
//	    }
//
//	    parenv.ReleaseCart(&grid)
//	    parenv.Release(&team)
//	    parenv.Release(&env)
//	})
//
// # Testing
//
// Running tests:
//
//	go test ./internal/parenv/... -cover
//	go test -race ./internal/parenv/...
//
// Lifecycle tests run against a stub communicator that counts Free calls;
// collective tests run real multi-rank launches on the in-process provider.
//
// # See Also
//
// Related packages:
//   - internal/comm: The capability layer these handles wrap
//   - internal/decomp: Index-space decomposition over grid coordinates
//   - cmd/gridrun: Demo driver exercising the full lifecycle
package parenv
