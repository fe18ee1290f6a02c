// Package comm defines the communicator capability layer for ropu and
// provides an in-process reference provider, giving the handle packages a
// message-passing style process-group abstraction without binding them to
// any particular transport.
//
// # Overview
//
// The comm package is the foundation under ropu's environment handles. It
// defines the Comm and CartComm interfaces that all providers must satisfy,
// and it ships one complete provider that runs a whole process group inside
// a single OS process: one goroutine per rank, collectives meeting at an
// in-memory rendezvous. The handle layer (internal/parenv) treats this
// package as an opaque capability provider and never reaches around it.
//
// # Architecture
//
// The package follows a layered design:
//
//	┌─────────────────────────────────────┐
//	│          Handle Layer               │
//	│      (parenv.Env, parenv.Cart)      │
//	└─────────────────────────────────────┘
//	                 │
//	                 ▼
//	┌─────────────────────────────────────┐
//	│       Capability Interfaces         │
//	│         (Comm, CartComm)            │
//	└─────────────────────────────────────┘
//	                 │
//	                 ▼
//	┌─────────────────────────────────────┐
//	│        In-Process Provider          │
//	│  (Launch, groups, rendezvous, Hub)  │
//	└─────────────────────────────────────┘
//
// # Core Interfaces
//
// Comm: One rank's endpoint on a process group
//   - Rank(), Size(), ID() - Position and identity queries
//   - Split(color, key) - Partition the group into disjoint subgroups
//   - Dup() - Duplicate the group with identical membership
//   - CartCreate(dims, periods) - Arrange the group as a Cartesian grid
//   - Barrier(), Bcast(), Allgather(), Allreduce() - Plain collectives
//   - Free() - Retire the endpoint
//
// CartComm: A Comm whose group is arranged as a grid
//   - Dims(), Periods(), Coords() - Layout queries
//   - CartRank(coords), CartCoords(rank) - Rank and coordinate conversion
//   - Shift(dim, disp) - Neighbor location with ProcNull off the edges
//
// # Execution Model
//
// Launch(n, body) runs body once per rank, each on its own goroutine, and
// hands every rank an endpoint on the shared world group. A rank is a
// single sequential thread of control: it drives its collectives from its
// own goroutine, and concurrency is across ranks, not within one.
//
// Collectives are blocking group operations. Every member must make the
// same call; the last member to arrive computes the combined outcome and
// releases the rest. There is no cancellation and no timeout, so a member
// that never arrives stalls the whole group. The Watchdog exists to make
// such stalls visible; it never breaks them.
//
// # Group Lineage
//
// Every group carries a label recording how it came to be, rooted at
// "world":
//
//	world
//	├── world/split:0         (Split, color 0)
//	├── world/split:1         (Split, color 1)
//	├── world/cart            (CartCreate)
//	└── world/dup             (Dup)
//
// Labels are diagnostic only; identity lives in the ID.
//
// # Concurrency Model
//
// Group state is guarded by one mutex per group, with a condition variable
// fencing collective phases. Arrival windows are generation-counted so a
// member waking from one collective can never observe the next one's
// result. Per-group statistics use atomic counters. The Hub is guarded by
// its own RWMutex and never holds it while taking a group mutex, keeping
// the lock order acyclic.
//
// Consistency Guarantees:
//   - A collective's outcome is identical on every member
//   - CartCreate layout disagreement fails all members, not some
//   - Collectives on one group are totally ordered
//
// # Error Handling
//
// The package defines standard error values:
//
// ErrFreed: Endpoint already freed
//   - Returned by Split, Dup, CartCreate and Free
//   - Pure collectives (Barrier, Bcast, ...) panic instead; they carry no
//     error return and misuse of a freed endpoint is a programming error
//
// ErrDimsMismatch: Group members disagree on the requested grid
//   - Returned by CartCreate on every member, consistently
//
// # Usage Example
//
//	err := comm.Launch(8, func(world comm.Comm) {
//	    row, err := world.Split(world.Rank()/4, world.Rank())
//	    if err != nil {
//	        log.Fatalf("split: %v", err)
//	    }
//	    defer row.Free()
//
//	    sum := row.Allreduce(world.Rank(), comm.OpSum)
//	    log.Printf("rank %d: row sum %d", world.Rank(), sum)
//	})
//
// # Limitations and Future Work
//
// Current limitations:
//   - Collective payloads are ints (enough for the handle layer and demos)
//   - No inter-process transport; the provider is single-process
//   - No reorder support in CartCreate (ranks keep their parent positions)
//
// Planned improvements:
//   - Point-to-point send/receive between ranks
//   - Generic payloads for the plain collectives
//
// # Testing
//
// Running tests:
//
//	go test ./internal/comm/... -cover
//	go test -race ./internal/comm/...
//
// The race detector is the interesting one here: every collective test
// crosses goroutines by construction.
//
// # See Also
//
// Related packages:
//   - internal/parenv: Reference-counted handles built on these interfaces
//   - internal/decomp: Index-space decomposition over grid coordinates
//   - cmd/gridrun: Demo driver exercising the whole stack
package comm
