// Package cluster runs the Jacobi relaxation across multiple processes
// coordinated over NATS.
//
// Each process creates one Node. Nodes of a run share a RunID, claim ranks
// 0 through Ranks−1 via atomic KV leases, and split the grid's interior rows
// into fixed contiguous blocks, one block per rank. Rank 0 is the
// coordinator: it owns the authoritative grid and sweeps its own block
// in-process, so a run of P ranks computes on P nodes total.
//
// # Quick Start
//
// Every node of the run executes the same code:
//
//	nc, err := nats.Connect(os.Getenv("NATS_URL"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	cfg := cluster.Config{
//	    Size:      256,
//	    Precision: 1e-3,
//	    Ranks:     4,
//	    RunID:     "run-42",
//	}
//
//	node, err := cluster.New(&cfg, nc)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := node.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	result, err := node.Wait(ctx)
//
// On the node that claimed rank 0, result.Grid holds the relaxed grid; on
// worker ranks it is nil.
//
// # Iteration Protocol
//
// The run is lock-step. Each iteration:
//
//  1. Rank 0 scatters every worker's row block, with one halo row above and
//     below, on "prefix.runID.scatter.<rank>"
//  2. Every rank sweeps its block and rank 0 collects the workers'
//     convergence flags from "prefix.runID.flags"
//  3. Rank 0 ANDs all flags into one directive (continue, converged or
//     aborted) and broadcasts it on "prefix.runID.decision"
//  4. Unless aborted, every worker returns its updated rows, halo stripped,
//     on "prefix.runID.gather", and rank 0 folds them into the grid
//
// The grid therefore passes through rank 0 between iterations, which keeps
// workers stateless at the cost of moving each block twice per iteration.
// Convergence is decided exactly as in the in-process solver: the run ends
// when every block settled within precision in the same iteration, and the
// result is bit-identical to a serial run over the same configuration.
//
// # Failure Model
//
// Exchanges carry the iteration number and a payload checksum; a timeout, a
// malformed chunk or a message for the wrong iteration aborts the run. A
// block travels as one message, so New refuses up front a run whose widest
// chunk cannot fit the server's message limit. Each
// node heartbeats into a KV bucket with a TTL, rank 0 watches every worker
// and workers watch rank 0, so both sides notice a dead peer and abort.
// There is no retry or rank reassignment: every iteration needs all blocks,
// so the surviving nodes fail fast instead of waiting out their timeouts.
package cluster
