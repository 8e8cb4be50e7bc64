// Package sim provides the discrete-event engine that predicts page-load
// timelines from a dependency graph of fetches and main-thread tasks.
//
// # Reading Guide
//
// Start with these files to understand the simulation kernel:
//   - graph/: Node, NetworkRequest and the dependency Graph the engine consumes
//   - options.go: the flat parameter set (RTT, throughput, CPU slowdown, pool limits)
//   - simulator.go: the event loop, resource allocation and processor-sharing transfer
//   - timeline.go: the per-node schedule Simulate returns
//
// # Architecture
//
// Options are assembled outside the engine:
//   - sim/network/: observed network analysis, snapshot export and the merged Model
//   - sim/throttling/: builds Options from a throttling method and its parameters
//   - sim/trace/: decision trace recording
//
// The engine owns all mutable state for one run (clock, connection pools,
// CPU slot). A Simulator can be reused across graphs and never mutates the
// graph it is given.
//
// # Resource Model
//
// A network node occupies one connection to its origin while its handshake,
// server response and transfer elapse. Transfers in flight split Throughput
// evenly. CPU nodes share a single main thread. Disk-cached and non-network
// fetches take no resource and finish as soon as they are ready.
package sim
