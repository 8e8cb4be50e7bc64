// sim/simulator.go
package sim

import (
	"cmp"
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/addrummond/heap"
	"github.com/sirupsen/logrus"

	"github.com/inference-sim/pageload-sim/sim/graph"
	"github.com/inference-sim/pageload-sim/sim/trace"
)

// NodeState is the lifecycle state of a node within one simulation.
type NodeState int

const (
	StatePending  NodeState = iota // dependencies unmet
	StateReady                     // waiting for a connection or the CPU
	StateInFlight                  // resource allocated, consuming simulated time
	StateDone
)

// completionEpsilon absorbs floating-point residue when picking the nodes
// that finish at the next clock advance.
const completionEpsilon = 1e-9

// ErrStalled means work remained but nothing could run. A validated DAG with
// valid options never produces it.
var ErrStalled = errors.New("sim: simulation stalled")

// ErrInvalidTiming means a node's remaining time estimate was NaN or infinite,
// so the clock could not advance.
var ErrInvalidTiming = errors.New("sim: non-finite timing estimate")

// readyEntry orders the ready queue: render-blocking first, then earliest
// ready time, then graph insertion order.
type readyEntry struct {
	renderBlocking bool
	readyTime      float64
	index          int
}

func (a *readyEntry) Cmp(b *readyEntry) int {
	if a.renderBlocking != b.renderBlocking {
		if a.renderBlocking {
			return -1
		}
		return 1
	}
	if c := cmp.Compare(a.readyTime, b.readyTime); c != 0 {
		return c
	}
	return cmp.Compare(a.index, b.index)
}

// progress is the remaining work of an in-flight node.
type progress struct {
	conn             *connection // nil for CPU and connectionless nodes
	latencyRemaining float64
	bytesRemaining   float64
	cpuRemaining     float64
}

// Simulator predicts page-load timelines under one set of Options.
// It holds no per-run state, so one Simulator can run many graphs.
type Simulator struct {
	options Options
}

// NewSimulator validates opts and keeps a private copy.
func NewSimulator(opts Options) (*Simulator, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid simulation options: %w", err)
	}
	return &Simulator{options: opts.Clone()}, nil
}

// Simulate is shorthand for NewSimulator(opts) followed by Simulate(g).
func Simulate(g *graph.Graph, opts Options) (*Timeline, error) {
	s, err := NewSimulator(opts)
	if err != nil {
		return nil, err
	}
	return s.Simulate(g)
}

// Options returns a copy of the options the simulator runs with.
func (s *Simulator) Options() Options {
	return s.options.Clone()
}

// Simulate computes the timeline of g. Structural errors in g are returned
// before any simulated time elapses.
func (s *Simulator) Simulate(g *graph.Graph) (*Timeline, error) {
	tl, _, err := s.SimulateWithTrace(g, trace.TraceConfig{Level: trace.TraceLevelNone})
	return tl, err
}

// SimulateWithTrace is Simulate plus a decision trace. The trace is nil
// unless cfg enables it.
func (s *Simulator) SimulateWithTrace(g *graph.Graph, cfg trace.TraceConfig) (*Timeline, *trace.SimulationTrace, error) {
	if err := g.Validate(); err != nil {
		return nil, nil, err
	}
	r := newRun(&s.options, g, cfg)
	if err := r.execute(); err != nil {
		return nil, nil, err
	}
	logrus.Debugf("[t=%10.2fms] Simulation ended, %d nodes, %d connections", r.clock, len(r.nodes), r.connections)
	return newTimeline(r.timings), r.trace, nil
}

// run is the state of one simulation. Connection pools and the CPU slot live
// here, so runs never share mutable state.
type run struct {
	opts  *Options
	nodes []*graph.Node
	clock float64

	state       []NodeState
	pendingDeps []int
	dependents  [][]int
	work        []progress
	deferred    []bool
	timings     []NodeTiming

	ready  heap.Heap[readyEntry, heap.Min]
	active []int // in-flight node indices, ascending
	done   int

	pools           map[string]*connectionPool
	resolved        map[string]bool // origins whose DNS lookup has been charged
	connections     int
	networkInFlight int // connection-bound network nodes in flight
	cpuBusy         bool

	trace *trace.SimulationTrace
}

func newRun(opts *Options, g *graph.Graph, cfg trace.TraceConfig) *run {
	nodes := g.Nodes()
	r := &run{
		opts:        opts,
		nodes:       nodes,
		state:       make([]NodeState, len(nodes)),
		pendingDeps: make([]int, len(nodes)),
		dependents:  make([][]int, len(nodes)),
		work:        make([]progress, len(nodes)),
		deferred:    make([]bool, len(nodes)),
		timings:     make([]NodeTiming, len(nodes)),
		pools:       make(map[string]*connectionPool),
		resolved:    make(map[string]bool),
	}
	if cfg.Enabled() {
		r.trace = trace.NewSimulationTrace(cfg)
	}
	for i, n := range nodes {
		r.timings[i] = NodeTiming{ID: n.ID, Kind: n.Kind}
		deps := g.EffectiveDependencies(n.ID)
		r.pendingDeps[i] = len(deps)
		for _, dep := range deps {
			j := g.Index(dep)
			r.dependents[j] = append(r.dependents[j], i)
		}
	}
	for i := range nodes {
		if r.pendingDeps[i] == 0 {
			r.markReady(i)
		}
	}
	return r
}

func (r *run) execute() error {
	for r.done < len(r.nodes) {
		r.allocate()
		if len(r.active) == 0 {
			return fmt.Errorf("%w: %d of %d nodes done at %.2fms", ErrStalled, r.done, len(r.nodes), r.clock)
		}

		share := r.networkInFlight
		dt := -1.0
		estimates := make([]float64, len(r.active))
		for k, i := range r.active {
			estimates[k] = r.estimate(i, share)
			if math.IsNaN(estimates[k]) || math.IsInf(estimates[k], 0) {
				return fmt.Errorf("%w: node %q at %.2fms", ErrInvalidTiming, r.nodes[i].ID, r.clock)
			}
			if dt < 0 || estimates[k] < dt {
				dt = estimates[k]
			}
		}

		r.advance(dt, share)
		for k, i := range r.active {
			if estimates[k] <= dt+completionEpsilon {
				r.complete(i)
			}
		}
		r.active = slices.DeleteFunc(r.active, func(i int) bool { return r.state[i] == StateDone })
	}
	return nil
}

// allocate hands free resources to ready nodes in queue order. Nodes that
// cannot start keep their place for the next round.
func (r *run) allocate() {
	var blocked []readyEntry
	for {
		e, ok := heap.PopOrderable(&r.ready)
		if !ok {
			break
		}
		if reason := r.tryStart(e.index); reason != "" {
			blocked = append(blocked, e)
			r.recordDeferral(e.index, reason)
		}
	}
	for _, e := range blocked {
		heap.PushOrderable(&r.ready, e)
	}
}

// tryStart allocates a resource to node i and returns "" on success, or the
// reason it has to wait.
func (r *run) tryStart(i int) string {
	n := r.nodes[i]
	if n.Kind == graph.KindCPU {
		if r.cpuBusy {
			return "cpu busy"
		}
		r.cpuBusy = true
		r.work[i] = progress{cpuRemaining: r.cpuDuration(n.Task)}
		r.start(i, trace.AllocationRecord{Resource: trace.ResourceCPU})
		return ""
	}

	origin := n.Origin()
	if n.IsConnectionless() {
		r.work[i] = progress{}
		r.start(i, trace.AllocationRecord{Resource: trace.ResourceNone, Origin: origin})
		return ""
	}
	if r.networkInFlight >= r.opts.MaxConcurrentRequests {
		return "network slots exhausted"
	}
	conn := r.pool(origin).acquire(r.nextConnectionID)
	if conn == nil {
		return "origin connections exhausted"
	}

	reused := conn.warm
	handshake := r.handshake(n.Request, conn)
	r.networkInFlight++
	r.work[i] = progress{
		conn:             conn,
		latencyRemaining: handshake + r.opts.serverResponseTime(origin),
		bytesRemaining:   float64(max(n.Request.TransferSize, 0)),
	}
	r.timings[i].ConnectionID = conn.id
	r.timings[i].Handshake = handshake
	r.start(i, trace.AllocationRecord{
		Resource:     trace.ResourceConnection,
		Origin:       origin,
		ConnectionID: conn.id,
		Reused:       reused,
		Handshake:    handshake,
	})
	return ""
}

func (r *run) start(i int, record trace.AllocationRecord) {
	r.state[i] = StateInFlight
	r.timings[i].StartTime = r.clock
	pos, _ := slices.BinarySearch(r.active, i)
	r.active = slices.Insert(r.active, pos, i)

	logrus.Debugf("[t=%10.2fms] Start %s on %s", r.clock, r.nodes[i].ID, record.Resource)
	if r.trace != nil {
		record.NodeID = r.nodes[i].ID
		record.Clock = r.clock
		record.RenderBlocking = r.nodes[i].IsRenderBlocking()
		r.trace.RecordAllocation(record)
	}
}

func (r *run) complete(i int) {
	r.state[i] = StateDone
	r.done++
	r.timings[i].EndTime = r.clock

	w := &r.work[i]
	switch {
	case r.nodes[i].Kind == graph.KindCPU:
		r.cpuBusy = false
	case w.conn != nil:
		r.pools[w.conn.origin].release(w.conn)
		r.networkInFlight--
	}

	logrus.Debugf("[t=%10.2fms] Done %s", r.clock, r.nodes[i].ID)
	if r.trace != nil {
		r.trace.RecordCompletion(trace.CompletionRecord{NodeID: r.nodes[i].ID, Clock: r.clock})
	}

	for _, d := range r.dependents[i] {
		r.pendingDeps[d]--
		if r.pendingDeps[d] == 0 {
			r.markReady(d)
		}
	}
}

func (r *run) markReady(i int) {
	r.state[i] = StateReady
	r.timings[i].ReadyTime = r.clock
	heap.PushOrderable(&r.ready, readyEntry{
		renderBlocking: r.nodes[i].IsRenderBlocking(),
		readyTime:      r.clock,
		index:          i,
	})
}

func (r *run) recordDeferral(i int, reason string) {
	if r.deferred[i] {
		return
	}
	r.deferred[i] = true
	logrus.Debugf("[t=%10.2fms] Defer %s: %s", r.clock, r.nodes[i].ID, reason)
	if r.trace != nil {
		r.trace.RecordDeferral(trace.DeferralRecord{NodeID: r.nodes[i].ID, Clock: r.clock, Reason: reason})
	}
}

// estimate is the time node i needs to finish if the set of in-flight
// network nodes stays the same.
func (r *run) estimate(i int, share int) float64 {
	w := &r.work[i]
	if r.nodes[i].Kind == graph.KindCPU {
		return max(w.cpuRemaining, 0)
	}
	if w.conn == nil {
		return 0
	}
	return w.latencyRemaining + r.transferTime(w.bytesRemaining, share)
}

// advance moves the clock by dt. Each connection-bound node spends dt on
// its remaining latency first, then on transfer at its share of the link.
func (r *run) advance(dt float64, share int) {
	r.clock += dt
	for _, i := range r.active {
		w := &r.work[i]
		if r.nodes[i].Kind == graph.KindCPU {
			w.cpuRemaining -= dt
			continue
		}
		if w.conn == nil {
			continue
		}
		elapsed := dt
		if w.latencyRemaining >= elapsed {
			w.latencyRemaining -= elapsed
			continue
		}
		elapsed -= w.latencyRemaining
		w.latencyRemaining = 0
		if rate := r.bytesPerMs(share); rate > 0 {
			w.bytesRemaining = max(w.bytesRemaining-elapsed*rate, 0)
		} else {
			w.bytesRemaining = 0
		}
	}
}

// bytesPerMs is one node's share of the throttled link, or 0 when the link
// is unthrottled.
func (r *run) bytesPerMs(share int) float64 {
	if r.opts.Throughput <= 0 || share <= 0 {
		return 0
	}
	return r.opts.Throughput / float64(share) / 8 / 1000
}

func (r *run) transferTime(bytes float64, share int) float64 {
	rate := r.bytesPerMs(share)
	if bytes <= 0 || rate == 0 {
		return 0
	}
	return bytes / rate
}

// handshake charges DNS once per origin and TCP (+TLS for secure schemes)
// once per connection.
func (r *run) handshake(req *graph.NetworkRequest, conn *connection) float64 {
	if conn.warm {
		return 0
	}
	conn.warm = true
	rtt := r.opts.connectionRTT(conn.origin)
	latency := rtt
	if req.IsSecure() {
		latency += rtt
	}
	if !r.resolved[conn.origin] {
		r.resolved[conn.origin] = true
		latency += r.opts.RTT * r.opts.DNSResolutionRTTMultiplier
	}
	return latency
}

func (r *run) cpuDuration(task *graph.CPUTask) float64 {
	d := max(min(task.Duration, r.opts.MaxCPUTaskDuration), 0)
	multiplier := r.opts.CPUSlowdownMultiplier
	if task.Category == graph.TaskLayout {
		multiplier *= r.opts.LayoutTaskMultiplier
	}
	return d * multiplier
}

func (r *run) pool(origin string) *connectionPool {
	p, ok := r.pools[origin]
	if !ok {
		p = newConnectionPool(origin, r.opts.MaxConnectionsPerOrigin)
		r.pools[origin] = p
	}
	return p
}

func (r *run) nextConnectionID() int {
	r.connections++
	return r.connections
}
