// Package orchestrator converges running agent processes toward the desired
// configuration list. A single control loop owns all state: reconcile ticks,
// process-exit notifications, and status queries are serialized through it,
// so running-agent bookkeeping never needs a lock.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/oakmund/convoy/internal/agent"
	"github.com/oakmund/convoy/internal/logging"
	"github.com/oakmund/convoy/internal/signal"
	"github.com/oakmund/convoy/internal/telemetry"
)

const (
	// TopicLifecycle carries start/stop events for agents.
	TopicLifecycle = "agent.lifecycle"
	// TopicCrash carries unexpected-exit events.
	TopicCrash = "agent.crash"

	// TypeAll disables type filtering.
	TypeAll = "all"
)

// ErrStopped is returned by accessors once the control loop has exited.
var ErrStopped = errors.New("orchestrator: stopped")

// DefaultReconcileInterval paces the steady-state loop when no interval is
// configured.
const DefaultReconcileInterval = 5 * time.Second

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithRunner replaces the process runner (exec-backed by default).
func WithRunner(runner ProcessRunner) Option {
	return func(o *Orchestrator) {
		if runner != nil {
			o.runner = runner
		}
	}
}

// WithRegistry attaches a shared agent registry.
func WithRegistry(registry *agent.Registry) Option {
	return func(o *Orchestrator) {
		if registry != nil {
			o.registry = registry
		}
	}
}

// WithRouter attaches a signal router for lifecycle and crash events. Without
// one the orchestrator stays silent.
func WithRouter(router *signal.Router) Option {
	return func(o *Orchestrator) {
		o.router = router
	}
}

// WithLogger injects a logger.
func WithLogger(logger logging.Printer) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithMetrics wires reconcile and restart collectors.
func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = metrics
	}
}

// WithReconcileInterval overrides the steady-state tick.
func WithReconcileInterval(interval time.Duration) Option {
	return func(o *Orchestrator) {
		if interval > 0 {
			o.interval = interval
		}
	}
}

// WithTypeFilter restricts reconciliation to the named agent types. The
// special entry "all" (or an empty filter) admits every type.
func WithTypeFilter(types ...string) Option {
	return func(o *Orchestrator) {
		o.types = append([]string(nil), types...)
	}
}

// WithBusName namespaces registry keys so several orchestrator instances can
// share one registry.
func WithBusName(bus string) Option {
	return func(o *Orchestrator) {
		if bus != "" {
			o.bus = bus
		}
	}
}

// WithClock injects a deterministic clock for tests.
func WithClock(clock func() time.Time) Option {
	return func(o *Orchestrator) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// Orchestrator is the reconciler. Construct with New, then call Run exactly
// once; every other method is safe to call concurrently while Run is active.
type Orchestrator struct {
	source   agent.Source
	runner   ProcessRunner
	registry *agent.Registry
	router   *signal.Router
	logger   logging.Printer
	metrics  *telemetry.Metrics
	clock    func() time.Time
	interval time.Duration
	types    []string
	bus      string

	exits    chan exitEvent
	commands chan func(*loopState)
	done     chan struct{}
}

type exitEvent struct {
	monitor string
	err     error
}

// runningAgent is loop-owned bookkeeping for one spawned process.
type runningAgent struct {
	cfg            agent.Config
	proc           Process
	monitor        string
	spawnedAt      time.Time
	spawnCount     int
	lastError      string
	unrecoverable  bool
	restartPending bool
}

// loopState is owned exclusively by the Run goroutine.
type loopState struct {
	running        map[string]*runningAgent
	monitors       map[string]string
	pendingStops   map[string]struct{}
	lastReconcile  time.Time
	reconcileCount int
}

// AgentStatus is the externally visible state of one agent.
type AgentStatus struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Type          string    `json:"type,omitempty"`
	PID           int       `json:"pid,omitempty"`
	SpawnedAt     time.Time `json:"spawned_at"`
	SpawnCount    int       `json:"spawn_count"`
	LastError     string    `json:"last_error,omitempty"`
	Unrecoverable bool      `json:"unrecoverable,omitempty"`
}

// Status is a point-in-time snapshot of the reconciler.
type Status struct {
	Bus            string        `json:"bus"`
	Agents         []AgentStatus `json:"agents"`
	LastReconcile  time.Time     `json:"last_reconcile"`
	ReconcileCount int           `json:"reconcile_count"`
}

// New builds an orchestrator over a config source.
func New(source agent.Source, opts ...Option) (*Orchestrator, error) {
	if source == nil {
		return nil, fmt.Errorf("orchestrator: config source is required")
	}
	o := &Orchestrator{
		source:   source,
		runner:   &ExecRunner{},
		registry: agent.NewRegistry(),
		clock:    time.Now,
		interval: DefaultReconcileInterval,
		bus:      "convoy",
		exits:    make(chan exitEvent),
		commands: make(chan func(*loopState)),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	o.registerTopics()
	return o, nil
}

// Registry returns the agent registry the orchestrator registers handles in.
func (o *Orchestrator) Registry() *agent.Registry {
	return o.registry
}

// registerTopics installs the lifecycle and crash topic schemas. Without a
// router this is a no-op.
func (o *Orchestrator) registerTopics() {
	if o.router == nil {
		return
	}
	lifecycle := signal.Schema{
		{Name: "agent_id", Type: signal.FieldString, Required: true},
		{Name: "event", Type: signal.FieldString, Required: true},
		{Name: "spawn_count", Type: signal.FieldInt},
		{Name: "pid", Type: signal.FieldInt},
	}
	crash := signal.Schema{
		{Name: "agent_id", Type: signal.FieldString, Required: true},
		{Name: "error", Type: signal.FieldString},
		{Name: "spawn_count", Type: signal.FieldInt},
		{Name: "unrecoverable", Type: signal.FieldBool},
	}
	if err := o.router.Registry().RegisterTopic(TopicLifecycle, "orchestrator.event", lifecycle); err != nil {
		o.logf("orchestrator: register %s: %v", TopicLifecycle, err)
	}
	if err := o.router.Registry().RegisterTopic(TopicCrash, "orchestrator.event", crash); err != nil {
		o.logf("orchestrator: register %s: %v", TopicCrash, err)
	}
}

// Run drives the control loop until ctx is cancelled, then stops every
// running agent and returns the cancellation cause.
func (o *Orchestrator) Run(ctx context.Context) error {
	state := &loopState{
		running:      map[string]*runningAgent{},
		monitors:     map[string]string{},
		pendingStops: map[string]struct{}{},
	}
	defer close(o.done)

	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	o.reconcile(ctx, state)
	for {
		select {
		case <-ctx.Done():
			o.shutdown(state)
			return ctx.Err()
		case <-ticker.C:
			o.reconcile(ctx, state)
		case ev := <-o.exits:
			o.handleExit(ctx, state, ev)
		case cmd := <-o.commands:
			cmd(state)
		}
	}
}

// Reconcile forces an immediate reconcile pass through the control loop and
// returns once it completed.
func (o *Orchestrator) Reconcile(ctx context.Context) error {
	reply := make(chan struct{})
	cmd := func(state *loopState) {
		o.reconcile(ctx, state)
		close(reply)
	}
	select {
	case o.commands <- cmd:
	case <-o.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-reply:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status answers with a snapshot taken inside the control loop.
func (o *Orchestrator) Status(ctx context.Context) (Status, error) {
	reply := make(chan Status, 1)
	cmd := func(state *loopState) {
		reply <- o.snapshot(state)
	}
	select {
	case o.commands <- cmd:
	case <-o.done:
		return Status{}, ErrStopped
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
	select {
	case st := <-reply:
		return st, nil
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
}

func (o *Orchestrator) snapshot(state *loopState) Status {
	agents := make([]AgentStatus, 0, len(state.running))
	for id, entry := range state.running {
		status := AgentStatus{
			ID:            id,
			Name:          entry.cfg.DisplayName(),
			Type:          entry.cfg.Type,
			SpawnedAt:     entry.spawnedAt,
			SpawnCount:    entry.spawnCount,
			LastError:     entry.lastError,
			Unrecoverable: entry.unrecoverable,
		}
		if entry.proc != nil {
			status.PID = entry.proc.PID()
		}
		agents = append(agents, status)
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].ID < agents[j].ID })
	return Status{
		Bus:            o.bus,
		Agents:         agents,
		LastReconcile:  state.lastReconcile,
		ReconcileCount: state.reconcileCount,
	}
}

// reconcile converges running agents toward the desired config list.
func (o *Orchestrator) reconcile(ctx context.Context, state *loopState) {
	configs, err := o.source.Configs()
	if err != nil {
		o.logf("orchestrator: read config source: %v", err)
		return
	}
	desired := map[string]agent.Config{}
	for _, cfg := range configs {
		if !o.typeAllowed(cfg.Type) {
			continue
		}
		if err := cfg.Validate(); err != nil {
			o.logf("orchestrator: skipping invalid config: %v", err)
			continue
		}
		desired[cfg.ID] = cfg
	}

	for id, cfg := range desired {
		// Live, unrecoverable, and backoff-pending agents all keep their
		// entry; only truly absent ones get a fresh first spawn.
		if _, exists := state.running[id]; exists {
			continue
		}
		o.spawn(ctx, state, cfg, 1)
	}
	for id, entry := range state.running {
		if _, ok := desired[id]; ok {
			continue
		}
		o.stop(state, id, entry)
	}

	state.lastReconcile = o.clock()
	state.reconcileCount++
	o.metrics.ReconcileTick()
	o.metrics.SetRunningAgents(o.countLive(state))
}

// spawn starts one agent process and installs its liveness watch.
func (o *Orchestrator) spawn(ctx context.Context, state *loopState, cfg agent.Config, count int) {
	proc, err := o.runner.Start(ctx, cfg)
	if err != nil {
		// Left for the next reconcile tick.
		o.logf("orchestrator: spawn %s: %v", cfg.DisplayName(), err)
		return
	}
	monitor := uuid.New().String()
	entry := &runningAgent{
		cfg:        cfg,
		proc:       proc,
		monitor:    monitor,
		spawnedAt:  o.clock(),
		spawnCount: count,
	}
	state.running[cfg.ID] = entry
	state.monitors[monitor] = cfg.ID
	go o.watch(monitor, proc)

	if err := o.registry.Register(o.bus, cfg.DisplayName(), proc); err != nil {
		o.logf("orchestrator: register %s: %v", cfg.DisplayName(), err)
	}
	event := "started"
	if count > 1 {
		event = "restarted"
	}
	o.publish(TopicLifecycle, map[string]any{
		"agent_id":    cfg.ID,
		"event":       event,
		"spawn_count": count,
		"pid":         proc.PID(),
	})
	o.logf("orchestrator: %s agent %s (pid %d, spawn %d)", event, cfg.DisplayName(), proc.PID(), count)
}

// stop terminates an agent deliberately and removes its bookkeeping. The
// pending-stop set suppresses the liveness watch that fires afterwards.
func (o *Orchestrator) stop(state *loopState, id string, entry *runningAgent) {
	if entry.proc != nil {
		state.pendingStops[entry.monitor] = struct{}{}
		if err := entry.proc.Stop(); err != nil {
			o.logf("orchestrator: stop %s: %v", entry.cfg.DisplayName(), err)
		}
	}
	delete(state.monitors, entry.monitor)
	delete(state.running, id)
	o.registry.Unregister(o.bus, entry.cfg.DisplayName())
	o.publish(TopicLifecycle, map[string]any{
		"agent_id":    id,
		"event":       "stopped",
		"spawn_count": entry.spawnCount,
	})
	o.logf("orchestrator: stopped agent %s", entry.cfg.DisplayName())
}

// watch forwards the process exit into the control loop.
func (o *Orchestrator) watch(monitor string, proc Process) {
	err := <-proc.Wait()
	select {
	case o.exits <- exitEvent{monitor: monitor, err: err}:
	case <-o.done:
	}
}

// handleExit reacts to a process exit: deliberate stops are swallowed,
// crashes trigger a respawn with restart backoff until the restart budget is
// exhausted, after which the agent is marked unrecoverable.
func (o *Orchestrator) handleExit(ctx context.Context, state *loopState, ev exitEvent) {
	if _, deliberate := state.pendingStops[ev.monitor]; deliberate {
		delete(state.pendingStops, ev.monitor)
		return
	}
	id, ok := state.monitors[ev.monitor]
	if !ok {
		return
	}
	delete(state.monitors, ev.monitor)
	entry := state.running[id]
	if entry == nil || entry.monitor != ev.monitor {
		return
	}

	lastError := "process exited"
	if ev.err != nil {
		lastError = ev.err.Error()
	}
	entry.proc = nil
	entry.lastError = lastError
	o.registry.Unregister(o.bus, entry.cfg.DisplayName())
	o.logf("orchestrator: agent %s exited: %s", entry.cfg.DisplayName(), lastError)

	restarts := entry.spawnCount - 1
	max := entry.cfg.Restart.MaxRestarts
	if max > 0 && restarts >= max {
		entry.unrecoverable = true
		o.publish(TopicCrash, map[string]any{
			"agent_id":      id,
			"error":         lastError,
			"spawn_count":   entry.spawnCount,
			"unrecoverable": true,
		})
		o.logf("orchestrator: agent %s unrecoverable after %d restart(s)", entry.cfg.DisplayName(), restarts)
		o.metrics.SetRunningAgents(o.countLive(state))
		return
	}

	o.publish(TopicCrash, map[string]any{
		"agent_id":      id,
		"error":         lastError,
		"spawn_count":   entry.spawnCount,
		"unrecoverable": false,
	})

	next := entry.spawnCount + 1
	backoff := entry.cfg.Restart.Backoff
	o.metrics.AgentRestarted(id)
	if backoff <= 0 {
		o.respawn(ctx, state, id, entry.cfg, next, lastError)
		return
	}
	entry.restartPending = true
	cfg := entry.cfg
	time.AfterFunc(backoff, func() {
		cmd := func(state *loopState) {
			current := state.running[id]
			if current == nil || !current.restartPending {
				// Stopped or replaced while the backoff ran.
				return
			}
			o.respawn(context.Background(), state, id, cfg, next, lastError)
		}
		select {
		case o.commands <- cmd:
		case <-o.done:
		}
	})
}

// respawn replaces a crashed agent's entry, carrying the previous
// incarnation's error forward for diagnosis.
func (o *Orchestrator) respawn(ctx context.Context, state *loopState, id string, cfg agent.Config, count int, lastError string) {
	delete(state.running, id)
	o.spawn(ctx, state, cfg, count)
	if fresh := state.running[id]; fresh != nil {
		fresh.lastError = lastError
	}
	o.metrics.SetRunningAgents(o.countLive(state))
}

// shutdown stops every live agent on loop exit.
func (o *Orchestrator) shutdown(state *loopState) {
	for id, entry := range state.running {
		o.stop(state, id, entry)
	}
	o.metrics.SetRunningAgents(0)
}

func (o *Orchestrator) typeAllowed(agentType string) bool {
	if len(o.types) == 0 {
		return true
	}
	for _, t := range o.types {
		if t == TypeAll || t == agentType {
			return true
		}
	}
	return false
}

func (o *Orchestrator) countLive(state *loopState) int {
	live := 0
	for _, entry := range state.running {
		if entry.proc != nil {
			live++
		}
	}
	return live
}

func (o *Orchestrator) publish(topic string, data map[string]any) {
	if o.router == nil {
		return
	}
	if _, err := o.router.Publish(topic, data); err != nil {
		o.logf("orchestrator: publish %s: %v", topic, err)
	}
}

func (o *Orchestrator) logf(format string, args ...any) {
	if o.logger != nil {
		o.logger.Printf(format, args...)
	}
}
