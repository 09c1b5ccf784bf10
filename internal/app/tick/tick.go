// Package tick implements component E, the fixed-period tick engine that
// reshapes all state-changing work into a single serial pipeline (§4.E):
// advancing counters, idle reaping, firing the `tick` DSL verb across every
// occupied node, draining the queued-action backlog, garbage-collecting
// stale events, and releasing long-poll waiters.
package tick

import (
	"context"
	"sync"
	"time"

	"github.com/Shoalstone/MASH/internal/app/actions"
	"github.com/Shoalstone/MASH/internal/app/bus"
	core "github.com/Shoalstone/MASH/internal/app/core/service"
	"github.com/Shoalstone/MASH/internal/app/domain"
	"github.com/Shoalstone/MASH/internal/app/dsl"
	"github.com/Shoalstone/MASH/internal/app/metrics"
	"github.com/Shoalstone/MASH/internal/app/storage"
	"github.com/Shoalstone/MASH/pkg/logger"
)

// Config bundles the world-economy constants phases 1-6 need.
type Config struct {
	TickIntervalMS         int64
	MaxAP                  int
	MaxBuyAP               int
	MaxContainmentDepth    int
	MaxInteractionsPerTick int
	IdleTimeoutMS          int64
	EventTTLMS             int64
}

// Engine is the system.Service that drives the world's single serial
// pipeline. One instance owns every waiter registered through Wait.
type Engine struct {
	store  storage.Store
	cfg    Config
	log    *logger.Logger

	mu      sync.Mutex
	waiters map[string][]chan struct{}

	stopCh chan struct{}
	doneCh chan struct{}

	// Hooks lets an operator observe tick start/completion without reading
	// logs or scraping metrics (e.g. tracing). Zero value is a no-op.
	Hooks core.ObservationHooks
}

// New builds a tick engine over store, governed by cfg.
func New(store storage.Store, cfg Config, log *logger.Logger) *Engine {
	return &Engine{
		store:   store,
		cfg:     cfg,
		log:     log,
		waiters: make(map[string][]chan struct{}),
	}
}

func (e *Engine) Name() string { return "tick-engine" }

// IntervalMS returns the configured tick period, used by the HTTP layer to
// compute next_tick_in_ms for the request envelope.
func (e *Engine) IntervalMS() int64 { return e.cfg.TickIntervalMS }

func (e *Engine) Descriptor() core.Descriptor {
	return core.Descriptor{
		Name:         e.Name(),
		Domain:       "world",
		Layer:        core.LayerEngine,
		Capabilities: []string{"tick", "queue-drain", "long-poll-fanout"},
	}
}

// Start launches the ticking goroutine. It returns immediately; Stop blocks
// until the goroutine has exited.
func (e *Engine) Start(ctx context.Context) error {
	e.stopCh = make(chan struct{})
	e.doneCh = make(chan struct{})

	interval := time.Duration(e.cfg.TickIntervalMS) * time.Millisecond
	if interval <= 0 {
		interval = 10 * time.Second
	}

	go func() {
		defer close(e.doneCh)
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-e.stopCh:
				return
			case <-t.C:
				e.RunTick()
			}
		}
	}()

	return nil
}

// Stop signals the ticking goroutine to exit and waits for it.
func (e *Engine) Stop(ctx context.Context) error {
	if e.stopCh == nil {
		return nil
	}
	close(e.stopCh)
	select {
	case <-e.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait registers the caller for the next tick's waiter fan-out (phase 6)
// and blocks until either that happens or ctx is cancelled (a dropped
// client connection). The waiter set is cleared every tick, so a missed
// release cannot accumulate (§4.E "Cancellation").
func (e *Engine) Wait(ctx context.Context, agentID string) {
	ch := make(chan struct{})
	e.mu.Lock()
	e.waiters[agentID] = append(e.waiters[agentID], ch)
	e.mu.Unlock()

	select {
	case <-ch:
	case <-ctx.Done():
	}
}

// RunTick executes the six phases of §4.E as a single critical section: the
// entire tick holds the store lock so no other request's single step can
// interleave with it.
func (e *Engine) RunTick() {
	start := time.Now()
	complete := core.StartObservation(context.Background(), e.Hooks, map[string]string{"op": "tick"})
	defer complete(nil)

	e.store.Lock()
	defer e.store.Unlock()

	ws := e.store.WorldState()
	ws.TickNumber++
	now := bus.NowMS()
	ws.LastTickAt = now

	e.phase1AdvanceCounters()
	e.phase2IdleReap(now)
	e.phase3WorldTick(ws.TickNumber)
	e.phase4QueueDrain(ws.TickNumber)
	e.phase5EventGC(now)

	e.store.SaveWorldState(ws)

	released := e.phase6WaiterFanout()

	metrics.TickDuration.Observe(time.Since(start).Seconds())
	metrics.TickNumber.Set(float64(ws.TickNumber))
	metrics.WaiterFanout.Set(float64(released))

	if e.log != nil {
		e.log.WithFields(map[string]interface{}{
			"tick":     ws.TickNumber,
			"released": released,
		}).Debug("tick completed")
	}
}

// phase1AdvanceCounters resets every agent's AP to MaxAP, their per-tick
// purchase counter to 0, and every instance's per-tick interaction budget
// (§4.E phase 1).
func (e *Engine) phase1AdvanceCounters() {
	for _, agent := range e.store.ListAgents() {
		if agent.AP != e.cfg.MaxAP || agent.PurchasedAPThisTick != 0 {
			agent.AP = e.cfg.MaxAP
			agent.PurchasedAPThisTick = 0
			e.store.UpdateAgent(agent)
		}
	}
	for _, inst := range e.store.ListAllInstances() {
		if inst.InteractionsUsedThisTick != 0 {
			inst.InteractionsUsedThisTick = 0
			e.store.UpdateInstance(inst)
		}
	}
}

// phase2IdleReap clears current_node_id for any agent idle past
// IdleTimeoutMS and notifies them with a system event (§4.E phase 2). They
// re-enter at home on their next authenticated request.
func (e *Engine) phase2IdleReap(now int64) {
	if e.cfg.IdleTimeoutMS <= 0 {
		return
	}
	for _, agent := range e.store.ListAgents() {
		if agent.CurrentNodeID == "" {
			continue
		}
		if now-agent.LastActiveAtMS < e.cfg.IdleTimeoutMS {
			continue
		}
		agent.CurrentNodeID = ""
		e.store.UpdateAgent(agent)
		bus.Send(e.store, agent.ID, domain.EventSystem, map[string]interface{}{
			"message": "You were idle too long and have been sent to limbo.",
			"reason":  "idle_timeout",
		})
	}
}

// phase3WorldTick fires the `tick` verb (actor=nil, subject=nil) once per
// occupied node, on every non-void, non-destroyed instance it directly or
// indirectly contains, in creation order, so `tick` rules always claim
// their interaction-budget slots before player-triggered verbs this tick
// (§4.E phase 3, §4.C "the tick verb runs first... and therefore wins
// slots").
func (e *Engine) phase3WorldTick(tickNumber int64) {
	occupied := make(map[string]bool)
	for _, agent := range e.store.ListAgents() {
		if agent.CurrentNodeID != "" {
			occupied[agent.CurrentNodeID] = true
		}
	}

	for _, inst := range e.store.ListAllInstances() {
		if inst.IsVoid || inst.IsDestroyed || inst.TemplateID == "" {
			continue
		}
		node := rootNode(e.store, inst)
		if node == "" || !occupied[node] {
			continue
		}
		dsl.Fire(e.store, inst.ID, "tick", "", "", "")
	}
}

func rootNode(store storage.Store, inst domain.Instance) string {
	if inst.Kind == domain.KindNode {
		return inst.ID
	}
	cur := inst
	for depth := 0; depth < 32; depth++ {
		switch cur.Container.Kind {
		case domain.ContainerInstance:
			next, ok := store.GetInstance(cur.Container.ID)
			if !ok {
				return ""
			}
			if next.Kind == domain.KindNode {
				return next.ID
			}
			cur = next
		default:
			return ""
		}
	}
	return ""
}

// phase4QueueDrain dispatches every due queued action in ordinal order,
// wraps each result as an action_result event addressed to the agent, and
// deletes the queue row (§4.E phase 4). A missing agent or one left in
// limbo is silently skipped; per-entry errors are captured in the result,
// never propagated.
func (e *Engine) phase4QueueDrain(tickNumber int64) {
	entries := e.store.DueQueueEntries(tickNumber)
	metrics.QueueDepth.Set(float64(len(entries)))

	for _, entry := range entries {
		agent, ok := e.store.GetAgent(entry.AgentID)
		if !ok || agent.CurrentNodeID == "" {
			e.store.DeleteQueueEntry(entry.Ordinal)
			continue
		}

		result := func() (r actions.Result) {
			defer func() {
				if rec := recover(); rec != nil {
					r = actions.Result{"error": "internal error"}
				}
			}()
			return actions.Execute(e.store, e.cfg.MaxContainmentDepth, entry)
		}()

		bus.Send(e.store, entry.AgentID, domain.EventActionResult, map[string]interface{}{
			"action":    entry.Verb,
			"action_id": entry.Ordinal,
			"result":    map[string]interface{}(result),
		})
		e.store.DeleteQueueEntry(entry.Ordinal)
		metrics.APSpent.WithLabelValues(entry.Verb).Add(float64(actions.APCost(entry.Verb, entry.Params)))
	}
}

// phase5EventGC deletes events older than EventTTLMS, bounding unread
// backlog growth for agents that never poll (§4.E phase 5).
func (e *Engine) phase5EventGC(now int64) {
	if e.cfg.EventTTLMS <= 0 {
		return
	}
	e.store.DeleteEventsOlderThan(now - e.cfg.EventTTLMS)
}

// phase6WaiterFanout releases every /wait caller registered since the
// previous tick and clears the set (§4.E phase 6).
func (e *Engine) phase6WaiterFanout() int {
	e.mu.Lock()
	waiters := e.waiters
	e.waiters = make(map[string][]chan struct{})
	e.mu.Unlock()

	count := 0
	for _, chans := range waiters {
		for _, ch := range chans {
			close(ch)
			count++
		}
	}
	return count
}
