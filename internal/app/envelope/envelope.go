// Package envelope implements the agent-facing half of the Request
// Envelope & Event Bus component (§4.F): wrapping every authenticated
// response with tick/AP bookkeeping and the agent's drained event
// backlog, plus the AP debit/refund bookkeeping described in §5.
package envelope

import (
	"github.com/Shoalstone/MASH/internal/app/domain"
	"github.com/Shoalstone/MASH/internal/app/storage"
)

// MaxEventsPerEnvelope bounds how many events one response drains (§4.F).
const MaxEventsPerEnvelope = 200

// Info is the bookkeeping block attached to every authenticated response.
type Info struct {
	Tick                int64      `json:"tick"`
	NextTickInMS        int64      `json:"next_tick_in_ms"`
	AP                  int        `json:"ap"`
	PurchasedAPThisTick int        `json:"purchased_ap_this_tick"`
	Events              []EventOut `json:"events"`
}

// EventOut is the wire shape of one drained event.
type EventOut struct {
	Type domain.EventType       `json:"type"`
	Data map[string]interface{} `json:"data"`
}

// Envelope is the full response shape: info plus the handler-specific result.
type Envelope struct {
	Info   Info        `json:"info"`
	Result interface{} `json:"result"`
}

// NextTickInMS computes max(0, last_tick_at + tickIntervalMS - now) per §4.F.
func NextTickInMS(ws domain.WorldState, tickIntervalMS int64, nowMS int64) int64 {
	remaining := ws.LastTickAt + tickIntervalMS - nowMS
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Build reads the current world state and agent, drains up to
// MaxEventsPerEnvelope of the agent's events (a destructive read), and
// returns the Info block for the envelope. Call this AFTER any AP
// debit/refund so the reported AP reflects the just-applied charge.
func Build(store storage.Store, agentID string, tickIntervalMS int64, nowMS int64) Info {
	store.Lock()
	defer store.Unlock()
	ws := store.WorldState()
	agent, _ := store.GetAgent(agentID)
	events := store.DrainEvents(agentID, MaxEventsPerEnvelope)
	out := make([]EventOut, 0, len(events))
	for _, e := range events {
		out = append(out, EventOut{Type: e.Type, Data: e.Data})
	}
	return Info{
		Tick:                ws.TickNumber,
		NextTickInMS:        NextTickInMS(ws, tickIntervalMS, nowMS),
		AP:                  agent.AP,
		PurchasedAPThisTick: agent.PurchasedAPThisTick,
		Events:              out,
	}
}

// DebitAP attempts to spend cost action points for agentID, returning false
// (no mutation) if the agent doesn't have enough. Debit happens at handler
// entry, before enqueue or execution (§5).
func DebitAP(store storage.Store, agentID string, cost int) (bool, error) {
	store.Lock()
	defer store.Unlock()
	agent, ok := store.GetAgent(agentID)
	if !ok {
		return false, storage.ErrAgentNotFound(agentID)
	}
	if agent.AP < cost {
		return false, nil
	}
	agent.AP -= cost
	if err := store.UpdateAgent(agent); err != nil {
		return false, err
	}
	return true, nil
}

// RefundAP credits amount action points back to agentID (used for unused
// travel hops per §4.D/§5).
func RefundAP(store storage.Store, agentID string, amount int) error {
	if amount <= 0 {
		return nil
	}
	store.Lock()
	defer store.Unlock()
	agent, ok := store.GetAgent(agentID)
	if !ok {
		return storage.ErrAgentNotFound(agentID)
	}
	agent.AP += amount
	return store.UpdateAgent(agent)
}

// Touch updates an agent's last-active timestamp, used on every
// authenticated request to drive idle reaping (§4.E phase 2).
func Touch(store storage.Store, agentID string, nowMS int64) {
	store.Lock()
	defer store.Unlock()
	agent, ok := store.GetAgent(agentID)
	if !ok {
		return
	}
	agent.LastActiveAtMS = nowMS
	_ = store.UpdateAgent(agent)
}
