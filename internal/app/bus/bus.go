// Package bus implements the event-delivery half of the Request Envelope &
// Event Bus component (§4.F): appending events addressed to one agent or
// broadcast to every agent in a node. Reading/draining an agent's events is
// the other half, left to package envelope (which also owns AP accounting).
package bus

import (
	"time"

	"github.com/Shoalstone/MASH/internal/app/domain"
	"github.com/Shoalstone/MASH/internal/app/storage"
)

// NowMS returns the current wall-clock time in milliseconds, the unit used
// throughout the store for timestamps.
func NowMS() int64 { return time.Now().UnixMilli() }

// Send appends a single event addressed to one agent.
func Send(store storage.Store, agentID string, typ domain.EventType, data map[string]interface{}) {
	store.AppendEvent(domain.Event{AgentID: agentID, Type: typ, Data: data, CreatedAt: NowMS()})
}

// BroadcastToNode appends typ/data to every agent currently in nodeID with
// SeeBroadcasts enabled, excluding the agent with id exclude (if any).
// Broadcasts are only ever enqueued here; delivery happens the next time
// the recipient calls any endpoint and drains its events.
func BroadcastToNode(store storage.Store, nodeID string, typ domain.EventType, data map[string]interface{}, exclude string) int {
	count := 0
	for _, agent := range store.ListAgents() {
		if agent.CurrentNodeID != nodeID || !agent.SeeBroadcasts {
			continue
		}
		if exclude != "" && agent.ID == exclude {
			continue
		}
		Send(store, agent.ID, typ, data)
		count++
	}
	return count
}
