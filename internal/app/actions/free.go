package actions

import (
	"github.com/Shoalstone/MASH/internal/app/storage"
)

// Configure implements the `configure` free verb: an agent updates its own
// profile (descriptions, perception caps, see-broadcasts flag). Executed
// synchronously, like instant verbs, since it costs no AP and never touches
// other agents' state.
func Configure(store storage.Store, agentID string, params map[string]interface{}) Result {
	agent, ok := store.GetAgent(agentID)
	if !ok {
		return errResult("agent not found")
	}

	if v, ok := str(params, "short_description"); ok {
		agent.ShortDescription = v
	}
	if v, ok := str(params, "long_description"); ok {
		agent.LongDescription = v
	}
	if v, ok := params["perception_agents"]; ok {
		if f, ok := v.(float64); ok {
			agent.PerceptionAgents = clampPerception(int(f))
		}
	}
	if v, ok := params["perception_links"]; ok {
		if f, ok := v.(float64); ok {
			agent.PerceptionLinks = clampPerception(int(f))
		}
	}
	if v, ok := params["perception_things"]; ok {
		if f, ok := v.(float64); ok {
			agent.PerceptionThings = clampPerception(int(f))
		}
	}
	if v, ok := params["see_broadcasts"]; ok {
		if b, ok := v.(bool); ok {
			agent.SeeBroadcasts = b
		}
	}

	if err := store.UpdateAgent(agent); err != nil {
		return errResult(err.Error())
	}
	return Result{"configured": true}
}

// MaxBuyAPPerCall bounds a single `buy_ap` call to 1-10 (§4.D "Free verbs").
const MaxBuyAPPerCall = 10

// BuyAP implements the `buy_ap` free verb (§4.D, §5): purchases action
// points against purchased_ap_this_tick, which is authoritative against
// maxBuyAP and reset by tick phase 1. 1 ≤ count ≤ 10 per call; the whole
// call fails if it would breach the per-tick cap (no partial purchase). It
// costs no AP of its own (the spec leaves whether buy_ap should cost AP an
// open question; the current answer, matching the original behaviour, is
// that it does not).
func BuyAP(store storage.Store, maxAP, maxBuyAP int, agentID string, params map[string]interface{}) Result {
	count := 0
	if v, ok := params["count"]; ok {
		if f, ok := v.(float64); ok {
			count = int(f)
		}
	}
	if count < 1 || count > MaxBuyAPPerCall {
		return errResult("count must be between 1 and 10")
	}

	agent, ok := store.GetAgent(agentID)
	if !ok {
		return errResult("agent not found")
	}
	if agent.PurchasedAPThisTick+count > maxBuyAP {
		return errResult("per-tick purchase cap reached")
	}

	agent.PurchasedAPThisTick += count
	agent.AP += count
	if cap := maxAP + maxBuyAP; agent.AP > cap {
		agent.AP = cap
	}
	if err := store.UpdateAgent(agent); err != nil {
		return errResult(err.Error())
	}
	return Result{"bought": count, "ap": agent.AP}
}
