package actions

import (
	"github.com/Shoalstone/MASH/internal/app/envelope"
	"github.com/Shoalstone/MASH/internal/app/storage"
)

// Limits bundles the world-economy knobs action handlers need, so this
// package never has to import internal/config directly.
type Limits struct {
	MaxAP               int
	MaxBuyAP            int
	MaxContainmentDepth int
}

// Handle is the single entry point the HTTP layer calls for every
// POST /action/<verb> request. Instant and free verbs run to completion
// and return their result immediately; queued verbs return a queued
// acknowledgement, with the real result delivered later as an event.
// Instant verbs debit their 1 AP cost at entry, before execution, same as
// Submit does for queued verbs (§5 "Debit happens at handler entry").
// Instant and free verbs then take the store lock for their whole
// execution, so they are never observed interleaved with a tick or with
// each other, matching the single-writer model of §5; DebitAP and Submit
// take the lock themselves, and Execute runs under the lock the tick engine
// holds for the whole of RunTick.
func Handle(store storage.Store, limits Limits, agentID, verb string, params map[string]interface{}) Result {
	switch ClassifyVerb(verb) {
	case ClassInstant:
		ok, err := envelope.DebitAP(store, agentID, APCost(verb, params))
		if err != nil {
			return errResult(err.Error())
		}
		if !ok {
			return errResult("no AP remaining")
		}
		store.Lock()
		defer store.Unlock()
		return handleInstant(store, agentID, verb, params)
	case ClassFree:
		store.Lock()
		defer store.Unlock()
		return handleFree(store, limits, agentID, verb, params)
	default:
		return Submit(store, agentID, verb, params)
	}
}

func handleInstant(store storage.Store, agentID, verb string, params map[string]interface{}) Result {
	switch verb {
	case "look":
		targetID, _ := str(params, "target_id")
		return Look(store, agentID, targetID)
	case "survey":
		category, _ := str(params, "category")
		return Survey(store, agentID, category)
	case "inspect":
		targetID, _ := str(params, "target_id")
		if targetID == "" {
			return errResult("target_id required")
		}
		return Inspect(store, agentID, targetID)
	case "say":
		message, _ := str(params, "message")
		return Say(store, agentID, message)
	case "list":
		templateID, _ := str(params, "template_id")
		if templateID == "" {
			return errResult("template_id required")
		}
		return List(store, agentID, templateID)
	default:
		return errResult("unknown instant verb")
	}
}

func handleFree(store storage.Store, limits Limits, agentID, verb string, params map[string]interface{}) Result {
	switch verb {
	case "configure":
		return Configure(store, agentID, params)
	case "buy_ap":
		return BuyAP(store, limits.MaxAP, limits.MaxBuyAP, agentID, params)
	default:
		return errResult("unknown free verb")
	}
}
