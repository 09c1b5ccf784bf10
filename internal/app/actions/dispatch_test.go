package actions

import (
	"testing"

	"github.com/Shoalstone/MASH/internal/app/domain"
)

func testLimits() Limits {
	return Limits{MaxAP: 4, MaxBuyAP: 20, MaxContainmentDepth: 5}
}

func TestHandleDispatchesByClass(t *testing.T) {
	store := newTestStore()
	mustCreateInstance(t, store, domain.Instance{ID: "node-1", Kind: domain.KindNode})
	agent := mustCreateAgent(t, store, domain.Agent{ID: "agent-1", Username: "alice", CurrentNodeID: "node-1", AP: 4})

	if res := Handle(store, testLimits(), agent.ID, "look", map[string]interface{}{}); res["type"] != "node" {
		t.Fatalf("expected instant verb to run synchronously, got %v", res)
	}

	if res := Handle(store, testLimits(), agent.ID, "configure", map[string]interface{}{"short_description": "a rogue"}); res["configured"] != true {
		t.Fatalf("expected free verb to run synchronously, got %v", res)
	}

	res := Handle(store, testLimits(), agent.ID, "home", map[string]interface{}{})
	if res["queued"] != true {
		t.Fatalf("expected queued verb to be acknowledged, got %v", res)
	}
	if _, ok := res["action_id"]; !ok {
		t.Fatalf("expected queue confirmation to carry action_id, got %v", res)
	}
	if _, ok := res["tick_number"]; !ok {
		t.Fatalf("expected queue confirmation to carry tick_number, got %v", res)
	}
	if res["ap_remaining"] != 2 {
		t.Fatalf("expected queue confirmation to report ap_remaining=2 after the look and home debits, got %v", res["ap_remaining"])
	}

	got, _ := store.GetAgent(agent.ID)
	if got.AP != 2 {
		t.Fatalf("expected 2 AP debited total (1 for look, 1 for home), got %d", got.AP)
	}
}

func TestHandleUnknownVerbDispatchesAsCustom(t *testing.T) {
	store := newTestStore()
	agent := mustCreateAgent(t, store, domain.Agent{ID: "agent-1", Username: "alice", AP: 4})

	res := Handle(store, testLimits(), agent.ID, "wave", map[string]interface{}{"target_id": "missing"})
	if res["queued"] != true {
		t.Fatalf("expected an unrecognized verb to queue as custom, got %v", res)
	}
}
