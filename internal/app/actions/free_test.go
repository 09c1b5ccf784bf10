package actions

import (
	"testing"

	"github.com/Shoalstone/MASH/internal/app/domain"
)

func TestConfigureClampsPerception(t *testing.T) {
	store := newTestStore()
	agent := mustCreateAgent(t, store, domain.Agent{ID: "agent-1", Username: "alice"})

	res := Configure(store, agent.ID, map[string]interface{}{
		"perception_things": float64(9999),
		"see_broadcasts":    false,
	})
	if res["configured"] != true {
		t.Fatalf("expected configured=true, got %v", res)
	}

	got, _ := store.GetAgent(agent.ID)
	if got.PerceptionThings != 100 {
		t.Fatalf("expected perception clamped to 100, got %d", got.PerceptionThings)
	}
	if got.SeeBroadcasts {
		t.Fatalf("expected see_broadcasts=false to be applied")
	}
}

func TestBuyAPRejectsCountOutOfRange(t *testing.T) {
	store := newTestStore()
	agent := mustCreateAgent(t, store, domain.Agent{ID: "agent-1", Username: "alice", AP: 4})

	if res := BuyAP(store, 4, 20, agent.ID, map[string]interface{}{"count": float64(0)}); res["error"] == nil {
		t.Fatalf("expected count=0 to be rejected, got %v", res)
	}
	if res := BuyAP(store, 4, 20, agent.ID, map[string]interface{}{"count": float64(11)}); res["error"] == nil {
		t.Fatalf("expected count=11 to be rejected (max 10 per call), got %v", res)
	}
}

func TestBuyAPFailsWholeCallWhenPerTickCapWouldBreach(t *testing.T) {
	store := newTestStore()
	agent := mustCreateAgent(t, store, domain.Agent{ID: "agent-1", Username: "alice", AP: 4})

	res := BuyAP(store, 4, 20, agent.ID, map[string]interface{}{"count": float64(10)})
	if res["bought"] != 10 {
		t.Fatalf("expected to buy 10, got %v", res)
	}
	res = BuyAP(store, 4, 20, agent.ID, map[string]interface{}{"count": float64(10)})
	if res["bought"] != 10 {
		t.Fatalf("expected to buy another 10 (reaches the cap of 20 exactly), got %v", res)
	}

	res = BuyAP(store, 4, 20, agent.ID, map[string]interface{}{"count": float64(1)})
	if res["error"] != "per-tick purchase cap reached" {
		t.Fatalf("expected per-tick cap error once 20 is already purchased, got %v", res)
	}
	got, _ := store.GetAgent(agent.ID)
	if got.PurchasedAPThisTick != 20 {
		t.Fatalf("expected the failed call to leave purchased_ap_this_tick unchanged at 20, got %d", got.PurchasedAPThisTick)
	}
}

func TestBuyAPCapsTotalAPAtMaxPlusMaxBuy(t *testing.T) {
	store := newTestStore()
	agent := mustCreateAgent(t, store, domain.Agent{ID: "agent-1", Username: "alice", AP: 4})

	for i := 0; i < 2; i++ {
		res := BuyAP(store, 4, 20, agent.ID, map[string]interface{}{"count": float64(10)})
		if res["bought"] != 10 {
			t.Fatalf("expected full purchase of 10, got %v", res)
		}
	}
	got, _ := store.GetAgent(agent.ID)
	if got.AP != 24 {
		t.Fatalf("expected ap capped at 24 (maxAP+maxBuyAP), got %v", got.AP)
	}
}
