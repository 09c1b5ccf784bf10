package dsl

import (
	"testing"

	"github.com/Shoalstone/MASH/internal/app/domain"
	"github.com/Shoalstone/MASH/internal/app/storage"
)

func newTestStore() *storage.Memory { return storage.NewMemory() }

func mustCreateTemplate(t *testing.T, store storage.Store, tmpl domain.Template) domain.Template {
	t.Helper()
	if err := store.CreateTemplate(tmpl); err != nil {
		t.Fatalf("CreateTemplate: %v", err)
	}
	return tmpl
}

func mustCreateInstance(t *testing.T, store storage.Store, inst domain.Instance) domain.Instance {
	t.Helper()
	if err := store.CreateInstance(inst); err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}
	return inst
}

func TestFireSetEffectOnSelf(t *testing.T) {
	store := newTestStore()
	owner := "agent-owner"
	tmpl := mustCreateTemplate(t, store, domain.Template{
		ID:           "tmpl-lever",
		OwnerAgentID: owner,
		Name:         "lever",
		Kind:         domain.KindThing,
		Interactions: []domain.Interaction{
			{
				On: "pull",
				Do: []domain.EffectEntry{
					{Leaf: &domain.Effect{Op: "set", Args: []interface{}{"self.pulled", true}}},
				},
			},
		},
	})
	inst := mustCreateInstance(t, store, domain.Instance{
		ID:         "inst-lever",
		TemplateID: tmpl.ID,
		Kind:       domain.KindThing,
		Fields:     domain.Fields{},
	})

	denied := Fire(store, inst.ID, "pull", "agent-1", "", "")
	if denied {
		t.Fatalf("unexpected deny")
	}
	got, _ := store.GetInstance(inst.ID)
	if got.Fields["pulled"] != true {
		t.Fatalf("expected pulled=true, got %v", got.Fields["pulled"])
	}
}

func TestFireBudgetCapsAtFour(t *testing.T) {
	store := newTestStore()
	tmpl := mustCreateTemplate(t, store, domain.Template{
		ID:   "tmpl-counter",
		Kind: domain.KindThing,
		Interactions: []domain.Interaction{
			{On: "bump", Do: []domain.EffectEntry{{Leaf: &domain.Effect{Op: "add", Args: []interface{}{"self.count", 1.0}}}}},
		},
	})
	inst := mustCreateInstance(t, store, domain.Instance{
		ID: "inst-counter", TemplateID: tmpl.ID, Kind: domain.KindThing, Fields: domain.Fields{},
	})

	for i := 0; i < MaxInteractionsPerTick+2; i++ {
		Fire(store, inst.ID, "bump", "", "", "")
	}

	got, _ := store.GetInstance(inst.ID)
	if got.Fields["count"] != float64(MaxInteractionsPerTick) {
		t.Fatalf("expected count capped at %d, got %v", MaxInteractionsPerTick, got.Fields["count"])
	}
}

func TestFireDenyStopsRule(t *testing.T) {
	store := newTestStore()
	tmpl := mustCreateTemplate(t, store, domain.Template{
		ID:   "tmpl-locked",
		Kind: domain.KindThing,
		Interactions: []domain.Interaction{
			{
				On: "open",
				If: []domain.Condition{{Op: "eq", Args: []interface{}{"self.locked", true}}},
				Do: []domain.EffectEntry{
					{Leaf: &domain.Effect{Op: "deny"}},
					{Leaf: &domain.Effect{Op: "set", Args: []interface{}{"self.opened", true}}},
				},
			},
		},
	})
	inst := mustCreateInstance(t, store, domain.Instance{
		ID: "inst-locked", TemplateID: tmpl.ID, Kind: domain.KindThing,
		Fields: domain.Fields{"locked": true},
	})

	denied := Fire(store, inst.ID, "open", "", "", "")
	if !denied {
		t.Fatalf("expected deny")
	}
	got, _ := store.GetInstance(inst.ID)
	if _, ok := got.Fields["opened"]; ok {
		t.Fatalf("effect after deny must not run")
	}
}

func TestFireTakeRequiresContainPermission(t *testing.T) {
	store := newTestStore()
	owner := "agent-owner"
	box := mustCreateTemplate(t, store, domain.Template{
		ID: "tmpl-box", OwnerAgentID: owner, Kind: domain.KindThing,
		DefaultPermissions: domain.Permissions{"contain": domain.PermRule{Kind: domain.PermNone}},
		Interactions: []domain.Interaction{
			{On: "loot", Do: []domain.EffectEntry{{Leaf: &domain.Effect{Op: "take", Args: []interface{}{"tmpl-coin", "subject"}}}}},
		},
	})
	coin := mustCreateTemplate(t, store, domain.Template{ID: "tmpl-coin", OwnerAgentID: owner, Kind: domain.KindThing})
	boxInst := mustCreateInstance(t, store, domain.Instance{ID: "inst-box", TemplateID: box.ID, Kind: domain.KindThing})
	chestInst := mustCreateInstance(t, store, domain.Instance{ID: "inst-chest", Kind: domain.KindThing})
	mustCreateInstance(t, store, domain.Instance{
		ID: "inst-coin", TemplateID: coin.ID, Kind: domain.KindThing,
		Container: domain.ContainerRef{Kind: domain.ContainerInstance, ID: chestInst.ID},
	})

	Fire(store, boxInst.ID, "loot", "", "instance", chestInst.ID)

	coinInst, _ := store.GetInstance("inst-coin")
	if coinInst.Container.ID != chestInst.ID {
		t.Fatalf("take should have been denied: the box's owner lacks contain on the template-less chest, coin moved to %v", coinInst.Container)
	}
}

func TestEvalHasAcrossContainerKinds(t *testing.T) {
	store := newTestStore()
	coin := mustCreateTemplate(t, store, domain.Template{ID: "tmpl-coin", Kind: domain.KindThing})
	mustCreateInstance(t, store, domain.Instance{
		ID: "inst-coin", TemplateID: coin.ID, Kind: domain.KindThing,
		Container: domain.ContainerRef{Kind: domain.ContainerAgent, ID: "agent-1"},
	})

	ctx := NewContext(store, "", "agent-1", "", "")
	if !ctx.Eval(domain.Condition{Op: "has", Args: []interface{}{"actor", "tmpl-coin"}}) {
		t.Fatalf("expected has to find the coin in the agent's inventory")
	}
}
