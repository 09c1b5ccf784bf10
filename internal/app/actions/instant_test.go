package actions

import (
	"testing"

	"github.com/Shoalstone/MASH/internal/app/domain"
)

func TestLookNodeListsOthersNotSelf(t *testing.T) {
	store := newTestStore()
	mustCreateInstance(t, store, domain.Instance{ID: "node-1", Kind: domain.KindNode, ShortDescription: "a plaza"})
	alice := mustCreateAgent(t, store, domain.Agent{ID: "agent-alice", Username: "alice", CurrentNodeID: "node-1", PerceptionAgents: 20, PerceptionLinks: 20, PerceptionThings: 20})
	mustCreateAgent(t, store, domain.Agent{ID: "agent-bob", Username: "bob", CurrentNodeID: "node-1"})

	res := Look(store, alice.ID, "")
	if res["type"] != "node" {
		t.Fatalf("expected node result, got %v", res)
	}
	agents, _ := res["agents"].([]Result)
	if len(agents) != 1 || agents[0]["username"] != "bob" {
		t.Fatalf("expected bob only, got %v", agents)
	}
}

func TestLookCapsAtPerceptionLimit(t *testing.T) {
	store := newTestStore()
	mustCreateInstance(t, store, domain.Instance{ID: "node-1", Kind: domain.KindNode})
	alice := mustCreateAgent(t, store, domain.Agent{ID: "agent-alice", Username: "alice", CurrentNodeID: "node-1", PerceptionAgents: 1})
	mustCreateAgent(t, store, domain.Agent{ID: "agent-bob", Username: "bob", CurrentNodeID: "node-1"})
	mustCreateAgent(t, store, domain.Agent{ID: "agent-carl", Username: "carl", CurrentNodeID: "node-1"})

	res := Look(store, alice.ID, "")
	agents, _ := res["agents"].([]Result)
	if len(agents) != 1 {
		t.Fatalf("expected perception cap of 1, got %d entries", len(agents))
	}
}

func TestSurveyIsUncapped(t *testing.T) {
	store := newTestStore()
	mustCreateInstance(t, store, domain.Instance{ID: "node-1", Kind: domain.KindNode})
	alice := mustCreateAgent(t, store, domain.Agent{ID: "agent-alice", Username: "alice", CurrentNodeID: "node-1", PerceptionAgents: 1})
	mustCreateAgent(t, store, domain.Agent{ID: "agent-bob", Username: "bob", CurrentNodeID: "node-1"})
	mustCreateAgent(t, store, domain.Agent{ID: "agent-carl", Username: "carl", CurrentNodeID: "node-1"})

	res := Survey(store, alice.ID, "agents")
	agents, _ := res["agents"].([]Result)
	if len(agents) != 2 {
		t.Fatalf("expected both other agents uncapped, got %d", len(agents))
	}
}

func TestInspectRequiresPermission(t *testing.T) {
	store := newTestStore()
	tmpl := domain.Template{
		ID: "tmpl-safe", OwnerAgentID: "agent-owner", Kind: domain.KindThing,
		DefaultPermissions: domain.Permissions{"inspect": {Kind: domain.PermNone}},
	}
	if err := store.CreateTemplate(tmpl); err != nil {
		t.Fatal(err)
	}
	inst := mustCreateInstance(t, store, domain.Instance{ID: "inst-safe", TemplateID: tmpl.ID, Kind: domain.KindThing})
	stranger := mustCreateAgent(t, store, domain.Agent{ID: "agent-stranger", Username: "stranger"})

	res := Inspect(store, stranger.ID, inst.ID)
	if res["error"] != "permission denied" {
		t.Fatalf("expected permission denied, got %v", res)
	}
}

func TestSayBroadcastsToNodeExcludingSelf(t *testing.T) {
	store := newTestStore()
	mustCreateInstance(t, store, domain.Instance{ID: "node-1", Kind: domain.KindNode})
	alice := mustCreateAgent(t, store, domain.Agent{ID: "agent-alice", Username: "alice", CurrentNodeID: "node-1", SeeBroadcasts: true})
	mustCreateAgent(t, store, domain.Agent{ID: "agent-bob", Username: "bob", CurrentNodeID: "node-1", SeeBroadcasts: true})
	mustCreateAgent(t, store, domain.Agent{ID: "agent-carl", Username: "carl", CurrentNodeID: "node-1", SeeBroadcasts: false})

	res := Say(store, alice.ID, "hello")
	if res["delivered"] != 1 {
		t.Fatalf("expected delivery to the one other see_broadcasts agent, got %v", res)
	}

	events := store.DrainEvents("agent-bob", 10)
	if len(events) != 1 || events[0].Type != domain.EventChat {
		t.Fatalf("expected bob to receive one chat event, got %v", events)
	}
}

func TestListReturnsOnlyOwnersInstances(t *testing.T) {
	store := newTestStore()
	owner := mustCreateAgent(t, store, domain.Agent{ID: "agent-owner", Username: "owner"})
	tmpl := domain.Template{ID: "tmpl-torch", OwnerAgentID: owner.ID, Kind: domain.KindThing}
	if err := store.CreateTemplate(tmpl); err != nil {
		t.Fatal(err)
	}
	mustCreateInstance(t, store, domain.Instance{ID: "inst-1", TemplateID: tmpl.ID, Kind: domain.KindThing})
	stranger := mustCreateAgent(t, store, domain.Agent{ID: "agent-stranger", Username: "stranger"})

	if res := List(store, stranger.ID, tmpl.ID); res["error"] != "permission denied" {
		t.Fatalf("expected permission denied for non-owner, got %v", res)
	}
	res := List(store, owner.ID, tmpl.ID)
	instances, _ := res["instances"].([]Result)
	if len(instances) != 1 {
		t.Fatalf("expected 1 instance, got %v", instances)
	}
}
