package actions

import (
	"testing"

	"github.com/Shoalstone/MASH/internal/app/domain"
	"github.com/Shoalstone/MASH/internal/app/perm"
	"github.com/Shoalstone/MASH/internal/app/storage"
)

func newTestStore() *storage.Memory { return storage.NewMemory() }

func mustCreateAgent(t *testing.T, store storage.Store, a domain.Agent) domain.Agent {
	t.Helper()
	if err := store.CreateAgent(a); err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}
	return a
}

func mustCreateInstance(t *testing.T, store storage.Store, i domain.Instance) domain.Instance {
	t.Helper()
	if err := store.CreateInstance(i); err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}
	return i
}

func TestClassifyVerb(t *testing.T) {
	cases := map[string]VerbClass{
		"look":        ClassInstant,
		"say":         ClassInstant,
		"create":      ClassQueued,
		"travel":      ClassQueued,
		"custom_ping": ClassQueued, // unrecognized verbs fall through to queued (custom verb dispatch)
		"configure":   ClassFree,
		"buy_ap":      ClassFree,
	}
	for verb, want := range cases {
		if got := ClassifyVerb(verb); got != want {
			t.Errorf("ClassifyVerb(%q) = %v, want %v", verb, got, want)
		}
	}
}

func TestAPCostTravelPerHop(t *testing.T) {
	if got := APCost("travel", map[string]interface{}{"via": []interface{}{"l1", "l2", "l3"}}); got != 3 {
		t.Fatalf("expected 3 AP for a 3-hop travel, got %d", got)
	}
	if got := APCost("look", nil); got != 1 {
		t.Fatalf("expected 1 AP for an instant verb, got %d", got)
	}
	if got := APCost("buy_ap", nil); got != 0 {
		t.Fatalf("expected 0 AP for a free verb, got %d", got)
	}
}

func TestHomeNodePermissionsSubstituteForOwner(t *testing.T) {
	store := newTestStore()
	home := mustCreateInstance(t, store, domain.Instance{
		ID:                  "home-1",
		Kind:                domain.KindNode,
		PermissionsOverride: HomeNodePermissions("alice"),
	})
	alice := mustCreateAgent(t, store, domain.Agent{ID: "agent-alice", Username: "alice"})
	mustCreateAgent(t, store, domain.Agent{ID: "agent-bob", Username: "bob"})

	if !perm.Check(store, alice.ID, home, "edit") {
		t.Fatalf("home node owner must pass an edit check")
	}
	if perm.Check(store, "agent-bob", home, "edit") {
		t.Fatalf("non-owner must not pass a home node edit check")
	}
	if perm.Check(store, alice.ID, home, "delete") {
		t.Fatalf("a home node may never be deleted, even by its owner")
	}
}

func TestStockDefaultPermissionsOwnerByDefault(t *testing.T) {
	defaults := StockDefaultPermissions()
	for _, key := range []string{"interact", "edit", "delete", "perms", "contain"} {
		rule, ok := defaults[key]
		if !ok {
			t.Fatalf("missing default rule for %q", key)
		}
		if rule.Kind != domain.PermOwner {
			t.Fatalf("expected owner rule for %q, got %v", key, rule.Kind)
		}
	}
	if defaults["inspect"].Kind != domain.PermAny {
		t.Fatalf("expected inspect to default to any")
	}
}

func TestIsPolicyError(t *testing.T) {
	if !IsPolicyError(Result{"error": "no AP remaining"}) {
		t.Fatalf("AP exhaustion should be a policy error")
	}
	if IsPolicyError(Result{"error": "not found"}) {
		t.Fatalf("lookup errors are not policy errors")
	}
	if IsPolicyError(Result{}) {
		t.Fatalf("a result with no error is not a policy error")
	}
}

func TestClampPerception(t *testing.T) {
	if got := clampPerception(-5); got != 1 {
		t.Fatalf("expected floor of 1, got %d", got)
	}
	if got := clampPerception(500); got != 100 {
		t.Fatalf("expected cap at 100, got %d", got)
	}
	if got := clampPerception(10); got != 10 {
		t.Fatalf("expected passthrough, got %d", got)
	}
}
