package app

import (
	"testing"

	"github.com/Shoalstone/MASH/internal/app/storage"
	"github.com/Shoalstone/MASH/internal/app/tick"
)

func testTickConfig() tick.Config {
	return tick.Config{
		TickIntervalMS:         10000,
		MaxAP:                  4,
		MaxBuyAP:               20,
		MaxContainmentDepth:    5,
		MaxInteractionsPerTick: 4,
		IdleTimeoutMS:          3600000,
		EventTTLMS:             60000,
	}
}

func TestSignupCreatesHomeAndSystemInstances(t *testing.T) {
	application := New(storage.NewMemory(), testTickConfig(), nil)

	agentID, token, homeNodeID, err := application.Signup("alice", "hunter2")
	if err != nil {
		t.Fatalf("Signup: %v", err)
	}
	if agentID == "" || token == "" || homeNodeID == "" {
		t.Fatalf("expected non-empty agent id, token, and home node id")
	}

	agent, ok := application.Store.GetAgent(agentID)
	if !ok {
		t.Fatalf("expected agent to be persisted")
	}
	if agent.HomeNodeID != homeNodeID || agent.CurrentNodeID != homeNodeID {
		t.Fatalf("expected the new agent to start at its home node")
	}
	if agent.AP != application.Limits.MaxAP {
		t.Fatalf("expected starting AP to equal MaxAP, got %d", agent.AP)
	}

	children := application.Store.ListInstancesByContainer("instance", homeNodeID)
	if len(children) != 2 {
		t.Fatalf("expected a random_link and a link_index on the home node, got %d", len(children))
	}
}

func TestSignupRejectsDuplicateUsername(t *testing.T) {
	application := New(storage.NewMemory(), testTickConfig(), nil)
	if _, _, _, err := application.Signup("alice", "hunter2"); err != nil {
		t.Fatalf("first signup: %v", err)
	}
	if _, _, _, err := application.Signup("alice", "different"); err == nil {
		t.Fatalf("expected duplicate username to be rejected")
	}
}

func TestLoginRotatesToken(t *testing.T) {
	application := New(storage.NewMemory(), testTickConfig(), nil)
	agentID, firstToken, _, err := application.Signup("alice", "hunter2")
	if err != nil {
		t.Fatalf("Signup: %v", err)
	}

	_, secondToken, err := application.Login("alice", "hunter2")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if secondToken == firstToken {
		t.Fatalf("expected login to mint a new token")
	}

	if _, ok := application.Authenticate(firstToken); ok {
		t.Fatalf("expected the signup token to be invalidated by login")
	}
	agent, ok := application.Authenticate(secondToken)
	if !ok || agent.ID != agentID {
		t.Fatalf("expected the new token to authenticate as the same agent")
	}
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	application := New(storage.NewMemory(), testTickConfig(), nil)
	if _, _, _, err := application.Signup("alice", "hunter2"); err != nil {
		t.Fatalf("Signup: %v", err)
	}
	if _, _, err := application.Login("alice", "wrong"); err == nil {
		t.Fatalf("expected wrong password to be rejected")
	}
}

// TestAuthenticateRestoresLimboAgentToHome covers §3/§4.E phase 2/the
// Glossary's "Limbo" entry: an agent idle-reaped into limbo is restored to
// its home node on its next authenticated request.
func TestAuthenticateRestoresLimboAgentToHome(t *testing.T) {
	application := New(storage.NewMemory(), testTickConfig(), nil)
	agentID, token, homeNodeID, err := application.Signup("alice", "hunter2")
	if err != nil {
		t.Fatalf("Signup: %v", err)
	}

	agent, _ := application.Store.GetAgent(agentID)
	agent.CurrentNodeID = ""
	if err := application.Store.UpdateAgent(agent); err != nil {
		t.Fatalf("force agent into limbo: %v", err)
	}

	authenticated, ok := application.Authenticate(token)
	if !ok {
		t.Fatalf("expected token to still authenticate while in limbo")
	}
	if authenticated.CurrentNodeID != homeNodeID {
		t.Fatalf("expected limbo agent restored to home node %q, got %q", homeNodeID, authenticated.CurrentNodeID)
	}

	persisted, _ := application.Store.GetAgent(agentID)
	if persisted.CurrentNodeID != homeNodeID {
		t.Fatalf("expected the restoration to be persisted, got %q", persisted.CurrentNodeID)
	}
}
