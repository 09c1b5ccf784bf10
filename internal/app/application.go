// Package app wires the world runtime's components together: the entity
// store, the tick engine, and the thin account/signup glue the HTTP
// transport needs but which sits outside the six scored core components.
package app

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/Shoalstone/MASH/internal/app/actions"
	"github.com/Shoalstone/MASH/internal/app/domain"
	"github.com/Shoalstone/MASH/internal/app/storage"
	"github.com/Shoalstone/MASH/internal/app/system"
	"github.com/Shoalstone/MASH/internal/app/tick"
	"github.com/Shoalstone/MASH/pkg/logger"
	"golang.org/x/crypto/bcrypt"
)

// Application bundles the store, tick engine, and lifecycle manager that
// cmd/mashd assembles and the HTTP transport consumes.
type Application struct {
	Store   storage.Store
	Tick    *tick.Engine
	Manager *system.Manager
	Limits  actions.Limits
	Log     *logger.Logger
}

// New wires a store and tick configuration into a ready-to-start Application.
// The tick engine is registered with the manager; callers add the HTTP
// service themselves once it's constructed (it needs Application.Store).
func New(store storage.Store, tickCfg tick.Config, log *logger.Logger) *Application {
	if log == nil {
		log = logger.NewDefault("app")
	}
	engine := tick.New(store, tickCfg, log)
	mgr := system.NewManager()
	mgr.Register(engine)

	return &Application{
		Store:   store,
		Tick:    engine,
		Manager: mgr,
		Limits: actions.Limits{
			MaxAP:               tickCfg.MaxAP,
			MaxBuyAP:            tickCfg.MaxBuyAP,
			MaxContainmentDepth: tickCfg.MaxContainmentDepth,
		},
		Log: log,
	}
}

// newToken mints a random opaque bearer token and returns it alongside the
// SHA-256 hash stored for lookup (§3 "authentication token [opaque,
// rotatable]"). The raw token is shown to the caller exactly once.
func newToken() (raw, hash string, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", err
	}
	raw = hex.EncodeToString(buf)
	sum := sha256.Sum256([]byte(raw))
	hash = hex.EncodeToString(sum[:])
	return raw, hash, nil
}

// Signup creates a new agent account: a bcrypt-hashed password, a home
// node with the fixed permission set of §3, and the two system instances
// (random_link, link_index) every home node carries.
func (a *Application) Signup(username, password string) (agentID, token, homeNodeID string, err error) {
	if username == "" || password == "" {
		return "", "", "", fmt.Errorf("username and password required")
	}

	a.Store.Lock()
	defer a.Store.Unlock()

	if _, exists := a.Store.GetAgentByUsername(username); exists {
		return "", "", "", fmt.Errorf("username taken")
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", "", "", err
	}
	raw, hash, err := newToken()
	if err != nil {
		return "", "", "", err
	}

	home := domain.Instance{
		ID:                  a.Store.NewID(),
		Kind:                domain.KindNode,
		ShortDescription:    fmt.Sprintf("%s's home", username),
		LongDescription:     fmt.Sprintf("The quiet, private home of %s.", username),
		Fields:              domain.Fields{},
		PermissionsOverride: actions.HomeNodePermissions(username),
	}
	if err := a.Store.CreateInstance(home); err != nil {
		return "", "", "", err
	}

	randomLink := domain.Instance{
		ID:                  a.Store.NewID(),
		Kind:                domain.KindLink,
		ShortDescription:    "a shimmering portal",
		LongDescription:     "A portal that shimmers with possibility, leading somewhere new each time.",
		Fields:              domain.Fields{},
		PermissionsOverride: domain.Permissions{"interact": {Kind: domain.PermAny}},
		Container:           domain.ContainerRef{Kind: domain.ContainerInstance, ID: home.ID},
		SystemType:          domain.SystemRandomLink,
	}
	if err := a.Store.CreateInstance(randomLink); err != nil {
		return "", "", "", err
	}

	linkIndex := domain.Instance{
		ID:                  a.Store.NewID(),
		Kind:                domain.KindThing,
		ShortDescription:    "a glowing directory",
		LongDescription:     "A glowing directory listing the destinations you've recently travelled to.",
		Fields:              domain.Fields{},
		PermissionsOverride: domain.Permissions{"interact": {Kind: domain.PermAny}},
		Container:           domain.ContainerRef{Kind: domain.ContainerInstance, ID: home.ID},
		SystemType:          domain.SystemLinkIndex,
	}
	if err := a.Store.CreateInstance(linkIndex); err != nil {
		return "", "", "", err
	}

	agent := domain.Agent{
		ID:               a.Store.NewID(),
		Username:         username,
		PasswordHash:     string(passwordHash),
		TokenHash:        hash,
		CurrentNodeID:    home.ID,
		HomeNodeID:       home.ID,
		AP:               a.Limits.MaxAP,
		ShortDescription: fmt.Sprintf("%s, a traveler", username),
		LongDescription:  "A traveler who has just arrived.",
		PerceptionAgents: 20,
		PerceptionLinks:  20,
		PerceptionThings: 20,
		SeeBroadcasts:    true,
	}
	if err := a.Store.CreateAgent(agent); err != nil {
		return "", "", "", err
	}

	return agent.ID, raw, home.ID, nil
}

// Login verifies a password and rotates the agent's bearer token.
func (a *Application) Login(username, password string) (agentID, token string, err error) {
	a.Store.Lock()
	defer a.Store.Unlock()

	agent, ok := a.Store.GetAgentByUsername(username)
	if !ok {
		return "", "", fmt.Errorf("invalid credentials")
	}
	if bcrypt.CompareHashAndPassword([]byte(agent.PasswordHash), []byte(password)) != nil {
		return "", "", fmt.Errorf("invalid credentials")
	}

	raw, hash, err := newToken()
	if err != nil {
		return "", "", err
	}
	agent.TokenHash = hash
	if err := a.Store.UpdateAgent(agent); err != nil {
		return "", "", err
	}
	return agent.ID, raw, nil
}

// Authenticate resolves a bearer token to its agent, per §6 "Authentication:
// Authorization: Bearer <token>". An agent found in limbo (current_node_id
// cleared by the idle reaper, §4.E phase 2) is restored to its home node
// here, since §3/§4.E/the Glossary all specify limbo ends "on next
// authenticated request".
func (a *Application) Authenticate(token string) (domain.Agent, bool) {
	sum := sha256.Sum256([]byte(token))
	hash := hex.EncodeToString(sum[:])
	a.Store.Lock()
	defer a.Store.Unlock()
	agent, ok := a.Store.GetAgentByTokenHash(hash)
	if !ok {
		return agent, false
	}
	if agent.CurrentNodeID == "" {
		if home, ok := a.Store.GetInstance(agent.HomeNodeID); ok && !home.IsVoid && !home.IsDestroyed {
			agent.CurrentNodeID = home.ID
			_ = a.Store.UpdateAgent(agent)
		}
	}
	return agent, true
}
