package storage

import (
	"sort"
	"sync"

	"github.com/Shoalstone/MASH/internal/app/domain"
	"github.com/google/uuid"
)

// Memory is the default, in-process Store implementation. It is the
// substrate every package's tests run against.
type Memory struct {
	mu sync.Mutex

	world domain.WorldState

	agents       map[string]domain.Agent
	templates    map[string]domain.Template
	instances    map[string]domain.Instance
	queue        map[int64]domain.ActionQueueEntry
	events       map[int64]domain.Event
	linkUsage    []domain.LinkUsageRecord
	nextOrdinal  int64
	nextCreation int64
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		agents:    make(map[string]domain.Agent),
		templates: make(map[string]domain.Template),
		instances: make(map[string]domain.Instance),
		queue:     make(map[int64]domain.ActionQueueEntry),
		events:    make(map[int64]domain.Event),
	}
}

func (m *Memory) Lock()   { m.mu.Lock() }
func (m *Memory) Unlock() { m.mu.Unlock() }

func (m *Memory) NewID() string { return uuid.NewString() }

func (m *Memory) WorldState() domain.WorldState { return m.world }

func (m *Memory) SaveWorldState(ws domain.WorldState) { m.world = ws }

func (m *Memory) CreateAgent(a domain.Agent) error {
	m.agents[a.ID] = cloneAgent(a)
	return nil
}

func (m *Memory) GetAgent(id string) (domain.Agent, bool) {
	a, ok := m.agents[id]
	return cloneAgent(a), ok
}

func (m *Memory) GetAgentByUsername(username string) (domain.Agent, bool) {
	for _, a := range m.agents {
		if a.Username == username {
			return cloneAgent(a), true
		}
	}
	return domain.Agent{}, false
}

func (m *Memory) GetAgentByTokenHash(hash string) (domain.Agent, bool) {
	for _, a := range m.agents {
		if a.TokenHash == hash {
			return cloneAgent(a), true
		}
	}
	return domain.Agent{}, false
}

func (m *Memory) UpdateAgent(a domain.Agent) error {
	if _, ok := m.agents[a.ID]; !ok {
		return errNotFound("agent", a.ID)
	}
	m.agents[a.ID] = cloneAgent(a)
	return nil
}

func (m *Memory) ListAgents() []domain.Agent {
	out := make([]domain.Agent, 0, len(m.agents))
	for _, a := range m.agents {
		out = append(out, cloneAgent(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Memory) CreateTemplate(t domain.Template) error {
	m.templates[t.ID] = cloneTemplate(t)
	return nil
}

func (m *Memory) GetTemplate(id string) (domain.Template, bool) {
	t, ok := m.templates[id]
	return cloneTemplate(t), ok
}

func (m *Memory) UpdateTemplate(t domain.Template) error {
	if _, ok := m.templates[t.ID]; !ok {
		return errNotFound("template", t.ID)
	}
	m.templates[t.ID] = cloneTemplate(t)
	return nil
}

func (m *Memory) DeleteTemplate(id string) error {
	delete(m.templates, id)
	return nil
}

func (m *Memory) ListTemplatesByOwner(owner string) []domain.Template {
	var out []domain.Template
	for _, t := range m.templates {
		if t.OwnerAgentID == owner {
			out = append(out, cloneTemplate(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Memory) CreateInstance(i domain.Instance) error {
	if i.CreatedOrdinal == 0 {
		m.nextCreation++
		i.CreatedOrdinal = m.nextCreation
	}
	m.instances[i.ID] = cloneInstance(i)
	return nil
}

func (m *Memory) GetInstance(id string) (domain.Instance, bool) {
	i, ok := m.instances[id]
	return cloneInstance(i), ok
}

func (m *Memory) UpdateInstance(i domain.Instance) error {
	existing, ok := m.instances[i.ID]
	if !ok {
		return errNotFound("instance", i.ID)
	}
	if i.CreatedOrdinal == 0 {
		i.CreatedOrdinal = existing.CreatedOrdinal
	}
	m.instances[i.ID] = cloneInstance(i)
	return nil
}

func (m *Memory) ListInstancesByContainer(kind domain.ContainerKind, id string) []domain.Instance {
	var out []domain.Instance
	for _, i := range m.instances {
		if i.Container.Kind == kind && i.Container.ID == id {
			out = append(out, cloneInstance(i))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedOrdinal < out[j].CreatedOrdinal })
	return out
}

func (m *Memory) ListInstancesByTemplate(templateID string) []domain.Instance {
	var out []domain.Instance
	for _, i := range m.instances {
		if i.TemplateID == templateID {
			out = append(out, cloneInstance(i))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedOrdinal < out[j].CreatedOrdinal })
	return out
}

func (m *Memory) ListAllInstances() []domain.Instance {
	out := make([]domain.Instance, 0, len(m.instances))
	for _, i := range m.instances {
		out = append(out, cloneInstance(i))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedOrdinal < out[j].CreatedOrdinal })
	return out
}

func (m *Memory) NextCreationOrdinal() int64 {
	m.nextCreation++
	return m.nextCreation
}

func (m *Memory) Enqueue(e domain.ActionQueueEntry) int64 {
	m.nextOrdinal++
	e.Ordinal = m.nextOrdinal
	m.queue[e.Ordinal] = e
	return e.Ordinal
}

func (m *Memory) DueQueueEntries(tick int64) []domain.ActionQueueEntry {
	var out []domain.ActionQueueEntry
	for _, e := range m.queue {
		if e.TickNumber <= tick {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ordinal < out[j].Ordinal })
	return out
}

func (m *Memory) DeleteQueueEntry(ordinal int64) { delete(m.queue, ordinal) }

func (m *Memory) AppendEvent(e domain.Event) int64 {
	m.nextOrdinal++
	e.Ordinal = m.nextOrdinal
	m.events[e.Ordinal] = e
	return e.Ordinal
}

func (m *Memory) DrainEvents(agentID string, limit int) []domain.Event {
	var out []domain.Event
	for _, e := range m.events {
		if e.AgentID == agentID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ordinal < out[j].Ordinal })
	if len(out) > limit {
		out = out[:limit]
	}
	for _, e := range out {
		delete(m.events, e.Ordinal)
	}
	return out
}

func (m *Memory) DeleteEventsOlderThan(cutoffMS int64) {
	for ord, e := range m.events {
		if e.CreatedAt < cutoffMS {
			delete(m.events, ord)
		}
	}
}

func (m *Memory) RecordLinkUsage(r domain.LinkUsageRecord) int64 {
	m.nextOrdinal++
	r.Ordinal = m.nextOrdinal
	m.linkUsage = append(m.linkUsage, r)
	return r.Ordinal
}

func (m *Memory) RecentLinkUsage(agentID string, limit int) []domain.LinkUsageRecord {
	var out []domain.LinkUsageRecord
	for _, r := range m.linkUsage {
		if r.AgentID == agentID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UsedAt > out[j].UsedAt })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func cloneAgent(a domain.Agent) domain.Agent { return a }

func cloneTemplate(t domain.Template) domain.Template {
	t.DefaultFields = t.DefaultFields.Clone()
	t.DefaultPermissions = t.DefaultPermissions.Clone()
	interactions := make([]domain.Interaction, len(t.Interactions))
	copy(interactions, t.Interactions)
	t.Interactions = interactions
	return t
}

func cloneInstance(i domain.Instance) domain.Instance {
	i.Fields = i.Fields.Clone()
	i.PermissionsOverride = i.PermissionsOverride.Clone()
	return i
}
