// Package storage defines the Entity Store (component A): typed access to
// agents, templates, instances, the action queue, events, link-usage
// records and world state, behind a single serialising lock.
package storage

import "github.com/Shoalstone/MASH/internal/app/domain"

// Store is the full surface the rest of the runtime needs. Callers that
// perform more than one operation as a logical unit (a queued action, a
// DSL fire, a tick phase) must hold Lock for the duration so the whole
// sequence is observed as one atomic step by everyone else, matching the
// single-writer model of §5.
type Store interface {
	Lock()
	Unlock()

	NewID() string

	WorldState() domain.WorldState
	SaveWorldState(ws domain.WorldState)

	CreateAgent(a domain.Agent) error
	GetAgent(id string) (domain.Agent, bool)
	GetAgentByUsername(username string) (domain.Agent, bool)
	GetAgentByTokenHash(hash string) (domain.Agent, bool)
	UpdateAgent(a domain.Agent) error
	ListAgents() []domain.Agent

	CreateTemplate(t domain.Template) error
	GetTemplate(id string) (domain.Template, bool)
	UpdateTemplate(t domain.Template) error
	DeleteTemplate(id string) error
	ListTemplatesByOwner(owner string) []domain.Template

	CreateInstance(i domain.Instance) error
	GetInstance(id string) (domain.Instance, bool)
	UpdateInstance(i domain.Instance) error
	ListInstancesByContainer(kind domain.ContainerKind, id string) []domain.Instance
	ListInstancesByTemplate(templateID string) []domain.Instance
	ListAllInstances() []domain.Instance
	NextCreationOrdinal() int64

	Enqueue(e domain.ActionQueueEntry) int64
	DueQueueEntries(tick int64) []domain.ActionQueueEntry
	DeleteQueueEntry(ordinal int64)

	AppendEvent(e domain.Event) int64
	DrainEvents(agentID string, limit int) []domain.Event
	DeleteEventsOlderThan(cutoffMS int64)

	RecordLinkUsage(r domain.LinkUsageRecord) int64
	RecentLinkUsage(agentID string, limit int) []domain.LinkUsageRecord
}
