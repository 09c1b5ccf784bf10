// Package postgres adapts storage.Store onto a PostgreSQL database, storing
// each entity's variable fields as a JSONB blob alongside a handful of
// indexed columns used for lookups. This keeps the schema small while still
// giving the store real durability, grounded on the teacher's
// lib/pq-based persistence layer.
package postgres

import (
	"database/sql"
	"encoding/json"
	"sort"
	"sync"

	"github.com/Shoalstone/MASH/internal/app/domain"
	"github.com/Shoalstone/MASH/internal/app/storage"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

// Store is a storage.Store backed by PostgreSQL.
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

// New wraps an already-connected *sql.DB (see internal/platform/database).
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Lock()   { s.mu.Lock() }
func (s *Store) Unlock() { s.mu.Unlock() }

func (s *Store) NewID() string { return uuid.NewString() }

func (s *Store) WorldState() domain.WorldState {
	var data []byte
	row := s.db.QueryRow(`SELECT value FROM world_state WHERE key = 'world'`)
	if err := row.Scan(&data); err != nil {
		return domain.WorldState{}
	}
	var ws domain.WorldState
	_ = json.Unmarshal(data, &ws)
	return ws
}

func (s *Store) SaveWorldState(ws domain.WorldState) {
	data, _ := json.Marshal(ws)
	_, _ = s.db.Exec(`INSERT INTO world_state (key, value) VALUES ('world', $1)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, data)
}

type agentRow struct {
	ID                  string `json:"id"`
	Username            string `json:"username"`
	PasswordHash        string `json:"password_hash"`
	TokenHash           string `json:"token_hash"`
	CurrentNodeID       string `json:"current_node_id"`
	HomeNodeID          string `json:"home_node_id"`
	AP                  int    `json:"ap"`
	PurchasedAPThisTick int    `json:"purchased_ap_this_tick"`
	ShortDescription    string `json:"short_description"`
	LongDescription     string `json:"long_description"`
	PerceptionAgents    int    `json:"perception_agents"`
	PerceptionLinks     int    `json:"perception_links"`
	PerceptionThings    int    `json:"perception_things"`
	SeeBroadcasts       bool   `json:"see_broadcasts"`
	LastActiveAtMS      int64  `json:"last_active_at_ms"`
}

func toAgentRow(a domain.Agent) agentRow {
	return agentRow{
		ID: a.ID, Username: a.Username, PasswordHash: a.PasswordHash, TokenHash: a.TokenHash,
		CurrentNodeID: a.CurrentNodeID, HomeNodeID: a.HomeNodeID,
		AP: a.AP, PurchasedAPThisTick: a.PurchasedAPThisTick,
		ShortDescription: a.ShortDescription, LongDescription: a.LongDescription,
		PerceptionAgents: a.PerceptionAgents, PerceptionLinks: a.PerceptionLinks,
		PerceptionThings: a.PerceptionThings, SeeBroadcasts: a.SeeBroadcasts,
		LastActiveAtMS: a.LastActiveAtMS,
	}
}

func (r agentRow) toDomain() domain.Agent {
	return domain.Agent{
		ID: r.ID, Username: r.Username, PasswordHash: r.PasswordHash, TokenHash: r.TokenHash,
		CurrentNodeID: r.CurrentNodeID, HomeNodeID: r.HomeNodeID,
		AP: r.AP, PurchasedAPThisTick: r.PurchasedAPThisTick,
		ShortDescription: r.ShortDescription, LongDescription: r.LongDescription,
		PerceptionAgents: r.PerceptionAgents, PerceptionLinks: r.PerceptionLinks,
		PerceptionThings: r.PerceptionThings, SeeBroadcasts: r.SeeBroadcasts,
		LastActiveAtMS: r.LastActiveAtMS,
	}
}

func (s *Store) CreateAgent(a domain.Agent) error {
	data, err := json.Marshal(toAgentRow(a))
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO agents (id, name, token_hash, home_instance_id, current_instance_id, ap, purchased_ap_this_tick, data)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		a.ID, a.Username, a.TokenHash, a.HomeNodeID, a.CurrentNodeID, a.AP, a.PurchasedAPThisTick, data)
	return err
}

func (s *Store) scanAgent(row *sql.Row) (domain.Agent, bool) {
	var data []byte
	if err := row.Scan(&data); err != nil {
		return domain.Agent{}, false
	}
	var r agentRow
	if err := json.Unmarshal(data, &r); err != nil {
		return domain.Agent{}, false
	}
	return r.toDomain(), true
}

func (s *Store) GetAgent(id string) (domain.Agent, bool) {
	return s.scanAgent(s.db.QueryRow(`SELECT data FROM agents WHERE id = $1`, id))
}

func (s *Store) GetAgentByUsername(username string) (domain.Agent, bool) {
	return s.scanAgent(s.db.QueryRow(`SELECT data FROM agents WHERE name = $1`, username))
}

func (s *Store) GetAgentByTokenHash(hash string) (domain.Agent, bool) {
	return s.scanAgent(s.db.QueryRow(`SELECT data FROM agents WHERE token_hash = $1`, hash))
}

func (s *Store) UpdateAgent(a domain.Agent) error {
	data, err := json.Marshal(toAgentRow(a))
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`UPDATE agents SET token_hash=$2, home_instance_id=$3, current_instance_id=$4, ap=$5, purchased_ap_this_tick=$6, data=$7
		WHERE id = $1`, a.ID, a.TokenHash, a.HomeNodeID, a.CurrentNodeID, a.AP, a.PurchasedAPThisTick, data)
	return err
}

func (s *Store) ListAgents() []domain.Agent {
	rows, err := s.db.Query(`SELECT data FROM agents ORDER BY id`)
	if err != nil {
		return nil
	}
	defer rows.Close()
	var out []domain.Agent
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			continue
		}
		var r agentRow
		if err := json.Unmarshal(data, &r); err == nil {
			out = append(out, r.toDomain())
		}
	}
	return out
}

func (s *Store) CreateTemplate(t domain.Template) error {
	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO templates (id, kind, data) VALUES ($1,$2,$3)`, t.ID, string(t.Kind), data)
	return err
}

func (s *Store) scanTemplate(row *sql.Row) (domain.Template, bool) {
	var data []byte
	if err := row.Scan(&data); err != nil {
		return domain.Template{}, false
	}
	var t domain.Template
	if err := json.Unmarshal(data, &t); err != nil {
		return domain.Template{}, false
	}
	return t, true
}

func (s *Store) GetTemplate(id string) (domain.Template, bool) {
	return s.scanTemplate(s.db.QueryRow(`SELECT data FROM templates WHERE id = $1`, id))
}

func (s *Store) UpdateTemplate(t domain.Template) error {
	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`UPDATE templates SET kind=$2, data=$3 WHERE id = $1`, t.ID, string(t.Kind), data)
	return err
}

func (s *Store) DeleteTemplate(id string) error {
	_, err := s.db.Exec(`DELETE FROM templates WHERE id = $1`, id)
	return err
}

func (s *Store) ListTemplatesByOwner(owner string) []domain.Template {
	rows, err := s.db.Query(`SELECT data FROM templates ORDER BY id`)
	if err != nil {
		return nil
	}
	defer rows.Close()
	var out []domain.Template
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			continue
		}
		var t domain.Template
		if err := json.Unmarshal(data, &t); err == nil && t.OwnerAgentID == owner {
			out = append(out, t)
		}
	}
	return out
}

func (s *Store) CreateInstance(i domain.Instance) error {
	if i.CreatedOrdinal == 0 {
		i.CreatedOrdinal = s.NextCreationOrdinal()
	}
	data, err := json.Marshal(i)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO instances (id, template_id, kind, data) VALUES ($1,$2,$3,$4)`,
		i.ID, i.TemplateID, string(i.Kind), data)
	return err
}

func (s *Store) scanInstance(row *sql.Row) (domain.Instance, bool) {
	var data []byte
	if err := row.Scan(&data); err != nil {
		return domain.Instance{}, false
	}
	var i domain.Instance
	if err := json.Unmarshal(data, &i); err != nil {
		return domain.Instance{}, false
	}
	return i, true
}

func (s *Store) GetInstance(id string) (domain.Instance, bool) {
	return s.scanInstance(s.db.QueryRow(`SELECT data FROM instances WHERE id = $1`, id))
}

func (s *Store) UpdateInstance(i domain.Instance) error {
	data, err := json.Marshal(i)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`UPDATE instances SET template_id=$2, kind=$3, data=$4 WHERE id = $1`,
		i.ID, i.TemplateID, string(i.Kind), data)
	return err
}

func (s *Store) allInstances() []domain.Instance {
	rows, err := s.db.Query(`SELECT data FROM instances`)
	if err != nil {
		return nil
	}
	defer rows.Close()
	var out []domain.Instance
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			continue
		}
		var i domain.Instance
		if err := json.Unmarshal(data, &i); err == nil {
			out = append(out, i)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedOrdinal < out[b].CreatedOrdinal })
	return out
}

func (s *Store) ListInstancesByContainer(kind domain.ContainerKind, id string) []domain.Instance {
	var out []domain.Instance
	for _, i := range s.allInstances() {
		if i.Container.Kind == kind && i.Container.ID == id {
			out = append(out, i)
		}
	}
	return out
}

func (s *Store) ListInstancesByTemplate(templateID string) []domain.Instance {
	var out []domain.Instance
	for _, i := range s.allInstances() {
		if i.TemplateID == templateID {
			out = append(out, i)
		}
	}
	return out
}

func (s *Store) ListAllInstances() []domain.Instance { return s.allInstances() }

func (s *Store) NextCreationOrdinal() int64 {
	var next int64
	row := s.db.QueryRow(`SELECT COALESCE(MAX((data->>'CreatedOrdinal')::bigint), 0) + 1 FROM instances`)
	if err := row.Scan(&next); err != nil {
		return 1
	}
	return next
}

func (s *Store) Enqueue(e domain.ActionQueueEntry) int64 {
	args, _ := json.Marshal(e.Params)
	row := s.db.QueryRow(`INSERT INTO action_queue (agent_id, verb, args, ready_at_tick) VALUES ($1,$2,$3,$4) RETURNING ordinal`,
		e.AgentID, e.Verb, args, e.TickNumber)
	var ordinal int64
	_ = row.Scan(&ordinal)
	return ordinal
}

func (s *Store) DueQueueEntries(tick int64) []domain.ActionQueueEntry {
	rows, err := s.db.Query(`SELECT ordinal, agent_id, verb, args, ready_at_tick FROM action_queue WHERE ready_at_tick <= $1 ORDER BY ordinal`, tick)
	if err != nil {
		return nil
	}
	defer rows.Close()
	var out []domain.ActionQueueEntry
	for rows.Next() {
		var e domain.ActionQueueEntry
		var args []byte
		if err := rows.Scan(&e.Ordinal, &e.AgentID, &e.Verb, &args, &e.TickNumber); err != nil {
			continue
		}
		_ = json.Unmarshal(args, &e.Params)
		out = append(out, e)
	}
	return out
}

func (s *Store) DeleteQueueEntry(ordinal int64) {
	_, _ = s.db.Exec(`DELETE FROM action_queue WHERE ordinal = $1`, ordinal)
}

func (s *Store) AppendEvent(e domain.Event) int64 {
	payload, _ := json.Marshal(map[string]interface{}{"type": e.Type, "data": e.Data})
	row := s.db.QueryRow(`INSERT INTO events (agent_id, tick, payload, expires_at_tick) VALUES ($1,$2,$3,$4) RETURNING ordinal`,
		e.AgentID, 0, payload, e.CreatedAt)
	var ordinal int64
	_ = row.Scan(&ordinal)
	return ordinal
}

func (s *Store) DrainEvents(agentID string, limit int) []domain.Event {
	rows, err := s.db.Query(`SELECT ordinal, payload, expires_at_tick FROM events WHERE agent_id = $1 ORDER BY ordinal LIMIT $2`, agentID, limit)
	if err != nil {
		return nil
	}
	var out []domain.Event
	var ordinals []int64
	for rows.Next() {
		var ordinal, createdAt int64
		var payload []byte
		if err := rows.Scan(&ordinal, &payload, &createdAt); err != nil {
			continue
		}
		var wrapper struct {
			Type domain.EventType       `json:"type"`
			Data map[string]interface{} `json:"data"`
		}
		_ = json.Unmarshal(payload, &wrapper)
		out = append(out, domain.Event{Ordinal: ordinal, AgentID: agentID, Type: wrapper.Type, Data: wrapper.Data, CreatedAt: createdAt})
		ordinals = append(ordinals, ordinal)
	}
	rows.Close()
	for _, ord := range ordinals {
		_, _ = s.db.Exec(`DELETE FROM events WHERE ordinal = $1`, ord)
	}
	return out
}

func (s *Store) DeleteEventsOlderThan(cutoffMS int64) {
	_, _ = s.db.Exec(`DELETE FROM events WHERE expires_at_tick < $1`, cutoffMS)
}

func (s *Store) RecordLinkUsage(r domain.LinkUsageRecord) int64 {
	row := s.db.QueryRow(`INSERT INTO link_usage (agent_id, link_instance_id, destination_node_id, destination_node_name, used_at_tick) VALUES ($1,$2,$3,$4,$5) RETURNING ordinal`,
		r.AgentID, r.LinkID, r.DestinationNodeID, r.DestinationNodeName, r.UsedAt)
	var ordinal int64
	_ = row.Scan(&ordinal)
	return ordinal
}

func (s *Store) RecentLinkUsage(agentID string, limit int) []domain.LinkUsageRecord {
	rows, err := s.db.Query(`SELECT ordinal, link_instance_id, destination_node_id, destination_node_name, used_at_tick FROM link_usage WHERE agent_id = $1 ORDER BY used_at_tick DESC LIMIT $2`, agentID, limit)
	if err != nil {
		return nil
	}
	defer rows.Close()
	var out []domain.LinkUsageRecord
	for rows.Next() {
		var r domain.LinkUsageRecord
		r.AgentID = agentID
		if err := rows.Scan(&r.Ordinal, &r.LinkID, &r.DestinationNodeID, &r.DestinationNodeName, &r.UsedAt); err != nil {
			continue
		}
		out = append(out, r)
	}
	return out
}
