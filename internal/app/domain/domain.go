// Package domain holds the plain entity structs that make up the MASH world
// model: agents, templates, instances, and the supporting ledger rows
// (action-queue entries, events, link-usage records, world state).
package domain

// Kind distinguishes the three flavors of template/instance.
type Kind string

const (
	KindNode  Kind = "node"
	KindLink  Kind = "link"
	KindThing Kind = "thing"
)

// SystemType marks instances whose behaviour is wired into the runtime
// instead of coming from a template (the two system instances every home
// node receives at signup).
type SystemType string

const (
	SystemNone       SystemType = "none"
	SystemRandomLink SystemType = "random_link"
	SystemLinkIndex  SystemType = "link_index"
)

// Fields is the free-form custom-field mapping carried by templates and
// instances. Values are the JSON scalar/array/object zoo decoded via
// encoding/json (string, float64, bool, nil, []interface{}, map[string]interface{}).
type Fields map[string]interface{}

// Clone returns a shallow copy safe to hand to a caller without aliasing the
// store's map.
func (f Fields) Clone() Fields {
	if f == nil {
		return Fields{}
	}
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// PermKind enumerates the permission rule grammar of §4.B.
type PermKind string

const (
	PermAny   PermKind = "any"
	PermNone  PermKind = "none"
	PermOwner PermKind = "owner"
	PermNode  PermKind = "node"
	PermList  PermKind = "list"
)

// PermRule is one entry of a permissions mapping. List is only meaningful
// when Kind == PermList.
type PermRule struct {
	Kind PermKind
	List []string
}

// Permissions is a sparse mapping of permission key (e.g. "interact", "edit",
// "contain", "delete", "perms") to rule.
type Permissions map[string]PermRule

func (p Permissions) Clone() Permissions {
	if p == nil {
		return Permissions{}
	}
	out := make(Permissions, len(p))
	for k, v := range p {
		list := append([]string(nil), v.List...)
		out[k] = PermRule{Kind: v.Kind, List: list}
	}
	return out
}

// Condition is one entry of an interaction rule's `if` list.
type Condition struct {
	Op   string
	Args []interface{} // for Op=="not", Args[0] is a *Condition
}

// Effect is a single tagged-tuple effect (set/add/say/take/give/move/create/destroy/perm/deny).
type Effect struct {
	Op   string
	Args []interface{}
}

// EffectEntry is either a primitive Effect or a nested conditional Block.
type EffectEntry struct {
	Block *Block
	Leaf  *Effect
}

// Block mirrors an interaction rule's shape minus `on`, for nested
// conditionals inside a `do`/`else` list.
type Block struct {
	If   []Condition   `json:"if,omitempty"`
	Do   []EffectEntry `json:"do"`
	Else []EffectEntry `json:"else,omitempty"`
}

// Interaction is one `{on, if?, do, else?}` rule carried by a template.
type Interaction struct {
	On   string        `json:"on"`
	If   []Condition   `json:"if,omitempty"`
	Do   []EffectEntry `json:"do"`
	Else []EffectEntry `json:"else,omitempty"`
}

// Template is the user-authored blueprint instances are created from.
type Template struct {
	ID                 string
	OwnerAgentID       string
	Name               string
	Kind               Kind
	ShortDescription   string
	LongDescription    string
	DefaultFields      Fields
	DefaultPermissions Permissions
	Interactions       []Interaction
}

// ContainerKind tags what an instance's Container field points at.
type ContainerKind string

const (
	ContainerNone     ContainerKind = ""        // top-level (nodes only)
	ContainerAgent    ContainerKind = "agent"   // in an agent's inventory
	ContainerInstance ContainerKind = "instance"
)

// ContainerRef is the nullable tagged union describing where an instance
// currently lives.
type ContainerRef struct {
	Kind ContainerKind
	ID   string
}

// Instance is a live entity created from a Template (or, for the two system
// instances on every home node, with no template at all).
type Instance struct {
	ID                       string
	TemplateID               string // empty iff voided or a system instance
	Kind                     Kind
	ShortDescription         string
	LongDescription          string
	Fields                   Fields
	PermissionsOverride      Permissions
	Container                ContainerRef
	IsVoid                   bool
	IsDestroyed              bool
	SystemType               SystemType
	InteractionsUsedThisTick int
	CreatedOrdinal           int64 // creation order, for deterministic tick enumeration
}

// Agent is a signed-up player/autonomous-client account.
type Agent struct {
	ID                  string
	Username             string
	PasswordHash         string
	TokenHash            string
	CurrentNodeID        string // empty = limbo
	HomeNodeID           string
	AP                   int
	PurchasedAPThisTick  int
	ShortDescription     string
	LongDescription      string
	PerceptionAgents     int
	PerceptionLinks      int
	PerceptionThings     int
	SeeBroadcasts        bool
	LastActiveAtMS       int64
}

// ActionQueueEntry is a deferred queued-verb call awaiting the tick.
type ActionQueueEntry struct {
	Ordinal    int64
	AgentID    string
	Verb       string
	Params     map[string]interface{}
	TickNumber int64
	CreatedAt  int64
}

// EventType enumerates the four event kinds delivered through the envelope.
type EventType string

const (
	EventActionResult EventType = "action_result"
	EventChat         EventType = "chat"
	EventBroadcast    EventType = "broadcast"
	EventSystem       EventType = "system"
)

// Event is one ordinal-keyed row addressed to a single agent.
type Event struct {
	Ordinal   int64
	AgentID   string
	Type      EventType
	Data      map[string]interface{}
	CreatedAt int64
}

// LinkUsageRecord snapshots one successful travel hop, for the link_index
// system thing.
type LinkUsageRecord struct {
	Ordinal             int64
	AgentID             string
	LinkID              string
	DestinationNodeID   string
	DestinationNodeName string
	UsedAt              int64
}

// WorldState is the single row of global simulation state.
type WorldState struct {
	TickNumber int64
	LastTickAt int64 // wall ms
}
