package reducer

import (
	"encoding/json"

	"github.com/Secineralyr/Cotonestrum/internal/domain"
	"github.com/Secineralyr/Cotonestrum/internal/protocol"
)

// ChangeSet lists the ids of one kind touched by a single push. Added ids
// were not cached before the push, Updated ids replaced a cached snapshot,
// Removed ids were cached and are gone.
type ChangeSet struct {
	Kind    domain.Kind `json:"kind"`
	Op      protocol.Op `json:"op"`
	Added   []string    `json:"added,omitempty"`
	Updated []string    `json:"updated,omitempty"`
	Removed []string    `json:"removed,omitempty"`
}

// OpReset marks the change sets published when the registry is cleared
// for a new session. It never appears on the wire.
const OpReset protocol.Op = "registry_reset"

// Empty reports whether the change set touched nothing.
func (c ChangeSet) Empty() bool {
	return len(c.Added) == 0 && len(c.Updated) == 0 && len(c.Removed) == 0
}

// Notice is a server error push surfaced to the operator. It carries no
// registry mutation.
type Notice struct {
	Op      protocol.Op     `json:"op"`
	Subject string          `json:"subject"`
	Text    string          `json:"text"`
	Body    json.RawMessage `json:"body,omitempty"`
}
