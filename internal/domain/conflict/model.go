package conflict

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"possync/internal/domain/entity"
)

type Strategy string

const (
	StrategyLastWriteWins Strategy = "last-write-wins"
	StrategyServerWins    Strategy = "server-wins"
	StrategyClientWins    Strategy = "client-wins"
	StrategyMerge         Strategy = "merge"
	StrategyManual        Strategy = "manual"
)

// Conflict is produced during a pull when both sides changed a record since
// the last sync baseline. Manual conflicts carry exactly the tuple a
// decision UI needs: both versions and both modification times.
type Conflict struct {
	ID               string          `json:"id"`
	EntityType       entity.Type     `json:"type"`
	EntityID         string          `json:"entity_id"`
	Local            json.RawMessage `json:"local"`
	Server           json.RawMessage `json:"server"`
	LocalModifiedAt  time.Time       `json:"local_modified_at"`
	ServerModifiedAt time.Time       `json:"server_modified_at"`
	Strategy         Strategy        `json:"strategy"`
	Resolved         bool            `json:"resolved"`
	Resolution       string          `json:"resolution,omitempty"` // local, server, merged
	CreatedAt        time.Time       `json:"created_at"`
}

// New builds a conflict for a record both sides changed.
func New(t entity.Type, id string, local, server json.RawMessage, localModifiedAt, serverModifiedAt time.Time) *Conflict {
	return &Conflict{
		ID:               uuid.NewString(),
		EntityType:       t,
		EntityID:         id,
		Local:            local,
		Server:           server,
		LocalModifiedAt:  localModifiedAt,
		ServerModifiedAt: serverModifiedAt,
		CreatedAt:        time.Now(),
	}
}

// Resolution is the outcome of applying a strategy to a conflict.
type Resolution struct {
	Data      json.RawMessage
	UpdatedAt time.Time
	Stock     *int // merged stock, the next three-way baseline for products
	Winner    string
	Manual    bool
}
