package conflict

import (
	"encoding/json"
	"fmt"
	"time"

	"possync/internal/domain/entity"
)

// Detect reports whether a record is in conflict: it carries a local edit
// newer than the last sync baseline while the server copy also moved past
// that baseline. With only one side changed the changed side wins by
// definition and no conflict exists. A record edited locally that was never
// synced has no baseline, so a server copy always conflicts with it.
func Detect(localModifiedAt, lastSyncedAt *time.Time, serverUpdatedAt time.Time) bool {
	if localModifiedAt == nil {
		return false
	}
	if lastSyncedAt == nil {
		return true
	}
	return localModifiedAt.After(*lastSyncedAt) && serverUpdatedAt.After(*lastSyncedAt)
}

// DefaultStrategy picks the policy strategy for a conflict. Products where
// only stock diverged merge; products where stock and anything else diverged
// are ambiguous and go to manual. Everything else is last-write-wins.
func DefaultStrategy(c *Conflict) (Strategy, error) {
	if c.EntityType != entity.TypeProduct {
		return StrategyLastWriteWins, nil
	}

	localFields, err := entity.Fields(c.Local)
	if err != nil {
		return "", &entity.DecodeError{Type: c.EntityType, Err: err}
	}
	serverFields, err := entity.Fields(c.Server)
	if err != nil {
		return "", &entity.DecodeError{Type: c.EntityType, Err: err}
	}

	diff := entity.DiffFields(localFields, serverFields)
	stockDiffers := false
	for _, f := range diff {
		if f == "stock" {
			stockDiffers = true
			break
		}
	}

	switch {
	case stockDiffers && len(diff) == 1:
		return StrategyMerge, nil
	case stockDiffers:
		return StrategyManual, nil
	default:
		return StrategyLastWriteWins, nil
	}
}

// Resolve applies the conflict's strategy. The baseline is the product's
// stock as of the last successful sync; merge falls back to last-write-wins
// on stock when no baseline exists.
func Resolve(c *Conflict, baseline *int) (*Resolution, error) {
	switch c.Strategy {
	case StrategyClientWins:
		return &Resolution{Data: c.Local, UpdatedAt: c.LocalModifiedAt, Winner: "local"}, nil

	case StrategyServerWins:
		return &Resolution{Data: c.Server, UpdatedAt: c.ServerModifiedAt, Winner: "server"}, nil

	case StrategyLastWriteWins:
		if c.LocalModifiedAt.After(c.ServerModifiedAt) {
			return &Resolution{Data: c.Local, UpdatedAt: c.LocalModifiedAt, Winner: "local"}, nil
		}
		return &Resolution{Data: c.Server, UpdatedAt: c.ServerModifiedAt, Winner: "server"}, nil

	case StrategyMerge:
		return merge(c, baseline)

	case StrategyManual:
		return &Resolution{Manual: true}, nil

	default:
		return nil, fmt.Errorf("unknown conflict strategy: %s", c.Strategy)
	}
}

// merge does a shallow field union with the server record as the base and
// local fields overlaid, stamping the newer of the two modification times.
// Product stock gets a three-way merge over the baseline instead.
func merge(c *Conflict, baseline *int) (*Resolution, error) {
	localFields, err := entity.Fields(c.Local)
	if err != nil {
		return nil, &entity.DecodeError{Type: c.EntityType, Err: err}
	}
	serverFields, err := entity.Fields(c.Server)
	if err != nil {
		return nil, &entity.DecodeError{Type: c.EntityType, Err: err}
	}

	merged := make(map[string]any, len(serverFields)+len(localFields))
	for k, v := range serverFields {
		merged[k] = v
	}
	for k, v := range localFields {
		merged[k] = v
	}

	updatedAt := c.ServerModifiedAt
	if c.LocalModifiedAt.After(c.ServerModifiedAt) {
		updatedAt = c.LocalModifiedAt
	}
	merged["updatedAt"] = updatedAt.Format(time.RFC3339)

	res := &Resolution{UpdatedAt: updatedAt, Winner: "merged"}

	if c.EntityType == entity.TypeProduct {
		localStock, err := entity.StockOf(c.Local)
		if err != nil {
			return nil, err
		}
		serverStock, err := entity.StockOf(c.Server)
		if err != nil {
			return nil, err
		}

		stock := localStock
		switch {
		case localStock == serverStock:
			stock = localStock
		case baseline != nil:
			stock = MergeStock(*baseline, localStock, serverStock)
		case c.ServerModifiedAt.After(c.LocalModifiedAt):
			stock = serverStock
		}
		merged["stock"] = stock
		res.Stock = &stock
	}

	data, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("marshal merged record: %w", err)
	}
	res.Data = data
	return res, nil
}

// MergeStock reconciles two divergent stock counts against a common
// baseline. Deltas sharing a sign are assumed to report the same kind of
// change, overlapping rather than accumulating, so the greater delta wins;
// opposite signs are assumed independent and both apply.
func MergeStock(baseline, local, server int) int {
	localDelta := local - baseline
	serverDelta := server - baseline

	if localDelta == 0 {
		return server
	}
	if serverDelta == 0 {
		return local
	}

	if (localDelta > 0) == (serverDelta > 0) {
		if localDelta > serverDelta {
			return baseline + localDelta
		}
		return baseline + serverDelta
	}

	return baseline + localDelta + serverDelta
}
