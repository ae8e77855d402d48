package entity

import (
	"encoding/json"
	"reflect"
	"sort"
	"time"
)

// Ref identifies a decoded record: its key plus the server-authoritative
// modification time.
type Ref struct {
	ID        string
	UpdatedAt time.Time
}

// Decode validates a server payload against the entity's wire format and
// returns its identity. Payloads without an id or updatedAt are rejected
// with a DecodeError.
func Decode(t Type, data []byte) (Ref, error) {
	var err error
	var ref Ref

	switch t {
	case TypeProduct:
		var v Product
		if err = json.Unmarshal(data, &v); err == nil {
			ref = Ref{ID: v.ID, UpdatedAt: v.UpdatedAt}
		}
	case TypeCategory:
		var v Category
		if err = json.Unmarshal(data, &v); err == nil {
			ref = Ref{ID: v.ID, UpdatedAt: v.UpdatedAt}
		}
	case TypeCustomer:
		var v Customer
		if err = json.Unmarshal(data, &v); err == nil {
			ref = Ref{ID: v.ID, UpdatedAt: v.UpdatedAt}
		}
	case TypeSupplier:
		var v Supplier
		if err = json.Unmarshal(data, &v); err == nil {
			ref = Ref{ID: v.ID, UpdatedAt: v.UpdatedAt}
		}
	case TypeStoreConfig:
		var v StoreConfig
		if err = json.Unmarshal(data, &v); err == nil {
			ref = Ref{ID: v.ID, UpdatedAt: v.UpdatedAt}
		}
	case TypeTicketConfig:
		var v TicketConfig
		if err = json.Unmarshal(data, &v); err == nil {
			ref = Ref{ID: v.ID, UpdatedAt: v.UpdatedAt}
		}
	default:
		return Ref{}, ErrUnknownType
	}

	if err != nil {
		return Ref{}, &DecodeError{Type: t, Err: err}
	}
	if ref.ID == "" {
		return Ref{}, &DecodeError{Type: t, Field: "id"}
	}
	if ref.UpdatedAt.IsZero() {
		return Ref{}, &DecodeError{Type: t, Field: "updatedAt"}
	}

	return ref, nil
}

// Fields decodes a payload into a generic field map for diffing and shallow
// merging.
func Fields(data []byte) (map[string]any, error) {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// bookkeeping fields never count as business differences
var ignoredFields = map[string]bool{
	"updatedAt":       true,
	"lastSyncedAt":    true,
	"localModifiedAt": true,
	"lastSyncedStock": true,
}

// DiffFields returns the sorted names of business fields whose values differ
// between two payload maps.
func DiffFields(local, server map[string]any) []string {
	var diff []string
	seen := make(map[string]bool)

	for k, lv := range local {
		if ignoredFields[k] {
			continue
		}
		seen[k] = true
		if sv, ok := server[k]; !ok || !reflect.DeepEqual(lv, sv) {
			diff = append(diff, k)
		}
	}
	for k := range server {
		if ignoredFields[k] || seen[k] {
			continue
		}
		diff = append(diff, k)
	}

	sort.Strings(diff)
	return diff
}

// StockOf extracts the stock quantity from a product payload.
func StockOf(data []byte) (int, error) {
	var v Product
	if err := json.Unmarshal(data, &v); err != nil {
		return 0, &DecodeError{Type: TypeProduct, Err: err}
	}
	return v.Stock, nil
}
