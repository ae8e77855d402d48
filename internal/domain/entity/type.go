package entity

import (
	"fmt"

	"github.com/danielgtaylor/huma/v2"
)

type Type string

const (
	TypeProduct      Type = "products"
	TypeCategory     Type = "categories"
	TypeCustomer     Type = "customers"
	TypeSupplier     Type = "suppliers"
	TypeStoreConfig  Type = "store-config"
	TypeTicketConfig Type = "ticket-config"
)

// PullOrder lists entity types in the order a sync run pulls them:
// small dependency-free types first, products last because they reference
// categories and suppliers.
func PullOrder() []Type {
	return []Type{
		TypeCategory,
		TypeStoreConfig,
		TypeTicketConfig,
		TypeSupplier,
		TypeCustomer,
		TypeProduct,
	}
}

// Conflictable reports whether conflict resolution applies to this type.
// Config singletons are always server-authoritative.
func (t Type) Conflictable() bool {
	switch t {
	case TypeProduct, TypeCategory, TypeCustomer, TypeSupplier:
		return true
	}
	return false
}

// Stage returns the progress-event stage name for this type.
func (t Type) Stage() string {
	switch t {
	case TypeStoreConfig, TypeTicketConfig:
		return "config"
	default:
		return string(t)
	}
}

func (Type) Schema() huma.Schema {
	return huma.Schema{
		Type: "string",
		Enum: []any{
			string(TypeProduct),
			string(TypeCategory),
			string(TypeCustomer),
			string(TypeSupplier),
			string(TypeStoreConfig),
			string(TypeTicketConfig),
		},
		Description: "Synchronized entity type",
		Examples:    []any{TypeProduct},
	}
}

// Validate implements huma.Validatable.
func (t Type) Validate() error {
	switch t {
	case TypeProduct, TypeCategory, TypeCustomer, TypeSupplier, TypeStoreConfig, TypeTicketConfig:
		return nil
	}
	return fmt.Errorf("unknown entity type: %s", t)
}

// String returns the wire name of the type.
func (t Type) String() string {
	return string(t)
}
