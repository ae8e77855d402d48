package entity

import (
	"time"
)

// Wire-format structs for the upstream REST API. Every record carries a
// server-authoritative UpdatedAt; decoding rejects payloads without it.

type Product struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Barcode    string    `json:"barcode,omitempty"`
	Price      float64   `json:"price"`
	Cost       float64   `json:"cost,omitempty"`
	Stock      int       `json:"stock"`
	MinStock   int       `json:"minStock,omitempty"`
	CategoryID string    `json:"categoryId,omitempty"`
	SupplierID string    `json:"supplierId,omitempty"`
	Active     bool      `json:"active"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

type Category struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Color     string    `json:"color,omitempty"`
	SortOrder int       `json:"sortOrder,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Customer struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Email         string    `json:"email,omitempty"`
	Phone         string    `json:"phone,omitempty"`
	Address       string    `json:"address,omitempty"`
	LoyaltyPoints int       `json:"loyaltyPoints,omitempty"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

type Supplier struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	TaxID     string    `json:"taxId,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type StoreConfig struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Currency  string    `json:"currency,omitempty"`
	TaxRate   float64   `json:"taxRate,omitempty"`
	Timezone  string    `json:"timezone,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type TicketConfig struct {
	ID         string    `json:"id"`
	HeaderText string    `json:"headerText,omitempty"`
	FooterText string    `json:"footerText,omitempty"`
	ShowLogo   bool      `json:"showLogo,omitempty"`
	PaperWidth int       `json:"paperWidth,omitempty"`
	UpdatedAt  time.Time `json:"updatedAt"`
}
