package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProviderAccount is the normalized account shape every provider
// variant produces from its native wire format. It is transient and
// never persisted directly.
type ProviderAccount struct {
	ExternalID string
	Name       string
	Type       AccountType
	Currency   string
	Balance    decimal.Decimal
	IBAN       string
}

// ProviderTransaction is the normalized transaction shape handed to
// the aggregation service. ExternalID is the provider-assigned dedup
// key. Category is optional; when empty the categorization engine
// decides.
type ProviderTransaction struct {
	ExternalID        string
	ExternalAccountID string
	Direction         Direction
	Amount            decimal.Decimal // positive
	Currency          string
	Description       string
	Date              time.Time
	MCC               int
	Category          string
}

// Institution describes one bank selectable during connect.
type Institution struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Country     string `json:"country,omitempty"`
	LogoURL     string `json:"logoUrl,omitempty"`
	HistoryDays int    `json:"transactionTotalDays,omitempty"`
}
