package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction classifies a transaction as money in or money out.
type Direction string

const (
	DirectionIncome  Direction = "income"
	DirectionExpense Direction = "expense"
)

// AccountType enumerates the supported account kinds.
// Credit accounts invert the balance sign convention: a positive
// balance means debt.
type AccountType string

const (
	AccountChecking   AccountType = "checking"
	AccountSavings    AccountType = "savings"
	AccountCredit     AccountType = "credit"
	AccountInvestment AccountType = "investment"
	AccountCash       AccountType = "cash"
)

// Transaction is one ledger entry, either manually entered or imported
// from a bank provider. ExternalID, when present, is the dedup key
// against repeated bank pulls and is unique per owner.
type Transaction struct {
	ID          string          `json:"id"`
	OwnerID     string          `json:"ownerId"`
	Direction   Direction       `json:"direction"`
	Category    string          `json:"category"`
	Amount      decimal.Decimal `json:"amount"` // positive, 2 decimal places
	Description string          `json:"description"`
	Date        time.Time       `json:"date"`
	AccountID   string          `json:"accountId,omitempty"`
	MCC         int             `json:"mcc,omitempty"`
	ExternalID  string          `json:"externalId,omitempty"`
	Synced      bool            `json:"synced"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// SignedAmount returns the amount with the ledger sign applied:
// income is positive, expense is negative.
func (t *Transaction) SignedAmount() decimal.Decimal {
	if t.Direction == DirectionExpense {
		return t.Amount.Neg()
	}
	return t.Amount
}

// Account is a money container. Balance is derived from the signed sum
// of linked transactions but cached here and adjusted incrementally on
// every transaction write.
type Account struct {
	ID                string          `json:"id"`
	OwnerID           string          `json:"ownerId"`
	Name              string          `json:"name"`
	Type              AccountType     `json:"type"`
	Currency          string          `json:"currency"`
	Balance           decimal.Decimal `json:"balance"`
	ConnectionID      string          `json:"connectionId,omitempty"`
	ExternalAccountID string          `json:"externalAccountId,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

// Goal is a savings target the owner is working toward.
type Goal struct {
	ID            string          `json:"id"`
	OwnerID       string          `json:"ownerId"`
	Name          string          `json:"name"`
	TargetAmount  decimal.Decimal `json:"targetAmount"`
	CurrentAmount decimal.Decimal `json:"currentAmount"`
	Deadline      time.Time       `json:"deadline,omitempty"`
	Achieved      bool            `json:"achieved"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// Budget caps spending for one category over a calendar month.
type Budget struct {
	ID           string          `json:"id"`
	OwnerID      string          `json:"ownerId"`
	Category     string          `json:"category"`
	MonthlyLimit decimal.Decimal `json:"monthlyLimit"`
	Month        string          `json:"month"` // YYYY-MM
	CreatedAt    time.Time       `json:"createdAt"`
}

// RecurringTemplate describes a transaction that repeats on a fixed
// interval. NextOccurrence drives materialization.
type RecurringTemplate struct {
	ID             string          `json:"id"`
	OwnerID        string          `json:"ownerId"`
	Direction      Direction       `json:"direction"`
	Category       string          `json:"category"`
	Amount         decimal.Decimal `json:"amount"`
	Description    string          `json:"description"`
	AccountID      string          `json:"accountId,omitempty"`
	IntervalDays   int             `json:"intervalDays"`
	NextOccurrence time.Time       `json:"nextOccurrence"`
	Active         bool            `json:"active"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// ConnectionStatus tracks the health of a bank connection.
type ConnectionStatus string

const (
	ConnectionActive       ConnectionStatus = "active"
	ConnectionExpired      ConnectionStatus = "expired"
	ConnectionFailed       ConnectionStatus = "error"
	ConnectionDisconnected ConnectionStatus = "disconnected"
)

// ProviderKind identifies which provider variant a connection uses.
type ProviderKind string

const (
	ProviderMono       ProviderKind = "mono"
	ProviderGoCardless ProviderKind = "gocardless"
	ProviderPlaid      ProviderKind = "plaid"
)

// BankConnection is a live link to one bank through one provider.
// Credentials are opaque to everything but the owning provider.
type BankConnection struct {
	ID            string           `json:"id"`
	OwnerID       string           `json:"ownerId"`
	Provider      ProviderKind     `json:"provider"`
	AccessToken   string           `json:"accessToken,omitempty"`
	RefreshToken  string           `json:"refreshToken,omitempty"`
	InstitutionID string           `json:"institutionId,omitempty"`
	RequisitionID string           `json:"requisitionId,omitempty"`
	SyncCursor    string           `json:"syncCursor,omitempty"`
	Status        ConnectionStatus `json:"status"`
	LastSyncAt    time.Time        `json:"lastSyncAt,omitempty"`
	LastError     string           `json:"lastError,omitempty"`
	CreatedAt     time.Time        `json:"createdAt"`
}

// QueueOperation is the kind of remote write a queue item replays.
type QueueOperation string

const (
	OpInsert QueueOperation = "insert"
	OpUpdate QueueOperation = "update"
	OpDelete QueueOperation = "delete"
)

// SyncQueueItem is one pending mutation against the remote store.
// Items are immutable once created except for the synced flag and the
// attempt bookkeeping.
type SyncQueueItem struct {
	ID        string         `json:"id"`
	OwnerID   string         `json:"ownerId"`
	Table     string         `json:"table"`
	Operation QueueOperation `json:"operation"`
	RecordID  string         `json:"recordId"`
	Payload   map[string]any `json:"payload,omitempty"`
	Synced    bool           `json:"synced"`
	Attempts  int            `json:"attempts"`
	Dead      bool           `json:"dead"`
	CreatedAt time.Time      `json:"createdAt"`
	SyncedAt  time.Time      `json:"syncedAt,omitempty"`
}
