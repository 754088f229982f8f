// Package aggregator orchestrates bank syncs: it validates the
// connection, pulls accounts and transactions through the provider
// variant, deduplicates against already-imported entries, categorizes
// what the bank left uncategorized and persists everything through the
// ledger so offline semantics hold for imports too.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/moneta-app/moneta/internal/category"
	"github.com/moneta-app/moneta/internal/domain"
	"github.com/moneta-app/moneta/internal/ledger"
	"github.com/moneta-app/moneta/internal/metrics"
	"github.com/moneta-app/moneta/internal/provider"
)

// defaultWindowDays is how far back a sync reaches when the connection
// has never synced before.
const defaultWindowDays = 30

// SyncResult summarizes one connection sync.
type SyncResult struct {
	Success            bool      `json:"success"`
	AccountsSynced     int       `json:"accountsSynced"`
	TransactionsSynced int       `json:"transactionsSynced"`
	NewTransactions    int       `json:"newTransactions"`
	Errors             []string  `json:"errors,omitempty"`
	CompletedAt        time.Time `json:"completedAt"`
}

// Service runs syncs for bank connections.
type Service struct {
	ledger   *ledger.Service
	registry *provider.Registry
	metrics  *metrics.Set
	log      zerolog.Logger
	now      func() time.Time
}

// New creates the aggregation service.
func New(led *ledger.Service, reg *provider.Registry, m *metrics.Set, log zerolog.Logger) *Service {
	return &Service{ledger: led, registry: reg, metrics: m, log: log, now: time.Now}
}

// SyncConnection runs one full sync pass for the connection using the
// incremental fetch window. The outcome, including failures, is
// recorded on the connection so the owner always sees when and how the
// last sync went. An account that fails mid-pass is reported but does
// not abort the remaining accounts.
func (s *Service) SyncConnection(ctx context.Context, connectionID string) (*SyncResult, error) {
	return s.SyncConnectionWindow(ctx, connectionID, time.Time{}, time.Time{})
}

// SyncConnectionWindow runs a sync pass over an explicit fetch range.
// A zero bound falls back to the incremental window on that side.
func (s *Service) SyncConnectionWindow(ctx context.Context, connectionID string, from, to time.Time) (*SyncResult, error) {
	st := s.ledger.Store()

	conn, err := st.GetConnection(ctx, connectionID)
	if err != nil {
		return nil, fmt.Errorf("SyncConnection: %w", err)
	}

	prov, err := s.registry.Get(conn.Provider)
	if err != nil {
		return nil, fmt.Errorf("SyncConnection: %w", err)
	}

	res := &SyncResult{}
	defer func() {
		res.CompletedAt = s.now()
		s.recordOutcome(ctx, conn, res)
	}()

	if err := prov.Validate(ctx, conn); err != nil {
		status := domain.ConnectionFailed
		var authErr *domain.AuthenticationError
		if errors.As(err, &authErr) {
			status = domain.ConnectionExpired
		}
		conn.Status = status
		res.Errors = append(res.Errors, err.Error())
		s.log.Warn().Err(err).Str("connection_id", conn.ID).Str("status", string(status)).
			Msg("Connection validation failed, sync aborted")
		return res, nil
	}
	conn.Status = domain.ConnectionActive

	provAccounts, err := prov.Accounts(ctx, conn)
	if err != nil {
		conn.Status = domain.ConnectionFailed
		res.Errors = append(res.Errors, err.Error())
		return res, nil
	}

	known, err := st.KnownExternalIDs(ctx, conn.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("SyncConnection: %w", err)
	}

	from, to = s.window(conn, from, to)

	// Cursor-stream variants serve one feed for the whole connection.
	// Walk it once up front and route rows by account, otherwise the
	// first account's pull would advance the cursor past every sibling
	// account's rows.
	var streamed map[string][]domain.ProviderTransaction
	if src, ok := prov.(provider.StreamSource); ok {
		all, err := src.StreamTransactions(ctx, conn, from, to)
		if err != nil {
			conn.Status = domain.ConnectionFailed
			res.Errors = append(res.Errors, err.Error())
			return res, nil
		}
		streamed = make(map[string][]domain.ProviderTransaction)
		for _, pt := range all {
			streamed[pt.ExternalAccountID] = append(streamed[pt.ExternalAccountID], pt)
		}
	}

	for _, pa := range provAccounts {
		account, err := s.ensureAccount(ctx, conn, pa)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("account %s: %v", pa.ExternalID, err))
			continue
		}

		var txs []domain.ProviderTransaction
		if streamed != nil {
			txs = streamed[pa.ExternalID]
		} else {
			txs, err = prov.Transactions(ctx, conn, pa.ExternalID, from, to)
			if err != nil {
				res.Errors = append(res.Errors, fmt.Sprintf("account %s: %v", pa.ExternalID, err))
				s.log.Warn().Err(err).Str("account", pa.ExternalID).Msg("Account sync failed, continuing")
				continue
			}
		}
		res.TransactionsSynced += len(txs)

		for _, pt := range txs {
			if pt.ExternalID != "" && known[pt.ExternalID] {
				continue
			}
			if err := s.importTransaction(ctx, conn, account, pt); err != nil {
				res.Errors = append(res.Errors, fmt.Sprintf("transaction %s: %v", pt.ExternalID, err))
				continue
			}
			known[pt.ExternalID] = true
			res.NewTransactions++
		}

		// The provider's reported balance is authoritative; writing the
		// account last overrides the incremental adjustments made by the
		// imports above.
		account.Balance = pa.Balance
		if err := s.ledger.SaveAccount(ctx, account); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("account %s: %v", pa.ExternalID, err))
			continue
		}
		res.AccountsSynced++
	}

	res.Success = len(res.Errors) == 0
	s.metrics.BankTxImported.WithLabelValues(string(conn.Provider)).Add(float64(res.NewTransactions))

	s.log.Info().
		Str("connection_id", conn.ID).
		Str("provider", string(conn.Provider)).
		Int("accounts", res.AccountsSynced).
		Int("fetched", res.TransactionsSynced).
		Int("imported", res.NewTransactions).
		Int("errors", len(res.Errors)).
		Msg("Bank sync finished")
	return res, nil
}

// SyncOwner syncs every active connection the owner has.
func (s *Service) SyncOwner(ctx context.Context, ownerID string) ([]*SyncResult, error) {
	conns, err := s.ledger.Store().ConnectionsByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("SyncOwner: %w", err)
	}

	var out []*SyncResult
	for _, conn := range conns {
		if conn.Status == domain.ConnectionDisconnected {
			continue
		}
		res, err := s.SyncConnection(ctx, conn.ID)
		if err != nil {
			return out, err
		}
		out = append(out, res)
	}
	return out, nil
}

// window fills in the fetch range. Bounds the caller set are kept;
// zero bounds default to now and to since-the-last-successful-sync
// (or the default lookback on a first sync), with a small overlap so
// boundary transactions are never missed. Dedup absorbs the overlap.
func (s *Service) window(conn *domain.BankConnection, from, to time.Time) (time.Time, time.Time) {
	if to.IsZero() {
		to = s.now()
	}
	if from.IsZero() {
		from = to.AddDate(0, 0, -defaultWindowDays)
		if !conn.LastSyncAt.IsZero() {
			overlap := conn.LastSyncAt.Add(-24 * time.Hour)
			if overlap.After(from) {
				from = overlap
			}
		}
	}
	return from, to
}

// ensureAccount finds the local account mirroring the provider account
// or creates it on first sight.
func (s *Service) ensureAccount(ctx context.Context, conn *domain.BankConnection, pa domain.ProviderAccount) (*domain.Account, error) {
	account, err := s.ledger.Store().FindAccountByExternalID(ctx, conn.ID, pa.ExternalID)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	account = &domain.Account{
		OwnerID:           conn.OwnerID,
		Name:              pa.Name,
		Type:              pa.Type,
		Currency:          pa.Currency,
		Balance:           pa.Balance,
		ConnectionID:      conn.ID,
		ExternalAccountID: pa.ExternalID,
	}
	if err := s.ledger.SaveAccount(ctx, account); err != nil {
		return nil, err
	}
	s.log.Info().Str("account_id", account.ID).Str("external_id", pa.ExternalID).
		Msg("Discovered new bank account")
	return account, nil
}

// importTransaction normalizes one provider transaction and writes it
// through the ledger. The bank's own category wins when present;
// otherwise the categorization engine decides from MCC, description
// and signed amount.
func (s *Service) importTransaction(ctx context.Context, conn *domain.BankConnection, account *domain.Account, pt domain.ProviderTransaction) error {
	cat := pt.Category
	direction := pt.Direction
	if cat == "" {
		signed := pt.Amount
		if direction == domain.DirectionExpense {
			signed = signed.Neg()
		}
		cat, direction = category.Categorize(pt.MCC, pt.Description, signed)
	}

	t := &domain.Transaction{
		OwnerID:     conn.OwnerID,
		Direction:   direction,
		Category:    cat,
		Amount:      pt.Amount,
		Description: pt.Description,
		Date:        pt.Date,
		AccountID:   account.ID,
		MCC:         pt.MCC,
		ExternalID:  pt.ExternalID,
	}
	return s.ledger.AddTransaction(ctx, t)
}

// recordOutcome writes the sync outcome onto the connection. The
// connection row itself is persisted through the ledger so status
// changes reach the remote store too.
func (s *Service) recordOutcome(ctx context.Context, conn *domain.BankConnection, res *SyncResult) {
	outcome := "ok"
	if !res.Success {
		outcome = "failed"
	}
	s.metrics.BankSyncRuns.WithLabelValues(string(conn.Provider), outcome).Inc()

	conn.LastSyncAt = res.CompletedAt
	if len(res.Errors) > 0 {
		conn.LastError = res.Errors[0]
	} else {
		conn.LastError = ""
	}

	if err := s.ledger.SaveConnection(ctx, conn); err != nil {
		s.log.Error().Err(err).Str("connection_id", conn.ID).Msg("Failed to record sync outcome")
	}
}
