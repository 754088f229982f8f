// Package mirror pushes a read-only copy of the ledger into Notion
// databases for reporting. The mirror is one-directional: the local
// store is the source of truth, Notion pages are created for new
// records and archived when the underlying record disappears. The
// record id stored on each page keeps repeated runs idempotent.
package mirror

import (
	"context"
	"fmt"

	"github.com/jomei/notionapi"
	"github.com/rs/zerolog"

	"github.com/moneta-app/moneta/internal/store"
)

const pageSize = 100

// Service mirrors ledger data into Notion.
type Service struct {
	store   *store.Store
	notion  NotionService
	txDBID  string
	accDBID string
	log     zerolog.Logger
}

// New creates the mirror service. Database ids identify the Notion
// databases receiving transactions and accounts.
func New(st *store.Store, notion NotionService, txDBID, accDBID string, log zerolog.Logger) *Service {
	return &Service{store: st, notion: notion, txDBID: txDBID, accDBID: accDBID, log: log}
}

// Stats summarizes one mirror run.
type Stats struct {
	Created int `json:"created"`
	Deleted int `json:"deleted"`
	Skipped int `json:"skipped"`
}

// SyncTransactions mirrors the owner's transactions. Pages whose
// record no longer exists locally are archived; existing pages are
// skipped; missing ones are created. With dryRun set, the run only
// logs what it would do.
func (s *Service) SyncTransactions(ctx context.Context, ownerID string, dryRun bool) (*Stats, error) {
	transactions, err := s.store.TransactionsByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("SyncTransactions: %w", err)
	}

	valid := make(map[string]bool, len(transactions))
	for _, t := range transactions {
		valid[t.ID] = true
	}

	pages, err := s.allPages(ctx, s.txDBID)
	if err != nil {
		return nil, fmt.Errorf("SyncTransactions: %w", err)
	}

	existing := make(map[string]bool, len(pages))
	stats := &Stats{}

	for _, page := range pages {
		id := extractRichTextProperty(page, "Transaction ID")
		if id != "" && valid[id] {
			existing[id] = true
			continue
		}
		if dryRun {
			s.log.Info().Str("page_id", string(page.ID)).Msg("[DRY RUN] Would archive stale page")
			stats.Deleted++
			continue
		}
		if err := s.notion.DeletePage(ctx, string(page.ID)); err != nil {
			s.log.Warn().Err(err).Str("page_id", string(page.ID)).Msg("Failed to archive stale page")
			continue
		}
		stats.Deleted++
	}

	for _, t := range transactions {
		if existing[t.ID] {
			stats.Skipped++
			continue
		}
		if dryRun {
			s.log.Info().Str("transaction_id", t.ID).Msg("[DRY RUN] Would create page")
			stats.Created++
			continue
		}
		if _, err := s.notion.CreatePage(ctx, s.txDBID, TransactionToNotionProperties(t)); err != nil {
			s.log.Warn().Err(err).Str("transaction_id", t.ID).Msg("Failed to create page")
			continue
		}
		stats.Created++
	}

	s.log.Info().
		Int("created", stats.Created).
		Int("deleted", stats.Deleted).
		Int("skipped", stats.Skipped).
		Int("total", len(transactions)).
		Msg("Transaction mirror completed")
	return stats, nil
}

// SyncAccounts mirrors the owner's accounts with the same
// create/skip/archive semantics as SyncTransactions.
func (s *Service) SyncAccounts(ctx context.Context, ownerID string, dryRun bool) (*Stats, error) {
	accounts, err := s.store.AccountsByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("SyncAccounts: %w", err)
	}

	valid := make(map[string]bool, len(accounts))
	for _, a := range accounts {
		valid[a.ID] = true
	}

	pages, err := s.allPages(ctx, s.accDBID)
	if err != nil {
		return nil, fmt.Errorf("SyncAccounts: %w", err)
	}

	existing := make(map[string]bool, len(pages))
	stats := &Stats{}

	for _, page := range pages {
		id := extractRichTextProperty(page, "Account ID")
		if id != "" && valid[id] {
			existing[id] = true
			continue
		}
		if dryRun {
			stats.Deleted++
			continue
		}
		if err := s.notion.DeletePage(ctx, string(page.ID)); err != nil {
			s.log.Warn().Err(err).Str("page_id", string(page.ID)).Msg("Failed to archive stale page")
			continue
		}
		stats.Deleted++
	}

	for _, a := range accounts {
		if existing[a.ID] {
			stats.Skipped++
			continue
		}
		if dryRun {
			stats.Created++
			continue
		}
		if _, err := s.notion.CreatePage(ctx, s.accDBID, AccountToNotionProperties(a)); err != nil {
			s.log.Warn().Err(err).Str("account_id", a.ID).Msg("Failed to create page")
			continue
		}
		stats.Created++
	}

	s.log.Info().
		Int("created", stats.Created).
		Int("deleted", stats.Deleted).
		Int("skipped", stats.Skipped).
		Msg("Account mirror completed")
	return stats, nil
}

// allPages queries every page of a Notion database, following
// pagination cursors.
func (s *Service) allPages(ctx context.Context, databaseID string) ([]notionapi.Page, error) {
	var all []notionapi.Page
	var cursor notionapi.Cursor

	for {
		req := &notionapi.DatabaseQueryRequest{PageSize: pageSize}
		if cursor != "" {
			req.StartCursor = cursor
		}

		resp, err := s.notion.QueryDatabase(ctx, databaseID, req)
		if err != nil {
			return nil, fmt.Errorf("allPages: %w", err)
		}
		all = append(all, resp.Results...)

		if !resp.HasMore {
			break
		}
		cursor = resp.NextCursor
	}
	return all, nil
}

// extractRichTextProperty reads the plain text of a rich-text property
// from a page, returning "" when absent.
func extractRichTextProperty(page notionapi.Page, name string) string {
	prop, ok := page.Properties[name]
	if !ok {
		return ""
	}
	rich, ok := prop.(*notionapi.RichTextProperty)
	if !ok || len(rich.RichText) == 0 {
		return ""
	}
	return rich.RichText[0].PlainText
}
