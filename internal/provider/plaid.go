package provider

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/moneta-app/moneta/internal/domain"
)

const plaidDefaultBaseURL = "https://production.plaid.com"

// syncPageLimit caps how many cursor pages one stream walk follows.
const syncPageLimit = 50

// Plaid speaks an all-POST RPC API: every call carries the client
// credentials in the body. Transaction pulls are cursor-based; the
// cursor lives on the connection and callers persist it after a sync.
type Plaid struct {
	baseURL  string
	clientID string
	secret   string
	client   *http.Client
	log      zerolog.Logger
}

// NewPlaid creates the variant. An empty baseURL selects the
// production endpoint; point it at the sandbox host for testing.
func NewPlaid(baseURL, clientID, secret string, log zerolog.Logger) *Plaid {
	if baseURL == "" {
		baseURL = plaidDefaultBaseURL
	}
	return &Plaid{
		baseURL:  baseURL,
		clientID: clientID,
		secret:   secret,
		client:   newHTTPClient(),
		log:      log,
	}
}

func (p *Plaid) Kind() domain.ProviderKind { return domain.ProviderPlaid }

func (p *Plaid) Available() bool { return p.clientID != "" && p.secret != "" }

// Connect exchanges the short-lived public token from the link flow
// for a persistent access token.
func (p *Plaid) Connect(ctx context.Context, ownerID string, opts ConnectOptions) (*ConnectResult, error) {
	if opts.PublicToken == "" {
		return nil, &domain.AuthenticationError{Provider: p.Kind(), Reason: "public token required"}
	}

	var resp struct {
		AccessToken string `json:"access_token"`
		ItemID      string `json:"item_id"`
	}
	err := p.post(ctx, "/item/public_token/exchange", map[string]any{
		"public_token": opts.PublicToken,
	}, &resp)
	if err != nil {
		return nil, err
	}

	conn := &domain.BankConnection{
		OwnerID:       ownerID,
		Provider:      p.Kind(),
		AccessToken:   resp.AccessToken,
		RequisitionID: resp.ItemID,
		InstitutionID: opts.InstitutionID,
		Status:        domain.ConnectionActive,
	}
	p.log.Info().Str("item_id", resp.ItemID).Msg("Token exchange complete")
	return &ConnectResult{Connection: conn}, nil
}

// Disconnect removes the item, invalidating the access token.
func (p *Plaid) Disconnect(ctx context.Context, conn *domain.BankConnection) error {
	return p.post(ctx, "/item/remove", map[string]any{
		"access_token": conn.AccessToken,
	}, nil)
}

// Validate fetches the item to confirm the access token works.
func (p *Plaid) Validate(ctx context.Context, conn *domain.BankConnection) error {
	var resp struct {
		Item struct {
			Error *struct {
				ErrorCode string `json:"error_code"`
			} `json:"error"`
		} `json:"item"`
	}
	err := p.post(ctx, "/item/get", map[string]any{
		"access_token": conn.AccessToken,
	}, &resp)
	if err != nil {
		return err
	}
	if e := resp.Item.Error; e != nil {
		return &domain.AuthenticationError{Provider: p.Kind(), Reason: e.ErrorCode}
	}
	return nil
}

// RefreshToken is unsupported: access tokens do not expire; a revoked
// item needs the update-mode link flow instead.
func (p *Plaid) RefreshToken(_ context.Context, _ *domain.BankConnection) error {
	return ErrUnsupported
}

// Institutions pages through the institution catalog for the country.
func (p *Plaid) Institutions(ctx context.Context, country string) ([]domain.Institution, error) {
	if country == "" {
		country = "US"
	}
	var resp struct {
		Institutions []struct {
			InstitutionID string `json:"institution_id"`
			Name          string `json:"name"`
			Logo          string `json:"logo"`
		} `json:"institutions"`
	}
	err := p.post(ctx, "/institutions/get", map[string]any{
		"count":         200,
		"offset":        0,
		"country_codes": []string{country},
	}, &resp)
	if err != nil {
		return nil, err
	}

	out := make([]domain.Institution, 0, len(resp.Institutions))
	for _, in := range resp.Institutions {
		out = append(out, domain.Institution{
			ID:      in.InstitutionID,
			Name:    in.Name,
			Country: country,
			LogoURL: in.Logo,
		})
	}
	return out, nil
}

// Accounts lists the item's accounts.
func (p *Plaid) Accounts(ctx context.Context, conn *domain.BankConnection) ([]domain.ProviderAccount, error) {
	var resp struct {
		Accounts []struct {
			AccountID string `json:"account_id"`
			Name      string `json:"name"`
			Type      string `json:"type"`
			Balances  struct {
				Current         float64 `json:"current"`
				ISOCurrencyCode string  `json:"iso_currency_code"`
			} `json:"balances"`
		} `json:"accounts"`
	}
	err := p.post(ctx, "/accounts/get", map[string]any{
		"access_token": conn.AccessToken,
	}, &resp)
	if err != nil {
		return nil, err
	}

	out := make([]domain.ProviderAccount, 0, len(resp.Accounts))
	for _, a := range resp.Accounts {
		out = append(out, domain.ProviderAccount{
			ExternalID: a.AccountID,
			Name:       a.Name,
			Type:       plaidAccountType(a.Type),
			Currency:   a.Balances.ISOCurrencyCode,
			Balance:    decimal.NewFromFloat(a.Balances.Current),
		})
	}
	return out, nil
}

type plaidTransaction struct {
	TransactionID string  `json:"transaction_id"`
	AccountID     string  `json:"account_id"`
	Amount        float64 `json:"amount"` // positive = money leaves the account
	ISOCurrency   string  `json:"iso_currency_code"`
	Date          string  `json:"date"`
	Name          string  `json:"name"`
	MerchantName  string  `json:"merchant_name"`
}

// StreamTransactions walks the cursor stream from the connection's
// saved position and returns every account's rows within the window;
// the endpoint itself has no account or date filter. The advanced
// cursor is written back onto conn.
func (p *Plaid) StreamTransactions(ctx context.Context, conn *domain.BankConnection, from, to time.Time) ([]domain.ProviderTransaction, error) {
	cursor := conn.SyncCursor
	var added []plaidTransaction

	for page := 0; ; page++ {
		if page >= syncPageLimit {
			return nil, domain.WrapConnection(p.Kind(), "Transactions",
				fmt.Errorf("cursor stream did not converge after %d pages", syncPageLimit))
		}

		var resp struct {
			Added    []plaidTransaction `json:"added"`
			Modified []plaidTransaction `json:"modified"`
			Removed  []struct {
				TransactionID string `json:"transaction_id"`
			} `json:"removed"`
			NextCursor string `json:"next_cursor"`
			HasMore    bool   `json:"has_more"`
		}
		err := p.post(ctx, "/transactions/sync", map[string]any{
			"access_token": conn.AccessToken,
			"cursor":       cursor,
			"count":        500,
		}, &resp)
		if err != nil {
			return nil, err
		}

		added = append(added, resp.Added...)
		added = append(added, resp.Modified...)
		if len(resp.Removed) > 0 {
			// Upstream removals are not mirrored locally; imported
			// transactions belong to the owner once written.
			p.log.Debug().Int("removed", len(resp.Removed)).Msg("Ignoring removed transactions")
		}
		cursor = resp.NextCursor
		if !resp.HasMore {
			break
		}
	}
	conn.SyncCursor = cursor

	var out []domain.ProviderTransaction
	for _, t := range added {
		date, err := time.Parse("2006-01-02", t.Date)
		if err != nil {
			continue
		}
		if date.Before(from) || date.After(to) {
			continue
		}

		direction := domain.DirectionExpense
		if t.Amount < 0 {
			direction = domain.DirectionIncome
		}
		description := t.MerchantName
		if description == "" {
			description = t.Name
		}

		out = append(out, domain.ProviderTransaction{
			ExternalID:        t.TransactionID,
			ExternalAccountID: t.AccountID,
			Direction:         direction,
			Amount:            decimal.NewFromFloat(t.Amount).Abs(),
			Currency:          t.ISOCurrency,
			Description:       description,
			Date:              date,
		})
	}
	return out, nil
}

// Transactions narrows one stream walk to a single account. The walk
// consumes the stream for every account and advances the cursor, so
// connection-wide sync passes must use StreamTransactions and route
// the rows themselves; this form only suits single-account items.
func (p *Plaid) Transactions(ctx context.Context, conn *domain.BankConnection, externalAccountID string, from, to time.Time) ([]domain.ProviderTransaction, error) {
	all, err := p.StreamTransactions(ctx, conn, from, to)
	if err != nil {
		return nil, err
	}
	var out []domain.ProviderTransaction
	for _, t := range all {
		if t.ExternalAccountID == externalAccountID {
			out = append(out, t)
		}
	}
	return out, nil
}

// SetupWebhook points the item's webhook at url.
func (p *Plaid) SetupWebhook(ctx context.Context, conn *domain.BankConnection, url string) error {
	return p.post(ctx, "/item/webhook/update", map[string]any{
		"access_token": conn.AccessToken,
		"webhook":      url,
	}, nil)
}

// post performs one RPC call with credentials injected into the body.
func (p *Plaid) post(ctx context.Context, path string, body map[string]any, out any) error {
	payload := make(map[string]any, len(body)+2)
	for k, v := range body {
		payload[k] = v
	}
	payload["client_id"] = p.clientID
	payload["secret"] = p.secret

	req, err := jsonRequest(ctx, http.MethodPost, p.baseURL+path, payload)
	if err != nil {
		return domain.WrapConnection(p.Kind(), "POST "+path, err)
	}
	return doJSON(p.client, p.Kind(), req, out)
}

func plaidAccountType(t string) domain.AccountType {
	switch t {
	case "depository":
		return domain.AccountChecking
	case "credit":
		return domain.AccountCredit
	case "investment", "brokerage":
		return domain.AccountInvestment
	default:
		return domain.AccountChecking
	}
}

var _ Provider = (*Plaid)(nil)
var _ StreamSource = (*Plaid)(nil)
