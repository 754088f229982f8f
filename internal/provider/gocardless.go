package provider

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/moneta-app/moneta/internal/domain"
)

const (
	gclDefaultBaseURL = "https://bankaccountdata.gocardless.com"

	// Requisition status meaning the user completed bank-side auth and
	// the accounts are readable.
	gclStatusLinked = "LN"

	gclHistoricalDays  = 90
	gclAccessValidDays = 90
)

// GoCardless drives the agreement/requisition redirect flow: Connect
// creates a requisition and hands back an authorization link; the
// connection becomes usable once the requisition reports linked.
// Account access uses an application token obtained from the secret
// pair and cached until shortly before expiry.
type GoCardless struct {
	baseURL   string
	secretID  string
	secretKey string
	client    *http.Client
	log       zerolog.Logger

	mu       sync.Mutex
	token    string
	tokenExp time.Time
	now      func() time.Time
}

// NewGoCardless creates the variant. An empty baseURL selects the
// production endpoint.
func NewGoCardless(baseURL, secretID, secretKey string, log zerolog.Logger) *GoCardless {
	if baseURL == "" {
		baseURL = gclDefaultBaseURL
	}
	return &GoCardless{
		baseURL:   baseURL,
		secretID:  secretID,
		secretKey: secretKey,
		client:    newHTTPClient(),
		log:       log,
		now:       time.Now,
	}
}

func (g *GoCardless) Kind() domain.ProviderKind { return domain.ProviderGoCardless }

func (g *GoCardless) Available() bool { return g.secretID != "" && g.secretKey != "" }

type gclRequisition struct {
	ID       string   `json:"id"`
	Status   string   `json:"status"`
	Link     string   `json:"link"`
	Accounts []string `json:"accounts"`
}

// Connect creates an end-user agreement and a requisition against the
// chosen institution. The returned auth link must be visited by the
// user; until then Validate reports the connection as expired.
func (g *GoCardless) Connect(ctx context.Context, ownerID string, opts ConnectOptions) (*ConnectResult, error) {
	if opts.InstitutionID == "" || opts.RedirectURL == "" {
		return nil, domain.WrapConnection(g.Kind(), "Connect",
			fmt.Errorf("institution id and redirect url required"))
	}

	var agreement struct {
		ID string `json:"id"`
	}
	err := g.call(ctx, http.MethodPost, "/api/v2/agreements/enduser/", map[string]any{
		"institution_id":        opts.InstitutionID,
		"max_historical_days":   gclHistoricalDays,
		"access_valid_for_days": gclAccessValidDays,
		"access_scope":          []string{"balances", "details", "transactions"},
	}, &agreement)
	if err != nil {
		return nil, err
	}

	var req gclRequisition
	err = g.call(ctx, http.MethodPost, "/api/v2/requisitions/", map[string]any{
		"redirect":       opts.RedirectURL,
		"institution_id": opts.InstitutionID,
		"agreement":      agreement.ID,
	}, &req)
	if err != nil {
		return nil, err
	}

	conn := &domain.BankConnection{
		OwnerID:       ownerID,
		Provider:      g.Kind(),
		InstitutionID: opts.InstitutionID,
		RequisitionID: req.ID,
		Status:        domain.ConnectionActive,
	}
	g.log.Info().Str("requisition_id", req.ID).Str("institution_id", opts.InstitutionID).
		Msg("Requisition created, awaiting bank-side auth")
	return &ConnectResult{Connection: conn, AuthLink: req.Link}, nil
}

// Disconnect deletes the requisition, revoking account access.
func (g *GoCardless) Disconnect(ctx context.Context, conn *domain.BankConnection) error {
	return g.call(ctx, http.MethodDelete, "/api/v2/requisitions/"+conn.RequisitionID+"/", nil, nil)
}

// Validate checks the requisition status. Anything but linked means
// the user must re-authorize.
func (g *GoCardless) Validate(ctx context.Context, conn *domain.BankConnection) error {
	req, err := g.requisition(ctx, conn)
	if err != nil {
		return err
	}
	if req.Status != gclStatusLinked {
		return &domain.AuthenticationError{
			Provider: g.Kind(),
			Reason:   fmt.Sprintf("requisition status %q, re-authorization required", req.Status),
		}
	}
	return nil
}

// RefreshToken is unsupported at the connection level: an expired
// agreement needs a fresh requisition, which is a user-facing flow.
func (g *GoCardless) RefreshToken(_ context.Context, _ *domain.BankConnection) error {
	return ErrUnsupported
}

// Institutions lists banks available in the given country.
func (g *GoCardless) Institutions(ctx context.Context, country string) ([]domain.Institution, error) {
	var raw []struct {
		ID                   string `json:"id"`
		Name                 string `json:"name"`
		Logo                 string `json:"logo"`
		TransactionTotalDays string `json:"transaction_total_days"`
	}
	path := "/api/v2/institutions/"
	if country != "" {
		path += "?country=" + country
	}
	if err := g.call(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return nil, err
	}

	out := make([]domain.Institution, 0, len(raw))
	for _, in := range raw {
		days, _ := strconv.Atoi(in.TransactionTotalDays)
		out = append(out, domain.Institution{
			ID:          in.ID,
			Name:        in.Name,
			Country:     country,
			LogoURL:     in.Logo,
			HistoryDays: days,
		})
	}
	return out, nil
}

// Accounts resolves the requisition's account ids to details and
// balances.
func (g *GoCardless) Accounts(ctx context.Context, conn *domain.BankConnection) ([]domain.ProviderAccount, error) {
	req, err := g.requisition(ctx, conn)
	if err != nil {
		return nil, err
	}
	if req.Status != gclStatusLinked {
		return nil, &domain.AuthenticationError{
			Provider: g.Kind(),
			Reason:   fmt.Sprintf("requisition status %q", req.Status),
		}
	}

	out := make([]domain.ProviderAccount, 0, len(req.Accounts))
	for _, id := range req.Accounts {
		var details struct {
			Account struct {
				Name     string `json:"name"`
				Currency string `json:"currency"`
				IBAN     string `json:"iban"`
			} `json:"account"`
		}
		if err := g.call(ctx, http.MethodGet, "/api/v2/accounts/"+id+"/details/", nil, &details); err != nil {
			return nil, err
		}

		var balances struct {
			Balances []struct {
				BalanceAmount struct {
					Amount   string `json:"amount"`
					Currency string `json:"currency"`
				} `json:"balanceAmount"`
			} `json:"balances"`
		}
		if err := g.call(ctx, http.MethodGet, "/api/v2/accounts/"+id+"/balances/", nil, &balances); err != nil {
			return nil, err
		}

		balance := decimal.Zero
		if len(balances.Balances) > 0 {
			balance, err = decimal.NewFromString(balances.Balances[0].BalanceAmount.Amount)
			if err != nil {
				return nil, domain.WrapConnection(g.Kind(), "Accounts",
					fmt.Errorf("parsing balance for %s: %w", id, err))
			}
		}

		name := details.Account.Name
		if name == "" {
			name = details.Account.IBAN
		}
		out = append(out, domain.ProviderAccount{
			ExternalID: id,
			Name:       name,
			Type:       domain.AccountChecking,
			Currency:   details.Account.Currency,
			Balance:    balance,
			IBAN:       details.Account.IBAN,
		})
	}
	return out, nil
}

// Transactions fetches booked transactions for the window. Amounts
// arrive signed in account currency; sign decides direction.
func (g *GoCardless) Transactions(ctx context.Context, _ *domain.BankConnection, externalAccountID string, from, to time.Time) ([]domain.ProviderTransaction, error) {
	path := fmt.Sprintf("/api/v2/accounts/%s/transactions/?date_from=%s&date_to=%s",
		externalAccountID, from.Format("2006-01-02"), to.Format("2006-01-02"))

	var resp struct {
		Transactions struct {
			Booked []struct {
				TransactionID     string `json:"transactionId"`
				BookingDate       string `json:"bookingDate"`
				TransactionAmount struct {
					Amount   string `json:"amount"`
					Currency string `json:"currency"`
				} `json:"transactionAmount"`
				RemittanceInformation string `json:"remittanceInformationUnstructured"`
				CreditorName          string `json:"creditorName"`
				DebtorName            string `json:"debtorName"`
			} `json:"booked"`
		} `json:"transactions"`
	}
	if err := g.call(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}

	out := make([]domain.ProviderTransaction, 0, len(resp.Transactions.Booked))
	for _, b := range resp.Transactions.Booked {
		amount, err := decimal.NewFromString(b.TransactionAmount.Amount)
		if err != nil {
			return nil, domain.WrapConnection(g.Kind(), "Transactions",
				fmt.Errorf("parsing amount of %s: %w", b.TransactionID, err))
		}
		direction := domain.DirectionIncome
		if amount.IsNegative() {
			direction = domain.DirectionExpense
		}
		date, _ := time.Parse("2006-01-02", b.BookingDate)

		description := b.RemittanceInformation
		if description == "" {
			if b.CreditorName != "" {
				description = b.CreditorName
			} else {
				description = b.DebtorName
			}
		}

		out = append(out, domain.ProviderTransaction{
			ExternalID:        b.TransactionID,
			ExternalAccountID: externalAccountID,
			Direction:         direction,
			Amount:            amount.Abs(),
			Currency:          b.TransactionAmount.Currency,
			Description:       description,
			Date:              date,
		})
	}
	return out, nil
}

// SetupWebhook is unsupported; the API has no per-connection webhooks.
func (g *GoCardless) SetupWebhook(_ context.Context, _ *domain.BankConnection, _ string) error {
	return ErrUnsupported
}

func (g *GoCardless) requisition(ctx context.Context, conn *domain.BankConnection) (*gclRequisition, error) {
	var req gclRequisition
	if err := g.call(ctx, http.MethodGet, "/api/v2/requisitions/"+conn.RequisitionID+"/", nil, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// call performs one authenticated API request.
func (g *GoCardless) call(ctx context.Context, method, path string, body, out any) error {
	token, err := g.appToken(ctx)
	if err != nil {
		return err
	}
	req, err := jsonRequest(ctx, method, g.baseURL+path, body)
	if err != nil {
		return domain.WrapConnection(g.Kind(), method+" "+path, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return doJSON(g.client, g.Kind(), req, out)
}

// appToken returns the cached application token, obtaining a new one
// when missing or within a minute of expiry.
func (g *GoCardless) appToken(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.token != "" && g.now().Before(g.tokenExp.Add(-time.Minute)) {
		return g.token, nil
	}

	req, err := jsonRequest(ctx, http.MethodPost, g.baseURL+"/api/v2/token/new/", map[string]string{
		"secret_id":  g.secretID,
		"secret_key": g.secretKey,
	})
	if err != nil {
		return "", domain.WrapConnection(g.Kind(), "token", err)
	}

	var resp struct {
		Access        string `json:"access"`
		AccessExpires int64  `json:"access_expires"`
	}
	if err := doJSON(g.client, g.Kind(), req, &resp); err != nil {
		return "", err
	}

	g.token = resp.Access
	g.tokenExp = g.now().Add(time.Duration(resp.AccessExpires) * time.Second)
	return g.token, nil
}

var _ Provider = (*GoCardless)(nil)
