package provider

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/moneta-app/moneta/internal/domain"
)

const (
	monoDefaultBaseURL = "https://api.monobank.ua"

	// The personal API allows one statement request per account token
	// per minute. The throttle is enforced client-side so we fail fast
	// with a precise retry-after instead of burning the server budget.
	monoStatementInterval = 60 * time.Second

	// Longest window one statement call may cover, in seconds
	// (31 days plus one hour).
	monoMaxStatementWindow = 2682000
)

// Mono talks to a personal-token bank API. Tokens are per-user, so the
// variant is always available; each connection carries its own token.
type Mono struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger

	mu            sync.Mutex
	lastStatement time.Time
	now           func() time.Time
}

// NewMono creates the variant. An empty baseURL selects the production
// endpoint.
func NewMono(baseURL string, log zerolog.Logger) *Mono {
	if baseURL == "" {
		baseURL = monoDefaultBaseURL
	}
	return &Mono{
		baseURL: baseURL,
		client:  newHTTPClient(),
		log:     log,
		now:     time.Now,
	}
}

func (m *Mono) Kind() domain.ProviderKind { return domain.ProviderMono }

func (m *Mono) Available() bool { return true }

// monoClientInfo is the wire shape of the client-info endpoint.
type monoClientInfo struct {
	Name     string `json:"name"`
	Accounts []struct {
		ID           string   `json:"id"`
		Balance      int64    `json:"balance"`
		CreditLimit  int64    `json:"creditLimit"`
		Type         string   `json:"type"`
		CurrencyCode int      `json:"currencyCode"`
		IBAN         string   `json:"iban"`
		MaskedPan    []string `json:"maskedPan"`
	} `json:"accounts"`
}

// monoStatementItem is one row of a statement response.
type monoStatementItem struct {
	ID          string `json:"id"`
	Time        int64  `json:"time"`
	Description string `json:"description"`
	MCC         int    `json:"mcc"`
	Amount      int64  `json:"amount"` // minor units, signed
	Balance     int64  `json:"balance"`
}

// Connect validates the user-supplied token by fetching client info and
// returns an immediately active connection.
func (m *Mono) Connect(ctx context.Context, ownerID string, opts ConnectOptions) (*ConnectResult, error) {
	if opts.Token == "" {
		return nil, &domain.AuthenticationError{Provider: m.Kind(), Reason: "personal token required"}
	}

	var info monoClientInfo
	if err := m.get(ctx, opts.Token, "/personal/client-info", &info); err != nil {
		return nil, err
	}

	conn := &domain.BankConnection{
		OwnerID:     ownerID,
		Provider:    m.Kind(),
		AccessToken: opts.Token,
		Status:      domain.ConnectionActive,
	}
	m.log.Info().Str("client_name", info.Name).Int("accounts", len(info.Accounts)).
		Msg("Personal token connection established")
	return &ConnectResult{Connection: conn}, nil
}

// Disconnect is a no-op: personal tokens are revoked by the user in
// their banking app, not through the API.
func (m *Mono) Disconnect(_ context.Context, _ *domain.BankConnection) error { return nil }

// Validate confirms the token still resolves client info.
func (m *Mono) Validate(ctx context.Context, conn *domain.BankConnection) error {
	var info monoClientInfo
	return m.get(ctx, conn.AccessToken, "/personal/client-info", &info)
}

// RefreshToken is unsupported: personal tokens do not expire.
func (m *Mono) RefreshToken(_ context.Context, _ *domain.BankConnection) error {
	return ErrUnsupported
}

// Institutions returns the single bank this API fronts.
func (m *Mono) Institutions(_ context.Context, country string) ([]domain.Institution, error) {
	if country != "" && country != "UA" {
		return nil, nil
	}
	return []domain.Institution{{
		ID:          "monobank",
		Name:        "Monobank",
		Country:     "UA",
		HistoryDays: 31,
	}}, nil
}

// Accounts lists the token's accounts from client info.
func (m *Mono) Accounts(ctx context.Context, conn *domain.BankConnection) ([]domain.ProviderAccount, error) {
	var info monoClientInfo
	if err := m.get(ctx, conn.AccessToken, "/personal/client-info", &info); err != nil {
		return nil, err
	}

	out := make([]domain.ProviderAccount, 0, len(info.Accounts))
	for _, a := range info.Accounts {
		name := "Account"
		if len(a.MaskedPan) > 0 {
			name = a.MaskedPan[0]
		} else if a.IBAN != "" {
			name = a.IBAN
		}
		accType := domain.AccountChecking
		if a.CreditLimit > 0 {
			accType = domain.AccountCredit
		}
		out = append(out, domain.ProviderAccount{
			ExternalID: a.ID,
			Name:       name,
			Type:       accType,
			Currency:   numericCurrency(a.CurrencyCode),
			Balance:    minorUnits(a.Balance - a.CreditLimit),
			IBAN:       a.IBAN,
		})
	}
	return out, nil
}

// Transactions fetches one statement window. The client-side throttle
// admits one statement call per minute across the whole variant; a
// premature call fails with a rate-limit error carrying the exact wait.
func (m *Mono) Transactions(ctx context.Context, conn *domain.BankConnection, externalAccountID string, from, to time.Time) ([]domain.ProviderTransaction, error) {
	if err := m.throttleStatement(); err != nil {
		return nil, err
	}

	if to.Unix()-from.Unix() > monoMaxStatementWindow {
		from = time.Unix(to.Unix()-monoMaxStatementWindow, 0)
	}

	path := fmt.Sprintf("/personal/statement/%s/%d/%d", externalAccountID, from.Unix(), to.Unix())
	var items []monoStatementItem
	if err := m.get(ctx, conn.AccessToken, path, &items); err != nil {
		return nil, err
	}

	out := make([]domain.ProviderTransaction, 0, len(items))
	for _, it := range items {
		direction := domain.DirectionIncome
		if it.Amount < 0 {
			direction = domain.DirectionExpense
		}
		out = append(out, domain.ProviderTransaction{
			ExternalID:        it.ID,
			ExternalAccountID: externalAccountID,
			Direction:         direction,
			Amount:            minorUnits(it.Amount).Abs(),
			Currency:          "UAH",
			Description:       it.Description,
			Date:              time.Unix(it.Time, 0).UTC(),
			MCC:               it.MCC,
		})
	}
	return out, nil
}

// SetupWebhook registers the push endpoint for statement events.
func (m *Mono) SetupWebhook(ctx context.Context, conn *domain.BankConnection, url string) error {
	req, err := jsonRequest(ctx, http.MethodPost, m.baseURL+"/personal/webhook", map[string]string{
		"webHookUrl": url,
	})
	if err != nil {
		return domain.WrapConnection(m.Kind(), "SetupWebhook", err)
	}
	req.Header.Set("X-Token", conn.AccessToken)
	return doJSON(m.client, m.Kind(), req, nil)
}

// throttleStatement enforces the one-statement-per-minute budget.
func (m *Mono) throttleStatement() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if wait := monoStatementInterval - now.Sub(m.lastStatement); wait > 0 {
		return &domain.RateLimitError{Provider: m.Kind(), RetryAfter: wait}
	}
	m.lastStatement = now
	return nil
}

func (m *Mono) get(ctx context.Context, token, path string, out any) error {
	req, err := jsonRequest(ctx, http.MethodGet, m.baseURL+path, nil)
	if err != nil {
		return domain.WrapConnection(m.Kind(), "GET "+path, err)
	}
	req.Header.Set("X-Token", token)
	return doJSON(m.client, m.Kind(), req, out)
}

// minorUnits converts integer minor units to a two-decimal amount.
func minorUnits(v int64) decimal.Decimal {
	return decimal.New(v, -2)
}

// numericCurrency maps ISO 4217 numeric codes to alpha codes.
func numericCurrency(code int) string {
	switch code {
	case 980:
		return "UAH"
	case 840:
		return "USD"
	case 978:
		return "EUR"
	case 826:
		return "GBP"
	case 985:
		return "PLN"
	default:
		return fmt.Sprintf("%03d", code)
	}
}

var _ Provider = (*Mono)(nil)
