// Package provider abstracts bank aggregation backends behind one
// capability interface. Each variant translates its native wire format
// into the normalized shapes in the domain package; nothing outside
// this package sees provider payloads or credentials.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/moneta-app/moneta/internal/domain"
)

// ErrUnsupported is returned for capabilities a variant does not have,
// such as token refresh on providers without refresh flows.
var ErrUnsupported = errors.New("operation not supported by this provider")

// ConnectOptions carries the per-variant inputs of a connect flow.
// Exactly the fields the chosen variant needs are set.
type ConnectOptions struct {
	// Token is a user-supplied personal API token.
	Token string
	// InstitutionID selects the bank for redirect-flow providers.
	InstitutionID string
	// RedirectURL is where the user lands after bank-side auth.
	RedirectURL string
	// PublicToken is a short-lived token to exchange for access.
	PublicToken string
}

// ConnectResult is the outcome of a connect flow. AuthLink is non-empty
// when the user must finish authorization in a browser before the
// connection becomes usable.
type ConnectResult struct {
	Connection *domain.BankConnection
	AuthLink   string
}

// Provider is the capability surface every bank aggregation variant
// implements. Calls return the error taxonomy from the domain package;
// unexpected failures are wrapped, never leaked raw.
type Provider interface {
	// Kind identifies the variant.
	Kind() domain.ProviderKind

	// Available reports whether the variant is configured with the
	// credentials it needs to operate at all.
	Available() bool

	// Connect establishes a new bank connection for the owner.
	Connect(ctx context.Context, ownerID string, opts ConnectOptions) (*ConnectResult, error)

	// Disconnect revokes provider-side access. The local cascade is the
	// ledger's job.
	Disconnect(ctx context.Context, conn *domain.BankConnection) error

	// Validate checks that the connection's credentials still work.
	Validate(ctx context.Context, conn *domain.BankConnection) error

	// RefreshToken renews expiring credentials in place. Variants
	// without a refresh flow return ErrUnsupported.
	RefreshToken(ctx context.Context, conn *domain.BankConnection) error

	// Institutions lists banks selectable during connect, filtered by
	// ISO country code where the variant supports it.
	Institutions(ctx context.Context, country string) ([]domain.Institution, error)

	// Accounts lists the connection's accounts in normalized form.
	Accounts(ctx context.Context, conn *domain.BankConnection) ([]domain.ProviderAccount, error)

	// Transactions fetches the account's transactions within [from, to]
	// in normalized form. Implementations may mutate conn (cursors,
	// rotated tokens); callers persist it afterwards.
	Transactions(ctx context.Context, conn *domain.BankConnection, externalAccountID string, from, to time.Time) ([]domain.ProviderTransaction, error)

	// SetupWebhook registers url for provider push notifications.
	// Variants without webhooks return ErrUnsupported.
	SetupWebhook(ctx context.Context, conn *domain.BankConnection, url string) error
}

// StreamSource is implemented by variants whose upstream exposes one
// cursor-paginated stream per connection instead of per-account feeds.
// The stream must be walked exactly once per sync pass; callers fetch
// it through StreamTransactions and route rows to accounts by their
// external account id.
type StreamSource interface {
	// StreamTransactions walks the stream from the connection's saved
	// cursor and returns rows for every account within [from, to]. The
	// advanced cursor is written back onto conn; callers persist it.
	StreamTransactions(ctx context.Context, conn *domain.BankConnection, from, to time.Time) ([]domain.ProviderTransaction, error)
}

// Registry holds the configured variants keyed by kind.
type Registry struct {
	providers map[domain.ProviderKind]Provider
}

// NewRegistry builds a registry from the given variants.
func NewRegistry(ps ...Provider) *Registry {
	r := &Registry{providers: make(map[domain.ProviderKind]Provider, len(ps))}
	for _, p := range ps {
		r.providers[p.Kind()] = p
	}
	return r
}

// Get returns the variant for kind.
func (r *Registry) Get(kind domain.ProviderKind) (Provider, error) {
	p, ok := r.providers[kind]
	if !ok {
		return nil, fmt.Errorf("provider %q not registered", kind)
	}
	return p, nil
}

// Available lists the kinds that are configured and ready to use.
func (r *Registry) Available() []domain.ProviderKind {
	var out []domain.ProviderKind
	for kind, p := range r.providers {
		if p.Available() {
			out = append(out, kind)
		}
	}
	return out
}

// ── shared HTTP plumbing ────────────────────────────────────────────

const requestTimeout = 30 * time.Second

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: requestTimeout}
}

// doJSON performs one request and decodes a JSON response into out.
// Status handling is uniform across variants: 401/403 is an auth
// failure, 429 a rate limit, any other non-2xx a connection error.
func doJSON(client *http.Client, kind domain.ProviderKind, req *http.Request, out any) error {
	op := req.Method + " " + req.URL.Path

	resp, err := client.Do(req)
	if err != nil {
		return domain.WrapConnection(kind, op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return domain.WrapConnection(kind, op, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &domain.AuthenticationError{Provider: kind, Reason: trimBody(body)}
	case resp.StatusCode == http.StatusTooManyRequests:
		return &domain.RateLimitError{Provider: kind, RetryAfter: parseRetryAfter(resp)}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return domain.WrapConnection(kind, op,
			fmt.Errorf("unexpected status %d: %s", resp.StatusCode, trimBody(body)))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return domain.WrapConnection(kind, op, fmt.Errorf("decoding response: %w", err))
	}
	return nil
}

// jsonRequest builds a request with a JSON body.
func jsonRequest(ctx context.Context, method, url string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func parseRetryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if d, err := time.ParseDuration(v + "s"); err == nil && d > 0 {
			return d
		}
	}
	return time.Minute
}

func trimBody(body []byte) string {
	const max = 200
	s := string(body)
	if len(s) > max {
		return s[:max]
	}
	return s
}
