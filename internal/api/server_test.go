package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/moneta-app/moneta/internal/aggregator"
	"github.com/moneta-app/moneta/internal/ledger"
	"github.com/moneta-app/moneta/internal/logger"
	"github.com/moneta-app/moneta/internal/metrics"
	"github.com/moneta-app/moneta/internal/provider"
	"github.com/moneta-app/moneta/internal/store"
	"github.com/moneta-app/moneta/internal/syncer"
)

type nullRemote struct{}

func (nullRemote) Upsert(context.Context, string, string, map[string]any) error { return nil }
func (nullRemote) Delete(context.Context, string, string) error                 { return nil }
func (nullRemote) ListByOwner(context.Context, string, string) ([]map[string]any, error) {
	return nil, nil
}
func (nullRemote) Ping(context.Context) error { return nil }

func newTestServer(t *testing.T) *Server {
	t.Helper()
	st, err := store.Open(":memory:", logger.Nop())
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	m := metrics.New()
	led := ledger.New(st, nullRemote{}, nil, logger.Nop())
	sync := syncer.New(st, nullRemote{}, m, logger.Nop())
	reg := provider.NewRegistry()
	agg := aggregator.New(led, reg, m, logger.Nop())
	return New("u1", led, sync, agg, reg, m, logger.Nop())
}

func TestTransactionLifecycleOverHTTP(t *testing.T) {
	srv := httptest.NewServer(newTestServer(t).Router())
	defer srv.Close()

	body := `{"direction":"expense","category":"food","amount":"42.50","description":"Lunch"}`
	resp, err := http.Post(srv.URL+"/api/transactions", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST /api/transactions: %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	var created struct {
		ID      string `json:"id"`
		OwnerID string `json:"ownerId"`
	}
	json.NewDecoder(resp.Body).Decode(&created)
	resp.Body.Close()
	if created.ID == "" || created.OwnerID != "u1" {
		t.Errorf("created = %+v, want generated id and forced owner", created)
	}

	resp, err = http.Get(srv.URL + "/api/transactions")
	if err != nil {
		t.Fatalf("GET /api/transactions: %v", err)
	}
	var listed struct {
		Count int `json:"count"`
	}
	json.NewDecoder(resp.Body).Decode(&listed)
	resp.Body.Close()
	if listed.Count != 1 {
		t.Errorf("count = %d, want 1", listed.Count)
	}

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/api/transactions/"+created.ID, nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("delete status = %d, want 204", resp.StatusCode)
	}
}

func TestDeleteMissingTransactionReturns404(t *testing.T) {
	srv := httptest.NewServer(newTestServer(t).Router())
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/api/transactions/nope", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestStatusEndpoint(t *testing.T) {
	srv := httptest.NewServer(newTestServer(t).Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/status")
	if err != nil {
		t.Fatalf("GET /api/status: %v", err)
	}
	defer resp.Body.Close()

	var status struct {
		State   string `json:"state"`
		Online  bool   `json:"online"`
		Pending int    `json:"pending"`
	}
	json.NewDecoder(resp.Body).Decode(&status)
	if status.State != "idle" {
		t.Errorf("state = %q, want idle", status.State)
	}
	if status.Online {
		t.Error("syncer should start offline")
	}
}

func TestRecurringWithBadIntervalRejected(t *testing.T) {
	srv := httptest.NewServer(newTestServer(t).Router())
	defer srv.Close()

	body := `{"direction":"expense","category":"utilities","amount":"9.99","intervalDays":0,"nextOccurrence":"2026-01-01T00:00:00Z","active":true}`
	resp, err := http.Post(srv.URL+"/api/recurring", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST /api/recurring: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/api/recurring")
	if err != nil {
		t.Fatalf("GET /api/recurring: %v", err)
	}
	var listed struct {
		Count int `json:"count"`
	}
	json.NewDecoder(resp.Body).Decode(&listed)
	resp.Body.Close()
	if listed.Count != 0 {
		t.Errorf("count = %d, want 0 (rejected template not stored)", listed.Count)
	}
}

func TestSyncConnectionRejectsBadWindow(t *testing.T) {
	srv := httptest.NewServer(newTestServer(t).Router())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/connections/c1/sync?from=not-a-date", "application/json", nil)
	if err != nil {
		t.Fatalf("POST sync: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestUnknownProviderRejected(t *testing.T) {
	srv := httptest.NewServer(newTestServer(t).Router())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/connections", "application/json",
		strings.NewReader(`{"provider":"nope"}`))
	if err != nil {
		t.Fatalf("POST /api/connections: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}
