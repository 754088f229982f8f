// Package api exposes the engine over HTTP for the local client:
// ledger CRUD, bank connection management, sync control and
// observability endpoints.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/moneta-app/moneta/internal/aggregator"
	"github.com/moneta-app/moneta/internal/api/middleware"
	"github.com/moneta-app/moneta/internal/domain"
	"github.com/moneta-app/moneta/internal/ledger"
	"github.com/moneta-app/moneta/internal/metrics"
	"github.com/moneta-app/moneta/internal/provider"
	"github.com/moneta-app/moneta/internal/syncer"
)

// Server wires the HTTP surface. One owner per process; multi-tenancy
// lives in the remote store, not here.
type Server struct {
	ownerID    string
	ledger     *ledger.Service
	syncer     *syncer.Syncer
	aggregator *aggregator.Service
	registry   *provider.Registry
	metrics    *metrics.Set
	log        zerolog.Logger
}

// New creates the server.
func New(ownerID string, led *ledger.Service, sync *syncer.Syncer, agg *aggregator.Service, reg *provider.Registry, m *metrics.Set, log zerolog.Logger) *Server {
	return &Server{
		ownerID:    ownerID,
		ledger:     led,
		syncer:     sync,
		aggregator: agg,
		registry:   reg,
		metrics:    m,
		log:        log,
	}
}

// Router builds the full route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(s.log))
	r.Use(middleware.Logger(s.log))
	r.Use(middleware.CORS)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", s.metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Post("/sync", s.handleForceSync)
		r.Post("/online", s.handleSetOnline)

		r.Get("/queue", s.handleQueuePending)
		r.Delete("/queue", s.handleQueueClear)
		r.Get("/queue/dead", s.handleQueueDead)

		r.Get("/transactions", s.handleListTransactions)
		r.Post("/transactions", s.handleAddTransaction)
		r.Put("/transactions/{id}", s.handleUpdateTransaction)
		r.Delete("/transactions/{id}", s.handleDeleteTransaction)

		r.Get("/accounts", s.handleListAccounts)
		r.Post("/accounts", s.handleSaveAccount)
		r.Delete("/accounts/{id}", s.handleDeleteAccount)

		r.Get("/goals", s.handleListGoals)
		r.Post("/goals", s.handleSaveGoal)
		r.Delete("/goals/{id}", s.handleDeleteGoal)

		r.Get("/budgets", s.handleListBudgets)
		r.Post("/budgets", s.handleSaveBudget)
		r.Delete("/budgets/{id}", s.handleDeleteBudget)

		r.Get("/recurring", s.handleListRecurring)
		r.Post("/recurring", s.handleSaveRecurring)
		r.Delete("/recurring/{id}", s.handleDeleteRecurring)
		r.Post("/recurring/process", s.handleProcessRecurring)

		r.Get("/institutions", s.handleInstitutions)
		r.Get("/connections", s.handleListConnections)
		r.Post("/connections", s.handleConnect)
		r.Delete("/connections/{id}", s.handleDisconnect)
		r.Post("/connections/{id}/sync", s.handleSyncConnection)
	})
	return r
}

// ── sync control ────────────────────────────────────────────────────

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	pending, err := s.ledger.Store().PendingCount(r.Context())
	if err != nil {
		s.fail(w, err, "Failed to count pending items")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"state":   s.syncer.State(),
		"online":  s.syncer.Online(),
		"pending": pending,
	})
}

func (s *Server) handleForceSync(w http.ResponseWriter, _ *http.Request) {
	s.syncer.ForceSync()
	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "scheduled"})
}

func (s *Server) handleSetOnline(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Online bool `json:"online"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	s.syncer.SetOnline(req.Online)
	middleware.WriteJSON(w, http.StatusOK, map[string]bool{"online": req.Online})
}

func (s *Server) handleQueuePending(w http.ResponseWriter, r *http.Request) {
	items, err := s.ledger.Store().ListPending(r.Context())
	if err != nil {
		s.fail(w, err, "Failed to list queue")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

func (s *Server) handleQueueClear(w http.ResponseWriter, r *http.Request) {
	// Discards pending mutations without replaying them. The local
	// store keeps the data; only the remote mirror diverges.
	if err := s.ledger.Store().ClearQueue(r.Context()); err != nil {
		s.fail(w, err, "Failed to clear queue")
		return
	}
	s.log.Warn().Msg("Sync queue cleared by operator")
	middleware.WriteJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleQueueDead(w http.ResponseWriter, r *http.Request) {
	items, err := s.ledger.Store().DeadLetters(r.Context())
	if err != nil {
		s.fail(w, err, "Failed to list dead letters")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

// ── transactions ────────────────────────────────────────────────────

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := s.ledger.Store().TransactionsByOwner(r.Context(), s.ownerID)
	if err != nil {
		s.fail(w, err, "Failed to list transactions")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"transactions": txs, "count": len(txs)})
}

func (s *Server) handleAddTransaction(w http.ResponseWriter, r *http.Request) {
	var t domain.Transaction
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	t.OwnerID = s.ownerID
	if err := s.ledger.AddTransaction(r.Context(), &t); err != nil {
		s.fail(w, err, "Failed to add transaction")
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, &t)
}

func (s *Server) handleUpdateTransaction(w http.ResponseWriter, r *http.Request) {
	var t domain.Transaction
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	t.ID = chi.URLParam(r, "id")
	t.OwnerID = s.ownerID
	if err := s.ledger.UpdateTransaction(r.Context(), &t); err != nil {
		s.fail(w, err, "Failed to update transaction")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, &t)
}

func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	if err := s.ledger.DeleteTransaction(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.fail(w, err, "Failed to delete transaction")
		return
	}
	middleware.WriteJSON(w, http.StatusNoContent, nil)
}

// ── accounts ────────────────────────────────────────────────────────

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.ledger.Store().AccountsByOwner(r.Context(), s.ownerID)
	if err != nil {
		s.fail(w, err, "Failed to list accounts")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"accounts": accounts, "count": len(accounts)})
}

func (s *Server) handleSaveAccount(w http.ResponseWriter, r *http.Request) {
	var a domain.Account
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	a.OwnerID = s.ownerID
	if err := s.ledger.SaveAccount(r.Context(), &a); err != nil {
		s.fail(w, err, "Failed to save account")
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, &a)
}

func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	if err := s.ledger.DeleteAccount(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.fail(w, err, "Failed to delete account")
		return
	}
	middleware.WriteJSON(w, http.StatusNoContent, nil)
}

// ── goals, budgets, recurring ───────────────────────────────────────

func (s *Server) handleListGoals(w http.ResponseWriter, r *http.Request) {
	goals, err := s.ledger.Store().GoalsByOwner(r.Context(), s.ownerID)
	if err != nil {
		s.fail(w, err, "Failed to list goals")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"goals": goals, "count": len(goals)})
}

func (s *Server) handleSaveGoal(w http.ResponseWriter, r *http.Request) {
	var g domain.Goal
	if err := json.NewDecoder(r.Body).Decode(&g); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	g.OwnerID = s.ownerID
	if err := s.ledger.SaveGoal(r.Context(), &g); err != nil {
		s.fail(w, err, "Failed to save goal")
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, &g)
}

func (s *Server) handleDeleteGoal(w http.ResponseWriter, r *http.Request) {
	if err := s.ledger.DeleteGoal(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.fail(w, err, "Failed to delete goal")
		return
	}
	middleware.WriteJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleListBudgets(w http.ResponseWriter, r *http.Request) {
	budgets, err := s.ledger.Store().BudgetsByOwner(r.Context(), s.ownerID)
	if err != nil {
		s.fail(w, err, "Failed to list budgets")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"budgets": budgets, "count": len(budgets)})
}

func (s *Server) handleSaveBudget(w http.ResponseWriter, r *http.Request) {
	var b domain.Budget
	if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	b.OwnerID = s.ownerID
	if err := s.ledger.SaveBudget(r.Context(), &b); err != nil {
		s.fail(w, err, "Failed to save budget")
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, &b)
}

func (s *Server) handleDeleteBudget(w http.ResponseWriter, r *http.Request) {
	if err := s.ledger.DeleteBudget(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.fail(w, err, "Failed to delete budget")
		return
	}
	middleware.WriteJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleListRecurring(w http.ResponseWriter, r *http.Request) {
	templates, err := s.ledger.Store().RecurringByOwner(r.Context(), s.ownerID)
	if err != nil {
		s.fail(w, err, "Failed to list recurring templates")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"templates": templates, "count": len(templates)})
}

func (s *Server) handleSaveRecurring(w http.ResponseWriter, r *http.Request) {
	var tmpl domain.RecurringTemplate
	if err := json.NewDecoder(r.Body).Decode(&tmpl); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	tmpl.OwnerID = s.ownerID
	if err := s.ledger.SaveRecurringTemplate(r.Context(), &tmpl); err != nil {
		s.fail(w, err, "Failed to save recurring template")
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, &tmpl)
}

func (s *Server) handleDeleteRecurring(w http.ResponseWriter, r *http.Request) {
	if err := s.ledger.DeleteRecurringTemplate(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.fail(w, err, "Failed to delete recurring template")
		return
	}
	middleware.WriteJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleProcessRecurring(w http.ResponseWriter, r *http.Request) {
	created, err := s.ledger.ProcessDueRecurring(r.Context(), timeNow())
	if err != nil {
		s.fail(w, err, "Failed to process recurring templates")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]int{"created": created})
}

// ── bank connections ────────────────────────────────────────────────

func (s *Server) handleInstitutions(w http.ResponseWriter, r *http.Request) {
	kind := domain.ProviderKind(r.URL.Query().Get("provider"))
	prov, err := s.registry.Get(kind)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	institutions, err := prov.Institutions(r.Context(), r.URL.Query().Get("country"))
	if err != nil {
		s.fail(w, err, "Failed to list institutions")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"institutions": institutions})
}

func (s *Server) handleListConnections(w http.ResponseWriter, r *http.Request) {
	conns, err := s.ledger.Store().ConnectionsByOwner(r.Context(), s.ownerID)
	if err != nil {
		s.fail(w, err, "Failed to list connections")
		return
	}
	// Credentials stay server-side.
	for _, c := range conns {
		c.AccessToken = ""
		c.RefreshToken = ""
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"connections": conns, "count": len(conns)})
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Provider      domain.ProviderKind `json:"provider"`
		Token         string              `json:"token,omitempty"`
		InstitutionID string              `json:"institutionId,omitempty"`
		RedirectURL   string              `json:"redirectUrl,omitempty"`
		PublicToken   string              `json:"publicToken,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	prov, err := s.registry.Get(req.Provider)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := prov.Connect(r.Context(), s.ownerID, provider.ConnectOptions{
		Token:         req.Token,
		InstitutionID: req.InstitutionID,
		RedirectURL:   req.RedirectURL,
		PublicToken:   req.PublicToken,
	})
	if err != nil {
		var authErr *domain.AuthenticationError
		if errors.As(err, &authErr) {
			middleware.WriteError(w, http.StatusUnauthorized, err.Error())
			return
		}
		s.fail(w, err, "Failed to connect")
		return
	}

	if err := s.ledger.SaveConnection(r.Context(), result.Connection); err != nil {
		s.fail(w, err, "Failed to save connection")
		return
	}

	middleware.WriteJSON(w, http.StatusCreated, map[string]any{
		"connectionId": result.Connection.ID,
		"status":       result.Connection.Status,
		"authLink":     result.AuthLink,
	})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	conn, err := s.ledger.Store().GetConnection(r.Context(), id)
	if err != nil {
		s.fail(w, err, "Failed to load connection")
		return
	}

	if prov, perr := s.registry.Get(conn.Provider); perr == nil {
		if derr := prov.Disconnect(r.Context(), conn); derr != nil {
			// Provider-side revoke failure does not block local removal.
			s.log.Warn().Err(derr).Str("connection_id", id).Msg("Provider-side disconnect failed")
		}
	}

	if err := s.ledger.DisconnectBank(r.Context(), id); err != nil {
		s.fail(w, err, "Failed to disconnect")
		return
	}
	middleware.WriteJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleSyncConnection(w http.ResponseWriter, r *http.Request) {
	from, err := parseTimeParam(r.URL.Query().Get("from"))
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid from parameter")
		return
	}
	to, err := parseTimeParam(r.URL.Query().Get("to"))
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid to parameter")
		return
	}

	res, err := s.aggregator.SyncConnectionWindow(r.Context(), chi.URLParam(r, "id"), from, to)
	if err != nil {
		s.fail(w, err, "Failed to sync connection")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, res)
}

// parseTimeParam accepts RFC 3339 or a bare date; empty means unset.
func parseTimeParam(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", v)
}

// Swapped by tests to pin materialization time.
var timeNow = time.Now

// fail maps store-level not-found to 404, validation failures to 400
// and everything else to 500.
func (s *Server) fail(w http.ResponseWriter, err error, msg string) {
	if errors.Is(err, domain.ErrNotFound) {
		middleware.WriteError(w, http.StatusNotFound, "Not found")
		return
	}
	if errors.Is(err, domain.ErrInvalid) {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.log.Error().Err(err).Msg(msg)
	middleware.WriteError(w, http.StatusInternalServerError, msg)
}
