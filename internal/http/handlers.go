package http

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"akiba/internal/core"
	"akiba/internal/log"
	"akiba/internal/services"

	"github.com/shopspring/decimal"
)

type createTopUpRequest struct {
	UserID       string `json:"user_id"`
	GoalID       string `json:"goal_id"`
	Amount       Amount `json:"amount"`
	Currency     string `json:"currency"`
	PhoneNumber  string `json:"phone_number"`
	ExternalID   string `json:"external_id"`
	ReferenceID  string `json:"reference_id"`
	PayerMessage string `json:"payer_message"`
	PayeeNote    string `json:"payee_note"`
}

type createSavingRequest struct {
	GoalID string `json:"goal_id"`
	Amount Amount `json:"amount"`
}

type goalInput struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Category     string `json:"category"`
	TargetAmount Amount `json:"target_amount"`
}

type goalProgressRequest struct {
	Goals []goalInput `json:"goals"`
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	NewJSONResponse().Body(map[string]string{"status": "ok"}).Write(w)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store == nil {
		NewJSONResponse().Body(map[string]string{"status": "ready"}).Write(w)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.deps.Store.Ping(ctx); err != nil {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Readiness check failed", log.FieldError, err)
		ErrorResponse(http.StatusServiceUnavailable, CodeUpstreamUnavailable, "storage unavailable").Write(w)
		return
	}
	NewJSONResponse().Body(map[string]string{"status": "ready"}).Write(w)
}

// handleCreateTopUp records a PENDING top-up. The Idempotency-Key header is
// used as external_id when the body omits it.
func (s *Server) handleCreateTopUp(w http.ResponseWriter, r *http.Request) {
	var req createTopUpRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		ErrorFor(err).Write(w)
		return
	}
	amount, err := req.Amount.Decimal()
	if err != nil {
		ErrorFor(err).Write(w)
		return
	}
	externalID := sanitizeInput(req.ExternalID)
	if externalID == "" {
		externalID = sanitizeInput(r.Header.Get("Idempotency-Key"))
	}

	t, err := s.deps.TopUps.Create(r.Context(), services.NewTopUp{
		UserID:       sanitizeInput(req.UserID),
		GoalID:       sanitizeInput(req.GoalID),
		Amount:       amount,
		Currency:     sanitizeInput(req.Currency),
		PhoneNumber:  sanitizeInput(req.PhoneNumber),
		ExternalID:   externalID,
		ReferenceID:  sanitizeInput(req.ReferenceID),
		PayerMessage: sanitizeInput(req.PayerMessage),
		PayeeNote:    sanitizeInput(req.PayeeNote),
	})
	if err != nil {
		s.writeServiceError(w, r, "Create top-up failed", err)
		return
	}

	NewJSONResponse().
		Status(http.StatusCreated).
		Header("Location", "/api/v1/topups/"+t.ReferenceID).
		Body(newTopUpView(t)).
		Write(w)
}

func (s *Server) handleGetTopUp(w http.ResponseWriter, r *http.Request) {
	t, err := s.deps.TopUps.Get(r.Context(), pathVar(r, "reference"))
	if err != nil {
		s.writeServiceError(w, r, "Get top-up failed", err)
		return
	}
	NewJSONResponse().Body(newStatusView(t)).Write(w)
}

// handleCallback is the gateway notification hook. The body is never
// trusted: the reference is re-queried and the answer applied by the
// reconciler, so a forged callback cannot move money.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	ref := pathVar(r, "reference")
	logger := log.FromContext(r.Context())

	if _, err := s.deps.TopUps.Get(r.Context(), ref); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			logger.WarnContext(r.Context(), "Callback for unknown reference", log.FieldReference, ref)
		}
		s.writeServiceError(w, r, "Callback lookup failed", err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.callbackTimeout)
	defer cancel()
	res, err := s.deps.Reconciler.Reconcile(ctx, ref)
	switch {
	case err == nil:
		NewJSONResponse().Body(newReconcileView(res)).Write(w)
	case errors.Is(err, core.ErrUpstreamUnavailable), errors.Is(err, core.ErrNotFound):
		// the worker picks it up on its next cycle
		logger.WarnContext(r.Context(), "Callback could not confirm status",
			log.FieldReference, ref,
			log.FieldError, err)
		NewJSONResponse().
			Status(http.StatusAccepted).
			Body(map[string]string{"reference": ref, "status": "processing"}).
			Write(w)
	default:
		s.writeServiceError(w, r, "Callback reconcile failed", err)
	}
}

func (s *Server) handleCreateSaving(w http.ResponseWriter, r *http.Request) {
	var req createSavingRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		ErrorFor(err).Write(w)
		return
	}
	amount, err := req.Amount.Decimal()
	if err != nil {
		ErrorFor(err).Write(w)
		return
	}

	e, err := s.deps.Ledger.AppendManual(r.Context(), pathVar(r, "user_id"), sanitizeInput(req.GoalID), amount)
	if err != nil {
		s.writeServiceError(w, r, "Manual saving failed", err)
		return
	}
	NewJSONResponse().Status(http.StatusCreated).Body(newSavingView(e)).Write(w)
}

func (s *Server) handleListSavings(w http.ResponseWriter, r *http.Request) {
	f, err := ParseSavingsFilter(r.URL.Query())
	if err != nil {
		ErrorFor(err).Write(w)
		return
	}
	entries, err := s.deps.Ledger.List(r.Context(), pathVar(r, "user_id"), f)
	if err != nil {
		s.writeServiceError(w, r, "List savings failed", err)
		return
	}

	out := make([]savingView, 0, len(entries))
	for _, e := range entries {
		out = append(out, newSavingView(e))
	}
	NewJSONResponse().Body(map[string]any{"savings": out}).Write(w)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	userID := pathVar(r, "user_id")
	sum, err := s.deps.Insights.Summary(r.Context(), userID)
	if err != nil {
		s.writeServiceError(w, r, "Savings summary failed", err)
		return
	}
	NewJSONResponse().Body(newSummaryView(userID, sum)).Write(w)
}

// handleGoalProgress takes the goals from the caller; goal management lives
// elsewhere and the ledger only sees goal ids.
func (s *Server) handleGoalProgress(w http.ResponseWriter, r *http.Request) {
	var req goalProgressRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		ErrorFor(err).Write(w)
		return
	}
	userID := pathVar(r, "user_id")

	goals := make([]core.SavingsGoal, 0, len(req.Goals))
	for _, g := range req.Goals {
		id := sanitizeInput(g.ID)
		if id == "" {
			BadRequestError("every goal needs an id").Write(w)
			return
		}
		target := decimal.Zero
		if strings.TrimSpace(string(g.TargetAmount)) != "" {
			d, err := g.TargetAmount.Decimal()
			if err != nil {
				ErrorFor(err).Write(w)
				return
			}
			target = d
		}
		goals = append(goals, core.SavingsGoal{
			ID:           id,
			Name:         sanitizeInput(g.Name),
			Category:     sanitizeInput(g.Category),
			TargetAmount: target,
			UserID:       userID,
		})
	}

	progress, err := s.deps.Insights.GoalProgress(r.Context(), userID, goals)
	if err != nil {
		s.writeServiceError(w, r, "Goal progress failed", err)
		return
	}
	out := make([]progressView, 0, len(progress))
	for _, p := range progress {
		out = append(out, newProgressView(p))
	}
	NewJSONResponse().Body(map[string]any{"goals": out}).Write(w)
}

// writeServiceError logs unexpected failures and maps err onto a response.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	if !core.IsUserError(err) && !errors.Is(err, core.ErrNotFound) && !errors.Is(err, core.ErrConflict) {
		log.FromContext(r.Context()).ErrorContext(r.Context(), msg, log.FieldError, err)
	}
	ErrorFor(err).Write(w)
}
