package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/eloity-labs/reward-engine/internal/admin"
	"github.com/eloity-labs/reward-engine/internal/domain"
	"github.com/eloity-labs/reward-engine/internal/limiter"
	"github.com/eloity-labs/reward-engine/internal/repository"
	"github.com/eloity-labs/reward-engine/internal/reward"
	"github.com/eloity-labs/reward-engine/internal/store"
	"github.com/go-chi/chi/v5"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo    domain.Repository
	cache   domain.Cache
	store   *store.Store
	calc    *reward.Calculator
	limiter *limiter.Limiter
	admin   *admin.Administrator
	version string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, st *store.Store, calc *reward.Calculator, lim *limiter.Limiter, adm *admin.Administrator, version string) *Handler {
	return &Handler{
		repo:    repo,
		cache:   cache,
		store:   st,
		calc:    calc,
		limiter: lim,
		admin:   adm,
		version: version,
	}
}

// CalculateRequest is the request body for POST /calculate and
// POST /award.
type CalculateRequest struct {
	UserID     string            `json:"userId,omitempty"`
	ActionType string            `json:"actionType"`
	TrustScore float64           `json:"trustScore"`
	Input      *domain.CalcInput `json:"input,omitempty"`
}

// AwardResponse is the response for POST /award.
type AwardResponse struct {
	Granted           bool                      `json:"granted"`
	Reason            string                    `json:"reason,omitempty"`
	PendingModeration bool                      `json:"pendingModeration,omitempty"`
	Calculation       *domain.RewardCalculation `json:"calculation,omitempty"`
}

// Calculate handles POST /calculate: a pure amount preview that never
// touches the activity ledger.
func (h *Handler) Calculate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, ok := h.decodeCalcRequest(w, r)
	if !ok {
		return
	}

	calc := h.calc.Calculate(ctx, req.ActionType, req.TrustScore, req.Input)
	if calc == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "no rule configured for action type",
		})
		return
	}

	writeJSON(w, http.StatusOK, calc)
}

// Award handles POST /award: calculate, then atomically reserve quota
// in the activity ledger. Denials and exhausted quotas grant nothing
// and write nothing.
func (h *Handler) Award(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, ok := h.decodeCalcRequest(w, r)
	if !ok {
		return
	}
	if req.UserID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "userId is required",
		})
		return
	}

	calc := h.calc.Calculate(ctx, req.ActionType, req.TrustScore, req.Input)
	if calc == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "no rule configured for action type",
		})
		return
	}

	if calc.Denied() {
		writeJSON(w, http.StatusOK, AwardResponse{
			Granted:     false,
			Reason:      calc.DenialReason,
			Calculation: calc,
		})
		return
	}

	reserved, err := h.limiter.Reserve(ctx, req.UserID, req.ActionType)
	if err != nil {
		slog.Error("quota reservation failed",
			"user_id", req.UserID,
			"action_type", req.ActionType,
			"error", err,
		)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reserve quota",
		})
		return
	}
	if !reserved {
		writeJSON(w, http.StatusOK, AwardResponse{
			Granted: false,
			Reason:  "rate_limited",
		})
		return
	}

	resp := AwardResponse{
		Granted:     true,
		Calculation: calc,
	}
	if rule := h.store.GetRule(ctx, req.ActionType); rule != nil {
		resp.PendingModeration = rule.RequiresModeration
	}
	writeJSON(w, http.StatusOK, resp)
}

// LimitStatus is one window's quota state in the limits response.
type LimitStatus struct {
	// Remaining is -1 for uncapped windows.
	Remaining int  `json:"remaining"`
	Allowed   bool `json:"allowed"`
}

// Limits handles GET /limits/{userID}/{actionType}.
func (h *Handler) Limits(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := chi.URLParam(r, "userID")
	actionType := chi.URLParam(r, "actionType")

	limits := make(map[domain.Timeframe]LimitStatus, 3)
	for _, tf := range domain.Timeframes() {
		remaining, err := h.limiter.Remaining(ctx, userID, actionType, tf)
		if err != nil {
			slog.Error("failed to compute remaining quota",
				"user_id", userID,
				"action_type", actionType,
				"timeframe", tf,
				"error", err,
			)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to compute remaining quota",
			})
			return
		}
		limits[tf] = LimitStatus{
			Remaining: remaining,
			Allowed:   remaining != 0,
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"userId":     userID,
		"actionType": actionType,
		"limits":     limits,
	})
}

// ListRules returns every active rule.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	rules := h.store.ListActive(r.Context())

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules": rules,
		"count": len(rules),
	})
}

// ListApplicableRules returns the active rules a trust score clears,
// for earning-opportunity displays.
func (h *Handler) ListApplicableRules(w http.ResponseWriter, r *http.Request) {
	trustScore, err := strconv.ParseFloat(r.URL.Query().Get("trustScore"), 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "trustScore query parameter is required and must be a number",
		})
		return
	}

	rules := h.store.ListApplicable(r.Context(), trustScore)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules": rules,
		"count": len(rules),
	})
}

// GetRule returns the active rule for an action type.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	actionType := chi.URLParam(r, "actionType")

	rule := h.store.GetRule(r.Context(), actionType)
	if rule == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "no rule configured for action type",
		})
		return
	}

	writeJSON(w, http.StatusOK, rule)
}

// CreateRule creates a new rule from a draft.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var draft domain.RuleDraft
	if err := json.NewDecoder(r.Body).Decode(&draft); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	rule, err := h.admin.Create(ctx, &draft, GetActorID(ctx))
	if err != nil {
		h.writeAdminError(w, err, "failed to create rule")
		return
	}

	slog.Info("rule created", "id", rule.ID, "action_type", rule.ActionType, "actor", GetActorID(ctx))
	writeJSON(w, http.StatusCreated, rule)
}

// UpdateRule applies a partial patch to a rule.
func (h *Handler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	var patch domain.RulePatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	rule, err := h.admin.Update(ctx, id, &patch, GetActorID(ctx))
	if err != nil {
		h.writeAdminError(w, err, "failed to update rule")
		return
	}

	slog.Info("rule updated", "id", rule.ID, "action_type", rule.ActionType, "actor", GetActorID(ctx))
	writeJSON(w, http.StatusOK, rule)
}

// DeactivateRule retires a rule. The row is kept for audit.
func (h *Handler) DeactivateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	rule, err := h.admin.Deactivate(ctx, id, GetActorID(ctx))
	if err != nil {
		h.writeAdminError(w, err, "failed to deactivate rule")
		return
	}

	slog.Info("rule deactivated", "id", rule.ID, "action_type", rule.ActionType, "actor", GetActorID(ctx))
	writeJSON(w, http.StatusOK, rule)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func (h *Handler) decodeCalcRequest(w http.ResponseWriter, r *http.Request) (*CalculateRequest, bool) {
	var req CalculateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return nil, false
	}
	if req.ActionType == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "actionType is required",
		})
		return nil, false
	}
	if req.TrustScore < 0 || req.TrustScore > 100 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "trustScore must be in [0, 100]",
		})
		return nil, false
	}
	return &req, true
}

func (h *Handler) writeAdminError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, repository.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
	case errors.Is(err, repository.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "rule not found",
		})
	default:
		slog.Error(fallback, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": fallback,
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
