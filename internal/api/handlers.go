/**
 * @description
 * This file contains the HTTP handlers for the usage-service's API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the appropriate
 * methods on the admission engine, resolver and usage reader, and writing the
 * HTTP response. They act as the bridge between the web layer and the
 * admission-control logic.
 *
 * Quota decisions carry the standard rate-limit metadata: X-RateLimit-Limit,
 * X-RateLimit-Remaining and X-RateLimit-Reset on every check response, plus
 * Retry-After and an upgrade hint on denials. Degraded (fail-open) decisions
 * set X-Usage-Degraded so collaborators can surface reduced-accuracy state.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - github.com/go-chi/chi/v5: URL parameter extraction.
 * - github.com/google/uuid: User identifiers.
 * - internal/app, internal/domain: Admission engine and models.
 */

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/tutorhub/usage-service/internal/app"
	"github.com/tutorhub/usage-service/internal/domain"
)

// UsageHandlers holds the application components that handlers use.
type UsageHandlers struct {
	admission *app.AdmissionController
	resolver  *app.EntitlementResolver
	reader    *app.UsageReader
	now       func() time.Time
}

// NewUsageHandlers creates the handler set.
func NewUsageHandlers(admission *app.AdmissionController, resolver *app.EntitlementResolver, reader *app.UsageReader) *UsageHandlers {
	return &UsageHandlers{admission: admission, resolver: resolver, reader: reader, now: time.Now}
}

type quotaCheckRequest struct {
	UserID   string `json:"user_id"`
	Resource string `json:"resource"`
}

type recordUsageRequest struct {
	UserID   string `json:"user_id"`
	Resource string `json:"resource"`
	Minutes  int64  `json:"minutes,omitempty"`
}

type updatePlanRequest struct {
	Plan    string     `json:"plan"`
	Status  string     `json:"status"`
	EndDate *time.Time `json:"end_date,omitempty"`
}

type entitlementsResponse struct {
	Plan   domain.PlanTier                      `json:"plan"`
	Quotas map[domain.ResourceType]domain.Quota `json:"quotas"`
}

// CheckQuotaHandler decides whether a quota-gated operation may run. Called by
// collaborating services before the protected operation; the response is the
// gating decision, so callers must not retry an allow.
func (h *UsageHandlers) CheckQuotaHandler(w http.ResponseWriter, r *http.Request) {
	var req quotaCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		http.Error(w, "Invalid user_id", http.StatusBadRequest)
		return
	}
	resource := domain.ResourceType(req.Resource)
	if !domain.ValidResource(resource) || !resource.Gated() {
		http.Error(w, fmt.Sprintf("Resource %q is not quota-gated", req.Resource), http.StatusBadRequest)
		return
	}

	decision, err := h.admission.Check(r.Context(), userID, resource)
	if err != nil {
		// Entitlement resolution failure: retryable, never a quota denial.
		log.Printf("level=error component=api msg=\"quota check failed\" user_id=%s resource=%s err=%v", userID, resource, err)
		respondWithJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"error":     "entitlements unavailable",
			"retryable": true,
		})
		return
	}

	writeRateLimitHeaders(w, decision)
	status := http.StatusOK
	if !decision.Allowed {
		status = http.StatusTooManyRequests
	}
	respondWithJSON(w, status, decision)
}

// RecordUsageHandler records a completed operation into the durable ledger.
// Called by collaborating services after the protected operation succeeded.
// A dropped audit write is logged but still acknowledged: the user's operation
// already completed and must not be retroactively failed.
func (h *UsageHandlers) RecordUsageHandler(w http.ResponseWriter, r *http.Request) {
	var req recordUsageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		http.Error(w, "Invalid user_id", http.StatusBadRequest)
		return
	}
	resource := domain.ResourceType(req.Resource)
	if !domain.ValidResource(resource) {
		http.Error(w, fmt.Sprintf("Unknown resource %q", req.Resource), http.StatusBadRequest)
		return
	}

	if resource == domain.ResourceStudyTime {
		if req.Minutes <= 0 {
			http.Error(w, "minutes must be positive for study_time", http.StatusBadRequest)
			return
		}
		err = h.admission.RecordStudyTime(r.Context(), userID, req.Minutes)
	} else {
		err = h.admission.Record(r.Context(), userID, resource)
	}

	if err != nil {
		if errors.Is(err, app.ErrDurableWrite) {
			log.Printf("level=warn component=api msg=\"usage record dropped; acknowledging anyway\" user_id=%s resource=%s err=%v", userID, resource, err)
			w.WriteHeader(http.StatusAccepted)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetCurrentUsageHandler returns the authenticated user's reconciled usage for
// today alongside their plan limits.
func (h *UsageHandlers) GetCurrentUsageHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetAuthenticatedUserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	entitlements, err := h.resolver.Resolve(r.Context(), userID)
	if err != nil {
		log.Printf("level=error component=api msg=\"entitlement resolution failed\" user_id=%s err=%v", userID, err)
		http.Error(w, "Entitlements unavailable", http.StatusServiceUnavailable)
		return
	}

	totals, err := h.reader.CurrentUsage(r.Context(), userID)
	if err != nil {
		log.Printf("level=error component=api msg=\"usage read failed\" user_id=%s err=%v", userID, err)
		http.Error(w, "Usage unavailable", http.StatusInternalServerError)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"plan":   entitlements.Plan,
		"usage":  totals,
		"limits": entitlements.Quotas(),
	})
}

// GetUsageHistoryHandler returns per-day ledger rows for a date range.
// Defaults to the trailing seven days; ranges are capped at 90 days.
func (h *UsageHandlers) GetUsageHistoryHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetAuthenticatedUserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	end := h.now().UTC()
	start := end.AddDate(0, 0, -6)

	if raw := r.URL.Query().Get("start_date"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			http.Error(w, "Invalid start_date, expected YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		start = parsed
	}
	if raw := r.URL.Query().Get("end_date"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			http.Error(w, "Invalid end_date, expected YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		end = parsed
	}

	if end.Before(start) {
		http.Error(w, "end_date must not precede start_date", http.StatusBadRequest)
		return
	}
	if end.Sub(start) > 90*24*time.Hour {
		http.Error(w, "Date range too large; maximum is 90 days", http.StatusBadRequest)
		return
	}

	rows, err := h.reader.History(r.Context(), userID, start, end)
	if err != nil {
		log.Printf("level=error component=api msg=\"usage history read failed\" user_id=%s err=%v", userID, err)
		http.Error(w, "Usage history unavailable", http.StatusInternalServerError)
		return
	}
	if rows == nil {
		rows = []domain.DailyUsage{}
	}

	respondWithJSON(w, http.StatusOK, rows)
}

// GetEntitlementsHandler returns the authenticated user's plan and quotas.
func (h *UsageHandlers) GetEntitlementsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetAuthenticatedUserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	entitlements, err := h.resolver.Resolve(r.Context(), userID)
	if err != nil {
		log.Printf("level=error component=api msg=\"entitlement resolution failed\" user_id=%s err=%v", userID, err)
		http.Error(w, "Entitlements unavailable", http.StatusServiceUnavailable)
		return
	}

	respondWithJSON(w, http.StatusOK, entitlementsResponse{
		Plan:   entitlements.Plan,
		Quotas: entitlements.Quotas(),
	})
}

// UpdatePlanHandler applies a plan change from the billing collaborator over
// the internal API (the broker consumer handles the asynchronous path).
func (h *UsageHandlers) UpdatePlanHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		http.Error(w, "Invalid user id", http.StatusBadRequest)
		return
	}

	var req updatePlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	plan := domain.PlanTier(req.Plan)
	status := domain.SubscriptionStatus(req.Status)
	if !domain.ValidPlan(plan) {
		http.Error(w, fmt.Sprintf("Unknown plan %q", req.Plan), http.StatusBadRequest)
		return
	}
	if !domain.ValidStatus(status) {
		http.Error(w, fmt.Sprintf("Unknown status %q", req.Status), http.StatusBadRequest)
		return
	}

	entitlements, err := h.resolver.Update(r.Context(), userID, plan, status, req.EndDate)
	if err != nil {
		log.Printf("level=error component=api msg=\"plan update failed\" user_id=%s plan=%s err=%v", userID, plan, err)
		http.Error(w, "Plan update failed", http.StatusInternalServerError)
		return
	}

	respondWithJSON(w, http.StatusOK, entitlementsResponse{
		Plan:   entitlements.Plan,
		Quotas: entitlements.Quotas(),
	})
}

// writeRateLimitHeaders surfaces the decision's metadata in the standard
// rate-limit headers.
func writeRateLimitHeaders(w http.ResponseWriter, decision app.Decision) {
	w.Header().Set("X-RateLimit-Limit", decision.Limit.String())
	w.Header().Set("X-RateLimit-Remaining", decision.Remaining.String())
	if !decision.ResetAt.IsZero() {
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))
	}
	if decision.RetryAfterSeconds > 0 {
		w.Header().Set("Retry-After", strconv.FormatInt(decision.RetryAfterSeconds, 10))
	}
	if decision.Degraded {
		w.Header().Set("X-Usage-Degraded", "true")
	}
}

// respondWithJSON is a helper function to write JSON responses.
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
