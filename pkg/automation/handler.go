package automation

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/singura/singura/internal/httpserver"
	"github.com/singura/singura/internal/orgcontext"
)

// Handler serves the read API over discovered automations.
type Handler struct {
	store  *Store
	logger *slog.Logger
}

// NewHandler creates an automation Handler.
func NewHandler(store *Store, logger *slog.Logger) *Handler {
	return &Handler{store: store, logger: logger}
}

// Routes returns a chi.Router with the automation read endpoints mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.handleList)
	r.Get("/{id}/details", h.handleDetails)
	return r
}

type listedAutomation struct {
	ID                  uuid.UUID `json:"id"`
	Platform            string    `json:"platform"`
	ExternalID          string    `json:"external_id"`
	Name                string    `json:"name"`
	AutomationType      Type      `json:"automation_type"`
	PermissionsRequired []string  `json:"permissions_required"`
	LastSeenAt          time.Time `json:"last_seen_at"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	orgID, ok := orgcontext.FromContext(r.Context())
	if !ok {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "no organization resolved")
		return
	}

	params, err := httpserver.ParseCursorParams(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	var after *time.Time
	var afterID *uuid.UUID
	if params.After != nil {
		after = &params.After.CreatedAt
		afterID = &params.After.ID
	}

	rows, err := h.store.List(r.Context(), orgID, after, afterID, params.Limit+1)
	if err != nil {
		h.logger.Error("listing automations", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list automations")
		return
	}

	items := make([]listedAutomation, len(rows))
	for i, a := range rows {
		items[i] = listedAutomation{
			ID:                  a.ID,
			Platform:            string(a.Platform),
			ExternalID:          a.ExternalID,
			Name:                a.Name,
			AutomationType:      a.AutomationType,
			PermissionsRequired: a.PermissionsRequired,
			LastSeenAt:          a.LastSeenAt,
		}
	}

	page := httpserver.NewCursorPage(items, params.Limit, func(a listedAutomation) httpserver.Cursor {
		return httpserver.Cursor{CreatedAt: a.LastSeenAt, ID: a.ID}
	})
	httpserver.Respond(w, http.StatusOK, page)
}

type riskAnalysis struct {
	OverallRisk string `json:"overall_risk"`
}

type detailsResponse struct {
	DiscoveredAutomation
	PermissionDetails []ScopeInfo  `json:"permission_details"`
	RiskAnalysis      riskAnalysis `json:"risk_analysis"`
}

func (h *Handler) handleDetails(w http.ResponseWriter, r *http.Request) {
	orgID, ok := orgcontext.FromContext(r.Context())
	if !ok {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "no organization resolved")
		return
	}

	// The details endpoint is keyed by Singura's internal UUID, not the
	// platform's external id. A non-UUID path segment can never match, so
	// it 404s immediately rather than querying the database.
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "automation not found")
		return
	}

	a, err := h.store.Get(r.Context(), orgID, id)
	if errors.Is(err, ErrNotFound) {
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "automation not found")
		return
	}
	if err != nil {
		h.logger.Error("loading automation details", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to load automation")
		return
	}

	details := make([]ScopeInfo, len(a.PermissionsRequired))
	for i, p := range a.PermissionsRequired {
		details[i] = LookupScope(p)
	}

	httpserver.Respond(w, http.StatusOK, detailsResponse{
		DiscoveredAutomation: a,
		PermissionDetails:    details,
		RiskAnalysis:         riskAnalysis{OverallRisk: OverallRisk(details)},
	})
}
