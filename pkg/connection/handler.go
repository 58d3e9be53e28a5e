package connection

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/singura/singura/internal/httpserver"
	"github.com/singura/singura/internal/orgcontext"
	"github.com/singura/singura/pkg/connector"
	"github.com/singura/singura/pkg/cryptostore"
)

var validate = validator.New()

// Handler serves connection management endpoints: creating a connection
// from a completed OAuth grant, listing active connections, and revoking
// one.
type Handler struct {
	store  *Store
	creds  *cryptostore.Store
	logger *slog.Logger
}

// NewHandler creates a connection Handler.
func NewHandler(store *Store, creds *cryptostore.Store, logger *slog.Logger) *Handler {
	return &Handler{store: store, creds: creds, logger: logger}
}

// Routes returns a chi.Router with the connection endpoints mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.handleList)
	r.Post("/", h.handleCreate)
	r.Post("/{id}/revoke", h.handleRevoke)
	return r
}

type createRequest struct {
	Platform          connector.Platform `json:"platform" validate:"required,oneof=slack google microsoft"`
	ExternalAccountID string             `json:"external_account_id" validate:"required"`
	AccessToken       string             `json:"access_token" validate:"required"`
	RefreshToken      string             `json:"refresh_token"`
	ExpiresAt         time.Time          `json:"expires_at"`
	Scopes            []string           `json:"scopes"`
}

type connectionResponse struct {
	ID                uuid.UUID `json:"id"`
	Platform          string    `json:"platform"`
	ExternalAccountID string    `json:"external_account_id"`
	Status            string    `json:"status"`
	CreatedAt         time.Time `json:"created_at"`
}

func toResponse(c PlatformConnection) connectionResponse {
	return connectionResponse{
		ID:                c.ID,
		Platform:          string(c.Platform),
		ExternalAccountID: c.ExternalAccountID,
		Status:            string(c.Status),
		CreatedAt:         c.CreatedAt,
	}
}

// handleCreate persists a new connection from the OAuth token already
// exchanged by the caller (the authorization-code exchange itself happens
// client-side against each platform's consent screen; this endpoint only
// receives the resulting tokens).
func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	orgID, ok := orgcontext.FromContext(r.Context())
	if !ok {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "no organization resolved")
		return
	}

	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	conn, err := h.store.Create(r.Context(), orgID, req.Platform, req.ExternalAccountID)
	if err != nil {
		h.logger.Error("creating connection", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to create connection")
		return
	}

	creds := cryptostore.Credentials{
		AccessToken:  req.AccessToken,
		RefreshToken: req.RefreshToken,
		ExpiresAt:    req.ExpiresAt,
		Scopes:       req.Scopes,
	}
	if err := h.creds.Store(r.Context(), conn.ID, creds); err != nil {
		h.logger.Error("storing connection credentials", "error", err, "connection_id", conn.ID)
		_ = h.store.SetStatus(r.Context(), conn.ID, StatusRevoked)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to store credentials")
		return
	}

	httpserver.Respond(w, http.StatusCreated, toResponse(conn))
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	orgID, ok := orgcontext.FromContext(r.Context())
	if !ok {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "no organization resolved")
		return
	}

	platform := connector.Platform(r.URL.Query().Get("platform"))
	rows, err := h.store.ListActive(r.Context(), orgID, platform)
	if err != nil {
		h.logger.Error("listing connections", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list connections")
		return
	}

	items := make([]connectionResponse, len(rows))
	for i, c := range rows {
		items[i] = toResponse(c)
	}
	httpserver.Respond(w, http.StatusOK, items)
}

func (h *Handler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	orgID, ok := orgcontext.FromContext(r.Context())
	if !ok {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "no organization resolved")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "connection not found")
		return
	}

	if _, err := h.store.Get(r.Context(), orgID, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			httpserver.RespondError(w, http.StatusNotFound, "not_found", "connection not found")
			return
		}
		h.logger.Error("loading connection", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to load connection")
		return
	}

	if err := h.store.SetStatus(r.Context(), id, StatusRevoked); err != nil {
		h.logger.Error("revoking connection", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to revoke connection")
		return
	}
	if err := h.creds.Remove(r.Context(), id); err != nil {
		h.logger.Error("removing connection credentials", "error", err, "connection_id", id)
	}

	w.WriteHeader(http.StatusNoContent)
}
