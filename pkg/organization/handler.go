package organization

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
)

var validate = validator.New()

// Handler serves organization provisioning and lookup endpoints. There is
// no end-user auth here; creating an organization is the entry point a
// provisioning caller uses before any connection can be established.
type Handler struct {
	store  *Store
	logger *slog.Logger
}

// NewHandler creates an organization Handler.
func NewHandler(store *Store, logger *slog.Logger) *Handler {
	return &Handler{store: store, logger: logger}
}

// Routes returns a chi.Router with the organization endpoints mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.handleCreate)
	r.Get("/{id}", h.handleGet)
	return r
}

type createRequest struct {
	Name string `json:"name" validate:"required,min=1,max=200"`
}

type organizationResponse struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

func toResponse(o Organization) organizationResponse {
	return organizationResponse{ID: o.ID, Name: o.Name, CreatedAt: o.CreatedAt}
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	org, err := h.store.Create(r.Context(), req.Name)
	if err != nil {
		h.logger.Error("creating organization", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to create organization")
		return
	}
	httpserver.Respond(w, http.StatusCreated, toResponse(org))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "organization not found")
		return
	}

	org, err := h.store.Get(r.Context(), id)
	if errors.Is(err, ErrNotFound) {
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "organization not found")
		return
	}
	if err != nil {
		h.logger.Error("loading organization", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to load organization")
		return
	}
	httpserver.Respond(w, http.StatusOK, toResponse(org))
}
