package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"fsgateway/internal/common/api"
	"fsgateway/internal/common/database"
	"fsgateway/internal/fsapi"
	"fsgateway/internal/requestlog"
	"fsgateway/internal/settings"
	"fsgateway/internal/transfer"
)

// Handler handles transfer and gateway-settings HTTP requests
type Handler struct {
	service   *transfer.Service
	ledger    *requestlog.Ledger
	settings  settings.Store
	validator *settings.Validator
}

// NewHandler creates a new transfer handler
func NewHandler(service *transfer.Service, ledger *requestlog.Ledger, settingsStore settings.Store, validator *settings.Validator) *Handler {
	return &Handler{
		service:   service,
		ledger:    ledger,
		settings:  settingsStore,
		validator: validator,
	}
}

// Routes returns the transfer routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	// Transfer routes
	r.Post("/transfers/{documentID}", h.ExecuteTransfer)
	r.Post("/transfers/batches/drafts", h.RunDraftBatch)
	r.Post("/transfers/batches/retries", h.RunRetryBatch)

	// Integration request routes
	r.Get("/requests/{id}", h.GetRequest)

	// Settings routes
	r.Get("/settings", h.GetSettings)
	r.Put("/settings", h.UpdateSettings)
	r.Post("/settings/validate", h.ValidateSettings)

	return r
}

// ExecuteTransfer handles POST /transfers/{documentID}
func (h *Handler) ExecuteTransfer(w http.ResponseWriter, r *http.Request) {
	documentID := chi.URLParam(r, "documentID")
	if documentID == "" {
		api.BadRequest(w, "document ID required")
		return
	}

	err := h.service.ExecuteByID(r.Context(), documentID)
	if err != nil {
		var rejected *transfer.RejectedError
		switch {
		case errors.As(err, &rejected):
			api.WriteErrorWithDetails(w, http.StatusUnprocessableEntity, api.ErrCodeGatewayRejected, rejected.Message, map[string]string{
				"code": rejected.Code,
			})
		case errors.Is(err, transfer.ErrInsufficientFunds):
			api.WriteError(w, http.StatusUnprocessableEntity, api.ErrCodeInsufficientFunds, "transfer amount exceeds the account limit")
		case database.IsNotFound(err):
			api.NotFound(w, "document not found")
		default:
			api.InternalError(w, "transfer failed")
		}
		return
	}

	api.WriteData(w, http.StatusOK, map[string]string{"status": "completed"})
}

// RunDraftBatch handles POST /transfers/batches/drafts
func (h *Handler) RunDraftBatch(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.RunDraftBatch(r.Context())
	if err != nil {
		api.InternalError(w, "draft batch failed")
		return
	}

	api.WriteData(w, http.StatusOK, report)
}

// RunRetryBatch handles POST /transfers/batches/retries
func (h *Handler) RunRetryBatch(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.RunRetryBatch(r.Context())
	if err != nil {
		api.InternalError(w, "retry batch failed")
		return
	}

	api.WriteData(w, http.StatusOK, report)
}

// GetRequest handles GET /requests/{id}
func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		api.BadRequest(w, "request ID required")
		return
	}

	entry, err := h.ledger.Get(r.Context(), id)
	if err != nil {
		if database.IsNotFound(err) {
			api.NotFound(w, "integration request not found")
			return
		}
		api.InternalError(w, "failed to get integration request")
		return
	}

	api.WriteData(w, http.StatusOK, entry)
}

// GetSettings handles GET /settings. The secret is never serialized.
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	st, err := h.settings.Get(r.Context())
	if err != nil {
		if database.IsNotFound(err) {
			api.NotFound(w, "gateway settings not configured")
			return
		}
		api.InternalError(w, "failed to get settings")
		return
	}

	api.WriteData(w, http.StatusOK, st)
}

// UpdateSettingsRequest is the API request for updating gateway settings
type UpdateSettingsRequest struct {
	User         string `json:"user" validate:"required,max=255"`
	Secret       string `json:"secret" validate:"required"`
	UseStaging   bool   `json:"use_staging"`
	HouseAccount string `json:"house_account" validate:"required,max=64"`
	TokenFormat  string `json:"token_format" validate:"required,oneof=string numeric"`
}

// UpdateSettings handles PUT /settings
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req UpdateSettingsRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	st := &settings.Settings{
		User:         req.User,
		Secret:       req.Secret,
		UseStaging:   req.UseStaging,
		HouseAccount: req.HouseAccount,
		TokenFormat:  fsapi.TokenFormat(req.TokenFormat),
	}

	if err := h.settings.Save(r.Context(), st); err != nil {
		api.InternalError(w, "failed to save settings")
		return
	}

	api.WriteData(w, http.StatusOK, st)
}

// ValidateSettings handles POST /settings/validate. It performs a live
// login and token round trip against the selected FS environment.
func (h *Handler) ValidateSettings(w http.ResponseWriter, r *http.Request) {
	err := h.validator.Validate(r.Context())
	if err != nil {
		var loginErr *fsapi.LoginError
		if errors.As(err, &loginErr) {
			api.WriteErrorWithDetails(w, http.StatusUnprocessableEntity, api.ErrCodeGatewayRejected, "login rejected", map[string]string{
				"code": loginErr.Code,
			})
			return
		}
		api.InternalError(w, "settings validation failed")
		return
	}

	api.WriteData(w, http.StatusOK, map[string]string{"status": "valid"})
}
