package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"tally/internal/common/logging"
	"tally/internal/common/types"
	"tally/internal/ledger/application"
	"tally/internal/ledger/domain"
)

// Handler implements the HTTP handlers for the Ledger API.
type Handler struct {
	service *application.TransferService
}

// NewHandler creates a new Handler.
func NewHandler(service *application.TransferService) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers the Ledger API routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /transfers", h.CreateTransfer)
	mux.HandleFunc("GET /accounts/{id}/balance", h.GetBalance)
}

// CreateTransferRequest is the JSON request body for creating a transfer.
type CreateTransferRequest struct {
	IdempotencyKey       string `json:"idempotency_key"`
	SourceAccountID      string `json:"source_account_id"`
	DestinationAccountID string `json:"destination_account_id"`
	Amount               string `json:"amount"`
	Currency             string `json:"currency"`
	Description          string `json:"description"`
}

// CreateTransfer handles POST /transfers.
// A replayed idempotency key returns 200 with the original transaction;
// a first-time key returns 201.
func (h *Handler) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateTransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	if req.IdempotencyKey == "" {
		h.writeError(w, http.StatusBadRequest, "idempotency_key is required", nil)
		return
	}
	if _, err := domain.ParseAccountID(req.SourceAccountID); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid source_account_id", err)
		return
	}
	if _, err := domain.ParseAccountID(req.DestinationAccountID); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid destination_account_id", err)
		return
	}

	correlationID := types.CorrelationID{}
	if v := r.Header.Get("X-Correlation-ID"); v != "" {
		correlationID, _ = types.ParseCorrelationID(v)
	}
	if correlationID.IsEmpty() {
		correlationID = types.NewCorrelationID()
	}
	ctx = logging.WithCorrelationID(ctx, correlationID)

	resp, err := h.service.CreateTransfer(ctx, application.CreateTransferRequest{
		IdempotencyKey:       req.IdempotencyKey,
		SourceAccountID:      req.SourceAccountID,
		DestinationAccountID: req.DestinationAccountID,
		Amount:               req.Amount,
		Currency:             req.Currency,
		Description:          req.Description,
	})
	if err != nil {
		h.handleDomainError(ctx, w, err)
		return
	}

	status := http.StatusCreated
	if resp.Replayed {
		status = http.StatusOK
	}
	h.writeJSON(w, status, resp)
}

// GetBalance handles GET /accounts/{id}/balance.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if _, err := domain.ParseAccountID(r.PathValue("id")); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid account id", err)
		return
	}

	resp, err := h.service.GetBalance(ctx, r.PathValue("id"))
	if err != nil {
		h.handleDomainError(ctx, w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// handleDomainError maps domain errors to HTTP responses.
func (h *Handler) handleDomainError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrAccountNotFound):
		h.writeError(w, http.StatusNotFound, "account not found", nil)
	case errors.Is(err, domain.ErrInsufficientFunds):
		h.writeError(w, http.StatusUnprocessableEntity, "insufficient funds", nil)
	case errors.Is(err, domain.ErrCurrencyMismatch):
		h.writeError(w, http.StatusBadRequest, "currency mismatch", nil)
	case errors.Is(err, domain.ErrSelfTransfer):
		h.writeError(w, http.StatusBadRequest, "source and destination accounts must differ", nil)
	case errors.Is(err, domain.ErrEmptyIdempotencyKey):
		h.writeError(w, http.StatusBadRequest, "idempotency_key is required", nil)
	case errors.Is(err, domain.ErrDuplicateIdempotencyKey):
		h.writeError(w, http.StatusConflict, "idempotency key already in use", nil)
	case errors.Is(err, types.ErrNonPositiveAmount),
		errors.Is(err, types.ErrAmountScale),
		errors.Is(err, types.ErrInvalidCurrency):
		h.writeError(w, http.StatusBadRequest, err.Error(), nil)
	case errors.Is(err, domain.ErrStaleVersion):
		h.writeError(w, http.StatusConflict, "concurrent modification detected, please retry", nil)
	default:
		logging.ErrorContext(ctx, "Unhandled error", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error", nil)
	}
}

// writeJSON writes a JSON response.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// writeError writes an error response.
func (h *Handler) writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Message = err.Error()
	}
	h.writeJSON(w, status, resp)
}
