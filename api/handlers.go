/*
handlers.go - HTTP API handlers for the wallet ledger

PURPOSE:
  Exposes wallet operations via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the wallet package.

ENDPOINTS:
  Wallet:
    GET    /api/wallets/{userID}                    Balance summary
    GET    /api/wallets/{userID}/transactions       History (newest first)
    GET    /api/wallets/{userID}/breakdown?total=   Allocation preview
    POST   /api/wallets/{userID}/reload             Re-read snapshot

  Money movement:
    POST   /api/wallets/{userID}/earnings           Record seller income
    POST   /api/wallets/{userID}/payments           Checkout charge
    POST   /api/wallets/{userID}/withdrawals        Payout
    POST   /api/wallets/{userID}/refunds            Credit on-demand balance

  Payment methods:
    GET    /api/wallets/{userID}/payment-methods
    POST   /api/wallets/{userID}/payment-methods
    DELETE /api/wallets/{userID}/payment-methods/{methodID}
    POST   /api/wallets/{userID}/payment-methods/{methodID}/default

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Invalid amount, malformed body, bad payment method
  - 404: Unknown transaction or payment method
  - 409: Duplicate payment method
  - 422: Insufficient funds, payment method required, card declined
  - 503: Payment processor unavailable
  - 500: Internal errors
  A snapshot write failure after the operation applied is not an error
  response: the normal status is returned with a "warning" field.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/warp/wallet-engine/wallet"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Registry *wallet.Registry
	Store    wallet.SnapshotStore

	logger *slog.Logger
}

// NewHandler creates a new handler. store is used by the scenario loader.
func NewHandler(registry *wallet.Registry, store wallet.SnapshotStore, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Registry: registry,
		Store:    store,
		logger:   logger.With("component", "api"),
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":                "ok",
		"scheduled_transitions": h.Registry.Scheduler().Pending(),
	})
}

// openWallet resolves {userID}; on failure it writes the error response.
func (h *Handler) openWallet(w http.ResponseWriter, r *http.Request) (*wallet.Wallet, bool) {
	wal, err := h.Registry.Open(r.Context(), chi.URLParam(r, "userID"))
	if err != nil && !wallet.IsPersistenceOnly(err) {
		h.writeWalletError(w, err)
		return nil, false
	}
	return wal, true
}

// =============================================================================
// WALLET HANDLERS
// =============================================================================

// GetWallet returns the balance summary.
func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	wal, ok := h.openWallet(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toWalletDTO(wal.UserID(), wal.State()))
}

// ListTransactions returns transactions newest first. Optional filters:
// type, status, limit.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	wal, ok := h.openWallet(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	txType := q.Get("type")
	status := q.Get("status")
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		limit = n
	}

	dtos := []TransactionDTO{}
	for _, tx := range wal.Transactions() {
		if txType != "" && string(tx.Type) != txType {
			continue
		}
		if status != "" && string(tx.Status) != status {
			continue
		}
		dtos = append(dtos, toTransactionDTO(tx))
		if limit > 0 && len(dtos) == limit {
			break
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	wal, ok := h.openWallet(w, r)
	if !ok {
		return
	}
	tx, err := wal.Transaction(chi.URLParam(r, "txID"))
	if err != nil {
		h.writeWalletError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(tx))
}

// GetBreakdown previews how ?total= would be split.
func (h *Handler) GetBreakdown(w http.ResponseWriter, r *http.Request) {
	wal, ok := h.openWallet(w, r)
	if !ok {
		return
	}
	total, err := wallet.ParseAmount("total", r.URL.Query().Get("total"))
	if err != nil {
		h.writeWalletError(w, err)
		return
	}
	b, err := wal.CalculatePaymentBreakdown(total)
	if err != nil {
		h.writeWalletError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBreakdownDTO(b))
}

func (h *Handler) Reload(w http.ResponseWriter, r *http.Request) {
	wal, ok := h.openWallet(w, r)
	if !ok {
		return
	}
	err := wal.Reload(r.Context())
	if err != nil && !wallet.IsPersistenceOnly(err) {
		h.writeWalletError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toWalletDTO(wal.UserID(), wal.State()))
}

// =============================================================================
// MONEY MOVEMENT HANDLERS
// =============================================================================

func (h *Handler) AddEarning(w http.ResponseWriter, r *http.Request) {
	wal, ok := h.openWallet(w, r)
	if !ok {
		return
	}
	var req EarningRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	tx, err := wal.AddEarning(r.Context(), req.Amount, req.OrderID, req.Description)
	h.writeTransactionResult(w, wal, tx, err)
}

func (h *Handler) WithdrawFunds(w http.ResponseWriter, r *http.Request) {
	wal, ok := h.openWallet(w, r)
	if !ok {
		return
	}
	var req WithdrawalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	tx, err := wal.WithdrawFunds(r.Context(), req.Amount, req.Destination)
	h.writeTransactionResult(w, wal, tx, err)
}

func (h *Handler) Refund(w http.ResponseWriter, r *http.Request) {
	wal, ok := h.openWallet(w, r)
	if !ok {
		return
	}
	var req RefundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	tx, err := wal.Refund(r.Context(), req.Amount, req.OrderID, req.Description)
	h.writeTransactionResult(w, wal, tx, err)
}

func (h *Handler) ProcessPayment(w http.ResponseWriter, r *http.Request) {
	wal, ok := h.openWallet(w, r)
	if !ok {
		return
	}
	var req PaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	res, err := wal.ProcessPayment(r.Context(), wallet.PaymentRequest{
		Amount:          req.Amount,
		OrderID:         req.OrderID,
		Description:     req.Description,
		PaymentMethodID: req.PaymentMethodID,
	})
	if err != nil && !wallet.IsPersistenceOnly(err) {
		h.writeWalletError(w, err)
		return
	}

	resp := PaymentResponse{
		Transaction: toTransactionDTO(res.Transaction),
		Breakdown:   toBreakdownDTO(res.Breakdown),
		Wallet:      toWalletDTO(wal.UserID(), wal.State()),
	}
	if res.Receipt != nil {
		resp.ChargeID = res.Receipt.ChargeID
	}
	if err != nil {
		resp.Warning = err.Error()
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) writeTransactionResult(w http.ResponseWriter, wal *wallet.Wallet, tx wallet.Transaction, err error) {
	if err != nil && !wallet.IsPersistenceOnly(err) {
		h.writeWalletError(w, err)
		return
	}
	resp := TransactionResponse{
		Transaction: toTransactionDTO(tx),
		Wallet:      toWalletDTO(wal.UserID(), wal.State()),
	}
	if err != nil {
		resp.Warning = err.Error()
	}
	writeJSON(w, http.StatusCreated, resp)
}

// =============================================================================
// PAYMENT METHOD HANDLERS
// =============================================================================

func (h *Handler) ListPaymentMethods(w http.ResponseWriter, r *http.Request) {
	wal, ok := h.openWallet(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, PaymentMethodsResponse{PaymentMethods: toPaymentMethodDTOs(wal.PaymentMethods())})
}

func (h *Handler) AddPaymentMethod(w http.ResponseWriter, r *http.Request) {
	wal, ok := h.openWallet(w, r)
	if !ok {
		return
	}
	var req AddPaymentMethodRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	pm, err := wal.AddPaymentMethod(r.Context(), wallet.PaymentMethod{
		ID:          req.ID,
		Type:        wallet.PaymentMethodType(req.Type),
		Last4:       req.Last4,
		Brand:       req.Brand,
		IsDefault:   req.IsDefault,
		ExpiryMonth: req.ExpiryMonth,
		ExpiryYear:  req.ExpiryYear,
	})
	if err != nil && !wallet.IsPersistenceOnly(err) {
		h.writeWalletError(w, err)
		return
	}

	resp := map[string]any{"paymentMethod": toPaymentMethodDTO(pm)}
	if err != nil {
		resp["warning"] = err.Error()
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) RemovePaymentMethod(w http.ResponseWriter, r *http.Request) {
	wal, ok := h.openWallet(w, r)
	if !ok {
		return
	}
	err := wal.RemovePaymentMethod(r.Context(), chi.URLParam(r, "methodID"))
	h.writeMethodsResult(w, wal, err)
}

func (h *Handler) SetDefaultPaymentMethod(w http.ResponseWriter, r *http.Request) {
	wal, ok := h.openWallet(w, r)
	if !ok {
		return
	}
	err := wal.SetDefaultPaymentMethod(r.Context(), chi.URLParam(r, "methodID"))
	h.writeMethodsResult(w, wal, err)
}

func (h *Handler) writeMethodsResult(w http.ResponseWriter, wal *wallet.Wallet, err error) {
	if err != nil && !wallet.IsPersistenceOnly(err) {
		h.writeWalletError(w, err)
		return
	}
	resp := PaymentMethodsResponse{PaymentMethods: toPaymentMethodDTOs(wal.PaymentMethods())}
	if err != nil {
		resp.Warning = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// HELPERS
// =============================================================================

// writeWalletError maps wallet errors to HTTP statuses.
func (h *Handler) writeWalletError(w http.ResponseWriter, err error) {
	status, code, message := classify(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "code", code, "error", err)
	}
	writeJSON(w, status, ErrorResponse{Error: message, Code: code, Details: err.Error()})
}

func classify(err error) (status int, code, message string) {
	switch {
	case errors.Is(err, wallet.ErrInvalidAmount):
		return http.StatusBadRequest, "invalid_amount", "Invalid amount"
	case errors.Is(err, wallet.ErrInvalidPaymentMethod):
		return http.StatusBadRequest, "invalid_payment_method", "Invalid payment method"
	case errors.Is(err, wallet.ErrInvalidUserID):
		return http.StatusBadRequest, "invalid_user_id", "Invalid user id"
	case errors.Is(err, wallet.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity, "insufficient_funds", "Insufficient funds"
	case errors.Is(err, wallet.ErrPaymentMethodRequired):
		return http.StatusUnprocessableEntity, "payment_method_required", "A payment method is required for the card portion"
	case errors.Is(err, wallet.ErrPaymentDeclined):
		return http.StatusUnprocessableEntity, "payment_declined", "Payment declined"
	case errors.Is(err, wallet.ErrDuplicatePaymentMethod):
		return http.StatusConflict, "duplicate_payment_method", "Payment method already exists"
	case wallet.IsNotFound(err):
		return http.StatusNotFound, "not_found", "Not found"
	case errors.Is(err, wallet.ErrProcessorUnavailable):
		return http.StatusServiceUnavailable, "processor_unavailable", "Payment processor unavailable"
	case errors.Is(err, wallet.ErrCorruptSnapshot):
		return http.StatusInternalServerError, "corrupt_snapshot", "Stored wallet is unreadable"
	}
	return http.StatusInternalServerError, "internal", "Internal error"
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
