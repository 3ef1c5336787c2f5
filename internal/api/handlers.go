/**
 * @description
 * This file contains the HTTP handlers for the ledger service's API
 * endpoints. Handlers parse incoming requests, call the appropriate methods on
 * the application service, and map sentinel errors to status codes. They are
 * the bridge between the web layer and the ledger core.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/store: Service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/NaKyoo/bank-project/internal/app"
	"github.com/NaKyoo/bank-project/internal/domain"
	"github.com/NaKyoo/bank-project/internal/store"
)

// LedgerHandlers holds the application service that handlers will use.
type LedgerHandlers struct {
	service *app.Service
}

// NewLedgerHandlers creates a new instance of LedgerHandlers.
func NewLedgerHandlers(service *app.Service) *LedgerHandlers {
	return &LedgerHandlers{service: service}
}

type openAccountRequest struct {
	AccountNumber       string          `json:"account_number"`
	ParentAccountNumber *string         `json:"parent_account_number,omitempty"`
	InitialBalance      decimal.Decimal `json:"initial_balance"`
}

type depositRequest struct {
	AccountNumber string          `json:"account_number"`
	Amount        decimal.Decimal `json:"amount"`
}

type transferRequest struct {
	FromAccount string          `json:"from_account"`
	ToAccount   string          `json:"to_account"`
	Amount      decimal.Decimal `json:"amount"`
}

type addBeneficiaryRequest struct {
	BeneficiaryAccountNumber string `json:"beneficiary_account_number"`
}

type archiveAccountRequest struct {
	Reason string `json:"reason"`
}

// transferResponse mirrors the shape clients poll while a transfer is pending.
type transferResponse struct {
	TransactionID int64           `json:"transaction_id"`
	Status        domain.Status   `json:"status"`
	Amount        decimal.Decimal `json:"amount"`
	Message       string          `json:"message"`
}

func (h *LedgerHandlers) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("level=error component=api msg=\"response encode failed\" err=%v", err)
	}
}

func (h *LedgerHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// writeServiceError maps sentinel errors from the core to HTTP status codes.
func (h *LedgerHandlers) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrAccountNotFound), errors.Is(err, store.ErrTransactionNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrNotAccountOwner), errors.Is(err, domain.ErrNotTransactionParty):
		h.writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrDepositOverCeiling),
		errors.Is(err, domain.ErrInsufficientFunds),
		errors.Is(err, domain.ErrNegativeBalance),
		errors.Is(err, domain.ErrSameAccount),
		errors.Is(err, domain.ErrSelfBeneficiary),
		errors.Is(err, domain.ErrInvalidParent):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrDuplicateBeneficiary),
		errors.Is(err, store.ErrDuplicateAccount),
		errors.Is(err, domain.ErrAccountClosed),
		errors.Is(err, domain.ErrAccountStillActive),
		errors.Is(err, domain.ErrHasActiveChildren),
		errors.Is(err, domain.ErrHasPendingTransfers),
		errors.Is(err, domain.ErrChildCapExceeded),
		errors.Is(err, domain.ErrAccountCapExceeded),
		errors.Is(err, domain.ErrHasUnarchivedChildren),
		errors.Is(err, domain.ErrTransferNotPending),
		errors.Is(err, domain.ErrCancelWindowExpired):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, app.ErrTransferRateLimited):
		h.writeError(w, http.StatusTooManyRequests, err.Error())
	default:
		log.Printf("level=error component=api msg=\"internal error\" err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (h *LedgerHandlers) caller(w http.ResponseWriter, r *http.Request) (domain.Caller, bool) {
	caller, ok := GetCaller(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "authentication required")
	}
	return caller, ok
}

// OpenAccountHandler handles requests to open a new account.
func (h *LedgerHandlers) OpenAccountHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req openAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.AccountNumber) == "" {
		h.writeError(w, http.StatusBadRequest, "account_number is required")
		return
	}

	account, err := h.service.OpenAccount(r.Context(), caller, strings.TrimSpace(req.AccountNumber), req.ParentAccountNumber, req.InitialBalance)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, account)
}

// GetAccountInfoHandler returns balance, beneficiaries and completed history.
func (h *LedgerHandlers) GetAccountInfoHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	info, err := h.service.GetAccountInfo(r.Context(), caller, chi.URLParam(r, "accountNumber"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, info)
}

// CloseAccountHandler deactivates an account, sweeping a secondary balance to
// its parent.
func (h *LedgerHandlers) CloseAccountHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	account, err := h.service.CloseAccount(r.Context(), caller, chi.URLParam(r, "accountNumber"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, account)
}

// ArchiveAccountHandler snapshots a closed account into the archive.
func (h *LedgerHandlers) ArchiveAccountHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req archiveAccountRequest
	if r.Body != nil {
		// Reason is optional; an empty body archives without one.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	snapshot, err := h.service.ArchiveAccount(r.Context(), caller, chi.URLParam(r, "accountNumber"), req.Reason)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, snapshot)
}

// DepositHandler credits an account with an immediately-completed deposit.
func (h *LedgerHandlers) DepositHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req depositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	record, err := h.service.Deposit(r.Context(), caller, req.AccountNumber, req.Amount)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, record)
}

// TransferHandler records a PENDING transfer and schedules its settlement.
func (h *LedgerHandlers) TransferHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	record, err := h.service.Transfer(r.Context(), caller, req.FromAccount, req.ToAccount, req.Amount)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, transferResponse{
		TransactionID: record.ID,
		Status:        record.Status,
		Amount:        record.Amount,
		Message:       "Transfer accepted and will settle after the grace window unless canceled.",
	})
}

// CancelTransferHandler cancels a pending transfer within the grace window.
func (h *LedgerHandlers) CancelTransferHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	transactionID, err := strconv.ParseInt(chi.URLParam(r, "transactionID"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid transaction id")
		return
	}
	record, err := h.service.CancelTransfer(r.Context(), caller, transactionID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, transferResponse{
		TransactionID: record.ID,
		Status:        record.Status,
		Amount:        record.Amount,
		Message:       "Transfer canceled.",
	})
}

// TransactionDetailHandler returns one transaction to a participating account.
func (h *LedgerHandlers) TransactionDetailHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	transactionID, err := strconv.ParseInt(chi.URLParam(r, "transactionID"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid transaction id")
		return
	}
	requestingAccount := strings.TrimSpace(r.URL.Query().Get("account"))
	if requestingAccount == "" {
		h.writeError(w, http.StatusBadRequest, "account query parameter is required")
		return
	}
	record, err := h.service.GetTransactionDetail(r.Context(), caller, transactionID, requestingAccount)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, record)
}

// TransactionHistoryHandler returns the account's full transaction history.
func (h *LedgerHandlers) TransactionHistoryHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	history, err := h.service.GetTransactionHistory(r.Context(), caller, chi.URLParam(r, "accountNumber"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, history)
}

// AddBeneficiaryHandler links a beneficiary account to the owner account.
func (h *LedgerHandlers) AddBeneficiaryHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req addBeneficiaryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.BeneficiaryAccountNumber) == "" {
		h.writeError(w, http.StatusBadRequest, "beneficiary_account_number is required")
		return
	}
	link, err := h.service.AddBeneficiary(r.Context(), caller, chi.URLParam(r, "accountNumber"), strings.TrimSpace(req.BeneficiaryAccountNumber))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, link)
}

// ListBeneficiariesHandler lists the owner account's beneficiary links.
func (h *LedgerHandlers) ListBeneficiariesHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	links, err := h.service.ListBeneficiaries(r.Context(), caller, chi.URLParam(r, "accountNumber"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, links)
}
