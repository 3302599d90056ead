package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/crowdfactor/backend/internal/middleware"
	"github.com/crowdfactor/backend/internal/models"
	"github.com/crowdfactor/backend/internal/services"
)

type LedgerHandler struct {
	service   *services.LedgerService
	validator *services.ValidationHelper
}

func NewLedgerHandler(service *services.LedgerService) *LedgerHandler {
	return &LedgerHandler{
		service:   service,
		validator: services.NewValidationHelper(),
	}
}

// Balance reads an account balance
// @Summary Get balance
// @Description Read the balance of one (currency, account) pair; untouched accounts read as zero
// @Tags ledger
// @Produce json
// @Param currency path string true "Currency symbol"
// @Param accountId path string true "Account id"
// @Success 200 {object} object{success=bool,currency=string,accountId=string,balance=int64}
// @Router /ledger/{currency}/{accountId} [get]
func (h *LedgerHandler) Balance(w http.ResponseWriter, r *http.Request) {
	currency := chi.URLParam(r, "currency")
	accountID := chi.URLParam(r, "accountId")

	balance, err := h.service.BalanceOf(currency, accountID)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"currency":  currency,
		"accountId": accountID,
		"balance":   balance,
	})
}

// Entries lists recent ledger entries for an account
// @Summary List ledger entries
// @Description List the newest ledger entries of one (currency, account) pair
// @Tags ledger
// @Produce json
// @Param currency path string true "Currency symbol"
// @Param accountId path string true "Account id"
// @Param limit query int false "Maximum entries (default 20)"
// @Success 200 {object} object{success=bool,entries=[]models.LedgerEntry}
// @Router /ledger/{currency}/{accountId}/entries [get]
func (h *LedgerHandler) Entries(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	entries, err := h.service.RecentEntries(chi.URLParam(r, "currency"), chi.URLParam(r, "accountId"), limit)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"entries": entries,
	})
}

// Mint credits the system account with new units
// @Summary Mint
// @Description Create new units of a currency on the system account (server role)
// @Tags ledger
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body models.MintRequest true "Mint request"
// @Success 200 {object} object{success=bool}
// @Failure 400 {object} services.ErrorResponse
// @Failure 403 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Failure 422 {object} services.ErrorResponse
// @Router /ledger/mint [post]
func (h *LedgerHandler) Mint(w http.ResponseWriter, r *http.Request) {
	var req models.MintRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if err := h.service.Mint(middleware.CallerID(r.Context()), req.Currency, req.Amount); err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// Destroy removes units from circulation
// @Summary Destroy
// @Description Destroy units of a currency held by the system account (server role)
// @Tags ledger
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body models.DestroyRequest true "Destroy request"
// @Success 200 {object} object{success=bool}
// @Failure 400 {object} services.ErrorResponse
// @Failure 403 {object} services.ErrorResponse
// @Failure 422 {object} services.ErrorResponse
// @Router /ledger/destroy [post]
func (h *LedgerHandler) Destroy(w http.ResponseWriter, r *http.Request) {
	var req models.DestroyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if err := h.service.Destroy(middleware.CallerID(r.Context()), req.Currency, req.Amount); err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// Transfer moves units between accounts
// @Summary Transfer
// @Description Transfer units between two accounts of a currency; zero amounts succeed without effect (server role)
// @Tags ledger
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body models.TransferRequest true "Transfer request"
// @Success 200 {object} object{success=bool}
// @Failure 400 {object} services.ErrorResponse
// @Failure 403 {object} services.ErrorResponse
// @Failure 422 {object} services.ErrorResponse
// @Router /ledger/transfers [post]
func (h *LedgerHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req models.TransferRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if err := h.service.Transfer(middleware.CallerID(r.Context()), req.Currency, req.From, req.To, req.Amount); err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}
