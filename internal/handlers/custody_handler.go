package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/crowdfactor/backend/internal/middleware"
	"github.com/crowdfactor/backend/internal/models"
	"github.com/crowdfactor/backend/internal/services"
	"github.com/crowdfactor/backend/internal/token"
)

type CustodyHandler struct {
	service   *services.CustodyService
	validator *services.ValidationHelper
}

func NewCustodyHandler(service *services.CustodyService) *CustodyHandler {
	return &CustodyHandler{
		service:   service,
		validator: services.NewValidationHelper(),
	}
}

// Deposit credits a confirmed token deposit
// @Summary Deposit
// @Description Confirm token custody and credit the agreed internal amount to the client; action ids apply at most once (server role)
// @Tags custody
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body models.DepositRequest true "Deposit command"
// @Success 200 {object} object{success=bool,depositIndex=int}
// @Failure 400 {object} services.ErrorResponse
// @Failure 403 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /custody/deposits [post]
func (h *CustodyHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req models.DepositRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	depositIndex, err := h.service.Deposit(middleware.CallerID(r.Context()), &req)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":      true,
		"depositIndex": depositIndex,
	})
}

// Withdraw sends internal units out to an external address
// @Summary Withdraw
// @Description Move a client's units out through the token bridge; the fee stays on the system account (server role)
// @Tags custody
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body models.WithdrawRequest true "Withdraw command"
// @Success 200 {object} object{success=bool}
// @Failure 400 {object} services.ErrorResponse
// @Failure 403 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Failure 422 {object} services.ErrorResponse
// @Router /custody/withdrawals [post]
func (h *CustodyHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req models.WithdrawRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if err := h.service.Withdraw(middleware.CallerID(r.Context()), &req); err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// Release unwinds a custody deposit
// @Summary Release deposit
// @Description Release a custody deposit back to a receiver address and destroy the matching internal units (server role)
// @Tags custody
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body models.ReleaseDepositRequest true "Release command"
// @Success 200 {object} object{success=bool,released=token.ReleaseResult}
// @Failure 400 {object} services.ErrorResponse
// @Failure 403 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /custody/releases [post]
func (h *CustodyHandler) Release(w http.ResponseWriter, r *http.Request) {
	var req models.ReleaseDepositRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	released, err := h.service.ReleaseDeposit(middleware.CallerID(r.Context()), &req)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"released": released,
	})
}

// CreateDepositTarget provisions a custody address
// @Summary Create deposit target
// @Description Provision a custody address for a client on the token side (server role)
// @Tags custody
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{clientId=string} true "Client id"
// @Success 201 {object} object{success=bool,handle=string}
// @Failure 400 {object} services.ErrorResponse
// @Failure 403 {object} services.ErrorResponse
// @Router /custody/deposit-targets [post]
func (h *CustodyHandler) CreateDepositTarget(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ClientID string `json:"clientId" validate:"required,max=64"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	handle, err := h.service.CreateDepositTarget(middleware.CallerID(r.Context()), req.ClientID)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"success": true,
		"handle":  handle,
	})
}

// InboundTransfer credits tokens that arrived at a custody address
// @Summary Inbound token transfer
// @Description Credit an inbound token transfer to the internal account embedded in the notification (server role)
// @Tags custody
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param handle path string true "Token handle"
// @Param request body token.TransferNotification true "Transfer notification"
// @Success 200 {object} object{success=bool}
// @Failure 400 {object} services.ErrorResponse
// @Failure 403 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /custody/tokens/{handle}/transfers [post]
func (h *CustodyHandler) InboundTransfer(w http.ResponseWriter, r *http.Request) {
	var notification token.TransferNotification
	if !decodeJSON(w, r, &notification) {
		return
	}
	if err := h.validator.ValidateStruct(&notification); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if err := h.service.InboundTransfer(middleware.CallerID(r.Context()), chi.URLParam(r, "handle"), &notification); err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}
