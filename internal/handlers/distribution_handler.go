package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/crowdfactor/backend/internal/middleware"
	"github.com/crowdfactor/backend/internal/models"
	"github.com/crowdfactor/backend/internal/services"
)

type DistributionHandler struct {
	service   *services.DistributionService
	validator *services.ValidationHelper
}

func NewDistributionHandler(service *services.DistributionService) *DistributionHandler {
	return &DistributionHandler{
		service:   service,
		validator: services.NewValidationHelper(),
	}
}

// FundBeneficiary pays the borrower
// @Summary Fund beneficiary
// @Description Pay the borrower the winner group's raise minus the platform tax; repeats are no-ops (server role)
// @Tags distribution
// @Produce json
// @Security BearerAuth
// @Param id path string true "Auction id"
// @Success 200 {object} object{success=bool,funded=bool,amount=int64}
// @Failure 403 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /auctions/{id}/fund-beneficiary [post]
func (h *DistributionHandler) FundBeneficiary(w http.ResponseWriter, r *http.Request) {
	amount, funded, err := h.service.FundBeneficiary(middleware.CallerID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"funded":  funded,
		"amount":  amount,
	})
}

// RefundLosingGroups refunds losing-group bidders in a bounded batch
// @Summary Refund losing groups
// @Description Return escrow to losing-group bidders, bounded per call; repeat until remaining is zero (server role)
// @Tags distribution
// @Produce json
// @Security BearerAuth
// @Param id path string true "Auction id"
// @Success 200 {object} object{success=bool,processed=int,remaining=int}
// @Failure 403 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /auctions/{id}/refunds [post]
func (h *DistributionHandler) RefundLosingGroups(w http.ResponseWriter, r *http.Request) {
	processed, remaining, err := h.service.RefundLosingGroups(middleware.CallerID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"processed": processed,
		"remaining": remaining,
	})
}

// RefundBidder refunds exactly one losing-group bidder
// @Summary Refund one bidder
// @Description Return escrow to a single losing-group bidder; already-refunded bidders report refunded=false (server role)
// @Tags distribution
// @Produce json
// @Security BearerAuth
// @Param id path string true "Auction id"
// @Param g path int true "Group index"
// @Param b path int true "Bidder index"
// @Success 200 {object} object{success=bool,refunded=bool}
// @Failure 403 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /auctions/{id}/refunds/{g}/{b} [post]
func (h *DistributionHandler) RefundBidder(w http.ResponseWriter, r *http.Request) {
	groupIndex, err := strconv.Atoi(chi.URLParam(r, "g"))
	if err != nil {
		services.SendErrorResponse(w, "Invalid group index", http.StatusBadRequest, nil)
		return
	}
	bidderIndex, err := strconv.Atoi(chi.URLParam(r, "b"))
	if err != nil {
		services.SendErrorResponse(w, "Invalid bidder index", http.StatusBadRequest, nil)
		return
	}

	refunded, err := h.service.RefundLosingGroupBidder(middleware.CallerID(r.Context()), chi.URLParam(r, "id"), groupIndex, bidderIndex)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"refunded": refunded,
	})
}

// Payment records the invoice payment
// @Summary Record invoice payment
// @Description Record the debtor's invoice payment; underpayment is rejected and repeats after payout are no-ops (server role)
// @Tags distribution
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Auction id"
// @Param request body models.InvoicePaymentRequest true "Paid amount in minimal units"
// @Success 200 {object} object{success=bool,recorded=bool}
// @Failure 400 {object} services.ErrorResponse
// @Failure 403 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Failure 422 {object} services.ErrorResponse
// @Router /auctions/{id}/payments [post]
func (h *DistributionHandler) Payment(w http.ResponseWriter, r *http.Request) {
	var req models.InvoicePaymentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	recorded, err := h.service.InvoicePaymentReceived(middleware.CallerID(r.Context()), chi.URLParam(r, "id"), req.PaidAmount)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"recorded": recorded,
	})
}

// FundWinnerGroup pays out the winner group in a bounded batch
// @Summary Fund winner group
// @Description Pay winner-group bidders their proportional share, bounded per call; repeat until remaining is zero (server role)
// @Tags distribution
// @Produce json
// @Security BearerAuth
// @Param id path string true "Auction id"
// @Success 200 {object} object{success=bool,processed=int,remaining=int}
// @Failure 403 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /auctions/{id}/payouts [post]
func (h *DistributionHandler) FundWinnerGroup(w http.ResponseWriter, r *http.Request) {
	processed, remaining, err := h.service.FundWinnerGroup(middleware.CallerID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"processed": processed,
		"remaining": remaining,
	})
}

// FundWinnerBidder pays exactly one winner-group bidder
// @Summary Fund one winner-group bidder
// @Description Pay a single winner-group bidder its proportional share; already-paid bidders report funded=false (server role)
// @Tags distribution
// @Produce json
// @Security BearerAuth
// @Param id path string true "Auction id"
// @Param b path int true "Bidder index"
// @Success 200 {object} object{success=bool,funded=bool}
// @Failure 403 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /auctions/{id}/payouts/{b} [post]
func (h *DistributionHandler) FundWinnerBidder(w http.ResponseWriter, r *http.Request) {
	bidderIndex, err := strconv.Atoi(chi.URLParam(r, "b"))
	if err != nil {
		services.SendErrorResponse(w, "Invalid bidder index", http.StatusBadRequest, nil)
		return
	}

	funded, err := h.service.FundWinnerGroupBidder(middleware.CallerID(r.Context()), chi.URLParam(r, "id"), bidderIndex)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"funded":  funded,
	})
}
