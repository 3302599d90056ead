package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/crowdfactor/backend/internal/middleware"
	"github.com/crowdfactor/backend/internal/models"
	"github.com/crowdfactor/backend/internal/services"
)

type AuctionHandler struct {
	service   *services.AuctionService
	validator *services.ValidationHelper
}

func NewAuctionHandler(service *services.AuctionService) *AuctionHandler {
	return &AuctionHandler{
		service:   service,
		validator: services.NewValidationHelper(),
	}
}

// Create creates an auction for an invoice
// @Summary Create auction
// @Description Register a new invoice auction in Pending (server role)
// @Tags auctions
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body models.CreateAuctionRequest true "Auction parameters"
// @Success 201 {object} object{success=bool,auction=models.Auction}
// @Failure 400 {object} services.ErrorResponse
// @Failure 403 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /auctions [post]
func (h *AuctionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req models.CreateAuctionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	auction, err := h.service.Create(middleware.CallerID(r.Context()), &req)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"success": true,
		"auction": auction,
	})
}

// Get fetches one auction
// @Summary Get auction
// @Description Fetch an auction with its groups and bidders
// @Tags auctions
// @Produce json
// @Param id path string true "Auction id"
// @Success 200 {object} object{success=bool,auction=models.Auction}
// @Failure 404 {object} services.ErrorResponse
// @Router /auctions/{id} [get]
func (h *AuctionHandler) Get(w http.ResponseWriter, r *http.Request) {
	auction, err := h.service.Get(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"auction": auction,
	})
}

// List lists auctions
// @Summary List auctions
// @Description List auction headers, newest first, optionally filtered by status
// @Tags auctions
// @Produce json
// @Param status query string false "Status filter"
// @Param limit query int false "Maximum records (default 50)"
// @Success 200 {object} object{success=bool,auctions=[]models.Auction}
// @Router /auctions [get]
func (h *AuctionHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	auctions, err := h.service.List(r.URL.Query().Get("status"), limit)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"auctions": auctions,
	})
}

// Open opens bidding
// @Summary Open auction
// @Description Move a pending auction into its bidding window (server role)
// @Tags auctions
// @Produce json
// @Security BearerAuth
// @Param id path string true "Auction id"
// @Success 200 {object} object{success=bool,auction=models.Auction}
// @Failure 403 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /auctions/{id}/open [post]
func (h *AuctionHandler) Open(w http.ResponseWriter, r *http.Request) {
	auction, err := h.service.Open(middleware.CallerID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"auction": auction,
	})
}

// CreateGroup adds a bidding group
// @Summary Create group
// @Description Append an empty bidding group to an open auction (server role)
// @Tags auctions
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Auction id"
// @Param request body models.CreateGroupRequest true "Group parameters"
// @Success 201 {object} object{success=bool,groupIndex=int}
// @Failure 400 {object} services.ErrorResponse
// @Failure 403 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /auctions/{id}/groups [post]
func (h *AuctionHandler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var req models.CreateGroupRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	groupIndex, err := h.service.CreateGroup(middleware.CallerID(r.Context()), chi.URLParam(r, "id"), &req)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"success":    true,
		"groupIndex": groupIndex,
	})
}

// InitialBid creates a group and its first bid atomically
// @Summary Initial bid
// @Description Create a group and place its first bid as one all-or-nothing step (server role)
// @Tags auctions
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Auction id"
// @Param request body models.InitialBidRequest true "Group and bid parameters"
// @Success 201 {object} object{success=bool,result=models.BidResult}
// @Failure 400 {object} services.ErrorResponse
// @Failure 403 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Failure 422 {object} services.ErrorResponse
// @Router /auctions/{id}/bids [post]
func (h *AuctionHandler) InitialBid(w http.ResponseWriter, r *http.Request) {
	var req models.InitialBidRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	result, err := h.service.InitialBid(middleware.CallerID(r.Context()), chi.URLParam(r, "id"), &req)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"success": true,
		"result":  result,
	})
}

// Bid places a bid in a group
// @Summary Bid
// @Description Place value against a bidder in a group; the value moves into system escrow in the same transaction (server role)
// @Tags auctions
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Auction id"
// @Param g path int true "Group index"
// @Param request body models.BidRequest true "Bid parameters"
// @Success 200 {object} object{success=bool,result=models.BidResult}
// @Failure 400 {object} services.ErrorResponse
// @Failure 403 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Failure 422 {object} services.ErrorResponse
// @Router /auctions/{id}/groups/{g}/bids [post]
func (h *AuctionHandler) Bid(w http.ResponseWriter, r *http.Request) {
	groupIndex, err := strconv.Atoi(chi.URLParam(r, "g"))
	if err != nil {
		services.SendErrorResponse(w, "Invalid group index", http.StatusBadRequest, nil)
		return
	}

	var req models.BidRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	result, err := h.service.Bid(middleware.CallerID(r.Context()), chi.URLParam(r, "id"), groupIndex, &req)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"result":  result,
	})
}

// Close seals bidding and fixes the winner
// @Summary Close auction
// @Description Seal bidding and fix the winner group; outside Open this reports closed=false without effect (server role)
// @Tags auctions
// @Produce json
// @Security BearerAuth
// @Param id path string true "Auction id"
// @Success 200 {object} object{success=bool,closed=bool,auction=models.Auction}
// @Failure 403 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /auctions/{id}/close [post]
func (h *AuctionHandler) Close(w http.ResponseWriter, r *http.Request) {
	auction, closed, err := h.service.Close(middleware.CallerID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"closed":  closed,
		"auction": auction,
	})
}
