package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/crowdfactor/backend/internal/middleware"
	"github.com/crowdfactor/backend/internal/models"
	"github.com/crowdfactor/backend/internal/services"
)

type CurrencyHandler struct {
	service   *services.CurrencyService
	validator *services.ValidationHelper
}

func NewCurrencyHandler(service *services.CurrencyService) *CurrencyHandler {
	return &CurrencyHandler{
		service:   service,
		validator: services.NewValidationHelper(),
	}
}

// Register registers a currency
// @Summary Register currency
// @Description Bind a currency symbol to its external token handle (guardian role)
// @Tags currencies
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body models.RegisterCurrencyRequest true "Currency registration"
// @Success 201 {object} object{success=bool,currency=models.Currency}
// @Failure 400 {object} services.ErrorResponse
// @Failure 403 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /currencies [post]
func (h *CurrencyHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterCurrencyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	currency, err := h.service.Register(middleware.CallerID(r.Context()), req.Symbol, req.Handle, req.Decimals)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"success":  true,
		"currency": currency,
	})
}

// Get resolves a currency registration
// @Summary Get currency
// @Description Resolve a currency symbol to its registration
// @Tags currencies
// @Produce json
// @Param symbol path string true "Currency symbol"
// @Success 200 {object} object{success=bool,currency=models.Currency}
// @Failure 404 {object} services.ErrorResponse
// @Router /currencies/{symbol} [get]
func (h *CurrencyHandler) Get(w http.ResponseWriter, r *http.Request) {
	currency, err := h.service.Get(chi.URLParam(r, "symbol"))
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"currency": currency,
	})
}

// List lists registered currencies
// @Summary List currencies
// @Description List every registered currency
// @Tags currencies
// @Produce json
// @Success 200 {object} object{success=bool,currencies=[]models.Currency}
// @Router /currencies [get]
func (h *CurrencyHandler) List(w http.ResponseWriter, r *http.Request) {
	currencies, err := h.service.List()
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"currencies": currencies,
	})
}
