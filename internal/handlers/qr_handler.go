package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/crowdfactor/backend/internal/services"
)

type QRHandler struct {
	service *services.QRService
}

func NewQRHandler(service *services.QRService) *QRHandler {
	return &QRHandler{service: service}
}

// PaymentReference renders the invoice payment reference as a QR code
// @Summary Payment reference QR
// @Description Render a scannable payment reference for an auction awaiting its invoice payment
// @Tags auctions
// @Produce png
// @Param id path string true "Auction id"
// @Success 200 {string} binary "PNG image"
// @Failure 404 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /auctions/{id}/payment-reference [get]
func (h *QRHandler) PaymentReference(w http.ResponseWriter, r *http.Request) {
	png, err := h.service.PaymentReferencePNG(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}
