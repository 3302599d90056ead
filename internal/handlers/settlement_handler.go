package handlers

import (
	"encoding/xml"
	"io"
	"net/http"

	pacs_v08 "github.com/moov-io/iso20022/pkg/pacs_v08"

	"github.com/crowdfactor/backend/internal/middleware"
	"github.com/crowdfactor/backend/internal/services"
)

type SettlementHandler struct {
	service *services.SettlementService
}

func NewSettlementHandler(service *services.SettlementService) *SettlementHandler {
	return &SettlementHandler{service: service}
}

// IntakePacs008 accepts an ISO 20022 credit transfer and acknowledges it
// @Summary Intake pacs.008
// @Description Accept a pacs.008 customer credit transfer carrying invoice payments and answer with a pacs.002 status report (server role)
// @Tags settlement
// @Accept xml
// @Produce xml
// @Security BearerAuth
// @Param request body string true "pacs.008 document"
// @Success 200 {string} string "pacs.002 status report"
// @Failure 400 {object} services.ErrorResponse
// @Failure 403 {object} services.ErrorResponse
// @Router /settlement/pacs008 [post]
func (h *SettlementHandler) IntakePacs008(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		services.SendErrorResponse(w, "Invalid request payload", http.StatusBadRequest, nil)
		return
	}

	var doc pacs_v08.FIToFICustomerCreditTransferV08
	if err := xml.Unmarshal(body, &doc); err != nil {
		services.SendErrorResponse(w, "Invalid pacs.008 document", http.StatusBadRequest, nil)
		return
	}

	ack, err := h.service.IntakePacs008(middleware.CallerID(r.Context()), &doc)
	if err != nil {
		respondError(w, err)
		return
	}

	payload, err := h.service.ToXML(ack)
	if err != nil {
		respondError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(payload))
}
