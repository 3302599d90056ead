package services

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"

	"github.com/crowdfactor/backend/internal/models"
)

func TestValidationHelper_ValidateStruct(t *testing.T) {
	vh := NewValidationHelper()

	t.Run("well-formed auction request passes", func(t *testing.T) {
		req := models.CreateAuctionRequest{
			CurrencySymbol:     "GBP",
			BorrowerID:         "borrower-1",
			InvoiceID:          "inv-1",
			InvoiceNumber:      "INV-2024-001",
			InvoiceAmount:      100_000,
			FundingGoal:        90_000,
			PlatformTaxPercent: 5,
		}
		assert.NoError(t, vh.ValidateStruct(&req))
	})

	t.Run("funding goal above the invoice amount is rejected", func(t *testing.T) {
		req := models.CreateAuctionRequest{
			CurrencySymbol: "GBP",
			BorrowerID:     "borrower-1",
			InvoiceID:      "inv-1",
			InvoiceNumber:  "INV-2024-001",
			InvoiceAmount:  100_000,
			FundingGoal:    100_001,
		}
		err := vh.ValidateStruct(&req)
		assert.Error(t, err)

		var fieldErrs validator.ValidationErrors
		assert.True(t, errors.As(err, &fieldErrs))
		assert.Len(t, fieldErrs, 1)
		assert.Equal(t, "fundingGoal", fieldErrs[0].Field())
		assert.Equal(t, "ltefield", fieldErrs[0].Tag())
	})

	t.Run("violations are keyed by JSON name", func(t *testing.T) {
		req := models.RegisterCurrencyRequest{Symbol: "gbp", Decimals: 19}
		err := vh.ValidateStruct(&req)
		assert.Error(t, err)

		var fieldErrs validator.ValidationErrors
		assert.True(t, errors.As(err, &fieldErrs))

		fields := make(map[string]string)
		for _, fe := range fieldErrs {
			fields[fe.Field()] = fe.Tag()
		}
		assert.Equal(t, "uppercase", fields["symbol"])
		assert.Equal(t, "required", fields["handle"])
		assert.Equal(t, "lte", fields["decimals"])
	})

	t.Run("withdraw fee must stay below the amount", func(t *testing.T) {
		req := models.WithdrawRequest{
			ActionID:        "act-1",
			ClientID:        "client-1",
			Currency:        "GBP",
			ExternalAddress: "addr-1",
			Amount:          100,
			Fee:             100,
		}
		err := vh.ValidateStruct(&req)
		assert.Error(t, err)

		var fieldErrs validator.ValidationErrors
		assert.True(t, errors.As(err, &fieldErrs))
		assert.Equal(t, "fee", fieldErrs[0].Field())
	})
}

func TestSendErrorResponse(t *testing.T) {
	t.Run("plain error carries no details", func(t *testing.T) {
		w := httptest.NewRecorder()

		SendErrorResponse(w, "Something went wrong", http.StatusInternalServerError, nil)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

		var response ErrorResponse
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, "Something went wrong", response.Error)
		assert.Nil(t, response.Details)
	})

	t.Run("validation error carries per-field details", func(t *testing.T) {
		vh := NewValidationHelper()
		req := models.BidRequest{Value: -5}
		validationErr := vh.ValidateStruct(&req)
		assert.Error(t, validationErr)

		w := httptest.NewRecorder()
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, validationErr)

		assert.Equal(t, http.StatusBadRequest, w.Code)

		var response ErrorResponse
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, "Validation failed", response.Error)
		assert.Contains(t, response.Details, "bidderId")
		assert.Contains(t, response.Details, "name")
		assert.Contains(t, response.Details, "value")
		assert.Equal(t, "is required", response.Details["bidderId"])
	})

	t.Run("non-validation error does not panic", func(t *testing.T) {
		w := httptest.NewRecorder()

		SendErrorResponse(w, "Upstream failure", http.StatusBadGateway, errors.New("connection reset"))

		assert.Equal(t, http.StatusBadGateway, w.Code)

		var response ErrorResponse
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, "Upstream failure", response.Error)
		assert.Nil(t, response.Details)
	})
}
