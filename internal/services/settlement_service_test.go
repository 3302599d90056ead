package services

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/crowdfactor/backend/internal/models"
	"github.com/stretchr/testify/assert"
)

type fakeAuctionReader struct {
	auctions map[string]*models.Auction
}

func (f *fakeAuctionReader) Get(auctionID string) (*models.Auction, error) {
	if a, ok := f.auctions[auctionID]; ok {
		return a, nil
	}
	return nil, fmt.Errorf("%w: auction %s", models.ErrNotFound, auctionID)
}

type fakePaymentProcessor struct {
	recorded bool
	err      error
	callers  []string
	amounts  []int64
}

func (f *fakePaymentProcessor) InvoicePaymentReceived(caller, auctionID string, paidAmount int64) (bool, error) {
	f.callers = append(f.callers, caller)
	f.amounts = append(f.amounts, paidAmount)
	if f.err != nil {
		return false, f.err
	}
	return f.recorded, nil
}

type fakeCurrencyLookup struct {
	currencies map[string]*models.Currency
}

func (f *fakeCurrencyLookup) Get(symbol string) (*models.Currency, error) {
	if c, ok := f.currencies[symbol]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("%w: %s", models.ErrUnknownCurrency, symbol)
}

func settlementFixture(recorded bool, processorErr error) (*SettlementService, *fakePaymentProcessor) {
	auction := storedAuction(models.AuctionWaitingForInvoicePayment)
	processor := &fakePaymentProcessor{recorded: recorded, err: processorErr}
	service := NewSettlementService(
		&fakeAuctionReader{auctions: map[string]*models.Auction{auction.ID: auction}},
		processor,
		&fakeCurrencyLookup{currencies: map[string]*models.Currency{
			"GBP": {Symbol: "GBP", Handle: "gbp-token", Decimals: 2},
		}},
	)
	return service, processor
}

func TestSettlementService_IntakePacs008(t *testing.T) {
	t.Run("settled transfer acknowledges ACSC", func(t *testing.T) {
		service, processor := settlementFixture(true, nil)
		doc := BuildPacs008("auc-1", "GBP", 50.00, "Invoice Debtor Ltd", "Crowdfactor Escrow")

		ack, err := service.IntakePacs008("settlement-rail", doc)
		assert.NoError(t, err)
		assert.Len(t, ack.TxInfAndSts, 1)
		assert.Equal(t, txStatusSettled, string(*ack.TxInfAndSts[0].TxSts))
		assert.Equal(t, "auc-1", string(*ack.TxInfAndSts[0].OrgnlEndToEndId))
		assert.NotEmpty(t, string(ack.GrpHdr.MsgId))

		// 50.00 major units at 2 decimals reach the engine as 5000.
		assert.Equal(t, []int64{5000}, processor.amounts)
		assert.Equal(t, []string{"settlement-rail"}, processor.callers)
	})

	t.Run("unknown reference is rejected without touching the engine", func(t *testing.T) {
		service, processor := settlementFixture(true, nil)
		doc := BuildPacs008("ghost", "GBP", 50.00, "Invoice Debtor Ltd", "Crowdfactor Escrow")

		ack, err := service.IntakePacs008("settlement-rail", doc)
		assert.NoError(t, err)
		assert.Equal(t, txStatusRejected, string(*ack.TxInfAndSts[0].TxSts))
		assert.Empty(t, processor.amounts)
	})

	t.Run("currency mismatch is rejected", func(t *testing.T) {
		service, processor := settlementFixture(true, nil)
		doc := BuildPacs008("auc-1", "EUR", 50.00, "Invoice Debtor Ltd", "Crowdfactor Escrow")

		ack, err := service.IntakePacs008("settlement-rail", doc)
		assert.NoError(t, err)
		assert.Equal(t, txStatusRejected, string(*ack.TxInfAndSts[0].TxSts))
		assert.Empty(t, processor.amounts)
	})

	t.Run("unregistered currency is rejected", func(t *testing.T) {
		auction := storedAuction(models.AuctionWaitingForInvoicePayment)
		auction.CurrencySymbol = "ZZZ"
		processor := &fakePaymentProcessor{recorded: true}
		service := NewSettlementService(
			&fakeAuctionReader{auctions: map[string]*models.Auction{auction.ID: auction}},
			processor,
			&fakeCurrencyLookup{currencies: map[string]*models.Currency{}},
		)
		doc := BuildPacs008("auc-1", "ZZZ", 50.00, "Invoice Debtor Ltd", "Crowdfactor Escrow")

		ack, err := service.IntakePacs008("settlement-rail", doc)
		assert.NoError(t, err)
		assert.Equal(t, txStatusRejected, string(*ack.TxInfAndSts[0].TxSts))
		assert.Empty(t, processor.amounts)
	})

	t.Run("underpayment is rejected", func(t *testing.T) {
		service, _ := settlementFixture(false, fmt.Errorf("%w: paid 10 of 5000", models.ErrPaymentTooLow))
		doc := BuildPacs008("auc-1", "GBP", 0.10, "Invoice Debtor Ltd", "Crowdfactor Escrow")

		ack, err := service.IntakePacs008("settlement-rail", doc)
		assert.NoError(t, err)
		assert.Equal(t, txStatusRejected, string(*ack.TxInfAndSts[0].TxSts))
	})

	t.Run("re-delivery after payout still acknowledges", func(t *testing.T) {
		service, _ := settlementFixture(false, nil)
		doc := BuildPacs008("auc-1", "GBP", 50.00, "Invoice Debtor Ltd", "Crowdfactor Escrow")

		ack, err := service.IntakePacs008("settlement-rail", doc)
		assert.NoError(t, err)
		assert.Equal(t, txStatusSettled, string(*ack.TxInfAndSts[0].TxSts))
	})

	t.Run("infrastructure failure aborts the intake", func(t *testing.T) {
		service, _ := settlementFixture(false, errors.New("connection refused"))
		doc := BuildPacs008("auc-1", "GBP", 50.00, "Invoice Debtor Ltd", "Crowdfactor Escrow")

		_, err := service.IntakePacs008("settlement-rail", doc)
		assert.Error(t, err)
	})

	t.Run("message without transactions fails", func(t *testing.T) {
		service, _ := settlementFixture(true, nil)

		_, err := service.IntakePacs008("settlement-rail", nil)
		assert.Error(t, err)

		doc := BuildPacs008("auc-1", "GBP", 50.00, "Invoice Debtor Ltd", "Crowdfactor Escrow")
		doc.CdtTrfTxInf = nil
		_, err = service.IntakePacs008("settlement-rail", doc)
		assert.Error(t, err)
	})

	t.Run("each transaction is acknowledged on its own", func(t *testing.T) {
		service, processor := settlementFixture(true, nil)
		doc := BuildPacs008("auc-1", "GBP", 50.00, "Invoice Debtor Ltd", "Crowdfactor Escrow")
		second := BuildPacs008("ghost", "GBP", 12.50, "Invoice Debtor Ltd", "Crowdfactor Escrow")
		doc.CdtTrfTxInf = append(doc.CdtTrfTxInf, second.CdtTrfTxInf...)

		ack, err := service.IntakePacs008("settlement-rail", doc)
		assert.NoError(t, err)
		assert.Len(t, ack.TxInfAndSts, 2)
		assert.Equal(t, txStatusSettled, string(*ack.TxInfAndSts[0].TxSts))
		assert.Equal(t, txStatusRejected, string(*ack.TxInfAndSts[1].TxSts))
		assert.Equal(t, []int64{5000}, processor.amounts)
	})
}

func TestSettlementService_ToXML(t *testing.T) {
	service, _ := settlementFixture(true, nil)
	doc := BuildPacs008("auc-1", "GBP", 50.00, "Invoice Debtor Ltd", "Crowdfactor Escrow")

	out, err := service.ToXML(doc)
	assert.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, `<?xml version="1.0" encoding="UTF-8"?>`))
	assert.Contains(t, out, "auc-1")
	assert.Contains(t, out, "Invoice Debtor Ltd")
}

func TestToMinimalUnits(t *testing.T) {
	assert.Equal(t, int64(5000), toMinimalUnits(50.00, 2))
	assert.Equal(t, int64(1), toMinimalUnits(0.01, 2))
	assert.Equal(t, int64(50), toMinimalUnits(50, 0))
	// Float drift rounds to the nearest unit instead of truncating.
	assert.Equal(t, int64(4985), toMinimalUnits(49.85, 2))
}
