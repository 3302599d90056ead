package services

import (
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/crowdfactor/backend/internal/access"
	"github.com/crowdfactor/backend/internal/events"
	"github.com/crowdfactor/backend/internal/models"
	"github.com/stretchr/testify/assert"
)

func newDistributionService(db *sql.DB, pub events.Publisher, refundBatch, payoutBatch int) *DistributionService {
	ctl := grantedControl(access.RoleServer, "platform")
	ledger := NewLedgerService(db, ctl, nil)
	return NewDistributionService(db, ctl, ledger, pub, NewDistributionQueue(nil), refundBatch, payoutBatch)
}

// closedAuction returns a closed auction where group 1 won with a 500
// raise and group 0 lost with bids of 250 and 750 still in escrow.
func closedAuction() *models.Auction {
	a := storedAuction(models.AuctionClosed)
	a.WinnerGroupIndex = 1
	a.Groups = []models.Group{
		{Name: "Group A", Goal: 2000, AmountRaised: 1000, Bidders: []models.Bidder{
			{BidderID: "bidder-1", Name: "Ada", BidAmount: 250},
			{BidderID: "bidder-2", Name: "Bea", BidAmount: 750},
		}},
		{Name: "Group B", Goal: 500, AmountRaised: 500, Bidders: []models.Bidder{
			{BidderID: "bidder-3", Name: "Cal", BidAmount: 500},
		}},
	}
	return a
}

// paidAuction returns an auction whose invoice payment landed: group 0
// won with bids of 250 and 750 and the debtor paid 5000.
func paidAuction() *models.Auction {
	a := storedAuction(models.AuctionPaymentReceived)
	a.WinnerGroupIndex = 0
	a.SentToBeneficiary = true
	a.PaidAmount = 5000
	a.Groups = []models.Group{
		{Name: "Group A", Goal: 1000, AmountRaised: 1000, Bidders: []models.Bidder{
			{BidderID: "bidder-1", Name: "Ada", BidAmount: 250},
			{BidderID: "bidder-2", Name: "Bea", BidAmount: 750},
		}},
	}
	return a
}

func TestDistributionService_FundBeneficiary(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	pub := &recordingPublisher{}
	service := newDistributionService(db, pub, 0, 0)

	t.Run("pays the winner raise minus tax", func(t *testing.T) {
		stored := closedAuction()
		// Winner raised 500 at 5% tax: 25 stays with the system.

		mock.ExpectBegin()
		expectLoadAuctionForUpdate(mock, stored)
		expectTransfer(mock, "GBP", testSystem, "borrower-1", 475, 1500, 0, 10, 0)
		expectSaveAuctionHeaderStatus(mock, stored.ID, models.AuctionWaitingForInvoicePayment)
		mock.ExpectCommit()

		amount, funded, err := service.FundBeneficiary("platform", stored.ID)
		assert.NoError(t, err)
		assert.True(t, funded)
		assert.Equal(t, int64(475), amount)
		assert.NoError(t, mock.ExpectationsWereMet())

		assert.Len(t, pub.published, 1)
		assert.Equal(t, events.TypeBeneficiaryFunded, pub.published[0].EventType)
		assert.Equal(t, "borrower-1", pub.published[0].AccountID)
		details := pub.published[0].Details.(map[string]interface{})
		assert.Equal(t, int64(25), details["tax_retained"])
	})

	t.Run("funding twice is a no-op", func(t *testing.T) {
		stored := closedAuction()
		stored.Status = models.AuctionWaitingForInvoicePayment
		stored.SentToBeneficiary = true

		mock.ExpectBegin()
		expectLoadAuctionForUpdate(mock, stored)
		mock.ExpectRollback()

		amount, funded, err := service.FundBeneficiary("platform", stored.ID)
		assert.NoError(t, err)
		assert.False(t, funded)
		assert.Equal(t, int64(0), amount)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("funding an open auction fails hard", func(t *testing.T) {
		stored := closedAuction()
		stored.Status = models.AuctionOpen
		stored.WinnerGroupIndex = models.NoWinnerIndex

		mock.ExpectBegin()
		expectLoadAuctionForUpdate(mock, stored)
		mock.ExpectRollback()

		_, _, err := service.FundBeneficiary("platform", stored.ID)
		assert.ErrorIs(t, err, models.ErrInvalidState)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unauthorized caller", func(t *testing.T) {
		_, _, err := service.FundBeneficiary("intruder", "auc-1")
		assert.ErrorIs(t, err, models.ErrAuthorization)
	})
}

func TestDistributionService_RefundLosingGroups(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	pub := &recordingPublisher{}
	service := newDistributionService(db, pub, 0, 0)

	t.Run("returns every losing escrow", func(t *testing.T) {
		stored := closedAuction()

		mock.ExpectBegin()
		expectLoadAuctionForUpdate(mock, stored)
		expectTransfer(mock, "GBP", testSystem, "bidder-1", 250, 1500, 0, 10, 0)
		expectSaveBidder(mock, stored.ID, 0, 0)
		expectTransfer(mock, "GBP", testSystem, "bidder-2", 750, 1250, 0, 11, 0)
		expectSaveBidder(mock, stored.ID, 0, 1)
		expectSaveGroup(mock, stored.ID, 0)
		expectSaveAuctionHeader(mock, stored.ID)
		mock.ExpectCommit()

		processed, remaining, err := service.RefundLosingGroups("platform", stored.ID)
		assert.NoError(t, err)
		assert.Equal(t, 2, processed)
		assert.Equal(t, 0, remaining)
		assert.NoError(t, mock.ExpectationsWereMet())

		assert.Len(t, pub.published, 2)
		assert.Equal(t, events.TypeLoserRefunded, pub.published[0].EventType)
		assert.Equal(t, "bidder-1", pub.published[0].AccountID)
		assert.Equal(t, int64(250), pub.published[0].Amount)
		assert.Equal(t, "bidder-2", pub.published[1].AccountID)
		assert.Equal(t, int64(750), pub.published[1].Amount)
	})

	t.Run("fully refunded auction is a no-op", func(t *testing.T) {
		stored := closedAuction()
		stored.SentToLosingGroups = true

		mock.ExpectBegin()
		expectLoadAuctionForUpdate(mock, stored)
		mock.ExpectRollback()

		processed, remaining, err := service.RefundLosingGroups("platform", stored.ID)
		assert.NoError(t, err)
		assert.Equal(t, 0, processed)
		assert.Equal(t, 0, remaining)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("batch bound reports the remainder", func(t *testing.T) {
		svc := newDistributionService(db, nil, 1, 0)
		stored := closedAuction()

		mock.ExpectBegin()
		expectLoadAuctionForUpdate(mock, stored)
		expectTransfer(mock, "GBP", testSystem, "bidder-1", 250, 1500, 0, 10, 0)
		expectSaveBidder(mock, stored.ID, 0, 0)
		expectSaveGroup(mock, stored.ID, 0)
		expectSaveAuctionHeader(mock, stored.ID)
		mock.ExpectCommit()

		processed, remaining, err := svc.RefundLosingGroups("platform", stored.ID)
		assert.NoError(t, err)
		assert.Equal(t, 1, processed)
		assert.Equal(t, 1, remaining)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("refunds every group when nobody won", func(t *testing.T) {
		stored := closedAuction()
		stored.Status = models.AuctionNoWinner
		stored.WinnerGroupIndex = models.NoWinnerIndex
		stored.Groups[0].Bidders[0].TokensReturned = true
		stored.Groups[0].Bidders[1].TokensReturned = true
		stored.Groups[0].TokensReturned = true

		mock.ExpectBegin()
		expectLoadAuctionForUpdate(mock, stored)
		expectTransfer(mock, "GBP", testSystem, "bidder-3", 500, 500, 0, 12, 0)
		expectSaveBidder(mock, stored.ID, 1, 0)
		expectSaveGroup(mock, stored.ID, 0)
		expectSaveGroup(mock, stored.ID, 1)
		expectSaveAuctionHeader(mock, stored.ID)
		mock.ExpectCommit()

		processed, remaining, err := service.RefundLosingGroups("platform", stored.ID)
		assert.NoError(t, err)
		assert.Equal(t, 1, processed)
		assert.Equal(t, 0, remaining)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDistributionService_RefundLosingGroupBidder(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := newDistributionService(db, nil, 0, 0)

	t.Run("refunds a single bidder", func(t *testing.T) {
		stored := closedAuction()

		mock.ExpectBegin()
		expectLoadAuctionForUpdate(mock, stored)
		expectTransfer(mock, "GBP", testSystem, "bidder-2", 750, 1500, 0, 10, 0)
		expectSaveBidder(mock, stored.ID, 0, 1)
		expectSaveGroup(mock, stored.ID, 0)
		expectSaveAuctionHeader(mock, stored.ID)
		mock.ExpectCommit()

		refunded, err := service.RefundLosingGroupBidder("platform", stored.ID, 0, 1)
		assert.NoError(t, err)
		assert.True(t, refunded)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("already refunded bidder is a no-op", func(t *testing.T) {
		stored := closedAuction()
		stored.Groups[0].Bidders[1].TokensReturned = true

		mock.ExpectBegin()
		expectLoadAuctionForUpdate(mock, stored)
		mock.ExpectRollback()

		refunded, err := service.RefundLosingGroupBidder("platform", stored.ID, 0, 1)
		assert.NoError(t, err)
		assert.False(t, refunded)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("open auction is not refundable yet", func(t *testing.T) {
		stored := closedAuction()
		stored.Status = models.AuctionOpen
		stored.WinnerGroupIndex = models.NoWinnerIndex

		mock.ExpectBegin()
		expectLoadAuctionForUpdate(mock, stored)
		mock.ExpectRollback()

		refunded, err := service.RefundLosingGroupBidder("platform", stored.ID, 0, 1)
		assert.NoError(t, err)
		assert.False(t, refunded)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("winner group escrow is never refunded", func(t *testing.T) {
		stored := closedAuction()

		mock.ExpectBegin()
		expectLoadAuctionForUpdate(mock, stored)
		mock.ExpectRollback()

		_, err := service.RefundLosingGroupBidder("platform", stored.ID, 1, 0)
		assert.ErrorIs(t, err, models.ErrInvalidState)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown group fails", func(t *testing.T) {
		stored := closedAuction()

		mock.ExpectBegin()
		expectLoadAuctionForUpdate(mock, stored)
		mock.ExpectRollback()

		_, err := service.RefundLosingGroupBidder("platform", stored.ID, 5, 0)
		assert.ErrorIs(t, err, models.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown bidder fails", func(t *testing.T) {
		stored := closedAuction()

		mock.ExpectBegin()
		expectLoadAuctionForUpdate(mock, stored)
		mock.ExpectRollback()

		_, err := service.RefundLosingGroupBidder("platform", stored.ID, 0, 9)
		assert.ErrorIs(t, err, models.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDistributionService_InvoicePaymentReceived(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	pub := &recordingPublisher{}
	service := newDistributionService(db, pub, 0, 0)

	waiting := func() *models.Auction {
		a := paidAuction()
		a.Status = models.AuctionWaitingForInvoicePayment
		a.PaidAmount = 0
		return a
	}

	t.Run("mints the paid amount", func(t *testing.T) {
		stored := waiting()

		mock.ExpectBegin()
		expectLoadAuctionForUpdate(mock, stored)
		expectMint(mock, "GBP", 5000, 0, 7)
		expectSaveAuctionHeaderStatus(mock, stored.ID, models.AuctionPaymentReceived)
		mock.ExpectCommit()

		recorded, err := service.InvoicePaymentReceived("platform", stored.ID, 5000)
		assert.NoError(t, err)
		assert.True(t, recorded)
		assert.NoError(t, mock.ExpectationsWereMet())

		assert.Len(t, pub.published, 1)
		assert.Equal(t, events.TypePaymentReceived, pub.published[0].EventType)
		assert.Equal(t, int64(5000), pub.published[0].Amount)
	})

	t.Run("payment below the invoice fails hard", func(t *testing.T) {
		stored := waiting()

		mock.ExpectBegin()
		expectLoadAuctionForUpdate(mock, stored)
		mock.ExpectRollback()

		_, err := service.InvoicePaymentReceived("platform", stored.ID, 4999)
		assert.ErrorIs(t, err, models.ErrPaymentTooLow)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("re-notification after payout is a no-op", func(t *testing.T) {
		stored := paidAuction()
		stored.Status = models.AuctionCompleted
		stored.SentToWinnerGroup = true

		mock.ExpectBegin()
		expectLoadAuctionForUpdate(mock, stored)
		mock.ExpectRollback()

		recorded, err := service.InvoicePaymentReceived("platform", stored.ID, 5000)
		assert.NoError(t, err)
		assert.False(t, recorded)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("open auction fails hard", func(t *testing.T) {
		stored := waiting()
		stored.Status = models.AuctionOpen
		stored.SentToBeneficiary = false

		mock.ExpectBegin()
		expectLoadAuctionForUpdate(mock, stored)
		mock.ExpectRollback()

		_, err := service.InvoicePaymentReceived("platform", stored.ID, 5000)
		assert.ErrorIs(t, err, models.ErrInvalidState)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDistributionService_FundWinnerGroup(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	pub := &recordingPublisher{}
	service := newDistributionService(db, pub, 0, 0)

	t.Run("splits the payment pro rata", func(t *testing.T) {
		stored := paidAuction()
		// 250 and 750 against a 1000 raise split 5000 into 1250 and 3750.

		mock.ExpectBegin()
		expectLoadAuctionForUpdate(mock, stored)
		expectTransfer(mock, "GBP", testSystem, "bidder-1", 1250, 5000, 0, 20, 0)
		expectSaveBidder(mock, stored.ID, 0, 0)
		expectTransfer(mock, "GBP", testSystem, "bidder-2", 3750, 3750, 0, 21, 0)
		expectSaveBidder(mock, stored.ID, 0, 1)
		expectSaveGroup(mock, stored.ID, 0)
		expectSaveAuctionHeaderStatus(mock, stored.ID, models.AuctionCompleted)
		mock.ExpectCommit()

		processed, remaining, err := service.FundWinnerGroup("platform", stored.ID)
		assert.NoError(t, err)
		assert.Equal(t, 2, processed)
		assert.Equal(t, 0, remaining)
		assert.NoError(t, mock.ExpectationsWereMet())

		assert.Len(t, pub.published, 2)
		assert.Equal(t, events.TypeWinnerFunded, pub.published[0].EventType)
		assert.Equal(t, int64(1250), pub.published[0].Amount)
		assert.Equal(t, int64(3750), pub.published[1].Amount)
	})

	t.Run("rounding shortfall stays with the system", func(t *testing.T) {
		stored := paidAuction()
		stored.InvoiceAmount = 10
		stored.PaidAmount = 10
		stored.Groups[0].AmountRaised = 9
		stored.Groups[0].Bidders = []models.Bidder{
			{BidderID: "bidder-1", Name: "Ada", BidAmount: 3},
			{BidderID: "bidder-2", Name: "Bea", BidAmount: 3},
			{BidderID: "bidder-3", Name: "Cal", BidAmount: 3},
		}

		// floor(3*10/9) = 3 each; 1 of the 10 is never paid out.
		mock.ExpectBegin()
		expectLoadAuctionForUpdate(mock, stored)
		expectTransfer(mock, "GBP", testSystem, "bidder-1", 3, 10, 0, 30, 0)
		expectSaveBidder(mock, stored.ID, 0, 0)
		expectTransfer(mock, "GBP", testSystem, "bidder-2", 3, 7, 0, 31, 0)
		expectSaveBidder(mock, stored.ID, 0, 1)
		expectTransfer(mock, "GBP", testSystem, "bidder-3", 3, 4, 0, 32, 0)
		expectSaveBidder(mock, stored.ID, 0, 2)
		expectSaveGroup(mock, stored.ID, 0)
		expectSaveAuctionHeaderStatus(mock, stored.ID, models.AuctionCompleted)
		mock.ExpectCommit()

		processed, remaining, err := service.FundWinnerGroup("platform", stored.ID)
		assert.NoError(t, err)
		assert.Equal(t, 3, processed)
		assert.Equal(t, 0, remaining)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("batch bound leaves the auction in PaymentReceived", func(t *testing.T) {
		svc := newDistributionService(db, nil, 0, 1)
		stored := paidAuction()

		mock.ExpectBegin()
		expectLoadAuctionForUpdate(mock, stored)
		expectTransfer(mock, "GBP", testSystem, "bidder-1", 1250, 5000, 0, 20, 0)
		expectSaveBidder(mock, stored.ID, 0, 0)
		expectSaveGroup(mock, stored.ID, 0)
		expectSaveAuctionHeaderStatus(mock, stored.ID, models.AuctionPaymentReceived)
		mock.ExpectCommit()

		processed, remaining, err := svc.FundWinnerGroup("platform", stored.ID)
		assert.NoError(t, err)
		assert.Equal(t, 1, processed)
		assert.Equal(t, 1, remaining)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no-op before the payment lands", func(t *testing.T) {
		stored := paidAuction()
		stored.Status = models.AuctionWaitingForInvoicePayment
		stored.PaidAmount = 0

		mock.ExpectBegin()
		expectLoadAuctionForUpdate(mock, stored)
		mock.ExpectRollback()

		processed, remaining, err := service.FundWinnerGroup("platform", stored.ID)
		assert.NoError(t, err)
		assert.Equal(t, 0, processed)
		assert.Equal(t, 0, remaining)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDistributionService_FundWinnerGroupBidder(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := newDistributionService(db, nil, 0, 0)

	t.Run("pays one bidder its share", func(t *testing.T) {
		stored := paidAuction()

		mock.ExpectBegin()
		expectLoadAuctionForUpdate(mock, stored)
		expectTransfer(mock, "GBP", testSystem, "bidder-2", 3750, 5000, 0, 20, 0)
		expectSaveBidder(mock, stored.ID, 0, 1)
		expectSaveGroup(mock, stored.ID, 0)
		expectSaveAuctionHeader(mock, stored.ID)
		mock.ExpectCommit()

		funded, err := service.FundWinnerGroupBidder("platform", stored.ID, 1)
		assert.NoError(t, err)
		assert.True(t, funded)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("last bidder completes the auction", func(t *testing.T) {
		stored := paidAuction()
		stored.Groups[0].Bidders[0].TokensReturned = true

		mock.ExpectBegin()
		expectLoadAuctionForUpdate(mock, stored)
		expectTransfer(mock, "GBP", testSystem, "bidder-2", 3750, 3750, 0, 21, 0)
		expectSaveBidder(mock, stored.ID, 0, 1)
		expectSaveGroup(mock, stored.ID, 0)
		expectSaveAuctionHeaderStatus(mock, stored.ID, models.AuctionCompleted)
		mock.ExpectCommit()

		funded, err := service.FundWinnerGroupBidder("platform", stored.ID, 1)
		assert.NoError(t, err)
		assert.True(t, funded)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("paying twice is a no-op", func(t *testing.T) {
		stored := paidAuction()
		stored.Groups[0].Bidders[1].TokensReturned = true

		mock.ExpectBegin()
		expectLoadAuctionForUpdate(mock, stored)
		mock.ExpectRollback()

		funded, err := service.FundWinnerGroupBidder("platform", stored.ID, 1)
		assert.NoError(t, err)
		assert.False(t, funded)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no-op before the payment lands", func(t *testing.T) {
		stored := paidAuction()
		stored.Status = models.AuctionWaitingForInvoicePayment

		mock.ExpectBegin()
		expectLoadAuctionForUpdate(mock, stored)
		mock.ExpectRollback()

		funded, err := service.FundWinnerGroupBidder("platform", stored.ID, 1)
		assert.NoError(t, err)
		assert.False(t, funded)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown bidder fails", func(t *testing.T) {
		stored := paidAuction()

		mock.ExpectBegin()
		expectLoadAuctionForUpdate(mock, stored)
		mock.ExpectRollback()

		_, err := service.FundWinnerGroupBidder("platform", stored.ID, 9)
		assert.ErrorIs(t, err, models.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDistributionService_Outstanding(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := newDistributionService(db, nil, 0, 0)

	mock.ExpectQuery(`SELECT id, status FROM auctions WHERE status IN`).
		WithArgs(string(models.AuctionClosed), string(models.AuctionPaymentReceived),
			string(models.AuctionNoWinner), string(models.AuctionWaitingForInvoicePayment)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "status"}).
			AddRow("auc-1", string(models.AuctionClosed)).
			AddRow("auc-2", string(models.AuctionPaymentReceived)))

	targets, err := service.Outstanding()
	assert.NoError(t, err)
	assert.Len(t, targets, 2)
	assert.Equal(t, "auc-1", targets[0].ID)
	assert.Equal(t, models.AuctionClosed, targets[0].Status)
	assert.Equal(t, models.AuctionPaymentReceived, targets[1].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}
