package services

import (
	"database/sql"
	"fmt"

	"github.com/crowdfactor/backend/internal/access"
	"github.com/crowdfactor/backend/internal/events"
	"github.com/crowdfactor/backend/internal/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DistributionService moves escrowed and minted funds out of the system
// account: beneficiary funding, losing-group refunds and winner-group
// payouts. Refund and payout paths tolerate blind retries; funding and
// payment paths fail hard on state mismatches.
//
// Batch operations process a bounded number of bidders per call and
// report how many remain, so callers repeat until drained. The
// single-unit variants make identical forward progress one bidder at
// a time.
type DistributionService struct {
	db          *sql.DB
	access      access.Control
	ledger      *LedgerService
	publisher   events.Publisher
	queue       *DistributionQueue
	refundBatch int
	payoutBatch int
}

func NewDistributionService(db *sql.DB, accessCtl access.Control, ledger *LedgerService, publisher events.Publisher, queue *DistributionQueue, refundBatch, payoutBatch int) *DistributionService {
	if refundBatch <= 0 {
		refundBatch = 100
	}
	if payoutBatch <= 0 {
		payoutBatch = 100
	}
	return &DistributionService{
		db:          db,
		access:      accessCtl,
		ledger:      ledger,
		publisher:   publisher,
		queue:       queue,
		refundBatch: refundBatch,
		payoutBatch: payoutBatch,
	}
}

// SweepTarget is one auction the worker should drive forward.
type SweepTarget struct {
	ID     string               `json:"id"`
	Status models.AuctionStatus `json:"status"`
}

// FundBeneficiary pays the borrower the winner group's raise minus the
// platform tax and advances the auction to WaitingForInvoicePayment.
// Already-funded auctions report funded=false without error; any other
// state than Closed is a hard failure.
func (s *DistributionService) FundBeneficiary(caller, auctionID string) (int64, bool, error) {
	if err := authorize(s.access, access.RoleServer, caller); err != nil {
		return 0, false, err
	}
	eventID := uuid.New().String()

	tx, err := s.db.Begin()
	if err != nil {
		return 0, false, err
	}
	defer tx.Rollback()

	auction, err := loadAuctionForUpdate(tx, auctionID)
	if err != nil {
		return 0, false, err
	}
	if auction.SentToBeneficiary {
		return 0, false, nil
	}

	if err := auction.MarkBeneficiaryFunded(); err != nil {
		return 0, false, err
	}
	amount, err := auction.BeneficiaryAmount()
	if err != nil {
		return 0, false, err
	}

	if err := s.ledger.TransferTx(tx, eventID, auction.CurrencySymbol, s.ledger.SystemAccount(), auction.BorrowerID, amount); err != nil {
		return 0, false, err
	}
	if err := saveAuctionHeader(tx, auction); err != nil {
		return 0, false, err
	}
	if err := tx.Commit(); err != nil {
		return 0, false, err
	}

	raised := auction.Groups[auction.WinnerGroupIndex].AmountRaised
	logrus.Infof("[DISTRIBUTION] Funded beneficiary %s with %d for auction %s (tax retained %d)",
		auction.BorrowerID, amount, auctionID, raised-amount)
	s.publish(events.Event{
		EventType: events.TypeBeneficiaryFunded,
		EventID:   eventID,
		Currency:  auction.CurrencySymbol,
		AuctionID: auction.ID,
		AccountID: auction.BorrowerID,
		Amount:    amount,
		Details:   map[string]interface{}{"tax_retained": raised - amount},
	})
	return amount, true, nil
}

// RefundLosingGroups returns escrow to losing-group bidders, at most
// refundBatch per call, and reports how many bidders still wait.
// Calling it on an auction with nothing to refund is a no-op.
func (s *DistributionService) RefundLosingGroups(caller, auctionID string) (int, int, error) {
	if err := authorize(s.access, access.RoleServer, caller); err != nil {
		return 0, 0, err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, 0, err
	}
	defer tx.Rollback()

	auction, err := loadAuctionForUpdate(tx, auctionID)
	if err != nil {
		return 0, 0, err
	}

	items := auction.PendingRefunds()
	if len(items) == 0 {
		return 0, 0, nil
	}
	remaining := 0
	if len(items) > s.refundBatch {
		remaining = len(items) - s.refundBatch
		items = items[:s.refundBatch]
	}

	pending := make([]events.Event, 0, len(items))
	for _, item := range items {
		eventID := uuid.New().String()
		if err := s.ledger.TransferTx(tx, eventID, auction.CurrencySymbol, s.ledger.SystemAccount(), item.BidderID, item.Amount); err != nil {
			return 0, 0, err
		}
		if err := auction.MarkRefunded(item.GroupIndex, item.BidderIndex); err != nil {
			return 0, 0, err
		}
		if err := saveBidder(tx, auction.ID, item.GroupIndex, item.BidderIndex, &auction.Groups[item.GroupIndex].Bidders[item.BidderIndex]); err != nil {
			return 0, 0, err
		}
		pending = append(pending, s.refundEvent(eventID, auction, item))
	}

	if err := saveLosingGroupFlags(tx, auction); err != nil {
		return 0, 0, err
	}
	if err := saveAuctionHeader(tx, auction); err != nil {
		return 0, 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, 0, err
	}

	logrus.Infof("[DISTRIBUTION] Refunded %d losing-group bidders on auction %s (%d remaining)",
		len(items), auctionID, remaining)
	for _, event := range pending {
		s.publish(event)
	}
	return len(items), remaining, nil
}

// RefundLosingGroupBidder refunds exactly one losing-group bidder.
// Already-refunded bidders and auctions not yet refundable report
// refunded=false without error; unknown indexes fail NotFound and the
// winner group fails InvalidState.
func (s *DistributionService) RefundLosingGroupBidder(caller, auctionID string, groupIndex, bidderIndex int) (bool, error) {
	if err := authorize(s.access, access.RoleServer, caller); err != nil {
		return false, err
	}
	eventID := uuid.New().String()

	tx, err := s.db.Begin()
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	auction, err := loadAuctionForUpdate(tx, auctionID)
	if err != nil {
		return false, err
	}
	if !auction.Refundable() {
		return false, nil
	}
	if groupIndex < 0 || groupIndex >= len(auction.Groups) {
		return false, fmt.Errorf("%w: auction %s has no group %d", models.ErrNotFound, auctionID, groupIndex)
	}
	if groupIndex == auction.WinnerGroupIndex {
		return false, fmt.Errorf("%w: group %d won auction %s and is not refundable", models.ErrInvalidState, groupIndex, auctionID)
	}
	group := &auction.Groups[groupIndex]
	if bidderIndex < 0 || bidderIndex >= len(group.Bidders) {
		return false, fmt.Errorf("%w: group %d has no bidder %d", models.ErrNotFound, groupIndex, bidderIndex)
	}
	bidder := &group.Bidders[bidderIndex]
	if bidder.TokensReturned {
		return false, nil
	}

	item := models.RefundItem{GroupIndex: groupIndex, BidderIndex: bidderIndex, BidderID: bidder.BidderID, Amount: bidder.BidAmount}
	if err := s.ledger.TransferTx(tx, eventID, auction.CurrencySymbol, s.ledger.SystemAccount(), item.BidderID, item.Amount); err != nil {
		return false, err
	}
	if err := auction.MarkRefunded(groupIndex, bidderIndex); err != nil {
		return false, err
	}
	if err := saveBidder(tx, auction.ID, groupIndex, bidderIndex, bidder); err != nil {
		return false, err
	}
	if err := saveLosingGroupFlags(tx, auction); err != nil {
		return false, err
	}
	if err := saveAuctionHeader(tx, auction); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}

	s.publish(s.refundEvent(eventID, auction, item))
	return true, nil
}

func (s *DistributionService) refundEvent(eventID string, auction *models.Auction, item models.RefundItem) events.Event {
	return events.Event{
		EventType: events.TypeLoserRefunded,
		EventID:   eventID,
		Currency:  auction.CurrencySymbol,
		AuctionID: auction.ID,
		AccountID: item.BidderID,
		Amount:    item.Amount,
		Details: map[string]interface{}{
			"group_index":  item.GroupIndex,
			"bidder_index": item.BidderIndex,
		},
	}
}

// InvoicePaymentReceived records the debtor's invoice payment, minting
// the paid amount into the system account, and queues the winner-group
// payouts. Re-notification after the winner group was paid out reports
// recorded=false; a payment below the invoice amount or in any state
// other than WaitingForInvoicePayment fails hard.
func (s *DistributionService) InvoicePaymentReceived(caller, auctionID string, paidAmount int64) (bool, error) {
	if err := authorize(s.access, access.RoleServer, caller); err != nil {
		return false, err
	}
	eventID := uuid.New().String()

	tx, err := s.db.Begin()
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	auction, err := loadAuctionForUpdate(tx, auctionID)
	if err != nil {
		return false, err
	}
	if auction.SentToWinnerGroup {
		return false, nil
	}

	if err := auction.RecordPayment(paidAmount); err != nil {
		return false, err
	}
	if err := s.ledger.MintTx(tx, eventID, auction.CurrencySymbol, paidAmount); err != nil {
		return false, err
	}
	if err := saveAuctionHeader(tx, auction); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}

	logrus.Infof("[DISTRIBUTION] Invoice payment %d received for auction %s", paidAmount, auctionID)
	s.publish(events.Event{
		EventType: events.TypePaymentReceived,
		EventID:   eventID,
		Currency:  auction.CurrencySymbol,
		AuctionID: auction.ID,
		Amount:    paidAmount,
	})

	items := auction.PendingPayouts()
	work := make([]WorkItem, 0, len(items))
	for _, item := range items {
		work = append(work, WorkItem{
			AuctionID:   auction.ID,
			Kind:        WorkPayout,
			GroupIndex:  auction.WinnerGroupIndex,
			BidderIndex: item.BidderIndex,
		})
	}
	s.queue.Enqueue(work...)

	return true, nil
}

// FundWinnerGroup pays winner-group bidders their floor-divided share
// of the invoice payment, at most payoutBatch per call. The aggregate
// rounding shortfall stays on the system account. When the last bidder
// is paid the auction completes. No-op outside PaymentReceived.
func (s *DistributionService) FundWinnerGroup(caller, auctionID string) (int, int, error) {
	if err := authorize(s.access, access.RoleServer, caller); err != nil {
		return 0, 0, err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, 0, err
	}
	defer tx.Rollback()

	auction, err := loadAuctionForUpdate(tx, auctionID)
	if err != nil {
		return 0, 0, err
	}

	items := auction.PendingPayouts()
	if len(items) == 0 {
		return 0, 0, nil
	}
	remaining := 0
	if len(items) > s.payoutBatch {
		remaining = len(items) - s.payoutBatch
		items = items[:s.payoutBatch]
	}

	pending := make([]events.Event, 0, len(items))
	for _, item := range items {
		eventID := uuid.New().String()
		if err := s.ledger.TransferTx(tx, eventID, auction.CurrencySymbol, s.ledger.SystemAccount(), item.BidderID, item.Amount); err != nil {
			return 0, 0, err
		}
		if err := auction.MarkPaidOut(item.BidderIndex); err != nil {
			return 0, 0, err
		}
		if err := saveBidder(tx, auction.ID, auction.WinnerGroupIndex, item.BidderIndex, &auction.Groups[auction.WinnerGroupIndex].Bidders[item.BidderIndex]); err != nil {
			return 0, 0, err
		}
		pending = append(pending, s.payoutEvent(eventID, auction, item))
	}

	if err := saveGroup(tx, auction.ID, auction.WinnerGroupIndex, &auction.Groups[auction.WinnerGroupIndex]); err != nil {
		return 0, 0, err
	}
	if err := saveAuctionHeader(tx, auction); err != nil {
		return 0, 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, 0, err
	}

	logrus.Infof("[DISTRIBUTION] Paid out %d winner-group bidders on auction %s (%d remaining)",
		len(items), auctionID, remaining)
	if auction.Status == models.AuctionCompleted {
		logrus.Infof("[DISTRIBUTION] Auction %s completed", auctionID)
	}
	for _, event := range pending {
		s.publish(event)
	}
	return len(items), remaining, nil
}

// FundWinnerGroupBidder pays exactly one winner-group bidder its
// proportional share. Outside PaymentReceived, or for an already-paid
// bidder, it reports funded=false without error.
func (s *DistributionService) FundWinnerGroupBidder(caller, auctionID string, bidderIndex int) (bool, error) {
	if err := authorize(s.access, access.RoleServer, caller); err != nil {
		return false, err
	}
	eventID := uuid.New().String()

	tx, err := s.db.Begin()
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	auction, err := loadAuctionForUpdate(tx, auctionID)
	if err != nil {
		return false, err
	}
	if auction.Status != models.AuctionPaymentReceived || auction.SentToWinnerGroup {
		return false, nil
	}

	group := &auction.Groups[auction.WinnerGroupIndex]
	if bidderIndex < 0 || bidderIndex >= len(group.Bidders) {
		return false, fmt.Errorf("%w: winner group has no bidder %d", models.ErrNotFound, bidderIndex)
	}
	bidder := &group.Bidders[bidderIndex]
	if bidder.TokensReturned {
		return false, nil
	}

	item := models.PayoutItem{
		BidderIndex: bidderIndex,
		BidderID:    bidder.BidderID,
		Amount:      models.ProRataShare(bidder.BidAmount, auction.PaidAmount, group.AmountRaised),
	}
	if err := s.ledger.TransferTx(tx, eventID, auction.CurrencySymbol, s.ledger.SystemAccount(), item.BidderID, item.Amount); err != nil {
		return false, err
	}
	if err := auction.MarkPaidOut(bidderIndex); err != nil {
		return false, err
	}
	if err := saveBidder(tx, auction.ID, auction.WinnerGroupIndex, bidderIndex, bidder); err != nil {
		return false, err
	}
	if err := saveGroup(tx, auction.ID, auction.WinnerGroupIndex, group); err != nil {
		return false, err
	}
	if err := saveAuctionHeader(tx, auction); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}

	s.publish(s.payoutEvent(eventID, auction, item))
	if auction.Status == models.AuctionCompleted {
		logrus.Infof("[DISTRIBUTION] Auction %s completed", auctionID)
	}
	return true, nil
}

func (s *DistributionService) payoutEvent(eventID string, auction *models.Auction, item models.PayoutItem) events.Event {
	return events.Event{
		EventType: events.TypeWinnerFunded,
		EventID:   eventID,
		Currency:  auction.CurrencySymbol,
		AuctionID: auction.ID,
		AccountID: item.BidderID,
		Amount:    item.Amount,
		Details: map[string]interface{}{
			"group_index":  auction.WinnerGroupIndex,
			"bidder_index": item.BidderIndex,
		},
	}
}

// Outstanding lists auctions with distribution work left: closed ones
// awaiting beneficiary funding or refunds, paid ones awaiting payouts,
// and terminal-without-winner or waiting ones with refunds pending.
func (s *DistributionService) Outstanding() ([]SweepTarget, error) {
	rows, err := s.db.Query(`
		SELECT id, status FROM auctions
		WHERE status IN ($1, $2)
		   OR (status IN ($3, $4) AND sent_to_losing_groups = FALSE)
		ORDER BY created_at`,
		models.AuctionClosed, models.AuctionPaymentReceived,
		models.AuctionNoWinner, models.AuctionWaitingForInvoicePayment)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var targets []SweepTarget
	for rows.Next() {
		var t SweepTarget
		if err := rows.Scan(&t.ID, &t.Status); err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}
	return targets, rows.Err()
}

func (s *DistributionService) publish(event events.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(event); err != nil {
		logrus.Errorf("[DISTRIBUTION] Failed to publish %s event: %v", event.EventType, err)
	}
}
