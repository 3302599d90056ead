package services

import (
	"database/sql"
	"time"

	"github.com/crowdfactor/backend/internal/access"
	"github.com/crowdfactor/backend/internal/events"
	"github.com/crowdfactor/backend/internal/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// AuctionService drives the per-invoice auction lifecycle. Bookkeeping
// lives on the auction record; value custody goes through the ledger.
// Both move inside one transaction per operation, with the auction row
// locked first so writers on the same auction serialize.
type AuctionService struct {
	db        *sql.DB
	access    access.Control
	ledger    *LedgerService
	publisher events.Publisher
	queue     *DistributionQueue
}

func NewAuctionService(db *sql.DB, accessCtl access.Control, ledger *LedgerService, publisher events.Publisher, queue *DistributionQueue) *AuctionService {
	return &AuctionService{
		db:        db,
		access:    accessCtl,
		ledger:    ledger,
		publisher: publisher,
		queue:     queue,
	}
}

// Create registers a new auction for an invoice. The record starts in
// Pending; bidding opens with a separate call.
func (s *AuctionService) Create(caller string, req *models.CreateAuctionRequest) (*models.Auction, error) {
	if err := authorize(s.access, access.RoleServer, caller); err != nil {
		return nil, err
	}

	now := time.Now()
	auction := &models.Auction{
		ID:                 uuid.New().String(),
		CurrencySymbol:     req.CurrencySymbol,
		InvoiceID:          req.InvoiceID,
		InvoiceNumber:      req.InvoiceNumber,
		BorrowerID:         req.BorrowerID,
		InvoiceAmount:      req.InvoiceAmount,
		FundingGoal:        req.FundingGoal,
		PlatformTaxPercent: req.PlatformTaxPercent,
		DocumentHash:       req.DocumentHash,
		Status:             models.AuctionPending,
		WinnerGroupIndex:   models.NoWinnerIndex,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if err := s.ledger.checkCurrency(tx, req.CurrencySymbol); err != nil {
		return nil, err
	}
	if err := insertAuction(tx, auction); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	logrus.Infof("[AUCTION] Created auction %s for invoice %s", auction.ID, auction.InvoiceNumber)
	s.publish(events.Event{
		EventType: events.TypeAuctionCreated,
		EventID:   uuid.New().String(),
		Currency:  auction.CurrencySymbol,
		AuctionID: auction.ID,
		AccountID: auction.BorrowerID,
		Amount:    auction.InvoiceAmount,
		Details: map[string]interface{}{
			"funding_goal":   auction.FundingGoal,
			"invoice_number": auction.InvoiceNumber,
		},
	})
	return auction, nil
}

// Open moves a pending auction into its bidding window.
func (s *AuctionService) Open(caller, auctionID string) (*models.Auction, error) {
	if err := authorize(s.access, access.RoleServer, caller); err != nil {
		return nil, err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	auction, err := loadAuctionForUpdate(tx, auctionID)
	if err != nil {
		return nil, err
	}
	if err := auction.OpenBidding(); err != nil {
		return nil, err
	}
	if err := saveAuctionHeader(tx, auction); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	logrus.Infof("[AUCTION] Opened bidding on auction %s", auctionID)
	return auction, nil
}

// Get returns one auction with its groups and bidders.
func (s *AuctionService) Get(auctionID string) (*models.Auction, error) {
	return loadAuction(s.db, auctionID)
}

// List returns auction headers, optionally filtered by status.
func (s *AuctionService) List(status string, limit int) ([]models.Auction, error) {
	return listAuctions(s.db, status, limit)
}

// CreateGroup appends an empty bidding group and returns its index.
func (s *AuctionService) CreateGroup(caller, auctionID string, req *models.CreateGroupRequest) (int, error) {
	if err := authorize(s.access, access.RoleServer, caller); err != nil {
		return 0, err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	auction, err := loadAuctionForUpdate(tx, auctionID)
	if err != nil {
		return 0, err
	}

	groupIndex, err := auction.AddGroup(req.Name, req.Goal)
	if err != nil {
		return 0, err
	}

	if err := saveGroup(tx, auctionID, groupIndex, &auction.Groups[groupIndex]); err != nil {
		return 0, err
	}
	if err := saveAuctionHeader(tx, auction); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}

	logrus.Infof("[AUCTION] Created group %d (%s) on auction %s", groupIndex, req.Name, auctionID)
	return groupIndex, nil
}

// Bid records a bid and moves its value into system escrow in the same
// transaction. A bidder who already bid in the group accumulates.
func (s *AuctionService) Bid(caller, auctionID string, groupIndex int, req *models.BidRequest) (*models.BidResult, error) {
	if err := authorize(s.access, access.RoleServer, caller); err != nil {
		return nil, err
	}
	eventID := uuid.New().String()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	auction, err := loadAuctionForUpdate(tx, auctionID)
	if err != nil {
		return nil, err
	}

	result, err := auction.PlaceBid(groupIndex, req.BidderID, req.Name, req.Value)
	if err != nil {
		return nil, err
	}

	if err := s.escrowAndSave(tx, eventID, auction, &result, req.Value); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	s.publishEscrow(eventID, auction, &result, req.Value)
	return &result, nil
}

// InitialBid creates a group and places its first bid as one atomic
// step. Nothing is created when either part fails.
func (s *AuctionService) InitialBid(caller, auctionID string, req *models.InitialBidRequest) (*models.BidResult, error) {
	if err := authorize(s.access, access.RoleServer, caller); err != nil {
		return nil, err
	}
	eventID := uuid.New().String()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	auction, err := loadAuctionForUpdate(tx, auctionID)
	if err != nil {
		return nil, err
	}

	groupIndex, err := auction.AddGroup(req.GroupName, req.Goal)
	if err != nil {
		return nil, err
	}
	result, err := auction.PlaceBid(groupIndex, req.BidderID, req.BidderName, req.Value)
	if err != nil {
		return nil, err
	}

	if err := s.escrowAndSave(tx, eventID, auction, &result, req.Value); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	s.publishEscrow(eventID, auction, &result, req.Value)
	return &result, nil
}

// escrowAndSave moves the bid value bidder -> system and persists the
// touched group, bidder and auction rows.
func (s *AuctionService) escrowAndSave(tx *sql.Tx, eventID string, auction *models.Auction, result *models.BidResult, value int64) error {
	bidder := &auction.Groups[result.GroupIndex].Bidders[result.BidderIndex]
	if err := s.ledger.TransferTx(tx, eventID, auction.CurrencySymbol, bidder.BidderID, s.ledger.SystemAccount(), value); err != nil {
		return err
	}

	if err := saveGroup(tx, auction.ID, result.GroupIndex, &auction.Groups[result.GroupIndex]); err != nil {
		return err
	}
	if err := saveBidder(tx, auction.ID, result.GroupIndex, result.BidderIndex, bidder); err != nil {
		return err
	}
	return saveAuctionHeader(tx, auction)
}

func (s *AuctionService) publishEscrow(eventID string, auction *models.Auction, result *models.BidResult, value int64) {
	bidderID := auction.Groups[result.GroupIndex].Bidders[result.BidderIndex].BidderID
	logrus.Infof("[AUCTION] Bid %d by %s on auction %s group %d (raised %d/%d)",
		value, bidderID, auction.ID, result.GroupIndex,
		auction.Groups[result.GroupIndex].AmountRaised, result.GroupGoal)
	s.publish(events.Event{
		EventType: events.TypeTransfer,
		EventID:   eventID,
		Currency:  auction.CurrencySymbol,
		AuctionID: auction.ID,
		AccountID: bidderID,
		Amount:    value,
		Details: map[string]interface{}{
			"to_account":   s.ledger.SystemAccount(),
			"group_index":  result.GroupIndex,
			"bidder_index": result.BidderIndex,
			"final_value":  result.FinalValue,
			"goal_reached": result.GoalReached,
		},
	})
}

// Close seals bidding and fixes the winner. Outside Open it reports
// false without error so schedulers can retry blindly. On closure the
// pending refunds are queued for the worker; the sweep remains the
// safety net if queueing fails.
func (s *AuctionService) Close(caller, auctionID string) (*models.Auction, bool, error) {
	if err := authorize(s.access, access.RoleServer, caller); err != nil {
		return nil, false, err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback()

	auction, err := loadAuctionForUpdate(tx, auctionID)
	if err != nil {
		return nil, false, err
	}

	closed := auction.Close()
	if closed {
		if err := saveAuctionHeader(tx, auction); err != nil {
			return nil, false, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, false, err
	}

	if !closed {
		return auction, false, nil
	}

	if auction.Status == models.AuctionNoWinner {
		logrus.Infof("[AUCTION] Closed auction %s with no winner", auctionID)
	} else {
		logrus.Infof("[AUCTION] Closed auction %s, winner group %d", auctionID, auction.WinnerGroupIndex)
	}

	items := auction.PendingRefunds()
	work := make([]WorkItem, 0, len(items))
	for _, item := range items {
		work = append(work, WorkItem{
			AuctionID:   auction.ID,
			Kind:        WorkRefund,
			GroupIndex:  item.GroupIndex,
			BidderIndex: item.BidderIndex,
		})
	}
	s.queue.Enqueue(work...)

	return auction, true, nil
}

func (s *AuctionService) publish(event events.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(event); err != nil {
		logrus.Errorf("[AUCTION] Failed to publish %s event: %v", event.EventType, err)
	}
}
