package models

import (
	"fmt"
	"time"
)

// AuctionStatus tracks an invoice auction through its lifecycle. Transitions
// only move forward; operations gated on a status they do not match either
// fail with ErrInvalidState (funding/payment paths) or no-op (refund/payout
// retry paths).
type AuctionStatus string

const (
	AuctionPending                  AuctionStatus = "PENDING"
	AuctionOpen                     AuctionStatus = "OPEN"
	AuctionClosed                   AuctionStatus = "CLOSED"
	AuctionWaitingForInvoicePayment AuctionStatus = "WAITING_FOR_INVOICE_PAYMENT"
	AuctionPaymentReceived          AuctionStatus = "PAYMENT_RECEIVED"
	AuctionCompleted                AuctionStatus = "COMPLETED"
	AuctionNoWinner                 AuctionStatus = "NO_WINNER"
)

// NoWinnerIndex is the winner group index of an auction whose winner has not
// been fixed (still open, or closed with no group reaching its goal).
const NoWinnerIndex = -1

// Bidder is one investor's stake in a group. TokensReturned marks the escrow
// as already returned, either as a refund or as a payout.
type Bidder struct {
	BidderID       string `json:"bidder_id" db:"bidder_id"`
	Name           string `json:"name" db:"name"`
	BidAmount      int64  `json:"bid_amount" db:"bid_amount"`
	TokensReturned bool   `json:"tokens_returned" db:"tokens_returned"`
}

// Group is a coalition of bidders pooling funds toward a shared goal. Its
// index in the auction's group list is its identity.
type Group struct {
	Name           string   `json:"name" db:"name"`
	Goal           int64    `json:"goal" db:"goal"`
	AmountRaised   int64    `json:"amount_raised" db:"amount_raised"`
	TokensReturned bool     `json:"tokens_returned" db:"tokens_returned"`
	Bidders        []Bidder `json:"bidders"`
}

func (g *Group) bidderIndex(bidderID string) int {
	for i := range g.Bidders {
		if g.Bidders[i].BidderID == bidderID {
			return i
		}
	}
	return -1
}

func (g *Group) allReturned() bool {
	for i := range g.Bidders {
		if !g.Bidders[i].TokensReturned {
			return false
		}
	}
	return true
}

// Auction is the per-invoice record: status, participants and amounts. Rows
// are never deleted; completed auctions stay as an audit trail.
type Auction struct {
	ID                 string        `json:"id" db:"id"`
	CurrencySymbol     string        `json:"currency_symbol" db:"currency_symbol"`
	InvoiceID          string        `json:"invoice_id" db:"invoice_id"`
	InvoiceNumber      string        `json:"invoice_number" db:"invoice_number"`
	BorrowerID         string        `json:"borrower_id" db:"borrower_id"`
	InvoiceAmount      int64         `json:"invoice_amount" db:"invoice_amount"`
	FundingGoal        int64         `json:"funding_goal" db:"funding_goal"`
	PlatformTaxPercent int64         `json:"platform_tax_percent" db:"platform_tax_percent"`
	DocumentHash       string        `json:"document_hash" db:"document_hash"`
	Status             AuctionStatus `json:"status" db:"status"`
	WinnerGroupIndex   int           `json:"winner_group_index" db:"winner_group_index"`
	PaidAmount         int64         `json:"paid_amount" db:"paid_amount"`
	SentToBeneficiary  bool          `json:"sent_to_beneficiary" db:"sent_to_beneficiary"`
	SentToLosingGroups bool          `json:"sent_to_losing_groups" db:"sent_to_losing_groups"`
	SentToWinnerGroup  bool          `json:"sent_to_winner_group" db:"sent_to_winner_group"`
	Version            int           `json:"version" db:"version"`
	CreatedAt          time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at" db:"updated_at"`
	Groups             []Group       `json:"groups"`
}

// BidResult reports the outcome of a bid: the bidder's cumulative amount
// after the call, the group's goal and whether the goal is now reached.
type BidResult struct {
	GroupIndex  int   `json:"group_index"`
	BidderIndex int   `json:"bidder_index"`
	NewBidder   bool  `json:"new_bidder"`
	FinalValue  int64 `json:"final_value"`
	GroupGoal   int64 `json:"group_goal"`
	GoalReached bool  `json:"goal_reached"`
}

// RefundItem is one escrow repayment owed to a losing-group bidder.
type RefundItem struct {
	GroupIndex  int
	BidderIndex int
	BidderID    string
	Amount      int64
}

// PayoutItem is one proportional payout owed to a winner-group bidder.
type PayoutItem struct {
	BidderIndex int
	BidderID    string
	Amount      int64
}

// OpenBidding moves a pending auction into its bidding window.
func (a *Auction) OpenBidding() error {
	if a.Status != AuctionPending {
		return fmt.Errorf("%w: auction %s is %s, expected %s", ErrInvalidState, a.ID, a.Status, AuctionPending)
	}
	a.Status = AuctionOpen
	return nil
}

// AddGroup appends an empty group and returns its index. Groups can only be
// created while bidding is open.
func (a *Auction) AddGroup(name string, goal int64) (int, error) {
	if a.Status != AuctionOpen {
		return 0, fmt.Errorf("%w: auction %s is %s, expected %s", ErrInvalidState, a.ID, a.Status, AuctionOpen)
	}
	a.Groups = append(a.Groups, Group{Name: name, Goal: goal})
	return len(a.Groups) - 1, nil
}

// PlaceBid records value against a bidder in the given group. A bidder who
// already bid accumulates; a new bidder is appended. The caller remains
// responsible for moving the value into escrow, this only updates the
// bookkeeping. Nothing is mutated on failure.
func (a *Auction) PlaceBid(groupIndex int, bidderID, name string, value int64) (BidResult, error) {
	if a.Status != AuctionOpen {
		return BidResult{}, fmt.Errorf("%w: auction %s is %s, expected %s", ErrInvalidState, a.ID, a.Status, AuctionOpen)
	}
	if groupIndex < 0 || groupIndex >= len(a.Groups) {
		return BidResult{}, fmt.Errorf("%w: auction %s has no group %d", ErrNotFound, a.ID, groupIndex)
	}

	g := &a.Groups[groupIndex]
	raised, err := SafeAdd(g.AmountRaised, value)
	if err != nil {
		return BidResult{}, err
	}

	res := BidResult{GroupIndex: groupIndex, GroupGoal: g.Goal}
	if bi := g.bidderIndex(bidderID); bi >= 0 {
		total, err := SafeAdd(g.Bidders[bi].BidAmount, value)
		if err != nil {
			return BidResult{}, err
		}
		g.Bidders[bi].BidAmount = total
		res.BidderIndex = bi
		res.FinalValue = total
	} else {
		g.Bidders = append(g.Bidders, Bidder{BidderID: bidderID, Name: name, BidAmount: value})
		res.BidderIndex = len(g.Bidders) - 1
		res.NewBidder = true
		res.FinalValue = value
	}

	g.AmountRaised = raised
	res.GoalReached = raised >= g.Goal
	return res, nil
}

// SelectWinner picks the group with the greatest amountRaised among those
// that reached their goal, ties broken by the lowest index.
func (a *Auction) SelectWinner() (int, bool) {
	winner := NoWinnerIndex
	var best int64
	for i := range a.Groups {
		g := &a.Groups[i]
		if g.AmountRaised < g.Goal {
			continue
		}
		if winner == NoWinnerIndex || g.AmountRaised > best {
			winner = i
			best = g.AmountRaised
		}
	}
	return winner, winner != NoWinnerIndex
}

// Close seals bidding and fixes the winner. When no group reached its goal
// the auction ends in NoWinner and every group becomes refundable. Outside
// Open the call reports false and changes nothing, so schedulers can retry
// blindly without disturbing an already fixed winner.
func (a *Auction) Close() bool {
	if a.Status != AuctionOpen {
		return false
	}
	if idx, ok := a.SelectWinner(); ok {
		a.WinnerGroupIndex = idx
		a.Status = AuctionClosed
	} else {
		a.Status = AuctionNoWinner
	}
	return true
}

// Refundable reports whether losing groups may be drained back to their
// bidders in the auction's current state.
func (a *Auction) Refundable() bool {
	switch a.Status {
	case AuctionClosed, AuctionWaitingForInvoicePayment, AuctionPaymentReceived, AuctionCompleted, AuctionNoWinner:
		return true
	}
	return false
}

// losingGroup reports whether the group at index lost the auction. With no
// winner fixed after closure, every group is a losing group.
func (a *Auction) losingGroup(groupIndex int) bool {
	return groupIndex != a.WinnerGroupIndex
}

// PendingRefunds lists every losing-group bidder whose escrow has not been
// returned yet. Winner-group bidders are never refunded through this path.
func (a *Auction) PendingRefunds() []RefundItem {
	if !a.Refundable() || a.SentToLosingGroups {
		return nil
	}
	var items []RefundItem
	for gi := range a.Groups {
		if !a.losingGroup(gi) {
			continue
		}
		for bi := range a.Groups[gi].Bidders {
			b := &a.Groups[gi].Bidders[bi]
			if b.TokensReturned {
				continue
			}
			items = append(items, RefundItem{GroupIndex: gi, BidderIndex: bi, BidderID: b.BidderID, Amount: b.BidAmount})
		}
	}
	return items
}

// MarkRefunded flags one losing-group bidder as repaid and cascades the
// group and auction completion flags. Refunding the winner group is a hard
// error: its escrow is the beneficiary's stake.
func (a *Auction) MarkRefunded(groupIndex, bidderIndex int) error {
	if groupIndex < 0 || groupIndex >= len(a.Groups) {
		return fmt.Errorf("%w: auction %s has no group %d", ErrNotFound, a.ID, groupIndex)
	}
	if !a.losingGroup(groupIndex) {
		return fmt.Errorf("%w: group %d won auction %s and is not refundable", ErrInvalidState, groupIndex, a.ID)
	}
	g := &a.Groups[groupIndex]
	if bidderIndex < 0 || bidderIndex >= len(g.Bidders) {
		return fmt.Errorf("%w: group %d has no bidder %d", ErrNotFound, groupIndex, bidderIndex)
	}
	g.Bidders[bidderIndex].TokensReturned = true
	a.SyncRefundFlags()
	return nil
}

// SyncRefundFlags recomputes the group-level and auction-level refund flags
// from bidder state and reports whether every losing group is fully drained.
func (a *Auction) SyncRefundFlags() bool {
	done := true
	for gi := range a.Groups {
		if !a.losingGroup(gi) {
			continue
		}
		g := &a.Groups[gi]
		if g.allReturned() {
			g.TokensReturned = true
		} else {
			done = false
		}
	}
	if done && a.Refundable() {
		a.SentToLosingGroups = true
	}
	return a.SentToLosingGroups
}

// BeneficiaryAmount is the winner group's raise minus the platform tax,
// rounded down. The tax remainder stays on the system account.
func (a *Auction) BeneficiaryAmount() (int64, error) {
	if a.WinnerGroupIndex == NoWinnerIndex || a.WinnerGroupIndex >= len(a.Groups) {
		return 0, fmt.Errorf("%w: no winner fixed for auction %s", ErrInvalidState, a.ID)
	}
	raised := a.Groups[a.WinnerGroupIndex].AmountRaised
	tax := ProRataShare(a.PlatformTaxPercent, raised, 100)
	return raised - tax, nil
}

// MarkBeneficiaryFunded records the borrower payout and starts the wait for
// the invoice payment.
func (a *Auction) MarkBeneficiaryFunded() error {
	if a.Status != AuctionClosed {
		return fmt.Errorf("%w: auction %s is %s, expected %s", ErrInvalidState, a.ID, a.Status, AuctionClosed)
	}
	a.SentToBeneficiary = true
	a.Status = AuctionWaitingForInvoicePayment
	return nil
}

// RecordPayment applies the invoice payment: the amount must cover the
// invoice in full, anything less fails without touching the record. Minting
// the paid amount into the system account is the caller's job.
func (a *Auction) RecordPayment(paidAmount int64) error {
	if a.Status != AuctionWaitingForInvoicePayment {
		return fmt.Errorf("%w: auction %s is %s, expected %s", ErrInvalidState, a.ID, a.Status, AuctionWaitingForInvoicePayment)
	}
	if paidAmount < a.InvoiceAmount {
		return fmt.Errorf("%w: paid %d of %d for auction %s", ErrPaymentTooLow, paidAmount, a.InvoiceAmount, a.ID)
	}
	a.PaidAmount = paidAmount
	a.Status = AuctionPaymentReceived
	return nil
}

// PendingPayouts lists winner-group bidders not yet paid, each with its
// floor-divided proportional share of the paid amount. The aggregate
// shortfall against PaidAmount (at most one minimal unit per bidder beyond
// the first) stays on the system account.
func (a *Auction) PendingPayouts() []PayoutItem {
	if a.Status != AuctionPaymentReceived || a.SentToWinnerGroup {
		return nil
	}
	if a.WinnerGroupIndex == NoWinnerIndex || a.WinnerGroupIndex >= len(a.Groups) {
		return nil
	}
	g := &a.Groups[a.WinnerGroupIndex]
	var items []PayoutItem
	for bi := range g.Bidders {
		b := &g.Bidders[bi]
		if b.TokensReturned {
			continue
		}
		items = append(items, PayoutItem{
			BidderIndex: bi,
			BidderID:    b.BidderID,
			Amount:      ProRataShare(b.BidAmount, a.PaidAmount, g.AmountRaised),
		})
	}
	return items
}

// MarkPaidOut flags one winner-group bidder as paid. Once the whole group is
// paid the auction completes.
func (a *Auction) MarkPaidOut(bidderIndex int) error {
	if a.WinnerGroupIndex == NoWinnerIndex || a.WinnerGroupIndex >= len(a.Groups) {
		return fmt.Errorf("%w: no winner fixed for auction %s", ErrInvalidState, a.ID)
	}
	g := &a.Groups[a.WinnerGroupIndex]
	if bidderIndex < 0 || bidderIndex >= len(g.Bidders) {
		return fmt.Errorf("%w: winner group has no bidder %d", ErrNotFound, bidderIndex)
	}
	g.Bidders[bidderIndex].TokensReturned = true
	if g.allReturned() {
		g.TokensReturned = true
		a.SentToWinnerGroup = true
		a.Status = AuctionCompleted
	}
	return nil
}
