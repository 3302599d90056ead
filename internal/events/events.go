// Package events defines the domain events the platform emits on
// every value movement and auction milestone, and the publishers that
// carry them to the audit stream.
package events

import "time"

// Event types published on the audit stream.
const (
	TypeCurrencyCreated   = "CURRENCY_CREATED"
	TypeMint              = "MINT"
	TypeDestroy           = "DESTROY"
	TypeTransfer          = "TRANSFER"
	TypeWithdrawal        = "WITHDRAWAL"
	TypeDeposit           = "DEPOSIT"
	TypeAuctionCreated    = "AUCTION_CREATED"
	TypeBeneficiaryFunded = "BENEFICIARY_FUNDED"
	TypeLoserRefunded     = "LOSER_REFUNDED"
	TypePaymentReceived   = "PAYMENT_RECEIVED"
	TypeWinnerFunded      = "WINNER_FUNDED"
)

// Event is the envelope every emitted domain event shares. EventID
// ties the event back to the ledger entries written in the same
// operation.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	EventType string    `json:"event_type"`
	EventID   string    `json:"event_id"`
	Currency  string    `json:"currency,omitempty"`
	AuctionID string    `json:"auction_id,omitempty"`
	AccountID string    `json:"account_id,omitempty"`
	Amount    int64     `json:"amount,omitempty"`
	Details   any       `json:"details,omitempty"`
}
