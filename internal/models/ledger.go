package models

import (
	"math"
	"math/big"
	"time"
)

// Entry types recorded on the ledger audit trail.
const (
	EntryDebit   = "DEBIT"
	EntryCredit  = "CREDIT"
	EntryMint    = "MINT"
	EntryDestroy = "DESTROY"
)

// Balance is one (currency, account) ledger row. Balances are minimal units
// and never negative; every debit is preceded by a balance check.
type Balance struct {
	Currency  string    `json:"currency" db:"currency"`
	AccountID string    `json:"account_id" db:"account_id"`
	Balance   int64     `json:"balance" db:"balance"`
	Version   int       `json:"version" db:"version"` // for optimistic locking
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// LedgerEntry is one leg of a ledger mutation, retained as an audit trail
// with the running balance after the leg applied.
type LedgerEntry struct {
	ID        int64     `json:"id" db:"id"`
	EventID   string    `json:"event_id" db:"event_id"`
	Currency  string    `json:"currency" db:"currency"`
	AccountID string    `json:"account_id" db:"account_id"`
	Amount    int64     `json:"amount" db:"amount"` // in minimal units
	EntryType string    `json:"entry_type" db:"entry_type"`
	Balance   int64     `json:"balance" db:"balance"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// SafeAdd adds two non-negative amounts, failing with ErrArithmeticOverflow
// instead of wrapping.
func SafeAdd(a, b int64) (int64, error) {
	if a > math.MaxInt64-b {
		return 0, ErrArithmeticOverflow
	}
	return a + b, nil
}

// ProRataShare computes floor(bid * paid / raised). The multiplication runs
// in big.Int so the intermediate product cannot overflow; the result fits
// int64 because a bidder's share never exceeds paid.
func ProRataShare(bid, paid, raised int64) int64 {
	if raised == 0 {
		return 0
	}
	share := new(big.Int).Mul(big.NewInt(bid), big.NewInt(paid))
	share.Div(share, big.NewInt(raised))
	return share.Int64()
}
