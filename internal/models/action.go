package models

import "time"

// Action types recorded against externally numbered custody commands.
const (
	ActionDeposit        = "DEPOSIT"
	ActionWithdraw       = "WITHDRAW"
	ActionReleaseDeposit = "RELEASE_DEPOSIT"
)

// ActionRecord is the at-most-once guard for custody operations driven by an
// external numbering scheme. Re-submitting an applied action id fails with
// ErrDuplicateAction instead of moving value twice.
type ActionRecord struct {
	ActionID   string    `json:"action_id" db:"action_id"`
	ActionType string    `json:"action_type" db:"action_type"`
	Currency   string    `json:"currency" db:"currency"`
	Amount     int64     `json:"amount" db:"amount"`
	AccountID  string    `json:"account_id" db:"account_id"`
	Recipient  string    `json:"recipient" db:"recipient"`
	Fee        int64     `json:"fee" db:"fee"`
	Applied    bool      `json:"applied" db:"applied"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}
