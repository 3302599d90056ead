// Package token bridges ledger custody operations onto external
// currency tokens. The ledger is the source of truth for internal
// balances; this package only mirrors mints, burns and outbound
// transfers onto the token side and consumes inbound deposit
// notifications.
package token

// TransferNotification is the inbound leg of an external transfer:
// tokens arrived at a custody address carrying the internal account
// they should be credited to.
type TransferNotification struct {
	FromAddress       string `json:"fromAddress" validate:"required"`
	Amount            int64  `json:"amount" validate:"required,gt=0"`
	EmbeddedAccountID string `json:"embeddedAccountId" validate:"required"`
}

// Service exposes the per-currency token operations the platform
// relies on. Implementations are keyed by the token handle the
// currency registry binds to each symbol.
type Service interface {
	Mint(handle string, amount int64) error
	Destroy(handle string, amount int64) error
	Transfer(handle string, to string, amount int64) error
}

// ReleaseResult reports what a released deposit actually held.
type ReleaseResult struct {
	DepositedAmount int64 `json:"depositedAmount"`
	ReceivedAmount  int64 `json:"receivedAmount"`
}

// DepositManager custodies client deposits on the token side.
type DepositManager interface {
	CreateDepositTarget(clientID string) (string, error)
	Deposit(clientID string, tokenHandle string, currency string, depositAmount int64, receiveAmount int64) (int, error)
	ReleaseDeposit(clientID string, tokenHandle string, currency string, receiverAddress string, depositIndex int) (ReleaseResult, error)
}
