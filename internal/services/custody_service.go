package services

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/crowdfactor/backend/internal/access"
	"github.com/crowdfactor/backend/internal/events"
	"github.com/crowdfactor/backend/internal/models"
	"github.com/crowdfactor/backend/internal/token"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// CustodyService carries value across the token boundary: deposits and
// withdrawals against the external custody gateway, mirrored onto the
// internal ledger. Externally numbered commands are guarded by action
// records so a re-submitted action id can never move value twice.
type CustodyService struct {
	db        *sql.DB
	access    access.Control
	ledger    *LedgerService
	currency  *CurrencyService
	tokens    token.Service
	deposits  token.DepositManager
	publisher events.Publisher
}

func NewCustodyService(db *sql.DB, accessCtl access.Control, ledger *LedgerService, currency *CurrencyService, tokens token.Service, deposits token.DepositManager, publisher events.Publisher) *CustodyService {
	return &CustodyService{
		db:        db,
		access:    accessCtl,
		ledger:    ledger,
		currency:  currency,
		tokens:    tokens,
		deposits:  deposits,
		publisher: publisher,
	}
}

// beginAction claims an action id inside the operation's transaction.
// The claim and the guarded effects commit together, so a duplicate id
// is rejected before any external call and a failed attempt releases
// the id on rollback.
func (s *CustodyService) beginAction(tx *sql.Tx, record *models.ActionRecord) error {
	result, err := tx.Exec(`
		INSERT INTO action_records (action_id, action_type, currency, amount, account_id, recipient, fee, applied, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE, $8)
		ON CONFLICT (action_id) DO NOTHING`,
		record.ActionID, record.ActionType, record.Currency, record.Amount,
		record.AccountID, record.Recipient, record.Fee, time.Now())
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: action %s", models.ErrDuplicateAction, record.ActionID)
	}
	return nil
}

// markActionApplied records the final amount and flips the applied
// flag, completing the at-most-once protocol for the action id.
func (s *CustodyService) markActionApplied(tx *sql.Tx, actionID string, amount int64) error {
	_, err := tx.Exec(`
		UPDATE action_records SET applied = TRUE, amount = $1 WHERE action_id = $2`,
		amount, actionID)
	return err
}

// Deposit confirms token custody for a client deposit and credits the
// agreed internal amount to the client: receiveAmount is minted to the
// system account and transferred on in the same transaction.
func (s *CustodyService) Deposit(caller string, req *models.DepositRequest) (int, error) {
	if err := authorize(s.access, access.RoleServer, caller); err != nil {
		return 0, err
	}
	eventID := uuid.New().String()

	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if err := s.beginAction(tx, &models.ActionRecord{
		ActionID:   req.ActionID,
		ActionType: models.ActionDeposit,
		Currency:   req.Currency,
		Amount:     req.ReceiveAmount,
		AccountID:  req.ClientID,
		Recipient:  req.TokenHandle,
	}); err != nil {
		return 0, err
	}

	depositIndex, err := s.deposits.Deposit(req.ClientID, req.TokenHandle, req.Currency, req.DepositAmount, req.ReceiveAmount)
	if err != nil {
		return 0, fmt.Errorf("custody deposit failed: %w", err)
	}

	if err := s.ledger.MintTx(tx, eventID, req.Currency, req.ReceiveAmount); err != nil {
		return 0, err
	}
	if err := s.ledger.TransferTx(tx, eventID, req.Currency, s.ledger.SystemAccount(), req.ClientID, req.ReceiveAmount); err != nil {
		return 0, err
	}
	if err := s.markActionApplied(tx, req.ActionID, req.ReceiveAmount); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}

	logrus.Infof("[CUSTODY] Deposit %s credited %d %s to %s (deposit index %d)",
		req.ActionID, req.ReceiveAmount, req.Currency, req.ClientID, depositIndex)
	s.publish(events.Event{
		EventType: events.TypeDeposit,
		EventID:   eventID,
		Currency:  req.Currency,
		AccountID: req.ClientID,
		Amount:    req.ReceiveAmount,
		Details: map[string]interface{}{
			"action_id":     req.ActionID,
			"token_handle":  req.TokenHandle,
			"deposit_index": depositIndex,
		},
	})
	return depositIndex, nil
}

// Withdraw moves internal units back out to an external address. The
// client's amount lands on the system account, amount minus fee is
// destroyed and sent on the token side, and the fee stays with the
// system.
func (s *CustodyService) Withdraw(caller string, req *models.WithdrawRequest) error {
	if err := authorize(s.access, access.RoleServer, caller); err != nil {
		return err
	}

	handle, err := s.currency.Resolve(req.Currency)
	if err != nil {
		return err
	}
	eventID := uuid.New().String()
	payout := req.Amount - req.Fee

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := s.beginAction(tx, &models.ActionRecord{
		ActionID:   req.ActionID,
		ActionType: models.ActionWithdraw,
		Currency:   req.Currency,
		Amount:     req.Amount,
		AccountID:  req.ClientID,
		Recipient:  req.ExternalAddress,
		Fee:        req.Fee,
	}); err != nil {
		return err
	}

	if err := s.ledger.TransferTx(tx, eventID, req.Currency, req.ClientID, s.ledger.SystemAccount(), req.Amount); err != nil {
		return err
	}
	if err := s.ledger.DestroyTx(tx, eventID, req.Currency, payout); err != nil {
		return err
	}
	if err := s.tokens.Transfer(handle, req.ExternalAddress, payout); err != nil {
		return fmt.Errorf("token transfer failed: %w", err)
	}
	if err := s.markActionApplied(tx, req.ActionID, req.Amount); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	logrus.Infof("[CUSTODY] Withdrawal %s sent %d %s to %s (fee %d)",
		req.ActionID, payout, req.Currency, req.ExternalAddress, req.Fee)
	s.publish(events.Event{
		EventType: events.TypeWithdrawal,
		EventID:   eventID,
		Currency:  req.Currency,
		AccountID: req.ClientID,
		Amount:    req.Amount,
		Details: map[string]interface{}{
			"action_id":        req.ActionID,
			"external_address": req.ExternalAddress,
			"fee":              req.Fee,
		},
	})
	return nil
}

// ReleaseDeposit unwinds a custody deposit: the gateway returns the
// tokens to the receiver and the internal units credited at deposit
// time are debited from the client and destroyed.
func (s *CustodyService) ReleaseDeposit(caller string, req *models.ReleaseDepositRequest) (*token.ReleaseResult, error) {
	if err := authorize(s.access, access.RoleServer, caller); err != nil {
		return nil, err
	}
	eventID := uuid.New().String()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if err := s.beginAction(tx, &models.ActionRecord{
		ActionID:   req.ActionID,
		ActionType: models.ActionReleaseDeposit,
		Currency:   req.Currency,
		AccountID:  req.ClientID,
		Recipient:  req.ReceiverAddress,
	}); err != nil {
		return nil, err
	}

	released, err := s.deposits.ReleaseDeposit(req.ClientID, req.TokenHandle, req.Currency, req.ReceiverAddress, req.DepositIndex)
	if err != nil {
		return nil, fmt.Errorf("custody release failed: %w", err)
	}

	if err := s.ledger.TransferTx(tx, eventID, req.Currency, req.ClientID, s.ledger.SystemAccount(), released.ReceivedAmount); err != nil {
		return nil, err
	}
	if err := s.ledger.DestroyTx(tx, eventID, req.Currency, released.ReceivedAmount); err != nil {
		return nil, err
	}
	if err := s.markActionApplied(tx, req.ActionID, released.ReceivedAmount); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	logrus.Infof("[CUSTODY] Released deposit %d for client %s (%d %s destroyed)",
		req.DepositIndex, req.ClientID, released.ReceivedAmount, req.Currency)
	s.publish(events.Event{
		EventType: events.TypeWithdrawal,
		EventID:   eventID,
		Currency:  req.Currency,
		AccountID: req.ClientID,
		Amount:    released.ReceivedAmount,
		Details: map[string]interface{}{
			"action_id":        req.ActionID,
			"receiver_address": req.ReceiverAddress,
			"deposit_index":    req.DepositIndex,
			"deposited_amount": released.DepositedAmount,
		},
	})
	return &released, nil
}

// CreateDepositTarget provisions a custody address for a client.
func (s *CustodyService) CreateDepositTarget(caller, clientID string) (string, error) {
	if err := authorize(s.access, access.RoleServer, caller); err != nil {
		return "", err
	}
	return s.deposits.CreateDepositTarget(clientID)
}

// InboundTransfer credits tokens that arrived at a custody address to
// the internal account embedded in the notification. The token handle
// names the currency; unbound handles are rejected.
func (s *CustodyService) InboundTransfer(caller, handle string, notification *token.TransferNotification) error {
	if err := authorize(s.access, access.RoleServer, caller); err != nil {
		return err
	}

	symbol, err := s.currency.SymbolOf(handle)
	if err != nil {
		return err
	}
	eventID := uuid.New().String()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := s.ledger.MintTx(tx, eventID, symbol, notification.Amount); err != nil {
		return err
	}
	if err := s.ledger.TransferTx(tx, eventID, symbol, s.ledger.SystemAccount(), notification.EmbeddedAccountID, notification.Amount); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	logrus.Infof("[CUSTODY] Inbound transfer of %d %s credited to %s (from %s)",
		notification.Amount, symbol, notification.EmbeddedAccountID, notification.FromAddress)
	s.publish(events.Event{
		EventType: events.TypeDeposit,
		EventID:   eventID,
		Currency:  symbol,
		AccountID: notification.EmbeddedAccountID,
		Amount:    notification.Amount,
		Details: map[string]interface{}{
			"token_handle": handle,
			"from_address": notification.FromAddress,
		},
	})
	return nil
}

func (s *CustodyService) publish(event events.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(event); err != nil {
		logrus.Errorf("[CUSTODY] Failed to publish %s event: %v", event.EventType, err)
	}
}
