package services

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/crowdfactor/backend/internal/access"
	"github.com/crowdfactor/backend/internal/events"
	"github.com/crowdfactor/backend/internal/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// LedgerService is the single source of truth for internal balances.
// Balances are keyed by (currency, account) and never go negative;
// every mutation writes a ledger entry and emits a domain event.
type LedgerService struct {
	db            *sql.DB
	access        access.Control
	publisher     events.Publisher
	systemAccount string
}

func NewLedgerService(db *sql.DB, accessCtl access.Control, publisher events.Publisher) *LedgerService {
	systemAccount := viper.GetString("ledger.system_account")
	if systemAccount == "" {
		systemAccount = "SYSTEM"
	}
	return &LedgerService{
		db:            db,
		access:        accessCtl,
		publisher:     publisher,
		systemAccount: systemAccount,
	}
}

// SystemAccount returns the distinguished account holding escrowed
// bids and minted proceeds pending distribution.
func (s *LedgerService) SystemAccount() string {
	return s.systemAccount
}

// Mint credits the system account with newly issued units.
func (s *LedgerService) Mint(caller, currency string, amount int64) error {
	if err := authorize(s.access, access.RoleServer, caller); err != nil {
		return err
	}
	eventID := uuid.New().String()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := s.MintTx(tx, eventID, currency, amount); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	s.publish(events.Event{
		EventType: events.TypeMint,
		EventID:   eventID,
		Currency:  currency,
		AccountID: s.systemAccount,
		Amount:    amount,
	})
	return nil
}

// MintTx is the transactional form of Mint for callers composing
// larger atomic operations.
func (s *LedgerService) MintTx(tx *sql.Tx, eventID, currency string, amount int64) error {
	if err := s.checkCurrency(tx, currency); err != nil {
		return err
	}

	system, err := s.lockAccount(tx, currency, s.systemAccount)
	if err != nil {
		return err
	}

	newBalance, err := models.SafeAdd(system.Balance, amount)
	if err != nil {
		return err
	}

	if err := s.createLedgerEntry(tx, eventID, currency, s.systemAccount, amount, models.EntryMint, newBalance); err != nil {
		return err
	}

	return s.updateAccountBalance(tx, currency, s.systemAccount, newBalance, system.Version)
}

// Destroy debits the system account, removing units from circulation.
func (s *LedgerService) Destroy(caller, currency string, amount int64) error {
	if err := authorize(s.access, access.RoleServer, caller); err != nil {
		return err
	}
	eventID := uuid.New().String()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := s.DestroyTx(tx, eventID, currency, amount); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	s.publish(events.Event{
		EventType: events.TypeDestroy,
		EventID:   eventID,
		Currency:  currency,
		AccountID: s.systemAccount,
		Amount:    amount,
	})
	return nil
}

// DestroyTx is the transactional form of Destroy.
func (s *LedgerService) DestroyTx(tx *sql.Tx, eventID, currency string, amount int64) error {
	if err := s.checkCurrency(tx, currency); err != nil {
		return err
	}

	system, err := s.lockAccount(tx, currency, s.systemAccount)
	if err != nil {
		return err
	}

	if system.Balance < amount {
		return fmt.Errorf("%w: system account holds %d, destroying %d", models.ErrInsufficientBalance, system.Balance, amount)
	}

	newBalance := system.Balance - amount
	if err := s.createLedgerEntry(tx, eventID, currency, s.systemAccount, -amount, models.EntryDestroy, newBalance); err != nil {
		return err
	}

	return s.updateAccountBalance(tx, currency, s.systemAccount, newBalance, system.Version)
}

// Transfer atomically moves amount between two accounts of the same
// currency. A zero amount succeeds without touching any balance.
func (s *LedgerService) Transfer(caller, currency, from, to string, amount int64) error {
	if err := authorize(s.access, access.RoleServer, caller); err != nil {
		return err
	}
	if amount == 0 {
		return nil
	}

	eventID := uuid.New().String()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := s.TransferTx(tx, eventID, currency, from, to, amount); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	s.publish(events.Event{
		EventType: events.TypeTransfer,
		EventID:   eventID,
		Currency:  currency,
		AccountID: from,
		Amount:    amount,
		Details:   map[string]string{"to_account": to},
	})
	return nil
}

// TransferTx is the transactional form of Transfer for callers
// composing larger atomic operations.
func (s *LedgerService) TransferTx(tx *sql.Tx, eventID, currency, from, to string, amount int64) error {
	if amount == 0 {
		return nil
	}

	if err := s.checkCurrency(tx, currency); err != nil {
		return err
	}

	if from == to {
		// Self transfers move nothing but still require cover.
		account, err := s.lockAccount(tx, currency, from)
		if err != nil {
			return err
		}
		if account.Balance < amount {
			return fmt.Errorf("%w: account %s holds %d, needs %d", models.ErrInsufficientBalance, from, account.Balance, amount)
		}
		return nil
	}

	// Lock accounts in consistent order to prevent deadlocks
	firstLock, secondLock := from, to
	if from > to {
		firstLock, secondLock = to, from
	}

	fromAccount, err := s.lockAccount(tx, currency, firstLock)
	if err != nil {
		return err
	}

	toAccount, err := s.lockAccount(tx, currency, secondLock)
	if err != nil {
		return err
	}

	// Determine which locked account is sender/receiver
	if firstLock != from {
		fromAccount, toAccount = toAccount, fromAccount
	}

	if fromAccount.Balance < amount {
		return fmt.Errorf("%w: account %s holds %d, needs %d", models.ErrInsufficientBalance, from, fromAccount.Balance, amount)
	}

	toBalance, err := models.SafeAdd(toAccount.Balance, amount)
	if err != nil {
		return err
	}

	if err := s.createLedgerEntry(tx, eventID, currency, from, -amount, models.EntryDebit, fromAccount.Balance-amount); err != nil {
		return err
	}

	if err := s.createLedgerEntry(tx, eventID, currency, to, amount, models.EntryCredit, toBalance); err != nil {
		return err
	}

	if err := s.updateAccountBalance(tx, currency, from, fromAccount.Balance-amount, fromAccount.Version); err != nil {
		return err
	}

	return s.updateAccountBalance(tx, currency, to, toBalance, toAccount.Version)
}

// BalanceOf reads an account balance. Accounts that were never
// touched read as zero.
func (s *LedgerService) BalanceOf(currency, accountID string) (int64, error) {
	var balance int64
	err := s.db.QueryRow(`
		SELECT balance FROM ledger_accounts
		WHERE currency = $1 AND account_id = $2`,
		currency, accountID).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return balance, err
}

// RecentEntries lists the newest ledger entries for an account.
func (s *LedgerService) RecentEntries(currency, accountID string, limit int) ([]models.LedgerEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	rows, err := s.db.Query(`
		SELECT id, event_id, currency, account_id, amount, entry_type, balance, created_at
		FROM ledger_entries
		WHERE currency = $1 AND account_id = $2
		ORDER BY id DESC
		LIMIT $3`,
		currency, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.ID, &e.EventID, &e.Currency, &e.AccountID, &e.Amount, &e.EntryType, &e.Balance, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *LedgerService) checkCurrency(tx *sql.Tx, symbol string) error {
	var one int
	err := tx.QueryRow(`SELECT 1 FROM currencies WHERE symbol = $1`, symbol).Scan(&one)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: %s", models.ErrUnknownCurrency, symbol)
	}
	return err
}

func (s *LedgerService) lockAccount(tx *sql.Tx, currency, accountID string) (*models.Balance, error) {
	// Accounts come into existence on first touch with a zero balance.
	if _, err := tx.Exec(`
		INSERT INTO ledger_accounts (currency, account_id, balance, version, updated_at)
		VALUES ($1, $2, 0, 0, $3)
		ON CONFLICT (currency, account_id) DO NOTHING`,
		currency, accountID, time.Now()); err != nil {
		return nil, err
	}

	var account models.Balance
	err := tx.QueryRow(`
		SELECT currency, account_id, balance, version, updated_at
		FROM ledger_accounts
		WHERE currency = $1 AND account_id = $2
		FOR UPDATE`, currency, accountID).Scan(&account.Currency, &account.AccountID, &account.Balance, &account.Version, &account.UpdatedAt)

	return &account, err
}

func (s *LedgerService) createLedgerEntry(tx *sql.Tx, eventID, currency, accountID string, amount int64, entryType string, balance int64) error {
	_, err := tx.Exec(`
		INSERT INTO ledger_entries (event_id, currency, account_id, amount, entry_type, balance, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		eventID, currency, accountID, amount, entryType, balance, time.Now())
	return err
}

func (s *LedgerService) updateAccountBalance(tx *sql.Tx, currency, accountID string, newBalance int64, version int) error {
	result, err := tx.Exec(`
		UPDATE ledger_accounts
		SET balance = $1, version = version + 1, updated_at = $2
		WHERE currency = $3 AND account_id = $4 AND version = $5`,
		newBalance, time.Now(), currency, accountID, version)

	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return fmt.Errorf("optimistic lock failed for account %s", accountID)
	}

	return nil
}

func (s *LedgerService) publish(event events.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(event); err != nil {
		logrus.Errorf("[LEDGER] Failed to publish %s event: %v", event.EventType, err)
	}
}
