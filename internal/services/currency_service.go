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
)

// CurrencyService owns the symbol/handle registry. Registration is
// permanent; there is no update or removal path.
type CurrencyService struct {
	db        *sql.DB
	access    access.Control
	publisher events.Publisher
}

func NewCurrencyService(db *sql.DB, accessCtl access.Control, publisher events.Publisher) *CurrencyService {
	return &CurrencyService{db: db, access: accessCtl, publisher: publisher}
}

// Register binds a currency symbol to its external token handle.
// Fails when either side of the binding is already taken.
func (s *CurrencyService) Register(caller, symbol, handle string, decimals int) (*models.Currency, error) {
	if err := authorize(s.access, access.RoleGuardian, caller); err != nil {
		return nil, err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var taken int
	err = tx.QueryRow(`
		SELECT 1 FROM currencies
		WHERE symbol = $1 OR handle = $2`,
		symbol, handle).Scan(&taken)
	if err == nil {
		return nil, fmt.Errorf("%w: %s / %s", models.ErrDuplicateCurrency, symbol, handle)
	}
	if err != sql.ErrNoRows {
		return nil, err
	}

	currency := &models.Currency{
		Symbol:    symbol,
		Handle:    handle,
		Decimals:  decimals,
		CreatedAt: time.Now(),
	}

	_, err = tx.Exec(`
		INSERT INTO currencies (symbol, handle, decimals, created_at)
		VALUES ($1, $2, $3, $4)`,
		currency.Symbol, currency.Handle, currency.Decimals, currency.CreatedAt)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	logrus.Infof("[CURRENCY] Registered %s -> %s", symbol, handle)
	s.publish(events.Event{
		EventType: events.TypeCurrencyCreated,
		EventID:   uuid.New().String(),
		Currency:  symbol,
		Details:   map[string]interface{}{"handle": handle, "decimals": decimals},
	})
	return currency, nil
}

// Resolve returns the external token handle bound to a symbol.
func (s *CurrencyService) Resolve(symbol string) (string, error) {
	var handle string
	err := s.db.QueryRow(`
		SELECT handle FROM currencies WHERE symbol = $1`,
		symbol).Scan(&handle)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("%w: %s", models.ErrUnknownCurrency, symbol)
	}
	if err != nil {
		return "", err
	}
	return handle, nil
}

// SymbolOf returns the symbol a token handle is bound to.
func (s *CurrencyService) SymbolOf(handle string) (string, error) {
	var symbol string
	err := s.db.QueryRow(`
		SELECT symbol FROM currencies WHERE handle = $1`,
		handle).Scan(&symbol)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("%w: handle %s", models.ErrUnknownCurrency, handle)
	}
	if err != nil {
		return "", err
	}
	return symbol, nil
}

// Get returns the full registration for a symbol.
func (s *CurrencyService) Get(symbol string) (*models.Currency, error) {
	var c models.Currency
	err := s.db.QueryRow(`
		SELECT symbol, handle, decimals, created_at
		FROM currencies WHERE symbol = $1`,
		symbol).Scan(&c.Symbol, &c.Handle, &c.Decimals, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", models.ErrUnknownCurrency, symbol)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// List returns every registered currency.
func (s *CurrencyService) List() ([]models.Currency, error) {
	rows, err := s.db.Query(`
		SELECT symbol, handle, decimals, created_at
		FROM currencies ORDER BY symbol`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var currencies []models.Currency
	for rows.Next() {
		var c models.Currency
		if err := rows.Scan(&c.Symbol, &c.Handle, &c.Decimals, &c.CreatedAt); err != nil {
			return nil, err
		}
		currencies = append(currencies, c)
	}
	return currencies, rows.Err()
}

func (s *CurrencyService) publish(event events.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(event); err != nil {
		logrus.Errorf("[CURRENCY] Failed to publish %s event: %v", event.EventType, err)
	}
}
