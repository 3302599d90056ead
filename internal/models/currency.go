package models

import "time"

// Currency binds a ledger symbol to the external token handle it settles
// against. Rows are insert-only; a symbol can never be rebound.
type Currency struct {
	Symbol    string    `json:"symbol" db:"symbol"`
	Handle    string    `json:"handle" db:"handle"`
	Decimals  int       `json:"decimals" db:"decimals"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
