package models

import "errors"

// Every mutating operation either fully applies or fails with one of these
// kinds and no side effects. Callers match with errors.Is.
var (
	ErrAuthorization       = errors.New("caller not authorized")
	ErrUnknownCurrency     = errors.New("unknown currency")
	ErrDuplicateCurrency   = errors.New("currency already registered")
	ErrInvalidState        = errors.New("invalid auction state")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrArithmeticOverflow  = errors.New("arithmetic overflow")
	ErrNotFound            = errors.New("not found")
	ErrDuplicateAction     = errors.New("action already applied")
	ErrPaymentTooLow       = errors.New("payment below invoice amount")
)
