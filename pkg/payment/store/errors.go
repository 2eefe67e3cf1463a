package store

import "errors"

var (
	ErrAddressNotFound    = errors.New("store: address not found")
	ErrDelegationNotFound = errors.New("store: delegation not found")
	ErrReservationNotFound = errors.New("store: reservation not found")
	ErrQuoteNotFound      = errors.New("store: fiat quote not found")
	ErrDepositNotFound    = errors.New("store: crypto deposit not found")
	ErrGaslessNotFound    = errors.New("store: gasless payment not found")
	ErrArnsNotFound       = errors.New("store: arns purchase not found")
)
