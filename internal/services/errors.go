package services

import "errors"

// Expected, user-facing outcomes. Handlers map these to chat replies or JSON
// error bodies; anything not in this list is treated as an internal fault.
var (
	ErrAccountNotFound   = errors.New("account not found")
	ErrAccountExists     = errors.New("account already exists")
	ErrSenderNotFound    = errors.New("sender not found")
	ErrRecipientNotFound = errors.New("recipient not found")
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrSelfTransfer      = errors.New("cannot transfer to yourself")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrAlreadyRunning    = errors.New("auto-clicker already running")
	ErrNotRunning        = errors.New("auto-clicker not running")
	ErrUnauthorized      = errors.New("unauthorized")
)
