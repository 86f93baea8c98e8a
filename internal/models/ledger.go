package models

import "time"

// Ledger entry kinds. Direction is always encoded by from/to, never by sign.
const (
	KindBonus      = "bonus"
	KindClick      = "click"
	KindTransfer   = "transfer"
	KindAutoCredit = "auto_credit"
)

// LedgerEntry is an append-only record of a balance-affecting event.
// Entries are never updated or deleted once written.
type LedgerEntry struct {
	ID          int64     `json:"id" db:"id"`
	FromUserID  int64     `json:"from_user_id" db:"from_user_id"`
	ToUserID    int64     `json:"to_user_id" db:"to_user_id"`
	Amount      int64     `json:"amount" db:"amount"` // always positive
	Kind        string    `json:"type" db:"type"`
	Description string    `json:"description" db:"description"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// Transaction directions relative to the querying account.
const (
	DirectionOutgoing = "outgoing"
	DirectionIncoming = "incoming"
	DirectionSystem   = "system"
)

// TransactionView is a ledger entry classified relative to one account,
// with the counterparty resolved for display.
type TransactionView struct {
	ID            int64     `json:"id"`
	Type          string    `json:"type"`
	Amount        int64     `json:"amount"`
	AmountDisplay string    `json:"amount_display"`
	Description   string    `json:"description"`
	CreatedAt     time.Time `json:"created_at"`
	OtherUser     UserRef   `json:"other_user"`
}
