package models

import "time"

// SystemUserID is the sentinel identity for credits that do not originate
// from a peer account (welcome bonus, clicks, auto-credit).
const SystemUserID int64 = 0

// Account is a user's wallet record, keyed by the Telegram-assigned user id.
type Account struct {
	UserID            int64     `json:"id" db:"user_id"`
	Username          string    `json:"username" db:"username"` // empty when the user has no handle
	FirstName         string    `json:"first_name" db:"first_name"`
	Balance           int64     `json:"balance" db:"balance"`
	AutoClickerActive bool      `json:"auto_clicker_active" db:"auto_clicker_active"`
	RegisteredAt      time.Time `json:"registered_at" db:"registered_at"`
}

// UserRef is the public slice of an account embedded in API responses.
type UserRef struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
}

func (a *Account) Ref() UserRef {
	return UserRef{ID: a.UserID, Username: a.Username, FirstName: a.FirstName}
}
