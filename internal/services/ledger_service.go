package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/clickwallet/backend/internal/models"
)

// LedgerService executes balance movements. Every movement debits/credits the
// accounts table and appends exactly one transactions row in the same SQL
// transaction, so balances and the ledger can never drift apart: peer
// transfers are balance-neutral and the sum of all balances always equals the
// sum of system-originated credits.
type LedgerService struct {
	db       *sql.DB
	accounts *AccountService
}

func NewLedgerService(db *sql.DB, accounts *AccountService) *LedgerService {
	return &LedgerService{db: db, accounts: accounts}
}

// TransferResult reports a committed transfer.
type TransferResult struct {
	NewBalance int64
	Recipient  *models.Account
}

// ResolveRecipient maps a recipient reference (numeric id, or handle with an
// optional leading @) to an account, rejecting self-transfers.
func (s *LedgerService) ResolveRecipient(ctx context.Context, senderID int64, ref string) (*models.Account, error) {
	ref = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(ref), "@"))
	if ref == "" {
		return nil, ErrRecipientNotFound
	}

	var recipient *models.Account
	var err error
	if id, convErr := strconv.ParseInt(ref, 10, 64); convErr == nil {
		recipient, err = s.accounts.GetByID(ctx, id)
	} else {
		recipient, err = s.accounts.GetByUsername(ctx, ref)
	}
	if err == ErrAccountNotFound {
		return nil, ErrRecipientNotFound
	}
	if err != nil {
		return nil, err
	}
	if recipient.UserID == senderID {
		return nil, ErrSelfTransfer
	}
	return recipient, nil
}

// Transfer atomically moves amount from the sender to the resolved recipient
// and appends one transfer ledger entry. Both balance changes and the entry
// commit together or not at all. Row locks are taken in ascending user-id
// order so two opposite-direction transfers cannot deadlock.
//
// Notifying the recipient is the caller's concern, after commit, off the
// request path.
func (s *LedgerService) Transfer(ctx context.Context, senderID int64, recipientRef string, amount int64, note string) (*TransferResult, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	recipient, err := s.ResolveRecipient(ctx, senderID, recipientRef)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transfer: %w", err)
	}
	defer tx.Rollback()

	firstID, secondID := senderID, recipient.UserID
	if firstID > secondID {
		firstID, secondID = secondID, firstID
	}

	first, err := s.lockAccount(ctx, tx, firstID)
	if err != nil {
		return nil, s.missingAccountError(err, firstID, senderID)
	}
	second, err := s.lockAccount(ctx, tx, secondID)
	if err != nil {
		return nil, s.missingAccountError(err, secondID, senderID)
	}

	sender, receiver := first, second
	if sender.UserID != senderID {
		sender, receiver = second, first
	}

	if sender.Balance < amount {
		return nil, ErrInsufficientFunds
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE accounts SET balance = balance - $1 WHERE user_id = $2`, amount, sender.UserID); err != nil {
		return nil, fmt.Errorf("debit sender: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE accounts SET balance = balance + $1 WHERE user_id = $2`, amount, receiver.UserID); err != nil {
		return nil, fmt.Errorf("credit recipient: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO transactions (from_user_id, to_user_id, amount, type, description)
		VALUES ($1, $2, $3, $4, $5)`,
		sender.UserID, receiver.UserID, amount, models.KindTransfer, note); err != nil {
		return nil, fmt.Errorf("append transfer entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transfer: %w", err)
	}

	receiver.Balance += amount
	log.Printf("[LEDGER] Transfer %d -> %d amount %d committed", sender.UserID, receiver.UserID, amount)
	return &TransferResult{NewBalance: sender.Balance - amount, Recipient: receiver}, nil
}

// Credit applies a system-originated credit (click, bonus, auto-credit) to an
// account and appends the matching ledger entry in one transaction. No
// sender-side checks apply. Returns the new balance.
func (s *LedgerService) Credit(ctx context.Context, userID, amount int64, kind, note string) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin credit: %w", err)
	}
	defer tx.Rollback()

	account, err := s.lockAccount(ctx, tx, userID)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, ErrAccountNotFound
		}
		return 0, fmt.Errorf("lock account %d: %w", userID, err)
	}

	newBalance := account.Balance + amount
	if _, err := tx.ExecContext(ctx,
		`UPDATE accounts SET balance = balance + $1 WHERE user_id = $2`, amount, userID); err != nil {
		return 0, fmt.Errorf("credit account: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO transactions (from_user_id, to_user_id, amount, type, description)
		VALUES ($1, $2, $3, $4, $5)`,
		models.SystemUserID, userID, amount, kind, note); err != nil {
		return 0, fmt.Errorf("append credit entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit credit: %w", err)
	}
	return newBalance, nil
}

func (s *LedgerService) lockAccount(ctx context.Context, tx *sql.Tx, userID int64) (*models.Account, error) {
	var account models.Account
	err := tx.QueryRowContext(ctx, `
		SELECT user_id, COALESCE(username, ''), first_name, balance
		FROM accounts WHERE user_id = $1 FOR UPDATE`, userID,
	).Scan(&account.UserID, &account.Username, &account.FirstName, &account.Balance)
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (s *LedgerService) missingAccountError(err error, lockedID, senderID int64) error {
	if err == sql.ErrNoRows {
		if lockedID == senderID {
			return ErrSenderNotFound
		}
		return ErrRecipientNotFound
	}
	return fmt.Errorf("lock account %d: %w", lockedID, err)
}

// ListTransactions returns one page of an account's history, newest first
// (created_at descending, ties broken by id descending, matching insertion
// order). has_more is a heuristic: it is true iff the page came back exactly
// full, so a limit-aligned history reports one final empty page instead of
// running an exact existence check.
func (s *LedgerService) ListTransactions(ctx context.Context, userID int64, page, limit int) ([]models.TransactionView, bool, error) {
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * limit

	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.from_user_id, t.to_user_id, t.amount, t.type,
		       COALESCE(t.description, ''), t.created_at,
		       COALESCE(o.user_id, 0), COALESCE(o.username, ''), COALESCE(o.first_name, '')
		FROM transactions t
		LEFT JOIN accounts o
		  ON o.user_id = CASE WHEN t.from_user_id = $1 THEN t.to_user_id ELSE t.from_user_id END
		WHERE t.from_user_id = $1 OR t.to_user_id = $1
		ORDER BY t.created_at DESC, t.id DESC
		LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	views := []models.TransactionView{}
	for rows.Next() {
		var entry models.LedgerEntry
		var other models.UserRef
		err := rows.Scan(&entry.ID, &entry.FromUserID, &entry.ToUserID, &entry.Amount,
			&entry.Kind, &entry.Description, &entry.CreatedAt,
			&other.ID, &other.Username, &other.FirstName)
		if err != nil {
			return nil, false, err
		}
		views = append(views, classifyEntry(userID, entry, other))
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}

	return views, len(views) == limit, nil
}

// CountForUser returns how many ledger entries mention the account.
func (s *LedgerService) CountForUser(ctx context.Context, userID int64) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transactions WHERE from_user_id = $1 OR to_user_id = $1`,
		userID).Scan(&count)
	return count, err
}

func classifyEntry(userID int64, entry models.LedgerEntry, other models.UserRef) models.TransactionView {
	view := models.TransactionView{
		ID:          entry.ID,
		Type:        models.DirectionSystem,
		Amount:      entry.Amount,
		Description: entry.Description,
		CreatedAt:   entry.CreatedAt,
		OtherUser:   other,
	}

	switch {
	case entry.FromUserID == userID && entry.ToUserID != userID:
		view.Type = models.DirectionOutgoing
		view.AmountDisplay = fmt.Sprintf("-%d", entry.Amount)
	case entry.ToUserID == userID && entry.FromUserID != userID:
		view.Type = models.DirectionIncoming
		view.AmountDisplay = fmt.Sprintf("+%d", entry.Amount)
	default:
		view.AmountDisplay = fmt.Sprintf("+%d", entry.Amount)
	}

	if view.OtherUser.ID == models.SystemUserID {
		view.OtherUser = models.UserRef{ID: models.SystemUserID, Username: "system", FirstName: "System"}
	}
	return view
}
