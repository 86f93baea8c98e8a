package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"github.com/clickwallet/backend/internal/config"
	"github.com/clickwallet/backend/internal/models"
	"github.com/lib/pq"
)

// AccountService owns the accounts table. Every mutation it performs is
// journaled to the transactions table inside the same SQL transaction; the
// store never changes a balance without the matching ledger row.
type AccountService struct {
	db  *sql.DB
	cfg *config.WalletConfig
}

func NewAccountService(db *sql.DB, cfg *config.WalletConfig) *AccountService {
	return &AccountService{db: db, cfg: cfg}
}

const accountColumns = `user_id, COALESCE(username, ''), first_name, balance, auto_clicker_active, registered_at`

func scanAccount(row *sql.Row) (*models.Account, error) {
	var account models.Account
	err := row.Scan(&account.UserID, &account.Username, &account.FirstName,
		&account.Balance, &account.AutoClickerActive, &account.RegisteredAt)
	if err == sql.ErrNoRows {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// GetByID loads an account by its platform-assigned id.
func (s *AccountService) GetByID(ctx context.Context, userID int64) (*models.Account, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE user_id = $1`, userID)
	return scanAccount(row)
}

// GetByUsername loads an account by handle. The handle is stored without the
// leading marker.
func (s *AccountService) GetByUsername(ctx context.Context, username string) (*models.Account, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE username = $1`, username)
	return scanAccount(row)
}

// Create registers a new account seeded with the welcome bonus. The account
// row and its bonus ledger entry commit together. Returns ErrAccountExists if
// the id is already registered.
func (s *AccountService) Create(ctx context.Context, userID int64, username, firstName string) (*models.Account, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin create account: %w", err)
	}
	defer tx.Rollback()

	var account models.Account
	err = tx.QueryRowContext(ctx, `
		INSERT INTO accounts (user_id, username, first_name, balance)
		VALUES ($1, NULLIF($2, ''), $3, $4)
		RETURNING `+accountColumns,
		userID, username, firstName, s.cfg.WelcomeBonus,
	).Scan(&account.UserID, &account.Username, &account.FirstName,
		&account.Balance, &account.AutoClickerActive, &account.RegisteredAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code.Name() == "unique_violation" {
			return nil, ErrAccountExists
		}
		return nil, fmt.Errorf("insert account: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO transactions (from_user_id, to_user_id, amount, type, description)
		VALUES ($1, $2, $3, $4, $5)`,
		models.SystemUserID, userID, s.cfg.WelcomeBonus, models.KindBonus, "Welcome bonus")
	if err != nil {
		return nil, fmt.Errorf("insert bonus entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit create account: %w", err)
	}

	log.Printf("[ACCOUNT] Registered account %d (%s) with welcome bonus %d", userID, firstName, s.cfg.WelcomeBonus)
	return &account, nil
}

// GetOrCreate registers the account on first contact from either the chat or
// the web path. The second return value reports whether a new account was
// created.
func (s *AccountService) GetOrCreate(ctx context.Context, userID int64, username, firstName string) (*models.Account, bool, error) {
	account, err := s.GetByID(ctx, userID)
	if err == nil {
		return account, false, nil
	}
	if err != ErrAccountNotFound {
		return nil, false, err
	}

	account, err = s.Create(ctx, userID, username, firstName)
	if err == ErrAccountExists {
		// Lost the race to a concurrent first contact.
		account, err = s.GetByID(ctx, userID)
		return account, false, err
	}
	if err != nil {
		return nil, false, err
	}
	return account, true, nil
}

// SetAutoClicker persists the auto-clicker flag. The flag gates the scheduler
// task lifecycle; the running task re-checks it every cycle.
func (s *AccountService) SetAutoClicker(ctx context.Context, userID int64, active bool) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET auto_clicker_active = $1 WHERE user_id = $2`, active, userID)
	if err != nil {
		return fmt.Errorf("update auto-clicker flag: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// ListAutoClickerActive returns the ids of accounts whose auto-clicker flag
// survived a restart, so the scheduler can resume their tasks.
func (s *AccountService) ListAutoClickerActive(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM accounts WHERE auto_clicker_active = TRUE`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
