package services

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/clickwallet/backend/internal/config"
	"github.com/clickwallet/backend/internal/models"
)

// AccountFlags is the slice of the account store the scheduler needs.
type AccountFlags interface {
	GetByID(ctx context.Context, userID int64) (*models.Account, error)
	SetAutoClicker(ctx context.Context, userID int64, active bool) error
	ListAutoClickerActive(ctx context.Context) ([]int64, error)
}

// Creditor applies one atomic system credit.
type Creditor interface {
	Credit(ctx context.Context, userID, amount int64, kind, note string) (int64, error)
}

// CreditNotifier announces an applied auto-credit, best effort.
type CreditNotifier interface {
	AutoCredit(userID, amount, newBalance int64)
}

// AutoClickerService runs the recurring credit task, at most one per account.
// The registry map is the duplicate-start guard: a second start while a task
// is registered returns ErrAlreadyRunning instead of spawning a double-
// crediting twin. The persisted account flag is the cooperative kill switch;
// each task re-reads it every cycle and deregisters itself when it clears.
type AutoClickerService struct {
	accounts AccountFlags
	ledger   Creditor
	notifier CreditNotifier

	interval time.Duration
	amount   int64

	mu    sync.Mutex
	tasks map[int64]context.CancelFunc

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewAutoClickerService(accounts AccountFlags, ledger Creditor, notifier CreditNotifier, cfg *config.WalletConfig) *AutoClickerService {
	baseCtx, cancel := context.WithCancel(context.Background())
	return &AutoClickerService{
		accounts: accounts,
		ledger:   ledger,
		notifier: notifier,
		interval: cfg.AutoClickInterval,
		amount:   cfg.AutoClickAmount,
		tasks:    make(map[int64]context.CancelFunc),
		baseCtx:  baseCtx,
		cancel:   cancel,
	}
}

// Start enables the auto-clicker for userID. Only the account owner may start
// it; a mismatched actor is rejected before any state changes. Starting while
// a task is already registered returns ErrAlreadyRunning.
func (s *AutoClickerService) Start(ctx context.Context, actorID, userID int64) error {
	if actorID != userID {
		log.Printf("[AUTOCLICK] Rejected start for %d by actor %d", userID, actorID)
		return ErrUnauthorized
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, running := s.tasks[userID]; running {
		return ErrAlreadyRunning
	}
	if err := s.accounts.SetAutoClicker(ctx, userID, true); err != nil {
		return err
	}
	s.spawnLocked(userID)
	log.Printf("[AUTOCLICK] Started task for %d (interval %s, amount %d)", userID, s.interval, s.amount)
	return nil
}

// Stop disables the auto-clicker for userID, with the same owner-only rule.
// The flag is cleared first; the running task observes it on its next wake-up
// and the cancel shortcuts the wait. Returns ErrNotRunning when no task was
// registered (the flag is still cleared in that case).
func (s *AutoClickerService) Stop(ctx context.Context, actorID, userID int64) error {
	if actorID != userID {
		log.Printf("[AUTOCLICK] Rejected stop for %d by actor %d", userID, actorID)
		return ErrUnauthorized
	}

	if err := s.accounts.SetAutoClicker(ctx, userID, false); err != nil {
		return err
	}

	s.mu.Lock()
	cancel, running := s.tasks[userID]
	if running {
		cancel()
		delete(s.tasks, userID)
	}
	s.mu.Unlock()

	if !running {
		return ErrNotRunning
	}
	log.Printf("[AUTOCLICK] Stopped task for %d", userID)
	return nil
}

// IsRunning reports whether a task is registered for userID.
func (s *AutoClickerService) IsRunning(userID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, running := s.tasks[userID]
	return running
}

// ResumeActive restarts tasks for every account whose flag survived a process
// restart. Called once at boot.
func (s *AutoClickerService) ResumeActive(ctx context.Context) error {
	ids, err := s.accounts.ListAutoClickerActive(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if _, running := s.tasks[id]; running {
			continue
		}
		s.spawnLocked(id)
	}
	if len(ids) > 0 {
		log.Printf("[AUTOCLICK] Resumed %d task(s)", len(ids))
	}
	return nil
}

// Shutdown cancels every task and waits for them to drain. Each credit cycle
// is a single SQL transaction, so shutdown can never leave a half-applied
// credit behind.
func (s *AutoClickerService) Shutdown() {
	s.cancel()
	s.wg.Wait()
}

func (s *AutoClickerService) spawnLocked(userID int64) {
	taskCtx, cancel := context.WithCancel(s.baseCtx)
	s.tasks[userID] = cancel
	s.wg.Add(1)
	go s.run(taskCtx, userID)
}

func (s *AutoClickerService) run(ctx context.Context, userID int64) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			account, err := s.accounts.GetByID(ctx, userID)
			if err != nil || !account.AutoClickerActive {
				// Flag cleared externally or account gone: self-terminate.
				s.deregister(userID)
				return
			}

			newBalance, err := s.ledger.Credit(ctx, userID, s.amount, models.KindAutoCredit, "Auto-clicker")
			if err != nil {
				log.Printf("[AUTOCLICK] Credit for %d failed: %v", userID, err)
				continue
			}
			if s.notifier != nil {
				go s.notifier.AutoCredit(userID, s.amount, newBalance)
			}
		}
	}
}

func (s *AutoClickerService) deregister(userID int64) {
	s.mu.Lock()
	if cancel, ok := s.tasks[userID]; ok {
		cancel()
		delete(s.tasks, userID)
	}
	s.mu.Unlock()
	log.Printf("[AUTOCLICK] Task for %d self-terminated", userID)
}
