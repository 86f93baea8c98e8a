package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// Transfer conversation states.
const (
	StateAwaitingRecipient = "awaiting_recipient"
	StateAwaitingAmount    = "awaiting_amount"
)

// TransferSession tracks a chat's in-progress transfer conversation.
type TransferSession struct {
	State         string `json:"state"`
	RecipientID   int64  `json:"recipient_id,omitempty"`
	RecipientName string `json:"recipient_name,omitempty"`
}

// SessionStore keeps per-chat transfer sessions in Redis so conversations
// survive restarts. Without Redis it degrades to an in-process map; sessions
// are short-lived enough that losing them on restart is acceptable.
type SessionStore struct {
	redis *redis.Client
	ttl   time.Duration

	mu  sync.Mutex
	mem map[int64]TransferSession
}

func NewSessionStore(redisClient *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{
		redis: redisClient,
		ttl:   ttl,
		mem:   make(map[int64]TransferSession),
	}
}

func sessionKey(chatID int64) string {
	return fmt.Sprintf("session:transfer:%d", chatID)
}

// Get returns the chat's session, or ok=false when none is active.
func (s *SessionStore) Get(ctx context.Context, chatID int64) (TransferSession, bool) {
	if s.redis == nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		sess, ok := s.mem[chatID]
		return sess, ok
	}

	payload, err := s.redis.Get(ctx, sessionKey(chatID)).Bytes()
	if err != nil {
		return TransferSession{}, false
	}
	var sess TransferSession
	if err := json.Unmarshal(payload, &sess); err != nil {
		return TransferSession{}, false
	}
	return sess, true
}

func (s *SessionStore) Set(ctx context.Context, chatID int64, sess TransferSession) error {
	if s.redis == nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.mem[chatID] = sess
		return nil
	}

	payload, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, sessionKey(chatID), payload, s.ttl).Err()
}

func (s *SessionStore) Clear(ctx context.Context, chatID int64) {
	if s.redis == nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.mem, chatID)
		return
	}
	s.redis.Del(ctx, sessionKey(chatID))
}
