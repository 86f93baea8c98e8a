package bot

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"

	"github.com/clickwallet/backend/internal/config"
	"github.com/clickwallet/backend/internal/models"
	"github.com/clickwallet/backend/internal/services"
	"github.com/clickwallet/backend/internal/telegram"
)

const (
	selectAccountPattern = `SELECT user_id, COALESCE\(username, ''\), first_name, balance, auto_clicker_active, registered_at FROM accounts WHERE user_id = \$1`
	selectByNamePattern  = `SELECT user_id, COALESCE\(username, ''\), first_name, balance, auto_clicker_active, registered_at FROM accounts WHERE username = \$1`
	lockAccountPattern   = `SELECT user_id, COALESCE\(username, ''\), first_name, balance FROM accounts WHERE user_id = \$1 FOR UPDATE`
	insertAccountPattern = `INSERT INTO accounts \(user_id, username, first_name, balance\)`
	insertEntryPattern   = `INSERT INTO transactions \(from_user_id, to_user_id, amount, type, description\)`
)

// apiRecorder captures outbound Bot API calls made through a stubbed server.
type apiRecorder struct {
	mu    sync.Mutex
	calls []apiCall
}

type apiCall struct {
	Method  string
	Payload map[string]any
}

func (r *apiRecorder) record(method string, payload map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, apiCall{Method: method, Payload: payload})
}

func (r *apiRecorder) byMethod(method string) []apiCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []apiCall
	for _, c := range r.calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func (r *apiRecorder) lastText() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.calls) - 1; i >= 0; i-- {
		if r.calls[i].Method == "sendMessage" {
			text, _ := r.calls[i].Payload["text"].(string)
			return text
		}
	}
	return ""
}

type botFixture struct {
	handler  *Handler
	mock     sqlmock.Sqlmock
	recorder *apiRecorder
	clicker  *services.AutoClickerService
}

func newBotFixture(t *testing.T) (*botFixture, func()) {
	t.Helper()
	viper.Set("bot.webhook_secret", "hook-secret")

	recorder := &apiRecorder{}
	apiServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(r.URL.Path, "/")
		var payload map[string]any
		json.NewDecoder(r.Body).Decode(&payload)
		recorder.record(parts[len(parts)-1], payload)
		json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))

	db, mock, err := sqlmock.New()
	assert.NoError(t, err)

	cfg := &config.WalletConfig{
		WelcomeBonus:       1000,
		ClickReward:        10,
		AutoClickAmount:    10,
		AutoClickInterval:  time.Hour,
		TransferSessionTTL: time.Minute,
		MiniAppURL:         "https://wallet.example/webapp",
	}

	client := telegram.NewClient("test-token", time.Second)
	client.BaseURL = apiServer.URL
	notifier := telegram.NewNotifier(client)

	accounts := services.NewAccountService(db, cfg)
	ledger := services.NewLedgerService(db, accounts)
	clicker := services.NewAutoClickerService(accounts, ledger, notifier, cfg)
	sessions := NewSessionStore(nil, cfg.TransferSessionTTL)

	handler := NewHandler(accounts, ledger, clicker, sessions, client, notifier, nil, cfg)

	fixture := &botFixture{handler: handler, mock: mock, recorder: recorder, clicker: clicker}
	return fixture, func() {
		clicker.Shutdown()
		apiServer.Close()
		db.Close()
	}
}

func (f *botFixture) deliver(t *testing.T, update telegram.Update) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(update)
	assert.NoError(t, err)

	req := httptest.NewRequest("POST", "/webhook/telegram", bytes.NewReader(body))
	req.Header.Set("X-Telegram-Bot-Api-Secret-Token", "hook-secret")
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

func messageUpdate(userID, chatID int64, text string) telegram.Update {
	return telegram.Update{
		UpdateID: 1,
		Message: &telegram.Message{
			MessageID: 100,
			From:      &telegram.User{ID: userID, Username: "alice", FirstName: "Alice"},
			Chat:      telegram.Chat{ID: chatID},
			Text:      text,
		},
	}
}

func accountRow(userID int64, username, firstName string, balance int64) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"user_id", "username", "first_name", "balance", "auto_clicker_active", "registered_at"}).
		AddRow(userID, username, firstName, balance, false, time.Now())
}

func lockedRow(userID int64, username, firstName string, balance int64) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"user_id", "username", "first_name", "balance"}).
		AddRow(userID, username, firstName, balance)
}

func TestHandler_WebhookSecret(t *testing.T) {
	fixture, closeFixture := newBotFixture(t)
	defer closeFixture()

	body, _ := json.Marshal(messageUpdate(1, 1, "hi"))
	req := httptest.NewRequest("POST", "/webhook/telegram", bytes.NewReader(body))
	req.Header.Set("X-Telegram-Bot-Api-Secret-Token", "wrong")
	w := httptest.NewRecorder()
	fixture.handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, fixture.recorder.byMethod("sendMessage"))
}

func TestHandler_Start(t *testing.T) {
	t.Run("registers new user with welcome bonus", func(t *testing.T) {
		fixture, closeFixture := newBotFixture(t)
		defer closeFixture()

		fixture.mock.ExpectQuery(selectAccountPattern).
			WithArgs(int64(1)).
			WillReturnError(sql.ErrNoRows)
		fixture.mock.ExpectBegin()
		fixture.mock.ExpectQuery(insertAccountPattern).
			WithArgs(int64(1), "alice", "Alice", int64(1000)).
			WillReturnRows(accountRow(1, "alice", "Alice", 1000))
		fixture.mock.ExpectExec(insertEntryPattern).
			WithArgs(int64(models.SystemUserID), int64(1), int64(1000), models.KindBonus, "Welcome bonus").
			WillReturnResult(sqlmock.NewResult(1, 1))
		fixture.mock.ExpectCommit()

		w := fixture.deliver(t, messageUpdate(1, 1, "/start"))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, fixture.recorder.lastText(), "1000 welcome bonus")
		assert.NoError(t, fixture.mock.ExpectationsWereMet())
	})

	t.Run("greets a returning user", func(t *testing.T) {
		fixture, closeFixture := newBotFixture(t)
		defer closeFixture()

		fixture.mock.ExpectQuery(selectAccountPattern).
			WithArgs(int64(1)).
			WillReturnRows(accountRow(1, "alice", "Alice", 700))

		fixture.deliver(t, messageUpdate(1, 1, "/start"))
		assert.Contains(t, fixture.recorder.lastText(), "Welcome back")
	})
}

func TestHandler_Click(t *testing.T) {
	fixture, closeFixture := newBotFixture(t)
	defer closeFixture()

	fixture.mock.ExpectBegin()
	fixture.mock.ExpectQuery(lockAccountPattern).
		WithArgs(int64(1)).
		WillReturnRows(lockedRow(1, "alice", "Alice", 1000))
	fixture.mock.ExpectExec(`UPDATE accounts SET balance = balance \+ \$1 WHERE user_id = \$2`).
		WithArgs(int64(10), int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	fixture.mock.ExpectExec(insertEntryPattern).
		WithArgs(int64(models.SystemUserID), int64(1), int64(10), models.KindClick, "Click").
		WillReturnResult(sqlmock.NewResult(1, 1))
	fixture.mock.ExpectCommit()

	fixture.deliver(t, messageUpdate(1, 1, "🖱 Click +10"))

	text := fixture.recorder.lastText()
	assert.Contains(t, text, "+10")
	assert.Contains(t, text, "1010")
	assert.NoError(t, fixture.mock.ExpectationsWereMet())
}

func TestHandler_TransferConversation(t *testing.T) {
	fixture, closeFixture := newBotFixture(t)
	defer closeFixture()

	// Step 1: the transfer button opens the conversation.
	fixture.deliver(t, messageUpdate(1, 1, "💸 Transfer"))
	assert.Contains(t, fixture.recorder.lastText(), "recipient")

	// Step 2: recipient by handle.
	fixture.mock.ExpectQuery(selectByNamePattern).
		WithArgs("bob").
		WillReturnRows(accountRow(2, "bob", "Bob", 500))

	fixture.deliver(t, messageUpdate(1, 1, "@bob"))
	assert.Contains(t, fixture.recorder.lastText(), "Recipient: Bob")

	// Step 3: the amount completes the transfer.
	fixture.mock.ExpectQuery(selectAccountPattern).
		WithArgs(int64(2)).
		WillReturnRows(accountRow(2, "bob", "Bob", 500))
	fixture.mock.ExpectBegin()
	fixture.mock.ExpectQuery(lockAccountPattern).
		WithArgs(int64(1)).
		WillReturnRows(lockedRow(1, "alice", "Alice", 1000))
	fixture.mock.ExpectQuery(lockAccountPattern).
		WithArgs(int64(2)).
		WillReturnRows(lockedRow(2, "bob", "Bob", 500))
	fixture.mock.ExpectExec(`UPDATE accounts SET balance = balance - \$1 WHERE user_id = \$2`).
		WithArgs(int64(300), int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	fixture.mock.ExpectExec(`UPDATE accounts SET balance = balance \+ \$1 WHERE user_id = \$2`).
		WithArgs(int64(300), int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	fixture.mock.ExpectExec(insertEntryPattern).
		WithArgs(int64(1), int64(2), int64(300), models.KindTransfer, "Transfer to Bob").
		WillReturnResult(sqlmock.NewResult(1, 1))
	fixture.mock.ExpectCommit()

	fixture.deliver(t, messageUpdate(1, 1, "300"))

	text := fixture.recorder.lastText()
	assert.Contains(t, text, "Transfer complete")
	assert.Contains(t, text, "700")
	assert.NoError(t, fixture.mock.ExpectationsWereMet())

	// The conversation is finished; plain text no longer triggers it.
	fixture.deliver(t, messageUpdate(1, 1, "300"))
	assert.NoError(t, fixture.mock.ExpectationsWereMet())
}

func TestHandler_TransferBadAmount(t *testing.T) {
	fixture, closeFixture := newBotFixture(t)
	defer closeFixture()

	fixture.deliver(t, messageUpdate(1, 1, "💸 Transfer"))

	fixture.mock.ExpectQuery(selectAccountPattern).
		WithArgs(int64(2)).
		WillReturnRows(accountRow(2, "bob", "Bob", 500))
	fixture.deliver(t, messageUpdate(1, 1, "2"))

	fixture.deliver(t, messageUpdate(1, 1, "lots"))
	assert.Contains(t, fixture.recorder.lastText(), "valid amount")

	// The session survives a bad amount so the user can retry.
	fixture.mock.ExpectQuery(selectAccountPattern).
		WithArgs(int64(2)).
		WillReturnRows(accountRow(2, "bob", "Bob", 500))
	fixture.mock.ExpectBegin()
	fixture.mock.ExpectQuery(lockAccountPattern).
		WithArgs(int64(1)).
		WillReturnRows(lockedRow(1, "alice", "Alice", 1000))
	fixture.mock.ExpectQuery(lockAccountPattern).
		WithArgs(int64(2)).
		WillReturnRows(lockedRow(2, "bob", "Bob", 500))
	fixture.mock.ExpectExec(`UPDATE accounts SET balance = balance - \$1 WHERE user_id = \$2`).
		WithArgs(int64(50), int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	fixture.mock.ExpectExec(`UPDATE accounts SET balance = balance \+ \$1 WHERE user_id = \$2`).
		WithArgs(int64(50), int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	fixture.mock.ExpectExec(insertEntryPattern).
		WithArgs(int64(1), int64(2), int64(50), models.KindTransfer, "Transfer to Bob").
		WillReturnResult(sqlmock.NewResult(1, 1))
	fixture.mock.ExpectCommit()

	fixture.deliver(t, messageUpdate(1, 1, "50"))
	assert.Contains(t, fixture.recorder.lastText(), "Transfer complete")
}

func callbackUpdate(userID int64, data string) telegram.Update {
	return telegram.Update{
		UpdateID: 2,
		CallbackQuery: &telegram.CallbackQuery{
			ID:   "cb1",
			From: telegram.User{ID: userID, FirstName: "Alice"},
			Message: &telegram.Message{
				MessageID: 200,
				Chat:      telegram.Chat{ID: userID},
			},
			Data: data,
		},
	}
}

func TestHandler_AutoClickerCallbacks(t *testing.T) {
	t.Run("rejects a button owned by someone else", func(t *testing.T) {
		fixture, closeFixture := newBotFixture(t)
		defer closeFixture()

		fixture.deliver(t, callbackUpdate(1, "start_autoclicker_999"))

		answers := fixture.recorder.byMethod("answerCallbackQuery")
		assert.Len(t, answers, 1)
		assert.Equal(t, true, answers[0].Payload["show_alert"])
		assert.Contains(t, answers[0].Payload["text"], "not your button")
		assert.False(t, fixture.clicker.IsRunning(999))
		assert.NoError(t, fixture.mock.ExpectationsWereMet())
	})

	t.Run("starts own auto-clicker and flips the keyboard", func(t *testing.T) {
		fixture, closeFixture := newBotFixture(t)
		defer closeFixture()

		fixture.mock.ExpectExec(`UPDATE accounts SET auto_clicker_active = \$1 WHERE user_id = \$2`).
			WithArgs(true, int64(1)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		fixture.deliver(t, callbackUpdate(1, "start_autoclicker_1"))

		assert.True(t, fixture.clicker.IsRunning(1))
		assert.Len(t, fixture.recorder.byMethod("editMessageReplyMarkup"), 1)
		answers := fixture.recorder.byMethod("answerCallbackQuery")
		assert.Len(t, answers, 1)
		assert.Contains(t, answers[0].Payload["text"], "started")

		// A second press reports the duplicate instead of double-starting.
		fixture.deliver(t, callbackUpdate(1, "start_autoclicker_1"))
		answers = fixture.recorder.byMethod("answerCallbackQuery")
		assert.Len(t, answers, 2)
		assert.Contains(t, answers[1].Payload["text"], "already running")
		assert.NoError(t, fixture.mock.ExpectationsWereMet())
	})
}

func TestHandler_RefreshBalance(t *testing.T) {
	fixture, closeFixture := newBotFixture(t)
	defer closeFixture()

	fixture.mock.ExpectQuery(selectAccountPattern).
		WithArgs(int64(1)).
		WillReturnRows(accountRow(1, "alice", "Alice", 840))

	fixture.deliver(t, callbackUpdate(1, "refresh_balance"))

	edits := fixture.recorder.byMethod("editMessageText")
	assert.Len(t, edits, 1)
	assert.Contains(t, edits[0].Payload["text"], "840")
	assert.Len(t, fixture.recorder.byMethod("answerCallbackQuery"), 1)
}
