package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/viper"

	"github.com/clickwallet/backend/internal/config"
	"github.com/clickwallet/backend/internal/models"
	"github.com/clickwallet/backend/internal/services"
	"github.com/clickwallet/backend/internal/telegram"
)

// Handler processes Telegram webhook updates: commands, the reply-keyboard
// chat surface, the two-step transfer conversation, and inline callbacks.
// Telegram retries undelivered updates, so the handler always answers 200 and
// reports failures to the chat instead of the HTTP response.
type Handler struct {
	accounts *services.AccountService
	ledger   *services.LedgerService
	clicker  *services.AutoClickerService
	sessions *SessionStore
	client   *telegram.Client
	notifier *telegram.Notifier
	redis    *redis.Client
	cfg      *config.WalletConfig
}

func NewHandler(accounts *services.AccountService, ledger *services.LedgerService,
	clicker *services.AutoClickerService, sessions *SessionStore,
	client *telegram.Client, notifier *telegram.Notifier,
	redisClient *redis.Client, cfg *config.WalletConfig) *Handler {
	return &Handler{
		accounts: accounts,
		ledger:   ledger,
		clicker:  clicker,
		sessions: sessions,
		client:   client,
		notifier: notifier,
		redis:    redisClient,
		cfg:      cfg,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if secret := viper.GetString("bot.webhook_secret"); secret != "" {
		if r.Header.Get("X-Telegram-Bot-Api-Secret-Token") != secret {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
	}

	var update telegram.Update
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1_048_576)).Decode(&update); err != nil {
		// Malformed payloads are dropped; a non-200 would only make
		// Telegram redeliver them.
		log.Printf("[BOT] Dropping malformed update: %v", err)
		w.WriteHeader(http.StatusOK)
		return
	}

	ctx := r.Context()
	switch {
	case update.Message != nil:
		h.handleMessage(ctx, update.Message)
	case update.CallbackQuery != nil:
		h.handleCallback(ctx, update.CallbackQuery)
	}

	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleMessage(ctx context.Context, msg *telegram.Message) {
	if msg.From == nil {
		return
	}
	chatID := msg.Chat.ID
	userID := msg.From.ID
	text := strings.TrimSpace(msg.Text)

	switch {
	case strings.HasPrefix(text, "/start"):
		h.handleStart(ctx, msg, strings.TrimSpace(strings.TrimPrefix(text, "/start")))
		return
	case text == "/cancel":
		h.sessions.Clear(ctx, chatID)
		h.reply(chatID, "Cancelled.", mainKeyboard())
		return
	case text == "💰 My Bank":
		h.reply(chatID, "Open the mini app to manage your wallet:", profileKeyboard(h.cfg.MiniAppURL))
		return
	case text == "🖱 Click +10":
		h.handleClick(ctx, chatID, userID)
		return
	case text == "📊 Profile":
		h.handleProfile(ctx, chatID, userID)
		return
	case text == "💸 Transfer":
		if err := h.sessions.Set(ctx, chatID, TransferSession{State: StateAwaitingRecipient}); err != nil {
			log.Printf("[BOT] Session store failed for chat %d: %v", chatID, err)
			h.reply(chatID, "❌ Something went wrong, try again later.", nil)
			return
		}
		h.reply(chatID, "Enter the recipient's username or user id:", transferKeyboard(h.cfg.MiniAppURL))
		return
	}

	if sess, ok := h.sessions.Get(ctx, chatID); ok {
		switch sess.State {
		case StateAwaitingRecipient:
			h.handleRecipientInput(ctx, chatID, userID, text)
		case StateAwaitingAmount:
			h.handleAmountInput(ctx, msg, sess, text)
		default:
			h.sessions.Clear(ctx, chatID)
		}
	}
}

func (h *Handler) handleStart(ctx context.Context, msg *telegram.Message, payload string) {
	chatID := msg.Chat.ID
	account, created, err := h.accounts.GetOrCreate(ctx, msg.From.ID, msg.From.Username, msg.From.FirstName)
	if err != nil {
		log.Printf("[BOT] Registration failed for %d: %v", msg.From.ID, err)
		h.reply(chatID, "❌ Something went wrong, try again later.", nil)
		return
	}

	if created {
		h.reply(chatID, fmt.Sprintf(
			"👋 Welcome to Click Wallet!\n"+
				"🎁 You received a %d welcome bonus!\n"+
				"Use the buttons below to manage your wallet:", h.cfg.WelcomeBonus),
			mainKeyboard())
	} else {
		h.reply(chatID, "Welcome back to Click Wallet!", mainKeyboard())
	}

	if code, ok := strings.CutPrefix(payload, "pay_"); ok {
		h.handlePaymentDeepLink(ctx, chatID, account.UserID, code)
	}
}

// handlePaymentDeepLink turns a QR payment-request code into a pre-filled
// transfer conversation: the requester becomes the recipient and the user
// only has to confirm the amount.
func (h *Handler) handlePaymentDeepLink(ctx context.Context, chatID, userID int64, code string) {
	if h.redis == nil {
		return
	}

	payload, err := h.redis.Get(ctx, fmt.Sprintf("payreq:%s", code)).Bytes()
	if err != nil {
		h.reply(chatID, "❌ This payment request is invalid or has expired.", nil)
		return
	}
	var pr struct {
		UserID int64 `json:"user_id"`
		Amount int64 `json:"amount"`
	}
	if err := json.Unmarshal(payload, &pr); err != nil || pr.UserID == userID {
		return
	}

	requester, err := h.accounts.GetByID(ctx, pr.UserID)
	if err != nil {
		return
	}

	if err := h.sessions.Set(ctx, chatID, TransferSession{
		State:         StateAwaitingAmount,
		RecipientID:   requester.UserID,
		RecipientName: requester.FirstName,
	}); err != nil {
		log.Printf("[BOT] Session store failed for chat %d: %v", chatID, err)
		return
	}
	h.reply(chatID, fmt.Sprintf(
		"💸 %s requests %d.\nEnter the amount to send (or /cancel):",
		requester.FirstName, pr.Amount), nil)
}

func (h *Handler) handleClick(ctx context.Context, chatID, userID int64) {
	newBalance, err := h.ledger.Credit(ctx, userID, h.cfg.ClickReward, models.KindClick, "Click")
	if err != nil {
		if errors.Is(err, services.ErrAccountNotFound) {
			h.reply(chatID, "Send /start first to open a wallet.", nil)
			return
		}
		log.Printf("[BOT] Click credit for %d failed: %v", userID, err)
		h.reply(chatID, "❌ Something went wrong, try again later.", nil)
		return
	}

	h.reply(chatID, fmt.Sprintf("✅ +%d for the click!\n💰 Current balance: %d", h.cfg.ClickReward, newBalance),
		autoClickerKeyboard(userID, h.clicker.IsRunning(userID)))
}

func (h *Handler) handleProfile(ctx context.Context, chatID, userID int64) {
	account, err := h.accounts.GetByID(ctx, userID)
	if err != nil {
		h.reply(chatID, "Send /start first to open a wallet.", nil)
		return
	}
	count, err := h.ledger.CountForUser(ctx, userID)
	if err != nil {
		log.Printf("[BOT] Transaction count for %d failed: %v", userID, err)
	}

	username := account.Username
	if username == "" {
		username = "not set"
	}
	h.reply(chatID, fmt.Sprintf(
		"👤 <b>Profile</b>\n\n"+
			"🆔 ID: %d\n"+
			"👤 Name: %s\n"+
			"📛 Username: @%s\n"+
			"💰 Balance: %d\n"+
			"📊 Transactions: %d\n"+
			"📅 Registered: %s",
		account.UserID, account.FirstName, username, account.Balance,
		count, account.RegisteredAt.Format("02.01.2006 15:04")),
		profileKeyboard(h.cfg.MiniAppURL))
}

func (h *Handler) handleRecipientInput(ctx context.Context, chatID, userID int64, text string) {
	recipient, err := h.ledger.ResolveRecipient(ctx, userID, text)
	switch {
	case errors.Is(err, services.ErrRecipientNotFound):
		h.reply(chatID, "❌ User not found. Try again:", nil)
		return
	case errors.Is(err, services.ErrSelfTransfer):
		h.reply(chatID, "❌ You can't transfer to yourself. Enter another user:", nil)
		return
	case err != nil:
		log.Printf("[BOT] Recipient lookup %q failed: %v", text, err)
		h.sessions.Clear(ctx, chatID)
		h.reply(chatID, "❌ Something went wrong, try again later.", nil)
		return
	}

	if err := h.sessions.Set(ctx, chatID, TransferSession{
		State:         StateAwaitingAmount,
		RecipientID:   recipient.UserID,
		RecipientName: recipient.FirstName,
	}); err != nil {
		log.Printf("[BOT] Session store failed for chat %d: %v", chatID, err)
		h.reply(chatID, "❌ Something went wrong, try again later.", nil)
		return
	}

	username := recipient.Username
	if username == "" {
		username = "—"
	}
	h.reply(chatID, fmt.Sprintf("✅ Recipient: %s (@%s)\nEnter the transfer amount:",
		recipient.FirstName, username), nil)
}

func (h *Handler) handleAmountInput(ctx context.Context, msg *telegram.Message, sess TransferSession, text string) {
	chatID := msg.Chat.ID
	userID := msg.From.ID

	amount, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		h.reply(chatID, "❌ Enter a valid amount (digits only):", nil)
		return
	}

	result, err := h.ledger.Transfer(ctx, userID, strconv.FormatInt(sess.RecipientID, 10),
		amount, fmt.Sprintf("Transfer to %s", sess.RecipientName))
	switch {
	case errors.Is(err, services.ErrInvalidAmount):
		h.reply(chatID, "❌ The amount must be positive. Enter the amount:", nil)
		return
	case errors.Is(err, services.ErrInsufficientFunds):
		h.sessions.Clear(ctx, chatID)
		balance := int64(0)
		if account, gerr := h.accounts.GetByID(ctx, userID); gerr == nil {
			balance = account.Balance
		}
		h.reply(chatID, fmt.Sprintf("❌ Insufficient funds. Your balance: %d", balance), nil)
		return
	case errors.Is(err, services.ErrRecipientNotFound):
		h.sessions.Clear(ctx, chatID)
		h.reply(chatID, "❌ The recipient no longer exists.", nil)
		return
	case err != nil:
		log.Printf("[BOT] Transfer %d -> %d failed: %v", userID, sess.RecipientID, err)
		h.sessions.Clear(ctx, chatID)
		h.reply(chatID, "❌ Something went wrong, try again later.", nil)
		return
	}

	h.sessions.Clear(ctx, chatID)
	h.reply(chatID, fmt.Sprintf(
		"✅ Transfer complete!\n"+
			"📤 Sent: %d\n"+
			"👤 Recipient: %s\n"+
			"💰 Your new balance: %d",
		amount, sess.RecipientName, result.NewBalance), nil)

	go h.notifier.TransferReceived(result.Recipient.UserID, msg.From.FirstName, amount, result.Recipient.Balance)
}

func (h *Handler) handleCallback(ctx context.Context, cb *telegram.CallbackQuery) {
	switch {
	case cb.Data == "refresh_balance":
		h.handleRefreshBalance(ctx, cb)
	case strings.HasPrefix(cb.Data, "start_autoclicker_"):
		h.handleAutoClickerCallback(ctx, cb, true)
	case strings.HasPrefix(cb.Data, "stop_autoclicker_"):
		h.handleAutoClickerCallback(ctx, cb, false)
	default:
		h.answer(cb.ID, "", false)
	}
}

func (h *Handler) handleRefreshBalance(ctx context.Context, cb *telegram.CallbackQuery) {
	account, err := h.accounts.GetByID(ctx, cb.From.ID)
	if err == nil && cb.Message != nil {
		if err := h.client.EditMessageText(cb.Message.Chat.ID, cb.Message.MessageID,
			fmt.Sprintf("💰 Your balance: %d", account.Balance), profileKeyboard(h.cfg.MiniAppURL)); err != nil {
			log.Printf("[BOT] Balance refresh edit failed: %v", err)
		}
	}
	h.answer(cb.ID, "", false)
}

// handleAutoClickerCallback toggles the auto-clicker named in the callback
// data. The embedded user id must match the presser: the keyboard may be
// visible in a chat the account owner forwarded it to.
func (h *Handler) handleAutoClickerCallback(ctx context.Context, cb *telegram.CallbackQuery, start bool) {
	idx := strings.LastIndex(cb.Data, "_")
	targetID, err := strconv.ParseInt(cb.Data[idx+1:], 10, 64)
	if err != nil {
		h.answer(cb.ID, "", false)
		return
	}
	if targetID != cb.From.ID {
		h.answer(cb.ID, "❌ This is not your button!", true)
		return
	}

	if start {
		err = h.clicker.Start(ctx, cb.From.ID, targetID)
	} else {
		err = h.clicker.Stop(ctx, cb.From.ID, targetID)
	}
	switch {
	case errors.Is(err, services.ErrAlreadyRunning):
		h.answer(cb.ID, "❌ The auto-clicker is already running!", true)
		return
	case errors.Is(err, services.ErrNotRunning):
		h.answer(cb.ID, "The auto-clicker is not running.", false)
		return
	case err != nil:
		log.Printf("[BOT] Auto-clicker toggle for %d failed: %v", targetID, err)
		h.answer(cb.ID, "❌ Something went wrong, try again later.", true)
		return
	}

	if cb.Message != nil {
		if err := h.client.EditMessageReplyMarkup(cb.Message.Chat.ID, cb.Message.MessageID,
			autoClickerKeyboard(targetID, start)); err != nil {
			log.Printf("[BOT] Keyboard update failed: %v", err)
		}
	}
	if start {
		h.answer(cb.ID, "✅ Auto-clicker started!", false)
	} else {
		h.answer(cb.ID, "⏹ Auto-clicker stopped!", false)
	}
}

func (h *Handler) reply(chatID int64, text string, markup any) {
	if err := h.client.SendMessage(chatID, text, markup); err != nil {
		log.Printf("[BOT] Send to chat %d failed: %v", chatID, err)
	}
}

func (h *Handler) answer(callbackID, text string, alert bool) {
	if err := h.client.AnswerCallbackQuery(callbackID, text, alert); err != nil {
		log.Printf("[BOT] Callback answer failed: %v", err)
	}
}
