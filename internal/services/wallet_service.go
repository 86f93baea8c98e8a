package services

import (
	"bytes"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image/png"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/skip2/go-qrcode"
	"github.com/spf13/viper"

	"github.com/clickwallet/backend/internal/config"
	"github.com/clickwallet/backend/internal/telegram"
)

// WalletService exposes the wallet over the mini-app JSON API. Identity comes
// from the auth middleware (verified Telegram init data or a session JWT);
// handlers only read the user id from the request context.
type WalletService struct {
	db        *sql.DB
	redis     *redis.Client
	accounts  *AccountService
	ledger    *LedgerService
	clicker   *AutoClickerService
	notifier  *telegram.Notifier
	validator *ValidationHelper
	cfg       *config.WalletConfig
}

func NewWalletService(db *sql.DB, redisClient *redis.Client, accounts *AccountService,
	ledger *LedgerService, clicker *AutoClickerService, notifier *telegram.Notifier,
	cfg *config.WalletConfig) *WalletService {
	return &WalletService{
		db:        db,
		redis:     redisClient,
		accounts:  accounts,
		ledger:    ledger,
		clicker:   clicker,
		notifier:  notifier,
		validator: NewValidationHelper(),
		cfg:       cfg,
	}
}

func (ws *WalletService) userID(r *http.Request) (int64, bool) {
	userID, ok := r.Context().Value("userID").(int64)
	return userID, ok && userID > 0
}

// decodeBody enforces the teacher-standard request body discipline: bounded
// size, unknown fields rejected, exactly one JSON object.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return fmt.Errorf("request body must only contain a single JSON object")
	}
	return nil
}

// statusForError maps the expected error taxonomy to HTTP statuses. Anything
// outside the taxonomy is an internal fault and reported generically.
func statusForError(err error) (int, string) {
	switch err {
	case ErrInvalidAmount, ErrSelfTransfer, ErrInsufficientFunds:
		return http.StatusBadRequest, err.Error()
	case ErrAccountNotFound, ErrSenderNotFound, ErrRecipientNotFound:
		return http.StatusNotFound, err.Error()
	case ErrUnauthorized:
		return http.StatusUnauthorized, err.Error()
	case ErrAlreadyRunning, ErrNotRunning:
		return http.StatusConflict, err.Error()
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// CreateSession exchanges a verified Telegram init-data payload for a session
// token, registering the account on first contact.
// @Summary Create a web session
// @Description Verify Telegram init data and return a short-lived session JWT
// @Tags auth
// @Produce json
// @Param X-Telegram-Init-Data header string true "Telegram WebApp init data"
// @Success 200 {object} map[string]any
// @Failure 401 {object} services.ErrorResponse
// @Router /api/auth/session [post]
func (ws *WalletService) CreateSession(w http.ResponseWriter, r *http.Request) {
	raw := r.Header.Get("X-Telegram-Init-Data")
	initData, err := telegram.VerifyInitData(raw, viper.GetString("bot.token"))
	if err != nil {
		log.Printf("[AUTH] Session rejected: %v", err)
		SendErrorResponse(w, "Invalid init data", http.StatusUnauthorized, nil)
		return
	}

	account, _, err := ws.accounts.GetOrCreate(r.Context(),
		initData.User.ID, initData.User.Username, initData.User.FirstName)
	if err != nil {
		log.Printf("[AUTH] Session account lookup failed for %d: %v", initData.User.ID, err)
		SendErrorResponse(w, "Failed to create session", http.StatusInternalServerError, nil)
		return
	}

	token, err := generateSessionJWT(account.UserID)
	if err != nil {
		log.Printf("[AUTH] JWT generation failed for %d: %v", account.UserID, err)
		SendErrorResponse(w, "Failed to create session", http.StatusInternalServerError, nil)
		return
	}

	SendJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"token":   token,
		"user":    account.Ref(),
	})
}

// GetBalance returns the caller's balance and profile.
// @Summary Get balance
// @Tags wallet
// @Produce json
// @Success 200 {object} map[string]any
// @Failure 401 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /api/get_balance [post]
func (ws *WalletService) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := ws.userID(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	account, err := ws.accounts.GetByID(r.Context(), userID)
	if err != nil {
		status, msg := statusForError(err)
		SendErrorResponse(w, msg, status, nil)
		return
	}

	SendJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"balance": account.Balance,
		"user":    account.Ref(),
	})
}

// GetTransactions returns one page of the caller's history.
// @Summary List transactions
// @Tags wallet
// @Accept json
// @Produce json
// @Param request body object{page=int,limit=int} true "Pagination"
// @Success 200 {object} map[string]any
// @Failure 401 {object} services.ErrorResponse
// @Router /api/get_transactions [post]
func (ws *WalletService) GetTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := ws.userID(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		Page  int `json:"page" validate:"omitempty,min=1"`
		Limit int `json:"limit" validate:"omitempty,min=1,max=100"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := ws.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}
	if req.Page == 0 {
		req.Page = 1
	}
	if req.Limit == 0 {
		req.Limit = 20
	}

	transactions, hasMore, err := ws.ledger.ListTransactions(r.Context(), userID, req.Page, req.Limit)
	if err != nil {
		log.Printf("[WALLET] History query for %d failed: %v", userID, err)
		SendErrorResponse(w, "Failed to fetch transactions", http.StatusInternalServerError, nil)
		return
	}

	SendJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"transactions": transactions,
		"page":         req.Page,
		"has_more":     hasMore,
	})
}

// Transfer moves funds from the caller to a recipient.
// @Summary Transfer funds
// @Tags wallet
// @Accept json
// @Produce json
// @Param request body object{recipient=string,amount=int64} true "Transfer"
// @Success 200 {object} map[string]any
// @Failure 400 {object} services.ErrorResponse
// @Failure 401 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /api/transfer [post]
func (ws *WalletService) Transfer(w http.ResponseWriter, r *http.Request) {
	userID, ok := ws.userID(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		Recipient string `json:"recipient" validate:"required"`
		Amount    int64  `json:"amount" validate:"required"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := ws.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	sender, err := ws.accounts.GetByID(r.Context(), userID)
	if err == ErrAccountNotFound {
		SendErrorResponse(w, ErrSenderNotFound.Error(), http.StatusNotFound, nil)
		return
	}
	if err != nil {
		log.Printf("[WALLET] Sender lookup for %d failed: %v", userID, err)
		SendErrorResponse(w, "internal error", http.StatusInternalServerError, nil)
		return
	}

	result, err := ws.ledger.Transfer(r.Context(), userID, req.Recipient, req.Amount, "Mini App transfer")
	if err != nil {
		status, msg := statusForError(err)
		if status == http.StatusInternalServerError {
			log.Printf("[WALLET] Transfer %d -> %q failed: %v", userID, req.Recipient, err)
		}
		SendErrorResponse(w, msg, status, nil)
		return
	}

	// Best-effort, off the request path: a failed notification never fails
	// the committed transfer.
	go ws.notifier.TransferReceived(result.Recipient.UserID, sender.FirstName, req.Amount, result.Recipient.Balance)

	SendJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"new_balance": result.NewBalance,
		"recipient":   result.Recipient.Ref(),
	})
}

// SetAutoClicker enables or disables the caller's auto-clicker. The actor and
// the target are the same identity by construction here.
// @Summary Toggle auto-clicker
// @Tags wallet
// @Accept json
// @Produce json
// @Param request body object{enabled=bool} true "Desired state"
// @Success 200 {object} map[string]any
// @Failure 409 {object} services.ErrorResponse
// @Router /api/autoclicker [post]
func (ws *WalletService) SetAutoClicker(w http.ResponseWriter, r *http.Request) {
	userID, ok := ws.userID(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		Enabled *bool `json:"enabled" validate:"required"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := ws.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	var err error
	if *req.Enabled {
		err = ws.clicker.Start(r.Context(), userID, userID)
	} else {
		err = ws.clicker.Stop(r.Context(), userID, userID)
	}
	if err != nil {
		status, msg := statusForError(err)
		SendErrorResponse(w, msg, status, nil)
		return
	}

	SendJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"enabled": *req.Enabled,
	})
}

type paymentRequest struct {
	UserID    int64 `json:"user_id"`
	Amount    int64 `json:"amount"`
	CreatedAt int64 `json:"created_at"`
}

// CreatePaymentRequest issues a one-time "receive money" code plus a QR image
// of the bot deep link carrying it. The code lives in Redis until resolved or
// expired.
// @Summary Create a payment request
// @Tags wallet
// @Accept json
// @Produce json
// @Param request body object{amount=int64} true "Requested amount"
// @Success 200 {object} map[string]any
// @Failure 400 {object} services.ErrorResponse
// @Router /api/payment_request [post]
func (ws *WalletService) CreatePaymentRequest(w http.ResponseWriter, r *http.Request) {
	userID, ok := ws.userID(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}
	if ws.redis == nil {
		SendErrorResponse(w, "Payment requests unavailable", http.StatusServiceUnavailable, nil)
		return
	}

	var req struct {
		Amount int64 `json:"amount" validate:"required,gt=0"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := ws.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	code := generateRequestCode()
	payload, err := json.Marshal(paymentRequest{UserID: userID, Amount: req.Amount, CreatedAt: time.Now().Unix()})
	if err != nil {
		SendErrorResponse(w, "internal error", http.StatusInternalServerError, nil)
		return
	}
	key := fmt.Sprintf("payreq:%s", code)
	if err := ws.redis.Set(r.Context(), key, payload, ws.cfg.PaymentRequestTTL).Err(); err != nil {
		log.Printf("[WALLET] Payment request store failed for %d: %v", userID, err)
		SendErrorResponse(w, "internal error", http.StatusInternalServerError, nil)
		return
	}

	link := fmt.Sprintf(ws.cfg.TransferDeepLinkFmt, code)
	qr, err := qrcode.New(link, qrcode.Medium)
	if err != nil {
		SendErrorResponse(w, "internal error", http.StatusInternalServerError, nil)
		return
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(256)); err != nil {
		SendErrorResponse(w, "internal error", http.StatusInternalServerError, nil)
		return
	}

	SendJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"code":    code,
		"link":    link,
		"qrImage": base64.StdEncoding.EncodeToString(buf.Bytes()),
	})
}

// ResolvePaymentRequest consumes a payment-request code, returning who asked
// and for how much. The client then calls /api/transfer.
// @Summary Resolve a payment request
// @Tags wallet
// @Accept json
// @Produce json
// @Param request body object{code=string} true "Request code"
// @Success 200 {object} map[string]any
// @Failure 400 {object} services.ErrorResponse
// @Router /api/payment_request/resolve [post]
func (ws *WalletService) ResolvePaymentRequest(w http.ResponseWriter, r *http.Request) {
	if _, ok := ws.userID(r); !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}
	if ws.redis == nil {
		SendErrorResponse(w, "Payment requests unavailable", http.StatusServiceUnavailable, nil)
		return
	}

	var req struct {
		Code string `json:"code" validate:"required"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := ws.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	key := fmt.Sprintf("payreq:%s", req.Code)
	payload, err := ws.redis.Get(r.Context(), key).Bytes()
	if err == redis.Nil {
		SendErrorResponse(w, "invalid or expired payment request", http.StatusBadRequest, nil)
		return
	}
	if err != nil {
		log.Printf("[WALLET] Payment request lookup failed: %v", err)
		SendErrorResponse(w, "internal error", http.StatusInternalServerError, nil)
		return
	}

	var pr paymentRequest
	if err := json.Unmarshal(payload, &pr); err != nil {
		SendErrorResponse(w, "invalid or expired payment request", http.StatusBadRequest, nil)
		return
	}

	// One-time use.
	ws.redis.Del(r.Context(), key)

	SendJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"user_id": pr.UserID,
		"amount":  pr.Amount,
	})
}

func generateSessionJWT(userID int64) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"exp":     time.Now().Add(time.Duration(viper.GetInt("jwt.expiry_hours")) * time.Hour).Unix(),
	})
	return token.SignedString([]byte(viper.GetString("jwt.secret_key")))
}

func generateRequestCode() string {
	b := make([]byte, 16)
	rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}
