package telegram

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"
)

const defaultBaseURL = "https://api.telegram.org"

// Client is a thin Bot API sender. Every call is bounded by the HTTP client
// timeout so a slow Telegram endpoint can never stall a caller that fires
// notifications after committing a ledger transaction.
type Client struct {
	token string

	// BaseURL and HTTPClient may be overridden before first use (tests
	// point BaseURL at a local server).
	BaseURL    string
	HTTPClient *http.Client
}

func NewClient(token string, timeout time.Duration) *Client {
	return &Client{
		token:      token,
		BaseURL:    defaultBaseURL,
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description,omitempty"`
}

func (c *Client) call(method string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", method, err)
	}

	url := fmt.Sprintf("%s/bot%s/%s", c.BaseURL, c.token, method)
	resp, err := c.HTTPClient.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("call %s: %w", method, err)
	}
	defer resp.Body.Close()

	var result apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	if !result.OK {
		return fmt.Errorf("%s rejected: %s", method, result.Description)
	}
	return nil
}

// SendMessage sends text to a chat. replyMarkup may be nil, a
// ReplyKeyboardMarkup or an InlineKeyboardMarkup.
func (c *Client) SendMessage(chatID int64, text string, replyMarkup any) error {
	payload := map[string]any{
		"chat_id":    chatID,
		"text":       text,
		"parse_mode": "HTML",
	}
	if replyMarkup != nil {
		payload["reply_markup"] = replyMarkup
	}
	return c.call("sendMessage", payload)
}

func (c *Client) AnswerCallbackQuery(callbackID, text string, showAlert bool) error {
	return c.call("answerCallbackQuery", map[string]any{
		"callback_query_id": callbackID,
		"text":              text,
		"show_alert":        showAlert,
	})
}

func (c *Client) EditMessageText(chatID, messageID int64, text string, replyMarkup *InlineKeyboardMarkup) error {
	payload := map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
		"text":       text,
	}
	if replyMarkup != nil {
		payload["reply_markup"] = replyMarkup
	}
	return c.call("editMessageText", payload)
}

func (c *Client) EditMessageReplyMarkup(chatID, messageID int64, replyMarkup *InlineKeyboardMarkup) error {
	return c.call("editMessageReplyMarkup", map[string]any{
		"chat_id":      chatID,
		"message_id":   messageID,
		"reply_markup": replyMarkup,
	})
}

// Notifier delivers best-effort wallet notifications. Failures are logged and
// swallowed: a notification must never fail or roll back the ledger operation
// it follows.
type Notifier struct {
	client *Client
}

func NewNotifier(client *Client) *Notifier {
	return &Notifier{client: client}
}

func (n *Notifier) TransferReceived(recipientID int64, senderName string, amount, newBalance int64) {
	if n == nil || n.client == nil {
		return
	}
	text := fmt.Sprintf("You received a transfer!\nFrom: %s\nAmount: %d\nYour balance: %d",
		senderName, amount, newBalance)
	if err := n.client.SendMessage(recipientID, text, nil); err != nil {
		log.Printf("[NOTIFY] transfer notification to %d failed: %v", recipientID, err)
	}
}

func (n *Notifier) AutoCredit(userID, amount, newBalance int64) {
	if n == nil || n.client == nil {
		return
	}
	text := fmt.Sprintf("Auto-clicker: +%d!\nBalance: %d", amount, newBalance)
	if err := n.client.SendMessage(userID, text, nil); err != nil {
		log.Printf("[NOTIFY] auto-credit notification to %d failed: %v", userID, err)
	}
}
