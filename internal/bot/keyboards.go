package bot

import (
	"fmt"

	"github.com/clickwallet/backend/internal/telegram"
)

func mainKeyboard() *telegram.ReplyKeyboardMarkup {
	return &telegram.ReplyKeyboardMarkup{
		Keyboard: [][]telegram.KeyboardButton{
			{{Text: "💰 My Bank"}, {Text: "🖱 Click +10"}},
			{{Text: "📊 Profile"}, {Text: "💸 Transfer"}},
		},
		ResizeKeyboard: true,
	}
}

func profileKeyboard(miniAppURL string) *telegram.InlineKeyboardMarkup {
	return &telegram.InlineKeyboardMarkup{
		InlineKeyboard: [][]telegram.InlineKeyboardButton{
			{{Text: "💰 My Bank (WebApp)", WebApp: &telegram.WebAppInfo{URL: miniAppURL}}},
			{{Text: "🔄 Refresh balance", CallbackData: "refresh_balance"}},
		},
	}
}

func transferKeyboard(miniAppURL string) *telegram.InlineKeyboardMarkup {
	return &telegram.InlineKeyboardMarkup{
		InlineKeyboard: [][]telegram.InlineKeyboardButton{
			{{Text: "📱 Open in Mini App", WebApp: &telegram.WebAppInfo{URL: miniAppURL + "?page=transfer"}}},
		},
	}
}

func autoClickerKeyboard(userID int64, active bool) *telegram.InlineKeyboardMarkup {
	var btn telegram.InlineKeyboardButton
	if active {
		btn = telegram.InlineKeyboardButton{
			Text:         "⏹ Stop auto-clicker",
			CallbackData: fmt.Sprintf("stop_autoclicker_%d", userID),
		}
	} else {
		btn = telegram.InlineKeyboardButton{
			Text:         "▶️ Start auto-clicker (every 30s)",
			CallbackData: fmt.Sprintf("start_autoclicker_%d", userID),
		}
	}
	return &telegram.InlineKeyboardMarkup{
		InlineKeyboard: [][]telegram.InlineKeyboardButton{{btn}},
	}
}
