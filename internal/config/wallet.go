package config

import (
	"os"
	"strconv"
	"time"
)

// WalletConfig carries the business settings of the wallet. The credit
// amounts and the auto-clicker interval default to the reference values and
// are not expected to change between deployments.
type WalletConfig struct {
	WelcomeBonus        int64
	ClickReward         int64
	AutoClickAmount     int64
	AutoClickInterval   time.Duration
	PaymentRequestTTL   time.Duration
	TransferSessionTTL  time.Duration
	NotifyTimeout       time.Duration
	MiniAppURL          string
	TransferDeepLinkFmt string
}

func LoadWalletConfig() *WalletConfig {
	return &WalletConfig{
		WelcomeBonus:        getEnvAsInt64("WALLET_WELCOME_BONUS", 1000),
		ClickReward:         getEnvAsInt64("WALLET_CLICK_REWARD", 10),
		AutoClickAmount:     getEnvAsInt64("WALLET_AUTOCLICK_AMOUNT", 10),
		AutoClickInterval:   getEnvAsDuration("WALLET_AUTOCLICK_INTERVAL", 30*time.Second),
		PaymentRequestTTL:   getEnvAsDuration("WALLET_PAYMENT_REQUEST_TTL", 5*time.Minute),
		TransferSessionTTL:  getEnvAsDuration("WALLET_TRANSFER_SESSION_TTL", 10*time.Minute),
		NotifyTimeout:       getEnvAsDuration("WALLET_NOTIFY_TIMEOUT", 5*time.Second),
		MiniAppURL:          getEnv("WALLET_MINIAPP_URL", "https://localhost:8080/webapp"),
		TransferDeepLinkFmt: getEnv("WALLET_TRANSFER_LINK_FMT", "https://t.me/clickwalletbot?start=pay_%s"),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.ParseInt(val, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			return duration
		}
	}
	return defaultVal
}
