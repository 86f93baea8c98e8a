package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/clickwallet/backend/docs"
	"github.com/clickwallet/backend/internal/bot"
	"github.com/clickwallet/backend/internal/config"
	"github.com/clickwallet/backend/internal/database"
	mW "github.com/clickwallet/backend/internal/middleware"
	"github.com/clickwallet/backend/internal/services"
	"github.com/clickwallet/backend/internal/telegram"
)

// @title Click Wallet Backend API
// @version 1.0
// @description API for the Click Wallet Telegram mini app
// @host localhost:8080
// @BasePath /api
// @schemes http https

func main() {
	// Initialize config
	viper.SetConfigFile(".env") // explicitly point to .env file
	viper.AutomaticEnv()        // allow environment variables to override .env

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("bot.token", "BOT_TOKEN")
	viper.BindEnv("bot.webhook_secret", "BOT_WEBHOOK_SECRET")
	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	viper.BindEnv("jwt.expiry_hours", "JWT_EXPIRY_HOURS")
	viper.SetDefault("jwt.expiry_hours", 24)

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	// Initialize Swagger docs
	docs.SwaggerInfo.Title = "Click Wallet Backend API"
	docs.SwaggerInfo.Description = "API for the Click Wallet Telegram mini app"
	docs.SwaggerInfo.Version = "1.0"
	docs.SwaggerInfo.Host = "localhost:8080"
	docs.SwaggerInfo.BasePath = "/api"
	docs.SwaggerInfo.Schemes = []string{"http", "https"}

	walletCfg := config.LoadWalletConfig()

	// Initialize services
	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	tgClient := telegram.NewClient(viper.GetString("bot.token"), walletCfg.NotifyTimeout)
	notifier := telegram.NewNotifier(tgClient)

	accountService := services.NewAccountService(db, walletCfg)
	ledgerService := services.NewLedgerService(db, accountService)
	clickerService := services.NewAutoClickerService(accountService, ledgerService, notifier, walletCfg)
	walletService := services.NewWalletService(db, redisClient, accountService,
		ledgerService, clickerService, notifier, walletCfg)

	sessions := bot.NewSessionStore(redisClient, walletCfg.TransferSessionTTL)
	botHandler := bot.NewHandler(accountService, ledgerService, clickerService,
		sessions, tgClient, notifier, redisClient, walletCfg)

	// Restart auto-clickers that were active before the last shutdown.
	if err := clickerService.ResumeActive(context.Background()); err != nil {
		log.Printf("Warning: failed to resume auto-clickers: %v", err)
	}

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Telegram-Init-Data"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// Swagger documentation
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("http://localhost:8080/swagger/doc.json"),
	))

	// Telegram webhook
	r.Post("/webhook/telegram", botHandler.ServeHTTP)

	// Mini app static bundle. The Telegram WebApp button opens the bare
	// /webapp path, so the index must be reachable there and at the root,
	// not only under the wildcard.
	miniApp := mW.StaticFileServer("./mini_app")
	r.Get("/", miniApp.ServeHTTP)
	r.Get("/webapp", miniApp.ServeHTTP)
	r.Handle("/webapp/*", http.StripPrefix("/webapp/", miniApp))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Public endpoints (no auth required)
		r.Post("/auth/session", walletService.CreateSession)

		// Protected endpoints (auth required)
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Post("/get_balance", walletService.GetBalance)
			r.Post("/get_transactions", walletService.GetTransactions)
			r.Post("/transfer", walletService.Transfer)
			r.Post("/autoclicker", walletService.SetAutoClicker)
			r.Post("/payment_request", walletService.CreatePaymentRequest)
			r.Post("/payment_request/resolve", walletService.ResolvePaymentRequest)
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Start server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	// Stop auto-clicker loops after the listener is drained so in-flight
	// credits finish cleanly.
	clickerService.Shutdown()

	log.Println("Server stopped")
}
