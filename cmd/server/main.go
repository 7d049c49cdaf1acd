package main

import (
	"context"
	"log"
	"net/http"

	"github.com/jchou/papertrade/internal/api"
	"github.com/jchou/papertrade/internal/auth"
	"github.com/jchou/papertrade/internal/config"
	"github.com/jchou/papertrade/internal/db"
	"github.com/jchou/papertrade/internal/events"
	"github.com/jchou/papertrade/internal/events/kafka"
	"github.com/jchou/papertrade/internal/quotes"
	"github.com/jchou/papertrade/internal/trading"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Main entry point: sets up database, trading engine, and HTTP server
func main() {
	ctx := context.Background()

	// Optional .env file for local development
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	startingCash, err := decimal.NewFromString(cfg.Trading.StartingCash)
	if err != nil {
		log.Fatalf("Invalid starting cash %q: %v", cfg.Trading.StartingCash, err)
	}

	// Initialize database connection
	database, err := db.NewDB(ctx, cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close(ctx)

	// Initialize quote provider
	provider := quotes.NewClient(cfg.Quotes.BaseURL, cfg.Quotes.Token, cfg.Quotes.Timeout)

	// Trade events are optional; without brokers the engine stays silent
	var publisher events.Publisher
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaPublisher := kafka.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer kafkaPublisher.Close()
		publisher = kafkaPublisher
	}

	// Initialize trading engine
	tradingService := trading.NewService(database, provider, publisher)

	// Initialize auth service
	authService := auth.NewAuthService(database, cfg.JWT.Secret, startingCash)

	// Initialize API handlers
	handler := api.NewHandler(tradingService, authService, provider, cfg.Server.StreamInterval)

	// Set up HTTP router
	r := chi.NewRouter()

	// Enable CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Public endpoints
	r.Post("/auth/register", handler.Register)
	r.Post("/auth/login", handler.Login)

	// Protected endpoints (require JWT)
	r.Group(func(r chi.Router) {
		r.Use(handler.JWTAuthMiddleware)
		r.Get("/quote", handler.GetQuote)
		r.Post("/buy", handler.Buy)
		r.Post("/sell", handler.Sell)
		r.Get("/portfolio", handler.GetPortfolio)
		r.Get("/history", handler.GetHistory)
		r.Get("/ws/quotes", handler.StreamQuotes)
	})

	// Start server
	log.Printf("Starting server on %s", cfg.Server.Addr)
	if err := http.ListenAndServe(cfg.Server.Addr, r); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
