package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/jchou/papertrade/internal/config"
	"github.com/jchou/papertrade/internal/db"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Seed the database with demo accounts and ledger rows
func main() {
	ctx := context.Background()

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Connect to database
	database, err := db.NewDB(ctx, cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close(ctx)

	// First check if we already have transactions
	var count int
	err = database.Pool.QueryRow(ctx, "SELECT COUNT(*) FROM transactions").Scan(&count)
	if err != nil {
		log.Fatalf("Failed to check transactions: %v", err)
	}

	if count > 0 {
		fmt.Printf("Database already has %d transactions. No need to seed.\n", count)
		os.Exit(0)
	}

	startingCash, err := decimal.NewFromString(cfg.Trading.StartingCash)
	if err != nil {
		log.Fatalf("Invalid starting cash: %v", err)
	}

	// bcrypt hash of "demo-pass!" at default cost
	const demoHash = "$2a$10$XLhV7TU4dIvHO1d9UKgoT.Kt1XCYIbLV4LkQqmXGtN6VBnsmgS.G."

	// Create demo users if they don't exist
	userIDs := make(map[string]int)
	for _, username := range []string{"trader1", "trader2"} {
		var id int
		err = database.Pool.QueryRow(ctx, "SELECT id FROM users WHERE username = $1", username).Scan(&id)
		if err != nil {
			err = database.Pool.QueryRow(ctx,
				"INSERT INTO users (username, password_hash, cash) VALUES ($1, $2, $3) RETURNING id",
				username, demoHash, startingCash).Scan(&id)
			if err != nil {
				log.Fatalf("Failed to create user %s: %v", username, err)
			}
		}
		userIDs[username] = id
	}

	// Ledger rows for trader1: an AAPL position built over three days, with
	// one partial sell, and an open NFLX position
	seedRows := []struct {
		username string
		symbol   string
		shares   int
		price    string
		ago      string
	}{
		{"trader1", "AAPL", 10, "150.00", "3 day"},
		{"trader1", "AAPL", 5, "152.40", "2 day"},
		{"trader1", "AAPL", -3, "155.10", "1 day"},
		{"trader1", "NFLX", 4, "410.25", "2 day"},
		{"trader2", "MSFT", 8, "310.80", "3 day"},
		{"trader2", "MSFT", -8, "305.00", "1 day"},
	}

	for _, row := range seedRows {
		price, err := decimal.NewFromString(row.price)
		if err != nil {
			log.Fatalf("Invalid seed price %q: %v", row.price, err)
		}
		_, err = database.Pool.Exec(ctx,
			"INSERT INTO transactions (user_id, symbol, shares, price, executed_at) VALUES ($1, $2, $3, $4, NOW() - $5::interval)",
			userIDs[row.username], row.symbol, row.shares, price, row.ago)
		if err != nil {
			log.Fatalf("Failed to seed transaction for %s: %v", row.username, err)
		}
	}

	// Adjust balances to reflect the seeded trades
	for _, username := range []string{"trader1", "trader2"} {
		_, err = database.Pool.Exec(ctx, `
			UPDATE users
			SET cash = $1 - (SELECT COALESCE(SUM(shares * price), 0) FROM transactions WHERE user_id = users.id)
			WHERE id = $2
		`, startingCash, userIDs[username])
		if err != nil {
			log.Fatalf("Failed to adjust balance for %s: %v", username, err)
		}
	}

	fmt.Println("Successfully seeded the database with demo trades!")
}
