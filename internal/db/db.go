package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jchou/papertrade/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrUserNotFound means no account exists for the given id or username
	ErrUserNotFound = errors.New("user not found")
	// ErrDuplicateUsername means the username is already registered
	ErrDuplicateUsername = errors.New("username already exists")
	// ErrInsufficientFunds means the trade cost exceeds the account's cash,
	// checked against the authoritative balance inside the trade transaction
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrInsufficientShares means the sell exceeds the derived holding,
	// checked against the summed ledger inside the trade transaction
	ErrInsufficientShares = errors.New("insufficient shares")
)

// DB wraps a PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// NewDB initializes a new database connection pool
func NewDB(ctx context.Context, connString string) (*DB, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close closes the database connection pool
func (db *DB) Close(ctx context.Context) error {
	db.Pool.Close()
	return nil
}

// CreateUser inserts a new user with the given starting cash balance
func (db *DB) CreateUser(ctx context.Context, username, passwordHash string, startingCash decimal.Decimal) (*models.User, error) {
	user := &models.User{}
	err := db.Pool.QueryRow(ctx,
		"INSERT INTO users (username, password_hash, cash) VALUES ($1, $2, $3) RETURNING id, username, password_hash, cash, created_at",
		username, passwordHash, startingCash).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.Cash, &user.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrDuplicateUsername
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// GetUserByUsername retrieves a user by username
func (db *DB) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	user := &models.User{}
	err := db.Pool.QueryRow(ctx,
		"SELECT id, username, password_hash, cash, created_at FROM users WHERE username = $1",
		username).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.Cash, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// GetUserByID retrieves a user by id
func (db *DB) GetUserByID(ctx context.Context, userID int) (*models.User, error) {
	user := &models.User{}
	err := db.Pool.QueryRow(ctx,
		"SELECT id, username, password_hash, cash, created_at FROM users WHERE id = $1",
		userID).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.Cash, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// ExecuteBuy appends a positive ledger row and debits the account's cash in
// a single transaction. The account row is locked first and the funds check
// runs against the balance read under that lock, so two concurrent buys
// cannot both spend the same cash.
func (db *DB) ExecuteBuy(ctx context.Context, userID int, symbol string, shares int, price decimal.Decimal) (*models.Transaction, error) {
	if shares <= 0 {
		return nil, fmt.Errorf("shares must be positive")
	}
	if !price.IsPositive() {
		return nil, fmt.Errorf("price must be positive")
	}
	cost := price.Mul(decimal.NewFromInt(int64(shares)))

	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var cash decimal.Decimal
	err = tx.QueryRow(ctx, "SELECT cash FROM users WHERE id = $1 FOR UPDATE", userID).Scan(&cash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}

	if cost.GreaterThan(cash) {
		return nil, ErrInsufficientFunds
	}

	entry := &models.Transaction{}
	err = tx.QueryRow(ctx,
		"INSERT INTO transactions (user_id, symbol, shares, price) VALUES ($1, $2, $3, $4) RETURNING id, user_id, symbol, shares, price, executed_at",
		userID, symbol, shares, price).Scan(
		&entry.ID, &entry.UserID, &entry.Symbol, &entry.Shares, &entry.Price, &entry.ExecutedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to record transaction: %w", err)
	}

	_, err = tx.Exec(ctx, "UPDATE users SET cash = cash - $1 WHERE id = $2", cost, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to update balance: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return entry, nil
}

// ExecuteSell appends a negative ledger row and credits the account's cash
// in a single transaction. The account row lock serializes trades per
// account, so the holding sum computed here cannot be oversold by a
// concurrent sell.
func (db *DB) ExecuteSell(ctx context.Context, userID int, symbol string, shares int, price decimal.Decimal) (*models.Transaction, error) {
	if shares <= 0 {
		return nil, fmt.Errorf("shares must be positive")
	}
	if !price.IsPositive() {
		return nil, fmt.Errorf("price must be positive")
	}
	proceeds := price.Mul(decimal.NewFromInt(int64(shares)))

	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var cash decimal.Decimal
	err = tx.QueryRow(ctx, "SELECT cash FROM users WHERE id = $1 FOR UPDATE", userID).Scan(&cash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}

	var held int
	err = tx.QueryRow(ctx,
		"SELECT COALESCE(SUM(shares), 0) FROM transactions WHERE user_id = $1 AND symbol = $2",
		userID, symbol).Scan(&held)
	if err != nil {
		return nil, fmt.Errorf("failed to get holding: %w", err)
	}

	if shares > held {
		return nil, ErrInsufficientShares
	}

	entry := &models.Transaction{}
	err = tx.QueryRow(ctx,
		"INSERT INTO transactions (user_id, symbol, shares, price) VALUES ($1, $2, $3, $4) RETURNING id, user_id, symbol, shares, price, executed_at",
		userID, symbol, -shares, price).Scan(
		&entry.ID, &entry.UserID, &entry.Symbol, &entry.Shares, &entry.Price, &entry.ExecutedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to record transaction: %w", err)
	}

	_, err = tx.Exec(ctx, "UPDATE users SET cash = cash + $1 WHERE id = $2", proceeds, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to update balance: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return entry, nil
}

// GetUserHoldings derives the user's open positions by summing signed
// ledger rows per symbol. Symbols whose sum has returned to zero drop out.
func (db *DB) GetUserHoldings(ctx context.Context, userID int) ([]models.Holding, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT symbol, SUM(shares) AS total_shares
		FROM transactions
		WHERE user_id = $1
		GROUP BY symbol
		HAVING SUM(shares) > 0
		ORDER BY symbol
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get holdings: %w", err)
	}
	defer rows.Close()

	var holdings []models.Holding
	for rows.Next() {
		var h models.Holding
		if err := rows.Scan(&h.Symbol, &h.TotalShares); err != nil {
			return nil, fmt.Errorf("failed to scan holding: %w", err)
		}
		holdings = append(holdings, h)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}

	return holdings, nil
}

// GetUserHolding returns the derived share count for one (user, symbol)
func (db *DB) GetUserHolding(ctx context.Context, userID int, symbol string) (int, error) {
	var held int
	err := db.Pool.QueryRow(ctx,
		"SELECT COALESCE(SUM(shares), 0) FROM transactions WHERE user_id = $1 AND symbol = $2",
		userID, symbol).Scan(&held)
	if err != nil {
		return 0, fmt.Errorf("failed to get holding: %w", err)
	}
	return held, nil
}

// GetUserTransactions retrieves the user's full ledger, newest first
func (db *DB) GetUserTransactions(ctx context.Context, userID int) ([]models.Transaction, error) {
	rows, err := db.Pool.Query(ctx,
		"SELECT id, user_id, symbol, shares, price, executed_at FROM transactions WHERE user_id = $1 ORDER BY executed_at DESC, id DESC",
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get transactions: %w", err)
	}
	defer rows.Close()

	var txns []models.Transaction
	for rows.Next() {
		var t models.Transaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.Symbol, &t.Shares, &t.Price, &t.ExecutedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txns = append(txns, t)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}

	return txns, nil
}
