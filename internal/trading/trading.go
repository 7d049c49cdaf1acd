package trading

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/jchou/papertrade/internal/db"
	"github.com/jchou/papertrade/internal/events"
	"github.com/jchou/papertrade/internal/models"
	"github.com/jchou/papertrade/internal/quotes"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrInvalidInput means the symbol or share count failed validation
var ErrInvalidInput = errors.New("invalid input")

// Store is the persistence surface the engine needs. *db.DB implements it.
// ExecuteBuy and ExecuteSell are atomic: they re-check funds/holdings
// against the authoritative state inside the same transaction that writes,
// and a rejected trade leaves no partial state behind.
type Store interface {
	GetUserByID(ctx context.Context, userID int) (*models.User, error)
	ExecuteBuy(ctx context.Context, userID int, symbol string, shares int, price decimal.Decimal) (*models.Transaction, error)
	ExecuteSell(ctx context.Context, userID int, symbol string, shares int, price decimal.Decimal) (*models.Transaction, error)
	GetUserHolding(ctx context.Context, userID int, symbol string) (int, error)
	GetUserHoldings(ctx context.Context, userID int) ([]models.Holding, error)
	GetUserTransactions(ctx context.Context, userID int) ([]models.Transaction, error)
}

var _ Store = (*db.DB)(nil)

// Service is the trading engine: it validates trades against quotes and
// balances and appends them to the ledger through the store
type Service struct {
	store    Store
	provider quotes.Provider
	events   events.Publisher
}

// NewService creates a trading service. publisher may be nil, in which
// case no trade events are emitted.
func NewService(store Store, provider quotes.Provider, publisher events.Publisher) *Service {
	return &Service{store: store, provider: provider, events: publisher}
}

// Quote resolves a symbol through the quote provider
func (s *Service) Quote(ctx context.Context, symbol string) (*models.Quote, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, fmt.Errorf("%w: symbol required", ErrInvalidInput)
	}
	return s.provider.Lookup(ctx, symbol)
}

// Buy purchases shares of symbol at the current quote price. The funds
// check is re-run against the live balance inside the store transaction.
func (s *Service) Buy(ctx context.Context, userID int, symbol string, shares int) (*models.Transaction, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, fmt.Errorf("%w: symbol required", ErrInvalidInput)
	}
	if shares <= 0 {
		return nil, fmt.Errorf("%w: shares must be a positive integer", ErrInvalidInput)
	}

	quote, err := s.provider.Lookup(ctx, symbol)
	if err != nil {
		return nil, err
	}

	entry, err := s.store.ExecuteBuy(ctx, userID, quote.Symbol, shares, quote.Price)
	if err != nil {
		return nil, err
	}

	s.publishTrade(entry)
	return entry, nil
}

// Sell sells shares of symbol at the current quote price. Availability is
// checked against the summed signed ledger, never a single row, and
// re-checked inside the store transaction.
func (s *Service) Sell(ctx context.Context, userID int, symbol string, shares int) (*models.Transaction, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, fmt.Errorf("%w: symbol required", ErrInvalidInput)
	}
	if shares <= 0 {
		return nil, fmt.Errorf("%w: shares must be a positive integer", ErrInvalidInput)
	}

	held, err := s.store.GetUserHolding(ctx, userID, symbol)
	if err != nil {
		return nil, err
	}
	if shares > held {
		return nil, db.ErrInsufficientShares
	}

	quote, err := s.provider.Lookup(ctx, symbol)
	if err != nil {
		return nil, err
	}

	entry, err := s.store.ExecuteSell(ctx, userID, quote.Symbol, shares, quote.Price)
	if err != nil {
		return nil, err
	}

	s.publishTrade(entry)
	return entry, nil
}

// Portfolio returns the user's open holdings priced at current quotes,
// cash, and net worth. If any quote lookup fails the whole call fails;
// no partial portfolio is returned.
func (s *Service) Portfolio(ctx context.Context, userID int) (*models.Portfolio, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	holdings, err := s.store.GetUserHoldings(ctx, userID)
	if err != nil {
		return nil, err
	}

	netWorth := user.Cash
	for i := range holdings {
		quote, err := s.provider.Lookup(ctx, holdings[i].Symbol)
		if err != nil {
			if errors.Is(err, quotes.ErrUnknownSymbol) {
				// A symbol we hold dropped off the provider; same outcome
				// for the caller as the provider being down.
				return nil, fmt.Errorf("%w: %s", quotes.ErrQuoteUnavailable, holdings[i].Symbol)
			}
			return nil, err
		}
		holdings[i].Name = quote.Name
		holdings[i].Price = quote.Price
		holdings[i].LineTotal = quote.Price.Mul(decimal.NewFromInt(int64(holdings[i].TotalShares)))
		netWorth = netWorth.Add(holdings[i].LineTotal)
	}

	return &models.Portfolio{
		Holdings: holdings,
		Cash:     user.Cash,
		NetWorth: netWorth,
	}, nil
}

// History returns the user's full ledger, newest first
func (s *Service) History(ctx context.Context, userID int) ([]models.Transaction, error) {
	return s.store.GetUserTransactions(ctx, userID)
}

// publishTrade emits a trade event after commit. The ledger row is already
// durable, so a publish failure is logged and not surfaced to the caller.
func (s *Service) publishTrade(entry *models.Transaction) {
	if s.events == nil {
		return
	}
	event := events.TradeExecuted{
		EventID:    uuid.New().String(),
		UserID:     entry.UserID,
		Symbol:     entry.Symbol,
		Shares:     entry.Shares,
		Price:      entry.Price,
		Total:      entry.Price.Mul(decimal.NewFromInt(int64(entry.Shares))).Abs(),
		ExecutedAt: entry.ExecutedAt,
	}
	if err := s.events.Publish("trade_executed", event); err != nil {
		log.Printf("Failed to publish trade event: %v", err)
	}
}
