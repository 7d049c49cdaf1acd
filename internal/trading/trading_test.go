package trading

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/jchou/papertrade/internal/db"
	"github.com/jchou/papertrade/internal/models"
	"github.com/jchou/papertrade/internal/quotes"

	"github.com/shopspring/decimal"
)

// fakeStore keeps accounts and the ledger in memory with the same
// check-then-write semantics as the real store
type fakeStore struct {
	users  map[int]*models.User
	ledger []models.Transaction
	nextID int
}

func newFakeStore() *fakeStore {
	return &fakeStore{users: make(map[int]*models.User), nextID: 1}
}

func (f *fakeStore) addUser(id int, cash string) {
	f.users[id] = &models.User{ID: id, Username: "user", Cash: mustDecimal(cash)}
}

func (f *fakeStore) GetUserByID(ctx context.Context, userID int) (*models.User, error) {
	user, ok := f.users[userID]
	if !ok {
		return nil, db.ErrUserNotFound
	}
	copied := *user
	return &copied, nil
}

func (f *fakeStore) ExecuteBuy(ctx context.Context, userID int, symbol string, shares int, price decimal.Decimal) (*models.Transaction, error) {
	user, ok := f.users[userID]
	if !ok {
		return nil, db.ErrUserNotFound
	}
	cost := price.Mul(decimal.NewFromInt(int64(shares)))
	if cost.GreaterThan(user.Cash) {
		return nil, db.ErrInsufficientFunds
	}
	entry := models.Transaction{
		ID: f.nextID, UserID: userID, Symbol: symbol,
		Shares: shares, Price: price, ExecutedAt: time.Now(),
	}
	f.nextID++
	f.ledger = append(f.ledger, entry)
	user.Cash = user.Cash.Sub(cost)
	return &entry, nil
}

func (f *fakeStore) ExecuteSell(ctx context.Context, userID int, symbol string, shares int, price decimal.Decimal) (*models.Transaction, error) {
	user, ok := f.users[userID]
	if !ok {
		return nil, db.ErrUserNotFound
	}
	held, _ := f.GetUserHolding(ctx, userID, symbol)
	if shares > held {
		return nil, db.ErrInsufficientShares
	}
	entry := models.Transaction{
		ID: f.nextID, UserID: userID, Symbol: symbol,
		Shares: -shares, Price: price, ExecutedAt: time.Now(),
	}
	f.nextID++
	f.ledger = append(f.ledger, entry)
	user.Cash = user.Cash.Add(price.Mul(decimal.NewFromInt(int64(shares))))
	return &entry, nil
}

func (f *fakeStore) GetUserHolding(ctx context.Context, userID int, symbol string) (int, error) {
	held := 0
	for _, entry := range f.ledger {
		if entry.UserID == userID && entry.Symbol == symbol {
			held += entry.Shares
		}
	}
	return held, nil
}

func (f *fakeStore) GetUserHoldings(ctx context.Context, userID int) ([]models.Holding, error) {
	sums := make(map[string]int)
	for _, entry := range f.ledger {
		if entry.UserID == userID {
			sums[entry.Symbol] += entry.Shares
		}
	}
	var holdings []models.Holding
	for symbol, total := range sums {
		if total > 0 {
			holdings = append(holdings, models.Holding{Symbol: symbol, TotalShares: total})
		}
	}
	sort.Slice(holdings, func(i, j int) bool { return holdings[i].Symbol < holdings[j].Symbol })
	return holdings, nil
}

func (f *fakeStore) GetUserTransactions(ctx context.Context, userID int) ([]models.Transaction, error) {
	var txns []models.Transaction
	for i := len(f.ledger) - 1; i >= 0; i-- {
		if f.ledger[i].UserID == userID {
			txns = append(txns, f.ledger[i])
		}
	}
	return txns, nil
}

// fakeProvider serves quotes from a fixed map
type fakeProvider struct {
	prices map[string]string
	down   bool
}

func (p *fakeProvider) Lookup(ctx context.Context, symbol string) (*models.Quote, error) {
	if p.down {
		return nil, quotes.ErrQuoteUnavailable
	}
	price, ok := p.prices[symbol]
	if !ok {
		return nil, quotes.ErrUnknownSymbol
	}
	return &models.Quote{Symbol: symbol, Name: symbol + " Inc", Price: mustDecimal(price)}, nil
}

// fakePublisher records published events
type fakePublisher struct {
	published []any
}

func (p *fakePublisher) Publish(topic string, event any) error {
	p.published = append(p.published, event)
	return nil
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestService_Buy(t *testing.T) {
	ctx := context.Background()
	provider := &fakeProvider{prices: map[string]string{"AAPL": "150.00"}}

	tests := []struct {
		name       string
		symbol     string
		shares     int
		expectErr  error
		expectCash string
	}{
		{
			name:       "Success",
			symbol:     "AAPL",
			shares:     10,
			expectCash: "8500",
		},
		{
			name:       "LowercaseSymbol",
			symbol:     "aapl",
			shares:     10,
			expectCash: "8500",
		},
		{
			name:      "InsufficientFunds",
			symbol:    "AAPL",
			shares:    1000,
			expectErr: db.ErrInsufficientFunds,
		},
		{
			name:      "UnknownSymbol",
			symbol:    "NONEXISTENT",
			shares:    10,
			expectErr: quotes.ErrUnknownSymbol,
		},
		{
			name:      "EmptySymbol",
			symbol:    "",
			shares:    10,
			expectErr: ErrInvalidInput,
		},
		{
			name:      "ZeroShares",
			symbol:    "AAPL",
			shares:    0,
			expectErr: ErrInvalidInput,
		},
		{
			name:      "NegativeShares",
			symbol:    "AAPL",
			shares:    -5,
			expectErr: ErrInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			store.addUser(1, "10000.00")
			s := NewService(store, provider, nil)

			entry, err := s.Buy(ctx, 1, tt.symbol, tt.shares)
			if tt.expectErr != nil {
				if !errors.Is(err, tt.expectErr) {
					t.Errorf("expected error %v, got %v", tt.expectErr, err)
				}
				// Rejected operations leave state unchanged
				if len(store.ledger) != 0 {
					t.Errorf("ledger not empty after rejected buy: %d entries", len(store.ledger))
				}
				if !store.users[1].Cash.Equal(mustDecimal("10000.00")) {
					t.Errorf("cash changed after rejected buy: %s", store.users[1].Cash)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if entry.Shares != tt.shares || entry.Symbol != "AAPL" {
				t.Errorf("unexpected ledger entry: %+v", entry)
			}
			if !entry.Price.Equal(mustDecimal("150.00")) {
				t.Errorf("expected price 150.00, got %s", entry.Price)
			}
			if !store.users[1].Cash.Equal(mustDecimal(tt.expectCash)) {
				t.Errorf("expected cash %s, got %s", tt.expectCash, store.users[1].Cash)
			}
		})
	}
}

func TestService_Sell(t *testing.T) {
	ctx := context.Background()
	provider := &fakeProvider{prices: map[string]string{"AAPL": "160.00"}}

	seed := func(store *fakeStore) {
		// 10 AAPL held, bought at 150.00
		store.addUser(1, "8500.00")
		store.ledger = append(store.ledger, models.Transaction{
			ID: 1, UserID: 1, Symbol: "AAPL", Shares: 10,
			Price: mustDecimal("150.00"), ExecutedAt: time.Now(),
		})
		store.nextID = 2
	}

	t.Run("Success", func(t *testing.T) {
		store := newFakeStore()
		seed(store)
		s := NewService(store, provider, nil)

		entry, err := s.Sell(ctx, 1, "AAPL", 10)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if entry.Shares != -10 {
			t.Errorf("expected shares -10, got %d", entry.Shares)
		}
		if !entry.Price.Equal(mustDecimal("160.00")) {
			t.Errorf("expected price 160.00, got %s", entry.Price)
		}
		// 8500 + 10 * 160 = 10100
		if !store.users[1].Cash.Equal(mustDecimal("10100.00")) {
			t.Errorf("expected cash 10100.00, got %s", store.users[1].Cash)
		}
		held, _ := store.GetUserHolding(ctx, 1, "AAPL")
		if held != 0 {
			t.Errorf("expected holding 0 after full sell, got %d", held)
		}
	})

	t.Run("InsufficientShares", func(t *testing.T) {
		store := newFakeStore()
		seed(store)
		s := NewService(store, provider, nil)

		_, err := s.Sell(ctx, 1, "AAPL", 15)
		if !errors.Is(err, db.ErrInsufficientShares) {
			t.Errorf("expected ErrInsufficientShares, got %v", err)
		}
		if len(store.ledger) != 1 {
			t.Errorf("ledger changed after rejected sell")
		}
		if !store.users[1].Cash.Equal(mustDecimal("8500.00")) {
			t.Errorf("cash changed after rejected sell: %s", store.users[1].Cash)
		}
	})

	t.Run("SummedAcrossPartialSells", func(t *testing.T) {
		// Availability must come from SUM(shares), not any single row
		store := newFakeStore()
		seed(store)
		store.ledger = append(store.ledger,
			models.Transaction{ID: 2, UserID: 1, Symbol: "AAPL", Shares: -4, Price: mustDecimal("155.00")},
			models.Transaction{ID: 3, UserID: 1, Symbol: "AAPL", Shares: -4, Price: mustDecimal("156.00")},
		)
		store.nextID = 4
		s := NewService(store, provider, nil)

		if _, err := s.Sell(ctx, 1, "AAPL", 3); !errors.Is(err, db.ErrInsufficientShares) {
			t.Errorf("expected ErrInsufficientShares with 2 held, got %v", err)
		}
		if _, err := s.Sell(ctx, 1, "AAPL", 2); err != nil {
			t.Errorf("expected sell of remaining 2 shares to succeed, got %v", err)
		}
	})

	t.Run("UnheldSymbol", func(t *testing.T) {
		store := newFakeStore()
		seed(store)
		s := NewService(store, provider, nil)

		_, err := s.Sell(ctx, 1, "MSFT", 1)
		if !errors.Is(err, db.ErrInsufficientShares) {
			t.Errorf("expected ErrInsufficientShares for unheld symbol, got %v", err)
		}
	})

	t.Run("InvalidShares", func(t *testing.T) {
		store := newFakeStore()
		seed(store)
		s := NewService(store, provider, nil)

		for _, shares := range []int{0, -1} {
			if _, err := s.Sell(ctx, 1, "AAPL", shares); !errors.Is(err, ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput for %d shares, got %v", shares, err)
			}
		}
	})
}

func TestService_Portfolio(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	store.addUser(1, "8500.00")
	store.ledger = append(store.ledger,
		models.Transaction{ID: 1, UserID: 1, Symbol: "AAPL", Shares: 10, Price: mustDecimal("150.00")},
		models.Transaction{ID: 2, UserID: 1, Symbol: "MSFT", Shares: 2, Price: mustDecimal("300.00")},
		models.Transaction{ID: 3, UserID: 1, Symbol: "MSFT", Shares: -2, Price: mustDecimal("310.00")},
	)

	// Price moved since purchase
	provider := &fakeProvider{prices: map[string]string{"AAPL": "160.00", "MSFT": "305.00"}}
	s := NewService(store, provider, nil)

	portfolio, err := s.Portfolio(ctx, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// MSFT summed to zero and must not appear
	if len(portfolio.Holdings) != 1 {
		t.Fatalf("expected 1 holding, got %d", len(portfolio.Holdings))
	}
	holding := portfolio.Holdings[0]
	if holding.Symbol != "AAPL" || holding.TotalShares != 10 {
		t.Errorf("unexpected holding: %+v", holding)
	}
	if !holding.LineTotal.Equal(mustDecimal("1600.00")) {
		t.Errorf("expected line total 1600.00, got %s", holding.LineTotal)
	}
	if !portfolio.Cash.Equal(mustDecimal("8500.00")) {
		t.Errorf("expected cash 8500.00, got %s", portfolio.Cash)
	}
	if !portfolio.NetWorth.Equal(mustDecimal("10100.00")) {
		t.Errorf("expected net worth 10100.00, got %s", portfolio.NetWorth)
	}
}

func TestService_Portfolio_QuoteUnavailable(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	store.addUser(1, "8500.00")
	store.ledger = append(store.ledger,
		models.Transaction{ID: 1, UserID: 1, Symbol: "AAPL", Shares: 10, Price: mustDecimal("150.00")},
	)

	t.Run("ProviderDown", func(t *testing.T) {
		s := NewService(store, &fakeProvider{down: true}, nil)
		_, err := s.Portfolio(ctx, 1)
		if !errors.Is(err, quotes.ErrQuoteUnavailable) {
			t.Errorf("expected ErrQuoteUnavailable, got %v", err)
		}
	})

	t.Run("HeldSymbolDelisted", func(t *testing.T) {
		s := NewService(store, &fakeProvider{prices: map[string]string{}}, nil)
		_, err := s.Portfolio(ctx, 1)
		if !errors.Is(err, quotes.ErrQuoteUnavailable) {
			t.Errorf("expected ErrQuoteUnavailable, got %v", err)
		}
	})
}

func TestService_History(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	store.addUser(1, "10000.00")
	provider := &fakeProvider{prices: map[string]string{"AAPL": "150.00"}}
	s := NewService(store, provider, nil)

	if _, err := s.Buy(ctx, 1, "AAPL", 5); err != nil {
		t.Fatalf("buy failed: %v", err)
	}
	if _, err := s.Sell(ctx, 1, "AAPL", 2); err != nil {
		t.Fatalf("sell failed: %v", err)
	}

	txns, err := s.History(ctx, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(txns) != 2 {
		t.Fatalf("expected 2 transactions, got %d", len(txns))
	}
	// Newest first
	if txns[0].Shares != -2 || txns[1].Shares != 5 {
		t.Errorf("history not newest first: %+v", txns)
	}
}

func TestService_PublishesTradeEvents(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	store.addUser(1, "10000.00")
	provider := &fakeProvider{prices: map[string]string{"AAPL": "150.00"}}
	publisher := &fakePublisher{}
	s := NewService(store, provider, publisher)

	if _, err := s.Buy(ctx, 1, "AAPL", 10); err != nil {
		t.Fatalf("buy failed: %v", err)
	}
	if len(publisher.published) != 1 {
		t.Fatalf("expected 1 published event, got %d", len(publisher.published))
	}

	// Rejected trades publish nothing
	if _, err := s.Buy(ctx, 1, "AAPL", 1000); !errors.Is(err, db.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if len(publisher.published) != 1 {
		t.Errorf("rejected trade published an event")
	}
}
