package events

import (
	"time"

	"github.com/shopspring/decimal"
)

// Publisher emits domain events to an external stream
type Publisher interface {
	Publish(topic string, event any) error
}

// TradeExecuted is emitted after a buy or sell has been committed to the
// ledger. Shares are signed the same way as the ledger row.
type TradeExecuted struct {
	EventID    string          `json:"event_id"`
	UserID     int             `json:"user_id"`
	Symbol     string          `json:"symbol"`
	Shares     int             `json:"shares"`
	Price      decimal.Decimal `json:"price"`
	Total      decimal.Decimal `json:"total"`
	ExecutedAt time.Time       `json:"executed_at"`
}
