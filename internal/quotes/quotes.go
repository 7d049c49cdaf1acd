package quotes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jchou/papertrade/internal/models"

	"github.com/shopspring/decimal"
)

var (
	// ErrUnknownSymbol means the provider does not know the ticker symbol
	ErrUnknownSymbol = errors.New("unknown symbol")
	// ErrQuoteUnavailable means the provider could not be reached or
	// returned an unusable response
	ErrQuoteUnavailable = errors.New("quote unavailable")
)

// Provider resolves a ticker symbol to a current quote
type Provider interface {
	Lookup(ctx context.Context, symbol string) (*models.Quote, error)
}

// Client fetches quotes from an IEX-style HTTP API:
// GET {baseURL}/stock/{symbol}/quote?token={token}
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a quote client with a bounded request timeout
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Lookup fetches the current quote for symbol. The provider is always
// re-queried; nothing is cached across requests.
func (c *Client) Lookup(ctx context.Context, symbol string) (*models.Quote, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, ErrUnknownSymbol
	}

	reqURL := fmt.Sprintf("%s/stock/%s/quote?token=%s", c.baseURL, url.PathEscape(symbol), url.QueryEscape(c.token))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQuoteUnavailable, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQuoteUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrUnknownSymbol
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: provider returned status %d", ErrQuoteUnavailable, resp.StatusCode)
	}

	var body struct {
		Symbol      string          `json:"symbol"`
		CompanyName string          `json:"companyName"`
		LatestPrice decimal.Decimal `json:"latestPrice"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrQuoteUnavailable, err)
	}
	if body.Symbol == "" || !body.LatestPrice.IsPositive() {
		return nil, fmt.Errorf("%w: incomplete quote for %s", ErrQuoteUnavailable, symbol)
	}

	return &models.Quote{
		Symbol: strings.ToUpper(body.Symbol),
		Name:   body.CompanyName,
		Price:  body.LatestPrice,
	}, nil
}
