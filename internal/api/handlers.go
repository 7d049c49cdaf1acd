package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jchou/papertrade/internal/auth"
	"github.com/jchou/papertrade/internal/db"
	"github.com/jchou/papertrade/internal/quotes"
	"github.com/jchou/papertrade/internal/trading"

	"github.com/gorilla/websocket"
)

// Handler contains dependencies for HTTP handlers
type Handler struct {
	Trading        *trading.Service
	AuthService    *auth.AuthService
	Quotes         quotes.Provider
	StreamInterval time.Duration
}

// NewHandler creates a new handler
func NewHandler(tradingService *trading.Service, authService *auth.AuthService, provider quotes.Provider, streamInterval time.Duration) *Handler {
	return &Handler{
		Trading:        tradingService,
		AuthService:    authService,
		Quotes:         provider,
		StreamInterval: streamInterval,
	}
}

// Register handles user registration
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username     string `json:"username"`
		Password     string `json:"password"`
		Confirmation string `json:"confirmation"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}

	if req.Username == "" || req.Password == "" {
		http.Error(w, `{"error": "Username and password required"}`, http.StatusBadRequest)
		return
	}

	user, err := h.AuthService.Register(r.Context(), req.Username, req.Password, req.Confirmation)
	if err != nil {
		if errors.Is(err, db.ErrDuplicateUsername) {
			http.Error(w, `{"error": "Username already exists"}`, http.StatusBadRequest)
			return
		}
		http.Error(w, `{"error": "`+err.Error()+`"}`, http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"id":       user.ID,
		"username": user.Username,
		"cash":     user.Cash,
	})
}

// Login handles user login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}

	token, err := h.AuthService.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		http.Error(w, `{"error": "Invalid credentials"}`, http.StatusUnauthorized)
		return
	}

	json.NewEncoder(w).Encode(map[string]string{"token": token})
}

// JWTAuthMiddleware verifies JWT tokens. Requests without a valid token are
// rejected before any store access.
func (h *Handler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := r.Header.Get("Authorization")
		if tokenString == "" {
			http.Error(w, `{"error": "Authorization header required"}`, http.StatusUnauthorized)
			return
		}

		// Remove "Bearer " prefix if present
		if len(tokenString) > 7 && tokenString[:7] == "Bearer " {
			tokenString = tokenString[7:]
		}

		userID, err := h.AuthService.GetUserFromToken(tokenString)
		if err != nil {
			http.Error(w, `{"error": "Invalid or expired token"}`, http.StatusUnauthorized)
			return
		}

		// Add user_id to context
		ctx := context.WithValue(r.Context(), "user_id", userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetQuote looks up the current price for a symbol
func (h *Handler) GetQuote(w http.ResponseWriter, r *http.Request) {
	quote, err := h.Trading.Quote(r.Context(), r.URL.Query().Get("symbol"))
	if err != nil {
		writeTradeError(w, err)
		return
	}

	json.NewEncoder(w).Encode(quote)
}

// Buy purchases shares at the current quote price
func (h *Handler) Buy(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("user_id").(int)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	symbol, shares, ok := decodeTradeRequest(w, r)
	if !ok {
		return
	}

	entry, err := h.Trading.Buy(r.Context(), userID, symbol, shares)
	if err != nil {
		writeTradeError(w, err)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(entry)
}

// Sell sells shares at the current quote price
func (h *Handler) Sell(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("user_id").(int)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	symbol, shares, ok := decodeTradeRequest(w, r)
	if !ok {
		return
	}

	entry, err := h.Trading.Sell(r.Context(), userID, symbol, shares)
	if err != nil {
		writeTradeError(w, err)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(entry)
}

// GetPortfolio returns the user's holdings priced at current quotes
func (h *Handler) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("user_id").(int)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	portfolio, err := h.Trading.Portfolio(r.Context(), userID)
	if err != nil {
		writeTradeError(w, err)
		return
	}

	json.NewEncoder(w).Encode(portfolio)
}

// GetHistory returns the user's transaction history, newest first
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("user_id").(int)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	txns, err := h.Trading.History(r.Context(), userID)
	if err != nil {
		http.Error(w, `{"error": "Failed to retrieve transactions"}`, http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(txns)
}

// decodeTradeRequest parses the shared buy/sell request body. Shares must
// be a whole positive number; fractional or non-numeric values are rejected.
func decodeTradeRequest(w http.ResponseWriter, r *http.Request) (string, int, bool) {
	var req struct {
		Symbol string      `json:"symbol"`
		Shares json.Number `json:"shares"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return "", 0, false
	}

	shares, err := strconv.Atoi(req.Shares.String())
	if err != nil {
		http.Error(w, `{"error": "Shares must be a whole number"}`, http.StatusBadRequest)
		return "", 0, false
	}

	return req.Symbol, shares, true
}

// writeTradeError maps engine errors to HTTP responses
func writeTradeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, trading.ErrInvalidInput):
		http.Error(w, `{"error": "Invalid symbol or share count"}`, http.StatusBadRequest)
	case errors.Is(err, quotes.ErrUnknownSymbol):
		http.Error(w, `{"error": "Symbol does not exist"}`, http.StatusBadRequest)
	case errors.Is(err, db.ErrInsufficientFunds):
		http.Error(w, `{"error": "Insufficient funds"}`, http.StatusBadRequest)
	case errors.Is(err, db.ErrInsufficientShares):
		http.Error(w, `{"error": "Insufficient shares"}`, http.StatusBadRequest)
	case errors.Is(err, quotes.ErrQuoteUnavailable):
		http.Error(w, `{"error": "Quote service unavailable"}`, http.StatusBadGateway)
	default:
		http.Error(w, `{"error": "Internal server error"}`, http.StatusInternalServerError)
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in development
	},
}

// StreamQuotes upgrades the connection and streams fresh quotes for the
// requested symbols until the client disconnects. The loop is owned by the
// request goroutine; no state outlives the connection.
func (h *Handler) StreamQuotes(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.URL.Query().Get("symbols"))
	if raw == "" {
		http.Error(w, `{"error": "symbols query parameter required"}`, http.StatusBadRequest)
		return
	}
	symbols := strings.Split(raw, ",")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Failed to upgrade connection: %v", err)
		return
	}
	defer conn.Close()

	// Detect client disconnect
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.StreamInterval)
	defer ticker.Stop()

	for {
		if err := h.writeQuotes(r.Context(), conn, symbols); err != nil {
			return
		}
		select {
		case <-ticker.C:
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (h *Handler) writeQuotes(ctx context.Context, conn *websocket.Conn, symbols []string) error {
	payload := make(map[string]interface{}, len(symbols))
	for _, symbol := range symbols {
		quote, err := h.Quotes.Lookup(ctx, symbol)
		if err != nil {
			payload[strings.ToUpper(strings.TrimSpace(symbol))] = nil
			continue
		}
		payload[quote.Symbol] = quote
	}

	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("Failed to marshal quotes: %v", err)
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}
