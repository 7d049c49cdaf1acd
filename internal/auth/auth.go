package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jchou/papertrade/internal/db"
	"github.com/jchou/papertrade/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
)

// AuthService handles user registration and authentication
type AuthService struct {
	DB           *db.DB
	Secret       []byte
	StartingCash decimal.Decimal
}

// NewAuthService creates a new auth service
func NewAuthService(database *db.DB, secret string, startingCash decimal.Decimal) *AuthService {
	return &AuthService{DB: database, Secret: []byte(secret), StartingCash: startingCash}
}

// Register creates a new account with a hashed password and the fixed
// starting cash balance
func (s *AuthService) Register(ctx context.Context, username, password, confirmation string) (*models.User, error) {
	// Validate input
	if username == "" {
		return nil, fmt.Errorf("username cannot be empty")
	}
	if password == "" {
		return nil, fmt.Errorf("password cannot be empty")
	}
	if len(username) > 50 {
		return nil, fmt.Errorf("username too long (max 50 characters)")
	}
	if len(password) > 100 {
		return nil, fmt.Errorf("password too long (max 100 characters)")
	}
	if len(password) < 8 {
		return nil, fmt.Errorf("password must be at least 8 characters")
	}
	if !strings.ContainsAny(password, "!@#$%^&*") {
		return nil, fmt.Errorf("password must contain a special character")
	}
	if password != confirmation {
		return nil, fmt.Errorf("passwords do not match")
	}

	// Hash the password
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	// Create user in database
	user, err := s.DB.CreateUser(ctx, username, string(hashedPassword), s.StartingCash)
	if err != nil {
		return nil, err
	}
	return user, nil
}

// Login verifies credentials and generates a JWT
func (s *AuthService) Login(ctx context.Context, username, password string) (string, error) {
	// Get user from database
	user, err := s.DB.GetUserByUsername(ctx, username)
	if err != nil {
		return "", err
	}

	// Verify password
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", err
	}

	// Generate JWT
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id":  user.ID,
		"username": user.Username,
		"exp":      time.Now().Add(24 * time.Hour).Unix(),
	})

	tokenString, err := token.SignedString(s.Secret)
	if err != nil {
		return "", err
	}
	return tokenString, nil
}

// GetUserFromToken extracts the user id from a JWT
func (s *AuthService) GetUserFromToken(tokenString string) (int, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return s.Secret, nil
	})
	if err != nil {
		return 0, err
	}

	if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
		userID, ok := claims["user_id"].(float64)
		if !ok {
			return 0, fmt.Errorf("invalid token claims")
		}
		return int(userID), nil
	}
	return 0, fmt.Errorf("invalid token")
}
