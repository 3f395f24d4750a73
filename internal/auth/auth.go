// Package auth is the identity collaborator: it registers users, checks
// passwords and issues the tokens every other operation trusts.
package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/bcrypt"

	"github.com/4xmen/gapchat/internal/apperr"
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

type Service struct {
	db        *sql.DB
	jwtSecret string
	tokenTTL  time.Duration
}

type Claims struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

func New(db *sql.DB, jwtSecret string) *Service {
	return NewWithTokenTTL(db, jwtSecret, 24*time.Hour)
}

func NewWithTokenTTL(db *sql.DB, jwtSecret string, tokenTTL time.Duration) *Service {
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}

	return &Service{
		db:        db,
		jwtSecret: jwtSecret,
		tokenTTL:  tokenTTL,
	}
}

func (s *Service) Register(ctx context.Context, username, password string) (int64, error) {
	const op = "auth.register"

	username = strings.TrimSpace(username)
	if len(username) < 3 || len(username) > 32 {
		return 0, apperr.Validation(op, "username must be between 3 and 32 characters")
	}
	if !usernamePattern.MatchString(username) {
		return 0, apperr.Validation(op, "username can only contain letters, numbers, and underscores")
	}
	if len(password) < 6 {
		return 0, apperr.Validation(op, "password must be at least 6 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return 0, apperr.Internal(op, fmt.Errorf("failed to hash password: %w", err))
	}

	result, err := s.db.ExecContext(ctx,
		"INSERT INTO users (username, password_hash) VALUES (?, ?)",
		username,
		string(hash),
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return 0, apperr.Conflict(op, "username already exists")
		}
		return 0, apperr.Internal(op, fmt.Errorf("failed to register user: %w", err))
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, apperr.Internal(op, fmt.Errorf("failed to get user id: %w", err))
	}
	return id, nil
}

// Login checks the credentials and returns a signed token and the user id.
func (s *Service) Login(ctx context.Context, username, password string) (string, int64, error) {
	const op = "auth.login"

	username = strings.TrimSpace(username)

	var userID int64
	var passwordHash string
	err := s.db.QueryRowContext(ctx,
		"SELECT id, password_hash FROM users WHERE username = ?",
		username,
	).Scan(&userID, &passwordHash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", 0, apperr.New(apperr.KindForbidden, op, "invalid username or password")
	}
	if err != nil {
		return "", 0, apperr.Internal(op, fmt.Errorf("failed to query user: %w", err))
	}

	if err := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(password)); err != nil {
		return "", 0, apperr.New(apperr.KindForbidden, op, "invalid username or password")
	}

	token, err := s.GenerateToken(userID, username)
	if err != nil {
		return "", 0, apperr.Internal(op, err)
	}
	return token, userID, nil
}

func (s *Service) GenerateToken(userID int64, username string) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:   userID,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(s.jwtSecret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}

func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.jwtSecret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// UserExists checks if a user with the given ID exists
func (s *Service) UserExists(ctx context.Context, userID int64) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM users WHERE id = ?)", userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to query user: %w", err)
	}
	return exists, nil
}
