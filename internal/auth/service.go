package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Jeffrey-done/SubScript/internal/apperr"
	"github.com/Jeffrey-done/SubScript/internal/models"
	"github.com/Jeffrey-done/SubScript/internal/storage"
)

const (
	// DefaultSessionTTL is the fixed lifetime of an issued session token.
	DefaultSessionTTL = 7 * 24 * time.Hour
	minUsernameLength = 3

	userKeyPrefix    = "user:"
	sessionKeyPrefix = "session:"
	dataKeyPrefix    = "data:"
)

var (
	ErrInvalidInput  = errors.New("username must be at least 3 characters and password is required")
	ErrUserExists    = errors.New("user already exists")
	ErrUserNotFound  = errors.New("user not found")
	ErrBadPassword   = errors.New("invalid password")
	ErrTokenRequired = errors.New("authorization required")
	ErrInvalidToken  = errors.New("invalid or expired token")
)

// Service registers accounts, issues session tokens and resolves them back to usernames.
type Service struct {
	store    storage.Store
	tokenTTL time.Duration
}

// NewService constructs an auth service with the supplied token lifetime.
func NewService(store storage.Store, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Service{store: store, tokenTTL: ttl}
}

// Register creates the account. The put-if-absent write makes concurrent duplicates
// resolve to exactly one success.
func (s *Service) Register(ctx context.Context, username, password string) error {
	username = strings.TrimSpace(username)
	if len([]rune(username)) < minUsernameLength || password == "" {
		return apperr.Data("auth.register", ErrInvalidInput.Error(), ErrInvalidInput)
	}

	salt, err := randomHex(16)
	if err != nil {
		return err
	}
	account := models.UserAccount{PasswordHash: hashPassword(password, salt), Salt: salt}
	raw, err := json.Marshal(account)
	if err != nil {
		return fmt.Errorf("encode account: %w", err)
	}

	created, err := s.store.SetNX(ctx, userKeyPrefix+username, string(raw), 0)
	if err != nil {
		return fmt.Errorf("store account: %w", err)
	}
	if !created {
		return apperr.Auth("auth.register", http.StatusConflict, ErrUserExists.Error(), ErrUserExists)
	}
	return nil
}

// Login verifies the password against the stored salt and issues a session token.
func (s *Service) Login(ctx context.Context, username, password string) (*models.Session, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, apperr.Auth("auth.login", http.StatusNotFound, ErrUserNotFound.Error(), ErrUserNotFound)
	}

	raw, err := s.store.Get(ctx, userKeyPrefix+username)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.Auth("auth.login", http.StatusNotFound, ErrUserNotFound.Error(), ErrUserNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}
	var account models.UserAccount
	if err := json.Unmarshal([]byte(raw), &account); err != nil {
		return nil, fmt.Errorf("decode account: %w", err)
	}

	computed := hashPassword(password, account.Salt)
	if subtle.ConstantTimeCompare([]byte(computed), []byte(account.PasswordHash)) != 1 {
		return nil, apperr.Auth("auth.login", http.StatusUnauthorized, ErrBadPassword.Error(), ErrBadPassword)
	}

	token, err := generateToken()
	if err != nil {
		return nil, err
	}
	if err := s.store.Set(ctx, sessionKeyPrefix+token, username, s.tokenTTL); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}
	return &models.Session{Token: token, Username: username, ExpiresAt: time.Now().UTC().Add(s.tokenTTL)}, nil
}

// ResolveToken returns the username owning the session token.
func (s *Service) ResolveToken(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", apperr.Auth("auth.resolve", http.StatusUnauthorized, ErrTokenRequired.Error(), ErrTokenRequired)
	}
	username, err := s.store.Get(ctx, sessionKeyPrefix+token)
	if errors.Is(err, storage.ErrNotFound) {
		return "", apperr.Auth("auth.resolve", http.StatusUnauthorized, ErrInvalidToken.Error(), ErrInvalidToken)
	}
	if err != nil {
		return "", fmt.Errorf("lookup session: %w", err)
	}
	return username, nil
}

// SaveData overwrites the user's sync blob.
func (s *Service) SaveData(ctx context.Context, username string, blob []byte) error {
	if err := s.store.Set(ctx, dataKeyPrefix+username, string(blob), 0); err != nil {
		return fmt.Errorf("store sync data: %w", err)
	}
	return nil
}

// LoadData returns the user's sync blob, or nil when nothing was pushed yet.
func (s *Service) LoadData(ctx context.Context, username string) ([]byte, error) {
	raw, err := s.store.Get(ctx, dataKeyPrefix+username)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load sync data: %w", err)
	}
	return []byte(raw), nil
}

// TokenTTL reports the configured token lifetime.
func (s *Service) TokenTTL() time.Duration {
	return s.tokenTTL
}

func hashPassword(password, salt string) string {
	sum := sha256.Sum256([]byte(password + salt))
	return hex.EncodeToString(sum[:])
}

func generateToken() (string, error) {
	return randomHex(32)
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
