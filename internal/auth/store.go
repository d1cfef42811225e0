// Package auth stores the backend bearer token locally and validates it.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/zulandar/ember/internal/api"
	"github.com/zulandar/ember/internal/models"
)

// ErrNoCredential is returned when no token is stored for the backend.
var ErrNoCredential = errors.New("auth: not logged in")

// Store persists one token per backend URL and implements api.TokenSource.
// The token is cached in memory after the first read.
type Store struct {
	db     *gorm.DB
	apiURL string
	logger *slog.Logger

	mu     sync.Mutex
	loaded bool
	token  string
}

// NewStore returns a credential store for apiURL.
func NewStore(db *gorm.DB, apiURL string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, apiURL: apiURL, logger: logger}
}

// Token returns the stored token, or "" when none is stored.
func (s *Store) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		var cred models.Credential
		err := s.db.Where("api_url = ?", s.apiURL).First(&cred).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			s.logger.Warn("auth: load credential", "err", err)
		}
		s.token = cred.Token
		s.loaded = true
	}
	return s.token
}

// Invalidate drops the stored token. Called when the backend answers 401.
func (s *Store) Invalidate() {
	if err := s.Clear(); err != nil {
		s.logger.Warn("auth: clear credential", "err", err)
	}
}

// Save stores token for the backend, replacing any previous one.
func (s *Store) Save(token string) error {
	cred := models.Credential{APIURL: s.apiURL, Token: token}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "api_url"}},
		DoUpdates: clause.AssignmentColumns([]string{"token", "updated_at"}),
	}).Create(&cred).Error
	if err != nil {
		return fmt.Errorf("auth: save credential: %w", err)
	}
	s.mu.Lock()
	s.token, s.loaded = token, true
	s.mu.Unlock()
	return nil
}

// Clear removes the stored token.
func (s *Store) Clear() error {
	s.mu.Lock()
	s.token, s.loaded = "", true
	s.mu.Unlock()
	if err := s.db.Where("api_url = ?", s.apiURL).Delete(&models.Credential{}).Error; err != nil {
		return fmt.Errorf("auth: clear credential: %w", err)
	}
	return nil
}

// Identity resolves the user behind a token.
type Identity interface {
	Me(ctx context.Context) (*models.User, error)
}

// Session ties a store to the backend identity endpoint.
type Session struct {
	Store  *Store
	Client Identity
}

// Login validates token against the backend and stores it on success. On
// failure any stored token is cleared.
func (s *Session) Login(ctx context.Context, token string) (*models.User, error) {
	if token == "" {
		return nil, errors.New("auth: token is required")
	}
	s.Store.mu.Lock()
	s.Store.token, s.Store.loaded = token, true
	s.Store.mu.Unlock()

	user, err := s.Client.Me(ctx)
	if err != nil {
		if clearErr := s.Store.Clear(); clearErr != nil {
			s.Store.logger.Warn("auth: clear after failed login", "err", clearErr)
		}
		if errors.Is(err, api.ErrUnauthorized) {
			return nil, errors.New("auth: invalid token")
		}
		return nil, fmt.Errorf("auth: validate token: %w", err)
	}
	if err := s.Store.Save(token); err != nil {
		return nil, err
	}
	return user, nil
}

// Logout forgets the stored token.
func (s *Session) Logout() error {
	return s.Store.Clear()
}

// Whoami returns the user for the stored token.
func (s *Session) Whoami(ctx context.Context) (*models.User, error) {
	if s.Store.Token() == "" {
		return nil, ErrNoCredential
	}
	user, err := s.Client.Me(ctx)
	if errors.Is(err, api.ErrUnauthorized) {
		return nil, errors.New("auth: session expired, run `ember login`")
	}
	if err != nil {
		return nil, fmt.Errorf("auth: whoami: %w", err)
	}
	return user, nil
}
