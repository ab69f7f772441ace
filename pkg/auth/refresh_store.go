package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"excursion/models"
)

// DefaultRefreshTTL is the refresh token lifetime and the retention window
// for pruning inactive tokens.
const DefaultRefreshTTL = 7 * 24 * time.Hour

// refreshTokenBytes is the entropy of a refresh token; it renders as 128 hex chars.
const refreshTokenBytes = 64

// TokenLookup finds refresh tokens across every principal.
type TokenLookup interface {
	FindByRefreshToken(ctx context.Context, token string) (*models.User, error)
	RefreshTokenExists(ctx context.Context, token string) (bool, error)
}

// RefreshStore manages the refresh token lifecycle on a loaded User aggregate.
// It never writes to the database itself; callers persist the aggregate.
type RefreshStore struct {
	lookup TokenLookup
	ttl    time.Duration
	now    func() time.Time
	random io.Reader
}

type RefreshOption func(*RefreshStore)

func WithRefreshTTL(ttl time.Duration) RefreshOption {
	return func(s *RefreshStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func WithRefreshClock(now func() time.Time) RefreshOption {
	return func(s *RefreshStore) {
		if now != nil {
			s.now = now
		}
	}
}

// WithRandom replaces crypto/rand as the entropy source.
func WithRandom(r io.Reader) RefreshOption {
	return func(s *RefreshStore) {
		if r != nil {
			s.random = r
		}
	}
}

func NewRefreshStore(lookup TokenLookup, opts ...RefreshOption) *RefreshStore {
	s := &RefreshStore{
		lookup: lookup,
		ttl:    DefaultRefreshTTL,
		now:    func() time.Time { return time.Now().UTC() },
		random: rand.Reader,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Now is the store clock; token state is always evaluated against it.
func (s *RefreshStore) Now() time.Time {
	return s.now()
}

func (s *RefreshStore) TTL() time.Duration {
	return s.ttl
}

// Generate creates a token value that no stored token uses yet.
func (s *RefreshStore) Generate(ctx context.Context, ip string) (models.RefreshToken, error) {
	for {
		value, err := randomHex(s.random, refreshTokenBytes)
		if err != nil {
			return models.RefreshToken{}, fmt.Errorf("generate refresh token: %w", err)
		}
		taken, err := s.lookup.RefreshTokenExists(ctx, value)
		if err != nil {
			return models.RefreshToken{}, err
		}
		if taken {
			continue
		}
		now := s.now()
		return models.RefreshToken{
			Token:       value,
			CreatedAt:   now,
			ExpiresAt:   now.Add(s.ttl),
			CreatedByIP: ip,
		}, nil
	}
}

// FindOwner returns the principal owning value, whatever the token's state.
func (s *RefreshStore) FindOwner(ctx context.Context, value string) (*models.User, error) {
	return s.lookup.FindByRefreshToken(ctx, value)
}

// Revoke stamps the revocation fields. An empty replacement leaves any
// existing successor pointer untouched.
func (s *RefreshStore) Revoke(token *models.RefreshToken, ip, reason, replacement string) {
	now := s.now()
	token.RevokedAt = &now
	token.RevokedByIP = strPtr(ip)
	token.ReasonRevoked = strPtr(reason)
	if replacement != "" {
		token.ReplacedByToken = strPtr(replacement)
	}
}

// Prune drops tokens that are inactive and older than the retention window.
func (s *RefreshStore) Prune(user *models.User) int {
	now := s.now()
	return user.RemoveRefreshTokens(func(rt *models.RefreshToken) bool {
		return !rt.IsActive(now) && !rt.CreatedAt.Add(s.ttl).After(now)
	})
}

func randomHex(r io.Reader, n int) (string, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func strPtr(s string) *string {
	return &s
}
