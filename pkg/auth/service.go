package auth

import (
	"context"
	"errors"
	"fmt"

	"excursion/models"
	"excursion/pkg/logging"
	"excursion/pkg/metrics"
	"excursion/pkg/repository"

	"go.uber.org/zap"
)

// Revocation reasons recorded on refresh tokens.
const (
	ReasonReplaced        = "Replaced by new token"
	ReasonRevoked         = "Revoked without replacement"
	reasonReuseAncestorFm = "Attempted reuse of revoked ancestor token: %s"
)

// BearerIssuer signs short-lived bearer credentials.
type BearerIssuer interface {
	Issue(principalID uint) (string, error)
}

// UserStore is the slice of the user repository the gate depends on.
type UserStore interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	Save(ctx context.Context, user *models.User) error
}

// Session is a freshly issued credential pair.
type Session struct {
	User         *models.User
	JWT          string
	RefreshToken string
}

// Service authenticates principals and rotates their refresh tokens.
type Service struct {
	users   UserStore
	bearer  BearerIssuer
	refresh *RefreshStore
	hasher  PasswordHasher
	log     *zap.Logger
	metrics *metrics.Auth
}

type ServiceConfig struct {
	Users   UserStore
	Bearer  BearerIssuer
	Refresh *RefreshStore
	Hasher  PasswordHasher
	Logger  *zap.Logger
	Metrics *metrics.Auth
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Users == nil || cfg.Bearer == nil || cfg.Refresh == nil {
		return nil, errors.New("auth: users, bearer issuer and refresh store are required")
	}
	hasher := cfg.Hasher
	if hasher == nil {
		hasher = BcryptHasher{}
	}
	return &Service{
		users:   cfg.Users,
		bearer:  cfg.Bearer,
		refresh: cfg.Refresh,
		hasher:  hasher,
		log:     logging.OrNop(cfg.Logger).Named("auth"),
		metrics: cfg.Metrics,
	}, nil
}

// Authenticate checks credentials and opens a new session lineage.
// Unknown email, unverified account and wrong password are indistinguishable.
func (s *Service) Authenticate(ctx context.Context, email, password, ip string) (*Session, error) {
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, errInternal(err, "load account")
	}
	if user == nil || !user.IsVerified() || !s.hasher.Verify(password, user.PasswordHash) {
		s.metrics.Login("failure")
		s.log.Info("login rejected", zap.String("ip", ip))
		return nil, errInvalidCredentials()
	}

	jwt, err := s.bearer.Issue(user.ID)
	if err != nil {
		return nil, errInternal(err, "issue bearer credential")
	}
	refresh, err := s.refresh.Generate(ctx, ip)
	if err != nil {
		return nil, errInternal(err, "generate refresh token")
	}
	user.AddRefreshToken(refresh)
	s.refresh.Prune(user)

	if err := s.users.Save(ctx, user); err != nil {
		return nil, errInternal(err, "save account")
	}

	s.metrics.Login("success")
	s.log.Info("login succeeded", zap.Uint("user_id", user.ID), zap.String("ip", ip))
	return &Session{User: user, JWT: jwt, RefreshToken: refresh.Token}, nil
}

// Refresh exchanges an active refresh token for a new pair. Presenting a
// revoked token revokes every still-active descendant in its lineage before
// the request is rejected.
func (s *Service) Refresh(ctx context.Context, value, ip string) (*Session, error) {
	user, token, err := s.resolve(ctx, value)
	if err != nil {
		s.metrics.Refresh("failure")
		return nil, err
	}

	if token.IsRevoked() {
		revoked := s.revokeDescendants(user, token, ip, fmt.Sprintf(reasonReuseAncestorFm, value))
		s.metrics.ReuseDetected()
		s.log.Warn("revoked refresh token presented",
			zap.Uint("user_id", user.ID),
			zap.String("ip", ip),
			zap.Int("descendants_revoked", revoked),
		)
		if err := s.users.Save(ctx, user); err != nil {
			return nil, errInternal(err, "save account")
		}
	}

	if !token.IsActive(s.refresh.Now()) {
		s.metrics.Refresh("failure")
		return nil, errInvalidToken()
	}

	next, err := s.refresh.Generate(ctx, ip)
	if err != nil {
		return nil, errInternal(err, "generate refresh token")
	}
	s.refresh.Revoke(token, ip, ReasonReplaced, next.Token)
	// token points into user.RefreshTokens; do not use it past this append
	user.AddRefreshToken(next)
	s.refresh.Prune(user)

	if err := s.users.Save(ctx, user); err != nil {
		return nil, errInternal(err, "save account")
	}
	jwt, err := s.bearer.Issue(user.ID)
	if err != nil {
		return nil, errInternal(err, "issue bearer credential")
	}

	s.metrics.Refresh("success")
	s.log.Info("refresh token rotated", zap.Uint("user_id", user.ID), zap.String("ip", ip))
	return &Session{User: user, JWT: jwt, RefreshToken: next.Token}, nil
}

// Revoke ends one session lineage on client request. Only an active token can be revoked.
func (s *Service) Revoke(ctx context.Context, value, ip string) error {
	user, token, err := s.resolve(ctx, value)
	if err != nil {
		return err
	}
	if !token.IsActive(s.refresh.Now()) {
		return errInvalidToken()
	}
	s.refresh.Revoke(token, ip, ReasonRevoked, "")
	if err := s.users.Save(ctx, user); err != nil {
		return errInternal(err, "save account")
	}
	s.metrics.Revocation()
	s.log.Info("refresh token revoked", zap.Uint("user_id", user.ID), zap.String("ip", ip))
	return nil
}

func (s *Service) resolve(ctx context.Context, value string) (*models.User, *models.RefreshToken, error) {
	if value == "" {
		return nil, nil, errInvalidToken()
	}
	user, err := s.refresh.FindOwner(ctx, value)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil, errInvalidToken()
	}
	if err != nil {
		return nil, nil, errInternal(err, "load token owner")
	}
	token := user.FindRefreshToken(value)
	if token == nil {
		return nil, nil, errInvalidToken()
	}
	return user, token, nil
}

// revokeDescendants follows ReplacedByToken links from start and revokes each
// active token it reaches. A dangling link ends the walk.
func (s *Service) revokeDescendants(user *models.User, start *models.RefreshToken, ip, reason string) int {
	now := s.refresh.Now()
	seen := map[string]struct{}{start.Token: {}}
	revoked := 0
	current := start
	for {
		nextValue, ok := current.Successor()
		if !ok {
			return revoked
		}
		if _, loop := seen[nextValue]; loop {
			return revoked
		}
		seen[nextValue] = struct{}{}
		next := user.FindRefreshToken(nextValue)
		if next == nil {
			return revoked
		}
		if next.IsActive(now) {
			s.refresh.Revoke(next, ip, reason, "")
			revoked++
		}
		current = next
	}
}
