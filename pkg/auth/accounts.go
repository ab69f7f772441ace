package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"excursion/models"
	"excursion/pkg/logging"
	"excursion/pkg/repository"

	"go.uber.org/zap"
)

// ResetTokenTTL is how long a password reset token stays valid.
const ResetTokenTTL = 24 * time.Hour

// AccountStore is the principal repository as used by account management.
type AccountStore interface {
	FindByID(ctx context.Context, id uint) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByVerificationToken(ctx context.Context, token string) (*models.User, error)
	FindByResetToken(ctx context.Context, token string, now time.Time) (*models.User, error)
	FindByCondition(ctx context.Context, query interface{}, args ...interface{}) ([]models.User, error)
	FindAll(ctx context.Context) ([]models.User, error)
	Count(ctx context.Context) (int64, error)
	Create(ctx context.Context, user *models.User) error
	Save(ctx context.Context, user *models.User) error
	Delete(ctx context.Context, user *models.User) error
}

type RegisterRequest struct {
	Username        string `json:"username" binding:"required,min=3,max=64"`
	Email           string `json:"email" binding:"required,email"`
	Password        string `json:"password" binding:"required,min=6"`
	ConfirmPassword string `json:"confirmPassword" binding:"required,eqfield=Password"`
}

type CreateRequest struct {
	Username string `json:"username" binding:"required,min=3,max=64"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
	Role     string `json:"role" binding:"required"`
}

// UpdateRequest changes only the fields that are set.
type UpdateRequest struct {
	Username string `json:"username" binding:"omitempty,min=3,max=64"`
	Email    string `json:"email" binding:"omitempty,email"`
	Password string `json:"password" binding:"omitempty,min=6"`
	Role     string `json:"role"`
}

// Accounts handles registration, verification, password reset and admin CRUD.
type Accounts struct {
	store  AccountStore
	hasher PasswordHasher
	mailer Mailer
	log    *zap.Logger
	now    func() time.Time
	random io.Reader
}

type AccountsConfig struct {
	Store  AccountStore
	Hasher PasswordHasher
	Mailer Mailer
	Logger *zap.Logger
	Clock  func() time.Time
	Random io.Reader
}

func NewAccounts(cfg AccountsConfig) (*Accounts, error) {
	if cfg.Store == nil {
		return nil, errors.New("auth: account store is required")
	}
	a := &Accounts{
		store:  cfg.Store,
		hasher: cfg.Hasher,
		mailer: cfg.Mailer,
		log:    logging.OrNop(cfg.Logger).Named("accounts"),
		now:    cfg.Clock,
		random: cfg.Random,
	}
	if a.hasher == nil {
		a.hasher = BcryptHasher{}
	}
	if a.mailer == nil {
		a.mailer = NewLogMailer(cfg.Logger)
	}
	if a.now == nil {
		a.now = func() time.Time { return time.Now().UTC() }
	}
	if a.random == nil {
		a.random = rand.Reader
	}
	return a, nil
}

// Register creates an unverified account and mails its verification token.
// A registered email is a silent success so callers cannot probe for accounts.
func (a *Accounts) Register(ctx context.Context, req RegisterRequest, origin string) error {
	email := repository.NormalizeEmail(req.Email)
	if _, err := a.store.FindByEmail(ctx, email); err == nil {
		a.log.Info("registration for existing email ignored")
		return nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		return errInternal(err, "load account")
	}
	if err := a.ensureUsernameFree(ctx, req.Username, 0); err != nil {
		return err
	}

	count, err := a.store.Count(ctx)
	if err != nil {
		return errInternal(err, "count accounts")
	}
	role := models.RoleUser
	if count == 0 {
		role = models.RoleAdmin
	}

	hash, err := a.hasher.Hash(req.Password)
	if err != nil {
		return errInternal(err, "hash password")
	}
	token, err := a.uniqueVerificationToken(ctx)
	if err != nil {
		return err
	}
	user := &models.User{
		Username:          strings.TrimSpace(req.Username),
		Email:             email,
		PasswordHash:      hash,
		Role:              role,
		VerificationToken: &token,
	}
	if err := a.store.Create(ctx, user); err != nil {
		return errInternal(err, "create account")
	}
	a.log.Info("account registered", zap.Uint("user_id", user.ID), zap.String("role", string(role)))

	return a.send(ctx, Message{
		To:      user.Email,
		Subject: "Verify your email",
		Body:    linkOrToken(origin, "/accounts/verify-email", token),
	})
}

func (a *Accounts) VerifyEmail(ctx context.Context, token string) error {
	if token == "" {
		return errVerificationFailed()
	}
	user, err := a.store.FindByVerificationToken(ctx, token)
	if errors.Is(err, repository.ErrNotFound) {
		return errVerificationFailed()
	}
	if err != nil {
		return errInternal(err, "load account")
	}
	now := a.now()
	user.VerifiedAt = &now
	user.VerificationToken = nil
	if err := a.store.Save(ctx, user); err != nil {
		return errInternal(err, "save account")
	}
	a.log.Info("email verified", zap.Uint("user_id", user.ID))
	return nil
}

// ForgotPassword always succeeds for the caller. A reset token is only
// issued and mailed when the account exists.
func (a *Accounts) ForgotPassword(ctx context.Context, email, origin string) error {
	user, err := a.store.FindByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return errInternal(err, "load account")
	}
	token, err := a.uniqueResetToken(ctx)
	if err != nil {
		return err
	}
	expires := a.now().Add(ResetTokenTTL)
	user.ResetToken = &token
	user.ResetTokenExpires = &expires
	if err := a.store.Save(ctx, user); err != nil {
		return errInternal(err, "save account")
	}
	return a.send(ctx, Message{
		To:      user.Email,
		Subject: "Reset your password",
		Body:    linkOrToken(origin, "/accounts/reset-password", token),
	})
}

func (a *Accounts) ValidateResetToken(ctx context.Context, token string) error {
	_, err := a.resetTarget(ctx, token)
	return err
}

func (a *Accounts) ResetPassword(ctx context.Context, token, password string) error {
	user, err := a.resetTarget(ctx, token)
	if err != nil {
		return err
	}
	hash, err := a.hasher.Hash(password)
	if err != nil {
		return errInternal(err, "hash password")
	}
	now := a.now()
	user.PasswordHash = hash
	user.PasswordResetAt = &now
	user.ResetToken = nil
	user.ResetTokenExpires = nil
	if err := a.store.Save(ctx, user); err != nil {
		return errInternal(err, "save account")
	}
	a.log.Info("password reset", zap.Uint("user_id", user.ID))
	return nil
}

func (a *Accounts) GetAll(ctx context.Context) ([]models.User, error) {
	users, err := a.store.FindAll(ctx)
	if err != nil {
		return nil, errInternal(err, "list accounts")
	}
	return users, nil
}

func (a *Accounts) GetByID(ctx context.Context, id uint) (*models.User, error) {
	user, err := a.store.FindByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, errNotFound("account")
	}
	if err != nil {
		return nil, errInternal(err, "load account")
	}
	return user, nil
}

// Create adds an account on behalf of an administrator. It is verified immediately.
func (a *Accounts) Create(ctx context.Context, req CreateRequest) (*models.User, error) {
	role, ok := models.ParseRole(req.Role)
	if !ok {
		return nil, errValidation(fmt.Sprintf("unknown role %q", req.Role))
	}
	email := repository.NormalizeEmail(req.Email)
	if err := a.ensureEmailFree(ctx, email, 0); err != nil {
		return nil, err
	}
	if err := a.ensureUsernameFree(ctx, req.Username, 0); err != nil {
		return nil, err
	}
	hash, err := a.hasher.Hash(req.Password)
	if err != nil {
		return nil, errInternal(err, "hash password")
	}
	now := a.now()
	user := &models.User{
		Username:     strings.TrimSpace(req.Username),
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		VerifiedAt:   &now,
	}
	if err := a.store.Create(ctx, user); err != nil {
		return nil, errInternal(err, "create account")
	}
	a.log.Info("account created", zap.Uint("user_id", user.ID), zap.String("role", string(role)))
	return user, nil
}

func (a *Accounts) Update(ctx context.Context, id uint, req UpdateRequest) (*models.User, error) {
	user, err := a.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Email != "" {
		email := repository.NormalizeEmail(req.Email)
		if email != user.Email {
			if err := a.ensureEmailFree(ctx, email, user.ID); err != nil {
				return nil, err
			}
			user.Email = email
		}
	}
	if req.Username != "" {
		username := strings.TrimSpace(req.Username)
		if username != user.Username {
			if err := a.ensureUsernameFree(ctx, username, user.ID); err != nil {
				return nil, err
			}
			user.Username = username
		}
	}
	if req.Role != "" {
		role, ok := models.ParseRole(req.Role)
		if !ok {
			return nil, errValidation(fmt.Sprintf("unknown role %q", req.Role))
		}
		user.Role = role
	}
	if req.Password != "" {
		hash, err := a.hasher.Hash(req.Password)
		if err != nil {
			return nil, errInternal(err, "hash password")
		}
		user.PasswordHash = hash
	}
	if err := a.store.Save(ctx, user); err != nil {
		return nil, errInternal(err, "save account")
	}
	return user, nil
}

func (a *Accounts) Delete(ctx context.Context, id uint) error {
	user, err := a.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := a.store.Delete(ctx, user); err != nil {
		return errInternal(err, "delete account")
	}
	a.log.Info("account deleted", zap.Uint("user_id", id))
	return nil
}

func (a *Accounts) resetTarget(ctx context.Context, token string) (*models.User, error) {
	if token == "" {
		return nil, errInvalidToken()
	}
	user, err := a.store.FindByResetToken(ctx, token, a.now())
	if errors.Is(err, repository.ErrNotFound) {
		return nil, errInvalidToken()
	}
	if err != nil {
		return nil, errInternal(err, "load account")
	}
	return user, nil
}

func (a *Accounts) ensureEmailFree(ctx context.Context, email string, self uint) error {
	existing, err := a.store.FindByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return errInternal(err, "load account")
	}
	if existing.ID != self {
		return errEmailTaken(email)
	}
	return nil
}

func (a *Accounts) ensureUsernameFree(ctx context.Context, username string, self uint) error {
	matches, err := a.store.FindByCondition(ctx, "username = ?", strings.TrimSpace(username))
	if err != nil {
		return errInternal(err, "load account")
	}
	for _, u := range matches {
		if u.ID != self {
			return errValidation("username is already taken")
		}
	}
	return nil
}

func (a *Accounts) uniqueVerificationToken(ctx context.Context) (string, error) {
	return a.uniqueToken(ctx, "verification_token = ?")
}

func (a *Accounts) uniqueResetToken(ctx context.Context) (string, error) {
	return a.uniqueToken(ctx, "reset_token = ?")
}

func (a *Accounts) uniqueToken(ctx context.Context, column string) (string, error) {
	for {
		value, err := randomHex(a.random, refreshTokenBytes)
		if err != nil {
			return "", errInternal(err, "generate token")
		}
		matches, err := a.store.FindByCondition(ctx, column, value)
		if err != nil {
			return "", errInternal(err, "check token")
		}
		if len(matches) == 0 {
			return value, nil
		}
	}
}

func (a *Accounts) send(ctx context.Context, msg Message) error {
	if err := a.mailer.Send(ctx, msg); err != nil {
		return errInternal(err, "send email")
	}
	return nil
}

func linkOrToken(origin, path, token string) string {
	if origin == "" {
		return "Use this token with " + path + ": " + token
	}
	return strings.TrimRight(origin, "/") + path + "?token=" + token
}
