package main

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"excursion/models"
	"excursion/pkg/auth"
	"excursion/pkg/config"
	"excursion/pkg/logging"
	"excursion/pkg/metrics"
	"excursion/pkg/middleware"
	"excursion/pkg/repository"
	"excursion/pkg/tokens"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type serverDeps struct {
	DB       *gorm.DB
	Config   config.Config
	Logger   *zap.Logger
	Registry *prometheus.Registry
	Clock    func() time.Time
	Hasher   auth.PasswordHasher
	Mailer   auth.Mailer
}

type server struct {
	cfg      config.Config
	log      *zap.Logger
	users    *repository.Users
	codec    *tokens.Codec
	gate     *auth.Service
	accounts *auth.Accounts
	limiter  *middleware.IPRateLimiter
	registry *prometheus.Registry
}

func newServer(d serverDeps) (*server, error) {
	log := logging.OrNop(d.Logger)
	registry := d.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	clock := d.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}

	users := repository.NewUsers(d.DB)
	codec, err := tokens.NewCodec(d.Config.JWTSecret, tokens.WithTTL(d.Config.AccessTokenTTL), tokens.WithClock(clock))
	if err != nil {
		return nil, err
	}
	refresh := auth.NewRefreshStore(users, auth.WithRefreshTTL(d.Config.RefreshTokenTTL), auth.WithRefreshClock(clock))
	gate, err := auth.NewService(auth.ServiceConfig{
		Users:   users,
		Bearer:  codec,
		Refresh: refresh,
		Hasher:  d.Hasher,
		Logger:  log,
		Metrics: metrics.NewAuth(registry),
	})
	if err != nil {
		return nil, err
	}
	accounts, err := auth.NewAccounts(auth.AccountsConfig{
		Store:  users,
		Hasher: d.Hasher,
		Mailer: d.Mailer,
		Logger: log,
		Clock:  clock,
	})
	if err != nil {
		return nil, err
	}

	return &server{
		cfg:      d.Config,
		log:      log,
		users:    users,
		codec:    codec,
		gate:     gate,
		accounts: accounts,
		limiter:  middleware.NewIPRateLimiter(d.Config.LoginRateLimit, d.Config.LoginRateBurst),
		registry: registry,
	}, nil
}

func (s *server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestID(), middleware.AccessLog(s.log))
	r.Use(middleware.Identity(s.codec, s.users, s.log))

	limited := s.limiter.Middleware()

	r.GET("/health", anonymous(healthHandler)...)
	r.GET("/metrics", anonymous(gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))...)

	accounts := r.Group("/accounts")
	accounts.POST("/authenticate", append(gin.HandlersChain{limited}, anonymous(s.authenticateHandler)...)...)
	accounts.POST("/refresh-token", append(gin.HandlersChain{limited}, anonymous(s.refreshHandler)...)...)
	accounts.POST("/revoke-token", authorized(s.revokeHandler)...)
	accounts.POST("/register", anonymous(s.registerHandler)...)
	accounts.POST("/verify-email", anonymous(s.verifyEmailHandler)...)
	accounts.POST("/forgot-password", append(gin.HandlersChain{limited}, anonymous(s.forgotPasswordHandler)...)...)
	accounts.POST("/validate-reset-token", anonymous(s.validateResetTokenHandler)...)
	accounts.POST("/reset-password", anonymous(s.resetPasswordHandler)...)

	accounts.GET("", authorized(s.listAccountsHandler, models.RoleAdmin)...)
	accounts.POST("", authorized(s.createAccountHandler, models.RoleAdmin)...)
	accounts.GET("/:id", authorized(s.getAccountHandler)...)
	accounts.PUT("/:id", authorized(s.updateAccountHandler)...)
	accounts.DELETE("/:id", authorized(s.deleteAccountHandler)...)
	accounts.GET("/:id/refresh-tokens", authorized(s.refreshTokensHandler)...)
	return r
}

func anonymous(h gin.HandlerFunc) gin.HandlersChain {
	return gin.HandlersChain{middleware.AllowAnonymous(), middleware.Authorize(), h}
}

func authorized(h gin.HandlerFunc, roles ...models.Role) gin.HandlersChain {
	return gin.HandlersChain{middleware.Authorize(roles...), h}
}

func healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type accountResponse struct {
	ID         uint        `json:"id"`
	Username   string      `json:"username"`
	Email      string      `json:"email"`
	Role       models.Role `json:"role"`
	Created    time.Time   `json:"created"`
	Updated    time.Time   `json:"updated"`
	IsVerified bool        `json:"isVerified"`
}

func toAccount(u *models.User) accountResponse {
	return accountResponse{
		ID:         u.ID,
		Username:   u.Username,
		Email:      u.Email,
		Role:       u.Role,
		Created:    u.CreatedAt,
		Updated:    u.UpdatedAt,
		IsVerified: u.IsVerified(),
	}
}

func (s *server) registerHandler(c *gin.Context) {
	var req auth.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidationError(c, err)
		return
	}
	if err := s.accounts.Register(c.Request.Context(), req, c.GetHeader("Origin")); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Registration successful, please check your email for verification instructions"})
}

func (s *server) verifyEmailHandler(c *gin.Context) {
	var req struct {
		Token string `json:"token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidationError(c, err)
		return
	}
	if err := s.accounts.VerifyEmail(c.Request.Context(), req.Token); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Verification successful, you can now login"})
}

func (s *server) forgotPasswordHandler(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required,email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidationError(c, err)
		return
	}
	if err := s.accounts.ForgotPassword(c.Request.Context(), req.Email, c.GetHeader("Origin")); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Please check your email for password reset instructions"})
}

func (s *server) validateResetTokenHandler(c *gin.Context) {
	var req struct {
		Token string `json:"token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidationError(c, err)
		return
	}
	if err := s.accounts.ValidateResetToken(c.Request.Context(), req.Token); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Token is valid"})
}

func (s *server) resetPasswordHandler(c *gin.Context) {
	var req struct {
		Token           string `json:"token" binding:"required"`
		Password        string `json:"password" binding:"required,min=6"`
		ConfirmPassword string `json:"confirmPassword" binding:"required,eqfield=Password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidationError(c, err)
		return
	}
	if err := s.accounts.ResetPassword(c.Request.Context(), req.Token, req.Password); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Password reset successful, you can now login"})
}

func (s *server) listAccountsHandler(c *gin.Context) {
	users, err := s.accounts.GetAll(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	out := make([]accountResponse, 0, len(users))
	for i := range users {
		out = append(out, toAccount(&users[i]))
	}
	c.JSON(http.StatusOK, out)
}

func (s *server) createAccountHandler(c *gin.Context) {
	var req auth.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidationError(c, err)
		return
	}
	user, err := s.accounts.Create(c.Request.Context(), req)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toAccount(user))
}

func (s *server) getAccountHandler(c *gin.Context) {
	id, ok := s.ownOrAdmin(c)
	if !ok {
		return
	}
	user, err := s.accounts.GetByID(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toAccount(user))
}

func (s *server) updateAccountHandler(c *gin.Context) {
	id, ok := s.ownOrAdmin(c)
	if !ok {
		return
	}
	var req auth.UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidationError(c, err)
		return
	}
	if principal, _ := middleware.Principal(c); req.Role != "" && principal.Role != models.RoleAdmin {
		middleware.Unauthorized(c)
		return
	}
	user, err := s.accounts.Update(c.Request.Context(), id, req)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toAccount(user))
}

func (s *server) deleteAccountHandler(c *gin.Context) {
	id, ok := s.ownOrAdmin(c)
	if !ok {
		return
	}
	if err := s.accounts.Delete(c.Request.Context(), id); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Account deleted successfully"})
}

func (s *server) refreshTokensHandler(c *gin.Context) {
	id, ok := s.ownOrAdmin(c)
	if !ok {
		return
	}
	user, err := s.accounts.GetByID(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user.RefreshTokens)
}

// ownOrAdmin parses :id and lets the request through when it names the
// principal itself or the principal is an administrator.
func (s *server) ownOrAdmin(c *gin.Context) (uint, bool) {
	id64, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid id"})
		return 0, false
	}
	id := uint(id64)
	principal, ok := middleware.Principal(c)
	if !ok || (principal.ID != id && principal.Role != models.RoleAdmin) {
		middleware.Unauthorized(c)
		return 0, false
	}
	return id, true
}

// respondError maps domain errors to a status and a generic message.
func (s *server) respondError(c *gin.Context, err error) {
	switch auth.TextCode(err) {
	case auth.CodeInvalidCredentials:
		c.JSON(http.StatusUnauthorized, gin.H{"message": "Email or password is incorrect"})
	case auth.CodeInvalidToken:
		c.JSON(http.StatusUnauthorized, gin.H{"message": "Invalid token"})
	case auth.CodeNotFound:
		c.JSON(http.StatusNotFound, gin.H{"message": "Not found"})
	case auth.CodeEmailTaken:
		c.JSON(http.StatusConflict, gin.H{"message": "Email is already registered"})
	case auth.CodeVerificationFailed:
		c.JSON(http.StatusBadRequest, gin.H{"message": "Verification failed"})
	case auth.CodeValidation:
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
	default:
		s.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Internal server error"})
	}
}

func respondValidationError(c *gin.Context, err error) {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		details := make([]string, 0, len(validationErrors))
		for _, fieldError := range validationErrors {
			field := lowerCamel(fieldError.Field())
			switch fieldError.Tag() {
			case "required":
				details = append(details, fmt.Sprintf("%s is required", field))
			case "eqfield":
				details = append(details, fmt.Sprintf("%s must match %s", field, lowerCamel(fieldError.Param())))
			default:
				details = append(details, fmt.Sprintf("%s is invalid", field))
			}
		}
		c.JSON(http.StatusBadRequest, gin.H{"message": "validation failed", "details": details})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"message": "invalid body"})
}

func lowerCamel(field string) string {
	if field == "" {
		return field
	}
	return strings.ToLower(field[:1]) + field[1:]
}
