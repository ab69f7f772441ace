package main

import (
	"net/http"
	"time"

	"excursion/models"
	"excursion/pkg/auth"
	"excursion/pkg/middleware"

	"github.com/gin-gonic/gin"
)

const refreshCookie = "refreshToken"

type authenticateRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// tokenRequest carries a refresh token in the body; the cookie is the fallback.
type tokenRequest struct {
	Token string `json:"token"`
}

type authenticateResponse struct {
	accountResponse
	JWTToken     string `json:"jwtToken"`
	RefreshToken string `json:"refreshToken"`
}

func (s *server) authenticateHandler(c *gin.Context) {
	var req authenticateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidationError(c, err)
		return
	}
	session, err := s.gate.Authenticate(c.Request.Context(), req.Email, req.Password, c.ClientIP())
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.respondSession(c, session)
}

func (s *server) refreshHandler(c *gin.Context) {
	session, err := s.gate.Refresh(c.Request.Context(), s.presentedToken(c), c.ClientIP())
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.respondSession(c, session)
}

func (s *server) revokeHandler(c *gin.Context) {
	token := s.presentedToken(c)
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Token is required"})
		return
	}
	user, _ := middleware.Principal(c)
	if user.Role != models.RoleAdmin && !user.OwnsRefreshToken(token) {
		middleware.Unauthorized(c)
		return
	}
	if err := s.gate.Revoke(c.Request.Context(), token, c.ClientIP()); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Token revoked"})
}

func (s *server) presentedToken(c *gin.Context) string {
	var req tokenRequest
	// an empty or absent body falls back to the cookie
	_ = c.ShouldBindJSON(&req)
	if req.Token != "" {
		return req.Token
	}
	cookie, err := c.Cookie(refreshCookie)
	if err != nil {
		return ""
	}
	return cookie
}

func (s *server) respondSession(c *gin.Context, session *auth.Session) {
	maxAge := int(s.cfg.RefreshTokenTTL / time.Second)
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(refreshCookie, session.RefreshToken, maxAge, "/", "", s.cfg.SecureCookies, true)
	c.JSON(http.StatusOK, authenticateResponse{
		accountResponse: toAccount(session.User),
		JWTToken:        session.JWT,
		RefreshToken:    session.RefreshToken,
	})
}
