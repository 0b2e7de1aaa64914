package stubserver

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/rryowa/sessiond/internal/models"
)

func (s *Server) routes(e *echo.Echo) {
	e.POST("/auth/login", s.handleLogin)
	e.POST("/auth/register", s.handleRegister)
	e.POST("/auth/refresh", s.handleRefresh)
	e.POST("/auth/logout", s.handleLogout)
	e.GET("/users/credits", s.handleCredits)
	e.POST("/history/migrate", s.handleMigrate)
}

func (s *Server) handleLogin(c echo.Context) error {
	var req models.LoginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[req.Email]
	if !ok || user.password != req.Password {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid email or password")
	}

	ttl := s.accessTTL
	if req.RememberMe {
		ttl *= 2
	}
	return c.JSON(http.StatusOK, s.issueLocked(user, ttl))
}

func (s *Server) handleRegister(c echo.Context) error {
	var req models.RegisterRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[req.Email]; ok {
		return echo.NewHTTPError(http.StatusConflict, "email already registered")
	}

	s.nextID++
	s.users[req.Email] = &account{
		profile: models.UserProfile{
			ID:       s.nextID,
			Email:    req.Email,
			FullName: req.FullName,
		},
		password: req.Password,
	}

	// No credential in the response: registration never authenticates.
	return c.JSON(http.StatusOK, models.RegisterResult{
		Success: true,
		Message: "account created, check your email to confirm",
	})
}

func (s *Server) handleRefresh(c echo.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// A known grant refreshes even past its expiry; only an unknown or
	// revoked credential is rejected as invalid.
	token := bearerToken(c)
	g, ok := s.tokens[token]
	if token == "" || !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid credential")
	}
	user, ok := s.users[g.email]
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid credential")
	}

	// Rotation: the presented credential dies with the refresh.
	delete(s.tokens, token)
	return c.JSON(http.StatusOK, s.issueLocked(user, s.accessTTL))
}

func (s *Server) handleLogout(c echo.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if token := bearerToken(c); token != "" {
		delete(s.tokens, token)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleCredits(c echo.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, _, err := s.authedLocked(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, models.CreditsResult{Credits: user.profile.Credits})
}

func (s *Server) handleMigrate(c echo.Context) error {
	var req models.MigrationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	user, _, err := s.authedLocked(c)
	if err != nil {
		return err
	}

	user.migrated = append(user.migrated, req.Entries...)
	return c.JSON(http.StatusOK, models.MigrationResult{
		Success:       true,
		MigratedCount: len(req.Entries),
	})
}

func (s *Server) issueLocked(user *account, ttl time.Duration) models.LoginResult {
	token := uuid.NewString()
	s.tokens[token] = &grant{email: user.profile.Email, expiresAt: time.Now().Add(ttl)}

	return models.LoginResult{
		AccessToken:      token,
		ExpiresInSeconds: int(ttl.Seconds()),
		User:             user.profile,
	}
}

func (s *Server) authedLocked(c echo.Context) (*account, string, error) {
	token := bearerToken(c)
	if token == "" {
		return nil, "", echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
	}

	g, ok := s.tokens[token]
	if !ok || time.Now().After(g.expiresAt) {
		return nil, "", echo.NewHTTPError(http.StatusUnauthorized, "invalid credential")
	}

	user, ok := s.users[g.email]
	if !ok {
		return nil, "", echo.NewHTTPError(http.StatusUnauthorized, "invalid credential")
	}
	return user, token, nil
}

func bearerToken(c echo.Context) string {
	header := c.Request().Header.Get(echo.HeaderAuthorization)
	return strings.TrimPrefix(header, "Bearer ")
}
