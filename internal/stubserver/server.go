// Package stubserver is a self-contained fake auth backend speaking the same
// REST contract the session layer consumes. It backs the authstub binary and
// the client integration tests; it is not a production surface.
package stubserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	oapimiddleware "github.com/oapi-codegen/echo-middleware"
	"go.uber.org/zap"

	"github.com/rryowa/sessiond/internal/models"
	"github.com/rryowa/sessiond/internal/util"
)

const shutdownTimeout = 5 * time.Second

type account struct {
	profile  models.UserProfile
	password string
	migrated []models.HistoryEntry
}

type grant struct {
	email     string
	expiresAt time.Time
}

type Server struct {
	server    *echo.Echo
	log       *zap.SugaredLogger
	accessTTL time.Duration

	gracefulTimeout time.Duration

	mu     sync.Mutex
	users  map[string]*account
	tokens map[string]*grant
	nextID int64
}

func NewServer(cfg *util.ServerConfig, log *zap.SugaredLogger) (*Server, error) {
	e := echo.New()
	e.HideBanner = true
	e.Server.Addr = cfg.ServerAddr
	e.Server.WriteTimeout = cfg.WriteTimeout
	e.Server.ReadTimeout = cfg.ReadTimeout
	e.Server.IdleTimeout = cfg.IdleTimeout

	s := &Server{
		server:          e,
		log:             log,
		accessTTL:       cfg.AccessTTL,
		gracefulTimeout: cfg.GracefulTimeout,
		users:           make(map[string]*account),
		tokens:          make(map[string]*grant),
	}

	swagger, err := loadSpec()
	if err != nil {
		return nil, err
	}

	e.HTTPErrorHandler = errorHandler(log)
	e.Use(echomiddleware.RequestLoggerWithConfig(loggerMiddlewareConfig(log)))
	e.Use(oapimiddleware.OapiRequestValidator(swagger))
	s.routes(e)

	s.seedDemoUser()
	return s, nil
}

// Handler exposes the echo instance for httptest-driven clients.
func (s *Server) Handler() http.Handler { return s.server }

func (s *Server) Run(ctx context.Context) {
	go func() {
		err := s.server.Start(s.server.Server.Addr)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Fatalf("HTTP server ListenAndServe: %v", err)
		}
	}()
	s.log.Infof("Stub auth backend listening on: %s", s.server.Server.Addr)

	<-ctx.Done()
	s.log.Info("Shutting down stub backend...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		s.log.Errorf("shutdown: %v", err)
	}

	longShutdown := make(chan struct{}, 1)
	go func() {
		time.Sleep(s.gracefulTimeout)
		longShutdown <- struct{}{}
	}()

	select {
	case <-shutdownCtx.Done():
		s.log.Info("stub backend shutdown completed")
	case <-longShutdown:
		s.log.Infof("finished")
	}
}

func (s *Server) seedDemoUser() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	s.users["demo@example.com"] = &account{
		profile: models.UserProfile{
			ID:       s.nextID,
			Email:    "demo@example.com",
			FullName: "Demo User",
			Credits:  5,
		},
		password: "demo-password",
	}
}

func errorHandler(log *zap.SugaredLogger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var he *echo.HTTPError
		if errors.As(err, &he) {
			if he.Code == http.StatusInternalServerError {
				log.Errorw("HTTP error", "error", err, "uri", c.Request().RequestURI)
			}
			reason := fmt.Sprintf("%v", he.Message)
			if err := c.JSON(he.Code, map[string]string{"reason": reason}); err != nil {
				log.Errorw("failed to write json response", "error", err)
			}
			return
		}

		log.Errorw("unhandled error", "error", err, "uri", c.Request().RequestURI)
		if err := c.JSON(http.StatusInternalServerError, map[string]string{"reason": "internal server error"}); err != nil {
			log.Errorw("failed to write json response", "error", err)
		}
	}
}

func loggerMiddlewareConfig(log *zap.SugaredLogger) echomiddleware.RequestLoggerConfig {
	return echomiddleware.RequestLoggerConfig{
		LogMethod: true,
		LogURI:    true,
		LogStatus: true,
		LogError:  true,

		LogValuesFunc: func(c echo.Context, v echomiddleware.RequestLoggerValues) error {
			fields := []interface{}{
				"method", c.Request().Method,
				"uri", v.URI,
				"status", v.Status,
			}
			if v.Error != nil {
				fields = append(fields, zap.Error(v.Error))
				log.Errorw("Request", fields...)
			} else {
				log.Infow("Request", fields...)
			}
			return nil
		},
	}
}
