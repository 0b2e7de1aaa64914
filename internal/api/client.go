package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/rryowa/sessiond/internal/models"
	"github.com/rryowa/sessiond/internal/util"
)

const maxErrorBodyBytes = 4 << 10

// Client is the HTTP implementation of the auth backend contract consumed by
// the session layer.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  *TokenCache
	log     *zap.SugaredLogger
}

func NewClient(cfg *util.APIConfig, tokens *TokenCache, log *zap.SugaredLogger) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		http:    &http.Client{Timeout: cfg.Timeout},
		tokens:  tokens,
		log:     log,
	}
}

func (c *Client) Login(ctx context.Context, email, password string, rememberMe bool) (*models.LoginResult, error) {
	req := models.LoginRequest{Email: email, Password: password, RememberMe: rememberMe}
	var out models.LoginResult
	if err := c.doJSON(ctx, http.MethodPost, "/auth/login", req, &out); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	return &out, nil
}

// Register never yields a credential; business rejections (duplicate email,
// weak password) come back as an unsuccessful result, not an error.
func (c *Client) Register(ctx context.Context, email, password, fullName string) (*models.RegisterResult, error) {
	req := models.RegisterRequest{Email: email, Password: password, FullName: fullName}
	var out models.RegisterResult
	err := c.doJSON(ctx, http.MethodPost, "/auth/register", req, &out)
	if err == nil {
		return &out, nil
	}
	if IsBusinessRejection(err) && !IsCredentialRejected(err) {
		var apiErr *Error
		if ok := asAPIError(err, &apiErr); ok {
			return &models.RegisterResult{Success: false, Message: apiErr.Reason}, nil
		}
	}
	return nil, fmt.Errorf("register: %w", err)
}

func (c *Client) RefreshToken(ctx context.Context) (*models.LoginResult, error) {
	var out models.LoginResult
	if err := c.doJSON(ctx, http.MethodPost, "/auth/refresh", nil, &out); err != nil {
		return nil, fmt.Errorf("refresh token: %w", err)
	}
	return &out, nil
}

func (c *Client) Logout(ctx context.Context) error {
	if err := c.doJSON(ctx, http.MethodPost, "/auth/logout", nil, nil); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

func (c *Client) UserCredits(ctx context.Context) (*models.CreditsResult, error) {
	var out models.CreditsResult
	if err := c.doJSON(ctx, http.MethodGet, "/users/credits", nil, &out); err != nil {
		return nil, fmt.Errorf("user credits: %w", err)
	}
	return &out, nil
}

func (c *Client) MigrateEntries(ctx context.Context, entries []models.HistoryEntry) (*models.MigrationResult, error) {
	req := models.MigrationRequest{Entries: entries}
	var out models.MigrationResult
	if err := c.doJSON(ctx, http.MethodPost, "/history/migrate", req, &out); err != nil {
		return nil, fmt.Errorf("migrate entries: %w", err)
	}
	return &out, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.tokens.Get(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		return c.errorFromResponse(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response body: %w", err)
	}
	return nil
}

func (c *Client) errorFromResponse(resp *http.Response) error {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	if err != nil {
		return NewError(resp.StatusCode, "unreadable error body")
	}

	var body struct {
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(raw, &body); err != nil || body.Reason == "" {
		return NewError(resp.StatusCode, "%s", http.StatusText(resp.StatusCode))
	}
	return NewError(resp.StatusCode, "%s", body.Reason)
}
