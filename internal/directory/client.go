// Package directory talks to the user service's internal API.
package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/habitflow/notifier/internal/domain"
	apperrors "github.com/habitflow/notifier/internal/errors"
	"github.com/habitflow/notifier/internal/usercache"
	"github.com/habitflow/notifier/pkg/config"
	"github.com/habitflow/notifier/pkg/metrics"
)

const (
	serviceName    = "user-service"
	defaultTimeout = 5 * time.Second
	maxErrorBody   = 512
)

// ErrUserNotFound is returned when the directory has no such user.
var ErrUserNotFound = errors.New("user not found")

// TokenSource provides the bearer token attached to every request.
type TokenSource interface {
	ServiceToken() (string, error)
}

// Client is safe for concurrent use.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	tokens  TokenSource
	cache   usercache.Cache
	breaker *apperrors.CircuitBreaker
	log     *slog.Logger
}

// Option customizes a Client.
type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithCache(cache usercache.Cache) Option {
	return func(c *Client) { c.cache = cache }
}

func WithBreaker(settings apperrors.BreakerSettings) Option {
	return func(c *Client) {
		if settings.OnStateChange == nil {
			settings.OnStateChange = c.onBreakerChange
		}
		c.breaker = apperrors.NewCircuitBreaker(settings)
	}
}

func New(cfg config.UserServiceConfig, tokens TokenSource, log *slog.Logger, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse user service url: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	c := &Client{
		baseURL: base,
		http:    &http.Client{Timeout: timeout},
		tokens:  tokens,
		log:     log,
	}
	c.breaker = apperrors.NewCircuitBreaker(apperrors.BreakerSettings{
		OnStateChange: c.onBreakerChange,
	})

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

func (c *Client) onBreakerChange(from, to apperrors.State) {
	c.log.Warn("user service breaker changed state",
		slog.String("from", from.String()),
		slog.String("to", to.String()),
	)
	metrics.SetBreakerOpen(serviceName, to == apperrors.StateOpen)
}

// ResolveUser looks up a user by username, consulting the cache first.
func (c *Client) ResolveUser(ctx context.Context, username string) (*domain.User, error) {
	if c.cache != nil {
		cached, err := c.cache.Get(ctx, username)
		if err != nil {
			c.log.WarnContext(ctx, "user cache read failed", slog.Any("error", err))
		} else if cached != nil {
			return cached, nil
		}
	}

	var user domain.User
	found, err := c.do(ctx, http.MethodGet, "/auth/internal/username/"+url.PathEscape(username), nil, &user)
	if err != nil {
		return nil, err
	}
	if !found || user.ID == 0 {
		return nil, ErrUserNotFound
	}

	if c.cache != nil {
		if err := c.cache.Set(ctx, &user); err != nil {
			c.log.WarnContext(ctx, "user cache write failed", slog.Any("error", err))
		}
	}

	return &user, nil
}

// UserExists reports false only when the directory answers 404.
func (c *Client) UserExists(ctx context.Context, userID int64) (bool, error) {
	return c.do(ctx, http.MethodGet, "/auth/internal/id/"+strconv.FormatInt(userID, 10), nil, nil)
}

// UsersByIDs fetches several users in one request. Unknown ids are absent from the result.
func (c *Client) UsersByIDs(ctx context.Context, ids []int64) ([]*domain.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var users []*domain.User
	if _, err := c.do(ctx, http.MethodPost, "/auth/internal/ids", ids, &users); err != nil {
		return nil, err
	}

	return users, nil
}

// do returns found=false on 404. Other failures become UpstreamUnavailable errors.
func (c *Client) do(ctx context.Context, method, path string, body, out any) (bool, error) {
	found := true

	err := c.breaker.Call(func() error {
		req, err := c.newRequest(ctx, method, path, body)
		if err != nil {
			return err
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("%s %s: %w", method, path, err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			found = false
			return nil
		case resp.StatusCode < 200 || resp.StatusCode > 299:
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
			return fmt.Errorf("%s %s: unexpected status %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(snippet))
		}

		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode %s response: %w", path, err)
		}
		return nil
	})
	if err != nil {
		c.log.WarnContext(ctx, "user service call failed",
			slog.String("method", method),
			slog.String("path", path),
			slog.Any("error", err),
		)
		return false, apperrors.NewUpstreamUnavailableError(serviceName, err)
	}

	return found, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	token, err := c.tokens.ServiceToken()
	if err != nil {
		return nil, fmt.Errorf("service token: %w", err)
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return req, nil
}
