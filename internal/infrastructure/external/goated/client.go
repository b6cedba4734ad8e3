// Package goated implements the client of the affiliate leaderboard API.
// The client fetches one page at a time under a per-request timeout, guards
// every call with an injected circuit breaker and paces requests with a
// client-side rate limiter.
package goated

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/vip-wager/wager-hub/internal/domain/shared"
	"github.com/vip-wager/wager-hub/internal/domain/wager"
	"github.com/vip-wager/wager-hub/pkg/circuitbreaker"
	"github.com/vip-wager/wager-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// ClientConfig contains configuration for the affiliate API client.
type ClientConfig struct {
	// APIURL is the full leaderboard endpoint.
	APIURL string

	// Token is sent as "Authorization: Bearer {token}".
	Token string

	// Timeout bounds each request.
	Timeout time.Duration

	// RequestsPerSecond caps outbound requests. Zero disables the limiter.
	RequestsPerSecond float64

	// Burst is the limiter bucket size.
	Burst int

	// MaxResponseBytes bounds the body that is read.
	MaxResponseBytes int64

	// Breaker guards the API. If nil a breaker with default settings is created.
	Breaker *circuitbreaker.Breaker

	// HTTPClient overrides the transport (tests).
	HTTPClient *http.Client

	// Logger for structured logging.
	Logger *zap.Logger
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig(apiURL, token string) ClientConfig {
	return ClientConfig{
		APIURL:            apiURL,
		Token:             token,
		Timeout:           30 * time.Second,
		RequestsPerSecond: 5,
		Burst:             1,
		MaxResponseBytes:  32 << 20,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Client is the affiliate leaderboard API client.
type Client struct {
	config     ClientConfig
	httpClient *http.Client
	breaker    *circuitbreaker.Breaker
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// NewClient creates a new client.
func NewClient(config ClientConfig) *Client {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxResponseBytes <= 0 {
		config.MaxResponseBytes = 32 << 20
	}
	log := logger.OrNop(config.Logger).With(logger.Component("goated_client"))

	breaker := config.Breaker
	if breaker == nil {
		breaker = circuitbreaker.New("goated_api",
			circuitbreaker.WithOnStateChange(func(name string, from, to circuitbreaker.State) {
				log.Warn("circuit breaker state changed",
					zap.String("breaker", name), zap.Stringer("from", from), zap.Stringer("to", to))
			}),
		)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	var limiter *rate.Limiter
	if config.RequestsPerSecond > 0 {
		burst := config.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), burst)
	}

	return &Client{
		config:     config,
		httpClient: httpClient,
		breaker:    breaker,
		limiter:    limiter,
		logger:     log,
	}
}

// FetchPage fetches one page of the leaderboard for tf.
//
// While the breaker is open no request is made and the error matches
// shared.ErrExternalAPIUnavailable and circuitbreaker.ErrCircuitOpen.
// Entries that fail to decode are returned in FeedPage.Rejected and do not
// count as a gateway failure.
func (c *Client) FetchPage(ctx context.Context, tf wager.Timeframe, limit, page int) (*wager.FeedPage, error) {
	const op = "FetchPage"

	if !tf.IsValid() {
		return nil, shared.Validationf("goated", op, "invalid timeframe %q", tf)
	}
	if limit < 1 {
		limit = 1
	}
	if page < 1 {
		page = 1
	}

	if err := c.breaker.Allow(); err != nil {
		return nil, shared.WrapError("goated", op, shared.ErrExternalAPIUnavailable, "affiliate API temporarily unavailable", err)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("goated: wait for rate limiter: %w", err)
		}
	}

	start := time.Now()
	resp, err := c.doRequest(ctx, tf, limit, page)
	if err != nil {
		if ctx.Err() != nil {
			// The caller gave up; that says nothing about the API.
			return nil, fmt.Errorf("goated: %s page %d: %w", tf, page, ctx.Err())
		}
		c.breaker.RecordFailure()
		classified := c.classify(op, err)
		c.logger.Warn("affiliate API request failed",
			logger.Timeframe(tf.String()), logger.Page(page), logger.Latency(time.Since(start)), zap.Error(classified))
		return nil, classified
	}
	c.breaker.RecordSuccess()

	entries, rejected := DecodeEntries(resp.Data)
	c.logger.Debug("affiliate API page fetched",
		logger.Timeframe(tf.String()), logger.Page(page),
		zap.Int("entries", len(entries)), zap.Int("rejected", len(rejected)),
		logger.Latency(time.Since(start)))

	return &wager.FeedPage{
		Entries:    entries,
		Rejected:   rejected,
		Page:       page,
		TotalPages: resp.Metadata.Pages(),
		TotalUsers: resp.Metadata.Users(),
	}, nil
}

// BreakerStatus returns the breaker snapshot.
func (c *Client) BreakerStatus() circuitbreaker.Status {
	return c.breaker.Status()
}

// ══════════════════════════════════════════════════════════════════════════════
// HTTP
// ══════════════════════════════════════════════════════════════════════════════

var errRequestTimeout = errors.New("request timed out")

func (c *Client) doRequest(ctx context.Context, tf wager.Timeframe, limit, page int) (*LeaderboardResponse, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	u, err := url.Parse(c.config.APIURL)
	if err != nil {
		return nil, fmt.Errorf("parse api url: %w", err)
	}
	q := u.Query()
	q.Set("timeframe", tf.String())
	q.Set("limit", strconv.Itoa(limit))
	q.Set("page", strconv.Itoa(page))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s: %v", errRequestTimeout, c.config.Timeout, err)
		}
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.config.MaxResponseBytes))
	if err != nil {
		if errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w while reading body: %v", errRequestTimeout, err)
		}
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIErrorDTO{StatusCode: resp.StatusCode}
		_ = json.Unmarshal(body, apiErr)
		return nil, apiErr
	}

	var out LeaderboardResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if out.Success != nil && !*out.Success {
		msg := out.Error
		if msg == "" {
			msg = out.Message
		}
		return nil, fmt.Errorf("api reported failure: %s", msg)
	}
	return &out, nil
}

// classify maps a transport error onto the domain taxonomy.
func (c *Client) classify(op string, err error) error {
	var netErr net.Error
	if errors.Is(err, errRequestTimeout) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return shared.WrapError("goated", op, shared.ErrExternalAPITimeout, "affiliate API timed out", err)
	}
	return shared.WrapError("goated", op, shared.ErrExternalAPIUnavailable, "affiliate API request failed", err)
}
