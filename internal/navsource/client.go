// Package navsource fetches mutual fund NAV history from an mfapi.in
// compatible provider.
package navsource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"cas-valuer/internal/config"
	apperrors "cas-valuer/internal/errors"
	"cas-valuer/internal/logging"
	"cas-valuer/internal/models"
	"cas-valuer/internal/resilience"
	"cas-valuer/pkg/utils"
)

// QuoteFetcher returns the full NAV history of a scheme.
type QuoteFetcher interface {
	FetchQuotes(ctx context.Context, amfi string) ([]models.Quote, error)
}

// Client talks to the NAV provider.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	cache      *cache.Cache
	breaker    *resilience.CircuitBreaker
	retry      utils.RetryConfig
	logger     zerolog.Logger
}

// schemeResponse is the provider payload for GET /mf/{amfi}.
type schemeResponse struct {
	Meta struct {
		FundHouse      string      `json:"fund_house"`
		SchemeType     string      `json:"scheme_type"`
		SchemeCategory string      `json:"scheme_category"`
		SchemeCode     json.Number `json:"scheme_code"`
		SchemeName     string      `json:"scheme_name"`
	} `json:"meta"`
	Data []struct {
		Date string `json:"date"`
		NAV  string `json:"nav"`
	} `json:"data"`
	Status string `json:"status"`
}

// NewClient creates a provider client from configuration.
func NewClient(cfg config.NAVConfig, logger zerolog.Logger) *Client {
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}

	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(limit, burst),
		logger:     logging.WithOperation(logger, "navsource"),
		retry: utils.RetryConfig{
			MaxAttempts:   cfg.MaxAttempts,
			InitialDelay:  cfg.InitialBackoff,
			MaxDelay:      cfg.MaxBackoff,
			BackoffFactor: 2.0,
			Retryable:     retryable,
		},
	}
	if cfg.CacheTTL > 0 {
		c.cache = cache.New(cfg.CacheTTL, 2*cfg.CacheTTL)
	}
	c.breaker = resilience.NewCircuitBreaker("navsource", resilience.CircuitBreakerConfig{
		FailureThreshold: cfg.BreakerFailures,
		SuccessThreshold: 1,
		Timeout:          cfg.BreakerCooldown,
		IsFailure:        transient,
	})
	return c
}

// Breaker exposes the client's circuit breaker for status reporting.
func (c *Client) Breaker() *resilience.CircuitBreaker {
	return c.breaker
}

// FetchQuotes returns every quote the provider has for amfi, with provider
// metadata copied onto each quote. Responses are cached per amfi.
func (c *Client) FetchQuotes(ctx context.Context, amfi string) ([]models.Quote, error) {
	if c.cache != nil {
		if cached, ok := c.cache.Get(amfi); ok {
			c.logger.Debug().Str("amfi", amfi).Msg("NAV cache hit")
			return cached.([]models.Quote), nil
		}
	}

	quotes, err := utils.RetryWithResult(ctx, c.retry, func() ([]models.Quote, error) {
		return resilience.ExecuteWithResult(c.breaker, func() ([]models.Quote, error) {
			return c.fetch(ctx, amfi)
		})
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrCircuitOpen) {
			return nil, apperrors.NewUpstreamError(amfi, 0, "provider circuit open", err)
		}
		return nil, err
	}

	if c.cache != nil {
		c.cache.SetDefault(amfi, quotes)
	}
	return quotes, nil
}

func (c *Client) fetch(ctx context.Context, amfi string) ([]models.Quote, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	endpoint := c.baseURL + "/mf/" + url.PathEscape(amfi)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, apperrors.NewUpstreamError(amfi, 0, "failed to build request", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	logging.LogAPICall(c.logger, http.MethodGet, endpoint, time.Since(start), err)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, apperrors.NewUpstreamError(amfi, 0, "request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.NewUpstreamError(amfi, resp.StatusCode, "failed to read body", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, apperrors.NewUpstreamError(amfi, resp.StatusCode, http.StatusText(resp.StatusCode), nil)
	}

	return parseQuotes(amfi, body)
}

func parseQuotes(amfi string, body []byte) ([]models.Quote, error) {
	var payload schemeResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, apperrors.NewUpstreamError(amfi, http.StatusOK, "undecodable body", err)
	}
	if len(payload.Data) == 0 {
		return nil, apperrors.NewUpstreamError(amfi, http.StatusOK, "empty NAV series", nil)
	}

	quotes := make([]models.Quote, 0, len(payload.Data))
	for _, d := range payload.Data {
		date, err := time.ParseInLocation(models.ProviderDateLayout, d.Date, time.UTC)
		if err != nil {
			return nil, apperrors.NewUpstreamError(amfi, http.StatusOK, fmt.Sprintf("bad date %q", d.Date), err)
		}
		nav, err := decimal.NewFromString(strings.TrimSpace(d.NAV))
		if err != nil {
			return nil, apperrors.NewUpstreamError(amfi, http.StatusOK, fmt.Sprintf("bad nav %q", d.NAV), err)
		}
		quotes = append(quotes, models.Quote{
			AMFI:           amfi,
			Date:           date,
			NAV:            nav,
			FundHouse:      payload.Meta.FundHouse,
			SchemeName:     payload.Meta.SchemeName,
			SchemeType:     payload.Meta.SchemeType,
			SchemeCategory: payload.Meta.SchemeCategory,
		})
	}
	return quotes, nil
}

// transient reports whether a failure says something about provider health
// rather than about the request or the caller.
func transient(err error) bool {
	var ue *apperrors.UpstreamError
	if errors.As(err, &ue) {
		return ue.StatusCode == 0 || ue.StatusCode >= 500 || ue.StatusCode == http.StatusTooManyRequests
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func retryable(err error) bool {
	return !errors.Is(err, apperrors.ErrCircuitOpen) && transient(err)
}
