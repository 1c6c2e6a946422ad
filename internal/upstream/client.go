package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Naeem401/sport-server/internal/metrics"
	"github.com/Naeem401/sport-server/internal/model"
)

// Client is the capability the fetch pipeline consumes: one remote call
// returning the records for a topic, or a classified error.
type Client interface {
	Fetch(ctx context.Context, topic model.Topic, params map[string]string) ([]model.Record, error)
}

// Config contains upstream client configuration
type Config struct {
	// Provider base URL; the sport is appended as the request path
	BaseURL string

	// API key sent with every request, if the provider requires one
	APIKey string

	// Wall-clock bound per call
	Timeout time.Duration

	// Bounded retry policy for transient transport failures
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

// DefaultConfig returns a default configuration
func DefaultConfig() Config {
	return Config{
		Timeout:      10 * time.Second,
		RetryMax:     2,
		RetryWaitMin: 500 * time.Millisecond,
		RetryWaitMax: 5 * time.Second,
	}
}

// HTTPClient fetches datasets from the provider's REST endpoint.
type HTTPClient struct {
	config  Config
	rclient *retryablehttp.Client
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates an upstream client for the given provider.
func NewHTTPClient(config Config) *HTTPClient {
	defaults := DefaultConfig()
	if config.Timeout == 0 {
		config.Timeout = defaults.Timeout
	}
	if config.RetryMax == 0 {
		config.RetryMax = defaults.RetryMax
	}
	if config.RetryWaitMin == 0 {
		config.RetryWaitMin = defaults.RetryWaitMin
	}
	if config.RetryWaitMax == 0 {
		config.RetryWaitMax = defaults.RetryWaitMax
	}

	rclient := &retryablehttp.Client{
		HTTPClient:   &http.Client{Timeout: config.Timeout},
		RetryWaitMin: config.RetryWaitMin,
		RetryWaitMax: config.RetryWaitMax,
		RetryMax:     config.RetryMax,
		CheckRetry:   retryablehttp.DefaultRetryPolicy,
		Backoff:      retryablehttp.DefaultBackoff,
		// keep the final response after exhausted retries so the status
		// code can be classified instead of a generic giving-up error
		ErrorHandler: func(resp *http.Response, err error, _ int) (*http.Response, error) {
			if resp != nil {
				return resp, nil
			}
			return nil, err
		},
	}

	return &HTTPClient{
		config:  config,
		rclient: rclient,
		logger:  log.With().Str("component", "upstream").Logger(),
		metrics: metrics.GetMetrics(),
	}
}

// Fetch performs one provider call and normalizes the response.
func (c *HTTPClient) Fetch(ctx context.Context, topic model.Topic, params map[string]string) ([]model.Record, error) {
	requestURL, err := c.buildURL(topic, params)
	if err != nil {
		return nil, err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("upstream request: %w", err)
	}

	start := time.Now()
	resp, err := c.rclient.Do(req)
	c.metrics.UpstreamRequestDuration.WithLabelValues(topic.Sport).Observe(time.Since(start).Seconds())

	kind := "list"
	if topic.IsEvent() {
		kind = "detail"
	}
	c.metrics.UpstreamRequestsTotal.WithLabelValues(topic.Sport, kind).Inc()

	if err != nil {
		c.metrics.UpstreamErrorsTotal.WithLabelValues(topic.Sport, "unavailable").Inc()
		if isTimeout(ctx, err) {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, fmt.Errorf("upstream request: %w", err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode); err != nil {
		c.metrics.UpstreamErrorsTotal.WithLabelValues(topic.Sport, errorClass(err)).Inc()
		c.logger.Warn().
			Str("topic", topic.String()).
			Int("status", resp.StatusCode).
			Msg("Upstream rejected request")
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("upstream response read: %w", err)
	}

	records, err := Normalize(body)
	if err != nil {
		c.metrics.UpstreamErrorsTotal.WithLabelValues(topic.Sport, "malformed").Inc()
		return nil, err
	}
	return records, nil
}

// buildURL assembles the provider request URL for a topic.
func (c *HTTPClient) buildURL(topic model.Topic, params map[string]string) (string, error) {
	u, err := url.Parse(c.config.BaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid upstream base URL: %w", err)
	}
	u = u.JoinPath(topic.Sport)

	query := url.Values{}
	for name, value := range params {
		query.Set(name, value)
	}
	if topic.IsEvent() {
		query.Set("eventId", topic.EventID)
	}
	if c.config.APIKey != "" {
		query.Set("APIkey", c.config.APIKey)
	}
	u.RawQuery = query.Encode()

	return u.String(), nil
}

func classifyStatus(status int) error {
	switch {
	case status < 400:
		return nil
	case status == http.StatusNotFound:
		return fmt.Errorf("%w (status %d)", ErrNotFound, status)
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w (status %d)", ErrRateLimited, status)
	case status == http.StatusRequestTimeout:
		return fmt.Errorf("%w (status %d)", ErrTimeout, status)
	default:
		return fmt.Errorf("%w (status %d)", ErrProviderError, status)
	}
}

func errorClass(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	default:
		return "rejected"
	}
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
