// Package resilience wraps outbound HTTP calls with retries and a circuit breaker.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// RetryPolicy controls linear backoff: the wait after attempt n is n × BaseDelay.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
}

// DefaultRetry is three attempts with 500ms, then 1s between them.
var DefaultRetry = RetryPolicy{Attempts: 3, BaseDelay: 500 * time.Millisecond}

var (
	ErrRateLimited   = errors.New("rate limited")
	ErrServerError   = errors.New("server error")
	ErrUnexpected    = errors.New("unexpected status code")
	ErrCircuitOpen   = errors.New("circuit breaker open")
	ErrNoHTTPClient  = errors.New("http client not configured")
	ErrInvalidPolicy = errors.New("invalid retry policy")
)

// permanentError marks a failure that another attempt cannot fix.
type permanentError struct{ err error }

func (p permanentError) Error() string { return p.err.Error() }
func (p permanentError) Unwrap() error { return p.err }

// Client executes requests for one upstream.
type Client struct {
	name    string
	http    *http.Client
	retry   RetryPolicy
	circuit *gobreaker.CircuitBreaker
}

// NewClient builds a Client whose breaker opens after five consecutive failures.
func NewClient(name string, httpClient *http.Client, retry RetryPolicy) *Client {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			var p permanentError
			return err == nil || errors.As(err, &p)
		},
	})
	return &Client{name: name, http: httpClient, retry: retry, circuit: cb}
}

// Do sends the request produced by build, retrying network failures,
// timeouts, 429 and 5xx responses. Other non-2xx statuses fail at once. The
// caller owns the returned body.
func (c *Client) Do(ctx context.Context, build func(ctx context.Context) (*http.Request, error)) (*http.Response, error) {
	if c.http == nil {
		return nil, ErrNoHTTPClient
	}
	if c.retry.Attempts < 1 || c.retry.BaseDelay < 0 {
		return nil, ErrInvalidPolicy
	}

	var lastErr error
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		req, err := build(ctx)
		if err != nil {
			return nil, err
		}

		result, err := c.circuit.Execute(func() (interface{}, error) {
			resp, execErr := c.http.Do(req)
			if execErr != nil {
				return nil, execErr
			}
			switch {
			case resp.StatusCode == http.StatusTooManyRequests:
				drain(resp)
				return nil, ErrRateLimited
			case resp.StatusCode >= 500:
				drain(resp)
				return nil, fmt.Errorf("%w: %d", ErrServerError, resp.StatusCode)
			case resp.StatusCode < 200 || resp.StatusCode >= 300:
				drain(resp)
				return nil, permanentError{fmt.Errorf("%w: %d", ErrUnexpected, resp.StatusCode)}
			}
			return resp, nil
		})

		if err == nil {
			resp, ok := result.(*http.Response)
			if !ok {
				return nil, fmt.Errorf("unexpected result type from circuit breaker")
			}
			return resp, nil
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", ErrCircuitOpen, err)
		}
		var p permanentError
		if errors.As(err, &p) {
			return nil, p.err
		}

		lastErr = err
		if attempt >= c.retry.Attempts {
			return nil, fmt.Errorf("%s: giving up after %d attempts: %w", c.name, attempt, lastErr)
		}

		delay := time.Duration(attempt) * c.retry.BaseDelay
		log.Debug().Str("upstream", c.name).Int("attempt", attempt).Dur("delay", delay).Err(err).Msg("retrying request")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
