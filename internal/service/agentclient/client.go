// Package agentclient calls the scoring agents over HTTP with bounded retries.
package agentclient

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"reflect"
	"time"

	"github.com/go-playground/validator/v10"

	"PortfolioAgents/internal/domain/repository"
	pkghttp "PortfolioAgents/pkg/http"
	"PortfolioAgents/pkg/logger"
)

// APIKeyHeader carries the shared secret on every agent call.
const APIKeyHeader = "X-API-KEY"

// FailureKind separates failures worth retrying from those that are not.
type FailureKind string

const (
	// Transient covers timeouts, connection errors and 5xx responses.
	Transient FailureKind = "transient"
	// Rejected covers 4xx responses and malformed bodies.
	Rejected FailureKind = "rejected"
)

// Failure is the error returned by Call once it gives up.
type Failure struct {
	Kind       FailureKind
	Agent      string
	Endpoint   string
	Attempts   int
	StatusCode int
	Err        error
}

func (f *Failure) Error() string {
	if f.StatusCode != 0 {
		return fmt.Sprintf("agent %s %s after %d attempt(s) (status %d): %v", f.Agent, f.Kind, f.Attempts, f.StatusCode, f.Err)
	}
	return fmt.Sprintf("agent %s %s after %d attempt(s): %v", f.Agent, f.Kind, f.Attempts, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// AsFailure extracts a *Failure from err.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	ok := errors.As(err, &f)
	return f, ok
}

type resultKind int

const (
	resultOK resultKind = iota
	resultRetryable
	resultTerminal
)

type attemptResult struct {
	kind   resultKind
	status int
	err    error
}

// Option configures Client.
type Option func(*Client)

// WithMaxAttempts bounds the total number of attempts per call.
func WithMaxAttempts(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithBackoff sets the first delay and the delay cap.
func WithBackoff(base, maxDelay time.Duration) Option {
	return func(c *Client) {
		if base > 0 {
			c.backoffBase = base
		}
		if maxDelay > 0 {
			c.backoffMax = maxDelay
		}
	}
}

// WithJitter adds up to fraction*delay of random delay. Zero disables it.
func WithJitter(fraction float64) Option {
	return func(c *Client) {
		if fraction >= 0 {
			c.jitter = fraction
		}
	}
}

// WithMetrics records calls and retries.
func WithMetrics(m repository.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithLogger sets the logger used for retry notices.
func WithLogger(l *logger.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithHTTPClient replaces the transport client.
func WithHTTPClient(h *pkghttp.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// Client issues agent calls. Safe for concurrent use.
type Client struct {
	http        *pkghttp.Client
	apiKey      string
	maxAttempts int
	backoffBase time.Duration
	backoffMax  time.Duration
	jitter      float64
	validate    *validator.Validate
	metrics     repository.Metrics
	logger      *logger.Logger
}

// New creates a client sending apiKey with every request.
func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		http:        pkghttp.NewClient(),
		apiKey:      apiKey,
		maxAttempts: 3,
		backoffBase: time.Second,
		backoffMax:  10 * time.Second,
		jitter:      0.1,
		validate:    validator.New(),
		logger:      logger.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Call posts payload to endpoint and decodes the response into dest.
// Each attempt is bounded by timeout. Transient failures are retried with
// exponential backoff; rejected ones return at once.
func (c *Client) Call(ctx context.Context, agent, endpoint string, payload, dest interface{}, timeout time.Duration) error {
	start := time.Now()
	var last attemptResult
	attempts := 0

	for attempts < c.maxAttempts {
		attempts++
		last = c.attempt(ctx, endpoint, payload, dest, timeout)

		switch last.kind {
		case resultOK:
			c.record(agent, "ok", start)
			return nil
		case resultTerminal:
			c.record(agent, string(Rejected), start)
			return c.failure(Rejected, agent, endpoint, attempts, last)
		}

		if attempts == c.maxAttempts || ctx.Err() != nil {
			break
		}

		delay := c.backoff(attempts)
		c.logger.Debug("agent call failed, retrying",
			logger.String("agent", agent),
			logger.Int("attempt", attempts),
			logger.Duration("delay_ms", delay),
			logger.Error(last.err),
		)
		if c.metrics != nil {
			c.metrics.RecordRetry(agent)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			last.err = fmt.Errorf("%w (last error: %v)", ctx.Err(), last.err)
			c.record(agent, string(Transient), start)
			return c.failure(Transient, agent, endpoint, attempts, last)
		case <-timer.C:
		}
	}

	c.record(agent, string(Transient), start)
	return c.failure(Transient, agent, endpoint, attempts, last)
}

func (c *Client) attempt(ctx context.Context, endpoint string, payload, dest interface{}, timeout time.Duration) attemptResult {
	actx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	err := c.http.SendAndParse(actx, &pkghttp.RequestOptions{
		Method:  pkghttp.MethodPost,
		URL:     endpoint,
		Headers: map[string]string{APIKeyHeader: c.apiKey},
		Body:    payload,
	}, dest)
	if err == nil {
		if verr := c.validateResponse(dest); verr != nil {
			return attemptResult{kind: resultTerminal, err: fmt.Errorf("malformed response: %w", verr)}
		}
		return attemptResult{kind: resultOK}
	}

	// A deadline hit while reading the body surfaces as a decode error.
	if actx.Err() != nil {
		return attemptResult{kind: resultRetryable, err: err}
	}
	return classify(err)
}

func classify(err error) attemptResult {
	var se *pkghttp.StatusError
	if errors.As(err, &se) {
		if se.Code >= 500 {
			return attemptResult{kind: resultRetryable, status: se.Code, err: err}
		}
		return attemptResult{kind: resultTerminal, status: se.Code, err: err}
	}
	var de *pkghttp.DecodeError
	if errors.As(err, &de) {
		return attemptResult{kind: resultTerminal, err: err}
	}
	return attemptResult{kind: resultRetryable, err: err}
}

func (c *Client) validateResponse(dest interface{}) error {
	if dest == nil {
		return nil
	}
	v := reflect.ValueOf(dest)
	if v.Kind() != reflect.Pointer || v.Elem().Kind() != reflect.Struct {
		return nil
	}
	return c.validate.Struct(dest)
}

// backoff returns base*2^(attempt-1) capped at max, plus jitter.
func (c *Client) backoff(attempt int) time.Duration {
	d := c.backoffBase
	for i := 1; i < attempt && d < c.backoffMax; i++ {
		d *= 2
	}
	if d > c.backoffMax {
		d = c.backoffMax
	}
	if c.jitter > 0 {
		d += time.Duration(rand.Float64() * c.jitter * float64(d))
	}
	return d
}

func (c *Client) failure(kind FailureKind, agent, endpoint string, attempts int, r attemptResult) *Failure {
	return &Failure{
		Kind:       kind,
		Agent:      agent,
		Endpoint:   endpoint,
		Attempts:   attempts,
		StatusCode: r.status,
		Err:        r.err,
	}
}

func (c *Client) record(agent, result string, start time.Time) {
	if c.metrics != nil {
		c.metrics.RecordAgentCall(agent, result, time.Since(start).Seconds())
	}
}
