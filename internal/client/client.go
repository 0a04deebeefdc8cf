// Package client implements the torch transport: envelope validation
// before send, the HTTP POST with per-attempt timeout, retry with
// exponential backoff, and circuit breaking.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/campfirevalley/riverboat/internal/envelope"
	"github.com/campfirevalley/riverboat/internal/reconcile"
	"github.com/campfirevalley/riverboat/internal/telemetry"
)

const (
	defaultTimeout     = 30 * time.Second
	defaultMaxRetries  = 3
	defaultBackoffBase = 1 * time.Second
	defaultBackoffCap  = 10 * time.Second
)

// Config tunes a Client. Zero values fall back to the documented
// defaults; a nil Breaker gets the default 5-failure/60s breaker.
type Config struct {
	Endpoint string

	// AuthSecret enables HS256 bearer signing when non-empty. The
	// gateway must be configured with the same secret.
	AuthSecret string

	// Timeout bounds each individual attempt.
	Timeout time.Duration

	// OverallTimeout bounds the whole Send call including retries.
	// Zero means no overall budget beyond the caller's context.
	OverallTimeout time.Duration

	MaxRetries  int
	BackoffBase time.Duration
	BackoffCap  time.Duration

	Breaker    *CircuitBreaker
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client ships Party Boxes to the riverboat gateway. It holds no
// per-request state and is safe for concurrent use; the breaker is its
// only shared mutable piece.
type Client struct {
	cfg        Config
	httpClient *http.Client
	breaker    *CircuitBreaker
	logger     *slog.Logger
}

// New builds a Client from cfg, filling in defaults.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = defaultBackoffBase
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = defaultBackoffCap
	}
	if cfg.Breaker == nil {
		cfg.Breaker = NewCircuitBreaker(5, 60*time.Second)
	}
	cfg.Breaker.OnStateChange(func(from, to BreakerState) {
		telemetry.IncBreakerTransition(string(from), string(to))
	})
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		cfg:        cfg,
		httpClient: cfg.HTTPClient,
		breaker:    cfg.Breaker,
		logger:     cfg.Logger,
	}
}

// Breaker exposes the client's circuit breaker.
func (c *Client) Breaker() *CircuitBreaker { return c.breaker }

// attemptOutcome is the result of one POST attempt. Exactly one of
// resp, terminal, or failure is meaningful.
type attemptOutcome struct {
	resp     *envelope.CamperResponse
	terminal *envelope.ErrorResponse
	failure  *failureClass
}

// Send validates box, POSTs it to the gateway, and reconciles the
// reply. Terminal failures come back as an ErrorResponse whose
// retry_possible tells the caller whether offering a retry makes sense
// (distinct from the retries Send already performed internally).
// No network call is made for an invalid envelope or an open breaker.
func (c *Client) Send(ctx context.Context, box *envelope.PartyBox) (*envelope.CamperResponse, *envelope.ErrorResponse) {
	if res := envelope.Validate(box); !res.Valid {
		errResp := envelope.NewError(envelope.CodeValidation, "party box failed validation", false)
		return nil, errResp.WithDetail("errors", res.Errors)
	}

	if !c.breaker.Allow() {
		c.logger.Warn("circuit breaker open, failing fast", "endpoint", c.cfg.Endpoint)
		return nil, envelope.NewError(envelope.CodeCircuitOpen,
			"backend is unavailable, circuit breaker is open", true)
	}
	// Allow may have admitted this call as the single half-open trial.
	// If so, the trial must end in a recorded verdict or be released;
	// leaving the breaker half-open would reject every later call.
	trial := c.breaker.State() == BreakerHalfOpen

	payload, err := json.Marshal(box)
	if err != nil {
		if trial {
			c.breaker.ReleaseTrial()
		}
		errResp := envelope.NewError(envelope.CodeValidation, "party box could not be serialized", false)
		return nil, errResp.WithDetail("error", err.Error())
	}

	if c.cfg.OverallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.OverallTimeout)
		defer cancel()
	}

	maxAttempts := c.cfg.MaxRetries + 1
	var last failureClass

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		out := c.attempt(ctx, payload)
		if out.resp != nil {
			return out.resp, nil
		}
		if out.terminal != nil {
			return nil, out.terminal
		}

		last = *out.failure
		if last.cancelled {
			// Cancellation records no breaker verdict; a cancelled trial
			// still has to hand the half-open slot back.
			if trial {
				c.breaker.ReleaseTrial()
			}
			return nil, envelope.NewError(envelope.CodeCancelled, last.message, false)
		}
		if budgetExceeded(ctx) {
			return nil, envelope.NewError(envelope.CodeTimeout,
				"overall request budget exceeded", true)
		}
		if !last.retryable || attempt == maxAttempts {
			break
		}

		c.logger.Info("retrying party box delivery",
			"attempt", attempt, "code", last.code, "endpoint", c.cfg.Endpoint)
		if !c.sleepWithBackoff(ctx, attempt, last.retryAfter) {
			if budgetExceeded(ctx) {
				return nil, envelope.NewError(envelope.CodeTimeout,
					"overall request budget exceeded", true)
			}
			return nil, envelope.NewError(envelope.CodeCancelled, "request cancelled by caller", false)
		}
	}

	errResp := envelope.NewError(last.code, last.message, last.retryable)
	return nil, errResp.WithDetail("attempts", maxAttempts)
}

func budgetExceeded(ctx context.Context) bool {
	return ctx.Err() == context.DeadlineExceeded
}

// attempt performs one POST and classifies the outcome.
func (c *Client) attempt(ctx context.Context, payload []byte) attemptOutcome {
	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return attemptOutcome{terminal: envelope.NewError(envelope.CodeValidation,
			"building request failed: "+err.Error(), false)}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.AuthSecret != "" {
		token, signErr := c.makeToken()
		if signErr != nil {
			return attemptOutcome{terminal: envelope.NewError(envelope.CodeAuth,
				"signing request token failed: "+signErr.Error(), false)}
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		fc := classifyError(err)
		// The attempt context expiring while the caller's context is
		// still live is a per-attempt timeout, which retries.
		if fc.cancelled && ctx.Err() == nil {
			fc = failureClass{
				code:      envelope.CodeNetworkTimeout,
				message:   "request timed out",
				retryable: true,
			}
		}
		if !fc.cancelled {
			c.breaker.RecordFailure()
		}
		return attemptOutcome{failure: &fc}
	}
	defer httpResp.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(httpResp.Body, 4<<20))
	if readErr != nil {
		c.breaker.RecordFailure()
		return attemptOutcome{failure: &failureClass{
			code:      envelope.CodeNetworkConn,
			message:   "reading response failed: " + readErr.Error(),
			retryable: true,
		}}
	}

	if httpResp.StatusCode >= 200 && httpResp.StatusCode < 300 {
		c.breaker.RecordSuccess()
		resp, errResp := reconcile.Parse(body)
		if errResp != nil {
			return attemptOutcome{terminal: errResp}
		}
		return attemptOutcome{resp: resp}
	}

	fc := classifyStatus(httpResp.StatusCode, string(body))
	fc.retryAfter = retryAfterDuration(httpResp)
	if fc.retryable {
		c.breaker.RecordFailure()
		return attemptOutcome{failure: &fc}
	}

	// Terminal status: the backend answered, so the dependency is
	// alive; surface its declared error when the body carries one.
	c.breaker.RecordSuccess()
	if _, errResp := reconcile.Parse(body); errResp != nil && errResp.Code != envelope.CodeParse {
		return attemptOutcome{terminal: errResp}
	}
	errResp := envelope.NewError(fc.code, fc.message, false)
	return attemptOutcome{terminal: errResp.WithDetail("status", httpResp.StatusCode)}
}

// makeToken signs a short-lived HS256 bearer token.
func (c *Client) makeToken() (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    "torch-client",
		IssuedAt:  jwt.NewNumericDate(now.Add(-30 * time.Second)),
		ExpiresAt: jwt.NewNumericDate(now.Add(5 * time.Minute)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(c.cfg.AuthSecret))
}

// sleepWithBackoff waits base*2^(attempt-1) capped, plus jitter,
// stretched to honor a Retry-After hint. Returns false when the
// context ended first.
func (c *Client) sleepWithBackoff(ctx context.Context, attempt int, retryAfter time.Duration) bool {
	backoff := c.cfg.BackoffBase * time.Duration(1<<(attempt-1))
	if backoff > c.cfg.BackoffCap {
		backoff = c.cfg.BackoffCap
	}
	jitter := time.Duration(rand.Intn(200)) * time.Millisecond
	wait := backoff + jitter
	if retryAfter > wait {
		wait = retryAfter
	}

	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func retryAfterDuration(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
