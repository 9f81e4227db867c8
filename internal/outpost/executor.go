package outpost

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"time"

	"outpost-sync/internal/util"

	"go.uber.org/zap"
)

// RetryPolicy controls retry behavior for one logical request.
// Backoff delay for attempt N (starting at 0) is BackoffBase * BackoffFactor^N,
// purely a function of the attempt index. No jitter.
type RetryPolicy struct {
	MaxRetries    int
	BackoffBase   time.Duration
	BackoffFactor float64
}

// DefaultRetryPolicy matches the per-node defaults used across the fleet.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:    3,
		BackoffBase:   time.Second,
		BackoffFactor: 2.0,
	}
}

// Delay returns the backoff before retrying after the given attempt index.
func (p RetryPolicy) Delay(attemptIndex int) time.Duration {
	factor := p.BackoffFactor
	if factor < 1 {
		factor = 1
	}
	return time.Duration(float64(p.BackoffBase) * math.Pow(factor, float64(attemptIndex)))
}

// Request is one logical HTTP call. Non-idempotent requests are never retried
// to avoid double-insertion at the target.
type Request struct {
	Method     string
	URL        string
	Query      url.Values
	Body       interface{}
	Idempotent bool
	// Policy overrides the executor's default when set.
	Policy *RetryPolicy
}

// Response is the decoded-enough result of a successful call.
type Response struct {
	Status int
	Body   []byte
}

// DecodeJSON unmarshals the response body into out.
func (r *Response) DecodeJSON(out interface{}) error {
	if out == nil || len(r.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Body, out); err != nil {
		return &APIError{Class: ClassValidation, Status: r.Status, Message: fmt.Sprintf("decode response: %v", err), Err: err}
	}
	return nil
}

// sleepFunc blocks for d or until ctx is cancelled. Injected in tests.
type sleepFunc func(ctx context.Context, d time.Duration) error

func defaultSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Executor issues one logical HTTP call with classification-aware retry and
// exponential backoff. The retry sleep is the only blocking point and is
// cancellable through the request context.
type Executor struct {
	httpClient     *http.Client
	policy         RetryPolicy
	attemptTimeout time.Duration
	sleep          sleepFunc
	logger         *zap.Logger
}

// NewExecutor creates an executor with a fixed per-attempt timeout. The
// timeout bounds each attempt independently of the retry policy's backoff.
func NewExecutor(policy RetryPolicy, attemptTimeout time.Duration) *Executor {
	if attemptTimeout <= 0 {
		attemptTimeout = 10 * time.Second
	}
	return &Executor{
		httpClient:     &http.Client{},
		policy:         policy,
		attemptTimeout: attemptTimeout,
		sleep:          defaultSleep,
		logger:         util.GetLogger(),
	}
}

// Do executes the request. Failures classified as transient are retried up to
// the policy's budget; terminal failures return immediately. Total attempts
// never exceed MaxRetries+1.
func (e *Executor) Do(ctx context.Context, req Request, authorize func(*http.Request)) (*Response, error) {
	policy := e.policy
	if req.Policy != nil {
		policy = *req.Policy
	}
	maxRetries := policy.MaxRetries
	if !req.Idempotent || maxRetries < 0 {
		maxRetries = 0
	}

	var body []byte
	if req.Body != nil {
		var err error
		body, err = json.Marshal(req.Body)
		if err != nil {
			return nil, &APIError{Class: ClassValidation, Message: fmt.Sprintf("encode request body: %v", err), Err: err}
		}
	}

	target := req.URL
	if len(req.Query) > 0 {
		target = target + "?" + req.Query.Encode()
	}

	var lastErr *APIError
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := policy.Delay(attempt - 1)
			util.RequestRetriesTotal.WithLabelValues(req.Method).Inc()
			e.logger.Debug("Retrying request",
				zap.String("method", req.Method),
				zap.String("url", target),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", delay))
			if err := e.sleep(ctx, delay); err != nil {
				lastErr.Attempts = attempt
				return nil, fmt.Errorf("request cancelled during backoff: %w", lastErr)
			}
		}

		resp, apiErr := e.attempt(ctx, req.Method, target, body, authorize)
		if apiErr == nil {
			return resp, nil
		}

		lastErr = apiErr
		if !apiErr.Retryable() {
			apiErr.Attempts = attempt + 1
			return nil, apiErr
		}
	}

	lastErr.Attempts = maxRetries + 1
	e.logger.Warn("Request failed after retries",
		zap.String("method", req.Method),
		zap.String("url", target),
		zap.Int("attempts", lastErr.Attempts),
		zap.Error(lastErr))
	return nil, lastErr
}

// attempt performs a single HTTP exchange bounded by the per-attempt timeout.
func (e *Executor) attempt(ctx context.Context, method, target string, body []byte, authorize func(*http.Request)) (*Response, *APIError) {
	attemptCtx, cancel := context.WithTimeout(ctx, e.attemptTimeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(attemptCtx, method, target, reader)
	if err != nil {
		return nil, &APIError{Class: ClassValidation, Message: fmt.Sprintf("build request: %v", err), Err: err}
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if authorize != nil {
		authorize(httpReq)
	}

	httpResp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return nil, transportError(err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, transportError(err)
	}

	if httpResp.StatusCode >= 400 {
		apiErr := statusError(httpResp.StatusCode, errorMessage(respBody, httpResp.StatusCode))
		return nil, apiErr
	}

	return &Response{Status: httpResp.StatusCode, Body: respBody}, nil
}

// errorMessage pulls the detail field from a JSON error body when present.
func errorMessage(body []byte, status int) string {
	var payload struct {
		Detail string `json:"detail"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Detail != "" {
			return payload.Detail
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	return http.StatusText(status)
}
