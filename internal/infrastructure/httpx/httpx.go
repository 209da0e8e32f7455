package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrMalformed marks a response that arrived but could not be decoded.
// It is permanent for the call: retrying would replay the same payload.
var ErrMalformed = errors.New("malformed response")

// StatusError is a non-2xx upstream response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream status %d", e.Code)
}

// Client is a retrying JSON fetcher shared by all bridge adapters. Each
// attempt gets its own timeout, growing by TimeoutIncrement per attempt;
// between attempts it backs off exponentially from BaseDelay.
type Client struct {
	HTTP *http.Client

	BaseTimeout      time.Duration
	TimeoutIncrement time.Duration
	BaseDelay        time.Duration
	// MaxRetries is the total number of attempts for one call.
	MaxRetries int
}

// GetJSON fetches url and decodes the JSON body into out, retrying transport
// errors and non-2xx statuses. Decode failures are not retried. The error
// returned after exhausting attempts is the last attempt's error.
func (c *Client) GetJSON(ctx context.Context, url string, out any) error {
	httpc := c.HTTP
	if httpc == nil {
		httpc = http.DefaultClient
	}
	attempts := c.MaxRetries
	if attempts < 1 {
		attempts = 1
	}

	attempt := 0
	op := func() error {
		attempt++
		attemptCtx, cancel := context.WithTimeout(ctx, c.attemptTimeout(attempt))
		defer cancel()

		req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", "bridgequotes-service/1.0")

		resp, err := httpc.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			// Drain so the connection can be reused by the next attempt.
			_, _ = io.Copy(io.Discard, resp.Body)
			return &StatusError{Code: resp.StatusCode}
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(fmt.Errorf("%w: %v", ErrMalformed, err))
		}
		return nil
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.BaseDelay
	exp.RandomizationFactor = 0
	exp.Multiplier = 2
	exp.MaxElapsedTime = 0

	b := backoff.WithMaxRetries(backoff.WithContext(exp, ctx), uint64(attempts-1))
	return backoff.Retry(op, b)
}

func (c *Client) attemptTimeout(attempt int) time.Duration {
	t := c.BaseTimeout + time.Duration(attempt-1)*c.TimeoutIncrement
	if t <= 0 {
		t = 10 * time.Second
	}
	return t
}
