// Package cloudflare is a typed facade over the control-plane v4 API:
// tunnels, DNS records, tunnel configurations, and access applications.
// Transient failures are retried with exponential backoff inside the
// client; validation and authentication failures surface immediately.
package cloudflare

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Client issues authenticated calls against one account and zone.
type Client struct {
	token     string
	accountID string
	zoneID    string
	log       *logrus.Logger
	options   options
}

// NewClient builds a client for the given bearer token and account.
func NewClient(token, accountID, zoneID string, log *logrus.Logger, opts ...Option) *Client {
	return &Client{
		token:     token,
		accountID: accountID,
		zoneID:    zoneID,
		log:       log,
		options:   collectOptions(opts),
	}
}

func (c *Client) requireAccount(op string) error {
	if c.accountID == "" {
		return &Error{Kind: MissingIdentifier, Op: op, Err: errors.New("account id is empty")}
	}
	return nil
}

func (c *Client) requireZone(op string) error {
	if c.zoneID == "" {
		return &Error{Kind: MissingIdentifier, Op: op, Err: errors.New("zone id is empty")}
	}
	return nil
}

func requireID(op, name, id string) error {
	if id == "" {
		return &Error{Kind: MissingIdentifier, Op: op, Err: errors.Errorf("%s is empty", name)}
	}
	return nil
}

// call issues one request with retry. Destructive operations set
// attempts=1 so a delete is never ambiguously replayed.
func (c *Client) call(ctx context.Context, op, method, path string, query url.Values, body, out interface{}, attempts int) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return &Error{Kind: Validation, Op: op, Err: err}
		}
	}

	if attempts < 1 {
		attempts = 1
	}
	delay := c.options.backoffBase
	var lastErr *Error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			c.log.Debugf("cloudflare %s: retrying in %s, attempt %d/%d", op, delay, attempt+1, attempts)
			select {
			case <-ctx.Done():
				return &Error{Kind: Transient, Op: op, Err: ctx.Err()}
			case <-time.After(delay):
			}
			delay *= 2
		}
		if err := c.options.limiter.Wait(ctx); err != nil {
			return &Error{Kind: Transient, Op: op, Err: err}
		}

		env, cerr := c.roundTrip(ctx, op, method, path, query, payload)
		if cerr == nil {
			if out != nil && env.Result != nil {
				if err := json.Unmarshal(env.Result, out); err != nil {
					return &Error{Kind: Transient, Op: op, Err: errors.Wrap(err, "decode result")}
				}
			}
			return nil
		}
		if !cerr.Kind.retryable() {
			return cerr
		}
		lastErr = cerr
	}
	return lastErr
}

func (c *Client) roundTrip(ctx context.Context, op, method, path string, query url.Values, payload []byte) (*envelope, *Error) {
	u := c.options.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, &Error{Kind: Validation, Op: op, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.options.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Kind: Transient, Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: Transient, Op: op, Status: resp.StatusCode, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &Error{Kind: Unauthorized, Op: op, Status: resp.StatusCode, APIErrors: apiErrors(data)}
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &Error{Kind: RateLimited, Op: op, Status: resp.StatusCode, APIErrors: apiErrors(data)}
	case resp.StatusCode >= 500:
		return nil, &Error{Kind: Transient, Op: op, Status: resp.StatusCode, APIErrors: apiErrors(data)}
	case resp.StatusCode >= 400:
		return nil, &Error{Kind: Validation, Op: op, Status: resp.StatusCode, APIErrors: apiErrors(data)}
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &Error{Kind: Transient, Op: op, Status: resp.StatusCode, Err: errors.Wrap(err, "decode envelope")}
	}
	if !env.Success {
		return nil, &Error{Kind: Validation, Op: op, Status: resp.StatusCode, APIErrors: env.Errors}
	}
	return &env, nil
}

func apiErrors(data []byte) []APIError {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil
	}
	return env.Errors
}

// list materializes a paginated collection into one slice of raw pages.
func (c *Client) list(ctx context.Context, op, path string, query url.Values, page func(json.RawMessage) (int, error)) error {
	if query == nil {
		query = url.Values{}
	}
	query.Set("per_page", fmt.Sprintf("%d", c.options.perPage))

	for pageNo := 1; ; pageNo++ {
		query.Set("page", fmt.Sprintf("%d", pageNo))

		env, cerr := c.callPage(ctx, op, path, query)
		if cerr != nil {
			return cerr
		}
		n, err := page(env.Result)
		if err != nil {
			return &Error{Kind: Transient, Op: op, Err: err}
		}
		if env.ResultInfo == nil || env.ResultInfo.TotalPages <= pageNo || n < c.options.perPage {
			return nil
		}
	}
}

func (c *Client) callPage(ctx context.Context, op, path string, query url.Values) (*envelope, *Error) {
	delay := c.options.backoffBase
	var lastErr *Error
	for attempt := 0; attempt < c.options.attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, &Error{Kind: Transient, Op: op, Err: ctx.Err()}
			case <-time.After(delay):
			}
			delay *= 2
		}
		if err := c.options.limiter.Wait(ctx); err != nil {
			return nil, &Error{Kind: Transient, Op: op, Err: err}
		}
		env, cerr := c.roundTrip(ctx, op, http.MethodGet, path, query, nil)
		if cerr == nil {
			return env, nil
		}
		if !cerr.Kind.retryable() {
			return nil, cerr
		}
		lastErr = cerr
	}
	return nil, lastErr
}
