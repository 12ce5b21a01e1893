// Package hubspot implements the HubSpot API client and its pagination
// protocols: v3 cursor pagination, legacy offset pagination, and the CRM
// search API with its 10,000 result window.
package hubspot

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/hubtap/pkg/clients"
	"github.com/ajitpratap0/hubtap/pkg/errors"
	jsonpool "github.com/ajitpratap0/hubtap/pkg/json"
	"github.com/ajitpratap0/hubtap/pkg/metrics"
)

// DefaultBaseURL is the production HubSpot API host.
const DefaultBaseURL = "https://api.hubapi.com"

// TokenPath is the OAuth token endpoint path.
const TokenPath = "/oauth/v1/token"

// Options configures the API client.
type Options struct {
	// BaseURL of the HubSpot API; DefaultBaseURL when empty
	BaseURL string
	// HTTP is the rate-limited transport
	HTTP *clients.HTTPClient
	// Tokens supplies access tokens
	Tokens *clients.TokenManager
	// Retry is the policy applied to each request; DefaultRetryPolicy when nil
	Retry *clients.RetryPolicy
	// Logger for request diagnostics
	Logger *zap.Logger
}

// Client issues authenticated requests against the HubSpot API. It maps
// response status codes onto the error taxonomy so callers can tell
// transient trouble from hard failures, and retries the former with
// exponential backoff.
type Client struct {
	baseURL string
	http    *clients.HTTPClient
	tokens  *clients.TokenManager
	retry   *clients.RetryPolicy
	logger  *zap.Logger
}

// NewClient creates an API client from the given options.
func NewClient(opts Options) *Client {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	retry := opts.Retry
	if retry == nil {
		retry = clients.DefaultRetryPolicy()
	}
	return &Client{
		baseURL: baseURL,
		http:    opts.HTTP,
		tokens:  opts.Tokens,
		retry:   retry,
		logger:  opts.Logger.With(zap.String("component", "hubspot_client")),
	}
}

// BaseURL returns the configured API host.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Get issues a GET request against path with the given query parameters and
// decodes the JSON response into out.
func (c *Client) Get(ctx context.Context, path string, query url.Values, out interface{}) error {
	return c.do(ctx, http.MethodGet, path, query, nil, out)
}

// Post issues a POST request with a JSON body and decodes the response into out.
func (c *Client) Post(ctx context.Context, path string, body interface{}, out interface{}) error {
	return c.do(ctx, http.MethodPost, path, nil, body, out)
}

// do performs a request with retry. Transient errors (429, 5xx including
// Cloudflare's 520, network failures) back off and retry; a 401 invalidates
// the token once and retries immediately with a fresh one.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body interface{}, out interface{}) error {
	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = jsonpool.Marshal(body)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeInternal, "failed to encode request body")
		}
	}

	refreshed := false

	attempt := func() error {
		token, err := c.tokens.AccessToken(ctx)
		if err != nil {
			return err
		}

		headers := map[string]string{
			"Authorization": "Bearer " + token,
			"Accept":        "application/json",
		}

		var reqBody io.Reader
		if bodyBytes != nil {
			headers["Content-Type"] = "application/json"
			reqBody = bytes.NewReader(bodyBytes)
		}

		timer := metrics.NewTimer(path)
		var resp *http.Response
		if method == http.MethodPost {
			resp, err = c.http.Post(ctx, fullURL, reqBody, headers)
		} else {
			resp, err = c.http.Get(ctx, fullURL, headers)
		}
		if err != nil {
			metrics.APIRequests.WithLabelValues(path, "error").Inc()
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		status := strconv.Itoa(resp.StatusCode)
		metrics.APIRequests.WithLabelValues(path, status).Inc()
		metrics.APIRequestDuration.WithLabelValues(path, status).Observe(timer.Stop().Seconds())

		if resp.StatusCode == http.StatusUnauthorized && !refreshed {
			// One shot at recovering with a fresh token before giving up.
			refreshed = true
			c.tokens.Invalidate()
			c.logger.Warn("request unauthorized, refreshing token", zap.String("path", path))
			return errors.New(errors.ErrorTypeUpstream, "unauthorized, token refreshed for retry").
				WithDetail("status", resp.StatusCode)
		}

		if err := statusError(resp, path); err != nil {
			return err
		}

		if out == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}

		dec := jsonpool.GetDecoder(resp.Body)
		defer jsonpool.PutDecoder(dec)
		if err := dec.Decode(out); err != nil {
			return errors.Wrap(err, errors.ErrorTypeData, "failed to decode response").
				WithDetail("path", path)
		}
		return nil
	}

	return c.retry.Execute(ctx, attempt)
}

// statusError maps a non-2xx response onto the error taxonomy.
func statusError(resp *http.Response, path string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		err := errors.New(errors.ErrorTypeRateLimit, "rate limit exceeded").
			WithDetail("path", path).
			WithDetail("body", string(snippet))
		if after := resp.Header.Get("Retry-After"); after != "" {
			if secs, perr := strconv.Atoi(after); perr == nil {
				err = err.WithDetail("retry_after", time.Duration(secs)*time.Second)
			}
		}
		return err

	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return errors.New(errors.ErrorTypeAuthentication, "request not authorized").
			WithDetail("status", resp.StatusCode).
			WithDetail("path", path).
			WithDetail("body", string(snippet))

	// Includes Cloudflare's 520, which HubSpot emits under load.
	case resp.StatusCode >= 500:
		return errors.New(errors.ErrorTypeUpstream, "upstream error").
			WithDetail("status", resp.StatusCode).
			WithDetail("path", path).
			WithDetail("body", string(snippet))

	default:
		return errors.New(errors.ErrorTypeData, "request rejected").
			WithDetail("status", resp.StatusCode).
			WithDetail("path", path).
			WithDetail("body", string(snippet))
	}
}
