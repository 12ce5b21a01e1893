package hubspot

import (
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/hubtap/pkg/clients"
	"github.com/ajitpratap0/hubtap/pkg/errors"
	"github.com/ajitpratap0/hubtap/pkg/testutil"
)

// newTestClient builds a client with a static token and fast retries
// pointed at a test server.
func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	log := testutil.TestLogger(t)

	httpCfg := clients.DefaultHTTPConfig()
	httpCfg.RateLimit = 1000
	httpCfg.RateBurst = 1000

	retry := clients.NewRetryPolicy(3, time.Millisecond)
	retry.MaxDelay = 10 * time.Millisecond

	return NewClient(Options{
		BaseURL: baseURL,
		HTTP:    clients.NewHTTPClient(httpCfg, log),
		Tokens:  clients.NewTokenManager(clients.TokenConfig{AccessToken: "test-token"}, log),
		Retry:   retry,
		Logger:  log,
	})
}

func TestClientGet(t *testing.T) {
	var gotAuth, gotAccept string
	srv := testutil.APIServer(t, map[string]http.HandlerFunc{
		"/crm/v3/owners": func(w http.ResponseWriter, r *http.Request) {
			gotAuth = r.Header.Get("Authorization")
			gotAccept = r.Header.Get("Accept")
			testutil.JSONResponse(http.StatusOK, `{"results":[{"id":"1"}]}`)(w, r)
		},
	})

	client := newTestClient(t, srv.URL)
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	var out map[string]interface{}
	require.NoError(t, client.Get(ctx, "/crm/v3/owners", nil, &out))

	assert.Equal(t, "Bearer test-token", gotAuth)
	assert.Equal(t, "application/json", gotAccept)
	assert.Contains(t, out, "results")
}

func TestClientRetriesRateLimit(t *testing.T) {
	var calls int64
	srv := testutil.APIServer(t, map[string]http.HandlerFunc{
		"/crm/v3/owners": func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt64(&calls, 1) < 3 {
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			testutil.JSONResponse(http.StatusOK, `{"results":[]}`)(w, r)
		},
	})

	client := newTestClient(t, srv.URL)
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	var out map[string]interface{}
	require.NoError(t, client.Get(ctx, "/crm/v3/owners", nil, &out))
	assert.EqualValues(t, 3, atomic.LoadInt64(&calls))
}

func TestClientRetriesUpstreamErrors(t *testing.T) {
	var calls int64
	srv := testutil.APIServer(t, map[string]http.HandlerFunc{
		"/crm/v3/owners": func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt64(&calls, 1)
			w.WriteHeader(520)
		},
	})

	client := newTestClient(t, srv.URL)
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	var out map[string]interface{}
	err := client.Get(ctx, "/crm/v3/owners", nil, &out)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeUpstream))
	assert.EqualValues(t, 3, atomic.LoadInt64(&calls))
}

func TestClientDoesNotRetryForbidden(t *testing.T) {
	var calls int64
	srv := testutil.APIServer(t, map[string]http.HandlerFunc{
		"/crm/v3/owners": func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt64(&calls, 1)
			w.WriteHeader(http.StatusForbidden)
		},
	})

	client := newTestClient(t, srv.URL)
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	var out map[string]interface{}
	err := client.Get(ctx, "/crm/v3/owners", nil, &out)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeAuthentication))
	assert.EqualValues(t, 1, atomic.LoadInt64(&calls))
}

func TestClientRefreshesTokenOnUnauthorized(t *testing.T) {
	var grants int64
	var apiCalls int64

	srv := testutil.APIServer(t, map[string]http.HandlerFunc{
		TokenPath: func(w http.ResponseWriter, r *http.Request) {
			n := atomic.AddInt64(&grants, 1)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"access_token":"tok-` + string(rune('0'+n)) + `","token_type":"bearer","expires_in":1800}`))
		},
		"/crm/v3/owners": func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt64(&apiCalls, 1)
			// The first grant's token is rejected once.
			if r.Header.Get("Authorization") == "Bearer tok-1" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			testutil.JSONResponse(http.StatusOK, `{"results":[]}`)(w, r)
		},
	})

	log := testutil.TestLogger(t)
	httpCfg := clients.DefaultHTTPConfig()
	httpCfg.RateLimit = 1000
	httpCfg.RateBurst = 1000

	retry := clients.NewRetryPolicy(3, time.Millisecond)

	client := NewClient(Options{
		BaseURL: srv.URL,
		HTTP:    clients.NewHTTPClient(httpCfg, log),
		Tokens: clients.NewTokenManager(clients.TokenConfig{
			ClientID:     "id",
			ClientSecret: "secret",
			RefreshToken: "refresh",
			TokenURL:     srv.URL + TokenPath,
		}, log),
		Retry:  retry,
		Logger: log,
	})

	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	var out map[string]interface{}
	require.NoError(t, client.Get(ctx, "/crm/v3/owners", nil, &out))

	assert.EqualValues(t, 2, atomic.LoadInt64(&grants))
	assert.EqualValues(t, 2, atomic.LoadInt64(&apiCalls))
}

func TestStatusErrorRetryAfter(t *testing.T) {
	srv := testutil.APIServer(t, map[string]http.HandlerFunc{
		"/limited": func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)
		},
	})

	resp, err := http.Get(srv.URL + "/limited")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	serr := statusError(resp, "/limited")
	require.Error(t, serr)
	assert.True(t, errors.IsType(serr, errors.ErrorTypeRateLimit))

	var typed *errors.Error
	require.True(t, errors.As(serr, &typed))
	assert.Equal(t, 7*time.Second, typed.Details["retry_after"])
}
