package clients

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/ajitpratap0/hubtap/pkg/errors"
	"github.com/ajitpratap0/hubtap/pkg/metrics"
)

// TokenConfig holds the credentials the token manager works with. Either a
// static AccessToken (private app) or the OAuth app triple must be set.
type TokenConfig struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	RedirectURI  string
	AccessToken  string

	// TokenURL is the OAuth token endpoint
	TokenURL string
	// RefreshThreshold refreshes the token this long before expiry
	RefreshThreshold time.Duration
}

// TokenManager supplies valid access tokens with automatic refresh,
// thread-safe access, and coordinated refresh so concurrent callers do not
// stampede the token endpoint.
type TokenManager struct {
	config TokenConfig
	logger *zap.Logger

	// Current token
	current *oauth2.Token

	// Refresh coordination
	refreshing  bool
	refreshCond *sync.Cond

	mu sync.RWMutex
}

// NewTokenManager creates a token manager. In static mode (AccessToken set)
// it hands out the configured token and never refreshes.
func NewTokenManager(config TokenConfig, logger *zap.Logger) *TokenManager {
	if config.RefreshThreshold == 0 {
		config.RefreshThreshold = 5 * time.Minute
	}

	return &TokenManager{
		config:      config,
		logger:      logger.With(zap.String("component", "token_manager")),
		refreshCond: sync.NewCond(&sync.Mutex{}),
	}
}

// AccessToken returns a valid access token, refreshing first when the
// current one is missing or close to expiry.
func (tm *TokenManager) AccessToken(ctx context.Context) (string, error) {
	if tm.config.AccessToken != "" {
		return tm.config.AccessToken, nil
	}

	tm.mu.RLock()
	token := tm.current
	tm.mu.RUnlock()

	if token != nil && !tm.nearExpiry(token) {
		return token.AccessToken, nil
	}

	token, err := tm.refresh(ctx)
	if err != nil {
		return "", err
	}
	return token.AccessToken, nil
}

// Invalidate discards the current token so the next AccessToken call
// refreshes. Called after the API answers 401 with a token that should
// still have been valid.
func (tm *TokenManager) Invalidate() {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.current = nil
}

// Valid reports whether the manager currently holds an unexpired token.
func (tm *TokenManager) Valid() bool {
	if tm.config.AccessToken != "" {
		return true
	}

	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return tm.current != nil && time.Now().Before(tm.current.Expiry)
}

// nearExpiry reports whether the token is inside the refresh threshold.
func (tm *TokenManager) nearExpiry(token *oauth2.Token) bool {
	if token.Expiry.IsZero() {
		return false
	}
	return time.Until(token.Expiry) < tm.config.RefreshThreshold
}

// refresh performs a coordinated token refresh. Only one goroutine talks to
// the token endpoint; the rest wait and pick up the result.
func (tm *TokenManager) refresh(ctx context.Context) (*oauth2.Token, error) {
	tm.refreshCond.L.Lock()

	if tm.refreshing {
		tm.refreshCond.Wait()
		tm.refreshCond.L.Unlock()

		tm.mu.RLock()
		token := tm.current
		tm.mu.RUnlock()

		if token != nil && !tm.nearExpiry(token) {
			return token, nil
		}

		return tm.refresh(ctx)
	}

	tm.refreshing = true
	tm.refreshCond.L.Unlock()

	defer func() {
		tm.refreshCond.L.Lock()
		tm.refreshing = false
		tm.refreshCond.Broadcast()
		tm.refreshCond.L.Unlock()
	}()

	// A fresh token source per refresh forces an actual grant; the cached
	// source would happily return a token Invalidate already rejected.
	oc := &oauth2.Config{
		ClientID:     tm.config.ClientID,
		ClientSecret: tm.config.ClientSecret,
		RedirectURL:  tm.config.RedirectURI,
		Endpoint:     oauth2.Endpoint{TokenURL: tm.config.TokenURL},
	}
	token, err := oc.TokenSource(ctx, &oauth2.Token{RefreshToken: tm.config.RefreshToken}).Token()
	if err != nil {
		metrics.TokenRefreshes.WithLabelValues("failure").Inc()
		tm.logger.Error("token refresh failed", zap.Error(err))
		return nil, errors.Wrap(err, errors.ErrorTypeAuthentication, "token refresh failed")
	}

	tm.mu.Lock()
	tm.current = token
	tm.mu.Unlock()

	metrics.TokenRefreshes.WithLabelValues("success").Inc()
	tm.logger.Info("token refreshed", zap.Time("expires_at", token.Expiry))

	return token, nil
}
