// Package lightspeed talks to the Lightspeed Retail API: OAuth token
// lifecycle, single-page fetches with retry and re-authentication, and
// traversal of the Item collection.
package lightspeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"stocksync-api/internal/logger"
	"stocksync-api/internal/metrics"
	"stocksync-api/internal/model"
	"stocksync-api/internal/repository"
	"stocksync-api/internal/upstream"
)

var (
	// ErrAuthConfig means no refresh token is on record; an operator must seed one.
	ErrAuthConfig = errors.New("lightspeed: no refresh token on record")
	// ErrAuthExchange means the token endpoint rejected the exchange, or the
	// API rejected a freshly refreshed token.
	ErrAuthExchange = errors.New("lightspeed: token exchange rejected")
)

// AccessToken is a bearer token tagged with the refresh generation that produced it.
type AccessToken struct {
	Value   string
	Version uint64
}

// TokenConfig holds OAuth client settings.
type TokenConfig struct {
	IntegrationID string
	ClientID      string
	ClientSecret  string
	TokenURL      string
}

// TokenManager owns the current access token and the refresh-token exchange.
// Refreshes are serialized; each one bumps the token version.
type TokenManager struct {
	cfg     TokenConfig
	creds   repository.CredentialRepository
	client  *upstream.Client
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu      sync.Mutex
	loaded  bool
	current AccessToken
	// unsaved holds an exchanged credential the store has not accepted yet.
	// It takes precedence over the stored copy until a save succeeds.
	unsaved *model.Credential
}

// NewTokenManager creates a TokenManager.
func NewTokenManager(cfg TokenConfig, creds repository.CredentialRepository, client *upstream.Client, log *zap.Logger, m *metrics.Metrics) *TokenManager {
	return &TokenManager{
		cfg:     cfg,
		creds:   creds,
		client:  client,
		logger:  logger.OrNop(log).Named("token"),
		metrics: m,
		now:     time.Now,
	}
}

// ValidAccessToken returns the current access token, loading it from the
// store on first use. A stored null token is exchanged once.
func (m *TokenManager) ValidAccessToken(ctx context.Context) (AccessToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.loaded {
		cred, err := m.loadCredential(ctx)
		if err != nil {
			return AccessToken{}, err
		}
		m.current = AccessToken{Value: cred.AccessToken}
		m.loaded = true
	}
	if m.current.Value != "" {
		return m.current, nil
	}
	return m.refreshLocked(ctx)
}

// RefreshAccessToken always performs a network exchange.
func (m *TokenManager) RefreshAccessToken(ctx context.Context) (AccessToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refreshLocked(ctx)
}

// RefreshIfStale refreshes only if seen is still the current token. When a
// concurrent caller already refreshed, the newer token is returned without
// another exchange.
func (m *TokenManager) RefreshIfStale(ctx context.Context, seen AccessToken) (AccessToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.loaded && m.current.Value != "" && m.current.Version > seen.Version {
		return m.current, nil
	}
	return m.refreshLocked(ctx)
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

func (m *TokenManager) refreshLocked(ctx context.Context) (AccessToken, error) {
	cred, err := m.loadCredential(ctx)
	if err != nil {
		return AccessToken{}, err
	}

	form := url.Values{
		"client_id":     {m.cfg.ClientID},
		"client_secret": {m.cfg.ClientSecret},
		"refresh_token": {cred.RefreshToken},
		"grant_type":    {"refresh_token"},
	}

	body, err := m.client.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.TokenURL, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
	if err != nil {
		m.metrics.TokenRefresh(false)
		var se *upstream.StatusError
		if errors.As(err, &se) {
			m.logger.Error("token exchange rejected", zap.Int("status", se.StatusCode), zap.String("body", se.Body))
			return AccessToken{}, fmt.Errorf("%w: %w", ErrAuthExchange, err)
		}
		return AccessToken{}, fmt.Errorf("token exchange: %w", err)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		m.metrics.TokenRefresh(false)
		return AccessToken{}, fmt.Errorf("%w: decode response: %v", ErrAuthExchange, err)
	}
	if tr.AccessToken == "" {
		m.metrics.TokenRefresh(false)
		return AccessToken{}, fmt.Errorf("%w: response carried no access_token", ErrAuthExchange)
	}

	// Rotation is optional; keep the previous refresh token when none is returned.
	refresh := cred.RefreshToken
	if tr.RefreshToken != "" {
		refresh = tr.RefreshToken
	}

	// A rotated refresh token invalidates the old one, so the new pair is
	// kept in memory even when the store rejects it.
	next := model.Credential{
		IntegrationID: m.cfg.IntegrationID,
		AccessToken:   tr.AccessToken,
		RefreshToken:  refresh,
		UpdatedAt:     m.now().UTC(),
	}
	m.current = AccessToken{Value: tr.AccessToken, Version: m.current.Version + 1}
	m.loaded = true
	if err := m.creds.SaveCredential(ctx, next); err != nil {
		m.unsaved = &next
		m.logger.Error("failed to persist refreshed token, keeping it in memory",
			zap.Bool("rotated", tr.RefreshToken != ""),
			zap.Error(err))
	} else {
		m.unsaved = nil
	}
	m.metrics.TokenRefresh(true)
	m.logger.Info("access token refreshed",
		zap.Uint64("version", m.current.Version),
		zap.Bool("rotated", tr.RefreshToken != ""),
		zap.Int("expires_in", tr.ExpiresIn))

	return m.current, nil
}

func (m *TokenManager) loadCredential(ctx context.Context) (*model.Credential, error) {
	if m.unsaved != nil {
		cred := *m.unsaved
		return &cred, nil
	}
	cred, err := m.creds.GetCredential(ctx, m.cfg.IntegrationID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w (integration %q)", ErrAuthConfig, m.cfg.IntegrationID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load credential: %w", err)
	}
	if cred.RefreshToken == "" {
		return nil, fmt.Errorf("%w (integration %q)", ErrAuthConfig, m.cfg.IntegrationID)
	}
	return cred, nil
}
