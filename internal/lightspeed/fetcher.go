package lightspeed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"stocksync-api/internal/logger"
	"stocksync-api/internal/metrics"
	"stocksync-api/internal/model"
	"stocksync-api/internal/upstream"
)

// PageRequest is one GET against the Item collection. A zero Token makes the
// fetcher ask the TokenManager for the current one.
type PageRequest struct {
	URL   string
	Token AccessToken
}

// Page is one decoded response. Token is the token that succeeded, which may
// be newer than the one requested.
type Page struct {
	Items []model.RawItem
	Next  string
	Token AccessToken
}

// itemsResponse mirrors the Item.json envelope. A single item comes back as an object.
type itemsResponse struct {
	Attributes struct {
		Next string `json:"next"`
	} `json:"@attributes"`
	Item model.OneOrMany[model.RawItem] `json:"Item"`
}

// Fetcher performs single authenticated page requests.
type Fetcher struct {
	client  *upstream.Client
	tokens  *TokenManager
	policy  upstream.Policy
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// FetcherConfig holds retry settings for page requests.
type FetcherConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
}

// NewFetcher creates a Fetcher.
func NewFetcher(cfg FetcherConfig, client *upstream.Client, tokens *TokenManager, log *zap.Logger, m *metrics.Metrics) *Fetcher {
	f := &Fetcher{
		client:  client,
		tokens:  tokens,
		logger:  logger.OrNop(log).Named("fetcher"),
		metrics: m,
	}
	f.policy = upstream.Policy{
		MaxRetries: cfg.MaxRetries,
		BaseDelay:  cfg.BaseDelay,
		OnRetry: func(attempt, status int, delay time.Duration) {
			f.metrics.UpstreamRetry(metrics.SourceLightspeed, status)
			f.logger.Warn("upstream throttled, backing off",
				zap.Int("status", status),
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay))
		},
	}
	return f
}

// FetchPage GETs one page. A 401 triggers one refresh and one retry; a second
// 401 is reported as ErrAuthExchange. 429 and 503 are retried with backoff.
func (f *Fetcher) FetchPage(ctx context.Context, req PageRequest) (*Page, error) {
	token := req.Token
	if token.Value == "" {
		var err error
		if token, err = f.tokens.ValidAccessToken(ctx); err != nil {
			return nil, err
		}
	}

	body, err := f.get(ctx, req.URL, token)
	if upstream.IsUnauthorized(err) {
		f.logger.Info("access token rejected, refreshing", zap.Uint64("version", token.Version))
		if token, err = f.tokens.RefreshIfStale(ctx, token); err != nil {
			return nil, err
		}
		body, err = f.get(ctx, req.URL, token)
		if upstream.IsUnauthorized(err) {
			return nil, fmt.Errorf("%w: refreshed token rejected: %w", ErrAuthExchange, err)
		}
	}
	if err != nil {
		return nil, err
	}

	var resp itemsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode page %s: %w", req.URL, err)
	}

	f.metrics.PageFetched(metrics.SourceLightspeed, len(resp.Item))
	return &Page{Items: resp.Item, Next: resp.Attributes.Next, Token: token}, nil
}

func (f *Fetcher) get(ctx context.Context, url string, token AccessToken) ([]byte, error) {
	var body []byte
	err := f.policy.Do(ctx, func(ctx context.Context) error {
		b, err := f.client.Do(ctx, func(ctx context.Context) (*http.Request, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return nil, err
			}
			req.Header.Set("Authorization", "Bearer "+token.Value)
			req.Header.Set("Accept", "application/json")
			return req, nil
		})
		body = b
		return err
	})
	return body, err
}
