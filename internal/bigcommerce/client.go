// Package bigcommerce reads and writes variant stock levels through the
// BigCommerce catalog API.
package bigcommerce

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"stocksync-api/internal/logger"
	"stocksync-api/internal/metrics"
	"stocksync-api/internal/model"
	"stocksync-api/internal/upstream"
)

// Config holds BigCommerce client settings.
type Config struct {
	BaseURL     string
	StoreHash   string
	AccessToken string
	PageSize    int
	Concurrency int
	MaxRetries  int
	BaseDelay   time.Duration
}

// Client lists variants and updates their inventory level.
type Client struct {
	cfg     Config
	http    *upstream.Client
	policy  upstream.Policy
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewClient creates a Client.
func NewClient(cfg Config, httpClient *upstream.Client, log *zap.Logger, m *metrics.Metrics) *Client {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 250
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	c := &Client{
		cfg:     cfg,
		http:    httpClient,
		logger:  logger.OrNop(log).Named("bigcommerce"),
		metrics: m,
	}
	c.policy = upstream.Policy{
		MaxRetries: cfg.MaxRetries,
		BaseDelay:  cfg.BaseDelay,
		OnRetry: func(attempt, status int, delay time.Duration) {
			c.metrics.UpstreamRetry(metrics.SourceBigCommerce, status)
			c.logger.Warn("bigcommerce throttled, backing off",
				zap.Int("status", status),
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay))
		},
	}
	return c
}

type variant struct {
	ID             int64  `json:"id"`
	ProductID      int64  `json:"product_id"`
	SKU            string `json:"sku"`
	InventoryLevel int    `json:"inventory_level"`
}

type variantsResponse struct {
	Data []variant `json:"data"`
	Meta struct {
		Pagination struct {
			Total       int `json:"total"`
			CurrentPage int `json:"current_page"`
			TotalPages  int `json:"total_pages"`
		} `json:"pagination"`
	} `json:"meta"`
}

// ListEntries returns every variant with a SKU. Page 1 reveals the page
// count; the remaining pages are fetched concurrently. Without pagination
// metadata, pages are read in order until an empty one.
func (c *Client) ListEntries(ctx context.Context) ([]model.TargetEntry, error) {
	first, err := c.variantsPage(ctx, 1)
	if err != nil {
		return nil, fmt.Errorf("page 1: %w", err)
	}

	pages := [][]variant{first.Data}
	total := first.Meta.Pagination.TotalPages

	switch {
	case total > 1:
		rest := make([][]variant, total-1)
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(c.cfg.Concurrency)
		for i := range rest {
			page := i + 2
			g.Go(func() error {
				resp, err := c.variantsPage(gctx, page)
				if err != nil {
					return fmt.Errorf("page %d: %w", page, err)
				}
				rest[i] = resp.Data
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		pages = append(pages, rest...)

	case total == 0 && len(first.Data) > 0:
		for page := 2; ; page++ {
			resp, err := c.variantsPage(ctx, page)
			if err != nil {
				return nil, fmt.Errorf("page %d: %w", page, err)
			}
			if len(resp.Data) == 0 {
				break
			}
			pages = append(pages, resp.Data)
		}
	}

	var entries []model.TargetEntry
	for _, vs := range pages {
		for _, v := range vs {
			sku := strings.TrimSpace(v.SKU)
			if sku == "" {
				continue
			}
			entries = append(entries, model.TargetEntry{
				Key:          sku,
				CurrentValue: v.InventoryLevel,
				ProductID:    v.ProductID,
				VariantID:    v.ID,
			})
		}
	}

	c.logger.Info("variants listed", zap.Int("pages", len(pages)), zap.Int("entries", len(entries)))
	return entries, nil
}

// SetStock PUTs the new inventory level on one variant.
func (c *Client) SetStock(ctx context.Context, entry model.TargetEntry, value int) error {
	payload, err := json.Marshal(map[string]int{"inventory_level": value})
	if err != nil {
		return err
	}
	endpoint := fmt.Sprintf("%s/catalog/products/%d/variants/%d", c.apiBase(), entry.ProductID, entry.VariantID)

	_, err = c.call(ctx, http.MethodPut, endpoint, payload)
	return err
}

func (c *Client) variantsPage(ctx context.Context, page int) (*variantsResponse, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(c.cfg.PageSize))

	body, err := c.call(ctx, http.MethodGet, c.apiBase()+"/catalog/variants?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var resp variantsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode variants page %d: %w", page, err)
	}
	c.metrics.PageFetched(metrics.SourceBigCommerce, len(resp.Data))
	return &resp, nil
}

func (c *Client) call(ctx context.Context, method, endpoint string, payload []byte) ([]byte, error) {
	var body []byte
	err := c.policy.Do(ctx, func(ctx context.Context) error {
		b, err := c.http.Do(ctx, func(ctx context.Context) (*http.Request, error) {
			var rdr *bytes.Reader
			if payload != nil {
				rdr = bytes.NewReader(payload)
			}
			req, err := newRequest(ctx, method, endpoint, rdr)
			if err != nil {
				return nil, err
			}
			req.Header.Set("X-Auth-Token", c.cfg.AccessToken)
			req.Header.Set("Accept", "application/json")
			if payload != nil {
				req.Header.Set("Content-Type", "application/json")
			}
			return req, nil
		})
		body = b
		return err
	})
	return body, err
}

func newRequest(ctx context.Context, method, endpoint string, body *bytes.Reader) (*http.Request, error) {
	if body == nil {
		return http.NewRequestWithContext(ctx, method, endpoint, nil)
	}
	return http.NewRequestWithContext(ctx, method, endpoint, body)
}

func (c *Client) apiBase() string {
	return fmt.Sprintf("%s/%s/v3", strings.TrimRight(c.cfg.BaseURL, "/"), c.cfg.StoreHash)
}
