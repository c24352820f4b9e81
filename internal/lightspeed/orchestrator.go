package lightspeed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"stocksync-api/internal/logger"
	"stocksync-api/internal/model"
)

// Paging selects how the Item collection is traversed.
type Paging string

const (
	// PagingCursor follows the @attributes.next link of each page.
	PagingCursor Paging = "cursor"
	// PagingOffset requests limit/offset pages in concurrent batches.
	PagingOffset Paging = "offset"
)

// PageFetcher fetches a single page.
type PageFetcher interface {
	FetchPage(ctx context.Context, req PageRequest) (*Page, error)
}

// OrchestratorConfig holds traversal settings.
type OrchestratorConfig struct {
	BaseURL       string
	AccountID     string
	LoadRelations []string
	PageSize      int
	Concurrency   int
	Paging        Paging
}

// FetchOptions narrows one traversal. Since adds updatedSince to every request.
type FetchOptions struct {
	Since *time.Time
}

// Orchestrator walks the whole Item collection with bounded concurrency.
type Orchestrator struct {
	cfg     OrchestratorConfig
	fetcher PageFetcher
	logger  *zap.Logger
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(cfg OrchestratorConfig, fetcher PageFetcher, log *zap.Logger) *Orchestrator {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.Paging == "" {
		cfg.Paging = PagingCursor
	}
	return &Orchestrator{cfg: cfg, fetcher: fetcher, logger: logger.OrNop(log).Named("orchestrator")}
}

// FetchAll returns every item in the collection. Item order is unspecified.
// Any page failure aborts the traversal; no partial result is returned.
func (o *Orchestrator) FetchAll(ctx context.Context, opts FetchOptions) ([]model.RawItem, error) {
	start := time.Now()

	var (
		items []model.RawItem
		pages int
		err   error
	)
	switch o.cfg.Paging {
	case PagingOffset:
		items, pages, err = o.fetchOffset(ctx, opts)
	case PagingCursor:
		items, pages, err = o.fetchCursor(ctx, opts)
	default:
		return nil, fmt.Errorf("unknown paging strategy %q", o.cfg.Paging)
	}
	if err != nil {
		return nil, err
	}

	o.logger.Info("item traversal complete",
		zap.String("paging", string(o.cfg.Paging)),
		zap.Int("pages", pages),
		zap.Int("items", len(items)),
		zap.Duration("elapsed", time.Since(start)))
	return items, nil
}

// fetchOffset issues Concurrency pages per batch and stops after a batch that
// contains a short page.
func (o *Orchestrator) fetchOffset(ctx context.Context, opts FetchOptions) ([]model.RawItem, int, error) {
	var (
		latest tokenTracker
		all    []model.RawItem
		pages  int
	)

	for offset := 0; ; offset += o.cfg.Concurrency * o.cfg.PageSize {
		batch := make([][]model.RawItem, o.cfg.Concurrency)

		g, gctx := errgroup.WithContext(ctx)
		for i := range batch {
			pageOffset := offset + i*o.cfg.PageSize
			g.Go(func() error {
				page, err := o.fetcher.FetchPage(gctx, PageRequest{
					URL:   o.itemsURL(&pageOffset, opts.Since),
					Token: latest.get(),
				})
				if err != nil {
					return fmt.Errorf("offset %d: %w", pageOffset, err)
				}
				latest.observe(page.Token)
				batch[i] = page.Items
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, pages, err
		}

		done := false
		for _, items := range batch {
			pages++
			all = append(all, items...)
			if len(items) < o.cfg.PageSize {
				done = true
			}
		}
		o.logger.Debug("offset batch fetched", zap.Int("offset", offset), zap.Int("total", len(all)))
		if done {
			return all, pages, nil
		}
	}
}

type pageResult struct {
	url  string
	page *Page
	err  error
}

// fetchCursor drains a frontier of next-links with a fixed worker pool.
// The coordinator owns the frontier and the seen set; workers only fetch.
func (o *Orchestrator) fetchCursor(ctx context.Context, opts FetchOptions) ([]model.RawItem, int, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var latest tokenTracker
	jobs := make(chan string)
	// Each worker holds at most one undelivered result.
	results := make(chan pageResult, o.cfg.Concurrency)

	var wg sync.WaitGroup
	for i := 0; i < o.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for u := range jobs {
				page, err := o.fetcher.FetchPage(ctx, PageRequest{URL: u, Token: latest.get()})
				results <- pageResult{url: u, page: page, err: err}
			}
		}()
	}

	first := o.itemsURL(nil, opts.Since)
	frontier := []string{first}
	seen := map[string]struct{}{first: {}}
	inFlight := 0

	var (
		all      []model.RawItem
		pages    int
		firstErr error
	)
	for len(frontier) > 0 || inFlight > 0 {
		var (
			send chan<- string
			next string
		)
		if len(frontier) > 0 {
			send = jobs
			next = frontier[0]
		}

		select {
		case send <- next:
			frontier = frontier[1:]
			inFlight++
		case r := <-results:
			inFlight--
			if r.err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("page %s: %w", r.url, r.err)
					cancel()
				}
				frontier = nil
				continue
			}
			if firstErr != nil {
				continue
			}
			pages++
			latest.observe(r.page.Token)
			all = append(all, r.page.Items...)
			if r.page.Next != "" {
				if _, ok := seen[r.page.Next]; !ok {
					seen[r.page.Next] = struct{}{}
					frontier = append(frontier, r.page.Next)
				}
			}
		}
	}

	close(jobs)
	wg.Wait()

	if firstErr != nil {
		return nil, pages, firstErr
	}
	return all, pages, nil
}

// itemsURL builds an Item.json URL. A nil offset omits the offset parameter.
func (o *Orchestrator) itemsURL(offset *int, since *time.Time) string {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(o.cfg.PageSize))
	if len(o.cfg.LoadRelations) > 0 {
		rel, _ := json.Marshal(o.cfg.LoadRelations)
		q.Set("load_relations", string(rel))
	}
	if offset != nil {
		q.Set("offset", strconv.Itoa(*offset))
	}
	if since != nil {
		q.Set("updatedSince", since.UTC().Format(time.RFC3339))
	}
	return fmt.Sprintf("%s/Account/%s/Item.json?%s",
		strings.TrimRight(o.cfg.BaseURL, "/"), url.PathEscape(o.cfg.AccountID), q.Encode())
}

// tokenTracker keeps the newest token seen by any page in a traversal so new
// requests start with it.
type tokenTracker struct {
	mu  sync.Mutex
	tok AccessToken
}

func (t *tokenTracker) get() AccessToken {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tok
}

func (t *tokenTracker) observe(tok AccessToken) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.tok.Value == "" || tok.Version > t.tok.Version {
		t.tok = tok
	}
}
