package lightspeed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"stocksync-api/internal/model"
)

// offsetCollection serves total items in limit/offset pages.
func offsetCollection(t *testing.T, total int) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		limit, _ := strconv.Atoi(q.Get("limit"))
		offset, _ := strconv.Atoi(q.Get("offset"))
		n := total - offset
		if n > limit {
			n = limit
		}
		if n < 0 {
			n = 0
		}
		writeItems(w, rawItems(offset, n), "")
	}))
	t.Cleanup(srv.Close)
	return srv
}

// cursorCollection serves total items as a chain of next links.
func cursorCollection(t *testing.T, total, pageSize int) *httptest.Server {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		after, _ := strconv.Atoi(r.URL.Query().Get("after"))
		n := total - after
		if n > pageSize {
			n = pageSize
		}
		next := ""
		if after+n < total {
			next = srv.URL + r.URL.Path + "?after=" + strconv.Itoa(after+n)
		}
		writeItems(w, rawItems(after, n), next)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newOrchestratorFor(t *testing.T, baseURL string, paging Paging, concurrency int) *Orchestrator {
	ts := newTokenServer(t)
	creds := newMemCreds(model.Credential{IntegrationID: testIntegration, AccessToken: "ok", RefreshToken: "r"})
	f, _ := newTestFetcher(t, newTestTokenManager(t, ts.URL, creds), 3)
	return NewOrchestrator(OrchestratorConfig{
		BaseURL:       baseURL,
		AccountID:     "42",
		LoadRelations: []string{"ItemShops"},
		PageSize:      100,
		Concurrency:   concurrency,
		Paging:        paging,
	}, f, zaptest.NewLogger(t))
}

func assertUniqueIDs(t *testing.T, items []model.RawItem, want int) {
	t.Helper()
	ids := make(map[string]struct{}, len(items))
	for _, it := range items {
		ids[it.ItemID] = struct{}{}
	}
	assert.Len(t, ids, want)
}

func TestFetchAll_OffsetStopsOnShortPage(t *testing.T) {
	for _, concurrency := range []int{1, 3, 10} {
		t.Run(strconv.Itoa(concurrency), func(t *testing.T) {
			srv := offsetCollection(t, 242)
			o := newOrchestratorFor(t, srv.URL, PagingOffset, concurrency)

			items, err := o.FetchAll(context.Background(), FetchOptions{})
			require.NoError(t, err)

			assert.Len(t, items, 242)
			assertUniqueIDs(t, items, 242)
		})
	}
}

func TestFetchAll_OffsetExactMultipleEndsOnEmptyPage(t *testing.T) {
	srv := offsetCollection(t, 200)
	o := newOrchestratorFor(t, srv.URL, PagingOffset, 2)

	items, err := o.FetchAll(context.Background(), FetchOptions{})
	require.NoError(t, err)
	assert.Len(t, items, 200)
}

func TestFetchAll_CursorDrainsFrontier(t *testing.T) {
	srv := cursorCollection(t, 242, 100)
	o := newOrchestratorFor(t, srv.URL, PagingCursor, 4)

	items, err := o.FetchAll(context.Background(), FetchOptions{})
	require.NoError(t, err)

	assert.Len(t, items, 242)
	assertUniqueIDs(t, items, 242)
}

func TestFetchAll_EmptyCollection(t *testing.T) {
	for _, paging := range []Paging{PagingCursor, PagingOffset} {
		t.Run(string(paging), func(t *testing.T) {
			srv := offsetCollection(t, 0)
			o := newOrchestratorFor(t, srv.URL, paging, 3)

			items, err := o.FetchAll(context.Background(), FetchOptions{})
			require.NoError(t, err)
			assert.Empty(t, items)
		})
	}
}

// scriptedFetcher serves pages from a function and records requests.
type scriptedFetcher struct {
	mu       sync.Mutex
	requests []PageRequest
	serve    func(req PageRequest) (*Page, error)
}

func (s *scriptedFetcher) FetchPage(ctx context.Context, req PageRequest) (*Page, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.serve(req)
}

func TestFetchAll_PageFailureAborts(t *testing.T) {
	boom := errors.New("upstream exploded")

	for _, paging := range []Paging{PagingCursor, PagingOffset} {
		t.Run(string(paging), func(t *testing.T) {
			calls := 0
			var mu sync.Mutex
			f := &scriptedFetcher{serve: func(req PageRequest) (*Page, error) {
				mu.Lock()
				defer mu.Unlock()
				calls++
				if calls == 2 {
					return nil, boom
				}
				return &Page{Items: rawItems(calls*100, 100), Next: "http://up/next?n=" + strconv.Itoa(calls)}, nil
			}}
			o := NewOrchestrator(OrchestratorConfig{BaseURL: "http://up", AccountID: "1", PageSize: 100, Concurrency: 2, Paging: paging}, f, zaptest.NewLogger(t))

			items, err := o.FetchAll(context.Background(), FetchOptions{})
			assert.ErrorIs(t, err, boom)
			assert.Nil(t, items)
		})
	}
}

func TestFetchAll_SinceAddedToEveryRequest(t *testing.T) {
	since := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	f := &scriptedFetcher{serve: func(req PageRequest) (*Page, error) {
		u, _ := url.Parse(req.URL)
		offset, _ := strconv.Atoi(u.Query().Get("offset"))
		switch {
		case offset == 200:
			return &Page{Items: rawItems(offset, 10)}, nil
		case offset > 200:
			return &Page{}, nil
		}
		return &Page{Items: rawItems(offset, 100)}, nil
	}}
	o := NewOrchestrator(OrchestratorConfig{BaseURL: "http://up/API/V3", AccountID: "7", LoadRelations: []string{"ItemShops"}, PageSize: 100, Concurrency: 2, Paging: PagingOffset}, f, zaptest.NewLogger(t))

	items, err := o.FetchAll(context.Background(), FetchOptions{Since: &since})
	require.NoError(t, err)
	assert.Len(t, items, 210)

	require.Len(t, f.requests, 4)
	for _, req := range f.requests {
		u, err := url.Parse(req.URL)
		require.NoError(t, err)
		assert.Equal(t, "/API/V3/Account/7/Item.json", u.Path)
		assert.Equal(t, "2025-03-01T12:00:00Z", u.Query().Get("updatedSince"))
		assert.Equal(t, `["ItemShops"]`, u.Query().Get("load_relations"))
		assert.Equal(t, "100", u.Query().Get("limit"))
	}
}

func TestFetchAll_PropagatesLatestToken(t *testing.T) {
	f := &scriptedFetcher{serve: func(req PageRequest) (*Page, error) {
		if req.Token.Value == "" {
			return &Page{Items: rawItems(0, 1), Next: "http://up/p2", Token: AccessToken{Value: "v2", Version: 2}}, nil
		}
		return &Page{Items: rawItems(1, 1), Token: req.Token}, nil
	}}
	o := NewOrchestrator(OrchestratorConfig{BaseURL: "http://up", AccountID: "1", PageSize: 100, Concurrency: 1, Paging: PagingCursor}, f, zaptest.NewLogger(t))

	items, err := o.FetchAll(context.Background(), FetchOptions{})
	require.NoError(t, err)
	assert.Len(t, items, 2)

	require.Len(t, f.requests, 2)
	assert.Equal(t, AccessToken{Value: "v2", Version: 2}, f.requests[1].Token)
}

func TestFetchAll_CursorSkipsSeenLinks(t *testing.T) {
	f := &scriptedFetcher{serve: func(req PageRequest) (*Page, error) {
		// Every page points back at the same link.
		return &Page{Items: rawItems(0, 1), Next: "http://up/loop"}, nil
	}}
	o := NewOrchestrator(OrchestratorConfig{BaseURL: "http://up", AccountID: "1", PageSize: 100, Concurrency: 3, Paging: PagingCursor}, f, zaptest.NewLogger(t))

	items, err := o.FetchAll(context.Background(), FetchOptions{})
	require.NoError(t, err)
	assert.Len(t, items, 2)
	assert.Len(t, f.requests, 2)
}

func TestTokenTracker_KeepsNewest(t *testing.T) {
	var tr tokenTracker
	tr.observe(AccessToken{Value: "a", Version: 0})
	tr.observe(AccessToken{Value: "c", Version: 3})
	tr.observe(AccessToken{Value: "b", Version: 1})

	assert.Equal(t, AccessToken{Value: "c", Version: 3}, tr.get())
}
