package lightspeed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"

	"stocksync-api/internal/model"
	"stocksync-api/internal/repository"
	"stocksync-api/internal/upstream"
)

type memCreds struct {
	mu    sync.Mutex
	creds map[string]model.Credential
	saves int
	// saveErrs are returned, in order, by the next SaveCredential calls.
	saveErrs []error
}

func newMemCreds(seed ...model.Credential) *memCreds {
	m := &memCreds{creds: make(map[string]model.Credential)}
	for _, c := range seed {
		m.creds[c.IntegrationID] = c
	}
	return m
}

func (m *memCreds) GetCredential(_ context.Context, id string) (*model.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.creds[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &c, nil
}

func (m *memCreds) SaveCredential(_ context.Context, c model.Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.saveErrs) > 0 {
		err := m.saveErrs[0]
		m.saveErrs = m.saveErrs[1:]
		return err
	}
	m.creds[c.IntegrationID] = c
	m.saves++
	return nil
}

func (m *memCreds) get(id string) model.Credential {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creds[id]
}

// tokenServer fakes the OAuth endpoint. Each exchange returns "fresh-<n>".
type tokenServer struct {
	*httptest.Server
	exchanges atomic.Int32
	rotate    bool
	status    int
	lastForm  chan map[string]string
}

func newTokenServer(t *testing.T) *tokenServer {
	ts := &tokenServer{lastForm: make(chan map[string]string, 16)}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := ts.exchanges.Add(1)
		assert.NoError(t, r.ParseForm())
		select {
		case ts.lastForm <- map[string]string{
			"client_id":     r.PostForm.Get("client_id"),
			"client_secret": r.PostForm.Get("client_secret"),
			"refresh_token": r.PostForm.Get("refresh_token"),
			"grant_type":    r.PostForm.Get("grant_type"),
		}:
		default:
		}
		if ts.status != 0 {
			w.WriteHeader(ts.status)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		resp := map[string]any{"access_token": freshToken(int(n)), "expires_in": 1800}
		if ts.rotate {
			resp["refresh_token"] = "rotated-" + freshToken(int(n))
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func freshToken(n int) string {
	return "fresh-" + strconv.Itoa(n)
}

const testIntegration = "lightspeed"

func newTestTokenManager(t *testing.T, tokenURL string, creds *memCreds) *TokenManager {
	client := upstream.NewClient(upstream.ClientConfig{RequestTimeout: 5 * time.Second})
	return NewTokenManager(TokenConfig{
		IntegrationID: testIntegration,
		ClientID:      "cid",
		ClientSecret:  "secret",
		TokenURL:      tokenURL,
	}, creds, client, zaptest.NewLogger(t), nil)
}

type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordingSleeper) sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
	return nil
}

func newTestFetcher(t *testing.T, tokens *TokenManager, maxRetries int) (*Fetcher, *recordingSleeper) {
	client := upstream.NewClient(upstream.ClientConfig{RequestTimeout: 5 * time.Second})
	f := NewFetcher(FetcherConfig{MaxRetries: maxRetries, BaseDelay: 100 * time.Millisecond}, client, tokens, zaptest.NewLogger(t), nil)
	s := &recordingSleeper{}
	f.policy.Sleep = s.sleep
	return f, s
}

func rawItems(from, n int) []model.RawItem {
	items := make([]model.RawItem, n)
	for i := range items {
		id := from + i
		items[i] = model.RawItem{ItemID: strconv.Itoa(id), CustomSKU: "SKU-" + strconv.Itoa(id), Description: "Item 2024"}
	}
	return items
}
