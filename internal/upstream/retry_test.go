package upstream

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSleeper struct {
	delays []time.Duration
}

func (r *recordingSleeper) sleep(_ context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return nil
}

func failing(status int) error {
	return NewStatusError(http.MethodGet, "http://example.test/Item.json", status, []byte("slow down"))
}

func TestPolicy_Delay(t *testing.T) {
	p := Policy{BaseDelay: 100 * time.Millisecond}

	assert.Equal(t, 100*time.Millisecond, p.Delay(0))
	assert.Equal(t, 200*time.Millisecond, p.Delay(1))
	assert.Equal(t, 400*time.Millisecond, p.Delay(2))
	assert.Equal(t, 1600*time.Millisecond, p.Delay(4))
}

func TestPolicy_RetriesBelowCeilingSucceed(t *testing.T) {
	s := &recordingSleeper{}
	p := Policy{MaxRetries: 5, BaseDelay: time.Second, Sleep: s.sleep}

	calls := 0
	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls <= 3 {
			return failing(http.StatusTooManyRequests)
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 4, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, s.delays)
}

func TestPolicy_ExhaustionClassifiesStatus(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusTooManyRequests, ErrRateLimitExceeded},
		{http.StatusServiceUnavailable, ErrUpstreamUnavailable},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			s := &recordingSleeper{}
			p := Policy{MaxRetries: 2, BaseDelay: time.Millisecond, Sleep: s.sleep}

			calls := 0
			err := p.Do(context.Background(), func(ctx context.Context) error {
				calls++
				return failing(tt.status)
			})

			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, tt.status, StatusOf(err))
			assert.Equal(t, 3, calls)
			assert.Len(t, s.delays, 2)
		})
	}
}

func TestPolicy_NonRetryablePassesThrough(t *testing.T) {
	s := &recordingSleeper{}
	p := Policy{MaxRetries: 5, BaseDelay: time.Millisecond, Sleep: s.sleep}

	calls := 0
	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return failing(http.StatusBadRequest)
	})

	assert.ErrorIs(t, err, ErrUpstreamRequest)
	assert.Equal(t, 1, calls)
	assert.Empty(t, s.delays)

	plain := errors.New("dial tcp: refused")
	err = p.Do(context.Background(), func(ctx context.Context) error { return plain })
	assert.Same(t, plain, err)
}

func TestPolicy_CancelDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := Policy{MaxRetries: 3, BaseDelay: time.Hour}
	err := p.Do(ctx, func(ctx context.Context) error {
		return failing(http.StatusServiceUnavailable)
	})

	assert.ErrorIs(t, err, context.Canceled)
}

func TestPolicy_OnRetryHook(t *testing.T) {
	var statuses []int
	p := Policy{
		MaxRetries: 1,
		BaseDelay:  time.Millisecond,
		Sleep:      (&recordingSleeper{}).sleep,
		OnRetry:    func(attempt, status int, delay time.Duration) { statuses = append(statuses, status) },
	}

	_ = p.Do(context.Background(), func(ctx context.Context) error {
		return failing(http.StatusTooManyRequests)
	})

	assert.Equal(t, []int{http.StatusTooManyRequests}, statuses)
}
