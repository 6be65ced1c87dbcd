package ratelimit

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"

	"github.com/trezcool/gradebook/core"
)

type fakeClock struct {
	t     time.Time
	slept []time.Duration
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.slept = append(c.slept, d)
	c.t = c.t.Add(d)
	return nil
}

func newTestLimiter(opts Options) (*Limiter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 9, 1, 8, 0, 0, 0, time.UTC)}
	l := New(opts, core.NopLogger{})
	l.now = clock.Now
	l.sleep = clock.Sleep
	return l, clock
}

var defaultOpts = Options{
	MinInterval:   1200 * time.Millisecond,
	PerMinute:     50,
	PerDay:        50000,
	QuotaWait:     time.Minute,
	MaxQuotaWaits: 2,
}

func TestLimiter_Execute_spacesCalls(t *testing.T) {
	l, clock := newTestLimiter(defaultOpts)
	ctx := context.Background()
	noop := func(context.Context) error { return nil }

	require.NoError(t, l.Execute(ctx, "first", noop))
	assert.Empty(t, clock.slept)

	clock.t = clock.t.Add(200 * time.Millisecond)
	require.NoError(t, l.Execute(ctx, "second", noop))
	assert.Equal(t, []time.Duration{time.Second}, clock.slept)

	clock.t = clock.t.Add(5 * time.Second)
	require.NoError(t, l.Execute(ctx, "third", noop))
	assert.Len(t, clock.slept, 1)

	st := l.Status()
	assert.Equal(t, 3, st.CallCount)
	assert.Equal(t, 3, st.DailyCount)
	assert.Equal(t, clock.t, st.LastCall)
	assert.True(t, st.Healthy)
}

func TestLimiter_Execute_queuesConcurrentCallers(t *testing.T) {
	const interval = 60 * time.Millisecond
	l := New(Options{MinInterval: interval, PerMinute: 100, PerDay: 1000}, core.NopLogger{})

	var (
		mu     sync.Mutex
		starts []time.Time
		wg     sync.WaitGroup
	)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.Execute(context.Background(), "call", func(context.Context) error {
				mu.Lock()
				starts = append(starts, time.Now())
				mu.Unlock()
				time.Sleep(20 * time.Millisecond)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Len(t, starts, 3)
	sort.Slice(starts, func(i, j int) bool { return starts[i].Before(starts[j]) })
	for i := 1; i < len(starts); i++ {
		assert.GreaterOrEqual(t, starts[i].Sub(starts[i-1]), interval-10*time.Millisecond, "gap %d", i)
	}
	assert.Equal(t, 3, l.Status().CallCount)
}

func TestLimiter_Execute_quota(t *testing.T) {
	tests := []struct {
		name      string
		failures  int
		err       error
		wantErr   error
		wantCalls int
		wantWaits int
	}{
		{name: "recovers", failures: 1, err: errors.New("User rate limit exceeded"), wantCalls: 2, wantWaits: 1},
		{name: "googleapi 429", failures: 2, err: &googleapi.Error{Code: 429}, wantCalls: 3, wantWaits: 2},
		{name: "exhausted", failures: 10, err: errors.New("quota exceeded"), wantErr: ErrQuotaExhausted, wantCalls: 3, wantWaits: 2},
		{name: "other errors are returned", failures: 1, err: errors.New("boom"), wantErr: errors.New("boom"), wantCalls: 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			l, clock := newTestLimiter(defaultOpts)
			calls := 0
			err := l.Execute(context.Background(), tc.name, func(context.Context) error {
				calls++
				if calls <= tc.failures {
					return tc.err
				}
				return nil
			})

			if tc.wantErr != nil {
				require.Error(t, err)
				if errors.Is(tc.wantErr, ErrQuotaExhausted) {
					assert.True(t, errors.Is(err, ErrQuotaExhausted))
				} else {
					assert.EqualError(t, err, tc.wantErr.Error())
				}
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tc.wantCalls, calls)

			waits := 0
			for _, d := range clock.slept {
				if d == time.Minute {
					waits++
				}
			}
			assert.Equal(t, tc.wantWaits, waits)
		})
	}
}

func TestLimiter_Execute_perMinute(t *testing.T) {
	opts := defaultOpts
	opts.MinInterval = 0
	opts.PerMinute = 2
	l, clock := newTestLimiter(opts)
	ctx := context.Background()
	noop := func(context.Context) error { return nil }

	require.NoError(t, l.Execute(ctx, "a", noop))
	clock.t = clock.t.Add(10 * time.Second)
	require.NoError(t, l.Execute(ctx, "b", noop))
	assert.False(t, l.Status().Healthy)

	require.NoError(t, l.Execute(ctx, "c", noop))
	require.Len(t, clock.slept, 1)
	assert.Equal(t, 50*time.Second, clock.slept[0])
	assert.Equal(t, 1, l.Status().CallCount)
}

func TestLimiter_Execute_dailyLimit(t *testing.T) {
	opts := defaultOpts
	opts.MinInterval = 0
	opts.PerDay = 1
	l, _ := newTestLimiter(opts)
	noop := func(context.Context) error { return nil }

	require.NoError(t, l.Execute(context.Background(), "a", noop))
	assert.Equal(t, ErrDailyLimit, l.Execute(context.Background(), "b", noop))
}

func TestLimiter_Execute_cancelled(t *testing.T) {
	l, _ := newTestLimiter(defaultOpts)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, l.Execute(ctx, "a", func(context.Context) error { return nil }))

	cancel()
	called := false
	err := l.Execute(ctx, "b", func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestIsQuotaError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("Quota exceeded for quota metric"), true},
		{errors.New("rate limit hit"), true},
		{errors.New("HTTP 429"), true},
		{errors.Wrap(&googleapi.Error{Code: 429, Message: "too many"}, "list"), true},
		{&googleapi.Error{Code: 404, Message: "missing"}, false},
		{errors.New("boom"), false},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, IsQuotaError(tc.err), "%v", tc.err)
	}
}

func TestSleepWithContext(t *testing.T) {
	assert.NoError(t, SleepWithContext(context.Background(), 0))
	assert.NoError(t, SleepWithContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, SleepWithContext(ctx, time.Hour), context.Canceled)
}
