// Package ratelimit spaces outbound API calls and waits out quota errors.
package ratelimit

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"google.golang.org/api/googleapi"

	"github.com/trezcool/gradebook/core"
)

const window = time.Minute

var (
	// ErrQuotaExhausted is returned once a call kept failing with quota errors after every allowed wait.
	ErrQuotaExhausted = errors.New("api quota exhausted")
	// ErrDailyLimit is returned when the daily call budget is spent.
	ErrDailyLimit = errors.New("daily api call limit reached")
)

type Options struct {
	MinInterval   time.Duration
	PerMinute     int
	PerDay        int
	QuotaWait     time.Duration
	MaxQuotaWaits int
}

func OptionsFromConfig(conf core.RateLimitConfig) Options {
	return Options{
		MinInterval:   conf.MinInterval,
		PerMinute:     conf.PerMinute,
		PerDay:        conf.PerDay,
		QuotaWait:     conf.QuotaWait,
		MaxQuotaWaits: conf.MaxQuotaWaits,
	}
}

type Status struct {
	CallCount  int       `json:"callCount"`
	DailyCount int       `json:"dailyCount"`
	LastCall   time.Time `json:"lastCall"`
	Healthy    bool      `json:"healthy"`
}

// Limiter serialises callers: each call starts at least MinInterval after the previous one.
type Limiter struct {
	opts   Options
	logger core.Logger

	turn sync.Mutex // held while a caller waits for its slot

	mu          sync.Mutex
	lastCall    time.Time
	callCount   int
	windowStart time.Time
	dailyCount  int
	dayStart    time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func New(opts Options, logger core.Logger) *Limiter {
	return &Limiter{
		opts:   opts,
		logger: logger,
		now:    time.Now,
		sleep:  SleepWithContext,
	}
}

// Execute waits for a free slot then runs fn. Quota errors make it wait QuotaWait and try again,
// at most MaxQuotaWaits times.
func (l *Limiter) Execute(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	for waits := 0; ; waits++ {
		if err := l.wait(ctx); err != nil {
			return err
		}
		err := fn(ctx)
		l.RecordCall()
		if err == nil || !IsQuotaError(err) {
			return err
		}

		if waits >= l.opts.MaxQuotaWaits {
			l.logger.Error("ratelimit: quota still exceeded for "+name+", giving up", err)
			return errors.Wrapf(ErrQuotaExhausted, "%s: %v", name, err)
		}
		l.logger.Warn("ratelimit: quota exceeded for "+name+", waiting "+l.opts.QuotaWait.String(), err)
		if err := l.sleep(ctx, l.opts.QuotaWait); err != nil {
			return err
		}
	}
}

func (l *Limiter) wait(ctx context.Context) error {
	l.turn.Lock()
	defer l.turn.Unlock()

	l.mu.Lock()
	now := l.now()
	if l.opts.PerDay > 0 && l.dailyCount >= l.opts.PerDay && now.Sub(l.dayStart) < 24*time.Hour {
		l.mu.Unlock()
		return ErrDailyLimit
	}
	var delay time.Duration
	if !l.lastCall.IsZero() {
		delay = l.opts.MinInterval - now.Sub(l.lastCall)
	}
	if l.opts.PerMinute > 0 && l.callCount >= l.opts.PerMinute {
		if untilReset := l.windowStart.Add(window).Sub(now); untilReset > delay {
			delay = untilReset
		}
	}
	if delay < 0 {
		delay = 0
	}
	// the slot is taken before the turn is released so the next caller queues behind it
	l.lastCall = now.Add(delay)
	l.mu.Unlock()

	if delay == 0 {
		return nil
	}
	l.logger.Debug("ratelimit: waiting " + delay.String())
	return l.sleep(ctx, delay)
}

// RecordCall counts a call in the current minute and day. Call spacing is kept by Execute.
func (l *Limiter) RecordCall() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.windowStart) >= window {
		l.callCount = 0
		l.windowStart = now
	}
	l.callCount++

	if now.Sub(l.dayStart) >= 24*time.Hour {
		l.dailyCount = 0
		l.dayStart = now
	}
	l.dailyCount++
}

func (l *Limiter) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Status{
		CallCount:  l.callCount,
		DailyCount: l.dailyCount,
		LastCall:   l.lastCall,
		Healthy:    float64(l.callCount) < float64(l.opts.PerMinute)*0.8,
	}
}

// IsQuotaError reports whether err means the API quota or rate limit was hit.
func IsQuotaError(err error) bool {
	if err == nil {
		return false
	}
	var gErr *googleapi.Error
	if errors.As(err, &gErr) && gErr.Code == 429 {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "quota") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "429")
}

// SleepWithContext blocks for d, returning early if ctx is cancelled.
func SleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
