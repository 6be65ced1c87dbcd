package apierror

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/trezcool/gradebook/core"
	"github.com/trezcool/gradebook/core/ratelimit"
)

type (
	// Presenter shows error messages to whoever started the operation.
	Presenter interface {
		Present(title, message string) error
	}

	Result struct {
		Success     bool   `json:"success"`
		Info        Info   `json:"error"`
		UserMessage string `json:"userMessage"`
	}

	Decision struct {
		ShouldRetry bool
		Delay       time.Duration
	}

	// Failure is returned by ExecuteWithRetry once every attempt failed.
	Failure struct {
		Operation   string
		Info        Info
		Attempts    int
		UserMessage string
		Err         error
	}

	Delays struct {
		Quota       time.Duration
		Unavailable time.Duration
		Default     time.Duration
	}
)

func (f *Failure) Error() string {
	return fmt.Sprintf("%s failed after %d attempt(s): %s", f.Operation, f.Attempts, f.Info.TechnicalMessage)
}

func (f *Failure) Unwrap() error { return f.Err }

// WriterPresenter writes messages to W, e.g. the CLI's stderr.
type WriterPresenter struct {
	W io.Writer
}

func (p WriterPresenter) Present(title, message string) error {
	_, err := fmt.Fprintf(p.W, "\n%s\n%s\n", title, message)
	return err
}

// NopPresenter is used where nobody is watching (API server, tests).
type NopPresenter struct{}

func (NopPresenter) Present(string, string) error { return nil }

type Handler struct {
	logger    core.Logger
	presenter Presenter
	delays    Delays
	sleep     func(ctx context.Context, d time.Duration) error
}

func NewHandler(logger core.Logger, presenter Presenter, delays Delays) *Handler {
	if presenter == nil {
		presenter = NopPresenter{}
	}
	if delays.Quota <= 0 {
		delays.Quota = QuotaRetryDelay
	}
	if delays.Unavailable <= 0 {
		delays.Unavailable = UnavailableRetryDelay
	}
	if delays.Default <= 0 {
		delays.Default = time.Second
	}
	return &Handler{
		logger:    logger,
		presenter: presenter,
		delays:    delays,
		sleep:     ratelimit.SleepWithContext,
	}
}

func DelaysFromConfig(conf core.RetryConfig) Delays {
	return Delays{Quota: conf.QuotaDelay, Unavailable: conf.UnavailableDelay, Default: conf.DefaultDelay}
}

// Handle logs err and, when showToUser is set, presents it.
func (h *Handler) Handle(err error, operation string, showToUser bool) Result {
	info := Classify(err)
	msg := fmt.Sprintf("%s failed: %s", operation, info.UserMessage)

	h.logger.Error(fmt.Sprintf("[%s] %s", operation, info.TechnicalMessage), err)
	if d := info.Diagnostic; d != nil {
		h.logger.Info(fmt.Sprintf("[%s] diagnostics", operation), map[string]interface{}{
			"possibleCauses": d.PossibleCauses,
			"solutions":      d.Solutions,
		})
	}

	if showToUser {
		var pErr error
		if info.HasDetails() {
			pErr = h.presenter.Present("Operation failed", RenderDialog(operation, info))
		} else {
			pErr = h.presenter.Present("Error", msg)
		}
		if pErr != nil {
			h.logger.Warn("could not present error: "+msg, pErr)
		}
	}

	return Result{Success: false, Info: info, UserMessage: msg}
}

// HandleAPI decides whether a failed API call should be retried.
func (h *Handler) HandleAPI(err error, operation string) Decision {
	info := ParseAPI(err)
	h.logger.Error(fmt.Sprintf("[api] %s: %s", operation, info.TechnicalMessage))
	if !info.ShouldRetry {
		return Decision{}
	}

	h.logger.Info(operation + " will be retried")
	delay := h.delays.Default
	switch info.Kind {
	case KindQuotaExceeded:
		delay = h.delays.Quota
	case KindServiceUnavailable:
		delay = h.delays.Unavailable
	}
	return Decision{ShouldRetry: true, Delay: delay}
}

// ExecuteWithRetry runs fn up to maxRetries times, waiting between attempts only for errors
// worth retrying. The last error is handled and returned as a *Failure.
func ExecuteWithRetry[T any](ctx context.Context, h *Handler, operation string, maxRetries int, fn func(ctx context.Context) (T, error)) (T, error) {
	var (
		zero    T
		lastErr error
		attempt int
	)
	if maxRetries < 1 {
		maxRetries = 1
	}

	for attempt = 1; attempt <= maxRetries; attempt++ {
		h.logger.Debug(fmt.Sprintf("running %s, attempt %d", operation, attempt))
		res, err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				h.logger.Info(operation + " succeeded after retrying")
			}
			return res, nil
		}
		lastErr = err

		decision := h.HandleAPI(err, operation)
		if !decision.ShouldRetry || attempt == maxRetries {
			h.logger.Error(fmt.Sprintf("%s failed for good after %d attempt(s)", operation, attempt))
			break
		}
		h.logger.Warn(fmt.Sprintf("%s attempt %d failed, retrying in %s", operation, attempt, decision.Delay))
		if err := h.sleep(ctx, decision.Delay); err != nil {
			lastErr = err
			break
		}
	}
	if attempt > maxRetries {
		attempt = maxRetries
	}

	res := h.Handle(lastErr, operation, true)
	return zero, &Failure{
		Operation:   operation,
		Info:        res.Info,
		Attempts:    attempt,
		UserMessage: res.UserMessage,
		Err:         lastErr,
	}
}
