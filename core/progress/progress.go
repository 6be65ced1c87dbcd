// Package progress tracks the items of a batch operation and reports how far it got.
package progress

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/mail"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/trezcool/gradebook/core"
)

const (
	barLength         = 20
	summaryErrorLimit = 5
	logErrorLimit     = 10

	SummaryTemplate = "batch_summary"
)

type (
	// Notifier shows short-lived notifications (toasts) to the user running the operation.
	Notifier interface {
		Notify(title, message string, seconds int)
	}

	// Recorder keeps the summaries of past batches. Recent returns them newest first, without
	// their successes and warnings.
	Recorder interface {
		Record(ctx context.Context, s Summary) error
		Recent(ctx context.Context, limit int) ([]Summary, error)
	}

	Entry struct {
		Item      string    `json:"item"`
		Error     string    `json:"error,omitempty"`
		Details   string    `json:"details,omitempty"`
		Timestamp time.Time `json:"timestamp"`
	}

	Statistics struct {
		Total       int           `json:"total"`
		Processed   int           `json:"processed"`
		Successful  int           `json:"successful"`
		Failed      int           `json:"failed"`
		Warnings    int           `json:"warnings"`
		Duration    time.Duration `json:"duration"`
		AverageTime time.Duration `json:"averageTime"`
	}

	Summary struct {
		ID          uuid.UUID  `json:"id"`
		Operation   string     `json:"operation"`
		UserMessage string     `json:"userMessage"`
		Statistics  Statistics `json:"statistics"`
		Errors      []Entry    `json:"errors"`
		Warnings    []Entry    `json:"warnings"`
		Successes   []Entry    `json:"successes"`
		Aborted     bool       `json:"aborted"`
		AbortReason string     `json:"abortReason,omitempty"`
		StartedAt   time.Time  `json:"startedAt"`
		FinishedAt  time.Time  `json:"finishedAt"`
	}

	Status struct {
		Operation  string `json:"operation"`
		Total      int    `json:"total"`
		Current    int    `json:"current"`
		Percentage int    `json:"percentage"`
		Errors     int    `json:"errors"`
		Warnings   int    `json:"warnings"`
		Successes  int    `json:"successes"`
		Complete   bool   `json:"isComplete"`
	}
)

type Option func(t *Tracker)

func WithLogger(logger core.Logger) Option {
	return func(t *Tracker) { t.logger = logger }
}

func WithNotifier(n Notifier) Option {
	return func(t *Tracker) { t.notifier = n }
}

func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// Tracker is safe for concurrent use.
type Tracker struct {
	mu sync.Mutex

	total          int
	current        int
	operation      string
	startTime      time.Time
	errors         []Entry
	warnings       []Entry
	successes      []Entry
	updateInterval int
	lastUpdate     int

	logger   core.Logger
	notifier Notifier
	now      func() time.Time
}

func New(total int, operation string, opts ...Option) *Tracker {
	if operation == "" {
		operation = "Processing"
	}
	t := &Tracker{
		total:          total,
		operation:      operation,
		updateInterval: max(1, total/20),
		logger:         core.NopLogger{},
		notifier:       NopNotifier{},
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.startTime = t.now()
	return t
}

// Update advances the tracker and shows progress about every 5% of the items.
func (t *Tracker) Update(increment int, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.update(increment, message)
}

func (t *Tracker) update(increment int, message string) {
	t.current += increment
	if t.current-t.lastUpdate >= t.updateInterval || t.current == t.total {
		t.show(message)
		t.lastUpdate = t.current
	}
}

func (t *Tracker) AddSuccess(item, details string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.successes = append(t.successes, Entry{Item: item, Details: details, Timestamp: t.now()})
	t.update(1, "")
}

// AddWarning records a skipped item; it counts as processed.
func (t *Tracker) AddWarning(item, details string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.warnings = append(t.warnings, Entry{Item: item, Details: details, Timestamp: t.now()})
	t.logger.Warn(fmt.Sprintf("%s: %s - %s", t.operation, item, details))
	t.update(1, "")
}

func (t *Tracker) AddError(item string, err error, details string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	t.errors = append(t.errors, Entry{Item: item, Error: msg, Details: details, Timestamp: t.now()})
	t.logger.Error(fmt.Sprintf("%s error: %s - %s", t.operation, item, msg), err)
	t.update(1, "")
}

func (t *Tracker) percentage() int {
	if t.total <= 0 {
		return 100
	}
	return int(math.Round(float64(t.current) / float64(t.total) * 100))
}

// Render returns the multi-line status of the tracker.
func (t *Tracker) Render(message string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.render(message)
}

func (t *Tracker) render(message string) string {
	pct := t.percentage()
	elapsed := t.now().Sub(t.startTime)

	var sb strings.Builder
	sb.WriteString(t.operation + "\n")
	fmt.Fprintf(&sb, "%s %d%%\n", ProgressBar(pct), pct)
	fmt.Fprintf(&sb, "progress: %d/%d", t.current, t.total)

	if t.current > 0 && t.current < t.total {
		estimated := time.Duration(float64(elapsed) / float64(t.current) * float64(t.total))
		remaining := max(0, estimated-elapsed)
		sb.WriteString(" | remaining: " + FormatDuration(remaining))
	}

	if len(t.successes) > 0 || len(t.errors) > 0 {
		fmt.Fprintf(&sb, "\nsucceeded: %d", len(t.successes))
		if len(t.errors) > 0 {
			fmt.Fprintf(&sb, " | errors: %d", len(t.errors))
		}
	}

	if t.current > 0 && elapsed > 0 {
		speed := math.Round(float64(t.current)/elapsed.Seconds()*10) / 10
		sb.WriteString(" | speed: " + strconv.FormatFloat(speed, 'f', -1, 64) + "/s")
	}

	if message != "" {
		sb.WriteString("\n" + message)
	}
	return sb.String()
}

func (t *Tracker) show(message string) {
	status := t.render(message)
	t.logger.Info("[progress] " + strings.ReplaceAll(status, "\n", " | "))

	pct := t.percentage()
	errCount := len(t.errors)
	if !t.shouldNotify(pct, errCount) {
		return
	}

	toast := fmt.Sprintf("%s %d%%", t.operation, pct)
	if t.current < t.total {
		toast += fmt.Sprintf(" (%d/%d)", t.current, t.total)
	}
	if errCount > 0 {
		toast += fmt.Sprintf(" errors: %d", errCount)
	}
	if pct >= 100 {
		t.notifier.Notify("Done", toast, 5)
	} else {
		t.notifier.Notify("Running", toast, 3)
	}
}

func (t *Tracker) shouldNotify(pct, errCount int) bool {
	return pct == 0 ||
		pct >= 100 ||
		pct%20 == 0 ||
		errCount > 0 ||
		t.current%max(1, t.total/10) == 0
}

// Complete logs the outcome of the operation and returns its summary.
func (t *Tracker) Complete() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()

	summary := t.summary()
	stats := summary.Statistics
	rate := int(math.Round(float64(stats.Successful) / float64(max(t.total, 1)) * 100))

	t.logger.Info(fmt.Sprintf("%s complete", t.operation), map[string]interface{}{
		"total":      t.total,
		"successful": fmt.Sprintf("%d (%d%%)", stats.Successful, rate),
		"failed":     stats.Failed,
		"warnings":   stats.Warnings,
		"duration":   FormatDuration(stats.Duration),
	})
	if t.total > 0 {
		t.logger.Info(fmt.Sprintf("%s average: %dms/item", t.operation, (stats.Duration / time.Duration(t.total)).Milliseconds()))
	}

	final := t.operation + " done"
	if stats.Failed == 0 {
		final += fmt.Sprintf(", all succeeded (%d)", stats.Successful)
	} else {
		final += fmt.Sprintf(", %d succeeded, %d failed", stats.Successful, stats.Failed)
	}
	t.notifier.Notify("Complete", final, 8)

	if stats.Failed > 0 {
		var sb strings.Builder
		for i, e := range t.errors {
			if i == logErrorLimit {
				fmt.Fprintf(&sb, "\n... and %d other errors", len(t.errors)-logErrorLimit)
				break
			}
			fmt.Fprintf(&sb, "\n%d. %s: %s", i+1, e.Item, e.Error)
		}
		t.logger.Error(t.operation + " errors:" + sb.String())
	}
	return summary
}

// Abort stops the operation; reason defaults to a user interruption.
func (t *Tracker) Abort(reason string) Summary {
	t.mu.Lock()
	defer t.mu.Unlock()

	if reason == "" {
		reason = "interrupted by user"
	}
	t.logger.Warn(fmt.Sprintf("%s aborted: %s", t.operation, reason))

	summary := t.summary()
	summary.Aborted = true
	summary.AbortReason = reason
	summary.UserMessage = fmt.Sprintf("Aborted: %s\n\n%s", reason, summary.UserMessage)
	t.notifier.Notify("Aborted", summary.UserMessage, 8)
	return summary
}

func (t *Tracker) summary() Summary {
	finished := t.now()
	duration := finished.Sub(t.startTime)
	processed := len(t.successes) + len(t.errors) + len(t.warnings)

	var sb strings.Builder
	sb.WriteString("Done!\n\n")
	fmt.Fprintf(&sb, "Total: %d\n", t.total)
	fmt.Fprintf(&sb, "Succeeded: %d\n", len(t.successes))
	fmt.Fprintf(&sb, "Failed: %d\n", len(t.errors))
	if len(t.warnings) > 0 {
		fmt.Fprintf(&sb, "Skipped: %d\n", len(t.warnings))
	}
	fmt.Fprintf(&sb, "Duration: %s\n", FormatDuration(duration))
	if len(t.errors) > 0 {
		sb.WriteString("\nErrors:\n")
		for i, e := range t.errors {
			if i == summaryErrorLimit {
				fmt.Fprintf(&sb, "- and %d others...\n", len(t.errors)-summaryErrorLimit)
				break
			}
			fmt.Fprintf(&sb, "- %s: %s\n", e.Item, e.Error)
		}
	}

	var avg time.Duration
	if processed > 0 {
		avg = duration / time.Duration(processed)
	}
	return Summary{
		ID:          uuid.New(),
		Operation:   t.operation,
		UserMessage: sb.String(),
		Statistics: Statistics{
			Total:       t.total,
			Processed:   processed,
			Successful:  len(t.successes),
			Failed:      len(t.errors),
			Warnings:    len(t.warnings),
			Duration:    duration,
			AverageTime: avg,
		},
		Errors:     append([]Entry(nil), t.errors...),
		Warnings:   append([]Entry(nil), t.warnings...),
		Successes:  append([]Entry(nil), t.successes...),
		StartedAt:  t.startTime,
		FinishedAt: finished,
	}
}

func (t *Tracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Status{
		Operation:  t.operation,
		Total:      t.total,
		Current:    t.current,
		Percentage: t.percentage(),
		Errors:     len(t.errors),
		Warnings:   len(t.warnings),
		Successes:  len(t.successes),
		Complete:   t.current >= t.total,
	}
}

// ProgressBar renders pct (0-100) as a 20 cells bar.
func ProgressBar(pct int) string {
	filled := int(math.Round(float64(pct) / 100 * barLength))
	filled = min(max(filled, 0), barLength)
	return "[" + strings.Repeat("█", filled) + strings.Repeat("░", barLength-filled) + "]"
}

// FormatDuration rounds d to seconds, minutes or hours.
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(math.Round(d.Seconds())))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(math.Round(d.Minutes())))
	default:
		return fmt.Sprintf("%dh", int(math.Round(d.Hours())))
	}
}

// EmailMessage builds the summary email sent to the report recipients.
func (s Summary) EmailMessage(to []mail.Address) *core.EmailMessage {
	subject := s.Operation + ": done"
	if s.Aborted {
		subject = s.Operation + ": aborted"
	} else if s.Statistics.Failed > 0 {
		subject = fmt.Sprintf("%s: %d failed", s.Operation, s.Statistics.Failed)
	}
	return &core.EmailMessage{
		To:           to,
		Subject:      subject,
		TemplateName: SummaryTemplate,
		TemplateData: s,
	}
}

// ConsoleNotifier prints notifications to W.
type ConsoleNotifier struct {
	W io.Writer
}

func (n ConsoleNotifier) Notify(title, message string, _ int) {
	_, _ = fmt.Fprintf(n.W, "[%s] %s\n", title, message)
}

type NopNotifier struct{}

func (NopNotifier) Notify(string, string, int) {}
