package mapping

import (
	"net/mail"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/gradebook/core"
)

const (
	ReportTemplate = "mapping_report"
	reportTitle    = "Course mapping report"

	highPriorityItems = 2
)

var ErrInvalidRun = errors.New("invalid mapping run")

type (
	ActionItem struct {
		ID          int      `json:"id"`
		Description string   `json:"description"`
		Priority    Priority `json:"priority"`
	}

	Report struct {
		Title       string       `json:"title"`
		GeneratedAt time.Time    `json:"generatedAt"`
		Summary     RunSummary   `json:"summary"`
		Performance Performance  `json:"performance"`
		Insights    []string     `json:"insights"`
		ActionItems []ActionItem `json:"actionItems"`
	}
)

// Report turns a run into insights and prioritised action items.
func (e *Engine) Report(run *RunResult) (*Report, error) {
	if run == nil {
		return nil, ErrInvalidRun
	}

	rep := &Report{
		Title:       reportTitle,
		GeneratedAt: e.now(),
		Summary:     run.Summary,
		Performance: run.Performance,
	}

	switch rate := run.Summary.CompletionRate; {
	case rate >= 95:
		rep.Insights = append(rep.Insights, "mapping coverage is very high")
	case rate >= 85:
		rep.Insights = append(rep.Insights, "mapping coverage is good, a few courses need a manual check")
	default:
		rep.Insights = append(rep.Insights, "mapping coverage needs work, check the course naming conventions")
	}

	switch score := run.Summary.DataQualityScore; {
	case score >= 90:
		rep.Insights = append(rep.Insights, "data quality is excellent")
	case score >= 75:
		rep.Insights = append(rep.Insights, "data quality is good with room for improvement")
	default:
		rep.Insights = append(rep.Insights, "data quality needs work, run a cleanup")
	}

	for i, rec := range run.Recommendations {
		item := ActionItem{ID: i + 1, Description: rec, Priority: PriorityMedium}
		if i < highPriorityItems {
			item.Priority = PriorityHigh
		}
		rep.ActionItems = append(rep.ActionItems, item)
	}
	return rep, nil
}

// EmailMessage builds the report email sent to the report recipients.
func (r *Report) EmailMessage(to []mail.Address) *core.EmailMessage {
	return &core.EmailMessage{
		To:           to,
		Subject:      r.Title,
		TemplateName: ReportTemplate,
		TemplateData: r,
	}
}
