package mapping

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/trezcool/gradebook/core"
	"github.com/trezcool/gradebook/core/classroom"
	"github.com/trezcool/gradebook/core/taxonomy"
)

const (
	StatusExcellent = "EXCELLENT"
	StatusGood      = "GOOD"
	StatusFair      = "FAIR"
	StatusPoor      = "POOR"

	lowCompleteness = 0.8

	dataQualityWeight  = 0.3
	consistencyWeight  = 0.2
	completenessWeight = 0.3
	accuracyWeight     = 0.2
)

var courseIDFormat = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

type (
	DataQuality struct {
		Score                    float64 `json:"score"`
		Issues                   []Issue `json:"issues"`
		TotalRecords             int     `json:"totalRecords"`
		RecordsWithMissingFields int     `json:"recordsWithMissingFields"`
		DataCompletenessRate     float64 `json:"dataCompletenessRate"`
	}

	Consistency struct {
		Validation
		Score float64 `json:"score"`
	}

	Completeness struct {
		Score            float64 `json:"score"`
		Issues           []Issue `json:"issues"`
		ExpectedMappings int     `json:"expectedMappings"`
		ActualMappings   int     `json:"actualMappings"`
		CompletenessRate float64 `json:"completenessRate"`
	}

	Accuracy struct {
		Score            float64 `json:"score"`
		Issues           []Issue `json:"issues"`
		TotalMappings    int     `json:"totalMappings"`
		InvalidCourseIDs int     `json:"invalidCourseIds"`
		AccuracyRate     float64 `json:"accuracyRate"`
	}

	Overall struct {
		Status string `json:"status"`
		Score  int    `json:"score"`
	}

	Checks struct {
		DataQuality  DataQuality  `json:"dataQuality"`
		Consistency  Consistency  `json:"consistency"`
		Completeness Completeness `json:"completeness"`
		Accuracy     Accuracy     `json:"accuracy"`
	}

	IntegrityReport struct {
		Overall            Overall          `json:"overall"`
		Checks             Checks           `json:"checks"`
		Issues             []Issue          `json:"issues"`
		AutoFixSuggestions []Recommendation `json:"autoFixSuggestions"`
		Recommendations    []string         `json:"recommendations"`
	}

	// IntegrityChecker scores stored mappings against the taxonomy and the live courses.
	IntegrityChecker struct {
		tax       *taxonomy.Taxonomy
		validator *Validator
		logger    core.Logger
	}
)

func NewIntegrityChecker(tax *taxonomy.Taxonomy, logger core.Logger) *IntegrityChecker {
	return &IntegrityChecker{tax: tax, validator: NewValidator(tax), logger: logger}
}

func (c *IntegrityChecker) Check(mappings []Mapping, courses []classroom.Course) *IntegrityReport {
	rep := &IntegrityReport{
		Checks: Checks{
			DataQuality:  c.dataQuality(mappings),
			Consistency:  c.consistency(mappings),
			Completeness: c.completeness(mappings),
			Accuracy:     c.accuracy(mappings, courses),
		},
	}
	rep.Issues = append(rep.Issues, rep.Checks.DataQuality.Issues...)
	rep.Issues = append(rep.Issues, rep.Checks.Consistency.Issues...)
	rep.Issues = append(rep.Issues, rep.Checks.Completeness.Issues...)
	rep.Issues = append(rep.Issues, rep.Checks.Accuracy.Issues...)

	rep.AutoFixSuggestions = autoFixSuggestions(rep.Issues)

	score := rep.Checks.DataQuality.Score*dataQualityWeight +
		rep.Checks.Consistency.Score*consistencyWeight +
		rep.Checks.Completeness.Score*completenessWeight +
		rep.Checks.Accuracy.Score*accuracyWeight
	rep.Overall.Score = int(math.Round(score))
	rep.Overall.Status = overallStatus(rep.Overall.Score)
	rep.Recommendations = []string{statusRecommendation(rep.Overall.Status)}

	c.logger.Info(fmt.Sprintf("mapping: integrity check done, score %d/100 (%s)", rep.Overall.Score, rep.Overall.Status))
	return rep
}

func (c *IntegrityChecker) dataQuality(mappings []Mapping) DataQuality {
	dq := DataQuality{TotalRecords: len(mappings), Score: 100}

	for i := range mappings {
		m := mappings[i]
		if missing := missingFields(m); len(missing) > 0 {
			dq.Issues = append(dq.Issues, Issue{
				Type:     IssueMissingFields,
				Severity: SeverityError,
				Index:    index(i),
				Message:  "missing required fields: " + strings.Join(missing, ", "),
				Mapping:  &m,
			})
			dq.RecordsWithMissingFields++
		}
		if m.CourseID != "" && !courseIDFormat.MatchString(m.CourseID) {
			dq.Issues = append(dq.Issues, Issue{
				Type:     IssueInvalidIDFormat,
				Severity: SeverityWarning,
				Index:    index(i),
				Message:  "unexpected course id format: " + m.CourseID,
				Mapping:  &m,
			})
		}
	}

	rate := float64(dq.RecordsWithMissingFields) / math.Max(1, float64(len(mappings)))
	dq.Score = math.Max(0, 100-rate*50)
	dq.DataCompletenessRate = 1 - rate
	return dq
}

func missingFields(m Mapping) []string {
	var missing []string
	for _, f := range []struct{ name, value string }{
		{"courseName", m.CourseName},
		{"subject", m.Subject},
		{"courseId", m.CourseID},
		{"status", m.Status},
	} {
		if f.value == "" {
			missing = append(missing, f.name)
		}
	}
	return missing
}

// consistency scores the share of mappings free of duplicate and naming issues.
// Missing combinations are left to the completeness check.
func (c *IntegrityChecker) consistency(mappings []Mapping) Consistency {
	cons := Consistency{Validation: c.validator.Validate(mappings), Score: 100}
	if len(mappings) == 0 {
		return cons
	}
	flagged := make(map[int]bool)
	for _, issue := range cons.Issues {
		if issue.Index != nil && issue.Severity != SeverityInfo {
			flagged[*issue.Index] = true
		}
	}
	cons.Score = float64(len(mappings)-len(flagged)) / float64(len(mappings)) * 100
	return cons
}

func (c *IntegrityChecker) completeness(mappings []Mapping) Completeness {
	expected := len(c.tax.ExpectedCombinations())
	compl := Completeness{ExpectedMappings: expected, ActualMappings: len(mappings)}
	compl.CompletenessRate = float64(len(mappings)) / math.Max(1, float64(expected))
	compl.Score = math.Round(compl.CompletenessRate * 100)

	if compl.CompletenessRate < lowCompleteness {
		compl.Issues = append(compl.Issues, Issue{
			Type:     IssueLowCompleteness,
			Severity: SeverityWarning,
			Message: fmt.Sprintf("low completeness: %d%% (%d/%d)",
				int(math.Round(compl.CompletenessRate*100)), len(mappings), expected),
		})
	}
	return compl
}

func (c *IntegrityChecker) accuracy(mappings []Mapping, courses []classroom.Course) Accuracy {
	acc := Accuracy{TotalMappings: len(mappings)}
	ids := make(map[string]bool, len(courses))
	for _, course := range courses {
		ids[course.ID] = true
	}

	for i := range mappings {
		m := mappings[i]
		if m.CourseID != "" && !ids[m.CourseID] {
			acc.Issues = append(acc.Issues, Issue{
				Type:     IssueInvalidCourseID,
				Severity: SeverityError,
				Index:    index(i),
				Message:  "unknown course id: " + m.CourseID,
				Mapping:  &m,
			})
			acc.InvalidCourseIDs++
		}
	}

	rate := float64(acc.InvalidCourseIDs) / math.Max(1, float64(len(mappings)))
	acc.Score = math.Max(0, 100-rate*60)
	acc.AccuracyRate = 1 - rate
	return acc
}

func autoFixSuggestions(issues []Issue) []Recommendation {
	errs, warnings, _ := countSeverities(issues)
	var recs []Recommendation
	if errs > 0 {
		recs = append(recs, Recommendation{
			Priority:    PriorityHigh,
			Action:      "RUN_AUTO_REPAIR",
			Description: fmt.Sprintf("run the mapping optimizer to repair %d errors", errs),
		})
	}
	if warnings > standardizeWarningsAbove {
		recs = append(recs, Recommendation{
			Priority:    PriorityMedium,
			Action:      "STANDARDIZE_DATA",
			Description: fmt.Sprintf("clean and standardize mappings to resolve %d warnings", warnings),
		})
	}
	return recs
}

func overallStatus(score int) string {
	switch {
	case score >= 90:
		return StatusExcellent
	case score >= 75:
		return StatusGood
	case score >= 60:
		return StatusFair
	default:
		return StatusPoor
	}
}

func statusRecommendation(status string) string {
	switch status {
	case StatusExcellent:
		return "data quality is excellent, keep up regular maintenance"
	case StatusGood:
		return "data quality is good, a cleanup pass would make it excellent"
	case StatusFair:
		return "data quality is fair, run the automatic repair"
	default:
		return "data quality is poor, run the complete mapping workflow now"
	}
}
