package mapping

import (
	"fmt"
	"strings"

	"github.com/trezcool/gradebook/core/taxonomy"
)

const standardizeWarningsAbove = 5

type (
	ValidationStats struct {
		TotalMappings int            `json:"totalMappings"`
		ByGrade       map[string]int `json:"byGrade"`
		BySubject     map[string]int `json:"bySubject"`
		ByStatus      map[string]int `json:"byStatus"`
		AverageScore  float64        `json:"averageScore"`
	}

	Validation struct {
		Passed          int              `json:"passed"`
		Warnings        int              `json:"warnings"`
		Errors          int              `json:"errors"`
		Issues          []Issue          `json:"issues"`
		Recommendations []Recommendation `json:"recommendations"`
		Statistics      ValidationStats  `json:"statistics"`
	}

	// Validator checks a set of mappings for duplicates, naming problems and gaps.
	Validator struct {
		tax *taxonomy.Taxonomy
	}
)

func NewValidator(tax *taxonomy.Taxonomy) *Validator {
	return &Validator{tax: tax}
}

func (v *Validator) Validate(mappings []Mapping) Validation {
	res := Validation{Statistics: v.statistics(mappings)}
	res.Issues = append(res.Issues, v.duplicates(mappings)...)
	res.Issues = append(res.Issues, v.naming(mappings)...)
	res.Issues = append(res.Issues, v.completeness(mappings)...)
	res.Errors, res.Warnings, res.Passed = countSeverities(res.Issues)
	res.Recommendations = recommendations(res.Errors, res.Warnings)
	return res
}

func (v *Validator) duplicates(mappings []Mapping) []Issue {
	var issues []Issue
	ids := make(map[string]bool, len(mappings))
	keys := make(map[string]bool, len(mappings))

	for i := range mappings {
		m := mappings[i]
		if ids[m.CourseID] {
			issues = append(issues, Issue{
				Type:     IssueDuplicateCourseID,
				Severity: SeverityError,
				Index:    index(i),
				Message:  fmt.Sprintf("duplicate course id: %s (%s)", m.CourseID, m.Key()),
				Mapping:  &m,
			})
		} else {
			ids[m.CourseID] = true
		}

		if key := m.Key(); keys[key] {
			issues = append(issues, Issue{
				Type:     IssueDuplicateMapping,
				Severity: SeverityWarning,
				Index:    index(i),
				Message:  "duplicate mapping: " + key,
				Mapping:  &m,
			})
		} else {
			keys[key] = true
		}
	}
	return issues
}

func (v *Validator) naming(mappings []Mapping) []Issue {
	var issues []Issue
	for i := range mappings {
		m := mappings[i]
		if !v.hasGradePrefix(m.CourseName) {
			issues = append(issues, Issue{
				Type:     IssueInvalidGradeFormat,
				Severity: SeverityWarning,
				Index:    index(i),
				Message:  "non-standard grade format: " + m.CourseName,
				Mapping:  &m,
			})
		}
		if !v.tax.HasSubject(m.Subject) {
			issues = append(issues, Issue{
				Type:     IssueInvalidSubjectFormat,
				Severity: SeverityError,
				Index:    index(i),
				Message:  "invalid subject: " + m.Subject,
				Mapping:  &m,
			})
		}
	}
	return issues
}

func (v *Validator) hasGradePrefix(courseName string) bool {
	for _, code := range v.tax.GradeCodes() {
		if strings.HasPrefix(courseName, code) {
			return true
		}
	}
	return false
}

func (v *Validator) completeness(mappings []Mapping) []Issue {
	actual := keySet(mappings)
	var issues []Issue
	for _, expected := range v.tax.ExpectedCombinations() {
		if !actual[expected] {
			issues = append(issues, Issue{
				Type:     IssueMissingMapping,
				Severity: SeverityWarning,
				Message:  "missing mapping: " + expected,
				Expected: expected,
			})
		}
	}
	return issues
}

func (v *Validator) statistics(mappings []Mapping) ValidationStats {
	stats := ValidationStats{
		TotalMappings: len(mappings),
		ByGrade:       make(map[string]int),
		BySubject:     make(map[string]int),
		ByStatus:      make(map[string]int),
	}

	total := 0
	for _, m := range mappings {
		grade := m.CourseName
		if len(grade) > 2 {
			grade = grade[:2]
		}
		stats.ByGrade[grade]++
		stats.BySubject[m.Subject]++

		status := m.Status
		if status == "" {
			status = StatusUnknown
		}
		stats.ByStatus[status]++

		// unscored mappings count as perfect
		if m.Score == 0 {
			total += 100
		} else {
			total += m.Score
		}
	}
	if len(mappings) > 0 {
		stats.AverageScore = float64(total) / float64(len(mappings))
	}
	return stats
}

func recommendations(errs, warnings int) []Recommendation {
	var recs []Recommendation
	if errs > 0 {
		recs = append(recs, Recommendation{
			Priority:    PriorityHigh,
			Action:      "FIX_ERRORS",
			Description: fmt.Sprintf("fix %d errors, duplicate course ids and invalid subjects first", errs),
		})
	}
	if warnings > standardizeWarningsAbove {
		recs = append(recs, Recommendation{
			Priority:    PriorityMedium,
			Action:      "STANDARDIZE_NAMING",
			Description: fmt.Sprintf("standardize %d naming problems to improve consistency", warnings),
		})
	}
	return recs
}

func keySet(mappings []Mapping) map[string]bool {
	keys := make(map[string]bool, len(mappings))
	for _, m := range mappings {
		keys[m.Key()] = true
	}
	return keys
}
