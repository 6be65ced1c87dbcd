package mapping

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/trezcool/gradebook/core/taxonomy"
)

func TestValidator_Validate(t *testing.T) {
	v := NewValidator(taxonomy.Default())
	mappings := []Mapping{
		{CourseName: "G1 Achievers", Subject: "LT", CourseID: "100", Status: StatusActive, Score: 90},
		{CourseName: "G1 Achievers", Subject: "LT", CourseID: "101"},
		{CourseName: "G1 Achievers", Subject: "IT", CourseID: "100", Status: StatusActive, Score: 80},
		{CourseName: "Achievers", Subject: "XX", CourseID: "102", Status: "ARCHIVED", Score: 70},
	}

	res := v.Validate(mappings)

	assert.Equal(t, 2, res.Errors)
	assert.Equal(t, 2+250, res.Warnings)
	assert.Equal(t, 0, res.Passed)

	byType := make(map[IssueType][]Issue)
	for _, issue := range res.Issues {
		byType[issue.Type] = append(byType[issue.Type], issue)
	}
	if assert.Len(t, byType[IssueDuplicateCourseID], 1) {
		issue := byType[IssueDuplicateCourseID][0]
		assert.Equal(t, 2, *issue.Index)
		assert.Equal(t, SeverityError, issue.Severity)
		assert.Equal(t, "IT", issue.Mapping.Subject)
	}
	if assert.Len(t, byType[IssueDuplicateMapping], 1) {
		assert.Equal(t, 1, *byType[IssueDuplicateMapping][0].Index)
	}
	if assert.Len(t, byType[IssueInvalidGradeFormat], 1) {
		assert.Equal(t, 3, *byType[IssueInvalidGradeFormat][0].Index)
	}
	if assert.Len(t, byType[IssueInvalidSubjectFormat], 1) {
		assert.Equal(t, SeverityError, byType[IssueInvalidSubjectFormat][0].Severity)
	}
	missing := byType[IssueMissingMapping]
	assert.Len(t, missing, 250)
	assert.Equal(t, "G1 Achievers-KCFS", missing[0].Expected)
	assert.Nil(t, missing[0].Index)

	assert.Equal(t, ValidationStats{
		TotalMappings: 4,
		ByGrade:       map[string]int{"G1": 3, "Ac": 1},
		BySubject:     map[string]int{"LT": 2, "IT": 1, "XX": 1},
		ByStatus:      map[string]int{StatusActive: 2, StatusUnknown: 1, "ARCHIVED": 1},
		AverageScore:  85,
	}, res.Statistics)

	if assert.Len(t, res.Recommendations, 2) {
		assert.Equal(t, "FIX_ERRORS", res.Recommendations[0].Action)
		assert.Equal(t, PriorityHigh, res.Recommendations[0].Priority)
		assert.Equal(t, "STANDARDIZE_NAMING", res.Recommendations[1].Action)
		assert.Equal(t, PriorityMedium, res.Recommendations[1].Priority)
	}
}

func TestValidator_Validate_empty(t *testing.T) {
	res := NewValidator(taxonomy.Default()).Validate(nil)

	assert.Equal(t, 0, res.Errors)
	assert.Equal(t, 252, res.Warnings)
	assert.Zero(t, res.Statistics.AverageScore)
	if assert.Len(t, res.Recommendations, 1) {
		assert.Equal(t, "STANDARDIZE_NAMING", res.Recommendations[0].Action)
	}
}

func TestValidator_Validate_complete(t *testing.T) {
	tax := taxonomy.Default()
	var mappings []Mapping
	for i, key := range tax.ExpectedCombinations() {
		name, subject := taxonomy.SplitKey(key)
		mappings = append(mappings, Mapping{CourseName: name, Subject: subject, CourseID: strconv.Itoa(1000 + i)})
	}

	res := NewValidator(tax).Validate(mappings)
	assert.Empty(t, res.Issues)
	assert.Empty(t, res.Recommendations)
	assert.Equal(t, 42, res.Statistics.ByGrade["G3"])
	assert.Equal(t, 84, res.Statistics.BySubject["KCFS"])
	assert.Equal(t, 252, res.Statistics.ByStatus[StatusUnknown])
	assert.Equal(t, 100.0, res.Statistics.AverageScore)
}
