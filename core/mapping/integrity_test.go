package mapping

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/gradebook/core"
	"github.com/trezcool/gradebook/core/classroom"
	"github.com/trezcool/gradebook/core/taxonomy"
)

func TestIntegrityChecker_Check(t *testing.T) {
	c := NewIntegrityChecker(taxonomy.Default(), core.NopLogger{})
	mappings := []Mapping{
		{CourseName: "G1 Achievers", Subject: "LT", CourseID: "1", Status: StatusActive},
		{CourseName: "G1 Achievers", Subject: "IT", CourseID: "bad id!", Status: StatusActive},
		{Subject: "LT", CourseID: "3"},
	}
	courses := []classroom.Course{{ID: "1"}, {ID: "3"}}

	rep := c.Check(mappings, courses)

	dq := rep.Checks.DataQuality
	assert.InDelta(t, 100-50.0/3, dq.Score, 1e-9)
	assert.Equal(t, 1, dq.RecordsWithMissingFields)
	require.Len(t, dq.Issues, 2)
	assert.Equal(t, IssueInvalidIDFormat, dq.Issues[0].Type)
	assert.Equal(t, IssueMissingFields, dq.Issues[1].Type)
	assert.Equal(t, "missing required fields: courseName, status", dq.Issues[1].Message)
	assert.Equal(t, 2, *dq.Issues[1].Index)

	assert.InDelta(t, 200.0/3, rep.Checks.Consistency.Score, 1e-9)
	assert.Zero(t, rep.Checks.Consistency.Errors)

	compl := rep.Checks.Completeness
	assert.Equal(t, 252, compl.ExpectedMappings)
	assert.Equal(t, 3, compl.ActualMappings)
	assert.Equal(t, 1.0, compl.Score)
	require.Len(t, compl.Issues, 1)
	assert.Equal(t, IssueLowCompleteness, compl.Issues[0].Type)
	assert.Equal(t, "low completeness: 1% (3/252)", compl.Issues[0].Message)

	acc := rep.Checks.Accuracy
	assert.InDelta(t, 80, acc.Score, 1e-9)
	assert.Equal(t, 1, acc.InvalidCourseIDs)
	assert.Equal(t, "unknown course id: bad id!", acc.Issues[0].Message)

	// 0.3*83.33 + 0.2*66.67 + 0.3*1 + 0.2*80
	assert.Equal(t, Overall{Status: StatusPoor, Score: 55}, rep.Overall)
	assert.Equal(t, []string{"data quality is poor, run the complete mapping workflow now"}, rep.Recommendations)

	var actions []string
	for _, s := range rep.AutoFixSuggestions {
		actions = append(actions, s.Action)
	}
	assert.Equal(t, []string{"RUN_AUTO_REPAIR", "STANDARDIZE_DATA"}, actions)
}

func TestIntegrityChecker_Check_perfect(t *testing.T) {
	tax := taxonomy.Default()
	var (
		mappings []Mapping
		courses  []classroom.Course
	)
	for i, key := range tax.ExpectedCombinations() {
		name, subject := taxonomy.SplitKey(key)
		id := strconv.Itoa(1000 + i)
		mappings = append(mappings, Mapping{CourseName: name, Subject: subject, CourseID: id, Status: StatusActive})
		courses = append(courses, classroom.Course{ID: id, Name: key})
	}

	rep := NewIntegrityChecker(tax, core.NopLogger{}).Check(mappings, courses)

	assert.Equal(t, Overall{Status: StatusExcellent, Score: 100}, rep.Overall)
	assert.Empty(t, rep.Issues)
	assert.Empty(t, rep.AutoFixSuggestions)
}

func TestIntegrityChecker_Check_empty(t *testing.T) {
	rep := NewIntegrityChecker(taxonomy.Default(), core.NopLogger{}).Check(nil, nil)

	assert.Equal(t, 100.0, rep.Checks.DataQuality.Score)
	assert.Equal(t, 100.0, rep.Checks.Consistency.Score)
	assert.Equal(t, 0.0, rep.Checks.Completeness.Score)
	assert.Equal(t, 100.0, rep.Checks.Accuracy.Score)
	assert.Equal(t, Overall{Status: StatusFair, Score: 70}, rep.Overall)
}

func TestOverallStatus(t *testing.T) {
	tests := []struct {
		score int
		want  string
	}{
		{100, StatusExcellent},
		{90, StatusExcellent},
		{89, StatusGood},
		{75, StatusGood},
		{74, StatusFair},
		{60, StatusFair},
		{59, StatusPoor},
		{0, StatusPoor},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, overallStatus(tc.score), "score %d", tc.score)
	}
}
