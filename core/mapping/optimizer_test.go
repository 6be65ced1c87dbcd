package mapping

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/gradebook/core"
	"github.com/trezcool/gradebook/core/classroom"
	"github.com/trezcool/gradebook/core/taxonomy"
)

var testNow = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

type fakeAdvisor struct {
	sug   Suggestion
	err   error
	calls int
}

func (a *fakeAdvisor) Suggest(context.Context, string, *taxonomy.Taxonomy) (Suggestion, error) {
	a.calls++
	return a.sug, a.err
}

func newTestOptimizer(opts ...OptimizerOption) *Optimizer {
	opts = append([]OptimizerOption{WithOptimizerClock(func() time.Time { return testNow })}, opts...)
	return NewOptimizer(taxonomy.Default(), core.NopLogger{}, opts...)
}

func TestStrategyByName(t *testing.T) {
	tests := []struct {
		name      string
		want      Strategy
		wantError bool
	}{
		{"", strategies[StrategyBalanced], false},
		{"aggressive", Strategy{Name: StrategyAggressive, ConfidenceThreshold: 0.5, FuzzyMatching: true}, false},
		{" CONSERVATIVE ", Strategy{Name: StrategyConservative, ConfidenceThreshold: 0.8}, false},
		{"reckless", Strategy{}, true},
	}
	for _, tc := range tests {
		got, err := StrategyByName(tc.name)
		if tc.wantError {
			assert.ErrorIs(t, err, ErrUnknownStrategy)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)
	}
}

func TestOptimizer_Optimize(t *testing.T) {
	o := newTestOptimizer()
	strategy, _ := StrategyByName(StrategyBalanced)

	res, err := o.Optimize(context.Background(), testCourses(), strategy)
	require.NoError(t, err)

	assert.Equal(t, StrategyBalanced, res.Strategy)
	assert.Equal(t, ClassificationStats{
		TotalProcessed:         4,
		SuccessfullyClassified: 3,
		ClassificationRate:     0.75,
		AverageConfidence:      93,
	}, res.Statistics.Classification)
	assert.Equal(t, 249, res.Statistics.Prediction.TotalMissing)
	// "Achievers" courses stand in for the LT and IT courses of the other grades
	assert.Equal(t, RepairStats{OriginalCount: 3, RepairedCount: 12, ImprovementsApplied: 9}, res.Statistics.Repair)
	assert.Len(t, res.Improvements, 9)

	first := res.Mappings[0]
	assert.Equal(t, Mapping{
		CourseName:   "G1 Achievers",
		Subject:      "LT",
		CourseID:     "1",
		OriginalName: "G1 Achievers LT",
		Status:       StatusActive,
		MatchType:    MatchClassified,
		Score:        93,
		DiscoveredAt: testNow,
	}, first)

	predicted := res.Mappings[3]
	assert.Equal(t, MatchPredicted, predicted.MatchType)
	assert.Equal(t, 70, predicted.Score)
	assert.Equal(t, "MISSING_COURSE_FILLED", res.Improvements[0].Type)
}

func TestOptimizer_ClassifyAll_advisor(t *testing.T) {
	strategy, _ := StrategyByName(StrategyBalanced)
	club := []classroom.Course{{ID: "4", Name: "Random club"}}

	tests := []struct {
		name      string
		advisor   *fakeAdvisor
		wantMaps  int
		wantMatch MatchType
		wantScore int
	}{
		{"accepted", &fakeAdvisor{sug: Suggestion{Grade: "g4", Class: "seekers", Subject: "it", Confidence: 0.95}}, 1, MatchAdvised, 70},
		{"low confidence", &fakeAdvisor{sug: Suggestion{Grade: "G4", Class: "Seekers", Subject: "IT", Confidence: 0.4}}, 1, MatchAdvised, 40},
		{"unknown class", &fakeAdvisor{sug: Suggestion{Grade: "G4", Class: "Wanderers", Subject: "IT", Confidence: 0.9}}, 0, "", 0},
		{"unknown grade", &fakeAdvisor{sug: Suggestion{Grade: "G9", Class: "Seekers", Subject: "IT", Confidence: 0.9}}, 0, "", 0},
		{"unknown subject", &fakeAdvisor{sug: Suggestion{Grade: "G4", Class: "Seekers", Subject: "PE", Confidence: 0.9}}, 0, "", 0},
		{"advisor error", &fakeAdvisor{err: errors.New("boom")}, 0, "", 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			o := newTestOptimizer(WithAdvisor(tc.advisor))
			res, err := o.ClassifyAll(context.Background(), club, strategy)
			require.NoError(t, err)
			assert.Equal(t, 1, tc.advisor.calls)
			require.Len(t, res.Mappings, tc.wantMaps)
			if tc.wantMaps == 0 {
				assert.Equal(t, 1, res.Summary.Statistics.Warnings)
				return
			}
			m := res.Mappings[0]
			assert.Equal(t, "G4 Seekers", m.CourseName)
			assert.Equal(t, "IT", m.Subject)
			assert.Equal(t, tc.wantMatch, m.MatchType)
			assert.Equal(t, tc.wantScore, m.Score)
			assert.True(t, res.Classifications[0].Advised)
		})
	}
}

func TestOptimizer_ClassifyAll_advisorNotConsultedOnSuccess(t *testing.T) {
	adv := &fakeAdvisor{}
	o := newTestOptimizer(WithAdvisor(adv))
	strategy, _ := StrategyByName(StrategyConservative)

	res, err := o.ClassifyAll(context.Background(), testCourses()[:3], strategy)
	require.NoError(t, err)
	assert.Len(t, res.Mappings, 3)
	assert.Zero(t, adv.calls)
	assert.Equal(t, 3, res.Summary.Statistics.Successful)
}

func TestOptimizer_ClassifyAll_cancelled(t *testing.T) {
	o := newTestOptimizer()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := o.ClassifyAll(ctx, testCourses(), strategies[StrategyBalanced])
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResolveDuplicateCourseID(t *testing.T) {
	mappings := []Mapping{
		{CourseName: "A", Subject: "LT", CourseID: "1", Score: 50},
		{CourseName: "B", Subject: "LT", CourseID: "1", Score: 90},
		{CourseName: "C", Subject: "IT", CourseID: "2"},
		{CourseName: "D", Subject: "LT", CourseID: "1", Score: 90},
	}

	got, imp := ResolveDuplicateCourseID(mappings, "1")
	require.NotNil(t, imp)
	assert.Equal(t, []Mapping{mappings[1], mappings[2]}, got)
	assert.Equal(t, "DUPLICATE_RESOLVED", imp.Type)
	assert.Equal(t, 2, imp.RemovedCount)
	assert.Equal(t, "kept the best scored mapping: B-LT (90%)", imp.Description)

	same, imp := ResolveDuplicateCourseID(got, "2")
	assert.Nil(t, imp)
	assert.Equal(t, got, same)
}

func TestOptimizer_AutoRepair(t *testing.T) {
	o := newTestOptimizer()
	mappings := []Mapping{
		{CourseName: "G1 Achievers", Subject: "LT", CourseID: "1", Score: 60},
		{CourseName: "G1 Achievers", Subject: "IT", CourseID: "1", Score: 95},
	}
	dup := mappings[1]
	issues := []Issue{
		{Type: IssueDuplicateCourseID, Severity: SeverityError, Index: index(1), Mapping: &dup},
		{Type: IssueMissingMapping, Severity: SeverityWarning, Expected: "G1 Achievers-KCFS"},
	}
	course := classroom.Course{ID: "9", Name: "G1 Achievers KCFS"}
	predictions := []Prediction{
		{ExpectedMapping: "G1 Achievers-KCFS", Alternatives: []Alternative{{Course: course, MatchScore: 1, Reason: "class exact match, subject exact match"}}},
		{ExpectedMapping: "G2 Achievers-KCFS", Alternatives: []Alternative{{Course: course, MatchScore: 0.6}}},
		{ExpectedMapping: "G3 Achievers-KCFS"},
	}

	res := o.AutoRepair(mappings, issues, predictions)

	assert.Equal(t, RepairStats{OriginalCount: 2, RepairedCount: 2, ImprovementsApplied: 2}, res.Statistics)
	assert.Equal(t, "IT", res.Mappings[0].Subject)
	assert.Equal(t, Mapping{
		CourseName:   "G1 Achievers",
		Subject:      "KCFS",
		CourseID:     "9",
		OriginalName: "G1 Achievers KCFS",
		Status:       StatusActive,
		MatchType:    MatchPredicted,
		Score:        100,
		Reason:       "class exact match, subject exact match",
		DiscoveredAt: testNow,
	}, res.Mappings[1])
	// the input is left untouched
	assert.Len(t, mappings, 2)
	assert.Equal(t, "LT", mappings[0].Subject)
}
