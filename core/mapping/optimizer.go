package mapping

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/gradebook/core"
	"github.com/trezcool/gradebook/core/classroom"
	"github.com/trezcool/gradebook/core/progress"
	"github.com/trezcool/gradebook/core/taxonomy"
)

const (
	StrategyAggressive   = "AGGRESSIVE"
	StrategyBalanced     = "BALANCED"
	StrategyConservative = "CONSERVATIVE"

	fillMinMatch = 0.6
)

var ErrUnknownStrategy = errors.New("unknown mapping strategy")

type Strategy struct {
	Name                string  `json:"name"`
	ConfidenceThreshold float64 `json:"confidenceThreshold"`
	FuzzyMatching       bool    `json:"fuzzyMatching"`
}

var strategies = map[string]Strategy{
	StrategyAggressive:   {Name: StrategyAggressive, ConfidenceThreshold: 0.5, FuzzyMatching: true},
	StrategyBalanced:     {Name: StrategyBalanced, ConfidenceThreshold: 0.7, FuzzyMatching: true},
	StrategyConservative: {Name: StrategyConservative, ConfidenceThreshold: 0.8, FuzzyMatching: false},
}

// StrategyByName looks a strategy up, case-insensitively. An empty name is BALANCED.
func StrategyByName(name string) (Strategy, error) {
	name = strings.ToUpper(core.CleanString(name))
	if name == "" {
		name = StrategyBalanced
	}
	s, ok := strategies[name]
	if !ok {
		return Strategy{}, errors.Wrap(ErrUnknownStrategy, name)
	}
	return s, nil
}

type (
	CourseClassification struct {
		Course         classroom.Course `json:"course"`
		Classification Classification   `json:"analysis"`
		Advised        bool             `json:"advised,omitempty"`
	}

	ClassificationStats struct {
		TotalProcessed         int     `json:"totalProcessed"`
		SuccessfullyClassified int     `json:"successfullyClassified"`
		ClassificationRate     float64 `json:"classificationRate"`
		AverageConfidence      float64 `json:"averageConfidence"`
	}

	ClassificationResult struct {
		Mappings        []Mapping              `json:"mappings"`
		Classifications []CourseClassification `json:"classifications"`
		Statistics      ClassificationStats    `json:"statistics"`
		Summary         progress.Summary       `json:"summary"`
	}

	RepairStats struct {
		OriginalCount       int `json:"originalCount"`
		RepairedCount       int `json:"repairedCount"`
		ImprovementsApplied int `json:"improvementsApplied"`
	}

	RepairResult struct {
		Mappings     []Mapping     `json:"mappings"`
		Improvements []Improvement `json:"improvements"`
		Statistics   RepairStats   `json:"statistics"`
	}

	OptimizationStats struct {
		Classification ClassificationStats `json:"classification"`
		Validation     ValidationStats     `json:"validation"`
		Prediction     PredictionSummary   `json:"prediction"`
		Repair         RepairStats         `json:"repair"`
	}

	Optimization struct {
		Strategy     string            `json:"strategy"`
		Mappings     []Mapping         `json:"mappings"`
		Improvements []Improvement     `json:"improvements"`
		Statistics   OptimizationStats `json:"statistics"`
		Duration     time.Duration     `json:"duration"`
	}
)

type (
	// Optimizer runs the classify -> validate -> predict -> repair pipeline.
	Optimizer struct {
		tax       *taxonomy.Taxonomy
		validator *Validator
		predictor *Predictor
		advisor   Advisor
		logger    core.Logger
		notifier  progress.Notifier
		now       func() time.Time
	}

	OptimizerOption func(*Optimizer)
)

func WithAdvisor(a Advisor) OptimizerOption {
	return func(o *Optimizer) { o.advisor = a }
}

func WithProgressNotifier(n progress.Notifier) OptimizerOption {
	return func(o *Optimizer) { o.notifier = n }
}

func WithOptimizerClock(now func() time.Time) OptimizerOption {
	return func(o *Optimizer) { o.now = now }
}

func NewOptimizer(tax *taxonomy.Taxonomy, logger core.Logger, opts ...OptimizerOption) *Optimizer {
	o := &Optimizer{
		tax:       tax,
		validator: NewValidator(tax),
		predictor: NewPredictor(tax),
		logger:    logger,
		notifier:  progress.NopNotifier{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Optimizer) Optimize(ctx context.Context, courses []classroom.Course, strategy Strategy) (*Optimization, error) {
	start := o.now()
	o.logger.Info(fmt.Sprintf("mapping: optimizing %d courses (%s)", len(courses), strategy.Name))

	classified, err := o.ClassifyAll(ctx, courses, strategy)
	if err != nil {
		return nil, err
	}
	validation := o.validator.Validate(classified.Mappings)
	predictions := o.predictor.PredictMissing(o.tax.ExpectedCombinations(), classified.Mappings, courses)
	repaired := o.AutoRepair(classified.Mappings, validation.Issues, predictions.Predictions)

	res := &Optimization{
		Strategy:     strategy.Name,
		Mappings:     repaired.Mappings,
		Improvements: repaired.Improvements,
		Statistics: OptimizationStats{
			Classification: classified.Statistics,
			Validation:     validation.Statistics,
			Prediction:     predictions.Summary,
			Repair:         repaired.Statistics,
		},
		Duration: o.now().Sub(start),
	}
	o.logger.Info(fmt.Sprintf("mapping: %d mappings, %d improvements in %s",
		len(res.Mappings), len(res.Improvements), res.Duration))
	return res, nil
}

// ClassifyAll maps every course the classifier (or the advisor) is confident about.
func (o *Optimizer) ClassifyAll(ctx context.Context, courses []classroom.Course, strategy Strategy) (*ClassificationResult, error) {
	classifier := NewClassifier(o.tax, WithFuzzyMatching(strategy.FuzzyMatching))
	tracker := progress.New(len(courses), "Classify courses",
		progress.WithLogger(o.logger), progress.WithNotifier(o.notifier), progress.WithClock(o.now))

	res := &ClassificationResult{}
	for _, course := range courses {
		if err := ctx.Err(); err != nil {
			tracker.Abort(err.Error())
			return nil, errors.Wrap(err, "classifying courses")
		}

		cls, err := classifier.Analyze(course.Name, strategy.ConfidenceThreshold)
		if err != nil {
			tracker.AddError(course.ID, err, "classification failed")
			continue
		}

		advised := false
		if !cls.Success && o.advisor != nil {
			cls, advised = o.advise(ctx, course, cls, strategy)
		}
		res.Classifications = append(res.Classifications, CourseClassification{Course: course, Classification: cls, Advised: advised})

		if !cls.Success {
			tracker.AddWarning(course.ID, "low classification confidence: "+course.Name)
			continue
		}
		m := Mapping{
			CourseName:   taxonomy.CourseName(cls.Grade, cls.Class),
			Subject:      cls.Subject,
			CourseID:     course.ID,
			OriginalName: course.Name,
			Status:       StatusActive,
			MatchType:    MatchClassified,
			Score:        int(math.Round(cls.Confidence.Overall * 100)),
			DiscoveredAt: o.now(),
		}
		if advised {
			m.MatchType = MatchAdvised
		}
		res.Mappings = append(res.Mappings, m)
		tracker.AddSuccess(course.ID, "classified as "+cls.Recommendation)
	}

	res.Summary = tracker.Complete()
	res.Statistics = ClassificationStats{
		TotalProcessed:         len(courses),
		SuccessfullyClassified: len(res.Mappings),
		ClassificationRate:     float64(len(res.Mappings)) / math.Max(1, float64(len(courses))),
	}
	total := 0
	for _, m := range res.Mappings {
		total += m.Score
	}
	res.Statistics.AverageConfidence = float64(total) / math.Max(1, float64(len(res.Mappings)))
	return res, nil
}

// advise asks the advisor about a course the heuristics could not classify. The answer must name
// a known grade, one of its classes and a known subject; its confidence never exceeds the threshold.
func (o *Optimizer) advise(ctx context.Context, course classroom.Course, cls Classification, strategy Strategy) (Classification, bool) {
	sug, err := o.advisor.Suggest(ctx, course.Name, o.tax)
	if err != nil {
		o.logger.Warn(fmt.Sprintf("mapping: advisor failed for %q: %v", course.Name, err))
		return cls, false
	}

	grade := strings.ToUpper(core.CleanString(sug.Grade))
	subject := strings.ToUpper(core.CleanString(sug.Subject))
	class, ok := o.tax.Class(core.CleanString(sug.Class))
	if !ok || !o.tax.HasClass(grade, class.Name) || !o.tax.HasSubject(subject) || sug.Confidence <= 0 {
		o.logger.Warn(fmt.Sprintf("mapping: rejected advisor suggestion for %q: %+v", course.Name, sug))
		return cls, false
	}

	conf := math.Min(sug.Confidence, strategy.ConfidenceThreshold)
	return Classification{
		Success:        true,
		OriginalName:   course.Name,
		Grade:          grade,
		Class:          class.Name,
		Subject:        subject,
		Confidence:     Confidence{Grade: conf, Class: conf, Subject: conf, Overall: conf},
		Matches:        cls.Matches,
		Recommendation: taxonomy.Key(taxonomy.CourseName(grade, class.Name), subject),
	}, true
}

// AutoRepair resolves duplicated course ids and fills the missing mappings confidently predicted.
func (o *Optimizer) AutoRepair(mappings []Mapping, issues []Issue, predictions []Prediction) RepairResult {
	repaired := make([]Mapping, len(mappings))
	copy(repaired, mappings)
	var improvements []Improvement

	for _, issue := range issues {
		if issue.Type != IssueDuplicateCourseID || issue.Mapping == nil {
			continue
		}
		var imp *Improvement
		if repaired, imp = ResolveDuplicateCourseID(repaired, issue.Mapping.CourseID); imp != nil {
			improvements = append(improvements, *imp)
		}
	}

	for _, pred := range predictions {
		if len(pred.Alternatives) == 0 {
			continue
		}
		best := pred.Alternatives[0]
		if best.MatchScore <= fillMinMatch {
			continue
		}
		courseName, subject := taxonomy.SplitKey(pred.ExpectedMapping)
		m := Mapping{
			CourseName:   courseName,
			Subject:      subject,
			CourseID:     best.Course.ID,
			OriginalName: best.Course.Name,
			Status:       StatusActive,
			MatchType:    MatchPredicted,
			Score:        int(math.Round(best.MatchScore * 100)),
			Reason:       best.Reason,
			DiscoveredAt: o.now(),
		}
		repaired = append(repaired, m)
		improvements = append(improvements, Improvement{
			Type:        "MISSING_COURSE_FILLED",
			Description: fmt.Sprintf("predicted %s -> %s", pred.ExpectedMapping, best.Course.Name),
			Confidence:  best.MatchScore,
			Mapping:     &m,
		})
	}

	return RepairResult{
		Mappings:     repaired,
		Improvements: improvements,
		Statistics: RepairStats{
			OriginalCount:       len(mappings),
			RepairedCount:       len(repaired),
			ImprovementsApplied: len(improvements),
		},
	}
}

// ResolveDuplicateCourseID keeps the best scored mapping of courseID and drops the others.
// It returns nil when courseID is not duplicated.
func ResolveDuplicateCourseID(mappings []Mapping, courseID string) ([]Mapping, *Improvement) {
	var dups []int
	for i, m := range mappings {
		if m.CourseID == courseID {
			dups = append(dups, i)
		}
	}
	if len(dups) < 2 {
		return mappings, nil
	}

	sort.SliceStable(dups, func(i, j int) bool { return mappings[dups[i]].Score > mappings[dups[j]].Score })
	keep := mappings[dups[0]]

	kept := make([]Mapping, 0, len(mappings)-len(dups)+1)
	for i, m := range mappings {
		if m.CourseID != courseID || i == dups[0] {
			kept = append(kept, m)
		}
	}
	return kept, &Improvement{
		Type:         "DUPLICATE_RESOLVED",
		Description:  fmt.Sprintf("kept the best scored mapping: %s (%d%%)", keep.Key(), keep.Score),
		RemovedCount: len(dups) - 1,
	}
}
