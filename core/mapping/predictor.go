package mapping

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/trezcool/gradebook/core/classroom"
	"github.com/trezcool/gradebook/core/taxonomy"
)

const (
	candidateThreshold  = 0.3
	DefaultAlternatives = 3

	exactClassScore   = 0.6
	partialClassScore = 0.3
	subjectScore      = 0.4
	minMatchScore     = 0.3

	matchRankWeight      = 0.7
	confidenceRankWeight = 0.3
)

type (
	Alternative struct {
		Course             classroom.Course `json:"course"`
		MatchScore         float64          `json:"matchScore"`
		AnalysisConfidence float64          `json:"analysisConfidence"`
		Reason             string           `json:"reason"`
	}

	Prediction struct {
		ExpectedMapping string        `json:"expectedMapping"`
		FullClassName   string        `json:"fullClassName"`
		Subject         string        `json:"subject"`
		Alternatives    []Alternative `json:"alternatives"`
		Confidence      float64       `json:"confidence"`
		Recommendation  string        `json:"recommendation"`
	}

	PredictionSummary struct {
		TotalMissing     int     `json:"totalMissing"`
		WithAlternatives int     `json:"withAlternatives"`
		PredictionRate   float64 `json:"predictionRate"`
	}

	PredictionResult struct {
		Missing     []Prediction      `json:"missing"`
		Predictions []Prediction      `json:"predictions"` // missing mappings that have at least one alternative
		Summary     PredictionSummary `json:"summary"`
	}

	// Predictor proposes existing courses for expected mappings nobody covers yet.
	Predictor struct {
		classifier *Classifier
	}

	analyzedCourse struct {
		course classroom.Course
		class  Classification
	}
)

func NewPredictor(tax *taxonomy.Taxonomy) *Predictor {
	return &Predictor{classifier: NewClassifier(tax)}
}

func (p *Predictor) PredictMissing(expected []string, actual []Mapping, courses []classroom.Course) PredictionResult {
	var (
		res      PredictionResult
		have     = keySet(actual)
		analyzed = p.analyze(courses)
	)
	for _, key := range expected {
		if have[key] {
			continue
		}
		className, subject := taxonomy.SplitKey(key)
		pred := p.alternatives(className, subject, analyzed, DefaultAlternatives)
		pred.ExpectedMapping = key

		res.Missing = append(res.Missing, pred)
		if len(pred.Alternatives) > 0 {
			res.Predictions = append(res.Predictions, pred)
		}
	}

	res.Summary = PredictionSummary{
		TotalMissing:     len(res.Missing),
		WithAlternatives: len(res.Predictions),
		PredictionRate:   float64(len(res.Predictions)) / math.Max(1, float64(len(res.Missing))),
	}
	return res
}

// PredictAlternatives ranks the courses that could stand in for "<fullClassName>-<subject>".
func (p *Predictor) PredictAlternatives(fullClassName, subject string, courses []classroom.Course, max int) Prediction {
	if max <= 0 {
		max = DefaultAlternatives
	}
	pred := p.alternatives(fullClassName, subject, p.analyze(courses), max)
	pred.ExpectedMapping = taxonomy.Key(fullClassName, subject)
	return pred
}

func (p *Predictor) analyze(courses []classroom.Course) []analyzedCourse {
	analyzed := make([]analyzedCourse, 0, len(courses))
	for _, c := range courses {
		cls, err := p.classifier.Analyze(c.Name, candidateThreshold)
		if err != nil || !cls.Success {
			continue
		}
		analyzed = append(analyzed, analyzedCourse{course: c, class: cls})
	}
	return analyzed
}

func (p *Predictor) alternatives(fullClassName, subject string, analyzed []analyzedCourse, max int) Prediction {
	pred := Prediction{FullClassName: fullClassName, Subject: subject}

	for _, a := range analyzed {
		gotClass := taxonomy.CourseName(a.class.Grade, a.class.Class)
		score := matchScore(fullClassName, subject, gotClass, a.class.Subject)
		if score <= minMatchScore {
			continue
		}
		pred.Alternatives = append(pred.Alternatives, Alternative{
			Course:             a.course,
			MatchScore:         score,
			AnalysisConfidence: a.class.Confidence.Overall,
			Reason:             matchReason(fullClassName, subject, gotClass, a.class.Subject),
		})
	}

	rank := func(a Alternative) float64 {
		return a.MatchScore*matchRankWeight + a.AnalysisConfidence*confidenceRankWeight
	}
	sort.SliceStable(pred.Alternatives, func(i, j int) bool {
		return rank(pred.Alternatives[i]) > rank(pred.Alternatives[j])
	})
	if len(pred.Alternatives) > max {
		pred.Alternatives = pred.Alternatives[:max]
	}

	if len(pred.Alternatives) > 0 {
		best := pred.Alternatives[0]
		pred.Confidence = best.MatchScore
		pred.Recommendation = fmt.Sprintf("use %q (match %d%%)", best.Course.Name, int(math.Round(best.MatchScore*100)))
	} else {
		pred.Recommendation = "no alternative available"
	}
	return pred
}

func matchScore(wantClass, wantSubject, gotClass, gotSubject string) float64 {
	var score float64
	if gotClass == wantClass {
		score += exactClassScore
	} else if partialClass(wantClass, gotClass) {
		score += partialClassScore
	}
	if gotSubject == wantSubject {
		score += subjectScore
	}
	return score
}

func matchReason(wantClass, wantSubject, gotClass, gotSubject string) string {
	var reasons []string
	if gotClass == wantClass {
		reasons = append(reasons, "class exact match")
	} else if partialClass(wantClass, gotClass) {
		reasons = append(reasons, "class name partial match")
	}
	if gotSubject == wantSubject {
		reasons = append(reasons, "subject exact match")
	}
	if len(reasons) == 0 {
		return "low similarity match"
	}
	return strings.Join(reasons, ", ")
}

// partialClass reports whether got carries the class part of want, e.g. "G2 Achievers" for "G1 Achievers".
func partialClass(want, got string) bool {
	class := taxonomy.ClassOf(want)
	return class != "" && strings.Contains(got, class)
}
