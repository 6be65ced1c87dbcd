// Package assessment measures how far teachers got entering the scores of their gradebooks.
package assessment

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"net/mail"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/gradebook/core"
	"github.com/trezcool/gradebook/core/taxonomy"
)

const (
	FormativePrefix = "F.A."
	SummativePrefix = "S.A."
	FinalTitle      = "Final"

	ReportTemplate = "progress_report"
	AttachmentName = "progress.csv"
)

type Level string

const (
	LevelExcellent Level = "EXCELLENT"
	LevelGood      Level = "GOOD"
	LevelNormal    Level = "NORMAL"
	LevelBehind    Level = "BEHIND"
)

var Levels = []Level{LevelExcellent, LevelGood, LevelNormal, LevelBehind}

type (
	Weights struct {
		Formative float64 `json:"formative"`
		Summative float64 `json:"summative"`
		Final     float64 `json:"final"`
	}

	// Plan lists the assessments every student of a class is scored on.
	Plan struct {
		FormativeCount int     `json:"formativeCount"`
		SummativeCount int     `json:"summativeCount"`
		IncludeFinal   bool    `json:"includeFinal"`
		Weights        Weights `json:"weights"`
	}

	Thresholds struct {
		Excellent float64 `json:"excellent"`
		Good      float64 `json:"good"`
		Normal    float64 `json:"normal"`
	}
)

func (w Weights) Total() float64 {
	return w.Formative + w.Summative + w.Final
}

func (w Weights) Validate() error {
	var fields []core.FieldError
	for _, f := range []struct {
		name  string
		value float64
	}{{"formative", w.Formative}, {"summative", w.Summative}, {"final", w.Final}} {
		if f.value < 0 {
			fields = append(fields, core.FieldError{Field: f.name, Error: "must not be negative"})
		}
	}
	if total := w.Total(); total > 1 {
		fields = append(fields, core.FieldError{
			Field: "weights",
			Error: fmt.Sprintf("assessment weights exceed 100%% (%.0f%%)", total*100),
		})
	}
	if len(fields) > 0 {
		return core.NewValidationError(errors.New("invalid assessment weights"), fields...)
	}
	return nil
}

func PlanFromConfig(conf core.AssessmentConfig) Plan {
	return Plan{
		FormativeCount: conf.FormativeCount,
		SummativeCount: conf.SummativeCount,
		IncludeFinal:   conf.IncludeFinal,
		Weights: Weights{
			Formative: conf.FormativeWeight,
			Summative: conf.SummativeWeight,
			Final:     conf.FinalWeight,
		},
	}
}

func (p Plan) Validate() error {
	if p.FormativeCount < 0 || p.SummativeCount < 0 {
		return core.NewValidationError(errors.New("invalid assessment plan"),
			core.FieldError{Field: "counts", Error: "must not be negative"})
	}
	return p.Weights.Validate()
}

func (p Plan) FormativeTitles() []string { return numbered(FormativePrefix, p.FormativeCount) }
func (p Plan) SummativeTitles() []string { return numbered(SummativePrefix, p.SummativeCount) }

// Titles lists the gradebook columns: F.A.1..F.A.n, S.A.1..S.A.m and Final.
func (p Plan) Titles() []string {
	titles := append(p.FormativeTitles(), p.SummativeTitles()...)
	if p.IncludeFinal {
		titles = append(titles, FinalTitle)
	}
	return titles
}

func numbered(prefix string, n int) []string {
	titles := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		titles = append(titles, prefix+strconv.Itoa(i))
	}
	return titles
}

// Term computes the weighted term score of a student. Kinds without any score are left out and
// the remaining weights are scaled up; ok is false when nothing was scored.
func (p Plan) Term(scores map[string]string) (term float64, ok bool) {
	var sum, weights float64
	for _, part := range []struct {
		titles []string
		weight float64
	}{
		{p.FormativeTitles(), p.Weights.Formative},
		{p.SummativeTitles(), p.Weights.Summative},
		{finalTitles(p.IncludeFinal), p.Weights.Final},
	} {
		avg, n := average(scores, part.titles)
		if n == 0 || part.weight == 0 {
			continue
		}
		sum += avg * part.weight
		weights += part.weight
	}
	if weights == 0 {
		return 0, false
	}
	return sum / weights, true
}

func finalTitles(include bool) []string {
	if include {
		return []string{FinalTitle}
	}
	return nil
}

func average(scores map[string]string, titles []string) (float64, int) {
	var (
		sum float64
		n   int
	)
	for _, t := range titles {
		if v, ok := parseScore(scores[t]); ok {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0, 0
	}
	return sum / float64(n), n
}

func parseScore(cell string) (float64, bool) {
	cell = core.CleanString(cell)
	if cell == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(cell, 64)
	return v, err == nil
}

func DefaultThresholds() Thresholds {
	return Thresholds{Excellent: 0.90, Good: 0.80, Normal: 0.60}
}

func ThresholdsFromConfig(conf core.ProgressThresholds) Thresholds {
	th := Thresholds{Excellent: conf.Excellent, Good: conf.Good, Normal: conf.Normal}
	if th == (Thresholds{}) {
		return DefaultThresholds()
	}
	return th
}

func (th Thresholds) Level(rate float64) Level {
	switch {
	case rate >= th.Excellent:
		return LevelExcellent
	case rate >= th.Good:
		return LevelGood
	case rate >= th.Normal:
		return LevelNormal
	default:
		return LevelBehind
	}
}

type (
	Student struct {
		ID     string            `json:"id"`
		Name   string            `json:"name"`
		Scores map[string]string `json:"scores"` // assessment title -> raw cell
	}

	// Gradebook is one teacher's score sheet for one class and subject.
	Gradebook struct {
		Teacher   string    `json:"teacher"`
		Subject   string    `json:"subject"`
		ClassName string    `json:"className"` // "G1 Achievers"
		Students  []Student `json:"students"`
	}

	// Source provides the gradebooks to evaluate (see services/sheets).
	Source interface {
		Gradebooks(ctx context.Context) ([]Gradebook, error)
	}

	Completion struct {
		Expected int     `json:"expected"`
		Entered  int     `json:"entered"`
		Rate     float64 `json:"rate"`
		Level    Level   `json:"level"`
	}

	ClassProgress struct {
		Teacher    string `json:"teacher"`
		Subject    string `json:"subject"`
		ClassName  string `json:"className"`
		GradeGroup string `json:"gradeGroup,omitempty"`
		Students   int    `json:"students"`
		Completion
		Average float64 `json:"averageTerm"`
		// Pending lists the assessments nobody in the class has a score for yet.
		Pending []string `json:"pending,omitempty"`
	}

	TeacherProgress struct {
		Teacher string `json:"teacher"`
		Classes int    `json:"classes"`
		Completion
	}

	Report struct {
		GeneratedAt time.Time         `json:"generatedAt"`
		Classes     []ClassProgress   `json:"classes"`
		Teachers    []TeacherProgress `json:"teachers"`
		Overall     Completion        `json:"overall"`
		ByLevel     map[Level]int     `json:"byLevel"` // teachers per level
	}
)

// Evaluator turns gradebooks into completion figures per class and per teacher.
type Evaluator struct {
	plan       Plan
	thresholds Thresholds
	tax        *taxonomy.Taxonomy
	now        func() time.Time
}

func NewEvaluator(plan Plan, thresholds Thresholds, tax *taxonomy.Taxonomy) (*Evaluator, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return &Evaluator{plan: plan, thresholds: thresholds, tax: tax, now: time.Now}, nil
}

func (e *Evaluator) Run(ctx context.Context, src Source) (*Report, error) {
	books, err := src.Gradebooks(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "reading gradebooks")
	}
	return e.Evaluate(books), nil
}

func (e *Evaluator) Evaluate(books []Gradebook) *Report {
	titles := e.plan.Titles()
	rep := &Report{GeneratedAt: e.now(), ByLevel: make(map[Level]int, len(Levels))}
	teachers := make(map[string]*TeacherProgress)

	for _, book := range books {
		cp := ClassProgress{
			Teacher:   book.Teacher,
			Subject:   book.Subject,
			ClassName: book.ClassName,
			Students:  len(book.Students),
		}
		if len(book.ClassName) >= 2 {
			cp.GradeGroup = e.tax.GradeGroup(book.ClassName[:2])
		}

		scored := make(map[string]bool, len(titles))
		var (
			termSum float64
			terms   int
		)
		for _, st := range book.Students {
			for _, t := range titles {
				if _, ok := parseScore(st.Scores[t]); ok {
					cp.Entered++
					scored[t] = true
				}
			}
			if term, ok := e.plan.Term(st.Scores); ok {
				termSum += term
				terms++
			}
		}
		cp.Expected = len(book.Students) * len(titles)
		cp.Completion = e.completion(cp.Expected, cp.Entered)
		if terms > 0 {
			cp.Average = math.Round(termSum/float64(terms)*100) / 100
		}
		for _, t := range titles {
			if !scored[t] && len(book.Students) > 0 {
				cp.Pending = append(cp.Pending, t)
			}
		}
		rep.Classes = append(rep.Classes, cp)

		tp, ok := teachers[book.Teacher]
		if !ok {
			tp = &TeacherProgress{Teacher: book.Teacher}
			teachers[book.Teacher] = tp
		}
		tp.Classes++
		tp.Expected += cp.Expected
		tp.Entered += cp.Entered
		rep.Overall.Expected += cp.Expected
		rep.Overall.Entered += cp.Entered
	}

	for _, tp := range teachers {
		tp.Completion = e.completion(tp.Expected, tp.Entered)
		rep.Teachers = append(rep.Teachers, *tp)
		rep.ByLevel[tp.Level]++
	}
	// least advanced first
	sort.Slice(rep.Teachers, func(i, j int) bool {
		if rep.Teachers[i].Rate != rep.Teachers[j].Rate {
			return rep.Teachers[i].Rate < rep.Teachers[j].Rate
		}
		return rep.Teachers[i].Teacher < rep.Teachers[j].Teacher
	})
	rep.Overall = e.completion(rep.Overall.Expected, rep.Overall.Entered)
	return rep
}

func (e *Evaluator) completion(expected, entered int) Completion {
	c := Completion{Expected: expected, Entered: entered}
	if expected > 0 {
		c.Rate = float64(entered) / float64(expected)
	}
	c.Level = e.thresholds.Level(c.Rate)
	return c
}

// Behind lists the teachers under the NORMAL threshold.
func (r *Report) Behind() []TeacherProgress {
	var behind []TeacherProgress
	for _, tp := range r.Teachers {
		if tp.Level == LevelBehind {
			behind = append(behind, tp)
		}
	}
	return behind
}

// WriteCSV writes one row per class.
func (r *Report) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"Teacher", "Subject", "Class", "Students", "Expected", "Entered", "Rate", "Level", "Pending"}); err != nil {
		return err
	}
	for _, c := range r.Classes {
		row := []string{
			c.Teacher,
			c.Subject,
			c.ClassName,
			strconv.Itoa(c.Students),
			strconv.Itoa(c.Expected),
			strconv.Itoa(c.Entered),
			strconv.FormatFloat(c.Rate*100, 'f', 1, 64),
			string(c.Level),
			strings.Join(c.Pending, "; "),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// EmailMessage returns the progress email, with the class figures attached as CSV.
func (r *Report) EmailMessage(to []mail.Address) *core.EmailMessage {
	msg := &core.EmailMessage{
		To:           to,
		Subject:      fmt.Sprintf("Assessment progress: %.0f%% entered", r.Overall.Rate*100),
		TemplateName: ReportTemplate,
		TemplateData: r,
	}
	var buf bytes.Buffer
	if err := r.WriteCSV(&buf); err == nil {
		_ = msg.Attach(&buf, AttachmentName, "text/csv")
	}
	return msg
}
