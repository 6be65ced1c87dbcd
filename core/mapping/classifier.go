package mapping

import (
	"math"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/pkg/errors"
	"github.com/pmezard/go-difflib/difflib"

	"github.com/trezcool/gradebook/core/taxonomy"
)

const (
	DefaultThreshold = 0.7

	fuzzyMinRatio    = 0.8
	fuzzyMinTokenLen = 4

	gradeWeight   = 0.3
	classWeight   = 0.4
	subjectWeight = 0.3
)

var ErrEmptyCourseName = errors.New("course name cannot be empty")

type (
	Dimension string

	PatternMatch struct {
		Dimension  Dimension `json:"dimension"`
		Value      string    `json:"value"`
		Pattern    string    `json:"pattern"`
		Confidence float64   `json:"confidence"`
		Fuzzy      bool      `json:"fuzzy,omitempty"`
	}

	Confidence struct {
		Grade   float64 `json:"grade"`
		Class   float64 `json:"className"`
		Subject float64 `json:"subject"`
		Overall float64 `json:"overall"`
	}

	Classification struct {
		Success        bool           `json:"success"`
		OriginalName   string         `json:"originalName"`
		Grade          string         `json:"grade,omitempty"`
		Class          string         `json:"className,omitempty"`
		Subject        string         `json:"subject,omitempty"`
		Confidence     Confidence     `json:"confidence"`
		Matches        []PatternMatch `json:"matchDetails,omitempty"`
		Recommendation string         `json:"recommendation,omitempty"`
	}

	pattern struct {
		text string
		word *regexp.Regexp
	}

	candidate struct {
		value    string
		patterns []pattern
	}

	// Classifier extracts grade, class and subject from free-form course names.
	Classifier struct {
		grades   []candidate
		classes  []candidate
		subjects []candidate
		fuzzy    bool
	}

	ClassifierOption func(*Classifier)
)

const (
	DimensionGrade   Dimension = "grade"
	DimensionClass   Dimension = "class"
	DimensionSubject Dimension = "subject"
)

// WithFuzzyMatching lets misspelt class names match through a similarity ratio.
func WithFuzzyMatching(on bool) ClassifierOption {
	return func(c *Classifier) { c.fuzzy = on }
}

func NewClassifier(tax *taxonomy.Taxonomy, opts ...ClassifierOption) *Classifier {
	c := &Classifier{}
	for _, g := range tax.Grades {
		c.grades = append(c.grades, newCandidate(g.Code, g.Aliases))
	}
	for _, cl := range tax.Classes {
		c.classes = append(c.classes, newCandidate(cl.Name, cl.Aliases))
	}
	for _, s := range tax.Subjects {
		c.subjects = append(c.subjects, newCandidate(s.Code, s.Aliases))
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func newCandidate(value string, aliases []string) candidate {
	cand := candidate{value: value}
	for _, a := range aliases {
		if a == "" {
			continue
		}
		cand.patterns = append(cand.patterns, pattern{
			text: a,
			word: regexp.MustCompile(`\b` + regexp.QuoteMeta(a) + `\b`),
		})
	}
	return cand
}

// Analyze classifies a course name. The classification succeeds when the weighted confidence
// reaches threshold and all of grade, class and subject were found.
func (c *Classifier) Analyze(name string, threshold float64) (Classification, error) {
	text := strings.ToLower(strings.TrimSpace(name))
	if text == "" {
		return Classification{}, ErrEmptyCourseName
	}

	res := Classification{OriginalName: name}
	res.Grade, res.Confidence.Grade = c.best(DimensionGrade, c.grades, text, &res.Matches)
	res.Class, res.Confidence.Class = c.best(DimensionClass, c.classes, text, &res.Matches)
	res.Subject, res.Confidence.Subject = c.best(DimensionSubject, c.subjects, text, &res.Matches)

	if res.Class == "" && c.fuzzy {
		res.Class, res.Confidence.Class = c.bestFuzzy(text, &res.Matches)
	}

	res.Confidence.Overall = res.Confidence.Grade*gradeWeight +
		res.Confidence.Class*classWeight +
		res.Confidence.Subject*subjectWeight

	res.Success = res.Confidence.Overall >= threshold && res.Grade != "" && res.Class != "" && res.Subject != ""
	if res.Success {
		res.Recommendation = taxonomy.Key(taxonomy.CourseName(res.Grade, res.Class), res.Subject)
	}
	return res, nil
}

func (c *Classifier) best(dim Dimension, cands []candidate, text string, matches *[]PatternMatch) (string, float64) {
	var (
		value string
		conf  float64
	)
	for _, cand := range cands {
		for _, p := range cand.patterns {
			if !strings.Contains(text, p.text) {
				continue
			}
			pc := patternConfidence(p, text)
			*matches = append(*matches, PatternMatch{Dimension: dim, Value: cand.value, Pattern: p.text, Confidence: pc})
			if pc > conf {
				value, conf = cand.value, pc
			}
		}
	}
	return value, conf
}

func (c *Classifier) bestFuzzy(text string, matches *[]PatternMatch) (string, float64) {
	var (
		value string
		conf  float64
	)
	tokens := strings.FieldsFunc(text, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) })
	for _, tok := range tokens {
		if utf8.RuneCountInString(tok) < fuzzyMinTokenLen {
			continue
		}
		for _, cand := range c.classes {
			for _, p := range cand.patterns {
				if !isASCII(p.text) {
					continue
				}
				ratio := similarity(tok, p.text)
				if ratio < fuzzyMinRatio {
					continue
				}
				pc := patternConfidence(pattern{text: tok, word: wordPattern(tok)}, text) * ratio
				*matches = append(*matches, PatternMatch{
					Dimension: DimensionClass, Value: cand.value, Pattern: p.text, Confidence: pc, Fuzzy: true,
				})
				if pc > conf {
					value, conf = cand.value, pc
				}
			}
		}
	}
	return value, conf
}

// patternConfidence scores a contained pattern: 0.5 for the match, 0.3 more when it is a whole
// word, and up to 0.2 the closer to the start of text it appears.
func patternConfidence(p pattern, text string) float64 {
	idx := strings.Index(text, p.text)
	if idx < 0 {
		return 0
	}
	conf := 0.5
	if p.word.MatchString(text) {
		conf += 0.3
	}
	length := float64(utf8.RuneCountInString(text))
	pos := float64(utf8.RuneCountInString(text[:idx]))
	conf += math.Max(0, (length-pos)/length*0.2)
	return math.Min(1, conf)
}

func wordPattern(s string) *regexp.Regexp {
	return regexp.MustCompile(`\b` + regexp.QuoteMeta(s) + `\b`)
}

func similarity(a, b string) float64 {
	return difflib.NewMatcher(strings.Split(a, ""), strings.Split(b, "")).Ratio()
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
