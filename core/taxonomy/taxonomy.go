// Package taxonomy describes the grades, homeroom classes and subjects courses are mapped onto.
package taxonomy

import (
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/trezcool/gradebook/core"
	appfs "github.com/trezcool/gradebook/fs"
)

const defaultFile = "assets/taxonomy.yaml"

type (
	Grade struct {
		Code    string   `yaml:"code"`
		Aliases []string `yaml:"aliases"`
		Classes []string `yaml:"classes"` // homeroom classes, in school order
	}

	Class struct {
		Name    string   `yaml:"name"`
		Aliases []string `yaml:"aliases"`
	}

	Subject struct {
		Code    string   `yaml:"code"`
		Aliases []string `yaml:"aliases"`
	}

	Group struct {
		Name   string   `yaml:"name"`
		Grades []string `yaml:"grades"`
	}

	Taxonomy struct {
		Grades   []Grade   `yaml:"grades"`
		Classes  []Class   `yaml:"classes"`
		Subjects []Subject `yaml:"subjects"`
		Groups   []Group   `yaml:"groups"`
	}
)

var (
	defaultOnce sync.Once
	defaultTax  *Taxonomy
)

// Default returns the taxonomy embedded in the binary.
func Default() *Taxonomy {
	defaultOnce.Do(func() {
		data, err := fs.ReadFile(appfs.FS, defaultFile)
		if err != nil {
			panic(errors.Wrap(err, "reading embedded taxonomy"))
		}
		if defaultTax, err = Parse(data); err != nil {
			panic(err)
		}
	})
	return defaultTax
}

// Load reads a taxonomy from a YAML file, or returns Default when path is empty.
func Load(path string) (*Taxonomy, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading taxonomy %s", path)
	}
	tax, err := Parse(data)
	return tax, errors.Wrapf(err, "parsing taxonomy %s", path)
}

// Parse decodes and checks a YAML taxonomy.
func Parse(data []byte) (*Taxonomy, error) {
	var tax Taxonomy
	if err := yaml.Unmarshal(data, &tax); err != nil {
		return nil, err
	}
	tax.normalize()
	if err := tax.validate(); err != nil {
		return nil, err
	}
	return &tax, nil
}

func (t *Taxonomy) normalize() {
	lower := func(aliases []string) {
		for i, a := range aliases {
			aliases[i] = core.CleanString(a, true /* lower */)
		}
	}
	for i := range t.Grades {
		t.Grades[i].Code = strings.ToUpper(core.CleanString(t.Grades[i].Code))
		lower(t.Grades[i].Aliases)
	}
	for i := range t.Classes {
		lower(t.Classes[i].Aliases)
	}
	for i := range t.Subjects {
		t.Subjects[i].Code = strings.ToUpper(core.CleanString(t.Subjects[i].Code))
		lower(t.Subjects[i].Aliases)
	}
}

func (t *Taxonomy) validate() error {
	var fields []core.FieldError
	if len(t.Grades) == 0 {
		fields = append(fields, core.FieldError{Field: "grades", Error: "at least one grade is required"})
	}
	if len(t.Subjects) == 0 {
		fields = append(fields, core.FieldError{Field: "subjects", Error: "at least one subject is required"})
	}
	for _, g := range t.Grades {
		for _, name := range g.Classes {
			if _, ok := t.Class(name); !ok {
				fields = append(fields, core.FieldError{
					Field: "grades." + g.Code,
					Error: fmt.Sprintf("unknown class %q", name),
				})
			}
		}
	}
	if len(fields) > 0 {
		return core.NewValidationError(errors.New("invalid taxonomy"), fields...)
	}
	return nil
}

func (t *Taxonomy) Grade(code string) (Grade, bool) {
	for _, g := range t.Grades {
		if strings.EqualFold(g.Code, code) {
			return g, true
		}
	}
	return Grade{}, false
}

// HasClass reports whether class is one of grade's homeroom classes.
func (t *Taxonomy) HasClass(grade, class string) bool {
	g, ok := t.Grade(grade)
	if !ok {
		return false
	}
	for _, c := range g.Classes {
		if c == class {
			return true
		}
	}
	return false
}

func (t *Taxonomy) Class(name string) (Class, bool) {
	for _, c := range t.Classes {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return Class{}, false
}

func (t *Taxonomy) HasSubject(code string) bool {
	for _, s := range t.Subjects {
		if s.Code == code {
			return true
		}
	}
	return false
}

func (t *Taxonomy) GradeCodes() []string {
	codes := make([]string, len(t.Grades))
	for i, g := range t.Grades {
		codes[i] = g.Code
	}
	return codes
}

func (t *Taxonomy) SubjectCodes() []string {
	codes := make([]string, len(t.Subjects))
	for i, s := range t.Subjects {
		codes[i] = s.Code
	}
	return codes
}

// ExpectedCombinations lists every "<grade> <class>-<subject>" key the school should have a course for.
func (t *Taxonomy) ExpectedCombinations() []string {
	var combos []string
	for _, g := range t.Grades {
		for _, class := range g.Classes {
			for _, s := range t.Subjects {
				combos = append(combos, Key(CourseName(g.Code, class), s.Code))
			}
		}
	}
	return combos
}

// GradeGroup returns the head-teacher group a grade belongs to, "" when none does.
func (t *Taxonomy) GradeGroup(grade string) string {
	grade = strings.ToUpper(core.CleanString(grade))
	for _, grp := range t.Groups {
		for _, g := range grp.Grades {
			if g == grade {
				return grp.Name
			}
		}
	}
	return ""
}

// CourseName is the canonical "<grade> <class>" name, e.g. "G1 Achievers".
func CourseName(grade, class string) string {
	return grade + " " + class
}

// Key joins a course name and a subject, e.g. "G1 Achievers-LT".
func Key(courseName, subject string) string {
	return courseName + "-" + subject
}

// SplitKey is the reverse of Key.
func SplitKey(key string) (courseName, subject string) {
	idx := strings.LastIndex(key, "-")
	if idx < 0 {
		return key, ""
	}
	return key[:idx], key[idx+1:]
}

// ClassOf returns the class part of a canonical course name ("G1 Achievers" -> "Achievers").
func ClassOf(courseName string) string {
	parts := strings.SplitN(courseName, " ", 2)
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}
