// Package geminisvc asks Gemini to classify the course names the mapping heuristics give up on.
package geminisvc

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"google.golang.org/genai"

	"github.com/trezcool/gradebook/core"
	"github.com/trezcool/gradebook/core/mapping"
	"github.com/trezcool/gradebook/core/taxonomy"
)

const DefaultModel = "gemini-2.5-flash"

var (
	ErrMissingAPIKey = errors.New("gemini api key is required")
	ErrNoAnswer      = errors.New("gemini returned no answer")
)

var suggestionSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"grade":      {Type: genai.TypeString, Description: "grade code, e.g. G1"},
		"class":      {Type: genai.TypeString, Description: "homeroom class name, e.g. Achievers"},
		"subject":    {Type: genai.TypeString, Description: "subject code, e.g. LT"},
		"confidence": {Type: genai.TypeNumber, Description: "between 0 and 1"},
	},
	Required: []string{"grade", "class", "subject", "confidence"},
}

type Advisor struct {
	generate func(ctx context.Context, prompt string) (string, error)
	logger   core.Logger
}

var _ mapping.Advisor = (*Advisor)(nil)

func NewAdvisor(ctx context.Context, conf core.GeminiConfig, logger core.Logger) (*Advisor, error) {
	return newAdvisor(ctx, conf, nil, logger)
}

func newAdvisor(ctx context.Context, conf core.GeminiConfig, httpOpts *genai.HTTPOptions, logger core.Logger) (*Advisor, error) {
	if conf.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	model := conf.Model
	if model == "" {
		model = DefaultModel
	}

	cc := &genai.ClientConfig{APIKey: conf.APIKey, Backend: genai.BackendGeminiAPI}
	if httpOpts != nil {
		cc.HTTPOptions = *httpOpts
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, errors.Wrap(err, "creating gemini client")
	}

	genConf := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr[float32](0),
		ResponseMIMEType: "application/json",
		ResponseSchema:   suggestionSchema,
	}
	return &Advisor{
		generate: func(ctx context.Context, prompt string) (string, error) {
			resp, err := client.Models.GenerateContent(ctx, model, genai.Text(prompt), genConf)
			if err != nil {
				return "", err
			}
			return resp.Text(), nil
		},
		logger: logger,
	}, nil
}

// Suggest returns Gemini's guess. The answer is not checked against the taxonomy here.
func (a *Advisor) Suggest(ctx context.Context, courseName string, tax *taxonomy.Taxonomy) (mapping.Suggestion, error) {
	text, err := a.generate(ctx, Prompt(courseName, tax))
	if err != nil {
		return mapping.Suggestion{}, errors.Wrap(err, "asking gemini")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return mapping.Suggestion{}, ErrNoAnswer
	}

	var sug mapping.Suggestion
	if err := json.Unmarshal([]byte(text), &sug); err != nil {
		return mapping.Suggestion{}, errors.Wrapf(err, "decoding gemini answer %q", text)
	}
	sug.Grade = strings.ToUpper(strings.TrimSpace(sug.Grade))
	sug.Class = strings.TrimSpace(sug.Class)
	sug.Subject = strings.ToUpper(strings.TrimSpace(sug.Subject))
	a.logger.Debug(fmt.Sprintf("gemini: %q -> %s %s-%s (%.2f)", courseName, sug.Grade, sug.Class, sug.Subject, sug.Confidence))
	return sug, nil
}

// Prompt describes the taxonomy and asks for the classification of one course name.
func Prompt(courseName string, tax *taxonomy.Taxonomy) string {
	var sb strings.Builder
	sb.WriteString("You classify Google Classroom course names of an elementary school.\n")
	sb.WriteString("Every course belongs to one grade, one homeroom class of that grade and one subject.\n\n")
	sb.WriteString("Grades and their classes:\n")
	for _, g := range tax.Grades {
		fmt.Fprintf(&sb, "- %s: %s\n", g.Code, strings.Join(g.Classes, ", "))
	}
	sb.WriteString("\nSubjects:\n")
	for _, s := range tax.Subjects {
		fmt.Fprintf(&sb, "- %s (%s)\n", s.Code, strings.Join(s.Aliases, ", "))
	}
	sb.WriteString("\nAnswer with the grade code, the class name and the subject code exactly as listed, ")
	sb.WriteString("and your confidence between 0 and 1. Use a low confidence when the name does not fit.\n\n")
	fmt.Fprintf(&sb, "Course name: %q\n", courseName)
	return sb.String()
}
