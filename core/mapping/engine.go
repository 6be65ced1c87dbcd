package mapping

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/gradebook/core"
	"github.com/trezcool/gradebook/core/classroom"
	"github.com/trezcool/gradebook/core/taxonomy"
)

const (
	cleanThreshold   = 0.6
	quickFixMinMatch = 0.7
	maxSuggestions   = 5
)

type (
	RunOptions struct {
		Strategy     string `json:"strategy"`
		ForceRefresh bool   `json:"forceRefresh"`
		KeepExisting bool   `json:"keepExisting"` // append instead of replacing the stored mappings
		SkipBackup   bool   `json:"skipBackup"`
	}

	Performance struct {
		StartedAt        time.Time     `json:"startTime"`
		FinishedAt       time.Time     `json:"endTime"`
		Duration         time.Duration `json:"duration"`
		CoursesProcessed int           `json:"coursesProcessed"`
		MappingsCreated  int           `json:"mappingsCreated"`
	}

	RunSummary struct {
		TotalCourses       int `json:"totalCourses"`
		SuccessfulMappings int `json:"successfulMappings"`
		Improvements       int `json:"improvements"`
		DataQualityScore   int `json:"dataQualityScore"`
		CompletionRate     int `json:"completionRate"`
	}

	RunResult struct {
		Performance     Performance      `json:"performance"`
		Optimization    *Optimization    `json:"optimization"`
		Integrity       *IntegrityReport `json:"integrityCheck"`
		Write           WriteResult      `json:"update"`
		Summary         RunSummary       `json:"summary"`
		Recommendations []string         `json:"recommendations"`
	}

	SuggestedCourse struct {
		CourseName string `json:"courseName"`
		CourseID   string `json:"courseId"`
		MatchScore int    `json:"matchScore"`
		Reason     string `json:"reason"`
	}

	MissingSuggestion struct {
		Type         string            `json:"type"`
		Description  string            `json:"description"`
		Alternatives []SuggestedCourse `json:"alternatives"`
	}

	CleanLogEntry struct {
		Type       string `json:"type"`
		CourseID   string `json:"courseId"`
		Before     string `json:"before"`
		After      string `json:"after"`
		Confidence int    `json:"confidence"`
	}

	CleanStats struct {
		TotalProcessed      int `json:"totalProcessed"`
		TotalCleaned        int `json:"totalCleaned"`
		NameStandardized    int `json:"nameStandardized"`
		SubjectStandardized int `json:"subjectStandardized"`
	}

	CleanResult struct {
		Mappings   []Mapping       `json:"cleanedMappings"`
		Log        []CleanLogEntry `json:"cleaningLog"`
		Statistics CleanStats      `json:"statistics"`
		Write      WriteResult     `json:"updateResult"`
	}

	CompleteOptions struct {
		RunOptions
		SkipCleaning bool `json:"skipCleaning"`
	}

	Phase struct {
		Duration time.Duration `json:"duration"`
		Success  bool          `json:"success"`
		Error    string        `json:"error,omitempty"`
	}

	Phases struct {
		Discovery  *Phase `json:"discovery"`
		Cleanup    *Phase `json:"cleanup,omitempty"`
		Validation *Phase `json:"validation,omitempty"`
		Reporting  *Phase `json:"reporting,omitempty"`
	}

	WorkflowSummary struct {
		CoursesProcessed  int `json:"coursesProcessed"`
		MappingsCreated   int `json:"mappingsCreated"`
		CompletionRate    int `json:"completionRate"`
		DataQualityScore  int `json:"dataQualityScore"`
		TotalImprovements int `json:"totalImprovements"`
		PhasesCompleted   int `json:"phasesCompleted"`
	}

	Workflow struct {
		StartedAt       time.Time        `json:"startTime"`
		Duration        time.Duration    `json:"totalDuration"`
		Phases          Phases           `json:"phases"`
		Run             *RunResult       `json:"run,omitempty"`
		Clean           *CleanResult     `json:"clean,omitempty"`
		FinalIntegrity  *IntegrityReport `json:"finalValidation,omitempty"`
		Report          *Report          `json:"report,omitempty"`
		Summary         WorkflowSummary  `json:"summary"`
		Recommendations []string         `json:"recommendations"`
	}

	Fix struct {
		Type         string  `json:"type"`
		Description  string  `json:"description"`
		Before       string  `json:"before,omitempty"`
		After        string  `json:"after,omitempty"`
		Confidence   float64 `json:"confidence,omitempty"`
		RemovedCount int     `json:"removedCount,omitempty"`
	}

	QuickFixStats struct {
		IssuesProvided int     `json:"issuesProvided"`
		IssuesFixed    int     `json:"issuesFixed"`
		FixRate        float64 `json:"fixRate"`
	}

	QuickFixResult struct {
		Fixes      []Fix         `json:"fixes"`
		Statistics QuickFixStats `json:"statistics"`
		Write      *WriteResult  `json:"updateResult,omitempty"`
	}
)

// Engine drives the mapping workflows over a course source and a mapping store.
type Engine struct {
	courses   CourseSource
	store     Store
	tax       *taxonomy.Taxonomy
	optimizer *Optimizer
	checker   *IntegrityChecker
	predictor *Predictor
	logger    core.Logger
	now       func() time.Time
}

func NewEngine(courses CourseSource, store Store, optimizer *Optimizer, logger core.Logger) *Engine {
	return &Engine{
		courses:   courses,
		store:     store,
		tax:       optimizer.tax,
		optimizer: optimizer,
		checker:   NewIntegrityChecker(optimizer.tax, logger),
		predictor: optimizer.predictor,
		logger:    logger,
		now:       optimizer.now,
	}
}

func (e *Engine) Taxonomy() *taxonomy.Taxonomy { return e.tax }

// Run fetches every course, builds the mappings, checks them and replaces the stored ones.
func (e *Engine) Run(ctx context.Context, opts RunOptions) (*RunResult, error) {
	start := e.now()
	strategy, err := StrategyByName(opts.Strategy)
	if err != nil {
		return nil, err
	}

	courses, err := e.courses.ListAllCourses(ctx, classroom.ListOptions{ForceRefresh: opts.ForceRefresh})
	if err != nil {
		return nil, errors.Wrap(err, "fetching courses")
	}
	e.logger.Info(fmt.Sprintf("mapping: fetched %d courses", len(courses)))

	opt, err := e.optimizer.Optimize(ctx, courses, strategy)
	if err != nil {
		return nil, errors.Wrap(err, "optimizing mappings")
	}
	integrity := e.checker.Check(opt.Mappings, courses)

	written, err := e.store.Write(ctx, opt.Mappings, WriteOptions{
		ClearExisting:  !opts.KeepExisting,
		BackupExisting: !opts.SkipBackup,
	})
	if err != nil {
		return nil, errors.Wrap(err, "writing mappings")
	}

	end := e.now()
	res := &RunResult{
		Performance: Performance{
			StartedAt:        start,
			FinishedAt:       end,
			Duration:         end.Sub(start),
			CoursesProcessed: len(courses),
			MappingsCreated:  len(opt.Mappings),
		},
		Optimization: opt,
		Integrity:    integrity,
		Write:        written,
		Summary: RunSummary{
			TotalCourses:       len(courses),
			SuccessfulMappings: len(opt.Mappings),
			Improvements:       len(opt.Improvements),
			DataQualityScore:   integrity.Overall.Score,
			CompletionRate:     e.completionRate(len(opt.Mappings)),
		},
	}
	for _, imp := range opt.Improvements {
		res.Recommendations = append(res.Recommendations, imp.Description)
	}
	res.Recommendations = append(res.Recommendations, integrity.Recommendations...)

	e.logger.Info(fmt.Sprintf("mapping: run done in %s, completion %d%%, quality %d/100, %d improvements",
		res.Performance.Duration, res.Summary.CompletionRate, res.Summary.DataQualityScore, res.Summary.Improvements))
	return res, nil
}

func (e *Engine) completionRate(mappings int) int {
	expected := math.Max(1, float64(len(e.tax.ExpectedCombinations())))
	return int(math.Round(float64(mappings) / expected * 100))
}

// Integrity checks the stored mappings against the live courses.
func (e *Engine) Integrity(ctx context.Context) (*IntegrityReport, error) {
	courses, err := e.courses.ListAllCourses(ctx, classroom.ListOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "fetching courses")
	}
	mappings, err := e.store.Read(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "reading mappings")
	}
	return e.checker.Check(mappings, courses), nil
}

// ErrNoBackupList is returned by Backups when the store cannot list its backups.
var ErrNoBackupList = errors.New("mapping store cannot list backups")

// Backups lists the ids of the backups made before overwriting the stored mappings, newest first.
func (e *Engine) Backups(ctx context.Context) ([]string, error) {
	lister, ok := e.store.(BackupLister)
	if !ok {
		return nil, ErrNoBackupList
	}
	ids, err := lister.Backups(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "listing backups")
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

// Validate runs the validator over the stored mappings.
func (e *Engine) Validate(ctx context.Context) (Validation, error) {
	mappings, err := e.store.Read(ctx)
	if err != nil {
		return Validation{}, errors.Wrap(err, "reading mappings")
	}
	return e.optimizer.validator.Validate(mappings), nil
}

// MissingSuggestions lists up to five courses that could stand in for "<className>-<subject>".
func (e *Engine) MissingSuggestions(ctx context.Context, className, subject string) ([]MissingSuggestion, error) {
	courses, err := e.courses.ListAllCourses(ctx, classroom.ListOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "fetching courses")
	}

	pred := e.predictor.PredictAlternatives(className, subject, courses, maxSuggestions)
	if len(pred.Alternatives) == 0 {
		return nil, nil
	}
	sug := MissingSuggestion{
		Type:        "ALTERNATIVE_COURSES",
		Description: fmt.Sprintf("found %d possible alternative courses", len(pred.Alternatives)),
	}
	for _, alt := range pred.Alternatives {
		sug.Alternatives = append(sug.Alternatives, SuggestedCourse{
			CourseName: alt.Course.Name,
			CourseID:   alt.Course.ID,
			MatchScore: int(math.Round(alt.MatchScore * 100)),
			Reason:     alt.Reason,
		})
	}
	return []MissingSuggestion{sug}, nil
}

// CleanAndStandardize re-analyses every stored mapping and rewrites names and subjects to their
// canonical form.
func (e *Engine) CleanAndStandardize(ctx context.Context) (*CleanResult, error) {
	mappings, err := e.store.Read(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "reading mappings")
	}

	classifier := NewClassifier(e.tax)
	res := &CleanResult{Statistics: CleanStats{TotalProcessed: len(mappings)}}
	for _, m := range mappings {
		modified := false
		name := m.OriginalName
		if name == "" {
			name = m.CourseName
		}

		if cls, err := classifier.Analyze(name, cleanThreshold); err == nil && cls.Success {
			if std := taxonomy.CourseName(cls.Grade, cls.Class); m.CourseName != std {
				res.Log = append(res.Log, CleanLogEntry{
					Type:       "NAME_STANDARDIZED",
					CourseID:   m.CourseID,
					Before:     m.CourseName,
					After:      std,
					Confidence: int(math.Round(cls.Confidence.Overall * 100)),
				})
				m.CourseName = std
				modified = true
				res.Statistics.NameStandardized++
			}
			if m.Subject != cls.Subject {
				res.Log = append(res.Log, CleanLogEntry{
					Type:       "SUBJECT_STANDARDIZED",
					CourseID:   m.CourseID,
					Before:     m.Subject,
					After:      cls.Subject,
					Confidence: int(math.Round(cls.Confidence.Subject * 100)),
				})
				m.Subject = cls.Subject
				modified = true
				res.Statistics.SubjectStandardized++
			}
		}

		if m.Status == "" || m.Status == StatusUnknown {
			m.Status = StatusActive
			modified = true
		}
		if modified {
			m.CleanedAt = e.now()
		}
		res.Mappings = append(res.Mappings, m)
	}
	res.Statistics.TotalCleaned = len(res.Log)

	e.logger.Info(fmt.Sprintf("mapping: writing %d cleaned mappings", len(res.Mappings)))
	if res.Write, err = e.store.Write(ctx, res.Mappings, WriteOptions{ClearExisting: true, BackupExisting: true}); err != nil {
		return nil, errors.Wrap(err, "writing cleaned mappings")
	}
	e.logger.Info(fmt.Sprintf("mapping: cleaned %d/%d mappings (%d names, %d subjects)",
		res.Statistics.TotalCleaned, res.Statistics.TotalProcessed,
		res.Statistics.NameStandardized, res.Statistics.SubjectStandardized))
	return res, nil
}

// ExecuteComplete chains Run, an optional cleanup, a final integrity check and the report.
// Only a failed run aborts the workflow.
func (e *Engine) ExecuteComplete(ctx context.Context, opts CompleteOptions) (*Workflow, error) {
	wf := &Workflow{StartedAt: e.now()}

	phaseStart := e.now()
	run, err := e.Run(ctx, opts.RunOptions)
	wf.Phases.Discovery = e.phase(phaseStart, err)
	if err != nil {
		wf.Duration = e.now().Sub(wf.StartedAt)
		return wf, errors.Wrap(err, "mapping phase")
	}
	wf.Run = run

	if !opts.SkipCleaning {
		phaseStart = e.now()
		wf.Clean, err = e.CleanAndStandardize(ctx)
		wf.Phases.Cleanup = e.phase(phaseStart, err)
		if err != nil {
			e.logger.Warn(fmt.Sprintf("mapping: cleanup failed: %v", err), err)
		}
	}

	phaseStart = e.now()
	wf.FinalIntegrity, err = e.Integrity(ctx)
	wf.Phases.Validation = e.phase(phaseStart, err)
	if err != nil {
		e.logger.Warn(fmt.Sprintf("mapping: final validation failed: %v", err), err)
	}

	phaseStart = e.now()
	wf.Report, err = e.Report(run)
	wf.Phases.Reporting = e.phase(phaseStart, err)

	wf.Duration = e.now().Sub(wf.StartedAt)
	wf.Summary = WorkflowSummary{
		CoursesProcessed:  run.Summary.TotalCourses,
		MappingsCreated:   run.Summary.SuccessfulMappings,
		CompletionRate:    run.Summary.CompletionRate,
		TotalImprovements: run.Summary.Improvements,
	}
	wf.Recommendations = append(wf.Recommendations, run.Recommendations...)
	if wf.FinalIntegrity != nil {
		wf.Summary.DataQualityScore = wf.FinalIntegrity.Overall.Score
		wf.Recommendations = append(wf.Recommendations, wf.FinalIntegrity.Recommendations...)
	}
	for _, p := range []*Phase{wf.Phases.Discovery, wf.Phases.Cleanup, wf.Phases.Validation, wf.Phases.Reporting} {
		if p != nil && p.Success {
			wf.Summary.PhasesCompleted++
		}
	}

	e.logger.Info(fmt.Sprintf("mapping: workflow done in %s, %d phases completed", wf.Duration, wf.Summary.PhasesCompleted))
	return wf, nil
}

func (e *Engine) phase(start time.Time, err error) *Phase {
	p := &Phase{Duration: e.now().Sub(start), Success: err == nil}
	if err != nil {
		p.Error = err.Error()
	}
	return p
}

// QuickFix repairs the given issues on the stored mappings: duplicated course ids, invalid
// subjects and missing mappings that a course matches confidently.
func (e *Engine) QuickFix(ctx context.Context, issues []Issue) (*QuickFixResult, error) {
	mappings, err := e.store.Read(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "reading mappings")
	}

	var (
		res        = &QuickFixResult{}
		modified   int
		classifier = NewClassifier(e.tax)
		courses    []classroom.Course
		coursesErr error
		fetched    bool
	)
	allCourses := func() ([]classroom.Course, error) {
		if !fetched {
			courses, coursesErr = e.courses.ListAllCourses(ctx, classroom.ListOptions{})
			fetched = true
		}
		return courses, coursesErr
	}

	for _, issue := range issues {
		fixed := false

		switch issue.Type {
		case IssueDuplicateCourseID:
			if issue.Mapping == nil {
				break
			}
			var imp *Improvement
			if mappings, imp = ResolveDuplicateCourseID(mappings, issue.Mapping.CourseID); imp != nil {
				res.Fixes = append(res.Fixes, Fix{Type: imp.Type, Description: imp.Description, RemovedCount: imp.RemovedCount})
				fixed = true
			}

		case IssueInvalidSubjectFormat:
			if issue.Index == nil || *issue.Index < 0 || *issue.Index >= len(mappings) {
				break
			}
			m := &mappings[*issue.Index]
			name := m.OriginalName
			if name == "" {
				name = m.CourseName
			}
			cls, err := classifier.Analyze(name, DefaultThreshold)
			if err != nil || !cls.Success {
				break
			}
			res.Fixes = append(res.Fixes, Fix{
				Type:        "SUBJECT_FORMAT_FIXED",
				Description: fmt.Sprintf("fixed subject of %s -> %s", m.CourseName, cls.Subject),
				Before:      m.Subject,
				After:       cls.Subject,
			})
			m.Subject = cls.Subject
			fixed = true

		case IssueMissingMapping:
			if issue.Expected == "" {
				break
			}
			available, err := allCourses()
			if err != nil {
				res.Fixes = append(res.Fixes, Fix{
					Type:        "FIX_ERROR",
					Description: fmt.Sprintf("%s: %v", issue.Type, err),
				})
				break
			}
			className, subject := taxonomy.SplitKey(issue.Expected)
			pred := e.predictor.PredictAlternatives(className, subject, available, 1)
			if len(pred.Alternatives) == 0 || pred.Alternatives[0].MatchScore <= quickFixMinMatch {
				break
			}
			best := pred.Alternatives[0]
			mappings = append(mappings, Mapping{
				CourseName:   className,
				Subject:      subject,
				CourseID:     best.Course.ID,
				OriginalName: best.Course.Name,
				Status:       StatusActive,
				MatchType:    MatchQuickFix,
				Score:        int(math.Round(best.MatchScore * 100)),
				Reason:       best.Reason,
				DiscoveredAt: e.now(),
			})
			res.Fixes = append(res.Fixes, Fix{
				Type:        "MISSING_MAPPING_FILLED",
				Description: fmt.Sprintf("filled %s -> %s", issue.Expected, best.Course.Name),
				Confidence:  best.MatchScore,
			})
			fixed = true
		}

		if fixed {
			modified++
		}
	}

	if modified > 0 {
		written, err := e.store.Write(ctx, mappings, WriteOptions{ClearExisting: true})
		if err != nil {
			return nil, errors.Wrap(err, "writing fixed mappings")
		}
		res.Write = &written
	}
	res.Statistics = QuickFixStats{
		IssuesProvided: len(issues),
		IssuesFixed:    modified,
		FixRate:        float64(modified) / math.Max(1, float64(len(issues))),
	}
	e.logger.Info(fmt.Sprintf("mapping: quick fix repaired %d/%d issues", modified, len(issues)))
	return res, nil
}
