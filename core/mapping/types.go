// Package mapping reconciles Classroom courses with the grade/class/subject taxonomy: it classifies
// course names, validates the resulting mappings, predicts missing ones and repairs what it can.
package mapping

import (
	"context"
	"time"

	"github.com/trezcool/gradebook/core/classroom"
	"github.com/trezcool/gradebook/core/taxonomy"
)

type (
	MatchType string
	Severity  string
	IssueType string
	Priority  string
)

const (
	MatchClassified MatchType = "AI_CLASSIFIED"
	MatchPredicted  MatchType = "AI_PREDICTED"
	MatchQuickFix   MatchType = "AI_QUICK_FIX"
	MatchAdvised    MatchType = "AI_ADVISED"
	MatchManual     MatchType = "MANUAL"

	SeverityError   Severity = "ERROR"
	SeverityWarning Severity = "WARNING"
	SeverityInfo    Severity = "INFO"

	IssueDuplicateCourseID    IssueType = "DUPLICATE_COURSE_ID"
	IssueDuplicateMapping     IssueType = "DUPLICATE_MAPPING"
	IssueInvalidGradeFormat   IssueType = "INVALID_GRADE_FORMAT"
	IssueInvalidSubjectFormat IssueType = "INVALID_SUBJECT_FORMAT"
	IssueMissingMapping       IssueType = "MISSING_MAPPING"
	IssueMissingFields        IssueType = "MISSING_REQUIRED_FIELDS"
	IssueInvalidIDFormat      IssueType = "INVALID_COURSE_ID_FORMAT"
	IssueLowCompleteness      IssueType = "LOW_COMPLETENESS"
	IssueInvalidCourseID      IssueType = "INVALID_COURSE_ID"

	PriorityHigh   Priority = "HIGH"
	PriorityMedium Priority = "MEDIUM"

	StatusActive  = "ACTIVE"
	StatusUnknown = "UNKNOWN"
)

type (
	// Mapping ties a Classroom course to a "<grade> <class>" course name and a subject.
	Mapping struct {
		CourseName   string    `json:"courseName" db:"course_name"`
		Subject      string    `json:"subject" db:"subject"`
		CourseID     string    `json:"courseId" db:"course_id"`
		OriginalName string    `json:"originalName,omitempty" db:"original_name"`
		Status       string    `json:"status" db:"status"`
		MatchType    MatchType `json:"matchType,omitempty" db:"match_type"`
		Score        int       `json:"score" db:"score"`
		Reason       string    `json:"reason,omitempty" db:"reason"`
		DiscoveredAt time.Time `json:"discoveredAt,omitempty" db:"discovered_at"`
		CleanedAt    time.Time `json:"cleanedAt,omitempty" db:"cleaned_at"`
	}

	Issue struct {
		Type     IssueType `json:"type"`
		Severity Severity  `json:"severity"`
		Index    *int      `json:"index,omitempty"` // position of the mapping concerned
		Message  string    `json:"message"`
		Mapping  *Mapping  `json:"data,omitempty"`
		Expected string    `json:"expectedMapping,omitempty"`
	}

	Recommendation struct {
		Priority    Priority `json:"priority"`
		Action      string   `json:"action"`
		Description string   `json:"description"`
	}

	Improvement struct {
		Type         string   `json:"type"`
		Description  string   `json:"description"`
		Confidence   float64  `json:"confidence,omitempty"`
		RemovedCount int      `json:"removedCount,omitempty"`
		Mapping      *Mapping `json:"data,omitempty"`
	}

	WriteOptions struct {
		ClearExisting  bool
		BackupExisting bool
	}

	WriteResult struct {
		Written  int    `json:"written"`
		BackupID string `json:"backupId,omitempty"`
	}

	// Store persists mappings (spreadsheet, database, memory).
	Store interface {
		Read(ctx context.Context) ([]Mapping, error)
		Write(ctx context.Context, mappings []Mapping, opts WriteOptions) (WriteResult, error)
	}

	// BackupLister is implemented by the stores that can list the backups they made, newest first.
	BackupLister interface {
		Backups(ctx context.Context) ([]string, error)
	}

	CourseSource interface {
		ListAllCourses(ctx context.Context, opts classroom.ListOptions) ([]classroom.Course, error)
	}

	// Suggestion is what an Advisor proposes for a course name the heuristics could not classify.
	Suggestion struct {
		Grade      string  `json:"grade"`
		Class      string  `json:"class"`
		Subject    string  `json:"subject"`
		Confidence float64 `json:"confidence"`
	}

	// Advisor is an external (LLM) classifier consulted as a last resort.
	Advisor interface {
		Suggest(ctx context.Context, courseName string, tax *taxonomy.Taxonomy) (Suggestion, error)
	}
)

func (m Mapping) Key() string {
	return taxonomy.Key(m.CourseName, m.Subject)
}

func index(i int) *int { return &i }

func countSeverities(issues []Issue) (errs, warnings, others int) {
	for _, issue := range issues {
		switch issue.Severity {
		case SeverityError:
			errs++
		case SeverityWarning:
			warnings++
		default:
			others++
		}
	}
	return
}
