// Package classroom manages Google Classroom courses and rosters. Every API call goes through the
// rate limiter and is retried according to the API error rules.
package classroom

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/trezcool/gradebook/core"
	"github.com/trezcool/gradebook/core/apierror"
	"github.com/trezcool/gradebook/core/progress"
	"github.com/trezcool/gradebook/core/ratelimit"
)

const (
	allCoursesKey = "all_courses"
	membersPrefix = "members_"
)

var (
	ErrEmptyUpdate   = errors.New("nothing to update")
	ErrInvalidRole   = errors.New("invalid role")
	ErrMissingMember = errors.New("missing course id or user email")
)

type (
	Options struct {
		OwnerID     string
		PageSize    int64
		MaxAttempts int
		CacheTTL    time.Duration
		Domains     []string // allowed user domains, checked before adding members
	}

	ListOptions struct {
		ForceRefresh bool
	}

	BatchOptions struct {
		// Cancelled is polled after each item; returning true aborts the batch.
		Cancelled func() bool
	}

	CourseResult struct {
		Name     string  `json:"name"`
		Success  bool    `json:"success"`
		CourseID string  `json:"courseId,omitempty"`
		Course   *Course `json:"course,omitempty"`
		Error    string  `json:"error,omitempty"`
	}

	CoursesBatch struct {
		Success bool             `json:"success"`
		Results []CourseResult   `json:"results"`
		Summary progress.Summary `json:"summary"`
	}

	MemberResult struct {
		CourseID string `json:"courseId"`
		Email    string `json:"userEmail"`
		Role     Role   `json:"role"`
		Success  bool   `json:"success"`
		Error    string `json:"error,omitempty"`
	}

	MembersBatch struct {
		Success bool             `json:"success"`
		Results []MemberResult   `json:"results"`
		Summary progress.Summary `json:"summary"`
	}

	Status struct {
		CacheSize   int              `json:"cacheSize"`
		RateLimiter ratelimit.Status `json:"rateLimiter"`
	}

	cacheEntry struct {
		data     interface{}
		storedAt time.Time
	}
)

func OptionsFromConfig(conf *core.Config) Options {
	return Options{
		OwnerID:     conf.Classroom.OwnerID,
		PageSize:    conf.Classroom.PageSize,
		MaxAttempts: conf.Retry.MaxAttempts,
		CacheTTL:    conf.Cache.TTL,
		Domains:     apierror.AllowedDomains(conf.Classroom.Domains, conf.Classroom.Subject),
	}
}

type Service struct {
	api      API
	limiter  *ratelimit.Limiter
	errs     *apierror.Handler
	logger   core.Logger
	notifier progress.Notifier
	opts     Options

	mu    sync.Mutex
	cache map[string]cacheEntry
	group singleflight.Group
	now   func() time.Time
}

func NewService(api API, limiter *ratelimit.Limiter, errs *apierror.Handler, logger core.Logger, notifier progress.Notifier, opts Options) *Service {
	if opts.OwnerID == "" {
		opts.OwnerID = "me"
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 50
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if notifier == nil {
		notifier = progress.NopNotifier{}
	}
	return &Service{
		api:      api,
		limiter:  limiter,
		errs:     errs,
		logger:   logger,
		notifier: notifier,
		opts:     opts,
		cache:    make(map[string]cacheEntry),
		now:      time.Now,
	}
}

// call runs fn through the rate limiter, retrying transient failures.
func call[T any](ctx context.Context, svc *Service, operation string, fn func(ctx context.Context) (T, error)) (T, error) {
	return apierror.ExecuteWithRetry(ctx, svc.errs, operation, svc.opts.MaxAttempts, func(ctx context.Context) (T, error) {
		var res T
		err := svc.limiter.Execute(ctx, operation, func(ctx context.Context) error {
			var err error
			res, err = fn(ctx)
			return err
		})
		return res, err
	})
}

func (svc *Service) tracker(total int, operation string) *progress.Tracker {
	return progress.New(total, operation, progress.WithLogger(svc.logger), progress.WithNotifier(svc.notifier))
}

// ListAllCourses returns every active course, reading all pages. Concurrent callers share one load,
// which keeps running when the caller that started it goes away.
func (svc *Service) ListAllCourses(ctx context.Context, opts ListOptions) ([]Course, error) {
	if !opts.ForceRefresh {
		if data, ok := svc.cached(allCoursesKey); ok {
			svc.logger.Debug("classroom: using cached course list")
			return data.([]Course), nil
		}
	}

	loadCtx := context.WithoutCancel(ctx)
	ch := svc.group.DoChan(allCoursesKey, func() (interface{}, error) {
		ctx := loadCtx
		var (
			courses   []Course
			pageToken string
		)
		for {
			page, err := call(ctx, svc, "List courses", func(ctx context.Context) (CoursePage, error) {
				return svc.api.ListCourses(ctx, []CourseState{StateActive}, svc.opts.PageSize, pageToken)
			})
			if err != nil {
				return nil, err
			}
			courses = append(courses, page.Courses...)
			svc.logger.Debug(fmt.Sprintf("classroom: loaded %d courses", len(courses)))
			if pageToken = page.NextPageToken; pageToken == "" {
				break
			}
		}
		svc.store(allCoursesKey, courses)
		svc.logger.Info(fmt.Sprintf("classroom: %d active courses loaded", len(courses)))
		return courses, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]Course), nil
	}
}

// GetCourseMembers returns the teachers and students of a course. A side that cannot be listed is
// returned empty.
func (svc *Service) GetCourseMembers(ctx context.Context, courseID string) (Members, error) {
	key := membersPrefix + courseID
	if data, ok := svc.cached(key); ok {
		return data.(Members), nil
	}

	var (
		members Members
		g       errgroup.Group
	)
	g.Go(func() error {
		teachers, err := svc.GetCourseTeachers(ctx, courseID)
		if err != nil {
			svc.logger.Warn("classroom: listing teachers of "+courseID, err)
		}
		members.Teachers = teachers
		return nil
	})
	g.Go(func() error {
		students, err := svc.GetCourseStudents(ctx, courseID)
		if err != nil {
			svc.logger.Warn("classroom: listing students of "+courseID, err)
		}
		members.Students = students
		return nil
	})
	_ = g.Wait()

	if members.Teachers == nil {
		members.Teachers = []Member{}
	}
	if members.Students == nil {
		members.Students = []Member{}
	}
	svc.store(key, members)
	return members, nil
}

func (svc *Service) GetCourseTeachers(ctx context.Context, courseID string) ([]Member, error) {
	return svc.listMembers(ctx, "List teachers of course "+courseID, func(ctx context.Context, pageToken string) (MemberPage, error) {
		return svc.api.ListTeachers(ctx, courseID, svc.opts.PageSize, pageToken)
	})
}

func (svc *Service) GetCourseStudents(ctx context.Context, courseID string) ([]Member, error) {
	return svc.listMembers(ctx, "List students of course "+courseID, func(ctx context.Context, pageToken string) (MemberPage, error) {
		return svc.api.ListStudents(ctx, courseID, svc.opts.PageSize, pageToken)
	})
}

// listMembers reads every page, each page being one rate limited call.
func (svc *Service) listMembers(ctx context.Context, operation string, list func(ctx context.Context, pageToken string) (MemberPage, error)) ([]Member, error) {
	var (
		members   []Member
		pageToken string
	)
	for {
		page, err := call(ctx, svc, operation, func(ctx context.Context) (MemberPage, error) {
			return list(ctx, pageToken)
		})
		if err != nil {
			return nil, err
		}
		members = append(members, page.Members...)
		if pageToken = page.NextPageToken; pageToken == "" {
			return members, nil
		}
	}
}

// CreateCoursesBatch creates one course per name, owned by ownerID ("" means the default owner).
func (svc *Service) CreateCoursesBatch(ctx context.Context, names []string, ownerID string, opts BatchOptions) (*CoursesBatch, error) {
	if ownerID == "" {
		ownerID = svc.opts.OwnerID
	}
	if err := apierror.ValidateRequired(map[string]interface{}{"courseNames": names, "ownerId": ownerID}, "courseNames", "ownerId"); err != nil {
		return nil, err
	}

	tracker := svc.tracker(len(names), "Create courses")
	batch := &CoursesBatch{Results: make([]CourseResult, 0, len(names))}
	aborted := false

	for _, name := range names {
		course, err := svc.CreateSingleCourse(ctx, name, ownerID)
		if err != nil {
			tracker.AddError(name, err, "")
			batch.Results = append(batch.Results, CourseResult{Name: name, Error: userMessage(err)})
		} else {
			tracker.AddSuccess(name, "course id: "+course.ID)
			c := course
			batch.Results = append(batch.Results, CourseResult{Name: name, Success: true, CourseID: course.ID, Course: &c})
		}

		if reason := cancelled(ctx, opts); reason != "" {
			batch.Summary = tracker.Abort(reason)
			aborted = true
			break
		}
	}

	if !aborted {
		batch.Summary = tracker.Complete()
	}
	batch.Success = batch.Summary.Statistics.Failed == 0 && !aborted
	return batch, nil
}

func cancelled(ctx context.Context, opts BatchOptions) string {
	if ctx.Err() != nil {
		return "context cancelled"
	}
	if opts.Cancelled != nil && opts.Cancelled() {
		return "cancelled by user"
	}
	return ""
}

func userMessage(err error) string {
	var failure *apierror.Failure
	if errors.As(err, &failure) {
		return failure.UserMessage
	}
	return err.Error()
}

func (svc *Service) CreateSingleCourse(ctx context.Context, name, ownerID string) (Course, error) {
	if ownerID == "" {
		ownerID = svc.opts.OwnerID
	}
	course, err := call(ctx, svc, "Create course "+name, func(ctx context.Context) (Course, error) {
		return svc.api.CreateCourse(ctx, Course{Name: name, OwnerID: ownerID, State: StateActive})
	})
	if err != nil {
		return Course{}, err
	}
	svc.invalidate(allCoursesKey)
	svc.logger.Info(fmt.Sprintf("classroom: course %s created (id: %s)", name, course.ID))
	return course, nil
}

// AddMembersBatch adds members with the given role. Entries missing a course id or an email are
// recorded as errors and skipped.
func (svc *Service) AddMembersBatch(ctx context.Context, members []NewMember, role Role) (*MembersBatch, error) {
	if err := apierror.ValidateRequired(map[string]interface{}{"members": members, "role": string(role)}, "members", "role"); err != nil {
		return nil, err
	}
	if !role.Valid() {
		return nil, core.NewValidationError(ErrInvalidRole, core.FieldError{Field: "role", Error: ErrInvalidRole.Error()})
	}

	tracker := svc.tracker(len(members), "Add "+role.Label()+"s")
	batch := &MembersBatch{Results: make([]MemberResult, 0, len(members))}

	for _, m := range members {
		if m.CourseID == "" || m.Email == "" {
			item := m.Email
			if item == "" {
				item = "unknown"
			}
			tracker.AddError(item, ErrMissingMember, "")
			continue
		}

		item := fmt.Sprintf("%s -> course %s", m.Email, m.CourseID)
		res := MemberResult{CourseID: m.CourseID, Email: m.Email, Role: role}
		if _, err := svc.AddSingleMember(ctx, m.CourseID, m.Email, role); err != nil {
			tracker.AddError(item, err, "")
			res.Error = userMessage(err)
		} else {
			tracker.AddSuccess(item, "")
			res.Success = true
		}
		batch.Results = append(batch.Results, res)
	}

	batch.Summary = tracker.Complete()
	batch.Success = batch.Summary.Statistics.Failed == 0
	return batch, nil
}

func (svc *Service) AddSingleMember(ctx context.Context, courseID, email string, role Role) (Member, error) {
	if chk := apierror.ValidateUserAddition(email, courseID, svc.opts.Domains); !chk.Valid {
		for _, f := range chk.Failed {
			svc.logger.Warn(fmt.Sprintf("classroom: pre-check %s failed for %s in %s: %s", f.Type, email, courseID, f.Message))
		}
	}

	op := fmt.Sprintf("Add %s %s to course %s", role.Label(), email, courseID)
	member, err := call(ctx, svc, op, func(ctx context.Context) (Member, error) {
		if role == RoleTeacher {
			return svc.api.AddTeacher(ctx, courseID, email)
		}
		return svc.api.AddStudent(ctx, courseID, email)
	})
	if err != nil {
		return Member{}, err
	}
	svc.invalidate(membersPrefix + courseID)
	return member, nil
}

func (svc *Service) AddTeacherIfNotExists(ctx context.Context, courseID, email string) (AddStatus, error) {
	return svc.addIfNotExists(ctx, courseID, email, RoleTeacher)
}

func (svc *Service) AddStudentIfNotExists(ctx context.Context, courseID, email string) (AddStatus, error) {
	return svc.addIfNotExists(ctx, courseID, email, RoleStudent)
}

func (svc *Service) addIfNotExists(ctx context.Context, courseID, email string, role Role) (AddStatus, error) {
	list := svc.GetCourseStudents
	if role == RoleTeacher {
		list = svc.GetCourseTeachers
	}
	members, err := list(ctx, courseID)
	if err != nil {
		return "", errors.Wrapf(err, "listing %ss of course %s", role.Label(), courseID)
	}

	for _, m := range members {
		if m.Email != "" && strings.EqualFold(m.Email, email) {
			svc.logger.Info(fmt.Sprintf("classroom: %s %s already in course %s", role.Label(), email, courseID))
			return StatusAlreadyExists, nil
		}
	}

	if _, err := svc.AddSingleMember(ctx, courseID, email, role); err != nil {
		return "", err
	}
	return StatusAdded, nil
}

func (svc *Service) UpdateCourse(ctx context.Context, courseID string, upd Update) (Course, error) {
	if len(upd.Fields()) == 0 {
		return Course{}, core.NewValidationError(ErrEmptyUpdate)
	}
	course, err := call(ctx, svc, "Update course "+courseID, func(ctx context.Context) (Course, error) {
		return svc.api.PatchCourse(ctx, courseID, upd)
	})
	if err != nil {
		return Course{}, err
	}
	svc.invalidate(allCoursesKey, membersPrefix+courseID)
	return course, nil
}

func (svc *Service) ArchiveCourse(ctx context.Context, courseID string) (Course, error) {
	return svc.UpdateCourse(ctx, courseID, Update{State: StateArchived})
}

// RemoveMember removes a student from a course.
func (svc *Service) RemoveMember(ctx context.Context, courseID, email string) error {
	_, err := call(ctx, svc, fmt.Sprintf("Remove student %s from course %s", email, courseID), func(ctx context.Context) (struct{}, error) {
		return struct{}{}, svc.api.RemoveStudent(ctx, courseID, email)
	})
	if err != nil {
		return err
	}
	svc.invalidate(membersPrefix + courseID)
	return nil
}

// Cache

func (svc *Service) cached(key string) (interface{}, bool) {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	entry, ok := svc.cache[key]
	if !ok || svc.now().Sub(entry.storedAt) >= svc.opts.CacheTTL {
		return nil, false
	}
	return entry.data, true
}

func (svc *Service) store(key string, data interface{}) {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	svc.cache[key] = cacheEntry{data: data, storedAt: svc.now()}
}

func (svc *Service) invalidate(keys ...string) {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	for _, key := range keys {
		delete(svc.cache, key)
	}
}

func (svc *Service) ClearCache() {
	svc.mu.Lock()
	svc.cache = make(map[string]cacheEntry)
	svc.mu.Unlock()
	svc.logger.Info("classroom: cache cleared")
}

// ClearCacheByPattern drops the entries whose key contains pattern.
func (svc *Service) ClearCacheByPattern(pattern string) {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	for key := range svc.cache {
		if strings.Contains(key, pattern) {
			delete(svc.cache, key)
		}
	}
}

func (svc *Service) Status() Status {
	svc.mu.Lock()
	size := len(svc.cache)
	svc.mu.Unlock()
	return Status{CacheSize: size, RateLimiter: svc.limiter.Status()}
}
