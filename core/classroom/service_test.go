package classroom

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/gradebook/core"
	"github.com/trezcool/gradebook/core/apierror"
	"github.com/trezcool/gradebook/core/ratelimit"
)

type fakeAPI struct {
	mu       sync.Mutex
	courses  []Course
	teachers map[string][]Member
	students map[string][]Member
	calls    map[string]int
	pageSize int
	failOn   map[string]error // method -> error
	nextID   int
	onList   func()
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		teachers: make(map[string][]Member),
		students: make(map[string][]Member),
		calls:    make(map[string]int),
		failOn:   make(map[string]error),
		nextID:   1000000000,
	}
}

func (f *fakeAPI) hit(method string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[method]++
	return f.failOn[method]
}

func (f *fakeAPI) count(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *fakeAPI) ListCourses(ctx context.Context, _ []CourseState, pageSize int64, pageToken string) (CoursePage, error) {
	if err := f.hit("ListCourses"); err != nil {
		return CoursePage{}, err
	}
	if f.onList != nil {
		f.onList()
	}
	if err := ctx.Err(); err != nil {
		return CoursePage{}, err
	}
	size := int(pageSize)
	if f.pageSize > 0 {
		size = f.pageSize
	}
	start := 0
	if pageToken != "" {
		_, _ = fmt.Sscanf(pageToken, "%d", &start)
	}
	end := min(start+size, len(f.courses))
	page := CoursePage{Courses: f.courses[start:end]}
	if end < len(f.courses) {
		page.NextPageToken = fmt.Sprint(end)
	}
	return page, nil
}

func (f *fakeAPI) CreateCourse(_ context.Context, c Course) (Course, error) {
	if err := f.hit("CreateCourse"); err != nil {
		return Course{}, err
	}
	if strings.Contains(c.Name, "forbidden") {
		return Course{}, errors.New("403 The caller does not have permission")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	c.ID = fmt.Sprint(f.nextID)
	f.courses = append(f.courses, c)
	return c, nil
}

func (f *fakeAPI) PatchCourse(_ context.Context, id string, upd Update) (Course, error) {
	if err := f.hit("PatchCourse"); err != nil {
		return Course{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, c := range f.courses {
		if c.ID == id {
			if upd.State != "" {
				f.courses[i].State = upd.State
			}
			if upd.Name != "" {
				f.courses[i].Name = upd.Name
			}
			return f.courses[i], nil
		}
	}
	return Course{}, errors.New("404 Requested entity was not found.")
}

func (f *fakeAPI) ListTeachers(_ context.Context, id string, pageSize int64, pageToken string) (MemberPage, error) {
	if err := f.hit("ListTeachers"); err != nil {
		return MemberPage{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return memberPage(f.teachers[id], pageSize, pageToken), nil
}

func (f *fakeAPI) ListStudents(_ context.Context, id string, pageSize int64, pageToken string) (MemberPage, error) {
	if err := f.hit("ListStudents"); err != nil {
		return MemberPage{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return memberPage(f.students[id], pageSize, pageToken), nil
}

func memberPage(members []Member, pageSize int64, pageToken string) MemberPage {
	start := 0
	if pageToken != "" {
		_, _ = fmt.Sscan(pageToken, &start)
	}
	end := len(members)
	if pageSize > 0 && start+int(pageSize) < end {
		end = start + int(pageSize)
	}
	page := MemberPage{Members: append([]Member(nil), members[start:end]...)}
	if end < len(members) {
		page.NextPageToken = fmt.Sprint(end)
	}
	return page
}

func (f *fakeAPI) AddTeacher(_ context.Context, id, email string) (Member, error) {
	if err := f.hit("AddTeacher"); err != nil {
		return Member{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	m := Member{CourseID: id, UserID: email, Email: email, Role: RoleTeacher}
	f.teachers[id] = append(f.teachers[id], m)
	return m, nil
}

func (f *fakeAPI) AddStudent(_ context.Context, id, email string) (Member, error) {
	if err := f.hit("AddStudent"); err != nil {
		return Member{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	m := Member{CourseID: id, UserID: email, Email: email, Role: RoleStudent}
	f.students[id] = append(f.students[id], m)
	return m, nil
}

func (f *fakeAPI) RemoveStudent(_ context.Context, id, email string) error {
	return f.hit("RemoveStudent")
}

func newTestService(api API) *Service {
	limiter := ratelimit.New(ratelimit.Options{}, core.NopLogger{})
	errs := apierror.NewHandler(core.NopLogger{}, nil, apierror.Delays{
		Quota:       time.Millisecond,
		Unavailable: time.Millisecond,
		Default:     time.Millisecond,
	})
	return NewService(api, limiter, errs, core.NopLogger{}, nil, Options{CacheTTL: 5 * time.Minute})
}

func TestService_ListAllCourses(t *testing.T) {
	api := newFakeAPI()
	api.pageSize = 2
	for i := 0; i < 5; i++ {
		api.courses = append(api.courses, Course{ID: fmt.Sprint(i), Name: fmt.Sprintf("course %d", i)})
	}
	svc := newTestService(api)
	ctx := context.Background()

	courses, err := svc.ListAllCourses(ctx, ListOptions{})
	require.NoError(t, err)
	assert.Len(t, courses, 5)
	assert.Equal(t, 3, api.count("ListCourses"))

	_, err = svc.ListAllCourses(ctx, ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, api.count("ListCourses"), "served from cache")

	_, err = svc.ListAllCourses(ctx, ListOptions{ForceRefresh: true})
	require.NoError(t, err)
	assert.Equal(t, 6, api.count("ListCourses"))

	svc.now = func() time.Time { return time.Now().Add(6 * time.Minute) }
	_, err = svc.ListAllCourses(ctx, ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, 9, api.count("ListCourses"), "cache expired")
}

func TestService_ListAllCourses_callerCancelled(t *testing.T) {
	api := newFakeAPI()
	for i := 0; i < 3; i++ {
		api.courses = append(api.courses, Course{ID: fmt.Sprint(i), Name: fmt.Sprintf("course %d", i)})
	}
	svc := newTestService(api)

	ctx, cancel := context.WithCancel(context.Background())
	api.onList = cancel
	_, _ = svc.ListAllCourses(ctx, ListOptions{})
	assert.Eventually(t, func() bool { return svc.Status().CacheSize == 1 }, time.Second, 5*time.Millisecond)

	courses, err := svc.ListAllCourses(context.Background(), ListOptions{})
	require.NoError(t, err)
	assert.Len(t, courses, 3)
	assert.Equal(t, 1, api.count("ListCourses"))

	release := make(chan struct{})
	api.onList = func() { <-release }
	_, err = svc.ListAllCourses(ctx, ListOptions{ForceRefresh: true})
	assert.ErrorIs(t, err, context.Canceled)
	close(release)
}

func TestService_ListAllCourses_error(t *testing.T) {
	api := newFakeAPI()
	api.failOn["ListCourses"] = errors.New("401 unauthorized")
	svc := newTestService(api)

	_, err := svc.ListAllCourses(context.Background(), ListOptions{})
	var failure *apierror.Failure
	require.True(t, errors.As(err, &failure))
	assert.Equal(t, apierror.KindUnauthorized, failure.Info.Kind)
	assert.Equal(t, 1, api.count("ListCourses"))
	assert.Equal(t, 0, svc.Status().CacheSize)
}

func TestService_GetCourseMembers(t *testing.T) {
	api := newFakeAPI()
	api.teachers["1"] = []Member{{Email: "t@school.edu", Role: RoleTeacher}}
	api.failOn["ListStudents"] = errors.New("403 Forbidden")
	svc := newTestService(api)

	members, err := svc.GetCourseMembers(context.Background(), "1")
	require.NoError(t, err)
	assert.Len(t, members.Teachers, 1)
	assert.Empty(t, members.Students)
	assert.NotNil(t, members.Students)

	_, err = svc.GetCourseMembers(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, 1, api.count("ListTeachers"))
	assert.Equal(t, 1, svc.Status().CacheSize)
}

func TestService_GetCourseStudents_pages(t *testing.T) {
	api := newFakeAPI()
	for i := 0; i < 5; i++ {
		api.students["1"] = append(api.students["1"], Member{Email: fmt.Sprintf("kid%d@school.edu", i), Role: RoleStudent})
	}
	limiter := ratelimit.New(ratelimit.Options{}, core.NopLogger{})
	errs := apierror.NewHandler(core.NopLogger{}, nil, apierror.Delays{Default: time.Millisecond})
	svc := NewService(api, limiter, errs, core.NopLogger{}, nil, Options{CacheTTL: time.Minute, PageSize: 2})

	students, err := svc.GetCourseStudents(context.Background(), "1")
	require.NoError(t, err)
	require.Len(t, students, 5)
	assert.Equal(t, "kid4@school.edu", students[4].Email)
	assert.Equal(t, 3, api.count("ListStudents"))
	assert.Equal(t, 3, limiter.Status().CallCount, "one limited call per page")
}

func TestService_CreateCoursesBatch(t *testing.T) {
	tests := []struct {
		name        string
		names       []string
		cancelAfter int
		wantErr     bool
		wantSuccess bool
		wantResults int
		wantFailed  int
		wantAborted bool
	}{
		{name: "no names", names: nil, wantErr: true},
		{name: "all created", names: []string{"G1 Achievers-LT", "G1 Achievers-IT"}, wantSuccess: true, wantResults: 2},
		{name: "partial failure", names: []string{"G1 Achievers-LT", "forbidden"}, wantResults: 2, wantFailed: 1},
		{name: "cancelled", names: []string{"a", "b", "c"}, cancelAfter: 1, wantResults: 1, wantAborted: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			api := newFakeAPI()
			svc := newTestService(api)
			polls := 0
			opts := BatchOptions{Cancelled: func() bool {
				polls++
				return tc.cancelAfter > 0 && polls >= tc.cancelAfter
			}}

			batch, err := svc.CreateCoursesBatch(context.Background(), tc.names, "", opts)
			if tc.wantErr {
				assert.True(t, core.IsValidationError(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantSuccess, batch.Success)
			assert.Len(t, batch.Results, tc.wantResults)
			assert.Equal(t, tc.wantFailed, batch.Summary.Statistics.Failed)
			assert.Equal(t, tc.wantAborted, batch.Summary.Aborted)
			for _, res := range batch.Results {
				if res.Success {
					assert.NotEmpty(t, res.CourseID)
					assert.Equal(t, "me", res.Course.OwnerID)
					assert.Equal(t, StateActive, res.Course.State)
				} else {
					assert.Contains(t, res.Error, "insufficient permissions")
				}
			}
		})
	}
}

func TestService_AddMembersBatch(t *testing.T) {
	api := newFakeAPI()
	svc := newTestService(api)

	_, err := svc.AddMembersBatch(context.Background(), []NewMember{{CourseID: "1", Email: "a@b.c"}}, Role("ADMIN"))
	assert.True(t, core.IsValidationError(err))

	batch, err := svc.AddMembersBatch(context.Background(), []NewMember{
		{CourseID: "123456789012", Email: "kid@school.edu"},
		{CourseID: "", Email: "lost@school.edu"},
		{CourseID: "123456789012", Email: ""},
	}, RoleStudent)
	require.NoError(t, err)
	assert.False(t, batch.Success)
	assert.Len(t, batch.Results, 1)
	assert.Equal(t, 2, batch.Summary.Statistics.Failed)
	assert.Equal(t, "lost@school.edu", batch.Summary.Errors[0].Item)
	assert.Equal(t, "unknown", batch.Summary.Errors[1].Item)
	assert.Equal(t, 1, api.count("AddStudent"))
}

func TestService_AddIfNotExists(t *testing.T) {
	api := newFakeAPI()
	api.teachers["1"] = []Member{{Email: "Teacher@School.edu", Role: RoleTeacher}}
	svc := newTestService(api)
	ctx := context.Background()

	status, err := svc.AddTeacherIfNotExists(ctx, "1", "teacher@school.edu")
	require.NoError(t, err)
	assert.Equal(t, StatusAlreadyExists, status)
	assert.Equal(t, 0, api.count("AddTeacher"))

	status, err = svc.AddStudentIfNotExists(ctx, "1", "kid@school.edu")
	require.NoError(t, err)
	assert.Equal(t, StatusAdded, status)

	status, err = svc.AddStudentIfNotExists(ctx, "1", "KID@school.edu")
	require.NoError(t, err)
	assert.Equal(t, StatusAlreadyExists, status)

	api.failOn["ListTeachers"] = errors.New("404 not found")
	_, err = svc.AddTeacherIfNotExists(ctx, "2", "t@school.edu")
	assert.Error(t, err)
}

func TestService_mutationsInvalidateCache(t *testing.T) {
	api := newFakeAPI()
	api.courses = []Course{{ID: "1", Name: "G1 Achievers-LT", State: StateActive}}
	svc := newTestService(api)
	ctx := context.Background()

	_, err := svc.ListAllCourses(ctx, ListOptions{})
	require.NoError(t, err)
	_, err = svc.GetCourseMembers(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, 2, svc.Status().CacheSize)

	course, err := svc.ArchiveCourse(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, StateArchived, course.State)
	assert.Equal(t, 0, svc.Status().CacheSize)

	_, err = svc.GetCourseMembers(ctx, "1")
	require.NoError(t, err)
	require.NoError(t, svc.RemoveMember(ctx, "1", "kid@school.edu"))
	assert.Equal(t, 0, svc.Status().CacheSize)

	_, err = svc.UpdateCourse(ctx, "1", Update{})
	assert.True(t, core.IsValidationError(err))
}

func TestService_ClearCache(t *testing.T) {
	svc := newTestService(newFakeAPI())
	svc.store("members_1", Members{})
	svc.store("members_2", Members{})
	svc.store(allCoursesKey, []Course{})

	svc.ClearCacheByPattern("members_")
	assert.Equal(t, 1, svc.Status().CacheSize)
	svc.ClearCache()
	assert.Equal(t, 0, svc.Status().CacheSize)
}

func TestPayloadValidation(t *testing.T) {
	validate := validator.New()
	uni := ut.New(en.New())
	trans, _ := uni.GetTranslator("en")
	core.InitValidators(validate, trans)
	InitValidators(validate, trans)

	nc := NewCourses{Names: []string{" G1 Achievers-LT "}}
	require.NoError(t, nc.Validate(validate))
	assert.Equal(t, "G1 Achievers-LT", nc.Names[0])

	nc = NewCourses{Names: []string{" "}}
	assert.Error(t, nc.Validate(validate))
	nc = NewCourses{}
	assert.Error(t, nc.Validate(validate))

	nm := NewMembers{Role: RoleStudent, Members: []NewMember{{CourseID: "123456789012", Email: " Kid@School.edu "}}}
	require.NoError(t, nm.Validate(validate))
	assert.Equal(t, "kid@school.edu", nm.Members[0].Email)

	nm = NewMembers{Role: RoleStudent, Members: []NewMember{{CourseID: "12", Email: "kid@school.edu"}}}
	err := nm.Validate(validate)
	require.Error(t, err)
	msgs := core.TranslateErrors(err.(validator.ValidationErrors), trans)
	assert.Equal(t, "courseId must be a Classroom course id (10 to 15 digits)", msgs["courseId"])

	upd := Update{State: "DELETED"}
	assert.Error(t, upd.Validate(validate))
	upd = Update{}
	assert.True(t, core.IsValidationError(upd.Validate(validate)))
	upd = Update{Name: " New name "}
	require.NoError(t, upd.Validate(validate))
	assert.Equal(t, []string{"name"}, upd.Fields())
}
