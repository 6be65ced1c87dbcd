package classroomsvc

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"google.golang.org/api/googleapi"

	"github.com/trezcool/gradebook/core/classroom"
)

// DummyAPI keeps courses and rosters in memory and fails like the real API does.
type DummyAPI struct {
	mu       sync.RWMutex
	courses  []classroom.Course
	teachers map[string][]classroom.Member
	students map[string][]classroom.Member
	nextID   int64
	now      func() time.Time
}

var _ classroom.API = (*DummyAPI)(nil)

func NewDummyAPI(courses ...classroom.Course) *DummyAPI {
	api := &DummyAPI{
		teachers: make(map[string][]classroom.Member),
		students: make(map[string][]classroom.Member),
		nextID:   700000000000,
		now:      time.Now,
	}
	api.Seed(courses...)
	return api
}

// Seed adds courses as they are; an empty id gets a generated one.
func (api *DummyAPI) Seed(courses ...classroom.Course) {
	api.mu.Lock()
	defer api.mu.Unlock()
	for _, c := range courses {
		if c.ID == "" {
			c.ID = api.newID()
		}
		if c.State == "" {
			c.State = classroom.StateActive
		}
		api.courses = append(api.courses, c)
	}
}

func (api *DummyAPI) newID() string {
	api.nextID++
	return strconv.FormatInt(api.nextID, 10)
}

func apiError(code int, msg string) error {
	return &googleapi.Error{Code: code, Message: msg}
}

func (api *DummyAPI) ListCourses(_ context.Context, states []classroom.CourseState, pageSize int64, pageToken string) (classroom.CoursePage, error) {
	api.mu.RLock()
	defer api.mu.RUnlock()

	var matching []classroom.Course
	for _, c := range api.courses {
		if len(states) == 0 || hasState(states, c.State) {
			matching = append(matching, c)
		}
	}

	start, end, err := pageBounds(len(matching), pageSize, pageToken)
	if err != nil {
		return classroom.CoursePage{}, err
	}
	page := classroom.CoursePage{Courses: append([]classroom.Course(nil), matching[start:end]...)}
	if end < len(matching) {
		page.NextPageToken = strconv.Itoa(end)
	}
	return page, nil
}

// pageBounds reads the offset encoded in pageToken.
func pageBounds(n int, pageSize int64, pageToken string) (start, end int, err error) {
	if pageToken != "" {
		if start, err = strconv.Atoi(pageToken); err != nil || start < 0 || start > n {
			return 0, 0, apiError(http.StatusBadRequest, "Invalid page token.")
		}
	}
	end = n
	if pageSize > 0 && start+int(pageSize) < end {
		end = start + int(pageSize)
	}
	return start, end, nil
}

func hasState(states []classroom.CourseState, s classroom.CourseState) bool {
	for _, st := range states {
		if st == s {
			return true
		}
	}
	return false
}

func (api *DummyAPI) CreateCourse(_ context.Context, course classroom.Course) (classroom.Course, error) {
	if strings.TrimSpace(course.Name) == "" {
		return classroom.Course{}, apiError(http.StatusBadRequest, "Request contains an invalid argument.")
	}
	api.mu.Lock()
	defer api.mu.Unlock()
	course.ID = api.newID()
	course.CreatedAt = api.now().UTC()
	course.UpdatedAt = course.CreatedAt
	if course.State == "" {
		course.State = classroom.StateProvisioned
	}
	api.courses = append(api.courses, course)
	return course, nil
}

func (api *DummyAPI) PatchCourse(_ context.Context, courseID string, upd classroom.Update) (classroom.Course, error) {
	api.mu.Lock()
	defer api.mu.Unlock()
	i := api.indexOf(courseID)
	if i < 0 {
		return classroom.Course{}, apiError(http.StatusNotFound, "Requested entity was not found.")
	}
	c := &api.courses[i]
	if upd.Name != "" {
		c.Name = upd.Name
	}
	if upd.Section != "" {
		c.Section = upd.Section
	}
	if upd.State != "" {
		c.State = upd.State
	}
	c.UpdatedAt = api.now().UTC()
	return *c, nil
}

func (api *DummyAPI) indexOf(courseID string) int {
	for i, c := range api.courses {
		if c.ID == courseID {
			return i
		}
	}
	return -1
}

func (api *DummyAPI) ListTeachers(_ context.Context, courseID string, pageSize int64, pageToken string) (classroom.MemberPage, error) {
	return api.list(courseID, api.teachers, pageSize, pageToken)
}

func (api *DummyAPI) ListStudents(_ context.Context, courseID string, pageSize int64, pageToken string) (classroom.MemberPage, error) {
	return api.list(courseID, api.students, pageSize, pageToken)
}

func (api *DummyAPI) list(courseID string, roster map[string][]classroom.Member, pageSize int64, pageToken string) (classroom.MemberPage, error) {
	api.mu.RLock()
	defer api.mu.RUnlock()
	if api.indexOf(courseID) < 0 {
		return classroom.MemberPage{}, apiError(http.StatusNotFound, "Requested entity was not found.")
	}
	members := roster[courseID]
	start, end, err := pageBounds(len(members), pageSize, pageToken)
	if err != nil {
		return classroom.MemberPage{}, err
	}
	page := classroom.MemberPage{Members: append([]classroom.Member(nil), members[start:end]...)}
	if end < len(members) {
		page.NextPageToken = strconv.Itoa(end)
	}
	return page, nil
}

func (api *DummyAPI) AddTeacher(_ context.Context, courseID, email string) (classroom.Member, error) {
	return api.add(courseID, email, classroom.RoleTeacher, api.teachers)
}

func (api *DummyAPI) AddStudent(_ context.Context, courseID, email string) (classroom.Member, error) {
	return api.add(courseID, email, classroom.RoleStudent, api.students)
}

func (api *DummyAPI) add(courseID, email string, role classroom.Role, roster map[string][]classroom.Member) (classroom.Member, error) {
	api.mu.Lock()
	defer api.mu.Unlock()
	if api.indexOf(courseID) < 0 {
		return classroom.Member{}, apiError(http.StatusNotFound, "Requested entity was not found.")
	}
	for _, m := range roster[courseID] {
		if strings.EqualFold(m.Email, email) {
			return classroom.Member{}, apiError(http.StatusConflict, "Requested entity already exists")
		}
	}
	m := classroom.Member{
		CourseID: courseID,
		UserID:   fmt.Sprintf("u-%s", strings.ToLower(email)),
		Email:    email,
		Role:     role,
	}
	roster[courseID] = append(roster[courseID], m)
	return m, nil
}

func (api *DummyAPI) RemoveStudent(_ context.Context, courseID, email string) error {
	api.mu.Lock()
	defer api.mu.Unlock()
	students := api.students[courseID]
	for i, m := range students {
		if strings.EqualFold(m.Email, email) {
			api.students[courseID] = append(students[:i], students[i+1:]...)
			return nil
		}
	}
	return apiError(http.StatusNotFound, "Requested entity was not found.")
}
