// Package classroomsvc implements classroom.API over the Google Classroom REST API, plus an
// in-memory implementation for local runs and tests.
package classroomsvc

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	classroomapi "google.golang.org/api/classroom/v1"
	"google.golang.org/api/option"

	"github.com/trezcool/gradebook/core/classroom"
)

const membersPageSize = 100

type GoogleAPI struct {
	svc *classroomapi.Service
}

var _ classroom.API = (*GoogleAPI)(nil)

func NewGoogleAPI(ctx context.Context, opts ...option.ClientOption) (*GoogleAPI, error) {
	svc, err := classroomapi.NewService(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "creating classroom service")
	}
	return &GoogleAPI{svc: svc}, nil
}

func (g *GoogleAPI) ListCourses(ctx context.Context, states []classroom.CourseState, pageSize int64, pageToken string) (classroom.CoursePage, error) {
	call := g.svc.Courses.List().PageSize(pageSize).Context(ctx)
	if len(states) > 0 {
		cs := make([]string, 0, len(states))
		for _, s := range states {
			cs = append(cs, string(s))
		}
		call = call.CourseStates(cs...)
	}
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}
	res, err := call.Do()
	if err != nil {
		return classroom.CoursePage{}, err
	}

	page := classroom.CoursePage{Courses: make([]classroom.Course, 0, len(res.Courses)), NextPageToken: res.NextPageToken}
	for _, c := range res.Courses {
		page.Courses = append(page.Courses, toCourse(c))
	}
	return page, nil
}

func (g *GoogleAPI) CreateCourse(ctx context.Context, course classroom.Course) (classroom.Course, error) {
	created, err := g.svc.Courses.Create(&classroomapi.Course{
		Name:        course.Name,
		Section:     course.Section,
		OwnerId:     course.OwnerID,
		CourseState: string(course.State),
	}).Context(ctx).Do()
	if err != nil {
		return classroom.Course{}, err
	}
	return toCourse(created), nil
}

func (g *GoogleAPI) PatchCourse(ctx context.Context, courseID string, upd classroom.Update) (classroom.Course, error) {
	patched, err := g.svc.Courses.Patch(courseID, &classroomapi.Course{
		Name:        upd.Name,
		Section:     upd.Section,
		CourseState: string(upd.State),
	}).UpdateMask(strings.Join(upd.Fields(), ",")).Context(ctx).Do()
	if err != nil {
		return classroom.Course{}, err
	}
	return toCourse(patched), nil
}

func (g *GoogleAPI) ListTeachers(ctx context.Context, courseID string, pageSize int64, pageToken string) (classroom.MemberPage, error) {
	if pageSize <= 0 {
		pageSize = membersPageSize
	}
	call := g.svc.Courses.Teachers.List(courseID).PageSize(pageSize).Context(ctx)
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}
	res, err := call.Do()
	if err != nil {
		return classroom.MemberPage{}, err
	}
	page := classroom.MemberPage{NextPageToken: res.NextPageToken}
	for _, t := range res.Teachers {
		page.Members = append(page.Members, toMember(t.CourseId, t.UserId, t.Profile, classroom.RoleTeacher))
	}
	return page, nil
}

func (g *GoogleAPI) ListStudents(ctx context.Context, courseID string, pageSize int64, pageToken string) (classroom.MemberPage, error) {
	if pageSize <= 0 {
		pageSize = membersPageSize
	}
	call := g.svc.Courses.Students.List(courseID).PageSize(pageSize).Context(ctx)
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}
	res, err := call.Do()
	if err != nil {
		return classroom.MemberPage{}, err
	}
	page := classroom.MemberPage{NextPageToken: res.NextPageToken}
	for _, s := range res.Students {
		page.Members = append(page.Members, toMember(s.CourseId, s.UserId, s.Profile, classroom.RoleStudent))
	}
	return page, nil
}

func (g *GoogleAPI) AddTeacher(ctx context.Context, courseID, email string) (classroom.Member, error) {
	t, err := g.svc.Courses.Teachers.Create(courseID, &classroomapi.Teacher{UserId: email}).Context(ctx).Do()
	if err != nil {
		return classroom.Member{}, err
	}
	m := toMember(t.CourseId, t.UserId, t.Profile, classroom.RoleTeacher)
	if m.Email == "" {
		m.Email = email
	}
	return m, nil
}

func (g *GoogleAPI) AddStudent(ctx context.Context, courseID, email string) (classroom.Member, error) {
	s, err := g.svc.Courses.Students.Create(courseID, &classroomapi.Student{UserId: email}).Context(ctx).Do()
	if err != nil {
		return classroom.Member{}, err
	}
	m := toMember(s.CourseId, s.UserId, s.Profile, classroom.RoleStudent)
	if m.Email == "" {
		m.Email = email
	}
	return m, nil
}

func (g *GoogleAPI) RemoveStudent(ctx context.Context, courseID, email string) error {
	_, err := g.svc.Courses.Students.Delete(courseID, email).Context(ctx).Do()
	return err
}

func toCourse(c *classroomapi.Course) classroom.Course {
	return classroom.Course{
		ID:        c.Id,
		Name:      c.Name,
		Section:   c.Section,
		OwnerID:   c.OwnerId,
		State:     classroom.CourseState(c.CourseState),
		Link:      c.AlternateLink,
		CreatedAt: parseTime(c.CreationTime),
		UpdatedAt: parseTime(c.UpdateTime),
	}
}

func toMember(courseID, userID string, profile *classroomapi.UserProfile, role classroom.Role) classroom.Member {
	m := classroom.Member{CourseID: courseID, UserID: userID, Role: role}
	if profile != nil {
		m.Email = profile.EmailAddress
		if profile.Name != nil {
			m.FullName = profile.Name.FullName
		}
	}
	return m
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}
