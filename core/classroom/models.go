package classroom

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/gradebook/core"
)

type (
	CourseState string
	Role        string
	AddStatus   string
)

const (
	StateActive      CourseState = "ACTIVE"
	StateArchived    CourseState = "ARCHIVED"
	StateProvisioned CourseState = "PROVISIONED"

	RoleTeacher Role = "TEACHER"
	RoleStudent Role = "STUDENT"

	StatusAlreadyExists AddStatus = "ALREADY_EXISTS"
	StatusAdded         AddStatus = "ADDED"
)

func (r Role) Valid() bool { return r == RoleTeacher || r == RoleStudent }

func (r Role) Label() string {
	if r == RoleTeacher {
		return "teacher"
	}
	return "student"
}

type (
	Course struct {
		ID        string      `json:"id"`
		Name      string      `json:"name"`
		Section   string      `json:"section,omitempty"`
		OwnerID   string      `json:"ownerId"`
		State     CourseState `json:"courseState"`
		Link      string      `json:"alternateLink,omitempty"`
		CreatedAt time.Time   `json:"creationTime"`
		UpdatedAt time.Time   `json:"updateTime"`
	}

	Member struct {
		CourseID string `json:"courseId"`
		UserID   string `json:"userId"`
		Email    string `json:"emailAddress"`
		FullName string `json:"fullName,omitempty"`
		Role     Role   `json:"role"`
	}

	Members struct {
		Teachers []Member `json:"teachers"`
		Students []Member `json:"students"`
	}

	CoursePage struct {
		Courses       []Course
		NextPageToken string
	}

	MemberPage struct {
		Members       []Member
		NextPageToken string
	}

	// Update holds the course fields to patch; empty fields are left untouched.
	Update struct {
		Name    string      `json:"name"`
		Section string      `json:"section"`
		State   CourseState `json:"courseState" validate:"omitempty,oneof=ACTIVE ARCHIVED PROVISIONED DECLINED SUSPENDED"`
	}

	// API is the subset of the Classroom API the service relies on.
	API interface {
		ListCourses(ctx context.Context, states []CourseState, pageSize int64, pageToken string) (CoursePage, error)
		CreateCourse(ctx context.Context, course Course) (Course, error)
		PatchCourse(ctx context.Context, courseID string, upd Update) (Course, error)
		ListTeachers(ctx context.Context, courseID string, pageSize int64, pageToken string) (MemberPage, error)
		ListStudents(ctx context.Context, courseID string, pageSize int64, pageToken string) (MemberPage, error)
		AddTeacher(ctx context.Context, courseID, email string) (Member, error)
		AddStudent(ctx context.Context, courseID, email string) (Member, error)
		RemoveStudent(ctx context.Context, courseID, email string) error
	}
)

// Fields lists the update mask of the non-empty fields.
func (u Update) Fields() []string {
	var fields []string
	if u.Name != "" {
		fields = append(fields, "name")
	}
	if u.Section != "" {
		fields = append(fields, "section")
	}
	if u.State != "" {
		fields = append(fields, "courseState")
	}
	return fields
}

func (u *Update) Validate(validate *validator.Validate) error {
	u.Name = core.CleanString(u.Name)
	u.Section = core.CleanString(u.Section)
	if err := validate.Struct(u); err != nil {
		return err
	}
	if len(u.Fields()) == 0 {
		return core.NewValidationError(ErrEmptyUpdate)
	}
	return nil
}

// NewCourses is the payload of a batch course creation.
type NewCourses struct {
	Names   []string `json:"names" validate:"notblank,dive,notblank,max=750"`
	OwnerID string   `json:"ownerId"`
}

func (nc *NewCourses) Validate(validate *validator.Validate) error {
	for i, name := range nc.Names {
		nc.Names[i] = core.CleanString(name)
	}
	nc.OwnerID = core.CleanString(nc.OwnerID)
	return validate.Struct(nc)
}

type NewMember struct {
	CourseID string `json:"courseId" validate:"required,classroom_id"`
	Email    string `json:"userEmail" validate:"required,email"`
}

type NewMembers struct {
	Role    Role        `json:"role" validate:"required,oneof=TEACHER STUDENT"`
	Members []NewMember `json:"members" validate:"notblank,dive"`
}

func (nm *NewMembers) Validate(validate *validator.Validate) error {
	for i := range nm.Members {
		nm.Members[i].CourseID = core.CleanString(nm.Members[i].CourseID)
		nm.Members[i].Email = core.CleanString(nm.Members[i].Email, true /* lower */)
	}
	return validate.Struct(nm)
}
