package echoapi

import (
	"sort"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/trezcool/gradebook/core/classroom"
)

var orderingParam = "ordering"

type ordering struct {
	Field     string
	Ascending bool
}

// Ordering is bound from `?ordering=name,-creationTime`; a leading "-" sorts descending.
type Ordering struct {
	Orderings []ordering
}

func (ord *Ordering) Bind(ctx echo.Context) {
	val := ctx.QueryParam(orderingParam)
	if val == "" {
		return
	}

	for _, field := range strings.Split(val, ",") {
		field = strings.TrimSpace(field)
		descending := strings.HasPrefix(field, "-")
		if descending {
			field = field[1:] // drop "-"
		}
		if _, ok := courseOrderings[field]; ok {
			ord.Orderings = append(ord.Orderings, ordering{Field: field, Ascending: !descending})
		}
	}
}

var courseOrderings = map[string]func(a, b classroom.Course) int{
	"id":           func(a, b classroom.Course) int { return strings.Compare(a.ID, b.ID) },
	"name":         func(a, b classroom.Course) int { return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name)) },
	"section":      func(a, b classroom.Course) int { return strings.Compare(a.Section, b.Section) },
	"creationTime": func(a, b classroom.Course) int { return a.CreatedAt.Compare(b.CreatedAt) },
	"updateTime":   func(a, b classroom.Course) int { return a.UpdatedAt.Compare(b.UpdatedAt) },
}

// SortCourses sorts courses in place, keeping the API order between equal courses.
func (ord *Ordering) SortCourses(courses []classroom.Course) {
	if len(ord.Orderings) == 0 {
		return
	}
	sort.SliceStable(courses, func(i, j int) bool {
		for _, o := range ord.Orderings {
			c := courseOrderings[o.Field](courses[i], courses[j])
			if c == 0 {
				continue
			}
			if o.Ascending {
				return c < 0
			}
			return c > 0
		}
		return false
	})
}
