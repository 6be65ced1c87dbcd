package sheetsvc

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/trezcool/gradebook/core/assessment"
)

// gradebook sheet columns; every other column is an assessment title
const (
	colTeacher     = "teacher"
	colSubject     = "subject"
	colClass       = "class"
	colStudentID   = "student id"
	colStudentName = "student name"
)

// GradebookReader reads the gradebook sheet: one row per student and class, grouped into one
// gradebook per teacher, subject and class in order of appearance.
type GradebookReader struct {
	client *Client
	sheet  string
}

var _ assessment.Source = (*GradebookReader)(nil)

func NewGradebookReader(client *Client, sheet string) *GradebookReader {
	return &GradebookReader{client: client, sheet: sheet}
}

func (r *GradebookReader) Gradebooks(ctx context.Context) ([]assessment.Gradebook, error) {
	rows, err := r.client.Get(ctx, A1(r.sheet, "A:ZZ"))
	if err != nil {
		return nil, err
	}
	return parseGradebooks(rows)
}

func parseGradebooks(rows [][]interface{}) ([]assessment.Gradebook, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	header := rows[0]
	cols := columns(header)
	for _, required := range []string{colTeacher, colSubject, colClass} {
		if _, ok := cols[required]; !ok {
			return nil, errors.Wrap(ErrMissingColumn, required)
		}
	}
	idCol, nameCol := -1, -1
	if i, ok := cols[colStudentID]; ok {
		idCol = i
	}
	if i, ok := cols[colStudentName]; ok {
		nameCol = i
	}

	known := map[int]bool{cols[colTeacher]: true, cols[colSubject]: true, cols[colClass]: true, idCol: true, nameCol: true}
	titles := make(map[int]string)
	for i := range header {
		if title := cell(header, i); title != "" && !known[i] {
			titles[i] = title
		}
	}

	var (
		books []assessment.Gradebook
		index = make(map[string]int)
	)
	for _, row := range rows[1:] {
		className := cell(row, cols[colClass])
		if className == "" {
			continue
		}
		teacher, subject := cell(row, cols[colTeacher]), strings.ToUpper(cell(row, cols[colSubject]))
		key := teacher + "|" + subject + "|" + className
		i, ok := index[key]
		if !ok {
			i = len(books)
			index[key] = i
			books = append(books, assessment.Gradebook{Teacher: teacher, Subject: subject, ClassName: className})
		}

		st := assessment.Student{ID: cell(row, idCol), Name: cell(row, nameCol), Scores: make(map[string]string, len(titles))}
		for col, title := range titles {
			if v := cell(row, col); v != "" {
				st.Scores[title] = v
			}
		}
		books[i].Students = append(books[i].Students, st)
	}
	return books, nil
}
