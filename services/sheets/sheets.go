// Package sheetsvc reads and writes the Google Sheets the school works with: the course mapping
// sheet and the teachers' gradebooks.
package sheetsvc

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

const valueInput = "RAW"

var ErrMissingColumn = errors.New("missing column")

// Client wraps the values API of one spreadsheet.
type Client struct {
	svc           *sheets.Service
	spreadsheetID string
}

func NewClient(ctx context.Context, spreadsheetID string, opts ...option.ClientOption) (*Client, error) {
	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "creating sheets service")
	}
	return &Client{svc: svc, spreadsheetID: spreadsheetID}, nil
}

// A1 builds an A1 range on the sheet, quoting its title.
func A1(sheet, cells string) string {
	return "'" + strings.ReplaceAll(sheet, "'", "''") + "'!" + cells
}

func (c *Client) Get(ctx context.Context, rng string) ([][]interface{}, error) {
	vr, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", rng)
	}
	return vr.Values, nil
}

func (c *Client) Update(ctx context.Context, rng string, rows [][]interface{}) error {
	_, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, rng, &sheets.ValueRange{Values: rows}).
		ValueInputOption(valueInput).Context(ctx).Do()
	return errors.Wrapf(err, "updating %s", rng)
}

func (c *Client) Append(ctx context.Context, rng string, rows [][]interface{}) error {
	_, err := c.svc.Spreadsheets.Values.Append(c.spreadsheetID, rng, &sheets.ValueRange{Values: rows}).
		ValueInputOption(valueInput).InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	return errors.Wrapf(err, "appending to %s", rng)
}

func (c *Client) Clear(ctx context.Context, rng string) error {
	_, err := c.svc.Spreadsheets.Values.Clear(c.spreadsheetID, rng, &sheets.ClearValuesRequest{}).Context(ctx).Do()
	return errors.Wrapf(err, "clearing %s", rng)
}

func (c *Client) AddSheet(ctx context.Context, title string) error {
	_, err := c.svc.Spreadsheets.BatchUpdate(c.spreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			AddSheet: &sheets.AddSheetRequest{Properties: &sheets.SheetProperties{Title: title}},
		}},
	}).Context(ctx).Do()
	return errors.Wrapf(err, "adding sheet %s", title)
}

// SheetTitles lists the titles of the spreadsheet's sheets.
func (c *Client) SheetTitles(ctx context.Context) ([]string, error) {
	ss, err := c.svc.Spreadsheets.Get(c.spreadsheetID).Fields("sheets.properties.title").Context(ctx).Do()
	if err != nil {
		return nil, errors.Wrap(err, "reading spreadsheet")
	}
	titles := make([]string, 0, len(ss.Sheets))
	for _, sh := range ss.Sheets {
		if sh.Properties != nil {
			titles = append(titles, sh.Properties.Title)
		}
	}
	return titles, nil
}

func cell(row []interface{}, i int) string {
	if i < 0 || i >= len(row) || row[i] == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(row[i]))
}

// columns maps the header titles (case-insensitive) to their index.
func columns(header []interface{}) map[string]int {
	cols := make(map[string]int, len(header))
	for i := range header {
		if title := strings.ToLower(cell(header, i)); title != "" {
			if _, dup := cols[title]; !dup {
				cols[title] = i
			}
		}
	}
	return cols
}
