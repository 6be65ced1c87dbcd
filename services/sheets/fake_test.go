package sheetsvc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// fakeSpreadsheet serves the subset of the values API the client uses, for a single spreadsheet.
type fakeSpreadsheet struct {
	mu     sync.Mutex
	sheets map[string][][]interface{}
}

func newFakeClient(t *testing.T, fake *fakeSpreadsheet) *Client {
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	client, err := NewClient(context.Background(), "sid", option.WithEndpoint(srv.URL+"/"), option.WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	return client
}

func fail(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"error": map[string]interface{}{"code": code, "message": msg}})
}

func reply(w http.ResponseWriter, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

// parseRange splits "'title'!A2:J" into the title and the first row (1-based, 1 when the range has
// no row number).
func parseRange(rng string) (string, int) {
	title, cells, _ := strings.Cut(rng, "!")
	title = strings.ReplaceAll(strings.TrimSuffix(strings.TrimPrefix(title, "'"), "'"), "''", "'")
	start, _, _ := strings.Cut(cells, ":")
	row, err := strconv.Atoi(strings.TrimLeft(start, "ABCDEFGHIJKLMNOPQRSTUVWXYZ"))
	if err != nil || row < 1 {
		row = 1
	}
	return title, row
}

func (f *fakeSpreadsheet) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if r.URL.Path == "/v4/spreadsheets/sid:batchUpdate" {
		var req sheets.BatchUpdateSpreadsheetRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		for _, q := range req.Requests {
			if _, exists := f.sheets[q.AddSheet.Properties.Title]; exists {
				fail(w, http.StatusBadRequest, "A sheet with this name already exists.")
				return
			}
			f.sheets[q.AddSheet.Properties.Title] = nil
		}
		reply(w, map[string]interface{}{"spreadsheetId": "sid"})
		return
	}

	if r.URL.Path == "/v4/spreadsheets/sid" {
		titles := make([]string, 0, len(f.sheets))
		for title := range f.sheets {
			titles = append(titles, title)
		}
		sort.Strings(titles)
		var shs []map[string]interface{}
		for _, title := range titles {
			shs = append(shs, map[string]interface{}{"properties": map[string]interface{}{"title": title}})
		}
		reply(w, map[string]interface{}{"spreadsheetId": "sid", "sheets": shs})
		return
	}

	rng := strings.TrimPrefix(r.URL.Path, "/v4/spreadsheets/sid/values/")
	action := ""
	for _, suffix := range []string{":clear", ":append"} {
		if strings.HasSuffix(rng, suffix) {
			rng, action = strings.TrimSuffix(rng, suffix), suffix
		}
	}
	title, row := parseRange(rng)
	rows, ok := f.sheets[title]
	if !ok {
		fail(w, http.StatusBadRequest, "Unable to parse range: "+rng)
		return
	}

	var vr sheets.ValueRange
	if r.Method != http.MethodGet {
		_ = json.NewDecoder(r.Body).Decode(&vr)
	}
	switch {
	case r.Method == http.MethodGet:
		var values [][]interface{}
		if row-1 < len(rows) {
			values = rows[row-1:]
		}
		reply(w, map[string]interface{}{"range": rng, "values": values})
		return
	case action == ":clear":
		if row-1 < len(rows) {
			rows = rows[:row-1]
		}
	case action == ":append":
		rows = append(rows, vr.Values...)
	default: // update
		for len(rows) < row-1 {
			rows = append(rows, []interface{}{})
		}
		for i, v := range vr.Values {
			if row-1+i < len(rows) {
				rows[row-1+i] = v
			} else {
				rows = append(rows, v)
			}
		}
	}
	f.sheets[title] = rows
	reply(w, map[string]interface{}{"spreadsheetId": "sid"})
}

func (f *fakeSpreadsheet) rows(title string) [][]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sheets[title]
}
