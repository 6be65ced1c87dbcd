package main

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/gradebook/apps/shared"
	"github.com/trezcool/gradebook/core"
	"github.com/trezcool/gradebook/services/classroom"
	"github.com/trezcool/gradebook/tests"
)

func setup(t *testing.T) (*commandLine, *bytes.Buffer) {
	conf := testutil.Config()
	conf.ReportRecipients = nil
	api := classroomsvc.NewDummyAPI(testutil.Courses()...)

	out := new(bytes.Buffer)
	cli := newCommandLine(conf, core.NopLogger{})
	cli.in = strings.NewReader("")
	cli.out = out
	cli.errOut = io.Discard
	cli.build = func(ctx context.Context) (*shared.App, error) {
		return shared.Build(ctx, conf, core.NopLogger{}, shared.Options{API: api})
	}
	cli.openDB = func(context.Context) (*sql.DB, error) { return nil, nil }
	t.Cleanup(cli.close)
	return cli, out
}

type cliTest struct {
	name       string
	args       []string // without program name
	wantErr    error
	wantErrStr string
	wantAnyErr bool
	wantOut    []string
}

func runCLITests(t *testing.T, cli *commandLine, out *bytes.Buffer, tests []cliTest) {
	t.Helper()
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			out.Reset()
			err := cli.run(context.Background(), args)
			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			case tt.wantErrStr != "":
				assert.EqualError(t, err, tt.wantErrStr)
			case tt.wantAnyErr:
				assert.Error(t, err)
			default:
				require.NoError(t, err)
			}
			for _, want := range tt.wantOut {
				assert.Contains(t, out.String(), want)
			}
		})
	}
}

func Test_commandLine_migrate(t *testing.T) {
	cli, _ := setup(t)

	gooseRunFunc = func(_ context.Context, _ *sql.DB, command string, args ...string) error {
		switch command {
		case "up", "up-by-one", "down", "fix", "redo", "reset", "status", "version": // pass
		case "up-to":
			if len(args) == 0 {
				return fmt.Errorf("up-to must be of form: goose [OPTIONS] DRIVER DBSTRING up-to VERSION")
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		case "create":
			if len(args) == 0 {
				return fmt.Errorf("create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]")
			}
		case "down-to":
			if len(args) == 0 {
				return fmt.Errorf("down-to must be of form: goose [OPTIONS] DRIVER DBSTRING down-to VERSION")
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		default:
			return fmt.Errorf("%q: no such command", command)
		}
		return nil
	}

	tests := []cliTest{
		{name: "no subcommand", args: []string{"migrate"}, wantErr: errHelp},
		{name: "unknown subcommand", args: []string{"migrate", "lol"}, wantErrStr: "\"lol\": no such command"},
		{name: "up-to: no args", args: []string{"migrate", "up-to"}, wantErrStr: "up-to must be of form: goose [OPTIONS] DRIVER DBSTRING up-to VERSION"},
		{name: "up-to: non-int arg", args: []string{"migrate", "up-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "create: no args", args: []string{"migrate", "create"}, wantErrStr: "create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]"},
		{name: "down-to: no args", args: []string{"migrate", "down-to"}, wantErrStr: "down-to must be of form: goose [OPTIONS] DRIVER DBSTRING down-to VERSION"},
		{name: "down-to: non-int arg", args: []string{"migrate", "down-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "up", args: []string{"migrate", "up"}},
		{name: "up-by-one", args: []string{"migrate", "up-by-one"}},
		{name: "up-to", args: []string{"migrate", "up-to", "2"}},
		{name: "down", args: []string{"migrate", "down"}},
		{name: "down-to", args: []string{"migrate", "down-to", "1"}},
		{name: "redo", args: []string{"migrate", "redo"}},
		{name: "reset", args: []string{"migrate", "reset"}},
		{name: "status", args: []string{"migrate", "status"}},
		{name: "version", args: []string{"migrate", "version"}},
		{name: "create", args: []string{"migrate", "create", "course_mapping_notes", "sql"}},
		{name: "fix", args: []string{"migrate", "fix"}},
	}
	runCLITests(t, cli, new(bytes.Buffer), tests)
	assert.Nil(t, cli.app, "migrate must not build the services")
}

func Test_commandLine_courses(t *testing.T) {
	cli, out := setup(t)

	namesFile := filepath.Join(t.TempDir(), "names.txt")
	require.NoError(t, os.WriteFile(namesFile, []byte("# new year\nG3 Seekers LT\n\nG3 Seekers IT\n"), 0o600))

	tests := []cliTest{
		{name: "no command", wantErr: errHelp},
		{name: "unknown command", args: []string{"lol"}, wantErrStr: `unknown command "lol" for "admin"`},
		{name: "no subcommand", args: []string{"courses"}, wantErr: errHelp},
		{name: "list", args: []string{"courses", "list"}, wantOut: []string{"G1 Achievers LT", "Staff room", "4 course(s)"}},
		{name: "list archived", args: []string{"courses", "list", "--state", "archived"}, wantOut: []string{"0 course(s)"}},
		{name: "create: no names", args: []string{"courses", "create"}, wantErr: errHelp},
		{name: "create: blank name", args: []string{"courses", "create", "  "}, wantAnyErr: true},
		{name: "create", args: []string{"courses", "create", "G2 Voyagers LT", "G2 Voyagers IT"}, wantOut: []string{"700000000001", "700000000002", "2 succeeded, 0 failed"}},
		{name: "create from file", args: []string{"courses", "create", "-f", namesFile}, wantOut: []string{"G3 Seekers IT", "2 succeeded"}},
		{name: "update: no fields", args: []string{"courses", "update", "700000000103"}, wantAnyErr: true},
		{name: "update: bad state", args: []string{"courses", "update", "700000000103", "--state", "gone"}, wantAnyErr: true},
		{name: "update", args: []string{"courses", "update", "700000000103", "--name", "G2 Voyagers KCFS"}, wantOut: []string{"G2 Voyagers KCFS"}},
		{name: "update: not found", args: []string{"courses", "update", "700000000999", "--section", "A"}, wantAnyErr: true},
		{name: "archive: no tty", args: []string{"courses", "archive", "700000000104"}, wantErr: errNotConfirmed},
		{name: "archive", args: []string{"courses", "archive", "700000000104", "--yes"}, wantOut: []string{"archived Staff room (700000000104)"}},
		{name: "list after archive", args: []string{"courses", "list", "--refresh"}, wantOut: []string{"G2 Voyagers KCFS", "3 course(s)"}},
	}
	runCLITests(t, cli, out, tests)
}

func Test_commandLine_confirm(t *testing.T) {
	cli, out := setup(t)
	defer func(f func(int) bool) { isTerminalFunc = f }(isTerminalFunc)
	isTerminalFunc = func(int) bool { return true }

	cli.in = strings.NewReader("n\n")
	runCLITests(t, cli, out, []cliTest{
		{name: "declined", args: []string{"courses", "archive", "700000000104"}, wantErr: errAborted},
	})

	cli.in = strings.NewReader("Y\n")
	runCLITests(t, cli, out, []cliTest{
		{name: "accepted", args: []string{"courses", "archive", "700000000104"}, wantOut: []string{"[y/N]", "archived Staff room"}},
	})
}

func Test_commandLine_members(t *testing.T) {
	cli, out := setup(t)

	membersFile := filepath.Join(t.TempDir(), "members.csv")
	require.NoError(t, os.WriteFile(membersFile, []byte("700000000102, kid1@school.test\n700000000102,kid2@school.test\n"), 0o600))

	tests := []cliTest{
		{name: "no subcommand", args: []string{"members"}, wantErr: errHelp},
		{name: "add: no members", args: []string{"members", "add"}, wantErr: errHelp},
		{name: "add: invalid course id", args: []string{"members", "add", "abc", "kid1@school.test"}, wantAnyErr: true},
		{name: "add: invalid role", args: []string{"members", "add", "-r", "parent", "700000000101", "kid1@school.test"}, wantAnyErr: true},
		{name: "add", args: []string{"members", "add", "700000000101", "kid1@school.test", "kid2@school.test"}, wantOut: []string{"2 succeeded, 0 failed"}},
		{name: "add: already there", args: []string{"members", "add", "700000000101", "kid1@school.test"}, wantErr: errBatchIncomplete, wantOut: []string{"0 succeeded, 1 failed"}},
		{name: "add teacher", args: []string{"members", "add", "-r", "teacher", "700000000101", "teacher@school.test"}, wantOut: []string{"1 succeeded"}},
		{name: "add from file", args: []string{"members", "add", "-f", membersFile}, wantOut: []string{"kid2@school.test", "2 succeeded"}},
		{name: "add skipping existing", args: []string{"members", "add", "--skip-existing", "700000000101", "kid1@school.test", "kid3@school.test"}, wantOut: []string{"ALREADY_EXISTS", "ADDED"}},
		{name: "list", args: []string{"members", "list", "700000000101"}, wantOut: []string{"TEACHER", "teacher@school.test", "kid3@school.test"}},
		{name: "remove: no tty", args: []string{"members", "remove", "700000000101", "kid1@school.test"}, wantErr: errNotConfirmed},
		{name: "remove", args: []string{"members", "remove", "-y", "700000000101", "kid1@school.test"}, wantOut: []string{"removed kid1@school.test from course 700000000101"}},
		{name: "remove: not found", args: []string{"members", "remove", "-y", "700000000101", "kid1@school.test"}, wantAnyErr: true},
	}
	runCLITests(t, cli, out, tests)
}

func Test_commandLine_mapping(t *testing.T) {
	cli, out := setup(t)

	tests := []cliTest{
		{name: "no subcommand", args: []string{"mapping"}, wantErr: errHelp},
		{name: "run: bad strategy", args: []string{"mapping", "run", "--strategy", "reckless"}, wantAnyErr: true},
		{name: "backups: none", args: []string{"mapping", "backups"}, wantOut: []string{"0 backup(s)"}},
		{name: "run", args: []string{"mapping", "run", "--strategy", "conservative"}, wantOut: []string{"discovery", "cleanup", "4 courses"}},
		{name: "run again", args: []string{"mapping", "run", "--strategy", "conservative"}, wantOut: []string{"discovery"}},
		{name: "backups", args: []string{"mapping", "backups"}, wantOut: []string{"backup(s)\n"}},
		{name: "validate", args: []string{"mapping", "validate"}, wantOut: []string{"overall:"}},
		{name: "clean", args: []string{"mapping", "clean"}, wantOut: []string{"mappings cleaned"}},
		{name: "report", args: []string{"mapping", "report", "--refresh"}, wantOut: []string{"Course mapping report"}},
		{name: "suggest: bad subject", args: []string{"mapping", "suggest", "G1 Achievers", "XX"}, wantAnyErr: true},
		{name: "suggest", args: []string{"mapping", "suggest", "G1 Achievers", "LT"}, wantOut: []string{"700000000101", "G1 Achievers LT"}},
	}
	runCLITests(t, cli, out, tests)
}

func Test_commandLine_reports(t *testing.T) {
	cli, out := setup(t)

	tests := []cliTest{
		{name: "progress without gradebook", args: []string{"progress"}, wantErr: shared.ErrNoSpreadsheet},
		{name: "no batch yet", args: []string{"batches"}, wantOut: []string{"(none)"}},
		{name: "create", args: []string{"courses", "create", "G4 Seekers LT"}},
		{name: "batches", args: []string{"batches", "-n", "5"}, wantOut: []string{"done"}},
		{name: "status", args: []string{"status"}, wantOut: []string{"expected mappings", "252", "memory"}},
	}
	runCLITests(t, cli, out, tests)
}
