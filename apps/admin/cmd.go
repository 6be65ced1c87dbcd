package main

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/trezcool/gradebook/apps/shared"
	"github.com/trezcool/gradebook/core"
	"github.com/trezcool/gradebook/core/apierror"
	"github.com/trezcool/gradebook/core/progress"
	"github.com/trezcool/gradebook/storage/database"
)

var (
	isTerminalFunc = term.IsTerminal // mockable

	errHelp            = errors.New("help provided")
	errAborted         = errors.New("aborted")
	errNotConfirmed    = errors.New("stdin is not a terminal: pass --yes to confirm")
	errBatchIncomplete = errors.New("some items failed")
)

type commandLine struct {
	conf   *core.Config
	logger core.Logger
	in     io.Reader
	out    io.Writer
	errOut io.Writer

	build  func(ctx context.Context) (*shared.App, error)
	openDB func(ctx context.Context) (*sql.DB, error)

	app *shared.App
	db  *sql.DB
}

func newCommandLine(conf *core.Config, logger core.Logger) *commandLine {
	cli := &commandLine{
		conf:   conf,
		logger: logger,
		in:     os.Stdin,
		out:    os.Stdout,
		errOut: os.Stderr,
	}
	cli.build = func(ctx context.Context) (*shared.App, error) {
		return shared.Build(ctx, conf, logger, shared.Options{
			Presenter: apierror.WriterPresenter{W: cli.errOut},
			Notifier:  progress.ConsoleNotifier{W: cli.errOut},
		})
	}
	cli.openDB = func(ctx context.Context) (*sql.DB, error) {
		if err := database.CreateIfNotExist(ctx, conf); err != nil {
			return nil, err
		}
		db, err := database.Open(conf)
		if err != nil {
			return nil, err
		}
		return db.DB, nil
	}
	return cli
}

// services builds the app on first use, so that `migrate` runs without Classroom credentials.
func (cli *commandLine) services(ctx context.Context) (*shared.App, error) {
	if cli.app == nil {
		app, err := cli.build(ctx)
		if err != nil {
			return nil, err
		}
		cli.app = app
	}
	return cli.app, nil
}

func (cli *commandLine) database(ctx context.Context) (*sql.DB, error) {
	if cli.db == nil {
		db, err := cli.openDB(ctx)
		if err != nil {
			return nil, err
		}
		cli.db = db
	}
	return cli.db, nil
}

func (cli *commandLine) close() {
	if cli.app != nil {
		if err := cli.app.Close(); err != nil {
			cli.logger.Error(fmt.Sprintf("closing app: %v", err), err)
		}
	}
	if cli.db != nil {
		if err := cli.db.Close(); err != nil {
			cli.logger.Error(fmt.Sprintf("closing database: %v", err), err)
		}
	}
}

// run executes args, the program name included.
func (cli *commandLine) run(ctx context.Context, args []string) error {
	root := cli.newRootCommand()
	if len(args) > 0 {
		args = args[1:]
	}
	root.SetArgs(args)
	root.SetIn(cli.in)
	root.SetOut(cli.out)
	root.SetErr(cli.errOut)
	return root.ExecuteContext(ctx)
}

func (cli *commandLine) newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "admin",
		Short:         "Manage the Classroom courses, rosters and course mappings",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          helpRunE,
	}
	root.AddCommand(
		cli.newCoursesCommand(),
		cli.newMembersCommand(),
		cli.newMappingCommand(),
		cli.newProgressCommand(),
		cli.newBatchesCommand(),
		cli.newStatusCommand(),
		cli.newMigrateCommand(),
	)
	return root
}

func helpRunE(cmd *cobra.Command, _ []string) error {
	_ = cmd.Help()
	return errHelp
}

// confirm asks before destructive operations. Without a terminal, --yes is required.
func (cli *commandLine) confirm(cmd *cobra.Command, yes bool, prompt string) error {
	if yes {
		return nil
	}
	if !isTerminalFunc(int(os.Stdin.Fd())) {
		return errNotConfirmed
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s [y/N]: ", prompt)
	answer, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && err != io.EOF {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return nil
	default:
		return errAborted
	}
}
