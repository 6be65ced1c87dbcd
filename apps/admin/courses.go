package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/trezcool/gradebook/core/classroom"
	"github.com/trezcool/gradebook/core/progress"
)

const timeLayout = "2006-01-02 15:04"

func (cli *commandLine) newCoursesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "courses",
		Short: "List, create, update and archive courses",
		RunE:  helpRunE,
	}
	cmd.AddCommand(
		cli.newCoursesListCommand(),
		cli.newCoursesCreateCommand(),
		cli.newCoursesUpdateCommand(),
		cli.newCoursesArchiveCommand(),
	)
	return cmd
}

func (cli *commandLine) newCoursesListCommand() *cobra.Command {
	var (
		state   string
		refresh bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the active courses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := cli.services(cmd.Context())
			if err != nil {
				return err
			}
			courses, err := app.Classroom.ListAllCourses(cmd.Context(), classroom.ListOptions{ForceRefresh: refresh})
			if err != nil {
				return err
			}

			state = strings.ToUpper(strings.TrimSpace(state))
			rows := make([][]string, 0, len(courses))
			for _, c := range courses {
				if state != "" && string(c.State) != state {
					continue
				}
				rows = append(rows, courseRow(c))
			}
			renderTable(cmd.OutOrStdout(), []string{"ID", "Name", "Section", "State", "Created"}, rows)
			fmt.Fprintf(cmd.OutOrStdout(), "%d course(s)\n", len(rows))
			return nil
		},
	}
	cmd.Flags().StringVar(&state, "state", "", "Only list courses in this state")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "Bypass the course cache")
	return cmd
}

func courseRow(c classroom.Course) []string {
	created := ""
	if !c.CreatedAt.IsZero() {
		created = c.CreatedAt.Local().Format(timeLayout)
	}
	return []string{c.ID, c.Name, c.Section, string(c.State), created}
}

func (cli *commandLine) newCoursesCreateCommand() *cobra.Command {
	var owner, file string
	cmd := &cobra.Command{
		Use:   "create [NAME...]",
		Short: "Create one course per name",
		RunE: func(cmd *cobra.Command, args []string) error {
			names := args
			if file != "" {
				lines, err := readLines(file)
				if err != nil {
					return err
				}
				names = append(names, lines...)
			}
			if len(names) == 0 {
				return helpRunE(cmd, args)
			}

			app, err := cli.services(cmd.Context())
			if err != nil {
				return err
			}
			data := classroom.NewCourses{Names: names, OwnerID: owner}
			if err := data.Validate(app.Validate); err != nil {
				return err
			}

			batch, err := app.Classroom.CreateCoursesBatch(cmd.Context(), data.Names, data.OwnerID, classroom.BatchOptions{})
			if err != nil {
				return err
			}
			app.Batches.Report(cmd.Context(), batch.Summary)

			rows := make([][]string, 0, len(batch.Results))
			for _, res := range batch.Results {
				rows = append(rows, []string{res.Name, res.CourseID, result(res.Success, res.Error)})
			}
			renderTable(cmd.OutOrStdout(), []string{"Name", "Course ID", "Result"}, rows)
			printSummary(cmd.OutOrStdout(), batch.Summary)
			if !batch.Success {
				return errBatchIncomplete
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "Owner of the courses (default: the configured owner)")
	cmd.Flags().StringVarP(&file, "file", "f", "", "Read the names from a file, one per line")
	return cmd
}

func result(ok bool, errMsg string) string {
	if ok {
		return "ok"
	}
	return "failed: " + errMsg
}

func printSummary(out io.Writer, s progress.Summary) {
	st := s.Statistics
	fmt.Fprintf(out, "%s: %d succeeded, %d failed, %d skipped in %s\n",
		s.Operation, st.Successful, st.Failed, st.Warnings, progress.FormatDuration(st.Duration))
	if s.Aborted {
		fmt.Fprintf(out, "aborted: %s\n", s.AbortReason)
	}
}

// readLines returns the non-blank lines of path; lines starting with # are skipped.
func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	return lines, sc.Err()
}

func (cli *commandLine) newCoursesUpdateCommand() *cobra.Command {
	var upd classroom.Update
	var state string
	cmd := &cobra.Command{
		Use:   "update COURSE_ID",
		Short: "Rename a course or change its section or state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := cli.services(cmd.Context())
			if err != nil {
				return err
			}
			upd.State = classroom.CourseState(strings.ToUpper(strings.TrimSpace(state)))
			if err := upd.Validate(app.Validate); err != nil {
				return err
			}
			course, err := app.Classroom.UpdateCourse(cmd.Context(), args[0], upd)
			if err != nil {
				return err
			}
			renderTable(cmd.OutOrStdout(), []string{"ID", "Name", "Section", "State", "Created"}, [][]string{courseRow(course)})
			return nil
		},
	}
	cmd.Flags().StringVar(&upd.Name, "name", "", "New name")
	cmd.Flags().StringVar(&upd.Section, "section", "", "New section")
	cmd.Flags().StringVar(&state, "state", "", "New state (ACTIVE, ARCHIVED, PROVISIONED, DECLINED, SUSPENDED)")
	return cmd
}

func (cli *commandLine) newCoursesArchiveCommand() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "archive COURSE_ID",
		Short: "Archive a course",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cli.confirm(cmd, yes, fmt.Sprintf("Archive course %s?", args[0])); err != nil {
				return err
			}
			app, err := cli.services(cmd.Context())
			if err != nil {
				return err
			}
			course, err := app.Classroom.ArchiveCourse(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "archived %s (%s)\n", course.Name, course.ID)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")
	return cmd
}
