package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/trezcool/gradebook/core/classroom"
)

func (cli *commandLine) newMembersCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "members",
		Short: "Manage the teachers and students of courses",
		RunE:  helpRunE,
	}
	cmd.AddCommand(
		cli.newMembersListCommand(),
		cli.newMembersAddCommand(),
		cli.newMembersRemoveCommand(),
	)
	return cmd
}

func (cli *commandLine) newMembersListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list COURSE_ID",
		Short: "List the teachers and students of a course",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := cli.services(cmd.Context())
			if err != nil {
				return err
			}
			members, err := app.Classroom.GetCourseMembers(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(members.Teachers)+len(members.Students))
			for _, m := range append(members.Teachers, members.Students...) {
				rows = append(rows, []string{string(m.Role), m.Email, m.FullName})
			}
			renderTable(cmd.OutOrStdout(), []string{"Role", "Email", "Name"}, rows)
			return nil
		},
	}
}

func (cli *commandLine) newMembersAddCommand() *cobra.Command {
	var (
		role         string
		file         string
		skipExisting bool
	)
	cmd := &cobra.Command{
		Use:   "add [COURSE_ID EMAIL...]",
		Short: "Add members to a course, or to several courses with --file",
		Long: "Add members to a course. With --file, each line reads `COURSE_ID,EMAIL`.\n" +
			"With --skip-existing, members already in the course are left alone.",
		RunE: func(cmd *cobra.Command, args []string) error {
			var members []classroom.NewMember
			if len(args) > 1 {
				for _, email := range args[1:] {
					members = append(members, classroom.NewMember{CourseID: args[0], Email: email})
				}
			}
			if file != "" {
				lines, err := readLines(file)
				if err != nil {
					return err
				}
				for _, line := range lines {
					courseID, email, _ := strings.Cut(line, ",")
					members = append(members, classroom.NewMember{CourseID: strings.TrimSpace(courseID), Email: strings.TrimSpace(email)})
				}
			}
			if len(members) == 0 {
				return helpRunE(cmd, args)
			}

			app, err := cli.services(cmd.Context())
			if err != nil {
				return err
			}
			data := classroom.NewMembers{Role: classroom.Role(strings.ToUpper(role)), Members: members}
			if err := data.Validate(app.Validate); err != nil {
				return err
			}

			if skipExisting {
				return cli.addIfNotExists(cmd, data)
			}

			batch, err := app.Classroom.AddMembersBatch(cmd.Context(), data.Members, data.Role)
			if err != nil {
				return err
			}
			app.Batches.Report(cmd.Context(), batch.Summary)

			rows := make([][]string, 0, len(batch.Results))
			for _, res := range batch.Results {
				rows = append(rows, []string{res.CourseID, res.Email, result(res.Success, res.Error)})
			}
			renderTable(cmd.OutOrStdout(), []string{"Course ID", "Email", "Result"}, rows)
			printSummary(cmd.OutOrStdout(), batch.Summary)
			if !batch.Success {
				return errBatchIncomplete
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&role, "role", "r", string(classroom.RoleStudent), "TEACHER or STUDENT")
	cmd.Flags().StringVarP(&file, "file", "f", "", "Read COURSE_ID,EMAIL lines from a file")
	cmd.Flags().BoolVar(&skipExisting, "skip-existing", false, "Check the roster first and skip members already in")
	return cmd
}

func (cli *commandLine) addIfNotExists(cmd *cobra.Command, data classroom.NewMembers) error {
	app, err := cli.services(cmd.Context())
	if err != nil {
		return err
	}
	add := app.Classroom.AddStudentIfNotExists
	if data.Role == classroom.RoleTeacher {
		add = app.Classroom.AddTeacherIfNotExists
	}

	var failed int
	rows := make([][]string, 0, len(data.Members))
	for _, m := range data.Members {
		status, err := add(cmd.Context(), m.CourseID, m.Email)
		res := string(status)
		if err != nil {
			failed++
			res = "failed: " + err.Error()
		}
		rows = append(rows, []string{m.CourseID, m.Email, res})
	}
	renderTable(cmd.OutOrStdout(), []string{"Course ID", "Email", "Result"}, rows)
	if failed > 0 {
		return errBatchIncomplete
	}
	return nil
}

func (cli *commandLine) newMembersRemoveCommand() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "remove COURSE_ID EMAIL",
		Short: "Remove a student from a course",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cli.confirm(cmd, yes, fmt.Sprintf("Remove %s from course %s?", args[1], args[0])); err != nil {
				return err
			}
			app, err := cli.services(cmd.Context())
			if err != nil {
				return err
			}
			if err := app.Classroom.RemoveMember(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s from course %s\n", args[1], args[0])
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")
	return cmd
}
