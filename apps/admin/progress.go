package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/trezcool/gradebook/core"
	"github.com/trezcool/gradebook/core/assessment"
)

func (cli *commandLine) newProgressCommand() *cobra.Command {
	var (
		classes bool
		email   bool
	)
	cmd := &cobra.Command{
		Use:   "progress",
		Short: "Show how far the teachers got entering the assessment scores",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := cli.services(cmd.Context())
			if err != nil {
				return err
			}
			rep, err := app.Evaluator.Run(cmd.Context(), app.Gradebooks)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			rows := make([][]string, 0, len(rep.Teachers))
			for _, tp := range rep.Teachers {
				rows = append(rows, []string{
					tp.Teacher, strconv.Itoa(tp.Classes), fmt.Sprintf("%d/%d", tp.Entered, tp.Expected),
					percent(tp.Rate), string(tp.Level),
				})
			}
			renderTable(out, []string{"Teacher", "Classes", "Entered", "Rate", "Level"}, rows, 2, 3, 4)

			if classes {
				rows = make([][]string, 0, len(rep.Classes))
				for _, cp := range rep.Classes {
					rows = append(rows, classRow(cp))
				}
				renderTable(out, []string{"Teacher", "Class", "Subject", "Rate", "Average", "Pending"}, rows, 4, 5)
			}
			fmt.Fprintf(out, "overall: %d/%d scores entered (%s, %s)\n",
				rep.Overall.Entered, rep.Overall.Expected, percent(rep.Overall.Rate), rep.Overall.Level)

			if email {
				cli.mail(cmd, app.Mailer, rep.EmailMessage(cli.conf.ReportRecipients))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&classes, "classes", false, "Also show every class")
	cmd.Flags().BoolVar(&email, "email", false, "Mail the report to the report recipients")
	return cmd
}

func classRow(cp assessment.ClassProgress) []string {
	return []string{
		cp.Teacher, cp.ClassName, cp.Subject, percent(cp.Rate),
		strconv.FormatFloat(cp.Average, 'f', 2, 64), strings.Join(cp.Pending, ", "),
	}
}

// mail sends msg when report recipients are configured.
func (cli *commandLine) mail(cmd *cobra.Command, mailer core.EmailService, msg *core.EmailMessage) {
	if !msg.HasRecipients() {
		fmt.Fprintln(cmd.ErrOrStderr(), "no report recipients configured: nothing mailed")
		return
	}
	mailer.SendMessages(msg)
	fmt.Fprintf(cmd.OutOrStdout(), "report mailed to %d recipient(s)\n", len(msg.To))
}
