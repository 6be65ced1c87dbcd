package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/trezcool/gradebook/core/mapping"
)

func (cli *commandLine) newMappingCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mapping",
		Short: "Discover, check and repair the course mappings",
		RunE:  helpRunE,
	}
	cmd.AddCommand(
		cli.newMappingRunCommand(),
		cli.newMappingValidateCommand(),
		cli.newMappingCleanCommand(),
		cli.newMappingFixCommand(),
		cli.newMappingReportCommand(),
		cli.newMappingSuggestCommand(),
		cli.newMappingBackupsCommand(),
	)
	return cmd
}

// optimizeFlags binds the flags shared by `mapping run` and `mapping report`.
func optimizeFlags(cmd *cobra.Command, req *mapping.OptimizeRequest) {
	cmd.Flags().StringVar(&req.Strategy, "strategy", "", "CONSERVATIVE, BALANCED or AGGRESSIVE (default: the configured strategy)")
	cmd.Flags().BoolVar(&req.ForceRefresh, "refresh", false, "Bypass the course cache")
	cmd.Flags().BoolVar(&req.KeepExisting, "keep-existing", false, "Append to the stored mappings instead of replacing them")
	cmd.Flags().BoolVar(&req.SkipBackup, "no-backup", false, "Do not back up the stored mappings first")
}

func (cli *commandLine) newMappingRunCommand() *cobra.Command {
	var (
		req   mapping.OptimizeRequest
		email bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the whole workflow: discovery, cleanup, validation and report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := cli.services(cmd.Context())
			if err != nil {
				return err
			}
			if req.Strategy == "" {
				req.Strategy = cli.conf.Mapping.Strategy
			}
			if err := req.Validate(app.Validate); err != nil {
				return err
			}

			wf, err := app.Mapping.ExecuteComplete(cmd.Context(), req.Options())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			rows := [][]string{phaseRow("discovery", wf.Phases.Discovery)}
			for _, p := range []struct {
				name  string
				phase *mapping.Phase
			}{{"cleanup", wf.Phases.Cleanup}, {"validation", wf.Phases.Validation}, {"reporting", wf.Phases.Reporting}} {
				if p.phase != nil {
					rows = append(rows, phaseRow(p.name, p.phase))
				}
			}
			renderTable(out, []string{"Phase", "Duration", "Result"}, rows)

			s := wf.Summary
			fmt.Fprintf(out, "%d courses, %d mappings (%d%% complete), data quality %d/100, %d improvements\n",
				s.CoursesProcessed, s.MappingsCreated, s.CompletionRate, s.DataQualityScore, s.TotalImprovements)
			printList(out, "Recommendations", wf.Recommendations)

			if email && wf.Report != nil {
				cli.mail(cmd, app.Mailer, wf.Report.EmailMessage(cli.conf.ReportRecipients))
			}
			return nil
		},
	}
	optimizeFlags(cmd, &req)
	cmd.Flags().BoolVar(&req.SkipCleaning, "no-clean", false, "Skip the cleanup phase")
	cmd.Flags().BoolVar(&email, "email", false, "Mail the report to the report recipients")
	return cmd
}

func phaseRow(name string, p *mapping.Phase) []string {
	if p == nil {
		return []string{name, "", "skipped"}
	}
	res := "ok"
	if !p.Success {
		res = "failed: " + p.Error
	}
	return []string{name, p.Duration.String(), res}
}

func printList(out io.Writer, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintln(out, title+":")
	for _, item := range items {
		fmt.Fprintf(out, "  - %s\n", item)
	}
}

func printIssues(out io.Writer, issues []mapping.Issue) {
	rows := make([][]string, 0, len(issues))
	for _, is := range issues {
		idx := ""
		if is.Index != nil {
			idx = strconv.Itoa(*is.Index)
		}
		rows = append(rows, []string{string(is.Severity), string(is.Type), idx, is.Message})
	}
	renderTable(out, []string{"Severity", "Type", "Row", "Message"}, rows, 3)
}

func (cli *commandLine) newMappingValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the stored mappings against the taxonomy and the live courses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := cli.services(cmd.Context())
			if err != nil {
				return err
			}
			rep, err := app.Mapping.Integrity(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			c := rep.Checks
			renderTable(out, []string{"Check", "Score"}, [][]string{
				{"data quality", fmt.Sprintf("%.0f", c.DataQuality.Score)},
				{"consistency", fmt.Sprintf("%.0f", c.Consistency.Score)},
				{"completeness", fmt.Sprintf("%.0f", c.Completeness.Score)},
				{"accuracy", fmt.Sprintf("%.0f", c.Accuracy.Score)},
			}, 2)
			fmt.Fprintf(out, "overall: %s (%d/100)\n", rep.Overall.Status, rep.Overall.Score)
			printIssues(out, rep.Issues)
			printList(out, "Recommendations", rep.Recommendations)
			return nil
		},
	}
}

func (cli *commandLine) newMappingBackupsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "backups",
		Short: "List the backups taken before the stored mappings were replaced, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := cli.services(cmd.Context())
			if err != nil {
				return err
			}
			ids, err := app.Mapping.Backups(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%d backup(s)\n", len(ids))
			for _, id := range ids {
				fmt.Fprintln(out, id)
			}
			return nil
		},
	}
}

func (cli *commandLine) newMappingCleanCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Standardize the names and subjects of the stored mappings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := cli.services(cmd.Context())
			if err != nil {
				return err
			}
			res, err := app.Mapping.CleanAndStandardize(cmd.Context())
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(res.Log))
			for _, l := range res.Log {
				rows = append(rows, []string{l.CourseID, l.Type, l.Before, l.After})
			}
			out := cmd.OutOrStdout()
			renderTable(out, []string{"Course ID", "Change", "Before", "After"}, rows)
			fmt.Fprintf(out, "%d of %d mappings cleaned\n", res.Statistics.TotalCleaned, res.Statistics.TotalProcessed)
			if res.Write.BackupID != "" {
				fmt.Fprintf(out, "backup: %s\n", res.Write.BackupID)
			}
			return nil
		},
	}
}

func (cli *commandLine) newMappingFixCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "fix",
		Short: "Validate the stored mappings and repair what can be repaired",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := cli.services(cmd.Context())
			if err != nil {
				return err
			}
			v, err := app.Mapping.Validate(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(v.Issues) == 0 {
				fmt.Fprintln(out, "no issue found")
				return nil
			}

			res, err := app.Mapping.QuickFix(cmd.Context(), v.Issues)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(res.Fixes))
			for _, f := range res.Fixes {
				rows = append(rows, []string{f.Type, f.Description})
			}
			renderTable(out, []string{"Fix", "Description"}, rows)
			fmt.Fprintf(out, "%d of %d issues fixed\n", res.Statistics.IssuesFixed, res.Statistics.IssuesProvided)
			return nil
		},
	}
}

func (cli *commandLine) newMappingReportCommand() *cobra.Command {
	var (
		req   mapping.OptimizeRequest
		email bool
	)
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Rediscover the mappings and report on them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := cli.services(cmd.Context())
			if err != nil {
				return err
			}
			if req.Strategy == "" {
				req.Strategy = cli.conf.Mapping.Strategy
			}
			if err := req.Validate(app.Validate); err != nil {
				return err
			}
			run, err := app.Mapping.Run(cmd.Context(), req.Options().RunOptions)
			if err != nil {
				return err
			}
			rep, err := app.Mapping.Report(run)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, rep.Title)
			printList(out, "Insights", rep.Insights)
			rows := make([][]string, 0, len(rep.ActionItems))
			for _, item := range rep.ActionItems {
				rows = append(rows, []string{strconv.Itoa(item.ID), string(item.Priority), item.Description})
			}
			renderTable(out, []string{"#", "Priority", "Action"}, rows, 1)

			if email {
				cli.mail(cmd, app.Mailer, rep.EmailMessage(cli.conf.ReportRecipients))
			}
			return nil
		},
	}
	optimizeFlags(cmd, &req)
	cmd.Flags().BoolVar(&email, "email", false, "Mail the report to the report recipients")
	return cmd
}

func (cli *commandLine) newMappingSuggestCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "suggest CLASS SUBJECT",
		Short: `Suggest courses for a missing mapping, e.g. suggest "G1 Achievers" LT`,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := cli.services(cmd.Context())
			if err != nil {
				return err
			}
			req := mapping.SuggestionsRequest{ClassName: args[0], Subject: args[1]}
			if err := req.Validate(app.Validate); err != nil {
				return err
			}
			suggestions, err := app.Mapping.MissingSuggestions(cmd.Context(), req.ClassName, req.Subject)
			if err != nil {
				return err
			}

			var rows [][]string
			for _, s := range suggestions {
				for _, alt := range s.Alternatives {
					rows = append(rows, []string{alt.CourseID, alt.CourseName, strconv.Itoa(alt.MatchScore), alt.Reason})
				}
			}
			renderTable(cmd.OutOrStdout(), []string{"Course ID", "Name", "Score", "Reason"}, rows, 3)
			return nil
		},
	}
}
