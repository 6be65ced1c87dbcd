package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func (cli *commandLine) newBatchesCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "batches",
		Short: "List the last batch operations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := cli.services(cmd.Context())
			if err != nil {
				return err
			}
			runs, err := app.Batches.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(runs))
			for _, r := range runs {
				st := r.Statistics
				outcome := "done"
				if r.Aborted {
					outcome = "aborted: " + r.AbortReason
				}
				rows = append(rows, []string{
					r.StartedAt.Local().Format(timeLayout), r.Operation, strconv.Itoa(st.Total),
					strconv.Itoa(st.Successful), strconv.Itoa(st.Failed), outcome,
				})
			}
			renderTable(cmd.OutOrStdout(), []string{"Started", "Operation", "Total", "OK", "Failed", "Outcome"}, rows, 3, 4, 5)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Number of batches to show")
	return cmd
}

func (cli *commandLine) newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the configuration in use and the API usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := cli.services(cmd.Context())
			if err != nil {
				return err
			}
			st := app.Classroom.Status()
			renderTable(cmd.OutOrStdout(), []string{"Setting", "Value"}, [][]string{
				{"environment", cli.conf.Env},
				{"build", cli.conf.Build},
				{"mapping store", cli.conf.Mapping.Store},
				{"mapping strategy", cli.conf.Mapping.Strategy},
				{"grades", strconv.Itoa(len(app.Taxonomy.GradeCodes()))},
				{"expected mappings", strconv.Itoa(len(app.Taxonomy.ExpectedCombinations()))},
				{"cached entries", strconv.Itoa(st.CacheSize)},
				{"calls this minute", strconv.Itoa(st.RateLimiter.CallCount)},
				{"calls today", strconv.Itoa(st.RateLimiter.DailyCount)},
				{"healthy", fmt.Sprint(st.RateLimiter.Healthy)},
			})
			return nil
		},
	}
}
