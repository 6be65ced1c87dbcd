package main

import (
	"github.com/spf13/cobra"

	"github.com/trezcool/gradebook/storage/database"
)

var gooseRunFunc = database.Migrate // mockable

func (cli *commandLine) newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate COMMAND [ARGS]",
		Short: "Run a goose command (up, up-to VERSION, down, down-to VERSION, redo, reset, status, version, create NAME, fix)",
		// goose parses its own arguments
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return helpRunE(cmd, args)
			}
			db, err := cli.database(cmd.Context())
			if err != nil {
				return err
			}
			return gooseRunFunc(cmd.Context(), db, args[0], args[1:]...)
		},
	}
}
