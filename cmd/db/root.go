package db

import (
	"github.com/snowflake-kv/sfdash/cmd/util"
	"github.com/spf13/cobra"
)

var (
	dbSession *util.Session

	// DatabaseCommands represents the database command group
	DatabaseCommands = &cobra.Command{
		Use:                "db",
		Short:              "Perform database operations",
		PersistentPreRunE:  setupSession,
		PersistentPostRunE: closeSession,
	}
)

func init() {
	// Add subcommands
	DatabaseCommands.AddCommand(getCmd)
	DatabaseCommands.AddCommand(setCmd)
	DatabaseCommands.AddCommand(rmCmd)
	DatabaseCommands.AddCommand(listCmd)
	DatabaseCommands.AddCommand(statsCmd)
	DatabaseCommands.AddCommand(typesCmd)
	DatabaseCommands.AddCommand(persistCmd)
	DatabaseCommands.AddCommand(reloadCmd)
	DatabaseCommands.AddCommand(benchCmd)
	DatabaseCommands.AddCommand(perfTestCmd)
}

// setupSession connects with the saved access key
func setupSession(cmd *cobra.Command, _ []string) error {
	var err error
	dbSession, err = util.OpenSession(cmd.Context(), "")
	return err
}

func closeSession(_ *cobra.Command, _ []string) error {
	if dbSession == nil {
		return nil
	}
	return dbSession.Close()
}
