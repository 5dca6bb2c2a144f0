package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/snowflake-kv/sfdash/cmd/account"
	"github.com/snowflake-kv/sfdash/cmd/db"
	"github.com/snowflake-kv/sfdash/cmd/monitor"
	"github.com/snowflake-kv/sfdash/cmd/util"
	"github.com/snowflake-kv/sfdash/rpc/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	Version = "1.0.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "sfdash",
		Short: "command line dashboard for Snowflake databases",
		Long: fmt.Sprintf(`sfdash (v%s)

A command line client for the dashboard socket of a Snowflake key-value
database: inspect and edit entries, watch statistics and run maintenance.`, Version),
		SilenceUsage:      true,
		PersistentPreRunE: setupRoot,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of sfdash",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("sfdash v%s\n", Version)
		},
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitClientConfig)

	// Run the persistent hooks of every parent, not only the closest one
	cobra.EnableTraverseRunHooks = true

	// Add Commands
	RootCmd.AddCommand(account.LoginCmd)
	RootCmd.AddCommand(account.LogoutCmd)
	RootCmd.AddCommand(account.StatusCmd)
	RootCmd.AddCommand(db.DatabaseCommands)
	RootCmd.AddCommand(monitor.MonitorCommands)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "log-level"
	RootCmd.PersistentFlags().String(key, "warn", util.WrapString("Log level (debug, info, warn, error)"))
	util.SetupClientFlags(RootCmd)
}

// setupRoot binds the flags and configures the loggers
func setupRoot(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}
	return common.InitLoggers(viper.GetString("log-level"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := RootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
