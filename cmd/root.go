package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.olrik.dev/logwarden/internal/core"
	"go.olrik.dev/logwarden/internal/daemon"
)

func NewRootCommand() *cobra.Command {
	var configPath string
	var verbose int

	homeDir, _ := os.UserHomeDir()

	rootCmd := &cobra.Command{
		Use:   "logwarden",
		Short: "logwarden - log tailing and process watchdog daemon",
		Long: `logwarden tails the system log, fans matching lines out to attached
subscribers and a persistent log file, and watches over a supervised process.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := core.LoadConfigFromDir(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("verbose") {
				cfg.Verbose = verbose
			}
			core.Config = cfg

			daemon.SetupLogging(os.Stderr, cfg.Verbose)
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(
		&configPath, "config-path", fmt.Sprintf("%s/%s", homeDir, core.BaseDirName),
		"config path",
	)
	rootCmd.PersistentFlags().CountVarP(&verbose, "verbose", "v", "more output, repeat for even more")

	rootCmd.AddCommand(
		NewDaemonCommand(),
		NewStartCommand(),
		NewStopCommand(),
		NewRestartCommand(),
		NewStatusCommand(),
		NewPingCommand(),
		NewAttachCommand(),
		NewTailCommand(),
		NewLogsCommand(),
		NewEventsCommand(),
		NewVersionCommand(),
	)

	return rootCmd
}
