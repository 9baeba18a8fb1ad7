package main

import (
	"os"

	"github.com/spf13/cobra"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "ticketbot",
		Short: "Discord ticket bot",
		Long:  `ticketbot runs community tickets on Discord: lifecycle, verification, housekeeping, transcripts and theoryhunts.`,
		RunE:  runBot,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file (default: ./config.yaml or ./configs/config.yaml)")

	rootCmd.AddCommand(
		newRunCommand(),
		newMigrateCommand(),
		newCommandsCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
