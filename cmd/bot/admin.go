package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/user/ticketbot/internal/commands"
	"github.com/user/ticketbot/internal/discord"
	"github.com/user/ticketbot/internal/storage"
	"github.com/user/ticketbot/pkg/logger"
)

func newMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database migration tools",
		RunE:  runMigrateUp,
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE:  runMigrateUp,
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show migration status",
			RunE:  runMigrateStatus,
		},
	)
	return cmd
}

func runMigrateUp(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := storage.NewDatabase(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	defer db.Close()

	version, err := db.MigrationVersion()
	if err != nil {
		return err
	}
	logger.Info().Int64("version", version).Str("path", cfg.Database.Path).Msg("Database is up to date")
	return nil
}

func runMigrateStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := storage.OpenDatabase(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	states, err := db.MigrationStatus()
	if err != nil {
		return err
	}
	for _, s := range states {
		status := "pending"
		if s.Applied {
			status = "applied"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%05d  %-8s %s\n", s.Version, status, s.Source)
	}
	return nil
}

func newCommandsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "commands",
		Short: "Manage the bot's slash commands",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "register",
			Short: "Register slash commands in the configured server",
			RunE:  runCommandsRegister,
		},
		&cobra.Command{
			Use:   "withdraw",
			Short: "Remove every slash command from the configured server",
			RunE:  runCommandsWithdraw,
		},
	)
	return cmd
}

func runCommandsRegister(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	session, err := discord.NewSession(cfg.Discord.Token)
	if err != nil {
		return err
	}

	// only names, descriptions and options are read when registering
	router := commands.NewRouter(commands.Default(commands.Deps{})...)
	n, err := discord.RegisterCommands(session, cfg.Discord.AppID, cfg.Deployment().ServerID, router)
	if err != nil {
		return err
	}
	logger.Info().Int("count", n).Str("server_id", cfg.Deployment().ServerID).Msg("Slash commands registered")
	return nil
}

func runCommandsWithdraw(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	session, err := discord.NewSession(cfg.Discord.Token)
	if err != nil {
		return err
	}
	if err := discord.WithdrawCommands(session, cfg.Discord.AppID, cfg.Deployment().ServerID); err != nil {
		return err
	}
	logger.Info().Str("server_id", cfg.Deployment().ServerID).Msg("Slash commands withdrawn")
	return nil
}
