// Command vaultd serves the shared vault ledger.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/LerianStudio/shared-vault/vault/config"
	"github.com/LerianStudio/shared-vault/vault/derivation"
	"github.com/LerianStudio/shared-vault/vault/ledger"
	"github.com/LerianStudio/shared-vault/vault/log"
	"github.com/LerianStudio/shared-vault/vault/postgres"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// version is set at build time with -ldflags "-X main.version=...".
var version string

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "vaultd",
		Short:        "Pooled custodial vault ledger",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("VAULTD_CONFIG"), "path to a YAML configuration file")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP API and the outbox dispatcher",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runServe(cmd.Context(), configPath)
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply the Postgres schema migrations and exit",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runMigrate(cmd.Context(), configPath)
			},
		},
		newDeriveCommand(&configPath),
		newConfigCommand(&configPath),
	)

	return root
}

func newDeriveCommand(configPath *string) *cobra.Command {
	var program string

	cmd := &cobra.Command{
		Use:   "derive",
		Short: "Print the custody binding derived for the program identity",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(program) == "" {
				cfg, err := config.Load(*configPath)
				if err != nil {
					return err
				}

				program = cfg.Service.ProgramID
			}

			id, err := ledger.ParseIdentity(program)
			if err != nil {
				return fmt.Errorf("program: %w", err)
			}

			binding, err := derivation.DeriveBinding(id.Address())
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")

			return enc.Encode(binding)
		},
	}

	cmd.Flags().StringVar(&program, "program", "", "program identity (defaults to service.program_id)")

	return cmd
}

func newConfigCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration with secrets masked",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}

			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)

			if err := enc.Encode(cfg.Redacted()); err != nil {
				return err
			}

			return enc.Close()
		},
	}
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if version != "" {
		cfg.Service.Version = version
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	logger.Log(ctx, log.LevelInfo, "configuration loaded", log.Any("config", cfg.Redacted()))

	svc, err := bootstrap(ctx, cfg, logger)
	if err != nil {
		logger.Log(ctx, log.LevelError, "bootstrap failed", log.Err(err))
		_ = logger.Sync(ctx)

		return err
	}

	return svc.launcher.RunWithError()
}

func runMigrate(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	defer func() { _ = logger.Sync(ctx) }()

	if cfg.Postgres.PrimaryDSN == "" {
		return postgres.ErrPrimaryDSNRequired
	}

	conn := &postgres.Connection{PrimaryDSN: cfg.Postgres.PrimaryDSN, Logger: logger}
	if err := conn.Connect(ctx); err != nil {
		return err
	}

	defer func() { _ = conn.Close() }()

	return conn.Migrate(ctx)
}
