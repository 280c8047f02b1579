/*
Copyright 2026 Adevinta
*/

// Command vulcan-aikido-report publishes the open high and critical Aikido
// findings of a project as a comment on the GitLab merge request of the
// running pipeline.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	uuid "github.com/satori/go.uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const toolName = "vulcan-aikido-report"

func main() {
	logger := logrus.New()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := newRootCmd(logger, os.LookupEnv)
	if err := cmd.ExecuteContext(ctx); err != nil {
		logger.WithField("tool", toolName).Error(err)
		stop()
		os.Exit(1)
	}
}

// newRootCmd returns the command. Flags not given on the command line are
// read with lookup.
func newRootCmd(logger *logrus.Logger, lookup envLookup) *cobra.Command {
	var (
		envFile string
		dryRun  bool
	)

	cmd := &cobra.Command{
		Use:   toolName,
		Short: "Comment Aikido findings on GitLab merge requests",
		Long: `vulcan-aikido-report retrieves the open issues that Aikido reports for the
project of the running pipeline and keeps a single comment with the high and
critical ones up to date on the merge request.

Every flag defaults to the environment variable shown in its description, as
set by GitLab CI.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			entry := logger.WithFields(logrus.Fields{
				"tool":   toolName,
				"run_id": uuid.NewV4().String(),
			})

			explicit := cmd.Flags().Changed("env-file")
			env, err := envWithDotenv(lookup, envFile, explicit)
			if err != nil {
				return err
			}
			values, err := resolveOptions(cmd.Flags(), env)
			if err != nil {
				return err
			}

			cfg, err := loadConfig(values, entry)
			if errors.Is(err, errNotMergeRequest) {
				entry.Info("Not running in merge request")
				return nil
			}
			if err != nil {
				return err
			}
			cfg.DryRun = dryRun
			configureLogger(logger, cfg)

			return run(cmd.Context(), cfg, entry, cmd.OutOrStdout())
		},
	}

	bindOptions(cmd.Flags())
	cmd.Flags().StringVar(&envFile, "env-file", defaultEnvFile, "dotenv file with default values for the environment")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the comment instead of posting it")
	return cmd
}

func configureLogger(logger *logrus.Logger, cfg *Config) {
	logger.SetLevel(cfg.LogLevel)
	if cfg.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
}
