// Package cmd defines the CLI commands for the git-clone-worker executable.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/git-clone-worker/internal/config"
	"github.com/JakeFAU/git-clone-worker/internal/server"
)

var cfgFile string

// buildApp is a variable so tests can substitute the application factory.
var buildApp = func(ctx context.Context, cfg *config.Config) (runner, error) {
	return server.Build(ctx, cfg)
}

// runner is the slice of *server.App the commands drive.
type runner interface {
	Run(ctx context.Context) error
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "git-clone-worker",
		Short: "Clones repositories handed out by a remote job coordinator.",
		Long: `git-clone-worker claims clone jobs from a DDP job coordinator one at a time,
fetches each repository, removes checkouts that exceed the size budget, and
reports every job as done or failed.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML config file")
	cmd.AddCommand(newWorkCmd())
	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		zap.L().Error("Command execution failed", zap.Error(err))
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
