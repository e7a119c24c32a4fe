package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/git-clone-worker/internal/config"
)

func newWorkCmd() *cobra.Command {
	var localRepos []string
	cmd := &cobra.Command{
		Use:   "work",
		Short: "Connect to the coordinator and process clone jobs until shut down",
		Long: `Connects to the coordinator, subscribes to the job collection, and works
through ready clone jobs. SIGQUIT or a first SIGINT drains the current job
before exiting; SIGTERM or a second SIGINT exits immediately.

With --local the coordinator is replaced by an in-process queue seeded with
the given repositories.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if len(localRepos) > 0 {
				cfg.Queue.LocalRepos = localRepos
			}
			app, err := buildApp(cmd.Context(), &cfg)
			if err != nil {
				return fmt.Errorf("build application: %w", err)
			}
			if err := app.Run(cmd.Context()); err != nil {
				return fmt.Errorf("run worker: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&localRepos, "local", nil, "repositories to clone with an in-process coordinator (owner/name)")
	return cmd
}
