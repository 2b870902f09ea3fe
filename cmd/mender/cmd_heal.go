package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dealcetexplains-png/mender/internal/config"
	"github.com/dealcetexplains-png/mender/internal/heal"
	"github.com/dealcetexplains-png/mender/internal/history"
)

func newHealCmd() *cobra.Command {
	var teamName, teamLeader, authToken string
	var keepWorkspace bool

	cmd := &cobra.Command{
		Use:   "heal <repo-url>",
		Short: "run one healing pass against a repository and print the report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			hist, err := history.Open(cfg.Workspace)
			if err != nil {
				return fmt.Errorf("open history log: %w", err)
			}
			defer hist.Close()

			healer := heal.New(cfg, hist)
			healer.KeepWorkspace = keepWorkspace

			report := healer.Heal(context.Background(), heal.RunRequest{
				RepoURL:    args[0],
				TeamName:   teamName,
				TeamLeader: teamLeader,
				AuthToken:  authToken,
			})

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return err
			}
			if report.CIStatus != "PASSED" {
				return fmt.Errorf("healing did not converge: %s", report.Reason)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&teamName, "team", "mender", "team name used for branch naming")
	cmd.Flags().StringVar(&teamLeader, "leader", "agent", "team leader used for branch naming")
	cmd.Flags().StringVar(&authToken, "token", "", "bearer token for private repositories (overrides GITHUB_TOKEN)")
	cmd.Flags().BoolVar(&keepWorkspace, "keep-workspace", false, "keep the per-run working directory for debugging")
	return cmd
}
