package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dealcetexplains-png/mender/internal/config"
	"github.com/dealcetexplains-png/mender/internal/heal"
	"github.com/dealcetexplains-png/mender/internal/history"
	"github.com/dealcetexplains-png/mender/internal/server"
)

func newServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "serve the healing agent over HTTP",
		Args:  cobra.NoArgs,
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
			srv := server.New(server.Config{Addr: addr}, healer.Heal)
			return srv.ListenAndServe()
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	return cmd
}
