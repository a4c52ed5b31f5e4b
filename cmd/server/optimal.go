package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/reelhub/publish-queue/internal/config"
	"github.com/reelhub/publish-queue/internal/domain"
	"github.com/reelhub/publish-queue/internal/optimal"
)

func optimalCmd() *cobra.Command {
	var from string

	cmd := &cobra.Command{
		Use:   "optimal <platform>",
		Short: "Print the next recommended publish time for a platform",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			platforms, err := config.LoadPlatforms()
			if err != nil {
				return err
			}
			calc, err := optimal.New((&config.Config{Platforms: platforms}).OptimalRules())
			if err != nil {
				return err
			}

			now := time.Now().UTC()
			if from != "" {
				if now, err = time.Parse(time.RFC3339, from); err != nil {
					return fmt.Errorf("--from: %w", err)
				}
			}

			at, err := calc.NextOptimalTime(domain.Platform(args[0]), now)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), at.UTC().Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "reference instant (RFC3339), defaults to now")
	return cmd
}
