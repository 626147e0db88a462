package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kittclouds/dice/pkg/proposition"
)

func newStatsCmd() *cobra.Command {
	var contextID string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Report proposition counts, mean confidence, and fast-path hit rate for a context",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			active, err := repo.Query(ctx, proposition.New(contextID).WithStatus(proposition.StatusActive))
			if err != nil {
				return err
			}
			retired, err := repo.Query(ctx, proposition.New(contextID).WithStatus(proposition.StatusRetired))
			if err != nil {
				return err
			}

			now := time.Now()
			var sumConfidence float64
			for _, p := range active {
				sumConfidence += p.EffectiveConfidence(now)
			}
			total := len(active) + len(retired)
			mean := 0.0
			if len(active) > 0 {
				mean = sumConfidence / float64(len(active))
			}

			fastPath, totalRevisions, err := repo.RevisionStats(ctx, contextID)
			if err != nil {
				return err
			}
			fastPathRate := 0.0
			if totalRevisions > 0 {
				fastPathRate = float64(fastPath) / float64(totalRevisions)
			}

			fmt.Printf("context:             %s\n", contextID)
			fmt.Printf("propositions:        %d (active %d, retired %d)\n", total, len(active), len(retired))
			fmt.Printf("mean confidence:     %.3f (active only)\n", mean)
			fmt.Printf("fast-path hit rate:  %.3f (%d/%d revisions)\n", fastPathRate, fastPath, totalRevisions)
			return nil
		},
	}

	cmd.Flags().StringVar(&contextID, "context", "", "DICE context id to report on")
	cmd.MarkFlagRequired("context")
	return cmd
}
