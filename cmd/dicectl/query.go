package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kittclouds/dice/pkg/proposition"
)

func newQueryCmd() *cobra.Command {
	var contextID, entityID, status string
	var minConfidence float64
	var limit int

	cmd := &cobra.Command{
		Use:   "query",
		Short: "List propositions matching a filter",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := proposition.New(contextID)
			if entityID != "" {
				q = q.WithEntityID(entityID)
			}
			if minConfidence > 0 {
				q = q.WithMinEffectiveConfidence(minConfidence)
			}
			if status != "" {
				q = q.WithStatus(proposition.Status(status))
			}
			if limit > 0 {
				q = q.WithLimit(limit)
			}

			results, err := repo.Query(cmd.Context(), q)
			if err != nil {
				return err
			}
			now := time.Now()
			for _, p := range results {
				fmt.Printf("%s\t%.3f\t%s\n", p.ID, p.EffectiveConfidence(now), p.Text)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&contextID, "context", "", "DICE context id to query")
	cmd.Flags().StringVar(&entityID, "entity", "", "filter to propositions mentioning this entity id")
	cmd.Flags().StringVar(&status, "status", "", "filter by status (ACTIVE or RETIRED)")
	cmd.Flags().Float64Var(&minConfidence, "min-confidence", 0, "minimum effective confidence")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of results")
	cmd.MarkFlagRequired("context")
	return cmd
}
