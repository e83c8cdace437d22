package main

import (
	"context"
	"fmt"

	"github.com/muaviaUsmani/rrdb/internal/logger"
	"github.com/muaviaUsmani/rrdb/internal/resource"
	"github.com/spf13/cobra"
)

// resourceWriter is the part of the store seeding needs
type resourceWriter interface {
	Put(ctx context.Context, r resource.Resource) error
}

func newSeedCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load resources from a YAML fixture file into the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resources, err := resource.LoadFixtures(file)
			if err != nil {
				return err
			}

			a, err := bootstrap(cmd.Context(), 1)
			if err != nil {
				return err
			}
			defer a.Close()

			log := a.log.WithComponent(logger.ComponentCLI)
			count, err := seed(cmd.Context(), a.store, resources)
			if err != nil {
				return err
			}

			log.Info("Seeded resources", "file", file, "count", count)
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d resources from %s\n", count, file)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML fixture file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

// seed writes every resource, stopping at the first failure
func seed(ctx context.Context, w resourceWriter, resources []resource.Resource) (int, error) {
	for i, r := range resources {
		if err := w.Put(ctx, r); err != nil {
			return i, fmt.Errorf("failed to store resource %s: %w", r.ID, err)
		}
	}
	return len(resources), nil
}
