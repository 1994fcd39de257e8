package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/xraph/conveyor/step"
	"github.com/xraph/conveyor/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the item and step tables, collections or indexes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, s store.Store) error {
			if err := s.Migrate(ctx); err != nil {
				return err
			}
			fmt.Printf("Migrated %s backend.\n", backend)
			return nil
		})
	},
}

var stepsCmd = &cobra.Command{
	Use:   "steps",
	Short: "List the pipeline steps",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, s store.Store) error {
			catalog, err := step.Load(ctx, s)
			if err != nil {
				return err
			}
			if outputJSON {
				printJSON(catalog.Steps())
				return nil
			}
			if catalog.Len() == 0 {
				fmt.Println("No steps.")
				return nil
			}
			for _, st := range catalog.Steps() {
				fmt.Printf("%d  %s\n", st.ID, st.Name)
			}
			return nil
		})
	},
}

var stepsSetCmd = &cobra.Command{
	Use:   "set <id> <name>",
	Short: "Create or rename a step",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid step id %q", args[0])
		}
		st := step.Step{ID: step.ID(n), Name: args[1]}
		return withStore(cmd.Context(), func(ctx context.Context, s store.Store) error {
			if err := s.SaveStep(ctx, st); err != nil {
				return err
			}
			fmt.Printf("Step %d saved as %q.\n", st.ID, st.Name)
			return nil
		})
	},
}

func init() {
	stepsCmd.AddCommand(stepsSetCmd)
}
