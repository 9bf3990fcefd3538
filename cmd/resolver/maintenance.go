package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/fatih/color"
	"github.com/siherrmann/resolver/model"
	"github.com/spf13/cobra"
)

func mergeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "merge <entity-id> <entity-id>...",
		Short: "Merge entities known to be the same",
		Long: `Merge two or more entities of the same type into one. The entity with a
canonical id, then the most populated attributes, then the oldest survives. Mentions,
aliases and relationships of the absorbed entities move to the survivor.

Example:
  resolver merge 12 57`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]int64, 0, len(args))
			for _, arg := range args {
				id, err := strconv.ParseInt(arg, 10, 64)
				if err != nil {
					return fmt.Errorf("invalid entity id %q: %w", arg, err)
				}
				ids = append(ids, id)
			}

			ctx := context.Background()
			a, err := openApp(ctx, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.resolver.MergeEntities(ctx, ids, model.MergeReasonReviewer)
			if err != nil {
				return err
			}

			fmt.Printf("Survivor %s %s with %d mentions\n", color.GreenString("#%d", result.Survivor.ID), result.Survivor.DisplayName, result.Survivor.MentionCount)
			for _, op := range result.Operations {
				fmt.Printf("  absorbed entity %d\n", op.AbsorbedID)
			}
			return nil
		},
	}
	return cmd
}

func indexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index <hnsw|ivfflat>",
		Short: "Rebuild the entity embedding index",
		Long: `Rebuild the vector index used by the similarity stage.

Examples:
  resolver index hnsw --m 32 --ef-construction 128
  resolver index ivfflat --lists 200`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params := map[string]interface{}{}
			for _, name := range []string{"m", "ef-construction", "lists"} {
				if cmd.Flags().Changed(name) {
					value, _ := cmd.Flags().GetInt(name)
					params[flagParam(name)] = value
				}
			}

			ctx := context.Background()
			a, err := openApp(ctx, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.resolver.ChangeIndexType(ctx, args[0], params); err != nil {
				return err
			}
			fmt.Printf("Rebuilt embedding index as %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().Int("m", 16, "HNSW connections per layer")
	cmd.Flags().Int("ef-construction", 64, "HNSW candidate list size while building")
	cmd.Flags().Int("lists", 100, "IVFFlat list count")
	return cmd
}

// flagParam maps a flag name to the index parameter it sets.
func flagParam(name string) string {
	if name == "ef-construction" {
		return "ef_construction"
	}
	return name
}
