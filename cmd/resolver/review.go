package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/fatih/color"
	"github.com/siherrmann/resolver/model"
	"github.com/spf13/cobra"
)

func reviewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "review",
		Short: "List and decide pending entities",
		Long:  `Commands for the queue of entities whose resolution was not certain enough to verify.`,
	}
	cmd.AddCommand(reviewListCmd())
	cmd.AddCommand(reviewDecideCmd(true))
	cmd.AddCommand(reviewDecideCmd(false))
	return cmd
}

func reviewListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List open review items, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			typeFlag, _ := cmd.Flags().GetString("type")
			limit, _ := cmd.Flags().GetInt("limit")

			var entityType *model.EntityType
			if typeFlag != "" {
				parsed, err := model.ParseEntityType(typeFlag)
				if err != nil {
					return err
				}
				entityType = &parsed
			}

			ctx := context.Background()
			a, err := openApp(ctx, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			items, err := a.resolver.PendingReviews(ctx, entityType, limit)
			if err != nil {
				return err
			}
			if len(items) == 0 {
				fmt.Println("No pending reviews")
				return nil
			}

			for _, item := range items {
				name := "?"
				if item.Entity != nil {
					name = item.Entity.DisplayName
				}
				fmt.Printf("%s %s (%s %.2f)\n", color.YellowString("#%d", item.EntityID), name, item.Stage, item.Confidence)
				fmt.Printf("  mention:  %q\n", item.RawText)
				if item.ContextText != "" {
					fmt.Printf("  context:  %s\n", item.ContextText)
				}
				if item.ProposedCanonicalID != nil {
					fmt.Printf("  proposed: canonical id %s\n", *item.ProposedCanonicalID)
				}
				if item.ProposedEntityID != nil {
					fmt.Printf("  proposed: entity %d\n", *item.ProposedEntityID)
				}
			}
			return nil
		},
	}
	cmd.Flags().String("type", "", "Only list person, location or event entities")
	cmd.Flags().Int("limit", 50, "Maximum number of items, 0 lists all")
	return cmd
}

func reviewDecideCmd(accept bool) *cobra.Command {
	use, short := "reject <entity-id>", "Reject a pending entity, leaving it unverified"
	if accept {
		use, short = "accept <entity-id>", "Accept a pending entity and its proposed match"
	}

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entityID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid entity id %q: %w", args[0], err)
			}
			reviewer, _ := cmd.Flags().GetString("reviewer")

			decision := model.ReviewDecision{Accept: accept, Reviewer: reviewer}
			if accept {
				decision.CanonicalID, _ = cmd.Flags().GetString("canonical-id")
			}

			ctx := context.Background()
			a, err := openApp(ctx, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.resolver.ApplyReview(ctx, entityID, decision)
			if err != nil {
				return err
			}

			fmt.Printf("Entity %d %s as %s\n", result.Entity.ID, decision.Label(), statusString(result.Entity.VerificationStatus))
			if result.Entity.HasCanonicalID() {
				fmt.Printf("  canonical id: %s\n", result.Entity.CanonicalIDValue())
			}
			for _, op := range result.Merges {
				fmt.Printf("  absorbed entity %d\n", op.AbsorbedID)
			}
			return nil
		},
	}
	cmd.Flags().String("reviewer", "cli", "Name recorded on the review item")
	if accept {
		cmd.Flags().String("canonical-id", "", "Bind this canonical id instead of the proposed one")
	}
	return cmd
}
