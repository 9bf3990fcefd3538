package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/siherrmann/resolver"
	"github.com/siherrmann/resolver/core/kb"
	"github.com/siherrmann/resolver/core/pipeline"
	"github.com/siherrmann/resolver/database/memory"
	"github.com/siherrmann/resolver/helper"
	"github.com/siherrmann/resolver/model"
)

// candidates stands in for a knowledge base that knows one Godfrey, with little certainty.
var candidates = kb.ClientFunc(func(ctx context.Context, name string, contextText string, entityType model.EntityType) ([]model.Candidate, error) {
	if name == "Godfrey" {
		return []model.Candidate{{
			CanonicalID: "Q183248",
			Label:       "Godfrey of Bouillon",
			Description: "Leader of the First Crusade",
			Score:       0.6,
		}}, nil
	}
	return nil, nil
})

func main() {
	ctx := context.Background()
	logger := slog.New(helper.NewPrettyHandler(os.Stdout, helper.PrettyHandlerOptions{
		SlogOpts: slog.HandlerOptions{Level: slog.LevelInfo},
	}))

	opts := resolver.DefaultOptions()
	opts.KB = candidates
	opts.Embed = pipeline.HashEmbedder(64)
	opts.Logger = logger

	r, err := resolver.NewResolver(ctx, memory.NewStore(), opts)
	if err != nil {
		log.Fatalf("Failed to create resolver: %v", err)
	}
	defer r.Close()

	mentions := []model.MentionInput{
		{RawName: "Godfrey", ContextText: "Godfrey took Jerusalem in 1099", Type: model.EntityTypePerson, SourceID: "gesta", Position: 10},
		{RawName: "Bohemond", ContextText: "Bohemond held Antioch", Type: model.EntityTypePerson, SourceID: "gesta", Position: 42},
		{RawName: "Bohemond of Taranto", ContextText: "prince of Antioch", Type: model.EntityTypePerson, SourceID: "alexiad", Position: 7},
	}

	result, err := r.ProcessBatch(ctx, mentions)
	if err != nil {
		log.Fatalf("Failed to process batch: %v", err)
	}
	for _, res := range result.Resolutions {
		fmt.Printf("%-20s -> entity %d (%s, %s)\n", res.Input.RawName, res.EntityID, res.Stage, res.Status)
	}

	// A reviewer confirms the weak knowledge base hit
	items, err := r.PendingReviews(ctx, nil, 0)
	if err != nil {
		log.Fatalf("Failed to list reviews: %v", err)
	}
	for _, item := range items {
		fmt.Printf("\nPending: %s (%q, confidence %.2f)\n", item.Entity.DisplayName, item.ContextText, item.Confidence)
		applied, err := r.ApplyReview(ctx, item.EntityID, model.ReviewDecision{Accept: true, Reviewer: "example"})
		if err != nil {
			log.Fatalf("Failed to apply review: %v", err)
		}
		fmt.Printf("Accepted: %s is now %s with canonical id %s\n", applied.Entity.DisplayName, applied.Entity.VerificationStatus, applied.Entity.CanonicalIDValue())
	}

	// The reviewer also knows both Bohemonds are one person
	merged, err := r.MergeEntities(ctx, []int64{result.Resolutions[1].EntityID, result.Resolutions[2].EntityID}, model.MergeReasonReviewer)
	if err != nil {
		log.Fatalf("Failed to merge entities: %v", err)
	}
	fmt.Printf("\nMerged into %s with %d mentions\n", merged.Survivor.DisplayName, merged.Survivor.MentionCount)

	fmt.Println("\nAdvanced example completed successfully!")
}
