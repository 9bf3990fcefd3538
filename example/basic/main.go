package main

import (
	"context"
	"fmt"
	"log"

	"github.com/siherrmann/resolver"
	"github.com/siherrmann/resolver/core/kb"
	"github.com/siherrmann/resolver/core/pipeline"
	"github.com/siherrmann/resolver/helper"
	"github.com/siherrmann/resolver/model"
)

const sampleContent = `Richard the Lionheart sailed for the Holy Land in 1190.
At Acre he met Philip of France and the besieging crusaders.
Saladin sent envoys to the camp while the siege went on.
Richard I of England took the city in July 1191.
Salah ad-Din withdrew his army towards Jerusalem.`

func main() {
	// Start a test PostgreSQL container
	teardown, dbPort, err := helper.MustStartPostgresContainer()
	if err != nil {
		log.Fatalf("Failed to start PostgreSQL container: %v", err)
	}
	defer teardown(context.Background())

	// Create database configuration using the container port
	dbConfig := &helper.DatabaseConfiguration{
		Host:     "localhost",
		Port:     dbPort,
		Database: "database",
		Username: "user",
		Password: "password",
		Schema:   "public",
		SSLMode:  "disable",
	}

	// Wikidata behind retries, a rate limit and a cache
	wikidata, err := kb.NewResilient(kb.NewWikidataClient(), kb.DefaultResilientOptions())
	if err != nil {
		log.Fatalf("Failed to create knowledge base client: %v", err)
	}

	embedder, err := pipeline.DefaultEmbedder()
	if err != nil {
		log.Fatalf("Failed to create embedder: %v", err)
	}

	opts := resolver.DefaultOptions()
	opts.KB = wikidata
	opts.Embed = embedder

	ctx := context.Background()
	r, err := resolver.NewPostgresResolver(ctx, dbConfig, pipeline.DefaultEmbeddingDim, opts)
	if err != nil {
		log.Fatalf("Failed to create resolver: %v", err)
	}
	defer r.Close()

	// NER extraction with sentence context windows
	if err := r.UseDefaultExtractor(); err != nil {
		log.Fatalf("Failed to set up extractor: %v", err)
	}

	fmt.Println("Resolving chronicle...")
	result, err := r.ResolveSource(ctx, &model.Source{ID: "chronicle", Text: sampleContent})
	if err != nil {
		log.Fatalf("Failed to resolve text: %v", err)
	}
	fmt.Printf("Processed %d mentions (%d failed, %d invalid)\n", result.Processed, result.Failed, result.Invalid)

	// Display resolutions
	for _, res := range result.Resolutions {
		if res.Err != nil {
			fmt.Printf("\n%q failed: %v\n", res.Input.RawName, res.Err)
			continue
		}
		entity, err := r.Store.SelectEntity(ctx, res.EntityID)
		if err != nil {
			log.Fatalf("Failed to load entity: %v", err)
		}
		fmt.Printf("\n--- %s (%s) ---\n", res.Input.RawName, res.Input.Type)
		fmt.Printf("Entity: %d %s\n", entity.ID, entity.DisplayName)
		fmt.Printf("Canonical ID: %s\n", entity.CanonicalIDValue())
		fmt.Printf("Stage: %s, status: %s, confidence: %.2f\n", res.Stage, res.Status, res.Confidence)
	}

	fmt.Println("\nBasic example completed successfully!")
}
