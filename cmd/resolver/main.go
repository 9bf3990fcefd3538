package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "resolver",
		Short: "Entity resolution and deduplication engine",
		Long: `Resolver maps person, location and event mentions extracted from text
to one canonical entity each.

Mentions go through an exact name and alias lookup, a knowledge base lookup
and an embedding similarity check. Entities found to share an external
identifier are merged, uncertain matches wait in the review queue.

The PostgreSQL connection is read from RESOLVER_DB_* variables, a .env file
in the working directory is loaded first.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "YAML file with resolver thresholds")
	flags.Bool("memory", false, "Use the in-memory store instead of PostgreSQL")
	flags.Int("embedding-dim", 0, "Embedding dimension, 0 uses the default embedding model")
	flags.Bool("offline", false, "Disable the Wikidata lookup")
	flags.String("redis-url", "", "Share locks between processes through Redis")
	flags.String("metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
	flags.Bool("verbose", false, "Log debug output")

	rootCmd.AddCommand(resolveCmd())
	rootCmd.AddCommand(textCmd())
	rootCmd.AddCommand(reviewCmd())
	rootCmd.AddCommand(mergeCmd())
	rootCmd.AddCommand(indexCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
