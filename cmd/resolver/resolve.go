package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/siherrmann/resolver"
	"github.com/siherrmann/resolver/model"
	"github.com/spf13/cobra"
)

func resolveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve [file]",
		Short: "Resolve mentions read as JSON lines",
		Long: `Resolve mentions given as one JSON object per line:

  {"raw_name":"Saladin","context_text":"Saladin took Jerusalem","entity_type":"person","source_id":"doc-1","position":12}

Without a file the mentions are read from stdin. Resolving the same
mentions again reports the stored resolutions.

Examples:
  resolver resolve mentions.jsonl
  cat mentions.jsonl | resolver resolve --workers 16 --json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			workers, _ := cmd.Flags().GetInt("workers")
			asJSON, _ := cmd.Flags().GetBool("json")

			var in io.Reader = os.Stdin
			if len(args) == 1 {
				file, err := os.Open(filepath.Clean(args[0]))
				if err != nil {
					return fmt.Errorf("failed to open %s: %w", args[0], err)
				}
				defer file.Close()
				in = file
			}

			inputs, err := readMentions(in)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			a, err := openApp(ctx, cmd, func(opts *resolver.Options) {
				if workers > 0 {
					opts.Config.Workers = workers
				}
			})
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.resolver.ProcessBatch(ctx, inputs)
			if result != nil {
				printBatch(os.Stdout, result, asJSON)
			}
			return err
		},
	}
	cmd.Flags().Int("workers", 0, "Concurrent resolutions, 0 uses the configured value")
	cmd.Flags().Bool("json", false, "Print one resolution per line as JSON")
	return cmd
}

func textCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "text <file>...",
		Short: "Extract and resolve the mentions of text files",
		Long: `Run named entity recognition over each file and resolve every person,
location and event found. The file name is used as the source id.

Example:
  resolver text chronicle.txt letters.txt`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			asJSON, _ := cmd.Flags().GetBool("json")

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			a, err := openApp(ctx, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.resolver.UseDefaultExtractor(); err != nil {
				return fmt.Errorf("failed to load extraction model: %w", err)
			}

			for _, path := range args {
				source, err := model.NewSourceFromFile(path)
				if err != nil {
					return fmt.Errorf("failed to read %s: %w", path, err)
				}
				if !asJSON {
					fmt.Printf("%s\n", color.CyanString("== %s ==", source.ID))
				}
				result, err := a.resolver.ResolveSource(ctx, source)
				if result != nil {
					printBatch(os.Stdout, result, asJSON)
				}
				if err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().Bool("json", false, "Print one resolution per line as JSON")
	return cmd
}

// readMentions decodes JSON lines, skipping blank ones.
func readMentions(r io.Reader) ([]model.MentionInput, error) {
	var inputs []model.MentionInput
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var input model.MentionInput
		if err := json.Unmarshal([]byte(text), &input); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		inputs = append(inputs, input)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read mentions: %w", err)
	}
	return inputs, nil
}

// resolutionLine is the JSON output of one resolution.
type resolutionLine struct {
	*model.Resolution
	Error string `json:"error,omitempty"`
}

func printBatch(w io.Writer, result *model.BatchResult, asJSON bool) {
	if asJSON {
		encoder := json.NewEncoder(w)
		for _, res := range result.Resolutions {
			line := resolutionLine{Resolution: res}
			if res.Err != nil {
				line.Error = res.Err.Error()
			}
			_ = encoder.Encode(line)
		}
		return
	}

	for _, res := range result.Resolutions {
		name := fmt.Sprintf("%-28s", fmt.Sprintf("%q", res.Input.RawName))
		if res.Err != nil {
			fmt.Fprintf(w, "%s %s %v\n", name, color.RedString("failed"), res.Err)
			continue
		}

		flags := ""
		if res.Created {
			flags += " " + color.GreenString("new")
		}
		if res.Promoted {
			flags += " " + color.MagentaString("promoted")
		}
		if res.Replayed {
			flags += " " + color.HiBlackString("replayed")
		}
		if len(res.Merges) > 0 {
			flags += " " + color.YellowString("merged %d", len(res.Merges))
		}
		fmt.Fprintf(w, "%s -> %-6d %-13s %s %.2f%s\n", name, res.EntityID, res.Stage, statusString(res.Status), res.Confidence, flags)
	}

	fmt.Fprintf(w, "\nProcessed %d, failed %d, invalid %d, cancelled %d\n",
		result.Processed, result.Failed, result.Invalid, result.Cancelled)
}

func statusString(status model.VerificationStatus) string {
	padded := fmt.Sprintf("%-14s", status)
	switch status {
	case model.StatusVerified:
		return color.GreenString(padded)
	case model.StatusPendingReview:
		return color.YellowString(padded)
	default:
		return color.HiBlackString(padded)
	}
}
