package resolver

import (
	"context"
	"errors"
	"fmt"

	"github.com/siherrmann/resolver/helper"
	"github.com/siherrmann/resolver/model"
	"golang.org/x/sync/errgroup"
)

// ProcessBatch resolves mentions on a bounded worker pool. Resolutions keep the order
// of inputs, processing order is not guaranteed. Failures of single mentions are
// reported on their resolution and counted, they never stop the batch.
//
// Cancelling ctx stops scheduling. Mentions never started are reported as cancelled
// and the context error is returned together with the partial result.
func (r *Resolver) ProcessBatch(ctx context.Context, inputs []model.MentionInput) (*model.BatchResult, error) {
	result := &model.BatchResult{Resolutions: make([]*model.Resolution, len(inputs))}

	var g errgroup.Group
	g.SetLimit(r.config.Workers)
	for i, input := range inputs {
		if err := ctx.Err(); err != nil {
			result.Resolutions[i] = &model.Resolution{Input: input, Err: err}
			continue
		}

		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				result.Resolutions[i] = &model.Resolution{Input: input, Err: err}
				return nil
			}
			// Errors are kept on the resolution
			res, _ := r.ProcessMention(ctx, input)
			result.Resolutions[i] = res
			return nil
		})
	}
	_ = g.Wait()

	for _, res := range result.Resolutions {
		switch {
		case res.Err == nil:
			result.Processed++
		case errors.Is(res.Err, ErrInvalidMention):
			result.Invalid++
		case errors.Is(res.Err, context.Canceled), errors.Is(res.Err, context.DeadlineExceeded):
			result.Cancelled++
		default:
			result.Failed++
		}
	}

	r.log.Info("Processed batch",
		"mentions", len(inputs),
		"processed", result.Processed,
		"failed", result.Failed,
		"invalid", result.Invalid,
		"cancelled", result.Cancelled,
	)

	if result.Cancelled > 0 {
		return result, ctx.Err()
	}
	return result, nil
}

// ResolveText extracts the mentions of a text with the configured extractor and
// resolves them as one batch.
func (r *Resolver) ResolveText(ctx context.Context, sourceID string, text string) (*model.BatchResult, error) {
	if r.extract == nil {
		return nil, helper.NewError("resolve text", fmt.Errorf("extractor not set, use SetExtractor() first"))
	}

	mentions, err := r.extract(sourceID, text)
	if err != nil {
		return nil, helper.NewError("extract mentions", err)
	}

	r.log.Info("Extracted mentions", "source_id", sourceID, "mentions", len(mentions))
	return r.ProcessBatch(ctx, mentions)
}

// ResolveSource resolves the text of a source document.
func (r *Resolver) ResolveSource(ctx context.Context, source *model.Source) (*model.BatchResult, error) {
	if source == nil {
		return nil, helper.NewError("resolve source", fmt.Errorf("source is nil"))
	}
	return r.ResolveText(ctx, source.ID, source.Text)
}
