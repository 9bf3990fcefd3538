package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/siherrmann/resolver/core/alias"
	"github.com/siherrmann/resolver/core/decision"
	"github.com/siherrmann/resolver/core/kb"
	"github.com/siherrmann/resolver/core/lock"
	"github.com/siherrmann/resolver/core/matching"
	"github.com/siherrmann/resolver/core/merge"
	"github.com/siherrmann/resolver/core/metrics"
	"github.com/siherrmann/resolver/core/pipeline"
	"github.com/siherrmann/resolver/core/review"
	"github.com/siherrmann/resolver/core/verify"
	"github.com/siherrmann/resolver/database"
	"github.com/siherrmann/resolver/helper"
	"github.com/siherrmann/resolver/model"
)

// Options holds the collaborators of a Resolver. Only the store is required.
type Options struct {
	Config model.ResolverConfig
	// Locker serializes mention keys and canonical ids, defaults to an in-process lock.
	Locker lock.Locker
	// KB enables the canonical identity stage.
	KB kb.Client
	// Embed enables the similarity stage and entity embeddings.
	Embed pipeline.EmbedFunc
	// Verifier decides similarity candidates, defaults to the rule verifier.
	Verifier verify.Verifier
	// Extract is used by ResolveText.
	Extract   pipeline.ExtractFunc
	Relinkers []merge.Relinker
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// DefaultOptions returns options with the default thresholds.
func DefaultOptions() Options {
	return Options{Config: model.DefaultResolverConfig()}
}

// Resolver maps mentions to entities and keeps one entity per real-world thing.
type Resolver struct {
	Store   database.Store
	Index   *alias.Index
	Engine  *merge.Engine
	Cascade *matching.Cascade
	Review  *review.Queue
	Policy  decision.Policy

	config  model.ResolverConfig
	locker  lock.Locker
	embed   pipeline.EmbedFunc
	extract pipeline.ExtractFunc
	metrics *metrics.Metrics
	closers []func() error
	// Edges between entities, nil when the store keeps none
	relations relationStore
	// Logging
	log *slog.Logger
}

// NewResolver wires the cascade over store and warms the alias index from it.
func NewResolver(ctx context.Context, store database.Store, opts Options) (*Resolver, error) {
	if store == nil {
		return nil, helper.NewError("store validation", fmt.Errorf("store is nil"))
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, helper.NewError("config validation", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	locker := opts.Locker
	if locker == nil {
		locker = lock.NewKeyedMutex()
	}
	verifier := opts.Verifier
	if verifier == nil {
		verifier = verify.NewRuleVerifier()
	}

	policy, err := decision.PolicyFromConfig(opts.Config)
	if err != nil {
		return nil, helper.NewError("create decision policy", err)
	}

	index := alias.NewIndex()
	if err := index.Load(ctx, store); err != nil {
		return nil, helper.NewError("load alias index", err)
	}

	engine, err := merge.NewEngine(store, locker, index, opts.Metrics, logger, opts.Relinkers...)
	if err != nil {
		return nil, helper.NewError("create merge engine", err)
	}

	queue, err := review.NewQueue(store, engine, logger)
	if err != nil {
		return nil, helper.NewError("create review queue", err)
	}

	stages := []matching.Stage{
		matching.NewExactStage(index, store, opts.Config.ExactNameConfidence, opts.Config.AliasConfidence),
	}
	if opts.KB != nil {
		canonical := matching.NewCanonicalStage(opts.KB, store, engine, opts.Config.CanonicalConfidence, opts.Config.KBDefaultScore, opts.Metrics, logger)
		stages = append(stages, canonical.WithVerifier(verifier, opts.Config.VerifierAcceptFloor))
	}
	if opts.Embed != nil {
		stages = append(stages, matching.NewSimilarityStage(opts.Embed, store, verifier, matching.SimilarityOptions{
			TopK:        opts.Config.SimilarityTopK,
			Floor:       opts.Config.SimilarityFloor,
			AcceptFloor: opts.Config.VerifierAcceptFloor,
			Cap:         opts.Config.SimilarityCap,
		}, opts.Metrics, logger))
	}

	logger.Info("Created resolver", "stages", len(stages), "index_keys", index.Len())

	return &Resolver{
		Store:   store,
		Index:   index,
		Engine:  engine,
		Cascade: matching.NewCascade(logger, opts.Metrics, stages...),
		Review:  queue,
		Policy:  policy,
		config:  opts.Config,
		locker:  locker,
		embed:   opts.Embed,
		extract: opts.Extract,
		metrics: opts.Metrics,
		log:     logger,
	}, nil
}

// NewPostgresResolver connects to PostgreSQL, initializes the tables and creates a
// Resolver on them. Without a locker in opts the PostgreSQL advisory locks are used.
// Merges move the entity relationships in the same transaction.
func NewPostgresResolver(ctx context.Context, config *helper.DatabaseConfiguration, embeddingDim int, opts Options) (*Resolver, error) {
	// Logger
	if opts.Logger == nil {
		prettyOpts := helper.PrettyHandlerOptions{
			SlogOpts: slog.HandlerOptions{
				Level: slog.LevelInfo,
			},
		}
		opts.Logger = slog.New(helper.NewPrettyHandler(os.Stdout, prettyOpts))
	}

	// Initialize database
	db := helper.NewDatabase("resolver", config, opts.Logger)
	store, err := database.NewPostgresStore(db, embeddingDim, false)
	if err != nil {
		_ = db.Close()
		return nil, helper.NewError("create postgres store", err)
	}

	if opts.Locker == nil {
		locker, err := database.NewPostgresLocker(db, 25*time.Millisecond)
		if err != nil {
			_ = store.Close()
			return nil, helper.NewError("create postgres locker", err)
		}
		opts.Locker = locker
	}
	r, err := NewResolver(ctx, store, opts)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	r.relations = entityGraph{Store: store, EdgesDBHandler: store.Edges}
	r.closers = append(r.closers, store.Close)
	return r, nil
}

// Close releases the resources the resolver opened itself.
func (r *Resolver) Close() error {
	var firstErr error
	for _, closeFn := range r.closers {
		if err := closeFn(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	r.closers = nil
	return firstErr
}

// Config returns the thresholds in use.
func (r *Resolver) Config() model.ResolverConfig {
	return r.config
}

// SetExtractor sets the mention extractor used by ResolveText.
func (r *Resolver) SetExtractor(extract pipeline.ExtractFunc) {
	r.extract = extract
}

// UseDefaultExtractor sets up the hugot NER extractor with sentence context windows.
func (r *Resolver) UseDefaultExtractor() error {
	extract, err := pipeline.DefaultMentionExtractor()
	if err != nil {
		return helper.NewError("create default extractor", err)
	}
	r.extract = extract
	return nil
}

// ReloadIndex rebuilds the alias index from the store.
func (r *Resolver) ReloadIndex(ctx context.Context) error {
	if err := r.Index.Load(ctx, r.Store); err != nil {
		return helper.NewError("load alias index", err)
	}
	return nil
}

// MergeEntities folds entities known to be one into a survivor. Other holders of a
// canonical id in the group are merged as well.
func (r *Resolver) MergeEntities(ctx context.Context, ids []int64, reason model.MergeReason) (*merge.Result, error) {
	if reason == "" {
		reason = model.MergeReasonReviewer
	}
	return r.Engine.Merge(ctx, ids, reason)
}

// PendingReviews lists open review items with their entities.
func (r *Resolver) PendingReviews(ctx context.Context, entityType *model.EntityType, limit int) ([]*model.ReviewItem, error) {
	return r.Review.ListPending(ctx, entityType, limit)
}

// ApplyReview applies a reviewer decision on a pending entity.
func (r *Resolver) ApplyReview(ctx context.Context, entityID int64, d model.ReviewDecision) (*review.Result, error) {
	return r.Review.Apply(ctx, entityID, d)
}

type indexChanger interface {
	ChangeIndexType(ctx context.Context, indexType string, params map[string]interface{}) error
}

// ChangeIndexType switches the vector index on entity embeddings between hnsw and ivfflat.
func (r *Resolver) ChangeIndexType(ctx context.Context, indexType string, params map[string]interface{}) error {
	changer, ok := r.Store.(indexChanger)
	if !ok {
		return helper.NewError("change index type", fmt.Errorf("store %T has no vector index", r.Store))
	}
	return changer.ChangeIndexType(ctx, indexType, params)
}
