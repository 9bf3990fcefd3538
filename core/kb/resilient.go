package kb

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/siherrmann/resolver/core/retry"
	"github.com/siherrmann/resolver/model"
	"golang.org/x/time/rate"
)

// ResilientOptions configures Resilient.
type ResilientOptions struct {
	Retry retry.Config
	// RequestsPerSecond caps the call rate, zero disables the limiter.
	RequestsPerSecond float64
	Burst             int
	// CacheTTL keeps successful results, zero disables the cache.
	CacheTTL time.Duration
	Logger   *slog.Logger
}

// DefaultResilientOptions returns the defaults used for the public Wikidata API.
func DefaultResilientOptions() ResilientOptions {
	return ResilientOptions{
		Retry:             retry.DefaultConfig(),
		RequestsPerSecond: 5,
		Burst:             5,
		CacheTTL:          30 * time.Minute,
	}
}

// Resilient wraps a Client with a result cache, a rate limiter and bounded retries.
type Resilient struct {
	client  Client
	retrier *retry.Retrier
	limiter *rate.Limiter
	cache   *gocache.Cache
}

var _ Client = (*Resilient)(nil)

// NewResilient wraps client.
func NewResilient(client Client, opts ResilientOptions) (*Resilient, error) {
	if client == nil {
		return nil, fmt.Errorf("knowledge base client is nil")
	}

	retrier, err := retry.New(opts.Retry, opts.Logger)
	if err != nil {
		return nil, err
	}

	r := &Resilient{
		client:  client,
		retrier: retrier,
	}
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	if opts.CacheTTL > 0 {
		r.cache = gocache.New(opts.CacheTTL, 2*opts.CacheTTL)
	}
	return r, nil
}

func cacheKey(name string, contextText string, entityType model.EntityType) string {
	return fmt.Sprintf("%s\x00%s\x00%s", entityType, name, contextText)
}

// Search returns cached candidates or asks the wrapped client.
func (r *Resilient) Search(ctx context.Context, name string, contextText string, entityType model.EntityType) ([]model.Candidate, error) {
	key := cacheKey(name, contextText, entityType)
	if r.cache != nil {
		if cached, ok := r.cache.Get(key); ok {
			return cached.([]model.Candidate), nil
		}
	}

	var candidates []model.Candidate
	err := r.retrier.Do(ctx, "knowledge base search", func(attemptCtx context.Context) error {
		if r.limiter != nil {
			if err := r.limiter.Wait(attemptCtx); err != nil {
				return err
			}
		}
		var err error
		candidates, err = r.client.Search(attemptCtx, name, contextText, entityType)
		return err
	})
	if err != nil {
		return nil, err
	}

	if r.cache != nil {
		r.cache.Set(key, candidates, gocache.DefaultExpiration)
	}
	return candidates, nil
}
