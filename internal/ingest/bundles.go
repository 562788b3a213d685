package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"leadtime-engine/internal/domain"
	"leadtime-engine/internal/observability"
)

// ErrBundleBudget is returned once the per-run bundle lookup budget is spent.
// Resolution is retried on a later run; the composition snapshot is only
// written once, so a skipped lookup costs latency, not correctness.
var ErrBundleBudget = errors.New("bundle lookup budget exhausted")

// compositionAPI is the slice of the fulfillment client the resolver needs.
type compositionAPI interface {
	ResolveBundle(ctx context.Context, bundleID string) ([]domain.CompositionItem, error)
}

// BundleResolver resolves bundle references into (sku, quantity) pairs.
type BundleResolver interface {
	Resolve(ctx context.Context, bundleIDs []string) ([]domain.CompositionItem, error)
}

// BoundedResolver wraps the fulfillment client's bundle call with bounded
// exponential retries and a per-run lookup budget. The budget keeps one tick
// from burning the shared rate limit on composition lookups alone.
type BoundedResolver struct {
	api       compositionAPI
	maxPerRun int
	used      int
	log       *slog.Logger
}

// NewBundleResolver creates a resolver with the given per-run lookup budget.
func NewBundleResolver(api compositionAPI, maxPerRun int, logger *slog.Logger) *BoundedResolver {
	if maxPerRun <= 0 {
		maxPerRun = 1
	}
	return &BoundedResolver{
		api:       api,
		maxPerRun: maxPerRun,
		log:       logger.With("component", "bundles"),
	}
}

// ResetBudget restores the per-run budget. Called at the start of each tick.
func (r *BoundedResolver) ResetBudget() {
	r.used = 0
}

// Resolve fetches the combined composition of all bundles, retrying each
// lookup with exponential backoff. Returns ErrBundleBudget once the per-run
// budget is exhausted.
func (r *BoundedResolver) Resolve(ctx context.Context, bundleIDs []string) ([]domain.CompositionItem, error) {
	var items []domain.CompositionItem
	for _, id := range bundleIDs {
		if id == "" {
			continue
		}
		if r.used >= r.maxPerRun {
			return nil, ErrBundleBudget
		}
		r.used++

		var page []domain.CompositionItem
		op := func() error {
			var err error
			page, err = r.api.ResolveBundle(ctx, id)
			return err
		}
		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = 200 * time.Millisecond
		bo.MaxElapsedTime = 10 * time.Second
		if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, 3), ctx)); err != nil {
			return nil, fmt.Errorf("resolve bundle %s: %w", id, err)
		}
		observability.DefaultMetrics.BundlesResolved.Inc()
		items = append(items, page...)
	}
	return items, nil
}
