// Package knowledge builds retrievable knowledge documents from catalog
// records: it classifies each vehicle with a constrained model call,
// renders the fixed document template, and appends the result to the
// vector index. Records without trims are skipped and counted; a failed
// index persist aborts the run.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alphacar/aichat-engine/engine/domain"
	"github.com/alphacar/aichat-engine/engine/semantic"
	"github.com/alphacar/aichat-engine/pkg/fn"
)

// ErrPersist marks index-persistence failures. Unlike skips and
// classification fallbacks these are fatal to the whole run: an
// unflushed write is silent data loss.
var ErrPersist = errors.New("knowledge: index persist failed")

// DocumentStore is the vector-index port the ingester writes to.
type DocumentStore interface {
	Add(ctx context.Context, docs []semantic.Document) error
}

// Summary reports one ingestion run.
type Summary struct {
	Ingested int
	Skipped  int
	Failed   int
	Elapsed  time.Duration
}

// Ingester runs catalog records through classify → compose → store.
type Ingester struct {
	gen    Generator
	store  DocumentStore
	logger *slog.Logger
}

// NewIngester creates an Ingester.
func NewIngester(gen Generator, store DocumentStore, logger *slog.Logger) *Ingester {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingester{gen: gen, store: store, logger: logger}
}

// enriched is a record paired with its AI classification.
type enriched struct {
	rec domain.VehicleRecord
	cls domain.Classification
}

// pipeline wires the per-record stages. Each stage gets its own span.
func (ing *Ingester) pipeline() fn.Stage[domain.VehicleRecord, semantic.Document] {
	validate := fn.TracedStage("knowledge.validate", func(_ context.Context, rec domain.VehicleRecord) fn.Result[domain.VehicleRecord] {
		if err := domain.ValidateVehicleRecord(rec); err != nil {
			return fn.Err[domain.VehicleRecord](err)
		}
		return fn.Ok(rec)
	})

	classify := fn.TracedStage("knowledge.classify", func(ctx context.Context, rec domain.VehicleRecord) fn.Result[enriched] {
		return fn.Ok(enriched{rec: rec, cls: Classify(ctx, ing.gen, rec.Name, ing.logger)})
	})

	compose := fn.TracedStage("knowledge.compose", func(_ context.Context, e enriched) fn.Result[semantic.Document] {
		return fn.FromPair(BuildDocument(e.rec, e.cls))
	})

	store := fn.TracedStage("knowledge.store", func(ctx context.Context, doc semantic.Document) fn.Result[semantic.Document] {
		if err := ing.store.Add(ctx, []semantic.Document{doc}); err != nil {
			return fn.Err[semantic.Document](fmt.Errorf("%w: %w", ErrPersist, err))
		}
		return fn.Ok(doc)
	})

	return fn.Then(fn.Then(fn.Then(validate, classify), compose), store)
}

// IngestRecord processes a single record. The returned document has
// already been persisted. domain.ErrNoTrims means the record was
// skipped; ErrPersist means the index write failed.
func (ing *Ingester) IngestRecord(ctx context.Context, rec domain.VehicleRecord) (semantic.Document, error) {
	return ing.pipeline()(ctx, rec).Unwrap()
}

// Run ingests a batch of records sequentially, counting skips and
// failures. The run aborts on the first persistence failure; every
// other failure class is contained to its record.
func (ing *Ingester) Run(ctx context.Context, records []domain.VehicleRecord) (Summary, error) {
	start := time.Now()
	pipe := ing.pipeline()
	var sum Summary

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			sum.Elapsed = time.Since(start)
			return sum, err
		}

		result := pipe(ctx, rec)
		if result.IsErr() {
			_, err := result.Unwrap()
			switch {
			case errors.Is(err, ErrPersist):
				sum.Elapsed = time.Since(start)
				return sum, err
			case errors.Is(err, domain.ErrNoTrims):
				sum.Skipped++
				ing.logger.Info("knowledge: skipped (no trims)", "vehicle_id", rec.ID, "name", rec.Name)
			default:
				sum.Failed++
				ing.logger.Warn("knowledge: record failed", "vehicle_id", rec.ID, "error", err)
			}
			continue
		}

		sum.Ingested++
		ing.logger.Info("knowledge: ingested", "vehicle_id", rec.ID, "name", rec.Name)
	}

	sum.Elapsed = time.Since(start)
	return sum, nil
}
