// Command ingest builds the vehicle knowledge index from catalog JSON files.
//
// Each input file contains either a single vehicle record or an array of
// records. Every record is validated, classified, rendered into a knowledge
// document, and written to the configured vector store.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/alphacar/aichat-engine/engine/domain"
	"github.com/alphacar/aichat-engine/engine/knowledge"
	"github.com/alphacar/aichat-engine/engine/semantic"
	"github.com/alphacar/aichat-engine/pkg/bedrock"
	"github.com/alphacar/aichat-engine/pkg/fn"
	"github.com/alphacar/aichat-engine/pkg/metrics"
	"github.com/alphacar/aichat-engine/pkg/resilience"
	"github.com/joho/godotenv"
)

var met = metrics.New()

var (
	mRecordsIngested = met.Counter("aichat_ingest_records_total", "Records successfully indexed")
	mRecordsSkipped  = met.Counter("aichat_ingest_skipped_total", "Records skipped (no trims)")
	mRecordsFailed   = met.Counter("aichat_ingest_failed_total", "Records that failed ingestion")
)

// pacedGenerator throttles classification calls so a large catalog does not
// exhaust the model provider's request quota, and retries transient
// failures with bounded backoff before the ingester degrades to the
// unclassified fallback.
type pacedGenerator struct {
	gen     knowledge.Generator
	limiter *resilience.Limiter
	retry   fn.RetryOpts
}

func (p *pacedGenerator) Converse(ctx context.Context, in bedrock.ConverseInput) (*bedrock.ConverseOutput, error) {
	return fn.Retry(ctx, p.retry, func(ctx context.Context) fn.Result[*bedrock.ConverseOutput] {
		if err := p.limiter.Wait(ctx); err != nil {
			return fn.Err[*bedrock.ConverseOutput](err)
		}
		return fn.FromPair(p.gen.Converse(ctx, in))
	}).Unwrap()
}

func main() {
	_ = godotenv.Load()

	var (
		dir         = flag.String("dir", "./catalog", "directory containing catalog JSON files")
		storeKind   = flag.String("store", envOr("VECTOR_STORE", "snapshot"), "vector store backend (snapshot or qdrant)")
		storePath   = flag.String("store-path", envOr("VECTOR_STORE_PATH", "./vector_store/index.json"), "snapshot file path")
		qdrantURL   = flag.String("qdrant", envOr("QDRANT_URL", "localhost:6334"), "qdrant gRPC address")
		collection  = flag.String("collection", envOr("QDRANT_COLLECTION", "alphacar"), "qdrant collection name")
		dims        = flag.Int("dims", 1024, "embedding dimensions")
		rps         = flag.Float64("rps", 2, "classification requests per second")
		metricsPort = flag.Int("metrics-port", 0, "serve /metrics on this port (0 disables)")
	)
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(*dir, *storeKind, *storePath, *qdrantURL, *collection, *dims, *rps, *metricsPort, logger); err != nil {
		logger.Error("ingest failed", "err", err)
		os.Exit(1)
	}
}

func run(dir, storeKind, storePath, qdrantURL, collection string, dims int, rps float64, metricsPort int, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if metricsPort > 0 {
		met.ServeAsync(metricsPort)
	}

	client := bedrock.New(bedrock.Config{
		BaseURL:          envOr("BEDROCK_URL", "https://bedrock-runtime.us-east-1.amazonaws.com"),
		APIKey:           os.Getenv("BEDROCK_API_KEY"),
		ChatModel:        envOr("CHAT_MODEL", "us.meta.llama3-3-70b-instruct-v1:0"),
		EmbedModel:       envOr("EMBED_MODEL", "amazon.titan-embed-text-v2:0"),
		GuardrailID:      os.Getenv("BEDROCK_GUARDRAIL_ID"),
		GuardrailVersion: envOr("BEDROCK_GUARDRAIL_VERSION", "DRAFT"),
		Timeout:          60 * time.Second,
	})

	embedder := semantic.RetryEmbedder(client, fn.DefaultRetry)

	var store knowledge.DocumentStore
	switch storeKind {
	case "qdrant":
		qs, err := semantic.NewQdrant(qdrantURL, collection, embedder)
		if err != nil {
			return fmt.Errorf("qdrant connect: %w", err)
		}
		defer qs.Close()
		if err := qs.EnsureCollection(ctx, dims); err != nil {
			return fmt.Errorf("qdrant ensure collection: %w", err)
		}
		store = qs
	default:
		ss, err := semantic.LoadOrCreate(ctx, storePath, embedder)
		if err != nil {
			return fmt.Errorf("load vector snapshot: %w", err)
		}
		store = ss
	}

	records, err := loadCatalog(dir)
	if err != nil {
		return err
	}
	logger.Info("catalog loaded", "dir", dir, "records", len(records))

	gen := &pacedGenerator{
		gen:     client,
		limiter: resilience.NewLimiter(resilience.LimiterOpts{Rate: rps, Burst: 1}),
		retry:   fn.DefaultRetry,
	}

	ing := knowledge.NewIngester(gen, store, logger)
	summary, err := ing.Run(ctx, records)

	mRecordsIngested.Add(int64(summary.Ingested))
	mRecordsSkipped.Add(int64(summary.Skipped))
	mRecordsFailed.Add(int64(summary.Failed))

	logger.Info("ingest complete",
		"ingested", summary.Ingested,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
		"elapsed", summary.Elapsed.Round(time.Millisecond).String(),
	)
	if err != nil {
		return fmt.Errorf("ingest aborted: %w", err)
	}
	return nil
}

// loadCatalog reads every .json file under dir. A file may hold one record
// or an array of records.
func loadCatalog(dir string) ([]domain.VehicleRecord, error) {
	var records []domain.VehicleRecord

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".json") {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}

		var batch []domain.VehicleRecord
		if err := json.Unmarshal(data, &batch); err != nil {
			var single domain.VehicleRecord
			if err := json.Unmarshal(data, &single); err != nil {
				return fmt.Errorf("parse %s: %w", path, err)
			}
			batch = []domain.VehicleRecord{single}
		}
		records = append(records, batch...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan catalog: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("no catalog records found in %s", dir)
	}
	return records, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
