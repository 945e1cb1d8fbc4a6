// Package main implements the AlphaCar AI chat API server.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alphacar/aichat-engine/engine/domain"
	"github.com/alphacar/aichat-engine/engine/knowledge"
	"github.com/alphacar/aichat-engine/engine/rag"
	"github.com/alphacar/aichat-engine/engine/semantic"
	"github.com/alphacar/aichat-engine/engine/vision"
	"github.com/alphacar/aichat-engine/pkg/bedrock"
	"github.com/alphacar/aichat-engine/pkg/fn"
	"github.com/alphacar/aichat-engine/pkg/metrics"
	"github.com/alphacar/aichat-engine/pkg/mid"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
)

// vectorStore is the index surface the API needs; both the snapshot
// and Qdrant backends satisfy it.
type vectorStore interface {
	Add(ctx context.Context, docs []semantic.Document) error
	Search(ctx context.Context, query string, k int) ([]semantic.ScoredDocument, error)
}

// Config holds all environment-based configuration.
type Config struct {
	Port             string
	BedrockURL       string
	BedrockAPIKey    string
	ChatModel        string
	EmbedModel       string
	GuardrailID      string
	GuardrailVersion string
	StoreBackend     string // "snapshot" or "qdrant"
	SnapshotPath     string
	QdrantURL        string
	QdrantCollection string
	EmbedDims        int
	NATSURL          string
	CORSOrigin       string
	MaxUploadBytes   int64
}

func loadConfig() Config {
	return Config{
		Port:             envOr("PORT", "8080"),
		BedrockURL:       envOr("BEDROCK_URL", "https://bedrock-runtime.us-east-1.amazonaws.com"),
		BedrockAPIKey:    os.Getenv("BEDROCK_API_KEY"),
		ChatModel:        envOr("CHAT_MODEL", "us.meta.llama3-3-70b-instruct-v1:0"),
		EmbedModel:       envOr("EMBED_MODEL", "amazon.titan-embed-text-v2:0"),
		GuardrailID:      os.Getenv("BEDROCK_GUARDRAIL_ID"),
		GuardrailVersion: envOr("BEDROCK_GUARDRAIL_VERSION", "DRAFT"),
		StoreBackend:     envOr("VECTOR_STORE", "snapshot"),
		SnapshotPath:     envOr("VECTOR_STORE_PATH", "./vector_store/index.json"),
		QdrantURL:        envOr("QDRANT_URL", "localhost:6334"),
		QdrantCollection: envOr("QDRANT_COLLECTION", "alphacar"),
		EmbedDims:        envIntOr("EMBED_DIMS", 1024),
		NATSURL:          os.Getenv("NATS_URL"),
		CORSOrigin:       envOr("CORS_ORIGIN", "*"),
		MaxUploadBytes:   int64(envIntOr("MAX_UPLOAD_BYTES", 10<<20)),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			return n
		}
	}
	return fallback
}

var met = metrics.New()

var (
	mChatRequests  = met.Counter("aichat_chat_requests_total", "Chat requests served")
	mImageRequests = met.Counter("aichat_image_requests_total", "Image chat requests served")
	mKnowledgeAdds = met.Counter("aichat_knowledge_adds_total", "Knowledge additions via HTTP")
	mChatDuration  = met.Histogram("aichat_chat_duration_seconds", "Chat pipeline latency", nil)
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := loadConfig()

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Model runtime client ---
	client := bedrock.New(bedrock.Config{
		BaseURL:          cfg.BedrockURL,
		APIKey:           cfg.BedrockAPIKey,
		ChatModel:        cfg.ChatModel,
		EmbedModel:       cfg.EmbedModel,
		GuardrailID:      cfg.GuardrailID,
		GuardrailVersion: cfg.GuardrailVersion,
		Timeout:          60 * time.Second,
	})

	// --- Vector index ---
	var store vectorStore
	composer := rag.NewComposer(domain.DefaultKnownModels)
	embedder := semantic.RetryEmbedder(client, fn.DefaultRetry)

	switch cfg.StoreBackend {
	case "qdrant":
		qs, err := semantic.NewQdrant(cfg.QdrantURL, cfg.QdrantCollection, embedder)
		if err != nil {
			return fmt.Errorf("qdrant connect: %w", err)
		}
		defer qs.Close()
		if err := qs.EnsureCollection(ctx, cfg.EmbedDims); err != nil {
			return fmt.Errorf("qdrant ensure collection: %w", err)
		}
		docs, err := qs.Documents(ctx)
		if err != nil {
			return fmt.Errorf("qdrant scroll: %w", err)
		}
		composer.AddModels(modelNamesFromDocs(docs))
		logger.Info("qdrant index ready", "collection", cfg.QdrantCollection, "records", len(docs))
		store = qs
	default:
		ss, err := semantic.LoadOrCreate(ctx, cfg.SnapshotPath, embedder)
		if err != nil {
			return fmt.Errorf("load vector snapshot: %w", err)
		}
		composer.AddModels(modelNamesFromDocs(ss.Documents()))
		logger.Info("vector snapshot ready", "path", cfg.SnapshotPath, "records", ss.Count())
		store = ss
	}

	// --- RAG pipeline + vision front door ---
	retriever := rag.NewRetriever(store, rag.DefaultBreadth, logger)
	chatSvc := rag.New(retriever, composer, client, rag.DefaultOptions(), logger)
	visionSvc := vision.New(client, chatSvc, logger)

	// --- Optional live knowledge additions over NATS ---
	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL)
		if err != nil {
			return fmt.Errorf("nats connect: %w", err)
		}
		defer nc.Drain()
		sub, err := knowledge.StartConsumer(nc, store, logger)
		if err != nil {
			return fmt.Errorf("nats subscribe: %w", err)
		}
		defer sub.Unsubscribe()
		logger.Info("knowledge consumer started", "subject", knowledge.SubjectAdd)
	}

	// --- HTTP server ---
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", handleHealth)
	mux.Handle("GET /metrics", met.Handler())
	mux.HandleFunc("POST /api/chat", handleChat(chatSvc, logger))
	mux.HandleFunc("POST /api/chat/image", handleImageChat(visionSvc, logger))
	mux.HandleFunc("POST /api/knowledge", handleAddKnowledge(store, composer, logger))

	handler := mid.Chain(mux,
		mid.Recover(logger),
		mid.Logger(logger),
		mid.CORS(cfg.CORSOrigin),
		mid.MaxBody(cfg.MaxUploadBytes),
		mid.OTel("aichat-api"),
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.Port, "store", cfg.StoreBackend)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

// --- Handlers ---

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// ChatRequest is the JSON body for POST /api/chat.
type ChatRequest struct {
	Message string `json:"message"`
}

func handleChat(svc *rag.Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Message) == "" {
			http.Error(w, `{"error":"message is required"}`, http.StatusBadRequest)
			return
		}

		start := time.Now()
		answer, err := svc.Answer(r.Context(), req.Message)
		if err != nil {
			logger.Warn("chat cancelled", "err", err)
			http.Error(w, `{"error":"request cancelled"}`, http.StatusRequestTimeout)
			return
		}
		mChatRequests.Inc()
		mChatDuration.Since(start)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(answer)
	}
}

func handleImageChat(svc *vision.Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		file, header, err := r.FormFile("image")
		if err != nil {
			http.Error(w, `{"error":"image file is required"}`, http.StatusBadRequest)
			return
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			http.Error(w, `{"error":"failed to read image"}`, http.StatusBadRequest)
			return
		}

		mimeType := header.Header.Get("Content-Type")
		if mimeType == "" || mimeType == "application/octet-stream" {
			mimeType = http.DetectContentType(data)
		}

		result, err := svc.IdentifyAndAnswer(r.Context(), data, mimeType)
		if err != nil {
			logger.Warn("image chat cancelled", "err", err)
			http.Error(w, `{"error":"request cancelled"}`, http.StatusRequestTimeout)
			return
		}
		mImageRequests.Inc()

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(result)
	}
}

// KnowledgeRequest is the JSON body for POST /api/knowledge.
type KnowledgeRequest struct {
	Text   string `json:"text"`
	Source string `json:"source"`
}

func handleAddKnowledge(store vectorStore, composer *rag.Composer, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req KnowledgeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" || req.Source == "" {
			http.Error(w, `{"error":"text and source are required"}`, http.StatusBadRequest)
			return
		}

		doc := semantic.Document{Text: req.Text, Source: req.Source}
		if err := store.Add(r.Context(), []semantic.Document{doc}); err != nil {
			logger.Error("knowledge add failed", "source", req.Source, "err", err)
			http.Error(w, `{"error":"failed to persist knowledge"}`, http.StatusInternalServerError)
			return
		}
		composer.AddModels(modelNamesFromDocs([]semantic.Document{doc}))
		mKnowledgeAdds.Inc()

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"message": "Knowledge added.",
			"source":  req.Source,
		})
	}
}

// modelNamesFromDocs extracts model names from knowledge documents so
// the comparison detector recognizes everything that was ingested.
func modelNamesFromDocs(docs []semantic.Document) []string {
	lines := fn.FlatMap(docs, func(doc semantic.Document) []string {
		return strings.Split(doc.Text, "\n")
	})
	return fn.FilterMap(lines, func(line string) (string, bool) {
		name, ok := strings.CutPrefix(strings.TrimSpace(line), "모델명: ")
		if !ok {
			return "", false
		}
		// Strip the "(Model Year: ...)" suffix.
		if idx := strings.Index(name, " (Model Year:"); idx >= 0 {
			name = name[:idx]
		}
		name = strings.TrimSpace(name)
		return name, name != ""
	})
}
