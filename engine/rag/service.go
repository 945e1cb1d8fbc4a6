package rag

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/alphacar/aichat-engine/pkg/bedrock"
	"github.com/alphacar/aichat-engine/pkg/resilience"
)

// Generator is the generative-model port the orchestrator calls.
type Generator interface {
	Converse(ctx context.Context, in bedrock.ConverseInput) (*bedrock.ConverseOutput, error)
}

// Fixed user-facing messages. These are never generated: the refusal
// replaces any partial output when the guardrail intervenes, and the
// apology covers every transport failure.
const (
	RefusalMessage      = "🚫 [자동 차단] 자동차와 관련 없는 질문(금융, 정치, 욕설 등)은 답변할 수 없습니다."
	ApologyMessage      = "죄송합니다. AI 서버 오류가 발생했습니다."
	configMessagePrefix = "⚠️ [System Error] Guardrail Config Error.\n"
)

// Options configures the answer pipeline.
type Options struct {
	Breadth       int
	MaxTokens     int32
	Temperature   float32
	SearchTimeout time.Duration
}

// DefaultOptions returns sensible defaults: low-but-nonzero temperature
// keeps phrasing natural while the directive pins the structure.
func DefaultOptions() Options {
	return Options{
		Breadth:       DefaultBreadth,
		MaxTokens:     2048,
		Temperature:   0.2,
		SearchTimeout: 5 * time.Second,
	}
}

// Answer is a grounded response plus the provenance of its context.
// ContextUsed lists source identifiers for audit, not for display.
type Answer struct {
	Response    string   `json:"response"`
	ContextUsed []string `json:"context_used"`
}

// Service is the conversation orchestrator.
type Service struct {
	retriever *Retriever
	composer  *Composer
	gen       Generator
	breaker   *resilience.Breaker
	opts      Options
	logger    *slog.Logger
}

// New creates a Service.
func New(retriever *Retriever, composer *Composer, gen Generator, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		retriever: retriever,
		composer:  composer,
		gen:       gen,
		breaker:   resilience.NewBreaker(resilience.DefaultBreakerOpts),
		opts:      opts,
		logger:    logger,
	}
}

// Composer exposes the service's composer so callers can register
// model names learned at ingestion time.
func (s *Service) Composer() *Composer { return s.composer }

// Answer runs retrieve → compose → converse for one user message.
// Failure handling follows a strict taxonomy: guardrail interventions
// and transport failures become fixed responses with empty sources; a
// guardrail configuration error is surfaced distinctly for operators.
// The only error returned is the caller's own cancellation.
func (s *Service) Answer(ctx context.Context, userMessage string) (*Answer, error) {
	searchCtx, cancel := context.WithTimeout(ctx, s.opts.SearchTimeout)
	docs, err := s.retriever.Retrieve(searchCtx, userMessage)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.Error("rag: retrieval failed", "error", err)
		return &Answer{Response: ApologyMessage, ContextUsed: []string{}}, nil
	}

	directive := s.composer.Compose(userMessage, docs)

	var out *bedrock.ConverseOutput
	err = s.breaker.Call(ctx, func(ctx context.Context) error {
		var callErr error
		out, callErr = s.gen.Converse(ctx, bedrock.ConverseInput{
			System:      directive,
			Message:     userMessage,
			MaxTokens:   s.opts.MaxTokens,
			Temperature: s.opts.Temperature,
		})
		return callErr
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var cfgErr *bedrock.ConfigError
		if errors.As(err, &cfgErr) {
			s.logger.Error("rag: guardrail configuration rejected", "error", cfgErr)
			return &Answer{Response: configMessagePrefix + cfgErr.Message, ContextUsed: []string{}}, nil
		}
		s.logger.Error("rag: generative call failed", "error", err)
		return &Answer{Response: ApologyMessage, ContextUsed: []string{}}, nil
	}

	if out.StopReason == bedrock.StopGuardrailIntervened {
		s.logger.Warn("rag: blocked by guardrail", "message_len", len(userMessage))
		return &Answer{Response: RefusalMessage, ContextUsed: []string{}}, nil
	}

	sources := make([]string, len(docs))
	for i, doc := range docs {
		sources[i] = doc.Source
	}
	return &Answer{Response: out.Text, ContextUsed: sources}, nil
}
