package rag

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/alphacar/aichat-engine/engine/semantic"
	"github.com/alphacar/aichat-engine/pkg/bedrock"
)

// mockGenerator records the converse input and returns scripted output.
type mockGenerator struct {
	in    *bedrock.ConverseInput
	out   *bedrock.ConverseOutput
	err   error
	calls int
}

func (m *mockGenerator) Converse(_ context.Context, in bedrock.ConverseInput) (*bedrock.ConverseOutput, error) {
	m.calls++
	m.in = &in
	if m.err != nil {
		return nil, m.err
	}
	return m.out, nil
}

func testService(store Searcher, gen Generator) *Service {
	retriever := NewRetriever(store, 5, nil)
	composer := NewComposer([]string{"쏘나타", "그랜저"})
	return New(retriever, composer, gen, DefaultOptions(), nil)
}

func TestAnswerGrounded(t *testing.T) {
	store := &mockSearcher{results: []semantic.ScoredDocument{
		scored("쏘나타 문서", "car-1", 0.9),
		scored("그랜저 상세 문서", "car-2", 0.8),
	}}
	gen := &mockGenerator{out: &bedrock.ConverseOutput{Text: "쏘나타를 추천드립니다.", StopReason: bedrock.StopEndTurn}}

	svc := testService(store, gen)
	ans, err := svc.Answer(context.Background(), "중형 세단 추천해줘")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ans.Response != "쏘나타를 추천드립니다." {
		t.Fatalf("unexpected response: %q", ans.Response)
	}
	if len(ans.ContextUsed) != 2 || ans.ContextUsed[0] != "car-1" || ans.ContextUsed[1] != "car-2" {
		t.Fatalf("sources must follow retrieval order, got %v", ans.ContextUsed)
	}

	// The directive carries the retrieved context; the user message goes
	// through verbatim.
	if !strings.Contains(gen.in.System, "쏘나타 문서") {
		t.Fatal("context missing from system directive")
	}
	if gen.in.Message != "중형 세단 추천해줘" {
		t.Fatalf("user message altered: %q", gen.in.Message)
	}
}

func TestAnswerGuardrailIntervened(t *testing.T) {
	store := &mockSearcher{results: []semantic.ScoredDocument{scored("doc", "car-1", 0.9)}}
	gen := &mockGenerator{out: &bedrock.ConverseOutput{Text: "부분 출력", StopReason: bedrock.StopGuardrailIntervened}}

	svc := testService(store, gen)
	ans, err := svc.Answer(context.Background(), "주식 추천해줘")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ans.Response != RefusalMessage {
		t.Fatalf("expected fixed refusal, got %q", ans.Response)
	}
	if strings.Contains(ans.Response, "부분 출력") {
		t.Fatal("partial model output must not leak through a refusal")
	}
	if len(ans.ContextUsed) != 0 {
		t.Fatalf("refusal must carry no sources, got %v", ans.ContextUsed)
	}
}

func TestAnswerTransportFailure(t *testing.T) {
	store := &mockSearcher{results: []semantic.ScoredDocument{scored("doc", "car-1", 0.9)}}
	gen := &mockGenerator{err: errors.New("connection refused")}

	svc := testService(store, gen)
	ans, err := svc.Answer(context.Background(), "안녕")
	if err != nil {
		t.Fatalf("transport failure must degrade, got error: %v", err)
	}
	if ans.Response != ApologyMessage {
		t.Fatalf("expected apology, got %q", ans.Response)
	}
	if len(ans.ContextUsed) != 0 {
		t.Fatalf("apology must carry no sources, got %v", ans.ContextUsed)
	}
}

func TestAnswerGuardrailConfigError(t *testing.T) {
	store := &mockSearcher{results: []semantic.ScoredDocument{scored("doc", "car-1", 0.9)}}
	gen := &mockGenerator{err: &bedrock.ConfigError{Status: 400, Message: "guardrail not found"}}

	svc := testService(store, gen)
	ans, err := svc.Answer(context.Background(), "안녕")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(ans.Response, "⚠️ [System Error] Guardrail Config Error.\n") {
		t.Fatalf("config errors must be surfaced distinctly, got %q", ans.Response)
	}
	if !strings.Contains(ans.Response, "guardrail not found") {
		t.Fatalf("config error detail missing: %q", ans.Response)
	}
}

func TestAnswerRetrievalFailure(t *testing.T) {
	store := &mockSearcher{err: errors.New("index unavailable")}
	gen := &mockGenerator{out: &bedrock.ConverseOutput{Text: "x", StopReason: bedrock.StopEndTurn}}

	svc := testService(store, gen)
	ans, err := svc.Answer(context.Background(), "안녕")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ans.Response != ApologyMessage {
		t.Fatalf("expected apology, got %q", ans.Response)
	}
	if gen.calls != 0 {
		t.Fatal("generative model must not be called when retrieval fails")
	}
}

func TestAnswerCallerCancellation(t *testing.T) {
	store := &mockSearcher{results: []semantic.ScoredDocument{scored("doc", "car-1", 0.9)}}
	gen := &mockGenerator{err: context.Canceled}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	svc := testService(store, gen)
	if _, err := svc.Answer(ctx, "안녕"); !errors.Is(err, context.Canceled) {
		t.Fatalf("caller cancellation must propagate, got %v", err)
	}
}
