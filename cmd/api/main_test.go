package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alphacar/aichat-engine/engine/rag"
	"github.com/alphacar/aichat-engine/engine/semantic"
	"github.com/alphacar/aichat-engine/engine/vision"
	"github.com/alphacar/aichat-engine/pkg/bedrock"
)

type fakeStore struct {
	docs []semantic.Document
	err  error
}

func (f *fakeStore) Add(_ context.Context, docs []semantic.Document) error {
	if f.err != nil {
		return f.err
	}
	f.docs = append(f.docs, docs...)
	return nil
}

func (f *fakeStore) Search(_ context.Context, _ string, _ int) ([]semantic.ScoredDocument, error) {
	out := make([]semantic.ScoredDocument, len(f.docs))
	for i, d := range f.docs {
		out[i] = semantic.ScoredDocument{Document: d, Score: 1}
	}
	return out, nil
}

type fakeGen struct {
	out *bedrock.ConverseOutput
	err error
}

func (f *fakeGen) Converse(_ context.Context, _ bedrock.ConverseInput) (*bedrock.ConverseOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.out, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(bytes.NewBuffer(nil), nil))
}

func newChatService(store *fakeStore, gen *fakeGen) *rag.Service {
	retriever := rag.NewRetriever(store, rag.DefaultBreadth, testLogger())
	composer := rag.NewComposer([]string{"쏘나타"})
	return rag.New(retriever, composer, gen, rag.DefaultOptions(), testLogger())
}

func TestHandleChat(t *testing.T) {
	store := &fakeStore{docs: []semantic.Document{{Text: "쏘나타 문서", Source: "car-1"}}}
	gen := &fakeGen{out: &bedrock.ConverseOutput{Text: "쏘나타를 추천드립니다.", StopReason: bedrock.StopEndTurn}}
	handler := handleChat(newChatService(store, gen), testLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"message":"중형 세단 추천해줘"}`))
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var ans rag.Answer
	if err := json.Unmarshal(rec.Body.Bytes(), &ans); err != nil {
		t.Fatalf("bad response JSON: %v", err)
	}
	if ans.Response != "쏘나타를 추천드립니다." {
		t.Fatalf("unexpected response: %q", ans.Response)
	}
	if len(ans.ContextUsed) != 1 || ans.ContextUsed[0] != "car-1" {
		t.Fatalf("unexpected sources: %v", ans.ContextUsed)
	}
}

func TestHandleChatRejectsEmptyMessage(t *testing.T) {
	handler := handleChat(newChatService(&fakeStore{}, &fakeGen{}), testLogger())

	for _, body := range []string{`{}`, `{"message":"   "}`, `not json`} {
		req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
		rec := httptest.NewRecorder()
		handler(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("body %q: expected 400, got %d", body, rec.Code)
		}
	}
}

func TestHandleAddKnowledge(t *testing.T) {
	store := &fakeStore{}
	composer := rag.NewComposer(nil)
	handler := handleAddKnowledge(store, composer, testLogger())

	body := `{"text":"[차량 정보]\n모델명: 토레스 (Model Year: 2025)","source":"manual-1"}`
	req := httptest.NewRequest(http.MethodPost, "/api/knowledge", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response JSON: %v", err)
	}
	if resp["message"] != "Knowledge added." || resp["source"] != "manual-1" {
		t.Fatalf("unexpected response: %v", resp)
	}
	if len(store.docs) != 1 {
		t.Fatalf("expected 1 stored doc, got %d", len(store.docs))
	}

	// The ingested model name becomes known to the comparison detector.
	if got := composer.MentionedModels("토레스 어때?"); len(got) != 1 || got[0] != "토레스" {
		t.Fatalf("model name not learned: %v", got)
	}
}

func TestHandleAddKnowledgePersistFailure(t *testing.T) {
	store := &fakeStore{err: errors.New("disk full")}
	handler := handleAddKnowledge(store, rag.NewComposer(nil), testLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/knowledge", strings.NewReader(`{"text":"x","source":"s"}`))
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("persist failure must be a 500, got %d", rec.Code)
	}
}

func TestHandleAddKnowledgeRejectsMissingFields(t *testing.T) {
	handler := handleAddKnowledge(&fakeStore{}, rag.NewComposer(nil), testLogger())

	for _, body := range []string{`{}`, `{"text":"x"}`, `{"source":"s"}`} {
		req := httptest.NewRequest(http.MethodPost, "/api/knowledge", strings.NewReader(body))
		rec := httptest.NewRecorder()
		handler(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("body %q: expected 400, got %d", body, rec.Code)
		}
	}
}

func TestHandleImageChat(t *testing.T) {
	store := &fakeStore{docs: []semantic.Document{{Text: "GV80 문서", Source: "car-1"}}}
	chatGen := &fakeGen{out: &bedrock.ConverseOutput{Text: "GV80는 대형 SUV입니다.", StopReason: bedrock.StopEndTurn}}
	visionSvc := vision.New(chatGen, newChatService(store, chatGen), testLogger())
	handler := handleImageChat(visionSvc, testLogger())

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("image", "car.jpg")
	if err != nil {
		t.Fatal(err)
	}
	fw.Write([]byte{0xFF, 0xD8, 0xFF})
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/chat/image", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var res vision.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("bad response JSON: %v", err)
	}
	// The part carries the generic octet-stream type; detection sees
	// JPEG magic bytes and the pipeline runs end to end.
	if res.IdentifiedCar == nil {
		t.Fatalf("expected an identified car, got %+v", res)
	}
}

func TestHandleImageChatMissingFile(t *testing.T) {
	visionSvc := vision.New(&fakeGen{}, newChatService(&fakeStore{}, &fakeGen{}), testLogger())
	handler := handleImageChat(visionSvc, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/chat/image", strings.NewReader("nope"))
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleHealth(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	handleHealth(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}

func TestModelNamesFromDocs(t *testing.T) {
	docs := []semantic.Document{
		{Text: "[차량 정보]\n브랜드: 현대\n모델명: 쏘나타 (Model Year: 2025)\n", Source: "car-1"},
		{Text: "모델명: 토레스 (Model Year: 최신)", Source: "car-2"},
		{Text: "자유 형식 지식, 모델명 줄 없음", Source: "manual-1"},
	}

	names := modelNamesFromDocs(docs)
	if len(names) != 2 || names[0] != "쏘나타" || names[1] != "토레스" {
		t.Fatalf("unexpected names: %v", names)
	}
}

func TestEnvOr(t *testing.T) {
	t.Setenv("AICHAT_TEST_KEY", "value")
	if got := envOr("AICHAT_TEST_KEY", "fallback"); got != "value" {
		t.Fatalf("expected env value, got %q", got)
	}
	if got := envOr("AICHAT_TEST_MISSING", "fallback"); got != "fallback" {
		t.Fatalf("expected fallback, got %q", got)
	}
	if got := envIntOr("AICHAT_TEST_MISSING", 42); got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}
	t.Setenv("AICHAT_TEST_INT", "7")
	if got := envIntOr("AICHAT_TEST_INT", 42); got != 7 {
		t.Fatalf("expected 7, got %d", got)
	}
}
