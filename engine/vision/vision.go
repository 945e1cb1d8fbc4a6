// Package vision is the multi-modal front door: it turns an uploaded
// photo into a vehicle name via a constrained vision call and forwards
// a synthesized question through the text pipeline.
package vision

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alphacar/aichat-engine/engine/rag"
	"github.com/alphacar/aichat-engine/pkg/bedrock"
)

// NotCarSentinel is the only non-name reply the identification prompt
// allows.
const NotCarSentinel = "NOT_CAR"

// NotCarMessage is the fixed response when no vehicle is identified.
// It is never generated.
const NotCarMessage = "사진에서 차량을 인식하지 못했습니다. 자동차가 잘 보이는 사진으로 다시 시도해 주세요."

const identifyPrompt = `이 사진 속 자동차의 모델명을 한국어로 딱 하나만 출력해. (예: 쏘나타, GV80)
사진에 자동차가 없으면 오직 "NOT_CAR" 라고만 출력해.
설명하지 말고 모델명 또는 NOT_CAR 만 답해.`

// supportedFormats maps accepted MIME types to the converse image
// format tag. Anything else fails closed to the NOT_CAR path.
var supportedFormats = map[string]string{
	"image/jpeg": "jpeg",
	"image/jpg":  "jpeg",
	"image/png":  "png",
	"image/gif":  "gif",
	"image/webp": "webp",
}

// Generator is the vision-capable generative port.
type Generator interface {
	Converse(ctx context.Context, in bedrock.ConverseInput) (*bedrock.ConverseOutput, error)
}

// Answerer is the downstream text pipeline.
type Answerer interface {
	Answer(ctx context.Context, userMessage string) (*rag.Answer, error)
}

// Result is an image-chat response. IdentifiedCar is nil when no
// vehicle was recognized.
type Result struct {
	Response      string   `json:"response"`
	ContextUsed   []string `json:"context_used"`
	IdentifiedCar *string  `json:"identified_car"`
}

// Service identifies vehicles in images and answers about them.
type Service struct {
	gen    Generator
	chat   Answerer
	logger *slog.Logger
}

// New creates a vision Service.
func New(gen Generator, chat Answerer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{gen: gen, chat: chat, logger: logger}
}

// IdentifyAndAnswer names the vehicle in the image and forwards a
// synthesized follow-up question through the text pipeline. An
// unidentified image (sentinel, unsupported format, or a failed vision
// call) short-circuits with the fixed NOT_CAR response and never
// reaches the text pipeline.
func (s *Service) IdentifyAndAnswer(ctx context.Context, image []byte, mimeType string) (*Result, error) {
	format, ok := supportedFormats[strings.ToLower(strings.TrimSpace(mimeType))]
	if !ok {
		s.logger.Warn("vision: unsupported image format", "mime", mimeType)
		return notCarResult(), nil
	}

	name, err := s.identify(ctx, image, format)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.Warn("vision: identification failed", "error", err)
		return notCarResult(), nil
	}
	if name == "" {
		return notCarResult(), nil
	}

	question := fmt.Sprintf("「%s」 모델의 가격과 주요 특징을 알려줘.", name)
	answer, err := s.chat.Answer(ctx, question)
	if err != nil {
		return nil, err
	}

	s.logger.Info("vision: identified vehicle", "model", name)
	return &Result{
		Response:      answer.Response,
		ContextUsed:   answer.ContextUsed,
		IdentifiedCar: &name,
	}, nil
}

// identify runs the constrained vision call. Returns "" when the model
// declares the image is not a vehicle.
func (s *Service) identify(ctx context.Context, image []byte, format string) (string, error) {
	out, err := s.gen.Converse(ctx, bedrock.ConverseInput{
		Message:     identifyPrompt,
		Image:       &bedrock.Image{Format: format, Data: image},
		MaxTokens:   30,
		Temperature: 0,
	})
	if err != nil {
		return "", err
	}
	if out.StopReason == bedrock.StopGuardrailIntervened {
		return "", nil
	}

	name, _, _ := strings.Cut(strings.TrimSpace(out.Text), "\n")
	name = strings.Trim(name, "\"'「」 ")
	if name == "" || strings.Contains(strings.ToUpper(name), NotCarSentinel) {
		return "", nil
	}
	return name, nil
}

func notCarResult() *Result {
	return &Result{
		Response:      NotCarMessage,
		ContextUsed:   []string{},
		IdentifiedCar: nil,
	}
}
