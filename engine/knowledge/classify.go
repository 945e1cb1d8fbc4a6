package knowledge

import (
	"context"
	"log/slog"
	"strings"

	"github.com/alphacar/aichat-engine/engine/domain"
	"github.com/alphacar/aichat-engine/pkg/bedrock"
)

// Generator is the generative-model port the ingester needs: one
// constrained completion per call.
type Generator interface {
	Converse(ctx context.Context, in bedrock.ConverseInput) (*bedrock.ConverseOutput, error)
}

const classifyPrompt = `자동차 모델명: "%s"

위 자동차에 대해 다음 3가지를 분석해서 " | " 로 구분하여 단답형으로 출력해.
1. 차종 (선택: 세단, SUV, 트럭, 승합차, 경차, 스포츠카, 해치백)
2. 차급 (선택: 경차, 소형, 준중형, 중형, 준대형, 대형)
3. 연료 (이름에 EV/Electric이 있으면 '전기', Hybrid면 '하이브리드', 그 외는 '가솔린' 또는 '디젤'로 추론)

출력 예시: SUV | 중형 | 하이브리드
설명하지 말고 오직 "차종 | 차급 | 연료" 형식으로만 답해.`

// Classify asks the model for the body type, size class, and fuel type
// of a vehicle in one short zero-temperature completion. Classification
// is best-effort enrichment: any failure or unparseable reply degrades
// to the fixed unclassified triple and never propagates an error.
func Classify(ctx context.Context, gen Generator, modelName string, logger *slog.Logger) domain.Classification {
	if logger == nil {
		logger = slog.Default()
	}

	out, err := gen.Converse(ctx, bedrock.ConverseInput{
		Message:     strings.Replace(classifyPrompt, "%s", modelName, 1),
		MaxTokens:   20,
		Temperature: 0,
	})
	if err != nil {
		logger.Warn("knowledge: classify failed, using fallback", "model", modelName, "error", err)
		return domain.Unclassified
	}

	return parseClassification(out.Text)
}

// parseClassification parses "차종 | 차급 | 연료"; missing parts fall
// back field by field.
func parseClassification(text string) domain.Classification {
	// Only the first line counts; chatty models sometimes append notes.
	line, _, _ := strings.Cut(strings.TrimSpace(text), "\n")
	parts := strings.Split(line, "|")

	cls := domain.Unclassified
	if len(parts) > 0 && strings.TrimSpace(parts[0]) != "" {
		cls.BodyType = strings.TrimSpace(parts[0])
	}
	if len(parts) > 1 && strings.TrimSpace(parts[1]) != "" {
		cls.SizeClass = strings.TrimSpace(parts[1])
	}
	if len(parts) > 2 && strings.TrimSpace(parts[2]) != "" {
		cls.FuelType = strings.TrimSpace(parts[2])
	}
	return cls
}
