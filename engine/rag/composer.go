package rag

import (
	"strings"
	"sync"

	"github.com/alphacar/aichat-engine/engine/semantic"
)

// comparisonKeywords trigger the side-by-side comparison directive when
// the message also names two or more known models.
var comparisonKeywords = []string{"비교", "차이", "대결", "vs", "versus"}

const directiveCore = `You are the AI Automotive Specialist for 'AlphaCar'.

[CORE RULES - STRICT COMPLIANCE]
1. **LANGUAGE**: Answer strictly in **Korean (Hangul)**. No Hanja.
2. **GROUNDING**: Answer SOLELY based on the provided [Context].
3. **GUARDRAIL**: If the user asks about Non-Automotive topics, REJECT immediately.

[CONVERSATION FLOW - KEEP IT ALIVE]
**Do NOT just answer and stop.** Always end your response with a **Follow-up Question** to guide the user.

- **If you recommended cars**: "이 중에서 마음에 드는 모델이 있으신가요? 아니면 다른 조건(예: 연비, 디자인)으로 더 찾아볼까요?"
- **If you gave a price**: "생각하신 예산 범위에 맞으신가요? 할부 견적이나 옵션 정보도 알려드릴까요?"
- **If info is missing**: "더 정확한 추천을 위해 선호하시는 브랜드나 연료 타입(전기/가솔린)을 알려주시겠어요?"
- **General**: Act like a friendly and proactive car dealer.

[RESPONSE STRATEGY]
1. **QUANTITY**: Recommend at least 3 different models if possible.
2. **FORMAT**: Use a numbered list.

[SMART FILTERING LOGIC]
1. **Price Flexibility**: Allow ±10% margin.
2. **Type Filtering**:
   - "Sedan" -> Sedan/Coupe/Hatchback.
   - "SUV" -> SUV/RV.
3. **Scenarios**:
   - "Camping": SUV, Van.
   - "Commute/First Car": Compact Sedan, Hybrid, Light Car.
`

const directiveDefaultImages = `
[IMAGE RENDERING & LINKING LOGIC]
- MUST display images if 'ImageURL' exists in context.
- **CRITICAL**: You MUST wrap the image in a link to the quote page.
`

const directiveComparison = `
[COMPARISON MODE - STRICT LAYOUT]
The user is comparing two specific models. Ignore the QUANTITY rule above.
- Structure the ENTIRE answer as exactly TWO content blocks, one per model,
  separated by a double line break.
- Each block starts with that model's linked image, then its price range,
  then its key features from the context.
- Do NOT use tables or any tabular layout. Do NOT introduce a third model.
`

const directiveLinkPolicy = `
- **⛔ STRICT RULE (NO RAW URLs)**:
  - Do NOT write the raw Image URL (http://...) as plain text in the response.
  - ONLY output the URL inside the Markdown link syntax.
  - (Bad Example): "여기 이미지입니다: https://example.com/car.jpg [![Car](...)]..."
  - (Good Example): "여기 이미지입니다: [![Car](...)]..."

- **ID Selection Rules (Smart Linking)**:
  1. Check the **[트림별 상세 정보 (ID 포함)]** section in the context.
  2. **IF** the user mentioned a specific trim name (e.g., "Prestige", "Exclusive", "Noblesse"):
     - Find the ID associated with that trim name in the list.
     - Use that specific ID.
  3. **IF** the user did NOT specify a trim (General inquiry):
     - Use the ID of the **first (lowest price)** trim in the list.
     - Or use 'BaseTrimId' if available.
  4. NEVER invent or abbreviate an ID. The ID must appear literally in the context.

- **Link Format**:
  [![Car Name](ImageURL)](/quote/personal/result?trimId={Selected_TrimId})

- Keep 'ImageURL' exactly as provided in the context. Do not modify the image url.
`

// Composer assembles system directives. It is a pure function of
// (message, context); the known-model list only grows via AddModels.
type Composer struct {
	mu    sync.RWMutex
	known []string
}

// NewComposer creates a Composer seeded with known model names used for
// comparison detection.
func NewComposer(knownModels []string) *Composer {
	c := &Composer{}
	c.AddModels(knownModels)
	return c
}

// AddModels registers more known model names (e.g. as the catalog is
// ingested). Empty and duplicate names are ignored.
func (c *Composer) AddModels(names []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	seen := make(map[string]bool, len(c.known))
	for _, k := range c.known {
		seen[strings.ToLower(k)] = true
	}
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" || seen[strings.ToLower(n)] {
			continue
		}
		seen[strings.ToLower(n)] = true
		c.known = append(c.known, n)
	}
}

// MentionedModels returns the known model names the message contains,
// matched case-insensitively, in registration order.
func (c *Composer) MentionedModels(message string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	lower := strings.ToLower(message)
	var hits []string
	for _, name := range c.known {
		if strings.Contains(lower, strings.ToLower(name)) {
			hits = append(hits, name)
		}
	}
	return hits
}

// DetectComparison reports whether the message asks to compare two or
// more specific known models: it needs a comparison keyword AND at
// least two distinct known model names.
func (c *Composer) DetectComparison(message string) bool {
	lower := strings.ToLower(message)
	keyword := false
	for _, kw := range comparisonKeywords {
		if strings.Contains(lower, kw) {
			keyword = true
			break
		}
	}
	if !keyword {
		return false
	}
	return len(c.MentionedModels(message)) >= 2
}

// Compose builds the system directive for a user message and its
// retrieved context. For a fixed known-model registry, identical
// inputs yield byte-identical output; an AddModels between two calls
// can change comparison routing for the same message. The composer
// never calls the model.
func (c *Composer) Compose(userMessage string, docs []semantic.Document) string {
	var b strings.Builder
	b.WriteString(directiveCore)

	if c.DetectComparison(userMessage) {
		b.WriteString(directiveComparison)
	} else {
		b.WriteString(directiveDefaultImages)
	}
	b.WriteString(directiveLinkPolicy)

	b.WriteString("\n[Context]\n")
	for i, doc := range docs {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(doc.Text)
	}
	return b.String()
}
