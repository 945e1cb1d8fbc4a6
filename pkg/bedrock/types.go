package bedrock

import "fmt"

// StopReason reports why the model stopped generating. Guardrail
// intervention is modeled as a normal outcome, not an error.
type StopReason string

const (
	StopEndTurn             StopReason = "end_turn"
	StopMaxTokens           StopReason = "max_tokens"
	StopGuardrailIntervened StopReason = "guardrail_intervened"
)

// Image is an inline image attached to a converse call.
type Image struct {
	Format string // "jpeg", "png", "gif", "webp"
	Data   []byte
}

// ConverseInput is one request to the text/vision model.
type ConverseInput struct {
	System      string
	Message     string
	Image       *Image
	MaxTokens   int32
	Temperature float32
}

// ConverseOutput is the model's reply plus its stop condition.
type ConverseOutput struct {
	Text       string
	StopReason StopReason
}

// ConfigError indicates the guardrail configuration itself was rejected
// by the service. Operators need to see this distinctly from transport
// failures, so it carries its own type.
type ConfigError struct {
	Status  int
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("bedrock: guardrail config rejected (status %d): %s", e.Status, e.Message)
}
