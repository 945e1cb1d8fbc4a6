// Package bedrock provides an HTTP client for a Bedrock-style runtime
// exposing the Converse and embedding-invoke endpoints. It is the
// concrete implementation behind the engine's generative and embedding
// ports.
package bedrock

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Config configures a Client.
type Config struct {
	BaseURL          string
	APIKey           string
	ChatModel        string
	EmbedModel       string
	GuardrailID      string
	GuardrailVersion string
	Timeout          time.Duration
	// RequestsPerSec caps outbound calls; zero means unlimited.
	RequestsPerSec float64
}

// Client talks to the model runtime over HTTP.
type Client struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
}

// New creates a Client. The per-call timeout defaults to 30s.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.GuardrailVersion == "" {
		cfg.GuardrailVersion = "DRAFT"
	}
	var limiter *rate.Limiter
	if cfg.RequestsPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), 1)
	}
	return &Client{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: limiter,
	}
}

// --- converse wire types ---

type contentBlock struct {
	Text  string      `json:"text,omitempty"`
	Image *imageBlock `json:"image,omitempty"`
}

type imageBlock struct {
	Format string      `json:"format"`
	Source imageSource `json:"source"`
}

type imageSource struct {
	Bytes string `json:"bytes"` // base64
}

type message struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type inferenceConfig struct {
	MaxTokens   int32   `json:"maxTokens"`
	Temperature float32 `json:"temperature"`
}

type guardrailConfig struct {
	GuardrailIdentifier string `json:"guardrailIdentifier"`
	GuardrailVersion    string `json:"guardrailVersion"`
	Trace               string `json:"trace"`
}

type converseRequest struct {
	Messages        []message        `json:"messages"`
	System          []contentBlock   `json:"system,omitempty"`
	InferenceConfig inferenceConfig  `json:"inferenceConfig"`
	GuardrailConfig *guardrailConfig `json:"guardrailConfig,omitempty"`
}

type converseResponse struct {
	Output struct {
		Message struct {
			Content []contentBlock `json:"content"`
		} `json:"message"`
	} `json:"output"`
	StopReason string `json:"stopReason"`
}

// Converse sends one user turn (optionally with an image) and returns
// the reply text and stop condition. A guardrail intervention is a
// successful call with StopGuardrailIntervened; only transport and
// configuration problems surface as errors.
func (c *Client) Converse(ctx context.Context, in ConverseInput) (*ConverseOutput, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	content := []contentBlock{{Text: in.Message}}
	if in.Image != nil {
		content = append(content, contentBlock{Image: &imageBlock{
			Format: in.Image.Format,
			Source: imageSource{Bytes: base64.StdEncoding.EncodeToString(in.Image.Data)},
		}})
	}

	reqBody := converseRequest{
		Messages:        []message{{Role: "user", Content: content}},
		InferenceConfig: inferenceConfig{MaxTokens: in.MaxTokens, Temperature: in.Temperature},
	}
	if in.System != "" {
		reqBody.System = []contentBlock{{Text: in.System}}
	}
	if c.cfg.GuardrailID != "" {
		reqBody.GuardrailConfig = &guardrailConfig{
			GuardrailIdentifier: c.cfg.GuardrailID,
			GuardrailVersion:    c.cfg.GuardrailVersion,
			Trace:               "enabled",
		}
	}

	endpoint := fmt.Sprintf("%s/model/%s/converse", c.cfg.BaseURL, url.PathEscape(c.cfg.ChatModel))
	var resp converseResponse
	if err := c.post(ctx, endpoint, reqBody, &resp); err != nil {
		return nil, err
	}

	var text string
	for _, block := range resp.Output.Message.Content {
		if block.Text != "" {
			text = block.Text
			break
		}
	}

	stop := StopReason(resp.StopReason)
	if stop == "" {
		stop = StopEndTurn
	}
	return &ConverseOutput{Text: text, StopReason: stop}, nil
}

// --- embedding wire types ---

type embedRequest struct {
	InputText string `json:"inputText"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed returns the embedding vector for a text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	endpoint := fmt.Sprintf("%s/model/%s/invoke", c.cfg.BaseURL, url.PathEscape(c.cfg.EmbedModel))
	var resp embedResponse
	if err := c.post(ctx, endpoint, embedRequest{InputText: text}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Embedding) == 0 {
		return nil, fmt.Errorf("bedrock: empty embedding")
	}
	return resp.Embedding, nil
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

func (c *Client) post(ctx context.Context, endpoint string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("bedrock: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("bedrock: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("bedrock: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := strings.TrimSpace(string(raw))
		if resp.StatusCode == http.StatusBadRequest && strings.Contains(strings.ToLower(msg), "guardrail") {
			return &ConfigError{Status: resp.StatusCode, Message: msg}
		}
		return fmt.Errorf("bedrock: status %d: %s", resp.StatusCode, msg)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("bedrock: decode response: %w", err)
	}
	return nil
}
