// Package analyze is the downstream text-analysis collaborator: it turns
// the first parsed attachment text into structured summary, eligibility,
// funding, and deadline fields. Everything here is best-effort; callers
// treat failures as "no enrichment", never as pipeline errors.
package analyze

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/bizradar-io/support-crawler/internal/model"
)

// maxPromptRunes bounds how much document text goes into one request.
// Announcement essentials (eligibility, amounts, dates) sit in the head.
const maxPromptRunes = 6000

const systemPrompt = `당신은 한국 정부 지원사업 공고문 분석 도우미입니다. 주어진 공고문 본문에서 다음 항목을 추출해 JSON으로만 답하세요:
{"summary": "두 문장 이내 요약", "eligibility": "지원 대상", "funding_amount_krw": 숫자 또는 null, "deadline": "YYYY-MM-DD 또는 null"}
본문에 명시되지 않은 항목은 null로 두세요.`

// Config selects the model endpoint.
type Config struct {
	APIKey  string
	BaseURL string // optional, for OpenAI-compatible servers
	Model   string
}

// Client calls a chat-completion model for announcement analysis.
type Client struct {
	api    *openai.Client
	model  string
	logger *zap.Logger
}

// NewClient builds the analysis client. Returns nil when no API key is
// configured, which disables enrichment.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.APIKey == "" {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	return &Client{
		api:    openai.NewClientWithConfig(clientConfig),
		model:  model,
		logger: logger,
	}
}

type analysisPayload struct {
	Summary       string  `json:"summary"`
	Eligibility   string  `json:"eligibility"`
	FundingAmount *int64  `json:"funding_amount_krw"`
	Deadline      *string `json:"deadline"`
}

// Analyze extracts structured fields from one announcement text.
func (c *Client) Analyze(ctx context.Context, title, text string) (model.Enrichment, error) {
	runes := []rune(text)
	if len(runes) > maxPromptRunes {
		text = string(runes[:maxPromptRunes])
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf("공고명: %s\n\n본문:\n%s", title, text)},
		},
	})
	if err != nil {
		return model.Enrichment{}, fmt.Errorf("analysis call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return model.Enrichment{}, fmt.Errorf("analysis call: empty response")
	}

	var payload analysisPayload
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return model.Enrichment{}, fmt.Errorf("analysis response: %w", err)
	}

	enrichment := model.Enrichment{
		Summary:       strings.TrimSpace(payload.Summary),
		Eligibility:   strings.TrimSpace(payload.Eligibility),
		FundingAmount: payload.FundingAmount,
	}
	if payload.Deadline != nil {
		if deadline, perr := time.ParseInLocation("2006-01-02", *payload.Deadline, kst); perr == nil {
			enrichment.Deadline = &deadline
		} else {
			c.logger.Debug("unparseable deadline from analysis", zap.String("value", *payload.Deadline))
		}
	}
	return enrichment, nil
}

var kst = time.FixedZone("KST", 9*60*60)
