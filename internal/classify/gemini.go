package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

const systemPrompt = `당신은 주식 종목 섹터 분류 전문가입니다.
주어진 종목명과 종목코드를 보고 GICS 기반 한국어 섹터로 분류하세요.

사용 가능한 섹터: 에너지, 소재, 산업재, 경기소비재, 필수소비재, 헬스케어, 금융, IT, 통신서비스, 유틸리티, 부동산, 기타

규칙:
- ETF는 주요 투자 대상 섹터로 분류
- 분류 불가 시 "기타"
- 반드시 JSON 형식으로만 응답: {"종목명": "섹터명", ...}
- 다른 텍스트 없이 JSON만 출력`

// GeminiOracle classifies instruments with a Gemini model.
type GeminiOracle struct {
	client *genai.Client
	model  string
}

// NewGeminiOracle creates an oracle. An empty apiKey lets the SDK read
// GEMINI_API_KEY / GOOGLE_API_KEY from the environment.
func NewGeminiOracle(ctx context.Context, apiKey, model string) (*GeminiOracle, error) {
	var cfg *genai.ClientConfig
	if apiKey != "" {
		cfg = &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &GeminiOracle{client: client, model: model}, nil
}

// Prompt builds the user prompt for one market batch.
func Prompt(market Market, instruments []Instrument) string {
	var b strings.Builder
	fmt.Fprintf(&b, "다음 %s 주식 종목들의 섹터를 분류해주세요:", market)
	for _, in := range instruments {
		fmt.Fprintf(&b, "\n- %s (%s)", in.Name, in.Code)
	}
	return b.String()
}

func (g *GeminiOracle) Classify(ctx context.Context, market Market, instruments []Instrument) (map[string]string, error) {
	temperature := float32(0)
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(Prompt(market, instruments)), &genai.GenerateContentConfig{
		Temperature:       &temperature,
		ResponseMIMEType:  "application/json",
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: systemPrompt}}},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini request failed: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("empty response from %s", g.model)
	}

	var text strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		text.WriteString(p.Text)
	}
	return ParseAnswer(text.String())
}

// ParseAnswer decodes a {"name": "sector"} JSON object, tolerating a
// surrounding markdown code fence.
func ParseAnswer(text string) (map[string]string, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	var out map[string]string
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &out); err != nil {
		return nil, fmt.Errorf("failed to decode oracle answer: %w", err)
	}
	return out, nil
}
