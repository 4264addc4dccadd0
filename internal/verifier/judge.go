package verifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cofina-ai/cofina-agent/internal/llm"
)

const judgePrompt = `You are a quality judge for a financial assistant.

Score the ANSWER on how well it addresses the QUESTION, using the CONTEXT if provided.

QUESTION: %s

CONTEXT: %s

ANSWER: %s

SCORING RULES (be GENEROUS):

1. CONVERSATIONAL (greetings, acknowledgments, procedural help): score 0.95-1.0
2. GENERAL FINANCIAL ADVICE (budgeting, saving, debt strategies): score 0.8-0.95 if sound, even without citations
3. PROFILE-BASED or CITED RESPONSES: score 0.85-1.0 if the answer accurately uses user data or the context
4. MINOR ISSUES (slightly vague, missing detail): score 0.6-0.8
5. CLEARLY WRONG or HARMFUL: score below 0.5 (this should be rare)

Respond with JSON only, no extra text:
{"score": <number between 0 and 1>, "reason": "<one or two sentences>"}`

// LLMJudge scores answers with a chat model.
type LLMJudge struct {
	client llm.Client
	model  string
}

func NewLLMJudge(client llm.Client, model string) *LLMJudge {
	return &LLMJudge{client: client, model: model}
}

type judgeVerdict struct {
	Score  float64 `json:"score"`
	Reason string  `json:"reason"`
}

func (j *LLMJudge) Judge(ctx context.Context, question, answer, retrieved string) (float64, string, error) {
	retrieved = strings.TrimSpace(retrieved)
	if retrieved == "" {
		retrieved = "No specific context, judge on general knowledge"
	}

	resp, err := j.client.Chat(ctx, j.model, []llm.Message{
		{Role: "user", Content: fmt.Sprintf(judgePrompt, question, retrieved, answer)},
	}, nil)
	if err != nil {
		return 0, "", fmt.Errorf("judge call: %w", err)
	}

	var verdict judgeVerdict
	if err := json.Unmarshal([]byte(extractJSON(resp.Message.Content)), &verdict); err != nil {
		return 0, "", fmt.Errorf("parsing judge verdict: %w", err)
	}
	return verdict.Score, verdict.Reason, nil
}

// extractJSON pulls the outermost JSON object out of a response that
// may be wrapped in markdown fences or prose.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return s
	}
	return s[start : end+1]
}
