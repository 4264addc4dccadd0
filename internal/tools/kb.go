package tools

import (
	"context"
	"errors"
	"fmt"
)

func (r *Registry) registerKnowledgeTools() {
	r.Register(&Tool{
		Name:        "search_financial_documents",
		Description: "Search the financial knowledge base for guidance on budgeting, debt, savings, and investing. Always cite the returned sections when answering from them.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{"type": "string", "description": "Topic to look up, e.g. 'emergency fund size'"},
				"limit": map[string]any{"type": "integer", "description": "Max sections to return, default 3"},
			},
			"required": []string{"query"},
		},
		Handler: r.handleSearchKnowledge,
	})
}

func (r *Registry) handleSearchKnowledge(ctx context.Context, args map[string]any) (string, error) {
	if r.kb == nil {
		return "", errNoKnowledge
	}
	query := stringArg(args, "query")
	if query == "" {
		return "", errors.New("query is required")
	}
	limit := intArgDefault(args, "limit", 3)
	if limit < 1 || limit > 10 {
		limit = 3
	}

	results, err := r.kb.Search(ctx, query, limit)
	if err != nil {
		return "", fmt.Errorf("searching knowledge base: %w", err)
	}
	if len(results) == 0 {
		return toolJSON(map[string]any{
			"found":   false,
			"message": "No relevant sections. Answer from general knowledge and say so.",
		}), nil
	}

	sections := make([]map[string]any, 0, len(results))
	for _, res := range results {
		sections = append(sections, map[string]any{
			"key":     res.Key,
			"section": res.Section,
			"content": res.Content,
		})
	}
	return toolJSON(map[string]any{
		"found":    true,
		"sections": sections,
	}), nil
}
