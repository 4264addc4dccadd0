package tools

import (
	"context"
	"errors"
	"fmt"
)

func (r *Registry) registerProductTools() {
	r.Register(&Tool{
		Name:        "search_products",
		Description: "Search for product prices. Falls back to estimated prices when the live price API is unavailable.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query":     map[string]any{"type": "string", "description": "What to search for, e.g. 'macbook air'"},
				"limit":     map[string]any{"type": "integer", "description": "Max results, 1 to 5, default 3"},
				"max_price": map[string]any{"type": "number", "description": "Only return products at or below this price"},
			},
			"required": []string{"query"},
		},
		Handler: r.handleSearchProducts,
	})

	r.Register(&Tool{
		Name:        "check_affordability",
		Description: "Judge whether a purchase fits the user's finances, based on its price and their income and savings.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"price":          map[string]any{"type": "number", "description": "Price of the item"},
				"monthly_income": map[string]any{"type": "number", "description": "The user's monthly income"},
				"savings":        map[string]any{"type": "number", "description": "The user's current savings, if known"},
			},
			"required": []string{"price", "monthly_income"},
		},
		Handler: handleAffordability,
	})
}

func (r *Registry) handleSearchProducts(ctx context.Context, args map[string]any) (string, error) {
	if r.products == nil {
		return "", errNoProducts
	}
	query := stringArg(args, "query")
	if query == "" {
		return "", errors.New("query is required")
	}
	limit := intArgDefault(args, "limit", 3)
	maxPrice := floatArgDefault(args, "max_price", 0)

	result, err := r.products.Search(ctx, query, limit, maxPrice)
	if err != nil {
		return "", fmt.Errorf("searching products: %w", err)
	}
	return toolJSON(result), nil
}

func handleAffordability(_ context.Context, args map[string]any) (string, error) {
	price, ok := floatArg(args, "price")
	if !ok || price <= 0 {
		return "", errors.New("price must be a positive number")
	}
	income, ok := floatArg(args, "monthly_income")
	if !ok || income <= 0 {
		return "", errors.New("monthly_income must be a positive number")
	}
	savings := floatArgDefault(args, "savings", 0)

	incomeRatio := price / income
	score := 0
	switch {
	case incomeRatio <= 0.1:
		score += 3
	case incomeRatio <= 0.25:
		score += 2
	case incomeRatio <= 0.5:
		score++
	default:
		score--
	}

	savingsRatio := 0.0
	if savings > 0 {
		savingsRatio = price / savings
		switch {
		case savingsRatio <= 0.1:
			score += 2
		case savingsRatio <= 0.25:
			score++
		}
		// Buying from savings should not gut the emergency cushion.
		if savingsRatio > 0.2 {
			score -= 2
		}
	}

	var verdict, advice string
	switch {
	case score >= 5:
		verdict = "affordable"
		advice = "This purchase fits comfortably within the budget."
	case score >= 2:
		verdict = "caution"
		advice = "Affordable, but worth planning for rather than buying on impulse."
	default:
		verdict = "not_recommended"
		advice = fmt.Sprintf("Consider saving about %.2f per month for three months instead of buying now.", price/3)
	}

	return toolJSON(map[string]any{
		"price":          price,
		"monthly_income": income,
		"income_ratio":   incomeRatio,
		"savings_ratio":  savingsRatio,
		"score":          score,
		"verdict":        verdict,
		"advice":         advice,
	}), nil
}
