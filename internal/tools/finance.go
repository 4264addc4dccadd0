package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cofina-ai/cofina-agent/internal/finance"
)

func numberParam(desc string) map[string]any {
	return map[string]any{"type": "number", "description": desc}
}

func (r *Registry) registerFinanceTools() {
	r.Register(&Tool{
		Name:        "calculate_simple_interest",
		Description: "Calculate simple interest (I = P*r*t) for a principal, annual rate, and time in years.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"principal":  numberParam("Initial amount"),
				"rate":       numberParam("Annual interest rate as a percentage, e.g. 5 for 5%"),
				"time_years": numberParam("Time in years"),
			},
			"required": []string{"principal", "rate", "time_years"},
		},
		Handler: handleSimpleInterest,
	})

	r.Register(&Tool{
		Name:        "calculate_compound_interest",
		Description: "Calculate compound interest growth with optional monthly contributions, including a year-by-year projection.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"principal":            numberParam("Initial amount"),
				"rate":                 numberParam("Annual interest rate as a percentage"),
				"time_years":           numberParam("Time in years"),
				"compounds_per_year":   numberParam("Compounding periods per year (default 12)"),
				"monthly_contribution": numberParam("Additional monthly contribution (default 0)"),
			},
			"required": []string{"principal", "rate", "time_years"},
		},
		Handler: handleCompoundInterest,
	})

	r.Register(&Tool{
		Name:        "calculate_loan_payment",
		Description: "Calculate the periodic payment, total interest, and first-year amortization schedule for a loan.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"loan_amount":       numberParam("Principal loan amount"),
				"annual_rate":       numberParam("Annual interest rate as a percentage"),
				"loan_term_years":   numberParam("Loan term in years"),
				"payments_per_year": numberParam("Payments per year (default 12)"),
			},
			"required": []string{"loan_amount", "annual_rate", "loan_term_years"},
		},
		Handler: handleLoanPayment,
	})

	r.Register(&Tool{
		Name:        "calculate_retirement_savings",
		Description: "Project retirement savings to a target age and apply the 4% safe-withdrawal rule.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"current_age":          numberParam("Current age in years"),
				"retirement_age":       numberParam("Planned retirement age"),
				"current_savings":      numberParam("Current retirement savings"),
				"monthly_contribution": numberParam("Monthly contribution"),
				"expected_return_rate": numberParam("Expected annual return as a percentage (default 7)"),
				"annual_income":        numberParam("Current annual income, for the replacement ratio (optional)"),
			},
			"required": []string{"current_age", "retirement_age", "current_savings", "monthly_contribution"},
		},
		Handler: handleRetirementSavings,
	})

	r.Register(&Tool{
		Name:        "calculate_budget_allocation",
		Description: "Split a monthly income using the 50/30/20 rule (or custom percentages) with category breakdowns.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"monthly_income":  numberParam("Monthly after-tax income"),
				"needs_percent":   numberParam("Percentage for needs (default 50)"),
				"wants_percent":   numberParam("Percentage for wants (default 30)"),
				"savings_percent": numberParam("Percentage for savings (default 20)"),
			},
			"required": []string{"monthly_income"},
		},
		Handler: handleBudgetAllocation,
	})

	r.Register(&Tool{
		Name:        "calculate_emergency_fund",
		Description: "Size an emergency fund covering a number of months of essential expenses.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"monthly_expenses": numberParam("Average monthly essential expenses"),
				"months":           numberParam("Months to cover (default 6)"),
			},
			"required": []string{"monthly_expenses"},
		},
		Handler: handleEmergencyFund,
	})

	r.Register(&Tool{
		Name:        "calculate_debt_payoff",
		Description: "Simulate paying off a list of debts with the avalanche or snowball strategy and a fixed monthly budget.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"debts": map[string]any{
					"type":        "array",
					"description": "Debts as objects with name, balance, rate (annual %), and min_payment",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"name":        map[string]any{"type": "string"},
							"balance":     numberParam("Remaining balance"),
							"rate":        numberParam("Annual interest rate as a percentage"),
							"min_payment": numberParam("Minimum monthly payment"),
						},
					},
				},
				"monthly_payment": numberParam("Total monthly amount available for debt"),
				"strategy": map[string]any{
					"type":        "string",
					"description": "'avalanche' (highest rate first) or 'snowball' (smallest balance first)",
				},
			},
			"required": []string{"debts", "monthly_payment"},
		},
		Handler: handleDebtPayoff,
	})
}

func handleSimpleInterest(_ context.Context, args map[string]any) (string, error) {
	principal, ok1 := floatArg(args, "principal")
	rate, ok2 := floatArg(args, "rate")
	years, ok3 := floatArg(args, "time_years")
	if !ok1 || !ok2 || !ok3 {
		return "", fmt.Errorf("principal, rate, and time_years are required")
	}
	result, err := finance.SimpleInterest(principal, rate, years)
	if err != nil {
		return "", err
	}
	return toolJSON(result), nil
}

func handleCompoundInterest(_ context.Context, args map[string]any) (string, error) {
	principal, ok1 := floatArg(args, "principal")
	rate, ok2 := floatArg(args, "rate")
	years, ok3 := floatArg(args, "time_years")
	if !ok1 || !ok2 || !ok3 {
		return "", fmt.Errorf("principal, rate, and time_years are required")
	}
	result, err := finance.CompoundInterest(principal, rate, years,
		intArgDefault(args, "compounds_per_year", 12),
		floatArgDefault(args, "monthly_contribution", 0))
	if err != nil {
		return "", err
	}
	return toolJSON(result), nil
}

func handleLoanPayment(_ context.Context, args map[string]any) (string, error) {
	amount, ok1 := floatArg(args, "loan_amount")
	rate, ok2 := floatArg(args, "annual_rate")
	years, ok3 := floatArg(args, "loan_term_years")
	if !ok1 || !ok2 || !ok3 {
		return "", fmt.Errorf("loan_amount, annual_rate, and loan_term_years are required")
	}
	result, err := finance.LoanPayment(amount, rate, years, intArgDefault(args, "payments_per_year", 12))
	if err != nil {
		return "", err
	}
	return toolJSON(result), nil
}

func handleRetirementSavings(_ context.Context, args map[string]any) (string, error) {
	currentAge, ok1 := floatArg(args, "current_age")
	retirementAge, ok2 := floatArg(args, "retirement_age")
	savings, ok3 := floatArg(args, "current_savings")
	contribution, ok4 := floatArg(args, "monthly_contribution")
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return "", fmt.Errorf("current_age, retirement_age, current_savings, and monthly_contribution are required")
	}
	result, err := finance.RetirementSavings(int(currentAge), int(retirementAge), savings, contribution,
		floatArgDefault(args, "expected_return_rate", 7),
		floatArgDefault(args, "annual_income", 0))
	if err != nil {
		return "", err
	}
	return toolJSON(result), nil
}

func handleBudgetAllocation(_ context.Context, args map[string]any) (string, error) {
	income, ok := floatArg(args, "monthly_income")
	if !ok {
		return "", fmt.Errorf("monthly_income is required")
	}
	result, err := finance.BudgetAllocation(income,
		floatArgDefault(args, "needs_percent", 50),
		floatArgDefault(args, "wants_percent", 30),
		floatArgDefault(args, "savings_percent", 20))
	if err != nil {
		return "", err
	}
	return toolJSON(result), nil
}

func handleEmergencyFund(_ context.Context, args map[string]any) (string, error) {
	expenses, ok := floatArg(args, "monthly_expenses")
	if !ok {
		return "", fmt.Errorf("monthly_expenses is required")
	}
	result, err := finance.EmergencyFund(expenses, intArgDefault(args, "months", 6))
	if err != nil {
		return "", err
	}
	return toolJSON(result), nil
}

func handleDebtPayoff(_ context.Context, args map[string]any) (string, error) {
	payment, ok := floatArg(args, "monthly_payment")
	if !ok {
		return "", fmt.Errorf("monthly_payment is required")
	}

	var debts []finance.PayoffDebt
	switch v := args["debts"].(type) {
	case []any:
		raw, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("invalid debts list: %w", err)
		}
		if err := json.Unmarshal(raw, &debts); err != nil {
			return "", fmt.Errorf("invalid debts list: %w", err)
		}
	case string:
		if err := json.Unmarshal([]byte(v), &debts); err != nil {
			return "", fmt.Errorf("invalid debts JSON: %w", err)
		}
	default:
		return "", fmt.Errorf("debts must be a list of debt objects")
	}

	result, err := finance.DebtPayoff(debts, payment, stringArgDefault(args, "strategy", finance.StrategyAvalanche))
	if err != nil {
		return "", err
	}
	return toolJSON(result), nil
}
