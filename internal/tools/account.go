package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/cofina-ai/cofina-agent/internal/plandoc"
	"github.com/cofina-ai/cofina-agent/internal/store"
)

func (r *Registry) registerAccountTools() {
	r.Register(&Tool{
		Name:        "login",
		Description: "Authenticate a user with their user ID and password. Call when the user wants to log in.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"user_id":  map[string]any{"type": "string", "description": "The user's chosen ID"},
				"password": map[string]any{"type": "string", "description": "The user's password"},
			},
			"required": []string{"user_id", "password"},
		},
		Handler: r.handleLogin,
	})

	r.Register(&Tool{
		Name:        "get_user_status",
		Description: "Check whether the current session is authenticated and which user it belongs to.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Handler: r.handleUserStatus,
	})

	r.Register(&Tool{
		Name:        "get_my_profile",
		Description: "Fetch the authenticated user's personal and income profile.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Handler: r.handleMyProfile,
	})

	r.Register(&Tool{
		Name:        "get_my_debts",
		Description: "List the authenticated user's active debts.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Handler: r.handleMyDebts,
	})

	r.Register(&Tool{
		Name:        "get_my_plan",
		Description: "Fetch the authenticated user's active financial plan.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Handler: r.handleMyPlan,
	})

	r.Register(&Tool{
		Name:        "get_recent_transactions",
		Description: "List the authenticated user's most recent transactions.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"limit": map[string]any{"type": "integer", "description": "How many transactions to return, default 10"},
			},
		},
		Handler: r.handleRecentTransactions,
	})

	r.Register(&Tool{
		Name:        "add_transaction",
		Description: "Record an income or expense transaction for the authenticated user.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"amount":      map[string]any{"type": "number", "description": "Transaction amount"},
				"category":    map[string]any{"type": "string", "description": "Category, e.g. groceries, salary, rent"},
				"description": map[string]any{"type": "string", "description": "Free-form note"},
				"date":        map[string]any{"type": "string", "description": "Date, YYYY-MM-DD; defaults to today"},
				"is_expense":  map[string]any{"type": "boolean", "description": "True for money out, false for money in"},
			},
			"required": []string{"amount", "category"},
		},
		Handler: r.handleAddTransaction,
	})

	r.Register(&Tool{
		Name:        "generate_plan_document",
		Description: "Render the authenticated user's financial plan as a shareable document.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"format": map[string]any{"type": "string", "description": "Output format, markdown or html, default markdown"},
			},
		},
		Handler: r.handlePlanDocument,
	})

	// Schema-only entry. The orchestrator intercepts this call and routes
	// the conversation into the registration flow instead of executing it.
	r.Register(&Tool{
		Name:        "registration_flow",
		Description: "Begin the guided onboarding flow that creates an account and builds a financial plan. Call when the user wants to sign up or create a plan and has no account.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Handler: func(_ context.Context, _ map[string]any) (string, error) {
			return toolJSON(map[string]any{
				"status":  "started",
				"message": "Registration flow engaged.",
			}), nil
		},
	})
}

// sessionUser returns the user ID bound to the session, or an error
// payload when the session is not authenticated. The orchestrator
// injects user_id and authenticated into the args before Execute.
func sessionUser(args map[string]any) (string, error) {
	auth, _ := args["authenticated"].(bool)
	userID := stringArg(args, "user_id")
	if !auth || userID == "" || userID == "guest" {
		return "", errors.New("not authenticated: ask the user to log in first")
	}
	return userID, nil
}

func (r *Registry) handleLogin(ctx context.Context, args map[string]any) (string, error) {
	if r.store == nil {
		return "", errNoDatabase
	}
	userID := stringArg(args, "user_id")
	password := stringArg(args, "password")
	if userID == "" || password == "" {
		return "", errors.New("user_id and password are required")
	}

	ok, err := r.store.VerifyLogin(ctx, userID, password)
	if err != nil {
		return "", fmt.Errorf("verifying login: %w", err)
	}
	if !ok {
		return toolJSON(map[string]any{
			"success": false,
			"message": "Invalid user ID or password.",
		}), nil
	}

	account, err := r.store.GetAccount(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("loading account: %w", err)
	}
	return toolJSON(map[string]any{
		"success":    true,
		"user_id":    account.UserID,
		"first_name": account.FirstName,
		"message":    fmt.Sprintf("Welcome back, %s!", account.FirstName),
	}), nil
}

func (r *Registry) handleUserStatus(ctx context.Context, args map[string]any) (string, error) {
	if r.store == nil {
		return "", errNoDatabase
	}
	auth, _ := args["authenticated"].(bool)
	userID := stringArg(args, "user_id")
	if !auth || userID == "" || userID == "guest" {
		return toolJSON(map[string]any{
			"authenticated": false,
			"user_id":       "guest",
		}), nil
	}

	account, err := r.store.GetAccount(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return toolJSON(map[string]any{
			"authenticated": false,
			"user_id":       "guest",
		}), nil
	}
	if err != nil {
		return "", err
	}
	return toolJSON(map[string]any{
		"authenticated": true,
		"user_id":       account.UserID,
		"first_name":    account.FirstName,
	}), nil
}

func (r *Registry) handleMyProfile(ctx context.Context, args map[string]any) (string, error) {
	if r.store == nil {
		return "", errNoDatabase
	}
	userID, err := sessionUser(args)
	if err != nil {
		return "", err
	}

	profile, err := r.store.GetProfile(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return toolJSON(map[string]any{
			"found":   false,
			"message": "No profile on record yet. Offer to start onboarding.",
		}), nil
	}
	if err != nil {
		return "", err
	}

	out := map[string]any{
		"found":                 true,
		"profession":            profile.Profession,
		"current_role":          profile.CurrentRole,
		"age":                   profile.Age,
		"civil_status":          profile.CivilStatus,
		"number_of_children":    profile.NumberOfChildren,
		"monthly_income":        profile.MonthlyIncome,
		"annual_income":         profile.AnnualIncome,
		"retirement_age_target": profile.RetirementAgeTarget,
	}
	if prefs, err := r.store.GetPreferences(ctx, userID); err == nil {
		out["risk_profile"] = prefs.RiskProfile
		out["debt_strategy"] = prefs.DebtStrategy
		out["savings_priority"] = prefs.SavingsPriority
	}
	return toolJSON(out), nil
}

func (r *Registry) handleMyDebts(ctx context.Context, args map[string]any) (string, error) {
	if r.store == nil {
		return "", errNoDatabase
	}
	userID, err := sessionUser(args)
	if err != nil {
		return "", err
	}

	debts, err := r.store.ActiveDebts(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("loading debts: %w", err)
	}

	var total float64
	items := make([]map[string]any, 0, len(debts))
	for _, d := range debts {
		total += d.RemainingAmount
		items = append(items, map[string]any{
			"debt_type":        d.DebtType,
			"creditor":         d.Creditor,
			"remaining_amount": d.RemainingAmount,
			"interest_rate":    d.InterestRate,
			"minimum_payment":  d.MinimumPayment,
			"due_date":         d.DueDate,
		})
	}
	return toolJSON(map[string]any{
		"count":           len(items),
		"total_remaining": total,
		"debts":           items,
	}), nil
}

func (r *Registry) handleMyPlan(ctx context.Context, args map[string]any) (string, error) {
	if r.store == nil {
		return "", errNoDatabase
	}
	userID, err := sessionUser(args)
	if err != nil {
		return "", err
	}

	plan, err := r.store.ActivePlan(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return toolJSON(map[string]any{
			"found":   false,
			"message": "No active plan. Offer to build one through onboarding.",
		}), nil
	}
	if err != nil {
		return "", err
	}
	return toolJSON(map[string]any{
		"found":            true,
		"plan_name":        plan.PlanName,
		"plan_type":        plan.PlanType,
		"short_term_goals": plan.ShortTermGoals,
		"long_term_goals":  plan.LongTermGoals,
		"monthly_budget":   plan.MonthlyBudget,
		"allocations":      plan.Allocations,
		"created_at":       plan.CreatedAt.Format("2006-01-02"),
	}), nil
}

func (r *Registry) handleRecentTransactions(ctx context.Context, args map[string]any) (string, error) {
	if r.store == nil {
		return "", errNoDatabase
	}
	userID, err := sessionUser(args)
	if err != nil {
		return "", err
	}

	limit := intArgDefault(args, "limit", 10)
	if limit < 1 || limit > 50 {
		limit = 10
	}
	txns, err := r.store.RecentTransactions(ctx, userID, limit)
	if err != nil {
		return "", fmt.Errorf("loading transactions: %w", err)
	}

	items := make([]map[string]any, 0, len(txns))
	for _, t := range txns {
		items = append(items, map[string]any{
			"amount":      t.Amount,
			"category":    t.Category,
			"description": t.Description,
			"date":        t.Date,
			"is_expense":  t.IsExpense,
		})
	}
	return toolJSON(map[string]any{
		"count":        len(items),
		"transactions": items,
	}), nil
}

func (r *Registry) handleAddTransaction(ctx context.Context, args map[string]any) (string, error) {
	if r.store == nil {
		return "", errNoDatabase
	}
	userID, err := sessionUser(args)
	if err != nil {
		return "", err
	}

	amount, ok := floatArg(args, "amount")
	if !ok || amount <= 0 {
		return "", errors.New("amount must be a positive number")
	}
	category := stringArg(args, "category")
	if category == "" {
		return "", errors.New("category is required")
	}

	isExpense := true
	if v, ok := args["is_expense"].(bool); ok {
		isExpense = v
	}
	t := store.Transaction{
		Amount:      amount,
		Category:    category,
		Description: stringArg(args, "description"),
		Date:        stringArg(args, "date"),
		IsExpense:   isExpense,
	}
	if err := r.store.AddTransaction(ctx, userID, t); err != nil {
		return "", fmt.Errorf("recording transaction: %w", err)
	}
	return toolJSON(map[string]any{
		"success":  true,
		"amount":   amount,
		"category": category,
	}), nil
}

func (r *Registry) handlePlanDocument(ctx context.Context, args map[string]any) (string, error) {
	if r.store == nil {
		return "", errNoDatabase
	}
	userID, err := sessionUser(args)
	if err != nil {
		return "", err
	}

	account, err := r.store.GetAccount(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("loading account: %w", err)
	}
	plan, err := r.store.ActivePlan(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return toolJSON(map[string]any{
			"found":   false,
			"message": "No active plan to render. Offer to build one through onboarding.",
		}), nil
	}
	if err != nil {
		return "", err
	}

	profile, err := r.store.GetProfile(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		profile = &store.Profile{}
	} else if err != nil {
		return "", err
	}
	debts, err := r.store.ActiveDebts(ctx, userID)
	if err != nil {
		return "", err
	}

	doc := plandoc.Build(account, profile, plan, debts)
	body := doc.Markdown
	format := stringArgDefault(args, "format", "markdown")
	if format == "html" {
		body, err = doc.HTML()
		if err != nil {
			return "", fmt.Errorf("rendering plan document: %w", err)
		}
	}
	return toolJSON(map[string]any{
		"found":    true,
		"title":    doc.Title,
		"format":   format,
		"document": body,
	}), nil
}
