package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/cofina-ai/cofina-agent/internal/kb"
	"github.com/cofina-ai/cofina-agent/internal/products"
	"github.com/cofina-ai/cofina-agent/internal/store"
)

func newTestRegistry(t *testing.T) (*Registry, *store.Store) {
	t.Helper()
	db, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	knowledge, err := kb.Open(":memory:")
	if err != nil {
		t.Fatalf("opening kb: %v", err)
	}
	t.Cleanup(func() { knowledge.Close() })

	return NewRegistry(db, products.NewClient("", ""), knowledge), db
}

func seedUser(t *testing.T, db *store.Store) {
	t.Helper()
	ctx := context.Background()
	err := db.CreateUser(ctx, store.NewUser{
		UserID:         "kofi1",
		FirstName:      "Kofi",
		Email:          "kofi@example.com",
		Password:       "hunter22",
		SecretQuestion: "First pet?",
		SecretAnswer:   "Biscuit",
	})
	if err != nil {
		t.Fatalf("creating user: %v", err)
	}
	if err := db.UpsertProfile(ctx, "kofi1", store.Profile{
		Profession:    "Engineer",
		Age:           31,
		MonthlyIncome: 4000,
		AnnualIncome:  48000,
	}); err != nil {
		t.Fatalf("upserting profile: %v", err)
	}
	if err := db.AddDebt(ctx, "kofi1", store.Debt{
		DebtType:        "Credit Card",
		Creditor:        "Big Bank",
		TotalAmount:     3000,
		RemainingAmount: 1800,
		InterestRate:    22.5,
		MinimumPayment:  90,
		DueDate:         "15",
	}); err != nil {
		t.Fatalf("adding debt: %v", err)
	}
	if _, err := db.CreatePlan(ctx, "kofi1", store.Plan{
		PlanName:       "Kofi's Financial Plan",
		PlanType:       "Comprehensive",
		ShortTermGoals: []string{"Build emergency fund"},
		MonthlyBudget:  map[string]float64{"needs": 2000},
	}); err != nil {
		t.Fatalf("creating plan: %v", err)
	}
}

func execute(t *testing.T, r *Registry, name string, args map[string]any) map[string]any {
	t.Helper()
	out, err := r.Execute(context.Background(), name, args)
	if err != nil {
		t.Fatalf("executing %s: %v", name, err)
	}
	var result map[string]any
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("decoding %s output %q: %v", name, out, err)
	}
	return result
}

func authArgs(extra map[string]any) map[string]any {
	args := map[string]any{"authenticated": true, "user_id": "kofi1"}
	for k, v := range extra {
		args[k] = v
	}
	return args
}

func TestListWireShape(t *testing.T) {
	r, _ := newTestRegistry(t)
	list := r.List()
	if len(list) < 15 {
		t.Fatalf("List() returned %d tools, want at least 15", len(list))
	}
	for _, entry := range list {
		if entry["type"] != "function" {
			t.Fatalf("entry type = %v, want function", entry["type"])
		}
		fn, ok := entry["function"].(map[string]any)
		if !ok || fn["name"] == "" {
			t.Fatalf("malformed function entry: %v", entry)
		}
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	r, _ := newTestRegistry(t)
	if _, err := r.Execute(context.Background(), "summon_dragon", nil); err == nil {
		t.Fatal("expected error for unknown tool")
	}
}

func TestCompoundInterestTool(t *testing.T) {
	r, _ := newTestRegistry(t)
	result := execute(t, r, "calculate_compound_interest", map[string]any{
		"principal":  float64(10000),
		"rate":       float64(5),
		"time_years": float64(10),
	})
	if result["future_value"].(float64) != 16470.09 {
		t.Fatalf("future_value = %v, want 16470.09", result["future_value"])
	}
}

func TestDateDifferenceTool(t *testing.T) {
	r, _ := newTestRegistry(t)
	result := execute(t, r, "get_date_difference", map[string]any{
		"start_date": "2026-01-01",
		"end_date":   "2026-03-01",
	})
	if result["days"].(float64) != 59 {
		t.Fatalf("days = %v, want 59", result["days"])
	}
	if result["weeks"].(float64) != 8 {
		t.Fatalf("weeks = %v, want 8", result["weeks"])
	}
}

func TestDateDifferenceRejectsBadInput(t *testing.T) {
	r, _ := newTestRegistry(t)
	_, err := r.Execute(context.Background(), "get_date_difference", map[string]any{
		"start_date": "January 1st",
		"end_date":   "2026-03-01",
	})
	if err == nil {
		t.Fatal("expected error for unparseable date")
	}
}

func TestLoginTool(t *testing.T) {
	r, db := newTestRegistry(t)
	seedUser(t, db)

	result := execute(t, r, "login", map[string]any{
		"user_id": "kofi1", "password": "hunter22",
	})
	if result["success"] != true {
		t.Fatalf("success = %v, want true", result["success"])
	}
	if result["first_name"] != "Kofi" {
		t.Fatalf("first_name = %v, want Kofi", result["first_name"])
	}

	result = execute(t, r, "login", map[string]any{
		"user_id": "kofi1", "password": "wrong",
	})
	if result["success"] != false {
		t.Fatalf("success = %v, want false for bad password", result["success"])
	}
}

func TestAccountToolsRequireAuth(t *testing.T) {
	r, db := newTestRegistry(t)
	seedUser(t, db)

	for _, name := range []string{"get_my_profile", "get_my_debts", "get_my_plan", "get_recent_transactions", "generate_plan_document"} {
		_, err := r.Execute(context.Background(), name, map[string]any{
			"authenticated": false, "user_id": "guest",
		})
		if err == nil {
			t.Fatalf("%s: expected auth error for guest session", name)
		}
		if !strings.Contains(err.Error(), "not authenticated") {
			t.Fatalf("%s: error = %v, want not authenticated", name, err)
		}
	}
}

func TestGetMyProfileTool(t *testing.T) {
	r, db := newTestRegistry(t)
	seedUser(t, db)

	result := execute(t, r, "get_my_profile", authArgs(nil))
	if result["found"] != true {
		t.Fatalf("found = %v, want true", result["found"])
	}
	if result["monthly_income"].(float64) != 4000 {
		t.Fatalf("monthly_income = %v, want 4000", result["monthly_income"])
	}
}

func TestGetMyDebtsTool(t *testing.T) {
	r, db := newTestRegistry(t)
	seedUser(t, db)

	result := execute(t, r, "get_my_debts", authArgs(nil))
	if result["count"].(float64) != 1 {
		t.Fatalf("count = %v, want 1", result["count"])
	}
	if result["total_remaining"].(float64) != 1800 {
		t.Fatalf("total_remaining = %v, want 1800", result["total_remaining"])
	}
}

func TestTransactionsRoundTrip(t *testing.T) {
	r, db := newTestRegistry(t)
	seedUser(t, db)

	result := execute(t, r, "add_transaction", authArgs(map[string]any{
		"amount":   float64(120.50),
		"category": "groceries",
		"date":     "2026-08-29",
	}))
	if result["success"] != true {
		t.Fatalf("success = %v, want true", result["success"])
	}

	result = execute(t, r, "get_recent_transactions", authArgs(nil))
	if result["count"].(float64) != 1 {
		t.Fatalf("count = %v, want 1", result["count"])
	}
	txns := result["transactions"].([]any)
	first := txns[0].(map[string]any)
	if first["category"] != "groceries" {
		t.Fatalf("category = %v, want groceries", first["category"])
	}
	if first["is_expense"] != true {
		t.Fatalf("is_expense = %v, want true by default", first["is_expense"])
	}
}

func TestPlanDocumentTool(t *testing.T) {
	r, db := newTestRegistry(t)
	seedUser(t, db)

	result := execute(t, r, "generate_plan_document", authArgs(nil))
	if result["found"] != true {
		t.Fatalf("found = %v, want true", result["found"])
	}
	doc := result["document"].(string)
	if !strings.Contains(doc, "Build emergency fund") {
		t.Fatalf("document missing goals section:\n%s", doc)
	}

	result = execute(t, r, "generate_plan_document", authArgs(map[string]any{"format": "html"}))
	if !strings.Contains(result["document"].(string), "<h1") {
		t.Fatal("html format did not render headings")
	}
}

func TestSearchProductsFallback(t *testing.T) {
	r, _ := newTestRegistry(t)
	result := execute(t, r, "search_products", map[string]any{"query": "macbook"})
	if result["source"] != "estimated" {
		t.Fatalf("source = %v, want estimated without an API key", result["source"])
	}
	if len(result["products"].([]any)) == 0 {
		t.Fatal("expected fallback products")
	}
}

func TestAffordabilityVerdicts(t *testing.T) {
	tests := []struct {
		name    string
		args    map[string]any
		verdict string
	}{
		{
			name:    "cheap with deep savings",
			args:    map[string]any{"price": float64(200), "monthly_income": float64(5000), "savings": float64(20000)},
			verdict: "affordable",
		},
		{
			name:    "quarter of income",
			args:    map[string]any{"price": float64(1200), "monthly_income": float64(5000)},
			verdict: "caution",
		},
		{
			name:    "over half of income",
			args:    map[string]any{"price": float64(3000), "monthly_income": float64(5000)},
			verdict: "not_recommended",
		},
		{
			name:    "savings too shallow",
			args:    map[string]any{"price": float64(450), "monthly_income": float64(5000), "savings": float64(1000)},
			verdict: "not_recommended",
		},
	}
	r, _ := newTestRegistry(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := execute(t, r, "check_affordability", tt.args)
			if result["verdict"] != tt.verdict {
				t.Fatalf("verdict = %v (score %v), want %s", result["verdict"], result["score"], tt.verdict)
			}
		})
	}
}

func TestSearchFinancialDocumentsTool(t *testing.T) {
	r, db := newTestRegistry(t)
	_ = db

	doc := "# Savings\n\n## Emergency Fund\n\nKeep three to six months of essential expenses in an emergency fund.\n"
	if _, err := r.kb.Ingest(context.Background(), "guide", strings.NewReader(doc)); err != nil {
		t.Fatalf("ingesting: %v", err)
	}

	result := execute(t, r, "search_financial_documents", map[string]any{"query": "emergency fund"})
	if result["found"] != true {
		t.Fatalf("found = %v, want true", result["found"])
	}
	sections := result["sections"].([]any)
	first := sections[0].(map[string]any)
	if !strings.Contains(first["content"].(string), "three to six months") {
		t.Fatalf("unexpected top section: %v", first)
	}

	result = execute(t, r, "search_financial_documents", map[string]any{"query": "quantum entanglement"})
	if result["found"] != false {
		t.Fatalf("found = %v, want false for off-topic query", result["found"])
	}
}

func TestExecuteRecoversHandlerPanic(t *testing.T) {
	r, _ := newTestRegistry(t)
	r.Register(&Tool{
		Name:        "unstable",
		Description: "always panics",
		Parameters:  map[string]any{"type": "object"},
		Handler: func(context.Context, map[string]any) (string, error) {
			panic("handler state corrupted")
		},
	})

	out, err := r.Execute(context.Background(), "unstable", nil)
	if err == nil {
		t.Fatal("expected error from panicking handler")
	}
	if out != "" {
		t.Errorf("output = %q, want empty", out)
	}
	if !strings.Contains(err.Error(), "unstable") || !strings.Contains(err.Error(), "panicked") {
		t.Errorf("error = %v", err)
	}
}

func TestNilBackendsReportNotConfigured(t *testing.T) {
	r := NewRegistry(nil, nil, nil)

	cases := []struct {
		tool string
		args map[string]any
	}{
		{"search_financial_documents", map[string]any{"query": "emergency fund"}},
		{"search_products", map[string]any{"query": "laptop"}},
		{"login", map[string]any{"user_id": "kofi1", "password": "hunter22"}},
		{"get_user_status", authArgs(nil)},
		{"get_my_profile", authArgs(nil)},
		{"get_my_debts", authArgs(nil)},
		{"get_my_plan", authArgs(nil)},
		{"get_recent_transactions", authArgs(nil)},
		{"add_transaction", authArgs(map[string]any{"amount": 12.5, "category": "groceries"})},
		{"generate_plan_document", authArgs(nil)},
	}
	for _, tc := range cases {
		_, err := r.Execute(context.Background(), tc.tool, tc.args)
		if err == nil || !strings.Contains(err.Error(), "not configured") {
			t.Errorf("%s: error = %v, want not-configured", tc.tool, err)
		}
	}
}
