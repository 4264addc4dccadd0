package plandoc

import (
	"strings"
	"testing"

	"github.com/cofina-ai/cofina-agent/internal/store"
)

func testFixtures() (*store.Account, *store.Profile, *store.Plan, []store.Debt) {
	account := &store.Account{UserID: "ama1", FirstName: "Ama"}
	profile := &store.Profile{
		Profession: "Engineer", Age: 30, MonthlyIncome: 5200, RetirementAgeTarget: 60,
	}
	plan := &store.Plan{
		PlanName:       "Debt-Free by 2028",
		PlanType:       "Debt Repayment",
		ShortTermGoals: []string{"Clear credit card"},
		LongTermGoals:  []string{"House deposit"},
		MonthlyBudget:  map[string]float64{"Essentials": 2600, "Debt": 700, "Savings": 900},
		Allocations:    map[string]float64{"Emergency Fund": 0.4, "Investments": 0.6},
	}
	debts := []store.Debt{
		{DebtType: "Credit Card", Creditor: "BankOne", RemainingAmount: 1800, InterestRate: 24, MinimumPayment: 90},
		{DebtType: "Student Loan", RemainingAmount: 15000, InterestRate: 5.5, MinimumPayment: 220},
	}
	return account, profile, plan, debts
}

func TestBuild(t *testing.T) {
	doc := Build(testFixtures())

	if doc.Title != "Debt-Free by 2028" {
		t.Errorf("title = %q", doc.Title)
	}
	for _, want := range []string{
		"# Debt-Free by 2028",
		"Prepared for Ama",
		"## Your Situation",
		"Monthly income: $5,200.00",
		"Years to target retirement: 30",
		"## Short-Term Goals",
		"Clear credit card",
		"## Monthly Budget",
		"| Essentials | $2,600.00 |",
		"## Active Debts",
		"Credit Card (BankOne)",
		"Total outstanding: **$16,800.00**",
		"Emergency Fund: 40%",
	} {
		if !strings.Contains(doc.Markdown, want) {
			t.Errorf("markdown missing %q", want)
		}
	}
}

func TestBuildOmitsEmptySections(t *testing.T) {
	account := &store.Account{UserID: "u", FirstName: "Sam"}
	plan := &store.Plan{PlanType: "Savings"}

	doc := Build(account, nil, plan, nil)

	if doc.Title != "Financial Plan" {
		t.Errorf("default title = %q", doc.Title)
	}
	for _, absent := range []string{"## Your Situation", "## Active Debts", "## Monthly Budget"} {
		if strings.Contains(doc.Markdown, absent) {
			t.Errorf("markdown should omit %q", absent)
		}
	}
}

func TestHTML(t *testing.T) {
	doc := Build(testFixtures())
	html, err := doc.HTML()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(html, "<h1>Debt-Free by 2028</h1>") {
		t.Error("heading not rendered")
	}
	if !strings.Contains(html, "<!DOCTYPE html>") {
		t.Error("missing document envelope")
	}
	if !strings.Contains(html, "<title>Debt-Free by 2028</title>") {
		t.Error("missing title")
	}
}

func TestFormatMoney(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "$0.00"},
		{999.5, "$999.50"},
		{5200, "$5,200.00"},
		{1234567.89, "$1,234,567.89"},
	}
	for _, tt := range tests {
		if got := formatMoney(tt.in); got != tt.want {
			t.Errorf("formatMoney(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
