// Package plandoc renders a financial plan as a markdown document and
// as standalone HTML for download or email.
package plandoc

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/yuin/goldmark"

	"github.com/cofina-ai/cofina-agent/internal/store"
)

// Document is the assembled plan content plus the data it came from.
type Document struct {
	Title     string
	Generated time.Time
	Markdown  string
}

// Build assembles a plan document from the stored plan, profile, and
// debts. Nil profile or empty debts are fine; those sections are
// simply omitted.
func Build(account *store.Account, profile *store.Profile, plan *store.Plan, debts []store.Debt) *Document {
	var b strings.Builder
	now := time.Now()

	title := plan.PlanName
	if title == "" {
		title = "Financial Plan"
	}

	fmt.Fprintf(&b, "# %s\n\n", title)
	fmt.Fprintf(&b, "Prepared for %s on %s.\n\n", account.FirstName, now.Format("January 2, 2006"))
	if plan.PlanType != "" {
		fmt.Fprintf(&b, "Plan type: **%s**\n\n", plan.PlanType)
	}

	if profile != nil {
		b.WriteString("## Your Situation\n\n")
		if profile.Profession != "" {
			fmt.Fprintf(&b, "- Profession: %s\n", profile.Profession)
		}
		if profile.MonthlyIncome > 0 {
			fmt.Fprintf(&b, "- Monthly income: %s\n", formatMoney(profile.MonthlyIncome))
		}
		if profile.RetirementAgeTarget > 0 && profile.Age > 0 {
			fmt.Fprintf(&b, "- Years to target retirement: %d\n", profile.RetirementAgeTarget-profile.Age)
		}
		b.WriteString("\n")
	}

	if len(plan.ShortTermGoals) > 0 {
		b.WriteString("## Short-Term Goals\n\n")
		for _, g := range plan.ShortTermGoals {
			fmt.Fprintf(&b, "- %s\n", g)
		}
		b.WriteString("\n")
	}
	if len(plan.LongTermGoals) > 0 {
		b.WriteString("## Long-Term Goals\n\n")
		for _, g := range plan.LongTermGoals {
			fmt.Fprintf(&b, "- %s\n", g)
		}
		b.WriteString("\n")
	}

	if len(plan.MonthlyBudget) > 0 {
		b.WriteString("## Monthly Budget\n\n")
		b.WriteString("| Category | Amount |\n|---|---|\n")
		for _, category := range sortedKeys(plan.MonthlyBudget) {
			fmt.Fprintf(&b, "| %s | %s |\n", category, formatMoney(plan.MonthlyBudget[category]))
		}
		b.WriteString("\n")
	}

	if len(debts) > 0 {
		b.WriteString("## Active Debts\n\n")
		b.WriteString("| Debt | Remaining | Rate | Minimum Payment |\n|---|---|---|---|\n")
		var total float64
		for _, d := range debts {
			name := d.DebtType
			if d.Creditor != "" {
				name = fmt.Sprintf("%s (%s)", d.DebtType, d.Creditor)
			}
			fmt.Fprintf(&b, "| %s | %s | %.1f%% | %s |\n",
				name, formatMoney(d.RemainingAmount), d.InterestRate, formatMoney(d.MinimumPayment))
			total += d.RemainingAmount
		}
		fmt.Fprintf(&b, "\nTotal outstanding: **%s**\n\n", formatMoney(total))
	}

	if len(plan.Allocations) > 0 {
		b.WriteString("## Savings Allocations\n\n")
		for _, name := range sortedKeys(plan.Allocations) {
			fmt.Fprintf(&b, "- %s: %s\n", name, formatPercent(plan.Allocations[name]))
		}
		b.WriteString("\n")
	}

	return &Document{
		Title:     title,
		Generated: now,
		Markdown:  b.String(),
	}
}

// HTML renders the document as a standalone page.
func (d *Document) HTML() (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(d.Markdown), &buf); err != nil {
		return "", fmt.Errorf("rendering plan document: %w", err)
	}

	return fmt.Sprintf(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>%s</title></head>
<body style="font-family: sans-serif; font-size: 14px; line-height: 1.5; max-width: 48em; margin: 2em auto;">
%s
</body></html>`, d.Title, buf.String()), nil
}

func formatMoney(v float64) string {
	s := fmt.Sprintf("%.2f", v)
	parts := strings.SplitN(s, ".", 2)
	whole := parts[0]
	for i := len(whole) - 3; i > 0; i -= 3 {
		whole = whole[:i] + "," + whole[i:]
	}
	return "$" + whole + "." + parts[1]
}

func formatPercent(v float64) string {
	if v <= 1 {
		v *= 100
	}
	return fmt.Sprintf("%.0f%%", v)
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
