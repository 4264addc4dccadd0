package registration

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Section groups steps so the machine can commit at the credential
// boundary and skip or repeat the debt block.
type Section string

const (
	SectionAuth        Section = "auth"
	SectionPersonal    Section = "personal"
	SectionDebt        Section = "debt"
	SectionPreferences Section = "preferences"
	SectionGoals       Section = "goals"
	SectionConfirm     Section = "confirm"
)

// Step names the machine treats specially.
const (
	stepHasDebt     = "has_debt"
	stepAddMoreDebt = "add_more_debt"
	stepDebtType    = "debt_type"
	stepConfirm     = "confirm_all"
)

// Validator checks and coerces one raw answer. The error text is shown
// verbatim as the next prompt, so it must be self-contained.
type Validator func(ctx context.Context, m *Machine, value string) (any, error)

// Step is one question in the onboarding flow.
type Step struct {
	Name     string
	Field    string
	Prompt   string
	Section  Section
	Validate Validator
}

var emailPattern = regexp.MustCompile(`^[\w.\-+]+@[\w.\-]+\.\w{2,}$`)

func nonEmpty(prompt string) Validator {
	return func(_ context.Context, _ *Machine, value string) (any, error) {
		if value == "" {
			return nil, fmt.Errorf("%s cannot be empty.", prompt)
		}
		return value, nil
	}
}

func oneOf(errMsg string, titleCase bool, allowed ...string) Validator {
	return func(_ context.Context, _ *Machine, value string) (any, error) {
		lower := strings.ToLower(value)
		for _, a := range allowed {
			if lower == a {
				if titleCase {
					return titled(lower), nil
				}
				return value, nil
			}
		}
		return nil, errors.New(errMsg)
	}
}

func titled(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func parseMoney(value string) (float64, error) {
	clean := strings.NewReplacer("$", "", ",", "", "%", "", " ", "").Replace(value)
	return strconv.ParseFloat(clean, 64)
}

func intInRange(min, max int, lowMsg, highMsg, parseMsg string) Validator {
	return func(_ context.Context, _ *Machine, value string) (any, error) {
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return nil, errors.New(parseMsg)
		}
		if n < min {
			return nil, errors.New(lowMsg)
		}
		if n > max {
			return nil, errors.New(highMsg)
		}
		return n, nil
	}
}

func money(negativeMsg, parseMsg string) Validator {
	return func(_ context.Context, _ *Machine, value string) (any, error) {
		amount, err := parseMoney(value)
		if err != nil {
			return nil, errors.New(parseMsg)
		}
		if amount < 0 {
			return nil, errors.New(negativeMsg)
		}
		return math.Round(amount*100) / 100, nil
	}
}

// debtTypes normalizes input to the exact values the storage layer's
// CHECK constraint accepts.
var debtTypes = map[string]string{
	"student loan":  "Student Loan",
	"credit card":   "Credit Card",
	"personal loan": "Personal Loan",
	"mortgage":      "Mortgage",
	"car loan":      "Car Loan",
	"other":         "Other",
}

// DefaultSteps returns the full onboarding step table.
func DefaultSteps() []Step {
	return []Step{
		// Credentials. Completing this section triggers the Stage-1
		// identity commit.
		{
			Name: "user_id", Field: "user_id", Section: SectionAuth,
			Prompt: "Choose a User ID (min 3 chars):",
			Validate: func(ctx context.Context, m *Machine, value string) (any, error) {
				if len(value) < 3 {
					return nil, errors.New("User ID must be at least 3 characters. Try again:")
				}
				taken, err := m.dir.UserExists(ctx, value)
				if err != nil {
					return nil, errors.New("I couldn't check that User ID right now. Please try again:")
				}
				if taken {
					return nil, fmt.Errorf("'%s' is already taken. Please choose another User ID:", value)
				}
				return value, nil
			},
		},
		{
			Name: "first_name", Field: "first_name", Section: SectionAuth,
			Prompt:   "Your first name:",
			Validate: nonEmpty("Your first name:"),
		},
		{
			Name: "last_name", Field: "last_name", Section: SectionAuth,
			Prompt:   "Your last name:",
			Validate: nonEmpty("Your last name:"),
		},
		{
			Name: "email", Field: "email", Section: SectionAuth,
			Prompt: "Your email address:",
			Validate: func(ctx context.Context, m *Machine, value string) (any, error) {
				if !emailPattern.MatchString(value) {
					return nil, errors.New("That doesn't look like a valid email address. Try again:")
				}
				taken, err := m.dir.EmailExists(ctx, value)
				if err != nil {
					return nil, errors.New("I couldn't check that email right now. Please try again:")
				}
				if taken {
					return nil, errors.New("That email is already registered. Please use another:")
				}
				return value, nil
			},
		},
		{
			Name: "password", Field: "password", Section: SectionAuth,
			Prompt: "Create a password (min 6 characters):",
			Validate: func(_ context.Context, _ *Machine, value string) (any, error) {
				if len(value) < 6 {
					return nil, errors.New("Password must be at least 6 characters. Try again:")
				}
				return value, nil
			},
		},
		{
			Name: "secret_question", Field: "secret_question", Section: SectionAuth,
			Prompt:   "Choose a secret question (for account recovery):",
			Validate: nonEmpty("Choose a secret question (for account recovery):"),
		},
		{
			Name: "secret_answer", Field: "secret_answer", Section: SectionAuth,
			Prompt:   "Answer to your secret question:",
			Validate: nonEmpty("Answer to your secret question:"),
		},

		// Personal and employment.
		{
			Name: "profession", Field: "profession", Section: SectionPersonal,
			Prompt:   "What is your profession/field?",
			Validate: nonEmpty("What is your profession/field?"),
		},
		{
			Name: "current_role", Field: "current_role", Section: SectionPersonal,
			Prompt:   "Your current job title / role:",
			Validate: nonEmpty("Your current job title / role:"),
		},
		{
			Name: "employment_start", Field: "employment_start_date", Section: SectionPersonal,
			Prompt: "Employment start date (YYYY-MM-DD):",
			Validate: func(_ context.Context, _ *Machine, value string) (any, error) {
				if _, err := time.Parse("2006-01-02", value); err != nil {
					return nil, errors.New("Please use YYYY-MM-DD format (e.g. 2020-01-15):")
				}
				return value, nil
			},
		},
		{
			Name: "age", Field: "age", Section: SectionPersonal,
			Prompt: "Your age:",
			Validate: intInRange(18, 100,
				"Please enter a valid age between 18 and 100:",
				"Please enter a valid age between 18 and 100:",
				"Age must be a whole number. Try again:"),
		},
		{
			Name: "gender", Field: "gender", Section: SectionPersonal,
			Prompt:   "Gender (Male / Female / Other):",
			Validate: oneOf("Please enter Male, Female, or Other:", true, "male", "female", "other", "m", "f"),
		},
		{
			Name: "civil_status", Field: "civil_status", Section: SectionPersonal,
			Prompt:   "Civil status (Single / Married / Divorced / Widowed):",
			Validate: oneOf("Please enter Single, Married, Divorced, or Widowed:", true, "single", "married", "divorced", "widowed"),
		},
		{
			Name: "children", Field: "number_of_children", Section: SectionPersonal,
			Prompt: "Number of dependants / children (0 if none):",
			Validate: intInRange(0, 50,
				"Number of children cannot be negative. Try again:",
				"That looks too high. Please enter a number up to 50:",
				"Please enter a whole number (e.g. 0, 1, 2):"),
		},
		{
			Name: "monthly_income", Field: "monthly_income", Section: SectionPersonal,
			Prompt: "Monthly take-home salary ($):",
			Validate: money("Income cannot be negative. Try again:",
				"Please enter a valid dollar amount (e.g. 3500 or 3,500):"),
		},
		{
			Name: "annual_income", Field: "annual_income", Section: SectionPersonal,
			Prompt: "Annual gross income ($):",
			Validate: money("Income cannot be negative. Try again:",
				"Please enter a valid dollar amount (e.g. 3500 or 3,500):"),
		},
		{
			Name: "retirement_target", Field: "retirement_age_target", Section: SectionPersonal,
			Prompt: "Target retirement age (e.g. 60):",
			Validate: func(_ context.Context, m *Machine, value string) (any, error) {
				target, err := strconv.Atoi(strings.TrimSpace(value))
				if err != nil {
					return nil, errors.New("Please enter a whole number (e.g. 60):")
				}
				currentAge := m.intField("age")
				if target <= currentAge {
					return nil, fmt.Errorf("Retirement age must be greater than your current age (%d):", currentAge)
				}
				if target > 85 {
					return nil, errors.New("Please enter a retirement age of 85 or below:")
				}
				return target, nil
			},
		},

		// Debt. has_debt and add_more_debt are gates handled by the
		// machine; the steps between them repeat once per debt.
		{
			Name: stepHasDebt, Field: "has_debt", Section: SectionDebt,
			Prompt: "Do you currently have any debt? (yes / no):",
		},
		{
			Name: stepDebtType, Field: "debt_type", Section: SectionDebt,
			Prompt: "Debt type (Student Loan / Credit Card / Mortgage / Car Loan / Other):",
			Validate: func(_ context.Context, _ *Machine, value string) (any, error) {
				normalized, ok := debtTypes[strings.ToLower(strings.TrimSpace(value))]
				if !ok {
					return nil, errors.New("Please enter one of: Student Loan, Credit Card, Personal Loan, Mortgage, Car Loan, Other:")
				}
				return normalized, nil
			},
		},
		{
			Name: "creditor", Field: "creditor", Section: SectionDebt,
			Prompt:   "Creditor / bank name:",
			Validate: nonEmpty("Creditor / bank name:"),
		},
		{
			Name: "total_amount", Field: "total_amount", Section: SectionDebt,
			Prompt:   "Total original amount ($):",
			Validate: money("Value cannot be negative. Try again:", "Please enter a valid number:"),
		},
		{
			Name: "remaining", Field: "remaining_amount", Section: SectionDebt,
			Prompt:   "Remaining balance ($):",
			Validate: money("Value cannot be negative. Try again:", "Please enter a valid number:"),
		},
		{
			Name: "interest_rate", Field: "interest_rate", Section: SectionDebt,
			Prompt:   "Annual interest rate (%):",
			Validate: money("Value cannot be negative. Try again:", "Please enter a valid number:"),
		},
		{
			Name: "min_payment", Field: "minimum_payment", Section: SectionDebt,
			Prompt:   "Minimum monthly payment ($):",
			Validate: money("Value cannot be negative. Try again:", "Please enter a valid number:"),
		},
		{
			Name: "due_date", Field: "due_date", Section: SectionDebt,
			Prompt: "Payment due day of month (1-31):",
			Validate: intInRange(1, 31,
				"Please enter a day between 1 and 31:",
				"Please enter a day between 1 and 31:",
				"Please enter a day number (e.g. 15):"),
		},
		{
			Name: stepAddMoreDebt, Field: "add_more", Section: SectionDebt,
			Prompt: "Add another debt? (yes / no):",
		},

		// Preferences.
		{
			Name: "risk_profile", Field: "risk_profile", Section: SectionPreferences,
			Prompt:   "Investment risk tolerance (Low / Moderate / High):",
			Validate: oneOf("Please enter Low, Moderate, or High:", true, "low", "moderate", "high"),
		},
		{
			Name: "debt_strategy", Field: "debt_strategy", Section: SectionPreferences,
			Prompt:   "Debt pay-down strategy (Snowball / Avalanche):",
			Validate: oneOf("Please enter Snowball or Avalanche:", true, "snowball", "avalanche"),
		},
		{
			Name: "savings_priority", Field: "savings_priority", Section: SectionPreferences,
			Prompt:   "Primary savings goal (e.g. Emergency Fund / Retirement):",
			Validate: nonEmpty("Primary savings goal (e.g. Emergency Fund / Retirement):"),
		},

		// Goals.
		{
			Name: "short_term_goal", Field: "short_term", Section: SectionGoals,
			Prompt:   "Short-term financial goal (1-2 years, e.g. 'Save $5,000'):",
			Validate: nonEmpty("Short-term financial goal (1-2 years, e.g. 'Save $5,000'):"),
		},
		{
			Name: "long_term_goal", Field: "long_term", Section: SectionGoals,
			Prompt:   "Long-term financial goal (5+ years, e.g. 'Buy a house'):",
			Validate: nonEmpty("Long-term financial goal (5+ years, e.g. 'Buy a house'):"),
		},

		// Confirmation.
		{
			Name: stepConfirm, Field: "confirm", Section: SectionConfirm,
			Prompt: "All done! Ready to create your account? (yes / no):",
		},
	}
}
