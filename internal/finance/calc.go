// Package finance implements the deterministic money math exposed as
// tools: interest, loans, retirement, budgets, and debt payoff.
package finance

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// SimpleInterestResult is the output of SimpleInterest.
type SimpleInterestResult struct {
	Principal      float64 `json:"principal"`
	Rate           float64 `json:"rate_percent"`
	TimeYears      float64 `json:"time_years"`
	InterestEarned float64 `json:"interest_earned"`
	FinalAmount    float64 `json:"final_amount"`
}

// SimpleInterest computes I = P*r*t with rate as a percentage.
func SimpleInterest(principal, ratePercent, timeYears float64) (*SimpleInterestResult, error) {
	if principal < 0 || ratePercent < 0 || timeYears < 0 {
		return nil, errors.New("principal, rate, and time must be non-negative")
	}
	interest := principal * (ratePercent / 100) * timeYears
	return &SimpleInterestResult{
		Principal:      round2(principal),
		Rate:           ratePercent,
		TimeYears:      timeYears,
		InterestEarned: round2(interest),
		FinalAmount:    round2(principal + interest),
	}, nil
}

// YearValue is one row of a year-by-year growth projection.
type YearValue struct {
	Year  int     `json:"year"`
	Value float64 `json:"value"`
	Gain  float64 `json:"gain"`
}

// CompoundInterestResult is the output of CompoundInterest.
type CompoundInterestResult struct {
	Principal           float64     `json:"principal"`
	Rate                float64     `json:"rate_percent"`
	TimeYears           float64     `json:"time_years"`
	CompoundsPerYear    int         `json:"compounds_per_year"`
	MonthlyContribution float64     `json:"monthly_contribution,omitempty"`
	TotalContributed    float64     `json:"total_contributed"`
	InterestEarned      float64     `json:"interest_earned"`
	FutureValue         float64     `json:"future_value"`
	EffectiveAnnualRate float64     `json:"effective_annual_rate_percent"`
	DoublingTimeYears   float64     `json:"doubling_time_years,omitempty"`
	Projection          []YearValue `json:"projection"`
}

// CompoundInterest computes A = P(1+r/n)^(nt), plus the future value of
// a regular contribution annuity when monthlyContribution > 0.
func CompoundInterest(principal, ratePercent, timeYears float64, compoundsPerYear int, monthlyContribution float64) (*CompoundInterestResult, error) {
	if compoundsPerYear <= 0 {
		return nil, errors.New("compounds_per_year must be positive")
	}
	if principal < 0 || ratePercent < 0 || timeYears < 0 || monthlyContribution < 0 {
		return nil, errors.New("inputs must be non-negative")
	}

	rate := ratePercent / 100
	ratePerPeriod := rate / float64(compoundsPerYear)
	totalPeriods := timeYears * float64(compoundsPerYear)

	grow := func(periods float64) float64 {
		factor := math.Pow(1+ratePerPeriod, periods)
		value := principal * factor
		if monthlyContribution > 0 {
			if ratePerPeriod > 0 {
				value += monthlyContribution * (factor - 1) / ratePerPeriod
			} else {
				value += monthlyContribution * periods
			}
		}
		return value
	}

	futureValue := grow(totalPeriods)
	var totalContributions float64
	if monthlyContribution > 0 {
		totalContributions = monthlyContribution * totalPeriods
	}

	result := &CompoundInterestResult{
		Principal:           round2(principal),
		Rate:                ratePercent,
		TimeYears:           timeYears,
		CompoundsPerYear:    compoundsPerYear,
		MonthlyContribution: round2(monthlyContribution),
		TotalContributed:    round2(principal + totalContributions),
		InterestEarned:      round2(futureValue - principal - totalContributions),
		FutureValue:         round2(futureValue),
		EffectiveAnnualRate: round2((math.Pow(1+ratePerPeriod, float64(compoundsPerYear)) - 1) * 100),
	}
	if ratePercent > 0 {
		result.DoublingTimeYears = round2(math.Log(2) / math.Log(1+rate))
	}

	for year := 1; year <= int(timeYears); year++ {
		periods := float64(year * compoundsPerYear)
		value := grow(periods)
		gain := value - principal - monthlyContribution*periods
		result.Projection = append(result.Projection, YearValue{
			Year:  year,
			Value: round2(value),
			Gain:  round2(gain),
		})
	}

	return result, nil
}

// AmortizationEntry is one payment in a loan schedule.
type AmortizationEntry struct {
	PaymentNumber    int     `json:"payment_number"`
	Payment          float64 `json:"payment"`
	Principal        float64 `json:"principal"`
	Interest         float64 `json:"interest"`
	RemainingBalance float64 `json:"remaining_balance"`
}

// LoanPaymentResult is the output of LoanPayment.
type LoanPaymentResult struct {
	LoanAmount    float64             `json:"loan_amount"`
	AnnualRate    float64             `json:"annual_rate_percent"`
	TermYears     float64             `json:"loan_term_years"`
	Payment       float64             `json:"payment_per_period"`
	TotalPayments float64             `json:"total_payments"`
	TotalPaid     float64             `json:"total_paid"`
	TotalInterest float64             `json:"total_interest"`
	FirstYear     []AmortizationEntry `json:"first_year_schedule"`
}

// LoanPayment computes the level payment PMT = P*r(1+r)^n / ((1+r)^n-1)
// and the first year of the amortization schedule.
func LoanPayment(loanAmount, annualRatePercent, termYears float64, paymentsPerYear int) (*LoanPaymentResult, error) {
	if loanAmount <= 0 {
		return nil, errors.New("loan_amount must be positive")
	}
	if paymentsPerYear <= 0 {
		return nil, errors.New("payments_per_year must be positive")
	}
	if termYears <= 0 {
		return nil, errors.New("loan_term_years must be positive")
	}

	ratePerPeriod := annualRatePercent / 100 / float64(paymentsPerYear)
	totalPayments := termYears * float64(paymentsPerYear)

	var payment, totalPaid, totalInterest float64
	if ratePerPeriod == 0 {
		payment = loanAmount / totalPayments
		totalPaid = loanAmount
	} else {
		factor := math.Pow(1+ratePerPeriod, totalPayments)
		payment = loanAmount * (ratePerPeriod * factor) / (factor - 1)
		totalPaid = payment * totalPayments
		totalInterest = totalPaid - loanAmount
	}

	result := &LoanPaymentResult{
		LoanAmount:    round2(loanAmount),
		AnnualRate:    annualRatePercent,
		TermYears:     termYears,
		Payment:       round2(payment),
		TotalPayments: totalPayments,
		TotalPaid:     round2(totalPaid),
		TotalInterest: round2(totalInterest),
	}

	balance := loanAmount
	for i := 1; i <= 12 && float64(i) <= totalPayments; i++ {
		interest := balance * ratePerPeriod
		principal := payment - interest
		balance -= principal
		result.FirstYear = append(result.FirstYear, AmortizationEntry{
			PaymentNumber:    i,
			Payment:          round2(payment),
			Principal:        round2(principal),
			Interest:         round2(interest),
			RemainingBalance: round2(math.Max(balance, 0)),
		})
	}

	return result, nil
}

// RetirementResult is the output of RetirementSavings.
type RetirementResult struct {
	CurrentAge           int     `json:"current_age"`
	RetirementAge        int     `json:"retirement_age"`
	YearsToRetirement    int     `json:"years_to_retirement"`
	FutureValue          float64 `json:"future_value"`
	SafeAnnualWithdrawal float64 `json:"safe_annual_withdrawal"`
	InflationAdjusted    float64 `json:"inflation_adjusted_value"`
	ReplacementRatio     float64 `json:"income_replacement_ratio_percent,omitempty"`
	CurrentSavingsRate   float64 `json:"current_savings_rate_percent,omitempty"`
}

// RetirementSavings projects savings growth to retirement age and
// applies the 4% withdrawal rule. A 3% inflation assumption produces
// the present-value figure.
func RetirementSavings(currentAge, retirementAge int, currentSavings, monthlyContribution, expectedReturnPercent, annualIncome float64) (*RetirementResult, error) {
	years := retirementAge - currentAge
	if years <= 0 {
		return nil, errors.New("retirement age must be greater than current age")
	}

	growth, err := CompoundInterest(currentSavings, expectedReturnPercent, float64(years), 12, monthlyContribution)
	if err != nil {
		return nil, err
	}

	safeWithdrawal := growth.FutureValue * 0.04
	result := &RetirementResult{
		CurrentAge:           currentAge,
		RetirementAge:        retirementAge,
		YearsToRetirement:    years,
		FutureValue:          growth.FutureValue,
		SafeAnnualWithdrawal: round2(safeWithdrawal),
		InflationAdjusted:    round2(growth.FutureValue / math.Pow(1.03, float64(years))),
	}
	if annualIncome > 0 {
		result.ReplacementRatio = round2(safeWithdrawal / annualIncome * 100)
		result.CurrentSavingsRate = round2(monthlyContribution * 12 / annualIncome * 100)
	}
	return result, nil
}

// BudgetResult is the output of BudgetAllocation.
type BudgetResult struct {
	MonthlyIncome    float64            `json:"monthly_income"`
	NeedsAmount      float64            `json:"needs_amount"`
	WantsAmount      float64            `json:"wants_amount"`
	SavingsAmount    float64            `json:"savings_amount"`
	NeedsBreakdown   map[string]float64 `json:"needs_breakdown"`
	WantsBreakdown   map[string]float64 `json:"wants_breakdown"`
	SavingsBreakdown map[string]float64 `json:"savings_breakdown"`
	AnnualSavings    float64            `json:"annual_savings"`
	Rule             string             `json:"rule"`
}

// BudgetAllocation splits income per the 50/30/20 rule (or custom
// percentages summing to 100) with typical category breakdowns.
func BudgetAllocation(monthlyIncome, needsPercent, wantsPercent, savingsPercent float64) (*BudgetResult, error) {
	if monthlyIncome <= 0 {
		return nil, errors.New("monthly_income must be positive")
	}
	total := needsPercent + wantsPercent + savingsPercent
	if math.Abs(total-100) > 0.01 {
		return nil, fmt.Errorf("percentages must sum to 100, got %.1f", total)
	}

	needs := monthlyIncome * needsPercent / 100
	wants := monthlyIncome * wantsPercent / 100
	savings := monthlyIncome * savingsPercent / 100

	split := func(amount float64, shares map[string]float64) map[string]float64 {
		out := make(map[string]float64, len(shares))
		for name, share := range shares {
			out[name] = round2(amount * share)
		}
		return out
	}

	return &BudgetResult{
		MonthlyIncome: round2(monthlyIncome),
		NeedsAmount:   round2(needs),
		WantsAmount:   round2(wants),
		SavingsAmount: round2(savings),
		NeedsBreakdown: split(needs, map[string]float64{
			"Housing": 0.5, "Utilities": 0.1, "Groceries": 0.2,
			"Transportation": 0.1, "Insurance": 0.05, "Minimum Debt Payments": 0.05,
		}),
		WantsBreakdown: split(wants, map[string]float64{
			"Dining Out": 0.3, "Entertainment": 0.2, "Shopping": 0.2,
			"Travel": 0.2, "Subscriptions": 0.1,
		}),
		SavingsBreakdown: split(savings, map[string]float64{
			"Emergency Fund": 0.4, "Retirement": 0.3,
			"Short-term Goals": 0.2, "Investments": 0.1,
		}),
		AnnualSavings: round2(savings * 12),
		Rule:          fmt.Sprintf("%.0f/%.0f/%.0f Rule", needsPercent, wantsPercent, savingsPercent),
	}, nil
}

// EmergencyFundResult is the output of EmergencyFund.
type EmergencyFundResult struct {
	MonthlyExpenses float64 `json:"monthly_expenses"`
	TargetMonths    int     `json:"target_months"`
	RecommendedFund float64 `json:"recommended_fund"`
	Advice          string  `json:"advice"`
}

// EmergencyFund sizes a cash buffer covering the given number of
// months of essential expenses.
func EmergencyFund(monthlyExpenses float64, months int) (*EmergencyFundResult, error) {
	if months < 1 {
		return nil, errors.New("months must be at least 1")
	}
	if monthlyExpenses <= 0 {
		return nil, errors.New("monthly_expenses must be positive")
	}
	fund := monthlyExpenses * float64(months)
	return &EmergencyFundResult{
		MonthlyExpenses: round2(monthlyExpenses),
		TargetMonths:    months,
		RecommendedFund: round2(fund),
		Advice: fmt.Sprintf("Your emergency fund should cover %d months of essential expenses. "+
			"This provides a safety net for job loss, medical emergencies, or unexpected expenses.", months),
	}, nil
}

// PayoffDebt is one debt fed into the payoff simulation.
type PayoffDebt struct {
	Name       string  `json:"name"`
	Balance    float64 `json:"balance"`
	Rate       float64 `json:"rate"`
	MinPayment float64 `json:"min_payment"`
}

// PayoffResult is the output of DebtPayoff.
type PayoffResult struct {
	Strategy          string  `json:"strategy"`
	TotalDebt         float64 `json:"total_debt"`
	MonthlyPayment    float64 `json:"monthly_payment"`
	TotalMinPayment   float64 `json:"total_min_payment"`
	ExtraPayment      float64 `json:"extra_payment"`
	MonthsToPayoff    int     `json:"months_to_payoff"`
	YearsToPayoff     float64 `json:"years_to_payoff"`
	TotalInterestPaid float64 `json:"total_interest_paid"`
}

// Payoff strategies.
const (
	StrategyAvalanche = "avalanche" // highest interest rate first
	StrategySnowball  = "snowball"  // smallest balance first
)

// DebtPayoff simulates paying the given debts month by month, sending
// the surplus over the minimums to the front of the strategy order.
// The simulation caps at 1200 months.
func DebtPayoff(debts []PayoffDebt, monthlyPayment float64, strategy string) (*PayoffResult, error) {
	if len(debts) == 0 {
		return nil, errors.New("no debts provided")
	}

	working := make([]PayoffDebt, len(debts))
	copy(working, debts)

	switch strategy {
	case StrategyAvalanche:
		sort.SliceStable(working, func(i, j int) bool { return working[i].Rate > working[j].Rate })
	case StrategySnowball:
		sort.SliceStable(working, func(i, j int) bool { return working[i].Balance < working[j].Balance })
	default:
		return nil, fmt.Errorf("unknown strategy %q, use %q or %q", strategy, StrategyAvalanche, StrategySnowball)
	}

	var totalDebt, totalMin float64
	for _, d := range working {
		totalDebt += d.Balance
		totalMin += d.MinPayment
	}
	if monthlyPayment < totalMin {
		return nil, fmt.Errorf("monthly payment %.2f is below the total minimum payments %.2f", monthlyPayment, totalMin)
	}

	var totalInterest float64
	months := 0
	for len(working) > 0 && months < 1200 {
		months++
		available := monthlyPayment

		for i := range working {
			interest := working[i].Balance * working[i].Rate / 100 / 12
			totalInterest += interest
			working[i].Balance += interest

			pay := math.Min(working[i].MinPayment, working[i].Balance)
			working[i].Balance -= pay
			available -= pay
		}

		// Surplus cascades down the strategy order when the front debt
		// is cleared with money left over.
		for i := 0; i < len(working) && available > 0.004; i++ {
			extra := math.Min(available, working[i].Balance)
			working[i].Balance -= extra
			available -= extra
		}

		remaining := working[:0]
		for _, d := range working {
			if d.Balance > 0.01 {
				remaining = append(remaining, d)
			}
		}
		working = remaining
	}

	return &PayoffResult{
		Strategy:          strategy,
		TotalDebt:         round2(totalDebt),
		MonthlyPayment:    round2(monthlyPayment),
		TotalMinPayment:   round2(totalMin),
		ExtraPayment:      round2(monthlyPayment - totalMin),
		MonthsToPayoff:    months,
		YearsToPayoff:     math.Round(float64(months)/12*10) / 10,
		TotalInterestPaid: round2(totalInterest),
	}, nil
}
