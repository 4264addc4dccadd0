// Package registration implements the guided onboarding flow: a
// step-driven state machine that collects credentials, profile,
// debts, preferences, and goals across many conversational turns.
//
// The flow commits in two stages. The identity record is written the
// moment the credential section completes, so the user exists and can
// log in even if they abandon the rest. Everything else is written
// once at the final confirmation.
package registration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/cofina-ai/cofina-agent/internal/store"
)

// Directory is the persistence surface the machine writes through.
// *store.Store satisfies it.
type Directory interface {
	UserExists(ctx context.Context, userID string) (bool, error)
	EmailExists(ctx context.Context, email string) (bool, error)
	CreateUser(ctx context.Context, u store.NewUser) error
	DeleteUser(ctx context.Context, userID string) error
	UpsertProfile(ctx context.Context, userID string, p store.Profile) error
	UpsertPreferences(ctx context.Context, userID string, p store.Preferences) error
	AddDebt(ctx context.Context, userID string, d store.Debt) error
	CreatePlan(ctx context.Context, userID string, p store.Plan) (int64, error)
}

// Action tells the caller what kind of turn this was.
type Action string

const (
	ActionStart    Action = "start"
	ActionAsk      Action = "ask"
	ActionRetry    Action = "retry"
	ActionRestart  Action = "restart"
	ActionComplete Action = "complete"
	ActionError    Action = "error"
	ActionClarify  Action = "clarify"
)

// Response is the machine's answer to one user utterance.
type Response struct {
	Action  Action
	Message string
	Data    map[string]any
}

// startTriggers open the flow from the inactive state.
var startTriggers = []string{"register", "sign up", "signup", "new account", "create account"}

// Machine drives one user's onboarding. It is owned by a single
// session and is not safe for concurrent use.
type Machine struct {
	dir    Directory
	steps  []Step
	logger *slog.Logger

	active      bool
	stepIndex   int
	collected   map[string]any
	currentDebt map[string]any
	debts       []store.Debt
	hasDebt     bool
	stage1Saved bool
}

// New creates an inactive machine using the default step table.
func New(dir Directory, logger *slog.Logger) *Machine {
	m := &Machine{
		dir:    dir,
		steps:  DefaultSteps(),
		logger: logger,
	}
	m.clear()
	return m
}

// IsActive reports whether an onboarding run is in progress.
func (m *Machine) IsActive() bool {
	return m.active
}

// Reset aborts any run and clears all collected state.
func (m *Machine) Reset() {
	m.clear()
}

func (m *Machine) clear() {
	m.active = false
	m.stepIndex = 0
	m.collected = make(map[string]any)
	m.currentDebt = make(map[string]any)
	m.debts = nil
	m.hasDebt = false
	m.stage1Saved = false
}

// Process consumes one user utterance and returns the next prompt or
// outcome.
func (m *Machine) Process(ctx context.Context, input string) *Response {
	clean := strings.TrimSpace(input)

	if !m.active {
		lower := strings.ToLower(clean)
		for _, trigger := range startTriggers {
			if strings.Contains(lower, trigger) {
				m.active = true
				m.stepIndex = 0
				return &Response{
					Action: ActionStart,
					Message: "Welcome! Let's set up your CoFina account. " +
						"I'll guide you step by step.\n\n" + m.steps[0].Prompt,
					Data: map[string]any{"field": m.steps[0].Field},
				}
			}
		}
		return &Response{
			Action: ActionClarify,
			Message: "I can register you and set up your complete financial profile. " +
				"Say 'register' or 'sign up' to begin.",
		}
	}

	return m.handleStep(ctx, clean)
}

func (m *Machine) handleStep(ctx context.Context, value string) *Response {
	step := m.steps[m.stepIndex]

	switch step.Name {
	case stepHasDebt:
		return m.handleHasDebt(ctx, value)
	case stepAddMoreDebt:
		return m.handleAddMoreDebt(ctx, value)
	case stepConfirm:
		return m.handleConfirm(ctx, value)
	}

	coerced, err := step.Validate(ctx, m, value)
	if err != nil {
		return &Response{Action: ActionRetry, Message: err.Error(), Data: map[string]any{"field": step.Field}}
	}
	if step.Section == SectionDebt {
		m.currentDebt[step.Field] = coerced
	} else {
		m.collected[step.Field] = coerced
	}

	m.stepIndex++

	// Commit the identity record the moment the credential section is
	// behind us. stage1Saved guards against double insert.
	if step.Section == SectionAuth && m.steps[m.stepIndex].Section != SectionAuth {
		if resp := m.saveStage1(ctx); resp != nil {
			return resp
		}
	}

	return m.promptCurrent(ctx)
}

func isYes(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "yes", "y":
		return true
	}
	return false
}

func (m *Machine) handleHasDebt(ctx context.Context, value string) *Response {
	if isYes(value) {
		m.hasDebt = true
		m.stepIndex++
	} else {
		m.hasDebt = false
		m.skipSection(SectionDebt)
	}
	return m.promptCurrent(ctx)
}

func (m *Machine) handleAddMoreDebt(ctx context.Context, value string) *Response {
	if len(m.currentDebt) > 0 {
		m.debts = append(m.debts, m.buildDebt())
		m.currentDebt = make(map[string]any)
	}

	if isYes(value) {
		m.stepIndex = m.indexOf(stepDebtType)
	} else {
		m.skipSection(SectionDebt)
	}
	return m.promptCurrent(ctx)
}

func (m *Machine) handleConfirm(ctx context.Context, value string) *Response {
	if isYes(value) {
		return m.saveStage2(ctx)
	}

	// Declined at the end: abandon, not retry. The identity written at
	// the stage boundary is rolled back so the same user ID can be
	// used on the next attempt.
	if m.stage1Saved {
		if userID, ok := m.collected["user_id"].(string); ok {
			if err := m.dir.DeleteUser(ctx, userID); err != nil {
				m.logger.Warn("rollback of partial registration failed",
					"user_id", userID, "error", err)
			}
		}
	}
	m.clear()
	m.active = true
	return &Response{
		Action:  ActionRestart,
		Message: "No problem! Let's start over.\n\n" + m.steps[0].Prompt,
		Data:    map[string]any{"field": m.steps[0].Field},
	}
}

// skipSection advances past every remaining step of the given section.
func (m *Machine) skipSection(section Section) {
	for m.stepIndex < len(m.steps) && m.steps[m.stepIndex].Section == section {
		m.stepIndex++
	}
}

func (m *Machine) indexOf(name string) int {
	for i, s := range m.steps {
		if s.Name == name {
			return i
		}
	}
	return len(m.steps) - 1
}

func (m *Machine) promptCurrent(ctx context.Context) *Response {
	if m.stepIndex >= len(m.steps) {
		return m.saveStage2(ctx)
	}
	step := m.steps[m.stepIndex]
	return &Response{Action: ActionAsk, Message: step.Prompt, Data: map[string]any{"field": step.Field}}
}

func (m *Machine) saveStage1(ctx context.Context) *Response {
	if m.stage1Saved {
		return nil
	}

	err := m.dir.CreateUser(ctx, store.NewUser{
		UserID:         m.stringField("user_id"),
		FirstName:      m.stringField("first_name"),
		OtherNames:     m.stringField("last_name"),
		Email:          m.stringField("email"),
		Password:       m.stringField("password"),
		SecretQuestion: m.stringField("secret_question"),
		SecretAnswer:   m.stringField("secret_answer"),
	})
	if err != nil {
		m.logger.Error("account creation failed", "error", err)
		m.clear()
		if errors.Is(err, store.ErrDuplicateIdentity) {
			return &Response{
				Action: ActionError,
				Message: "Could not create your account. The User ID or email may " +
					"already be in use. Please restart and try different credentials.",
			}
		}
		return &Response{
			Action:  ActionError,
			Message: "A database error occurred during account creation. Please try again later.",
		}
	}
	m.stage1Saved = true
	return nil
}

func (m *Machine) saveStage2(ctx context.Context) *Response {
	userID := m.stringField("user_id")
	firstName := m.stringField("first_name")

	profile := store.Profile{
		Profession:          m.stringField("profession"),
		CurrentRole:         m.stringField("current_role"),
		EmploymentStartDate: m.stringField("employment_start_date"),
		Age:                 m.intField("age"),
		Gender:              m.stringField("gender"),
		CivilStatus:         m.stringField("civil_status"),
		NumberOfChildren:    m.intField("number_of_children"),
		MonthlyIncome:       m.floatField("monthly_income"),
		AnnualIncome:        m.floatField("annual_income"),
		RetirementAgeTarget: m.intField("retirement_age_target"),
	}
	if err := m.dir.UpsertProfile(ctx, userID, profile); err != nil {
		return m.stage2Error(err)
	}

	prefs := store.Preferences{
		RiskProfile:     m.stringField("risk_profile"),
		DebtStrategy:    m.stringField("debt_strategy"),
		SavingsPriority: m.stringField("savings_priority"),
	}
	if err := m.dir.UpsertPreferences(ctx, userID, prefs); err != nil {
		return m.stage2Error(err)
	}

	for _, d := range m.debts {
		if err := m.dir.AddDebt(ctx, userID, d); err != nil {
			return m.stage2Error(err)
		}
	}

	planName := firstName + "'s Financial Plan"
	_, err := m.dir.CreatePlan(ctx, userID, store.Plan{
		PlanName:       planName,
		PlanType:       "Comprehensive",
		ShortTermGoals: []string{m.stringField("short_term")},
		LongTermGoals:  []string{m.stringField("long_term")},
	})
	if err != nil {
		return m.stage2Error(err)
	}

	retirement := m.estimateRetirement()
	debtCount := len(m.debts)
	m.clear()

	msg := fmt.Sprintf("Welcome aboard, %s! Your CoFina account and financial profile are ready.\n"+
		"  - Debts recorded: %d\n"+
		"  - Financial plan: %s\n"+
		"  - Est. retirement: %s",
		firstName, debtCount, planName, retirement)
	return &Response{
		Action:  ActionComplete,
		Message: msg,
		Data: map[string]any{
			"user_id":          userID,
			"retirement_date":  retirement,
			"profile_complete": true,
		},
	}
}

func (m *Machine) stage2Error(err error) *Response {
	m.logger.Error("profile save failed", "error", err)
	m.clear()
	return &Response{
		Action: ActionError,
		Message: "An error occurred while saving your profile. Your account was " +
			"created, please contact support if your profile is incomplete.",
	}
}

func (m *Machine) buildDebt() store.Debt {
	d := store.Debt{}
	if v, ok := m.currentDebt["debt_type"].(string); ok {
		d.DebtType = v
	}
	if v, ok := m.currentDebt["creditor"].(string); ok {
		d.Creditor = v
	}
	if v, ok := m.currentDebt["total_amount"].(float64); ok {
		d.TotalAmount = v
	}
	if v, ok := m.currentDebt["remaining_amount"].(float64); ok {
		d.RemainingAmount = v
	}
	if v, ok := m.currentDebt["interest_rate"].(float64); ok {
		d.InterestRate = v
	}
	if v, ok := m.currentDebt["minimum_payment"].(float64); ok {
		d.MinimumPayment = v
	}
	if v, ok := m.currentDebt["due_date"].(int); ok {
		d.DueDate = strconv.Itoa(v)
	}
	return d
}

func (m *Machine) estimateRetirement() string {
	age := m.intField("age")
	target := m.intField("retirement_age_target")
	years := target - age
	if years < 0 {
		years = 0
	}
	return fmt.Sprintf("%d-01-01", time.Now().Year()+years)
}

func (m *Machine) stringField(field string) string {
	v, _ := m.collected[field].(string)
	return v
}

func (m *Machine) intField(field string) int {
	v, _ := m.collected[field].(int)
	return v
}

func (m *Machine) floatField(field string) float64 {
	v, _ := m.collected[field].(float64)
	return v
}
