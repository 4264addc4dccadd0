// Package store persists user accounts, financial profiles, debts,
// plans, and transactions in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/bcrypt"
)

// ErrDuplicateIdentity is returned when a user ID or email is already
// taken. Callers treat this as non-retryable within an onboarding run.
var ErrDuplicateIdentity = errors.New("user id or email already registered")

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// Store wraps the SQLite database. Safe for concurrent use.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the
// schema. Use ":memory:" for tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection: SQLite allows a single writer, and the in-memory
	// database used by tests exists per connection.
	db.SetMaxOpenConns(1)
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS users (
	user_id TEXT PRIMARY KEY,
	first_name TEXT NOT NULL,
	other_names TEXT,
	email TEXT UNIQUE NOT NULL,
	password_hash TEXT NOT NULL,
	secret_question TEXT NOT NULL,
	secret_answer_hash TEXT NOT NULL,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	last_login TIMESTAMP,
	account_status TEXT DEFAULT 'active'
);

CREATE TABLE IF NOT EXISTS user_profiles (
	profile_id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id TEXT UNIQUE,
	profession TEXT,
	current_role TEXT,
	employment_start_date TEXT,
	age INTEGER,
	gender TEXT,
	civil_status TEXT,
	number_of_children INTEGER DEFAULT 0,
	monthly_income REAL,
	annual_income REAL,
	retirement_age_target INTEGER DEFAULT 60,
	estimated_retirement_date TEXT,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	FOREIGN KEY (user_id) REFERENCES users(user_id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS user_preferences (
	preference_id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id TEXT UNIQUE,
	risk_profile TEXT CHECK(risk_profile IN ('Low', 'Moderate', 'High', 'Very High')),
	debt_strategy TEXT CHECK(debt_strategy IN ('Snowball', 'Avalanche', 'Consolidation')),
	savings_priority TEXT,
	investment_horizon TEXT,
	updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	FOREIGN KEY (user_id) REFERENCES users(user_id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS user_debts (
	debt_id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id TEXT,
	debt_type TEXT CHECK(debt_type IN ('Student Loan', 'Credit Card', 'Personal Loan', 'Mortgage', 'Car Loan', 'Other')),
	creditor TEXT,
	total_amount REAL,
	remaining_amount REAL,
	interest_rate REAL,
	minimum_payment REAL,
	due_date TEXT,
	status TEXT DEFAULT 'active',
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	FOREIGN KEY (user_id) REFERENCES users(user_id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS financial_plans (
	plan_id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id TEXT,
	plan_name TEXT,
	plan_type TEXT CHECK(plan_type IN ('Budget', 'Savings', 'Investment', 'Debt Repayment', 'Comprehensive')),
	short_term_goals TEXT,
	long_term_goals TEXT,
	monthly_budget TEXT,
	allocations TEXT,
	status TEXT DEFAULT 'active',
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	completed_at TIMESTAMP,
	FOREIGN KEY (user_id) REFERENCES users(user_id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS plan_milestones (
	milestone_id INTEGER PRIMARY KEY AUTOINCREMENT,
	plan_id INTEGER,
	milestone_name TEXT,
	target_amount REAL,
	current_amount REAL DEFAULT 0,
	target_date TEXT,
	achieved_date TEXT,
	status TEXT DEFAULT 'pending',
	FOREIGN KEY (plan_id) REFERENCES financial_plans(plan_id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS user_transactions (
	transaction_id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id TEXT,
	amount REAL,
	category TEXT,
	description TEXT,
	transaction_date TEXT,
	is_expense BOOLEAN DEFAULT 1,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	FOREIGN KEY (user_id) REFERENCES users(user_id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS agent_decisions_log (
	log_id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id TEXT,
	session_id TEXT,
	decision_type TEXT,
	summary TEXT,
	confidence_score REAL,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	FOREIGN KEY (user_id) REFERENCES users(user_id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_users_email ON users(email);
CREATE INDEX IF NOT EXISTS idx_plans_user ON financial_plans(user_id, status);
CREATE INDEX IF NOT EXISTS idx_debts_user ON user_debts(user_id, status);
CREATE INDEX IF NOT EXISTS idx_transactions_user ON user_transactions(user_id, transaction_date);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	return nil
}

// ── Identity ────────────────────────────────────────────────────────

// NewUser carries the fields collected before the Stage-1 commit.
type NewUser struct {
	UserID         string
	FirstName      string
	OtherNames     string
	Email          string
	Password       string
	SecretQuestion string
	SecretAnswer   string
}

// UserExists reports whether the user ID is taken.
func (s *Store) UserExists(ctx context.Context, userID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM users WHERE user_id = ?`, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// EmailExists reports whether the email is taken.
func (s *Store) EmailExists(ctx context.Context, email string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM users WHERE email = ?`, strings.ToLower(email)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// CreateUser inserts the identity record with hashed credentials.
// Returns ErrDuplicateIdentity if the user ID or email is taken.
func (s *Store) CreateUser(ctx context.Context, u NewUser) error {
	passHash, err := bcrypt.GenerateFromPassword([]byte(u.Password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}
	answerHash, err := bcrypt.GenerateFromPassword([]byte(strings.ToLower(strings.TrimSpace(u.SecretAnswer))), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hashing secret answer: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (user_id, first_name, other_names, email, password_hash, secret_question, secret_answer_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.UserID, u.FirstName, u.OtherNames, strings.ToLower(u.Email),
		string(passHash), u.SecretQuestion, string(answerHash))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return ErrDuplicateIdentity
		}
		return fmt.Errorf("creating user: %w", err)
	}
	return nil
}

// DeleteUser removes the identity and, via cascade, everything that
// hangs off it. Used to roll back an abandoned onboarding.
func (s *Store) DeleteUser(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("deleting user %s: %w", userID, err)
	}
	return nil
}

// VerifyLogin checks the password and stamps last_login on success.
func (s *Store) VerifyLogin(ctx context.Context, userID, password string) (bool, error) {
	var hash string
	err := s.db.QueryRowContext(ctx, `SELECT password_hash FROM users WHERE user_id = ?`, userID).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return false, nil
	}
	_, err = s.db.ExecContext(ctx, `UPDATE users SET last_login = CURRENT_TIMESTAMP WHERE user_id = ?`, userID)
	return true, err
}

// SecretQuestion returns the recovery question for a user.
func (s *Store) SecretQuestion(ctx context.Context, userID string) (string, error) {
	var q string
	err := s.db.QueryRowContext(ctx, `SELECT secret_question FROM users WHERE user_id = ?`, userID).Scan(&q)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return q, err
}

// ResetPassword sets a new password if the secret answer matches.
func (s *Store) ResetPassword(ctx context.Context, userID, secretAnswer, newPassword string) (bool, error) {
	var hash string
	err := s.db.QueryRowContext(ctx, `SELECT secret_answer_hash FROM users WHERE user_id = ?`, userID).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(strings.ToLower(strings.TrimSpace(secretAnswer)))) != nil {
		return false, nil
	}
	newHash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return false, fmt.Errorf("hashing password: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `UPDATE users SET password_hash = ? WHERE user_id = ?`, string(newHash), userID)
	return err == nil, err
}

// Account is the public slice of the users row.
type Account struct {
	UserID     string
	FirstName  string
	OtherNames string
	Email      string
	CreatedAt  time.Time
	LastLogin  sql.NullTime
}

// GetAccount returns the identity record without credential hashes.
func (s *Store) GetAccount(ctx context.Context, userID string) (*Account, error) {
	var a Account
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, first_name, COALESCE(other_names, ''), email, created_at, last_login
		FROM users WHERE user_id = ?`, userID).
		Scan(&a.UserID, &a.FirstName, &a.OtherNames, &a.Email, &a.CreatedAt, &a.LastLogin)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ── Profile and preferences ─────────────────────────────────────────

// Profile holds personal and employment details.
type Profile struct {
	Profession          string
	CurrentRole         string
	EmploymentStartDate string
	Age                 int
	Gender              string
	CivilStatus         string
	NumberOfChildren    int
	MonthlyIncome       float64
	AnnualIncome        float64
	RetirementAgeTarget int
}

// UpsertProfile writes the full profile row for a user.
func (s *Store) UpsertProfile(ctx context.Context, userID string, p Profile) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_profiles (
			user_id, profession, current_role, employment_start_date, age, gender,
			civil_status, number_of_children, monthly_income, annual_income,
			retirement_age_target, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(user_id) DO UPDATE SET
			profession = excluded.profession,
			current_role = excluded.current_role,
			employment_start_date = excluded.employment_start_date,
			age = excluded.age,
			gender = excluded.gender,
			civil_status = excluded.civil_status,
			number_of_children = excluded.number_of_children,
			monthly_income = excluded.monthly_income,
			annual_income = excluded.annual_income,
			retirement_age_target = excluded.retirement_age_target,
			updated_at = CURRENT_TIMESTAMP`,
		userID, p.Profession, p.CurrentRole, p.EmploymentStartDate, p.Age, p.Gender,
		p.CivilStatus, p.NumberOfChildren, p.MonthlyIncome, p.AnnualIncome,
		p.RetirementAgeTarget)
	if err != nil {
		return fmt.Errorf("upserting profile: %w", err)
	}
	return nil
}

// GetProfile returns the profile row, or ErrNotFound.
func (s *Store) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	var p Profile
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(profession, ''), COALESCE(current_role, ''),
			COALESCE(employment_start_date, ''), COALESCE(age, 0),
			COALESCE(gender, ''), COALESCE(civil_status, ''),
			COALESCE(number_of_children, 0), COALESCE(monthly_income, 0),
			COALESCE(annual_income, 0), COALESCE(retirement_age_target, 60)
		FROM user_profiles WHERE user_id = ?`, userID).
		Scan(&p.Profession, &p.CurrentRole, &p.EmploymentStartDate, &p.Age,
			&p.Gender, &p.CivilStatus, &p.NumberOfChildren, &p.MonthlyIncome,
			&p.AnnualIncome, &p.RetirementAgeTarget)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Preferences holds the financial-personality answers.
type Preferences struct {
	RiskProfile       string
	DebtStrategy      string
	SavingsPriority   string
	InvestmentHorizon string
}

// UpsertPreferences writes the preferences row for a user.
func (s *Store) UpsertPreferences(ctx context.Context, userID string, p Preferences) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_preferences (user_id, risk_profile, debt_strategy, savings_priority, investment_horizon, updated_at)
		VALUES (?, NULLIF(?, ''), NULLIF(?, ''), ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(user_id) DO UPDATE SET
			risk_profile = excluded.risk_profile,
			debt_strategy = excluded.debt_strategy,
			savings_priority = excluded.savings_priority,
			investment_horizon = excluded.investment_horizon,
			updated_at = CURRENT_TIMESTAMP`,
		userID, p.RiskProfile, p.DebtStrategy, p.SavingsPriority, p.InvestmentHorizon)
	if err != nil {
		return fmt.Errorf("upserting preferences: %w", err)
	}
	return nil
}

// GetPreferences returns the preferences row, or ErrNotFound.
func (s *Store) GetPreferences(ctx context.Context, userID string) (*Preferences, error) {
	var p Preferences
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(risk_profile, ''), COALESCE(debt_strategy, ''),
			COALESCE(savings_priority, ''), COALESCE(investment_horizon, '')
		FROM user_preferences WHERE user_id = ?`, userID).
		Scan(&p.RiskProfile, &p.DebtStrategy, &p.SavingsPriority, &p.InvestmentHorizon)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ── Debts ───────────────────────────────────────────────────────────

// Debt is one liability record.
type Debt struct {
	DebtID          int64
	DebtType        string
	Creditor        string
	TotalAmount     float64
	RemainingAmount float64
	InterestRate    float64
	MinimumPayment  float64
	DueDate         string
	Status          string
}

// AddDebt inserts one debt for a user.
func (s *Store) AddDebt(ctx context.Context, userID string, d Debt) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_debts (user_id, debt_type, creditor, total_amount, remaining_amount, interest_rate, minimum_payment, due_date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		userID, d.DebtType, d.Creditor, d.TotalAmount, d.RemainingAmount,
		d.InterestRate, d.MinimumPayment, d.DueDate)
	if err != nil {
		return fmt.Errorf("adding debt: %w", err)
	}
	return nil
}

// ActiveDebts lists a user's active debts.
func (s *Store) ActiveDebts(ctx context.Context, userID string) ([]Debt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT debt_id, COALESCE(debt_type, ''), COALESCE(creditor, ''),
			COALESCE(total_amount, 0), COALESCE(remaining_amount, 0),
			COALESCE(interest_rate, 0), COALESCE(minimum_payment, 0),
			COALESCE(due_date, ''), status
		FROM user_debts WHERE user_id = ? AND status = 'active'
		ORDER BY debt_id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var debts []Debt
	for rows.Next() {
		var d Debt
		if err := rows.Scan(&d.DebtID, &d.DebtType, &d.Creditor, &d.TotalAmount,
			&d.RemainingAmount, &d.InterestRate, &d.MinimumPayment, &d.DueDate, &d.Status); err != nil {
			return nil, err
		}
		debts = append(debts, d)
	}
	return debts, rows.Err()
}

// UpdateDebtStatus marks a debt e.g. "paid" or "active".
func (s *Store) UpdateDebtStatus(ctx context.Context, debtID int64, status string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE user_debts SET status = ? WHERE debt_id = ?`, status, debtID)
	return err
}

// ── Plans ───────────────────────────────────────────────────────────

// Plan is a financial plan with goal and budget payloads stored as JSON.
type Plan struct {
	PlanID         int64
	PlanName       string
	PlanType       string
	ShortTermGoals []string
	LongTermGoals  []string
	MonthlyBudget  map[string]float64
	Allocations    map[string]float64
	Status         string
	CreatedAt      time.Time
}

// CreatePlan inserts a plan and returns its ID.
func (s *Store) CreatePlan(ctx context.Context, userID string, p Plan) (int64, error) {
	short, _ := json.Marshal(p.ShortTermGoals)
	long, _ := json.Marshal(p.LongTermGoals)
	budget, _ := json.Marshal(p.MonthlyBudget)
	alloc, _ := json.Marshal(p.Allocations)

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO financial_plans (user_id, plan_name, plan_type, short_term_goals, long_term_goals, monthly_budget, allocations)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		userID, p.PlanName, p.PlanType, string(short), string(long), string(budget), string(alloc))
	if err != nil {
		return 0, fmt.Errorf("creating plan: %w", err)
	}
	return res.LastInsertId()
}

// ActivePlan returns the most recent active plan, or ErrNotFound.
func (s *Store) ActivePlan(ctx context.Context, userID string) (*Plan, error) {
	var p Plan
	var short, long, budget, alloc string
	err := s.db.QueryRowContext(ctx, `
		SELECT plan_id, COALESCE(plan_name, ''), COALESCE(plan_type, ''),
			COALESCE(short_term_goals, '[]'), COALESCE(long_term_goals, '[]'),
			COALESCE(monthly_budget, '{}'), COALESCE(allocations, '{}'),
			status, created_at
		FROM financial_plans WHERE user_id = ? AND status = 'active'
		ORDER BY created_at DESC LIMIT 1`, userID).
		Scan(&p.PlanID, &p.PlanName, &p.PlanType, &short, &long, &budget, &alloc,
			&p.Status, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	json.Unmarshal([]byte(short), &p.ShortTermGoals)
	json.Unmarshal([]byte(long), &p.LongTermGoals)
	json.Unmarshal([]byte(budget), &p.MonthlyBudget)
	json.Unmarshal([]byte(alloc), &p.Allocations)
	return &p, nil
}

// UpdatePlanStatus changes a plan's status, stamping completed_at when
// it moves to "completed".
func (s *Store) UpdatePlanStatus(ctx context.Context, planID int64, status string) error {
	if status == "completed" {
		_, err := s.db.ExecContext(ctx, `
			UPDATE financial_plans SET status = ?, completed_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
			WHERE plan_id = ?`, status, planID)
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE financial_plans SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE plan_id = ?`,
		status, planID)
	return err
}

// ── Transactions ────────────────────────────────────────────────────

// Transaction is one income or expense entry.
type Transaction struct {
	TransactionID int64
	Amount        float64
	Category      string
	Description   string
	Date          string
	IsExpense     bool
}

// AddTransaction records one transaction.
func (s *Store) AddTransaction(ctx context.Context, userID string, t Transaction) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_transactions (user_id, amount, category, description, transaction_date, is_expense)
		VALUES (?, ?, ?, ?, ?, ?)`,
		userID, t.Amount, t.Category, t.Description, t.Date, t.IsExpense)
	if err != nil {
		return fmt.Errorf("adding transaction: %w", err)
	}
	return nil
}

// RecentTransactions returns up to limit most recent transactions.
func (s *Store) RecentTransactions(ctx context.Context, userID string, limit int) ([]Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT transaction_id, amount, COALESCE(category, ''), COALESCE(description, ''),
			COALESCE(transaction_date, ''), is_expense
		FROM user_transactions WHERE user_id = ?
		ORDER BY transaction_date DESC, transaction_id DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txns []Transaction
	for rows.Next() {
		var t Transaction
		if err := rows.Scan(&t.TransactionID, &t.Amount, &t.Category, &t.Description,
			&t.Date, &t.IsExpense); err != nil {
			return nil, err
		}
		txns = append(txns, t)
	}
	return txns, rows.Err()
}

// ── Decision log ────────────────────────────────────────────────────

// LogDecision records one agent decision for audit.
func (s *Store) LogDecision(ctx context.Context, userID, sessionID, decisionType, summary string, confidence float64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_decisions_log (user_id, session_id, decision_type, summary, confidence_score)
		VALUES (?, ?, ?, ?, ?)`,
		userID, sessionID, decisionType, summary, confidence)
	return err
}
