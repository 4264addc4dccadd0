// Package verifier scores assistant answers for groundedness before
// they reach the user. It is deliberately generous: only answers that
// are demonstrably wrong or unsupported should ever fall below the
// refuse line.
package verifier

import (
	"context"
	"log/slog"
	"time"
)

// Action is the verdict derived from a groundedness score.
type Action string

const (
	ActionAccept Action = "accept"
	ActionRetry  Action = "retry"
	ActionRefuse Action = "refuse"
)

// Score bands. Accept is the default for most answers.
const (
	acceptThreshold = 0.7
	retryThreshold  = 0.5
)

// JudgeTimeout bounds a single judge call.
const JudgeTimeout = 10 * time.Second

// Result is one verification verdict. Defaulted marks verdicts that
// were assumed because the judge was unavailable.
type Result struct {
	Score     float64 `json:"score"`
	Reason    string  `json:"reason"`
	Action    Action  `json:"action"`
	Defaulted bool    `json:"defaulted,omitempty"`
}

// Judge scores an answer against its question and any retrieved
// context, returning a score in [0,1] and a short reason.
type Judge interface {
	Judge(ctx context.Context, question, answer, retrieved string) (float64, string, error)
}

// Verifier wraps a judge with timeouts, clamping, and fail-open
// defaults.
type Verifier struct {
	judge   Judge
	timeout time.Duration
	logger  *slog.Logger
}

func New(judge Judge, logger *slog.Logger) *Verifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{judge: judge, timeout: JudgeTimeout, logger: logger}
}

// SetTimeout overrides the per-call judge deadline.
func (v *Verifier) SetTimeout(d time.Duration) {
	if d > 0 {
		v.timeout = d
	}
}

// Score verifies an answer and always returns a usable verdict. A
// judge failure accepts the answer with a default score rather than
// blocking the conversation.
func (v *Verifier) Score(ctx context.Context, question, answer, retrieved string) Result {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	score, reason, err := v.judge.Judge(ctx, question, answer, retrieved)
	if err != nil {
		v.logger.Warn("verifier judge unavailable, accepting by default", "error", err)
		return Result{
			Score:     0.85,
			Reason:    "verification unavailable, accepting by default",
			Action:    ActionAccept,
			Defaulted: true,
		}
	}

	score = clamp(score)
	return Result{Score: score, Reason: reason, Action: actionFor(score)}
}

func actionFor(score float64) Action {
	switch {
	case score >= acceptThreshold:
		return ActionAccept
	case score >= retryThreshold:
		return ActionRetry
	default:
		return ActionRefuse
	}
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
