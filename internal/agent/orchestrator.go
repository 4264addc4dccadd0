// Package agent runs the conversation control loop: guardrail, session
// routing, the bounded model/tool loop, and answer verification.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cofina-ai/cofina-agent/internal/guardrail"
	"github.com/cofina-ai/cofina-agent/internal/llm"
	"github.com/cofina-ai/cofina-agent/internal/registration"
	"github.com/cofina-ai/cofina-agent/internal/session"
	"github.com/cofina-ai/cofina-agent/internal/tools"
	"github.com/cofina-ai/cofina-agent/internal/verifier"
)

// Fixed user-facing replies for turns the model never sees.
const (
	replyBlocked      = "I'm unable to process that request. Please ask a financial question."
	replyAuthenticate = "For personalised financial advice please log in first. Say 'login' to start."
	replyExpired      = "Your session expired for security. Please log in again to continue."
	replyOffTopic     = "Let's keep our conversation focused on your financial goals. How can I help?"
	replyLoggedOut    = "You've been logged out. See you next time!"
	replyModelDown    = "I ran into a problem reaching my reasoning engine. Please try again in a moment."
	replyExhausted    = "I need more information to help you with that."
)

var logoutTriggers = []string{"logout", "log out", "log off", "sign out"}

// registrationTool is the schema-only tool the model calls to open
// onboarding; the loop intercepts it and hands the turn to the step
// machine instead of executing a handler.
const registrationTool = "registration_flow"

// DecisionLog records notable orchestration decisions for later audit.
// *store.Store satisfies it; nil disables auditing.
type DecisionLog interface {
	LogDecision(ctx context.Context, userID, sessionID, decisionType, summary string, confidence float64) error
}

// Options carries the orchestrator's collaborators.
type Options struct {
	Client   llm.Client
	Model    string
	Registry *tools.Registry
	Scorer   *guardrail.Scorer
	Sessions *session.Store
	Verifier *verifier.Verifier
	Audit    DecisionLog
	MaxTurns int
	Logger   *slog.Logger
}

// Orchestrator coordinates one user turn end to end. Safe for
// concurrent use across sessions; turns within one session serialize
// on the session lock.
type Orchestrator struct {
	client   llm.Client
	model    string
	registry *tools.Registry
	scorer   *guardrail.Scorer
	sessions *session.Store
	verifier *verifier.Verifier
	auditLog DecisionLog
	maxTurns int
	logger   *slog.Logger
}

// Turn is the outcome of one user message. SessionID differs from the
// request's id when the session was created or recycled on logout.
type Turn struct {
	SessionID string `json:"session_id"`
	Reply     string `json:"reply"`
}

func New(opts Options) *Orchestrator {
	if opts.MaxTurns <= 0 {
		opts.MaxTurns = 4
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Orchestrator{
		client:   opts.Client,
		model:    opts.Model,
		registry: opts.Registry,
		scorer:   opts.Scorer,
		sessions: opts.Sessions,
		verifier: opts.Verifier,
		auditLog: opts.Audit,
		maxTurns: opts.MaxTurns,
		logger:   opts.Logger,
	}
}

// RunTurn processes one user message. Tool and judge failures never
// surface as errors; the user always gets text.
func (o *Orchestrator) RunTurn(ctx context.Context, sessionID, message string) (*Turn, error) {
	sess, release := o.sessions.Acquire(sessionID)
	defer release()
	turn := &Turn{SessionID: sess.ID}

	assessment := o.scorer.Assess(message, sess.ID, sess.EffectiveUserID())
	if !assessment.Passed {
		turn.Reply = o.guardrailReply(sess, assessment)
		o.logger.Warn("message stopped by guardrail",
			"session_id", sess.ID,
			"risk", assessment.InjectionRisk,
			"actions", assessment.Actions,
			"attacks", assessment.AttackLabels)
		summary := strings.Join(assessment.Actions, ",")
		if len(assessment.AttackLabels) > 0 {
			summary += ": " + strings.Join(assessment.AttackLabels, ", ")
		}
		o.audit(ctx, sess, "guardrail", summary, assessment.InjectionRisk)
		return turn, nil
	}
	if assessment.HasAction(guardrail.ActionRedact) {
		message = guardrail.RedactPII(message)
		o.logger.Info("redacted sensitive data from message", "session_id", sess.ID)
	}

	if isLogout(message) {
		turn.SessionID = o.logout(sess)
		turn.Reply = replyLoggedOut
		return turn, nil
	}

	// Mid-onboarding input goes straight to the step machine. The
	// model never sees these turns, so it can never break the step
	// sequence.
	if sess.Registration != nil && sess.Registration.IsActive() {
		resp := sess.Registration.Process(ctx, message)
		o.applyRegistration(sess, resp)
		sess.AppendHistory(
			llm.Message{Role: "user", Content: message},
			llm.Message{Role: "assistant", Content: resp.Message},
		)
		turn.Reply = resp.Message
		return turn, nil
	}

	turn.Reply = o.toolLoop(ctx, sess, message)
	return turn, nil
}

// Logout ends a session explicitly and returns the replacement id.
func (o *Orchestrator) Logout(sessionID string) string {
	sess, release := o.sessions.Acquire(sessionID)
	defer release()
	return o.logout(sess)
}

func (o *Orchestrator) logout(sess *session.Session) string {
	o.scorer.EndSession(sess.ID)
	sess.UserID = ""
	sess.Authenticated = false
	sess.ClearHistory()
	if sess.Registration != nil {
		sess.Registration.Reset()
	}
	newID := o.sessions.Recycle(sess.ID)
	o.logger.Info("session logged out", "old_session_id", sess.ID, "session_id", newID)
	return newID
}

func (o *Orchestrator) guardrailReply(sess *session.Session, a *guardrail.Assessment) string {
	switch {
	case a.HasAction(guardrail.ActionReauthenticate):
		sess.UserID = ""
		sess.Authenticated = false
		return replyExpired
	case a.HasAction(guardrail.ActionAuthenticate):
		return replyAuthenticate
	case a.HasAction(guardrail.ActionBlock):
		return replyBlocked
	default:
		return replyOffTopic
	}
}

// toolLoop runs the bounded model/tool iteration and verification.
func (o *Orchestrator) toolLoop(ctx context.Context, sess *session.Session, message string) string {
	messages := []llm.Message{{Role: "system", Content: o.systemPrompt(sess)}}
	messages = append(messages, sess.History()...)
	messages = append(messages, llm.Message{Role: "user", Content: message})

	schemas := o.registry.List()
	var retrieved strings.Builder
	retried := false

	for turn := 0; turn < o.maxTurns; turn++ {
		resp, err := o.client.Chat(ctx, o.model, messages, schemas)
		if err != nil {
			o.logger.Error("model call failed", "session_id", sess.ID, "error", err)
			return replyModelDown
		}
		messages = append(messages, resp.Message)

		if len(resp.Message.ToolCalls) == 0 {
			final := resp.Message.Content
			if final == "" {
				continue
			}

			verdict, ok := o.verify(ctx, sess, message, final, retrieved.String())
			if ok {
				o.remember(sess, message, final)
				return final
			}
			switch verdict.Action {
			case verifier.ActionRetry:
				if retried || turn == o.maxTurns-1 {
					o.remember(sess, message, final)
					return final
				}
				retried = true
				messages = append(messages, llm.Message{
					Role: "user",
					Content: fmt.Sprintf(
						"Your previous answer scored %.2f on groundedness (%s). "+
							"Rewrite it so every claim is supported by the retrieved context.",
						verdict.Score, verdict.Reason),
				})
				continue
			default:
				apology := fmt.Sprintf(
					"I'm not confident enough in that answer to share it "+
						"(groundedness %.2f: %s). Could you rephrase the question?",
					verdict.Score, verdict.Reason)
				o.remember(sess, message, apology)
				return apology
			}
		}

		for _, call := range resp.Message.ToolCalls {
			if call.Function.Name == registrationTool {
				// Hand the rest of this turn to the step machine. Its
				// prompt goes back to the user verbatim.
				resp := o.startRegistration(ctx, sess, message)
				o.remember(sess, message, resp.Message)
				return resp.Message
			}
			messages = append(messages, o.executeCall(ctx, sess, call, &retrieved))
		}
	}

	final := lastAssistantText(messages)
	if final == "" {
		final = replyExhausted
	}
	o.logger.Warn("tool loop exhausted", "session_id", sess.ID, "max_turns", o.maxTurns)
	o.remember(sess, message, final)
	return final
}

// executeCall runs one tool call and returns its transcript entry.
// Failures become error payloads the model can read and recover from.
func (o *Orchestrator) executeCall(ctx context.Context, sess *session.Session, call llm.ToolCall, retrieved *strings.Builder) llm.Message {
	name := call.Function.Name
	args := o.sessionArgs(sess, name, call.Function.Arguments)
	o.logger.Debug("tool call", "session_id", sess.ID, "tool", name)

	out, err := o.registry.Execute(ctx, name, args)
	if err != nil {
		o.logger.Warn("tool failed", "session_id", sess.ID, "tool", name, "error", err)
		out = toolError(err)
	} else {
		switch name {
		case "login":
			o.bridgeLogin(sess, out)
		case "search_financial_documents":
			collectRetrieved(out, retrieved)
		}
	}
	return llm.Message{Role: "tool", Content: out, ToolCallID: call.ID}
}

// sessionArgs overlays session identity onto the model's arguments.
// Account tools always act as the session's user; only login may name
// a user id of its own.
func (o *Orchestrator) sessionArgs(sess *session.Session, tool string, args map[string]any) map[string]any {
	merged := make(map[string]any, len(args)+3)
	for k, v := range args {
		merged[k] = v
	}
	merged["session_id"] = sess.ID
	merged["authenticated"] = sess.Authenticated
	if tool != "login" {
		merged["user_id"] = sess.EffectiveUserID()
	}
	return merged
}

// bridgeLogin syncs a successful login tool result into the session
// and the guardrail auth record.
func (o *Orchestrator) bridgeLogin(sess *session.Session, payload string) {
	var result struct {
		Success bool   `json:"success"`
		UserID  string `json:"user_id"`
	}
	if err := json.Unmarshal([]byte(payload), &result); err != nil || !result.Success || result.UserID == "" {
		return
	}
	sess.Login(result.UserID)
	o.scorer.AuthenticateSession(sess.ID, result.UserID)
	o.logger.Info("user logged in", "session_id", sess.ID, "user_id", result.UserID)
}

func (o *Orchestrator) startRegistration(ctx context.Context, sess *session.Session, message string) *registration.Response {
	if sess.Registration == nil {
		return &registration.Response{
			Action:  registration.ActionError,
			Message: "Registration is not available right now. Please try again later.",
		}
	}
	input := message
	if !sess.Registration.IsActive() {
		// The machine opens on its trigger words regardless of how
		// the user phrased the request.
		input = "register"
	}
	resp := sess.Registration.Process(ctx, input)
	o.applyRegistration(sess, resp)
	return resp
}

// applyRegistration bridges onboarding completion into session and
// guardrail auth state.
func (o *Orchestrator) applyRegistration(sess *session.Session, resp *registration.Response) {
	if resp.Action != registration.ActionComplete {
		return
	}
	userID, _ := resp.Data["user_id"].(string)
	if userID == "" {
		return
	}
	sess.Login(userID)
	o.scorer.AuthenticateSession(sess.ID, userID)
	o.logger.Info("registration complete", "session_id", sess.ID, "user_id", userID)
}

// verify scores the candidate answer. The bool result is true when the
// answer can be delivered as is. Conversational turns and turns that
// used no retrieved context skip verification entirely.
func (o *Orchestrator) verify(ctx context.Context, sess *session.Session, question, answer, retrieved string) (verifier.Result, bool) {
	if o.verifier == nil || strings.TrimSpace(retrieved) == "" {
		return verifier.Result{}, true
	}
	verdict := o.verifier.Score(ctx, question, answer, retrieved)
	o.logger.Info("answer verified",
		"session_id", sess.ID,
		"score", verdict.Score,
		"action", verdict.Action,
		"defaulted", verdict.Defaulted)
	o.audit(ctx, sess, "verification", string(verdict.Action)+": "+verdict.Reason, verdict.Score)
	return verdict, verdict.Action == verifier.ActionAccept
}

// audit records a decision when an audit log is wired. Failures are
// logged and swallowed; auditing never breaks a turn.
func (o *Orchestrator) audit(ctx context.Context, sess *session.Session, decisionType, summary string, confidence float64) {
	if o.auditLog == nil {
		return
	}
	if err := o.auditLog.LogDecision(ctx, sess.EffectiveUserID(), sess.ID, decisionType, summary, confidence); err != nil {
		o.logger.Warn("decision audit failed", "session_id", sess.ID, "type", decisionType, "error", err)
	}
}

func (o *Orchestrator) remember(sess *session.Session, question, answer string) {
	sess.AppendHistory(
		llm.Message{Role: "user", Content: question},
		llm.Message{Role: "assistant", Content: answer},
	)
}

func (o *Orchestrator) systemPrompt(sess *session.Session) string {
	auth := "Guest (not logged in)"
	if sess.Authenticated {
		auth = "Logged in as " + sess.UserID
	}
	return fmt.Sprintf(`You are CoFina, an intelligent financial assistant for young professionals.

SESSION
User: %s

RULES
- Be concise, direct, and actionable.
- Use the appropriate tool; never guess or make up data.
- After tool results, explain them clearly in plain English.
- LOGIN: when the user wants to log in, ask for their User ID and password in one message. As soon as you have both, call the login tool immediately and relay its message field word for word.
- REGISTER: when the user wants a new account or a financial plan and has none, call registration_flow immediately.
- PROFILE: when the user asks what you know about them, call get_my_profile.
- If the user is not logged in and asks for personalised advice, tell them to log in first, then offer to help.
- Keep responses focused on financial well-being.`, auth)
}

func isLogout(message string) bool {
	lower := strings.ToLower(strings.TrimSpace(message))
	for _, trigger := range logoutTriggers {
		if strings.Contains(lower, trigger) {
			return true
		}
	}
	return false
}

func lastAssistantText(messages []llm.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "assistant" && messages[i].Content != "" {
			return messages[i].Content
		}
	}
	return ""
}

func toolError(err error) string {
	payload, _ := json.Marshal(map[string]string{"error": err.Error()})
	return string(payload)
}

// collectRetrieved pulls the section bodies out of a knowledge-base
// tool result so the verifier can score against them.
func collectRetrieved(payload string, retrieved *strings.Builder) {
	var result struct {
		Found    bool `json:"found"`
		Sections []struct {
			Content string `json:"content"`
		} `json:"sections"`
	}
	if err := json.Unmarshal([]byte(payload), &result); err != nil || !result.Found {
		return
	}
	for _, section := range result.Sections {
		retrieved.WriteString(section.Content)
		retrieved.WriteString("\n\n")
	}
}
