// Package guardrail screens inbound messages for injection and abuse
// before they reach the model, and tracks per-session authentication
// with an inactivity TTL.
package guardrail

import (
	"encoding/base64"
	"encoding/hex"
	"regexp"
	"strings"
	"sync"
	"time"
)

// AuthStatus describes the session's authentication state at assess time.
type AuthStatus string

const (
	AuthGuest         AuthStatus = "guest"
	AuthAuthenticated AuthStatus = "authenticated"
	AuthExpired       AuthStatus = "expired"
)

// Actions the caller must honor. Multiple actions can be returned for
// one message since the checks are independent.
const (
	ActionBlock          = "block"
	ActionScrutinize     = "scrutinize"
	ActionRedact         = "redact"
	ActionAuthenticate   = "authenticate"
	ActionReauthenticate = "reauthenticate"
)

// Assessment is the consolidated verdict for one message. It is built
// fresh on every call and never stored.
type Assessment struct {
	Passed        bool
	InjectionRisk float64
	SensitiveData bool
	AuthStatus    AuthStatus
	SessionValid  bool
	Warnings      []string
	Actions       []string
	AttackLabels  []string
}

// HasAction reports whether the assessment carries the given action.
func (a *Assessment) HasAction(action string) bool {
	for _, act := range a.Actions {
		if act == action {
			return true
		}
	}
	return false
}

type attackPattern struct {
	re     *regexp.Regexp
	weight float64
	label  string
}

type sessionRecord struct {
	created       time.Time
	lastActivity  time.Time
	authenticated bool
	userID        string
}

// Scorer runs all guardrail checks. The pattern sets are immutable
// after construction; the session table is guarded by a mutex so one
// Scorer can serve concurrent sessions.
type Scorer struct {
	ttl time.Duration

	mu       sync.Mutex
	sessions map[string]*sessionRecord

	sqlPatterns       []*regexp.Regexp
	sensitivePatterns []*regexp.Regexp
	attackPatterns    []attackPattern
	authPatterns      []*regexp.Regexp
	injectionKeywords *regexp.Regexp
	roleHijack        *regexp.Regexp
	base64Blob        *regexp.Regexp
	hexBlob           *regexp.Regexp
}

// NewScorer creates a scorer whose session records expire after ttl of
// inactivity.
func NewScorer(ttl time.Duration) *Scorer {
	compile := func(patterns []string) []*regexp.Regexp {
		out := make([]*regexp.Regexp, 0, len(patterns))
		for _, p := range patterns {
			out = append(out, regexp.MustCompile(`(?i)`+p))
		}
		return out
	}

	s := &Scorer{
		ttl:      ttl,
		sessions: make(map[string]*sessionRecord),
		sqlPatterns: compile([]string{
			`DROP\s+TABLE`,
			`DELETE\s+FROM`,
			`UPDATE\s+.*SET`,
			`INSERT\s+INTO`,
			`ALTER\s+TABLE`,
			`TRUNCATE\s+TABLE`,
			`--`,
			`;\s*$`,
		}),
		sensitivePatterns: compile([]string{
			`\b\d{16}\b`,
			`\b\d{4}[- ]\d{4}[- ]\d{4}[- ]\d{4}\b`,
			`\b\d{3}-\d{2}-\d{4}\b`,
			`password\s*[=:]\s*\S+`,
			`api[_-]?key\s*[=:]\s*\S+`,
		}),
		authPatterns: compile([]string{
			`my\s+(plan|profile|preferences|goals)`,
			`my\s+(spending|transactions|balance)`,
			`update\s+(my|profile)`,
			`create\s+(plan|goal)`,
			`show\s+(me\s+)?my`,
		}),
		injectionKeywords: regexp.MustCompile(`(?i)ignore|forget|jailbreak|DAN|system\s+prompt|override|act\s+as`),
		roleHijack:        regexp.MustCompile(`(?i)you\s+are\s+now\s+(?:a\s+|an\s+)?(\w+)`),
		base64Blob:        regexp.MustCompile(`[A-Za-z0-9+/]{20,}={0,2}`),
		hexBlob:           regexp.MustCompile(`(?:0x)?([0-9a-fA-F]{16,})`),
	}

	mustAttack := func(pattern string, weight float64, label string) attackPattern {
		return attackPattern{regexp.MustCompile(`(?i)` + pattern), weight, label}
	}
	s.attackPatterns = []attackPattern{
		// System prompt / context override.
		mustAttack(`ignore\s+(all\s+)?(previous|prior|above|earlier)\s+(instructions?|prompts?|context|rules?)`, 0.6, "system_override"),
		mustAttack(`(disregard|forget|override)\s+(your\s+)?(instructions?|rules?|guidelines?|constraints?|training)`, 0.5, "system_override"),
		mustAttack(`(new|updated?|real)\s+system\s+prompt`, 0.5, "system_override"),

		// Jailbreak / character play escalation.
		mustAttack(`\bDAN\b`, 0.7, "jailbreak"),
		mustAttack(`jailbreak`, 0.7, "jailbreak"),
		mustAttack(`developer\s+mode`, 0.5, "jailbreak"),
		mustAttack(`(pretend|imagine|roleplay|act)\s+(that\s+)?(you\s+)?(are|have\s+no)\s+(no\s+)?(restrictions?|limits?|guidelines?|rules?|filters?)`, 0.5, "jailbreak"),
		mustAttack(`hypothetically[,\s]+if\s+you\s+(had\s+no\s+rules?|could\s+say\s+anything)`, 0.4, "jailbreak"),

		// Indirect injection via quoted or pasted content.
		mustAttack(`(the\s+)?(document|text|article|email|message)\s+says?\s+["']?\s*(ignore|forget|you\s+are|act\s+as)`, 0.5, "indirect_injection"),
		mustAttack(`\[INST\]|\[/INST\]|<\|im_start\|>|<\|im_end\|>`, 0.6, "indirect_injection"),

		// Token smuggling via invisible or lookalike characters.
		mustAttack("[​‌‍⁠\uFEFF]", 0.4, "token_smuggling"),
		mustAttack(`[\x{0400}-\x{04ff}\x{0370}-\x{03ff}]{3,}`, 0.3, "token_smuggling"),
	}

	return s
}

var attackWarnings = map[string]string{
	"system_override":    "Attempted system prompt override",
	"role_hijack":        "Role hijacking attempt detected",
	"jailbreak":          "Jailbreak attempt detected",
	"indirect_injection": "Indirect prompt injection detected",
	"token_smuggling":    "Token smuggling / encoding attack detected",
	"token_flood":        "Token flooding / DoS pattern detected",
}

// Assess runs every check over one message and returns the combined
// verdict. userID should be "guest" for unauthenticated sessions.
func (s *Scorer) Assess(message, sessionID, userID string) *Assessment {
	result := &Assessment{
		Passed:     true,
		AuthStatus: AuthGuest,
	}

	valid, status := s.touchSession(sessionID, userID)
	result.SessionValid = valid
	result.AuthStatus = status
	if !valid && userID != "guest" {
		result.Passed = false
		result.Warnings = append(result.Warnings, "Session expired or invalid")
		result.Actions = append(result.Actions, ActionReauthenticate)
	}

	if risk := s.checkSQL(message); risk > 0 {
		result.InjectionRisk = clamp(result.InjectionRisk + risk)
		result.Warnings = append(result.Warnings, "SQL injection pattern detected")
		result.AttackLabels = append(result.AttackLabels, "sql_injection")
	}

	risk, labels := s.checkAttacks(message)
	if risk > 0 {
		result.InjectionRisk = clamp(result.InjectionRisk + risk)
		result.AttackLabels = append(result.AttackLabels, labels...)
		seen := map[string]bool{}
		for _, label := range labels {
			if msg, ok := attackWarnings[label]; ok && !seen[label] {
				seen[label] = true
				result.Warnings = append(result.Warnings, msg)
			}
		}
	}

	if risk := s.checkEncodedPayload(message); risk > 0 {
		result.InjectionRisk = clamp(result.InjectionRisk + risk)
		result.AttackLabels = append(result.AttackLabels, "encoded_payload")
		result.Warnings = append(result.Warnings, "Possibly encoded payload detected")
	}

	switch {
	case result.InjectionRisk > 0.7:
		result.Passed = false
		result.Actions = append(result.Actions, ActionBlock)
	case result.InjectionRisk > 0.4:
		result.Actions = append(result.Actions, ActionScrutinize)
	}

	if s.checkSensitive(message) {
		result.SensitiveData = true
		result.Warnings = append(result.Warnings,
			"Potential sensitive data detected, please avoid sharing credentials or card numbers")
		result.Actions = append(result.Actions, ActionRedact)
	}

	if s.needsAuth(message) && userID == "guest" {
		result.Passed = false
		result.Warnings = append(result.Warnings, "Authentication required for this request")
		result.Actions = append(result.Actions, ActionAuthenticate)
	}

	return result
}

func (s *Scorer) checkSQL(message string) float64 {
	risk := 0.0
	for _, re := range s.sqlPatterns {
		if re.MatchString(message) {
			risk += 0.4
		}
	}
	return clamp(risk)
}

func (s *Scorer) checkAttacks(message string) (float64, []string) {
	risk := 0.0
	var labels []string
	add := func(weight float64, label string) {
		risk += weight
		for _, l := range labels {
			if l == label {
				return
			}
		}
		labels = append(labels, label)
	}

	for _, ap := range s.attackPatterns {
		if ap.re.MatchString(message) {
			add(ap.weight, ap.label)
		}
	}

	// "You are now X" is only a hijack when X is not part of the
	// assistant's own identity.
	if m := s.roleHijack.FindStringSubmatch(message); m != nil {
		switch strings.ToLower(m[1]) {
		case "cofina", "intelligent", "financial":
		default:
			add(0.4, "role_hijack")
		}
	}

	if hasCharFlood(message, 200) {
		add(0.5, "token_flood")
	}

	return clamp(risk), labels
}

// hasCharFlood reports whether any single rune repeats more than limit
// times in a row.
func hasCharFlood(message string, limit int) bool {
	var prev rune
	run := 0
	for _, r := range message {
		if r == prev {
			run++
			if run > limit {
				return true
			}
		} else {
			prev = r
			run = 1
		}
	}
	return false
}

// checkEncodedPayload decodes Base64 and hex blobs and scores them only
// when the decoded text contains an injection keyword. Legitimate
// encoded data passes untouched.
func (s *Scorer) checkEncodedPayload(message string) float64 {
	risk := 0.0

	for _, blob := range s.base64Blob.FindAllString(message, -1) {
		decoded, err := base64.StdEncoding.DecodeString(blob)
		if err != nil {
			decoded, err = base64.RawStdEncoding.DecodeString(blob)
		}
		if err != nil {
			continue
		}
		if s.injectionKeywords.Match(decoded) {
			risk += 0.6
			break
		}
	}

	for _, m := range s.hexBlob.FindAllStringSubmatch(message, -1) {
		if len(m[1])%2 != 0 {
			continue
		}
		decoded, err := hex.DecodeString(m[1])
		if err != nil {
			continue
		}
		if s.injectionKeywords.Match(decoded) {
			risk += 0.5
			break
		}
	}

	return clamp(risk)
}

func (s *Scorer) checkSensitive(message string) bool {
	for _, re := range s.sensitivePatterns {
		if re.MatchString(message) {
			return true
		}
	}
	return false
}

func (s *Scorer) needsAuth(message string) bool {
	for _, re := range s.authPatterns {
		if re.MatchString(message) {
			return true
		}
	}
	return false
}

// touchSession creates or refreshes the session record and reports
// validity plus auth status. Expiry is measured from last activity.
func (s *Scorer) touchSession(sessionID, userID string) (bool, AuthStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if rec, ok := s.sessions[sessionID]; ok {
		if now.Sub(rec.lastActivity) > s.ttl {
			delete(s.sessions, sessionID)
			return false, AuthExpired
		}
		rec.lastActivity = now
		if rec.authenticated {
			return true, AuthAuthenticated
		}
		return true, AuthGuest
	}

	s.sessions[sessionID] = &sessionRecord{
		created:       now,
		lastActivity:  now,
		authenticated: userID != "guest",
		userID:        userID,
	}
	if userID != "guest" {
		return true, AuthAuthenticated
	}
	return true, AuthGuest
}

// AuthenticateSession marks an existing session as authenticated. The
// control loop calls this after a successful login or registration.
func (s *Scorer) AuthenticateSession(sessionID, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.sessions[sessionID]; ok {
		rec.authenticated = true
		rec.userID = userID
	}
}

// EndSession drops the session record, forcing a fresh one next call.
func (s *Scorer) EndSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
}

var (
	emailRe = regexp.MustCompile(`[\w.\-]+@[\w.\-]+\.\w+`)
	phoneRe = regexp.MustCompile(`\b\d{3}[-.]?\d{3}[-.]?\d{4}\b`)
	ssnRe   = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)
	cardRe  = regexp.MustCompile(`\b\d{4}[- ]?\d{4}[- ]?\d{4}[- ]?\d{4}\b`)
)

// RedactPII masks emails, phone numbers, societal IDs and card numbers
// in text that is about to be logged or echoed back.
func RedactPII(text string) string {
	text = emailRe.ReplaceAllString(text, "[EMAIL REDACTED]")
	text = ssnRe.ReplaceAllString(text, "[SSN REDACTED]")
	text = cardRe.ReplaceAllString(text, "[CARD REDACTED]")
	text = phoneRe.ReplaceAllString(text, "[PHONE REDACTED]")
	return text
}

func clamp(v float64) float64 {
	if v > 1.0 {
		return 1.0
	}
	return v
}
