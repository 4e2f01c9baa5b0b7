package classifier

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/sirouk/clawboard/internal/providers"
)

// CreationGate decides whether a proposed new Topic/Task should actually be
// created, per SPEC_FULL §4.8 step 4's "separate creation-gate call (or
// configured policy)". Two implementations: LLMCreationGate (network) and
// HeuristicCreationGate (deterministic, always available).
type CreationGate interface {
	AllowTopic(ctx context.Context, name string, candidates []Candidate) (bool, string)
	AllowTask(ctx context.Context, title string, candidates []Candidate) (bool, string)
}

// Candidate is a retrieval hit passed to a creation gate for comparison.
type Candidate struct {
	ID    string
	Label string
	Score float64
}

var genericWords = map[string]bool{
	"general": true, "misc": true, "other": true, "stuff": true, "things": true,
	"task": true, "todo": true, "item": true, "update": true, "chat": true,
}

var hashLikeRe = regexp.MustCompile(`^[a-f0-9]{6,}$`)

// HeuristicCreationGate enforces title/name shape checks only -- no network
// call, always available.
type HeuristicCreationGate struct{}

func (HeuristicCreationGate) AllowTopic(_ context.Context, name string, candidates []Candidate) (bool, string) {
	return validLabel(name, 1, 8)
}

func (HeuristicCreationGate) AllowTask(_ context.Context, title string, candidates []Candidate) (bool, string) {
	return validLabel(title, 2, 12)
}

// validLabel requires minTokens..maxTokens tokens, no hash-like tokens, and
// rejects a single generic word.
func validLabel(label string, minTokens, maxTokens int) (bool, string) {
	label = strings.TrimSpace(label)
	if label == "" {
		return false, "empty label"
	}
	tokens := strings.Fields(label)
	if len(tokens) < minTokens {
		return false, "too few tokens"
	}
	if len(tokens) > maxTokens {
		return false, "too many tokens"
	}
	if len(tokens) == 1 && genericWords[strings.ToLower(tokens[0])] {
		return false, "generic word"
	}
	for _, t := range tokens {
		if hashLikeRe.MatchString(strings.ToLower(t)) {
			return false, "hash-like token"
		}
	}
	return true, ""
}

// LLMCreationGate asks the configured LLM provider for a yes/no creation
// decision, auditing each call. Selected only when an LLM provider is
// configured; falls back to the heuristic gate's shape checks as a floor.
type LLMCreationGate struct {
	Provider providers.Provider
	Model    string
	Audit    func(kind, label string, allowed bool, reason string)
}

func (g LLMCreationGate) AllowTopic(ctx context.Context, name string, candidates []Candidate) (bool, string) {
	return g.decide(ctx, "topic", name, candidates)
}

func (g LLMCreationGate) AllowTask(ctx context.Context, title string, candidates []Candidate) (bool, string) {
	return g.decide(ctx, "task", title, candidates)
}

func (g LLMCreationGate) decide(ctx context.Context, kind, label string, candidates []Candidate) (bool, string) {
	minTokens, maxTokens := 1, 8
	if kind == "task" {
		minTokens, maxTokens = 2, 12
	}
	ok, reason := validLabel(label, minTokens, maxTokens)
	if !ok {
		g.audit(kind, label, false, reason)
		return false, reason
	}
	prompt := gatePrompt(kind, label, candidates)
	resp, err := g.Provider.Chat(ctx, providers.ChatRequest{
		Model: g.Model,
		Messages: []providers.Message{
			{Role: "system", Content: "You gate creation of new organizational entries. Reply with exactly YES or NO and nothing else."},
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		// LLM gate unavailable: fall back to the heuristic's pass, since a
		// gate must never hard-fail the classifier cycle.
		g.audit(kind, label, true, "llm_unavailable_fallback_heuristic")
		return true, "llm_unavailable_fallback_heuristic"
	}
	allow := strings.HasPrefix(strings.ToUpper(strings.TrimSpace(resp.Content)), "Y")
	g.audit(kind, label, allow, "llm_decision")
	return allow, "llm_decision"
}

func (g LLMCreationGate) audit(kind, label string, allowed bool, reason string) {
	if g.Audit != nil {
		g.Audit(kind, label, allowed, reason)
	}
}

func gatePrompt(kind, label string, candidates []Candidate) string {
	var b strings.Builder
	b.WriteString("Proposed new ")
	b.WriteString(kind)
	b.WriteString(": \"")
	b.WriteString(label)
	b.WriteString("\"\nExisting close candidates:\n")
	if len(candidates) == 0 {
		b.WriteString("(none)\n")
	}
	for _, c := range candidates {
		b.WriteString("- ")
		b.WriteString(c.Label)
		b.WriteString(" (score ")
		b.WriteString(formatScore(c.Score))
		b.WriteString(")\n")
	}
	b.WriteString("Should a new one be created instead of reusing a candidate? Reply YES or NO.")
	return b.String()
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
