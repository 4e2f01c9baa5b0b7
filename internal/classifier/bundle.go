package classifier

import (
	"regexp"
	"strings"

	"github.com/sirouk/clawboard/internal/model"
)

// roleOf classifies a conversation LogEntry as user or assistant using
// agentLabel/agentId, falling back to "user" when neither is present (the
// teacher's window_text treats a missing actor as the human side).
func roleOf(l model.LogEntry) bool {
	label := strings.ToLower(derefOr2(l.AgentLabel, derefOr2(l.AgentID, "")))
	if label == "" {
		return true
	}
	switch label {
	case "user", "human", "operator":
		return true
	case "assistant", "agent", "bot", "system":
		return false
	}
	// Unknown actor labels (channel display names) are treated as the user
	// side, matching the original's "who: text" framing.
	return true
}

func derefOr2(s *string, def string) string {
	if s == nil || *s == "" {
		return def
	}
	return *s
}

var affirmationRe = regexp.MustCompile(`(?i)^(yes|yep|yeah|sure|ok|okay|sounds good|thanks|thank you|got it|cool|great|nice|perfect|k|kk)\W*$`)

// isLowSignal reports whether text is a short affirmation/generic follow-up
// that should force continuity to routing memory rather than reclassify.
func isLowSignal(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return true
	}
	if affirmationRe.MatchString(text) {
		return true
	}
	words := strings.Fields(text)
	return len(words) <= 2
}

var greetingRe = regexp.MustCompile(`(?i)^(hi|hello|hey|yo|good morning|good afternoon|good evening|sup|howdy)\W*$`)

// isSmallTalk reports whether the bundle text is pure greeting/chit-chat,
// eligible for the stable "Small Talk" topic fast path with no LLM call.
func isSmallTalk(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}
	if greetingRe.MatchString(text) {
		return true
	}
	words := strings.Fields(text)
	return len(words) <= 3 && affirmationRe.MatchString(text)
}

// bundleRange finds the [start,end) index range (within window) of the
// bundle containing the oldest pending conversation turn, per §4.8 step 3's
// rules: one user-intent turn plus subsequent assistant/tool turns; multiple
// consecutive user turns before any assistant reply stay in the same
// bundle; an affirmation/anchor backtracks to the prior intent turn; a new
// user turn after an assistant reply starts a new bundle.
func bundleRange(window []model.LogEntry, oldestPendingIdx int) (int, int) {
	start := oldestPendingIdx
	// Backtrack: if the turn at start is a low-signal affirmation or an
	// assistant turn, walk back to the nearest real user-intent turn.
	for start > 0 {
		cur := window[start]
		if roleOf(cur) && !isLowSignal(cur.Content) {
			break
		}
		start--
	}
	// Walk further back while the preceding turn is also a user turn with
	// no assistant reply in between (consecutive user turns merge).
	for start > 0 {
		prev := window[start-1]
		if roleOf(prev) {
			start--
			continue
		}
		break
	}

	end := start + 1
	for end < len(window) {
		cur := window[end]
		if roleOf(cur) {
			// A new user-intent turn (not a low-signal follow-up) closes
			// the bundle; a low-signal follow-up or consecutive user turn
			// extends it.
			if !isLowSignal(cur.Content) {
				break
			}
		}
		end++
	}
	return start, end
}

// bundleText renders a bundle as the weighted window text passed to
// retrieval and the LLM classifier: user turns are included in full,
// assistant turns are truncated to avoid contaminating candidate retrieval
// with assistant phrasing.
func bundleText(bundle []model.LogEntry) string {
	var b strings.Builder
	for _, e := range bundle {
		text := strings.TrimSpace(derefOr2(e.Summary, e.Content))
		if text == "" {
			continue
		}
		if !roleOf(e) && len(text) > 200 {
			text = text[:200]
		}
		b.WriteString(text)
		b.WriteString("\n")
	}
	out := b.String()
	if len(out) > 6000 {
		out = out[len(out)-6000:]
	}
	return out
}
