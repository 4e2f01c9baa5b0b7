// Package textutil holds the text normalization, sanitization, and
// tokenization helpers shared by the ingest filters, the hybrid search
// pipeline, and the graph builder.
package textutil

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	summaryPrefixRe  = regexp.MustCompile(`(?im)^\s*summary\s*[:\-]\s*`)
	discordPrefixRe  = regexp.MustCompile(`(?im)^\[Discord [^\]]+\]\s*`)
	messageIDTagRe   = regexp.MustCompile(`(?i)\[message[_\s-]?id:[^\]]+\]`)
	collapseSpacesRe = regexp.MustCompile(`\s+`)
	multiBlankRe     = regexp.MustCompile(`\n{3,}`)
)

// Sanitize strips leading "summary:" markers, channel-bridge bracket
// prefixes, and message-id tags, then collapses whitespace to single spaces.
// Grounded on the Python original's _sanitize_log_text.
func Sanitize(value string) string {
	if value == "" {
		return ""
	}
	text := strings.ReplaceAll(value, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.TrimSpace(text)
	text = summaryPrefixRe.ReplaceAllString(text, "")
	text = discordPrefixRe.ReplaceAllString(text, "")
	text = messageIDTagRe.ReplaceAllString(text, "")
	text = collapseSpacesRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// NormalizeForGraph is Sanitize's looser cousin used by the graph builder and
// search tokenizer: it preserves paragraph breaks instead of collapsing every
// run of whitespace to one space.
func NormalizeForGraph(value string) string {
	if value == "" {
		return ""
	}
	text := strings.ReplaceAll(value, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = summaryPrefixRe.ReplaceAllString(text, "")
	text = discordPrefixRe.ReplaceAllString(text, "")
	text = messageIDTagRe.ReplaceAllString(text, "")
	text = multiBlankRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// Clip truncates value to at most limit runes, appending an ellipsis when
// truncated.
func Clip(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	if limit <= 1 {
		return "…"
	}
	return strings.TrimRight(string(runes[:limit-1]), " \t\n") + "…"
}

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "that": true,
	"this": true, "from": true, "into": true, "about": true, "where": true,
	"what": true, "when": true, "have": true, "has": true, "been": true,
	"were": true, "is": true, "are": true, "to": true, "of": true, "on": true,
	"in": true, "a": true, "an": true,
}

// Tokenize lowercases value, strips non-alphanumeric runs to spaces, and
// keeps tokens longer than 2 characters that are not stop words.
func Tokenize(value string) []string {
	lower := strings.ToLower(value)
	var b strings.Builder
	b.Grow(len(lower))
	for _, r := range lower {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte(' ')
		}
	}
	var out []string
	for _, tok := range strings.Fields(b.String()) {
		if len(tok) <= 2 || stopWords[tok] {
			continue
		}
		out = append(out, tok)
	}
	return out
}

// TokenSet is Tokenize deduplicated into a set.
func TokenSet(value string) map[string]bool {
	set := make(map[string]bool)
	for _, t := range Tokenize(value) {
		set[t] = true
	}
	return set
}

// Jaccard computes the Jaccard similarity of the token sets of a and b.
func Jaccard(a, b string) float64 {
	sa, sb := TokenSet(a), TokenSet(b)
	if len(sa) == 0 || len(sb) == 0 {
		return 0
	}
	inter := 0
	for t := range sa {
		if sb[t] {
			inter++
		}
	}
	union := len(sa) + len(sb) - inter
	if union <= 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

var slashCommands = map[string]bool{
	"/new": true, "/topic": true, "/topics": true, "/task": true, "/tasks": true,
	"/log": true, "/logs": true, "/board": true, "/graph": true, "/help": true,
	"/reset": true, "/clear": true,
}

var commandShapeRe = regexp.MustCompile(`^/[a-z0-9_-]{2,}$`)
var memoryVerbRe = regexp.MustCompile(`\bmemory[_-]?(search|get|query|fetch|retrieve|read|write|store|list|prune|delete)\b`)

// IsToolCallLog reports whether an action log's combined text reads as a
// tool-call trace ("tool call:"/"tool result:"/"tool error:").
func IsToolCallLog(logType, summary, content, raw string) bool {
	if logType != "action" {
		return false
	}
	combined := strings.ToLower(strings.Join(nonEmpty(summary, content, raw), " "))
	return strings.Contains(combined, "tool call:") || strings.Contains(combined, "tool result:") || strings.Contains(combined, "tool error:")
}

// IsMemoryActionLog reports whether an action log is a tool-call trace whose
// combined text names a memory-tool verb (search/get/store/...).
func IsMemoryActionLog(logType, summary, content, raw string) bool {
	if !IsToolCallLog(logType, summary, content, raw) {
		return false
	}
	combined := strings.ToLower(strings.Join(nonEmpty(summary, content, raw), " "))
	return memoryVerbRe.MatchString(combined)
}

// IsCommandConversation reports whether a conversation log's text is a
// recognized or well-formed slash command.
func IsCommandConversation(logType, summary, content, raw string) bool {
	if logType != "conversation" {
		return false
	}
	text := Sanitize(firstNonEmpty(content, summary, raw))
	if !strings.HasPrefix(text, "/") {
		return false
	}
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return false
	}
	command := strings.ToLower(fields[0])
	if slashCommands[command] {
		return true
	}
	return commandShapeRe.MatchString(command)
}

// IndexableText computes the text a log contributes to the search/vector
// index, or "" if the log is non-indexable. Grounded on the Python
// original's _log_embedding_text, generalized with a tool-call-logs
// inclusion parameter (includeToolCallLogs).
func IndexableText(logType, summary, content, raw string, includeToolCallLogs bool) string {
	if logType == "system" || logType == "import" {
		return ""
	}
	if !includeToolCallLogs && IsToolCallLog(logType, summary, content, raw) {
		return ""
	}
	if IsMemoryActionLog(logType, summary, content, raw) {
		return ""
	}
	if IsCommandConversation(logType, summary, content, raw) {
		return ""
	}
	parts := nonEmpty(Sanitize(summary), Sanitize(content), Sanitize(raw))
	return Clip(strings.Join(parts, " "), 1200)
}

func nonEmpty(parts ...string) []string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func firstNonEmpty(parts ...string) string {
	for _, p := range parts {
		if p != "" {
			return p
		}
	}
	return ""
}
