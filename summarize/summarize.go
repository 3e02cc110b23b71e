// Package summarize implements the rule-based conversation summarizer
// and tool-output truncation helper used by compaction. It intentionally
// makes no LLM calls: compaction must remain usable even when the
// oracle is unavailable or budget-constrained.
package summarize

import (
	"regexp"
	"strings"

	indubitably "github.com/deepnoodle-ai/indubitably"
)

var keywordMap = []struct {
	section  string
	keywords []string
}{
	{"goals", []string{"goal", "objective", "aim"}},
	{"decisions", []string{"decide", "decision", "chose", "selected"}},
	{"constraints", []string{"constraint", "must", "require", "limit", "blocked"}},
	{"todos", []string{"todo", "follow up", "pending", "next step"}},
	{"apis", []string{"api", "endpoint", "request", "http"}},
}

var (
	fileRe = regexp.MustCompile(`[\w\-/]+\.[\w]+`)
	urlRe  = regexp.MustCompile(`https?://[^\s]+`)
)

var sectionTitles = []struct {
	key   string
	title string
}{
	{"goals", "Goals"},
	{"decisions", "Decisions"},
	{"constraints", "Constraints"},
	{"files", "Files"},
	{"apis", "APIs"},
	{"todos", "Open TODOs"},
}

// Conversation generates a rule-based summary of the given records,
// bucketing each line of text into goals/decisions/constraints/files/
// apis/todos by keyword and regex match. Lines matching nothing are
// folded into a freeform fallback when no bucket received any content.
func Conversation(records []*indubitably.Record) string {
	sections := map[string][]string{
		"goals": nil, "decisions": nil, "constraints": nil,
		"files": nil, "apis": nil, "todos": nil,
	}
	seen := map[string]map[string]bool{
		"goals": {}, "decisions": {}, "constraints": {},
		"files": {}, "apis": {}, "todos": {},
	}
	record := func(section, value string) {
		key := strings.ToLower(value)
		if seen[section][key] {
			return
		}
		seen[section][key] = true
		sections[section] = append(sections[section], value)
	}

	var fallback []string
	for _, r := range records {
		for _, fragment := range r.TextFragments() {
			for _, line := range strings.Split(fragment, "\n") {
				line = strings.TrimSpace(line)
				if line == "" {
					continue
				}
				matched := false
				lower := strings.ToLower(line)
				for _, km := range keywordMap {
					for _, kw := range km.keywords {
						if strings.Contains(lower, kw) {
							record(km.section, line)
							matched = true
							break
						}
					}
					if matched {
						break
					}
				}
				if m := fileRe.FindString(line); m != "" {
					record("files", m)
					matched = true
				}
				if urlRe.MatchString(line) {
					record("apis", line)
					matched = true
				}
				if !matched {
					fallback = append(fallback, line)
				}
			}
		}
	}

	anyContent := false
	for _, v := range sections {
		if len(v) > 0 {
			anyContent = true
			break
		}
	}
	if !anyContent {
		return freeform(fallback, 8)
	}

	var out []string
	for _, st := range sectionTitles {
		items := sections[st.key]
		if len(items) == 0 {
			continue
		}
		out = append(out, st.title+":")
		limit := len(items)
		if limit > 5 {
			limit = 5
		}
		for _, item := range items[:limit] {
			out = append(out, "- "+item)
		}
	}
	return strings.Join(out, "\n")
}

func freeform(lines []string, limit int) string {
	seen := map[string]bool{}
	var deduped []string
	for _, l := range lines {
		key := strings.ToLower(l)
		if seen[key] {
			continue
		}
		seen[key] = true
		deduped = append(deduped, l)
		if len(deduped) >= limit {
			break
		}
	}
	if len(deduped) == 0 {
		return "No major updates; older conversation compacted."
	}
	out := make([]string, 0, len(deduped)+1)
	out = append(out, "Older conversation summary:")
	for _, l := range deduped {
		out = append(out, "- "+l)
	}
	return strings.Join(out, "\n")
}

// ToolOutput truncates text to at most maxLines non-empty lines, keeping
// a head and tail slice separated by a "(truncated)" marker when the
// text is too long.
func ToolOutput(text string, maxLines int) string {
	var lines []string
	for _, l := range strings.Split(text, "\n") {
		if strings.TrimSpace(l) == "" {
			continue
		}
		lines = append(lines, l)
	}
	if len(lines) <= maxLines {
		return strings.Join(lines, "\n")
	}
	half := maxLines / 2
	head := lines[:half]
	tail := lines[len(lines)-half:]
	out := make([]string, 0, len(head)+len(tail)+2)
	out = append(out, head...)
	out = append(out, "...", "(truncated)")
	out = append(out, tail...)
	return strings.Join(out, "\n")
}
