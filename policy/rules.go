package policy

import (
	"encoding/json"
	"path/filepath"
	"strings"
)

// RuleAction is what a matching Rule instructs the caller to do.
type RuleAction string

const (
	RuleDeny  RuleAction = "deny"
	RuleAllow RuleAction = "allow"
	RuleAsk   RuleAction = "ask"
)

// Rule is a declarative, configuration-driven permission rule: a static
// alternative to writing a custom handler for every access decision. A
// rule matches when its Tool glob matches the tool name and, if set, its
// Command glob matches a command string extracted from the tool's
// arguments.
type Rule struct {
	Action  RuleAction
	Tool    string
	Command string
	Message string
}

// Rules is an ordered rule set. Evaluate checks deny rules first, then
// allow, then ask — the first matching rule within each pass wins, so an
// explicit deny always takes precedence over an allow or ask rule placed
// earlier in the list.
type Rules []Rule

// Decision is the outcome of evaluating a Rules set against one call.
type Decision struct {
	Action  RuleAction
	Message string
}

// Evaluate returns the first matching rule's decision, checking deny
// rules, then allow, then ask. It returns nil when nothing matches.
func (rules Rules) Evaluate(toolName string, arguments map[string]any) *Decision {
	for _, action := range []RuleAction{RuleDeny, RuleAllow, RuleAsk} {
		for _, rule := range rules {
			if rule.Action != action {
				continue
			}
			if !matchToolPattern(rule.Tool, toolName) {
				continue
			}
			if rule.Command != "" && !matchCommandPattern(rule.Command, arguments) {
				continue
			}
			return &Decision{Action: rule.Action, Message: rule.Message}
		}
	}
	return nil
}

// matchToolPattern checks a tool name against a filepath.Match-style
// glob pattern, treating "*" as an explicit match-all shortcut.
func matchToolPattern(pattern, toolName string) bool {
	if pattern == "*" {
		return true
	}
	matched, err := filepath.Match(pattern, toolName)
	if err != nil {
		return pattern == toolName
	}
	return matched
}

// commandFields lists the argument keys matchCommandPattern checks, in
// priority order, to find the command string in a bash-like tool's
// input.
var commandFields = []string{"command", "cmd", "script", "code"}

func matchCommandPattern(pattern string, arguments map[string]any) bool {
	var command string
	for _, field := range commandFields {
		if s, ok := arguments[field].(string); ok {
			command = s
			break
		}
	}
	if command == "" {
		return false
	}
	if pattern == "*" {
		return true
	}
	return matchCommandGlob(pattern, command)
}

// matchCommandGlob supports "*" wildcards in a command pattern, matching
// each non-wildcard segment against the command in order.
func matchCommandGlob(pattern, command string) bool {
	pattern = strings.TrimSpace(pattern)
	command = strings.TrimSpace(command)
	if pattern == command {
		return true
	}
	parts := strings.Split(pattern, "*")
	if len(parts) == 1 {
		return pattern == command
	}
	pos := 0
	for i, part := range parts {
		if part == "" {
			continue
		}
		idx := strings.Index(command[pos:], part)
		if idx == -1 {
			return false
		}
		if i == 0 && idx != 0 {
			return false
		}
		pos += idx + len(part)
	}
	if last := parts[len(parts)-1]; last != "" {
		return strings.HasSuffix(command, last)
	}
	return true
}

// DenyRule blocks any tool matching toolPattern.
func DenyRule(toolPattern, message string) Rule {
	return Rule{Action: RuleDeny, Tool: toolPattern, Message: message}
}

// DenyCommandRule blocks toolPattern only when its command argument also
// matches commandPattern.
func DenyCommandRule(toolPattern, commandPattern, message string) Rule {
	return Rule{Action: RuleDeny, Tool: toolPattern, Command: commandPattern, Message: message}
}

// AllowRule permits any tool matching toolPattern without prompting.
func AllowRule(toolPattern string) Rule {
	return Rule{Action: RuleAllow, Tool: toolPattern}
}

// AllowCommandRule permits toolPattern only when its command argument
// also matches commandPattern.
func AllowCommandRule(toolPattern, commandPattern string) Rule {
	return Rule{Action: RuleAllow, Tool: toolPattern, Command: commandPattern}
}

// AskRule requires approval for any tool matching toolPattern.
func AskRule(toolPattern, message string) Rule {
	return Rule{Action: RuleAsk, Tool: toolPattern, Message: message}
}

// ArgumentsFromJSON decodes a tool_use block's raw JSON input into the
// map Evaluate expects.
func ArgumentsFromJSON(raw json.RawMessage) map[string]any {
	var m map[string]any
	if len(raw) == 0 {
		return nil
	}
	_ = json.Unmarshal(raw, &m)
	return m
}
