package stream

import "strings"

// BlockingRule declares one interactive command shape that would hang an
// unattended agent, plus the non-interactive alternative to suggest. The
// table below is the extension point: new shapes are new rows, not new code.
type BlockingRule struct {
	Name string
	// Prefix is the command head that must open the segment.
	Prefix []string
	// SafeFlags disarm the rule when present (exact token or flag=value).
	SafeFlags []string
	// Bare restricts the rule to invocations with no script argument: only
	// flag tokens may follow the prefix.
	Bare bool
	Hint string
}

var BlockingRules = []BlockingRule{
	{
		Name:      "npm-init",
		Prefix:    []string{"npm", "init"},
		SafeFlags: []string{"-y", "--yes"},
		Hint:      "npm init -y",
	},
	{
		Name:      "yarn-init",
		Prefix:    []string{"yarn", "init"},
		SafeFlags: []string{"-y", "--yes"},
		Hint:      "yarn init -y",
	},
	{
		Name:      "git-commit",
		Prefix:    []string{"git", "commit"},
		SafeFlags: []string{"-m", "--message", "-am", "-F", "--file", "-C", "--reuse-message", "--no-edit"},
		Hint:      `git commit -m "<message>"`,
	},
	{
		Name:      "python-repl",
		Prefix:    []string{"python"},
		SafeFlags: []string{"-c", "-m"},
		Bare:      true,
		Hint:      "python <script.py> or python -c '<code>'",
	},
	{
		Name:      "python3-repl",
		Prefix:    []string{"python3"},
		SafeFlags: []string{"-c", "-m"},
		Bare:      true,
		Hint:      "python3 <script.py> or python3 -c '<code>'",
	},
	{
		Name:      "node-repl",
		Prefix:    []string{"node"},
		SafeFlags: []string{"-e", "--eval", "-p", "--print"},
		Bare:      true,
		Hint:      "node <script.js> or node -e '<code>'",
	},
	{
		Name:      "irb-repl",
		Prefix:    []string{"irb"},
		Bare:      true,
		Hint:      "ruby <script.rb>",
	},
}

var segmentSeparators = map[string]bool{
	"&&": true,
	"||": true,
	";":  true,
	"|":  true,
}

// MatchBlocking checks a shell command line against the table. Compound
// lines are split on shell separators so each segment is judged on its own.
func MatchBlocking(command string) (BlockingRule, bool) {
	for _, segment := range splitCommandSegments(command) {
		if rule, ok := MatchBlockingTokens(segment); ok {
			return rule, true
		}
	}
	return BlockingRule{}, false
}

// MatchBlockingTokens checks one already-tokenized command. The watchdog
// uses this form directly on process command lines.
func MatchBlockingTokens(tokens []string) (BlockingRule, bool) {
	for _, rule := range BlockingRules {
		if rule.matches(tokens) {
			return rule, true
		}
	}
	return BlockingRule{}, false
}

func (r BlockingRule) matches(tokens []string) bool {
	if len(tokens) < len(r.Prefix) {
		return false
	}
	for i, want := range r.Prefix {
		if tokens[i] != want {
			return false
		}
	}
	rest := tokens[len(r.Prefix):]
	for _, token := range rest {
		for _, safe := range r.SafeFlags {
			if token == safe || strings.HasPrefix(token, safe+"=") {
				return false
			}
		}
	}
	if r.Bare {
		for _, token := range rest {
			if !strings.HasPrefix(token, "-") {
				return false
			}
		}
	}
	return true
}

func splitCommandSegments(command string) [][]string {
	tokens := strings.Fields(command)
	segments := [][]string{}
	current := []string{}
	for _, token := range tokens {
		if segmentSeparators[token] {
			if len(current) > 0 {
				segments = append(segments, current)
				current = []string{}
			}
			continue
		}
		current = append(current, token)
	}
	if len(current) > 0 {
		segments = append(segments, current)
	}
	return segments
}
