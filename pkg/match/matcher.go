// Package match filters repository names, contributor logins and job ids
// with doublestar glob patterns.
package match

import (
	"errors"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Matcher evaluates include and exclude patterns against names such as
// "acme/api" or "dependabot[bot]".
//
//   - Include patterns: a name must match at least one. No includes
//     matches everything.
//   - Exclude patterns: a name must not match any.
//
// Matching is case-insensitive, since GitHub owner and repository names
// are. The Matcher is safe for concurrent use after creation.
type Matcher struct {
	includes []string
	excludes []string
}

// Config configures a Matcher.
type Config struct {
	Includes []string
	Excludes []string
}

// ErrInvalidPattern is returned when a pattern cannot be compiled.
var ErrInvalidPattern = errors.New("invalid glob pattern")

// PatternError wraps pattern-related errors with context.
type PatternError struct {
	Pattern string
	Err     error
}

func (e *PatternError) Error() string {
	return "pattern " + e.Pattern + ": " + e.Err.Error()
}

func (e *PatternError) Unwrap() error {
	return e.Err
}

// New compiles cfg. Backslash separators are converted to forward slashes
// unless they escape a glob metacharacter.
func New(cfg Config) (*Matcher, error) {
	includes, err := compile(cfg.Includes)
	if err != nil {
		return nil, err
	}
	excludes, err := compile(cfg.Excludes)
	if err != nil {
		return nil, err
	}
	return &Matcher{includes: includes, excludes: excludes}, nil
}

// MustNew is New for patterns known to be valid, such as literals in tests.
func MustNew(cfg Config) *Matcher {
	m, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return m
}

func compile(raw []string) ([]string, error) {
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		if strings.TrimSpace(r) == "" {
			continue
		}
		p := strings.ToLower(NormalizePattern(strings.TrimSpace(r)))
		if !doublestar.ValidatePattern(p) {
			return nil, &PatternError{Pattern: r, Err: ErrInvalidPattern}
		}
		out = append(out, p)
	}
	return out, nil
}

// Match reports whether name passes the include and exclude patterns.
func (m *Matcher) Match(name string) bool {
	if m == nil {
		return true
	}
	name = strings.ToLower(name)

	if len(m.includes) > 0 {
		matched := false
		for _, p := range m.includes {
			if ok, _ := doublestar.Match(p, name); ok {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	for _, p := range m.excludes {
		if ok, _ := doublestar.Match(p, name); ok {
			return false
		}
	}
	return true
}

// Filter returns the names that match, preserving order.
func (m *Matcher) Filter(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if m.Match(n) {
			out = append(out, n)
		}
	}
	return out
}

// IncludePatterns returns the normalized include patterns.
func (m *Matcher) IncludePatterns() []string {
	return append([]string(nil), m.includes...)
}

// IsLiteral reports whether pattern has no glob metacharacters.
func IsLiteral(pattern string) bool {
	return !strings.ContainsAny(pattern, "*?[]{}")
}

// NormalizePattern converts a user-provided glob pattern to canonical form.
//
//	"acme\api-*"  → "acme/api-*"
//	"acme/\*lit"  → "acme/\*lit"  (escape preserved)
func NormalizePattern(pattern string) string {
	const escapable = `*?[]{}\`

	var b strings.Builder
	b.Grow(len(pattern))

	runes := []rune(pattern)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r != '\\' {
			b.WriteRune(r)
			continue
		}
		if i+1 < len(runes) && strings.ContainsRune(escapable, runes[i+1]) {
			b.WriteRune('\\')
			b.WriteRune(runes[i+1])
			i++
			continue
		}
		b.WriteRune('/')
	}
	return b.String()
}
