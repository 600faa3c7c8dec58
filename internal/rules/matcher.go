// Package rules selects canned agent replies by ordered keyword matching.
package rules

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	TimeLayout = "3:04 PM"
	DateLayout = "Monday, January 2, 2006"
)

// ErrInvalidRules is returned when a rule table fails validation.
var ErrInvalidRules = errors.New("invalid rule table")

//go:embed rules.yaml
var defaultRules []byte

// Rule maps any of its keywords to a canned reply. Replies may contain the
// {time} and {date} placeholders.
type Rule struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
	Reply    string   `yaml:"reply"`
}

// Table is the on-disk shape of a rule file.
type Table struct {
	Fallback string `yaml:"fallback"`
	Rules    []Rule `yaml:"rules"`
}

// Matcher evaluates rules in table order. It holds no mutable state and is
// safe for concurrent use.
type Matcher struct {
	rules    []Rule
	fallback string
}

// Match is the outcome of a lookup. Rule is empty when the fallback was used.
type Match struct {
	Rule  string
	Reply string
}

// NewMatcher validates t and builds a matcher. Keywords are lower-cased so
// matching is case-insensitive.
func NewMatcher(t Table) (*Matcher, error) {
	if strings.TrimSpace(t.Fallback) == "" {
		return nil, fmt.Errorf("%w: fallback reply required", ErrInvalidRules)
	}
	if len(t.Rules) == 0 {
		return nil, fmt.Errorf("%w: no rules", ErrInvalidRules)
	}
	m := &Matcher{fallback: t.Fallback, rules: make([]Rule, 0, len(t.Rules))}
	for i, r := range t.Rules {
		if r.Name == "" {
			return nil, fmt.Errorf("%w: rule %d has no name", ErrInvalidRules, i)
		}
		if strings.TrimSpace(r.Reply) == "" {
			return nil, fmt.Errorf("%w: rule %q has no reply", ErrInvalidRules, r.Name)
		}
		kws := make([]string, 0, len(r.Keywords))
		for _, kw := range r.Keywords {
			if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
				kws = append(kws, kw)
			}
		}
		if len(kws) == 0 {
			return nil, fmt.Errorf("%w: rule %q has no keywords", ErrInvalidRules, r.Name)
		}
		m.rules = append(m.rules, Rule{Name: r.Name, Keywords: kws, Reply: r.Reply})
	}
	return m, nil
}

// Parse decodes a YAML rule table.
func Parse(data []byte) (*Matcher, error) {
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRules, err)
	}
	return NewMatcher(t)
}

// Default returns the matcher for the built-in rule table.
func Default() *Matcher {
	m, err := Parse(defaultRules)
	if err != nil {
		panic(fmt.Sprintf("rules: embedded table: %v", err))
	}
	return m
}

// Load reads a rule table from path; an empty path yields Default.
func Load(path string) (*Matcher, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

// Names returns the rule names in evaluation order.
func (m *Matcher) Names() []string {
	out := make([]string, len(m.rules))
	for i, r := range m.rules {
		out[i] = r.Name
	}
	return out
}

// Match returns the first rule whose keyword occurs in text, with
// placeholders filled from now.
func (m *Matcher) Match(text string, now time.Time) Match {
	s := strings.ToLower(text)
	for _, r := range m.rules {
		for _, kw := range r.Keywords {
			if strings.Contains(s, kw) {
				return Match{Rule: r.Name, Reply: expand(r.Reply, now)}
			}
		}
	}
	return Match{Reply: expand(m.fallback, now)}
}

// Reply is Match without the rule name.
func (m *Matcher) Reply(text string, now time.Time) string {
	return m.Match(text, now).Reply
}

func expand(reply string, now time.Time) string {
	if !strings.Contains(reply, "{") {
		return reply
	}
	return strings.NewReplacer(
		"{time}", now.Format(TimeLayout),
		"{date}", now.Format(DateLayout),
	).Replace(reply)
}
