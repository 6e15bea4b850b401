// Package match filters fetched items against the configured patterns.
package match

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// Set holds the compiled patterns. The whole set swaps atomically on config
// reload, so a poll cycle sees either the old list or the new one, never a
// mix of both.
type Set struct {
	mu    sync.RWMutex
	rules []rule
}

type rule struct {
	raw string
	re  *regexp.Regexp
}

// New compiles the initial pattern list.
func New(patterns []string) (*Set, error) {
	s := &Set{}
	if err := s.Apply(patterns); err != nil {
		return nil, err
	}
	return s, nil
}

// compile builds the rule list. Patterns match case-insensitively, so plain
// words behave like substring matches. Blank entries are skipped.
func compile(patterns []string) ([]rule, error) {
	rules := make([]rule, 0, len(patterns))
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("compile pattern %q: %w", p, err)
		}
		rules = append(rules, rule{raw: p, re: re})
	}
	return rules, nil
}

// Validate reports whether every pattern in the list compiles. Used by the
// config layer before committing a reload.
func Validate(patterns []string) error {
	_, err := compile(patterns)
	return err
}

// Apply swaps in a new pattern list. One invalid pattern rejects the whole
// list and keeps the current set untouched.
func (s *Set) Apply(patterns []string) error {
	rules, err := compile(patterns)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.rules = rules
	s.mu.Unlock()
	return nil
}

// Match returns the first configured pattern that matches any of the given
// texts. Blank texts never match, even against patterns like ".*".
func (s *Set) Match(texts ...string) (string, bool) {
	s.mu.RLock()
	rules := s.rules
	s.mu.RUnlock()

	for _, r := range rules {
		for _, text := range texts {
			if strings.TrimSpace(text) == "" {
				continue
			}
			if r.re.MatchString(text) {
				return r.raw, true
			}
		}
	}
	return "", false
}

func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rules)
}
