// Package nodefilter parses and evaluates node selector rule strings.
//
// A rule string is a comma-separated conjunction of rules:
//
//	key=value    label must equal value
//	key!=value   label must not equal value (absent labels pass)
//	key          label must be present
//	!key         label must be absent
//
// An empty string yields an empty rule set, which matches every node.
package nodefilter

import (
	"fmt"
	"strings"
)

// Op is the comparison a single rule performs.
type Op uint8

const (
	OpExists Op = iota
	OpAbsent
	OpEquals
	OpNotEquals
)

// Rule is one label constraint. A Filter is the conjunction of its rules.
type Rule struct {
	Key   string
	Value string
	Op    Op
}

// Filter evaluates a set of rules against node labels.
type Filter struct {
	rules []Rule
}

// ParseError reports a malformed rule entry. Malformed entries are
// configuration errors, never silently dropped.
type ParseError struct {
	Entry string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid node selector rule %q", e.Entry)
}

// Parse builds a Filter from a selector string. Parsing is deterministic:
// the same input always yields the same rule set.
func Parse(s string) (*Filter, error) {
	if s == "" {
		return &Filter{}, nil
	}
	var rules []Rule
	for _, entry := range strings.Split(s, ",") {
		parts := strings.Split(entry, "=")
		switch len(parts) {
		case 1:
			key := parts[0]
			if negated := strings.TrimPrefix(key, "!"); negated != key {
				if negated == "" {
					return nil, &ParseError{Entry: entry}
				}
				rules = append(rules, Rule{Key: negated, Op: OpAbsent})
				continue
			}
			if key == "" {
				return nil, &ParseError{Entry: entry}
			}
			rules = append(rules, Rule{Key: key, Op: OpExists})
		case 2:
			key, value := parts[0], parts[1]
			if negated := strings.TrimSuffix(key, "!"); negated != key {
				key = negated
				if key == "" {
					return nil, &ParseError{Entry: entry}
				}
				rules = append(rules, Rule{Key: key, Value: value, Op: OpNotEquals})
				continue
			}
			if key == "" {
				return nil, &ParseError{Entry: entry}
			}
			rules = append(rules, Rule{Key: key, Value: value, Op: OpEquals})
		default:
			return nil, &ParseError{Entry: entry}
		}
	}
	return &Filter{rules: rules}, nil
}

// Matches reports whether the labels satisfy every rule.
func (f *Filter) Matches(labels map[string]string) bool {
	for _, rule := range f.rules {
		value, ok := labels[rule.Key]
		switch rule.Op {
		case OpExists:
			if !ok {
				return false
			}
		case OpAbsent:
			if ok {
				return false
			}
		case OpEquals:
			if !ok || value != rule.Value {
				return false
			}
		case OpNotEquals:
			if ok && value == rule.Value {
				return false
			}
		}
	}
	return true
}

// Empty reports whether the filter has no rules and therefore matches
// every node.
func (f *Filter) Empty() bool {
	return len(f.rules) == 0
}
