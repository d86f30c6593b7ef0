// Package rules provides named business-rule predicates evaluated against an
// aggregate before a command handler runs. A violated rule surfaces as a
// BUSINESS_RULE_VIOLATION carrying the rule name.
package rules

import "fmt"

// Rule is a single business invariant: a name, a human-readable message and
// a predicate over the aggregate under command.
type Rule[T any] struct {
	Name    string
	Message string
	Check   func(T) bool
}

func New[T any](name, message string, check func(T) bool) Rule[T] {
	return Rule[T]{Name: name, Message: message, Check: check}
}

// Violation reports which rule failed.
type Violation struct {
	Rule    string
	Message string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("business rule violated: %s: %s", v.Rule, v.Message)
}

// Eval evaluates all rules in order and returns the first violation, nil when
// all pass.
func Eval[T any](subject T, rs ...Rule[T]) *Violation {
	for _, r := range rs {
		if !r.Check(subject) {
			return &Violation{Rule: r.Name, Message: r.Message}
		}
	}
	return nil
}
