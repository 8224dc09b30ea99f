// Package filter evaluates subscription filter specs against events.
//
// A Spec is a declarative predicate: platform allow-list, minimum severity,
// content clauses (equality, substring, regex), and an optional time-of-day
// window. Matches is a pure function of (Spec, Event); clauses that reference
// missing fields fail closed rather than erroring.
package filter
