// Package task defines the task contract, the execution state machine that
// wraps every task, and the process-scoped task registry.
package task

import "context"

// Group categorizes tasks for status reporting.
type Group string

const (
	GroupMember Group = "member"
	GroupHealth Group = "health"
	GroupForest Group = "forest"
	GroupOther  Group = "other"
)

// Task is a self-contained unit of automation work.
//
// Check must be side-effect free: it inspects local state only and decides
// whether Run would do anything useful right now. Run performs the actual
// remote calls; it records its own completion markers only after the
// terminal action succeeded, so an interrupted run is retried on the next
// eligible occasion rather than silently lost.
type Task interface {
	// Name is the stable identifier used in logs, the registry and the store.
	Name() string

	// Group returns the reporting category.
	Group() Group

	// Fields returns the task's configuration fields.
	Fields() *Fields

	// Check reports whether Run should execute now. It must not perform
	// remote calls or mutate state.
	Check() bool

	// Run performs the task's work.
	Run(ctx context.Context) error
}
