package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/groveops/grove-agent/internal/gateway"
	"github.com/groveops/grove-agent/internal/store"
	"github.com/groveops/grove-agent/internal/task"
)

// SignInName is the registry name of the daily sign-in task.
const SignInName = "signin"

// signInGuardKey is the daily guard key for a completed sign-in.
const signInGuardKey = "member::signIn"

const (
	methodSignInQuery   = "com.member.signin.query"
	methodSignInExecute = "com.member.signin.execute"
)

// SignIn performs the daily member sign-in. It runs at most once per
// local-time day, gated by the daily guard, and only on eligible weekdays.
type SignIn struct {
	gw     gateway.Gateway
	store  *store.Store
	logger *slog.Logger
	now    func() time.Time

	enabled  *task.BoolField
	weekdays task.Weekdays
	fields   *task.Fields
}

// NewSignIn creates the sign-in task.
func NewSignIn(deps *Deps) *SignIn {
	enabled := task.NewBoolField("enabled", "Daily sign-in", true)
	return &SignIn{
		gw:       deps.Gateway,
		store:    deps.Store,
		logger:   deps.Logger.With("task", SignInName),
		now:      deps.now,
		enabled:  enabled,
		weekdays: task.EveryDay(),
		fields:   task.NewFields(enabled),
	}
}

func (t *SignIn) Name() string { return SignInName }

func (t *SignIn) Group() task.Group { return task.GroupMember }

func (t *SignIn) Fields() *task.Fields { return t.fields }

// SetWeekdays restricts the task to the given weekdays.
func (t *SignIn) SetWeekdays(w task.Weekdays) { t.weekdays = w }

// Check implements task.Task. Local state only: the enable switch, the
// weekday set and the daily guard.
func (t *SignIn) Check() bool {
	if !t.enabled.Value() {
		return false
	}
	if !t.weekdays.Eligible(t.now()) {
		return false
	}
	done, err := t.store.IsDone(signInGuardKey)
	if err != nil {
		t.logger.Warn("guard lookup failed, assuming not done", "error", err)
		return true
	}
	return !done
}

// signInState mirrors the query response.
type signInState struct {
	Signed bool `json:"signed"`
}

// Run implements task.Task. The guard is marked only after the execute
// call succeeded, so an interrupted run retries on the next occasion. A
// query showing today's sign-in already happened elsewhere marks the guard
// without executing.
func (t *SignIn) Run(ctx context.Context) error {
	raw, err := t.gw.Call(ctx, methodSignInQuery, "{}")
	if err != nil {
		return fmt.Errorf("sign-in query: %w", err)
	}

	var state signInState
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &state); err != nil {
			return fmt.Errorf("parse sign-in state: %w", err)
		}
	}

	if state.Signed {
		t.logger.Info("already signed in today")
		return t.store.MarkDone(signInGuardKey)
	}

	if _, err := t.gw.Call(ctx, methodSignInExecute, "{}"); err != nil {
		return fmt.Errorf("sign-in execute: %w", err)
	}

	t.logger.Info("sign-in completed")
	return t.store.MarkDone(signInGuardKey)
}
