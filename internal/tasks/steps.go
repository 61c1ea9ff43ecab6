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

// StepSyncName is the registry name of the daily step sync task.
const StepSyncName = "stepsync"

const (
	stepGuardKey   = "health::steps"
	stepCounterKey = "health::steps::batches"

	methodStepQuota  = "com.health.step.quota"
	methodStepUpload = "com.health.step.upload"
)

// StepSync uploads the configured step count once per day. The remote side
// enforces a daily batch quota; the task reads the remaining quota first
// and stops without error when it is exhausted, which counts as done for
// the day.
type StepSync struct {
	gw     gateway.Gateway
	store  *store.Store
	logger *slog.Logger
	now    func() time.Time

	enabled *task.BoolField
	target  *task.IntField
	fields  *task.Fields
}

// NewStepSync creates the step sync task.
func NewStepSync(deps *Deps) *StepSync {
	enabled := task.NewBoolField("enabled", "Daily step sync", true)
	target := task.NewIntField("target_steps", "Step count to report", 18000, 1, 100000)
	return &StepSync{
		gw:      deps.Gateway,
		store:   deps.Store,
		logger:  deps.Logger.With("task", StepSyncName),
		now:     deps.now,
		enabled: enabled,
		target:  target,
		fields:  task.NewFields(enabled, target),
	}
}

func (t *StepSync) Name() string { return StepSyncName }

func (t *StepSync) Group() task.Group { return task.GroupHealth }

func (t *StepSync) Fields() *task.Fields { return t.fields }

// Check implements task.Task.
func (t *StepSync) Check() bool {
	if !t.enabled.Value() {
		return false
	}
	done, err := t.store.IsDone(stepGuardKey)
	if err != nil {
		t.logger.Warn("guard lookup failed, assuming not done", "error", err)
		return true
	}
	return !done
}

type stepQuota struct {
	Remaining int `json:"remaining"`
}

type stepUpload struct {
	Steps int `json:"steps"`
}

// Run implements task.Task.
func (t *StepSync) Run(ctx context.Context) error {
	raw, err := t.gw.Call(ctx, methodStepQuota, "{}")
	if err != nil {
		return fmt.Errorf("step quota query: %w", err)
	}

	var quota stepQuota
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &quota); err != nil {
			return fmt.Errorf("parse step quota: %w", err)
		}
	}

	if raw != "" && quota.Remaining <= 0 {
		t.logger.Info("step quota exhausted, marking done")
		return t.store.MarkDone(stepGuardKey)
	}

	payload, err := json.Marshal(&stepUpload{Steps: t.target.Value()})
	if err != nil {
		return fmt.Errorf("marshal step upload: %w", err)
	}

	if _, err := t.gw.Call(ctx, methodStepUpload, string(payload)); err != nil {
		return fmt.Errorf("step upload: %w", err)
	}

	if _, err := t.store.AddCount(stepCounterKey, 1); err != nil {
		t.logger.Warn("failed to bump batch counter", "error", err)
	}

	t.logger.Info("steps uploaded", "steps", t.target.Value())
	return t.store.MarkDone(stepGuardKey)
}
