// Package execution implements the Test Execution Engine: a bounded
// worker pool that runs exactly one test procedure per submitted
// (instance, definition) pair and emits RawTestOutcomes on a caller-supplied
// channel. It never mutates instance state — that is the Channel State
// Manager's job alone.
package execution

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"brokle/internal/core/domain/fat"
)

// DefaultPoolSize matches the source's worker-pool default.
const DefaultPoolSize = 88

// hardPointTolerance is the fraction of the definition's engineering range
// (or of 100 when no range is configured) that a hard-point reading may
// deviate from its expected value before the sub-step is marked failed.
const hardPointTolerance = 0.01

var percentPoints = [5]float64{0, 25, 50, 75, 100}

// Engine is the Test Execution Engine.
type Engine struct {
	plc    fat.PlcAdapter
	sem    *semaphore.Weighted
	logger *slog.Logger

	mu    sync.Mutex
	tasks map[string]context.CancelFunc
}

// New builds an Engine bounded to poolSize concurrent tasks. A non-positive
// poolSize falls back to DefaultPoolSize.
func New(plc fat.PlcAdapter, poolSize int, logger *slog.Logger) *Engine {
	if poolSize <= 0 {
		poolSize = DefaultPoolSize
	}
	return &Engine{
		plc:    plc,
		sem:    semaphore.NewWeighted(int64(poolSize)),
		logger: logger,
		tasks:  make(map[string]context.CancelFunc),
	}
}

// SubmitTestInstance starts one test task and returns its id immediately;
// the task itself runs on its own goroutine and blocks on the pool's
// semaphore until a permit is free.
func (e *Engine) SubmitTestInstance(ctx context.Context, instance fat.ChannelTestInstance, def fat.ChannelPointDefinition, results chan<- fat.RawTestOutcome) (string, error) {
	taskID := uuid.New().String()
	taskCtx, cancel := context.WithCancel(ctx)

	e.mu.Lock()
	e.tasks[taskID] = cancel
	e.mu.Unlock()

	go e.run(taskCtx, taskID, instance, def, results)

	return taskID, nil
}

// CancelTask signals the per-task cancellation token. The task observes it
// at the next sub-step boundary; there is no guarantee of immediate stop.
func (e *Engine) CancelTask(taskID string) error {
	e.mu.Lock()
	cancel, ok := e.tasks[taskID]
	e.mu.Unlock()
	if !ok {
		return fat.NewNotFoundError("test task", taskID)
	}
	cancel()
	return nil
}

func (e *Engine) run(ctx context.Context, taskID string, instance fat.ChannelTestInstance, def fat.ChannelPointDefinition, results chan<- fat.RawTestOutcome) {
	defer e.forgetTask(taskID)

	if err := e.sem.Acquire(ctx, 1); err != nil {
		return
	}
	defer e.sem.Release(1)

	switch def.ModuleType {
	case fat.ModuleAI, fat.ModuleAINone:
		if !e.runHardPointSweep(ctx, instance, def, results) {
			return
		}
		e.runAlarms(ctx, instance, def, results)
	case fat.ModuleAO, fat.ModuleAONone:
		e.runHardPointSweep(ctx, instance, def, results)
	case fat.ModuleDI, fat.ModuleDO, fat.ModuleDINone, fat.ModuleDONone:
		e.runDigitalSweep(ctx, instance, def, results)
	default:
		e.send(ctx, results, fat.RawTestOutcome{
			ID:                uuid.New(),
			ChannelInstanceID: instance.InstanceID,
			SubTestItem:       fat.SubTestHardPoint,
			Success:           false,
			StartTime:         time.Now(),
			EndTime:           time.Now(),
			Message:           fmt.Sprintf("unsupported module type %s for test execution", def.ModuleType),
		})
	}
}

// runHardPointSweep writes the five 0/25/50/75/100% set-points through the
// paired rig address, reads the value back and compares it against the
// expected engineering value. It returns whether the sweep completed (as
// opposed to being cancelled or hitting a send failure), which gates whether
// the AI alarm sub-steps run afterwards.
func (e *Engine) runHardPointSweep(ctx context.Context, instance fat.ChannelTestInstance, def fat.ChannelPointDefinition, results chan<- fat.RawTestOutcome) bool {
	start := time.Now()
	readings := make([]fat.HardPointReading, 0, len(percentPoints))
	success := true
	message := ""

	for _, percent := range percentPoints {
		if ctx.Err() != nil {
			success = false
			message = "cancelled"
			break
		}

		expected := engValueAtPercent(percent, def.RangeLowLimit, def.RangeHighLimit)

		if err := e.plc.WriteFloat32(ctx, instance.TestPlcCommunicationAddress, float32(expected)); err != nil {
			success = false
			message = err.Error()
			break
		}
		actual, err := e.plc.ReadFloat32(ctx, instance.TestPlcCommunicationAddress)
		if err != nil {
			success = false
			message = err.Error()
			break
		}

		readings = append(readings, fat.HardPointReading{
			Percent:          percent,
			ExpectedEng:      expected,
			ActualReadingEng: float64(actual),
		})
		if !withinTolerance(expected, float64(actual), def.RangeLowLimit, def.RangeHighLimit) {
			success = false
			message = fmt.Sprintf("reading at %.0f%% out of tolerance: expected %.3f, got %.3f", percent, expected, actual)
		}
	}

	outcome := fat.RawTestOutcome{
		ID:                uuid.New(),
		ChannelInstanceID: instance.InstanceID,
		SubTestItem:       fat.SubTestHardPoint,
		Success:           success,
		StartTime:         start,
		EndTime:           time.Now(),
		Message:           message,
		Readings:          readings,
	}
	assignPercentScalars(&outcome, readings)

	return e.send(ctx, results, outcome)
}

// runAlarms writes a value straddling each configured alarm set-point and
// reads the alarm feedback bit back, emitting one outcome per configured
// alarm.
func (e *Engine) runAlarms(ctx context.Context, instance fat.ChannelTestInstance, def fat.ChannelPointDefinition, results chan<- fat.RawTestOutcome) {
	alarms := []struct {
		item      fat.SubTestItem
		setpoint  *fat.AlarmSetpoint
		triggerHi bool
	}{
		{fat.SubTestLowLowAlarm, def.SLL, false},
		{fat.SubTestLowAlarm, def.SL, false},
		{fat.SubTestHighAlarm, def.SH, true},
		{fat.SubTestHighHighAlarm, def.SHH, true},
	}

	for _, alarm := range alarms {
		if alarm.setpoint == nil || alarm.setpoint.Value == nil {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		if !e.runOneAlarm(ctx, instance, alarm.item, *alarm.setpoint, alarm.triggerHi, results) {
			return
		}
	}
}

func (e *Engine) runOneAlarm(ctx context.Context, instance fat.ChannelTestInstance, item fat.SubTestItem, setpoint fat.AlarmSetpoint, triggerHi bool, results chan<- fat.RawTestOutcome) bool {
	start := time.Now()
	margin := math.Abs(*setpoint.Value)*0.05 + 1
	trigger := *setpoint.Value - margin
	if triggerHi {
		trigger = *setpoint.Value + margin
	}

	success := true
	message := ""

	if err := e.plc.WriteFloat32(ctx, setpoint.SetpointAddress, float32(trigger)); err != nil {
		success, message = false, err.Error()
	}

	var feedback bool
	if success {
		fb, err := e.plc.ReadBool(ctx, setpoint.FeedbackAddress)
		if err != nil {
			success, message = false, err.Error()
		} else if !fb {
			success, message = false, "alarm feedback did not assert"
		}
		feedback = fb
	}

	raw := trigger
	actual := float64(0)
	if feedback {
		actual = 1
	}
	return e.send(ctx, results, fat.RawTestOutcome{
		ID:                 uuid.New(),
		ChannelInstanceID:  instance.InstanceID,
		SubTestItem:        item,
		Success:            success,
		StartTime:          start,
		EndTime:            time.Now(),
		Message:            message,
		RawValueRead:       &raw,
		EngValueCalculated: &actual,
	})
}

// runDigitalSweep drives/reads a DI/DO channel through a low-then-high
// sequence, emitting one HardPoint outcome carrying the per-step results.
func (e *Engine) runDigitalSweep(ctx context.Context, instance fat.ChannelTestInstance, def fat.ChannelPointDefinition, results chan<- fat.RawTestOutcome) {
	start := time.Now()
	steps := make([]fat.DigitalTestStep, 0, 2)
	success := true
	message := ""

	for i, expected := range [2]bool{false, true} {
		if ctx.Err() != nil {
			success = false
			message = "cancelled"
			break
		}

		if err := e.plc.WriteBool(ctx, instance.TestPlcCommunicationAddress, expected); err != nil {
			success = false
			message = err.Error()
			break
		}
		actual, err := e.plc.ReadBool(ctx, instance.TestPlcCommunicationAddress)
		if err != nil {
			success = false
			message = err.Error()
			break
		}

		passed := actual == expected
		if !passed {
			success = false
		}
		steps = append(steps, fat.DigitalTestStep{Step: i + 1, Expected: expected, Actual: actual, Passed: passed})
	}

	e.send(ctx, results, fat.RawTestOutcome{
		ID:                uuid.New(),
		ChannelInstanceID: instance.InstanceID,
		SubTestItem:       fat.SubTestHardPoint,
		Success:           success,
		StartTime:         start,
		EndTime:           time.Now(),
		Message:           message,
		DigitalSteps:      steps,
	})
}

// send delivers outcome on results, returning false if the task's context
// was cancelled or the channel was closed out from under it. A closed-channel
// send panics in Go; recovered here so cancellation never crashes a worker.
func (e *Engine) send(ctx context.Context, results chan<- fat.RawTestOutcome, outcome fat.RawTestOutcome) (sent bool) {
	defer func() {
		if recover() != nil {
			sent = false
		}
	}()
	select {
	case results <- outcome:
		return true
	case <-ctx.Done():
		return false
	}
}

func (e *Engine) forgetTask(taskID string) {
	e.mu.Lock()
	delete(e.tasks, taskID)
	e.mu.Unlock()
}

func engValueAtPercent(percent float64, low, high *float64) float64 {
	if low == nil || high == nil {
		return percent
	}
	return *low + (*high-*low)*percent/100
}

func withinTolerance(expected, actual float64, low, high *float64) bool {
	span := 100.0
	if low != nil && high != nil {
		span = *high - *low
	}
	if span == 0 {
		span = 100
	}
	return math.Abs(actual-expected) <= math.Abs(span)*hardPointTolerance
}

func assignPercentScalars(outcome *fat.RawTestOutcome, readings []fat.HardPointReading) {
	for i, r := range readings {
		v := r.ActualReadingEng
		switch i {
		case 0:
			outcome.Result0Percent = &v
		case 1:
			outcome.Result25Percent = &v
		case 2:
			outcome.Result50Percent = &v
		case 3:
			outcome.Result75Percent = &v
		case 4:
			outcome.Result100Percent = &v
		}
	}
}
