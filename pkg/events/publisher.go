package events

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"brokle/internal/core/domain/fat"
)

// lifecycleChannel is the single broadcast channel every FAT lifecycle event
// is published on. Callers subscribe with an EventFilter to narrow the
// types they care about rather than using separate channels per type.
const lifecycleChannel = "fat.lifecycle"

// LifecycleChannel is lifecycleChannel's exported name, for callers outside
// this package that need to Subscribe (e.g. the websocket handler).
const LifecycleChannel = lifecycleChannel

// Publisher adapts a Broadcaster to fat.EventPublisher, translating domain
// state transitions into broadcast Events on the lifecycle channel.
type Publisher struct {
	broadcaster *Broadcaster
	source      string
}

// NewPublisher builds a Publisher over broadcaster. It ensures the
// lifecycle channel exists so Broadcast calls never fail with a
// "channel not found" error before any subscriber has connected.
func NewPublisher(broadcaster *Broadcaster) *Publisher {
	broadcaster.EnsureChannel(lifecycleChannel)
	return &Publisher{broadcaster: broadcaster, source: "fat-coordination"}
}

var _ fat.EventPublisher = (*Publisher)(nil)

func (p *Publisher) PublishTestStatusChanged(ctx context.Context, instanceID uuid.UUID, from, to fat.OverallStatus) error {
	event := NewEvent(EventTestStatusChanged, TestStatusEventData{
		InstanceID: instanceID.String(),
		FromStatus: string(from),
		ToStatus:   string(to),
	}).SetSubject(instanceID.String()).SetSource(p.source)

	if err := p.broadcaster.Broadcast(lifecycleChannel, event); err != nil {
		return fmt.Errorf("publish test status changed: %w", err)
	}
	return nil
}

func (p *Publisher) PublishTestCompleted(ctx context.Context, outcome fat.RawTestOutcome) error {
	data := TestCompletedEventData{
		InstanceID:  outcome.ChannelInstanceID.String(),
		SubTestItem: string(outcome.SubTestItem),
		Success:     outcome.Success,
		Message:     outcome.Message,
		RawValue:    outcome.RawValueRead,
	}
	event := NewEvent(EventTestCompleted, data).
		SetSubject(outcome.ChannelInstanceID.String()).
		SetSource(p.source)
	if !outcome.Success {
		event.SetPriority(PriorityHigh)
	}

	if err := p.broadcaster.Broadcast(lifecycleChannel, event); err != nil {
		return fmt.Errorf("publish test completed: %w", err)
	}
	return nil
}

func (p *Publisher) PublishBatchStatusChanged(ctx context.Context, batchID uuid.UUID, stats fat.BatchStatistics) error {
	event := NewEvent(EventBatchStatusChanged, BatchStatusEventData{
		BatchID:            batchID.String(),
		TotalChannels:      stats.TotalChannels,
		TestedChannels:     stats.TestedChannels,
		PassedChannels:     stats.PassedChannels,
		FailedChannels:     stats.FailedChannels,
		SkippedChannels:    stats.SkippedChannels,
		InProgressChannels: stats.InProgressChannels,
	}).SetSubject(batchID.String()).SetSource(p.source)

	if err := p.broadcaster.Broadcast(lifecycleChannel, event); err != nil {
		return fmt.Errorf("publish batch status changed: %w", err)
	}
	return nil
}
