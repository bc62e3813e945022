package device

import (
	"context"
	"time"
)

// Publisher receives entity attribute updates. It is the hub push API.
// Implementations must not block for long; they are called in publish order
// while the device holds its publish lock.
type Publisher interface {
	PublishAttributes(entityID string, attrs Attributes)
}

// Publishers fans one update out to several publishers.
type Publishers []Publisher

func (ps Publishers) PublishAttributes(entityID string, attrs Attributes) {
	for _, p := range ps {
		if p != nil {
			p.PublishAttributes(entityID, attrs)
		}
	}
}

// Observer receives lifecycle notifications for metrics, auditing and
// hub device-state events.
type Observer interface {
	PollCompleted(entityID string, err error, elapsed time.Duration)
	PollDropped(entityID string)
	ConnectionChanged(entityID string, t Transition)
	CommandCompleted(ctx context.Context, entityID, command string, err error, elapsed time.Duration)
}

// NopObserver ignores everything. Embed it to implement part of Observer.
type NopObserver struct{}

func (NopObserver) PollCompleted(string, error, time.Duration)                            {}
func (NopObserver) PollDropped(string)                                                     {}
func (NopObserver) ConnectionChanged(string, Transition)                                   {}
func (NopObserver) CommandCompleted(context.Context, string, string, error, time.Duration) {}

// Observers fans notifications out in order.
type Observers []Observer

func (os Observers) PollCompleted(entityID string, err error, elapsed time.Duration) {
	for _, o := range os {
		o.PollCompleted(entityID, err, elapsed)
	}
}

func (os Observers) PollDropped(entityID string) {
	for _, o := range os {
		o.PollDropped(entityID)
	}
}

func (os Observers) ConnectionChanged(entityID string, t Transition) {
	for _, o := range os {
		o.ConnectionChanged(entityID, t)
	}
}

func (os Observers) CommandCompleted(ctx context.Context, entityID, command string, err error, elapsed time.Duration) {
	for _, o := range os {
		o.CommandCompleted(ctx, entityID, command, err, elapsed)
	}
}
