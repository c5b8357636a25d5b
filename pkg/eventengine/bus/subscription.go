package bus

import (
	"context"
	"fmt"

	"github.com/randalmurphal/eventengine/pkg/eventengine/event"
)

// Wildcard subscribes to every event regardless of type.
const Wildcard event.Type = "*"

// Mode selects how a subscriber callback is invoked.
type Mode int

const (
	// Sync runs the callback inline on the dispatch loop.
	Sync Mode = iota
	// Async runs the callback on the bounded worker pool.
	Async
	// Queued runs the callback inline; the callback must only hand the event
	// off without blocking (see ChannelSink).
	Queued
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case Sync:
		return "sync"
	case Async:
		return "async"
	case Queued:
		return "queued"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

func (m Mode) valid() bool {
	return m >= Sync && m <= Queued
}

// Handler receives a dispatched event. Handlers must not mutate the event.
type Handler func(ctx context.Context, evt *event.Event) error

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	id        uint64
	name      string
	eventType event.Type
	mode      Mode
	handler   Handler
}

// ID returns the bus-unique subscription id.
func (s *Subscription) ID() uint64 { return s.id }

// Name returns the subscriber name used in logs and failure counts.
func (s *Subscription) Name() string { return s.name }

// Type returns the subscribed event type, or Wildcard.
func (s *Subscription) Type() event.Type { return s.eventType }

// Mode returns the delivery mode.
func (s *Subscription) Mode() Mode { return s.mode }

// SubscribeOption configures a subscription.
type SubscribeOption func(*Subscription)

// WithName names the subscriber. Default: "sub-<id>".
func WithName(name string) SubscribeOption {
	return func(s *Subscription) {
		s.name = name
	}
}

// PublishOption configures a single publish.
type PublishOption func(*publishOptions)

type publishOptions struct {
	priority int
}

// WithPriority sets the delivery priority. Lower values are delivered first.
// Default: 0.
func WithPriority(p int) PublishOption {
	return func(o *publishOptions) {
		o.priority = p
	}
}

// Publisher is the producer side of the bus.
type Publisher interface {
	Publish(ctx context.Context, evt *event.Event, opts ...PublishOption) error
}

// Subscriber is the consumer side of the bus.
type Subscriber interface {
	Subscribe(t event.Type, h Handler, mode Mode, opts ...SubscribeOption) (*Subscription, error)
	Unsubscribe(sub *Subscription) bool
}
