package bus

import (
	"context"
	"sync/atomic"

	"github.com/randalmurphal/eventengine/pkg/eventengine/event"
)

// ChannelSink hands events to a Go channel without blocking. It is meant to
// be subscribed in Queued mode so a separate consumer goroutine owns the
// processing. Events that do not fit are dropped and counted.
type ChannelSink struct {
	ch        chan<- *event.Event
	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// NewChannelSink wraps ch.
func NewChannelSink(ch chan<- *event.Event) *ChannelSink {
	return &ChannelSink{ch: ch}
}

// Handle is the bus Handler for the sink.
func (s *ChannelSink) Handle(_ context.Context, evt *event.Event) error {
	select {
	case s.ch <- evt:
		s.delivered.Add(1)
	default:
		s.dropped.Add(1)
	}
	return nil
}

// Delivered returns how many events were handed off.
func (s *ChannelSink) Delivered() uint64 { return s.delivered.Load() }

// Dropped returns how many events were dropped because the channel was full.
func (s *ChannelSink) Dropped() uint64 { return s.dropped.Load() }

// SubscribeChannel subscribes a ChannelSink for t in Queued mode.
func SubscribeChannel(s Subscriber, t event.Type, ch chan<- *event.Event, opts ...SubscribeOption) (*ChannelSink, *Subscription, error) {
	sink := NewChannelSink(ch)
	sub, err := s.Subscribe(t, sink.Handle, Queued, opts...)
	if err != nil {
		return nil, nil, err
	}
	return sink, sub, nil
}
