package bus

import (
	"context"

	"github.com/randalmurphal/eventengine/pkg/eventengine/errors"
	"github.com/randalmurphal/eventengine/pkg/eventengine/event"
)

// PublishWithRetry publishes evt, waiting out capacity failures according
// to policy. The bus itself never retries.
func PublishWithRetry(ctx context.Context, p Publisher, evt *event.Event, policy errors.Backoff, opts ...PublishOption) error {
	_, err := policy.Retry(ctx, func(ctx context.Context) error {
		return p.Publish(ctx, evt, opts...)
	})
	return err
}
