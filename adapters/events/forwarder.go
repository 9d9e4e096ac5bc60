package events

import (
	"context"

	"github.com/layer-3/barong-agent/core"
	"github.com/layer-3/barong-agent/eventbus"
	"github.com/layer-3/barong-agent/ports"
	"github.com/sirupsen/logrus"
)

const DefaultBuffer = 256

// Forwarder moves session events off the session loop and hands them to
// a publisher. Events are dropped, with a warning, when the buffer is
// full.
type Forwarder struct {
	publisher ports.EventPublisher
	queue     chan core.Event
	filter    eventbus.Filter
	logger    logrus.FieldLogger
}

func NewForwarder(publisher ports.EventPublisher, buffer int, logger logrus.FieldLogger) *Forwarder {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Forwarder{
		publisher: publisher,
		queue:     make(chan core.Event, buffer),
		filter:    eventbus.ExcludeExpiryChecks,
		logger:    logger,
	}
}

// Handle is an eventbus.Handler. It never blocks.
func (f *Forwarder) Handle(event core.Event) {
	if f.filter != nil && !f.filter(event) {
		return
	}
	select {
	case f.queue <- event:
	default:
		f.logger.WithField("event", event.Type()).Warn("event forwarder full, dropping event")
	}
}

// Run publishes queued events until ctx is done.
func (f *Forwarder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case event := <-f.queue:
			if err := f.publisher.Publish(ctx, event); err != nil {
				f.logger.WithError(err).WithField("event", event.Type()).Error("failed to publish session event")
			}
		}
	}
}
