package ports

import (
	"context"

	"github.com/layer-3/barong-agent/core"
)

// EventPublisher forwards session events to other processes
type EventPublisher interface {
	Publish(ctx context.Context, event core.Event) error
}
