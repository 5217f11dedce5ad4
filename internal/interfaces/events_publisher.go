package interfaces

import "context"

// EventPublisher publishes a JSON event. key orders events of one entity.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, key string, event any) error
}
