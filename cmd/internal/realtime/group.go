package realtime

import "context"

// Subscriber receives group messages.
type Subscriber interface {
	ID() string
	// Deliver must not block; it returns false when the message was dropped.
	Deliver(msg []byte) bool
}

// Group is a named broadcast group. Delivery is fire-and-forget and at most once per member;
// members that cannot keep up lose messages rather than slowing the publisher.
type Group interface {
	Join(ctx context.Context, group string, s Subscriber) error
	// Leave is idempotent.
	Leave(ctx context.Context, group, subscriberID string) error
	Publish(ctx context.Context, group string, msg []byte) error
}
