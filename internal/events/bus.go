// Package events implements the channel lifecycle event bus used by the
// on-demand client channel: ChannelCreated, ChannelDiscarded,
// ChannelCreationFailed, and ChannelOperationFailed. Unlike a broadcast
// pub/sub bus, listeners here are awaited synchronously and in registration
// order, since a failure event's "handled" verdict decides whether the
// on-demand channel retries.
package events

import "context"

// Kind identifies which channel lifecycle transition an Event reports.
type Kind string

const (
	// KindChannelCreated fires after a channel is successfully built and
	// its session established.
	KindChannelCreated Kind = "channel_created"
	// KindChannelDiscarded fires when the on-demand channel drops its
	// current channel, whether due to failure or explicit close.
	KindChannelDiscarded Kind = "channel_discarded"
	// KindChannelCreationFailed fires when building a replacement channel
	// errors out. A listener may mark Handled to request a retry.
	KindChannelCreationFailed Kind = "channel_creation_failed"
	// KindChannelOperationFailed fires when a send/receive on an
	// established channel fails. A listener may mark Handled to request
	// the on-demand channel discard and rebuild, then retry the caller's
	// operation.
	KindChannelOperationFailed Kind = "channel_operation_failed"
)

// Event describes one channel lifecycle transition. Handled starts false;
// a Listener sets it to true to request the on-demand channel retry rather
// than propagate the error to the caller.
type Event struct {
	Kind    Kind
	Err     error
	Handled bool
}

// Listener observes a channel lifecycle Event and may mark it Handled
// before returning. The on-demand channel awaits every listener in
// registration order before deciding whether to retry.
type Listener func(ctx context.Context, event *Event)

// Bus holds an ordered list of Listeners for channel lifecycle events. It
// is nil-safe: calling methods on a nil *Bus behaves as if no listeners
// were registered, so components that don't care about these events don't
// need guard checks.
type Bus struct {
	listeners []Listener
}

// New creates an event bus ready for use.
func New() *Bus {
	return &Bus{}
}

// Subscribe appends a listener to the bus. Order of registration is the
// order of invocation on every subsequent Publish.
func (b *Bus) Subscribe(listener Listener) {
	if b == nil || listener == nil {
		return
	}
	b.listeners = append(b.listeners, listener)
}

// Publish invokes every registered listener in order, awaiting each before
// calling the next, and returns the event's final Handled verdict (true if
// any listener marked it handled). Safe to call on a nil receiver, which
// reports unhandled.
func (b *Bus) Publish(ctx context.Context, kind Kind, err error) bool {
	event := Event{Kind: kind, Err: err}
	if b == nil {
		return false
	}
	for _, listener := range b.listeners {
		listener(ctx, &event)
	}
	return event.Handled
}

// ListenerCount returns the number of registered listeners.
func (b *Bus) ListenerCount() int {
	if b == nil {
		return 0
	}
	return len(b.listeners)
}
