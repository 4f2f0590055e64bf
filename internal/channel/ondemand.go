package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/nugget/lime-node/internal/events"
	"github.com/nugget/lime-node/internal/lime"
)

// Builder constructs and establishes a fresh ClientChannel, dialing a new
// transport each time it is called.
type Builder func(ctx context.Context) (*ClientChannel, error)

// OnDemandClientChannel is a durable handle that owns an optionally-present
// ClientChannel and rebuilds it lazily on first use or after a failure,
// serializing establishment through a single-permit semaphore rather than a
// plain mutex so the build step itself can respect context cancellation.
type OnDemandClientChannel struct {
	logger  *slog.Logger
	build   Builder
	events  *events.Bus
	lock    chan struct{}
	backoff time.Duration

	mu       sync.RWMutex
	current  *ClientChannel
	disposed bool
}

// NewOnDemandClientChannel constructs a handle that builds channels via
// build, publishing lifecycle events to bus (which may be nil).
func NewOnDemandClientChannel(logger *slog.Logger, build Builder, bus *events.Bus) *OnDemandClientChannel {
	o := &OnDemandClientChannel{
		logger: logger,
		build:  build,
		events: bus,
		lock:   make(chan struct{}, 1),
	}
	o.lock <- struct{}{}
	return o
}

// Close discards the current channel, attempting a graceful finish first.
func (o *OnDemandClientChannel) Close(ctx context.Context) error {
	o.mu.Lock()
	o.disposed = true
	current := o.current
	o.current = nil
	o.mu.Unlock()

	if current == nil {
		return nil
	}
	defer o.events.Publish(ctx, events.KindChannelDiscarded, nil)

	if current.Established() {
		finishCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if _, err := current.FinishSession(finishCtx); err != nil {
			o.logger.Warn("on-demand channel: graceful finish failed, closing transport", "error", err)
			return current.Close()
		}
		return nil
	}
	return current.Close()
}

func (o *OnDemandClientChannel) channelOK() *ClientChannel {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.current != nil && o.current.Established() {
		return o.current
	}
	return nil
}

// SendMessage builds the channel if needed and sends msg, retrying for as
// long as listeners mark the resulting failure handled.
func (o *OnDemandClientChannel) SendMessage(ctx context.Context, msg *lime.Message) error {
	return withChannel(ctx, o, func(c *ClientChannel) error { return c.SendMessage(ctx, msg) })
}

// SendNotification builds the channel if needed and sends not.
func (o *OnDemandClientChannel) SendNotification(ctx context.Context, not *lime.Notification) error {
	return withChannel(ctx, o, func(c *ClientChannel) error { return c.SendNotification(ctx, not) })
}

// SendCommand builds the channel if needed and sends cmd.
func (o *OnDemandClientChannel) SendCommand(ctx context.Context, cmd *lime.Command) error {
	return withChannel(ctx, o, func(c *ClientChannel) error { return c.SendCommand(ctx, cmd) })
}

// ProcessCommand builds the channel if needed and performs a correlated
// request/response exchange.
func (o *OnDemandClientChannel) ProcessCommand(ctx context.Context, reqCmd *lime.Command) (*lime.Command, error) {
	var resp *lime.Command
	err := withChannel(ctx, o, func(c *ClientChannel) error {
		r, err := c.ProcessCommand(ctx, reqCmd)
		resp = r
		return err
	})
	return resp, err
}

// ReceiveMessage builds the channel if needed and receives the next message.
// Like the send operations, it only uses a channel that is Established; a
// current channel in any other state is closed and replaced first, so
// envelopes still buffered in it are not received through this call.
func (o *OnDemandClientChannel) ReceiveMessage(ctx context.Context) (*lime.Message, error) {
	var msg *lime.Message
	err := withChannel(ctx, o, func(c *ClientChannel) error {
		m, err := c.ReceiveMessage(ctx)
		msg = m
		return err
	})
	return msg, err
}

// withChannel implements the on-demand operation loop described by the
// channel's design: acquire (building if absent), invoke, and on failure
// emit ChannelOperationFailed — discarding the channel and retrying for as
// long as listeners mark the failure handled, otherwise propagating the error. A caller cancellation is
// rethrown immediately without entering the retry path.
func withChannel(ctx context.Context, o *OnDemandClientChannel, op func(*ClientChannel) error) error {
	for {
		o.mu.RLock()
		disposed := o.disposed
		o.mu.RUnlock()
		if disposed {
			return lime.ErrDisposed
		}

		c, err := o.getOrBuildChannel(ctx)
		if err != nil {
			return err
		}

		err = op(c)
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		handled := o.events.Publish(ctx, events.KindChannelOperationFailed, err)
		o.discard(ctx, c)
		if !handled {
			return err
		}
		// loop and rebuild
	}
}

func (o *OnDemandClientChannel) discard(ctx context.Context, stale *ClientChannel) {
	o.mu.Lock()
	if o.current == stale {
		o.current = nil
	}
	o.mu.Unlock()
	_ = stale.Close()
	o.events.Publish(ctx, events.KindChannelDiscarded, nil)
}

// getOrBuildChannel returns the current established channel, or builds a
// fresh one under the build semaphore, retrying with quadratic backoff
// while ChannelCreationFailed listeners mark the failure handled.
func (o *OnDemandClientChannel) getOrBuildChannel(ctx context.Context) (*ClientChannel, error) {
	if c := o.channelOK(); c != nil {
		return c, nil
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-o.lock:
	}
	defer func() { o.lock <- struct{}{} }()

	if c := o.channelOK(); c != nil {
		return c, nil
	}

	o.mu.RLock()
	stale := o.current
	o.mu.RUnlock()
	if stale != nil {
		_ = stale.Close()
		o.mu.Lock()
		o.current = nil
		o.mu.Unlock()
	}

	var attempt int
	for ctx.Err() == nil {
		c, err := o.build(ctx)
		if err == nil {
			o.mu.Lock()
			o.current = c
			o.mu.Unlock()
			o.events.Publish(ctx, events.KindChannelCreated, nil)
			return c, nil
		}

		handled := o.events.Publish(ctx, events.KindChannelCreationFailed, err)
		if !handled {
			return nil, fmt.Errorf("channel: build failed: %w", err)
		}

		interval := time.Duration(math.Pow(float64(attempt), 2)*100) * time.Millisecond
		o.logger.Warn("on-demand channel: build failed, retrying", "error", err, "backoff", interval)

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		attempt++
	}

	return nil, ctx.Err()
}
