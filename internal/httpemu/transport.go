package httpemu

import (
	"context"
	"sync/atomic"

	"github.com/nugget/lime-node/internal/lime"
)

// transport is the channel.Transport implementation standing in for a real
// socket when a client speaks LIME over plain HTTP instead of a persistent
// connection. There is nothing to dial and nothing to write bytes to: Send
// enqueues the envelope for the per-transport pump goroutine (see pump.go),
// and Receive hands back whatever an HTTP handler pushed on the client's
// behalf (see listener.go's request handlers).
//
// Each transport carries a generation tag so the listener's transport cache
// can evict it without racing a concurrent request that just looked it up:
// eviction does a compare-and-remove against the generation observed at
// insert time (see DESIGN.md's transport cache eviction decision).
type transport struct {
	key        string
	generation uint64

	toServer chan lime.AnyEnvelope // HTTP handlers -> channel.Receive
	toClient chan lime.AnyEnvelope // channel.Send -> the pump goroutine

	connected atomic.Bool

	compression atomic.Value // lime.SessionCompression
	encryption  atomic.Value // lime.SessionEncryption

	onClose func()
}

func newTransport(key string, generation uint64, bufferSize int) *transport {
	if bufferSize < 1 {
		bufferSize = 1
	}
	t := &transport{
		key:        key,
		generation: generation,
		toServer:   make(chan lime.AnyEnvelope, bufferSize),
		toClient:   make(chan lime.AnyEnvelope, bufferSize),
	}
	t.connected.Store(true)
	t.compression.Store(lime.SessionCompressionNone)
	t.encryption.Store(lime.SessionEncryptionNone)
	return t
}

func (t *transport) Open(ctx context.Context, uri string) error {
	t.connected.Store(true)
	return nil
}

func (t *transport) Close() error {
	if !t.connected.CompareAndSwap(true, false) {
		return nil
	}
	close(t.toClient)
	if t.onClose != nil {
		t.onClose()
	}
	return nil
}

func (t *transport) Send(ctx context.Context, envelope lime.AnyEnvelope) error {
	if !t.Connected() {
		return lime.ErrNotConnected
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case t.toClient <- envelope:
		return nil
	}
}

func (t *transport) Receive(ctx context.Context) (lime.AnyEnvelope, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case e, ok := <-t.toServer:
		if !ok {
			return nil, lime.ErrClosed
		}
		return e, nil
	}
}

func (t *transport) Connected() bool {
	return t.connected.Load()
}

// SupportedCompression and SupportedEncryption each report a single option:
// HTTP emulation has no transport-level compression or encryption of its
// own (TLS, if any, terminates in front of the listener), so negotiation
// always collapses to the "none" option instead of a real round trip.
func (t *transport) SupportedCompression() []lime.SessionCompression {
	return []lime.SessionCompression{lime.SessionCompressionNone}
}

func (t *transport) SupportedEncryption() []lime.SessionEncryption {
	return []lime.SessionEncryption{lime.SessionEncryptionNone}
}

func (t *transport) SetCompression(ctx context.Context, compression lime.SessionCompression) error {
	t.compression.Store(compression)
	return nil
}

func (t *transport) SetEncryption(ctx context.Context, encryption lime.SessionEncryption) error {
	t.encryption.Store(encryption)
	return nil
}

// deliverFromClient pushes an envelope an HTTP handler built on the client's
// behalf (a posted message, an injected notification) onto the channel's
// receive side, as if it had arrived over the wire.
func (t *transport) deliverFromClient(ctx context.Context, envelope lime.AnyEnvelope) error {
	if !t.Connected() {
		return lime.ErrNotConnected
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case t.toServer <- envelope:
		return nil
	}
}
