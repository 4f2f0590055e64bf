package transport

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/nugget/lime-node/internal/lime"
)

// NewInProcessPair returns two Transports wired directly to each other's
// inbound queue, with no network I/O. Used by the HTTP emulation listener
// (which drives a server-side channel without a byte-level socket) and by
// tests that need two ends of a channel without a real transport.
func NewInProcessPair(bufferSize int) (client, server Transport) {
	a := newInProcess(bufferSize)
	b := newInProcess(bufferSize)
	a.peer = b
	b.peer = a
	return a, b
}

type inProcess struct {
	peer *inProcess

	inbox chan lime.AnyEnvelope

	mu          sync.Mutex
	connected   atomic.Bool
	compression lime.SessionCompression
	encryption  lime.SessionEncryption
}

func newInProcess(bufferSize int) *inProcess {
	t := &inProcess{
		inbox:       make(chan lime.AnyEnvelope, bufferSize),
		compression: lime.SessionCompressionNone,
		encryption:  lime.SessionEncryptionNone,
	}
	t.connected.Store(true)
	return t
}

func (t *inProcess) Open(ctx context.Context, uri string) error {
	t.connected.Store(true)
	return nil
}

func (t *inProcess) Close() error {
	if !t.connected.CompareAndSwap(true, false) {
		return nil
	}
	close(t.inbox)
	return nil
}

func (t *inProcess) Connected() bool {
	return t.connected.Load()
}

func (t *inProcess) Send(ctx context.Context, envelope lime.AnyEnvelope) (err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.Connected() {
		return ErrClosed
	}
	if t.peer == nil || !t.peer.Connected() {
		return ErrNotConnected
	}

	// The peer may close its inbox concurrently with this send (it closes
	// the channel we are about to write into); treat that race as a normal
	// disconnect rather than letting the runtime panic propagate.
	defer func() {
		if r := recover(); r != nil {
			err = ErrClosed
		}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case t.peer.inbox <- envelope:
		return nil
	}
}

func (t *inProcess) Receive(ctx context.Context) (lime.AnyEnvelope, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case env, ok := <-t.inbox:
		if !ok {
			return nil, ErrClosed
		}
		return env, nil
	}
}

func (t *inProcess) SupportedCompression() []lime.SessionCompression {
	return []lime.SessionCompression{lime.SessionCompressionNone}
}

func (t *inProcess) SupportedEncryption() []lime.SessionEncryption {
	return []lime.SessionEncryption{lime.SessionEncryptionNone, lime.SessionEncryptionTLS}
}

func (t *inProcess) SetCompression(ctx context.Context, compression lime.SessionCompression) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.compression = compression
	return nil
}

func (t *inProcess) SetEncryption(ctx context.Context, encryption lime.SessionEncryption) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.encryption = encryption
	return nil
}
