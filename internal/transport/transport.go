// Package transport defines the duplex, frame-oriented envelope carrier
// that channels run over, plus concrete in-process and WebSocket
// implementations.
package transport

import (
	"context"
	"errors"

	"github.com/nugget/lime-node/internal/lime"
)

// Sentinel failure modes a Transport implementation may surface.
var (
	ErrClosed            = errors.New("transport: closed")
	ErrNotConnected      = errors.New("transport: not connected")
	ErrTimeout           = errors.New("transport: timeout")
	ErrPeerReset         = errors.New("transport: peer reset the connection")
	ErrSerialization     = errors.New("transport: serialization error")
	ErrUnsupportedOption = errors.New("transport: unsupported compression or encryption option")
)

// Transport is a duplex, frame-oriented carrier of envelopes: TCP, WebSocket,
// in-process, or HTTP-emulated. Two concurrent Sends must serialize
// internally or document that callers must; Send and Receive may run
// concurrently with each other.
type Transport interface {
	// Open establishes the underlying connection addressed by uri.
	Open(ctx context.Context, uri string) error
	// Close tears down the connection. Idempotent.
	Close() error
	// Send writes one envelope, blocking until written or ctx is done.
	Send(ctx context.Context, envelope lime.AnyEnvelope) error
	// Receive reads and decodes the next envelope, blocking until one
	// arrives, ctx is done, or the transport closes.
	Receive(ctx context.Context) (lime.AnyEnvelope, error)
	// Connected reports whether the transport is currently usable.
	Connected() bool

	// SupportedCompression lists the compression options this transport can
	// apply, in no particular order.
	SupportedCompression() []lime.SessionCompression
	// SupportedEncryption lists the encryption options this transport can
	// apply, in no particular order.
	SupportedEncryption() []lime.SessionEncryption
	// SetCompression applies a compression option negotiated during the
	// session handshake. Must be atomic with respect to framing: no
	// concurrent Send/Receive may observe a torn state.
	SetCompression(ctx context.Context, compression lime.SessionCompression) error
	// SetEncryption applies a negotiated encryption option, with the same
	// atomicity requirement as SetCompression.
	SetEncryption(ctx context.Context, encryption lime.SessionEncryption) error
}
