package transport

import (
	"compress/gzip"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nugget/lime-node/internal/lime"
)

// WebSocket is a gorilla/websocket-backed Transport. It frames each envelope
// as one text message (JSON), matching the LIME-over-WebSocket convention.
type WebSocket struct {
	logger *slog.Logger

	conn      *websocket.Conn
	connected atomic.Bool

	sendMu sync.Mutex

	compMu      sync.RWMutex
	compression lime.SessionCompression
	encryption  lime.SessionEncryption

	dialer    *websocket.Dialer
	tlsConfig *tls.Config
}

// WebSocketOption configures a WebSocket transport at construction time.
type WebSocketOption func(*WebSocket)

// WithTLSConfig sets the TLS configuration used when dialing wss:// URIs.
func WithTLSConfig(cfg *tls.Config) WebSocketOption {
	return func(w *WebSocket) { w.tlsConfig = cfg }
}

// NewWebSocket constructs a client-side WebSocket transport. Call Open to
// dial.
func NewWebSocket(logger *slog.Logger, opts ...WebSocketOption) *WebSocket {
	w := &WebSocket{
		logger:      logger,
		compression: lime.SessionCompressionNone,
		encryption:  lime.SessionEncryptionNone,
		dialer:      websocket.DefaultDialer,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.tlsConfig != nil {
		d := *w.dialer
		d.TLSClientConfig = w.tlsConfig
		w.dialer = &d
	}
	return w
}

// NewWebSocketFromConn wraps an already-accepted server-side connection
// (from websocket.Upgrader.Upgrade) as a Transport.
func NewWebSocketFromConn(logger *slog.Logger, conn *websocket.Conn) *WebSocket {
	w := &WebSocket{
		logger:      logger,
		conn:        conn,
		compression: lime.SessionCompressionNone,
		encryption:  lime.SessionEncryptionNone,
	}
	w.connected.Store(true)
	return w
}

func (w *WebSocket) Open(ctx context.Context, uri string) error {
	conn, _, err := w.dialer.DialContext(ctx, uri, http.Header{})
	if err != nil {
		return fmt.Errorf("websocket: dial %s: %w", uri, err)
	}
	w.conn = conn
	w.connected.Store(true)
	return nil
}

func (w *WebSocket) Close() error {
	if !w.connected.CompareAndSwap(true, false) {
		return nil
	}
	return w.conn.Close()
}

func (w *WebSocket) Connected() bool {
	return w.connected.Load()
}

func (w *WebSocket) Send(ctx context.Context, envelope lime.AnyEnvelope) error {
	if !w.Connected() {
		return ErrClosed
	}

	data, err := lime.EncodeEnvelope(envelope)
	if err != nil {
		return fmt.Errorf("websocket: %w: %v", ErrSerialization, err)
	}

	w.compMu.RLock()
	compression := w.compression
	w.compMu.RUnlock()

	w.sendMu.Lock()
	defer w.sendMu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = w.conn.SetWriteDeadline(deadline)
	}

	if compression == lime.SessionCompressionGZip {
		return w.sendGZip(data)
	}

	if err := w.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		w.connected.Store(false)
		return fmt.Errorf("websocket: write: %w", err)
	}
	return nil
}

func (w *WebSocket) sendGZip(data []byte) error {
	writer, err := w.conn.NextWriter(websocket.BinaryMessage)
	if err != nil {
		w.connected.Store(false)
		return fmt.Errorf("websocket: write: %w", err)
	}
	gz := gzip.NewWriter(writer)
	if _, err := gz.Write(data); err != nil {
		return fmt.Errorf("websocket: gzip write: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("websocket: gzip close: %w", err)
	}
	return writer.Close()
}

func (w *WebSocket) Receive(ctx context.Context) (lime.AnyEnvelope, error) {
	if !w.Connected() {
		return nil, ErrClosed
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = w.conn.SetReadDeadline(deadline)
	}

	msgType, reader, err := w.conn.NextReader()
	if err != nil {
		w.connected.Store(false)
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("websocket: read: %w", err)
	}

	var data []byte
	if msgType == websocket.BinaryMessage {
		gz, err := gzip.NewReader(reader)
		if err != nil {
			return nil, fmt.Errorf("websocket: %w: %v", ErrSerialization, err)
		}
		defer gz.Close()
		data, err = io.ReadAll(gz)
		if err != nil {
			return nil, fmt.Errorf("websocket: %w: %v", ErrSerialization, err)
		}
	} else {
		data, err = io.ReadAll(reader)
		if err != nil {
			return nil, fmt.Errorf("websocket: read: %w", err)
		}
	}

	envelope, err := lime.DecodeEnvelope(data)
	if err != nil {
		return nil, err
	}
	return envelope, nil
}

func (w *WebSocket) SupportedCompression() []lime.SessionCompression {
	return []lime.SessionCompression{lime.SessionCompressionNone, lime.SessionCompressionGZip}
}

func (w *WebSocket) SupportedEncryption() []lime.SessionEncryption {
	return []lime.SessionEncryption{lime.SessionEncryptionNone, lime.SessionEncryptionTLS}
}

// SetCompression applies a negotiated compression option. Takes effect on
// the next Send/Receive; gorilla/websocket frames one message at a time so
// there is no mid-frame state to tear.
func (w *WebSocket) SetCompression(ctx context.Context, compression lime.SessionCompression) error {
	w.compMu.Lock()
	defer w.compMu.Unlock()
	w.compression = compression
	return nil
}

// SetEncryption records the negotiated encryption option. TLS is applied at
// dial time via WithTLSConfig; a post-negotiation upgrade to TLS on an
// already-open plaintext connection is not supported, matching the "treated
// as external collaborator" scope of the WebSocket transport.
func (w *WebSocket) SetEncryption(ctx context.Context, encryption lime.SessionEncryption) error {
	w.compMu.Lock()
	defer w.compMu.Unlock()
	if encryption == lime.SessionEncryptionTLS && w.encryption != lime.SessionEncryptionTLS {
		w.logger.Warn("tls requested on already-open websocket connection; dial with wss:// instead")
	}
	w.encryption = encryption
	return nil
}

// pingInterval is a protocol-level probe interval for an idle WebSocket
// connection, separate from the channel's own /ping liveness command.
// Nothing in this package reads it; no protocol-level pings are sent.
const pingInterval = 30 * time.Second
