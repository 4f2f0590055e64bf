// Package wsserver accepts raw WebSocket connections from LIME nodes and
// drives each one through the server-side session handshake, independent of
// the HTTP-emulation surface in internal/httpemu. Once established, a
// session's inbound messages and notifications land in the same envelope
// storage internal/httpemu reads from, so a node connected over a real
// socket and one polling over HTTP can reach the same mailboxes.
package wsserver

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nugget/lime-node/internal/channel"
	"github.com/nugget/lime-node/internal/lime"
	"github.com/nugget/lime-node/internal/storage"
	"github.com/nugget/lime-node/internal/transport"
)

// Authenticator validates a connecting node's credentials during the
// handshake. Aliased so callers wiring this listener don't need to import
// internal/channel just for the type.
type Authenticator = channel.Authenticator

// CommandHandler answers one inbound command addressed to this node over an
// established session.
type CommandHandler func(ctx context.Context, identity lime.Identity, req *lime.Command) (*lime.Command, error)

func defaultCommandHandler(_ context.Context, _ lime.Identity, req *lime.Command) (*lime.Command, error) {
	switch req.URI {
	case "/ping", "ping", "/ping/":
		return req.Success(lime.Ping{})
	default:
		return req.Failure(lime.NewReason(lime.ReasonCodeGeneralError, "resource not found: "+req.URI)), nil
	}
}

// Options configures a Listener.
type Options struct {
	Address string
	Port    int
	Path    string // WebSocket upgrade path, defaults to "/ws"

	CompressionOptions []lime.SessionCompression
	EncryptionOptions   []lime.SessionEncryption
	SchemeOptions       []lime.AuthenticationScheme
	ChannelBufferSize   int
	NegotiationTimeout  time.Duration

	// IdleTimeout enables the liveness ping once a session has been
	// Established (see channel.Channel.EnableLiveness). Zero disables it.
	IdleTimeout          time.Duration
	IdleResponseDeadline time.Duration

	// Authenticator defaults to accepting any presented identity as a
	// domain member; production deployments should supply one that checks
	// real credentials against the configured scheme.
	Authenticator  Authenticator
	CommandHandler CommandHandler

	Logger *slog.Logger
}

// Listener accepts WebSocket upgrades and runs one handshake+pump goroutine
// per connection.
type Listener struct {
	server   *http.Server
	node     lime.Node
	upgrader websocket.Upgrader

	compOptions   []lime.SessionCompression
	encOptions    []lime.SessionEncryption
	schemeOptions []lime.AuthenticationScheme

	bufferSize           int
	negotiationTimeout   time.Duration
	idleTimeout          time.Duration
	idleResponseDeadline time.Duration

	authenticator  Authenticator
	commandHandler CommandHandler

	messages      storage.EnvelopeStorage
	notifications storage.EnvelopeStorage

	logger *slog.Logger

	sessions sync.Map // sessionID -> *channel.ServerChannel
}

// NewListener constructs a Listener bound to serverNode. messages and
// notifications are typically the same stores backing an internal/httpemu
// Listener, so the two transports share mailboxes.
func NewListener(serverNode lime.Node, messages, notifications storage.EnvelopeStorage, opts Options) *Listener {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Path == "" {
		opts.Path = "/ws"
	}
	if len(opts.CompressionOptions) == 0 {
		opts.CompressionOptions = []lime.SessionCompression{lime.SessionCompressionNone}
	}
	if len(opts.EncryptionOptions) == 0 {
		opts.EncryptionOptions = []lime.SessionEncryption{lime.SessionEncryptionNone}
	}
	if len(opts.SchemeOptions) == 0 {
		opts.SchemeOptions = []lime.AuthenticationScheme{lime.AuthenticationSchemeGuest}
	}
	if opts.ChannelBufferSize <= 0 {
		opts.ChannelBufferSize = 1
	}
	if opts.NegotiationTimeout <= 0 {
		opts.NegotiationTimeout = 60 * time.Second
	}
	if opts.Authenticator == nil {
		opts.Authenticator = func(context.Context, lime.Identity, lime.Authentication) (channel.AuthenticationResult, error) {
			return channel.SuccessfulAuthenticationResult(channel.DomainRoleMember), nil
		}
	}
	if opts.CommandHandler == nil {
		opts.CommandHandler = defaultCommandHandler
	}

	l := &Listener{
		node:                 serverNode,
		compOptions:          opts.CompressionOptions,
		encOptions:           opts.EncryptionOptions,
		schemeOptions:        opts.SchemeOptions,
		bufferSize:           opts.ChannelBufferSize,
		negotiationTimeout:   opts.NegotiationTimeout,
		idleTimeout:          opts.IdleTimeout,
		idleResponseDeadline: opts.IdleResponseDeadline,
		authenticator:        opts.Authenticator,
		commandHandler:       opts.CommandHandler,
		messages:             messages,
		notifications:        notifications,
		logger:               opts.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc(opts.Path, l.handleUpgrade)
	l.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", opts.Address, opts.Port),
		Handler: mux,
	}
	return l
}

// Start begins accepting connections in the background.
func (l *Listener) Start() error {
	ln, err := net.Listen("tcp", l.server.Addr)
	if err != nil {
		return fmt.Errorf("wsserver: listen: %w", err)
	}
	go func() {
		if err := l.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			l.logger.Error("wsserver: serve failed", "error", err)
		}
	}()
	return nil
}

// Shutdown stops accepting new connections and waits for in-flight requests
// to finish, bounded by ctx.
func (l *Listener) Shutdown(ctx context.Context) error {
	return l.server.Shutdown(ctx)
}

func (l *Listener) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.logger.Warn("wsserver: upgrade failed", "error", err)
		return
	}
	wsTransport := transport.NewWebSocketFromConn(l.logger, conn)
	go l.runSession(context.Background(), wsTransport)
}

// runSession drives one accepted connection through the handshake, then
// pumps its inbound messages/notifications into storage and answers its
// commands, until the session closes.
func (l *Listener) runSession(ctx context.Context, t *transport.WebSocket) {
	sessionID := uuid.NewString()
	sc := channel.NewServerChannel(l.logger, t, l.bufferSize, l.node, sessionID)

	estCtx, cancel := context.WithTimeout(ctx, l.negotiationTimeout)
	err := sc.EstablishSession(estCtx, channel.EstablishSessionOptions{
		CompressionOptions: l.compOptions,
		EncryptionOptions:  l.encOptions,
		SchemeOptions:      l.schemeOptions,
		Authenticate:       l.authenticator,
		Register: func(_ context.Context, _ lime.Node, c *channel.ServerChannel) error {
			l.sessions.Store(sessionID, c)
			return nil
		},
	})
	cancel()
	if err != nil {
		l.logger.Warn("wsserver: session establishment failed", "session_id", sessionID, "error", err)
		return
	}
	defer l.sessions.Delete(sessionID)
	defer sc.Close()

	if l.idleTimeout > 0 {
		sc.EnableLiveness(l.idleTimeout, l.idleResponseDeadline)
	}

	identity := sc.RemoteNode().ToIdentity()
	l.logger.Info("wsserver: session established", "session_id", sessionID, "identity", identity)

	go l.serveCommands(ctx, sc, identity)
	l.pumpInbound(ctx, sc)
}

func (l *Listener) serveCommands(ctx context.Context, sc *channel.ServerChannel, identity lime.Identity) {
	for {
		cmd, err := sc.ReceiveCommand(ctx)
		if err != nil {
			return
		}
		resp, err := l.commandHandler(ctx, identity, cmd)
		if err != nil {
			l.logger.Warn("wsserver: command handler error", "uri", cmd.URI, "error", err)
			continue
		}
		if err := sc.SendCommand(ctx, resp); err != nil {
			l.logger.Warn("wsserver: failed to send command response", "error", err)
			return
		}
	}
}

func (l *Listener) pumpInbound(ctx context.Context, sc *channel.ServerChannel) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sc.MsgChan():
			if !ok {
				return
			}
			l.storeMessage(ctx, sc, msg)
		case not, ok := <-sc.NotChan():
			if !ok {
				return
			}
			if _, err := l.notifications.Store(ctx, not.To.ToIdentity(), not); err != nil {
				l.logger.Error("wsserver: failed to store notification", "error", err)
			}
		}
	}
}

// storeMessage lands msg in storage keyed by its recipient, then echoes a
// dispatched notification back to the sender, mirroring the output pump in
// internal/httpemu so both transports behave the same way from a sender's
// point of view.
func (l *Listener) storeMessage(ctx context.Context, sc *channel.ServerChannel, msg *lime.Message) {
	if _, err := l.messages.Store(ctx, msg.To.ToIdentity(), msg); err != nil {
		l.logger.Error("wsserver: failed to store message", "to", msg.To, "error", err)
		return
	}
	if msg.ID == "" {
		return
	}
	notif := &lime.Notification{
		Envelope: lime.Envelope{ID: msg.ID, From: msg.To, To: msg.From},
		Event:    lime.NotificationEventDispatched,
	}
	if err := sc.SendNotification(ctx, notif); err != nil {
		l.logger.Warn("wsserver: failed to echo dispatched notification", "id", msg.ID, "error", err)
	}
}
