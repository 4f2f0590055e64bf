// Package httpemu implements the HTTP emulation listener: a request/response
// surface that lets a client speak the LIME envelope model without holding
// a persistent socket open, by hashing HTTP Basic credentials into a
// transport key and pairing each distinct key with its own emulated
// transport and server-side channel.
package httpemu

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nugget/lime-node/internal/channel"
	"github.com/nugget/lime-node/internal/httpkit"
	"github.com/nugget/lime-node/internal/lime"
	"github.com/nugget/lime-node/internal/storage"
)

var (
	errCorrelationIDInUse = errors.New("httpemu: correlation id already in use")
	errMissingID           = errors.New("httpemu: missing id query parameter")
)

// Options configures a Listener.
type Options struct {
	Address                 string
	Port                    int
	RequestTimeout          time.Duration
	WriteExceptionsToOutput bool
	ChannelBufferSize       int
	DefaultDomain           string
	CommandHandler          CommandHandler
	Logger                  *slog.Logger

	// WebhookResolver, when set, is consulted every time a message is
	// stored for a recipient; a returned (url, true) gets the stored
	// message POSTed there as a delivery notification, the emulation
	// layer's equivalent of a push to a client that isn't currently
	// long-polling. A nil resolver disables webhook delivery entirely.
	WebhookResolver func(identity lime.Identity) (url string, ok bool)

	// WebhookClient overrides the client used to deliver webhooks. Built
	// from internal/httpkit with retry enabled if left nil.
	WebhookClient *http.Client

	// WebhookTimeout bounds each webhook POST. Defaults to RequestTimeout.
	WebhookTimeout time.Duration
}

// transportEntry is the per-transport-key cache slot. generation guards
// eviction: Close on the transport only removes the cache entry if the
// generation observed at insert time still matches, so a request racing an
// eviction never resurrects a half-closed transport (see DESIGN.md's Open
// Question decision on this).
type transportEntry struct {
	transport  *transport
	generation uint64
	ready      chan struct{}
	channel    *channel.ServerChannel
}

// Listener is the HTTP emulation server: URI routing, the per-identity
// transport cache, and the storage/correlation plumbing the output pump
// uses to turn channel-level sends into HTTP responses.
type Listener struct {
	server *http.Server

	node           lime.Node
	logger         *slog.Logger
	bufferSize     int
	requestTimeout time.Duration
	writeExceptns  bool
	defaultDomain  string
	commandHandler CommandHandler

	messages      storage.EnvelopeStorage
	notifications storage.EnvelopeStorage

	correlator *correlator

	webhookResolver func(identity lime.Identity) (url string, ok bool)
	webhookClient   *http.Client
	webhookTimeout  time.Duration

	transports sync.Map // string -> *transportEntry
	generation atomic.Uint64
}

// NewListener constructs a Listener bound to serverNode, using messages and
// notifications for envelope storage.
func NewListener(serverNode lime.Node, messages, notifications storage.EnvelopeStorage, opts Options) *Listener {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.RequestTimeout == 0 {
		opts.RequestTimeout = 60 * time.Second
	}
	if opts.ChannelBufferSize == 0 {
		opts.ChannelBufferSize = 1
	}
	if opts.CommandHandler == nil {
		opts.CommandHandler = defaultCommandHandler
	}
	if opts.WebhookTimeout == 0 {
		opts.WebhookTimeout = opts.RequestTimeout
	}
	webhookClient := opts.WebhookClient
	if webhookClient == nil && opts.WebhookResolver != nil {
		webhookClient = httpkit.NewClient(
			httpkit.WithTimeout(opts.WebhookTimeout),
			httpkit.WithRetry(2, 500*time.Millisecond),
			httpkit.WithLogger(opts.Logger),
		)
	}

	l := &Listener{
		node:            serverNode,
		logger:          opts.Logger,
		bufferSize:      opts.ChannelBufferSize,
		requestTimeout:  opts.RequestTimeout,
		writeExceptns:   opts.WriteExceptionsToOutput,
		defaultDomain:   opts.DefaultDomain,
		commandHandler:  opts.CommandHandler,
		messages:        messages,
		notifications:   notifications,
		correlator:      newCorrelator(),
		webhookResolver: opts.WebhookResolver,
		webhookClient:   webhookClient,
		webhookTimeout:  opts.WebhookTimeout,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /messages/", l.handleGetMessage)
	mux.HandleFunc("POST /messages/", l.handlePostMessage)
	mux.HandleFunc("GET /storage/messages/", l.handleListStoredMessages)
	mux.HandleFunc("DELETE /storage/messages/{id}", l.handleDeleteStoredMessage)
	mux.HandleFunc("GET /storage/notifications/", l.handleGetNotification)
	mux.HandleFunc("POST /notifications/", l.handlePostNotification)
	mux.HandleFunc("GET /commands/{resource...}", l.handleCommand)
	mux.HandleFunc("POST /commands/{resource...}", l.handleCommand)
	mux.HandleFunc("DELETE /commands/{resource...}", l.handleCommand)

	l.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", opts.Address, opts.Port),
		Handler: mux,
	}

	return l
}

// Start begins serving HTTP requests in the background. Call Shutdown to
// stop it.
func (l *Listener) Start() error {
	ln, err := net.Listen("tcp", l.server.Addr)
	if err != nil {
		return err
	}
	go func() {
		if err := l.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.logger.Error("httpemu: listener stopped", "error", err)
		}
	}()
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (l *Listener) Shutdown(ctx context.Context) error {
	return l.server.Shutdown(ctx)
}

// getOrCreateChannel returns the established ServerChannel for creds,
// creating and handshaking a fresh transport on first use, and blocks until
// that handshake completes (or ctx is done).
func (l *Listener) getOrCreateChannel(ctx context.Context, creds credentials) (*channel.ServerChannel, error) {
	entry := l.getOrCreateEntry(creds)

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-entry.ready:
	}

	if entry.channel == nil {
		return nil, errors.New("httpemu: session establishment failed")
	}
	return entry.channel, nil
}

func (l *Listener) getOrCreateEntry(creds credentials) *transportEntry {
	if v, ok := l.transports.Load(creds.key); ok {
		return v.(*transportEntry)
	}

	generation := l.generation.Add(1)
	entry := &transportEntry{
		transport:  newTransport(creds.key, generation, l.bufferSize),
		generation: generation,
		ready:      make(chan struct{}),
	}

	actual, loaded := l.transports.LoadOrStore(creds.key, entry)
	if loaded {
		return actual.(*transportEntry)
	}

	entry.transport.onClose = func() {
		if v, ok := l.transports.Load(creds.key); ok {
			if v.(*transportEntry).generation == generation {
				l.transports.CompareAndDelete(creds.key, v)
			}
		}
	}

	go l.runSession(context.Background(), entry, creds)
	return entry
}

// requestContext bounds ctx by the listener's request timeout.
func (l *Listener) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), l.requestTimeout)
}

func (l *Listener) writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body := struct {
		Error string `json:"error,omitempty"`
	}{}
	if l.writeExceptns && err != nil {
		body.Error = err.Error()
	}
	_ = json.NewEncoder(w).Encode(body)
}

func (l *Listener) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func (l *Listener) authenticateRequest(w http.ResponseWriter, r *http.Request) (credentials, bool) {
	creds, ok := authenticate(r, l.defaultDomain)
	if !ok {
		w.Header().Set("WWW-Authenticate", `Basic realm="lime"`)
		l.writeError(w, http.StatusUnauthorized, errors.New("missing or invalid basic auth credentials"))
		return credentials{}, false
	}
	return creds, true
}
