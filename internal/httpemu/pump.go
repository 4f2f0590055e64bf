package httpemu

import (
	"context"

	"github.com/google/uuid"

	"github.com/nugget/lime-node/internal/channel"
	"github.com/nugget/lime-node/internal/lime"
)

// runSession drives one accepted transport end to end: it plays the role a
// real client would play during the handshake (there is no socket on the
// other end to do it for us), then switches into pump mode, where every
// envelope the server channel sends toward this "client" is a delivery the
// HTTP layer has to emulate somehow — resolve a waiting request, or land in
// storage for the next long poll. This is the "accept_transport" queue
// consumer and the output pump from spec.md §4.5/§9, collapsed into one
// goroutine per transport since both halves share the same toClient feed.
func (l *Listener) runSession(ctx context.Context, entry *transportEntry, creds credentials) {
	t := entry.transport
	node := lime.Node{Identity: creds.identity, Instance: "http"}
	sessionID := uuid.NewString()

	sc := channel.NewServerChannel(l.logger, t, l.bufferSize, l.node, sessionID)

	establishErrCh := make(chan error, 1)
	go func() {
		establishErrCh <- sc.EstablishSession(ctx, channel.EstablishSessionOptions{
			CompressionOptions: []lime.SessionCompression{lime.SessionCompressionNone},
			EncryptionOptions:  []lime.SessionEncryption{lime.SessionEncryptionNone},
			SchemeOptions:      []lime.AuthenticationScheme{lime.AuthenticationSchemeGuest},
			Authenticate: func(ctx context.Context, id lime.Identity, auth lime.Authentication) (channel.AuthenticationResult, error) {
				// The HTTP layer already authenticated this request via Basic
				// auth -> transport key (see auth.go); the guest handshake
				// below exists only so this transport goes through the same
				// state machine a real socket client would.
				return channel.SuccessfulAuthenticationResult(channel.DomainRoleMember), nil
			},
			Register: func(ctx context.Context, node lime.Node, c *channel.ServerChannel) error {
				entry.channel = c
				return nil
			},
		})
	}()

	if err := t.deliverFromClient(ctx, &lime.Session{State: lime.SessionStateNew}); err != nil {
		l.logger.Warn("httpemu: failed to seed new session", "key", entry.transport.key, "error", err)
		close(entry.ready)
		return
	}

	established := false
	defer func() {
		if !established {
			close(entry.ready)
		}
	}()

	// Once established, a second goroutine answers commands the client
	// sends toward this node (see commands.go); nothing else consumes
	// sc.CmdChan(), so without it every /commands/ request would hang
	// until its context deadline.
	var commandsStarted bool

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-establishErrCh:
			if err != nil {
				l.logger.Warn("httpemu: session establishment failed", "key", entry.transport.key, "error", err)
				return
			}
		case env, ok := <-t.toClient:
			if !ok {
				return
			}
			if !established {
				ses, isSes := env.(*lime.Session)
				if !isSes {
					l.logger.Warn("httpemu: unexpected envelope before session established", "key", entry.transport.key, "type", env)
					continue
				}
				if handled := l.autoRespondHandshake(ctx, t, node, ses); handled {
					if ses.State == lime.SessionStateEstablished {
						established = true
						close(entry.ready)
						if !commandsStarted {
							commandsStarted = true
							go l.serveCommands(ctx, sc, creds.identity)
						}
					}
					continue
				}
				return
			}
			l.deliver(ctx, sc, env)
		}
	}
}

// autoRespondHandshake plays the client's part of the handshake for one
// server-sent session envelope. Returns false if the session reached a
// terminal state the loop should stop on.
func (l *Listener) autoRespondHandshake(ctx context.Context, t *transport, node lime.Node, ses *lime.Session) bool {
	switch ses.State {
	case lime.SessionStateAuthenticating:
		reply := &lime.Session{
			Envelope:       lime.Envelope{From: node},
			State:          lime.SessionStateAuthenticating,
			Scheme:         lime.AuthenticationSchemeGuest,
			Authentication: &lime.GuestAuthentication{},
		}
		if err := t.deliverFromClient(ctx, reply); err != nil {
			l.logger.Warn("httpemu: failed to reply to authentication challenge", "error", err)
			return false
		}
		return true
	case lime.SessionStateEstablished:
		return true
	case lime.SessionStateFailed:
		l.logger.Warn("httpemu: session failed during handshake", "reason", ses.Reason)
		return false
	default:
		return true
	}
}

// deliver is the output pump: it routes one envelope the server channel
// produced for this client into whichever HTTP-shaped outcome the wire
// would have had. Messages always land in storage, keyed by their
// recipient, since a long poll is the only way an HTTP client ever "hears"
// one. Notifications and commands resolve a matching correlated request
// first, falling back to storage (notifications) or a dropped, logged
// defect (commands — see DESIGN.md's Open Question decision). Only a
// terminal notification event (dispatched/failed) or a non-pending command
// status closes the pending request; an intermediate event/status leaves
// the correlation entry registered so a later terminal envelope can still
// resolve it.
func (l *Listener) deliver(ctx context.Context, sc *channel.ServerChannel, envelope lime.AnyEnvelope) {
	switch e := envelope.(type) {
	case *lime.Message:
		if _, err := l.messages.Store(ctx, e.To.ToIdentity(), e); err != nil {
			l.logger.Error("httpemu: failed to store message", "to", e.To, "error", err)
			return
		}
		if e.ID != "" {
			l.echoDispatchedNotification(ctx, sc, e)
		}
		l.notifyWebhook(e)
	case *lime.Notification:
		if !isTerminalNotification(e) {
			l.logger.Debug("httpemu: intermediate notification event, not resolving", "id", e.ID, "event", e.Event)
			return
		}
		if l.correlator.resolve(e.ID, pendingResult{statusCode: notificationStatusCode(e), body: e}) {
			return
		}
		if _, err := l.notifications.Store(ctx, e.To.ToIdentity(), e); err != nil {
			l.logger.Error("httpemu: failed to store notification", "to", e.To, "error", err)
		}
	case *lime.Command:
		if e.Status == lime.CommandStatusPending {
			l.logger.Debug("httpemu: pending command status, not resolving", "id", e.ID)
			return
		}
		if l.correlator.resolve(e.ID, pendingResult{statusCode: commandStatusCode(e), body: e}) {
			return
		}
		l.logger.Warn("httpemu: unmatched command response dropped", "id", e.ID)
	case *lime.Session:
		l.logger.Debug("httpemu: session envelope after establishment", "state", e.State)
	default:
		l.logger.Warn("httpemu: unknown envelope type from pump", "type", envelope)
	}
}

// isTerminalNotification reports whether n reports a final delivery outcome
// (spec.md §6: dispatched/failed close a pending request; accepted/
// validated/authorized/received/consumed are intermediate progress and must
// not).
func isTerminalNotification(n *lime.Notification) bool {
	return n.Event == lime.NotificationEventDispatched || n.Event == lime.NotificationEventFailed
}

// echoDispatchedNotification reports a stored message as dispatched, the
// way a real node would notify the sender once delivery succeeds. Sent
// back through the same channel the message arrived on so the pump's
// correlation/storage logic handles the echo the same way it handles any
// other notification.
func (l *Listener) echoDispatchedNotification(ctx context.Context, sc *channel.ServerChannel, msg *lime.Message) {
	notif := &lime.Notification{
		Envelope: lime.Envelope{ID: msg.ID, From: msg.To, To: msg.From},
		Event:    lime.NotificationEventDispatched,
	}
	if err := sc.SendNotification(ctx, notif); err != nil {
		l.logger.Warn("httpemu: failed to echo dispatched notification", "id", msg.ID, "error", err)
	}
}

func notificationStatusCode(n *lime.Notification) int {
	if n.Event == lime.NotificationEventFailed && n.Reason != nil {
		return n.Reason.HTTPStatus()
	}
	return 201
}

// commandStatusCode maps a terminal command response to its HTTP status.
// Callers must not invoke this for CommandStatusPending — pending responses
// are not terminal and never reach here (see deliver).
func commandStatusCode(c *lime.Command) int {
	if c.Status == lime.CommandStatusFailure && c.Reason != nil {
		return c.Reason.HTTPStatus()
	}
	return 201
}
