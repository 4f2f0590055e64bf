package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nugget/lime-node/internal/lime"
)

// ClientChannel drives the client side of the session handshake: sending
// the initial new-session request, selecting among offered negotiation
// options, and presenting credentials.
type ClientChannel struct {
	*channel
}

// NewClientChannel constructs a client-side channel over t.
func NewClientChannel(logger *slog.Logger, t Transport, bufferSize int) *ClientChannel {
	return &ClientChannel{channel: newChannel(logger, t, bufferSize)}
}

// receiveSessionFromServer receives one session envelope and updates local
// state: on Established it records the negotiated local/remote nodes; on
// Finished or Failed it tears down the transport after recording the state.
func (c *ClientChannel) receiveSessionFromServer(ctx context.Context) (*lime.Session, error) {
	ses, err := c.receiveSession(ctx)
	if err != nil {
		return nil, err
	}

	c.sessionID = ses.ID

	if ses.State == lime.SessionStateEstablished {
		c.localNode = ses.To
		c.remoteNode = ses.From
	}

	c.setState(ses.State)

	if ses.State == lime.SessionStateFinished || ses.State == lime.SessionStateFailed {
		_ = c.Close()
	}

	return ses, nil
}

func (c *ClientChannel) startNewSession(ctx context.Context) (*lime.Session, error) {
	if err := c.ensureState(lime.SessionStateNew, "start new session"); err != nil {
		return nil, err
	}
	if err := c.sendSession(ctx, &lime.Session{State: lime.SessionStateNew}); err != nil {
		return nil, err
	}
	return c.receiveSessionFromServer(ctx)
}

func (c *ClientChannel) negotiateSession(ctx context.Context, comp lime.SessionCompression, encrypt lime.SessionEncryption) (*lime.Session, error) {
	if err := c.ensureState(lime.SessionStateNegotiating, "negotiate session"); err != nil {
		return nil, err
	}
	ses := &lime.Session{
		State:       lime.SessionStateNegotiating,
		Compression: comp,
		Encryption:  encrypt,
	}
	if err := c.sendSession(ctx, ses); err != nil {
		return nil, err
	}
	return c.receiveSessionFromServer(ctx)
}

func (c *ClientChannel) authenticateSession(ctx context.Context, identity lime.Identity, auth lime.Authentication, instance string) (*lime.Session, error) {
	if err := c.ensureState(lime.SessionStateAuthenticating, "authenticate session"); err != nil {
		return nil, err
	}
	ses := &lime.Session{
		Envelope:       lime.Envelope{From: lime.Node{Identity: identity, Instance: instance}},
		State:          lime.SessionStateAuthenticating,
		Scheme:         auth.Scheme(),
		Authentication: auth,
	}
	if err := c.sendSession(ctx, ses); err != nil {
		return nil, err
	}
	return c.receiveSessionFromServer(ctx)
}

// FinishSession sends a Finishing request and awaits the server's Finished
// reply, the client-side dual of ServerChannel.FinishSession's direct send.
func (c *ClientChannel) FinishSession(ctx context.Context) (*lime.Session, error) {
	if err := c.ensureState(lime.SessionStateEstablished, "finish session"); err != nil {
		return nil, err
	}
	if err := c.sendSession(ctx, &lime.Session{State: lime.SessionStateFinishing}); err != nil {
		return nil, err
	}
	return c.receiveSessionFromServer(ctx)
}

// CompressionSelector picks one compression option from those the server
// offered.
type CompressionSelector func(options []lime.SessionCompression) lime.SessionCompression

// EncryptionSelector picks one encryption option from those the server
// offered.
type EncryptionSelector func(options []lime.SessionEncryption) lime.SessionEncryption

// ClientAuthenticator answers an authentication challenge: given the scheme
// options the server offers (and, on a round trip, the server's prior
// challenge), it returns the credential to present.
type ClientAuthenticator func(schemeOptions []lime.AuthenticationScheme, roundTrip lime.Authentication) lime.Authentication

// ClientEstablishSessionOptions configures one call to (*ClientChannel).EstablishSession.
type ClientEstablishSessionOptions struct {
	CompressionSelector CompressionSelector
	EncryptionSelector  EncryptionSelector
	Identity            lime.Identity
	Instance            string
	Authenticator       ClientAuthenticator
}

// EstablishSession drives the full client-side handshake: send new session,
// negotiate (if the server offers options), and authenticate across
// however many rounds the server requires.
func (c *ClientChannel) EstablishSession(ctx context.Context, opts ClientEstablishSessionOptions) (*lime.Session, error) {
	if opts.CompressionSelector == nil || opts.EncryptionSelector == nil {
		panic("channel: EstablishSession requires compression and encryption selectors")
	}
	if opts.Authenticator == nil {
		panic("channel: EstablishSession requires an Authenticator")
	}

	ses, err := c.startNewSession(ctx)
	if err != nil {
		return nil, err
	}

	if ses.State == lime.SessionStateNegotiating {
		comp := opts.CompressionSelector(ses.CompressionOptions)
		encrypt := opts.EncryptionSelector(ses.EncryptionOptions)

		ses, err = c.negotiateSession(ctx, comp, encrypt)
		if err != nil {
			return nil, err
		}

		if ses.State == lime.SessionStateNegotiating {
			if err := c.transport.SetCompression(ctx, comp); err != nil {
				return nil, err
			}
			if err := c.transport.SetEncryption(ctx, encrypt); err != nil {
				return nil, err
			}
			ses, err = c.receiveSessionFromServer(ctx)
			if err != nil {
				return nil, err
			}
		}
	}

	var roundTrip lime.Authentication
	for ses.State == lime.SessionStateAuthenticating {
		auth := opts.Authenticator(ses.SchemeOptions, roundTrip)
		ses, err = c.authenticateSession(ctx, opts.Identity, auth, opts.Instance)
		if err != nil {
			return nil, err
		}
		roundTrip = ses.Authentication
	}

	if ses.State == lime.SessionStateFailed {
		reason := "session failed"
		if ses.Reason != nil {
			reason = ses.Reason.Description
		}
		return ses, fmt.Errorf("channel: %s", reason)
	}

	if ses.State != lime.SessionStateEstablished {
		return ses, errors.New("channel: handshake ended without reaching established state")
	}

	return ses, nil
}
