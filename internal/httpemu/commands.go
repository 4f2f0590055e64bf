package httpemu

import (
	"context"

	"github.com/nugget/lime-node/internal/channel"
	"github.com/nugget/lime-node/internal/lime"
)

// CommandHandler answers a command a client sent toward this node's own
// resources (GET/POST/DELETE /commands/{resource}/). It must return a
// response command built from req (typically via req.Success/req.Failure)
// so the caller's ID carries through for correlation.
type CommandHandler func(ctx context.Context, identity lime.Identity, req *lime.Command) (*lime.Command, error)

// defaultCommandHandler answers the liveness ping and fails everything
// else; a hosting node replaces this with its own resource routing.
func defaultCommandHandler(ctx context.Context, identity lime.Identity, req *lime.Command) (*lime.Command, error) {
	if req.URI == "/ping" || req.URI == "/ping/" {
		return req.Success(&lime.Ping{})
	}
	return req.Failure(lime.NewReason(lime.ReasonCodeGeneralError, "resource not found: "+req.URI)), nil
}

// serveCommands answers every command the client sends toward sc with
// l.commandHandler, until the channel closes. It is the only consumer of
// sc.CmdChan() in this package: HTTP emulation has no broader "application"
// goroutine behind the channel, so this is it.
func (l *Listener) serveCommands(ctx context.Context, sc *channel.ServerChannel, identity lime.Identity) {
	for {
		req, err := sc.ReceiveCommand(ctx)
		if err != nil {
			return
		}

		resp, err := l.commandHandler(ctx, identity, req)
		if err != nil {
			l.logger.Error("httpemu: command handler error", "uri", req.URI, "error", err)
			resp = req.Failure(lime.NewReason(lime.ReasonCodeGeneralError, err.Error()))
		}

		if err := sc.SendCommand(ctx, resp); err != nil {
			l.logger.Warn("httpemu: failed to send command response", "id", req.ID, "error", err)
			return
		}
	}
}
