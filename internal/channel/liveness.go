package channel

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/nugget/lime-node/internal/lime"
)

// pingURI is the resource a liveness probe addresses, carrying the
// application/vnd.lime.ping+json media type registered in internal/lime.
const pingURI = "/ping"

// EnableLiveness starts the idle-ping watchdog goroutine. Only the first
// call has any effect; later calls are no-ops, matching the one-shot
// semantics a caller expects from an "enable" method.
func (c *channel) EnableLiveness(idleTimeout, responseDeadline time.Duration) {
	if idleTimeout <= 0 {
		return
	}
	c.livenessOnce.Do(func() {
		go c.runLiveness(idleTimeout, responseDeadline)
	})
}

// runLiveness wakes periodically and, once the channel has gone idleTimeout
// without an inbound envelope, issues a correlated /ping command. A failure
// to get a response within responseDeadline closes the channel: from the
// caller's perspective the remote end is gone, whether or not the transport
// itself noticed.
func (c *channel) runLiveness(idleTimeout, responseDeadline time.Duration) {
	interval := idleTimeout / 4
	if interval <= 0 {
		interval = idleTimeout
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.rcvDone:
			return
		case <-ticker.C:
			if !c.Established() {
				return
			}
			if time.Since(c.lastRecvTime()) < idleTimeout {
				continue
			}
			if !c.probe(responseDeadline) {
				return
			}
		}
	}
}

// probe sends one /ping round trip and reports whether it succeeded.
func (c *channel) probe(responseDeadline time.Duration) bool {
	ctx, cancel := context.WithTimeout(context.Background(), responseDeadline)
	defer cancel()

	_, err := c.ProcessCommand(ctx, &lime.Command{
		Envelope: lime.Envelope{ID: uuid.NewString(), From: c.localNode, To: c.remoteNode},
		Method:   lime.CommandMethodGet,
		URI:      pingURI,
	})
	if err != nil {
		c.logger.Warn("channel: liveness ping unanswered, closing", "session_id", c.sessionID, "error", err)
		_ = c.Close()
		return false
	}
	return true
}

func (c *channel) lastRecvTime() time.Time {
	v := c.lastRecv.Load()
	if v == nil {
		return time.Now()
	}
	return v.(time.Time)
}
