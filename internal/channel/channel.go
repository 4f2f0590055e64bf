// Package channel implements the session-bound envelope multiplexer: the
// core demultiplexing loop, the server and client handshake drivers, and
// the on-demand client channel that rebuilds itself lazily.
package channel

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nugget/lime-node/internal/config"
	"github.com/nugget/lime-node/internal/lime"
)

// Channel exposes the typed send/receive operations a channel supports once
// established, plus the session metadata accessors.
type Channel interface {
	ID() string
	LocalNode() lime.Node
	RemoteNode() lime.Node
	State() lime.SessionState
	Established() bool

	SendMessage(ctx context.Context, msg *lime.Message) error
	ReceiveMessage(ctx context.Context) (*lime.Message, error)
	SendNotification(ctx context.Context, not *lime.Notification) error
	ReceiveNotification(ctx context.Context) (*lime.Notification, error)
	SendCommand(ctx context.Context, cmd *lime.Command) error
	ReceiveCommand(ctx context.Context) (*lime.Command, error)
	ProcessCommand(ctx context.Context, reqCmd *lime.Command) (*lime.Command, error)

	// EnableLiveness starts the idle-ping watchdog: once the channel has
	// gone idleTimeout without receiving any envelope, it issues a /ping
	// command and closes the channel if no response arrives within
	// responseDeadline. A zero idleTimeout is a no-op. Safe to call more
	// than once; only the first call takes effect.
	EnableLiveness(idleTimeout, responseDeadline time.Duration)

	Close() error
}

// Transport is the subset of transport.Transport the channel needs. Defined
// locally to avoid an import cycle between channel and transport tests that
// construct fakes.
type Transport interface {
	Open(ctx context.Context, uri string) error
	Close() error
	Send(ctx context.Context, envelope lime.AnyEnvelope) error
	Receive(ctx context.Context) (lime.AnyEnvelope, error)
	Connected() bool
	SupportedCompression() []lime.SessionCompression
	SupportedEncryption() []lime.SessionEncryption
	SetCompression(ctx context.Context, compression lime.SessionCompression) error
	SetEncryption(ctx context.Context, encryption lime.SessionEncryption) error
}

// channel is the shared implementation embedded by ServerChannel and
// ClientChannel. It owns the single demultiplexing goroutine that reads from
// the transport and fans inbound envelopes out into four typed queues.
type channel struct {
	logger *slog.Logger

	transport  Transport
	sessionID  string
	remoteNode lime.Node
	localNode  lime.Node

	state   lime.SessionState
	stateMu sync.RWMutex

	inMsgChan chan *lime.Message
	inNotChan chan *lime.Notification
	inCmdChan chan *lime.Command
	inSesChan chan *lime.Session

	sendMu   sync.Mutex
	startRcv sync.Once
	stopRcv  sync.Once
	rcvDone  chan struct{}

	processingCmds   map[string]chan *lime.Command
	processingCmdsMu sync.RWMutex

	lastRecv     atomic.Value // time.Time
	livenessOnce sync.Once

	cancel context.CancelFunc
}

func newChannel(logger *slog.Logger, t Transport, bufferSize int) *channel {
	if t == nil {
		panic("channel: transport cannot be nil")
	}
	if bufferSize < 1 {
		bufferSize = 1
	}
	c := &channel{
		logger:         logger,
		transport:      t,
		state:          lime.SessionStateNew,
		inMsgChan:      make(chan *lime.Message, bufferSize),
		inNotChan:      make(chan *lime.Notification, bufferSize),
		inCmdChan:      make(chan *lime.Command, bufferSize),
		inSesChan:      make(chan *lime.Session, bufferSize),
		rcvDone:        make(chan struct{}),
		processingCmds: make(map[string]chan *lime.Command),
	}
	c.lastRecv.Store(time.Now())
	return c
}

func (c *channel) ID() string            { return c.sessionID }
func (c *channel) RemoteNode() lime.Node { return c.remoteNode }
func (c *channel) LocalNode() lime.Node  { return c.localNode }

func (c *channel) State() lime.SessionState {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

func (c *channel) Established() bool {
	return c.State() == lime.SessionStateEstablished && c.transport.Connected()
}

// setState moves the channel to state, starting or stopping the
// demultiplexing goroutine as appropriate. Transitions must be forward-only
// per the state's Step() ordering; a caller attempting to move backward is a
// programmer error.
func (c *channel) setState(state lime.SessionState) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	if state.Step() < c.state.Step() {
		panic(fmt.Sprintf("channel: cannot move from state %s to %s", c.state, state))
	}

	c.state = state

	switch state {
	case lime.SessionStateEstablished:
		c.startRcv.Do(c.startReceiver)
	case lime.SessionStateFinished, lime.SessionStateFailed:
		c.stopRcv.Do(c.stopReceiver)
	}
}

func (c *channel) startReceiver() {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.receiveFromTransport(ctx, c.rcvDone)
}

func (c *channel) stopReceiver() {
	if c.cancel != nil {
		c.cancel()
		<-c.rcvDone
	}
}

func (c *channel) MsgChan() <-chan *lime.Message      { return c.inMsgChan }
func (c *channel) NotChan() <-chan *lime.Notification { return c.inNotChan }
func (c *channel) CmdChan() <-chan *lime.Command      { return c.inCmdChan }
func (c *channel) SesChan() <-chan *lime.Session      { return c.inSesChan }

// receiveFromTransport is the channel's single demultiplexing loop: it
// reads envelopes from the transport and routes each into the queue
// matching its kind, until the channel stops being Established or the
// transport errors.
func (c *channel) receiveFromTransport(ctx context.Context, done chan<- struct{}) {
	defer func() {
		close(done)
		close(c.inMsgChan)
		close(c.inNotChan)
		close(c.inCmdChan)
		close(c.inSesChan)
	}()

	for c.Established() {
		env, err := c.transport.Receive(ctx)
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Warn("channel: transport receive failed", "session_id", c.sessionID, "error", err)
			}
			return
		}
		c.lastRecv.Store(time.Now())
		c.logger.Log(ctx, config.LevelTrace, "channel: envelope received", "session_id", c.sessionID, "type", fmt.Sprintf("%T", env))

		switch e := env.(type) {
		case *lime.Message:
			select {
			case <-ctx.Done():
				return
			case c.inMsgChan <- e:
			}
		case *lime.Notification:
			select {
			case <-ctx.Done():
				return
			case c.inNotChan <- e:
			}
		case *lime.Command:
			if !c.trySubmitCommandResult(e) {
				select {
				case <-ctx.Done():
					return
				case c.inCmdChan <- e:
				}
			}
		case *lime.Session:
			select {
			case <-ctx.Done():
				return
			case c.inSesChan <- e:
			}
		default:
			panic(fmt.Sprintf("channel: unknown envelope type %T", e))
		}
	}
}

func (c *channel) sendSession(ctx context.Context, ses *lime.Session) error {
	if err := c.ensureTransportOK("send session"); err != nil {
		return err
	}
	state := c.State()
	if state == lime.SessionStateFinished || state == lime.SessionStateFailed {
		return fmt.Errorf("send session: cannot do in the %v state", state)
	}
	if err := c.transport.Send(ctx, ses); err != nil {
		return fmt.Errorf("send session: transport error: %w", err)
	}
	return nil
}

func (c *channel) receiveSession(ctx context.Context) (*lime.Session, error) {
	if err := c.ensureTransportOK("receive session"); err != nil {
		return nil, err
	}

	state := c.State()
	switch state {
	case lime.SessionStateFinished:
		return nil, fmt.Errorf("receive session: cannot do in the %v state", state)
	case lime.SessionStateEstablished:
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("receive session: %w", ctx.Err())
		case s, ok := <-c.inSesChan:
			if !ok {
				return nil, lime.ErrClosed
			}
			return s, nil
		}
	}

	env, err := c.transport.Receive(ctx)
	if err != nil {
		return nil, fmt.Errorf("receive session: transport error: %w", err)
	}
	ses, ok := env.(*lime.Session)
	if !ok {
		return nil, fmt.Errorf("receive session: unexpected envelope type %T", env)
	}
	return ses, nil
}

func (c *channel) SendMessage(ctx context.Context, msg *lime.Message) error {
	return c.sendToTransport(ctx, msg, "send message")
}

func (c *channel) ReceiveMessage(ctx context.Context) (*lime.Message, error) {
	if err := c.ensureEstablished("receive message"); err != nil {
		return nil, err
	}
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("receive message: %w", ctx.Err())
	case msg, ok := <-c.inMsgChan:
		if !ok {
			return nil, lime.ErrClosed
		}
		return msg, nil
	}
}

func (c *channel) SendNotification(ctx context.Context, not *lime.Notification) error {
	return c.sendToTransport(ctx, not, "send notification")
}

func (c *channel) ReceiveNotification(ctx context.Context) (*lime.Notification, error) {
	if err := c.ensureEstablished("receive notification"); err != nil {
		return nil, err
	}
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("receive notification: %w", ctx.Err())
	case not, ok := <-c.inNotChan:
		if !ok {
			return nil, lime.ErrClosed
		}
		return not, nil
	}
}

func (c *channel) SendCommand(ctx context.Context, cmd *lime.Command) error {
	return c.sendToTransport(ctx, cmd, "send command")
}

func (c *channel) ReceiveCommand(ctx context.Context) (*lime.Command, error) {
	if err := c.ensureEstablished("receive command"); err != nil {
		return nil, err
	}
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("receive command: %w", ctx.Err())
	case cmd, ok := <-c.inCmdChan:
		if !ok {
			return nil, lime.ErrClosed
		}
		return cmd, nil
	}
}

// ProcessCommand sends reqCmd and awaits the response correlated by ID,
// independent of the normal CmdChan queue. Used by callers that want a
// request/response call rather than manual send+receive pairing.
func (c *channel) ProcessCommand(ctx context.Context, reqCmd *lime.Command) (*lime.Command, error) {
	if reqCmd == nil {
		panic("channel: process command: command cannot be nil")
	}
	if reqCmd.Status != "" {
		panic("channel: process command: request command must not carry a status")
	}
	if reqCmd.ID == "" {
		panic("channel: process command: command id cannot be empty")
	}

	c.processingCmdsMu.Lock()
	if _, exists := c.processingCmds[reqCmd.ID]; exists {
		c.processingCmdsMu.Unlock()
		return nil, fmt.Errorf("channel: process command: id %q already in use", reqCmd.ID)
	}
	respChan := make(chan *lime.Command, 1)
	c.processingCmds[reqCmd.ID] = respChan
	c.processingCmdsMu.Unlock()

	defer func() {
		c.processingCmdsMu.Lock()
		delete(c.processingCmds, reqCmd.ID)
		c.processingCmdsMu.Unlock()
	}()

	if err := c.SendCommand(ctx, reqCmd); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("process command: %w", ctx.Err())
	case respCmd := <-respChan:
		return respCmd, nil
	}
}

// trySubmitCommandResult delivers respCmd to a pending ProcessCommand call
// if one is registered for its ID. Returns false when no caller is waiting,
// so the demultiplexer routes the command into the normal CmdChan instead.
func (c *channel) trySubmitCommandResult(respCmd *lime.Command) bool {
	c.processingCmdsMu.Lock()
	respChan, ok := c.processingCmds[respCmd.ID]
	if ok {
		delete(c.processingCmds, respCmd.ID)
	}
	c.processingCmdsMu.Unlock()

	if !ok {
		return false
	}
	respChan <- respCmd
	return true
}

func (c *channel) Close() error {
	c.stopRcv.Do(c.stopReceiver)
	if c.transport.Connected() {
		return c.transport.Close()
	}
	return nil
}

func (c *channel) sendToTransport(ctx context.Context, e lime.AnyEnvelope, action string) error {
	if err := c.ensureEstablished(action); err != nil {
		return err
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	c.logger.Log(ctx, config.LevelTrace, "channel: envelope sent", "session_id", c.sessionID, "action", action, "type", fmt.Sprintf("%T", e))

	if err := c.transport.Send(ctx, e); err != nil {
		return fmt.Errorf("%s: %w", action, err)
	}
	return nil
}

func (c *channel) ensureEstablished(action string) error {
	return c.ensureState(lime.SessionStateEstablished, action)
}

func (c *channel) ensureState(state lime.SessionState, action string) error {
	if err := c.ensureTransportOK(action); err != nil {
		return err
	}
	if s := c.State(); s != state {
		return fmt.Errorf("%s: cannot do in the %v state", action, s)
	}
	return nil
}

func (c *channel) ensureTransportOK(action string) error {
	if c.transport == nil {
		return fmt.Errorf("%s: transport is nil", action)
	}
	if !c.transport.Connected() {
		return fmt.Errorf("%s: %w", action, lime.ErrNotConnected)
	}
	return nil
}
