package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"colony/pkg/logx"
	"colony/pkg/metrics"
)

const (
	initialBackoff   = 2 * time.Second
	maxBackoff       = 60 * time.Second
	pushInterval     = 5 * time.Second
	writeTimeout     = 5 * time.Second
	handshakeTimeout = 5 * time.Second
	restartDelay     = 500 * time.Millisecond
	outboundDepth    = 64
)

// Handler executes remote commands and produces state snapshots. The
// colony controller implements it; the client stays transport-only.
type Handler interface {
	Snapshot(ctx context.Context) (*StateUpdate, error)
	SendMessage(ctx context.Context, to, content, messageType string) (string, error)
	CreateTask(ctx context.Context, title, description, assignedTo, priority string) (string, error)
	StartAgent(ctx context.Context, agentID string) error
	StopAgent(ctx context.Context, agentID string) error
}

// Config holds the connection parameters for one relay session.
type Config struct {
	URL       string
	ColonyID  string
	AuthToken string
}

// Client is the reconnecting relay client. Construct with New, run with
// Run; cancelling the context is the only way to stop it.
type Client struct {
	cfg     Config
	handler Handler
	logger  *logx.Logger

	writeMu sync.Mutex
	conn    *websocket.Conn
}

func New(cfg Config, handler Handler) *Client {
	return &Client{
		cfg:     cfg,
		handler: handler,
		logger:  logx.NewLogger("relay"),
	}
}

// Run connects and keeps reconnecting with exponential backoff, 2s
// doubling to 60s. A clean server close resets the backoff to 2s. Returns
// only when ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	backoff := initialBackoff
	for {
		err := c.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if isCleanClose(err) {
			backoff = initialBackoff
			c.logger.Info("relay closed the session, reconnecting in %s", backoff)
		} else {
			c.logger.Warn("relay session ended: %v (reconnecting in %s)", err, backoff)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
		metrics.Default().RelayReconnect()
	}
}

func isCleanClose(err error) bool {
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure, websocket.CloseGoingAway)
}

// session runs one connection: connect frame, then the reader, the writer,
// and the state pusher until any of them fails. The socket is closed in
// the shared cleanup path so all three unwind together.
func (c *Client) session(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to dial relay: %w", err)
	}

	c.writeMu.Lock()
	c.conn = conn
	c.writeMu.Unlock()

	sctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		_ = conn.Close()
	}()

	if err := c.writeFrame(TypeConnect, &ConnectPayload{
		ColonyID:  c.cfg.ColonyID,
		AuthToken: c.cfg.AuthToken,
		Version:   Version,
	}); err != nil {
		return err
	}

	outbound := make(chan []byte, outboundDepth)
	errCh := make(chan error, 2)

	go c.pushLoop(sctx, outbound)
	go func() { errCh <- c.writeLoop(sctx, outbound) }()
	go func() { errCh <- c.readLoop(sctx, outbound) }()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// pushLoop enqueues a state_update every tick. A full outbound queue drops
// the snapshot; the next tick carries fresher data anyway.
func (c *Client) pushLoop(ctx context.Context, outbound chan<- []byte) {
	ticker := time.NewTicker(pushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		update, err := c.handler.Snapshot(ctx)
		if err != nil {
			c.logger.Warn("failed to build state snapshot: %v", err)
			continue
		}
		update.ColonyID = c.cfg.ColonyID
		update.Timestamp = time.Now().UTC()

		frame, err := encodeFrame(TypeStateUpdate, update)
		if err != nil {
			c.logger.Warn("failed to encode state update: %v", err)
			continue
		}
		c.enqueue(outbound, frame)
	}
}

func (c *Client) enqueue(outbound chan<- []byte, frame []byte) {
	select {
	case outbound <- frame:
	default:
		c.logger.Warn("outbound queue full, dropping frame")
	}
}

func (c *Client) writeLoop(ctx context.Context, outbound <-chan []byte) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame := <-outbound:
			if err := c.writeRaw(frame); err != nil {
				return err
			}
		}
	}
}

func (c *Client) readLoop(ctx context.Context, outbound chan<- []byte) error {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return err
		}

		var envelope Envelope
		if err := json.Unmarshal(data, &envelope); err != nil {
			c.logger.Warn("unparsable relay frame: %v", err)
			continue
		}

		switch envelope.Type {
		case TypeConnected:
			c.logger.Info("relay session established for colony %s", c.cfg.ColonyID)
		case TypePing:
			frame, err := encodeFrame(TypePong, struct{}{})
			if err != nil {
				return err
			}
			c.enqueue(outbound, frame)
		case TypeError:
			var payload ErrorPayload
			_ = json.Unmarshal(envelope.Payload, &payload)
			c.logger.Warn("relay error: %s", payload.Message)
		case TypeCommand:
			var cmd CommandEnvelope
			if err := json.Unmarshal(envelope.Payload, &cmd); err != nil {
				c.logger.Warn("unparsable command payload: %v", err)
				continue
			}
			// Commands run off the read loop so a slow restart cannot
			// starve ping handling.
			go c.runCommand(ctx, outbound, &cmd)
		default:
			c.logger.DebugDomain("relay", "ignoring frame type %q", envelope.Type)
		}
	}
}

func (c *Client) runCommand(ctx context.Context, outbound chan<- []byte, cmd *CommandEnvelope) {
	output, err := c.execute(ctx, &cmd.Command)

	result := CommandResult{RequestID: cmd.RequestID, Success: err == nil, Output: output}
	if err != nil {
		result.Error = err.Error()
		c.logger.Warn("command %s failed: %v", cmd.Command.Type, err)
	}

	frame, encErr := encodeFrame(TypeCommandResult, &result)
	if encErr != nil {
		c.logger.Warn("failed to encode command result: %v", encErr)
		return
	}
	c.enqueue(outbound, frame)
}

func (c *Client) execute(ctx context.Context, cmd *Command) (string, error) {
	switch cmd.Type {
	case CmdSendMessage:
		return c.handler.SendMessage(ctx, cmd.To, cmd.Content, cmd.MessageType)
	case CmdBroadcastMessage:
		return c.handler.SendMessage(ctx, "all", cmd.Content, "")
	case CmdCreateTask:
		return c.handler.CreateTask(ctx, cmd.Title, cmd.Description, cmd.AssignedTo, cmd.Priority)
	case CmdStartAgent:
		return "", c.handler.StartAgent(ctx, cmd.AgentID)
	case CmdStopAgent:
		return "", c.handler.StopAgent(ctx, cmd.AgentID)
	case CmdRestartAgent:
		if err := c.handler.StopAgent(ctx, cmd.AgentID); err != nil {
			return "", err
		}
		time.Sleep(restartDelay)
		return "", c.handler.StartAgent(ctx, cmd.AgentID)
	default:
		return "", errors.New("unknown command type: " + string(cmd.Type))
	}
}

func (c *Client) writeFrame(frameType string, payload any) error {
	frame, err := encodeFrame(frameType, payload)
	if err != nil {
		return err
	}
	return c.writeRaw(frame)
}

func (c *Client) writeRaw(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}
