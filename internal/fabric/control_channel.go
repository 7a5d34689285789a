package fabric

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/atlas-desktop/trade-executor/pkg/types"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ControlChannelClient is the websocket client that receives pushed
// commands (START_STRATEGY, UPDATE_STRATEGY, emergency-stop, ...) from the
// control plane. Reconnects with exponential backoff on any drop.
type ControlChannelClient struct {
	url     string
	apiKey  string
	logger  *zap.Logger
	machine *StateMachine

	mu   sync.Mutex
	conn *websocket.Conn

	commandHandlers []func(types.Command)

	stopCh chan struct{}
}

// NewControlChannelClient builds a client for the given websocket URL.
func NewControlChannelClient(logger *zap.Logger, url, apiKey string, backoff BackoffPolicy) *ControlChannelClient {
	return &ControlChannelClient{
		url:     url,
		apiKey:  apiKey,
		logger:  logger.Named("control-channel"),
		machine: NewStateMachine(logger, "control-channel", backoff),
		stopCh:  make(chan struct{}),
	}
}

// OnCommand registers a callback invoked for every inbound command.
func (c *ControlChannelClient) OnCommand(handler func(types.Command)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commandHandlers = append(c.commandHandlers, handler)
}

// State returns the client's connection state.
func (c *ControlChannelClient) State() ConnState { return c.machine.State() }

// Start connects to the control channel and begins dispatching inbound
// commands. Reconnects automatically until Stop is called.
func (c *ControlChannelClient) Start(ctx context.Context) error {
	connect := func() error {
		c.machine.MarkConnecting()

		dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
		header := map[string][]string{"Authorization": {"Bearer " + c.apiKey}}
		conn, _, err := dialer.DialContext(ctx, c.url, header)
		if err != nil {
			c.machine.MarkError(err)
			return fmt.Errorf("dialing control channel: %w", err)
		}

		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()

		go c.readLoop()
		c.logger.Info("connected to control channel", zap.String("url", c.url))
		return nil
	}

	if err := connect(); err != nil {
		go c.machine.BeginRetryLoop(c.stopCh, connect)
		return nil
	}
	c.machine.MarkConnected()
	return nil
}

// Send writes one outbound client event (e.g. client-command-result, or a
// heartbeat falling back from the REST transport) to the control channel.
func (c *ControlChannelClient) Send(payload any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("control channel: not connected")
	}
	return conn.WriteJSON(payload)
}

// Reconnect forces a fresh dial, used by the heartbeat recovery routine
// after repeated heartbeat failures (spec §4.5 "reconnect push").
func (c *ControlChannelClient) Reconnect(ctx context.Context) error {
	return c.reconnect()
}

// Stop closes the websocket connection.
func (c *ControlChannelClient) Stop() {
	close(c.stopCh)
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.mu.Unlock()
	c.machine.MarkDisconnected()
}

func (c *ControlChannelClient) readLoop() {
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.stopCh:
				return
			default:
			}
			c.logger.Warn("control channel read error", zap.Error(err))
			c.machine.MarkError(err)
			go c.machine.BeginRetryLoop(c.stopCh, func() error {
				return c.reconnect()
			})
			return
		}

		var cmd types.Command
		if err := json.Unmarshal(message, &cmd); err != nil {
			c.logger.Warn("malformed control channel frame", zap.Error(err))
			continue
		}

		c.mu.Lock()
		handlers := append([]func(types.Command){}, c.commandHandlers...)
		c.mu.Unlock()
		for _, h := range handlers {
			h(cmd)
		}
	}
}

func (c *ControlChannelClient) reconnect() error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	header := map[string][]string{"Authorization": {"Bearer " + c.apiKey}}
	conn, _, err := dialer.Dial(c.url, header)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	go c.readLoop()
	return nil
}
