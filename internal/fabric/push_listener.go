package fabric

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"sync"

	"github.com/atlas-desktop/trade-executor/pkg/types"
	"go.uber.org/zap"
)

// PushListener accepts unsolicited broker frames (account info, market
// data, heartbeat) pushed over a dedicated inbound TCP connection and
// dispatches them to registered handlers.
type PushListener struct {
	addr     string
	logger   *zap.Logger
	machine  *StateMachine
	listener net.Listener

	mu       sync.RWMutex
	handlers map[types.BrokerPushAction][]func(types.BrokerPushFrame)

	stopCh chan struct{}
}

// NewPushListener builds a push listener bound to addr (e.g. "127.0.0.1:9191").
func NewPushListener(logger *zap.Logger, addr string) *PushListener {
	return &PushListener{
		addr:     addr,
		logger:   logger.Named("push-listener"),
		machine:  NewStateMachine(logger, "push-listener", DefaultBackoffPolicy()),
		handlers: make(map[types.BrokerPushAction][]func(types.BrokerPushFrame)),
		stopCh:   make(chan struct{}),
	}
}

// On registers a handler for a push action.
func (l *PushListener) On(action types.BrokerPushAction, handler func(types.BrokerPushFrame)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers[action] = append(l.handlers[action], handler)
}

// State returns the listener's connection state.
func (l *PushListener) State() ConnState { return l.machine.State() }

// Start binds the listener once and begins accepting broker connections
// until Stop is called. An accept error ends the accept loop; the bind is
// not re-established.
func (l *PushListener) Start() error {
	bind := func() error {
		l.machine.MarkConnecting()
		ln, err := net.Listen("tcp", l.addr)
		if err != nil {
			l.machine.MarkError(err)
			return err
		}
		l.listener = ln
		go l.acceptLoop(ln)
		return nil
	}

	if err := bind(); err != nil {
		return fmt.Errorf("binding push listener on %s: %w", l.addr, err)
	}
	l.machine.MarkConnected()
	return nil
}

// Stop closes the listening socket.
func (l *PushListener) Stop() {
	close(l.stopCh)
	if l.listener != nil {
		l.listener.Close()
	}
	l.machine.MarkDisconnected()
}

func (l *PushListener) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-l.stopCh:
				return
			default:
				l.logger.Warn("accept error", zap.Error(err))
				return
			}
		}
		go l.handleConn(conn)
	}
}

func (l *PushListener) handleConn(conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)

	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			return
		}

		var frame types.BrokerPushFrame
		if err := json.Unmarshal(line, &frame); err != nil {
			l.logger.Warn("malformed push frame", zap.Error(err))
			continue
		}

		ack := types.BrokerPushAck{Success: true}
		switch frame.Action {
		case types.PushAccountInfo, types.PushMarketData, types.PushHeartbeat:
			l.dispatch(frame)
		default:
			ack = types.BrokerPushAck{Success: false, Error: "Unknown action"}
		}

		payload, err := json.Marshal(ack)
		if err != nil {
			continue
		}
		payload = append(payload, '\n')
		if _, err := conn.Write(payload); err != nil {
			l.logger.Warn("failed to ack push frame", zap.Error(err))
			return
		}
	}
}

func (l *PushListener) dispatch(frame types.BrokerPushFrame) {
	l.mu.RLock()
	handlers := append([]func(types.BrokerPushFrame){}, l.handlers[frame.Action]...)
	l.mu.RUnlock()

	for _, h := range handlers {
		h(frame)
	}
}
