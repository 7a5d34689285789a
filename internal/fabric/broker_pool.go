package fabric

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/atlas-desktop/trade-executor/pkg/types"
	"github.com/atlas-desktop/trade-executor/pkg/utils"
	"go.uber.org/zap"
)

// BrokerPoolConfig configures the request/reply socket pool to the local
// broker bridge.
type BrokerPoolConfig struct {
	Host       string
	Port       int
	PoolSize   int
	DialTimeout time.Duration
	ReadTimeout time.Duration
	Backoff    BackoffPolicy
}

// brokerConn is one pooled TCP connection to the broker, each with its own
// state machine and reconnect loop.
type brokerConn struct {
	mu      sync.Mutex
	conn    net.Conn
	reader  *bufio.Reader
	machine *StateMachine
	stopCh  chan struct{}
}

// BrokerPool is a round-robin pool of request/reply sockets to the broker
// bridge. Requests are correlated to responses by RequestID since the
// underlying connection may interleave concurrent callers.
type BrokerPool struct {
	cfg    BrokerPoolConfig
	logger *zap.Logger

	conns []*brokerConn
	next  uint64

	pending   map[string]chan types.BrokerResponse
	pendingMu sync.Mutex
}

// NewBrokerPool constructs a pool with cfg.PoolSize idle connections. Call
// Start to dial them.
func NewBrokerPool(logger *zap.Logger, cfg BrokerPoolConfig) *BrokerPool {
	if cfg.PoolSize < 1 {
		cfg.PoolSize = 1
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 5 * time.Second
	}
	p := &BrokerPool{
		cfg:     cfg,
		logger:  logger.Named("broker-pool"),
		pending: make(map[string]chan types.BrokerResponse),
	}
	for i := 0; i < cfg.PoolSize; i++ {
		bc := &brokerConn{
			machine: NewStateMachine(logger, fmt.Sprintf("broker-conn-%d", i), cfg.Backoff),
			stopCh:  make(chan struct{}),
		}
		p.conns = append(p.conns, bc)
	}
	return p
}

// Start dials every pooled connection, launching a background reconnect
// loop for any that fail.
func (p *BrokerPool) Start(ctx context.Context) {
	for _, bc := range p.conns {
		bc := bc
		go p.connectAndServe(ctx, bc)
	}
}

// Stop closes every pooled connection and halts its reconnect loop.
func (p *BrokerPool) Stop() {
	for _, bc := range p.conns {
		close(bc.stopCh)
		bc.mu.Lock()
		if bc.conn != nil {
			bc.conn.Close()
		}
		bc.mu.Unlock()
	}
}

func (p *BrokerPool) connectAndServe(ctx context.Context, bc *brokerConn) {
	dial := func() error {
		bc.machine.MarkConnecting()
		addr := fmt.Sprintf("%s:%d", p.cfg.Host, p.cfg.Port)
		conn, err := net.DialTimeout("tcp", addr, p.cfg.DialTimeout)
		if err != nil {
			bc.machine.MarkError(err)
			return err
		}

		bc.mu.Lock()
		bc.conn = conn
		bc.reader = bufio.NewReader(conn)
		bc.mu.Unlock()
		go p.readLoop(bc)

		// Gate the Connected transition on a successful PING round trip.
		if _, err := p.roundTrip(bc, types.BrokerRequest{
			Command:   types.BrokerPing,
			RequestID: utils.GenerateID("ping"),
			Timestamp: time.Now().UnixMilli(),
		}); err != nil {
			conn.Close()
			bc.machine.MarkError(err)
			return err
		}

		return nil
	}

	if err := dial(); err != nil {
		bc.machine.BeginRetryLoop(bc.stopCh, dial)
		return
	}
	bc.machine.MarkConnected()
}

func (p *BrokerPool) readLoop(bc *brokerConn) {
	for {
		bc.mu.Lock()
		reader := bc.reader
		bc.mu.Unlock()
		if reader == nil {
			return
		}

		line, err := reader.ReadBytes('\n')
		if err != nil {
			p.logger.Warn("broker connection read error", zap.Error(err))
			bc.machine.MarkError(err)
			bc.machine.BeginRetryLoop(bc.stopCh, func() error {
				return p.redial(bc)
			})
			return
		}

		var resp types.BrokerResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			p.logger.Warn("malformed broker response", zap.Error(err))
			continue
		}

		p.pendingMu.Lock()
		ch, ok := p.pending[resp.RequestID]
		if ok {
			delete(p.pending, resp.RequestID)
		}
		p.pendingMu.Unlock()

		if ok {
			ch <- resp
		}
	}
}

// Reconnect forces every pooled connection to redial the broker bridge,
// used by the heartbeat recovery routine after repeated heartbeat
// failures (spec §4.5 "reconnect broker socket").
func (p *BrokerPool) Reconnect(ctx context.Context) error {
	var lastErr error
	for _, bc := range p.conns {
		bc.mu.Lock()
		if bc.conn != nil {
			bc.conn.Close()
		}
		bc.mu.Unlock()
		if err := p.redial(bc); err != nil {
			lastErr = err
			continue
		}
		bc.machine.MarkConnected()
	}
	return lastErr
}

func (p *BrokerPool) redial(bc *brokerConn) error {
	addr := fmt.Sprintf("%s:%d", p.cfg.Host, p.cfg.Port)
	conn, err := net.DialTimeout("tcp", addr, p.cfg.DialTimeout)
	if err != nil {
		return err
	}
	bc.mu.Lock()
	bc.conn = conn
	bc.reader = bufio.NewReader(conn)
	bc.mu.Unlock()
	go p.readLoop(bc)
	return nil
}

func (p *BrokerPool) roundTrip(bc *brokerConn, req types.BrokerRequest) (types.BrokerResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return types.BrokerResponse{}, fmt.Errorf("marshalling broker request: %w", err)
	}
	payload = append(payload, '\n')

	ch := make(chan types.BrokerResponse, 1)
	p.pendingMu.Lock()
	p.pending[req.RequestID] = ch
	p.pendingMu.Unlock()

	bc.mu.Lock()
	conn := bc.conn
	bc.mu.Unlock()
	if conn == nil {
		return types.BrokerResponse{}, fmt.Errorf("broker connection not established")
	}
	if _, err := conn.Write(payload); err != nil {
		p.pendingMu.Lock()
		delete(p.pending, req.RequestID)
		p.pendingMu.Unlock()
		return types.BrokerResponse{}, fmt.Errorf("writing broker request: %w", err)
	}

	select {
	case resp := <-ch:
		if resp.Status == types.BrokerStatusError {
			return resp, fmt.Errorf("broker error: %s", resp.Error)
		}
		return resp, nil
	case <-time.After(p.cfg.ReadTimeout):
		p.pendingMu.Lock()
		delete(p.pending, req.RequestID)
		p.pendingMu.Unlock()
		return types.BrokerResponse{}, fmt.Errorf("broker request %s timed out", req.RequestID)
	}
}

// pickConn selects the next connected connection round-robin, skipping any
// still reconnecting. Returns nil if none are connected.
func (p *BrokerPool) pickConn() *brokerConn {
	n := len(p.conns)
	start := int(atomic.AddUint64(&p.next, 1)) % n
	for i := 0; i < n; i++ {
		bc := p.conns[(start+i)%n]
		if bc.machine.State() == StateConnected {
			return bc
		}
	}
	return nil
}

// Send issues a broker request over the next available pooled connection
// and waits for its correlated response.
func (p *BrokerPool) Send(ctx context.Context, cmd types.BrokerCommand, params map[string]any) (types.BrokerResponse, error) {
	bc := p.pickConn()
	if bc == nil {
		return types.BrokerResponse{}, fmt.Errorf("no connected broker socket available")
	}

	req := types.BrokerRequest{
		Command:    cmd,
		RequestID:  utils.GenerateID("req"),
		Timestamp:  time.Now().UnixMilli(),
		Parameters: params,
	}

	type result struct {
		resp types.BrokerResponse
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := p.roundTrip(bc, req)
		done <- result{resp, err}
	}()

	select {
	case <-ctx.Done():
		return types.BrokerResponse{}, ctx.Err()
	case r := <-done:
		return r.resp, r.err
	}
}
