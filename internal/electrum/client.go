// Package electrum implements the subset of the Electrum Cash JSON-RPC
// protocol the monitor needs: version negotiation, health pings, header and
// address subscriptions, and unspent-output listings.
//
// Protocol reference: https://electrum-cash-protocol.readthedocs.io/en/latest/
package electrum

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/bcext/cashutil"

	"github.com/farmstream/bchwatch/internal/config"
)

type connState int

const (
	stateInit connState = iota
	stateConnecting
	stateConnected
	stateDisconnected
)

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

// rpcMessage is any inbound line: a response (id present) or a notification
// (method present, id absent).
type rpcMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *uint64         `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// notification is an inbound server push queued for the dispatch goroutine.
type notification struct {
	method string
	params json.RawMessage
}

// Header is the chain tip reported by blockchain.headers.subscribe.
type Header struct {
	Height int64  `json:"height"`
	Hex    string `json:"hex"`
}

// UTXO is one unspent output as reported by blockchain.address.listunspent.
type UTXO struct {
	TxHash string          `json:"tx_hash"`
	TxPos  uint32          `json:"tx_pos"`
	Height int64           `json:"height"`
	Value  cashutil.Amount `json:"value"`
}

// NotificationHandler consumes the params array of a server notification.
type NotificationHandler func(params json.RawMessage)

// Client is a JSON-RPC 2.0 client for an Electrum Cash (Fulcrum) server over
// TCP or TLS. One connection carries all traffic: concurrent callers are
// multiplexed by request id, socket writes are serialized, and a dedicated
// reader routes responses to waiters and notifications to registered handlers.
//
// Connect and Close may be called repeatedly; the watchdog cycles them when
// the server stops answering. Connect itself is not safe for concurrent use.
type Client struct {
	cfg *config.Config

	nextID atomic.Uint64

	stateMu        sync.Mutex
	state          connState
	conn           net.Conn
	gen            uint64
	serverSoftware string
	serverProtocol string

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[uint64]chan *rpcMessage

	handlersMu sync.RWMutex
	handlers   map[string]NotificationHandler
}

// NewClient creates a client for the configured server. No connection is made
// until Connect.
func NewClient(cfg *config.Config) *Client {
	return &Client{
		cfg:      cfg,
		pending:  make(map[uint64]chan *rpcMessage),
		handlers: make(map[string]NotificationHandler),
	}
}

// Connect dials the server, starts the reader, and negotiates the protocol
// version. On any failure the client is left disconnected.
func (c *Client) Connect(ctx context.Context) error {
	c.stateMu.Lock()
	if c.state == stateConnected {
		c.stateMu.Unlock()
		return nil
	}
	c.state = stateConnecting
	c.stateMu.Unlock()

	addr := c.cfg.ElectrumAddr()
	slog.Info("connecting to electrum server", "addr", addr, "tls", c.cfg.ElectrumTLS)

	conn, err := c.dial(ctx, addr)
	if err != nil {
		c.stateMu.Lock()
		c.state = stateDisconnected
		c.stateMu.Unlock()
		return fmt.Errorf("failed to dial electrum server %s: %w", addr, err)
	}

	notifs := make(chan notification, config.NotificationQueueSize)

	c.stateMu.Lock()
	c.conn = conn
	c.gen++
	gen := c.gen
	c.stateMu.Unlock()

	go c.readLoop(conn, notifs, gen)
	go c.dispatchLoop(notifs)

	software, protocol, err := c.negotiate(ctx)
	if err != nil {
		c.Close()
		return err
	}

	c.stateMu.Lock()
	c.state = stateConnected
	c.serverSoftware = software
	c.serverProtocol = protocol
	c.stateMu.Unlock()

	slog.Info("electrum session established",
		"server", software,
		"protocol", protocol,
	)

	return nil
}

func (c *Client) dial(ctx context.Context, addr string) (net.Conn, error) {
	d := &net.Dialer{Timeout: config.ElectrumDialTimeout}

	if !c.cfg.ElectrumTLS {
		return d.DialContext(ctx, "tcp", addr)
	}

	td := &tls.Dialer{
		NetDialer: d,
		Config: &tls.Config{
			MinVersion:         tls.VersionTLS12,
			ServerName:         c.cfg.ElectrumHost,
			InsecureSkipVerify: c.cfg.ElectrumInsecure,
		},
	}
	return td.DialContext(ctx, "tcp", addr)
}

// negotiate sends server.version and requires a [software, protocol] pair.
func (c *Client) negotiate(ctx context.Context) (software, protocol string, err error) {
	result, err := c.call(ctx, "server.version", config.ElectrumClientName, config.ElectrumProtocolVersion)
	if err != nil {
		return "", "", fmt.Errorf("version negotiation failed: %w", err)
	}

	var version []string
	if err := json.Unmarshal(result, &version); err != nil {
		return "", "", fmt.Errorf("%w: server.version returned %s", ErrProtocolMismatch, result)
	}
	if len(version) != 2 {
		return "", "", fmt.Errorf("%w: server.version returned %d elements, want 2", ErrProtocolMismatch, len(version))
	}
	return version[0], version[1], nil
}

// Close tears down the connection and fails every in-flight request. Safe to
// call repeatedly.
func (c *Client) Close() {
	c.stateMu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	alreadyDown := c.state == stateDisconnected
	c.state = stateDisconnected
	c.stateMu.Unlock()

	c.failPending()

	if !alreadyDown {
		slog.Info("electrum connection closed")
	}
}

// Connected reports whether version negotiation has completed on a live
// connection.
func (c *Client) Connected() bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state == stateConnected
}

// ServerInfo returns the software and protocol strings from the last
// successful negotiation.
func (c *Client) ServerInfo() (software, protocol string) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.serverSoftware, c.serverProtocol
}

// OnNotification registers the handler for a notification method, replacing
// any previous one. Handlers run on the dispatch goroutine: a slow handler
// delays later notifications but never blocks the socket reader.
func (c *Client) OnNotification(method string, handler NotificationHandler) {
	c.handlersMu.Lock()
	c.handlers[method] = handler
	c.handlersMu.Unlock()
}

// Ping checks connection liveness.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.call(ctx, "server.ping")
	return err
}

// SubscribeHeaders subscribes to new-block notifications and returns the
// current chain tip.
func (c *Client) SubscribeHeaders(ctx context.Context) (*Header, error) {
	result, err := c.call(ctx, "blockchain.headers.subscribe")
	if err != nil {
		return nil, err
	}

	var header Header
	if err := json.Unmarshal(result, &header); err != nil {
		return nil, fmt.Errorf("%w: headers.subscribe result: %v", ErrPayloadMalformed, err)
	}
	return &header, nil
}

// SubscribeAddress subscribes to status changes for an address and returns
// its current status hash. A nil status means the address has no history yet.
func (c *Client) SubscribeAddress(ctx context.Context, address string) (*string, error) {
	result, err := c.call(ctx, "blockchain.address.subscribe", address)
	if err != nil {
		return nil, err
	}

	if string(result) == "null" {
		return nil, nil
	}
	var status string
	if err := json.Unmarshal(result, &status); err != nil {
		return nil, fmt.Errorf("%w: address.subscribe result: %v", ErrPayloadMalformed, err)
	}
	return &status, nil
}

// UnsubscribeAddress cancels an address subscription.
func (c *Client) UnsubscribeAddress(ctx context.Context, address string) (bool, error) {
	result, err := c.call(ctx, "blockchain.address.unsubscribe", address)
	if err != nil {
		return false, err
	}

	var ok bool
	if err := json.Unmarshal(result, &ok); err != nil {
		return false, fmt.Errorf("%w: address.unsubscribe result: %v", ErrPayloadMalformed, err)
	}
	return ok, nil
}

// ListUnspent returns the current unspent outputs of an address in server
// listing order.
func (c *Client) ListUnspent(ctx context.Context, address string) ([]UTXO, error) {
	result, err := c.call(ctx, "blockchain.address.listunspent", address)
	if err != nil {
		return nil, err
	}

	var utxos []UTXO
	if err := json.Unmarshal(result, &utxos); err != nil {
		return nil, fmt.Errorf("%w: address.listunspent result: %v", ErrPayloadMalformed, err)
	}
	return utxos, nil
}

// call sends one request and waits for its response or a deadline. The
// completion slot is registered before the bytes hit the wire so the reader
// can never race ahead of the waiter.
func (c *Client) call(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	c.stateMu.Lock()
	if (c.state != stateConnected && c.state != stateConnecting) || c.conn == nil {
		c.stateMu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrTransportDown, method)
	}
	conn := c.conn
	gen := c.gen
	c.stateMu.Unlock()

	if params == nil {
		params = []any{}
	}

	id := c.nextID.Add(1)
	req := rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", method, err)
	}
	data = append(data, '\n')

	respCh := make(chan *rpcMessage, 1)
	c.pendingMu.Lock()
	c.pending[id] = respCh
	c.pendingMu.Unlock()

	c.writeMu.Lock()
	_, err = conn.Write(data)
	c.writeMu.Unlock()
	if err != nil {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		c.markDown(gen)
		return nil, fmt.Errorf("%w: write %s: %v", ErrTransportDown, method, err)
	}

	ctx, cancel := context.WithTimeout(ctx, config.ElectrumRequestTimeout)
	defer cancel()

	select {
	case resp, ok := <-respCh:
		if !ok {
			return nil, fmt.Errorf("%w: %s aborted", ErrTransportDown, method)
		}
		if resp.Error != nil {
			return nil, &PeerError{Code: resp.Error.Code, Message: resp.Error.Message}
		}
		return resp.Result, nil
	case <-ctx.Done():
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s after %s", ErrRequestTimeout, method, config.ElectrumRequestTimeout)
		}
		return nil, ctx.Err()
	}
}

// readLoop owns the socket read side for one connection generation. It frames
// messages on newlines, routes responses by id, and queues notifications for
// the dispatcher. It exits on EOF, socket error, or an oversized line, and
// marks the connection down.
func (c *Client) readLoop(conn net.Conn, notifs chan notification, gen uint64) {
	defer close(notifs)

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), config.ElectrumReadBufferSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		var msg rpcMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			slog.Warn("discarding undecodable electrum message", "error", err, "bytes", len(line))
			continue
		}

		if msg.ID != nil {
			c.deliver(*msg.ID, &msg)
			continue
		}

		if msg.Method == "" {
			slog.Warn("electrum message has neither id nor method")
			continue
		}

		select {
		case notifs <- notification{method: msg.Method, params: msg.Params}:
		default:
			slog.Warn("notification queue full, dropping", "method", msg.Method)
		}
	}

	if err := scanner.Err(); err != nil {
		slog.Warn("electrum read loop ended", "error", err)
	}
	c.markDown(gen)
}

// dispatchLoop drains queued notifications until the reader closes the queue.
func (c *Client) dispatchLoop(notifs chan notification) {
	for n := range notifs {
		c.handlersMu.RLock()
		handler, ok := c.handlers[n.method]
		c.handlersMu.RUnlock()

		if !ok {
			slog.Debug("no handler for notification", "method", n.method)
			continue
		}
		handler(n.params)
	}
}

// deliver hands a response to its waiting caller. Late responses whose waiter
// already timed out are dropped.
func (c *Client) deliver(id uint64, msg *rpcMessage) {
	c.pendingMu.Lock()
	ch, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
		ch <- msg
	}
	c.pendingMu.Unlock()

	if !ok {
		slog.Debug("response for unknown request id", "id", id)
	}
}

// markDown transitions to disconnected and fails in-flight requests, but only
// if gen still identifies the current connection. A reader from a previous
// generation exiting late must not tear down its successor.
func (c *Client) markDown(gen uint64) {
	c.stateMu.Lock()
	if gen != c.gen {
		c.stateMu.Unlock()
		return
	}
	if c.state == stateDisconnected {
		c.stateMu.Unlock()
		c.failPending()
		return
	}
	c.state = stateDisconnected
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.stateMu.Unlock()

	c.failPending()
	slog.Warn("electrum connection marked down")
}

// failPending closes every completion slot, waking all waiters with a
// transport-down error.
func (c *Client) failPending() {
	c.pendingMu.Lock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()
}
