package ddp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Config describes how to reach the DDP server.
type Config struct {
	Host             string
	Port             int
	UseSSL           bool
	Path             string
	HandshakeTimeout time.Duration
	// ChangeBuffer bounds the Changes channel; updates beyond it are dropped.
	ChangeBuffer int
}

// URL returns the websocket endpoint.
func (c Config) URL() string {
	scheme := "ws"
	if c.UseSSL {
		scheme = "wss"
	}
	path := c.Path
	if path == "" {
		path = "/websocket"
	}
	return fmt.Sprintf("%s://%s%s", scheme, net.JoinHostPort(c.Host, strconv.Itoa(c.Port)), path)
}

type callResult struct {
	result json.RawMessage
	err    error
}

// Client is a DDP session. Methods are safe for concurrent use.
type Client struct {
	conn    net.Conn
	rw      io.ReadWriter
	writeMu sync.Mutex
	logger  *zap.Logger
	session string

	nextID atomic.Uint64

	mu          sync.Mutex
	calls       map[string]chan callResult
	subs        map[string]chan error
	collections map[string]map[string]map[string]json.RawMessage

	changes chan Change
	dropLog rate.Sometimes

	done      chan struct{}
	finishMu  sync.Once
	err       error
	closeOnce sync.Once
}

// Dial connects to the server and completes the DDP handshake.
func Dial(ctx context.Context, cfg Config, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.ChangeBuffer <= 0 {
		cfg.ChangeBuffer = 256
	}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.HandshakeTimeout)
	defer cancel()

	conn, br, _, err := ws.Dialer{Timeout: cfg.HandshakeTimeout}.Dial(dialCtx, cfg.URL())
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.URL(), err)
	}

	c := &Client{
		conn:        conn,
		logger:      logger,
		calls:       make(map[string]chan callResult),
		subs:        make(map[string]chan error),
		collections: make(map[string]map[string]map[string]json.RawMessage),
		changes:     make(chan Change, cfg.ChangeBuffer),
		dropLog:     rate.Sometimes{Interval: 5 * time.Second},
		done:        make(chan struct{}),
	}
	var r io.Reader = conn
	if br != nil {
		r = br
	}
	c.rw = struct {
		io.Reader
		io.Writer
	}{r, lockedWriter{c}}

	deadline, _ := dialCtx.Deadline()
	if err := conn.SetDeadline(deadline); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("set handshake deadline: %w", err)
	}
	if err := c.handshake(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := conn.SetDeadline(time.Time{}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("clear handshake deadline: %w", err)
	}

	c.logger.Info("ddp connected", zap.String("url", cfg.URL()), zap.String("session", c.session))
	go c.readLoop()
	return c, nil
}

func (c *Client) handshake() error {
	if err := c.send(message{Msg: "connect", Version: protocolVersion, Support: supportedVersions}); err != nil {
		return fmt.Errorf("send connect: %w", err)
	}
	for {
		msg, err := c.readMessage()
		if err != nil {
			return fmt.Errorf("read handshake: %w", err)
		}
		switch msg.Msg {
		case "connected":
			c.session = msg.Session
			return nil
		case "failed":
			return fmt.Errorf("%w: server wants version %s", ErrHandshake, msg.Version)
		case "ping":
			if err := c.send(message{Msg: "pong", ID: msg.ID}); err != nil {
				return fmt.Errorf("send pong: %w", err)
			}
		}
	}
}

// Session returns the server-assigned session id.
func (c *Client) Session() string {
	return c.session
}

// Changes streams updates to every mirrored collection. The channel is closed
// when the connection ends.
func (c *Client) Changes() <-chan Change {
	return c.changes
}

// Done is closed when the connection has ended for any reason.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err reports why the connection ended. It returns nil while connected and
// ErrClosed after Close.
func (c *Client) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Close ends the session. It is safe to call more than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.finish(ErrClosed)
		c.writeMu.Lock()
		_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = ws.WriteFrame(c.conn, ws.MaskFrame(ws.NewCloseFrame(ws.NewCloseFrameBody(ws.StatusNormalClosure, ""))))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	if err != nil {
		return fmt.Errorf("close connection: %w", err)
	}
	return nil
}

// Call invokes a server method and waits for its result.
func (c *Client) Call(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	id := c.newID()
	ch := make(chan callResult, 1)
	if err := c.register(func() { c.calls[id] = ch }); err != nil {
		return nil, err
	}
	defer c.unregister(func() { delete(c.calls, id) })

	if params == nil {
		params = []any{}
	}
	if err := c.send(message{Msg: "method", ID: id, Method: method, Params: params}); err != nil {
		return nil, fmt.Errorf("send %s: %w", method, err)
	}

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("call %s: %w", method, res.err)
		}
		return res.result, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("call %s: %w", method, ctx.Err())
	case <-c.done:
		return nil, fmt.Errorf("call %s: %w", method, c.err)
	}
}

// Subscribe starts a subscription and waits until the server marks it ready.
func (c *Client) Subscribe(ctx context.Context, name string, params ...any) error {
	id := c.newID()
	ch := make(chan error, 1)
	if err := c.register(func() { c.subs[id] = ch }); err != nil {
		return err
	}
	defer c.unregister(func() { delete(c.subs, id) })

	if params == nil {
		params = []any{}
	}
	if err := c.send(message{Msg: "sub", ID: id, Name: name, Params: params}); err != nil {
		return fmt.Errorf("send sub %s: %w", name, err)
	}

	select {
	case err := <-ch:
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", name, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("subscribe %s: %w", name, ctx.Err())
	case <-c.done:
		return fmt.Errorf("subscribe %s: %w", name, c.err)
	}
}

func (c *Client) newID() string {
	return strconv.FormatUint(c.nextID.Add(1), 10)
}

func (c *Client) register(add func()) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.done:
		return c.err
	default:
	}
	add()
	return nil
}

func (c *Client) unregister(remove func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	remove()
}

func (c *Client) send(msg message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg.Msg, err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := wsutil.WriteClientText(c.conn, data); err != nil {
		return fmt.Errorf("write %s: %w", msg.Msg, err)
	}
	return nil
}

func (c *Client) readMessage() (message, error) {
	for {
		data, op, err := wsutil.ReadServerData(c.rw)
		if err != nil {
			return message{}, err
		}
		if op != ws.OpText {
			continue
		}
		var msg message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("discarding malformed ddp message", zap.Error(err))
			continue
		}
		return msg, nil
	}
}

func (c *Client) readLoop() {
	defer close(c.changes)
	for {
		msg, err := c.readMessage()
		if err != nil {
			c.finish(fmt.Errorf("ddp: read: %w", err))
			return
		}
		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg message) {
	switch msg.Msg {
	case "ping":
		if err := c.send(message{Msg: "pong", ID: msg.ID}); err != nil {
			c.logger.Warn("pong failed", zap.Error(err))
		}
	case "pong", "updated", "connected":
	case "result":
		c.deliverResult(msg)
	case "ready":
		for _, id := range msg.Subs {
			c.deliverSub(id, nil)
		}
	case "nosub":
		var err error = ErrClosed
		if msg.Error != nil {
			err = msg.Error
		}
		c.deliverSub(msg.ID, err)
	case "added", "changed", "removed":
		c.applyChange(msg)
	case "error":
		c.logger.Error("ddp server error", zap.String("reason", msg.Reason))
	default:
		c.logger.Debug("ignoring ddp message", zap.String("msg", msg.Msg))
	}
}

func (c *Client) deliverResult(msg message) {
	c.mu.Lock()
	ch, ok := c.calls[msg.ID]
	c.mu.Unlock()
	if !ok {
		return
	}
	res := callResult{result: msg.Result}
	if msg.Error != nil {
		res.err = msg.Error
	}
	select {
	case ch <- res:
	default:
	}
}

func (c *Client) deliverSub(id string, err error) {
	c.mu.Lock()
	ch, ok := c.subs[id]
	c.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- err:
	default:
	}
}

func (c *Client) applyChange(msg message) {
	c.mu.Lock()
	coll := c.collections[msg.Collection]
	if coll == nil {
		coll = make(map[string]map[string]json.RawMessage)
		c.collections[msg.Collection] = coll
	}
	var doc map[string]json.RawMessage
	switch msg.Msg {
	case "added":
		doc = maps.Clone(msg.Fields)
		if doc == nil {
			doc = make(map[string]json.RawMessage)
		}
		coll[msg.ID] = doc
	case "changed":
		doc = coll[msg.ID]
		if doc == nil {
			doc = make(map[string]json.RawMessage)
			coll[msg.ID] = doc
		}
		maps.Copy(doc, msg.Fields)
		for _, key := range msg.Cleared {
			delete(doc, key)
		}
	case "removed":
		doc = coll[msg.ID]
		delete(coll, msg.ID)
	}
	change := Change{
		Collection: msg.Collection,
		ID:         msg.ID,
		Kind:       ChangeKind(msg.Msg),
		Fields:     msg.Fields,
		Cleared:    msg.Cleared,
		Doc:        maps.Clone(doc),
	}
	c.mu.Unlock()

	select {
	case c.changes <- change:
	default:
		c.dropLog.Do(func() {
			c.logger.Warn("ddp change buffer full, dropping update",
				zap.String("collection", change.Collection),
				zap.String("id", change.ID),
			)
		})
	}
}

// finish records why the session ended and releases every waiter.
func (c *Client) finish(err error) {
	c.finishMu.Do(func() {
		c.mu.Lock()
		c.err = err
		close(c.done)
		c.mu.Unlock()
	})
}

type lockedWriter struct {
	c *Client
}

func (w lockedWriter) Write(p []byte) (int, error) {
	w.c.writeMu.Lock()
	defer w.c.writeMu.Unlock()
	n, err := w.c.conn.Write(p)
	if err != nil {
		return n, fmt.Errorf("write control frame: %w", err)
	}
	return n, nil
}
