package broadcast

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	maxFrameBytes = 1 << 10
	writeTimeout  = 5 * time.Second
)

// Relay fans WebSocket frames out to every other connection joined to the same
// channel name (query parameter "channel").
type Relay struct {
	logger         *zap.Logger
	originPatterns []string

	mu    sync.RWMutex
	rooms map[string]map[*relayConn]struct{}
}

type relayConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// NewRelay builds a relay. originPatterns is passed to websocket.Accept.
func NewRelay(logger *zap.Logger, originPatterns ...string) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{
		logger:         logger,
		originPatterns: originPatterns,
		rooms:          make(map[string]map[*relayConn]struct{}),
	}
}

func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	name := req.URL.Query().Get("channel")
	if name == "" {
		http.Error(w, "channel required", http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, req, &websocket.AcceptOptions{OriginPatterns: r.originPatterns})
	if err != nil {
		r.logger.Warn("broadcast relay: accept failed", zap.Error(err))
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	rc := &relayConn{conn: conn}
	r.join(name, rc)
	defer func() {
		r.leave(name, rc)
		_ = conn.Close(websocket.StatusNormalClosure, "bye")
	}()

	ctx := req.Context()
	for {
		mt, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				r.logger.Debug("broadcast relay: read failed", zap.Error(err))
			}
			return
		}
		if mt != websocket.MessageText {
			continue
		}
		if _, err := decodeEnvelope(data); err != nil {
			r.logger.Warn("broadcast relay: dropping malformed frame", zap.Error(err))
			continue
		}
		r.fanout(ctx, name, rc, data)
	}
}

func (r *Relay) join(name string, rc *relayConn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room := r.rooms[name]
	if room == nil {
		room = make(map[*relayConn]struct{})
		r.rooms[name] = room
	}
	room[rc] = struct{}{}
}

func (r *Relay) leave(name string, rc *relayConn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room := r.rooms[name]
	delete(room, rc)
	if len(room) == 0 {
		delete(r.rooms, name)
	}
}

func (r *Relay) fanout(ctx context.Context, name string, from *relayConn, data []byte) {
	r.mu.RLock()
	targets := make([]*relayConn, 0, len(r.rooms[name]))
	for rc := range r.rooms[name] {
		if rc != from {
			targets = append(targets, rc)
		}
	}
	r.mu.RUnlock()

	for _, rc := range targets {
		if err := rc.write(ctx, data); err != nil {
			r.logger.Debug("broadcast relay: write failed", zap.Error(err))
		}
	}
}

func (rc *relayConn) write(parent context.Context, data []byte) error {
	ctx, cancel := context.WithTimeout(parent, writeTimeout)
	defer cancel()
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.conn.Write(ctx, websocket.MessageText, data)
}

// WSChannel is an endpoint connected to a [Relay].
type WSChannel struct {
	conn   *websocket.Conn
	origin string
	logger *zap.Logger

	writeMu sync.Mutex
	out     chan Message
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	closeOnce sync.Once
	closed    chan struct{}
}

// DialWS connects to a relay URL such as ws://host/broadcast?channel=cardauth.
func DialWS(ctx context.Context, url string, logger *zap.Logger) (*WSChannel, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(maxFrameBytes)

	readCtx, cancel := context.WithCancel(context.Background())
	c := &WSChannel{
		conn:   conn,
		origin: uuid.NewString(),
		logger: logger,
		out:    make(chan Message, defaultBuffer),
		cancel: cancel,
		closed: make(chan struct{}),
	}
	c.wg.Add(1)
	go c.run(readCtx)
	return c, nil
}

func (c *WSChannel) run(ctx context.Context) {
	defer c.wg.Done()
	defer close(c.out)
	for {
		mt, data, err := c.conn.Read(ctx)
		if err != nil {
			return
		}
		if mt != websocket.MessageText {
			continue
		}
		env, err := decodeEnvelope(data)
		if err != nil || env.Origin == c.origin {
			continue
		}
		select {
		case c.out <- Message{Type: env.Type}:
		default:
		}
	}
}

func (c *WSChannel) Publish(ctx context.Context, m Message) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}
	payload, err := encodeEnvelope(c.origin, m)
	if err != nil {
		return err
	}

	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.Write(wctx, websocket.MessageText, payload)
}

func (c *WSChannel) Messages() <-chan Message {
	return c.out
}

func (c *WSChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.conn.Close(websocket.StatusNormalClosure, "bye")
		c.cancel()
		c.wg.Wait()
	})
	return err
}

var _ Channel = (*WSChannel)(nil)
