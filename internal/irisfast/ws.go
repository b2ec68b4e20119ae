package irisfast

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// MessageCallback receives each decoded inbound message. Callbacks run on the
// read loop and must not block.
type MessageCallback func(message *Message)

type StateCallback func(state WebSocketState)

// frame is the bridge's event envelope. Older bridges push bare messages,
// which decode with an empty Event.
type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

const eventMessage = "message"

// WebSocket is the inbound event stream. One supervisor goroutine owns the
// connection and redials with backoff until the attempt budget is spent.
type WebSocket struct {
	wsURL        string
	maxAttempts  int
	retryDelay   time.Duration
	pingInterval time.Duration
	headers      HeaderProvider
	logger       *zap.Logger

	mu    sync.RWMutex
	conn  *websocket.Conn
	state WebSocketState

	writeM sync.Mutex

	cbM      sync.RWMutex
	nextID   int
	msgCbs   map[int]MessageCallback
	stateCbs map[int]StateCallback

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewWebSocket(wsURL string, maxReconnectAttempts int, reconnectDelay time.Duration) *WebSocket {
	return &WebSocket{
		wsURL:        wsURL,
		maxAttempts:  maxReconnectAttempts,
		retryDelay:   reconnectDelay,
		pingInterval: 30 * time.Second,
		logger:       zap.NewNop(),
		state:        WSStateDisconnected,
		msgCbs:       map[int]MessageCallback{},
		stateCbs:     map[int]StateCallback{},
		stopCh:       make(chan struct{}),
	}
}

// SetHeaderProvider injects headers into every handshake.
func (ws *WebSocket) SetHeaderProvider(h HeaderProvider) { ws.headers = h }

func (ws *WebSocket) SetLogger(l *zap.Logger) {
	if l != nil {
		ws.logger = l
	}
}

// Connect dials once and, on success, hands the connection to the supervisor.
// A failed first dial is returned and still retried in the background.
func (ws *WebSocket) Connect(ctx context.Context) error {
	if s := ws.State(); s == WSStateConnected || s == WSStateConnecting {
		return nil
	}
	ws.setState(WSStateConnecting)
	conn, err := ws.dial(ctx)
	if err != nil {
		ws.setState(WSStateFailed)
		ws.logger.Warn("ws_connect_failed", zap.String("url", ws.wsURL), zap.Error(err))
	} else {
		ws.attach(conn)
	}

	ws.wg.Add(1)
	go ws.supervise(conn)
	return err
}

func (ws *WebSocket) dial(ctx context.Context) (*websocket.Conn, error) {
	dctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(dctx, ws.wsURL, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
		HTTPHeader:      ws.buildHeaders(),
	})
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(4 << 20)
	return conn, nil
}

func (ws *WebSocket) attach(conn *websocket.Conn) {
	ws.mu.Lock()
	ws.conn = conn
	ws.mu.Unlock()
	ws.setState(WSStateConnected)
}

func (ws *WebSocket) supervise(conn *websocket.Conn) {
	defer ws.wg.Done()
	for {
		if conn != nil {
			ws.serve(conn)
			if ws.stopping() {
				return
			}
			ws.logger.Warn("ws_disconnected", zap.String("url", ws.wsURL))
		}
		conn = ws.redial()
		if conn == nil {
			return
		}
	}
}

// redial returns nil when stopping or when the attempt budget is spent.
func (ws *WebSocket) redial() *websocket.Conn {
	if ws.maxAttempts <= 0 || ws.stopping() {
		ws.setState(WSStateDisconnected)
		return nil
	}
	ws.setState(WSStateReconnecting)
	for attempt := 1; attempt <= ws.maxAttempts; attempt++ {
		select {
		case <-ws.stopCh:
			return nil
		case <-time.After(ws.retryDelay + backoffDuration(attempt)):
		}
		conn, err := ws.dial(context.Background())
		if err != nil {
			ws.logger.Debug("ws_redial_failed", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}
		ws.logger.Info("ws_reconnected", zap.Int("attempt", attempt))
		ws.attach(conn)
		return conn
	}
	ws.setState(WSStateFailed)
	ws.logger.Error("ws_reconnect_exhausted", zap.Int("attempts", ws.maxAttempts))
	return nil
}

// serve reads until the connection breaks. A ping failure closes the
// connection, which ends the read loop.
func (ws *WebSocket) serve(conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		select {
		case <-ws.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()
	go ws.ping(ctx, conn)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			ws.mu.Lock()
			if ws.conn == conn {
				ws.conn = nil
			}
			ws.mu.Unlock()
			_ = conn.Close(websocket.StatusGoingAway, "reconnect")
			ws.setState(WSStateDisconnected)
			return
		}
		msg, ok, derr := decodeFrame(data)
		if derr != nil {
			ws.logger.Warn("ws_frame_invalid", zap.Error(derr), zap.Int("bytes", len(data)))
			continue
		}
		if ok {
			ws.deliver(msg)
		}
	}
}

func (ws *WebSocket) ping(ctx context.Context, conn *websocket.Conn) {
	t := time.NewTicker(ws.pingInterval)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := conn.Ping(pctx)
		cancel()
		if err == nil {
			failures = 0
			continue
		}
		failures++
		if failures >= 2 {
			ws.logger.Warn("ws_ping_failed", zap.Error(err))
			_ = conn.Close(websocket.StatusGoingAway, "ping failure")
			return
		}
	}
}

// decodeFrame reports ok=false for non-message events.
func decodeFrame(data []byte) (*Message, bool, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, false, err
	}
	payload := data
	switch {
	case f.Event == "":
	case strings.EqualFold(f.Event, eventMessage) && len(f.Data) > 0:
		payload = f.Data
	default:
		return nil, false, nil
	}
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, false, err
	}
	return &msg, true, nil
}

func (ws *WebSocket) deliver(msg *Message) {
	ws.cbM.RLock()
	cbs := make([]MessageCallback, 0, len(ws.msgCbs))
	for _, cb := range ws.msgCbs {
		cbs = append(cbs, cb)
	}
	ws.cbM.RUnlock()
	for _, cb := range cbs {
		m := *msg
		cb(&m)
	}
}

func (ws *WebSocket) OnMessage(cb MessageCallback) int {
	ws.cbM.Lock()
	defer ws.cbM.Unlock()
	ws.nextID++
	ws.msgCbs[ws.nextID] = cb
	return ws.nextID
}

func (ws *WebSocket) RemoveMessageCallback(id int) {
	ws.cbM.Lock()
	delete(ws.msgCbs, id)
	ws.cbM.Unlock()
}

func (ws *WebSocket) OnStateChange(cb StateCallback) int {
	ws.cbM.Lock()
	defer ws.cbM.Unlock()
	ws.nextID++
	ws.stateCbs[ws.nextID] = cb
	return ws.nextID
}

func (ws *WebSocket) RemoveStateCallback(id int) {
	ws.cbM.Lock()
	delete(ws.stateCbs, id)
	ws.cbM.Unlock()
}

func (ws *WebSocket) State() WebSocketState {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	return ws.state
}

func (ws *WebSocket) setState(state WebSocketState) {
	ws.mu.Lock()
	changed := ws.state != state
	ws.state = state
	ws.mu.Unlock()
	if !changed {
		return
	}

	ws.cbM.RLock()
	cbs := make([]StateCallback, 0, len(ws.stateCbs))
	for _, cb := range ws.stateCbs {
		cbs = append(cbs, cb)
	}
	ws.cbM.RUnlock()
	for _, cb := range cbs {
		cb(state)
	}
}

// Close stops the supervisor and waits for it, bounded by ctx.
func (ws *WebSocket) Close(ctx context.Context) error {
	ws.stopOnce.Do(func() { close(ws.stopCh) })
	if conn := ws.currentConn(); conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "close")
	}

	done := make(chan struct{})
	go func() {
		ws.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		ws.setState(WSStateDisconnected)
		return nil
	}
}

func (ws *WebSocket) stopping() bool {
	select {
	case <-ws.stopCh:
		return true
	default:
		return false
	}
}

// Connected reports whether the socket is currently usable for writes.
func (ws *WebSocket) Connected() bool {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	return ws.conn != nil && ws.state == WSStateConnected
}

func (ws *WebSocket) currentConn() *websocket.Conn {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	return ws.conn
}

var errNotConnected = errors.New("ws not connected")

func (ws *WebSocket) buildHeaders() http.Header {
	hdr := http.Header{}
	if ws.headers == nil {
		return hdr
	}
	for k, v := range ws.headers() {
		if strings.TrimSpace(k) == "" || strings.TrimSpace(v) == "" {
			continue
		}
		hdr.Set(k, v)
	}
	return hdr
}
