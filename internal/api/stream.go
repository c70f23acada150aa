package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/llmos-dev/llmos-actions/pkg/schema"
)

// Stream message types
const (
	MessageTypeSnapshot  = "snapshot"
	MessageTypeAction    = "action"
	MessageTypeHeartbeat = "heartbeat"
)

const (
	streamBuffer      = 256
	heartbeatInterval = 30 * time.Second
	writeWait         = 10 * time.Second
)

// StreamMessage is one frame sent to a monitor. Action frames are upserts
// keyed by record id; a record may appear in the snapshot and again right after.
type StreamMessage struct {
	Type      string                `json:"type"`
	Actions   []schema.ActionRecord `json:"actions,omitempty"`
	Action    *schema.ActionRecord  `json:"action,omitempty"`
	Timestamp time.Time             `json:"timestamp"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// streamConn is one connected monitor.
type streamConn struct {
	conn    *websocket.Conn
	mu      sync.Mutex
	updates chan schema.ActionRecord
	done    chan struct{}
	gone    chan struct{}
	logger  *zap.Logger
}

// Stream upgrades to a websocket and mirrors every registry notification.
// Observers run on the registry's dispatch path, so the observer only queues
// the record; a slow monitor that fills its buffer is disconnected.
func (h *Handler) Stream(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger().Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	sc := &streamConn{
		conn:    conn,
		updates: make(chan schema.ActionRecord, streamBuffer),
		done:    make(chan struct{}),
		gone:    make(chan struct{}),
		logger:  h.logger(),
	}

	var overflow sync.Once
	unsubscribe := h.Registry.Subscribe(func(rec schema.ActionRecord) {
		select {
		case sc.updates <- rec:
		case <-sc.done:
		default:
			overflow.Do(func() {
				sc.logger.Warn("monitor too slow, dropping connection", zap.String("remote", conn.RemoteAddr().String()))
				conn.Close()
			})
		}
	})
	defer func() {
		unsubscribe()
		close(sc.done)
		conn.Close()
	}()

	if err := sc.send(&StreamMessage{Type: MessageTypeSnapshot, Actions: h.Registry.GetActions(), Timestamp: time.Now()}); err != nil {
		return
	}

	go sc.readLoop()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case rec := <-sc.updates:
			if err := sc.send(&StreamMessage{Type: MessageTypeAction, Action: &rec, Timestamp: time.Now()}); err != nil {
				return
			}
		case <-ticker.C:
			if err := sc.send(&StreamMessage{Type: MessageTypeHeartbeat, Timestamp: time.Now()}); err != nil {
				return
			}
		case <-sc.gone:
			return
		}
	}
}

func (sc *streamConn) send(msg *StreamMessage) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.conn.SetWriteDeadline(time.Now().Add(writeWait))
	err := sc.conn.WriteJSON(msg)
	if err != nil {
		sc.logger.Debug("websocket write failed", zap.Error(err))
	}
	return err
}

// readLoop discards client frames; it exists to observe the close.
func (sc *streamConn) readLoop() {
	defer close(sc.gone)
	for {
		if _, _, err := sc.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				sc.logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}
	}
}
