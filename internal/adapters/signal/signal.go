package signal

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/dkeye/meshcall/internal/app/orch"
	"github.com/dkeye/meshcall/internal/core"
	"github.com/dkeye/meshcall/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Options tune the per-socket plumbing.
type Options struct {
	SendBuffer     int
	MaxMessageSize int64
	RateLimit      int
	RateInterval   time.Duration
}

type SignalWSController struct {
	Hub     *orch.Hub
	opts    Options
	limiter *RateLimiter
}

func NewSignalWSController(hub *orch.Hub, opts Options) *SignalWSController {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 64
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = 64 * 1024
	}
	ctl := &SignalWSController{Hub: hub, opts: opts}
	if opts.RateLimit > 0 {
		ctl.limiter = NewRateLimiter(opts.RateLimit, opts.RateInterval)
	}
	return ctl
}

var _ core.SignalConnection = (*WsSignalConn)(nil)

type outFrame struct {
	data  core.Frame
	close *orch.CloseFrame
}

// WsSignalConn queues frames for the write pump. Closing enqueues a close
// frame behind whatever is already buffered.
type WsSignalConn struct {
	conn *websocket.Conn
	send chan outFrame

	mu     sync.RWMutex
	closed bool
}

func newWsSignalConn(ws *websocket.Conn, buffer int) *WsSignalConn {
	// one extra slot so a close always fits behind a full buffer of frames
	return &WsSignalConn{conn: ws, send: make(chan outFrame, buffer+1)}
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrConnClosed
	}
	if len(c.send) >= cap(c.send)-1 {
		return core.ErrBackpressure
	}
	select {
	case c.send <- outFrame{data: f}:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) CloseWith(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	select {
	case c.send <- outFrame{close: &orch.CloseFrame{Code: code, Reason: reason}}:
	default:
		_ = c.conn.Close()
	}
}

func (c *WsSignalConn) Close() { c.CloseWith(websocket.CloseNormalClosure, "") }

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func queryFlag(c *gin.Context, key string) bool {
	v, err := strconv.ParseBool(c.Query(key))
	return err == nil && v
}

// HandleSignal upgrades one relay socket. peerId is mandatory.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	peerID, err := domain.ParsePeerID(c.Query("peerId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "peerId: " + err.Error()})
		return
	}
	room, err := domain.ParseRoomName(c.Query("room"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "room: " + err.Error()})
		return
	}
	displayName := ""
	if raw := c.Query("displayName"); raw != "" {
		if displayName, err = domain.ParseDisplayName(raw); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "displayName: " + err.Error()})
			return
		}
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	meta := domain.NewMember(peerID, room, displayName, queryFlag(c, "host"), queryFlag(c, "waitingRoom"))
	conn := newWsSignalConn(ws, ctl.opts.SendBuffer)
	sess := core.NewMemberSession(core.SessionID(uuid.NewString()), meta, conn)
	log.Info().Str("module", "signal").Str("peer", string(peerID)).Str("room", string(room)).
		Str("sid", string(sess.ID())).Bool("host", meta.IsHost).Msg("new WS connection")

	ctx, cancel := context.WithCancel(ctx)
	if err := ctl.Hub.Open(sess); err != nil {
		cancel()
		_ = ws.Close()
		return
	}
	go ctl.writePump(ctx, cancel, conn)
	go ctl.readPump(ctx, cancel, sess, conn)
}
