package relay

import (
	"net/http"
	"time"

	"github.com/BioHazard786/Huddle/internal/metrics"
	"github.com/BioHazard786/Huddle/internal/signaling"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
	// The relay is a development tool; any origin may connect.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Router serves the bus at /ws, a health probe at /health and, when rec is
// set, Prometheus metrics at /metrics.
func Router(hub *Hub, rec *metrics.Recorder) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "huddle-relay",
			"time":    time.Now().UTC(),
		})
	})
	r.GET("/ws", func(c *gin.Context) { hub.ServeWs(c.Writer, c.Request) })
	if rec != nil {
		r.GET("/metrics", gin.WrapH(rec.Handler()))
	}
	return r
}

// ServeWs upgrades the request and attaches the connection to the hub. The
// user is named by the userId query parameter and the frame format by codec.
func (h *Hub) ServeWs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID := q.Get("userId")
	if userID == "" {
		http.Error(w, "userId is required", http.StatusBadRequest)
		return
	}
	codec, err := signaling.CodecByName(q.Get("codec"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("upgrade failed", zap.Error(err))
		return
	}

	id := uuid.NewString()
	c := &Client{
		ID:     id,
		UserID: userID,
		hub:    h,
		conn:   conn,
		codec:  codec,
		log:    h.log.With(zap.String("conn", id), zap.String("user", userID), zap.String("codec", codec.Name())),
		send:   make(chan []byte, sendBuffer),
		rooms:  make(map[string]struct{}),
	}
	if !h.join(c) {
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}
