package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"filesync-coordinator/internal/eventbus"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
	wsReadWait   = 60 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// outboundMessage is the envelope every push frame uses — matches the
// dashboard's expected {type, data} shape (spec §6.2).
type outboundMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// inboundMessage is what a connected dashboard or node may send back.
type inboundMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// ServeDashboardWS upgrades to a websocket that receives every event the
// coordinator emits (no echo suppression — dashboards did not originate
// any of them).
func (h *Handler) ServeDashboardWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	id := uuid.NewString()
	sub := h.coord.SubscribeDashboard(id)
	h.runConnection(conn, sub, eventbus.Dashboard, id)
}

// ServeNodeWS upgrades to a websocket scoped to one node: events that
// node itself originated are suppressed (it already knows about its own
// actions).
func (h *Handler) ServeNodeWS(c *gin.Context) {
	nodeID := c.Param("id")
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	sub := h.coord.SubscribeNode(nodeID)
	h.runConnection(conn, sub, eventbus.Node, nodeID)
}

func (h *Handler) runConnection(conn *websocket.Conn, sub *eventbus.Subscription, kind eventbus.Kind, id string) {
	defer func() {
		h.coord.Unsubscribe(kind, id)
		conn.Close()
	}()

	h.sendInitialData(conn)
	go h.readPump(conn, kind, id)
	h.writePump(conn, sub)
}

// sendInitialData is not bound by the per-request deadline model — a
// websocket connection is long-lived, so its snapshot read uses an
// unbounded background context rather than a client-supplied deadline.
func (h *Handler) sendInitialData(conn *websocket.Conn) {
	ctx := context.Background()
	nodes, _ := h.coord.ListNodes(ctx)
	files, _ := h.coord.ListFiles(ctx, false)
	_ = writeJSON(conn, outboundMessage{
		Type: "initial_data",
		Data: map[string]any{
			"nodes": nodes,
			"files": files,
		},
	})
}

// writePump forwards every event the subscription receives to the
// connection as an "event" frame, and pings on an interval to detect
// dead peers — mirrors the teacher's hub write pump, adapted to a single
// per-connection subscription channel rather than a shared broadcast bus.
func (h *Handler) writePump(conn *websocket.Conn, sub *eventbus.Subscription) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case e, ok := <-sub.Events:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(outboundMessage{Type: "event", Data: e}); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump handles inbound control frames: heartbeat, request_metrics,
// request_nodes, file_change (spec §6.2). When a read fails, readPump
// just returns; writePump stops at its next failed write (at the latest
// the next ping), after which runConnection unsubscribes.
func (h *Handler) readPump(conn *websocket.Conn, kind eventbus.Kind, id string) {
	conn.SetReadDeadline(time.Now().Add(wsReadWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsReadWait))
		return nil
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg inboundMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}

		ctx := context.Background()
		switch msg.Type {
		case "heartbeat":
			if kind == eventbus.Node {
				_ = h.coord.Heartbeat(ctx, id)
			}
		case "request_metrics":
			metrics, _ := h.coord.GetMetrics(ctx)
			_ = writeJSON(conn, outboundMessage{Type: "metrics_update", Data: metrics})
		case "request_nodes":
			nodes, _ := h.coord.ListNodes(ctx)
			_ = writeJSON(conn, outboundMessage{Type: "nodes_update", Data: nodes})
		case "file_change":
			var fc struct {
				FileID string `json:"file_id"`
			}
			_ = json.Unmarshal(msg.Data, &fc)
			_, _ = h.coord.DetectConflicts(ctx, fc.FileID)
		}
	}
}

func writeJSON(conn *websocket.Conn, v any) error {
	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteJSON(v)
}
