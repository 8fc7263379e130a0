package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/kkhushie/fetchfriends.dev/internal/models"
	"github.com/kkhushie/fetchfriends.dev/internal/service"
	"github.com/kkhushie/fetchfriends.dev/pkg/distributed"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// 에디터 전체 내용이 오가므로 넉넉하게
	maxMessageSize = 256 * 1024

	authorizeTimeout = 5 * time.Second
)

// 클라이언트가 보내는 제어 이벤트
const (
	EventSessionJoin      = "session:join"
	EventSessionLeave     = "session:leave"
	EventQueueSubscribe   = "queue:subscribe"
	EventQueueUnsubscribe = "queue:unsubscribe"
	EventUserOnline       = "user:online"

	EventSessionJoined   = "session:joined"
	EventQueueSubscribed = "queue:subscribed"
	EventError           = "error"
)

// 같은 세션의 다른 참가자에게 그대로 전달하는 이벤트
var relayedEvents = map[string]bool{
	"code:change":          true,
	"code:save":            true,
	"terminal:command":     true,
	"terminal:output":      true,
	"whiteboard:draw":      true,
	"whiteboard:clear":     true,
	"chat:message":         true,
	"chat:typing":          true,
	"webrtc:offer":         true,
	"webrtc:answer":        true,
	"webrtc:ice-candidate": true,
}

// Inbound 클라이언트가 보내는 메시지
type Inbound struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId,omitempty"`
	QueueID   string          `json:"queueId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Client WebSocket 클라이언트
type Client struct {
	id     string
	hub    *Hub
	conn   *websocket.Conn
	send   chan *Message
	userID string
	// hub.mu 로 보호
	rooms  map[string]struct{}
	logger *zap.Logger
}

// NewClient 클라이언트 생성
func NewClient(hub *Hub, conn *websocket.Conn, userID string) *Client {
	return &Client{
		id:     uuid.New().String(),
		hub:    hub,
		conn:   conn,
		send:   make(chan *Message, 256),
		userID: userID,
		rooms:  make(map[string]struct{}),
		logger: hub.logger.With(zap.String("userId", userID)),
	}
}

// readPump 클라이언트 이벤트를 읽어 처리 (핑/퐁 유지)
func (c *Client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket read error", zap.Error(err))
			}
			break
		}

		var in Inbound
		if err := json.Unmarshal(data, &in); err != nil || in.Type == "" {
			c.reply(EventError, map[string]string{"message": "invalid message"})
			continue
		}
		c.handle(in)
	}
}

func (c *Client) handle(in Inbound) {
	ctx, cancel := context.WithTimeout(context.Background(), authorizeTimeout)
	defer cancel()

	switch in.Type {
	case EventSessionJoin:
		c.joinSession(ctx, in.SessionID)

	case EventSessionLeave:
		room := service.SessionChannel(in.SessionID)
		if c.hub.inRoom(c, room) {
			c.relay(ctx, room, service.EventParticipantLeft, mustJSON(map[string]string{"userId": c.userID}))
			c.hub.leave(c, room)
		}

	case EventQueueSubscribe:
		c.subscribeQueue(ctx, in.QueueID)

	case EventQueueUnsubscribe:
		c.hub.leave(c, service.QueueChannel(in.QueueID))

	case EventUserOnline:
		c.hub.setPresence(c.userID, models.AvailabilityOnline)

	default:
		if !relayedEvents[in.Type] {
			c.reply(EventError, map[string]string{"message": "unknown event: " + in.Type})
			return
		}
		room := service.SessionChannel(in.SessionID)
		if in.SessionID == "" || !c.hub.inRoom(c, room) {
			c.reply(EventError, map[string]string{"message": "join the session first"})
			return
		}
		payload := in.Payload
		if in.Type == "chat:message" {
			payload = withTimestamp(payload, time.Now())
		}
		c.relay(ctx, room, in.Type, payload)
	}
}

func (c *Client) joinSession(ctx context.Context, sessionID string) {
	ok := false
	if sessionID != "" && c.hub.opts.Sessions != nil {
		var err error
		ok, err = c.hub.opts.Sessions.IsParticipant(ctx, c.userID, sessionID)
		if err != nil {
			c.logger.Error("Failed to check session participant", zap.String("sessionId", sessionID), zap.Error(err))
		}
	}
	if !ok {
		c.reply(EventError, map[string]string{"message": "not a participant in this session"})
		return
	}

	room := service.SessionChannel(sessionID)
	c.hub.join(c, room)
	c.relay(ctx, room, service.EventParticipantJoined, mustJSON(map[string]string{"userId": c.userID}))
	c.reply(EventSessionJoined, map[string]string{"sessionId": sessionID})
}

func (c *Client) subscribeQueue(ctx context.Context, entryID string) {
	ok := false
	if entryID != "" && c.hub.opts.Queue != nil {
		var err error
		ok, err = c.hub.opts.Queue.OwnsEntry(ctx, c.userID, entryID)
		if err != nil {
			c.logger.Error("Failed to check queue entry owner", zap.String("queueId", entryID), zap.Error(err))
		}
	}
	if !ok {
		c.reply(EventError, map[string]string{"message": "queue entry not found"})
		return
	}

	c.hub.join(c, service.QueueChannel(entryID))
	c.reply(EventQueueSubscribed, map[string]string{"queueId": entryID})
}

// relay 같은 room 의 다른 연결에 전달 (보낸 연결 제외)
func (c *Client) relay(ctx context.Context, room, event string, payload json.RawMessage) {
	var err error
	if up := c.hub.opts.Upstream; up != nil {
		err = up.PublishMessage(ctx, distributed.RelayMessage{
			Channel:     room,
			Event:       event,
			Payload:     payload,
			From:        c.userID,
			ExcludeConn: c.id,
		})
	} else {
		err = c.hub.enqueue(ctx, &Message{Room: room, Type: event, From: c.userID, Payload: payload, excludeID: c.id})
	}
	if err != nil {
		c.logger.Warn("Failed to relay event", zap.String("room", room), zap.String("type", event), zap.Error(err))
	}
}

// reply 이 연결에만 응답. send 채널은 hub 고루틴만 닫으므로 hub 를 거친다
func (c *Client) reply(event string, payload interface{}) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = c.hub.enqueue(ctx, &Message{Type: event, Payload: mustJSON(payload), to: c})
}

// writePump Hub로부터 메시지를 받아 클라이언트에게 전송
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub가 채널을 닫음
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			data, err := json.Marshal(message)
			if err != nil {
				c.logger.Error("Failed to marshal message", zap.Error(err))
				continue
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Error("Failed to write message", zap.Error(err))
				return
			}

		case <-ticker.C:
			// Ping 전송
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWs WebSocket 연결 업그레이드 및 클라이언트 시작
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request, userID string) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(hub.opts.AllowedOrigins),
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}

	client := NewClient(hub, conn, userID)
	if !hub.add(client) {
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// originChecker 허용 목록이 비어 있거나 "*" 를 포함하면 모두 허용.
// Origin 헤더가 없는 요청(브라우저 외 클라이언트)은 허용한다.
func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		for _, a := range allowed {
			a = strings.TrimRight(strings.TrimSpace(a), "/")
			if a == "*" || strings.EqualFold(a, origin) || strings.EqualFold(a, u.Scheme+"://"+u.Host) {
				return true
			}
		}
		return false
	}
}

// withTimestamp JSON 객체면 timestamp 필드를 덧붙인다. 객체가 아니면 {"message": payload, "timestamp": ...}
func withTimestamp(payload json.RawMessage, at time.Time) json.RawMessage {
	obj := map[string]json.RawMessage{}
	if len(payload) == 0 || json.Unmarshal(payload, &obj) != nil || obj == nil {
		obj = map[string]json.RawMessage{}
		if len(payload) > 0 {
			obj["message"] = payload
		}
	}
	obj["timestamp"] = mustJSON(at.UTC().Format(time.RFC3339Nano))
	return mustJSON(obj)
}

func mustJSON(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
