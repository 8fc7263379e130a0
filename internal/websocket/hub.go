package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kkhushie/fetchfriends.dev/internal/models"
	"github.com/kkhushie/fetchfriends.dev/internal/service"
	"github.com/kkhushie/fetchfriends.dev/pkg/distributed"
	"go.uber.org/zap"
)

const presenceTimeout = 5 * time.Second

var errHubClosed = errors.New("hub closed")

// SessionAuthorizer session:join 권한 확인 (service.SessionService)
type SessionAuthorizer interface {
	IsParticipant(ctx context.Context, userID, sessionID string) (bool, error)
}

// QueueAuthorizer queue:subscribe 권한 확인 (service.QueueService)
type QueueAuthorizer interface {
	OwnsEntry(ctx context.Context, userID, entryID string) (bool, error)
}

// PresenceUpdater 접속 상태 변경 (service.UserService)
type PresenceUpdater interface {
	SetAvailability(ctx context.Context, id string, update models.AvailabilityUpdate) (*models.Availability, error)
}

// Upstream 인스턴스 간 릴레이 (distributed.RedisRelay)
type Upstream interface {
	PublishMessage(ctx context.Context, m distributed.RelayMessage) error
}

// Options 비어 있는 권한 확인자는 해당 구독을 모두 거부한다.
// Upstream 이 있으면 클라이언트 이벤트를 그쪽으로 보내고 Deliver 로 돌려받는다.
type Options struct {
	Sessions       SessionAuthorizer
	Queue          QueueAuthorizer
	Presence       PresenceUpdater
	Upstream       Upstream
	AllowedOrigins []string
	Logger         *zap.Logger
}

// Message 클라이언트로 나가는 메시지
type Message struct {
	Room    string          `json:"room,omitempty"`
	Type    string          `json:"type"`
	From    string          `json:"from,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`

	excludeID string  // 보낸 연결
	to        *Client // 설정되면 이 연결에만 전송
}

// Hub room 단위로 연결을 묶고 이벤트를 전달한다.
// service.Relay 를 구현하므로 Redis 없이도 단일 인스턴스에서 그대로 쓸 수 있다.
type Hub struct {
	clients map[*Client]struct{}
	rooms   map[string]map[*Client]struct{}
	// 사용자별 연결 수 (여러 탭)
	online map[string]int
	mu     sync.RWMutex

	broadcast  chan *Message
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	opts   Options
	logger *zap.Logger
}

// NewHub Hub 생성
func NewHub(opts Options) *Hub {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[*Client]struct{}),
		rooms:      make(map[string]map[*Client]struct{}),
		online:     make(map[string]int),
		broadcast:  make(chan *Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		opts:       opts,
		logger:     logger,
	}
}

// SetServices 권한 확인자와 접속 상태 갱신기 설정.
// 서비스가 Hub 를 Relay 로 쓰는 경우 Hub 를 먼저 만들어야 하므로 Run 전에 따로 넣는다.
func (h *Hub) SetServices(sessions SessionAuthorizer, queue QueueAuthorizer, presence PresenceUpdater) {
	h.opts.Sessions = sessions
	h.opts.Queue = queue
	h.opts.Presence = presence
}

// Run ctx 가 끝나면 모든 연결을 닫고 반환
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case message := <-h.broadcast:
			h.broadcastMessage(message)

		case <-ctx.Done():
			h.closeAll()
			return
		}
	}
}

// Publish 로컬 room 에 이벤트 전달 (service.Relay)
func (h *Hub) Publish(ctx context.Context, channel, event string, payload interface{}) error {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
		raw = data
	}
	return h.enqueue(ctx, &Message{Room: channel, Type: event, Payload: raw})
}

// Deliver Redis 릴레이로 받은 이벤트를 로컬 room 에 전달
func (h *Hub) Deliver(m distributed.RelayMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg := &Message{Room: m.Channel, Type: m.Event, From: m.From, Payload: m.Payload, excludeID: m.ExcludeConn}
	if err := h.enqueue(ctx, msg); err != nil {
		h.logger.Warn("Dropped relay message", zap.String("room", m.Channel), zap.String("type", m.Event), zap.Error(err))
	}
}

func (h *Hub) enqueue(ctx context.Context, m *Message) error {
	select {
	case h.broadcast <- m:
		return nil
	case <-h.done:
		return errHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) add(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) remove(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// IsOnline 이 인스턴스에 연결이 하나라도 있는지
func (h *Hub) IsOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.online[userID] > 0
}

// RoomSize room 의 연결 수
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// ClientCount 전체 연결 수
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) join(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*Client]struct{})
	}
	h.rooms[room][c] = struct{}{}
	c.rooms[room] = struct{}{}
}

func (h *Hub) leave(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeFromRoom(c, room)
}

func (h *Hub) inRoom(c *Client, room string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[room][c]
	return ok
}

// removeFromRoom caller holds mu
func (h *Hub) removeFromRoom(c *Client, room string) {
	members := h.rooms[room]
	delete(members, c)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
	delete(c.rooms, room)
}

// registerClient 클라이언트 등록, 개인 room 에 자동 입장
func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	personal := service.UserChannel(client.userID)
	if h.rooms[personal] == nil {
		h.rooms[personal] = make(map[*Client]struct{})
	}
	h.rooms[personal][client] = struct{}{}
	client.rooms[personal] = struct{}{}
	h.online[client.userID]++
	first := h.online[client.userID] == 1
	total := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("WebSocket client registered",
		zap.String("userId", client.userID),
		zap.Int("totalClients", total))

	if first {
		h.setPresence(client.userID, models.AvailabilityOnline)
	}
}

// unregisterClient 클라이언트 해제, 마지막 연결이면 offline
func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	if _, exists := h.clients[client]; !exists {
		h.mu.Unlock()
		return
	}
	delete(h.clients, client)
	for room := range client.rooms {
		h.removeFromRoom(client, room)
	}
	close(client.send)

	h.online[client.userID]--
	last := h.online[client.userID] <= 0
	if last {
		delete(h.online, client.userID)
	}
	total := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("WebSocket client unregistered",
		zap.String("userId", client.userID),
		zap.Int("totalClients", total))

	if last {
		h.setPresence(client.userID, models.AvailabilityOffline)
	}
}

// broadcastMessage room 구성원에게 전송. user:status 는 그 사용자가 들어가 있는 세션 room 에도 보낸다
func (h *Hub) broadcastMessage(message *Message) {
	h.mu.RLock()
	targets := make(map[*Client]struct{}, len(h.rooms[message.Room]))
	if message.to != nil {
		if _, ok := h.clients[message.to]; ok {
			targets[message.to] = struct{}{}
		}
	} else {
		for c := range h.rooms[message.Room] {
			targets[c] = struct{}{}
		}
	}
	if message.to == nil && message.Type == service.EventUserStatus {
		if userID, ok := strings.CutPrefix(message.Room, "user:"); ok {
			for c := range h.rooms[message.Room] {
				if c.userID != userID {
					continue
				}
				for room := range c.rooms {
					if strings.HasPrefix(room, "session:") {
						for peer := range h.rooms[room] {
							targets[peer] = struct{}{}
						}
					}
				}
			}
		}
	}
	h.mu.RUnlock()

	for c := range targets {
		if message.excludeID != "" && c.id == message.excludeID {
			continue
		}
		select {
		case c.send <- message:
		default:
			// 채널이 가득 찬 경우 연결 해제
			h.logger.Warn("Client send channel full, unregistering",
				zap.String("userId", c.userID))
			go h.remove(c)
		}
	}
}

func (h *Hub) closeAll() {
	close(h.done)

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
	}
	h.clients = make(map[*Client]struct{})
	h.rooms = make(map[string]map[*Client]struct{})
	h.online = make(map[string]int)
}

func (h *Hub) setPresence(userID string, status models.AvailabilityStatus) {
	if h.opts.Presence == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
		defer cancel()
		if _, err := h.opts.Presence.SetAvailability(ctx, userID, models.AvailabilityUpdate{Status: &status}); err != nil {
			h.logger.Warn("Failed to update presence",
				zap.String("userId", userID),
				zap.String("status", string(status)),
				zap.Error(err))
		}
	}()
}
