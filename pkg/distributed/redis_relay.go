package distributed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const DefaultRelayTopic = "relay:events"

// RelayMessage 인스턴스 사이를 오가는 이벤트 봉투
type RelayMessage struct {
	Channel string          `json:"channel"` // "session:<id>", "queue:<id>", "user:<id>"
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
	// 클라이언트가 보낸 이벤트면 보낸 사용자와 연결 (그 연결에는 다시 보내지 않는다)
	From        string    `json:"from,omitempty"`
	ExcludeConn string    `json:"excludeConn,omitempty"`
	Origin      string    `json:"origin"`
	Timestamp   time.Time `json:"timestamp"`
}

// RedisRelay Redis Pub/Sub 기반 이벤트 릴레이.
// Publish 한 인스턴스를 포함해 구독 중인 모든 인스턴스가 메시지를 받아 자기 허브로 전달한다.
type RedisRelay struct {
	client     *redis.Client
	logger     *zap.Logger
	instanceID string
	topic      string
}

// NewRedisRelay topic 이 비어 있으면 DefaultRelayTopic
func NewRedisRelay(client *redis.Client, logger *zap.Logger, topic string) *RedisRelay {
	if topic == "" {
		topic = DefaultRelayTopic
	}
	return &RedisRelay{
		client:     client,
		logger:     logger,
		instanceID: uuid.New().String(),
		topic:      topic,
	}
}

// Publish payload 를 JSON 으로 직렬화해 발행
func (r *RedisRelay) Publish(ctx context.Context, channel, event string, payload interface{}) error {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
		raw = data
	}

	return r.PublishMessage(ctx, RelayMessage{Channel: channel, Event: event, Payload: raw})
}

// PublishMessage 봉투를 그대로 발행. Origin 과 Timestamp 는 여기서 채운다
func (r *RedisRelay) PublishMessage(ctx context.Context, m RelayMessage) error {
	m.Origin = r.instanceID
	m.Timestamp = time.Now()

	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal relay message: %w", err)
	}

	if err := r.client.Publish(ctx, r.topic, data).Err(); err != nil {
		return fmt.Errorf("failed to publish relay message: %w", err)
	}

	r.logger.Debug("Published relay message",
		zap.String("channel", m.Channel),
		zap.String("event", m.Event))
	return nil
}

// Run ctx 가 끝날 때까지 구독하며 받은 메시지를 deliver 로 넘긴다
func (r *RedisRelay) Run(ctx context.Context, deliver func(RelayMessage)) error {
	pubsub := r.client.Subscribe(ctx, r.topic)
	defer pubsub.Close()

	// 구독 확인
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	r.logger.Info("Relay subscriber started",
		zap.String("instance_id", r.instanceID),
		zap.String("topic", r.topic))

	ch := pubsub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if msg == nil {
				continue
			}

			var m RelayMessage
			if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
				r.logger.Error("Failed to unmarshal relay message", zap.Error(err))
				continue
			}
			deliver(m)

		case <-ctx.Done():
			r.logger.Info("Relay subscriber stopped")
			return ctx.Err()
		}
	}
}
