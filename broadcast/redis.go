package broadcast

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisChannel is an endpoint backed by Redis pub/sub.
type RedisChannel struct {
	client redis.UniversalClient
	topic  string
	origin string
	logger *zap.Logger

	sub  *redis.PubSub
	out  chan Message
	done chan struct{}
	wg   sync.WaitGroup

	closeOnce sync.Once
}

// NewRedisChannel subscribes to topic and starts forwarding messages published by
// other endpoints. The subscription is confirmed before NewRedisChannel returns so a
// publish issued right after cannot be missed.
func NewRedisChannel(ctx context.Context, client redis.UniversalClient, topic string, logger *zap.Logger) (*RedisChannel, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	sub := client.Subscribe(ctx, topic)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}

	c := &RedisChannel{
		client: client,
		topic:  topic,
		origin: uuid.NewString(),
		logger: logger,
		sub:    sub,
		out:    make(chan Message, defaultBuffer),
		done:   make(chan struct{}),
	}

	c.wg.Add(1)
	go c.run()

	return c, nil
}

func (c *RedisChannel) run() {
	defer c.wg.Done()
	defer close(c.out)

	in := c.sub.Channel()
	for {
		select {
		case <-c.done:
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			env, err := decodeEnvelope([]byte(msg.Payload))
			if err != nil {
				c.logger.Warn("broadcast: dropping malformed message", zap.String("topic", c.topic), zap.Error(err))
				continue
			}
			if env.Origin == c.origin {
				continue
			}
			select {
			case c.out <- Message{Type: env.Type}:
			default:
				c.logger.Debug("broadcast: receiver slow, message dropped", zap.String("type", string(env.Type)))
			}
		}
	}
}

func (c *RedisChannel) Publish(ctx context.Context, m Message) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	payload, err := encodeEnvelope(c.origin, m)
	if err != nil {
		return err
	}
	if err := c.client.Publish(ctx, c.topic, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", c.topic, err)
	}
	return nil
}

func (c *RedisChannel) Messages() <-chan Message {
	return c.out
}

func (c *RedisChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.sub.Close()
		c.wg.Wait()
	})
	return err
}

var _ Channel = (*RedisChannel)(nil)
