package notify

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const channelPrefix = "notifications:"

// Channel returns the pub/sub channel carrying notifications for one user.
func Channel(userID string) string {
	return channelPrefix + userID
}

// Publisher pushes user-targeted notifications onto the shared bus. Any
// process may publish; whichever process holds the user's connection(s)
// delivers. A publish with no subscriber anywhere delivers nothing and is
// not an error.
type Publisher struct {
	client *redis.Client
}

func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

func (p *Publisher) Publish(ctx context.Context, userID string, payload []byte) error {
	return p.client.Publish(ctx, Channel(userID), payload).Err()
}

// Subscriber opens per-user subscriptions for the connections this process
// holds. Each open connection acquires one Subscription and must release it
// in its teardown path; a leaked subscription accumulates channels on the
// bus forever.
type Subscriber struct {
	client *redis.Client
	logger *log.Logger
}

func NewSubscriber(client *redis.Client, logger *log.Logger) *Subscriber {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Subscriber{client: client, logger: logger}
}

// Subscription is a scoped handle on one user channel. Close is idempotent
// and safe from any goroutine.
type Subscription struct {
	pubsub *redis.PubSub
	once   sync.Once
	done   chan struct{}
}

// Subscribe starts listening on the user's channel and invokes deliver for
// each message until Close is called or ctx ends. deliver runs on the
// subscription's own goroutine and must not block indefinitely.
func (s *Subscriber) Subscribe(ctx context.Context, userID string, deliver func(payload []byte)) *Subscription {
	pubsub := s.client.Subscribe(ctx, Channel(userID))
	sub := &Subscription{pubsub: pubsub, done: make(chan struct{})}

	go func() {
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case <-sub.done:
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				deliver([]byte(msg.Payload))
			}
		}
	}()

	s.logger.WithField("user", userID).Debug("notification subscription opened")
	return sub
}

// Close unsubscribes and stops the pump. Safe to call more than once.
func (s *Subscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.pubsub.Close()
	})
	return err
}
