package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/penguhub/marketplace/metrics"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

const publishTimeout = 2 * time.Second

// Service is the Emitter handed to the domain packages. With a Redis client
// it publishes every event on a shared channel and delivers what it receives
// from that channel to the local hub, so a client reaches its rooms whatever
// instance it is connected to. Without Redis it delivers locally.
type Service struct {
	log     logrus.FieldLogger
	hub     *Hub
	rdb     *redis.Client
	channel string
	breaker *gobreaker.CircuitBreaker
	ready   chan struct{}
	once    sync.Once
}

func NewService(log logrus.FieldLogger, hub *Hub, rdb *redis.Client, channel string) *Service {
	s := &Service{
		log:     log,
		hub:     hub,
		rdb:     rdb,
		channel: channel,
		ready:   make(chan struct{}),
	}

	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "realtime-redis",
		MaxRequests: 1,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("realtime circuit breaker changed state")
		},
	})

	if rdb == nil {
		s.markReady()
	}
	return s
}

func (s *Service) Hub() *Hub { return s.hub }

// Ready is closed once the service receives events from the shared channel.
func (s *Service) Ready() <-chan struct{} { return s.ready }

func (s *Service) markReady() { s.once.Do(func() { close(s.ready) }) }

func (s *Service) Emit(ctx context.Context, ev Event) {
	if len(ev.Rooms) == 0 {
		return
	}
	metrics.EventsEmitted.WithLabelValues(ev.Name).Inc()

	data, err := json.Marshal(ev.Data)
	if err != nil {
		s.log.WithError(err).WithField("event", ev.Name).Error("encoding realtime event")
		return
	}
	msg := Message{Name: ev.Name, Rooms: ev.Rooms, Data: data}

	if s.rdb == nil {
		s.hub.Deliver(msg)
		return
	}

	if err := s.publish(ctx, msg); err != nil {
		metrics.FanoutFailures.Inc()
		s.log.WithError(err).WithField("event", ev.Name).Warn("publishing realtime event, delivering locally")
		s.hub.Deliver(msg)
	}
}

func (s *Service) publish(ctx context.Context, msg Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	_, err = s.breaker.Execute(func() (any, error) {
		return nil, s.rdb.Publish(ctx, s.channel, b).Err()
	})
	return err
}

// Run relays events from the shared channel to the local hub until ctx is
// done. Without Redis it only waits for ctx.
func (s *Service) Run(ctx context.Context) error {
	if s.rdb == nil {
		<-ctx.Done()
		return nil
	}

	sub := s.rdb.Subscribe(ctx, s.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribing to %s: %w", s.channel, err)
	}
	s.markReady()
	s.log.WithField("channel", s.channel).Info("realtime bridge subscribed")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			var msg Message
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				s.log.WithError(err).Warn("discarding malformed realtime message")
				continue
			}
			s.hub.Deliver(msg)
		}
	}
}

// Close disconnects every local client and the Redis client.
func (s *Service) Close() error {
	s.hub.Close()
	if s.rdb != nil {
		return s.rdb.Close()
	}
	return nil
}
