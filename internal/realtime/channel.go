// Package realtime carries the live conversation channel over redis pub/sub.
// Each conversation has its own room; missed-dose alerts arrive on a single
// shared channel and are filtered per patient by the session.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/redis/go-redis/v9"

	"github.com/Ahrakshith/healthcare-app/internal/domain"
)

const (
	roomPrefix   = "chat:"
	alertChannel = "missed-dose-alerts"
)

// roomChannel derives the redis channel name for a room. Each component is
// escaped so an ID containing the separator can never address another room.
// QueryEscape rather than PathEscape: the latter leaves ':' unescaped.
func roomChannel(room domain.Room) string {
	return roomPrefix + url.QueryEscape(room.PatientID) + ":" + url.QueryEscape(room.DoctorID)
}

// Channel is a redis-backed realtime transport.
type Channel struct {
	client *redis.Client
	logger *slog.Logger
}

// NewChannel creates a Channel over the given redis client.
func NewChannel(client *redis.Client, logger *slog.Logger) (*Channel, error) {
	if client == nil {
		return nil, errors.New("realtime: redis client must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{client: client, logger: logger}, nil
}

// Publish fans a message out to the other participants of the room.
func (c *Channel) Publish(ctx context.Context, room domain.Room, msg domain.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("realtime: marshal message: %w", err)
	}
	if err := c.client.Publish(ctx, roomChannel(room), payload).Err(); err != nil {
		return fmt.Errorf("realtime: publish: %w", err)
	}
	return nil
}

// PublishAlert fans a missed-dose alert out on the shared alert channel.
func (c *Channel) PublishAlert(ctx context.Context, alert domain.Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("realtime: marshal alert: %w", err)
	}
	if err := c.client.Publish(ctx, alertChannel, payload).Err(); err != nil {
		return fmt.Errorf("realtime: publish alert: %w", err)
	}
	return nil
}

// Join subscribes to a room's message channel plus the shared alert channel.
// The returned subscription delivers decoded events until Close is called.
func (c *Channel) Join(ctx context.Context, room domain.Room) (*Subscription, error) {
	pubsub := c.client.Subscribe(ctx, roomChannel(room), alertChannel)
	// Force the SUBSCRIBE round-trip so a join against a dead broker fails
	// here instead of silently delivering nothing.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("realtime: join room: %w", err)
	}
	sub := &Subscription{
		pubsub:  pubsub,
		msgs:    make(chan domain.Message, 16),
		alerts:  make(chan domain.Alert, 16),
		msgChan: roomChannel(room),
		logger:  c.logger,
	}
	go sub.run()
	return sub, nil
}

// Subscription is one live attachment to a room.
type Subscription struct {
	pubsub  *redis.PubSub
	msgs    chan domain.Message
	alerts  chan domain.Alert
	msgChan string
	logger  *slog.Logger
}

// Messages delivers inbound room messages.
func (s *Subscription) Messages() <-chan domain.Message {
	return s.msgs
}

// Alerts delivers inbound missed-dose alerts, unfiltered.
func (s *Subscription) Alerts() <-chan domain.Alert {
	return s.alerts
}

// Close detaches from the channels; the event channels close once the
// delivery loop drains.
func (s *Subscription) Close() error {
	return s.pubsub.Close()
}

func (s *Subscription) run() {
	defer close(s.msgs)
	defer close(s.alerts)
	for raw := range s.pubsub.Channel() {
		switch raw.Channel {
		case s.msgChan:
			msg, err := decodeMessage([]byte(raw.Payload))
			if err != nil {
				s.logger.Warn("dropping undecodable room message", "err", err)
				continue
			}
			s.msgs <- msg
		case alertChannel:
			alert, err := decodeAlert([]byte(raw.Payload))
			if err != nil {
				s.logger.Warn("dropping undecodable alert", "err", err)
				continue
			}
			s.alerts <- alert
		}
	}
}

func decodeMessage(payload []byte) (domain.Message, error) {
	var msg domain.Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return domain.Message{}, err
	}
	if msg.Timestamp == "" {
		return domain.Message{}, errors.New("realtime: message missing timestamp")
	}
	return msg, nil
}

func decodeAlert(payload []byte) (domain.Alert, error) {
	var alert domain.Alert
	if err := json.Unmarshal(payload, &alert); err != nil {
		return domain.Alert{}, err
	}
	if alert.PatientID == "" {
		return domain.Alert{}, errors.New("realtime: alert missing patientId")
	}
	return alert, nil
}
