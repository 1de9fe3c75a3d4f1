package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"chargeslot/backend/services/reservation-service/internal/models"
)

// Routing keys on the notifications exchange.
const (
	RoutingScheduleReminders = "reservation.reminders.schedule"
	RoutingCancelReminders   = "reservation.reminders.cancel"
)

// Publisher is the part of *amqp.Channel the notification client uses.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// ReminderMessage asks the notification service to remind a user.
type ReminderMessage struct {
	ReservationID string      `json:"reservation_id"`
	UserID        string      `json:"user_id"`
	StationID     string      `json:"station_id"`
	ConnectorID   string      `json:"connector_id"`
	StartTime     time.Time   `json:"start_time"`
	RemindAt      []time.Time `json:"remind_at"`
}

// CancelRemindersMessage withdraws pending reminders.
type CancelRemindersMessage struct {
	ReservationID string `json:"reservation_id"`
}

// NotificationClient publishes reminder commands to a topic exchange.
type NotificationClient struct {
	conn     *amqp.Connection
	channel  Publisher
	exchange string
	offsets  []time.Duration
	logger   *zap.Logger
	mu       sync.Mutex
}

// NewNotificationClient dials the broker and declares the exchange. An empty URL
// yields a disabled client.
func NewNotificationClient(url, exchange string, offsets []time.Duration, logger *zap.Logger) (*NotificationClient, error) {
	c := &NotificationClient{exchange: exchange, offsets: offsets, logger: logger}
	if url == "" {
		return c, nil
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	c.conn = conn
	c.channel = ch
	return c, nil
}

// NewNotificationClientWithChannel wraps an existing channel.
func NewNotificationClientWithChannel(channel Publisher, exchange string, offsets []time.Duration, logger *zap.Logger) *NotificationClient {
	return &NotificationClient{channel: channel, exchange: exchange, offsets: offsets, logger: logger}
}

// ScheduleReminders publishes reminder times that are still in the future.
func (c *NotificationClient) ScheduleReminders(ctx context.Context, res models.Reservation) error {
	msg := ReminderMessage{
		ReservationID: res.ID,
		UserID:        res.UserID,
		StationID:     res.StationID,
		ConnectorID:   res.ConnectorID,
		StartTime:     res.StartTime,
	}
	now := time.Now()
	for _, offset := range c.offsets {
		at := res.StartTime.Add(-offset)
		if at.After(now) {
			msg.RemindAt = append(msg.RemindAt, at)
		}
	}
	if len(msg.RemindAt) == 0 {
		msg.RemindAt = []time.Time{res.StartTime}
	}
	return c.publish(ctx, RoutingScheduleReminders, res.ID, msg)
}

// CancelReminders withdraws reminders of a reservation.
func (c *NotificationClient) CancelReminders(ctx context.Context, reservationID string) error {
	return c.publish(ctx, RoutingCancelReminders, reservationID, CancelRemindersMessage{ReservationID: reservationID})
}

func (c *NotificationClient) publish(ctx context.Context, routingKey, reservationID string, body interface{}) error {
	if c.channel == nil {
		c.logger.Debug("notification client disabled, skip publish", zap.String("routing_key", routingKey))
		return nil
	}
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", routingKey, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	err = c.channel.PublishWithContext(ctx, c.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    reservationID,
		Timestamp:    time.Now().UTC(),
		Body:         data,
	})
	if err != nil {
		c.logger.Warn("notification publish failed",
			zap.String("routing_key", routingKey),
			zap.String("reservation_id", reservationID),
			zap.Error(err),
		)
		return fmt.Errorf("publish %s: %w", routingKey, err)
	}
	return nil
}

// Close releases the channel and connection.
func (c *NotificationClient) Close() error {
	if c.channel != nil {
		_ = c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
