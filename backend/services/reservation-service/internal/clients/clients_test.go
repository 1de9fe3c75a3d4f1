package clients

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"chargeslot/backend/services/reservation-service/internal/models"
)

func window() models.TimeWindow {
	start := time.Date(2030, 3, 5, 10, 0, 0, 0, time.UTC)
	return models.TimeWindow{Start: start, End: start.Add(90 * time.Minute)}
}

func TestPricingClientQuotesFromService(t *testing.T) {
	var got quoteRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/internal/pricing/quote", r.URL.Path)
		assert.Equal(t, "req-1", r.Header.Get("X-Request-ID"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"amount": 12.5}`))
	}))
	defer srv.Close()

	client := NewPricingClient(srv.URL, time.Second, LocalTariff{Currency: "EUR"}, zap.NewNop())
	ctx := context.WithValue(context.Background(), RequestIDKey{}, "req-1")
	price, err := client.CalculatePrice(ctx, models.Station{ID: "S1"}, models.Connector{ID: "C1", PowerKW: 50}, window())
	require.NoError(t, err)
	assert.Equal(t, 12.5, price.Amount)
	assert.Equal(t, "EUR", price.Currency)
	assert.Equal(t, "C1", got.ConnectorID)
	assert.Equal(t, 50.0, got.PowerKW)
}

func TestPricingClientPropagatesFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewPricingClient(srv.URL, time.Second, LocalTariff{}, zap.NewNop())
	_, err := client.CalculatePrice(context.Background(), models.Station{}, models.Connector{ID: "C1"}, window())
	var status *StatusError
	require.ErrorAs(t, err, &status)
	assert.Equal(t, http.StatusBadGateway, status.Status)
	assert.Equal(t, "boom", status.Body)
}

func TestPricingClientRejectsNegativeAmount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"amount": -1, "currency": "USD"}`))
	}))
	defer srv.Close()

	client := NewPricingClient(srv.URL, time.Second, LocalTariff{}, zap.NewNop())
	_, err := client.CalculatePrice(context.Background(), models.Station{}, models.Connector{}, window())
	assert.Error(t, err)
}

func TestLocalTariff(t *testing.T) {
	tariff := LocalTariff{DefaultPerKWh: 0.4}

	price, err := tariff.Quote(models.Connector{PowerKW: 50, PricePerKWh: 0.3, PricePerMinute: 0.1}, window())
	require.NoError(t, err)
	// 90 min * 0.1 + 50 kW * 1.5 h * 0.3
	assert.Equal(t, 31.5, price.Amount)
	assert.Equal(t, "USD", price.Currency)

	price, err = tariff.Quote(models.Connector{PowerKW: 22}, window())
	require.NoError(t, err)
	assert.Equal(t, 13.2, price.Amount)

	_, err = LocalTariff{}.Quote(models.Connector{PowerKW: 22}, window())
	assert.Error(t, err)

	_, err = tariff.Quote(models.Connector{PowerKW: 22}, models.TimeWindow{})
	assert.Error(t, err)
}

func TestPricingClientFallsBackToTariff(t *testing.T) {
	client := NewPricingClient("", time.Second, LocalTariff{Currency: "EUR", DefaultPerKWh: 0.5}, zap.NewNop())
	price, err := client.CalculatePrice(context.Background(), models.Station{}, models.Connector{PowerKW: 10}, window())
	require.NoError(t, err)
	assert.Equal(t, 7.5, price.Amount)
	assert.Equal(t, "EUR", price.Currency)
}

func TestPaymentClientRefund(t *testing.T) {
	var got RefundRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/internal/payments/refunds", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	client := NewPaymentClient(srv.URL, time.Second, zap.NewNop())
	require.NoError(t, client.Refund(context.Background(), "r1", 8, "USD"))
	assert.Equal(t, RefundRequest{ReservationID: "r1", Amount: 8, Currency: "USD"}, got)

	disabled := NewPaymentClient("", time.Second, zap.NewNop())
	assert.NoError(t, disabled.Refund(context.Background(), "r1", 8, "USD"))
}

func TestSessionsClientStartSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req StartSessionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.ReservationID == "empty" {
			_, _ = w.Write([]byte(`{}`))
			return
		}
		_, _ = w.Write([]byte(`{"session_id": "sess-` + req.ReservationID + `"}`))
	}))
	defer srv.Close()

	client := NewSessionsClient(srv.URL, time.Second, zap.NewNop())
	id, err := client.StartSession(context.Background(), models.Reservation{ID: "r1", EndTime: window().End})
	require.NoError(t, err)
	assert.Equal(t, "sess-r1", id)

	_, err = client.StartSession(context.Background(), models.Reservation{ID: "empty"})
	assert.Error(t, err)

	_, err = NewSessionsClient("", time.Second, zap.NewNop()).StartSession(context.Background(), models.Reservation{})
	assert.ErrorIs(t, err, ErrSessionsDisabled)
}

type fakeChannel struct {
	mu        sync.Mutex
	published []amqp.Publishing
	keys      []string
	closed    bool
}

func (c *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys = append(c.keys, exchange+"/"+key)
	c.published = append(c.published, msg)
	return nil
}

func (c *fakeChannel) Close() error {
	c.closed = true
	return nil
}

func TestNotificationClientSchedulesFutureReminders(t *testing.T) {
	channel := &fakeChannel{}
	client := NewNotificationClientWithChannel(channel, "notifications", []time.Duration{time.Hour, 15 * time.Minute}, zap.NewNop())

	start := time.Now().Add(30 * time.Minute).UTC().Truncate(time.Second)
	res := models.Reservation{ID: "r1", UserID: "u1", StationID: "S1", ConnectorID: "C1", StartTime: start}
	require.NoError(t, client.ScheduleReminders(context.Background(), res))

	require.Len(t, channel.published, 1)
	assert.Equal(t, "notifications/"+RoutingScheduleReminders, channel.keys[0])
	assert.Equal(t, "r1", channel.published[0].MessageId)
	assert.Equal(t, amqp.Persistent, channel.published[0].DeliveryMode)

	var msg ReminderMessage
	require.NoError(t, json.Unmarshal(channel.published[0].Body, &msg))
	require.Len(t, msg.RemindAt, 1, "the one hour reminder is already past")
	assert.True(t, msg.RemindAt[0].Equal(start.Add(-15*time.Minute)))

	require.NoError(t, client.CancelReminders(context.Background(), "r1"))
	assert.Equal(t, "notifications/"+RoutingCancelReminders, channel.keys[1])

	require.NoError(t, client.Close())
	assert.True(t, channel.closed)
}

func TestNotificationClientDisabled(t *testing.T) {
	client, err := NewNotificationClient("", "notifications", nil, zap.NewNop())
	require.NoError(t, err)
	assert.NoError(t, client.ScheduleReminders(context.Background(), models.Reservation{ID: "r1"}))
	assert.NoError(t, client.Close())
}
