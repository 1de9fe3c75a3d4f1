package clients

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// PaymentClient asks the payment service to refund reservation fees.
type PaymentClient struct {
	http   jsonClient
	logger *zap.Logger
}

// RefundRequest payload for a refund.
type RefundRequest struct {
	ReservationID string  `json:"reservation_id"`
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency"`
}

// NewPaymentClient builds HTTP client wrapper.
func NewPaymentClient(baseURL string, timeout time.Duration, logger *zap.Logger) *PaymentClient {
	return &PaymentClient{http: newJSONClient(baseURL, timeout), logger: logger}
}

// Refund requests a refund. Without a configured service the call is skipped.
func (c *PaymentClient) Refund(ctx context.Context, reservationID string, amount float64, currency string) error {
	if !c.http.enabled() {
		c.logger.Debug("payment client disabled, skip refund", zap.String("reservation_id", reservationID))
		return nil
	}
	err := c.http.post(ctx, "/internal/payments/refunds", RefundRequest{
		ReservationID: reservationID,
		Amount:        amount,
		Currency:      currency,
	}, nil)
	if err != nil {
		c.logger.Warn("payment client request failed", zap.String("reservation_id", reservationID), zap.Error(err))
		return err
	}
	return nil
}
