package clients

import (
	"context"
	"errors"
	"math"
	"time"

	"go.uber.org/zap"

	"chargeslot/backend/services/reservation-service/internal/models"
)

// PricingClient quotes reservation fees from the pricing service, or from the
// connector tariff when no service is configured.
type PricingClient struct {
	http   jsonClient
	tariff LocalTariff
	logger *zap.Logger
}

type quoteRequest struct {
	StationID   string    `json:"station_id"`
	ConnectorID string    `json:"connector_id"`
	PowerKW     float64   `json:"power_kw"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
}

type quoteResponse struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

// NewPricingClient builds HTTP client wrapper.
func NewPricingClient(baseURL string, timeout time.Duration, tariff LocalTariff, logger *zap.Logger) *PricingClient {
	return &PricingClient{
		http:   newJSONClient(baseURL, timeout),
		tariff: tariff,
		logger: logger,
	}
}

// CalculatePrice returns the fee for holding the connector during the window.
func (c *PricingClient) CalculatePrice(ctx context.Context, station models.Station, connector models.Connector, window models.TimeWindow) (models.Price, error) {
	if !c.http.enabled() {
		return c.tariff.Quote(connector, window)
	}

	var out quoteResponse
	err := c.http.post(ctx, "/internal/pricing/quote", quoteRequest{
		StationID:   station.ID,
		ConnectorID: connector.ID,
		PowerKW:     connector.PowerKW,
		Start:       window.Start,
		End:         window.End,
	}, &out)
	if err != nil {
		c.logger.Warn("pricing client request failed", zap.String("connector_id", connector.ID), zap.Error(err))
		return models.Price{}, err
	}
	if out.Amount < 0 {
		return models.Price{}, errors.New("pricing service returned a negative amount")
	}
	if out.Currency == "" {
		out.Currency = c.tariff.Currency
	}
	return models.Price{Amount: out.Amount, Currency: out.Currency}, nil
}

// LocalTariff prices a window from connector rates: minutes at the per-minute
// rate plus the rated power over the window at the per-kWh rate.
type LocalTariff struct {
	Currency      string
	DefaultPerKWh float64
}

// Quote computes the local price.
func (t LocalTariff) Quote(connector models.Connector, window models.TimeWindow) (models.Price, error) {
	if !window.Valid() {
		return models.Price{}, errors.New("tariff: invalid window")
	}
	perKWh := connector.PricePerKWh
	if perKWh <= 0 && connector.PricePerMinute <= 0 {
		perKWh = t.DefaultPerKWh
	}
	if perKWh <= 0 && connector.PricePerMinute <= 0 {
		return models.Price{}, errors.New("tariff: no tariff configured")
	}

	hours := window.Duration().Hours()
	amount := window.Duration().Minutes()*connector.PricePerMinute + connector.PowerKW*hours*perKWh
	currency := t.Currency
	if currency == "" {
		currency = "USD"
	}
	return models.Price{Amount: math.Round(amount*100) / 100, Currency: currency}, nil
}
