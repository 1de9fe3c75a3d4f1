package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	libconfig "chargeslot/backend/libs/config"
)

// Config defines reservation service configuration.
type Config struct {
	Log struct {
		Level    string `yaml:"level" toml:"level" env:"RESERVATION_LOG_LEVEL"`
		Encoding string `yaml:"encoding" toml:"encoding"`
	} `yaml:"log" toml:"log"`
	HTTP struct {
		Port            string        `yaml:"port" toml:"port" env:"RESERVATION_HTTP_PORT"`
		ShutdownTimeout time.Duration `yaml:"shutdownTimeout" toml:"shutdown_timeout"`
	} `yaml:"http" toml:"http"`
	Database struct {
		DSN          string `yaml:"dsn" toml:"dsn" env:"RESERVATION_POSTGRES_DSN"`
		MaxOpenConns int    `yaml:"maxOpenConns" toml:"max_open_conns"`
		Migrate      bool   `yaml:"migrate" toml:"migrate" env:"RESERVATION_MIGRATE"`
	} `yaml:"database" toml:"database"`
	Redis struct {
		Addr     string        `yaml:"addr" toml:"addr" env:"RESERVATION_REDIS_ADDR"`
		Password string        `yaml:"password" toml:"password" env:"RESERVATION_REDIS_PASSWORD"`
		DB       int           `yaml:"db" toml:"db" env:"RESERVATION_REDIS_DB"`
		PoolSize int           `yaml:"poolSize" toml:"pool_size"`
		CacheTTL time.Duration `yaml:"cacheTTL" toml:"cache_ttl"`
	} `yaml:"redis" toml:"redis"`
	Auth struct {
		JWTSecret     string `yaml:"jwtSecret" toml:"jwt_secret" env:"JWT_SECRET"`
		InternalToken string `yaml:"internalToken" toml:"internal_token" env:"INTERNAL_TOKEN"`
	} `yaml:"auth" toml:"auth"`
	Clients struct {
		PricingURL  string        `yaml:"pricingURL" toml:"pricing_url" env:"PRICING_SERVICE_URL"`
		PaymentURL  string        `yaml:"paymentURL" toml:"payment_url" env:"PAYMENT_SERVICE_URL"`
		SessionsURL string        `yaml:"sessionsURL" toml:"sessions_url" env:"SESSIONS_SERVICE_URL"`
		Timeout     time.Duration `yaml:"timeout" toml:"timeout"`
	} `yaml:"clients" toml:"clients"`
	Notifications struct {
		AMQPURL         string   `yaml:"amqpURL" toml:"amqp_url" env:"NOTIFICATIONS_AMQP_URL"`
		Exchange        string   `yaml:"exchange" toml:"exchange"`
		ReminderOffsets []string `yaml:"reminderOffsets" toml:"reminder_offsets"`
	} `yaml:"notifications" toml:"notifications"`
	Events struct {
		KafkaBrokers string        `yaml:"kafkaBrokers" toml:"kafka_brokers" env:"EVENTS_KAFKA_BROKERS"`
		Topic        string        `yaml:"topic" toml:"topic"`
		Buffer       int           `yaml:"buffer" toml:"buffer"`
		WriteTimeout time.Duration `yaml:"writeTimeout" toml:"write_timeout"`
	} `yaml:"events" toml:"events"`
	Reservations struct {
		MinDuration         time.Duration `yaml:"minDuration" toml:"min_duration"`
		MaxDuration         time.Duration `yaml:"maxDuration" toml:"max_duration"`
		ModifyCutoff        time.Duration `yaml:"modifyCutoff" toml:"modify_cutoff"`
		DefaultGraceMinutes int           `yaml:"defaultGraceMinutes" toml:"default_grace_minutes"`
		MaxGraceMinutes     int           `yaml:"maxGraceMinutes" toml:"max_grace_minutes"`
		EarlyCheckIn        time.Duration `yaml:"earlyCheckIn" toml:"early_check_in"`
		LatePenaltyPerMin   float64       `yaml:"latePenaltyPerMinute" toml:"late_penalty_per_minute"`
		Currency            string        `yaml:"currency" toml:"currency"`
		DefaultPricePerKWh  float64       `yaml:"defaultPricePerKwh" toml:"default_price_per_kwh"`
		MaxOccurrences      int           `yaml:"maxOccurrences" toml:"max_occurrences"`
	} `yaml:"reservations" toml:"reservations"`
	Cancellation struct {
		DefaultPolicy string  `yaml:"defaultPolicy" toml:"default_policy"`
		EarlyRefund   float64 `yaml:"earlyRefundPercent" toml:"early_refund_percent"`
	} `yaml:"cancellation" toml:"cancellation"`
	Search struct {
		DefaultLimit    int           `yaml:"defaultLimit" toml:"default_limit"`
		MaxLimit        int           `yaml:"maxLimit" toml:"max_limit"`
		ResultTTL       time.Duration `yaml:"resultTTL" toml:"result_ttl"`
		RecommendCount  int           `yaml:"recommendCount" toml:"recommend_count"`
		PricingTimeout  time.Duration `yaml:"pricingTimeout" toml:"pricing_timeout"`
		WaitListHorizon time.Duration `yaml:"waitListHorizon" toml:"wait_list_horizon"`
	} `yaml:"search" toml:"search"`
	RateLimit struct {
		SearchRequests   int           `yaml:"searchRequests" toml:"search_requests"`
		MutationRequests int           `yaml:"mutationRequests" toml:"mutation_requests"`
		Window           time.Duration `yaml:"window" toml:"window"`
	} `yaml:"rateLimit" toml:"rate_limit"`
	WebSocket struct {
		PingInterval time.Duration `yaml:"pingInterval" toml:"ping_interval"`
		WriteTimeout time.Duration `yaml:"writeTimeout" toml:"write_timeout"`
		SendBuffer   int           `yaml:"sendBuffer" toml:"send_buffer"`
	} `yaml:"websocket" toml:"websocket"`
	Workers struct {
		NoShowInterval    time.Duration `yaml:"noShowInterval" toml:"no_show_interval"`
		DirectoryInterval time.Duration `yaml:"directoryInterval" toml:"directory_interval"`
	} `yaml:"workers" toml:"workers"`
	Metrics struct {
		Enabled   bool   `yaml:"enabled" toml:"enabled" env:"RESERVATION_METRICS_ENABLED"`
		Namespace string `yaml:"namespace" toml:"namespace"`
	} `yaml:"metrics" toml:"metrics"`
}

// Load reads configuration via shared helper.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.Log.Level = "info"
	cfg.HTTP.Port = "8085"
	cfg.Database.Migrate = true
	cfg.Redis.Addr = "localhost:6379"
	cfg.Notifications.Exchange = "notifications"
	cfg.Events.Topic = "reservation-events"
	cfg.Cancellation.DefaultPolicy = "standard"
	cfg.Cancellation.EarlyRefund = 80
	cfg.Reservations.LatePenaltyPerMin = 1
	cfg.Metrics.Enabled = true

	if err := libconfig.LoadConfig(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Database.DSN) == "" {
		return errors.New("config: database dsn required")
	}
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return errors.New("config: jwt secret required")
	}
	if c.Reservations.LatePenaltyPerMin < 0 {
		return fmt.Errorf("config: late penalty per minute %.2f is negative", c.Reservations.LatePenaltyPerMin)
	}
	if c.Cancellation.EarlyRefund < 0 || c.Cancellation.EarlyRefund > 100 {
		return fmt.Errorf("config: early refund percent %.1f out of range", c.Cancellation.EarlyRefund)
	}
	if _, err := c.ReminderOffsets(); err != nil {
		return err
	}
	return nil
}

// HTTPAddress returns :port style.
func (c *Config) HTTPAddress() string {
	port := strings.TrimSpace(c.HTTP.Port)
	if port == "" {
		port = "8085"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return fmt.Sprintf(":%s", port)
}

// CacheTTL returns the reservation cache ttl.
func (c *Config) CacheTTL() time.Duration {
	if c.Redis.CacheTTL <= 0 {
		return 5 * time.Minute
	}
	return c.Redis.CacheTTL
}

// ClientTimeout returns the collaborator request timeout.
func (c *Config) ClientTimeout() time.Duration {
	if c.Clients.Timeout <= 0 {
		return 5 * time.Second
	}
	return c.Clients.Timeout
}

// ReminderOffsets parses reminder lead times. Defaults to one hour and fifteen minutes.
func (c *Config) ReminderOffsets() ([]time.Duration, error) {
	if len(c.Notifications.ReminderOffsets) == 0 {
		return []time.Duration{time.Hour, 15 * time.Minute}, nil
	}
	out := make([]time.Duration, 0, len(c.Notifications.ReminderOffsets))
	for _, raw := range c.Notifications.ReminderOffsets {
		d, err := time.ParseDuration(strings.TrimSpace(raw))
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("config: invalid reminder offset %q", raw)
		}
		out = append(out, d)
	}
	return out, nil
}

// RateLimitWindow returns the shared rate limit window.
func (c *Config) RateLimitWindow() time.Duration {
	if c.RateLimit.Window <= 0 {
		return 15 * time.Minute
	}
	return c.RateLimit.Window
}

// SearchRateLimit returns requests per window for search.
func (c *Config) SearchRateLimit() int {
	if c.RateLimit.SearchRequests <= 0 {
		return 300
	}
	return c.RateLimit.SearchRequests
}

// MutationRateLimit returns requests per window for reservation mutations.
func (c *Config) MutationRateLimit() int {
	if c.RateLimit.MutationRequests <= 0 {
		return 60
	}
	return c.RateLimit.MutationRequests
}

// NoShowInterval returns the no-show sweep period.
func (c *Config) NoShowInterval() time.Duration {
	if c.Workers.NoShowInterval <= 0 {
		return time.Minute
	}
	return c.Workers.NoShowInterval
}

// DirectoryInterval returns the station catalogue refresh period.
func (c *Config) DirectoryInterval() time.Duration {
	if c.Workers.DirectoryInterval <= 0 {
		return 5 * time.Minute
	}
	return c.Workers.DirectoryInterval
}

// MetricsNamespace returns the prometheus namespace.
func (c *Config) MetricsNamespace() string {
	if c.Metrics.Namespace == "" {
		return "reservation"
	}
	return c.Metrics.Namespace
}

// EventsBuffer returns the kafka sink queue length.
func (c *Config) EventsBuffer() int {
	if c.Events.Buffer <= 0 {
		return 256
	}
	return c.Events.Buffer
}
