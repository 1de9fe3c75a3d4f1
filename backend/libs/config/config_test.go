package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleConfig struct {
	HTTP struct {
		Port string `yaml:"port" toml:"port" env:"SAMPLE_HTTP_PORT"`
	} `yaml:"http" toml:"http"`
	Search struct {
		MaxLimit   int           `yaml:"maxLimit" toml:"maxLimit"`
		ResultTTL  time.Duration `yaml:"resultTTL" toml:"resultTTL"`
		Enabled    bool          `yaml:"enabled" toml:"enabled"`
		PenaltyFee float64       `yaml:"penaltyFee" toml:"penaltyFee"`
	} `yaml:"search" toml:"search"`
	Brokers []string `yaml:"brokers" toml:"brokers" env:"SAMPLE_BROKERS"`
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigYAMLWithEnvOverride(t *testing.T) {
	path := writeFile(t, "cfg.yaml", "http:\n  port: \"8080\"\nsearch:\n  maxLimit: 100\n  enabled: true\n")
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("SAMPLE_HTTP_PORT", "9090")
	t.Setenv("SEARCH_RESULTTTL", "15m")
	t.Setenv("SAMPLE_BROKERS", "kafka-1:9092, kafka-2:9092")

	var cfg sampleConfig
	require.NoError(t, LoadConfig(&cfg))

	assert.Equal(t, "9090", cfg.HTTP.Port)
	assert.Equal(t, 100, cfg.Search.MaxLimit)
	assert.True(t, cfg.Search.Enabled)
	assert.Equal(t, 15*time.Minute, cfg.Search.ResultTTL)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Brokers)
}

func TestLoadConfigTOML(t *testing.T) {
	path := writeFile(t, "cfg.toml", "[http]\nport = \"7000\"\n\n[search]\nmaxLimit = 42\npenaltyFee = 1.5\n")
	t.Setenv("CONFIG_FILE", path)

	var cfg sampleConfig
	require.NoError(t, LoadConfig(&cfg))

	assert.Equal(t, "7000", cfg.HTTP.Port)
	assert.Equal(t, 42, cfg.Search.MaxLimit)
	assert.InDelta(t, 1.5, cfg.Search.PenaltyFee, 1e-9)
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("SEARCH_MAXLIMIT", "many")

	var cfg sampleConfig
	err := LoadConfig(&cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SEARCH_MAXLIMIT")

	require.Error(t, LoadConfig(cfg))
}

func TestLoadFileUnsupportedExtension(t *testing.T) {
	path := writeFile(t, "cfg.ini", "port=1")
	var cfg sampleConfig
	require.Error(t, LoadFile(path, &cfg))
}
