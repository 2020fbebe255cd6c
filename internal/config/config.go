// Package config loads DataCollector's runtime configuration from the
// environment, the same struct-tag-driven style the rest of this family of
// services uses.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all process configuration, loaded once at startup.
type Config struct {
	// Process mode: "regen" switches the regeneration gate on at startup, so
	// the ingress loop answers every request/command/event with 503 and the
	// ticker skips its sweeps; the ops server still runs. Any other value
	// (default "service") leaves the gate off. No replay driver is started in
	// either mode.
	Mode string `env:"DATACOLLECTOR_MODE" envDefault:"service"`

	// MongoDB
	MongoURI      string `env:"MONGO_URL" envDefault:"mongodb://localhost:27017"`
	MongoDatabase string `env:"MONGO_DATABASE" envDefault:"millegrilles"`

	// Message bus
	AMQPURL      string `env:"MQ_URL" envDefault:"amqp://localhost:5672"`
	QueueVolatile string `env:"DATACOLLECTOR_Q_VOLATILE" envDefault:"DataCollector/volatiles"`

	// Cross-domain client timeouts. KeyMasterTimeout is loaded but not passed
	// to the KeyMaster client, which always uses keymaster.Timeout (3s).
	KeyMasterTimeout time.Duration `env:"KEYMASTER_TIMEOUT" envDefault:"3s"`
	MapperTimeout    time.Duration `env:"MAPPER_TIMEOUT" envDefault:"5s"`
	TopologyTimeout  time.Duration `env:"TOPOLOGY_TIMEOUT" envDefault:"5s"`

	// Ticker
	TickerInterval time.Duration `env:"TICKER_INTERVAL" envDefault:"30s"`
	// ClaimAllFilesHour/Minute is the wall-clock instant the ticker fires the
	// full file-claim sweep. Defaults match the original domain's 09:39.
	ClaimAllFilesHour   int `env:"CLAIM_ALL_FILES_HOUR" envDefault:"9"`
	ClaimAllFilesMinute int `env:"CLAIM_ALL_FILES_MINUTE" envDefault:"39"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Ops HTTP surface (health/ready/metrics only)
	OpsHost string `env:"DATACOLLECTOR_OPS_HOST" envDefault:"0.0.0.0"`
	OpsPort int    `env:"DATACOLLECTOR_OPS_PORT" envDefault:"8090"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config from env: %w", err)
	}
	return cfg, nil
}

// OpsListenAddr returns the address the ops HTTP server should listen on.
func (c *Config) OpsListenAddr() string {
	return fmt.Sprintf("%s:%d", c.OpsHost, c.OpsPort)
}

// Regenerating reports whether the process should run in replay-only mode.
func (c *Config) Regenerating() bool {
	return c.Mode == "regen"
}
