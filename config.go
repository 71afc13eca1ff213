package jobrelay

import (
	"github.com/caarlos0/env/v11"

	"github.com/jobrelay/jobrelay/store"
)

// Config holds the connection parameters for the relational store. Fields
// can be populated directly or loaded from the environment with LoadConfig.
type Config struct {
	// DatabaseURL is a libpq-style URL or DSN for the Postgres instance.
	DatabaseURL string `env:"DATABASE_URL,required"`

	// Schema is the namespace holding this queue's jobs table. Distinct
	// schemas give fully independent queue instances on one database.
	Schema string `env:"QUEUE_SCHEMA" envDefault:"jobrelay"`

	// MaxConns caps the connection pool size. Zero keeps the pool default.
	MaxConns int32 `env:"QUEUE_MAX_CONNS"`
}

// LoadConfig parses Config from environment variables.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// storeOptions translates the public config into store options.
func (c Config) storeOptions() store.Options {
	return store.Options{
		ConnString: c.DatabaseURL,
		Schema:     c.Schema,
		MaxConns:   c.MaxConns,
	}
}
