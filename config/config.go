package config

import (
	"flag"
	"os"
	"strconv"
)

// Config holds all application configuration.
type Config struct {
	Port         int
	ReadTimeout  int
	WriteTimeout int
	Env          string

	// PGConnString is the DSN used to dial new pgsql gateway sessions.
	PGConnString string
	// PGPoolSize bounds how many concurrent PostgreSQL sessions the
	// gateway will keep open.
	PGPoolSize int
	// TunnelDialTimeout bounds how long a tunnel's outbound dial may
	// take before the handler gives up and responds 500.
	TunnelDialTimeout int
}

// New loads configuration from flags (and potentially env vars).
func New() *Config {
	cfg := &Config{}

	flag.IntVar(&cfg.Port, "port", 8080, "HTTP server port")
	flag.IntVar(&cfg.ReadTimeout, "read-timeout", 10, "HTTP read timeout (seconds)")
	flag.IntVar(&cfg.WriteTimeout, "write-timeout", 30, "HTTP write timeout (seconds)")
	flag.StringVar(&cfg.Env, "env", "development", "Environment (development/production)")
	flag.StringVar(&cfg.PGConnString, "pg-conn-string", "", "PostgreSQL connection string for the async query gateway")
	flag.IntVar(&cfg.PGPoolSize, "pg-pool-size", 2, "Maximum concurrent PostgreSQL sessions")
	flag.IntVar(&cfg.TunnelDialTimeout, "tunnel-dial-timeout", 5, "Tunnel outbound dial timeout (seconds)")

	flag.Parse()

	// Override with ENV if present
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Port = p
		}
	}
	if dsn := os.Getenv("PG_CONN_STRING"); dsn != "" {
		cfg.PGConnString = dsn
	}

	return cfg
}
