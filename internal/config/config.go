package config

import (
	"fmt"
	"os"
	"strconv"
)

// Error marks configuration that cannot be acted on (bad port, missing
// required value). It is the only error class that terminates the
// process instead of being retried.
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("invalid configuration for %s: %s", e.Field, e.Reason)
}

type Redis struct {
	Host string
	Port int
	// Key is the list the producers push onto and the worker drains.
	Key string
}

func (r Redis) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type Database struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
}

// URL renders a lib/pq connection string.
func (d Database) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type Config struct {
	Redis      Redis
	Database   Database
	ListenAddr string

	// Ballot labels shown by the vote front end.
	OptionA string
	OptionB string
}

// FromEnv assembles the configuration from environment variables,
// falling back to the defaults the compose setup uses. Load a .env
// first (godotenv) if the caller wants file-based overrides.
func FromEnv() (Config, error) {
	redisPort, err := envInt("REDIS_PORT", 6379)
	if err != nil {
		return Config{}, err
	}
	dbPort, err := envInt("DATABASE_PORT", 5432)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Redis: Redis{
			Host: envOr("REDIS_HOST", "localhost"),
			Port: redisPort,
			Key:  envOr("REDIS_QUEUE_KEY", "votes"),
		},
		Database: Database{
			Host:     envOr("DATABASE_HOST", "localhost"),
			Port:     dbPort,
			User:     envOr("DATABASE_USER", "postgres"),
			Password: envOr("DATABASE_PASSWORD", "postgres"),
			Name:     envOr("DATABASE_NAME", "votes"),
		},
		ListenAddr: envOr("LISTEN_ADDR", ":8080"),
		OptionA:    envOr("OPTION_A", "Cats"),
		OptionB:    envOr("OPTION_B", "Dogs"),
	}

	if cfg.Redis.Host == "" {
		return Config{}, &Error{Field: "REDIS_HOST", Reason: "must not be empty"}
	}
	if cfg.Database.Host == "" {
		return Config{}, &Error{Field: "DATABASE_HOST", Reason: "must not be empty"}
	}
	if cfg.Database.Name == "" {
		return Config{}, &Error{Field: "DATABASE_NAME", Reason: "must not be empty"}
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, &Error{Field: key, Reason: fmt.Sprintf("not an integer: %q", v)}
	}
	if n <= 0 || n > 65535 {
		return 0, &Error{Field: key, Reason: fmt.Sprintf("port out of range: %d", n)}
	}
	return n, nil
}
