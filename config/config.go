package config

import (
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config carries the dispatcher service configuration, loaded from the
// environment (optionally seeded from a .env file).
type Config struct {
	DbConnectionUri string        `required:"true" split_words:"true"`
	QueueHostPorts  []string      `split_words:"true"`
	EventsTopic     string        `split_words:"true" default:"tasks.events"`
	RedisAddress    string        `split_words:"true"`
	RedisPassword   string        `split_words:"true"`
	RedisDb         int           `split_words:"true" default:"0"`
	HttpAddr        string        `split_words:"true" default:":8080"`
	Workers         int           `default:"8"`
	ClaimLimit      int           `split_words:"true" default:"100"`
	PollInterval    time.Duration `split_words:"true" default:"2s"`
	StuckAfter      time.Duration `split_words:"true" default:"5m"`
	MaxAttempts     int           `split_words:"true" default:"5"`
	BackoffBase     time.Duration `split_words:"true" default:"2s"`
	BackoffCap      time.Duration `split_words:"true" default:"5m"`
	UpstreamBaseUrl string        `split_words:"true"`
	UpstreamTimeout time.Duration `split_words:"true" default:"30s"`
	StatusCacheTtl  time.Duration `split_words:"true" default:"1h"`
}

func Load() (Config, error) {
	// .env is optional; real environments set variables directly.
	_ = godotenv.Load()

	var config Config
	if err := envconfig.Process("", &config); err != nil {
		return Config{}, err
	}
	return config, nil
}
