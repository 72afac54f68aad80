package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/vrischmann/envconfig"
)

// Job backends.
const (
	BackendLocal = "local"
	BackendNATS  = "nats"
)

// Config is the process configuration, read from the environment.
type Config struct {
	Port      string `envconfig:"PORT,default=8080"`
	LogLevel  string `envconfig:"LOG_LEVEL,default=info"`
	LogFormat string `envconfig:"LOG_FORMAT,default=json"`

	RedisAddr string `envconfig:"REDIS_ADDR,default=127.0.0.1:6379"`
	RedisDB   int    `envconfig:"REDIS_DB,default=0"`

	NATSURL         string        `envconfig:"NATS_URL,default=nats://127.0.0.1:4222"`
	PushSettleDelay time.Duration `envconfig:"PUSH_SETTLE_DELAY,default=50ms"`

	JobBackend string `envconfig:"JOB_BACKEND,default=local"`
	JobWorkers int    `envconfig:"JOB_WORKERS,default=4"`
	JobBuffer  int    `envconfig:"JOB_BUFFER,default=256"`
	JobSubject string `envconfig:"JOB_SUBJECT,default=edgecast.jobs"`

	BoxKeyPrefix    string `envconfig:"BOX_KEY_PREFIX,default=box"`
	GetBoxAmount    int    `envconfig:"GET_BOX_AMOUNT,default=10"`
	M3U8MediaAmount int    `envconfig:"M3U8_MEDIA_AMOUNT,default=3"`

	MPDWriteDir  string `envconfig:"MPD_WRITE_DIR,default=/var/www/edgecast/dash"`
	MPDGetDir    string `envconfig:"MPD_GET_DIR,default=dash"`
	M3U8WriteDir string `envconfig:"M3U8_WRITE_DIR,default=/var/www/edgecast/hls"`
	M3U8GetDir   string `envconfig:"M3U8_GET_DIR,default=hls"`
	// MPDSourceDir is the origin root DASH streams are published under,
	// one directory per stream. Segments are served from it.
	MPDSourceDir string `envconfig:"MPD_SOURCE_DIR,default=/var/www/live"`

	// ProxyURL is where this service serves rewritten DASH manifests.
	ProxyURL string `envconfig:"PROXY_URL,default=http://127.0.0.1:8080"`
	// ServerIP and ServerPort address the origin HLS segments fall back to.
	ServerIP   string `envconfig:"SERVER_IP,default=127.0.0.1"`
	ServerPort string `envconfig:"SERVER_PORT,default=80"`
}

// Load reads the .env file from the current working directory and sets
// environment variables. If .env does not exist, Load returns an error but
// callers can ignore it and use system env or defaults. Pass one or more paths
// to load from specific files (e.g. ".env"); with no paths, ".env" is used.
func Load(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	return godotenv.Load(paths...)
}

// FromEnv builds a Config from the environment, applying defaults for unset
// variables.
func FromEnv() (Config, error) {
	var c Config
	if err := envconfig.Init(&c); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate reports settings no component can run with.
func (c Config) Validate() error {
	switch c.JobBackend {
	case BackendLocal, BackendNATS:
	default:
		return fmt.Errorf("JOB_BACKEND must be %q or %q, got %q", BackendLocal, BackendNATS, c.JobBackend)
	}
	if c.JobWorkers <= 0 {
		return fmt.Errorf("JOB_WORKERS must be positive, got %d", c.JobWorkers)
	}
	if c.JobBuffer < 0 {
		return fmt.Errorf("JOB_BUFFER must not be negative, got %d", c.JobBuffer)
	}
	if c.M3U8MediaAmount < 0 {
		return fmt.Errorf("M3U8_MEDIA_AMOUNT must not be negative, got %d", c.M3U8MediaAmount)
	}
	return nil
}
