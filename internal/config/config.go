package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port        string `envconfig:"PORT" default:"8080"`
	Environment string `envconfig:"ENV" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL"`

	// Storage
	StoreDriver        string `envconfig:"STORE_DRIVER" default:"postgres"`
	DBConnectionString string `envconfig:"DB_CONNECTION_STRING"`
	JWTSecret          string `envconfig:"SUPABASE_JWT_SECRET" required:"true"`

	// Job status fan-out between API and worker processes
	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	// Detached generation jobs
	JobDispatcher                 string `envconfig:"JOB_DISPATCHER" default:"inline"`
	JobTimeoutSec                 int    `envconfig:"JOB_TIMEOUT_SEC" default:"900"`
	GenerationQueueName           string `envconfig:"GENERATION_QUEUE_NAME" default:"generation_queue"`
	GenerationPollTimeoutSec      int    `envconfig:"GENERATION_POLL_TIMEOUT_SEC" default:"30"`
	GenerationPollMaxMsg          int    `envconfig:"GENERATION_POLL_MAX_MSG" default:"1"`
	GenerationDeadLetterQueueName string `envconfig:"GENERATION_DEAD_LETTER_QUEUE_NAME" default:"generation_queue_dlq"`
	PubSubGenerationTopic         string `envconfig:"PUBSUB_GENERATION_TOPIC" default:"lesson-generation"`
	PubSubGenerationSubscription  string `envconfig:"PUBSUB_GENERATION_SUBSCRIPTION" default:"lesson-generation-worker"`
	PubSubEmulatorHost            string `envconfig:"PUBSUB_EMULATOR_HOST"`
	GCPProjectID                  string `envconfig:"GCP_PROJECT_ID"`
	NotifyRecencyWindowSec        int    `envconfig:"NOTIFY_RECENCY_WINDOW_SEC" default:"120"`

	// Generation provider
	GenerationProvider          string `envconfig:"GENERATION_PROVIDER" default:"openai"`
	GenerationServiceBaseURL    string `envconfig:"GENERATION_SERVICE_BASE_URL"`
	GenerationItemDelayMS       int    `envconfig:"GENERATION_ITEM_DELAY_MS" default:"1000"`
	GenerationRequestTimeoutSec int    `envconfig:"GENERATION_REQUEST_TIMEOUT_SEC" default:"120"`
	OpenAIAPIKey                string `envconfig:"OPENAI_API_KEY"`
	OpenAIAPIKeySecret          string `envconfig:"OPENAI_API_KEY_SECRET"`
	OpenAIModel                 string `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`
	OpenAIBaseURL               string `envconfig:"OPENAI_BASE_URL"`

	// Artifact archive (S3-compatible)
	S3URL       string `envconfig:"S3_URL"`
	S3Bucket    string `envconfig:"S3_BUCKET"`
	S3Region    string `envconfig:"S3_REGION" default:"us-east-1"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY"`
	S3SecretKey string `envconfig:"S3_SECRET_KEY"`

	// Billing
	StripeWebhookSecret string `envconfig:"STRIPE_WEBHOOK_SECRET"`
	StripePriceBasic    string `envconfig:"STRIPE_PRICE_BASIC"`
	StripePricePremium  string `envconfig:"STRIPE_PRICE_PREMIUM"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreDriver {
	case "postgres":
		if c.DBConnectionString == "" {
			return fmt.Errorf("DB_CONNECTION_STRING is required when STORE_DRIVER=postgres")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	switch c.JobDispatcher {
	case "inline":
	case "pgmq", "pubsub":
		// Jobs run in a separate worker process, which must share the store
		// and publish job events where the API can see them.
		if c.StoreDriver == "memory" {
			return fmt.Errorf("JOB_DISPATCHER=%s requires STORE_DRIVER=postgres", c.JobDispatcher)
		}
		if c.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required when JOB_DISPATCHER=%s", c.JobDispatcher)
		}
		if c.JobDispatcher == "pubsub" && c.GCPProjectID == "" {
			return fmt.Errorf("GCP_PROJECT_ID is required when JOB_DISPATCHER=pubsub")
		}
	default:
		return fmt.Errorf("unknown JOB_DISPATCHER %q", c.JobDispatcher)
	}
	switch c.GenerationProvider {
	case "openai", "static":
	case "http":
		if c.GenerationServiceBaseURL == "" {
			return fmt.Errorf("GENERATION_SERVICE_BASE_URL is required when GENERATION_PROVIDER=http")
		}
	default:
		return fmt.Errorf("unknown GENERATION_PROVIDER %q", c.GenerationProvider)
	}
	return nil
}

// ItemDelay is the pause between consecutive lesson generations inside a path.
func (c *Config) ItemDelay() time.Duration {
	return time.Duration(c.GenerationItemDelayMS) * time.Millisecond
}

func (c *Config) JobTimeout() time.Duration {
	return time.Duration(c.JobTimeoutSec) * time.Second
}

func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.GenerationRequestTimeoutSec) * time.Second
}

func (c *Config) NotifyRecencyWindow() time.Duration {
	return time.Duration(c.NotifyRecencyWindowSec) * time.Second
}
