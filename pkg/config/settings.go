package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Settings struct {
	Queue         QueueSettings     `mapstructure:"queue"`
	Audit         AuditSettings     `mapstructure:"audit"`
	Broadcast     BroadcastSettings `mapstructure:"broadcast"`
	Consumer      ConsumerSettings  `mapstructure:"consumer"`
	Observability Observability     `mapstructure:"observability"`
}

func (c *Settings) Validate() error {
	validate := validator.New()
	return validate.Struct(c)
}

func LoadFromFile(filePath string) (*Settings, error) {

	env := getEnvWithDefaultLookup("ENVIRONMENT", "development")

	cfg := &Settings{}
	viper.SetConfigType("yaml")
	viper.SetConfigName("eventbus")
	viper.AddConfigPath(filePath) // path to config
	viper.AddConfigPath(".")      // current directory

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("No config file found or read error: %v (will rely on env)", err)
	}

	err := mergeConfig(filePath, "eventbus."+env)
	if err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Printf("Error merging env config: %s\n", err)
			os.Exit(1)
		}
	}

	if err := viper.Unmarshal(&cfg); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if err := cfg.LoadFromEnv(); err != nil {
		log.Fatalf("Failed to load from env: %v", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	return cfg, nil
}

func (c *Settings) LoadFromEnv() error {
	viper.AutomaticEnv()
	viper.SetEnvPrefix("EVENTBUS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // env vars like EVENTBUS_QUEUE_ADDR

	// Bind environment variables explicitly to ensure they map correctly
	viper.BindEnv("queue.addr")
	viper.BindEnv("queue.password")
	viper.BindEnv("queue.db")
	viper.BindEnv("queue.stream")
	viper.BindEnv("queue.max_retries")
	viper.BindEnv("queue.retry_delay")
	viper.BindEnv("queue.read_count")
	viper.BindEnv("queue.block_wait")
	viper.BindEnv("queue.cooldown")
	viper.BindEnv("audit.dsn")
	viper.BindEnv("broadcast.type")
	viper.BindEnv("broadcast.url")
	viper.BindEnv("broadcast.channel")
	viper.BindEnv("broadcast.exchange")
	viper.BindEnv("consumer.target_system")
	viper.BindEnv("consumer.group")
	viper.BindEnv("consumer.consumer_id")
	viper.BindEnv("observability.service_name")
	viper.BindEnv("observability.tracing_url")
	viper.BindEnv("observability.metrics_url")

	if err := viper.Unmarshal(&c); err != nil {
		return err
	}
	return nil
}

func (c *Settings) applyDefaults() {
	if c.Queue.Stream == "" {
		c.Queue.Stream = "hotel-events"
	}
	if c.Queue.MaxRetries == 0 {
		c.Queue.MaxRetries = 3
	}
	if c.Queue.RetryDelay == 0 {
		c.Queue.RetryDelay = time.Second
	}
	if c.Queue.ReadCount == 0 {
		c.Queue.ReadCount = 10
	}
	if c.Queue.BlockWait == 0 {
		c.Queue.BlockWait = 5 * time.Second
	}
	if c.Queue.Cooldown == 0 {
		c.Queue.Cooldown = 5 * time.Second
	}
	if c.Broadcast.Channel == "" {
		c.Broadcast.Channel = "system:event"
	}
}

func mergeConfig(path string, name string) error {
	viper.SetConfigName(name)
	viper.AddConfigPath(path)
	err := viper.MergeInConfig()
	if err != nil {
		return err
	}
	return nil
}

func getEnvWithDefaultLookup(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}
