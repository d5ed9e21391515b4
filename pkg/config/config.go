package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database   DatabaseConfig
	Redis      RedisConfig
	Kafka      KafkaConfig
	Upstream   UpstreamConfig
	Imputation ImputationConfig
	Scheduler  SchedulerConfig
	Predictor  PredictorConfig
	Admin      AdminConfig
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

func (d DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type KafkaConfig struct {
	Brokers       []string
	TopicReadings string
	NumPartitions int
}

type UpstreamConfig struct {
	BaseURL       string
	FetchTimeout  time.Duration
	RetryAttempts int
	RetryBackoff  time.Duration
}

// ImputationConfig holds the gap classification thresholds and the
// context window requirements for the sequence predictor.
type ImputationConfig struct {
	ShortGapHours      int
	MediumGapHours     int
	MaxGapHours        int
	SequenceLength     int
	MaxContextGapHours int
	StationWorkers     int
}

type SchedulerConfig struct {
	HourlyOffset   time.Duration
	QualityEvery   time.Duration
	RefreshTime    string
	HistorySize    int
	LookbackHours  int
	StationTimeout time.Duration
}

type PredictorConfig struct {
	BaseURL        string
	RequestTimeout time.Duration
	VersionTTL     time.Duration
}

type AdminConfig struct {
	Addr string
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	config := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "airquality_user"),
			Password: getEnv("DB_PASSWORD", "airquality_pass"),
			DBName:   getEnv("DB_NAME", "airquality_db"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers:       strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),
			TopicReadings: getEnv("KAFKA_TOPIC_READINGS", "airquality.readings.raw"),
			NumPartitions: getEnvAsInt("KAFKA_NUM_PARTITIONS", 10),
		},
		Upstream: UpstreamConfig{
			BaseURL:       getEnv("UPSTREAM_BASE_URL", "http://localhost:9000"),
			FetchTimeout:  getEnvAsDuration("UPSTREAM_FETCH_TIMEOUT", 15*time.Second),
			RetryAttempts: getEnvAsInt("UPSTREAM_RETRY_ATTEMPTS", 3),
			RetryBackoff:  getEnvAsDuration("UPSTREAM_RETRY_BACKOFF", 2*time.Second),
		},
		Imputation: ImputationConfig{
			ShortGapHours:      getEnvAsInt("IMPUTATION_SHORT_GAP_HOURS", 3),
			MediumGapHours:     getEnvAsInt("IMPUTATION_MEDIUM_GAP_HOURS", 24),
			MaxGapHours:        getEnvAsInt("IMPUTATION_MAX_GAP_HOURS", 24),
			SequenceLength:     getEnvAsInt("IMPUTATION_SEQUENCE_LENGTH", 24),
			MaxContextGapHours: getEnvAsInt("IMPUTATION_MAX_CONTEXT_GAP_HOURS", 24),
			StationWorkers:     getEnvAsInt("IMPUTATION_STATION_WORKERS", 5),
		},
		Scheduler: SchedulerConfig{
			HourlyOffset:   getEnvAsDuration("SCHEDULER_HOURLY_OFFSET", 5*time.Minute),
			QualityEvery:   getEnvAsDuration("SCHEDULER_QUALITY_EVERY", 6*time.Hour),
			RefreshTime:    getEnv("SCHEDULER_REFRESH_TIME", "02:30"),
			HistorySize:    getEnvAsInt("SCHEDULER_HISTORY_SIZE", 100),
			LookbackHours:  getEnvAsInt("SCHEDULER_LOOKBACK_HOURS", 72),
			StationTimeout: getEnvAsDuration("SCHEDULER_STATION_TIMEOUT", 5*time.Minute),
		},
		Predictor: PredictorConfig{
			BaseURL:        getEnv("PREDICTOR_BASE_URL", "http://localhost:9100"),
			RequestTimeout: getEnvAsDuration("PREDICTOR_REQUEST_TIMEOUT", 30*time.Second),
			VersionTTL:     getEnvAsDuration("PREDICTOR_VERSION_TTL", 10*time.Minute),
		},
		Admin: AdminConfig{
			Addr: getEnv("ADMIN_ADDR", ":8085"),
		},
	}

	if err := config.Imputation.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate rejects threshold combinations that would make the fallback
// tiering inconsistent with the hard gap limit.
func (c ImputationConfig) Validate() error {
	if c.ShortGapHours < 1 {
		return fmt.Errorf("short gap threshold must be at least 1 hour, got %d", c.ShortGapHours)
	}
	if c.MediumGapHours < c.ShortGapHours {
		return fmt.Errorf("medium gap threshold (%d) must not be below short gap threshold (%d)",
			c.MediumGapHours, c.ShortGapHours)
	}
	if c.MaxGapHours < c.MediumGapHours {
		return fmt.Errorf("max gap hours (%d) must not be below medium gap threshold (%d)",
			c.MaxGapHours, c.MediumGapHours)
	}
	if c.SequenceLength < 1 {
		return fmt.Errorf("sequence length must be at least 1, got %d", c.SequenceLength)
	}
	if c.MaxContextGapHours < 1 {
		return fmt.Errorf("max context gap hours must be at least 1, got %d", c.MaxContextGapHours)
	}
	if c.StationWorkers < 1 {
		return fmt.Errorf("station workers must be at least 1, got %d", c.StationWorkers)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
