package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type R2 struct {
	AccountID  string
	AccessKey  string
	SecretKey  string
	BucketName string
	PublicURL  string
}

// OAuthClient is the app registration used for refresh-token exchanges and
// request signing. Acquisition of user tokens happens outside this service.
type OAuthClient struct {
	ClientID     string
	ClientSecret string
}

type Scheduler struct {
	Interval          time.Duration
	MaxRetries        int
	RetryDelay        time.Duration
	RetryBackoff      string
	RetryMaxDelay     time.Duration
	CallTimeout       time.Duration
	Concurrency       int
	BatchSize         int
	StaleThreshold    time.Duration
	PublishRatePerSec float64
}

type Config struct {
	Port                 string
	PostgresURI          string
	RedisURI             string
	SecretKey            string
	CookieName           string
	R2                   R2
	Scheduler            Scheduler
	RefreshMargin        time.Duration
	TokenRefreshSchedule string

	Google    OAuthClient
	X         OAuthClient
	Pinterest OAuthClient
	Tiktok    OAuthClient
	Tumblr    OAuthClient
	Instagram OAuthClient
}

func LoadConfig() *Config {
	return &Config{
		Port:        getEnv("PORT", "3000"),
		PostgresURI: getEnv("POSTGRES_URI", ""),
		RedisURI:    getEnv("REDIS_URI", ""),
		SecretKey:   getEnv("SECRET_KEY", ""),
		CookieName:  getEnv("COOKIE_NAME", "postflow_session"),
		R2: R2{
			AccountID:  getEnv("R2_ACCOUNT_ID", ""),
			AccessKey:  getEnv("R2_ACCESS_KEY", ""),
			SecretKey:  getEnv("R2_SECRET_KEY", ""),
			BucketName: getEnv("R2_BUCKET_NAME", ""),
			PublicURL:  getEnv("R2_PUBLIC_URL", ""),
		},
		Scheduler: Scheduler{
			Interval:          getEnvSeconds("SCHEDULER_INTERVAL", 60),
			MaxRetries:        getEnvInt("MAX_RETRIES", 3),
			RetryDelay:        getEnvSeconds("RETRY_DELAY", 300),
			RetryBackoff:      strings.ToLower(getEnv("RETRY_BACKOFF", "fixed")),
			RetryMaxDelay:     getEnvSeconds("RETRY_MAX_DELAY", 3600),
			CallTimeout:       getEnvSeconds("CALL_TIMEOUT", 30),
			Concurrency:       getEnvInt("WORKER_CONCURRENCY", 10),
			BatchSize:         getEnvInt("BATCH_SIZE", 50),
			StaleThreshold:    getEnvSeconds("STALE_THRESHOLD", 900),
			PublishRatePerSec: getEnvFloat("PUBLISH_RATE_PER_SECOND", 0),
		},
		RefreshMargin:        getEnvSeconds("REFRESH_MARGIN", 300),
		TokenRefreshSchedule: getEnv("TOKEN_REFRESH_SCHEDULE", "@every 10m"),
		Google: OAuthClient{
			ClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
			ClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		},
		X: OAuthClient{
			ClientID:     getEnv("X_CLIENT_ID", ""),
			ClientSecret: getEnv("X_CLIENT_SECRET", ""),
		},
		Pinterest: OAuthClient{
			ClientID:     getEnv("PINTEREST_CLIENT_ID", ""),
			ClientSecret: getEnv("PINTEREST_CLIENT_SECRET", ""),
		},
		Tiktok: OAuthClient{
			ClientID:     getEnv("TIKTOK_CLIENT_KEY", ""),
			ClientSecret: getEnv("TIKTOK_CLIENT_SECRET", ""),
		},
		Tumblr: OAuthClient{
			ClientID:     getEnv("TUMBLR_CLIENT_ID", ""),
			ClientSecret: getEnv("TUMBLR_CLIENT_SECRET", ""),
		},
		Instagram: OAuthClient{
			ClientID:     getEnv("INSTAGRAM_CLIENT_ID", ""),
			ClientSecret: getEnv("INSTAGRAM_CLIENT_SECRET", ""),
		},
	}
}

// Validate rejects settings the scheduler cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.PostgresURI == "" {
		errs = append(errs, errors.New("POSTGRES_URI is required"))
	}
	switch len(c.SecretKey) {
	case 16, 24, 32:
	default:
		errs = append(errs, errors.New("SECRET_KEY must be 16, 24 or 32 bytes"))
	}

	s := c.Scheduler
	if s.Interval <= 0 {
		errs = append(errs, errors.New("SCHEDULER_INTERVAL must be positive"))
	}
	if s.MaxRetries < 0 {
		errs = append(errs, errors.New("MAX_RETRIES must not be negative"))
	}
	if s.RetryDelay < 0 {
		errs = append(errs, errors.New("RETRY_DELAY must not be negative"))
	}
	if s.RetryBackoff != "fixed" && s.RetryBackoff != "exponential" {
		errs = append(errs, fmt.Errorf("RETRY_BACKOFF %q must be fixed or exponential", s.RetryBackoff))
	}
	if s.CallTimeout <= 0 {
		errs = append(errs, errors.New("CALL_TIMEOUT must be positive"))
	}
	if s.Concurrency <= 0 {
		errs = append(errs, errors.New("WORKER_CONCURRENCY must be positive"))
	}
	if s.BatchSize <= 0 {
		errs = append(errs, errors.New("BATCH_SIZE must be positive"))
	}
	// Dispatchers renew claimed_at before every credential and publish call and
	// before settling, so a live claim never goes more than four calls unrenewed.
	if s.StaleThreshold <= 4*s.CallTimeout {
		errs = append(errs, errors.New("STALE_THRESHOLD must exceed four times CALL_TIMEOUT"))
	}

	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value, err := strconv.ParseFloat(getEnv(key, ""), 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvSeconds reads a whole number of seconds, the unit every interval
// variable uses.
func getEnvSeconds(key string, defaultSeconds int) time.Duration {
	return time.Duration(getEnvInt(key, defaultSeconds)) * time.Second
}
