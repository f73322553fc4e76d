package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"cronradar/internal/shared"
)

// Config holds application configuration values.
type Config struct {
	Env       string `validate:"required,oneof=dev prod"`
	CronRadar struct {
		APIKey      string
		BaseURL     string        `validate:"required,url"`
		Method      string        `validate:"required,oneof=GET POST"`
		GracePeriod int           `validate:"gte=0"`
		MonitorAll  bool
		Timeout     time.Duration `validate:"gt=0"`
		Retries     int           `validate:"gte=0,lte=5"`
		Source      string        `validate:"required"`
		Entrypoints []string      `validate:"min=1,dive,required"`
	}
	Dispatch struct {
		Workers   int     `validate:"gte=1,lte=64"`
		QueueSize int     `validate:"gte=1"`
		RateLimit float64 `validate:"gte=0"`
		RateBurst int     `validate:"gte=1"`
	}
	Schedule struct {
		File string
	}
	HTTP struct {
		Addr string
	}
	Log struct {
		ConsoleLevel string `validate:"required,oneof=debug info warn error"`
		FileLevel    string `validate:"required,oneof=debug info warn error"`
		File         string
	}
}

// GracePeriod returns the default grace period as a duration.
func (c Config) GracePeriod() time.Duration {
	return time.Duration(c.CronRadar.GracePeriod) * time.Second
}

var validate = validator.New()

// Load reads configuration from environment variables and optional .env file.
// Malformed values are reported once here, before any task is evaluated.
func Load() (Config, error) {
	_ = godotenv.Load()

	var (
		c    Config
		errs []string
	)
	intVar := func(key string, def int) int {
		v, err := getint(key, def)
		if err != nil {
			errs = append(errs, err.Error())
		}
		return v
	}

	c.Env = getenv("ENV", "prod")
	c.CronRadar.APIKey = os.Getenv("CRONRADAR_API_KEY")
	c.CronRadar.BaseURL = strings.TrimRight(getenv("CRONRADAR_BASE_URL", "https://cronradar.com"), "/")
	c.CronRadar.Method = strings.ToUpper(getenv("CRONRADAR_METHOD", "GET"))
	c.CronRadar.GracePeriod = intVar("CRONRADAR_GRACE_PERIOD", 60)
	c.CronRadar.Retries = intVar("CRONRADAR_RETRIES", 2)
	c.CronRadar.Source = getenv("CRONRADAR_SOURCE", "go-cron")
	c.CronRadar.Entrypoints = splitList(getenv("CRONRADAR_ENTRYPOINTS", "artisan"))

	monitorAll, err := strconv.ParseBool(getenv("CRONRADAR_MONITOR_ALL", "false"))
	if err != nil {
		errs = append(errs, fmt.Sprintf("CRONRADAR_MONITOR_ALL: %v", err))
	}
	c.CronRadar.MonitorAll = monitorAll

	timeout, err := time.ParseDuration(getenv("CRONRADAR_TIMEOUT", "5s"))
	if err != nil {
		errs = append(errs, fmt.Sprintf("CRONRADAR_TIMEOUT: %v", err))
	}
	c.CronRadar.Timeout = timeout

	c.Dispatch.Workers = intVar("CRONRADAR_WORKERS", 4)
	c.Dispatch.QueueSize = intVar("CRONRADAR_QUEUE_SIZE", 256)
	c.Dispatch.RateBurst = intVar("CRONRADAR_RATE_BURST", 20)
	rateLimit, err := strconv.ParseFloat(getenv("CRONRADAR_RATE_LIMIT", "10"), 64)
	if err != nil {
		errs = append(errs, fmt.Sprintf("CRONRADAR_RATE_LIMIT: %v", err))
	}
	c.Dispatch.RateLimit = rateLimit

	c.Schedule.File = getenv("SCHEDULE_FILE", "schedule.yaml")
	c.HTTP.Addr = os.Getenv("HTTP_ADDR")
	c.Log.ConsoleLevel = strings.ToLower(getenv("LOG_CONSOLE_LEVEL", "info"))
	c.Log.FileLevel = strings.ToLower(getenv("LOG_FILE_LEVEL", "debug"))
	c.Log.File = os.Getenv("LOG_FILE")

	if len(errs) > 0 {
		return Config{}, shared.MarkKind(fmt.Errorf("config: %s", strings.Join(errs, "; ")), shared.KindValidation)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks field constraints.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return shared.MarkKind(fmt.Errorf("config: %w", err), shared.KindValidation)
	}
	return nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) (int, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def, fmt.Errorf("%s: %q is not an integer", k, v)
	}
	return n, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
