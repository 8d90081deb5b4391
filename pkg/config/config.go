package config

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/iac-studio/dbstack/internal/schedule"
	"github.com/iac-studio/dbstack/internal/stack"
)

// Config holds application configuration loaded from environment variables or config files.
type Config struct {
	AppEnv          string        `mapstructure:"APP_ENV" validate:"required,oneof=development staging production test"`
	HTTPAddr        string        `mapstructure:"HTTP_ADDR" validate:"required,hostname_port"`
	ShutdownTimeout time.Duration `mapstructure:"SHUTDOWN_TIMEOUT" validate:"required"`

	LogLevel  string `mapstructure:"LOG_LEVEL" validate:"required,oneof=debug info warn error dpanic panic fatal"`
	LogFormat string `mapstructure:"LOG_FORMAT" validate:"required,oneof=json console"`

	DatabaseURL string `mapstructure:"DATABASE_URL" validate:"required,url|uri"`

	RedisAddr     string `mapstructure:"REDIS_ADDR" validate:"required,hostname_port"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`

	AsynqConcurrency int `mapstructure:"ASYNQ_CONCURRENCY" validate:"gte=1,lte=1000"`

	// JWTSecret signs the bearer tokens accepted on /api/v1. Tokens are
	// issued outside this service.
	JWTSecret      string   `mapstructure:"JWT_SECRET" validate:"required,min=16"`
	RateLimitRPS   float64  `mapstructure:"RATE_LIMIT_RPS" validate:"gt=0"`
	RateLimitBurst int      `mapstructure:"RATE_LIMIT_BURST" validate:"gte=1"`
	CORSOrigins    []string `mapstructure:"CORS_ORIGINS"`

	GoMaxProcs int `mapstructure:"GOMAXPROCS" validate:"gte=0,lte=4096"`

	Stack StackConfig `mapstructure:",squash"`
}

// StackConfig is the subset the CLI needs: what to declare and where to
// deploy it.
type StackConfig struct {
	StackName string `mapstructure:"STACK_NAME" validate:"required,max=128"`

	AWSRegion          string `mapstructure:"AWS_REGION"`
	AWSProfile         string `mapstructure:"AWS_PROFILE"`
	AWSEndpoint        string `mapstructure:"AWS_ENDPOINT_URL" validate:"omitempty,url"`
	AWSAccessKeyID     string `mapstructure:"AWS_ACCESS_KEY_ID"`
	AWSSecretAccessKey string `mapstructure:"AWS_SECRET_ACCESS_KEY" validate:"required_with=AWSAccessKeyID"`
	AssetsBucket       string `mapstructure:"ASSETS_BUCKET"`

	MaxAZs int `mapstructure:"MAX_AZS" validate:"gte=2,lte=6"`
	// NatGateways below zero means one per zone.
	NatGateways              int    `mapstructure:"NAT_GATEWAYS" validate:"gte=-1,ltefield=MaxAZs"`
	SSHIngressCIDR           string `mapstructure:"SSH_INGRESS_CIDR" validate:"omitempty,cidrv4"`
	ComputeAllowAllOutbound  bool   `mapstructure:"COMPUTE_ALLOW_ALL_OUTBOUND"`
	DatabaseAllowAllOutbound bool   `mapstructure:"DATABASE_ALLOW_ALL_OUTBOUND"`

	StopSchedule  string `mapstructure:"STOP_SCHEDULE" validate:"required,awscron"`
	StartSchedule string `mapstructure:"START_SCHEDULE" validate:"required,awscron"`

	DeployPollInterval time.Duration `mapstructure:"DEPLOY_POLL_INTERVAL" validate:"gt=0"`
	DeployTimeout      time.Duration `mapstructure:"DEPLOY_TIMEOUT" validate:"gtfield=DeployPollInterval"`
}

var (
	cfg      *Config
	validate = newValidator()
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("awscron", func(fl validator.FieldLevel) bool {
		_, err := schedule.Parse(fl.Field().String())
		return err == nil
	})
	return v
}

var keys = []string{
	"APP_ENV",
	"HTTP_ADDR",
	"SHUTDOWN_TIMEOUT",
	"LOG_LEVEL",
	"LOG_FORMAT",
	"DATABASE_URL",
	"REDIS_ADDR",
	"REDIS_PASSWORD",
	"ASYNQ_CONCURRENCY",
	"JWT_SECRET",
	"RATE_LIMIT_RPS",
	"RATE_LIMIT_BURST",
	"CORS_ORIGINS",
	"GOMAXPROCS",
	"STACK_NAME",
	"AWS_REGION",
	"AWS_PROFILE",
	"AWS_ENDPOINT_URL",
	"AWS_ACCESS_KEY_ID",
	"AWS_SECRET_ACCESS_KEY",
	"ASSETS_BUCKET",
	"MAX_AZS",
	"NAT_GATEWAYS",
	"SSH_INGRESS_CIDR",
	"COMPUTE_ALLOW_ALL_OUTBOUND",
	"DATABASE_ALLOW_ALL_OUTBOUND",
	"STOP_SCHEDULE",
	"START_SCHEDULE",
	"DEPLOY_POLL_INTERVAL",
	"DEPLOY_TIMEOUT",
}

func newViper() *viper.Viper {
	// Load .env if present (non-fatal)
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AutomaticEnv()

	v.SetDefault("APP_ENV", "development")
	v.SetDefault("HTTP_ADDR", "0.0.0.0:8080")
	v.SetDefault("SHUTDOWN_TIMEOUT", "15s")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("ASYNQ_CONCURRENCY", 10)
	v.SetDefault("RATE_LIMIT_RPS", 10)
	v.SetDefault("RATE_LIMIT_BURST", 20)
	v.SetDefault("CORS_ORIGINS", "*")
	v.SetDefault("GOMAXPROCS", 0)

	v.SetDefault("STACK_NAME", "dev-database")
	v.SetDefault("MAX_AZS", stack.DefaultMaxAZs)
	v.SetDefault("NAT_GATEWAYS", -1)
	v.SetDefault("COMPUTE_ALLOW_ALL_OUTBOUND", true)
	v.SetDefault("DATABASE_ALLOW_ALL_OUTBOUND", false)
	v.SetDefault("STOP_SCHEDULE", stack.DefaultStopSchedule)
	v.SetDefault("START_SCHEDULE", stack.DefaultStartSchedule)
	v.SetDefault("DEPLOY_POLL_INTERVAL", "5s")
	v.SetDefault("DEPLOY_TIMEOUT", "30m")

	// Optional config file
	_ = v.ReadInConfig()

	for _, key := range keys {
		_ = v.BindEnv(key)
	}
	return v
}

// Load initializes the full service configuration: .env files, defaults,
// env vars, then validation. The result is also available through Get.
func Load() (*Config, error) {
	v := newViper()

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("config unmarshal error: %w", err)
	}
	if err := parseDurations(v, map[string]*time.Duration{
		"SHUTDOWN_TIMEOUT":     &c.ShutdownTimeout,
		"DEPLOY_POLL_INTERVAL": &c.Stack.DeployPollInterval,
		"DEPLOY_TIMEOUT":       &c.Stack.DeployTimeout,
	}); err != nil {
		return nil, err
	}
	c.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))

	if err := validate.Struct(&c); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if c.GoMaxProcs > 0 {
		runtime.GOMAXPROCS(c.GoMaxProcs)
	}

	cfg = &c
	return cfg, nil
}

// LoadStack reads and validates only the stack settings, so the CLI runs
// without a database or queue.
func LoadStack() (*StackConfig, error) {
	v := newViper()

	var c StackConfig
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("config unmarshal error: %w", err)
	}
	if err := parseDurations(v, map[string]*time.Duration{
		"DEPLOY_POLL_INTERVAL": &c.DeployPollInterval,
		"DEPLOY_TIMEOUT":       &c.DeployTimeout,
	}); err != nil {
		return nil, err
	}
	if err := validate.Struct(&c); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &c, nil
}

// Parse duration types that may come as string
func parseDurations(v *viper.Viper, fields map[string]*time.Duration) error {
	for key, dst := range fields {
		s := v.GetString(key)
		if s == "" {
			continue
		}
		d, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = d
	}
	return nil
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

// MustLoad loads configuration or exits the process on failure.
func MustLoad() *Config {
	c, err := Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	return c
}

// Get returns the loaded configuration. Panics if not loaded.
func Get() *Config {
	if cfg == nil {
		panic("config not loaded: call config.Load or config.MustLoad first")
	}
	return cfg
}

// StackProps converts the settings into constructor properties for the
// development database stack.
func (c *StackConfig) StackProps() stack.DevDatabaseStackProps {
	p := stack.DefaultDevDatabaseStackProps()
	p.MaxAZs = c.MaxAZs
	if c.NatGateways >= 0 {
		n := c.NatGateways
		p.NatGateways = &n
	}
	p.SSHIngressCIDR = c.SSHIngressCIDR
	p.ComputeAllowAllOutbound = c.ComputeAllowAllOutbound
	p.DatabaseAllowAllOutbound = c.DatabaseAllowAllOutbound
	p.StopSchedule = c.StopSchedule
	p.StartSchedule = c.StartSchedule
	p.Tags = map[string]string{"stack": c.StackName}
	return p
}
