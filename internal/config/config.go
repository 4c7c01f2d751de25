package config

import (
	"fmt"
	"time"
	_ "time/tzdata"

	"github.com/spf13/viper"
)

type Config struct {
	Env                string        `mapstructure:"ENV"`
	Port               string        `mapstructure:"PORT"`
	DatabaseURL        string        `mapstructure:"DATABASE_URL"`
	AdminKey           string        `mapstructure:"ADMIN_KEY"`
	CORSAllowed        string        `mapstructure:"CORS_ALLOWED_ORIGINS"`
	RequestTimeout     time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	LogLevel           string        `mapstructure:"LOG_LEVEL"`
	Timezone           string        `mapstructure:"TIMEZONE"`
	DefaultCapacity    int           `mapstructure:"DEFAULT_CAPACITY"`
	IssueMaxAttempts   int           `mapstructure:"ISSUE_MAX_ATTEMPTS"`
	MintMaxAttempts    int           `mapstructure:"MINT_MAX_ATTEMPTS"`
	QuotaFile          string        `mapstructure:"QUOTA_FILE"`
	UsageRetentionDays int           `mapstructure:"USAGE_RETENTION_DAYS"`
	UsagePruneSchedule string        `mapstructure:"USAGE_PRUNE_SCHEDULE"`
}

func Load() (Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	_ = v.ReadInConfig()

	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", "dev")
	v.SetDefault("PORT", "8080")
	v.SetDefault("DATABASE_URL", "sqlite://kelaseh.db")
	v.SetDefault("ADMIN_KEY", "")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")
	v.SetDefault("TIMEZONE", "Asia/Tehran")
	v.SetDefault("DEFAULT_CAPACITY", 15)
	v.SetDefault("ISSUE_MAX_ATTEMPTS", 8)
	v.SetDefault("MINT_MAX_ATTEMPTS", 50)
	v.SetDefault("QUOTA_FILE", "")
	v.SetDefault("USAGE_RETENTION_DAYS", 90)
	v.SetDefault("USAGE_PRUNE_SCHEDULE", "30 3 * * *")
}

func (c Config) Validate() error {
	if c.DefaultCapacity <= 0 {
		return fmt.Errorf("DEFAULT_CAPACITY must be positive, got %d", c.DefaultCapacity)
	}
	if c.IssueMaxAttempts <= 0 {
		return fmt.Errorf("ISSUE_MAX_ATTEMPTS must be positive, got %d", c.IssueMaxAttempts)
	}
	if c.MintMaxAttempts <= 0 {
		return fmt.Errorf("MINT_MAX_ATTEMPTS must be positive, got %d", c.MintMaxAttempts)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves TIMEZONE, the locale that defines a calendar day.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("TIMEZONE %q: %w", c.Timezone, err)
	}
	return loc, nil
}
