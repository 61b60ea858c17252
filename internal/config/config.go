package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	AutoMigrate           bool
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	DefaultTenantID       string
	CatalogTTL            time.Duration
	AuthSecret            string
	AccessTokenTTLMinutes int
	ManagerPIN            string
	LogLevel              string
	LogFormat             string
	ReceiptHeader         string
	ReceiptFooter         string
	S3                    S3Config
}

type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

func (c S3Config) Enabled() bool {
	return c.Bucket != ""
}

// Load reads an optional .env file and then the process environment.
func Load() (Config, error) {
	// A missing .env is the normal case in containers.
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("PORT", "8080")
	v.SetDefault("ALLOWED_ORIGIN", "http://127.0.0.1:3000")
	v.SetDefault("AUTO_MIGRATE", false)
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("DEFAULT_TENANT_ID", "default")
	v.SetDefault("CATALOG_TTL_SECONDS", 15)
	v.SetDefault("ACCESS_TOKEN_TTL_MINUTES", 480)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("RECEIPT_HEADER", "Varejo")
	v.SetDefault("RECEIPT_FOOTER", "Obrigado pela preferência")
	v.SetDefault("S3_REGION", "us-east-1")
	v.SetDefault("S3_USE_PATH_STYLE", false)

	catalogTTL := v.GetInt("CATALOG_TTL_SECONDS")
	if catalogTTL < 1 {
		catalogTTL = 15
	}
	tokenTTL := v.GetInt("ACCESS_TOKEN_TTL_MINUTES")
	if tokenTTL < 1 {
		tokenTTL = 480
	}

	cfg := Config{
		Port:                  v.GetString("PORT"),
		AllowedOrigin:         v.GetString("ALLOWED_ORIGIN"),
		DatabaseURL:           v.GetString("DATABASE_URL"),
		AutoMigrate:           v.GetBool("AUTO_MIGRATE"),
		RedisAddr:             v.GetString("REDIS_ADDR"),
		RedisPassword:         v.GetString("REDIS_PASSWORD"),
		RedisDB:               v.GetInt("REDIS_DB"),
		DefaultTenantID:       strings.TrimSpace(v.GetString("DEFAULT_TENANT_ID")),
		CatalogTTL:            time.Duration(catalogTTL) * time.Second,
		AuthSecret:            strings.TrimSpace(v.GetString("AUTH_SECRET")),
		AccessTokenTTLMinutes: tokenTTL,
		ManagerPIN:            strings.TrimSpace(v.GetString("MANAGER_PIN")),
		LogLevel:              v.GetString("LOG_LEVEL"),
		LogFormat:             v.GetString("LOG_FORMAT"),
		ReceiptHeader:         v.GetString("RECEIPT_HEADER"),
		ReceiptFooter:         v.GetString("RECEIPT_FOOTER"),
		S3: S3Config{
			Bucket:          v.GetString("S3_BUCKET"),
			Region:          v.GetString("S3_REGION"),
			Endpoint:        v.GetString("S3_ENDPOINT"),
			AccessKeyID:     v.GetString("S3_ACCESS_KEY_ID"),
			SecretAccessKey: v.GetString("S3_SECRET_ACCESS_KEY"),
			UsePathStyle:    v.GetBool("S3_USE_PATH_STYLE"),
		},
	}

	if cfg.DefaultTenantID == "" {
		return Config{}, fmt.Errorf("DEFAULT_TENANT_ID must not be blank")
	}
	if cfg.S3.Enabled() && cfg.S3.Region == "" {
		return Config{}, fmt.Errorf("S3_REGION is required when S3_BUCKET is set")
	}
	return cfg, nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}
