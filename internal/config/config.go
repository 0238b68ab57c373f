package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Addr          string `yaml:"addr"`
	DatabaseURL   string `yaml:"databaseUrl"`
	MigrationsDir string `yaml:"migrationsDir"`
	CORSOrigin    string `yaml:"corsOrigin"`
	// Redis backs the distributed entity locks and the event stream.
	RedisURL          string        `yaml:"redisUrl"`
	EventStream       string        `yaml:"eventStream"`
	EventStreamMaxLen int           `yaml:"eventStreamMaxLen"`
	LockTTL           time.Duration `yaml:"-"`
	LockWait          time.Duration `yaml:"-"`
	LockTTLSeconds    int           `yaml:"lockTtlSeconds"`
	LockWaitSeconds   int           `yaml:"lockWaitSeconds"`
	// Content archive, one git repository per document.
	ReposDir       string `yaml:"reposDir"`
	MeiliURL       string `yaml:"meiliUrl"`
	MeiliMasterKey string `yaml:"meiliMasterKey"`
	// Object storage for approved artifacts, disabled if endpoint is empty.
	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioSecure    bool   `yaml:"minioSecure"`
	// Actor directory
	DirectoryFile string `yaml:"directoryFile"`
	DefaultRole   string `yaml:"defaultRole"`
	// External pre-check scorer, local heuristic if empty.
	AutoCheckURL            string        `yaml:"autoCheckUrl"`
	AutoCheckTimeout        time.Duration `yaml:"-"`
	AutoCheckTimeoutSeconds int           `yaml:"autoCheckTimeoutSeconds"`
	// Signed bearer tokens replace the X-Actor-ID header when set.
	TokenSecret string `yaml:"tokenSecret"`
	// Review and task notifications, disabled if host is empty.
	SMTPHost     string `yaml:"smtpHost"`
	SMTPPort     string `yaml:"smtpPort"`
	SMTPUsername string `yaml:"smtpUsername"`
	SMTPPassword string `yaml:"smtpPassword"`
	SMTPFrom     string `yaml:"smtpFrom"`
	SMTPFromName string `yaml:"smtpFromName"`
}

func Defaults() Config {
	return Config{
		Addr:                    ":8787",
		MigrationsDir:           "./db/migrations",
		CORSOrigin:              "*",
		EventStream:             "docflow:events",
		EventStreamMaxLen:       10000,
		LockTTLSeconds:          30,
		LockWaitSeconds:         10,
		MinioBucket:             "docflow-published",
		DefaultRole:             "",
		AutoCheckTimeoutSeconds: 5,
		SMTPPort:                "587",
		SMTPFromName:            "docflow",
	}
}

// Load builds the configuration from defaults, the optional file named by
// DOCFLOW_CONFIG, and the environment, in increasing precedence.
func Load(fs afero.Fs) (Config, error) {
	cfg := Defaults()
	if path := strings.TrimSpace(os.Getenv("DOCFLOW_CONFIG")); path != "" {
		if err := loadFile(fs, path, &cfg); err != nil {
			return Config{}, err
		}
	}

	cfg.Addr = getenv("API_ADDR", cfg.Addr)
	cfg.DatabaseURL = getenv("DATABASE_URL", cfg.DatabaseURL)
	cfg.MigrationsDir = getenv("DOCFLOW_MIGRATIONS_DIR", cfg.MigrationsDir)
	cfg.CORSOrigin = getenv("DOCFLOW_CORS_ORIGIN", cfg.CORSOrigin)
	cfg.RedisURL = getenv("REDIS_URL", cfg.RedisURL)
	cfg.EventStream = getenv("DOCFLOW_EVENT_STREAM", cfg.EventStream)
	cfg.EventStreamMaxLen = getenvInt("DOCFLOW_EVENT_STREAM_MAXLEN", cfg.EventStreamMaxLen)
	cfg.LockTTLSeconds = getenvInt("DOCFLOW_LOCK_TTL_SECONDS", cfg.LockTTLSeconds)
	cfg.LockWaitSeconds = getenvInt("DOCFLOW_LOCK_WAIT_SECONDS", cfg.LockWaitSeconds)
	cfg.ReposDir = getenv("DOCFLOW_REPOS_DIR", cfg.ReposDir)
	cfg.MeiliURL = getenv("MEILI_URL", cfg.MeiliURL)
	cfg.MeiliMasterKey = getenv("MEILI_MASTER_KEY", cfg.MeiliMasterKey)
	cfg.MinioEndpoint = getenv("MINIO_ENDPOINT", cfg.MinioEndpoint)
	cfg.MinioAccessKey = getenv("MINIO_ACCESS_KEY", cfg.MinioAccessKey)
	cfg.MinioSecretKey = getenv("MINIO_SECRET_KEY", cfg.MinioSecretKey)
	cfg.MinioBucket = getenv("MINIO_BUCKET", cfg.MinioBucket)
	cfg.MinioSecure = getenvBool("MINIO_SECURE", cfg.MinioSecure)
	cfg.DirectoryFile = getenv("DOCFLOW_DIRECTORY_FILE", cfg.DirectoryFile)
	cfg.DefaultRole = getenv("DOCFLOW_DEFAULT_ROLE", cfg.DefaultRole)
	cfg.AutoCheckURL = getenv("DOCFLOW_AUTOCHECK_URL", cfg.AutoCheckURL)
	cfg.AutoCheckTimeoutSeconds = getenvInt("DOCFLOW_AUTOCHECK_TIMEOUT_SECONDS", cfg.AutoCheckTimeoutSeconds)

	cfg.TokenSecret = getenv("DOCFLOW_TOKEN_SECRET", cfg.TokenSecret)
	cfg.SMTPHost = getenv("SMTP_HOST", cfg.SMTPHost)
	cfg.SMTPPort = getenv("SMTP_PORT", cfg.SMTPPort)
	cfg.SMTPUsername = getenv("SMTP_USERNAME", cfg.SMTPUsername)
	cfg.SMTPPassword = getenv("SMTP_PASSWORD", cfg.SMTPPassword)
	cfg.SMTPFrom = getenv("SMTP_FROM", cfg.SMTPFrom)
	cfg.SMTPFromName = getenv("SMTP_FROM_NAME", cfg.SMTPFromName)

	cfg.LockTTL = time.Duration(cfg.LockTTLSeconds) * time.Second
	cfg.LockWait = time.Duration(cfg.LockWaitSeconds) * time.Second
	cfg.AutoCheckTimeout = time.Duration(cfg.AutoCheckTimeoutSeconds) * time.Second
	return cfg, nil
}

func loadFile(fs afero.Fs, path string, cfg *Config) error {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
