package cfg

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"

	ChallengeArithmetic = "arithmetic"
	ChallengeRecaptcha  = "recaptcha"
	ChallengeNone       = "none"
)

type Secret struct {
	value []byte
}

func NewSecret(s string) Secret {
	return Secret{value: []byte(s)}
}
func (s Secret) Value() string {
	return string(s.value)
}
func (s Secret) Bytes() []byte {
	return s.value
}
func (s Secret) Wipe() {
	for i := range s.value {
		s.value[i] = 0
	}
}
func (s Secret) String() string {
	return "***REDACTED***"
}

type Cfg struct {
	Port              string
	Environment       string
	LogLevel          string
	BaseURL           string
	StoreBackend      string
	DatabasePath      string
	DatabaseURL       Secret
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBQueryTimeout    time.Duration
	RedisURL          string
	RedisTLS          bool
	RedisCACert       string
	RedisUsername     string
	RedisPassword     Secret
	RedisTimeout      time.Duration
	LRUCacheSize      int
	ShareLimit        ShareLimitCfg
	ReadRPM           int
	ReadBurst         int
	TrustProxyHeaders bool
	Challenge         ChallengeCfg
	MaxFiles          int
	MaxSnippetSize    int64
	MaxFileNameLength int
	Retention         time.Duration
	CleanupInterval   time.Duration
	ContextTimeout    time.Duration
	AllowedOrigins    []string
	MetricsUser       string
	MetricsPass       Secret
	SecretsSource     string
}

type ShareLimitCfg struct {
	Ceiling int
	Window  time.Duration
}

type ChallengeCfg struct {
	Mode             string
	TTL              time.Duration
	Secret           Secret
	RecaptchaSiteKey string
	RecaptchaSecret  Secret
	RecaptchaURL     string
}

// LoadEnvFile populates the process environment from ENV_FILE, or from a
// local .env when one exists. Variables already set win.
func LoadEnvFile() error {
	path := os.Getenv("ENV_FILE")
	if path == "" {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		return errors.Wrapf(err, "load env file %s", path)
	}
	return nil
}

func Load() (*Cfg, error) {
	c := &Cfg{}
	c.Port = getEnv("PORT", "8080")
	c.Environment = getEnv("ENVIRONMENT", "development")
	c.LogLevel = getEnv("LOG_LEVEL", "info")
	c.BaseURL = strings.TrimRight(getEnv("BASE_URL", "http://localhost:"+c.Port), "/")
	c.StoreBackend = strings.ToLower(getEnv("STORE_BACKEND", BackendSQLite))
	c.DatabasePath = getEnv("DATABASE_PATH", "bettergist.db")
	c.DatabaseURL = NewSecret(getEnv("DATABASE_URL", ""))
	var err error
	c.DBMaxOpenConns, err = getInt("DB_MAX_OPEN_CONNS", 50)
	if err != nil {
		return nil, err
	}
	c.DBMaxIdleConns, err = getInt("DB_MAX_IDLE_CONNS", 10)
	if err != nil {
		return nil, err
	}
	c.DBQueryTimeout, err = getDuration("DB_QUERY_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}
	c.RedisURL = getEnv("REDIS_URL", "")
	c.RedisTLS = getEnv("REDIS_TLS", "false") == "true"
	c.RedisCACert = getEnv("REDIS_TLS_CA_CERT", "")
	c.RedisUsername = getEnv("REDIS_USERNAME", "")
	c.RedisPassword = NewSecret(getEnv("REDIS_PASSWORD", ""))
	c.RedisTimeout, err = getDuration("REDIS_TIMEOUT", 2*time.Second)
	if err != nil {
		return nil, err
	}
	c.LRUCacheSize, err = getInt("LRU_CACHE_SIZE", 1000)
	if err != nil {
		return nil, err
	}
	c.ShareLimit.Ceiling, err = getInt("SHARE_LIMIT", 5)
	if err != nil {
		return nil, err
	}
	c.ShareLimit.Window, err = getDuration("SHARE_WINDOW", 60*time.Second)
	if err != nil {
		return nil, err
	}
	c.ReadRPM, err = getInt("READ_RPM", 120)
	if err != nil {
		return nil, err
	}
	c.ReadBurst, err = getInt("READ_BURST", 20)
	if err != nil {
		return nil, err
	}
	c.TrustProxyHeaders = getEnv("TRUST_PROXY_HEADERS", "false") == "true"
	c.Challenge.Mode = strings.ToLower(getEnv("CHALLENGE_MODE", ChallengeArithmetic))
	c.Challenge.TTL, err = getDuration("CHALLENGE_TTL", 5*time.Minute)
	if err != nil {
		return nil, err
	}
	c.Challenge.Secret = NewSecret(getEnv("CHALLENGE_SECRET", ""))
	c.Challenge.RecaptchaSiteKey = getEnv("RECAPTCHA_SITE_KEY", "")
	c.Challenge.RecaptchaSecret = NewSecret(getEnv("RECAPTCHA_SECRET", ""))
	c.Challenge.RecaptchaURL = getEnv("RECAPTCHA_VERIFY_URL", "https://www.google.com/recaptcha/api/siteverify")
	c.MaxFiles, err = getInt("MAX_FILES", 20)
	if err != nil {
		return nil, err
	}
	c.MaxSnippetSize, err = getInt64("MAX_SNIPPET_SIZE", 256*1024)
	if err != nil {
		return nil, err
	}
	c.MaxFileNameLength, err = getInt("MAX_FILE_NAME_LENGTH", 255)
	if err != nil {
		return nil, err
	}
	c.Retention, err = getDuration("SNIPPET_RETENTION", 7*24*time.Hour)
	if err != nil {
		return nil, err
	}
	c.CleanupInterval, err = getDuration("CLEANUP_INTERVAL", 10*time.Minute)
	if err != nil {
		return nil, err
	}
	c.ContextTimeout, err = getDuration("CONTEXT_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}
	c.AllowedOrigins = getSlice("ALLOWED_ORIGINS", []string{})
	c.MetricsUser = getEnv("METRICS_USER", "")
	c.MetricsPass = NewSecret(getEnv("METRICS_PASS", ""))
	c.SecretsSource = strings.ToLower(getEnv("SECRETS_SOURCE", "env"))
	return c, nil
}
func Validate(c *Cfg) error {
	if c.Port == "" {
		return errors.New("PORT is required")
	}
	if _, err := strconv.Atoi(c.Port); err != nil {
		return errors.New("PORT must be a number")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return errors.New("BASE_URL must be an absolute URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("BASE_URL must use http or https")
	}
	switch c.StoreBackend {
	case BackendSQLite:
		if err := validateDBPath(c.DatabasePath); err != nil {
			return err
		}
	case BackendPostgres:
		dsn := c.DatabaseURL.Value()
		if dsn == "" {
			return errors.New("DATABASE_URL is required when STORE_BACKEND=postgres")
		}
		if !strings.HasPrefix(dsn, "postgres://") && !strings.HasPrefix(dsn, "postgresql://") {
			return errors.New("DATABASE_URL must start with postgres:// or postgresql://")
		}
	default:
		return fmt.Errorf("STORE_BACKEND must be %q or %q", BackendSQLite, BackendPostgres)
	}
	if c.RedisURL != "" {
		if !strings.HasPrefix(c.RedisURL, "redis://") && !strings.HasPrefix(c.RedisURL, "rediss://") {
			return errors.New("REDIS_URL must start with redis:// or rediss://")
		}
		if strings.HasPrefix(c.RedisURL, "rediss://") && !c.RedisTLS {
			return errors.New("REDIS_URL uses rediss:// but REDIS_TLS=false")
		}
	}
	if c.LRUCacheSize <= 0 {
		return errors.New("LRU_CACHE_SIZE must be positive")
	}
	if c.ShareLimit.Ceiling <= 0 {
		return errors.New("SHARE_LIMIT must be positive")
	}
	if c.ShareLimit.Window < time.Second {
		return errors.New("SHARE_WINDOW must be at least 1s")
	}
	if c.ReadRPM <= 0 || c.ReadBurst <= 0 {
		return errors.New("READ_RPM and READ_BURST must be positive")
	}
	switch c.Challenge.Mode {
	case ChallengeArithmetic:
		if s := c.Challenge.Secret.Value(); s != "" && len(s) < 32 {
			return errors.New("CHALLENGE_SECRET must be at least 32 bytes")
		}
	case ChallengeRecaptcha:
		if c.Challenge.RecaptchaSiteKey == "" {
			return errors.New("RECAPTCHA_SITE_KEY is required when CHALLENGE_MODE=recaptcha")
		}
	case ChallengeNone:
		if c.Environment == "production" {
			return errors.New("CHALLENGE_MODE=none is not allowed in production")
		}
	default:
		return fmt.Errorf("unknown CHALLENGE_MODE %q", c.Challenge.Mode)
	}
	if c.Challenge.TTL < 30*time.Second || c.Challenge.TTL > time.Hour {
		return errors.New("CHALLENGE_TTL must be between 30s and 1h")
	}
	if c.MaxFiles <= 0 {
		return errors.New("MAX_FILES must be positive")
	}
	if c.MaxSnippetSize <= 0 {
		return errors.New("MAX_SNIPPET_SIZE must be positive")
	}
	if c.MaxSnippetSize > 10*1024*1024 {
		return errors.New("MAX_SNIPPET_SIZE cannot exceed 10MB")
	}
	if c.MaxFileNameLength <= 0 {
		return errors.New("MAX_FILE_NAME_LENGTH must be positive")
	}
	if c.Retention < time.Hour {
		return errors.New("SNIPPET_RETENTION must be at least 1h")
	}
	if c.CleanupInterval < time.Minute {
		return errors.New("CLEANUP_INTERVAL must be at least 1m")
	}
	switch c.SecretsSource {
	case "env", "vault", "aws":
	default:
		return fmt.Errorf("SECRETS_SOURCE must be env, vault or aws, got %q", c.SecretsSource)
	}
	if c.Environment == "production" {
		if c.MetricsUser == "" || c.MetricsPass.Value() == "" {
			return errors.New("METRICS_USER and METRICS_PASS are required in production")
		}
		if c.RedisURL == "" {
			return errors.New("REDIS_URL is required in production")
		}
	}
	return nil
}
func validateDBPath(path string) error {
	if path == "" {
		return errors.New("DATABASE_PATH is required")
	}
	if strings.HasPrefix(path, "file:") || path == ":memory:" {
		return nil
	}
	workDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}
	absWorkDir, err := filepath.Abs(workDir)
	if err != nil {
		return fmt.Errorf("failed to resolve working directory: %w", err)
	}
	absDBPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("invalid DATABASE_PATH: %w", err)
	}
	if !strings.HasPrefix(absDBPath, absWorkDir+string(filepath.Separator)) && absDBPath != absWorkDir {
		return fmt.Errorf("DATABASE_PATH must be within working directory %s", absWorkDir)
	}
	return nil
}
func (c *Cfg) Wipe() {
	c.DatabaseURL.Wipe()
	c.RedisPassword.Wipe()
	c.MetricsPass.Wipe()
	c.Challenge.Secret.Wipe()
	c.Challenge.RecaptchaSecret.Wipe()
}
func (c *Cfg) IsProduction() bool {
	return c.Environment == "production"
}
func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}
func getInt(key string, fallback int) (int, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid integer for %s: %w", key, err)
	}
	return v, nil
}
func getInt64(key string, fallback int64) (int64, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid integer for %s: %w", key, err)
	}
	return v, nil
}
func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %w", key, err)
	}
	return v, nil
}
func getSlice(key string, fallback []string) []string {
	s := getEnv(key, "")
	if s == "" {
		return fallback
	}
	parts := strings.Split(s, ",")
	var result []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
