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
	Server    ServerConfig
	Postgres  PostgresConfig
	Grafana   GrafanaConfig
	JSM       JSMConfig
	Match     MatchConfig
	Sync      SyncConfig
	Filter    FilterConfig
	RateLimit RateLimitConfig
	Features  FeatureConfig
	Auth      AuthConfig
}

type ServerConfig struct {
	Port           string
	AllowedOrigins []string
	Debug          bool
	LogLevel       string
}

type PostgresConfig struct {
	DatabaseURL string
	Host        string
	Port        string
	User        string
	Password    string
	Database    string
	SSLMode     string
}

type GrafanaConfig struct {
	APIURL string
	APIKey string
}

type JSMConfig struct {
	// JIRA_URL: tenant URL (cloud id 조회용, 예: https://example.atlassian.net)
	TenantURL   string
	UserEmail   string
	APIToken    string
	CloudID     string
	APIBaseURL  string
	AlertsLimit int
}

type MatchConfig struct {
	BaseThreshold float64
	HighThreshold float64
	TimeWindow    time.Duration
	LogMatches    bool
}

type SyncConfig struct {
	MonitoringInterval time.Duration
	IncidentInterval   time.Duration
	CycleTimeout       time.Duration
	RunOnStart         bool
}

type FilterConfig struct {
	Enabled              bool
	ExcludedClusters     []string
	ExcludedEnvironments []string
	// 클러스터 이름에 포함되면 제외되는 문자열 (예: "stage")
	ClusterSubstrings []string
}

type RateLimitConfig struct {
	Budget      int
	Window      time.Duration
	MaxWait     time.Duration
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

type FeatureConfig struct {
	EnablePropagation bool
	EnableAutoClose   bool
}

type AuthConfig struct {
	Enabled   bool
	JWTSecret string
}

// LoadEnvFile - .env 파일이 있으면 환경변수로 로드 (이미 설정된 값은 유지)
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

func Load() Config {
	return Config{
		Server: ServerConfig{
			Port:           getenv("PORT", "8080"),
			AllowedOrigins: getList("ALLOWED_ORIGINS", []string{"http://localhost:3000", "http://localhost:3001"}),
			Debug:          getBool("DEBUG", false),
			LogLevel:       getenv("LOG_LEVEL", "info"),
		},
		Postgres: PostgresConfig{
			DatabaseURL: os.Getenv("DATABASE_URL"),
			Host:        getenv("PGHOST", "localhost"),
			Port:        getenv("PGPORT", "5432"),
			User:        os.Getenv("PGUSER"),
			Password:    os.Getenv("PGPASSWORD"),
			Database:    os.Getenv("PGDATABASE"),
			SSLMode:     getenv("PGSSLMODE", "disable"),
		},
		Grafana: GrafanaConfig{
			APIURL: strings.TrimRight(getenv("GRAFANA_API_URL", "http://localhost:3000"), "/"),
			APIKey: os.Getenv("GRAFANA_API_KEY"),
		},
		JSM: JSMConfig{
			TenantURL:   strings.TrimRight(os.Getenv("JIRA_URL"), "/"),
			UserEmail:   os.Getenv("JIRA_USER_EMAIL"),
			APIToken:    os.Getenv("JIRA_API_TOKEN"),
			CloudID:     os.Getenv("JSM_CLOUD_ID"),
			APIBaseURL:  strings.TrimRight(getenv("JSM_API_BASE_URL", "https://api.atlassian.com/jsm/ops/api"), "/"),
			AlertsLimit: getInt("JSM_ALERTS_LIMIT", 500),
		},
		Match: MatchConfig{
			BaseThreshold: getFloat("ALERT_MATCH_CONFIDENCE_THRESHOLD", 70),
			HighThreshold: getFloat("ALERT_MATCH_HIGH_CONFIDENCE_THRESHOLD", 85),
			TimeWindow:    getMinutes("ALERT_MATCH_TIME_WINDOW_MINUTES", 15*time.Minute),
			LogMatches:    getBool("ENABLE_MATCH_LOGGING", false),
		},
		Sync: SyncConfig{
			MonitoringInterval: getSeconds("GRAFANA_SYNC_INTERVAL_SECONDS", 300*time.Second),
			IncidentInterval:   getSeconds("JSM_SYNC_INTERVAL_SECONDS", 300*time.Second),
			CycleTimeout:       getDuration("SYNC_CYCLE_TIMEOUT", 2*time.Minute),
			RunOnStart:         getBool("SYNC_RUN_ON_START", true),
		},
		Filter: FilterConfig{
			Enabled:              getBool("FILTER_NON_PROD_ALERTS", true),
			ExcludedClusters:     getList("EXCLUDED_CLUSTERS", []string{"stage", "dev", "test"}),
			ExcludedEnvironments: getList("EXCLUDED_ENVIRONMENTS", []string{"devo-stage-eu"}),
			ClusterSubstrings:    getList("EXCLUDED_CLUSTER_SUBSTRINGS", []string{"stage"}),
		},
		RateLimit: RateLimitConfig{
			Budget:      getInt("RATE_LIMIT_REQUESTS_PER_MINUTE", 100),
			Window:      time.Minute,
			MaxWait:     getDuration("RATE_LIMIT_MAX_WAIT", 30*time.Second),
			MaxAttempts: getInt("RETRY_MAX_ATTEMPTS", 4),
			BaseDelay:   getDuration("RETRY_BASE_DELAY", 500*time.Millisecond),
			MaxDelay:    getDuration("RETRY_MAX_DELAY", 10*time.Second),
		},
		Features: FeatureConfig{
			EnablePropagation: getBool("ENABLE_PROPAGATION", true),
			EnableAutoClose:   getBool("ENABLE_AUTO_CLOSE", true),
		},
		Auth: AuthConfig{
			Enabled:   getBool("AUTH_ENABLED", false),
			JWTSecret: os.Getenv("JWT_SECRET"),
		},
	}
}

// Validate - 기동에 필요한 값 검사
func (c Config) Validate() error {
	var problems []string
	if c.Match.BaseThreshold < 0 || c.Match.BaseThreshold > 100 {
		problems = append(problems, "ALERT_MATCH_CONFIDENCE_THRESHOLD must be within [0,100]")
	}
	if c.Match.HighThreshold < c.Match.BaseThreshold || c.Match.HighThreshold > 100 {
		problems = append(problems, "ALERT_MATCH_HIGH_CONFIDENCE_THRESHOLD must be within [base,100]")
	}
	if c.Match.TimeWindow <= 0 {
		problems = append(problems, "ALERT_MATCH_TIME_WINDOW_MINUTES must be positive")
	}
	if c.Sync.MonitoringInterval <= 0 || c.Sync.IncidentInterval <= 0 {
		problems = append(problems, "sync intervals must be positive")
	}
	if c.RateLimit.Budget <= 0 {
		problems = append(problems, "RATE_LIMIT_REQUESTS_PER_MINUTE must be positive")
	}
	if c.RateLimit.MaxAttempts <= 0 {
		problems = append(problems, "RETRY_MAX_ATTEMPTS must be positive")
	}
	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		problems = append(problems, "JWT_SECRET is required when AUTH_ENABLED=true")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func getenv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getInt(key string, fallback int) int {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getFloat(key string, fallback float64) float64 {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

// getDuration - "30s", "2m" 형식 (숫자만 있으면 초 단위)
func getDuration(key string, fallback time.Duration) time.Duration {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	if secs, err := strconv.Atoi(val); err == nil {
		return time.Duration(secs) * time.Second
	}
	parsed, err := time.ParseDuration(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getSeconds(key string, fallback time.Duration) time.Duration {
	return getDuration(key, fallback)
}

func getMinutes(key string, fallback time.Duration) time.Duration {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	mins, err := strconv.Atoi(val)
	if err != nil {
		return getDuration(key, fallback)
	}
	return time.Duration(mins) * time.Minute
}

// getList - 콤마 구분 목록 (빈 문자열로 설정하면 빈 목록)
func getList(key string, fallback []string) []string {
	val, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(val, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
