package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port       string
	DBDriver   string // postgres | sqlite
	DBDSN      string // sqlite path or full postgres DSN override
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string
	RLSEnabled bool

	// Token settings
	JWTSecret        string
	RefreshJWTSecret string
	AccessTokenTTL   time.Duration
	RefreshTokenTTL  time.Duration

	// Admin allowlist (lowercased emails)
	AdminEmails []string

	// OAuth
	OAuthCallbackBaseURL string
	OAuthSessionSecret   string
	OAuthRedirectURL     string
	GoogleClientID       string
	GoogleClientSecret   string
	GitHubClientID       string
	GitHubClientSecret   string

	// Infrastructure (all optional)
	RedisURL string
	NATSURL  string

	RateLimit        string // ulule format, "100-M"
	LoginRateLimit   string
	LogRetentionDays int
	LogLevel         string
	LogFormat        string // console | json
	IsDevelopment    bool
	CORSOrigins      []string
	MaxImportBytes   int64
}

func Load() *Config {
	v := viper.New()
	v.AutomaticEnv()
	if p := os.Getenv("CONFIG_FILE"); p != "" {
		v.SetConfigFile(p)
		_ = v.ReadInConfig()
	}
	get := func(key, fallback string) string {
		if s := strings.TrimSpace(v.GetString(key)); s != "" {
			return s
		}
		return fallback
	}

	accessMins := v.GetInt("ACCESS_TOKEN_TTL_MINUTES")
	if accessMins <= 0 {
		accessMins = 15
	}
	refreshDays := v.GetInt("REFRESH_TOKEN_TTL_DAYS")
	if refreshDays <= 0 {
		refreshDays = 30
	}
	retention := v.GetInt("LOG_RETENTION_DAYS")
	if retention <= 0 {
		retention = 30
	}
	maxImport := v.GetInt64("MAX_IMPORT_BYTES")
	if maxImport <= 0 {
		maxImport = 5 << 20
	}

	jwtSecret := get("JWT_SECRET", "supersecret_change_me")
	port := get("PORT", "8080")

	return &Config{
		Port:       port,
		DBDriver:   strings.ToLower(get("DB_DRIVER", "postgres")),
		DBDSN:      get("DB_DSN", ""),
		DBHost:     get("DB_HOST", "localhost"),
		DBPort:     get("DB_PORT", "5432"),
		DBUser:     get("DB_USER", "postgres"),
		DBPassword: get("DB_PASSWORD", "postgres"),
		DBName:     get("DB_NAME", "qr_db"),
		DBSSLMode:  get("DB_SSLMODE", "disable"),
		RLSEnabled: v.GetBool("RLS_ENABLED"),

		JWTSecret:        jwtSecret,
		RefreshJWTSecret: get("REFRESH_JWT_SECRET", jwtSecret),
		AccessTokenTTL:   time.Duration(accessMins) * time.Minute,
		RefreshTokenTTL:  time.Duration(refreshDays) * 24 * time.Hour,

		AdminEmails: ParseList(get("ADMIN_EMAILS", ""), true),

		OAuthCallbackBaseURL: get("OAUTH_CALLBACK_BASE_URL", "http://localhost:"+port),
		OAuthSessionSecret:   get("OAUTH_SESSION_SECRET", jwtSecret),
		OAuthRedirectURL:     get("OAUTH_REDIRECT_URL", "http://localhost:3000/auth/callback"),
		GoogleClientID:       get("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret:   get("GOOGLE_CLIENT_SECRET", ""),
		GitHubClientID:       get("GITHUB_CLIENT_ID", ""),
		GitHubClientSecret:   get("GITHUB_CLIENT_SECRET", ""),

		RedisURL: get("REDIS_URL", ""),
		NATSURL:  get("NATS_URL", ""),

		RateLimit:        get("RATE_LIMIT", "300-M"),
		LoginRateLimit:   get("LOGIN_RATE_LIMIT", "10-M"),
		LogRetentionDays: retention,
		LogLevel:         strings.ToLower(get("LOG_LEVEL", "info")),
		LogFormat:        strings.ToLower(get("LOG_FORMAT", "console")),
		IsDevelopment:    v.GetBool("IS_DEVELOPMENT"),
		CORSOrigins:      ParseList(get("CORS_ORIGINS", ""), false),
		MaxImportBytes:   maxImport,
	}
}

// IsAdminEmail reports whether email is on the admin allowlist. Comparison ignores case and surrounding space.
func (c *Config) IsAdminEmail(email string) bool {
	e := strings.ToLower(strings.TrimSpace(email))
	if e == "" {
		return false
	}
	for _, a := range c.AdminEmails {
		if a == e {
			return true
		}
	}
	return false
}

// ParseList splits a comma separated value, dropping blanks.
func ParseList(raw string, lower bool) []string {
	out := []string{}
	for _, p := range strings.Split(raw, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if lower {
			p = strings.ToLower(p)
		}
		out = append(out, p)
	}
	return out
}
