package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Addr       string
	BackendURL string
	CORSOrigin string
	// Backend refresh handshake
	CSRFCookie string
	CSRFHeader string
	// Browser sessions
	SessionTTL     time.Duration
	SessionSecret  string
	CookieSecure   bool
	RedisURL       string
	RequestTimeout time.Duration
	// Site search
	MeiliURL       string
	MeiliMasterKey string
	// Export assets
	LogoPath        string
	LogoBucket      string
	LogoObject      string
	MinioEndpoint   string
	MinioAccessKey  string
	MinioSecretKey  string
	MinioUseSSL     bool
	MinioRegion     string
	BulletinSource  string
	ChromiumTimeout time.Duration
	// SMTP Configuration
	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	SMTPFromName string
	ContactTo    string
}

// Load reads the process environment. A .env file in the working directory,
// when present, is applied first without overriding variables already set.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Addr:           getenv("PANEL_ADDR", ":8080"),
		BackendURL:     getenv("PANEL_BACKEND_URL", "http://localhost:8000"),
		CORSOrigin:     getenv("PANEL_CORS_ORIGIN", "*"),
		CSRFCookie:     getenv("PANEL_CSRF_COOKIE", "csrf_token"),
		CSRFHeader:     getenv("PANEL_CSRF_HEADER", "X-CSRF-Token"),
		SessionTTL:     time.Duration(getenvInt("PANEL_SESSION_TTL_SECONDS", 8*3600)) * time.Second,
		SessionSecret:  getenv("PANEL_SESSION_SECRET", ""),
		CookieSecure:   getenvBool("PANEL_COOKIE_SECURE", false),
		RedisURL:       getenv("REDIS_URL", ""),
		RequestTimeout: time.Duration(getenvInt("PANEL_BACKEND_TIMEOUT_SECONDS", 30)) * time.Second,
		// Meilisearch is optional; site search falls back to in-process matching
		MeiliURL:        getenv("MEILI_URL", ""),
		MeiliMasterKey:  getenv("MEILI_MASTER_KEY", ""),
		LogoPath:        getenv("PANEL_LOGO_PATH", ""),
		LogoBucket:      getenv("PANEL_LOGO_BUCKET", ""),
		LogoObject:      getenv("PANEL_LOGO_OBJECT", "logo.png"),
		MinioEndpoint:   getenv("MINIO_ENDPOINT", ""),
		MinioAccessKey:  getenv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey:  getenv("MINIO_SECRET_KEY", ""),
		MinioUseSSL:     getenvBool("MINIO_USE_SSL", false),
		MinioRegion:     getenv("MINIO_REGION", "us-east-1"),
		BulletinSource:  getenv("PANEL_BULLETIN_SOURCE", ""),
		ChromiumTimeout: time.Duration(getenvInt("PANEL_PDF_TIMEOUT_SECONDS", 30)) * time.Second,
		// SMTP - empty by default, contact form disabled if not configured
		SMTPHost:     getenv("SMTP_HOST", ""),
		SMTPPort:     getenv("SMTP_PORT", "587"),
		SMTPUsername: getenv("SMTP_USERNAME", ""),
		SMTPPassword: getenv("SMTP_PASSWORD", ""),
		SMTPFrom:     getenv("SMTP_FROM", ""),
		SMTPFromName: getenv("SMTP_FROM_NAME", "Colegio Médico"),
		ContactTo:    getenv("PANEL_CONTACT_TO", ""),
	}
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
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
