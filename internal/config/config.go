package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type MySQLConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	TimeZone string
}

type BunnyConfig struct {
	PullBaseURL string
	StorageZone string
	StorageKey  string
}

type SlotCapacity struct {
	Premium   int
	Destacado int
}

type Config struct {
	Addr                   string
	StaticDir              string
	CORSAllowOrigins       string
	AppTimeZone            string
	LogLevel               string
	AutoMigrate            bool
	SessionTTL             time.Duration
	LoginRateRPS           float64
	LoginRateBurst         int
	RedisURL               string
	MediaMaxUploadBytes    int
	BootstrapAdminEmail    string
	BootstrapAdminPassword string
	BootstrapAdminName     string
	Slots                  SlotCapacity
	Bunny                  BunnyConfig
	MySQL                  MySQLConfig
}

func Load() Config {
	port := getenv("PORT", "8080")

	return Config{
		Addr:                   ":" + port,
		StaticDir:              os.Getenv("STATIC_DIR"),
		CORSAllowOrigins:       os.Getenv("CORS_ALLOW_ORIGINS"),
		AppTimeZone:            getenv("APP_TIME_ZONE", "America/Santiago"),
		LogLevel:               getenv("LOG_LEVEL", "info"),
		AutoMigrate:            getenvBool("AUTO_MIGRATE", true),
		SessionTTL:             time.Duration(getenvInt("SESSION_TTL_HOURS", 7*24, 1, 90*24)) * time.Hour,
		LoginRateRPS:           getenvFloat("LOGIN_RATE_RPS", 0.2, 0.001, 100),
		LoginRateBurst:         getenvInt("LOGIN_RATE_BURST", 5, 1, 100),
		RedisURL:               strings.TrimSpace(os.Getenv("REDIS_URL")),
		MediaMaxUploadBytes:    getenvInt("MEDIA_MAX_UPLOAD_BYTES", 15<<20, 64*1024, 200<<20),
		BootstrapAdminEmail:    strings.ToLower(strings.TrimSpace(os.Getenv("BOOTSTRAP_ADMIN_EMAIL"))),
		BootstrapAdminPassword: os.Getenv("BOOTSTRAP_ADMIN_PASSWORD"),
		BootstrapAdminName:     getenv("BOOTSTRAP_ADMIN_NAME", "Admin MODTOK"),
		Slots: SlotCapacity{
			Premium:   getenvInt("SLOTS_PREMIUM_CAPACITY", 2, 1, 50),
			Destacado: getenvInt("SLOTS_DESTACADO_CAPACITY", 6, 1, 50),
		},
		Bunny: BunnyConfig{
			PullBaseURL: getenv("BUNNY_PULL_BASE_URL", "https://modtok.b-cdn.net"),
			StorageZone: getenv("BUNNY_STORAGE_ZONE", "modtok"),
			StorageKey:  os.Getenv("BUNNY_STORAGE_ACCESS_KEY"),
		},
		MySQL: MySQLConfig{
			Host:     getenv("DB_HOST", "127.0.0.1"),
			Port:     getenv("DB_PORT", "3306"),
			User:     getenv("DB_USER", "modtok"),
			Password: getenv("DB_PASSWORD", "modtok"),
			DBName:   getenv("DB_NAME", "modtok"),
			TimeZone: os.Getenv("DB_TIME_ZONE"),
		},
	}
}

// Location resolves AppTimeZone, falling back to UTC when the zone database
// does not know it.
func (c Config) Location() *time.Location {
	name := strings.TrimSpace(c.AppTimeZone)
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

func getenv(key, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func getenvBool(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return v
}

func getenvInt(key string, fallback int, min int, max int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	if min > 0 && v < min {
		return fallback
	}
	if max > 0 && v > max {
		return fallback
	}
	return v
}

func getenvFloat(key string, fallback float64, min float64, max float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	if min > 0 && v < min {
		return fallback
	}
	if max > 0 && v > max {
		return fallback
	}
	return v
}
