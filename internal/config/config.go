package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"aimtrainer/internal/settings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port           string
	DatabaseURL    string
	NatsURL        string
	NatsSubject    string
	LogLevel       string
	SettingsFile   string
	AreaWidth      int
	AreaHeight     int
	SessionTTL     time.Duration
	AllowedOrigins []string
}

func Load() Config {
	cfg := Config{
		Port:           getEnv("PORT", "8080"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		NatsURL:        os.Getenv("NATS_URL"),
		NatsSubject:    getEnv("NATS_SUBJECT", "aimtrainer.sessions.ended"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		SettingsFile:   os.Getenv("SETTINGS_FILE"),
		AreaWidth:      getEnvInt("AREA_WIDTH", 600),
		AreaHeight:     getEnvInt("AREA_HEIGHT", 400),
		SessionTTL:     time.Duration(getEnvInt("SESSION_TTL_MINUTES", 60)) * time.Minute,
		AllowedOrigins: getEnvList("CORS_ORIGINS", []string{"*"}),
	}
	return cfg
}

// LoadDefaults reads default round settings from a YAML or, for a .toml
// extension, TOML file. Fields the file leaves out keep the built-in
// defaults; out-of-range values are clamped.
func LoadDefaults(path string) (settings.Settings, error) {
	s := settings.Default()
	if path == "" {
		return s, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return s, fmt.Errorf("reading settings file: %w", err)
	}
	if filepath.Ext(path) == ".toml" {
		err = toml.Unmarshal(data, &s)
	} else {
		err = yaml.Unmarshal(data, &s)
	}
	if err != nil {
		return settings.Default(), fmt.Errorf("parsing settings file: %w", err)
	}
	return s.Clamp(), nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
