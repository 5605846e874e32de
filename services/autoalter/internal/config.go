package internal

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	AMQPURL       string
	APIPort       string
	SettingsPath  string
	MediaRoot     string
	PublicBaseURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	HTTPTimeout    time.Duration
	SizeThreshold  int64
	MaxParallel    int
	ForceURLUpload bool

	TelegramToken string
	TelegramChat  string

	OpenAIBaseURL     string
	AlttextAIEndpoint string
}

func ConfigFromEnv() Config {
	return Config{
		AMQPURL:        env("AMQP_URL", ""),
		APIPort:        env("API_PORT", "8080"),
		SettingsPath:   env("SETTINGS_PATH", "autoalter.yaml"),
		MediaRoot:      env("MEDIA_ROOT", "files"),
		PublicBaseURL:  env("PUBLIC_BASE_URL", ""),
		RedisAddr:      env("REDIS_ADDR", ""),
		RedisPassword:  env("REDIS_PASSWORD", ""),
		RedisDB:        envInt("REDIS_DB", 0),
		HTTPTimeout:    time.Duration(envInt("HTTP_TIMEOUT", 30)) * time.Second,
		SizeThreshold:  int64(envInt("SIZE_THRESHOLD", 1<<20)),
		MaxParallel:    envInt("MAX_PARALLEL", 4),
		ForceURLUpload: envBool("ALTTEXT_AI_FORCE_IMAGE_UPLOAD"),
		TelegramToken:  env("TELEGRAM_BOT_TOKEN", ""),
		TelegramChat:   env("TELEGRAM_CHAT_ID", ""),

		OpenAIBaseURL:     env("OPENAI_BASE_URL", ""),
		AlttextAIEndpoint: env("ALTTEXT_AI_ENDPOINT", ""),
	}
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		n, _ := strconv.Atoi(v)
		if n > 0 {
			return n
		}
	}
	return def
}

func envBool(k string) bool {
	switch strings.ToLower(os.Getenv(k)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
