package config

import (
	"os"
	"strconv"
)

type Config struct {
	Port                  string
	DatabaseDSN           string
	JWTSecret             string
	Env                   string
	ClientOrigin          string
	AccessTokenTTLMinutes int
	RefreshTokenTTLDays   int
	WsWriteTimeoutSeconds int
	WsPongTimeoutSeconds  int
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func Load() Config {
	return Config{
		Port:                  getenv("APP_PORT", "8080"),
		DatabaseDSN:           getenv("DATABASE_DSN", "host=localhost user=postgres password=postgres dbname=chatapp port=5432 sslmode=disable TimeZone=UTC"),
		JWTSecret:             getenv("JWT_SECRET", "dev-secret-change-me"),
		Env:                   getenv("APP_ENV", "dev"),
		ClientOrigin:          getenv("CLIENT_ORIGIN", "http://localhost:5173"),
		AccessTokenTTLMinutes: getenvInt("ACCESS_TOKEN_TTL_MINUTES", 15),
		RefreshTokenTTLDays:   getenvInt("REFRESH_TOKEN_TTL_DAYS", 7),
		WsWriteTimeoutSeconds: getenvInt("WS_WRITE_TIMEOUT_SECONDS", 10),
		WsPongTimeoutSeconds:  getenvInt("WS_PONG_TIMEOUT_SECONDS", 60),
	}
}
