package config

import (
	"os"
	"strconv"
)

// Config collects the environment-driven settings for the API process.
type Config struct {
	Port      int
	DBURL     string
	RedisURL  string
	JWTSecret string
}

func Load() Config {
	port := 8080
	if v := os.Getenv("APP_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			port = p
		}
	}

	return Config{
		Port:      port,
		DBURL:     os.Getenv("DB_URL"),
		RedisURL:  os.Getenv("REDIS_URL"),
		JWTSecret: os.Getenv("JWT_SECRET"),
	}
}
