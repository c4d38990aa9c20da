package config

import (
	"os"
	"strconv"
)

type Config struct {
	Env           string
	Port          int
	DatabaseDSN   string // empty = in-memory store (dev)
	RedisAddr     string // empty = in-process cache
	JWTSecret     string
	LogJSON       bool
	MPAccessToken string
	MPBaseURL     string // empty = provider default
	PublicBaseURL string // base for back URLs and the webhook notification URL
}

func Default() Config {
	return Config{
		Env:           "dev",
		Port:          5000,
		DatabaseDSN:   "",
		RedisAddr:     "",
		JWTSecret:     "",
		LogJSON:       true,
		PublicBaseURL: "http://127.0.0.1:5000",
	}
}

func EnvDefaults() Config {
	return fromEnv(Default())
}

func fromEnv(c Config) Config {
	if v := os.Getenv("COMMERCE_ENV"); v != "" {
		c.Env = v
	}
	if v := os.Getenv("COMMERCE_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Port = p
		}
	}
	if v := os.Getenv("COMMERCE_DATABASE_DSN"); v != "" {
		c.DatabaseDSN = v
	}
	if v := os.Getenv("COMMERCE_REDIS_ADDR"); v != "" {
		c.RedisAddr = v
	}
	if v := os.Getenv("COMMERCE_JWT_SECRET"); v != "" {
		c.JWTSecret = v
	}
	if v := os.Getenv("COMMERCE_LOG_JSON"); v != "" {
		switch v {
		case "1", "true", "TRUE":
			c.LogJSON = true
		case "0", "false", "FALSE":
			c.LogJSON = false
		}
	}
	if v := os.Getenv("COMMERCE_MP_ACCESS_TOKEN"); v != "" {
		c.MPAccessToken = v
	}
	if v := os.Getenv("COMMERCE_MP_BASE_URL"); v != "" {
		c.MPBaseURL = v
	}
	if v := os.Getenv("COMMERCE_PUBLIC_BASE_URL"); v != "" {
		c.PublicBaseURL = v
	}
	return c
}
