/*
config.go - Application configuration

PURPOSE:
  Loads server, database, CORS and logging settings from an optional
  config.yaml, with environment-variable overrides. A missing config
  file is not an error; built-in defaults keep the server runnable with
  zero configuration.

PRIORITY (highest to lowest):
  1. Environment variables with PSB_ prefix (e.g. PSB_DATABASE_PATH)
  2. config.yaml
  3. Built-in defaults
*/
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	CORS     CORSConfig
	Log      LogConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds SQLite settings. Use ":memory:" for an
// in-memory database.
type DatabaseConfig struct {
	Path string
}

// CORSConfig holds the origins the admin frontend may call from.
type CORSConfig struct {
	AllowedOrigins []string
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
}

// Load reads configuration from the given path (or the working
// directory when path is empty) and the environment.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && path != "" {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("PSB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		Server: ServerConfig{
			Port:            v.GetInt("server.port"),
			ReadTimeout:     v.GetDuration("server.read_timeout"),
			WriteTimeout:    v.GetDuration("server.write_timeout"),
			IdleTimeout:     v.GetDuration("server.idle_timeout"),
			ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
		},
		Database: DatabaseConfig{
			Path: v.GetString("database.path"),
		},
		CORS: CORSConfig{
			AllowedOrigins: v.GetStringSlice("cors.allowed_origins"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("database.path", "bookkeeper.db")
	v.SetDefault("cors.allowed_origins", []string{"http://localhost:5173", "http://localhost:8080"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}
