package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port int `yaml:"port"`
		// ShutdownTimeoutSec bounds how long in-flight runs may finish on SIGTERM.
		ShutdownTimeoutSec int `yaml:"shutdownTimeoutSec"`
	} `yaml:"server"`

	Tools struct {
		// Root is the TrustInn install directory holding C-Tools/ and Python-Tools/.
		Root            string `yaml:"root"`
		WorkDir         string `yaml:"workDir"`
		TempDir         string `yaml:"tempDir"`
		DrainTimeoutSec int    `yaml:"drainTimeoutSec"`
	} `yaml:"tools"`

	Database struct {
		// Driver is one of mysql, postgres, sqlite or "" for no history.
		Driver   string `yaml:"driver"`
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Name     string `yaml:"name"`
		SSLMode  string `yaml:"sslMode"`
		Path     string `yaml:"path"` // sqlite file
		Migrate  bool   `yaml:"migrate"`
	} `yaml:"database"`

	Minio struct {
		Enabled    bool   `yaml:"enabled"`
		Endpoint   string `yaml:"endpoint"`
		AccessKey  string `yaml:"accessKey"`
		SecretKey  string `yaml:"secretKey"`
		BucketName string `yaml:"bucketName"`
		Region     string `yaml:"region"`
		UseSSL     bool   `yaml:"useSSL"`
		PresignSec int    `yaml:"presignSec"`
	} `yaml:"minio"`

	Auth struct {
		// APIKeys maps tenant id to its key. Empty disables auth.
		APIKeys map[string]string `yaml:"apiKeys"`
	} `yaml:"auth"`

	RateLimit struct {
		Capacity   int `yaml:"capacity"`
		RefillRate int `yaml:"refillRate"`
	} `yaml:"rateLimit"`

	CORS struct {
		AllowedOrigins []string `yaml:"allowedOrigins"`
	} `yaml:"cors"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"` // text | json
	} `yaml:"log"`
}

// Default returns the configuration used when a key is absent from the file.
func Default() *Config {
	var c Config
	c.Server.Port = 8080
	c.Server.ShutdownTimeoutSec = 30
	c.Tools.Root = "~/Downloads/TrustInn"
	c.Tools.TempDir = "./temp"
	c.Tools.DrainTimeoutSec = 2
	c.Database.Path = "trustinn.db"
	c.Minio.BucketName = "trustinn"
	c.RateLimit.Capacity = 30
	c.RateLimit.RefillRate = 1
	c.CORS.AllowedOrigins = []string{"*"}
	c.Log.Level = "info"
	c.Log.Format = "text"
	return &c
}

// Load baca file config.yaml di atas Default. TRUSTINN_HOME, kalau di-set,
// menimpa tools.root.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Path is $CONFIG_PATH, or config.yaml in the working directory.
func Path() string {
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		return v
	}
	return "config.yaml"
}

// LoadOptional is Load for callers that run fine on defaults: a missing file
// yields Default with the environment applied.
func LoadOptional(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg = Default()
		cfg.applyEnv()
		return cfg, cfg.Validate()
	}
	return cfg, err
}

func (c *Config) applyEnv() {
	if v := os.Getenv("TRUSTINN_HOME"); v != "" {
		c.Tools.Root = v
	}
	c.Tools.Root = ExpandHome(c.Tools.Root)
}

// Validate checks the settings that the server cannot fall back from.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "", "mysql", "postgres", "sqlite":
	default:
		return fmt.Errorf("database.driver: unsupported %q", c.Database.Driver)
	}
	if c.Minio.Enabled && (c.Minio.Endpoint == "" || c.Minio.BucketName == "") {
		return fmt.Errorf("minio: endpoint and bucketName are required when enabled")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port: %d out of range", c.Server.Port)
	}
	return nil
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}

// Helper untuk build DSN MySQL
func (c *Config) MySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4&loc=UTC",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
	)
}

// PostgresDSN builds a lib/pq connection string.
func (c *Config) PostgresDSN() string {
	ssl := c.Database.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.Name,
		ssl,
	)
}

// NewLogger builds the process logger from the log section.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Log.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
