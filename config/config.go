package config

import (
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Minio   MinioConfig   `yaml:"minio"`
	Ekacare EkacareConfig `yaml:"ekacare"`
	Auth    AuthConfig    `yaml:"auth"`
	Log     LogConfig     `yaml:"log"`
	Store   StoreConfig   `yaml:"store"`
	Users   []User        `yaml:"users"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type MinioConfig struct {
	Endpoint   string `yaml:"endpoint"`
	AccessKey  string `yaml:"access_key"`
	SecretKey  string `yaml:"secret_key"`
	Bucket     string `yaml:"bucket"`
	UseSSL     bool   `yaml:"use_ssl"`
	ExpireDays int    `yaml:"expire_days"`
}

// EkacareConfig holds the upstream API credentials and polling defaults.
// Credentials can also come from EKACARE_CLIENT_ID / EKACARE_CLIENT_SECRET /
// EKACARE_BASE_URL, which take precedence over the file.
type EkacareConfig struct {
	ClientID            string `yaml:"client_id"`
	ClientSecret        string `yaml:"client_secret"`
	BaseURL             string `yaml:"base_url"`
	DocType             string `yaml:"doc_type"`
	PollIntervalSeconds int    `yaml:"poll_interval_seconds"`
	TimeoutSeconds      int    `yaml:"timeout_seconds"`
}

type AuthConfig struct {
	JWTSecret        string `yaml:"jwt_secret"`
	TokenExpireHours int    `yaml:"token_expire_hours"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

type StoreConfig struct {
	MaxDocuments int `yaml:"max_documents"`
}

type User struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

var GlobalConfig *Config

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Minio.ExpireDays == 0 {
		cfg.Minio.ExpireDays = 7
	}
	if cfg.Auth.TokenExpireHours == 0 {
		cfg.Auth.TokenExpireHours = 24
	}
	if cfg.Ekacare.BaseURL == "" {
		cfg.Ekacare.BaseURL = "https://api.eka.care"
	}
	if cfg.Ekacare.DocType == "" {
		cfg.Ekacare.DocType = "lr"
	}
	if cfg.Ekacare.PollIntervalSeconds == 0 {
		cfg.Ekacare.PollIntervalSeconds = 10
	}
	if cfg.Ekacare.TimeoutSeconds == 0 {
		cfg.Ekacare.TimeoutSeconds = 300
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}

	applyEnvOverrides(&cfg)

	GlobalConfig = &cfg
	return &cfg, nil
}

// applyEnvOverrides lets environment variables win over file values for the
// upstream credentials. A .env file is honored when present.
func applyEnvOverrides(cfg *Config) {
	_ = godotenv.Load()

	if v := os.Getenv("EKACARE_CLIENT_ID"); v != "" {
		cfg.Ekacare.ClientID = v
	}
	if v := os.Getenv("EKACARE_CLIENT_SECRET"); v != "" {
		cfg.Ekacare.ClientSecret = v
	}
	if v := os.Getenv("EKACARE_BASE_URL"); v != "" {
		cfg.Ekacare.BaseURL = v
	}
}

// FindUser finds a user by username
func (c *Config) FindUser(username string) *User {
	for i := range c.Users {
		if c.Users[i].Username == username {
			return &c.Users[i]
		}
	}
	return nil
}
