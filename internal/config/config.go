package config

import (
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// EnvPrefix namespaces every environment variable read by LoadFromEnv
const EnvPrefix = "TUTORCHAT_"

// Config covers both the chat client and the devserver that serves the same contract
// ARCHITECTURAL DISCOVERY: Configuration layer serves as system-wide settings coordinator
type Config struct {
	API        *APIConfig        `json:"api"`
	WebSocket  *WebSocketConfig  `json:"websocket"`
	Badge      *BadgeConfig      `json:"badge"`
	Attachment *AttachmentConfig `json:"attachment"`
	Database   *DatabaseConfig   `json:"database"`
	HTTP       *HTTPConfig       `json:"http"`
}

// APIConfig locates the backend and carries the initial credential
type APIConfig struct {
	BaseURL         string        `json:"base_url"`
	WebSocketURL    string        `json:"websocket_url"` // empty: derived from BaseURL
	Token           string        `json:"token"`
	RequestTimeout  time.Duration `json:"request_timeout"`
	HistoryPageSize int           `json:"history_page_size"`
}

// WebSocketConfig tunes the live channel on both ends
type WebSocketConfig struct {
	HandshakeTimeout time.Duration `json:"handshake_timeout"`
	PingInterval     time.Duration `json:"ping_interval"`
	ReadTimeout      time.Duration `json:"read_timeout"`
	WriteTimeout     time.Duration `json:"write_timeout"`
	BufferSize       int           `json:"buffer_size"`
}

// BadgeConfig bounds the notification page read for the unread badge
type BadgeConfig struct {
	Limit        int           `json:"limit"`
	PollInterval time.Duration `json:"poll_interval"`
}

// AttachmentConfig bounds uploads; StorageDir is only used by the devserver
type AttachmentConfig struct {
	MaxBytes   int64  `json:"max_bytes"`
	StorageDir string `json:"storage_dir"`
}

// DatabaseConfig is the devserver's sqlite store
type DatabaseConfig struct {
	Path    string        `json:"path"`
	Timeout time.Duration `json:"timeout"`
}

// HTTPConfig is the devserver's listener
type HTTPConfig struct {
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	Host         string        `json:"host"`
}

// DefaultConfig points the client at a devserver on localhost
func DefaultConfig() *Config {
	return &Config{
		API: &APIConfig{
			BaseURL:         "http://localhost:8000",
			RequestTimeout:  30 * time.Second,
			HistoryPageSize: 100,
		},
		WebSocket: &WebSocketConfig{
			HandshakeTimeout: 10 * time.Second,
			PingInterval:     30 * time.Second,
			ReadTimeout:      60 * time.Second,
			WriteTimeout:     5 * time.Second,
			BufferSize:       100,
		},
		Badge: &BadgeConfig{
			Limit:        50,
			PollInterval: 30 * time.Second,
		},
		Attachment: &AttachmentConfig{
			MaxBytes:   10 << 20,
			StorageDir: "./data/attachments",
		},
		Database: &DatabaseConfig{
			Path:    "./data/tutorchat.db",
			Timeout: 30 * time.Second,
		},
		HTTP: &HTTPConfig{
			Port:         8000,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			Host:         "0.0.0.0",
		},
	}
}

// Validate rejects configurations that would fail at runtime
func (c *Config) Validate() error {
	if c.API == nil {
		return fmt.Errorf("API configuration is required")
	}
	if _, err := parseHTTPURL(c.API.BaseURL); err != nil {
		return fmt.Errorf("API base URL: %w", err)
	}
	if c.API.WebSocketURL != "" {
		u, err := url.Parse(c.API.WebSocketURL)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
			return fmt.Errorf("WebSocket URL must be an absolute ws:// or wss:// URL")
		}
	}
	if c.API.RequestTimeout <= 0 {
		return fmt.Errorf("API request timeout must be positive")
	}
	if c.API.HistoryPageSize < 1 || c.API.HistoryPageSize > 100 {
		return fmt.Errorf("history page size must be between 1 and 100")
	}

	if c.WebSocket == nil {
		return fmt.Errorf("WebSocket configuration is required")
	}
	if c.WebSocket.HandshakeTimeout <= 0 {
		return fmt.Errorf("WebSocket handshake timeout must be positive")
	}
	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("WebSocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return fmt.Errorf("WebSocket read timeout must exceed the ping interval")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket write timeout must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return fmt.Errorf("WebSocket buffer size must be positive")
	}

	if c.Badge == nil {
		return fmt.Errorf("badge configuration is required")
	}
	if c.Badge.Limit < 1 || c.Badge.Limit > 200 {
		return fmt.Errorf("badge limit must be between 1 and 200")
	}
	if c.Badge.PollInterval <= 0 {
		return fmt.Errorf("badge poll interval must be positive")
	}

	if c.Attachment == nil {
		return fmt.Errorf("attachment configuration is required")
	}
	if c.Attachment.MaxBytes <= 0 {
		return fmt.Errorf("attachment max bytes must be positive")
	}

	return nil
}

// ValidateServer additionally checks the devserver sections
func (c *Config) ValidateServer() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Database == nil {
		return fmt.Errorf("database configuration is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.Database.Timeout <= 0 {
		return fmt.Errorf("database timeout must be positive")
	}
	if c.HTTP == nil {
		return fmt.Errorf("HTTP configuration is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 {
		return fmt.Errorf("HTTP read timeout must be positive")
	}
	if c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP write timeout must be positive")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}
	if c.Attachment.StorageDir == "" {
		return fmt.Errorf("attachment storage dir cannot be empty")
	}
	return nil
}

// ChannelBaseURL returns the ws(s) base for live channel addresses.
// FUNCTIONAL DISCOVERY: Derived from the API base by swapping http for ws unless set explicitly.
func (a *APIConfig) ChannelBaseURL() string {
	if a.WebSocketURL != "" {
		return strings.TrimRight(a.WebSocketURL, "/")
	}
	base := strings.TrimRight(a.BaseURL, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return base
	}
}

// LoadDotEnv loads KEY=VALUE pairs from .env files without overriding the
// process environment. Missing files are not an error.
func LoadDotEnv(paths ...string) {
	if err := godotenv.Load(paths...); err != nil {
		log.Println("No .env file found")
	}
}

// LoadFromEnv overlays TUTORCHAT_* environment variables onto the defaults
func LoadFromEnv() *Config {
	return applyEnv(DefaultConfig())
}

func applyEnv(config *Config) *Config {
	config.API.BaseURL = getEnv("API_URL", config.API.BaseURL)
	config.API.WebSocketURL = getEnv("WS_URL", config.API.WebSocketURL)
	config.API.Token = getEnv("TOKEN", config.API.Token)
	config.API.RequestTimeout = getEnvDuration("REQUEST_TIMEOUT", config.API.RequestTimeout)
	config.API.HistoryPageSize = getEnvInt("HISTORY_PAGE_SIZE", config.API.HistoryPageSize)

	config.WebSocket.HandshakeTimeout = getEnvDuration("WEBSOCKET_HANDSHAKE_TIMEOUT", config.WebSocket.HandshakeTimeout)
	config.WebSocket.PingInterval = getEnvDuration("WEBSOCKET_PING_INTERVAL", config.WebSocket.PingInterval)
	config.WebSocket.ReadTimeout = getEnvDuration("WEBSOCKET_READ_TIMEOUT", config.WebSocket.ReadTimeout)
	config.WebSocket.WriteTimeout = getEnvDuration("WEBSOCKET_WRITE_TIMEOUT", config.WebSocket.WriteTimeout)
	config.WebSocket.BufferSize = getEnvInt("WEBSOCKET_BUFFER_SIZE", config.WebSocket.BufferSize)

	config.Badge.Limit = getEnvInt("BADGE_LIMIT", config.Badge.Limit)
	config.Badge.PollInterval = getEnvDuration("BADGE_POLL_INTERVAL", config.Badge.PollInterval)

	config.Attachment.MaxBytes = int64(getEnvInt("ATTACHMENT_MAX_BYTES", int(config.Attachment.MaxBytes)))
	config.Attachment.StorageDir = getEnv("ATTACHMENT_DIR", config.Attachment.StorageDir)

	config.Database.Path = getEnv("DATABASE_PATH", config.Database.Path)
	config.Database.Timeout = getEnvDuration("DATABASE_TIMEOUT", config.Database.Timeout)

	config.HTTP.Host = getEnv("HTTP_HOST", config.HTTP.Host)
	config.HTTP.Port = getEnvInt("HTTP_PORT", config.HTTP.Port)
	config.HTTP.ReadTimeout = getEnvDuration("HTTP_READ_TIMEOUT", config.HTTP.ReadTimeout)
	config.HTTP.WriteTimeout = getEnvDuration("HTTP_WRITE_TIMEOUT", config.HTTP.WriteTimeout)

	return config
}

// ConfigFile represents the JSON structure for file-based configuration
// FUNCTIONAL DISCOVERY: Separate struct for JSON parsing to handle duration strings
type ConfigFile struct {
	API        *APIConfigFile        `json:"api"`
	WebSocket  *WebSocketConfigFile  `json:"websocket"`
	Badge      *BadgeConfigFile      `json:"badge"`
	Attachment *AttachmentConfig     `json:"attachment"`
	Database   *DatabaseConfigFile   `json:"database"`
	HTTP       *HTTPConfigFile       `json:"http"`
}

type APIConfigFile struct {
	BaseURL         string `json:"base_url"`
	WebSocketURL    string `json:"websocket_url"`
	Token           string `json:"token"`
	RequestTimeout  string `json:"request_timeout"`
	HistoryPageSize int    `json:"history_page_size"`
}

type WebSocketConfigFile struct {
	HandshakeTimeout string `json:"handshake_timeout"`
	PingInterval     string `json:"ping_interval"`
	ReadTimeout      string `json:"read_timeout"`
	WriteTimeout     string `json:"write_timeout"`
	BufferSize       int    `json:"buffer_size"`
}

type BadgeConfigFile struct {
	Limit        int    `json:"limit"`
	PollInterval string `json:"poll_interval"`
}

type DatabaseConfigFile struct {
	Path    string `json:"path"`
	Timeout string `json:"timeout"`
}

type HTTPConfigFile struct {
	Port         int    `json:"port"`
	ReadTimeout  string `json:"read_timeout"`
	WriteTimeout string `json:"write_timeout"`
	Host         string `json:"host"`
}

// LoadFromFile reads a JSON config file on top of the defaults
func LoadFromFile(filepath string) (*Config, error) {
	config, err := applyFile(DefaultConfig(), filepath)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", filepath, err)
	}
	return config, nil
}

func applyFile(config *Config, filepath string) (*Config, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filepath, err)
	}

	var file ConfigFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", filepath, err)
	}

	if file.API != nil {
		setString(&config.API.BaseURL, file.API.BaseURL)
		setString(&config.API.WebSocketURL, file.API.WebSocketURL)
		setString(&config.API.Token, file.API.Token)
		setDuration(&config.API.RequestTimeout, file.API.RequestTimeout)
		setInt(&config.API.HistoryPageSize, file.API.HistoryPageSize)
	}
	if file.WebSocket != nil {
		setDuration(&config.WebSocket.HandshakeTimeout, file.WebSocket.HandshakeTimeout)
		setDuration(&config.WebSocket.PingInterval, file.WebSocket.PingInterval)
		setDuration(&config.WebSocket.ReadTimeout, file.WebSocket.ReadTimeout)
		setDuration(&config.WebSocket.WriteTimeout, file.WebSocket.WriteTimeout)
		setInt(&config.WebSocket.BufferSize, file.WebSocket.BufferSize)
	}
	if file.Badge != nil {
		setInt(&config.Badge.Limit, file.Badge.Limit)
		setDuration(&config.Badge.PollInterval, file.Badge.PollInterval)
	}
	if file.Attachment != nil {
		if file.Attachment.MaxBytes > 0 {
			config.Attachment.MaxBytes = file.Attachment.MaxBytes
		}
		setString(&config.Attachment.StorageDir, file.Attachment.StorageDir)
	}
	if file.Database != nil {
		setString(&config.Database.Path, file.Database.Path)
		setDuration(&config.Database.Timeout, file.Database.Timeout)
	}
	if file.HTTP != nil {
		setInt(&config.HTTP.Port, file.HTTP.Port)
		setString(&config.HTTP.Host, file.HTTP.Host)
		setDuration(&config.HTTP.ReadTimeout, file.HTTP.ReadTimeout)
		setDuration(&config.HTTP.WriteTimeout, file.HTTP.WriteTimeout)
	}

	return config, nil
}

// LoadConfigWithPrecedence resolves file > environment (.env included) > defaults.
// File errors are logged and the environment/defaults still apply.
func LoadConfigWithPrecedence(filepath string) *Config {
	LoadDotEnv()
	config := LoadFromEnv()

	if filepath != "" {
		merged, err := applyFile(config, filepath)
		if err != nil {
			log.Printf("Ignoring config file: %v", err)
			return LoadFromEnv()
		}
		config = merged
	}

	return config
}

func parseHTTPURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("must be an absolute http:// or https:// URL, got %q", raw)
	}
	return u, nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(EnvPrefix + key); exists && value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := getEnv(key, ""); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := getEnv(key, ""); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func setString(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}

func setInt(dst *int, value int) {
	if value > 0 {
		*dst = value
	}
}

func setDuration(dst *time.Duration, value string) {
	if value == "" {
		return
	}
	if d, err := time.ParseDuration(value); err == nil {
		*dst = d
	}
}
