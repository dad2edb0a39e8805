package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// ServerConfig configures the relay binary.
type ServerConfig struct {
	ListenAddr string
	TLSCert    string
	TLSKey     string
	LogLevel   string
}

// ViewerConfig configures the laptop-side viewer binary.
type ViewerConfig struct {
	RelayURL       string
	BackendURL     string
	ModelPath      string
	STUNServers    []string
	QueueCapacity  int
	ScoreThreshold float64
	MaxRetries     int
	LogLevel       string
}

// LoadServer reads the relay configuration from a .env file (if present)
// and the environment.
func LoadServer() *ServerConfig {
	loadDotenv()

	return &ServerConfig{
		ListenAddr: getEnv("LISTEN_ADDR", ":8443"),
		TLSCert:    getEnv("TLS_CERT", ""),
		TLSKey:     getEnv("TLS_KEY", ""),
		LogLevel:   getEnv("LOG_LEVEL", "info"),
	}
}

// LoadViewer reads the viewer configuration from a .env file (if present)
// and the environment.
func LoadViewer() *ViewerConfig {
	loadDotenv()

	return &ViewerConfig{
		RelayURL:       getEnv("RELAY_URL", "ws://localhost:8443/ws"),
		BackendURL:     getEnv("BACKEND_URL", "ws://localhost:9090/infer"),
		ModelPath:      getEnv("MODEL_PATH", "models/ssd_mobilenet.onnx"),
		STUNServers:    getEnvList("STUN_SERVERS", []string{"stun:stun.l.google.com:19302"}),
		QueueCapacity:  getEnvInt("QUEUE_CAPACITY", 3),
		ScoreThreshold: getEnvFloat("SCORE_THRESHOLD", 0.5),
		MaxRetries:     getEnvInt("MAX_RETRIES", 3),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
	}
}

// ParseLevel maps a config string to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func loadDotenv() {
	if err := godotenv.Load(); err != nil {
		// Missing .env is fine, the process environment still applies.
		slog.Debug("no .env file found, using system environment")
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("invalid integer in environment, using default", "key", key, "value", v)
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		slog.Warn("invalid number in environment, using default", "key", key, "value", v)
		return fallback
	}
	return f
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
