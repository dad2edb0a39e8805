package config

import (
	"log/slog"
	"reflect"
	"testing"
)

func TestLoadViewerDefaults(t *testing.T) {
	cfg := LoadViewer()

	if cfg.RelayURL != "ws://localhost:8443/ws" {
		t.Errorf("RelayURL = %q", cfg.RelayURL)
	}
	if cfg.QueueCapacity != 3 {
		t.Errorf("QueueCapacity = %d, want 3", cfg.QueueCapacity)
	}
	if cfg.ScoreThreshold != 0.5 {
		t.Errorf("ScoreThreshold = %v, want 0.5", cfg.ScoreThreshold)
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", cfg.MaxRetries)
	}
}

func TestLoadViewerFromEnvironment(t *testing.T) {
	t.Setenv("RELAY_URL", "wss://relay.example.com/ws")
	t.Setenv("STUN_SERVERS", "stun:a.example.com:3478, stun:b.example.com:3478")
	t.Setenv("QUEUE_CAPACITY", "5")
	t.Setenv("SCORE_THRESHOLD", "0.25")
	t.Setenv("MAX_RETRIES", "7")

	cfg := LoadViewer()

	if cfg.RelayURL != "wss://relay.example.com/ws" {
		t.Errorf("RelayURL = %q", cfg.RelayURL)
	}
	wantSTUN := []string{"stun:a.example.com:3478", "stun:b.example.com:3478"}
	if !reflect.DeepEqual(cfg.STUNServers, wantSTUN) {
		t.Errorf("STUNServers = %v, want %v", cfg.STUNServers, wantSTUN)
	}
	if cfg.QueueCapacity != 5 {
		t.Errorf("QueueCapacity = %d, want 5", cfg.QueueCapacity)
	}
	if cfg.ScoreThreshold != 0.25 {
		t.Errorf("ScoreThreshold = %v, want 0.25", cfg.ScoreThreshold)
	}
	if cfg.MaxRetries != 7 {
		t.Errorf("MaxRetries = %d, want 7", cfg.MaxRetries)
	}
}

func TestLoadViewerInvalidNumbersFallBack(t *testing.T) {
	t.Setenv("QUEUE_CAPACITY", "lots")
	t.Setenv("SCORE_THRESHOLD", "high")
	t.Setenv("MAX_RETRIES", "")

	cfg := LoadViewer()

	if cfg.QueueCapacity != 3 {
		t.Errorf("QueueCapacity = %d, want default 3", cfg.QueueCapacity)
	}
	if cfg.ScoreThreshold != 0.5 {
		t.Errorf("ScoreThreshold = %v, want default 0.5", cfg.ScoreThreshold)
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want default 3", cfg.MaxRetries)
	}
}

func TestLoadServerFromEnvironment(t *testing.T) {
	t.Setenv("LISTEN_ADDR", ":9000")
	t.Setenv("TLS_CERT", "cert.pem")
	t.Setenv("TLS_KEY", "key.pem")

	cfg := LoadServer()

	if cfg.ListenAddr != ":9000" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.TLSCert != "cert.pem" || cfg.TLSKey != "key.pem" {
		t.Errorf("TLS = %q/%q", cfg.TLSCert, cfg.TLSKey)
	}
}

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"Warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, c := range cases {
		if got := ParseLevel(c.in); got != c.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}
