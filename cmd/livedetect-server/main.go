package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"livedetect/pkg/config"
	"livedetect/pkg/signaling"
)

func main() {
	var (
		listenAddr = flag.String("listen", "", "listen address (host:port)")
		tlsCert    = flag.String("tls-cert", "", "TLS certificate file")
		tlsKey     = flag.String("tls-key", "", "TLS key file")
		logLevel   = flag.String("log-level", "", "Log level (debug, info, warn, error)")
	)
	flag.Parse()

	cfg := config.LoadServer()
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if *tlsCert != "" {
		cfg.TLSCert = *tlsCert
	}
	if *tlsKey != "" {
		cfg.TLSKey = *tlsKey
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	logger := setupLogger(cfg.LogLevel)

	hub := signaling.NewHub(logger)
	server := signaling.NewServer(hub, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", server.HandleWS)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":    "ok",
			"peers":     hub.PeerCount(),
			"phones":    hub.RoleCount(signaling.RolePhone),
			"laptops":   hub.RoleCount(signaling.RoleLaptop),
			"timestamp": time.Now().Unix(),
		})
	})

	mux.HandleFunc("GET /metrics", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprintf(w, "# HELP signaling_peers_connected Number of connected peers\n")
		fmt.Fprintf(w, "# TYPE signaling_peers_connected gauge\n")
		fmt.Fprintf(w, "signaling_peers_connected %d\n", hub.PeerCount())
		fmt.Fprintf(w, "# HELP signaling_messages_in_total Messages received from peers\n")
		fmt.Fprintf(w, "# TYPE signaling_messages_in_total counter\n")
		fmt.Fprintf(w, "signaling_messages_in_total %d\n", server.MessagesIn())
		fmt.Fprintf(w, "# HELP signaling_messages_out_total Messages delivered to peers\n")
		fmt.Fprintf(w, "# TYPE signaling_messages_out_total counter\n")
		fmt.Fprintf(w, "signaling_messages_out_total %d\n", server.MessagesOut())
	})

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: mux,
	}

	go func() {
		var err error
		if cfg.TLSCert != "" && cfg.TLSKey != "" {
			logger.Info("relay listening with TLS", "addr", httpServer.Addr)
			err = httpServer.ListenAndServeTLS(cfg.TLSCert, cfg.TLSKey)
		} else {
			logger.Info("relay listening", "addr", httpServer.Addr)
			err = httpServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutdown signal received, gracefully shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	logger.Info("relay stopped")
}

// setupLogger creates a structured logger
func setupLogger(level string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: config.ParseLevel(level),
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
