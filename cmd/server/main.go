package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"oasis/configs"
	"oasis/server"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	logger = logrus.New()

	envFile  string
	addr     string
	redisURL string
	tlsCert  string
	tlsKey   string
	maxFails int
	verbose  bool
)

func main() {
	logger.SetFormatter(&logrus.JSONFormatter{})

	root := &cobra.Command{
		Use:   "oasis-relay",
		Short: "Relay for oasis rooms; never sees room codes or keys",
		RunE:  run,
	}
	root.Flags().StringVar(&envFile, "env-file", ".env", "dotenv file to load")
	root.Flags().StringVar(&addr, "addr", "", "listen address (default "+configs.ServerAddress+")")
	root.Flags().StringVar(&redisURL, "redis", "", "redis address for the failed-join limiter (in-memory when empty)")
	root.Flags().StringVar(&tlsCert, "tls-cert", "", "TLS certificate file")
	root.Flags().StringVar(&tlsKey, "tls-key", "", "TLS key file")
	root.Flags().IntVar(&maxFails, "max-failed-joins", 0, "rejected handshakes that lock a room")
	root.Flags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := configs.Load(envFile)
	if err != nil {
		logger.Fatalf("Error loading configuration: %v", err)
	}
	if addr != "" {
		cfg.Address = addr
	}
	if redisURL != "" {
		cfg.RedisAddress = redisURL
	}
	if tlsCert != "" || tlsKey != "" {
		cfg.TLSCert, cfg.TLSKey = tlsCert, tlsKey
	}
	if maxFails > 0 {
		cfg.MaxFailedJoins = maxFails
	}
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var limiter server.AttemptLimiter
	if cfg.RedisAddress != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddress})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatalf("Error connecting to redis at %s: %v", cfg.RedisAddress, err)
		}
		limiter = server.NewRedisLimiter(redisClient, cfg.MaxFailedJoins, configs.FailedJoinWindow)
	} else {
		logger.Warn("No redis configured, failed joins are counted in memory")
		limiter = server.NewMemoryLimiter(cfg.MaxFailedJoins, configs.FailedJoinWindow)
	}

	s := server.NewServer(ctx, limiter, logger)
	defer s.Close()

	httpServer := &http.Server{
		Addr:              cfg.Address,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		logger.Info("Closing server...")
		s.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	if cfg.TLSCert != "" {
		logger.Infof("WebSocket server running on wss://%s%s", cfg.Address, configs.WebSocketPath)
		err = httpServer.ListenAndServeTLS(cfg.TLSCert, cfg.TLSKey)
	} else {
		logger.Infof("WebSocket server running on ws://%s%s", cfg.Address, configs.WebSocketPath)
		err = httpServer.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalf("Error starting server: %v", err)
	}
	return nil
}
