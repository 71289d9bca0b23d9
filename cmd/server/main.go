package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"namecradle/internal/app"
	"namecradle/internal/config"
	"namecradle/internal/identity"
	"namecradle/internal/server"
	"namecradle/internal/store"
	"namecradle/internal/util"
	"namecradle/pkg/namerater"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := util.InitLogger(cfg.LogLevel)

	verifier, err := identity.NewVerifier(identity.Config{
		JWKSURL:  cfg.IdentityJWKSURL,
		Issuer:   cfg.IdentityIssuer,
		Audience: cfg.IdentityAudience,
	})
	if err != nil {
		fatal(logger, "failed to init identity verifier", err)
	}

	dataStore, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		fatal(logger, "failed to init postgres store", err)
	}

	// The store doubles as the prompt-use recorder so every model call is
	// tracked under its content hash.
	rater := namerater.NewOpenAICompatRater(
		cfg.RaterBaseURL, cfg.RaterAPIKey, cfg.RaterModel,
		namerater.DefaultSampling, dataStore)

	sessionTTL := time.Duration(cfg.SessionTTLHours) * time.Hour
	if sessionTTL <= 0 {
		sessionTTL = 24 * time.Hour
	}
	var sessions store.SessionStore
	if cfg.SessionSecret != "" {
		sessions, err = store.NewJWTSessionStore(cfg.SessionSecret, sessionTTL)
		if err != nil {
			fatal(logger, "failed to init jwt session store", err)
		}
	} else {
		sessions = store.NewRedisSessionStore(cfg.RedisAddr, cfg.RedisPassword, sessionTTL)
	}

	appCore, err := app.New(app.Config{
		Store:              dataStore,
		Sessions:           sessions,
		Rater:              rater,
		RedisAddr:          cfg.RedisAddr,
		RedisPassword:      cfg.RedisPassword,
		SessionTTL:         sessionTTL,
		CacheRetentionDays: cfg.CacheRetentionDays,
		AdminEmails:        cfg.AdminEmails,
	})
	if err != nil {
		fatal(logger, "failed to init app", err)
	}

	httpServer, err := server.New(server.Config{
		App:                       appCore,
		Identity:                  verifier,
		RedisAddr:                 cfg.RedisAddr,
		RedisPassword:             cfg.RedisPassword,
		AnalyzeRateLimitPerMinute: cfg.AnalyzeRateLimitPerMinute,
		TrustedProxies:            cfg.TrustedProxies,
		ShareURLBase:              cfg.ShareURLBase,
	})
	if err != nil {
		fatal(logger, "failed to init server", err)
	}

	if cfg.CacheSweepEnabled {
		interval := time.Duration(cfg.CacheSweepIntervalHours) * time.Hour
		go appCore.RunCacheSweeper(context.Background(), interval)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("namecradle server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "err", err)
	os.Exit(1)
}
