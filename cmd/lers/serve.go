package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/lers-io/lers-ce/internal/api"
	"github.com/lers-io/lers-ce/internal/auth"
	"github.com/lers-io/lers-ce/internal/config"
	"github.com/lers-io/lers-ce/internal/database"
	"github.com/lers-io/lers-ce/internal/gateway"
	"github.com/lers-io/lers-ce/internal/middleware"
	"github.com/lers-io/lers-ce/internal/repository"
)

var configPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the realtime gateway and REST API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	serveCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")
	rootCmd.AddCommand(serveCmd)
}

func runServe() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := log.New(os.Stdout, "lers ", log.LstdFlags)

	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required (LERS_AUTH_JWT_SECRET)")
	}
	jwtManager := auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL)

	db, err := database.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("database unavailable: %w", err)
	}
	messages := repository.NewMessageRepository(db)
	notifications := repository.NewNotificationRepository(db)
	presence := repository.NewPresenceRepository(db)

	var hubOpts []gateway.HubOption
	hubOpts = append(hubOpts, gateway.WithLogger(logger))
	var bridge *gateway.RedisBridge
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		bridge = gateway.NewRedisBridge(rdb, logger)
		hubOpts = append(hubOpts, gateway.WithBridge(bridge))
		logger.Printf("redis bridge enabled on %s", cfg.Redis.Addr)
	}
	hub := gateway.NewHub(messages, notifications, presence, hubOpts...)

	handler := api.NewHandler(messages, notifications, presence,
		api.WithLogger(logger), api.WithAnnouncer(hub))

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	handler.RegisterRoutes(router, jwtManager)
	router.GET("/ws", middleware.JWTAuthMiddleware(jwtManager), hub.ServeWS)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if bridge != nil {
		go func() {
			if err := bridge.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Printf("redis bridge stopped: %v", err)
			}
		}()
	}

	keeper := gateway.NewHousekeeper(hub, cfg.Realtime.PresenceHorizon, logger)
	if err := keeper.Start(); err != nil {
		return err
	}
	defer keeper.Stop()

	server := &http.Server{
		Addr:              cfg.App.Listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Printf("listening on %s", cfg.App.Listen)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Printf("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
