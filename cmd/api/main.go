package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/textroute/sms-router/internal/config"
	"github.com/textroute/sms-router/internal/gateway"
	"github.com/textroute/sms-router/internal/handlers"
	"github.com/textroute/sms-router/internal/manager"
	"github.com/textroute/sms-router/internal/model"
	"github.com/textroute/sms-router/internal/queue"
	"github.com/textroute/sms-router/internal/repository"
	xhttp "github.com/textroute/sms-router/pkg/http"
	"github.com/textroute/sms-router/pkg/logger"
	"github.com/textroute/sms-router/pkg/pg"
	"github.com/textroute/sms-router/pkg/prom"
	"github.com/textroute/sms-router/pkg/redis"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {

	err := config.Load(argContainsEnvPath())
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return
	}

	s := xhttp.NewServer(xhttp.DefaultServerOption)
	s.Server.ReadBufferSize = 1024 * 16
	s.Server.WriteBufferSize = 1024 * 16
	s.Use(xhttp.CompressMiddleware(6))
	s.Use(xhttp.TimeoutMiddleware(time.Second * 5))
	s.Use(xhttp.RequestLoggerMiddleware)
	s.Use(xhttp.RecoverMiddleware)
	s.Router = xhttp.CreateDefaultRouter()

	readConf := pg.Config{
		User:     config.Get().PostgresReadUser,
		Host:     config.Get().PostgresReadHost,
		Port:     config.Get().PostgresReadPort,
		Password: config.Get().PostgresReadPassword,
		Database: config.Get().PostgresReadDatabase,
	}
	writeConf := pg.Config{
		User:     config.Get().PostgresWriteUser,
		Host:     config.Get().PostgresWriteHost,
		Port:     config.Get().PostgresWritePort,
		Password: config.Get().PostgresWritePassword,
		Database: config.Get().PostgresWriteDatabase,
	}

	pgDebug := false
	if config.Get().AppEnv == "dev" {
		pgDebug = true
	}
	db, err := pg.CreateReadWrite(readConf, writeConf, pgDebug)
	if err != nil {
		logger.Error("failed connecting to pg", "error", err)
		return
	}

	redisAdap, err := redis.NewRedisAdapter("default", config.Get().RedisUniversalKeyPrefix, &redis.Options{
		Addrs:      []string{config.Get().RedisAddr},
		ClientName: "default",
		DB:         config.Get().RedisDatabase,
		Username:   config.Get().RedisUsername,
		Password:   config.Get().RedisPassword,
	})
	if err != nil {
		logger.Error("failed connecting to redis", "error", err)
		return
	}

	dispatchQ, err := queue.NewQueue(redisAdap, queue.QueueConfig{
		Name:              config.Get().QueueName,
		ConsumerGroup:     config.Get().QueueConsumerGroup,
		ConsumerName:      config.Get().QueueConsumerName,
		MaxRetries:        config.Get().QueueMaxRetries,
		VisibilityTimeout: config.Get().QueueVisibilityTimeout,
		PollInterval:      config.Get().QueuePollInterval,
		BatchSize:         config.Get().QueueBatchSize,
		MaxLen:            config.Get().QueueMaxLen,
		EnableDLQ:         config.Get().QueueEnableDLQ,
	})
	if err != nil {
		logger.Error("failed creating dispatch queue", "error", err)
		return
	}

	if config.Get().AppDebugMetricsAddr != "" {
		if err := prom.Create(config.Get().AppName, config.Get().AppEnv, config.Get().PromNamespace); err != nil {
			logger.Warn("failed registering metrics", "error", err)
		}
		go prom.ListenAndServer(config.Get().AppDebugMetricsAddr, config.Get().AppDebugMetricsURI)
	}

	instanceRepo := repository.NewGatewayInstanceRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	reportRepo := repository.NewDeliveryReportRepository(db)

	registry := gateway.NewRegistry()
	registry.Register(gateway.TypePrefix, gateway.NewPrefixGateway)

	mgr := manager.NewManager(instanceRepo, messageRepo, reportRepo, registry,
		manager.WithQueue(dispatchQ),
		manager.WithMetrics(manager.NewMetrics()))

	if path := config.Get().GatewaySeedFile; path != "" {
		if err := seedGateways(mgr, path); err != nil {
			logger.Warn("failed seeding gateway instances", "path", path, "error", err)
		}
	}

	messageHandler := handlers.NewMessageHandler(mgr)
	gatewayHandler := handlers.NewGatewayHandler(mgr)
	healthHandler := handlers.NewHealthHandler(nil)

	g := s.Router.Group("/api/v1")
	handlers.RegisterMessageRoutes(g, messageHandler)
	handlers.RegisterGatewayRoutes(g, gatewayHandler)
	handlers.RegisterHealthRoutes(g, healthHandler)

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Kill)

	go func() {
		var err = s.ListenAndServe(config.Get().HttpListenAddr)
		if err != nil {
			logger.Error("error in running http-server", "error", err)
		}
	}()

	select {
	case <-c:
		s.Shutdown()
	}
}

type seedRecord struct {
	Gateway string              `json:"gateway"`
	Config  model.GatewayConfig `json:"config"`
	Enabled bool                `json:"enabled"`
}

// seedGateways creates the configured instances if the store is empty, so a
// fresh deployment can route without an admin call.
func seedGateways(mgr *manager.Manager, path string) error {
	ctx := context.Background()

	existing, err := mgr.GetGatewayInstances(ctx, "")
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		logger.Info("gateway instances present, skipping seed", "count", len(existing))
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var records []seedRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return err
	}

	for _, r := range records {
		inst, err := mgr.CreateGatewayInstance(ctx, r.Gateway, r.Config, r.Enabled)
		if err != nil {
			return err
		}
		logger.Info("seeded gateway instance", "id", inst.ID, "gateway", inst.Gateway)
	}
	return nil
}

func argContainsEnvPath() string {
	for _, v := range os.Args {
		if strings.Contains(v, "--env=") {
			s := strings.Split(v, "=")
			if _, err := os.Open(s[1]); err != nil {
				logger.Error("failed to open the passed env file, got error" + err.Error())
				return ""
			}
			return s[1]
		}
	}
	return ""
}
