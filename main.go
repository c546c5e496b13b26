package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	cmtlog "github.com/cometbft/cometbft/libs/log"
	badger "github.com/dgraph-io/badger/v4"

	"github.com/Oshioxi2003/edu/config"
	"github.com/Oshioxi2003/edu/events"
	"github.com/Oshioxi2003/edu/gateway"
	"github.com/Oshioxi2003/edu/reconcile"
	"github.com/Oshioxi2003/edu/repository"
	"github.com/Oshioxi2003/edu/sequence"
	"github.com/Oshioxi2003/edu/server"
	service_registry "github.com/Oshioxi2003/edu/srvreg"
	"github.com/Oshioxi2003/edu/token"
)

var (
	configPath string
	httpPort   string
)

func init() {
	flag.StringVar(&configPath, "config", "", "Path to config file (optional, env vars apply either way)")
	flag.StringVar(&httpPort, "http-port", "", "HTTP port, overrides configuration")
}

func main() {
	flag.Parse()

	logger := cmtlog.NewTMLogger(cmtlog.NewSyncWriter(os.Stdout))

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("Failed to load configuration", "err", err)
		os.Exit(1)
	}
	if httpPort != "" {
		cfg.HTTPPort = httpPort
	}

	// Database
	repo := repository.NewRepository(logger)
	if err := repo.ConnectDB(cfg.PostgresDSN); err != nil {
		logger.Error("Failed to connect to database", "err", err)
		os.Exit(1)
	}
	if err := repo.Migrate(); err != nil {
		logger.Error("Failed to migrate database", "err", err)
		os.Exit(1)
	}
	repo.Seed()

	// Order code allocator on badger
	badgerOpts := badger.DefaultOptions(cfg.BadgerPath).WithLogger(nil)
	badgerDB, err := badger.Open(badgerOpts)
	if err != nil {
		logger.Error("Failed to open badger store", "path", cfg.BadgerPath, "err", err)
		os.Exit(1)
	}
	defer badgerDB.Close()

	codes := sequence.NewAllocator(badgerDB)
	defer codes.Close()
	repo.SetCodeAllocator(codes)

	// Event bus and notifier worker
	bus := events.NewBus(cfg.EventBufferSize, logger)
	notifier := events.NewNotifier(bus, logger)
	notifierCtx, stopNotifier := context.WithCancel(context.Background())
	go notifier.Run(notifierCtx)

	// Payment gateways
	vnpay := gateway.NewVNPay(gateway.VNPayConfig{
		TmnCode:    cfg.VNPay.TmnCode,
		HashSecret: cfg.VNPay.HashSecret,
		PayURL:     cfg.VNPay.PayURL,
		ReturnURL:  cfg.VNPay.ReturnURL,
	})
	momo := gateway.NewMoMo(gateway.MoMoConfig{
		PartnerCode: cfg.MoMo.PartnerCode,
		AccessKey:   cfg.MoMo.AccessKey,
		SecretKey:   cfg.MoMo.SecretKey,
		Endpoint:    cfg.MoMo.Endpoint,
		ReturnURL:   cfg.MoMo.ReturnURL,
		NotifyURL:   cfg.MoMo.NotifyURL,
	})

	engine := reconcile.NewEngine(repo, []gateway.Provider{vnpay, momo}, bus, logger)

	tokens, err := token.NewService(cfg.AppSecret)
	if err != nil {
		logger.Error("Failed to create token service", "err", err)
		os.Exit(1)
	}

	registry := service_registry.NewServiceRegistry(
		repo,
		engine,
		tokens,
		service_registry.TokenSettings{
			IssueTTL: time.Duration(cfg.MediaTokenTTLSeconds) * time.Second,
			MaxAge:   time.Duration(cfg.MediaTokenMaxAgeSeconds) * time.Second,
		},
		vnpay,
		momo,
		logger,
	)
	registry.RegisterDefaultServices()

	webserver := server.NewWebServer(cfg.HTTPPort, logger, registry, repo)
	if err := webserver.Start(); err != nil {
		logger.Error("Failed to start web server", "err", err)
		os.Exit(1)
	}
	fmt.Printf("Server started on port %s\n", cfg.HTTPPort)

	// Wait for interruption
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c

	logger.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := webserver.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during web server shutdown", "err", err)
	}

	stopNotifier()
	bus.Close()

	logger.Info("Shutdown complete")
}
