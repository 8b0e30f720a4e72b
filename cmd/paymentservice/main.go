package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go-settlement/config"
	"go-settlement/log"
	"go-settlement/payment"
	"go-settlement/payment/events"
	"go-settlement/payment/sweeper"
	"go-settlement/service"
	"go-settlement/utils"
	"go-settlement/web"
	"go-settlement/web/controllers"
	"go-settlement/web/middleware"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	utils.LoadEnv()
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		return err
	}
	if err := log.Run(cfg.LogFile, cfg.LogLevel); err != nil {
		return err
	}
	defer log.Close()
	logger := log.New("SRVC")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sys, err := payment.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer sys.Close()

	publisher, err := payment.Publisher(cfg)
	if err != nil {
		return err
	}
	defer publisher.Close()
	go events.NewOutboxDispatcher(sys.Store, publisher, cfg.OutboxInterval, cfg.OutboxBatch, log.New("OUTB")).Run(ctx)

	sweep := sweeper.New(sys.Store, cfg.SweepInterval, log.New("SWEP"))
	if cfg.SweepInterval > 0 {
		go sweep.Run(ctx)
	}

	limiter := middleware.NewRateLimiter(cfg.RateLimit, time.Minute)
	limiter.StartCleanup(ctx, time.Minute)

	if cfg.AdminSecret == "" {
		logger.Warn("no admin secret configured, admin routes are disabled")
	}

	gin.SetMode(gin.ReleaseMode)
	router := web.NewRouter(&controllers.Handler{
		Orders:        sys.Allocator,
		Verifier:      sys.Verifier,
		Store:         sys.Store,
		Sweeper:       sweep,
		TokenContract: common.HexToAddress(cfg.TokenContract).Hex(),
		TokenDecimals: cfg.TokenDecimals,
		ChainID:       uint64(cfg.ChainID),
		Logger:        log.New("HTTP"),
	}, limiter, cfg.AdminSecret)

	stopped, err := service.Start(ctx, "paymentservice", cfg.HTTPAddr, router, cfg.ShutdownTimeout, logger)
	if err != nil {
		return err
	}
	<-stopped.Done()
	if ctx.Err() == nil {
		return errors.New("http server stopped unexpectedly")
	}
	return nil
}
