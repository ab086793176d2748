package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/live-auction/internal/bidding"
	"github.com/iliyamo/live-auction/internal/config"
	"github.com/iliyamo/live-auction/internal/database"
	"github.com/iliyamo/live-auction/internal/events"
	"github.com/iliyamo/live-auction/internal/handler"
	"github.com/iliyamo/live-auction/internal/logger"
	"github.com/iliyamo/live-auction/internal/memstore"
	"github.com/iliyamo/live-auction/internal/middleware"
	"github.com/iliyamo/live-auction/internal/realtime"
	"github.com/iliyamo/live-auction/internal/repository"
	"github.com/iliyamo/live-auction/internal/router"
	"github.com/iliyamo/live-auction/internal/scheduler"
)

// store is everything the engine persists.  Both the MySQL repository
// and the in-memory store satisfy it.
type store interface {
	bidding.Store
	scheduler.Store
	realtime.Directory
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	root := logger.New(cfg.LogLevel, cfg.LogFormat)
	if cfg.NodeID == "" {
		cfg.NodeID = uuid.NewString()
	}
	log := root.WithField("node_id", cfg.NodeID)
	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("server exited")
	}
}

func run(cfg config.Config, log logrus.FieldLogger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, ping, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	svc := bidding.NewService(st, bidding.Options{
		SoftCloseThreshold: cfg.Bidding.SoftCloseThreshold,
		SoftCloseExtension: cfg.Bidding.SoftCloseExtension,
	}, log)

	hub := realtime.NewHub(st, svc, realtime.Options{
		NodeID:             cfg.NodeID,
		PingInterval:       cfg.Realtime.PingInterval,
		SendBuffer:         cfg.Realtime.SendBuffer,
		WriteTimeout:       cfg.Realtime.WriteTimeout,
		MaxFramesPerSecond: cfg.Realtime.MaxFramesPerSecond,
	}, log)
	defer hub.Close()
	svc.SetPublisher(hub)

	loop := scheduler.New(st, hub, scheduler.Options{
		UrgentHorizon: cfg.Scheduler.UrgentHorizon,
		FastDelay:     cfg.Scheduler.FastDelay,
		DefaultDelay:  cfg.Scheduler.DefaultDelay,
	}, log)

	var wg sync.WaitGroup
	background := func(f func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f(ctx)
		}()
	}

	if cfg.RabbitURL != "" {
		pub := events.NewPublisher(cfg.RabbitURL, log)
		defer pub.Close()
		hub.SetRelay(pub)
		background(events.NewConsumer(cfg.RabbitURL, cfg.NodeID, hub.DeliverRemote, log).Run)
		log.Info("event relay enabled")
	}

	rdb := config.NewRedisClient(cfg.Redis)
	if rdb != nil {
		defer rdb.Close()
	} else if cfg.RateLimit.Enabled {
		log.Warn("redis unreachable; bid rate limiting disabled")
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	router.RegisterRoutes(e, ping)
	router.RegisterRealtime(e, hub.Handler(middleware.Authenticator(cfg.JWTSecret)))
	router.RegisterBids(e, handler.NewBidHandler(svc, log), cfg.JWTSecret,
		middleware.NewTokenBucket(cfg.RateLimit, rdb, log))
	router.RegisterScheduler(e, handler.NewSchedulerHandler(loop), cfg.JWTSecret)

	background(loop.Run)
	background(hub.RunLiveness)

	addr := ":" + cfg.Port
	httpLog := logger.Component(log, "http")
	errCh := make(chan error, 1)
	go func() {
		httpLog.WithFields(logrus.Fields{"addr": addr, "env": cfg.Env, "store": cfg.StoreDriver}).Info("listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			stop()
			wg.Wait()
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		httpLog.WithError(err).Warn("shutdown")
	}
	wg.Wait()
	return nil
}

func openStore(ctx context.Context, cfg config.Config, log logrus.FieldLogger) (store, handler.Pinger, func(), error) {
	if cfg.StoreDriver == "memory" {
		st := memstore.New()
		st.SetLockTimeout(cfg.Bidding.LockTimeout)
		seedDemo(st, time.Now().UTC())
		log.Warn("using in-memory store with demo data; nothing is persisted")
		return st, nil, func() {}, nil
	}

	db, err := database.Open(cfg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open database: %w", err)
	}
	if err := database.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, nil, nil, fmt.Errorf("migrate: %w", err)
	}
	closeDB := func() {
		if err := db.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
			log.WithError(err).Warn("close database")
		}
	}
	return repository.NewStore(db, cfg.Bidding.LockTimeout, log), db.PingContext, closeDB, nil
}
