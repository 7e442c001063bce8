package main

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ardanlabs/conf/v3"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/walletd/walletd/app/services/walletd/handlers"
	"github.com/walletd/walletd/business/core/reconcile"
	"github.com/walletd/walletd/business/core/transfer"
	"github.com/walletd/walletd/business/core/transfer/stores/transfercache"
	"github.com/walletd/walletd/business/core/transfer/stores/transferdb"
	"github.com/walletd/walletd/business/sys/database"
	"github.com/walletd/walletd/foundation/broker"
	"github.com/walletd/walletd/foundation/distlock"
	"github.com/walletd/walletd/foundation/events"
	"github.com/walletd/walletd/foundation/ledger"
	"github.com/walletd/walletd/foundation/logger"
)

// build is the git version of this program. It is set using build flags in the makefile.
var build = "develop"

func main() {

	// Construct the application logger.
	log, err := logger.New("WALLETD")
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer log.Sync()

	// Perform the startup and shutdown sequence.
	if err := run(log); err != nil {
		log.Errorw("startup", "ERROR", err)
		log.Sync()
		os.Exit(1)
	}
}

func run(log *zap.SugaredLogger) error {

	// =========================================================================
	// Configuration

	// A local .env file can supply the secrets during development.
	godotenv.Load()

	cfg := struct {
		conf.Version
		Web struct {
			ReadTimeout     time.Duration `conf:"default:5s"`
			WriteTimeout    time.Duration `conf:"default:10s"`
			IdleTimeout     time.Duration `conf:"default:120s"`
			ShutdownTimeout time.Duration `conf:"default:20s"`
			APIHost         string        `conf:"default:0.0.0.0:8080"`
			DebugHost       string        `conf:"default:0.0.0.0:7080"`
		}
		DB struct {
			User         string `conf:"default:postgres"`
			Password     string `conf:"default:postgres,mask"`
			Host         string `conf:"default:localhost"`
			Name         string `conf:"default:walletd"`
			MaxIdleConns int    `conf:"default:2"`
			MaxOpenConns int    `conf:"default:0"`
			DisableTLS   bool   `conf:"default:true"`
		}
		Cache struct {
			Host         string        `conf:"default:localhost:6379"`
			MirrorTTL    time.Duration `conf:"default:10m"`
			TombstoneTTL time.Duration `conf:"default:1m"`
			LockTTL      time.Duration `conf:"default:30s"`
		}
		Ledger struct {
			URL               string `conf:"default:http://localhost:8545"`
			ChainID           int64  `conf:"default:11155111"`
			PrivateKey        string `conf:"default:fae85851bdf5c9f49923722ce38f3c1defcfd3619ef5453230a58ad805a3d0be,mask"`
			GasLimit          uint64 `conf:"default:200000"`
			GasFeeCap         int64  `conf:"default:2000000000"`
			GasTipCap         int64  `conf:"default:1000000000"`
			Fee               string `conf:"default:1000000000000000"`
			ConfirmationDepth uint64 `conf:"default:10"`
		}
		Reconcile struct {
			RetryBase  time.Duration `conf:"default:100s"`
			RetryCap   time.Duration `conf:"default:1600s"`
			MaxRetries int           `conf:"default:20"`
		}
		Broker struct {
			Brokers []string `conf:"default:localhost:9092"`
			Topic   string   `conf:"default:walletd.settlements"`
		}
	}{
		Version: conf.Version{
			Build: build,
			Desc:  "copyright information here",
		},
	}

	const prefix = "WALLETD"
	help, err := conf.Parse(prefix, &cfg)
	if err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			fmt.Println(help)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	// =========================================================================
	// App Starting

	log.Infow("starting service", "version", build)
	defer log.Infow("shutdown complete")

	// Display the current configuration to the logs.
	out, err := conf.String(&cfg)
	if err != nil {
		return fmt.Errorf("generating config for output: %w", err)
	}
	log.Infow("startup", "config", out)

	// =========================================================================
	// Database Support

	log.Infow("startup", "status", "initializing database support", "host", cfg.DB.Host)

	db, err := database.Open(database.Config{
		User:         cfg.DB.User,
		Password:     cfg.DB.Password,
		Host:         cfg.DB.Host,
		Name:         cfg.DB.Name,
		MaxIdleConns: cfg.DB.MaxIdleConns,
		MaxOpenConns: cfg.DB.MaxOpenConns,
		DisableTLS:   cfg.DB.DisableTLS,
	})
	if err != nil {
		return fmt.Errorf("connecting to db: %w", err)
	}
	defer func() {
		log.Infow("shutdown", "status", "stopping database support", "host", cfg.DB.Host)
		db.Close()
	}()

	// =========================================================================
	// Cache Support

	log.Infow("startup", "status", "initializing cache support", "host", cfg.Cache.Host)

	cache := redis.NewClient(&redis.Options{
		Addr: cfg.Cache.Host,
	})
	defer func() {
		log.Infow("shutdown", "status", "stopping cache support", "host", cfg.Cache.Host)
		cache.Close()
	}()

	// =========================================================================
	// Ledger Support

	log.Infow("startup", "status", "initializing ledger support", "url", cfg.Ledger.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ldg, err := ledger.Connect(ctx, cfg.Ledger.URL)
	if err != nil {
		return fmt.Errorf("connecting to ledger: %w", err)
	}
	defer ldg.Close()

	privateKey, err := crypto.HexToECDSA(cfg.Ledger.PrivateKey)
	if err != nil {
		return fmt.Errorf("parsing private key: %w", err)
	}

	fee, err := decimal.NewFromString(cfg.Ledger.Fee)
	if err != nil {
		return fmt.Errorf("parsing fee: %w", err)
	}

	// =========================================================================
	// Broker Support

	log.Infow("startup", "status", "initializing broker support", "brokers", cfg.Broker.Brokers, "topic", cfg.Broker.Topic)

	pub := broker.NewPublisher(cfg.Broker.Brokers, cfg.Broker.Topic)
	defer pub.Close()

	// =========================================================================
	// Core Support

	// Settlement events are fanned out to any websocket client connected
	// through the events package.
	evts := events.New()
	ev := func(v string, args ...any) {
		s := fmt.Sprintf(v, args...)
		log.Infow(s, "traceid", "00000000-0000-0000-0000-000000000000")
		evts.Send(s)
	}

	storer := transferdb.NewStore(log, db)

	cacher, err := transfercache.NewStore(cache, cfg.Cache.MirrorTTL, cfg.Cache.TombstoneTTL)
	if err != nil {
		return fmt.Errorf("constructing cache store: %w", err)
	}

	locker := distlock.New(cache, cfg.Cache.LockTTL)

	reconcileCore := reconcile.NewCore(log, storer, cacher, ldg, pub, cfg.Ledger.ConfirmationDepth)

	worker := reconcile.NewWorker(log, reconcileCore, reconcile.Backoff{
		Base:       cfg.Reconcile.RetryBase,
		Cap:        cfg.Reconcile.RetryCap,
		MaxRetries: cfg.Reconcile.MaxRetries,
	}, ev)

	transferCore := transfer.NewCore(log, storer, cacher, locker, ldg, worker, transfer.Config{
		PrivateKey: privateKey,
		ChainID:    big.NewInt(cfg.Ledger.ChainID),
		GasLimit:   cfg.Ledger.GasLimit,
		GasFeeCap:  big.NewInt(cfg.Ledger.GasFeeCap),
		GasTipCap:  big.NewInt(cfg.Ledger.GasTipCap),
		Fee:        fee,
	})

	// Pick the reconciliation of pending transfers back up from where the
	// last run left off.
	if err := worker.Resume(ctx); err != nil {
		return fmt.Errorf("resuming reconciliation: %w", err)
	}

	// =========================================================================
	// Start Debug Service

	log.Infow("startup", "status", "debug router started", "host", cfg.Web.DebugHost)

	debugMux := handlers.DebugMux(build, log, db, cache)

	// Start the service listening for debug requests.
	// Not concerned with shutting this down with load shedding.
	go func() {
		if err := http.ListenAndServe(cfg.Web.DebugHost, debugMux); err != nil {
			log.Errorw("shutdown", "status", "debug router closed", "host", cfg.Web.DebugHost, "ERROR", err)
		}
	}()

	// =========================================================================
	// Start API Service

	log.Infow("startup", "status", "initializing V1 API support")

	// Make a channel to listen for an interrupt or terminate signal from the OS.
	// Use a buffered channel because the signal package requires it.
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	apiMux := handlers.APIMux(handlers.MuxConfig{
		Shutdown: shutdown,
		Log:      log,
		Transfer: transferCore,
		Evts:     evts,
	})

	api := http.Server{
		Addr:         cfg.Web.APIHost,
		Handler:      apiMux,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     zap.NewStdLog(log.Desugar()),
	}

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	// Start the service listening for api requests.
	go func() {
		log.Infow("startup", "status", "api router started", "host", api.Addr)
		serverErrors <- api.ListenAndServe()
	}()

	// =========================================================================
	// Shutdown

	// Blocking main and waiting for shutdown.
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		log.Infow("shutdown", "status", "shutdown started", "signal", sig)
		defer log.Infow("shutdown", "status", "shutdown complete", "signal", sig)

		// Give outstanding requests a deadline for completion.
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancel()

		// Asking listener to shut down and shed load.
		if err := api.Shutdown(ctx); err != nil {
			api.Close()
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}

		// Stop scheduling settlement attempts and wait for in-flight attempts
		// to drain. Anything still pending resumes on the next start.
		log.Infow("shutdown", "status", "stopping reconciliation worker")
		worker.Shutdown()

		// Release any web sockets that are currently active.
		log.Infow("shutdown", "status", "shutdown web socket channels")
		evts.Shutdown()
	}

	return nil
}
