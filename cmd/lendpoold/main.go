package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"lendpool/config"
	"lendpool/native/common"
	"lendpool/native/lending"
	"lendpool/observability"
	"lendpool/observability/logging"
	"lendpool/rpc"
	"lendpool/state"
	"lendpool/storage"
)

func main() {
	var cfgPath string
	var memory bool
	flag.StringVar(&cfgPath, "config", "./config.toml", "path to lendpoold config")
	flag.BoolVar(&memory, "memory", false, "run with an in-memory database (development only)")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := logging.Setup("lendpoold", logging.Options{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		File:    cfg.Log.File,
		MaxSize: cfg.Log.MaxSize,
		Backups: cfg.Log.Backups,
	})
	logger.Info("configuration loaded",
		"path", cfgPath,
		"listen", cfg.ListenAddress,
		"data_dir", cfg.DataDir,
		logging.MaskField("shared_secret", cfg.SharedSecretValue),
	)

	var db storage.Database
	if memory {
		db = storage.NewMemDB()
	} else {
		leveldb, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "ledger"))
		if err != nil {
			log.Fatalf("open database: %v", err)
		}
		db = leveldb
	}
	defer db.Close()

	engine, err := buildEngine(cfg, db)
	if err != nil {
		log.Fatalf("wire engine: %v", err)
	}
	engine.SetEmitter(observability.NewEventRecorder(logger))

	handler := rpc.NewRouter(engine, rpc.RouterConfig{
		SecretHeader: cfg.SharedSecretHeader,
		SecretValue:  cfg.SharedSecretValue,
		Logger:       logger,
	})

	server := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("listening", "address", cfg.ListenAddress)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("serve: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown", "error", err)
	}
}

func buildEngine(cfg *config.Config, db storage.Database) (*lending.Engine, error) {
	poolAddr, err := cfg.ParsePoolAddress()
	if err != nil {
		return nil, err
	}
	feeRecipient, err := cfg.ParseFeeRecipient()
	if err != nil {
		return nil, err
	}
	borrowers, err := cfg.BorrowerAddresses()
	if err != nil {
		return nil, err
	}
	admins, err := cfg.AdminAddresses()
	if err != nil {
		return nil, err
	}

	manager := state.NewManager(db)
	engine := lending.NewEngine(poolAddr, feeRecipient)
	engine.SetState(manager)
	engine.SetCustody(manager.CustodyFor(poolAddr))
	engine.SetShareLedger(manager.Shares())
	engine.SetAccessControl(lending.NewStaticAccessList(borrowers, admins))
	engine.SetPauses(common.NewSwitchboard())

	pool, err := manager.GetPool()
	if err != nil {
		return nil, err
	}
	if pool == nil {
		model, err := cfg.RateModel()
		if err != nil {
			return nil, err
		}
		fee, err := cfg.PerformanceFee()
		if err != nil {
			return nil, err
		}
		// Pool parameters in the config apply at first boot only. Later
		// changes go through the admin API so they pass through accrual.
		if err := engine.InitPool(model, fee); err != nil {
			return nil, err
		}
	}

	return engine, nil
}
