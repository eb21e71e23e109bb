// Package main はAPIサーバーのエントリポイント。
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"rxverify-service/config"
	"rxverify-service/internal/authz"
	"rxverify-service/internal/handler"
	"rxverify-service/internal/infra"
	"rxverify-service/internal/repository"
	"rxverify-service/internal/usecase"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	// .envファイルを読み込む（存在しない場合は無視）
	// 既存の環境変数は上書きしない
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// トレーサー初期化（ロガー設定の前に実行）
	tp, err := infra.InitTracer(ctx, cfg)
	if err != nil {
		return err
	}
	if tp != nil {
		defer func() {
			if err := tp.Shutdown(ctx); err != nil {
				slog.Error("failed to shutdown tracer", "error", err)
			}
		}()
	}

	infra.SetupLogger(cfg)

	db, err := infra.NewDB(cfg)
	if err != nil {
		return err
	}
	if cfg.DatabaseAutoMigrate {
		if err := repository.AutoMigrate(ctx, db); err != nil {
			return err
		}
		slog.Info("schema auto-migrated", "driver", cfg.DatabaseDriver)
	}

	locker, closeLocker, err := newLotLocker(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeLocker()

	engine, err := authz.NewEngine(ctx)
	if err != nil {
		return err
	}

	// DI
	distributorRepo := repository.NewDistributorRepository(db)
	medicineRepo := repository.NewMedicineRepository(db)
	lotRepo := repository.NewLotRepository(db)
	flagRepo := repository.NewFlagRepository(db)
	receiptRepo := repository.NewReceiptRepository(db)

	scores := usecase.NewTrustScoreEngine(lotRepo, locker)
	distributorService := usecase.NewDistributorService(distributorRepo)
	flagService := usecase.NewFlagService(flagRepo, usecase.NewFlagHooks(scores))
	verifier := usecase.NewVerificationService(lotRepo, distributorRepo, flagRepo, cfg.VerifyConcurrency)

	router := handler.NewRouter(handler.Handlers{
		Distributors: handler.NewDistributorHandler(distributorService, engine),
		Medicines:    handler.NewMedicineHandler(usecase.NewMedicineService(medicineRepo, distributorRepo), distributorService, engine),
		Lots:         handler.NewLotHandler(usecase.NewLotService(lotRepo, medicineRepo, distributorRepo), verifier, scores, distributorService, engine),
		Flags:        handler.NewFlagHandler(flagService, engine),
		Receipts:     handler.NewReceiptHandler(usecase.NewReceiptService(receiptRepo, lotRepo), engine),
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		<-sigCh

		slog.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("starting server",
		"port", cfg.Port,
		"driver", cfg.DatabaseDriver,
		"lock_backend", cfg.LockBackend,
	)
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	slog.Info("server stopped")
	return nil
}

// newLotLocker は LOCK_BACKEND に応じたロットロックを返す。
func newLotLocker(ctx context.Context, cfg *config.Config) (usecase.LotLocker, func(), error) {
	if cfg.LockBackend != config.LockBackendRedis {
		return infra.NewMemoryLotLocker(cfg.LockTimeout), func() {}, nil
	}

	locker, err := infra.NewRedisLotLocker(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.LockTimeout, cfg.LockTTL)
	if err != nil {
		return nil, nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := locker.Ping(pingCtx); err != nil {
		_ = locker.Close()
		return nil, nil, err
	}
	return locker, func() {
		if err := locker.Close(); err != nil {
			slog.Error("failed to close redis client", "error", err)
		}
	}, nil
}
