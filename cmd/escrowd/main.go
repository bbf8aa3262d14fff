package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xiao99xiao/bookme-sub008/internal/admin"
	"github.com/xiao99xiao/bookme-sub008/internal/api"
	"github.com/xiao99xiao/bookme-sub008/internal/audit"
	"github.com/xiao99xiao/bookme-sub008/internal/auth"
	"github.com/xiao99xiao/bookme-sub008/internal/authz"
	"github.com/xiao99xiao/bookme-sub008/internal/config"
	"github.com/xiao99xiao/bookme-sub008/internal/ledger"
	"github.com/xiao99xiao/bookme-sub008/internal/nonce"
	"github.com/xiao99xiao/bookme-sub008/internal/transfer"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync() //nolint:errcheck

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("config load failed", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Redis ─────────────────────────────────────────────────────────────────
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal("redis ping failed", zap.Error(err))
	}

	// ── Transfer backend ──────────────────────────────────────────────────────
	var funds transfer.Port
	var escrowAcct common.Address
	switch cfg.Chain.Backend {
	case "erc20":
		port, err := transfer.NewERC20Port(
			cfg.Chain.RPCURL,
			cfg.Chain.TokenAddress,
			cfg.Chain.EscrowPrivateKey,
			cfg.Chain.ChainID,
		)
		if err != nil {
			log.Fatal("erc20 port init failed", zap.Error(err))
		}
		funds = port
		escrowAcct = port.EscrowAddress()
	case "memory":
		escrowAcct = common.HexToAddress(cfg.Escrow.AccountAddress)
		funds = transfer.NewMemoryPort(escrowAcct)
		log.Warn("using in-memory transfer backend; balances do not survive restarts")
	}

	// ── Audit pipeline, admin control, ledger ─────────────────────────────────
	events := audit.NewRecorder(rdb, log)

	control, err := admin.NewControl(
		ctx,
		rdb,
		common.HexToAddress(cfg.Escrow.OwnerAddress),
		common.HexToAddress(cfg.Escrow.SignerAddress),
		common.HexToAddress(cfg.Escrow.FeeWalletAddress),
		events,
		log,
	)
	if err != nil {
		log.Fatal("admin control init failed", zap.Error(err))
	}

	// The escrow account doubles as the typed-data domain identity, so
	// authorizations signed for one deployment never replay in another.
	verifier := authz.NewVerifier(cfg.Chain.ChainID, escrowAcct)

	book := ledger.New(
		ledger.NewStore(rdb),
		nonce.NewRegistry(rdb),
		verifier,
		funds,
		escrowAcct,
		control,
		events,
		log,
	)

	// ── Goroutines ────────────────────────────────────────────────────────────
	go audit.Run(ctx, rdb, log)
	go ledger.RunMonitor(
		ctx,
		ledger.NewStore(rdb),
		time.Duration(cfg.Escrow.MonitorIntervalSec)*time.Second,
		time.Duration(cfg.Escrow.StaleAfterSec)*time.Second,
		log,
	)

	// ── HTTP server ───────────────────────────────────────────────────────────
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	apiGroup := r.Group("/api", auth.Middleware(rdb))
	api.NewHandler(book, control, log).Register(apiGroup)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Info("HTTP server starting", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	<-quit

	log.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}
	log.Info("shutdown complete")
}
