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

	"github.com/0gfoundation/0g-shield/internal/access"
	"github.com/0gfoundation/0g-shield/internal/api"
	"github.com/0gfoundation/0g-shield/internal/auth"
	"github.com/0gfoundation/0g-shield/internal/chain"
	"github.com/0gfoundation/0g-shield/internal/config"
	"github.com/0gfoundation/0g-shield/internal/events"
	"github.com/0gfoundation/0g-shield/internal/keyreg"
	"github.com/0gfoundation/0g-shield/internal/ledger"
	"github.com/0gfoundation/0g-shield/internal/store"
	"github.com/0gfoundation/0g-shield/internal/token"
)

// devCustody holds every token when no chain is configured.
var devCustody = common.HexToAddress("0x000000000000000000000000000000000000C057")

// custodian moves tokens for the ledger and reports what custody holds.
type custodian interface {
	token.Gateway
	ledger.BalanceSource
}

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

	// ── Token custody (ERC-20 on chain, or in-memory for development) ────────
	gw, err := newCustodian(cfg, log)
	if err != nil {
		log.Fatal("token gateway init failed", zap.Error(err))
	}

	// ── Event sinks ───────────────────────────────────────────────────────────
	redisSink, err := events.NewRedisSink(ctx, rdb)
	if err != nil {
		log.Fatal("event sink init failed", zap.Error(err))
	}
	sink := events.Multi{redisSink, events.NewLogSink(log)}

	// ── Ledger ────────────────────────────────────────────────────────────────
	dust, err := cfg.Ledger.Dust()
	if err != nil {
		log.Fatal("invalid dust floor", zap.Error(err))
	}
	l, err := ledger.New(ctx, ledger.Options{
		Fees:      cfg.Ledger.Fees(),
		DustFloor: dust,
		Gateway:   gw,
		Gate:      access.NewRoles(cfg.Ledger.Admin()),
		Sink:      sink,
		Backend:   store.NewRedis(rdb),
		Log:       log,
	})
	if err != nil {
		log.Fatal("ledger init failed", zap.Error(err))
	}

	// ── Goroutines ────────────────────────────────────────────────────────────
	interval := time.Duration(cfg.Ledger.ReconcileIntervalSec) * time.Second
	go ledger.RunReconciler(ctx, l, gw, interval, log)

	// ── HTTP server ───────────────────────────────────────────────────────────
	h := api.NewHandler(l, keyreg.NewRedis(rdb), sink, log)
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: newRouter(h, rdb, log),
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

// newCustodian dials the chain when one is configured. Without an RPC URL the
// ledger runs against an in-memory bank that starts empty.
func newCustodian(cfg *config.Config, log *zap.Logger) (custodian, error) {
	if !cfg.Chain.OnChain() {
		log.Warn("no chain configured, using in-memory token bank",
			zap.String("custody", devCustody.Hex()))
		return token.NewBank(devCustody), nil
	}
	c, err := chain.NewClient(cfg, log)
	if err != nil {
		return nil, err
	}
	log.Info("chain client ready",
		zap.String("custody", c.CustodyAddress().Hex()),
		zap.String("chain_id", c.ChainID().String()))
	return c, nil
}

func newRouter(h *api.Handler, rdb *redis.Client, log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	h.RegisterPublic(r)
	h.Register(r.Group("/api", auth.Middleware(rdb, log)))
	return r
}
