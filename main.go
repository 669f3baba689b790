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

	apirest "github.com/TheFokysnik/EcoTaleQuests/api/rest"
	"github.com/TheFokysnik/EcoTaleQuests/api/sse"
	"github.com/TheFokysnik/EcoTaleQuests/audit"
	"github.com/TheFokysnik/EcoTaleQuests/cache"
	"github.com/TheFokysnik/EcoTaleQuests/config"
	dbadapter "github.com/TheFokysnik/EcoTaleQuests/db"
	"github.com/TheFokysnik/EcoTaleQuests/game/availability"
	"github.com/TheFokysnik/EcoTaleQuests/game/generator"
	"github.com/TheFokysnik/EcoTaleQuests/game/quest"
	"github.com/TheFokysnik/EcoTaleQuests/game/rank"
	"github.com/TheFokysnik/EcoTaleQuests/game/reward"
	"github.com/TheFokysnik/EcoTaleQuests/game/timer"
	"github.com/TheFokysnik/EcoTaleQuests/game/tracker"
	"github.com/TheFokysnik/EcoTaleQuests/ingest"
	mw "github.com/TheFokysnik/EcoTaleQuests/middleware"
	"github.com/TheFokysnik/EcoTaleQuests/model"
	"github.com/TheFokysnik/EcoTaleQuests/notify"
	"github.com/TheFokysnik/EcoTaleQuests/plugin/hook"
	"github.com/TheFokysnik/EcoTaleQuests/scheduler"
	"github.com/TheFokysnik/EcoTaleQuests/storage"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func main() {
	cfgPath := "config/config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// ---- Logger ----
	var logger *zap.Logger
	var logErr error
	if cfg.Server.Debug {
		logger, logErr = zap.NewDevelopment()
	} else {
		logger, logErr = zap.NewProduction()
	}
	if logErr != nil {
		log.Fatalf("logger: %v", logErr)
	}
	defer logger.Sync()

	if cfg.Server.AdminKeyHash == "" {
		logger.Warn("server.admin_key_hash is not set; admin endpoints are disabled")
	}
	if cfg.Security.JWTSecret == "" {
		log.Fatalf("config: security.jwt_secret must be set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Database ----
	db, err := dbadapter.OpenWithLogger(cfg.Database, logger)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	if err := model.AutoMigrate(db); err != nil {
		log.Fatalf("db migrate: %v", err)
	}
	logger.Info("DB initialized", zap.String("mode", cfg.Database.Mode))

	// ---- Cache / PubSub ----
	c, err := cache.NewCache(cfg.Cache)
	if err != nil {
		log.Fatalf("cache: %v", err)
	}
	pubsub, err := cache.NewPubSub(cfg.Cache)
	if err != nil {
		log.Fatalf("pubsub: %v", err)
	}
	logger.Info("Cache initialized", zap.Bool("redis", cfg.Cache.RedisAddr != ""))

	// ---- Quest engine ----
	qcfg := cfg.Quests
	store := storage.NewGormStore(db, logger)
	journal := audit.New(db, logger)
	publisher := notify.NewPublisher(pubsub, logger)
	ranks := rank.NewService(store, c, qcfg.Ranks, logger)
	ranks.OnChange(publisher.RankChanged)
	slots := availability.NewManager(store, logger)
	timers := timer.NewService(qcfg.General.RelogGracePeriod, logger)
	ledger := reward.NewLedgerGranter(db, qcfg.Rewards, logger)

	tr := tracker.New(qcfg, tracker.Deps{
		Store:     store,
		Generator: generator.New(qcfg, logger),
		Ranks:     ranks,
		Slots:     slots,
		Timers:    timers,
		Rewards:   ledger,
		Notifier:  publisher,
		Journal:   journal,
		Guard:     tracker.NewCooldownGuard(c, qcfg.Protection.AcceptCooldown, logger),
	}, logger)
	if err := tr.Initialize(ctx); err != nil {
		log.Fatalf("tracker init: %v", err)
	}
	tr.RefreshPools(ctx, qcfg.General.RefreshLevel)
	logger.Info("Quest engine initialized",
		zap.Int("daily", len(tr.GetPool(ctx, quest.PeriodDaily))),
		zap.Int("weekly", len(tr.GetPool(ctx, quest.PeriodWeekly))),
		zap.Int("timers", timers.ActiveCount()))

	// ---- Action ingest ----
	disp := ingest.NewDispatcher(tr, cfg.Ingest.Workers, cfg.Ingest.QueueSize, logger)
	if limit := cfg.Ingest.MaxAmount; limit > 0 {
		disp.Filters().Register("max_amount", 0, func(_ context.Context, s ingest.Signal) (ingest.Signal, error) {
			if s.Amount > limit {
				logger.Warn("action amount over limit, dropped",
					zap.String("user", s.UserID.String()),
					zap.String("type", string(s.Type)),
					zap.Float64("amount", s.Amount))
				return s, hook.ErrInterrupt
			}
			return s, nil
		})
	}
	// Handlers outlive the signal context so Stop can drain the queues.
	disp.Start(context.Background())
	if cfg.Ingest.Channel != "" {
		consumer := ingest.NewConsumer(pubsub, cfg.Ingest.Channel, disp, logger)
		go func() {
			if err := consumer.Run(ctx); err != nil {
				logger.Error("action consumer stopped", zap.Error(err))
			}
		}()
	}

	// ---- Periodic Scheduler Tasks ----
	sched, err := scheduler.New(logger)
	if err != nil {
		log.Fatalf("scheduler: %v", err)
	}
	mustSchedule := func(err error) {
		if err != nil {
			log.Fatalf("scheduler: %v", err)
		}
	}
	mustSchedule(sched.AddTicker("timer_tick", qcfg.General.TimerCheckInterval, timers.Tick))
	mustSchedule(sched.AddTicker("expiry_sweep", qcfg.General.PoolRefreshInterval, func() {
		if n := tr.CheckExpiredQuests(ctx); n > 0 {
			logger.Info("expired quests swept", zap.Int("count", n))
		}
	}))
	mustSchedule(sched.AddTicker("pool_refresh", qcfg.General.PoolRefreshInterval, func() {
		tr.RefreshPools(ctx, qcfg.General.RefreshLevel)
	}))
	mustSchedule(sched.AddTicker("slot_sweep", 5*time.Minute, func() {
		if n := slots.Sweep(); n > 0 {
			logger.Debug("released slot assignments swept", zap.Int("count", n))
		}
	}))
	// Daily pools roll over at local midnight; the ticker above catches up
	// if the process was paused across it.
	mustSchedule(sched.AddDaily("daily_rollover", 0, 0, func() {
		tr.CheckExpiredQuests(ctx)
		tr.RefreshPools(ctx, qcfg.General.RefreshLevel)
	}))
	sched.Start()

	// ---- Gin HTTP Server ----
	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(mw.TraceID(), mw.Logger(logger), mw.Recovery(logger))
	if len(cfg.Server.CORSOrigins) > 0 {
		r.Use(mw.CORS(cfg.Server.CORSOrigins))
	}
	r.Use(mw.RateLimit(rate.Limit(cfg.Security.RateLimitRPS), cfg.Security.RateLimitBurst))

	r.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	questH := apirest.NewQuestHandler(tr, journal, logger)
	actionH := apirest.NewActionHandler(disp)
	rankH := apirest.NewRankHandler(ranks, ledger, logger)
	adminH := apirest.NewAdminHandler(tr, slots, timers, ledger, sched, cfg.Security, qcfg.General.RefreshLevel, logger)
	sseH := sse.NewHandler(pubsub, tr, logger)

	api := r.Group("/api")
	{
		authG := api.Group("")
		authG.Use(mw.Auth(cfg.Security, c))
		authG.Use(mw.RateLimitBy(rate.Limit(cfg.Security.RateLimitRPS), cfg.Security.RateLimitBurst, mw.ByUser))
		authG.GET("/quests", questH.Board)
		authG.GET("/quests/pool/:period", questH.Pool)
		authG.GET("/quests/mine", questH.Mine)
		authG.GET("/quests/history", questH.History)
		authG.POST("/quests/:id/accept", questH.Accept)
		authG.POST("/quests/:id/abandon", questH.Abandon)
		authG.POST("/session/connect", questH.Connect)
		authG.POST("/session/disconnect", questH.Disconnect)
		authG.POST("/actions", actionH.Report)
		authG.GET("/rank", rankH.Me)
		authG.GET("/rank/tiers", rankH.Tiers)
		authG.GET("/rank/leaderboard", rankH.Leaderboard)
		authG.GET("/wallet", rankH.Wallet)

		adminG := api.Group("/admin")
		adminG.Use(mw.IPWhitelist(cfg.Server.AdminIPs, logger), mw.AdminAuth(cfg.Server.AdminKeyHash))
		adminG.GET("/status", adminH.Status)
		adminG.POST("/pools/refresh", adminH.RefreshPools)
		adminG.POST("/expire", adminH.ExpireNow)
		adminG.GET("/slots", adminH.Occupancy)
		adminG.GET("/users/:user/quests", adminH.UserQuests)
		adminG.DELETE("/users/:user/quests/:id", adminH.RemoveQuest)
		adminG.PUT("/users/:user/vip", adminH.SetVip)
		adminG.POST("/tokens", adminH.IssueToken)
		adminG.GET("/jobs", adminH.ListJobs)
		adminG.POST("/jobs/:name/run", adminH.RunJob)
		adminG.POST("/announce", func(ctx *gin.Context) {
			var body struct {
				Message string `json:"message" binding:"required"`
			}
			if err := ctx.ShouldBindJSON(&body); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
				return
			}
			if err := sseH.Announce(ctx.Request.Context(), body.Message); err != nil {
				logger.Error("announce failed", zap.Error(err))
				ctx.JSON(http.StatusInternalServerError, gin.H{"error": "announce failed"})
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"status": "sent"})
		})
	}

	// ---- SSE ----
	r.GET("/sse", mw.Auth(cfg.Security, c), sseH.ServeSSE)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		logger.Info("Server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	// Drain queued actions before the jobs and timers that act on them stop.
	disp.Stop()
	sched.Stop()
	timers.Shutdown()
	journal.Stop(shutdownCtx)
}
