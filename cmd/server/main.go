package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"time"

	_ "github.com/lib/pq"

	"tradecore/internal/api"
	"tradecore/internal/bot"
	"tradecore/internal/config"
	"tradecore/internal/exchange"
	"tradecore/internal/execution"
	"tradecore/internal/health"
	"tradecore/internal/models"
	"tradecore/internal/notify"
	"tradecore/internal/pairsignal"
	"tradecore/internal/position"
	"tradecore/internal/reconcile"
	"tradecore/internal/report"
	"tradecore/internal/repository"
	"tradecore/internal/risk"
	"tradecore/internal/safemode"
	"tradecore/internal/signal"
	"tradecore/internal/websocket"
	"tradecore/pkg/ratelimit"
	"tradecore/pkg/retry"
	"tradecore/pkg/utils"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := utils.InitGlobalLogger(utils.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	defer logger.Sync()

	utils.Info("starting tradecore",
		utils.String("version", "dev"),
		utils.Int("trading_interval_minutes", cfg.Trading.Trading.TradingIntervalMinutes),
		utils.Int("symbol_count", len(cfg.Trading.Trading.Symbols)))

	db, err := initDatabase(cfg)
	if err != nil {
		utils.Error("failed to connect to database", utils.Err(err))
		os.Exit(1)
	}
	defer db.Close()
	utils.Info("connected to database")

	hub := websocket.NewHub()
	go hub.Run()

	dispatcher := buildDispatcher(hub)

	positionRepo := repository.NewPositionRepository(db)
	pairRepo := repository.NewPairPositionRepository(db)
	tradeRepo := repository.NewTradeRepository(db)
	maintenance := repository.NewMaintenance(db)

	store := position.NewStore(positionRepo, pairRepo, tradeRepo)

	exchangeClient := exchange.NewClient(exchange.ClientConfig{
		BaseURL:   getEnv("EXCHANGE_BASE_URL", "https://api.bybit.com"),
		APIKey:    cfg.Security.ExchangeAPIKey,
		APISecret: cfg.Security.DecryptedAPISecret,
	})
	limiter := ratelimit.NewRateLimiter(float64(cfg.Execution.RateLimitPerSec), float64(cfg.Execution.RateLimitPerSec*2))
	retryCfg := retry.Config{
		MaxRetries:   cfg.Execution.MaxRetries,
		InitialDelay: cfg.Execution.RetryBackoff,
		MaxDelay:     60 * time.Second,
		Multiplier:   2.0,
	}
	policy := exchange.DefaultPolicy()
	adapter := exchange.NewAdapter(exchangeClient, limiter, retryCfg, policy)

	safeMode := safemode.NewController(5, dispatcher)

	execCfg := execution.DefaultConfig()
	execCfg.MaxPositions = cfg.Trading.RiskManagement.MaxPositions
	execCfg.CommissionRate = policy.CommissionRate

	orderExec := execution.NewOrderExecutor(adapter, store, positionRepo, safeMode, dispatcher, execCfg)
	pairExec := execution.NewPairExecutor(adapter, store, pairRepo, safeMode, dispatcher, execCfg)

	riskCtrl := risk.NewController(risk.Config{
		StopLossPct: cfg.Trading.RiskManagement.StopLossPct,
		TakeProfitStages: []risk.TakeProfitStage{
			{ThresholdPct: cfg.Trading.RiskManagement.TakeProfitFirst, CloseRatio: 0.5},
			{ThresholdPct: cfg.Trading.RiskManagement.TakeProfitSecond, CloseRatio: 1.0},
		},
		LiquidationThresholdPct: 20,
		MarginCallThresholdPct:  50,
		MaxDrawdownPct:          cfg.Trading.RiskManagement.MaxDrawdownPct,
		DailyLossLimitPct:       cfg.Trading.RiskManagement.MaxDailyLossPct,
		WeeklyLossLimitPct:      cfg.Trading.RiskManagement.MaxWeeklyLossPct,
		MonthlyLossLimitPct:     cfg.Trading.RiskManagement.MaxMonthlyLossPct,
		ConsecutiveLossLimit:    cfg.Trading.RiskManagement.ConsecutiveLossLimit,
		PauseDuration:           24 * time.Hour,
	})

	reconciler := reconcile.NewReconciler(positionRepo, pairRepo, store, safeMode, dispatcher, reconcile.ModeProduction)

	trendSignal := signal.NewStubCollaborator(10, 30)
	pairSignal := pairsignal.NewStubCollaborator(
		pairKeys(cfg.Trading.Trading.Symbols),
		cfg.Trading.PairTrading.LookbackPeriod,
		cfg.Trading.PairTrading.ZScoreEntry,
		cfg.Trading.PairTrading.ZScoreExit,
	)

	checker := health.NewChecker(db, adapter, safeMode, firstSymbol(cfg.Trading.Trading.Symbols))
	reporter := report.NewReporter(tradeRepo, store, dispatcher)
	schedule := report.Schedule{
		MorningTime: cfg.Trading.Reporting.MorningReportTime,
		NoonTime:    cfg.Trading.Reporting.NoonReportTime,
		EveningTime: cfg.Trading.Reporting.EveningReportTime,
		WeeklyDay:   cfg.Trading.Reporting.WeeklyDay,
		WeeklyTime:  cfg.Trading.Reporting.WeeklyTime,
		MonthlyDay:  cfg.Trading.Reporting.MonthlyDay,
		MonthlyTime: cfg.Trading.Reporting.MonthlyTime,
	}

	if err := reconciler.Startup(context.Background()); err != nil {
		utils.Error("startup reconciliation failed", utils.Err(err))
	}

	loop := bot.NewTradeLoop(bot.Deps{
		Config:                  cfg.Trading,
		ExecConfig:              execCfg,
		Adapter:                 adapter,
		OrderExec:               orderExec,
		PairExec:                pairExec,
		Store:                   store,
		Maintenance:             maintenance,
		RiskCtrl:                riskCtrl,
		SafeMode:                safeMode,
		Reconciler:              reconciler,
		TrendSignal:             trendSignal,
		PairSignal:              pairSignal,
		Notifier:                dispatcher,
		Health:                  checker,
		Reporter:                reporter,
		Schedule:                schedule,
		MaxConsecutiveAPIErrors: cfg.Execution.MaxConsecutiveAPIErrors,
	})

	router := api.SetupRoutes(&api.Dependencies{
		Loop:           loop,
		Config:         cfg.Trading,
		AllowedChatIDs: cfg.Security.AllowedChatIDs,
		Hub:            hub,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		utils.Info("bot-command interface listening", utils.String("addr", server.Addr))
		var err error
		if cfg.Server.UseHTTPS {
			err = server.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			utils.Error("http server failed", utils.Err(err))
			os.Exit(1)
		}
	}()

	// Run blocks until SIGINT/SIGTERM or the hard consecutive-API-error
	// stop fires, and handles its own signal-driven shutdown (§4.9).
	if err := loop.Run(context.Background()); err != nil {
		utils.Error("trade loop exited with error", utils.Err(err))
	}

	utils.Info("shutting down bot-command interface")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		utils.Error("http server forced to shutdown", utils.Err(err))
	}

	utils.Info("tradecore stopped")
}

// buildDispatcher wires the Notifier fan-out: structured logs and a live
// push to every connected WebSocket client always run, Telegram joins when
// TELEGRAM_BOT_TOKEN/TELEGRAM_CHAT_ID are both set.
func buildDispatcher(hub *websocket.Hub) *notify.Dispatcher {
	senders := []notify.Sender{notify.LogSender{}, &hubNotifySender{hub: hub}}

	botToken := os.Getenv("TELEGRAM_BOT_TOKEN")
	chatID := os.Getenv("TELEGRAM_CHAT_ID")
	if botToken != "" && chatID != "" {
		senders = append(senders, notify.NewTelegramSender(botToken, chatID))
	}

	return notify.NewDispatcher(256, senders...)
}

// hubNotifySender adapts the WebSocket Hub to notify.Sender so every
// dispatched notification also reaches connected dashboard clients.
type hubNotifySender struct {
	hub *websocket.Hub
}

func (s *hubNotifySender) Send(n *models.Notification) error {
	s.hub.BroadcastNotification(websocket.NewNotificationMessage(n))
	return nil
}

func pairKeys(symbols []string) []string {
	keys := make([]string, 0, len(symbols)/2)
	for i := 0; i+1 < len(symbols); i += 2 {
		keys = append(keys, symbols[i]+"_"+symbols[i+1])
	}
	return keys
}

func firstSymbol(symbols []string) string {
	if len(symbols) == 0 {
		return ""
	}
	return symbols[0]
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func initDatabase(cfg *config.Config) (*sql.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Database.Host,
		cfg.Database.Port,
		cfg.Database.User,
		cfg.Database.Password,
		cfg.Database.Name,
		cfg.Database.SSLMode,
	)

	db, err := sql.Open(cfg.Database.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}
